// Package availability is pure interval math over a calendar snapshot.
// It performs no I/O; callers supply the busy intervals.
package availability

import "time"

// Interval is a half-open busy range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// Slot is a candidate bookable window. Ephemeral, computed on demand.
type Slot struct {
	Start    time.Time
	Duration time.Duration
}

func (s Slot) End() time.Time {
	return s.Start.Add(s.Duration)
}

// WorkingHours is the business-local bookable window, in whole hours.
type WorkingHours struct {
	StartHour int
	EndHour   int
}

// Step is the slot granularity used throughout the system.
const Step = time.Hour

// CandidateSlots walks the working-hours window of the given day in
// one-hour steps and returns every slot whose [start, start+duration)
// neither overlaps a busy interval nor runs past the end-hour boundary.
//
// dayStart must be midnight of the target day in the business timezone.
// An empty result is valid: a fully booked day has zero free slots.
func CandidateSlots(dayStart time.Time, hours WorkingHours, duration time.Duration, busy []Interval) []Slot {
	if duration <= 0 {
		return nil
	}
	if hours.EndHour <= hours.StartHour {
		return nil
	}

	windowEnd := dayStart.Add(time.Duration(hours.EndHour) * time.Hour)
	var slots []Slot
	for t := dayStart.Add(time.Duration(hours.StartHour) * time.Hour); t.Before(windowEnd); t = t.Add(Step) {
		// Slots whose end would spill past the working-hours boundary are
		// excluded rather than truncated.
		if t.Add(duration).After(windowEnd) {
			continue
		}
		if IsFree(t, duration, busy) {
			slots = append(slots, Slot{Start: t, Duration: duration})
		}
	}
	return slots
}

// IsFree reports whether [start, start+duration) overlaps none of the
// busy intervals. Overlapping busy input is tolerated; the test treats
// the set as a union.
func IsFree(start time.Time, duration time.Duration, busy []Interval) bool {
	if duration <= 0 {
		return false
	}
	end := start.Add(duration)
	for _, b := range busy {
		// Half-open intervals: [start,end) overlaps [b.Start,b.End) iff
		// start < b.End && b.Start < end.
		if start.Before(b.End) && b.Start.Before(end) {
			return false
		}
	}
	return true
}
