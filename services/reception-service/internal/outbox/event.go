package outbox

// Topics published by reception-service. The Kafka topic name equals the
// event type (one event per topic).
const (
	TopicAppointmentBooked    = "reception.appointment.booked.v1"
	TopicAppointmentCancelled = "reception.appointment.cancelled.v1"
	TopicContactCreated       = "reception.contact.created.v1"
)

// Event is the domain event envelope written to the outbox table in the
// same transaction as the state change it describes.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}
