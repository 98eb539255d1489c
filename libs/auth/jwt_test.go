package auth

import (
	"strings"
	"testing"
	"time"
)

func TestSignAndVerify(t *testing.T) {
	claims := Claims{
		Sub:        "user-1",
		BusinessID: "biz-1",
		Role:       "owner",
		Iat:        time.Now().Unix(),
		Exp:        time.Now().Add(time.Hour).Unix(),
	}
	token, err := SignHS256(claims, "secret")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	got, err := VerifyHS256(token, "secret")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got.BusinessID != "biz-1" || got.Role != "owner" {
		t.Fatalf("unexpected claims: %+v", got)
	}
}

func TestVerify_WrongSecret(t *testing.T) {
	token, err := SignHS256(Claims{Sub: "u", Exp: time.Now().Add(time.Hour).Unix()}, "secret")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := VerifyHS256(token, "other"); err == nil {
		t.Fatal("expected verification failure with wrong secret")
	}
}

func TestVerify_Expired(t *testing.T) {
	token, err := SignHS256(Claims{Sub: "u", Exp: time.Now().Add(-time.Minute).Unix()}, "secret")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := VerifyHS256(token, "secret"); err == nil {
		t.Fatal("expected expired token to fail")
	}
}

func TestVerify_TamperedPayload(t *testing.T) {
	token, err := SignHS256(Claims{Sub: "u", Exp: time.Now().Add(time.Hour).Unix()}, "secret")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	parts := strings.Split(token, ".")
	tampered := parts[0] + ".eyJzdWIiOiJhdHRhY2tlciJ9." + parts[2]
	if _, err := VerifyHS256(tampered, "secret"); err == nil {
		t.Fatal("expected tampered token to fail")
	}
}
