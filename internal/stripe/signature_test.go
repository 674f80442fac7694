package stripe

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"
)

func TestVerifySignature(t *testing.T) {
	secret := "whsec_test"
	payload := []byte(`{"id":"evt_123","type":"checkout.session.completed","data":{"object":{}}}`)
	timestamp := time.Now().Unix()

	verifier, err := NewVerifier(secret, 5*time.Minute)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	header := http.Header{}
	header.Set(SignatureHeader, buildSignatureHeader(secret, payload, timestamp))
	if err := verifier.Verify(payload, header); err != nil {
		t.Fatalf("expected valid signature, got error: %v", err)
	}

	header.Set(SignatureHeader, buildSignatureHeader("wrong", payload, timestamp))
	if err := verifier.Verify(payload, header); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	secret := "whsec_test"
	payload := []byte(`{"id":"evt_123","amount":100}`)
	timestamp := time.Now().Unix()

	verifier, err := NewVerifier(secret, 5*time.Minute)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	header := http.Header{}
	header.Set(SignatureHeader, buildSignatureHeader(secret, payload, timestamp))

	tampered := []byte(`{"id":"evt_123","amount":999}`)
	if err := verifier.Verify(tampered, header); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestVerifyRejectsStaleTimestamp(t *testing.T) {
	secret := "whsec_test"
	payload := []byte(`{"id":"evt_123"}`)
	stale := time.Now().Add(-time.Hour).Unix()

	verifier, err := NewVerifier(secret, 5*time.Minute)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	header := http.Header{}
	header.Set(SignatureHeader, buildSignatureHeader(secret, payload, stale))
	if err := verifier.Verify(payload, header); !errors.Is(err, ErrSignatureExpired) {
		t.Fatalf("expected ErrSignatureExpired, got %v", err)
	}
}

func TestVerifyMissingHeader(t *testing.T) {
	verifier, err := NewVerifier("whsec_test", 5*time.Minute)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	if err := verifier.Verify([]byte(`{}`), http.Header{}); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestVerifyAcceptsAnyValidV1Signature(t *testing.T) {
	secret := "whsec_test"
	payload := []byte(`{"id":"evt_123"}`)
	timestamp := time.Now().Unix()

	verifier, err := NewVerifier(secret, 5*time.Minute)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	valid := buildSignatureHeader(secret, payload, timestamp)
	header := http.Header{}
	header.Set(SignatureHeader, valid+",v1=0000000000000000000000000000000000000000000000000000000000000000")
	if err := verifier.Verify(payload, header); err != nil {
		t.Fatalf("expected valid signature among candidates, got %v", err)
	}
}

func buildSignatureHeader(secret string, payload []byte, timestamp int64) string {
	signedPayload := fmt.Sprintf("%d.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(signedPayload))
	signature := hex.EncodeToString(mac.Sum(nil))
	return fmt.Sprintf("t=%d,v1=%s", timestamp, signature)
}
