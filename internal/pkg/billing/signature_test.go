package billing

import (
	"testing"
	"time"
)

func TestVerifyWebhookSignature(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"invoice.finalized"}`)
	secret := "whsec_test"
	now := time.Now()

	header := SignWebhookPayload(payload, secret, now)
	if !verifyWebhookSignatureAt(payload, header, secret, now, DefaultSignatureTolerance) {
		t.Fatalf("expected freshly signed payload to verify")
	}

	if verifyWebhookSignatureAt(payload, header, "whsec_other", now, DefaultSignatureTolerance) {
		t.Fatalf("expected wrong secret to fail verification")
	}
	if verifyWebhookSignatureAt([]byte(`{"tampered":true}`), header, secret, now, DefaultSignatureTolerance) {
		t.Fatalf("expected tampered payload to fail verification")
	}
	if verifyWebhookSignatureAt(payload, "", secret, now, DefaultSignatureTolerance) {
		t.Fatalf("expected empty header to fail verification")
	}
	if verifyWebhookSignatureAt(payload, header, "", now, DefaultSignatureTolerance) {
		t.Fatalf("expected empty secret to fail verification")
	}
}

func TestVerifyWebhookSignatureStaleTimestamp(t *testing.T) {
	payload := []byte(`{"id":"evt_1"}`)
	secret := "whsec_test"
	signedAt := time.Now()

	header := SignWebhookPayload(payload, secret, signedAt)

	within := signedAt.Add(DefaultSignatureTolerance - time.Second)
	if !verifyWebhookSignatureAt(payload, header, secret, within, DefaultSignatureTolerance) {
		t.Fatalf("expected signature within tolerance to verify")
	}

	stale := signedAt.Add(DefaultSignatureTolerance + time.Minute)
	if verifyWebhookSignatureAt(payload, header, secret, stale, DefaultSignatureTolerance) {
		t.Fatalf("expected stale signature to fail verification")
	}
}

func TestVerifyWebhookSignatureMultipleCandidates(t *testing.T) {
	payload := []byte(`{"id":"evt_1"}`)
	secret := "whsec_test"
	now := time.Now()

	valid := SignWebhookPayload(payload, secret, now)

	// Append a non-matching v1 entry; any matching candidate must pass.
	combined := valid + ",v1=deadbeef"
	if !verifyWebhookSignatureAt(payload, combined, secret, now, DefaultSignatureTolerance) {
		t.Fatalf("expected one matching candidate among several to verify")
	}

	if verifyWebhookSignatureAt(payload, "t=123,v1=deadbeef", secret, now, DefaultSignatureTolerance) {
		t.Fatalf("expected non-matching candidates to fail verification")
	}
}
