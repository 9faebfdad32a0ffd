package x402

import (
	"encoding/json"
	"testing"
	"time"
)

func TestChallengeIDDeterministic(t *testing.T) {
	p := testPolicy("summarize", 10000)

	a := NewChallenge(p, time.Unix(100, 0))
	b := NewChallenge(p, time.Unix(200, 0))
	if a.ChallengeID != b.ChallengeID {
		t.Errorf("Expected same challenge ID for same policy, got %s and %s", a.ChallengeID, b.ChallengeID)
	}

	other := testPolicy("summarize", 20000)
	if ChallengeID(other) == a.ChallengeID {
		t.Error("Expected a different challenge ID for a different price")
	}
}

func TestPaymentRequiredResponseBody(t *testing.T) {
	p := testPolicy("summarize", 10000)
	issued := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	resp := NewPaymentRequiredResponse(NewChallenge(p, issued), nil)

	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if body["price"] != "10000" {
		t.Errorf("Expected price 10000, got %v", body["price"])
	}
	if body["displayPrice"] != "0.01 USDC" {
		t.Errorf("Expected displayPrice 0.01 USDC, got %v", body["displayPrice"])
	}
	if body["walletAddress"] != "R1" || body["recipient"] != "R1" {
		t.Errorf("Expected recipient R1, got %v / %v", body["walletAddress"], body["recipient"])
	}
	if body["network"] != "testnet-A" {
		t.Errorf("Expected network testnet-A, got %v", body["network"])
	}
	if body["error"] != ErrCodePaymentRequired {
		t.Errorf("Expected error %s, got %v", ErrCodePaymentRequired, body["error"])
	}

	steps, ok := body["instructions"].([]interface{})
	if !ok || len(steps) != 3 {
		t.Fatalf("Expected 3 instructions, got %v", body["instructions"])
	}
	actions := []string{"connect_wallet", "send_payment", "resubmit_with_proof"}
	for i, s := range steps {
		step := s.(map[string]interface{})
		if step["action"] != actions[i] {
			t.Errorf("Step %d: expected %s, got %v", i+1, actions[i], step["action"])
		}
	}
}

func TestPaymentRequiredResponseCarriesError(t *testing.T) {
	p := testPolicy("summarize", 10000)
	pe := NewPaymentError(ErrCodeAlreadyConsumed, "spent", nil)
	resp := NewPaymentRequiredResponse(NewChallenge(p, time.Now()), pe)

	if resp.Error != ErrCodeAlreadyConsumed {
		t.Errorf("Expected error %s, got %s", ErrCodeAlreadyConsumed, resp.Error)
	}
	if resp.Retryable {
		t.Error("already_consumed must not be retryable")
	}
	if !resp.Permanent {
		t.Error("already_consumed must be permanent")
	}
}
