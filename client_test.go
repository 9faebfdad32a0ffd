package x402

import (
	"context"
	"errors"
	"testing"
)

func TestStaticProof(t *testing.T) {
	challenge := PaymentRequiredResponse{Network: "eip155:1328", ResourceID: "summarize"}

	proof, err := StaticProof("0xabc", "").Pay(context.Background(), challenge)
	if err != nil {
		t.Fatal(err)
	}
	if proof.TxRef != "0xabc" || proof.Network != "eip155:1328" || proof.ResourceID != "summarize" {
		t.Errorf("proof = %+v", proof)
	}

	proof, _ = StaticProof("0xabc", "base").Pay(context.Background(), challenge)
	if proof.Network != "base" {
		t.Errorf("explicit network overridden: %+v", proof)
	}
}

func TestClientRoutesByNetwork(t *testing.T) {
	var used string
	payer := func(name string) Payer {
		return PayerFunc(func(_ context.Context, c PaymentRequiredResponse) (PaymentProof, error) {
			used = name
			return PaymentProof{TxRef: "tx-" + name, Network: c.Network}, nil
		})
	}

	c := NewClient(WithPayer("testnet-A", payer("exact"))).Register("eip155:*", payer("evm"))

	if !c.CanPay("testnet-A") || !c.CanPay("eip155:8453") || c.CanPay("solana:devnet") {
		t.Error("CanPay mismatch")
	}

	proof, err := c.Pay(context.Background(), PaymentRequiredResponse{Network: "testnet-A", ResourceID: "summarize"})
	if err != nil {
		t.Fatal(err)
	}
	if used != "exact" || proof.ResourceID != "summarize" {
		t.Errorf("used %s, proof %+v", used, proof)
	}

	if _, err := c.Pay(context.Background(), PaymentRequiredResponse{Network: "eip155:84532"}); err != nil || used != "evm" {
		t.Errorf("pattern payer not used: %s, %v", used, err)
	}

	if _, err := c.Pay(context.Background(), PaymentRequiredResponse{Network: "solana:devnet"}); err == nil {
		t.Error("expected error for unregistered network")
	}
}

func TestClientPayerError(t *testing.T) {
	boom := errors.New("insufficient funds")
	c := NewClient().Register("testnet-A", PayerFunc(func(context.Context, PaymentRequiredResponse) (PaymentProof, error) {
		return PaymentProof{}, boom
	}))
	if _, err := c.Pay(context.Background(), PaymentRequiredResponse{Network: "testnet-A"}); !errors.Is(err, boom) {
		t.Errorf("got %v", err)
	}
}
