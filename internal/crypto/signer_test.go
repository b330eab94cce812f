package crypto

import (
	"strings"
	"testing"
)

// Well-known test key (hardhat account #0); never fund this address.
const (
	testKeyHex  = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

func TestNewSignerDerivesAddress(t *testing.T) {
	s, err := NewSigner(testKeyHex, 137)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	if got := s.Address().Hex(); got != testAddress {
		t.Errorf("Address = %s, want %s", got, testAddress)
	}

	// A 0x prefix on the key is accepted.
	s2, err := NewSigner("0x"+testKeyHex, 137)
	if err != nil {
		t.Fatalf("NewSigner with prefix: %v", err)
	}
	if s2.Address() != s.Address() {
		t.Error("prefix changed the derived address")
	}
}

func TestNewSignerRejectsBadKey(t *testing.T) {
	for _, key := range []string{"", "zz", "deadbeef"} {
		if _, err := NewSigner(key, 137); err == nil {
			t.Errorf("NewSigner(%q) accepted", key)
		}
	}
}

func TestSignAuthMessage(t *testing.T) {
	s, err := NewSigner(testKeyHex, 137)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}

	sig, err := s.SignAuthMessage(testAddress, 1736942400, 0)
	if err != nil {
		t.Fatalf("SignAuthMessage: %v", err)
	}
	// 65 bytes hex-encoded with a 0x prefix.
	if !strings.HasPrefix(sig, "0x") || len(sig) != 132 {
		t.Fatalf("signature shape = %q (len %d)", sig, len(sig))
	}
	if v := sig[130:]; v != "1b" && v != "1c" {
		t.Errorf("recovery byte = %s, want 1b or 1c", v)
	}

	// Deterministic (RFC 6979 nonces), sensitive to every input.
	again, _ := s.SignAuthMessage(testAddress, 1736942400, 0)
	if again != sig {
		t.Error("signature not deterministic")
	}
	shifted, _ := s.SignAuthMessage(testAddress, 1736942401, 0)
	if shifted == sig {
		t.Error("timestamp change did not change signature")
	}
	bumped, _ := s.SignAuthMessage(testAddress, 1736942400, 1)
	if bumped == sig {
		t.Error("nonce change did not change signature")
	}
}

func TestSignOrder(t *testing.T) {
	s, err := NewSigner(testKeyHex, 137)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}

	order := OrderPayload{
		Salt:        "123456789",
		Maker:       testAddress,
		Signer:      testAddress,
		Taker:       "0x0000000000000000000000000000000000000000",
		TokenID:     "111111",
		MakerAmount: "80000000",
		TakerAmount: "100000000",
		Expiration:  "0",
		Nonce:       "0",
		FeeRateBps:  "0",
		Side:        0,
	}
	sig, err := s.SignOrder(order)
	if err != nil {
		t.Fatalf("SignOrder: %v", err)
	}
	if !strings.HasPrefix(sig, "0x") || len(sig) != 132 {
		t.Fatalf("signature shape = %q (len %d)", sig, len(sig))
	}

	// Flipping the side changes the struct hash.
	order.Side = 1
	sellSig, err := s.SignOrder(order)
	if err != nil {
		t.Fatalf("SignOrder sell: %v", err)
	}
	if sellSig == sig {
		t.Error("side change did not change signature")
	}
}

func TestSignOrderRejectsBadNumerics(t *testing.T) {
	s, _ := NewSigner(testKeyHex, 137)

	order := OrderPayload{
		Salt: "not-a-number", Maker: testAddress, Signer: testAddress,
		Taker: testAddress, TokenID: "1", MakerAmount: "1", TakerAmount: "1",
		Expiration: "0", Nonce: "0", FeeRateBps: "0",
	}
	if _, err := s.SignOrder(order); err == nil {
		t.Error("non-numeric salt accepted")
	}
}
