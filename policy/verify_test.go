/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

package policy

import (
	"testing"
	"time"

	"github.com/miekg/dns"

	"github.com/johanix/ksrsign/fixtures"
	"github.com/johanix/ksrsign/inventory"
	"github.com/johanix/ksrsign/wire"
)

func TestVerifySignatureRoundTrip(t *testing.T) {
	ksk, err := fixtures.NewRSAKsk("ksk_current", "ksk-current", time.Unix(0, 0), nil)
	if err != nil {
		t.Fatalf("building fixture KSK: %v", err)
	}
	defer ksk.HSM.Close()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	inv, err := inventory.Reconcile(now, []inventory.Entry{ksk.Entry}, ".", ksk.HSM)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	rec, ok := inv.Get("ksk_current")
	if !ok {
		t.Fatalf("expected reconciled entry for ksk_current")
	}

	keys := []wire.Key{rec.PublicKey}
	sig := wire.Signature{
		KeyIdentifier:       rec.Identifier,
		TypeCovered:         dns.TypeDNSKEY,
		Algorithm:           rec.PublicKey.Algorithm,
		Labels:              wire.Labels("."),
		OriginalTTL:         3600,
		SignatureInception:  uint32(now.Unix()),
		SignatureExpiration: uint32(now.Add(21 * 24 * time.Hour).Unix()),
		KeyTag:              rec.PublicKey.KeyTag,
		SignersName:         ".",
	}

	signed := wire.RRSIGSignedData(sig, ".", keys)
	raw, err := ksk.HSM.Sign(rec.PrivateHandle, rec.PublicKey.Algorithm, signed)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	sig.SignatureData = raw

	if err := VerifySignature(sig, "1", keys); err != nil {
		t.Fatalf("VerifySignature: %v", err)
	}

	sig.SignatureData[0] ^= 0xFF
	if err := VerifySignature(sig, "1", keys); err == nil {
		t.Fatalf("expected verification failure against a tampered signature")
	}
}

func TestVerifySignatureECDSARoundTrip(t *testing.T) {
	ksk, err := fixtures.NewECDSAKsk("ksk_p256", "ksk-p256", time.Unix(0, 0), nil)
	if err != nil {
		t.Fatalf("building fixture KSK: %v", err)
	}
	defer ksk.HSM.Close()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	inv, err := inventory.Reconcile(now, []inventory.Entry{ksk.Entry}, ".", ksk.HSM)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	rec, ok := inv.Get("ksk_p256")
	if !ok {
		t.Fatalf("expected reconciled entry for ksk_p256")
	}

	keys := []wire.Key{rec.PublicKey}
	sig := wire.Signature{
		KeyIdentifier:       rec.Identifier,
		TypeCovered:         dns.TypeDNSKEY,
		Algorithm:           rec.PublicKey.Algorithm,
		Labels:              wire.Labels("."),
		OriginalTTL:         3600,
		SignatureInception:  uint32(now.Unix()),
		SignatureExpiration: uint32(now.Add(21 * 24 * time.Hour).Unix()),
		KeyTag:              rec.PublicKey.KeyTag,
		SignersName:         ".",
	}

	signed := wire.RRSIGSignedData(sig, ".", keys)
	raw, err := ksk.HSM.Sign(rec.PrivateHandle, rec.PublicKey.Algorithm, signed)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if len(raw) != 64 {
		t.Fatalf("P-256 signature must be r||s of 32 bytes each, got %d bytes", len(raw))
	}
	sig.SignatureData = raw

	if err := VerifySignature(sig, "1", keys); err != nil {
		t.Fatalf("VerifySignature: %v", err)
	}
}

func TestValidateSignaturesCheckCatchesBadSignature(t *testing.T) {
	ksk, err := fixtures.NewRSAKsk("ksk_current", "ksk-current", time.Unix(0, 0), nil)
	if err != nil {
		t.Fatalf("building fixture KSK: %v", err)
	}
	defer ksk.HSM.Close()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	inv, err := inventory.Reconcile(now, []inventory.Entry{ksk.Entry}, ".", ksk.HSM)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	rec, _ := inv.Get("ksk_current")

	doc := &wire.Document{
		Domain: ".",
		Bundles: []wire.Bundle{{
			ID:   "1",
			Keys: []wire.Key{rec.PublicKey},
			Signatures: []wire.Signature{{
				KeyIdentifier:       rec.Identifier,
				Algorithm:           rec.PublicKey.Algorithm,
				KeyTag:              rec.PublicKey.KeyTag,
				SignersName:         ".",
				SignatureInception:  uint32(now.Unix()),
				SignatureExpiration: uint32(now.Add(time.Hour).Unix()),
				SignatureData:       []byte("not a real signature"),
			}},
		}},
	}
	ctx := &Context{Document: doc, Config: baseConfig(), Now: now}
	violations := checkValidateSignatures(ctx)
	if len(violations) == 0 {
		t.Fatalf("expected a violation for a bogus signature")
	}
}
