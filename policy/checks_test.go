/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

package policy

import (
	"testing"
	"time"

	"github.com/miekg/dns"

	"github.com/johanix/ksrsign/ksrconfig"
	"github.com/johanix/ksrsign/wire"
)

func baseConfig() *ksrconfig.Config {
	c := ksrconfig.Defaults()
	return &c
}

func twoBundleDoc(gap time.Duration) *wire.Document {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mkKey := func(id string) wire.Key {
		return wire.Key{KeyIdentifier: id, Flags: wire.FlagZONE, Protocol: 3, Algorithm: dns.RSASHA256,
			PublicKey: []byte{0x03, 0x01, 0x00, 0x01, 0xAA, 0xBB, 0xCC, 0xDD}}
	}
	return &wire.Document{
		Domain: ".",
		Bundles: []wire.Bundle{
			{ID: "1", Inception: start, Expiration: start.Add(21 * 24 * time.Hour), Keys: []wire.Key{mkKey("k1")}},
			{ID: "2", Inception: start.Add(gap), Expiration: start.Add(gap).Add(21 * 24 * time.Hour), Keys: []wire.Key{mkKey("k1")}},
		},
	}
}

func TestCheckAcceptableDomain(t *testing.T) {
	cfg := baseConfig()
	ctx := &Context{Document: &wire.Document{Domain: "example.com"}, Config: cfg}
	if v := checkAcceptableDomain(ctx); len(v) == 0 {
		t.Fatalf("expected violation for domain outside acceptable_domains")
	}
	ctx.Document.Domain = "."
	if v := checkAcceptableDomain(ctx); len(v) != 0 {
		t.Fatalf("unexpected violation: %v", v)
	}
}

func TestCheckNumBundles(t *testing.T) {
	cfg := baseConfig()
	cfg.NumBundles = 2
	ctx := &Context{Document: twoBundleDoc(10 * 24 * time.Hour), Config: cfg}
	if v := checkNumBundles(ctx); len(v) != 0 {
		t.Fatalf("unexpected violation: %v", v)
	}
	cfg.NumBundles = 9
	if v := checkNumBundles(ctx); len(v) == 0 {
		t.Fatalf("expected violation: document has 2 bundles, policy wants 9")
	}
}

func TestCheckBundleIntervalsOutsideBounds(t *testing.T) {
	cfg := baseConfig()
	ctx := &Context{Document: twoBundleDoc(1 * 24 * time.Hour), Config: cfg}
	if v := checkBundleIntervals(ctx); len(v) == 0 {
		t.Fatalf("expected violation: 1 day gap is outside [9d, 11d]")
	}

	ctx2 := &Context{Document: twoBundleDoc(10 * 24 * time.Hour), Config: cfg}
	if v := checkBundleIntervals(ctx2); len(v) != 0 {
		t.Fatalf("unexpected violation for a 10 day gap: %v", v)
	}
}

func TestCheckSignatureExpireHorizon(t *testing.T) {
	cfg := baseConfig()
	cfg.SignatureHorizonDays = 180
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	doc := &wire.Document{Bundles: []wire.Bundle{
		{ID: "1", Signatures: []wire.Signature{{SignatureExpiration: uint32(now.AddDate(0, 0, 200).Unix())}}},
	}}
	ctx := &Context{Document: doc, Config: cfg, Now: now}
	if v := checkSignatureExpireHorizon(ctx); len(v) == 0 {
		t.Fatalf("expected violation: signature expires beyond the 180 day horizon")
	}

	doc.Bundles[0].Signatures[0].SignatureExpiration = uint32(now.AddDate(0, 0, 100).Unix())
	if v := checkSignatureExpireHorizon(ctx); len(v) != 0 {
		t.Fatalf("unexpected violation: %v", v)
	}
}

func TestCheckChainKeysDetectsMismatch(t *testing.T) {
	prevKey := wire.Key{KeyIdentifier: "zsk-old", PublicKey: []byte{1, 2, 3}}
	prev := &wire.Document{Bundles: []wire.Bundle{{ID: "9", Keys: []wire.Key{prevKey}}}}

	firstMatching := wire.Bundle{ID: "1", Keys: []wire.Key{{KeyIdentifier: "zsk-new", PublicKey: []byte{1, 2, 3}}}}
	ctxOK := &Context{Document: &wire.Document{Bundles: []wire.Bundle{firstMatching}}, PreviousSKR: prev}
	if v := checkChainKeys(ctxOK); len(v) != 0 {
		t.Fatalf("unexpected violation when public key bytes match: %v", v)
	}

	firstMismatch := wire.Bundle{ID: "1", Keys: []wire.Key{{KeyIdentifier: "zsk-new", PublicKey: []byte{9, 9, 9}}}}
	ctxBad := &Context{Document: &wire.Document{Bundles: []wire.Bundle{firstMismatch}}, PreviousSKR: prev}
	if v := checkChainKeys(ctxBad); len(v) == 0 {
		t.Fatalf("expected violation: chain-break public key mismatch")
	}
}

// TestCheckChainKeysIgnoresPublishedKsk reproduces the realistic shape of a
// previously issued SKR: its last bundle carries the ZSK it chains on plus
// the SEP-flagged KSK the schema published alongside it (every response
// bundle does, ceremony.buildResponse). Only the ZSK is ever resubmitted by
// the ZSK operator in the next KSR, so the KSK must not be compared.
func TestCheckChainKeysIgnoresPublishedKsk(t *testing.T) {
	zsk := wire.Key{KeyIdentifier: "zsk-old", Flags: wire.FlagZONE, PublicKey: []byte{1, 2, 3}}
	ksk := wire.Key{KeyIdentifier: "ksk-current", Flags: wire.FlagZONE | wire.FlagSEP, PublicKey: []byte{9, 9, 9}}
	prev := &wire.Document{Bundles: []wire.Bundle{{ID: "9", Keys: []wire.Key{zsk, ksk}}}}

	first := wire.Bundle{ID: "1", Keys: []wire.Key{{KeyIdentifier: "zsk-new", Flags: wire.FlagZONE, PublicKey: []byte{1, 2, 3}}}}
	ctx := &Context{Document: &wire.Document{Bundles: []wire.Bundle{first}}, PreviousSKR: prev}
	if v := checkChainKeys(ctx); len(v) != 0 {
		t.Fatalf("unexpected violation: a KSK published in the previous SKR's last bundle must not be chain-checked: %v", v)
	}
}

func TestCheckKeyTagConsistency(t *testing.T) {
	key := wire.Key{KeyIdentifier: "zsk", Flags: wire.FlagZONE, Protocol: 3, Algorithm: dns.RSASHA256,
		PublicKey: []byte{0x03, 0x01, 0x00, 0x01, 0xAA, 0xBB, 0xCC, 0xDD}}
	key.KeyTag = wire.KeyTag(key)
	doc := &wire.Document{Bundles: []wire.Bundle{{ID: "1", Keys: []wire.Key{key}}}}
	ctx := &Context{Document: doc, Config: baseConfig()}

	if v := checkKeyTagConsistency(ctx); len(v) != 0 {
		t.Fatalf("unexpected violation: %v", v)
	}
	doc.Bundles[0].Keys[0].KeyTag++
	if v := checkKeyTagConsistency(ctx); len(v) == 0 {
		t.Fatalf("expected violation for a drifted declared key tag")
	}
}

func TestRsaSizeExponent(t *testing.T) {
	raw := []byte{0x03, 0x01, 0x00, 0x01, 0xFF, 0xFF, 0xFF, 0xFF} // 3-byte exponent, 4-byte modulus (32 bits)
	size, exp, err := rsaSizeExponent(raw)
	if err != nil {
		t.Fatalf("rsaSizeExponent: %v", err)
	}
	if exp != 65537 {
		t.Errorf("exponent = %d, want 65537", exp)
	}
	if size != 32 {
		t.Errorf("size = %d, want 32", size)
	}
}

// TestCheckKeysMatchZskPolicyIgnoresPublishedKsk reproduces the usual
// root-zone shape: the KSK and ZSK share an algorithm number but
// differ in RSA size. A response bundle's Keys set always carries both
// (ceremony.buildResponse appends the schema-published, SEP-flagged KSK
// alongside the request's ZSKs), so this check must scope to ZSKs only;
// the KSK side is checkKeysMatchKskOperatorPolicy's job.
func TestCheckKeysMatchZskPolicyIgnoresPublishedKsk(t *testing.T) {
	zskPolicy := &wire.SignaturePolicy{AlgorithmPolicies: []wire.AlgorithmPolicy{
		{Algorithm: dns.RSASHA256, RSA: &wire.RSAParams{Size: 1024, Exponent: 65537}},
	}}
	zsk := wire.Key{KeyIdentifier: "zsk", Flags: wire.FlagZONE, Algorithm: dns.RSASHA256,
		PublicKey: rsaPublicKeyBytes(1024)}
	ksk := wire.Key{KeyIdentifier: "ksk", Flags: wire.FlagZONE | wire.FlagSEP, Algorithm: dns.RSASHA256,
		PublicKey: rsaPublicKeyBytes(2048)}

	doc := &wire.Document{Bundles: []wire.Bundle{{ID: "1", Keys: []wire.Key{zsk, ksk}}}}
	ctx := &Context{Document: doc, ZskPolicy: zskPolicy, Config: baseConfig()}

	if v := checkKeysMatchZskPolicy(ctx); len(v) != 0 {
		t.Fatalf("unexpected violation: KSK material must not be checked against ZSK policy: %v", v)
	}
}

// rsaPublicKeyBytes builds an RFC 3110 DNSKEY RSA encoding with exponent
// 65537 and a modulus exactly sizeBits wide.
func rsaPublicKeyBytes(sizeBits int) []byte {
	out := []byte{0x03, 0x01, 0x00, 0x01}
	modulus := make([]byte, sizeBits/8)
	modulus[0] = 0x80 // pin the top bit so the modulus is exactly sizeBits wide
	return append(out, modulus...)
}

func TestEngineRunsEveryEnabledCheck(t *testing.T) {
	cfg := baseConfig()
	cfg.NumBundles = 9
	cfg.CheckBundleIntervals = false // disabled checks must not fire
	doc := twoBundleDoc(1 * 24 * time.Hour)
	ctx := &Context{Document: doc, Config: cfg, ZskPolicy: &wire.SignaturePolicy{}}

	violations := NewEngine().Run(ctx)

	for _, v := range violations {
		if v.Check == "CheckBundleIntervals" {
			t.Fatalf("disabled check must not produce violations")
		}
	}

	foundNumBundles := false
	for _, v := range violations {
		if v.Check == "NumBundles" {
			foundNumBundles = true
		}
	}
	if !foundNumBundles {
		t.Fatalf("expected a NumBundles violation (2 bundles, policy wants 9)")
	}
}
