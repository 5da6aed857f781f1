/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

package wire

import (
	"bytes"
	"testing"

	"github.com/miekg/dns"
)

func sampleKeys() []Key {
	return []Key{
		{KeyIdentifier: "b", Flags: FlagZONE | FlagSEP, Protocol: 3, Algorithm: dns.RSASHA256, PublicKey: []byte{0x03, 0x01, 0x00, 0x01, 0xAA, 0xBB, 0xCC}},
		{KeyIdentifier: "a", Flags: FlagZONE, Protocol: 3, Algorithm: dns.RSASHA256, PublicKey: []byte{0x03, 0x01, 0x00, 0x01, 0x11, 0x22, 0x33}},
	}
}

func TestSortKeysCanonicalIsDeterministic(t *testing.T) {
	keys := sampleKeys()
	first := SortKeysCanonical(keys)
	second := SortKeysCanonical(keys)
	for i := range first {
		if !bytes.Equal(DnskeyWireBytes(first[i]), DnskeyWireBytes(second[i])) {
			t.Fatalf("sort order not deterministic at index %d", i)
		}
	}
	for i := 0; i+1 < len(first); i++ {
		if bytes.Compare(DnskeyWireBytes(first[i]), DnskeyWireBytes(first[i+1])) > 0 {
			t.Fatalf("keys not in canonical RDATA order at index %d", i)
		}
	}
}

func TestKeyTagConsistency(t *testing.T) {
	k := sampleKeys()[0]
	tag := KeyTag(k)
	if tag == 0 {
		t.Fatalf("expected non-zero key tag")
	}
	if KeyTag(k) != tag {
		t.Fatalf("key tag not stable across calls")
	}
}

func TestRRSIGSignedDataDeterministic(t *testing.T) {
	keys := sampleKeys()
	sig := Signature{
		KeyIdentifier:       "b",
		TypeCovered:         dns.TypeDNSKEY,
		Algorithm:           dns.RSASHA256,
		Labels:              0,
		OriginalTTL:         3600,
		SignatureInception:  1000,
		SignatureExpiration: 2000,
		KeyTag:              KeyTag(keys[0]),
		SignersName:         ".",
	}
	first := RRSIGSignedData(sig, ".", keys)
	second := RRSIGSignedData(sig, ".", keys)
	if !bytes.Equal(first, second) {
		t.Fatalf("RRSIG signed data not byte-identical across calls")
	}
}

func TestCanonicalOwnerNameLowercasesAndRootTerminates(t *testing.T) {
	got := canonicalOwnerName("EXAMPLE.COM")
	want := []byte{7, 'e', 'x', 'a', 'm', 'p', 'l', 'e', 3, 'c', 'o', 'm', 0}
	if !bytes.Equal(got, want) {
		t.Fatalf("canonicalOwnerName(%q) = %v, want %v", "EXAMPLE.COM", got, want)
	}
	if !bytes.Equal(canonicalOwnerName("."), []byte{0}) {
		t.Fatalf("canonicalOwnerName(root) should be a single zero byte")
	}
}

func TestDSDigestSHA256Stable(t *testing.T) {
	k := sampleKeys()[0]
	d1 := DSDigestSHA256(".", k)
	d2 := DSDigestSHA256(".", k)
	if d1 == "" {
		t.Fatalf("expected non-empty DS digest")
	}
	if d1 != d2 {
		t.Fatalf("DS digest not stable across calls")
	}
}
