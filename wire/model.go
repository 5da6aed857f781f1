/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

// Package wire holds the canonical in-memory model of a KSR/SKR document
// and the DNSSEC canonicalization rules the ceremony signs and verifies
// against. It has no knowledge of XML, HSMs, or policy; it is the shape
// everything else in this module agrees on.
package wire

import "time"

// Kind distinguishes a KSR from an SKR body.
type Kind uint8

const (
	Request Kind = iota + 1
	Response
)

var KindToString = map[Kind]string{
	Request:  "Request",
	Response: "Response",
}

// Document is the top-level KSR or SKR.
type Document struct {
	ID        string
	Serial    uint32
	Domain    string
	Timestamp *time.Time
	Kind      Kind

	// RequestPolicy is set when Kind == Request; ResponsePolicy when
	// Kind == Response. Only one is ever populated.
	RequestPolicy  *RequestPolicy
	ResponsePolicy *ResponsePolicy

	Bundles []Bundle
}

// RequestPolicy carries the ZSK-side signature policy a KSR claims to
// satisfy.
type RequestPolicy struct {
	ZSK *SignaturePolicy
}

// ResponsePolicy carries both sides of the policy an SKR was produced
// under. ZSK here is definitionally the same record echoed from the
// originating RequestPolicy; ceremony.buildResponse shares the pointer.
type ResponsePolicy struct {
	KSK *SignaturePolicy
	ZSK *SignaturePolicy
}

// SignaturePolicy is the set of duration and algorithm bounds a signature
// policy record declares, the shape shared by RequestPolicy.ZSK and
// ResponsePolicy.{KSK,ZSK}.
type SignaturePolicy struct {
	PublishSafety        time.Duration
	RetireSafety         time.Duration
	MaxSignatureValidity time.Duration
	MinSignatureValidity time.Duration
	MaxValidityOverlap   time.Duration
	MinValidityOverlap   time.Duration
	TTL                  uint32
	AlgorithmPolicies    []AlgorithmPolicy
}

// AlgorithmPolicy pairs a DNSSEC algorithm number with the parameters
// acceptable for keys/signatures of that algorithm.
type AlgorithmPolicy struct {
	Algorithm uint8
	RSA       *RSAParams
	DSA       *DSAParams
	ECDSA     *ECDSAParams
}

type RSAParams struct {
	Size     int
	Exponent uint64
}

type DSAParams struct {
	Size int
}

type ECDSAParams struct {
	Size int
}

// Bundle is one time-bounded slot in the cycle.
type Bundle struct {
	ID         string
	Inception  time.Time
	Expiration time.Time
	Keys       []Key
	Signatures []Signature

	// Signer lists key-identifier hints for the signer(s) of this
	// bundle; only ever populated on request bundles.
	Signer []string
}

// Key is one DNSKEY record as it appears in a bundle.
type Key struct {
	KeyIdentifier string
	KeyTag        uint16
	TTL           uint32
	Flags         uint16
	Protocol      uint8 // always 3
	Algorithm     uint8
	PublicKey     []byte
}

const (
	FlagZONE   uint16 = 0x0100
	FlagSEP    uint16 = 0x0001
	FlagREVOKE uint16 = 0x0080
)

// Revoked reports whether the REVOKE bit is set on this key.
func (k Key) Revoked() bool { return k.Flags&FlagREVOKE != 0 }

// Signature is one RRSIG(DNSKEY) record as it appears in a bundle.
type Signature struct {
	KeyIdentifier       string
	TTL                 uint32
	TypeCovered         uint16 // always dns.TypeDNSKEY
	Algorithm           uint8
	Labels              uint8
	OriginalTTL         uint32
	SignatureInception  uint32
	SignatureExpiration uint32
	KeyTag              uint16
	SignersName         string
	SignatureData       []byte
}

// ResolveKey returns the Key this Signature claims to be over, within the
// given bundle's key set, and whether it was found.
func (b Bundle) ResolveKey(sig Signature) (Key, bool) {
	for _, k := range b.Keys {
		if k.KeyIdentifier == sig.KeyIdentifier {
			return k, true
		}
	}
	return Key{}, false
}

// DistinctPublicKeys returns the set of distinct Key.PublicKey byte strings
// across every bundle in the document, keyed by their string form so equal
// octet strings collapse to one entry regardless of which bundle/KeyIdentifier
// they came from.
func (d Document) DistinctPublicKeys() map[string][]byte {
	out := map[string][]byte{}
	for _, b := range d.Bundles {
		for _, k := range b.Keys {
			out[string(k.PublicKey)] = k.PublicKey
		}
	}
	return out
}
