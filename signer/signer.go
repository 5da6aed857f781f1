/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

// Package signer declares the HSM capability the ceremony core consumes.
// It makes no policy decisions and knows nothing about KSR/SKR documents;
// it enumerates key handles, fetches public key material, and signs raw
// bytes. The PKCS#11 binding that talks to a real device is not part of
// this module; see softhsm for the file-backed test double.
package signer

import (
	"fmt"

	"github.com/johanix/ksrsign/ksrerrors"
)

// HandleKind distinguishes the public and private halves of a key pair;
// List can return either or both for a given label.
type HandleKind uint8

const (
	PublicHandle HandleKind = iota + 1
	PrivateHandle
)

// Handle is an opaque reference to a key object inside the HSM. Signer
// implementations may stash an implementation-private identifier via
// WithID; callers must otherwise treat it as opaque and pass it back
// unmodified.
type Handle struct {
	Label string
	Kind  HandleKind
	id    any
}

func (h Handle) WithID(id any) Handle {
	h.id = id
	return h
}

func (h Handle) ID() any { return h.id }

// PublicKeyMaterial is the DNSKEY-shaped public key the HSM reports for a
// handle.
type PublicKeyMaterial struct {
	Algorithm   uint8
	RSASize     int // bits; zero unless Algorithm is an RSA algorithm
	RSAExponent uint64
	ECDSASize   int // bits; zero unless Algorithm is an ECDSA algorithm
	Raw         []byte
}

// Signer is the capability interface the ceremony orchestrator signs
// through. Implementations must not make policy decisions: given a valid
// handle, algorithm, and message, they either produce a signature or
// report why they could not.
type Signer interface {
	// List returns zero, one, or two handles for label (public, private,
	// or both, depending on what the HSM exposes).
	List(label string) ([]Handle, error)

	// PublicKey fetches the DNSKEY-shaped public key material for handle.
	PublicKey(handle Handle) (PublicKeyMaterial, error)

	// Sign produces a raw signature over message using the private key
	// behind handle, per algorithm's DNSSEC-specified padding/hash/curve:
	// RSA uses PKCS#1 v1.5 with the algorithm's hash (SHA-256 for
	// algorithm 8); ECDSA P-256 (algorithm 13) returns raw r||s, 32
	// bytes each, big-endian.
	Sign(handle Handle, algorithm uint8, message []byte) ([]byte, error)

	// Close releases any session resources. Safe to call more than once.
	Close() error
}

// ErrUnavailable reports that the HSM itself could not be reached.
func ErrUnavailable(reason string) error {
	return ksrerrors.New(ksrerrors.HsmUnavailable, reason)
}

// ErrKeyNotFound reports that no handle exists for label.
func ErrKeyNotFound(label string) error {
	return ksrerrors.New(ksrerrors.KeyNotFound, fmt.Sprintf("no key for label %q", label))
}

// ErrAlgorithmMismatch reports that the HSM's key material disagrees with
// the algorithm the caller expected.
func ErrAlgorithmMismatch(label string, want, got uint8) error {
	return ksrerrors.New(ksrerrors.AlgorithmMismatch,
		fmt.Sprintf("label %q: configured algorithm %d, HSM reports %d", label, want, got))
}
