/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

// Package fixtures builds small, deterministic HSM-backed test setups:
// an in-memory SoftHSM instance pre-loaded with an RSA or ECDSA key
// pair, and the matching inventory entry, so package tests all build
// their key material the same way.
package fixtures

import (
	"fmt"
	"time"

	"github.com/miekg/dns"

	"github.com/johanix/ksrsign/inventory"
	"github.com/johanix/ksrsign/signer"
	"github.com/johanix/ksrsign/softhsm"
)

// KSK is one fixture key pair together with the inventory Entry that
// describes it.
type KSK struct {
	Entry inventory.Entry
	HSM   *softhsm.SoftHSM
}

// NewRSAKsk builds a SoftHSM-backed RSA/SHA-256 KSK fixture with
// identifier id, rooted at an in-memory sqlite database (path ":memory:").
// validFrom/validUntil follow inventory.Entry's open-ended-until-nil
// convention.
func NewRSAKsk(id, label string, validFrom time.Time, validUntil *time.Time) (*KSK, error) {
	h, err := softhsm.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("fixtures: opening SoftHSM: %w", err)
	}
	if err := h.GenerateKey(label, dns.RSASHA256, 2048, 65537); err != nil {
		h.Close()
		return nil, fmt.Errorf("fixtures: generating RSA key %q: %w", label, err)
	}
	return &KSK{
		Entry: inventory.Entry{
			Identifier:  id,
			Description: fmt.Sprintf("fixture RSA KSK %s", id),
			Label:       label,
			Algorithm:   dns.RSASHA256,
			RSASize:     2048,
			RSAExponent: 65537,
			ValidFrom:   validFrom,
			ValidUntil:  validUntil,
		},
		HSM: h,
	}, nil
}

// NewECDSAKsk mirrors NewRSAKsk for an ECDSA P-256 key pair.
func NewECDSAKsk(id, label string, validFrom time.Time, validUntil *time.Time) (*KSK, error) {
	h, err := softhsm.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("fixtures: opening SoftHSM: %w", err)
	}
	if err := h.GenerateKey(label, dns.ECDSAP256SHA256, 0, 0); err != nil {
		h.Close()
		return nil, fmt.Errorf("fixtures: generating ECDSA key %q: %w", label, err)
	}
	return &KSK{
		Entry: inventory.Entry{
			Identifier:  id,
			Description: fmt.Sprintf("fixture ECDSA KSK %s", id),
			Label:       label,
			Algorithm:   dns.ECDSAP256SHA256,
			ValidFrom:   validFrom,
			ValidUntil:  validUntil,
		},
		HSM: h,
	}, nil
}

// MultiSigner fans List/PublicKey/Sign calls out to whichever underlying
// SoftHSM owns the requested label, so a single signer.Signer can front
// several independently-generated fixture keys (e.g. ksk_current and
// ksk_next living in separate SoftHSM instances).
type MultiSigner struct {
	byLabel map[string]*softhsm.SoftHSM
}

// NewMultiSigner builds a MultiSigner serving each of ksks's underlying
// SoftHSM instances.
func NewMultiSigner(ksks ...*KSK) *MultiSigner {
	m := &MultiSigner{byLabel: map[string]*softhsm.SoftHSM{}}
	for _, k := range ksks {
		m.byLabel[k.Entry.Label] = k.HSM
	}
	return m
}

func (m *MultiSigner) List(label string) ([]signer.Handle, error) {
	h, ok := m.byLabel[label]
	if !ok {
		return nil, signer.ErrKeyNotFound(label)
	}
	return h.List(label)
}

func (m *MultiSigner) PublicKey(handle signer.Handle) (signer.PublicKeyMaterial, error) {
	h, ok := m.byLabel[handle.Label]
	if !ok {
		return signer.PublicKeyMaterial{}, signer.ErrKeyNotFound(handle.Label)
	}
	return h.PublicKey(handle)
}

func (m *MultiSigner) Sign(handle signer.Handle, algorithm uint8, message []byte) ([]byte, error) {
	h, ok := m.byLabel[handle.Label]
	if !ok {
		return nil, signer.ErrKeyNotFound(handle.Label)
	}
	return h.Sign(handle, algorithm, message)
}

func (m *MultiSigner) Close() error {
	var first error
	for _, h := range m.byLabel {
		if err := h.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// SpyCall records one invocation made through a SpySigner, for asserting
// that no Sign call happens when a policy violation aborts the ceremony.
type SpyCall struct {
	Method string
	Label  string
}

// SpySigner wraps an underlying signer.Signer and records every call made
// through it.
type SpySigner struct {
	signer.Signer
	Calls []SpyCall
}

func NewSpySigner(underlying signer.Signer) *SpySigner {
	return &SpySigner{Signer: underlying}
}

func (s *SpySigner) List(label string) ([]signer.Handle, error) {
	s.Calls = append(s.Calls, SpyCall{Method: "List", Label: label})
	return s.Signer.List(label)
}

func (s *SpySigner) PublicKey(handle signer.Handle) (signer.PublicKeyMaterial, error) {
	s.Calls = append(s.Calls, SpyCall{Method: "PublicKey", Label: handle.Label})
	return s.Signer.PublicKey(handle)
}

func (s *SpySigner) Sign(handle signer.Handle, algorithm uint8, message []byte) ([]byte, error) {
	s.Calls = append(s.Calls, SpyCall{Method: "Sign", Label: handle.Label})
	return s.Signer.Sign(handle, algorithm, message)
}

// SignCount returns the number of Sign calls recorded so far.
func (s *SpySigner) SignCount() int {
	n := 0
	for _, c := range s.Calls {
		if c.Method == "Sign" {
			n++
		}
	}
	return n
}
