// Package ksrerrors defines the error taxonomy shared by every stage of the
// KSR/SKR ceremony: one named Kind per invariant violation, so a caller can
// switch on the failure mode instead of grepping error strings.
package ksrerrors

import (
	"errors"
	"fmt"
	"strings"
)

// Kind names one category of ceremony failure. Never add a new failure mode
// without picking one of these; the CLI wrapper's exit codes key off Kind.
type Kind string

const (
	MalformedXml              Kind = "MalformedXml"
	SchemaViolation           Kind = "SchemaViolation"
	UnsupportedAlgorithm      Kind = "UnsupportedAlgorithm"
	DuplicateKeyIdentifier    Kind = "DuplicateKeyIdentifier"
	PolicyViolation           Kind = "PolicyViolation"
	SignatureVerificationFail Kind = "SignatureVerificationFailed"
	InventoryMismatch         Kind = "InventoryMismatch"
	HsmUnavailable            Kind = "HsmUnavailable"
	KeyNotFound               Kind = "KeyNotFound"
	AlgorithmMismatch         Kind = "AlgorithmMismatch"
	SigningFailed             Kind = "SigningFailed"
	ChainLinkageFailed        Kind = "ChainLinkageFailed"
	ConfigurationError        Kind = "ConfigurationError"
)

// CeremonyError is the one structured error type the core ever constructs
// directly. Most other errors are wrapped stdlib errors carrying one of
// these at their root; those that carry none (file I/O failures, for
// instance) have no Kind.
type CeremonyError struct {
	Kind          Kind
	Check         string // policy check name, set only for PolicyViolation and ChainLinkageFailed
	BundleID      string
	KeyIdentifier string
	Msg           string
	Err           error
}

func (e *CeremonyError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Check != "" {
		b.WriteString(": ")
		b.WriteString(e.Check)
	}
	if e.BundleID != "" {
		fmt.Fprintf(&b, " bundle=%s", e.BundleID)
	}
	if e.KeyIdentifier != "" {
		fmt.Fprintf(&b, " key=%s", e.KeyIdentifier)
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *CeremonyError) Unwrap() error { return e.Err }

func New(kind Kind, msg string) *CeremonyError {
	return &CeremonyError{Kind: kind, Msg: msg}
}

func Wrap(kind Kind, err error, msg string) *CeremonyError {
	return &CeremonyError{Kind: kind, Msg: msg, Err: err}
}

// Violation is one failed policy check, surfaced with enough identifying
// context to locate it in the KSR without re-running the engine.
type Violation struct {
	Check         string
	BundleID      string
	KeyIdentifier string
	Msg           string
}

func (v Violation) Error() string {
	var b strings.Builder
	b.WriteString(v.Check)
	if v.BundleID != "" {
		fmt.Fprintf(&b, " bundle=%s", v.BundleID)
	}
	if v.KeyIdentifier != "" {
		fmt.Fprintf(&b, " key=%s", v.KeyIdentifier)
	}
	if v.Msg != "" {
		b.WriteString(": ")
		b.WriteString(v.Msg)
	}
	return b.String()
}

// Violations is the policy engine's complete, collected failure set. All
// enabled checks run regardless of earlier failures; the engine never stops
// early, so this is always the full picture.
type Violations []Violation

func (vs Violations) Error() string {
	if len(vs) == 0 {
		return "no violations"
	}
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = v.Error()
	}
	return fmt.Sprintf("%d policy violation(s):\n  %s", len(vs), strings.Join(parts, "\n  "))
}

// AsCeremonyError converts the first violation into a PolicyViolation
// CeremonyError, chiefly so callers that only look at Kind still get one.
func (vs Violations) AsCeremonyError() *CeremonyError {
	if len(vs) == 0 {
		return nil
	}
	return &CeremonyError{
		Kind:          PolicyViolation,
		Check:         vs[0].Check,
		BundleID:      vs[0].BundleID,
		KeyIdentifier: vs[0].KeyIdentifier,
		Msg:           vs.Error(),
	}
}

// ExitCode maps err onto the ceremony CLI contract: 0 success, 1 policy
// violation, 2 malformed input, 3 HSM/signing failure, 4
// configuration/inventory mismatch. Errors carrying no Kind count as
// malformed input.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	kind, ok := KindOf(err)
	if !ok {
		return 2
	}
	switch kind {
	case PolicyViolation, ChainLinkageFailed, SignatureVerificationFail:
		return 1
	case HsmUnavailable, KeyNotFound, AlgorithmMismatch, SigningFailed:
		return 3
	case ConfigurationError, InventoryMismatch:
		return 4
	default:
		return 2
	}
}

// KindOf reports the Kind of err if it (or something it wraps) is a
// *CeremonyError, and ok=false otherwise.
func KindOf(err error) (Kind, bool) {
	var ce *CeremonyError
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return "", false
}
