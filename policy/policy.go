/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

// Package policy implements the ceremony's composable checks: each check
// is a named capability (Context) -> []Violation, and Engine is an
// ordered collection of enabled checks. All enabled checks run even
// after a failure is observed, so the caller always gets the complete
// violation set.
package policy

import (
	"time"

	"github.com/johanix/ksrsign/inventory"
	"github.com/johanix/ksrsign/ksrconfig"
	"github.com/johanix/ksrsign/ksrerrors"
	"github.com/johanix/ksrsign/wire"
)

// Context carries everything a check needs to evaluate one document.
// Document is the KSR or SKR under test; PreviousSKR is nil on bootstrap.
// ZskPolicy/KskPolicy are resolved from Document's own policy section
// (KskPolicy is nil when Document is a KSR, since requests carry no KSK
// policy).
type Context struct {
	Document    *wire.Document
	PreviousSKR *wire.Document
	ZskPolicy   *wire.SignaturePolicy
	KskPolicy   *wire.SignaturePolicy
	Config      *ksrconfig.Config
	Inventory   *inventory.Inventory
	Now         time.Time
}

// CheckFunc is one named, independently toggleable policy check.
type CheckFunc func(ctx *Context) []ksrerrors.Violation

// namedCheck pairs a check with the name violations it produces should
// carry, and the predicate deciding whether it runs for a given config.
type namedCheck struct {
	name    string
	fn      CheckFunc
	enabled func(c *ksrconfig.Config) bool
}

// Engine is the ordered set of checks a ceremony run applies: structural
// checks first (cheap), then cryptographic verification.
type Engine struct {
	checks []namedCheck
}

// NewEngine returns the full check set, in structural-then-cryptographic
// order.
func NewEngine() *Engine {
	return &Engine{checks: []namedCheck{
		{"AcceptableDomain", checkAcceptableDomain, always},
		{"NumBundles", checkNumBundles, always},
		{"NumKeysPerBundle", checkNumKeysPerBundle, always},
		{"NumDistinctKeys", checkNumDistinctKeys, always},
		{"KeyTagConsistency", checkKeyTagConsistency, always},
		{"ApprovedAlgorithms", checkApprovedAlgorithms, always},
		{"KeysMatchZskPolicy", checkKeysMatchZskPolicy, func(c *ksrconfig.Config) bool { return c.KeysMatchZskPolicy }},
		{"CheckKeysMatchKskOperatorPolicy", checkKeysMatchKskOperatorPolicy, func(c *ksrconfig.Config) bool { return c.CheckKeysMatchKskOperatorPolicy }},
		{"SignatureAlgorithmsMatchZskPolicy", checkSignatureAlgorithmsMatchZskPolicy, func(c *ksrconfig.Config) bool { return c.SignatureAlgorithmsMatchZskPolicy }},
		{"CheckBundleIntervals", checkBundleIntervals, func(c *ksrconfig.Config) bool { return c.CheckBundleIntervals }},
		{"CheckBundleOverlap", checkBundleOverlap, func(c *ksrconfig.Config) bool { return c.CheckBundleOverlap }},
		{"CheckCycleLength", checkCycleLength, func(c *ksrconfig.Config) bool { return c.CheckCycleLength }},
		{"SignatureValidityMatchZskPolicy", checkSignatureValidityMatchZskPolicy, func(c *ksrconfig.Config) bool { return c.SignatureValidityMatchZskPolicy }},
		{"SignatureExpireHorizon", checkSignatureExpireHorizon, func(c *ksrconfig.Config) bool { return c.SignatureCheckExpireHorizon }},
		{"CheckChainKeys", checkChainKeys, func(c *ksrconfig.Config) bool { return c.CheckChainKeys }},
		{"CheckChainOverlap", checkChainOverlap, func(c *ksrconfig.Config) bool { return c.CheckChainOverlap }},
		{"ValidateSignatures", checkValidateSignatures, func(c *ksrconfig.Config) bool { return c.ValidateSignatures }},
	}}
}

func always(*ksrconfig.Config) bool { return true }

// Run evaluates every enabled check against ctx and returns the complete
// violation set. It never stops early.
func (e *Engine) Run(ctx *Context) ksrerrors.Violations {
	var out ksrerrors.Violations
	for _, c := range e.checks {
		if !c.enabled(ctx.Config) {
			continue
		}
		out = append(out, c.fn(ctx)...)
	}
	return out
}
