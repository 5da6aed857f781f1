/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

// Package ceremony is the orchestrator: it parses and authenticates the
// previous SKR, parses the incoming KSR, reconciles the HSM inventory,
// runs the policy engine against the KSR (chain linkage included), signs
// one response bundle per request bundle via the configured schema, runs
// the policy engine again against the produced SKR, and emits it. Signing
// is all-or-nothing: a request-policy violation aborts before any signing
// call to the HSM, a response-policy violation discards the signed SKR
// unwritten, and the HSM session is released on every exit path.
package ceremony

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/gookit/goutil/dump"

	"github.com/johanix/ksrsign/inventory"
	"github.com/johanix/ksrsign/ksrconfig"
	"github.com/johanix/ksrsign/ksrerrors"
	"github.com/johanix/ksrsign/policy"
	"github.com/johanix/ksrsign/schema"
	"github.com/johanix/ksrsign/signer"
	"github.com/johanix/ksrsign/wire"
	"github.com/johanix/ksrsign/xmlcodec"
)

// Ceremony bundles the configured inputs one signing run needs.
type Ceremony struct {
	Config    *ksrconfig.Config
	Schemas   schema.Table
	KskRoles  schema.RoleMap
	Inventory []inventory.Entry
	Signer    signer.Signer
	Now       time.Time

	// Debug, when set, pretty-prints the parsed KSR and the reconciled
	// inventory identifiers before any policy check runs. Never dumps
	// signature data or HSM handles.
	Debug bool
}

// Run executes one full ceremony against the KSR read from ksrPath.
// prevSkrPath may be empty only on bootstrap (no chain-linkage
// checks are run in that case). The resulting SKR is written atomically
// to outPath. The HSM session (Ceremony.Signer) is always closed before
// Run returns, success or failure.
func (c *Ceremony) Run(ksrPath, prevSkrPath, outPath string) error {
	defer func() {
		if err := c.Signer.Close(); err != nil {
			log.Printf("ceremony: error closing signer session: %v", err)
		}
	}()

	opts := xmlcodec.Options{ApprovedAlgorithms: approvedSet(c.Config.ApprovedAlgorithms)}

	var prevSKR *wire.Document
	if prevSkrPath != "" {
		var err error
		prevSKR, err = parseFile(prevSkrPath, opts)
		if err != nil {
			return fmt.Errorf("ceremony: parsing previous SKR: %w", err)
		}
		if prevSKR.ResponsePolicy == nil {
			return ksrerrors.New(ksrerrors.SchemaViolation, "previous SKR has no ResponsePolicy")
		}
		if violations := policy.VerifySignaturesOnly(&policy.Context{Document: prevSKR}); len(violations) > 0 {
			return &ksrerrors.CeremonyError{
				Kind: ksrerrors.SignatureVerificationFail,
				Msg:  fmt.Sprintf("previous SKR failed signature verification: %s", violations.Error()),
			}
		}
	}

	ksr, err := parseFile(ksrPath, opts)
	if err != nil {
		return fmt.Errorf("ceremony: parsing KSR: %w", err)
	}
	if ksr.RequestPolicy == nil {
		return ksrerrors.New(ksrerrors.SchemaViolation, "KSR has no RequestPolicy")
	}
	if c.Debug {
		redacted := *ksr
		redacted.Bundles = make([]wire.Bundle, len(ksr.Bundles))
		for i, b := range ksr.Bundles {
			b.Signatures = append([]wire.Signature(nil), b.Signatures...)
			for j := range b.Signatures {
				b.Signatures[j].SignatureData = nil
			}
			redacted.Bundles[i] = b
		}
		dump.P(&redacted)
	}

	inv, err := inventory.Reconcile(c.Now, c.Inventory, ksr.Domain, c.Signer)
	if err != nil {
		return fmt.Errorf("ceremony: reconciling inventory: %w", err)
	}
	if c.Debug {
		dump.P(inv.Identifiers())
	}

	engine := policy.NewEngine()

	reqCtx := &policy.Context{
		Document:    ksr,
		PreviousSKR: prevSKR,
		ZskPolicy:   ksr.RequestPolicy.ZSK,
		Config:      c.Config,
		Inventory:   inv,
		Now:         c.Now,
	}
	if violations := engine.Run(reqCtx); len(violations) > 0 {
		return ceremonyErrorFor(violations)
	}

	kskPolicy := resolveKskPolicy(prevSKR, ksr)
	respDoc, err := c.buildResponse(ksr, kskPolicy, inv)
	if err != nil {
		return fmt.Errorf("ceremony: building response: %w", err)
	}

	respCtx := &policy.Context{
		Document:    respDoc,
		PreviousSKR: prevSKR,
		ZskPolicy:   ksr.RequestPolicy.ZSK,
		KskPolicy:   kskPolicy,
		Config:      c.Config,
		Inventory:   inv,
		Now:         c.Now,
	}
	if violations := engine.Run(respCtx); len(violations) > 0 {
		return ceremonyErrorFor(violations)
	}

	return writeAtomic(outPath, respDoc)
}

// ceremonyErrorFor classifies a violation set: chain-linkage violations
// are surfaced as ChainLinkageFailed, everything else as a generic
// PolicyViolation.
func ceremonyErrorFor(violations ksrerrors.Violations) error {
	for _, viol := range violations {
		if viol.Check == "CheckChainKeys" || viol.Check == "CheckChainOverlap" {
			return &ksrerrors.CeremonyError{
				Kind:  ksrerrors.ChainLinkageFailed,
				Check: viol.Check,
				Msg:   violations.Error(),
			}
		}
	}
	return violations.AsCeremonyError()
}

// resolveKskPolicy returns the KSK-side signature policy that governs the
// response: echoed from the previous SKR when one exists (the policy is
// operator-configured, not re-derived per ceremony), falling back to the
// KSR's own ZSK policy record on bootstrap.
func resolveKskPolicy(prevSKR, ksr *wire.Document) *wire.SignaturePolicy {
	if prevSKR != nil && prevSKR.ResponsePolicy != nil {
		return prevSKR.ResponsePolicy.KSK
	}
	return ksr.RequestPolicy.ZSK
}

// buildResponse produces one response bundle per request bundle,
// publishing the request's own keys plus whatever the
// schema's slot adds, signing with whichever KSKs the slot names.
func (c *Ceremony) buildResponse(ksr *wire.Document, kskPolicy *wire.SignaturePolicy, inv *inventory.Inventory) (*wire.Document, error) {
	sch, ok := c.Schemas[c.Config.SchemaName]
	if !ok {
		return nil, ksrerrors.New(ksrerrors.ConfigurationError, fmt.Sprintf("unknown schema %q", c.Config.SchemaName))
	}

	ttl := c.Config.DnsTtl
	if ttl == 0 && kskPolicy != nil {
		ttl = kskPolicy.TTL
	}

	bundles := make([]wire.Bundle, len(ksr.Bundles))
	for i, reqBundle := range ksr.Bundles {
		slot, ok := sch[i+1]
		if !ok {
			return nil, ksrerrors.New(ksrerrors.ConfigurationError, fmt.Sprintf("schema %q has no slot %d", c.Config.SchemaName, i+1))
		}
		resolved, err := slot.Resolve(c.KskRoles)
		if err != nil {
			return nil, ksrerrors.Wrap(ksrerrors.ConfigurationError, err, fmt.Sprintf("resolving schema slot %d", i+1))
		}
		if err := resolved.Validate(); err != nil {
			return nil, ksrerrors.Wrap(ksrerrors.ConfigurationError, err, fmt.Sprintf("schema slot %d", i+1))
		}

		keys := append([]wire.Key(nil), reqBundle.Keys...)
		revoked := map[string]bool{}
		for _, id := range resolved.Revoke {
			revoked[id] = true
		}
		published := map[string]wire.Key{}
		for _, id := range resolved.Publish {
			rec, ok := inv.Get(id)
			if !ok {
				return nil, ksrerrors.New(ksrerrors.InventoryMismatch, fmt.Sprintf("schema references unknown inventory identifier %q", id))
			}
			if rec.StateAt(c.Now) == inventory.StateRetired && !revoked[id] {
				return nil, ksrerrors.New(ksrerrors.ConfigurationError, fmt.Sprintf("inventory identifier %q is retired and may only be published revoked", id))
			}
			key := rec.PublicKey
			key.TTL = ttl
			if revoked[id] {
				// setting REVOKE changes the RDATA, so the tag moves too
				key.Flags |= wire.FlagREVOKE
				key.KeyTag = wire.KeyTag(key)
			}
			published[id] = key
			keys = append(keys, key)
		}

		var signatures []wire.Signature
		for _, id := range resolved.Sign {
			rec, ok := inv.Get(id)
			if !ok {
				return nil, ksrerrors.New(ksrerrors.InventoryMismatch, fmt.Sprintf("schema references unknown inventory identifier %q", id))
			}
			// Resolved.Validate guarantees every signer is published in
			// this slot, so the published form (REVOKE bit, moved tag)
			// is what the RRSIG must reference.
			sig, err := c.signBundle(reqBundle, keys, rec, published[id], ksr.Domain, ttl)
			if err != nil {
				return nil, err
			}
			signatures = append(signatures, sig)
		}

		bundles[i] = wire.Bundle{
			ID:         reqBundle.ID,
			Inception:  reqBundle.Inception,
			Expiration: reqBundle.Expiration,
			Keys:       wire.SortKeysCanonical(keys),
			Signatures: wire.SortSignaturesCanonical(signatures),
		}
	}

	return &wire.Document{
		ID:     ksr.ID,
		Serial: ksr.Serial,
		Domain: ksr.Domain,
		Kind:   wire.Response,
		ResponsePolicy: &wire.ResponsePolicy{
			KSK: kskPolicy,
			ZSK: ksr.RequestPolicy.ZSK,
		},
		Bundles: bundles,
	}, nil
}

// signBundle produces one DNSKEY RRSIG over keys, signed by rec's
// private handle. published is rec's key as it appears in this bundle's
// RRset (its flags and tag differ from the reconciled form when the
// slot revokes it).
func (c *Ceremony) signBundle(reqBundle wire.Bundle, keys []wire.Key, rec inventory.Reconciled, published wire.Key, owner string, ttl uint32) (wire.Signature, error) {
	sig := wire.Signature{
		KeyIdentifier:       rec.Identifier,
		TTL:                 ttl,
		TypeCovered:         dnsTypeDNSKEY,
		Algorithm:           published.Algorithm,
		Labels:              wire.Labels(owner),
		OriginalTTL:         ttl,
		SignatureInception:  uint32(reqBundle.Inception.Unix()),
		SignatureExpiration: uint32(reqBundle.Expiration.Unix()),
		KeyTag:              published.KeyTag,
		SignersName:         owner,
	}

	signed := wire.RRSIGSignedData(sig, owner, keys)
	raw, err := c.Signer.Sign(rec.PrivateHandle, published.Algorithm, signed)
	if err != nil {
		return wire.Signature{}, ksrerrors.Wrap(ksrerrors.SigningFailed, err, fmt.Sprintf("signing bundle %s with %q", reqBundle.ID, rec.Identifier))
	}
	sig.SignatureData = raw
	return sig, nil
}

const dnsTypeDNSKEY = 48 // dns.TypeDNSKEY; kept local to avoid importing miekg/dns for one constant

func approvedSet(algs []uint8) map[uint8]bool {
	out := make(map[uint8]bool, len(algs))
	for _, a := range algs {
		out[a] = true
	}
	return out
}

func parseFile(path string, opts xmlcodec.Options) (*wire.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %q: %w", path, err)
	}
	defer f.Close()
	return xmlcodec.Parse(f, opts)
}

// writeAtomic writes to a temp file in the same directory, fsyncs, and
// renames, so no partial SKR is ever observable at outPath.
func writeAtomic(outPath string, doc *wire.Document) error {
	dir := filepath.Dir(outPath)
	tmp, err := os.CreateTemp(dir, ".skr-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file in %q: %w", dir, err)
	}
	tmpPath := tmp.Name()

	if err := emitAndSync(tmp, doc); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}

	if err := os.Rename(tmpPath, outPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming %q to %q: %w", tmpPath, outPath, err)
	}
	return nil
}

func emitAndSync(f *os.File, doc *wire.Document) error {
	if err := xmlcodec.Emit(f, doc); err != nil {
		return fmt.Errorf("emitting SKR: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("fsync: %w", err)
	}
	return f.Close()
}
