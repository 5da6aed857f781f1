/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

package policy

import (
	"bytes"
	"fmt"

	"github.com/miekg/dns"

	"github.com/johanix/ksrsign/ksrerrors"
	"github.com/johanix/ksrsign/wire"
)

func v(check, bundleID, keyID, format string, args ...any) ksrerrors.Violation {
	return ksrerrors.Violation{Check: check, BundleID: bundleID, KeyIdentifier: keyID, Msg: fmt.Sprintf(format, args...)}
}

func checkAcceptableDomain(ctx *Context) []ksrerrors.Violation {
	for _, d := range ctx.Config.AcceptableDomains {
		if ctx.Document.Domain == d {
			return nil
		}
	}
	return []ksrerrors.Violation{v("AcceptableDomain", "", "", "domain %q not in acceptable_domains %v", ctx.Document.Domain, ctx.Config.AcceptableDomains)}
}

func checkNumBundles(ctx *Context) []ksrerrors.Violation {
	if len(ctx.Document.Bundles) != ctx.Config.NumBundles {
		return []ksrerrors.Violation{v("NumBundles", "", "", "document has %d bundles, policy requires %d", len(ctx.Document.Bundles), ctx.Config.NumBundles)}
	}
	return nil
}

// zskKeys returns the non-SEP (zone-signing) keys of a bundle. The
// configured per-bundle counts describe ZSK bundle shape, the shape a
// KSR declares on its own; KSK material a schema publishes into a
// response bundle is not counted; CheckKeysMatchKskOperatorPolicy checks it.
func zskKeys(keys []wire.Key) []wire.Key {
	var out []wire.Key
	for _, k := range keys {
		if k.Flags&wire.FlagSEP == 0 {
			out = append(out, k)
		}
	}
	return out
}

func sepKeys(keys []wire.Key) []wire.Key {
	var out []wire.Key
	for _, k := range keys {
		if k.Flags&wire.FlagSEP != 0 {
			out = append(out, k)
		}
	}
	return out
}

func checkNumKeysPerBundle(ctx *Context) []ksrerrors.Violation {
	var out []ksrerrors.Violation
	for i, b := range ctx.Document.Bundles {
		if i >= len(ctx.Config.NumKeysPerBundle) {
			break // NumBundles already flags the length mismatch
		}
		want := ctx.Config.NumKeysPerBundle[i]
		got := len(zskKeys(b.Keys))
		if got != want {
			out = append(out, v("NumKeysPerBundle", b.ID, "", "bundle has %d ZSKs, slot %d requires %d", got, i+1, want))
		}
	}
	return out
}

func checkNumDistinctKeys(ctx *Context) []ksrerrors.Violation {
	distinct := map[string]bool{}
	for _, b := range ctx.Document.Bundles {
		for _, k := range zskKeys(b.Keys) {
			distinct[string(k.PublicKey)] = true
		}
	}
	if len(distinct) != ctx.Config.NumDifferentKeysInAllBundles {
		return []ksrerrors.Violation{v("NumDistinctKeys", "", "", "document has %d distinct ZSKs, policy requires %d", len(distinct), ctx.Config.NumDifferentKeysInAllBundles)}
	}
	return nil
}

// checkKeyTagConsistency enforces the declared-vs-computed key tag
// invariant on every key in every bundle. A wrong declared tag means
// validators will look up the wrong DNSKEY when verifying, so this is
// structural, always on, and not tied to any signature.
func checkKeyTagConsistency(ctx *Context) []ksrerrors.Violation {
	var out []ksrerrors.Violation
	for _, b := range ctx.Document.Bundles {
		for _, k := range b.Keys {
			if got := wire.KeyTag(k); got != k.KeyTag {
				out = append(out, v("KeyTagConsistency", b.ID, k.KeyIdentifier, "declared key_tag %d, computed %d", k.KeyTag, got))
			}
		}
	}
	return out
}

// checkKeysMatchKskOperatorPolicy validates every SEP-flagged (KSK) key
// against the operator's KSK policy, the counterpart to KeysMatchZskPolicy
// for ZSKs. Only meaningful once a ResponsePolicy.KSK exists (no KSK
// material appears in a request bundle).
func checkKeysMatchKskOperatorPolicy(ctx *Context) []ksrerrors.Violation {
	if ctx.KskPolicy == nil {
		return nil
	}
	var out []ksrerrors.Violation
	for _, b := range ctx.Document.Bundles {
		for _, k := range sepKeys(b.Keys) {
			ap := findAlgorithmPolicy(ctx.KskPolicy, k.Algorithm)
			if ap == nil {
				out = append(out, v("CheckKeysMatchKskOperatorPolicy", b.ID, k.KeyIdentifier, "algorithm %d has no matching KSK policy entry", k.Algorithm))
				continue
			}
			if ap.RSA != nil {
				size, _, err := rsaSizeExponent(k.PublicKey)
				if err != nil {
					out = append(out, v("CheckKeysMatchKskOperatorPolicy", b.ID, k.KeyIdentifier, "malformed RSA public key: %v", err))
					continue
				}
				if size != ap.RSA.Size {
					out = append(out, v("CheckKeysMatchKskOperatorPolicy", b.ID, k.KeyIdentifier, "RSA size %d does not match KSK policy %d", size, ap.RSA.Size))
				}
			}
		}
	}
	return out
}

func checkApprovedAlgorithms(ctx *Context) []ksrerrors.Violation {
	approved := map[uint8]bool{}
	for _, a := range ctx.Config.ApprovedAlgorithms {
		approved[a] = true
	}
	rsaSizes := map[int]bool{}
	for _, s := range ctx.Config.RsaApprovedKeySizes {
		rsaSizes[s] = true
	}
	rsaExps := map[uint64]bool{}
	for _, e := range ctx.Config.RsaApprovedExponents {
		rsaExps[e] = true
	}

	var out []ksrerrors.Violation
	for _, b := range ctx.Document.Bundles {
		for _, k := range b.Keys {
			if !approved[k.Algorithm] {
				out = append(out, v("ApprovedAlgorithms", b.ID, k.KeyIdentifier, "algorithm %d not approved", k.Algorithm))
				continue
			}
			switch k.Algorithm {
			case dns.RSASHA1, dns.RSASHA256, dns.RSASHA512:
				size, exp, err := rsaSizeExponent(k.PublicKey)
				if err != nil {
					out = append(out, v("ApprovedAlgorithms", b.ID, k.KeyIdentifier, "malformed RSA public key: %v", err))
					continue
				}
				if !rsaSizes[size] {
					out = append(out, v("ApprovedAlgorithms", b.ID, k.KeyIdentifier, "RSA key size %d not approved", size))
				}
				if !rsaExps[exp] {
					out = append(out, v("ApprovedAlgorithms", b.ID, k.KeyIdentifier, "RSA exponent %d not approved", exp))
				}
			case dns.ECDSAP256SHA256, dns.ECDSAP384SHA384:
				if !ctx.Config.EnableUnsupportedEcdsa {
					out = append(out, v("ApprovedAlgorithms", b.ID, k.KeyIdentifier, "ECDSA not enabled (enable_unsupported_ecdsa=false)"))
				}
			}
		}
	}
	return out
}

// rsaSizeExponent parses the RFC 3110 DNSKEY RSA encoding to recover the
// key size in bits and the public exponent.
func rsaSizeExponent(raw []byte) (size int, exponent uint64, err error) {
	if len(raw) < 1 {
		return 0, 0, fmt.Errorf("empty public key")
	}
	expLen := int(raw[0])
	off := 1
	if expLen == 0 {
		if len(raw) < 3 {
			return 0, 0, fmt.Errorf("truncated extended exponent length")
		}
		expLen = int(raw[1])<<8 | int(raw[2])
		off = 3
	}
	if len(raw) < off+expLen {
		return 0, 0, fmt.Errorf("truncated exponent")
	}
	var e uint64
	for _, b := range raw[off : off+expLen] {
		e = e<<8 | uint64(b)
	}
	modulus := raw[off+expLen:]
	return len(modulus) * 8, e, nil
}

func checkKeysMatchZskPolicy(ctx *Context) []ksrerrors.Violation {
	if ctx.ZskPolicy == nil {
		return nil
	}
	var out []ksrerrors.Violation
	for _, b := range ctx.Document.Bundles {
		for _, k := range zskKeys(b.Keys) {
			ap := findAlgorithmPolicy(ctx.ZskPolicy, k.Algorithm)
			if ap == nil {
				out = append(out, v("KeysMatchZskPolicy", b.ID, k.KeyIdentifier, "algorithm %d has no matching ZSK policy entry", k.Algorithm))
				continue
			}
			if ap.RSA != nil {
				size, exp, err := rsaSizeExponent(k.PublicKey)
				if err != nil {
					out = append(out, v("KeysMatchZskPolicy", b.ID, k.KeyIdentifier, "malformed RSA public key: %v", err))
					continue
				}
				if size != ap.RSA.Size {
					out = append(out, v("KeysMatchZskPolicy", b.ID, k.KeyIdentifier, "RSA size %d does not match policy %d", size, ap.RSA.Size))
				}
				if ctx.Config.RsaExponentMatchZskPolicy && exp != ap.RSA.Exponent {
					out = append(out, v("KeysMatchZskPolicy", b.ID, k.KeyIdentifier, "RSA exponent %d does not match policy %d", exp, ap.RSA.Exponent))
				}
			}
		}
	}
	return out
}

func findAlgorithmPolicy(p *wire.SignaturePolicy, algorithm uint8) *wire.AlgorithmPolicy {
	for i := range p.AlgorithmPolicies {
		if p.AlgorithmPolicies[i].Algorithm == algorithm {
			return &p.AlgorithmPolicies[i]
		}
	}
	return nil
}

func checkSignatureAlgorithmsMatchZskPolicy(ctx *Context) []ksrerrors.Violation {
	if ctx.ZskPolicy == nil {
		return nil
	}
	var out []ksrerrors.Violation
	for _, b := range ctx.Document.Bundles {
		for _, s := range b.Signatures {
			k, ok := b.ResolveKey(s)
			if !ok {
				continue // CheckBundleKeyReferences (folded into ValidateSignatures) reports this
			}
			if s.Algorithm != k.Algorithm {
				out = append(out, v("SignatureAlgorithmsMatchZskPolicy", b.ID, s.KeyIdentifier, "signature algorithm %d does not match key algorithm %d", s.Algorithm, k.Algorithm))
				continue
			}
			if findAlgorithmPolicy(ctx.ZskPolicy, s.Algorithm) == nil {
				out = append(out, v("SignatureAlgorithmsMatchZskPolicy", b.ID, s.KeyIdentifier, "signature algorithm %d has no matching ZSK policy entry", s.Algorithm))
			}
		}
	}
	return out
}

// VerifySignaturesOnly runs just the cryptographic ValidateSignatures check
// against ctx.Document. It is used to authenticate a previously issued SKR
// before trusting it for chain-linkage, without re-running the full
// structural engine against a document that was produced under a possibly
// different ceremony's bundle-shape policy.
func VerifySignaturesOnly(ctx *Context) ksrerrors.Violations {
	return ksrerrors.Violations(checkValidateSignatures(ctx))
}

func checkValidateSignatures(ctx *Context) []ksrerrors.Violation {
	var out []ksrerrors.Violation
	for _, b := range ctx.Document.Bundles {
		for _, s := range b.Signatures {
			k, ok := b.ResolveKey(s)
			if !ok {
				out = append(out, v("ValidateSignatures", b.ID, s.KeyIdentifier, "signature references unknown key identifier"))
				continue
			}
			if k.KeyTag != s.KeyTag {
				out = append(out, v("ValidateSignatures", b.ID, s.KeyIdentifier, "signature key_tag %d does not match key's key_tag %d", s.KeyTag, k.KeyTag))
				continue
			}
			if k.Algorithm != s.Algorithm {
				out = append(out, v("ValidateSignatures", b.ID, s.KeyIdentifier, "signature algorithm %d does not match key algorithm %d", s.Algorithm, k.Algorithm))
				continue
			}
			if err := VerifySignature(s, b.ID, b.Keys); err != nil {
				out = append(out, v("ValidateSignatures", b.ID, s.KeyIdentifier, "%v", err))
			}
		}
	}
	return out
}

func checkSignatureValidityMatchZskPolicy(ctx *Context) []ksrerrors.Violation {
	if ctx.ZskPolicy == nil {
		return nil
	}
	var out []ksrerrors.Violation
	for _, b := range ctx.Document.Bundles {
		for _, s := range b.Signatures {
			validity := secondsDuration(s.SignatureExpiration - s.SignatureInception)
			if validity < ctx.ZskPolicy.MinSignatureValidity || validity > ctx.ZskPolicy.MaxSignatureValidity {
				out = append(out, v("SignatureValidityMatchZskPolicy", b.ID, s.KeyIdentifier,
					"signature validity %s outside policy bounds [%s, %s]",
					validity, ctx.ZskPolicy.MinSignatureValidity, ctx.ZskPolicy.MaxSignatureValidity))
			}
		}
	}
	return out
}

func checkBundleOverlap(ctx *Context) []ksrerrors.Violation {
	if ctx.ZskPolicy == nil {
		return nil
	}
	var out []ksrerrors.Violation
	bundles := ctx.Document.Bundles
	for i := 0; i+1 < len(bundles); i++ {
		cur, next := bundles[i], bundles[i+1]
		if !next.Inception.Before(cur.Expiration) {
			out = append(out, v("CheckBundleOverlap", next.ID, "", "bundle does not overlap with previous bundle %s", cur.ID))
			continue
		}
		overlap := cur.Expiration.Sub(next.Inception)
		if overlap < ctx.ZskPolicy.MinValidityOverlap || overlap > ctx.ZskPolicy.MaxValidityOverlap {
			out = append(out, v("CheckBundleOverlap", next.ID, "", "overlap with %s is %s, outside [%s, %s]",
				cur.ID, overlap, ctx.ZskPolicy.MinValidityOverlap, ctx.ZskPolicy.MaxValidityOverlap))
		}
	}
	return out
}

func checkBundleIntervals(ctx *Context) []ksrerrors.Violation {
	var out []ksrerrors.Violation
	bundles := ctx.Document.Bundles
	for i := 0; i+1 < len(bundles); i++ {
		gap := bundles[i+1].Inception.Sub(bundles[i].Inception)
		if gap < ctx.Config.MinBundleInterval || gap > ctx.Config.MaxBundleInterval {
			out = append(out, v("CheckBundleIntervals", bundles[i+1].ID, "", "inception gap from %s is %s, outside [%s, %s]",
				bundles[i].ID, gap, ctx.Config.MinBundleInterval, ctx.Config.MaxBundleInterval))
		}
	}
	return out
}

func checkCycleLength(ctx *Context) []ksrerrors.Violation {
	bundles := ctx.Document.Bundles
	if len(bundles) == 0 {
		return nil
	}
	length := bundles[len(bundles)-1].Inception.Sub(bundles[0].Inception)
	if length < ctx.Config.MinCycleInceptionLength || length > ctx.Config.MaxCycleInceptionLength {
		return []ksrerrors.Violation{v("CheckCycleLength", "", "", "cycle inception length %s outside [%s, %s]",
			length, ctx.Config.MinCycleInceptionLength, ctx.Config.MaxCycleInceptionLength)}
	}
	return nil
}

func checkSignatureExpireHorizon(ctx *Context) []ksrerrors.Violation {
	horizon := ctx.Now.AddDate(0, 0, ctx.Config.SignatureHorizonDays)
	var out []ksrerrors.Violation
	for _, b := range ctx.Document.Bundles {
		for _, s := range b.Signatures {
			exp := unixToTime(s.SignatureExpiration)
			if exp.After(horizon) {
				out = append(out, v("SignatureExpireHorizon", b.ID, s.KeyIdentifier,
					"signature expires %s, beyond the %d day horizon (%s)", exp, ctx.Config.SignatureHorizonDays, horizon))
			}
		}
	}
	return out
}

func checkChainKeys(ctx *Context) []ksrerrors.Violation {
	if ctx.PreviousSKR == nil || len(ctx.PreviousSKR.Bundles) == 0 || len(ctx.Document.Bundles) == 0 {
		return nil
	}
	prevLast := ctx.PreviousSKR.Bundles[len(ctx.PreviousSKR.Bundles)-1]
	first := ctx.Document.Bundles[0]

	var out []ksrerrors.Violation
	for _, pk := range zskKeys(prevLast.Keys) {
		found := false
		for _, k := range first.Keys {
			if bytes.Equal(k.PublicKey, pk.PublicKey) {
				found = true
				break
			}
		}
		if !found {
			out = append(out, ksrerrors.Violation{
				Check: "CheckChainKeys", BundleID: first.ID, KeyIdentifier: pk.KeyIdentifier,
				Msg: fmt.Sprintf("previous SKR's last-bundle key (tag %d) is absent from this KSR's first bundle", pk.KeyTag),
			})
		}
	}
	return out
}

func checkChainOverlap(ctx *Context) []ksrerrors.Violation {
	if ctx.PreviousSKR == nil || ctx.ZskPolicy == nil || len(ctx.PreviousSKR.Bundles) == 0 || len(ctx.Document.Bundles) == 0 {
		return nil
	}
	prevLast := ctx.PreviousSKR.Bundles[len(ctx.PreviousSKR.Bundles)-1]
	first := ctx.Document.Bundles[0]

	if !first.Inception.Before(prevLast.Expiration) {
		return []ksrerrors.Violation{v("CheckChainOverlap", first.ID, "", "does not overlap with previous SKR's last bundle %s", prevLast.ID)}
	}
	overlap := prevLast.Expiration.Sub(first.Inception)
	if overlap < ctx.ZskPolicy.MinValidityOverlap || overlap > ctx.ZskPolicy.MaxValidityOverlap {
		return []ksrerrors.Violation{v("CheckChainOverlap", first.ID, "", "overlap with previous SKR is %s, outside [%s, %s]",
			overlap, ctx.ZskPolicy.MinValidityOverlap, ctx.ZskPolicy.MaxValidityOverlap)}
	}
	return nil
}
