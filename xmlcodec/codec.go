/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

package xmlcodec

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/johanix/ksrsign/ksrerrors"
	"github.com/johanix/ksrsign/wire"
)

const timeLayout = time.RFC3339

// Options controls parse-time algorithm approval, the one policy gate
// the codec applies itself.
type Options struct {
	ApprovedAlgorithms map[uint8]bool
}

// Parse decodes a KSR or SKR document from r into package wire's model.
func Parse(r io.Reader, opts Options) (*wire.Document, error) {
	var x xmlKSR
	dec := xml.NewDecoder(r)
	if err := dec.Decode(&x); err != nil {
		return nil, ksrerrors.Wrap(ksrerrors.MalformedXml, err, "decoding KSR/SKR XML")
	}

	if x.ID == "" {
		return nil, ksrerrors.New(ksrerrors.MalformedXml, "KSR element missing id attribute")
	}
	if x.Request == nil && x.Response == nil {
		return nil, ksrerrors.New(ksrerrors.MalformedXml, "KSR element must contain exactly one Request or Response child")
	}
	if x.Request != nil && x.Response != nil {
		return nil, ksrerrors.New(ksrerrors.MalformedXml, "KSR element must not contain both Request and Response")
	}

	doc := &wire.Document{ID: x.ID, Serial: x.Serial, Domain: x.Domain}

	var rawBundles []xmlBundle
	var timestampStr string

	if x.Request != nil {
		doc.Kind = wire.Request
		zsk, err := convertSigPolicy(x.Request.Policy.ZSK, opts)
		if err != nil {
			return nil, err
		}
		doc.RequestPolicy = &wire.RequestPolicy{ZSK: zsk}
		rawBundles = x.Request.Bundles
		timestampStr = x.Request.Timestamp
		if len(rawBundles) == 0 {
			return nil, ksrerrors.New(ksrerrors.MalformedXml, "Request must contain at least one RequestBundle")
		}
	} else {
		doc.Kind = wire.Response
		ksk, err := convertSigPolicy(x.Response.Policy.KSK, opts)
		if err != nil {
			return nil, err
		}
		zsk, err := convertSigPolicy(x.Response.Policy.ZSK, opts)
		if err != nil {
			return nil, err
		}
		doc.ResponsePolicy = &wire.ResponsePolicy{KSK: ksk, ZSK: zsk}
		rawBundles = x.Response.Bundles
		timestampStr = x.Response.Timestamp
		if len(rawBundles) == 0 {
			return nil, ksrerrors.New(ksrerrors.MalformedXml, "Response must contain at least one ResponseBundle")
		}
	}

	if timestampStr != "" {
		t, err := time.Parse(timeLayout, timestampStr)
		if err != nil {
			return nil, ksrerrors.Wrap(ksrerrors.MalformedXml, err, "parsing KSR/SKR timestamp")
		}
		doc.Timestamp = &t
	}

	bundles := make([]wire.Bundle, 0, len(rawBundles))
	for _, rb := range rawBundles {
		b, err := convertBundle(rb, opts)
		if err != nil {
			return nil, err
		}
		bundles = append(bundles, b)
	}
	doc.Bundles = bundles

	return doc, nil
}

func convertSigPolicy(p xmlSigPolicy, opts Options) (*wire.SignaturePolicy, error) {
	parse := func(s string, field string) (time.Duration, error) {
		if s == "" {
			return 0, nil
		}
		d, err := wire.ParseISO8601Duration(s)
		if err != nil {
			return 0, ksrerrors.Wrap(ksrerrors.MalformedXml, err, fmt.Sprintf("parsing %s", field))
		}
		return d, nil
	}
	publishSafety, err := parse(p.PublishSafety, "PublishSafety")
	if err != nil {
		return nil, err
	}
	retireSafety, err := parse(p.RetireSafety, "RetireSafety")
	if err != nil {
		return nil, err
	}
	maxSigValidity, err := parse(p.MaxSignatureValidity, "MaxSignatureValidity")
	if err != nil {
		return nil, err
	}
	minSigValidity, err := parse(p.MinSignatureValidity, "MinSignatureValidity")
	if err != nil {
		return nil, err
	}
	maxOverlap, err := parse(p.MaxValidityOverlap, "MaxValidityOverlap")
	if err != nil {
		return nil, err
	}
	minOverlap, err := parse(p.MinValidityOverlap, "MinValidityOverlap")
	if err != nil {
		return nil, err
	}

	algos := make([]wire.AlgorithmPolicy, 0, len(p.Algorithms))
	for _, a := range p.Algorithms {
		if opts.ApprovedAlgorithms != nil && !opts.ApprovedAlgorithms[a.Algorithm] {
			return nil, ksrerrors.New(ksrerrors.UnsupportedAlgorithm,
				fmt.Sprintf("algorithm %d (%s) is not in the configured approval set", a.Algorithm, dns.AlgorithmToString[a.Algorithm]))
		}
		ap := wire.AlgorithmPolicy{Algorithm: a.Algorithm}
		if a.RSA != nil {
			ap.RSA = &wire.RSAParams{Size: a.RSA.Size, Exponent: a.RSA.Exponent}
		}
		if a.DSA != nil {
			ap.DSA = &wire.DSAParams{Size: a.DSA.Size}
		}
		if a.ECDSA != nil {
			ap.ECDSA = &wire.ECDSAParams{Size: a.ECDSA.Size}
		}
		algos = append(algos, ap)
	}

	return &wire.SignaturePolicy{
		PublishSafety:        publishSafety,
		RetireSafety:         retireSafety,
		MaxSignatureValidity: maxSigValidity,
		MinSignatureValidity: minSigValidity,
		MaxValidityOverlap:   maxOverlap,
		MinValidityOverlap:   minOverlap,
		AlgorithmPolicies:    algos,
	}, nil
}

func convertBundle(rb xmlBundle, opts Options) (wire.Bundle, error) {
	if rb.ID == "" {
		return wire.Bundle{}, ksrerrors.New(ksrerrors.MalformedXml, "bundle missing id attribute")
	}
	inception, err := time.Parse(timeLayout, rb.Inception)
	if err != nil {
		return wire.Bundle{}, ksrerrors.Wrap(ksrerrors.MalformedXml, err, fmt.Sprintf("bundle %s: Inception", rb.ID))
	}
	expiration, err := time.Parse(timeLayout, rb.Expiration)
	if err != nil {
		return wire.Bundle{}, ksrerrors.Wrap(ksrerrors.MalformedXml, err, fmt.Sprintf("bundle %s: Expiration", rb.ID))
	}

	seen := map[string]bool{}
	keys := make([]wire.Key, 0, len(rb.Keys))
	for _, rk := range rb.Keys {
		if rk.KeyIdentifier == "" {
			return wire.Bundle{}, ksrerrors.New(ksrerrors.MalformedXml, fmt.Sprintf("bundle %s: Key missing keyIdentifier", rb.ID))
		}
		if seen[rk.KeyIdentifier] {
			return wire.Bundle{}, &ksrerrors.CeremonyError{
				Kind: ksrerrors.DuplicateKeyIdentifier, BundleID: rb.ID, KeyIdentifier: rk.KeyIdentifier,
				Msg: "key identifier appears more than once in this bundle",
			}
		}
		seen[rk.KeyIdentifier] = true

		if opts.ApprovedAlgorithms != nil && !opts.ApprovedAlgorithms[rk.Algorithm] {
			return wire.Bundle{}, &ksrerrors.CeremonyError{
				Kind: ksrerrors.UnsupportedAlgorithm, BundleID: rb.ID, KeyIdentifier: rk.KeyIdentifier,
				Msg: fmt.Sprintf("algorithm %d not approved", rk.Algorithm),
			}
		}

		pk, err := base64.StdEncoding.DecodeString(stripWhitespace(rk.PublicKey))
		if err != nil {
			return wire.Bundle{}, ksrerrors.Wrap(ksrerrors.MalformedXml, err, fmt.Sprintf("bundle %s key %s: PublicKey base64", rb.ID, rk.KeyIdentifier))
		}

		keys = append(keys, wire.Key{
			KeyIdentifier: rk.KeyIdentifier,
			KeyTag:        rk.KeyTag,
			TTL:           rk.TTL,
			Flags:         rk.Flags,
			Protocol:      rk.Protocol,
			Algorithm:     rk.Algorithm,
			PublicKey:     pk,
		})
	}

	sigs := make([]wire.Signature, 0, len(rb.Signatures))
	for _, rs := range rb.Signatures {
		if rs.TypeCovered != "" && rs.TypeCovered != "DNSKEY" {
			return wire.Bundle{}, ksrerrors.New(ksrerrors.MalformedXml,
				fmt.Sprintf("bundle %s: Signature TypeCovered must be DNSKEY, got %q", rb.ID, rs.TypeCovered))
		}
		sigInception, err := time.Parse(timeLayout, rs.SignatureInception)
		if err != nil {
			return wire.Bundle{}, ksrerrors.Wrap(ksrerrors.MalformedXml, err, fmt.Sprintf("bundle %s: SignatureInception", rb.ID))
		}
		sigExpiration, err := time.Parse(timeLayout, rs.SignatureExpiration)
		if err != nil {
			return wire.Bundle{}, ksrerrors.Wrap(ksrerrors.MalformedXml, err, fmt.Sprintf("bundle %s: SignatureExpiration", rb.ID))
		}
		sigData, err := base64.StdEncoding.DecodeString(stripWhitespace(rs.SignatureData))
		if err != nil {
			return wire.Bundle{}, ksrerrors.Wrap(ksrerrors.MalformedXml, err, fmt.Sprintf("bundle %s: SignatureData base64", rb.ID))
		}

		sigs = append(sigs, wire.Signature{
			KeyIdentifier:       rs.KeyIdentifier,
			TTL:                 rs.TTL,
			TypeCovered:         dns.TypeDNSKEY,
			Algorithm:           rs.Algorithm,
			Labels:              rs.Labels,
			OriginalTTL:         rs.OriginalTTL,
			SignatureInception:  uint32(sigInception.Unix()),
			SignatureExpiration: uint32(sigExpiration.Unix()),
			KeyTag:              rs.KeyTag,
			SignersName:         rs.SignersName,
			SignatureData:       sigData,
		})
	}

	return wire.Bundle{
		ID:         rb.ID,
		Inception:  inception,
		Expiration: expiration,
		Keys:       keys,
		Signatures: sigs,
		Signer:     append([]string(nil), rb.Signer...),
	}, nil
}

func stripWhitespace(s string) string {
	return strings.Join(strings.Fields(s), "")
}

// Emit renders doc as indented, diff-friendly XML with stable attribute
// ordering and 64-column-wrapped base64.
func Emit(w io.Writer, doc *wire.Document) error {
	x := xmlKSR{ID: doc.ID, Serial: doc.Serial, Domain: doc.Domain}

	switch doc.Kind {
	case wire.Request:
		x.Request = &xmlRequest{
			Timestamp: formatTimestamp(doc.Timestamp),
			Policy:    xmlReqPol{ZSK: emitSigPolicy(doc.RequestPolicy.ZSK)},
			Bundles:   emitBundles(doc.Bundles),
		}
	case wire.Response:
		x.Response = &xmlResponse{
			Timestamp: formatTimestamp(doc.Timestamp),
			Policy: xmlRespPol{
				KSK: emitSigPolicy(doc.ResponsePolicy.KSK),
				ZSK: emitSigPolicy(doc.ResponsePolicy.ZSK),
			},
			Bundles: emitBundles(doc.Bundles),
		}
	default:
		return fmt.Errorf("xmlcodec: document has no Kind set")
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(x); err != nil {
		return fmt.Errorf("xmlcodec: encoding: %w", err)
	}
	buf.WriteByte('\n')
	_, err := w.Write(buf.Bytes())
	return err
}

func formatTimestamp(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func emitSigPolicy(p *wire.SignaturePolicy) xmlSigPolicy {
	if p == nil {
		return xmlSigPolicy{}
	}
	out := xmlSigPolicy{
		PublishSafety:        wire.FormatISO8601Duration(p.PublishSafety),
		RetireSafety:         wire.FormatISO8601Duration(p.RetireSafety),
		MaxSignatureValidity: wire.FormatISO8601Duration(p.MaxSignatureValidity),
		MinSignatureValidity: wire.FormatISO8601Duration(p.MinSignatureValidity),
		MaxValidityOverlap:   wire.FormatISO8601Duration(p.MaxValidityOverlap),
		MinValidityOverlap:   wire.FormatISO8601Duration(p.MinValidityOverlap),
	}
	for _, a := range p.AlgorithmPolicies {
		xa := xmlSigAlgo{Algorithm: a.Algorithm}
		if a.RSA != nil {
			xa.RSA = &xmlRSA{Size: a.RSA.Size, Exponent: a.RSA.Exponent}
		}
		if a.DSA != nil {
			xa.DSA = &xmlDSA{Size: a.DSA.Size}
		}
		if a.ECDSA != nil {
			xa.ECDSA = &xmlECDSA{Size: a.ECDSA.Size}
		}
		out.Algorithms = append(out.Algorithms, xa)
	}
	return out
}

func emitBundles(bundles []wire.Bundle) []xmlBundle {
	out := make([]xmlBundle, 0, len(bundles))
	for _, b := range bundles {
		xb := xmlBundle{
			ID:         b.ID,
			Inception:  b.Inception.UTC().Format(timeLayout),
			Expiration: b.Expiration.UTC().Format(timeLayout),
			Signer:     b.Signer,
		}
		for _, k := range wire.SortKeysCanonical(b.Keys) {
			xb.Keys = append(xb.Keys, xmlKey{
				KeyIdentifier: k.KeyIdentifier,
				KeyTag:        k.KeyTag,
				TTL:           k.TTL,
				Flags:         k.Flags,
				Protocol:      k.Protocol,
				Algorithm:     k.Algorithm,
				PublicKey:     wrapBase64(base64.StdEncoding.EncodeToString(k.PublicKey)),
			})
		}
		for _, s := range wire.SortSignaturesCanonical(b.Signatures) {
			xb.Signatures = append(xb.Signatures, xmlSignature{
				KeyIdentifier:       s.KeyIdentifier,
				TTL:                 s.TTL,
				TypeCovered:         "DNSKEY",
				Algorithm:           s.Algorithm,
				Labels:              s.Labels,
				OriginalTTL:         s.OriginalTTL,
				SignatureInception:  time.Unix(int64(s.SignatureInception), 0).UTC().Format(timeLayout),
				SignatureExpiration: time.Unix(int64(s.SignatureExpiration), 0).UTC().Format(timeLayout),
				KeyTag:              s.KeyTag,
				SignersName:         s.SignersName,
				SignatureData:       wrapBase64(base64.StdEncoding.EncodeToString(s.SignatureData)),
			})
		}
		out = append(out, xb)
	}
	return out
}

// wrapBase64 line-wraps s at 64 columns.
func wrapBase64(s string) string {
	if len(s) <= 64 {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i += 64 {
		end := i + 64
		if end > len(s) {
			end = len(s)
		}
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(s[i:end])
	}
	return b.String()
}
