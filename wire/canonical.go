/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

package wire

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"sort"
	"strings"

	"github.com/miekg/dns"
	"github.com/twotwotwo/sorts"
)

// DnskeyWireBytes returns the canonical DNSKEY RDATA for k:
// flags(2) || protocol(1) || algorithm(1) || public_key, network byte order.
func DnskeyWireBytes(k Key) []byte {
	buf := make([]byte, 4+len(k.PublicKey))
	binary.BigEndian.PutUint16(buf[0:2], k.Flags)
	buf[2] = k.Protocol
	buf[3] = k.Algorithm
	copy(buf[4:], k.PublicKey)
	return buf
}

// toDNSKEY converts a Key to a *dns.DNSKEY so we can reuse miekg/dns's own
// RFC 4034 Appendix B key-tag arithmetic and SHA-256 DS digest rather than
// re-deriving them.
func toDNSKEY(owner string, k Key) *dns.DNSKEY {
	return &dns.DNSKEY{
		Hdr: dns.RR_Header{
			Name:   dns.Fqdn(owner),
			Rrtype: dns.TypeDNSKEY,
			Class:  dns.ClassINET,
			Ttl:    k.TTL,
		},
		Flags:     k.Flags,
		Protocol:  k.Protocol,
		Algorithm: k.Algorithm,
		PublicKey: base64.StdEncoding.EncodeToString(k.PublicKey),
	}
}

// KeyTag computes the RFC 4034 Appendix B key tag of k.
func KeyTag(k Key) uint16 {
	return toDNSKEY(".", k).KeyTag()
}

// DSDigestSHA256 returns the lowercase hex SHA-256 DS digest of k as it
// would be published for owner name owner (typically the root, ".").
func DSDigestSHA256(owner string, k Key) string {
	ds := toDNSKEY(owner, k).ToDS(dns.SHA256)
	if ds == nil {
		return ""
	}
	return strings.ToLower(ds.Digest)
}

// byCanonicalRDATA sorts Keys by their canonical DNSKEY RDATA byte order,
// the ordering DNSSEC RRset canonicalization (RFC 4034 §6.3) requires.
type byCanonicalRDATA []Key

func (s byCanonicalRDATA) Len() int      { return len(s) }
func (s byCanonicalRDATA) Swap(i, j int) { s[i], s[j] = s[j], s[i] }
func (s byCanonicalRDATA) Less(i, j int) bool {
	return bytes.Compare(DnskeyWireBytes(s[i]), DnskeyWireBytes(s[j])) < 0
}

// SortKeysCanonical returns a copy of keys sorted into canonical RRset
// order, used both when emitting a bundle and when feeding the RRset
// into the RRSIG-signed-data canonicalizer.
func SortKeysCanonical(keys []Key) []Key {
	out := make([]Key, len(keys))
	copy(out, keys)
	sorts.Quicksort(byCanonicalRDATA(out))
	return out
}

// bySignatureOrder sorts Signatures by (key_tag, algorithm), the ordering
// guarantee a bundle must hold within an emitted SKR.
type bySignatureOrder []Signature

func (s bySignatureOrder) Len() int      { return len(s) }
func (s bySignatureOrder) Swap(i, j int) { s[i], s[j] = s[j], s[i] }
func (s bySignatureOrder) Less(i, j int) bool {
	if s[i].KeyTag != s[j].KeyTag {
		return s[i].KeyTag < s[j].KeyTag
	}
	return s[i].Algorithm < s[j].Algorithm
}

// SortSignaturesCanonical returns a copy of sigs sorted by (key_tag, algorithm).
func SortSignaturesCanonical(sigs []Signature) []Signature {
	out := make([]Signature, len(sigs))
	copy(out, sigs)
	sort.Stable(bySignatureOrder(out))
	return out
}

// canonicalOwnerName returns the wire-format canonical encoding of name:
// lowercased, length-prefixed labels, root-terminated.
func canonicalOwnerName(name string) []byte {
	name = strings.ToLower(strings.TrimSuffix(dns.Fqdn(name), "."))
	var buf bytes.Buffer
	if name != "" {
		for _, label := range strings.Split(name, ".") {
			buf.WriteByte(byte(len(label)))
			buf.WriteString(label)
		}
	}
	buf.WriteByte(0)
	return buf.Bytes()
}

// RRsetCanonicalBytes assembles the canonical RRset bytes a DNSKEY RRSIG
// signs over: owner name, type, class, original TTL, and each RR's
// RDLENGTH-prefixed RDATA, the RRset itself sorted into canonical RDATA
// order first (RFC 4034 §6.3, RFC 4035 §5.3).
func RRsetCanonicalBytes(owner string, originalTTL uint32, keys []Key) []byte {
	sorted := SortKeysCanonical(keys)
	var buf bytes.Buffer
	ownerBytes := canonicalOwnerName(owner)
	for _, k := range sorted {
		rdata := DnskeyWireBytes(k)
		buf.Write(ownerBytes)
		binary.Write(&buf, binary.BigEndian, dns.TypeDNSKEY)
		binary.Write(&buf, binary.BigEndian, uint16(dns.ClassINET))
		binary.Write(&buf, binary.BigEndian, originalTTL)
		binary.Write(&buf, binary.BigEndian, uint16(len(rdata)))
		buf.Write(rdata)
	}
	return buf.Bytes()
}

// RRSIGSignedData assembles the exact byte string an RRSIG(DNSKEY) is
// computed over: the RRSIG RDATA fields up to and including the signer
// name, followed by the canonical DNSKEY RRset being covered.
func RRSIGSignedData(sig Signature, owner string, keys []Key) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, sig.TypeCovered)
	buf.WriteByte(sig.Algorithm)
	buf.WriteByte(sig.Labels)
	binary.Write(&buf, binary.BigEndian, sig.OriginalTTL)
	binary.Write(&buf, binary.BigEndian, sig.SignatureExpiration)
	binary.Write(&buf, binary.BigEndian, sig.SignatureInception)
	binary.Write(&buf, binary.BigEndian, sig.KeyTag)
	buf.Write(canonicalOwnerName(sig.SignersName))
	buf.Write(RRsetCanonicalBytes(owner, sig.OriginalTTL, keys))
	return buf.Bytes()
}

// Labels returns the label count dns.CountLabel(owner) gives for name, the
// value a correctly formed RRSIG.Labels field must carry.
func Labels(owner string) uint8 {
	return uint8(dns.CountLabel(dns.Fqdn(owner)))
}
