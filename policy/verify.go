/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

package policy

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"math/big"
	"time"

	"github.com/miekg/dns"

	"github.com/johanix/ksrsign/wire"
)

func secondsDuration(seconds uint32) time.Duration {
	return time.Duration(seconds) * time.Second
}

func unixToTime(t uint32) time.Time {
	return time.Unix(int64(t), 0).UTC()
}

// VerifySignature cryptographically verifies sig against the public key it
// claims to use, over the canonical DNSKEY RRset formed by keys at the
// signature's signer name.
// bundleID is carried only for error messages.
func VerifySignature(sig wire.Signature, bundleID string, keys []wire.Key) error {
	key, ok := findKeyByTagAlgo(keys, sig.KeyTag, sig.Algorithm)
	if !ok {
		return fmt.Errorf("no key with tag %d algorithm %d in bundle %s", sig.KeyTag, sig.Algorithm, bundleID)
	}

	signed := wire.RRSIGSignedData(sig, sig.SignersName, keys)

	switch sig.Algorithm {
	case dns.RSASHA1, dns.RSASHA256, dns.RSASHA512:
		return verifyRSA(key.PublicKey, sig.Algorithm, signed, sig.SignatureData)
	case dns.ECDSAP256SHA256:
		return verifyECDSA(key.PublicKey, elliptic.P256(), signed, sig.SignatureData, 32)
	case dns.ECDSAP384SHA384:
		return verifyECDSA(key.PublicKey, elliptic.P384(), signed, sig.SignatureData, 48)
	default:
		return fmt.Errorf("unsupported signature algorithm %d", sig.Algorithm)
	}
}

func findKeyByTagAlgo(keys []wire.Key, tag uint16, algorithm uint8) (wire.Key, bool) {
	for _, k := range keys {
		if wire.KeyTag(k) == tag && k.Algorithm == algorithm {
			return k, true
		}
	}
	return wire.Key{}, false
}

func verifyRSA(pub []byte, algorithm uint8, signed, signature []byte) error {
	size, exponent, err := rsaSizeExponent(pub)
	if err != nil {
		return fmt.Errorf("malformed RSA public key: %w", err)
	}
	expLen := int(pub[0])
	modulusStart := 1
	if expLen == 0 {
		expLen = int(pub[1])<<8 | int(pub[2])
		modulusStart = 3
	}
	modulus := pub[modulusStart+expLen:]

	key := &rsa.PublicKey{N: new(big.Int).SetBytes(modulus), E: int(exponent)}
	if key.N.BitLen() != size {
		return fmt.Errorf("RSA modulus length mismatch: got %d want %d", key.N.BitLen(), size)
	}

	var hash crypto.Hash
	var sum []byte
	switch algorithm {
	case dns.RSASHA1:
		hash = crypto.SHA1
		s := sha1.Sum(signed)
		sum = s[:]
	case dns.RSASHA256:
		hash = crypto.SHA256
		s := sha256.Sum256(signed)
		sum = s[:]
	case dns.RSASHA512:
		hash = crypto.SHA512
		s := sha512.Sum512(signed)
		sum = s[:]
	}
	if err := rsa.VerifyPKCS1v15(key, hash, sum, signature); err != nil {
		return fmt.Errorf("RSA signature verification failed: %w", err)
	}
	return nil
}

func verifyECDSA(pub []byte, curve elliptic.Curve, signed, signature []byte, coordSize int) error {
	if len(pub) != 2*coordSize {
		return fmt.Errorf("ECDSA public key length mismatch: got %d want %d", len(pub), 2*coordSize)
	}
	if len(signature) != 2*coordSize {
		return fmt.Errorf("ECDSA signature length mismatch: got %d want %d", len(signature), 2*coordSize)
	}
	key := &ecdsa.PublicKey{
		Curve: curve,
		X:     new(big.Int).SetBytes(pub[:coordSize]),
		Y:     new(big.Int).SetBytes(pub[coordSize:]),
	}

	r := new(big.Int).SetBytes(signature[:coordSize])
	s := new(big.Int).SetBytes(signature[coordSize:])

	var digest []byte
	if coordSize == 32 {
		sum := sha256.Sum256(signed)
		digest = sum[:]
	} else {
		sum := sha512.Sum384(signed)
		digest = sum[:]
	}
	if !ecdsa.Verify(key, digest, r, s) {
		return fmt.Errorf("ECDSA signature verification failed")
	}
	return nil
}
