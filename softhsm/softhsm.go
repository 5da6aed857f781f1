/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

// Package softhsm is a file-backed signer.Signer used by tests and by
// offline ceremonies that have no PKCS#11 device available. Key material
// lives in a sqlite database keyed by label, the same lookup shape a
// real HSM exposes.
package softhsm

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"database/sql"
	"fmt"
	"math/big"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/miekg/dns"

	"github.com/johanix/ksrsign/signer"
)

const schema = `
CREATE TABLE IF NOT EXISTS keys (
	label       TEXT NOT NULL,
	kind        TEXT NOT NULL, -- "public" or "private"
	algorithm   INTEGER NOT NULL,
	rsa_size    INTEGER NOT NULL DEFAULT 0,
	rsa_exponent INTEGER NOT NULL DEFAULT 0,
	ecdsa_size  INTEGER NOT NULL DEFAULT 0,
	public_key  BLOB NOT NULL,
	private_key BLOB,
	PRIMARY KEY (label, kind)
);
`

// SoftHSM is a sqlite-backed signer.Signer. It satisfies the same
// capability interface a PKCS#11 binding would; nothing in ceremony or
// policy knows the difference.
type SoftHSM struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens (creating if necessary) the sqlite-backed key store at path.
// path may be ":memory:" for ephemeral test fixtures.
func Open(path string) (*SoftHSM, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, signer.ErrUnavailable(fmt.Sprintf("softhsm: open %q: %v", path, err))
	}
	if path == ":memory:" {
		// each pooled connection to ":memory:" is a distinct, empty
		// database; pin the pool to one connection so GenerateKey's
		// writes stay visible to later List/PublicKey/Sign calls.
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, signer.ErrUnavailable(fmt.Sprintf("softhsm: create schema: %v", err))
	}
	return &SoftHSM{db: db}, nil
}

func (h *SoftHSM) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.db == nil {
		return nil
	}
	err := h.db.Close()
	h.db = nil
	return err
}

// GenerateKey creates a new key pair under label for the given DNSSEC
// algorithm and stores both halves. rsaBits/rsaExponent are ignored for
// ECDSA algorithms.
func (h *SoftHSM) GenerateKey(label string, algorithm uint8, rsaBits int, rsaExponent uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var pub, priv []byte
	var rsaSize int
	var ecdsaSize int

	switch algorithm {
	case dns.RSASHA256, dns.RSASHA1, dns.RSASHA512:
		if rsaBits == 0 {
			rsaBits = 2048
		}
		if rsaExponent == 0 {
			rsaExponent = 65537
		}
		key, err := rsa.GenerateKey(rand.Reader, rsaBits)
		if err != nil {
			return fmt.Errorf("softhsm: generate RSA key: %w", err)
		}
		if key.E != int(rsaExponent) {
			return fmt.Errorf("softhsm: generator produced exponent %d, wanted %d", key.E, rsaExponent)
		}
		pub = rsaDNSKEYBytes(&key.PublicKey)
		priv = x509.MarshalPKCS1PrivateKey(key)
		rsaSize = rsaBits

	case dns.ECDSAP256SHA256:
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return fmt.Errorf("softhsm: generate ECDSA key: %w", err)
		}
		pub = ecdsaDNSKEYBytes(&key.PublicKey)
		priv, err = x509.MarshalECPrivateKey(key)
		if err != nil {
			return fmt.Errorf("softhsm: marshal ECDSA private key: %w", err)
		}
		ecdsaSize = 256

	default:
		return fmt.Errorf("softhsm: unsupported algorithm %d", algorithm)
	}

	_, err := h.db.Exec(
		`INSERT OR REPLACE INTO keys (label, kind, algorithm, rsa_size, rsa_exponent, ecdsa_size, public_key, private_key)
		 VALUES (?, 'public', ?, ?, ?, ?, ?, NULL)`,
		label, algorithm, rsaSize, rsaExponent, ecdsaSize, pub)
	if err != nil {
		return fmt.Errorf("softhsm: store public key: %w", err)
	}
	_, err = h.db.Exec(
		`INSERT OR REPLACE INTO keys (label, kind, algorithm, rsa_size, rsa_exponent, ecdsa_size, public_key, private_key)
		 VALUES (?, 'private', ?, ?, ?, ?, ?, ?)`,
		label, algorithm, rsaSize, rsaExponent, ecdsaSize, pub, priv)
	if err != nil {
		return fmt.Errorf("softhsm: store private key: %w", err)
	}
	return nil
}

func (h *SoftHSM) List(label string) ([]signer.Handle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rows, err := h.db.Query(`SELECT kind FROM keys WHERE label = ?`, label)
	if err != nil {
		return nil, signer.ErrUnavailable(fmt.Sprintf("softhsm: list %q: %v", label, err))
	}
	defer rows.Close()

	var handles []signer.Handle
	for rows.Next() {
		var kind string
		if err := rows.Scan(&kind); err != nil {
			return nil, signer.ErrUnavailable(fmt.Sprintf("softhsm: scan %q: %v", label, err))
		}
		hk := signer.PublicHandle
		if kind == "private" {
			hk = signer.PrivateHandle
		}
		handles = append(handles, signer.Handle{Label: label, Kind: hk})
	}
	return handles, nil
}

func (h *SoftHSM) PublicKey(handle signer.Handle) (signer.PublicKeyMaterial, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var algorithm uint8
	var rsaSize, ecdsaSize int
	var rsaExponent uint64
	var pub, priv []byte
	err := h.db.QueryRow(
		`SELECT algorithm, rsa_size, rsa_exponent, ecdsa_size, public_key, private_key FROM keys WHERE label = ? LIMIT 1`,
		handle.Label).Scan(&algorithm, &rsaSize, &rsaExponent, &ecdsaSize, &pub, &priv)
	if err == sql.ErrNoRows {
		return signer.PublicKeyMaterial{}, signer.ErrKeyNotFound(handle.Label)
	}
	if err != nil {
		return signer.PublicKeyMaterial{}, signer.ErrUnavailable(fmt.Sprintf("softhsm: public key %q: %v", handle.Label, err))
	}
	return signer.PublicKeyMaterial{
		Algorithm:   algorithm,
		RSASize:     rsaSize,
		RSAExponent: rsaExponent,
		ECDSASize:   ecdsaSize,
		Raw:         pub,
	}, nil
}

func (h *SoftHSM) Sign(handle signer.Handle, algorithm uint8, message []byte) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var storedAlg uint8
	var priv []byte
	err := h.db.QueryRow(
		`SELECT algorithm, private_key FROM keys WHERE label = ? AND kind = 'private'`,
		handle.Label).Scan(&storedAlg, &priv)
	if err == sql.ErrNoRows {
		return nil, signer.ErrKeyNotFound(handle.Label)
	}
	if err != nil {
		return nil, signer.ErrUnavailable(fmt.Sprintf("softhsm: sign %q: %v", handle.Label, err))
	}
	if storedAlg != algorithm {
		return nil, signer.ErrAlgorithmMismatch(handle.Label, algorithm, storedAlg)
	}
	if priv == nil {
		return nil, signer.ErrKeyNotFound(handle.Label)
	}

	digest := sha256.Sum256(message)

	switch algorithm {
	case dns.RSASHA256:
		key, err := x509.ParsePKCS1PrivateKey(priv)
		if err != nil {
			return nil, fmt.Errorf("softhsm: parse RSA private key: %w", err)
		}
		sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
		if err != nil {
			return nil, fmt.Errorf("softhsm: RSA sign: %w", err)
		}
		return sig, nil

	case dns.ECDSAP256SHA256:
		key, err := x509.ParseECPrivateKey(priv)
		if err != nil {
			return nil, fmt.Errorf("softhsm: parse ECDSA private key: %w", err)
		}
		r, s, err := ecdsa.Sign(rand.Reader, key, digest[:])
		if err != nil {
			return nil, fmt.Errorf("softhsm: ECDSA sign: %w", err)
		}
		return rsSignature(r, s, 32), nil

	default:
		return nil, fmt.Errorf("softhsm: unsupported algorithm %d", algorithm)
	}
}

// rsaDNSKEYBytes encodes an RSA public key in DNSKEY public-key wire
// format: exponent-length-prefixed exponent followed by the modulus
// (RFC 3110).
func rsaDNSKEYBytes(pub *rsa.PublicKey) []byte {
	e := big.NewInt(int64(pub.E)).Bytes()
	n := pub.N.Bytes()
	var out []byte
	if len(e) <= 255 {
		out = append(out, byte(len(e)))
	} else {
		out = append(out, 0)
		out = append(out, byte(len(e)>>8), byte(len(e)))
	}
	out = append(out, e...)
	out = append(out, n...)
	return out
}

// ecdsaDNSKEYBytes encodes an ECDSA P-256 public key as the uncompressed
// point's X||Y, 32 bytes each (RFC 6605 §4).
func ecdsaDNSKEYBytes(pub *ecdsa.PublicKey) []byte {
	out := make([]byte, 64)
	pub.X.FillBytes(out[0:32])
	pub.Y.FillBytes(out[32:64])
	return out
}

// rsSignature concatenates r||s, each left-padded to size bytes, the raw
// ECDSA signature encoding DNSSEC algorithm 13/14 require.
func rsSignature(r, s *big.Int, size int) []byte {
	out := make([]byte, 2*size)
	r.FillBytes(out[0:size])
	s.FillBytes(out[size : 2*size])
	return out
}
