/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

// Package inventory maps configured KSK identifiers to HSM key handles and
// reconciles the configured expectations (key tag, DS digest) against what
// the HSM actually reports.
package inventory

import (
	"fmt"
	"strings"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/johanix/ksrsign/ksrerrors"
	"github.com/johanix/ksrsign/signer"
	"github.com/johanix/ksrsign/wire"
)

// KeyState is a KSK inventory entry's lifecycle position: not yet valid,
// usable for publication right now, or retired and usable only for an
// explicit schema-driven revocation.
type KeyState string

const (
	StatePending KeyState = "pending"
	StateActive  KeyState = "active"
	StateRetired KeyState = "retired"
)

// Entry is one configured KSK inventory entry.
type Entry struct {
	Identifier  string
	Description string
	Label       string
	KeyTag      uint16 // 0 means not configured; skip the cross-check
	Algorithm   uint8
	RSASize     int
	RSAExponent uint64
	ValidFrom   time.Time
	ValidUntil  *time.Time // nil means open-ended
	DSSHA256    string
}

// StateAt reports the Entry's KeyState at instant now.
func (e Entry) StateAt(now time.Time) KeyState {
	if now.Before(e.ValidFrom) {
		return StatePending
	}
	if e.ValidUntil != nil && !now.Before(*e.ValidUntil) {
		return StateRetired
	}
	return StateActive
}

// Reconciled is one inventory Entry together with the handles and public
// key material the HSM reported for it.
type Reconciled struct {
	Entry
	PublicHandle  signer.Handle
	PrivateHandle signer.Handle
	PublicKey     wire.Key // ZONE|SEP flags, protocol 3, recomputed key tag; Key.PublicKey is the raw octets
}

// Inventory is the reconciled set of KSKs available to the ceremony,
// looked up by Identifier.
type Inventory struct {
	byIdentifier cmap.ConcurrentMap[string, Reconciled]
}

// Get returns the reconciled entry for identifier.
func (inv *Inventory) Get(identifier string) (Reconciled, bool) {
	return inv.byIdentifier.Get(identifier)
}

// Identifiers returns every identifier the inventory holds, in no
// particular order.
func (inv *Inventory) Identifiers() []string {
	return inv.byIdentifier.Keys()
}

// Reconcile locates, for every configured entry whose validity window
// contains now (or which is explicitly needed for revocation: callers
// pass the full configured set regardless of state, and StateAt decides
// usability later), the matching HSM handles by label, derives the
// DNSKEY wire form, and requires the HSM-recomputed key tag and DS
// digest to equal the configured values. Any mismatch is a fatal
// InventoryMismatch; nothing in the ceremony proceeds past it.
func Reconcile(now time.Time, entries []Entry, owner string, s signer.Signer) (*Inventory, error) {
	inv := &Inventory{byIdentifier: cmap.New[Reconciled]()}

	for _, e := range entries {
		if e.StateAt(now) == StatePending {
			continue
		}

		handles, err := s.List(e.Label)
		if err != nil {
			return nil, ksrerrors.Wrap(ksrerrors.InventoryMismatch, err,
				fmt.Sprintf("listing handles for %q (label %q)", e.Identifier, e.Label))
		}
		var pubHandle, privHandle signer.Handle
		var havePub, havePriv bool
		for _, h := range handles {
			switch h.Kind {
			case signer.PublicHandle:
				pubHandle, havePub = h, true
			case signer.PrivateHandle:
				privHandle, havePriv = h, true
			}
		}
		if !havePub {
			return nil, ksrerrors.New(ksrerrors.InventoryMismatch,
				fmt.Sprintf("no public key handle in HSM for %q (label %q)", e.Identifier, e.Label))
		}

		pubMat, err := s.PublicKey(pubHandle)
		if err != nil {
			return nil, ksrerrors.Wrap(ksrerrors.InventoryMismatch, err,
				fmt.Sprintf("fetching public key for %q", e.Identifier))
		}
		if pubMat.Algorithm != e.Algorithm {
			return nil, ksrerrors.New(ksrerrors.InventoryMismatch,
				fmt.Sprintf("%q: configured algorithm %d, HSM reports %d", e.Identifier, e.Algorithm, pubMat.Algorithm))
		}

		key := wire.Key{
			KeyIdentifier: e.Identifier,
			Flags:         wire.FlagZONE | wire.FlagSEP,
			Protocol:      3,
			Algorithm:     e.Algorithm,
			PublicKey:     pubMat.Raw,
		}

		gotTag := wire.KeyTag(key)
		if e.KeyTag != 0 && gotTag != e.KeyTag {
			return nil, ksrerrors.New(ksrerrors.InventoryMismatch,
				fmt.Sprintf("%q: configured key_tag %d, recomputed %d", e.Identifier, e.KeyTag, gotTag))
		}
		key.KeyTag = gotTag

		if e.DSSHA256 != "" {
			gotDS := wire.DSDigestSHA256(owner, key)
			if !strings.EqualFold(gotDS, e.DSSHA256) {
				return nil, ksrerrors.New(ksrerrors.InventoryMismatch,
					fmt.Sprintf("%q: configured ds_sha256 %q, recomputed %q", e.Identifier, e.DSSHA256, gotDS))
			}
		}

		r := Reconciled{Entry: e, PublicHandle: pubHandle, PublicKey: key}
		if havePriv {
			r.PrivateHandle = privHandle
		}
		inv.byIdentifier.Set(e.Identifier, r)
	}

	return inv, nil
}
