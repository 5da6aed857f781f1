/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

// Package ksrconfig is the ceremony's configuration surface: every
// recognized option as an explicit, validated field, with the
// operational defaults baked in so a minimal config file is enough to
// run a ceremony. Unknown keys are rejected loudly to catch operator
// typos.
package ksrconfig

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/miekg/dns"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/johanix/ksrsign/wire"
)

// Config is the full recognized configuration surface for one ceremony
// run. Defaults are applied in Defaults() rather than left to zero
// values, so the zero Config is never silently "valid".
type Config struct {
	NumBundles                   int      `mapstructure:"num_bundles" validate:"required,min=1"`
	NumKeysPerBundle             []int    `mapstructure:"num_keys_per_bundle" validate:"required"`
	NumDifferentKeysInAllBundles int      `mapstructure:"num_different_keys_in_all_bundles" validate:"required,min=1"`
	AcceptableDomains            []string `mapstructure:"acceptable_domains" validate:"required,min=1"`

	ValidateSignatures                bool `mapstructure:"validate_signatures"`
	KeysMatchZskPolicy                bool `mapstructure:"keys_match_zsk_policy"`
	EnableUnsupportedEcdsa            bool `mapstructure:"enable_unsupported_ecdsa"`
	CheckCycleLength                  bool `mapstructure:"check_cycle_length"`
	RsaExponentMatchZskPolicy         bool `mapstructure:"rsa_exponent_match_zsk_policy"`
	CheckBundleOverlap                bool `mapstructure:"check_bundle_overlap"`
	SignatureValidityMatchZskPolicy   bool `mapstructure:"signature_validity_match_zsk_policy"`
	SignatureAlgorithmsMatchZskPolicy bool `mapstructure:"signature_algorithms_match_zsk_policy"`
	CheckKeysMatchKskOperatorPolicy   bool `mapstructure:"check_keys_match_ksk_operator_policy"`
	SignatureCheckExpireHorizon       bool `mapstructure:"signature_check_expire_horizon"`
	CheckBundleIntervals              bool `mapstructure:"check_bundle_intervals"`
	CheckChainKeys                    bool `mapstructure:"check_chain_keys"`
	CheckChainOverlap                 bool `mapstructure:"check_chain_overlap"`

	MinCycleInceptionLength time.Duration `mapstructure:"-"`
	MaxCycleInceptionLength time.Duration `mapstructure:"-"`
	MinBundleInterval       time.Duration `mapstructure:"-"`
	MaxBundleInterval       time.Duration `mapstructure:"-"`

	MinCycleInceptionLengthISO string `mapstructure:"min_cycle_inception_length"`
	MaxCycleInceptionLengthISO string `mapstructure:"max_cycle_inception_length"`
	MinBundleIntervalISO       string `mapstructure:"min_bundle_interval"`
	MaxBundleIntervalISO       string `mapstructure:"max_bundle_interval"`

	DnsTtl               uint32 `mapstructure:"dns_ttl"`
	SignatureHorizonDays int    `mapstructure:"signature_horizon_days" validate:"min=0"`

	ApprovedAlgorithms   []uint8  `mapstructure:"approved_algorithms"`
	RsaApprovedExponents []uint64 `mapstructure:"rsa_approved_exponents"`
	RsaApprovedKeySizes  []int    `mapstructure:"rsa_approved_key_sizes"`

	// RoleMap resolves schema role names ("current", "next") to the
	// operator's configured KSK identifiers (see package schema).
	RoleMap map[string]string `mapstructure:"role_map"`

	// SchemaName selects which named schema (see package schema)
	// governs this ceremony's response bundles.
	SchemaName string `mapstructure:"schema" validate:"required"`

	Log struct {
		File string
	} `mapstructure:"log"`
}

// Defaults returns the operational-default Config, before any operator
// overrides are applied.
func Defaults() Config {
	c := Config{
		NumBundles:                       9,
		NumKeysPerBundle:                  []int{2, 1, 1, 1, 1, 1, 1, 1, 2},
		NumDifferentKeysInAllBundles:      3,
		AcceptableDomains:                 []string{"."},
		ValidateSignatures:                true,
		KeysMatchZskPolicy:                true,
		EnableUnsupportedEcdsa:            false,
		CheckCycleLength:                  true,
		RsaExponentMatchZskPolicy:         true,
		CheckBundleOverlap:                true,
		SignatureValidityMatchZskPolicy:   true,
		SignatureAlgorithmsMatchZskPolicy: true,
		CheckKeysMatchKskOperatorPolicy:   true,
		SignatureCheckExpireHorizon:       true, // the operational profile; test profiles may disable explicitly
		CheckBundleIntervals:              true,
		CheckChainKeys:                    true,
		CheckChainOverlap:                 true,
		MinCycleInceptionLength:           79 * 24 * time.Hour,
		MaxCycleInceptionLength:           81 * 24 * time.Hour,
		MinBundleInterval:                 9 * 24 * time.Hour,
		MaxBundleInterval:                 11 * 24 * time.Hour,
		DnsTtl:                            0, // 0 means "use ksk_policy.ttl"
		SignatureHorizonDays:              180,
		ApprovedAlgorithms:                []uint8{dns.RSASHA256},
		RsaApprovedExponents:              []uint64{65537},
		RsaApprovedKeySizes:               []int{2048},
		SchemaName:                        "normal",
	}
	return c
}

// Load reads a YAML config file via viper, rejecting unknown top-level
// keys, decodes it over Defaults(), resolves the ISO 8601 duration
// fields, and validates the result.
func Load(path string) (*Config, error) {
	c := Defaults()

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("ksrconfig: reading %q: %w", path, err)
	}

	known := knownKeys(c)
	for _, k := range v.AllKeys() {
		// viper flattens the role_map mapping into role_map.<role> keys
		if !known[k] && !strings.HasPrefix(k, "role_map.") {
			return nil, fmt.Errorf("ksrconfig: unknown configuration key %q", k)
		}
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		Result:           &c,
		WeaklyTypedInput: true,
		ZeroFields:       true, // a list override replaces the default list instead of merging into it
	})
	if err != nil {
		return nil, fmt.Errorf("ksrconfig: building decoder: %w", err)
	}
	if err := dec.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("ksrconfig: decoding: %w", err)
	}

	if err := c.resolveDurations(); err != nil {
		return nil, err
	}

	// DnsTtl 0 means "use ksk_policy.ttl"; the orchestrator resolves it.

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) resolveDurations() error {
	parse := func(s string, fallback time.Duration) (time.Duration, error) {
		if s == "" {
			return fallback, nil
		}
		return wire.ParseISO8601Duration(s)
	}
	var err error
	if c.MinCycleInceptionLength, err = parse(c.MinCycleInceptionLengthISO, c.MinCycleInceptionLength); err != nil {
		return fmt.Errorf("ksrconfig: min_cycle_inception_length: %w", err)
	}
	if c.MaxCycleInceptionLength, err = parse(c.MaxCycleInceptionLengthISO, c.MaxCycleInceptionLength); err != nil {
		return fmt.Errorf("ksrconfig: max_cycle_inception_length: %w", err)
	}
	if c.MinBundleInterval, err = parse(c.MinBundleIntervalISO, c.MinBundleInterval); err != nil {
		return fmt.Errorf("ksrconfig: min_bundle_interval: %w", err)
	}
	if c.MaxBundleInterval, err = parse(c.MaxBundleIntervalISO, c.MaxBundleInterval); err != nil {
		return fmt.Errorf("ksrconfig: max_bundle_interval: %w", err)
	}
	return nil
}

// Validate runs struct-tag validation (go-playground/validator) plus the
// cross-field checks validator tags can't express.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("ksrconfig: %w", err)
	}
	if len(c.NumKeysPerBundle) != c.NumBundles {
		return fmt.Errorf("ksrconfig: num_keys_per_bundle has %d entries, num_bundles is %d",
			len(c.NumKeysPerBundle), c.NumBundles)
	}
	if c.MinCycleInceptionLength > c.MaxCycleInceptionLength {
		return fmt.Errorf("ksrconfig: min_cycle_inception_length exceeds max_cycle_inception_length")
	}
	if c.MinBundleInterval > c.MaxBundleInterval {
		return fmt.Errorf("ksrconfig: min_bundle_interval exceeds max_bundle_interval")
	}
	return nil
}

// knownKeys enumerates every mapstructure tag Config declares, including
// nested ones, so Load can reject operator typos instead of silently
// ignoring them.
func knownKeys(c Config) map[string]bool {
	keys := map[string]bool{
		"num_bundles": true, "num_keys_per_bundle": true, "num_different_keys_in_all_bundles": true,
		"acceptable_domains": true, "validate_signatures": true, "keys_match_zsk_policy": true,
		"enable_unsupported_ecdsa": true, "check_cycle_length": true,
		"min_cycle_inception_length": true, "max_cycle_inception_length": true,
		"min_bundle_interval": true, "max_bundle_interval": true,
		"rsa_exponent_match_zsk_policy": true, "check_bundle_overlap": true,
		"signature_validity_match_zsk_policy": true, "signature_algorithms_match_zsk_policy": true,
		"check_keys_match_ksk_operator_policy": true, "dns_ttl": true,
		"signature_check_expire_horizon": true, "signature_horizon_days": true,
		"check_bundle_intervals": true, "check_chain_keys": true, "check_chain_overlap": true,
		"approved_algorithms": true, "rsa_approved_exponents": true, "rsa_approved_key_sizes": true,
		"role_map": true, "schema": true, "log": true, "log.file": true,
	}
	return keys
}
