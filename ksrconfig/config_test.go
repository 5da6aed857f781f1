/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

package ksrconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ksrsigner.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesOverridesOverDefaults(t *testing.T) {
	path := writeConfig(t, `
num_bundles: 2
num_keys_per_bundle: [1, 1]
num_different_keys_in_all_bundles: 2
schema: pre-publish
min_bundle_interval: P5D
signature_horizon_days: 90
`)
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.NumBundles != 2 || c.SchemaName != "pre-publish" || c.SignatureHorizonDays != 90 {
		t.Fatalf("overrides not applied: %+v", c)
	}
	if c.MinBundleInterval != 5*24*time.Hour {
		t.Errorf("min_bundle_interval = %v, want 120h", c.MinBundleInterval)
	}
	if c.MaxBundleInterval != 11*24*time.Hour {
		t.Errorf("untouched default drifted: max_bundle_interval = %v", c.MaxBundleInterval)
	}
	if !c.SignatureCheckExpireHorizon {
		t.Errorf("signature_check_expire_horizon must default on")
	}
}

func TestLoadRejectsUnknownKey(t *testing.T) {
	path := writeConfig(t, `
num_bundels: 9
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected an unknown-key error for the typo")
	}
}

func TestLoadRejectsBundleShapeMismatch(t *testing.T) {
	path := writeConfig(t, `
num_bundles: 3
num_keys_per_bundle: [1, 1]
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected a num_keys_per_bundle length error")
	}
}
