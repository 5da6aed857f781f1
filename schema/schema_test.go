/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

package schema

import "testing"

func TestDefaultSchemasHaveNineSlots(t *testing.T) {
	for _, name := range []string{"normal", "pre-publish", "rollover", "revoke"} {
		s, ok := DefaultSchemas[name]
		if !ok {
			t.Fatalf("missing schema %q", name)
		}
		if s.NumSlots() != 9 {
			t.Errorf("schema %q has %d slots, want 9", name, s.NumSlots())
		}
		if _, ok := DefaultSchemas[name+"+"]; !ok {
			t.Errorf("missing %q extension variant", name+"+")
		}
	}
}

func TestSchemaSignSubsetOfPublishOrRevoke(t *testing.T) {
	roles := RoleMap{RoleCurrent: "ksk_current", RoleNext: "ksk_next"}
	for name, s := range DefaultSchemas {
		for slotIdx, slot := range s {
			resolved, err := slot.Resolve(roles)
			if err != nil {
				t.Fatalf("schema %q slot %d: resolve: %v", name, slotIdx, err)
			}
			if err := resolved.Validate(); err != nil {
				t.Errorf("schema %q slot %d: %v", name, slotIdx, err)
			}
		}
	}
}

func TestResolveReportsUnknownRole(t *testing.T) {
	slot := Slot{Publish: []string{"bogus-role"}}
	if _, err := slot.Resolve(RoleMap{}); err == nil {
		t.Fatalf("expected error for unresolvable role")
	}
}

func TestValidateRejectsSignNotPublished(t *testing.T) {
	r := Resolved{Sign: []string{"ksk_current"}}
	if err := r.Validate(); err == nil {
		t.Fatalf("expected validation error: sign without publish or revoke")
	}
}

func TestValidateAllowsRevokedKeyToSign(t *testing.T) {
	r := Resolved{Publish: []string{"ksk_current"}, Sign: []string{"ksk_current"}, Revoke: []string{"ksk_current"}}
	if err := r.Validate(); err != nil {
		t.Fatalf("revoked key signing its own transition should be valid: %v", err)
	}
}

func TestLoadYAMLOverridesByName(t *testing.T) {
	data := []byte(`
normal:
  - publish: ["current"]
    sign: ["current"]
custom:
  - publish: ["current"]
    sign: ["current"]
`)
	table, err := LoadYAML(data)
	if err != nil {
		t.Fatalf("LoadYAML: %v", err)
	}
	if table["normal"].NumSlots() != 1 {
		t.Errorf("expected operator override to replace compiled-in normal schema, got %d slots", table["normal"].NumSlots())
	}
	if _, ok := table["custom"]; !ok {
		t.Errorf("expected custom schema to be present")
	}
	if table["pre-publish"].NumSlots() != 9 {
		t.Errorf("expected untouched compiled-in schemas to remain")
	}
}

func TestLoadYAMLEmptyReturnsDefaults(t *testing.T) {
	table, err := LoadYAML(nil)
	if err != nil {
		t.Fatalf("LoadYAML(nil): %v", err)
	}
	if len(table) != len(DefaultSchemas) {
		t.Errorf("expected %d schemas, got %d", len(DefaultSchemas), len(table))
	}
}
