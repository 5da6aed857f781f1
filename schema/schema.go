/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

// Package schema turns a named signing schema into, per bundle slot, the
// set of KSK roles to publish, to publish revoked, and to sign with.
// Schemas are static tables addressed by role name
// ("current"/"next"); a RoleMap supplied by configuration resolves a role
// to the operator's actual KSK identifier, so the four required schemas
// ship compiled-in and usable with no config file at all.
package schema

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

const (
	RoleCurrent = "current"
	RoleNext    = "next"
)

// Slot is one bundle slot's publish/sign/revoke sets, expressed in role
// names before RoleMap resolution.
type Slot struct {
	Publish []string `yaml:"publish" mapstructure:"publish"`
	Sign    []string `yaml:"sign" mapstructure:"sign"`
	Revoke  []string `yaml:"revoke,omitempty" mapstructure:"revoke"`
}

// Schema is a named signing schema: slot index (1-based) -> Slot.
type Schema map[int]Slot

// Table is the full set of named schemas known to the ceremony, compiled
// defaults overlaid with anything an operator supplies via YAML.
type Table map[string]Schema

// NumSlots returns the number of slots s defines.
func (s Schema) NumSlots() int { return len(s) }

func oneCurrent() Slot { return Slot{Publish: []string{RoleCurrent}, Sign: []string{RoleCurrent}} }

func nineSlotSchema(slots ...Slot) Schema {
	s := make(Schema, len(slots))
	for i, slot := range slots {
		s[i+1] = slot
	}
	return s
}

// DefaultSchemas are the compiled-in named schemas: normal, pre-publish,
// rollover, revoke, and their "+" extension variants. The "+" variants
// share the base schema's slot table; they exist so the orchestrator can
// record that a ceremony extended the current phase rather than advanced
// it, without needing a structurally different table.
var DefaultSchemas = Table{
	"normal": nineSlotSchema(
		oneCurrent(), oneCurrent(), oneCurrent(), oneCurrent(), oneCurrent(),
		oneCurrent(), oneCurrent(), oneCurrent(), oneCurrent(),
	),
	"pre-publish": nineSlotSchema(
		Slot{Publish: []string{RoleCurrent}, Sign: []string{RoleCurrent}},
		Slot{Publish: []string{RoleCurrent, RoleNext}, Sign: []string{RoleCurrent}},
		Slot{Publish: []string{RoleCurrent, RoleNext}, Sign: []string{RoleCurrent}},
		Slot{Publish: []string{RoleCurrent, RoleNext}, Sign: []string{RoleCurrent}},
		Slot{Publish: []string{RoleCurrent, RoleNext}, Sign: []string{RoleCurrent}},
		Slot{Publish: []string{RoleCurrent, RoleNext}, Sign: []string{RoleCurrent}},
		Slot{Publish: []string{RoleCurrent, RoleNext}, Sign: []string{RoleCurrent}},
		Slot{Publish: []string{RoleCurrent, RoleNext}, Sign: []string{RoleCurrent}},
		Slot{Publish: []string{RoleCurrent, RoleNext}, Sign: []string{RoleCurrent}},
	),
	"rollover": nineSlotSchema(
		Slot{Publish: []string{RoleCurrent, RoleNext}, Sign: []string{RoleCurrent}},
		Slot{Publish: []string{RoleCurrent, RoleNext}, Sign: []string{RoleNext}},
		Slot{Publish: []string{RoleCurrent, RoleNext}, Sign: []string{RoleNext}},
		Slot{Publish: []string{RoleCurrent, RoleNext}, Sign: []string{RoleNext}},
		Slot{Publish: []string{RoleCurrent, RoleNext}, Sign: []string{RoleNext}},
		Slot{Publish: []string{RoleCurrent, RoleNext}, Sign: []string{RoleNext}},
		Slot{Publish: []string{RoleCurrent, RoleNext}, Sign: []string{RoleNext}},
		Slot{Publish: []string{RoleCurrent, RoleNext}, Sign: []string{RoleNext}},
		Slot{Publish: []string{RoleCurrent, RoleNext}, Sign: []string{RoleNext}},
	),
	"revoke": nineSlotSchema(
		Slot{Publish: []string{RoleCurrent, RoleNext}, Sign: []string{RoleCurrent}},
		Slot{Publish: []string{RoleCurrent, RoleNext}, Sign: []string{RoleCurrent, RoleNext}, Revoke: []string{RoleCurrent}},
		Slot{Publish: []string{RoleCurrent, RoleNext}, Sign: []string{RoleCurrent, RoleNext}, Revoke: []string{RoleCurrent}},
		Slot{Publish: []string{RoleCurrent, RoleNext}, Sign: []string{RoleCurrent, RoleNext}, Revoke: []string{RoleCurrent}},
		Slot{Publish: []string{RoleCurrent, RoleNext}, Sign: []string{RoleCurrent, RoleNext}, Revoke: []string{RoleCurrent}},
		Slot{Publish: []string{RoleCurrent, RoleNext}, Sign: []string{RoleCurrent, RoleNext}, Revoke: []string{RoleCurrent}},
		Slot{Publish: []string{RoleCurrent, RoleNext}, Sign: []string{RoleCurrent, RoleNext}, Revoke: []string{RoleCurrent}},
		Slot{Publish: []string{RoleCurrent, RoleNext}, Sign: []string{RoleCurrent, RoleNext}, Revoke: []string{RoleCurrent}},
		Slot{Publish: []string{RoleNext}, Sign: []string{RoleNext}},
	),
}

func init() {
	for _, base := range []string{"normal", "pre-publish", "rollover", "revoke"} {
		DefaultSchemas[base+"+"] = DefaultSchemas[base]
	}
}

// RoleMap resolves a schema's role names to the operator's configured KSK
// identifiers.
type RoleMap map[string]string

// Resolved is a Slot with roles replaced by concrete KSK identifiers.
type Resolved struct {
	Publish []string
	Sign    []string
	Revoke  []string
}

// Resolve maps every role in slot through roles, returning an error that
// names the first unresolvable role.
func (slot Slot) Resolve(roles RoleMap) (Resolved, error) {
	mapAll := func(rs []string) ([]string, error) {
		out := make([]string, 0, len(rs))
		for _, r := range rs {
			id, ok := roles[r]
			if !ok {
				return nil, fmt.Errorf("schema: role %q has no configured KSK identifier", r)
			}
			out = append(out, id)
		}
		return out, nil
	}
	pub, err := mapAll(slot.Publish)
	if err != nil {
		return Resolved{}, err
	}
	sign, err := mapAll(slot.Sign)
	if err != nil {
		return Resolved{}, err
	}
	rev, err := mapAll(slot.Revoke)
	if err != nil {
		return Resolved{}, err
	}
	return Resolved{Publish: pub, Sign: sign, Revoke: rev}, nil
}

// Validate checks the slot's structural rule: every sign identifier
// must also be in publish, unless it is in revoke (a revoked key may
// still sign the transition).
func (r Resolved) Validate() error {
	inPublish := map[string]bool{}
	for _, id := range r.Publish {
		inPublish[id] = true
	}
	inRevoke := map[string]bool{}
	for _, id := range r.Revoke {
		inRevoke[id] = true
	}
	for _, id := range r.Sign {
		if !inPublish[id] && !inRevoke[id] {
			return fmt.Errorf("schema: sign identifier %q is neither published nor revoked in this slot", id)
		}
	}
	for _, id := range r.Revoke {
		if !inPublish[id] {
			return fmt.Errorf("schema: revoke identifier %q is not published in this slot", id)
		}
	}
	return nil
}

// yamlTable is the decode target for an operator-supplied schema file:
// schema_name -> ordered list of slots, 1-indexed by list position.
type yamlTable map[string][]Slot

// LoadYAML decodes an operator-supplied schema file and merges it over
// DefaultSchemas, operator schemas winning on name collision. The
// compiled-in schemas remain usable even if data is empty.
func LoadYAML(data []byte) (Table, error) {
	out := make(Table, len(DefaultSchemas))
	for name, s := range DefaultSchemas {
		out[name] = s
	}
	if len(data) == 0 {
		return out, nil
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("schema: parse YAML: %w", err)
	}

	var decoded yamlTable
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: "yaml",
		Result:  &decoded,
	})
	if err != nil {
		return nil, fmt.Errorf("schema: build decoder: %w", err)
	}
	if err := dec.Decode(raw); err != nil {
		return nil, fmt.Errorf("schema: decode schema table: %w", err)
	}

	for name, slots := range decoded {
		s := make(Schema, len(slots))
		for i, slot := range slots {
			s[i+1] = slot
		}
		out[name] = s
	}
	return out, nil
}
