// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package schema validates candidate triplets against the relation taxonomy.
// Validation is deterministic: no model calls, no input mutation.
package schema

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/mcq-forge/pkg/types"
)

//go:embed taxonomy.yaml
var defaultTaxonomy []byte

// Relation defines one taxonomy relation.
type Relation struct {
	// ID is the relation identifier as it appears in triplets (e.g. "TREATS").
	ID string `yaml:"id"`

	// Description explains when the relation applies.
	Description string `yaml:"description,omitempty"`

	// Enabled relations are accepted; disabled ones are kept in the file
	// for documentation but rejected by validation.
	Enabled bool `yaml:"enabled"`

	// Domain and Range name the entity categories expected on each side.
	// Informational: candidate triplets carry no entity typing, so these
	// are not enforced at validation time.
	Domain []string `yaml:"domain,omitempty"`
	Range  []string `yaml:"range,omitempty"`
}

// Schema is a loaded relation taxonomy.
type Schema struct {
	Relations []Relation `yaml:"relations"`

	enabled map[string]Relation
}

// Load reads a taxonomy from path, or the embedded default when path is empty.
func Load(cfg types.SchemaConfig) (*Schema, error) {
	data := defaultTaxonomy
	if cfg.Path != "" {
		var err error
		data, err = os.ReadFile(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("reading taxonomy %s: %w", cfg.Path, err)
		}
	}

	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing taxonomy: %w", err)
	}
	if len(s.Relations) == 0 {
		return nil, fmt.Errorf("taxonomy defines no relations")
	}

	s.enabled = make(map[string]Relation, len(s.Relations))
	for _, r := range s.Relations {
		if r.Enabled {
			s.enabled[strings.ToUpper(r.ID)] = r
		}
	}
	return &s, nil
}

// Result is the validator's verdict on one triplet.
type Result struct {
	// Valid is true when every check passed.
	Valid bool `json:"valid" yaml:"valid"`

	// Reasons lists each failed check. Empty when Valid.
	Reasons []string `json:"reasons,omitempty" yaml:"reasons,omitempty"`
}

// Validate checks a candidate triplet against the taxonomy: the relation
// must be an enabled taxonomy member and subject, action, and object must
// be non-empty. Same input always yields the same result.
func (s *Schema) Validate(t types.Triplet) Result {
	var reasons []string

	if strings.TrimSpace(t.Subject) == "" {
		reasons = append(reasons, "subject is empty")
	}
	if strings.TrimSpace(t.Action) == "" {
		reasons = append(reasons, "action is empty")
	}
	if strings.TrimSpace(t.Object) == "" {
		reasons = append(reasons, "object is empty")
	}

	rel := strings.ToUpper(strings.TrimSpace(t.Relation))
	if rel == "" {
		reasons = append(reasons, "relation is empty")
	} else if _, ok := s.enabled[rel]; !ok {
		reasons = append(reasons, fmt.Sprintf("relation %q is not an enabled taxonomy relation", t.Relation))
	}

	return Result{Valid: len(reasons) == 0, Reasons: reasons}
}

// RelationIDs returns the enabled relation identifiers, for prompt building.
func (s *Schema) RelationIDs() []string {
	ids := make([]string, 0, len(s.Relations))
	for _, r := range s.Relations {
		if r.Enabled {
			ids = append(ids, strings.ToUpper(r.ID))
		}
	}
	return ids
}
