// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package kb

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/mcq-forge/pkg/types"
)

// Export bundles records with the provenance chain a consumer needs to
// audit them.
type Export struct {
	Records []ExportRecord `json:"records" yaml:"records"`
}

// ExportRecord is one record plus its resolved triplet and source metadata.
type ExportRecord struct {
	Record  types.MCQRecord `json:"record" yaml:"record"`
	Triplet types.Triplet   `json:"triplet" yaml:"triplet"`
	Source  SourceRef       `json:"source" yaml:"source"`
}

// SourceRef is the citation-level view of a source, without its full text.
type SourceRef struct {
	ID      string   `json:"id" yaml:"id"`
	Type    string   `json:"type" yaml:"type"`
	Title   string   `json:"title,omitempty" yaml:"title,omitempty"`
	Authors []string `json:"authors,omitempty" yaml:"authors,omitempty"`
	Year    int      `json:"year,omitempty" yaml:"year,omitempty"`
}

// buildExport resolves the provenance chain for every record in the given
// state (empty status exports everything).
func (s *Store) buildExport(ctx context.Context, status types.RecordStatus) (*Export, error) {
	records, err := s.ListRecords(ctx, status)
	if err != nil {
		return nil, err
	}

	export := &Export{}
	for _, rec := range records {
		triplet, err := s.GetTriplet(ctx, rec.TripletID)
		if err != nil {
			return nil, fmt.Errorf("resolving triplet for record %s: %w", rec.ID, err)
		}
		src, err := s.GetSource(ctx, rec.SourceID)
		if err != nil {
			return nil, fmt.Errorf("resolving source for record %s: %w", rec.ID, err)
		}
		export.Records = append(export.Records, ExportRecord{
			Record:  rec,
			Triplet: *triplet,
			Source: SourceRef{
				ID:      src.ID,
				Type:    string(src.Type),
				Title:   src.Title,
				Authors: src.Authors,
				Year:    src.Year,
			},
		})
	}
	return export, nil
}

// ExportYAML writes the export to dataDir/export.yaml and returns the path.
func (s *Store) ExportYAML(ctx context.Context, status types.RecordStatus) (string, error) {
	export, err := s.buildExport(ctx, status)
	if err != nil {
		return "", err
	}
	data, err := yaml.Marshal(export)
	if err != nil {
		return "", fmt.Errorf("marshaling export: %w", err)
	}
	path := filepath.Join(s.dataDir, "export.yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing export: %w", err)
	}
	return path, nil
}

// ExportJSON writes the export to dataDir/export.json and returns the path.
func (s *Store) ExportJSON(ctx context.Context, status types.RecordStatus) (string, error) {
	export, err := s.buildExport(ctx, status)
	if err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling export: %w", err)
	}
	path := filepath.Join(s.dataDir, "export.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing export: %w", err)
	}
	return path, nil
}
