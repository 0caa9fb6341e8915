// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// SourceType identifies how a source entered the system.
type SourceType string

const (
	SourcePubMed    SourceType = "pubmed"
	SourceFile      SourceType = "file"
	SourceFileChunk SourceType = "file_chunk"
)

// Source is an ingested unit of text. Immutable once stored; downstream
// entities reference it by ID and never copy its text.
type Source struct {
	// ID is the external identifier: "PMID:12345678" for PubMed articles,
	// or a file hash slug ("txt_ab12cd34", "txt_ab12cd34_chunk_2") for
	// uploaded documents and their section chunks.
	ID string `json:"id" yaml:"id"`

	// Type records the ingestion path: pubmed, file, or file_chunk.
	Type SourceType `json:"type" yaml:"type"`

	// Title is the article title or filename.
	Title string `json:"title,omitempty" yaml:"title,omitempty"`

	// Authors lists the article authors in source order.
	Authors []string `json:"authors,omitempty" yaml:"authors,omitempty"`

	// Year is the publication year, zero when unknown.
	Year int `json:"year,omitempty" yaml:"year,omitempty"`

	// Text is the abstract or section text used for extraction. Empty for
	// parent file sources, whose text lives in their chunks.
	Text string `json:"text" yaml:"text"`

	// ParentID links a file chunk to its parent file source.
	ParentID string `json:"parent_id,omitempty" yaml:"parent_id,omitempty"`

	// Section is the section heading for file chunks (e.g. "Results").
	Section string `json:"section,omitempty" yaml:"section,omitempty"`

	// CreatedAt is the ingestion time.
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}
