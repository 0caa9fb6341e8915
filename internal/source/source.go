// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package source retrieves raw text for the pipeline: PubMed abstracts via
// the NCBI E-utilities API and local text files chunked by section. The
// pipeline core references sources by ID and never copies their text
// forward.
package source

import "fmt"

// NotFoundError reports an identifier the retrieval backend does not know.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("source %s not found", e.ID)
}

// FetchError reports a failed retrieval call.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
