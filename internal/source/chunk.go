// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package source

import (
	"crypto/sha256"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/pdiddy/mcq-forge/pkg/types"
)

// Sections used for question generation. Introduction is mostly background
// and References carries no extractable facts, so both are dropped.
var keepSections = map[string]bool{
	"Abstract":   true,
	"Methods":    true,
	"Results":    true,
	"Discussion": true,
	"Conclusion": true,
}

// sectionPatterns map heading lines to canonical section names.
var sectionPatterns = []struct {
	re   *regexp.Regexp
	name string
}{
	{regexp.MustCompile(`(?i)^\s*(abstract|summary)\s*$`), "Abstract"},
	{regexp.MustCompile(`(?i)^\s*(introduction|background)\s*$`), "Introduction"},
	{regexp.MustCompile(`(?i)^\s*(methods?|methodology|materials and methods)\s*$`), "Methods"},
	{regexp.MustCompile(`(?i)^\s*(results?|findings)\s*$`), "Results"},
	{regexp.MustCompile(`(?i)^\s*(discussion)\s*$`), "Discussion"},
	{regexp.MustCompile(`(?i)^\s*(conclusions?)\s*$`), "Conclusion"},
	{regexp.MustCompile(`(?i)^\s*(references?|bibliography)\s*$`), "References"},
}

// paragraphsPerChunk groups untitled text into abstract-sized pieces.
const paragraphsPerChunk = 2

// ChunkFile splits the text of an uploaded file into section chunks, each an
// independently extractable Source. The parent Source carries no text of its
// own; chunk IDs are "<parent>_chunk_<n>" in document order.
func ChunkFile(filename, text string) (types.Source, []types.Source) {
	now := time.Now().UTC()
	parentID := fileSlug(filename)

	parent := types.Source{
		ID:        parentID,
		Type:      types.SourceFile,
		Title:     filename,
		CreatedAt: now,
	}

	var chunks []types.Source
	add := func(section, body string) {
		body = strings.TrimSpace(body)
		if body == "" {
			return
		}
		n := len(chunks) + 1
		chunks = append(chunks, types.Source{
			ID:        fmt.Sprintf("%s_chunk_%d", parentID, n),
			Type:      types.SourceFileChunk,
			Title:     fmt.Sprintf("%s - %s", filename, section),
			Text:      body,
			ParentID:  parentID,
			Section:   section,
			CreatedAt: now,
		})
	}

	current := ""
	var body []string
	flush := func() {
		joined := strings.Join(body, "\n")
		body = nil
		switch {
		case current == "":
			addParagraphChunks(joined, add)
		case keepSections[current]:
			add(current, joined)
		default:
			// Filtered section (Introduction, References, unknown headings).
		}
	}

	for _, line := range strings.Split(text, "\n") {
		if name, ok := detectHeading(line); ok {
			flush()
			current = name
			continue
		}
		body = append(body, line)
	}
	flush()

	return parent, chunks
}

// detectHeading matches a line against the section patterns.
func detectHeading(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || len(trimmed) > 60 {
		return "", false
	}
	for _, p := range sectionPatterns {
		if p.re.MatchString(trimmed) {
			return p.name, true
		}
	}
	return "", false
}

// addParagraphChunks groups heading-less text into chunks of
// paragraphsPerChunk paragraphs, titled by position.
func addParagraphChunks(text string, add func(section, body string)) {
	var paragraphs []string
	for _, p := range strings.Split(text, "\n\n") {
		if strings.TrimSpace(p) != "" {
			paragraphs = append(paragraphs, strings.TrimSpace(p))
		}
	}

	for i := 0; i < len(paragraphs); i += paragraphsPerChunk {
		end := i + paragraphsPerChunk
		if end > len(paragraphs) {
			end = len(paragraphs)
		}
		add(fmt.Sprintf("Passage %d", i/paragraphsPerChunk+1),
			strings.Join(paragraphs[i:end], "\n\n"))
	}
}

// fileSlug derives a stable source ID from a filename.
func fileSlug(filename string) string {
	sum := sha256.Sum256([]byte(filename))
	return fmt.Sprintf("txt_%x", sum)[:12]
}
