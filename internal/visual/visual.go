// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package visual refines illustration prompts and generates images for
// approved question records. Image generation runs only on explicit request;
// the pipeline never produces an image on its own.
package visual

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"text/template"

	"github.com/sashabaranov/go-openai"

	"github.com/pdiddy/mcq-forge/internal/llm"
	"github.com/pdiddy/mcq-forge/pkg/types"
)

const (
	defaultImageModel = openai.CreateImageModelDallE3
	defaultImageSize  = openai.CreateImageSize1024x1024
	imagesDir         = "images"
)

// refinePromptTmpl turns the writer's seed description into an image-model
// prompt. The stem is included so the illustration matches the vignette.
var refinePromptTmpl = template.Must(template.New("visual").Parse(`You are an illustration prompt engineer for medical education. Rewrite the seed description below into a single detailed prompt for an image generation model.

Question stem:
{{.Stem}}

Seed description:
{{.Seed}}

Requirements:
- a clean educational illustration, no text or labels inside the image
- clinically accurate, neutral, suitable for an exam question
- one paragraph, no preamble

Respond with a JSON object: {"prompt": "..."}. Do not include any text outside the JSON object.
`))

// Refiner optimizes seed prompts through the completion provider.
type Refiner struct {
	provider llm.Provider
}

// NewRefiner builds a prompt refiner.
func NewRefiner(provider llm.Provider) *Refiner {
	return &Refiner{provider: provider}
}

// Refine rewrites the record's seed visual prompt into an image-model prompt.
// A record with no seed prompt is refused: there is nothing to illustrate.
func (r *Refiner) Refine(ctx context.Context, rec types.MCQRecord) (string, error) {
	if rec.VisualPrompt == "" {
		return "", fmt.Errorf("record %s has no visual prompt", rec.ID)
	}

	var buf bytes.Buffer
	err := refinePromptTmpl.Execute(&buf, struct {
		Stem string
		Seed string
	}{rec.Stem, rec.VisualPrompt})
	if err != nil {
		return "", fmt.Errorf("rendering visual prompt: %w", err)
	}

	raw, err := r.provider.Complete(ctx, llm.Request{Prompt: buf.String()})
	if err != nil {
		return "", fmt.Errorf("refining visual prompt for %s: %w", rec.ID, err)
	}

	var out struct {
		Prompt string `json:"prompt"`
	}
	if err := llm.DecodeJSON(r.provider.Name(), raw, &out); err != nil {
		return "", err
	}
	if out.Prompt == "" {
		return "", fmt.Errorf("refiner returned an empty prompt")
	}
	return out.Prompt, nil
}

// Generator calls the image API and stores results under the data directory.
type Generator struct {
	client  *openai.Client
	model   string
	size    string
	dataDir string
}

// NewGenerator builds an image generator writing under dataDir/images.
func NewGenerator(cfg types.VisualConfig, apiKey, baseURL, dataDir string) (*Generator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai api key is required for image generation")
	}

	clientCfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientCfg.BaseURL = baseURL
	}

	model := cfg.Model
	if model == "" {
		model = defaultImageModel
	}
	size := cfg.Size
	if size == "" {
		size = defaultImageSize
	}

	return &Generator{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   model,
		size:    size,
		dataDir: dataDir,
	}, nil
}

// Generate renders one image for the prompt and writes it to
// dataDir/images/<recordID>.png, returning the path.
func (g *Generator) Generate(ctx context.Context, recordID, prompt string) (string, error) {
	resp, err := g.client.CreateImage(ctx, openai.ImageRequest{
		Model:          g.model,
		Prompt:         prompt,
		Size:           g.size,
		N:              1,
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
	})
	if err != nil {
		return "", &llm.ProviderError{Provider: "openai", Op: "image", Err: err}
	}
	if len(resp.Data) == 0 {
		return "", &llm.ProviderError{Provider: "openai", Op: "image", Err: fmt.Errorf("empty image response")}
	}

	raw, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return "", fmt.Errorf("decoding image data: %w", err)
	}

	dir := filepath.Join(g.dataDir, imagesDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating images directory: %w", err)
	}

	path := filepath.Join(dir, recordID+".png")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return "", fmt.Errorf("writing image: %w", err)
	}
	return path, nil
}
