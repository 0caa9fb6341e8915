// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package extract

import (
	"bytes"
	"strings"
	"text/template"
)

// extractionPromptTmpl instructs the model to emit fact triplets with
// verbatim supporting sentences. The response must be strict JSON; anything
// else is rejected at the decode boundary.
var extractionPromptTmpl = template.Must(template.New("extraction").Parse(`You are a medical fact extraction system. Analyze the following source text and extract factual (subject, action, object) triplets.

For each triplet, identify:
- subject: the subject entity (e.g. "Metformin")
- action: the verb phrase connecting subject and object (e.g. "is first-line therapy for")
- object: the object entity (e.g. "Type 2 Diabetes")
- relation: exactly one of: {{.Relations}}
- context_sentences: 2 to 4 sentences copied VERBATIM from the source text that support the fact. Do not paraphrase, shorten, or correct the sentences; copy them character for character.

Only extract facts explicitly stated in the text. Do not add outside knowledge.

Respond with a JSON object containing a "triplets" array. Each element must have all fields listed above. Do not include any text outside the JSON object.

Example response:
{"triplets": [{"subject": "Metformin", "action": "is first-line therapy for", "object": "Type 2 Diabetes", "relation": "TREATS", "context_sentences": ["Metformin remains the recommended first-line agent.", "Guidelines consistently place metformin ahead of other oral therapies."]}]}

Source text:
{{.Text}}
`))

// renderPrompt executes the extraction template for one source text.
func renderPrompt(text string, relations []string) (string, error) {
	var buf bytes.Buffer
	err := extractionPromptTmpl.Execute(&buf, struct {
		Relations string
		Text      string
	}{
		Relations: strings.Join(relations, ", "),
		Text:      text,
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}
