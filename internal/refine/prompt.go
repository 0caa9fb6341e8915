// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package refine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/pdiddy/mcq-forge/pkg/types"
)

// writerPromptTmpl produces the first draft. The correct answer must come
// from the approved fact; distractor material comes from related facts in
// the knowledge base.
var writerPromptTmpl = template.Must(template.New("writer").Parse(`You are a medical question writer. Write one USMLE-style multiple-choice question testing the following approved fact.

Fact: {{.Subject}} {{.Action}} {{.Object}} (relation: {{.Relation}})

Supporting evidence from the source:
{{range .Evidence}}- {{.}}
{{end}}
{{if .Distractors}}Related facts from the knowledge base. Use these to build plausible but incorrect answer options:
{{range .Distractors}}- {{.}}
{{end}}
{{end}}Requirements:
- stem: a short clinical vignette leading to the question
- question: the interrogative itself
- options: exactly 5 answer choices; exactly one is correct and follows from the fact above
- correct_index: zero-based index of the correct option
- visual_prompt: a one-sentence description of an illustration that would support the stem
- Distractors must be plausible to a student but clearly wrong given the evidence. Do not test facts outside the one above.

Respond with a JSON object with fields "stem", "question", "options", "correct_index", "visual_prompt". Do not include any text outside the JSON object.
`))

// criticPromptTmpl scores a draft. The hard-fail flag is reserved for a
// correct answer that the fact does not actually support.
var criticPromptTmpl = template.Must(template.New("critic").Parse(`You are a medical question reviewer. Evaluate the following multiple-choice question against the approved fact it must test.

Fact: {{.Subject}} {{.Action}} {{.Object}} (relation: {{.Relation}})

Supporting evidence:
{{range .Evidence}}- {{.}}
{{end}}
Question draft:
{{.Draft}}

Score each dimension from 0.0 to 1.0:
- provenance_linkage: the correct answer follows directly from the fact and evidence
- schema_compliance: exactly 5 options, one correct, well-formed stem and question
- distractor_plausibility: wrong options are plausible but defensibly incorrect
- clarity: unambiguous wording a student can parse on first read

Set "hard_fail" to true ONLY if the marked correct answer is not supported by the fact above. Provide concrete, actionable feedback for revision in "feedback".

Respond with a JSON object: {"scores": {"provenance_linkage": 0.0, "schema_compliance": 0.0, "distractor_plausibility": 0.0, "clarity": 0.0}, "overall": 0.0, "hard_fail": false, "feedback": "..."}. Do not include any text outside the JSON object.
`))

// refinerPromptTmpl revises a draft against the accumulated feedback. The
// full history is included so a later revision cannot reintroduce an
// earlier mistake.
var refinerPromptTmpl = template.Must(template.New("refiner").Parse(`You are a medical question writer revising a draft that failed review.

Fact the question must test: {{.Subject}} {{.Action}} {{.Object}} (relation: {{.Relation}})

Supporting evidence:
{{range .Evidence}}- {{.}}
{{end}}
Current draft:
{{.Draft}}

Reviewer feedback, oldest first. Address ALL of it:
{{range .Feedback}}- {{.}}
{{end}}
Keep the correct answer grounded in the fact above. Respond with the revised question as a JSON object with fields "stem", "question", "options", "correct_index", "visual_prompt". Do not include any text outside the JSON object.
`))

// promptData is the shared template payload.
type promptData struct {
	Subject     string
	Action      string
	Object      string
	Relation    string
	Evidence    []string
	Distractors []string
	Draft       string
	Feedback    []string
}

func buildData(triplet types.Triplet, distractors []types.Triplet) promptData {
	d := promptData{
		Subject:  triplet.Subject,
		Action:   triplet.Action,
		Object:   triplet.Object,
		Relation: triplet.Relation,
		Evidence: triplet.ContextSentences,
	}
	for _, c := range distractors {
		d.Distractors = append(d.Distractors,
			fmt.Sprintf("%s %s %s", c.Subject, c.Action, c.Object))
	}
	return d
}

// draftJSON renders the draft fields the critic and refiner see.
func draftJSON(draft *types.MCQDraft) string {
	b, _ := json.MarshalIndent(struct {
		Stem         string   `json:"stem"`
		Question     string   `json:"question"`
		Options      []string `json:"options"`
		CorrectIndex int      `json:"correct_index"`
	}{draft.Stem, draft.Question, draft.Options, draft.CorrectIndex}, "", "  ")
	return string(b)
}

func render(tmpl *template.Template, data promptData) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering %s prompt: %w", tmpl.Name(), err)
	}
	return strings.TrimSpace(buf.String()) + "\n", nil
}
