package broker

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/dyluth/lockstep/internal/puzzle"
)

//go:embed prompts/paraphrase.tmpl
var paraphrasePrompt string

var paraphraseTemplate = template.Must(template.New("paraphrase").Funcs(template.FuncMap{
	"join": func(s []string) string {
		if len(s) == 0 {
			return "(none)"
		}
		return strings.Join(s, ", ")
	},
}).Parse(paraphrasePrompt))

// Paraphraser adapts a LanguageModel to the interpreter's paraphrase hook.
// Its output is plain text that the interpreter re-parses and validates.
type Paraphraser struct {
	model   LanguageModel
	timeout time.Duration
}

// NewParaphraser creates a Paraphraser bounded by timeout.
func NewParaphraser(model LanguageModel, timeout time.Duration) *Paraphraser {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Paraphraser{model: model, timeout: timeout}
}

type paraphraseData struct {
	Text      string
	Exits     []string
	Items     []string
	Inventory []string
	Targets   []string
	Topics    []string
}

// Paraphrase asks the model for a canonical command. Returns "" when the model
// finds none.
func (p *Paraphraser) Paraphrase(ctx context.Context, raw string, view puzzle.View) (string, error) {
	data := paraphraseData{
		Text:      raw,
		Exits:     names(view, view.Exits),
		Items:     names(view, view.Items),
		Inventory: names(view, view.Inventory),
		Topics:    view.Topics,
	}
	for _, targets := range view.Targets {
		data.Targets = append(data.Targets, targets...)
	}
	sort.Strings(data.Targets)

	var buf bytes.Buffer
	if err := paraphraseTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render paraphrase prompt: %w", err)
	}

	resp, err := complete(ctx, p.model, "paraphrase", ModelRequest{Prompt: buf.String()}, p.timeout)
	if err != nil {
		return "", err
	}

	line := strings.TrimSpace(resp.Text)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	line = strings.Trim(line, "`\"")
	if strings.EqualFold(line, "unknown") {
		return "", nil
	}
	return line, nil
}

func names(view puzzle.View, ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if n, ok := view.Names[id]; ok {
			out = append(out, n)
			continue
		}
		out = append(out, strings.ReplaceAll(id, "-", " "))
	}
	return out
}
