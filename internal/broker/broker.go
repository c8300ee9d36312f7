package broker

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"log"
	"strings"
	"text/template"
	"time"

	"github.com/dyluth/lockstep/internal/puzzle"
)

//go:embed prompts/respond.tmpl
var respondPrompt string

var respondTemplate = template.Must(template.New("respond").Parse(respondPrompt))

// DefaultTimeout bounds a language-model call when none is configured.
const DefaultTimeout = 8 * time.Second

// Decision is whether the character attempts the interpreted intent.
type Decision string

const (
	DecisionAttempt Decision = "attempt"
	DecisionRefuse  Decision = "refuse"
)

// Request is everything the broker needs to voice one command.
// Preview is the transition the state machine would make if the intent were attempted.
type Request struct {
	Intent  puzzle.Intent
	State   *puzzle.WorldState
	Persona Persona
	Preview puzzle.Transition
	Graph   *puzzle.Graph
}

// Response is the character's narrated reaction.
// Persona carries the updated memory; callers commit it only if the command completes.
type Response struct {
	Narration string
	Decision  Decision
	Persona   Persona
	Degraded  bool // the model call failed or timed out and fallback narration was used
}

// Broker turns an intent and world state into persona-consistent narration.
type Broker struct {
	model   LanguageModel
	timeout time.Duration
}

// New creates a Broker. A nil model always uses fallback narration.
func New(model LanguageModel, timeout time.Duration) *Broker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Broker{model: model, timeout: timeout}
}

// Respond narrates req. It never returns an error: dependency failures
// degrade to fallback narration with DecisionAttempt.
func (b *Broker) Respond(ctx context.Context, req Request) Response {
	decision := DecisionAttempt
	if req.Persona.Refuses(req.Intent.Target) {
		decision = DecisionRefuse
	}

	narration, hint, err := b.narrate(ctx, req, decision)
	degraded := false
	if err != nil {
		log.Printf("[Broker] %v, using fallback narration for %s", err, req.Intent)
		narration = Fallback(req, decision)
		degraded = true
	} else if decision == DecisionAttempt && Decision(hint) == DecisionRefuse && req.Preview.Applied() {
		// The model may voice an in-character refusal; that only ever suppresses a transition.
		decision = DecisionRefuse
	}
	if strings.TrimSpace(narration) == "" {
		narration = Fallback(req, decision)
	}

	return Response{
		Narration: narration,
		Decision:  decision,
		Persona:   req.Persona.Remember(req.Intent.String(), narration),
		Degraded:  degraded,
	}
}

func (b *Broker) narrate(ctx context.Context, req Request, decision Decision) (string, string, error) {
	if b.model == nil {
		return "", "", &DependencyError{Op: "respond", Err: fmt.Errorf("no language model configured")}
	}

	prompt, err := renderRespond(req, decision)
	if err != nil {
		return "", "", fmt.Errorf("failed to render prompt: %w", err)
	}

	resp, err := complete(ctx, b.model, "respond", ModelRequest{
		Prompt:  prompt,
		Persona: req.Persona,
		History: req.Persona.Memory,
	}, b.timeout)
	if err != nil {
		return "", "", err
	}
	return strings.TrimSpace(resp.Text), strings.ToLower(strings.TrimSpace(resp.Hint)), nil
}

type respondData struct {
	Persona  Persona
	Mood     string
	Location string
	Intent   string
	Outcome  string
	Refusing bool
}

func renderRespond(req Request, decision Decision) (string, error) {
	data := respondData{
		Persona:  req.Persona,
		Mood:     req.Persona.Tag(),
		Intent:   req.Intent.String(),
		Outcome:  outcomeText(req.Preview),
		Refusing: decision == DecisionRefuse,
	}
	if req.State != nil {
		data.Location = req.State.Location
		if req.Graph != nil {
			data.Location = req.Graph.NodeTitle(req.State.Location)
		}
	}

	var buf bytes.Buffer
	if err := respondTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func outcomeText(t puzzle.Transition) string {
	if t.NoOp != nil {
		return "It will not work: " + t.NoOp.Reason
	}
	if t.Narration != "" {
		return "It works: " + t.Narration
	}
	return "It works."
}

// Fallback builds deterministic narration from the previewed transition.
func Fallback(req Request, decision Decision) string {
	name := req.Persona.Name
	if name == "" {
		name = "Anna"
	}
	if decision == DecisionRefuse {
		return fmt.Sprintf("%s shakes her head. \"Not that. Not yet.\"", name)
	}
	if req.Preview.NoOp != nil {
		return req.Preview.NoOp.Reason
	}
	if req.Preview.Narration != "" {
		return req.Preview.Narration
	}
	switch req.Intent.Verb {
	case puzzle.VerbMove:
		return fmt.Sprintf("%s moves on.", name)
	case puzzle.VerbTake:
		return fmt.Sprintf("%s pockets it.", name)
	default:
		return fmt.Sprintf("%s does as you ask.", name)
	}
}
