package interpreter

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/buildkite/shellwords"
	"github.com/dyluth/lockstep/internal/puzzle"
	"github.com/gertd/go-pluralize"
)

// DefaultThreshold is the minimum confidence at which a target is accepted.
const DefaultThreshold = 0.7

// Paraphraser rewrites free chat text into a canonical command phrase
// (e.g. "pick up the keycard"). Its output is re-parsed like any other text.
type Paraphraser interface {
	Paraphrase(ctx context.Context, raw string, view puzzle.View) (string, error)
}

// Unrecognized is returned instead of an intent when text does not map, with
// enough confidence, to an intent that is plausible in the current node.
type Unrecognized struct {
	Text          string `json:"text"`
	Clarification string `json:"clarification"`
}

// Result is the outcome of interpreting one chat message.
// Exactly one of Intent and Unrecognized is set.
type Result struct {
	Intent       *puzzle.Intent
	Unrecognized *Unrecognized
	Confidence   float64
	Paraphrased  bool
}

// Interpreter maps chat text onto the closed intent vocabulary.
// It is stateless apart from its configuration and safe for concurrent use.
type Interpreter struct {
	paraphraser Paraphraser
	threshold   float64
	plural      *pluralize.Client
}

// Option configures an Interpreter.
type Option func(*Interpreter)

// WithParaphraser enables one paraphrase attempt for text that fails to parse.
func WithParaphraser(p Paraphraser) Option {
	return func(i *Interpreter) { i.paraphraser = p }
}

// WithThreshold overrides DefaultThreshold.
func WithThreshold(t float64) Option {
	return func(i *Interpreter) { i.threshold = t }
}

// New creates an Interpreter.
func New(opts ...Option) *Interpreter {
	i := &Interpreter{
		threshold: DefaultThreshold,
		plural:    pluralize.NewClient(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Interpret resolves raw text for participant against view.
// Free text never leaves this function except as a validated puzzle.Intent.
func (i *Interpreter) Interpret(ctx context.Context, raw, participant string, view puzzle.View) Result {
	res := i.parse(raw, participant, view)
	if res.Intent != nil || i.paraphraser == nil {
		return res
	}

	canonical, err := i.paraphraser.Paraphrase(ctx, raw, view)
	if err != nil {
		log.Printf("[Interpreter] Paraphrase failed, keeping clarification: %v", err)
		return res
	}
	canonical = strings.TrimSpace(canonical)
	if canonical == "" || strings.EqualFold(canonical, raw) {
		return res
	}

	// One hop only: the paraphrase is parsed deterministically, never paraphrased again.
	second := i.parse(canonical, participant, view)
	if second.Intent == nil {
		return res
	}
	second.Paraphrased = true
	return second
}

func (i *Interpreter) parse(raw, participant string, view puzzle.View) Result {
	words := tokenize(raw)
	words = stripFiller(words)
	if len(words) == 0 {
		return unrecognized(raw, "Say what Anna should do, for example \"look around\" or \"take the keycard\".")
	}

	verb, rest, ok := matchVerb(words)
	if !ok {
		return unrecognized(raw, fmt.Sprintf("Anna doesn't know how to %q. Try one of: %s.", words[0], verbHelp()))
	}

	switch verb {
	case puzzle.VerbExamine:
		rest = dropWords(rest, articles)
		if len(rest) == 0 || isRoomWord(rest) {
			return accept(puzzle.Intent{Verb: verb, Target: "room", Participant: participant}, 1.0)
		}
	case puzzle.VerbAsk:
		rest = dropWords(rest, askFiller)
	case puzzle.VerbOpen:
		// "unlock the door with the keycard": the instrument is implied by the door's requirements
		rest, _ = splitAt(rest, instrumentWords)
		rest = dropWords(rest, articles)
	case puzzle.VerbUse:
		return i.parseUse(raw, participant, rest, view)
	default:
		rest = dropWords(rest, articles)
	}

	if len(rest) == 0 {
		return unrecognized(raw, fmt.Sprintf("%s what?", titleVerb(verb)))
	}

	target, score, tie := i.resolve(strings.Join(rest, " "), candidatesFor(verb, view), view)
	if score < i.threshold {
		return unrecognized(raw, clarifyTarget(verb, strings.Join(rest, " "), view))
	}
	if tie != "" {
		return unrecognized(raw, fmt.Sprintf("Did you mean the %s or the %s?", display(view, target), display(view, tie)))
	}
	return accept(puzzle.Intent{Verb: verb, Target: target, Participant: participant}, score)
}

func (i *Interpreter) parseUse(raw, participant string, rest []string, view puzzle.View) Result {
	itemWords, targetWords := splitAt(rest, instrumentWords)
	itemWords = dropWords(itemWords, articles)
	targetWords = dropWords(targetWords, articles)
	if len(itemWords) == 0 {
		return unrecognized(raw, "Use what?")
	}
	if len(targetWords) == 0 {
		return unrecognized(raw, fmt.Sprintf("Use the %s on what?", strings.Join(itemWords, " ")))
	}

	item, itemScore, itemTie := i.resolve(strings.Join(itemWords, " "), append(append([]string{}, view.Inventory...), view.Items...), view)
	if itemScore < i.threshold {
		return unrecognized(raw, fmt.Sprintf("Nobody here has anything called %q.", strings.Join(itemWords, " ")))
	}
	if itemTie != "" {
		return unrecognized(raw, fmt.Sprintf("Did you mean the %s or the %s?", display(view, item), display(view, itemTie)))
	}

	target, targetScore, targetTie := i.resolve(strings.Join(targetWords, " "), candidatesFor(puzzle.VerbUse, view), view)
	if targetScore < i.threshold {
		return unrecognized(raw, clarifyTarget(puzzle.VerbUse, strings.Join(targetWords, " "), view))
	}
	if targetTie != "" {
		return unrecognized(raw, fmt.Sprintf("Did you mean the %s or the %s?", display(view, target), display(view, targetTie)))
	}

	return accept(puzzle.Intent{Verb: puzzle.VerbUse, Item: item, Target: target, Participant: participant}, min(itemScore, targetScore))
}

// resolve scores phrase against candidates and returns the best match.
// tie is set when a different candidate scores equally well.
func (i *Interpreter) resolve(phrase string, candidates []string, view puzzle.View) (best string, score float64, tie string) {
	singular := i.singularize(phrase)
	seen := make(map[string]bool)
	for _, c := range candidates {
		if seen[c] {
			continue
		}
		seen[c] = true
		s := scoreMatch(phrase, singular, c, view)
		switch {
		case s > score:
			best, score, tie = c, s, ""
		case s == score && s > 0 && c != best:
			tie = c
		}
	}
	return best, score, tie
}

func (i *Interpreter) singularize(phrase string) string {
	words := strings.Fields(phrase)
	for n, w := range words {
		if i.plural.IsPlural(w) {
			words[n] = i.plural.Singular(w)
		}
	}
	return strings.Join(words, " ")
}

// scoreMatch rates how well phrase names candidate, from 0 to 1.
func scoreMatch(phrase, singular, candidate string, view puzzle.View) float64 {
	names := namesFor(candidate, view)
	for _, n := range names {
		if phrase == n {
			return 1.0
		}
	}
	for _, n := range names {
		if singular == n {
			return 0.95
		}
	}

	head := lastWord(singular)
	for _, n := range names {
		if head != "" && lastWord(n) == head {
			return 0.8
		}
	}
	for _, n := range names {
		if containsAll(strings.Fields(n), strings.Fields(singular)) {
			return 0.75
		}
	}
	return 0
}

// namesFor lists every phrase that refers to candidate: its id, display name and aliases.
func namesFor(candidate string, view puzzle.View) []string {
	names := []string{candidate, strings.ReplaceAll(candidate, "-", " ")}
	if n, ok := view.Names[candidate]; ok {
		names = append(names, strings.ToLower(n))
	}
	aliases := make([]string, 0)
	for phrase, target := range view.Aliases {
		if target == candidate {
			aliases = append(aliases, strings.ToLower(phrase))
		}
	}
	sort.Strings(aliases)
	return append(names, aliases...)
}

// candidatesFor lists the targets structurally plausible for verb in the current node.
func candidatesFor(verb puzzle.Verb, view puzzle.View) []string {
	var c []string
	switch verb {
	case puzzle.VerbMove:
		c = append(c, view.Exits...)
		c = append(c, view.Location)
	case puzzle.VerbTake:
		c = append(c, view.Items...)
		c = append(c, view.Inventory...)
	case puzzle.VerbUse:
		c = append(c, view.Exits...)
	case puzzle.VerbOpen:
		c = append(c, view.Exits...)
	case puzzle.VerbExamine:
		c = append(c, view.Location)
		c = append(c, view.Exits...)
		c = append(c, view.Items...)
		c = append(c, view.Inventory...)
	case puzzle.VerbAsk:
		c = append(c, view.Topics...)
	}
	return append(c, view.Targets[verb]...)
}

func accept(in puzzle.Intent, confidence float64) Result {
	return Result{Intent: &in, Confidence: confidence}
}

func unrecognized(raw, clarification string) Result {
	return Result{Unrecognized: &Unrecognized{Text: raw, Clarification: clarification}}
}

func clarifyTarget(verb puzzle.Verb, phrase string, view puzzle.View) string {
	options := candidatesFor(verb, view)
	if len(options) == 0 {
		return fmt.Sprintf("There is nothing to %s here.", verb)
	}
	named := make([]string, 0, len(options))
	seen := make(map[string]bool)
	for _, o := range options {
		d := display(view, o)
		if !seen[d] {
			seen[d] = true
			named = append(named, d)
		}
	}
	sort.Strings(named)
	return fmt.Sprintf("Anna isn't sure what %q means here. You could %s: %s.", phrase, verb, strings.Join(named, ", "))
}

func display(view puzzle.View, id string) string {
	if n, ok := view.Names[id]; ok {
		return n
	}
	return strings.ReplaceAll(id, "-", " ")
}

func tokenize(raw string) []string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.TrimRight(s, ".!?;")
	s = strings.NewReplacer(",", " ", "'s ", " ").Replace(s)

	parts, err := shellwords.SplitPosix(s)
	if err != nil {
		// Unbalanced quotes: fall back to whitespace splitting without the quotes.
		parts = strings.Fields(strings.NewReplacer(`"`, " ", "'", " ").Replace(s))
	}

	var words []string
	for _, p := range parts {
		words = append(words, strings.Fields(p)...)
	}
	return words
}

func stripFiller(words []string) []string {
	for len(words) > 0 && leadingFiller[words[0]] {
		words = words[1:]
	}
	return words
}

func dropWords(words []string, drop map[string]bool) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		if !drop[w] {
			out = append(out, w)
		}
	}
	return out
}

// splitAt splits words at the first separator, dropping the separator.
func splitAt(words []string, separators map[string]bool) (before, after []string) {
	for n, w := range words {
		if separators[w] {
			return words[:n], words[n+1:]
		}
	}
	return words, nil
}

func isRoomWord(words []string) bool {
	return len(words) == 1 && roomWords[words[0]]
}

func lastWord(s string) string {
	f := strings.Fields(s)
	if len(f) == 0 {
		return ""
	}
	return f[len(f)-1]
}

func containsAll(have, want []string) bool {
	if len(want) == 0 {
		return false
	}
	set := make(map[string]bool, len(have))
	for _, h := range have {
		set[h] = true
	}
	for _, w := range want {
		if !set[w] {
			return false
		}
	}
	return true
}

func titleVerb(v puzzle.Verb) string {
	s := string(v)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
