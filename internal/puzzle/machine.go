package puzzle

import (
	"fmt"
	"sort"
	"strings"
)

// Outcome is the terminal result a transition may report.
type Outcome string

const (
	OutcomeNone      Outcome = ""
	OutcomeSucceeded Outcome = "succeeded"
)

// NoOp describes why an intent left the world unchanged. It is a defined
// outcome, not an error.
type NoOp struct {
	Reason string `json:"reason"`
}

func (n NoOp) String() string { return n.Reason }

// InvariantViolation is returned when a transition would break world-state
// monotonicity or the state no longer matches the graph. The session that hit
// it must not continue.
type InvariantViolation struct {
	Detail string
}

func (e *InvariantViolation) Error() string {
	return "world state invariant violated: " + e.Detail
}

// Delta lists what a transition changed, for renderers.
type Delta struct {
	Location     string              `json:"location,omitempty"`
	Unlocked     []string            `json:"unlocked,omitempty"`
	Solved       []string            `json:"solved,omitempty"`
	FlagsSet     []string            `json:"flags_set,omitempty"`
	FlagsCleared []string            `json:"flags_cleared,omitempty"`
	Granted      map[string][]string `json:"granted,omitempty"`
	Consumed     map[string][]string `json:"consumed,omitempty"`
}

// Empty reports whether the delta carries no change.
func (d Delta) Empty() bool {
	return d.Location == "" && len(d.Unlocked) == 0 && len(d.Solved) == 0 &&
		len(d.FlagsSet) == 0 && len(d.FlagsCleared) == 0 && len(d.Granted) == 0 && len(d.Consumed) == 0
}

// Transition is the result of applying one intent.
// Exactly one of Applied or NoOp is meaningful: when NoOp is non-nil State is the input state.
type Transition struct {
	State     *WorldState        `json:"-"`
	Intent    Intent             `json:"intent"`
	NoOp      *NoOp              `json:"noop,omitempty"`
	Delta     Delta              `json:"delta"`
	Outcome   Outcome            `json:"outcome,omitempty"`
	Narration string             `json:"narration,omitempty"`
	Sway      map[string]float64 `json:"sway,omitempty"`
}

// Applied reports whether the transition changed world state.
func (t Transition) Applied() bool {
	return t.NoOp == nil
}

// Machine applies intents to world states for one graph.
// It holds no per-session state and is safe for concurrent use.
type Machine struct {
	graph *Graph
}

// NewMachine returns a Machine over a validated graph.
func NewMachine(g *Graph) *Machine {
	return &Machine{graph: g}
}

// Graph returns the graph the machine applies.
func (m *Machine) Graph() *Graph {
	return m.graph
}

// Start builds the initial world state: the character at the start node with
// every node not declared locked already unlocked.
func (m *Machine) Start(participants []string) *WorldState {
	ws := &WorldState{
		GraphID:     m.graph.ID,
		Location:    m.graph.Start,
		Disposition: "calm",
	}
	ws.normalize()
	for id, node := range m.graph.Nodes {
		if !node.Locked {
			ws.Unlocked.Add(id)
		}
	}
	for _, p := range participants {
		ws.Inventory[p] = make(Set)
	}
	return ws
}

// WithDisposition returns a copy of ws carrying the given mood tag.
func (m *Machine) WithDisposition(ws *WorldState, tag string) *WorldState {
	if ws.Disposition == tag {
		return ws
	}
	next := ws.Clone()
	next.Disposition = tag
	return next
}

// Apply evaluates intent against ws. It never mutates ws.
// The only error is *InvariantViolation; every well-formed intent otherwise
// yields either an applied transition or a NoOp.
func (m *Machine) Apply(ws *WorldState, in Intent) (Transition, error) {
	node := m.graph.Nodes[ws.Location]
	if node == nil {
		return Transition{}, &InvariantViolation{Detail: fmt.Sprintf("location %q is not a node of graph %q", ws.Location, m.graph.ID)}
	}
	if err := in.Validate(); err != nil {
		return noop(ws, in, "I don't understand: "+err.Error()), nil
	}

	var (
		effect Effect
		reason string
	)
	switch in.Verb {
	case VerbMove:
		effect, reason = m.move(ws, node, in)
	case VerbTake:
		effect, reason = m.take(ws, node, in)
	case VerbUse:
		effect, reason = m.use(ws, node, in)
	case VerbOpen:
		effect, reason = m.open(ws, node, in)
	case VerbExamine:
		effect, reason = m.examine(ws, node, in)
	case VerbAsk:
		effect, reason = m.ask(ws, node, in)
	}
	if reason != "" {
		return noop(ws, in, reason), nil
	}

	next := ws.Clone()
	delta := m.applyEffect(next, effect, in.Participant)
	if err := CheckMonotonic(ws, next); err != nil {
		return Transition{}, err
	}
	narration := ""
	if effect.Narration != "" {
		narration = m.graph.Text(effect.Narration)
	}
	if delta.Empty() {
		if narration == "" {
			narration = "Nothing more happens."
		}
		t := noop(ws, in, narration)
		t.Narration = narration
		return t, nil
	}
	next.Turn++

	t := Transition{
		State:     next,
		Intent:    in,
		Delta:     delta,
		Narration: narration,
		Sway:      effect.Sway,
	}
	if m.Succeeded(next) {
		t.Outcome = OutcomeSucceeded
	}
	return t, nil
}

func noop(ws *WorldState, in Intent, reason string) Transition {
	return Transition{State: ws, Intent: in, NoOp: &NoOp{Reason: reason}}
}

// Succeeded evaluates the graph's success predicate.
func (m *Machine) Succeeded(ws *WorldState) bool {
	s := m.graph.Success
	if ws.Location != s.At {
		return false
	}
	for _, it := range s.Holds {
		if !ws.PartyHolds(it) {
			return false
		}
	}
	for _, id := range s.Solved {
		if !ws.Solved.Has(id) {
			return false
		}
	}
	for _, f := range s.Flags {
		if !ws.Flags.Has(f) {
			return false
		}
	}
	return true
}

// firstUnmet returns the failure text of the first condition that does not hold, or "".
func (m *Machine) firstUnmet(ws *WorldState, conds []Condition) string {
	for _, c := range conds {
		var ok bool
		var text string
		switch {
		case c.Holds != "":
			ok = ws.PartyHolds(c.Holds)
			text = "you need the " + m.graph.ItemName(c.Holds)
		case c.Solved != "":
			ok = ws.Solved.Has(c.Solved)
			text = strings.ReplaceAll(c.Solved, "-", " ") + " has not been solved yet"
		case c.Unlocked != "":
			ok = ws.Unlocked.Has(c.Unlocked)
			text = "the " + m.graph.NodeTitle(c.Unlocked) + " is still locked"
		case c.Flag != "":
			ok = ws.Flags.Has(c.Flag)
			text = "something still has to happen first (" + c.Flag + ")"
		}
		if !ok {
			if c.Reason != "" {
				return m.graph.Text(c.Reason)
			}
			return text
		}
	}
	return ""
}

// action looks up a declared action and checks its preconditions.
// found is false when the node declares nothing for verb/target.
func (m *Machine) action(ws *WorldState, node *Node, verb Verb, target string) (Action, string, bool) {
	a, ok := node.Actions[verb][target]
	if !ok {
		return Action{}, "", false
	}
	return a, m.firstUnmet(ws, a.Requires), true
}

func (m *Machine) move(ws *WorldState, node *Node, in Intent) (Effect, string) {
	if a, reason, ok := m.action(ws, node, VerbMove, in.Target); ok {
		return a.Effect, reason
	}
	if in.Target == ws.Location {
		return Effect{}, "You are already in the " + m.graph.NodeTitle(in.Target) + "."
	}
	if !contains(node.Exits, in.Target) {
		return Effect{}, "There is no way to the " + m.graph.NodeTitle(in.Target) + " from here."
	}
	effect := Effect{MoveTo: in.Target}
	if !ws.Unlocked.Has(in.Target) {
		reason := m.unlockReason(ws, in.Target)
		if reason != "" {
			return Effect{}, reason
		}
		effect.Unlock = []string{in.Target}
	}
	return effect, ""
}

// unlockReason returns why target cannot be unlocked now, or "" if its requirements hold.
func (m *Machine) unlockReason(ws *WorldState, target string) string {
	dest := m.graph.Nodes[target]
	if len(dest.Requires) == 0 {
		return "The " + m.graph.NodeTitle(target) + " is locked."
	}
	if unmet := m.firstUnmet(ws, dest.Requires); unmet != "" {
		return "The " + m.graph.NodeTitle(target) + " won't open: " + unmet + "."
	}
	return ""
}

func (m *Machine) take(ws *WorldState, node *Node, in Intent) (Effect, string) {
	a, reason, declared := m.action(ws, node, VerbTake, in.Target)
	if declared && reason != "" {
		return Effect{}, reason
	}
	if holder, taken := ws.Taken[in.Target]; taken {
		if holder == in.Participant {
			return Effect{}, "You already have the " + m.graph.ItemName(in.Target) + "."
		}
		return Effect{}, "The " + m.graph.ItemName(in.Target) + " has already been taken by " + holder + "."
	}
	if !declared && !contains(node.Items, in.Target) {
		return Effect{}, "There is no " + m.graph.ItemName(in.Target) + " here."
	}
	effect := a.Effect
	if contains(node.Items, in.Target) && !contains(effect.Grant, in.Target) {
		effect.Grant = append(append([]string{}, effect.Grant...), in.Target)
	}
	return effect, ""
}

func (m *Machine) use(ws *WorldState, node *Node, in Intent) (Effect, string) {
	if !ws.PartyHolds(in.Item) {
		return Effect{}, "Nobody is holding the " + m.graph.ItemName(in.Item) + "."
	}
	a, reason, ok := m.action(ws, node, VerbUse, in.Target)
	if !ok {
		return Effect{}, "Using the " + m.graph.ItemName(in.Item) + " on that does nothing."
	}
	if a.Item != "" && a.Item != in.Item {
		return Effect{}, "The " + m.graph.ItemName(in.Item) + " doesn't work on that."
	}
	return a.Effect, reason
}

func (m *Machine) open(ws *WorldState, node *Node, in Intent) (Effect, string) {
	if a, reason, ok := m.action(ws, node, VerbOpen, in.Target); ok {
		return a.Effect, reason
	}
	if _, isNode := m.graph.Nodes[in.Target]; isNode && contains(node.Exits, in.Target) {
		if ws.Unlocked.Has(in.Target) {
			return Effect{}, "The " + m.graph.NodeTitle(in.Target) + " is already open."
		}
		if reason := m.unlockReason(ws, in.Target); reason != "" {
			return Effect{}, reason
		}
		return Effect{Unlock: []string{in.Target}}, ""
	}
	return Effect{}, "That can't be opened."
}

func (m *Machine) examine(ws *WorldState, node *Node, in Intent) (Effect, string) {
	if a, reason, ok := m.action(ws, node, VerbExamine, in.Target); ok {
		return a.Effect, reason
	}
	if in.Target == "room" || in.Target == ws.Location {
		return Effect{}, m.describe(ws, node)
	}
	if it, ok := m.graph.Items[in.Target]; ok && (contains(node.Items, in.Target) || ws.PartyHolds(in.Target)) {
		if it.Description != "" {
			return Effect{}, it.Description
		}
	}
	if dest, ok := m.graph.Nodes[in.Target]; ok && contains(node.Exits, in.Target) && dest.Description != "" {
		if ws.Unlocked.Has(in.Target) {
			return Effect{}, "The way to the " + m.graph.NodeTitle(in.Target) + " is open."
		}
		return Effect{}, "The " + m.graph.NodeTitle(in.Target) + " is locked."
	}
	return Effect{}, "You see nothing special about that."
}

func (m *Machine) describe(ws *WorldState, node *Node) string {
	var b strings.Builder
	b.WriteString(node.Description)
	var here []string
	for _, it := range node.Items {
		if _, taken := ws.Taken[it]; !taken {
			here = append(here, m.graph.ItemName(it))
		}
	}
	if len(here) > 0 {
		b.WriteString(" You notice: " + strings.Join(here, ", ") + ".")
	}
	return strings.TrimSpace(b.String())
}

func (m *Machine) ask(ws *WorldState, node *Node, in Intent) (Effect, string) {
	if a, reason, ok := m.action(ws, node, VerbAsk, in.Target); ok {
		return a.Effect, reason
	}
	if answer, ok := m.graph.Topics[in.Target]; ok {
		return Effect{}, m.graph.Text(answer)
	}
	return Effect{}, "Anna shrugs. She knows nothing about that."
}

// applyEffect mutates next in place and returns what actually changed.
// Grants of items someone already took are skipped so the first taker keeps them.
func (m *Machine) applyEffect(next *WorldState, e Effect, actor string) Delta {
	var d Delta

	for _, n := range e.Unlock {
		if next.Unlocked.Add(n) {
			d.Unlocked = append(d.Unlocked, n)
		}
	}
	for _, s := range e.Solve {
		if next.Solved.Add(s) {
			d.Solved = append(d.Solved, s)
		}
	}
	for _, f := range e.SetFlags {
		if next.Flags.Add(f) {
			d.FlagsSet = append(d.FlagsSet, f)
		}
	}
	for _, f := range e.Clear {
		switch {
		case strings.HasPrefix(f, "unlocked:"):
			delete(next.Unlocked, strings.TrimPrefix(f, "unlocked:"))
		case strings.HasPrefix(f, "solved:"):
			delete(next.Solved, strings.TrimPrefix(f, "solved:"))
		case next.Flags.Has(f):
			delete(next.Flags, f)
			d.FlagsCleared = append(d.FlagsCleared, f)
		}
	}
	for _, it := range e.Grant {
		if _, taken := next.Taken[it]; taken {
			continue
		}
		inv := next.Inventory[actor]
		if inv == nil {
			inv = make(Set)
			next.Inventory[actor] = inv
		}
		inv.Add(it)
		next.Taken[it] = actor
		if d.Granted == nil {
			d.Granted = make(map[string][]string)
		}
		d.Granted[actor] = append(d.Granted[actor], it)
	}
	for _, it := range e.Consume {
		holder := next.Holder(it)
		if holder == "" {
			continue
		}
		delete(next.Inventory[holder], it)
		if d.Consumed == nil {
			d.Consumed = make(map[string][]string)
		}
		d.Consumed[holder] = append(d.Consumed[holder], it)
	}
	if e.MoveTo != "" && e.MoveTo != next.Location {
		next.Location = e.MoveTo
		d.Location = e.MoveTo
	}

	sort.Strings(d.Unlocked)
	sort.Strings(d.Solved)
	sort.Strings(d.FlagsSet)
	sort.Strings(d.FlagsCleared)
	return d
}

// CheckMonotonic returns an *InvariantViolation if after lost any unlocked
// node, solved puzzle or taken item present in before.
func CheckMonotonic(before, after *WorldState) error {
	for n := range before.Unlocked {
		if !after.Unlocked.Has(n) {
			return &InvariantViolation{Detail: fmt.Sprintf("node %q would be re-locked", n)}
		}
	}
	for s := range before.Solved {
		if !after.Solved.Has(s) {
			return &InvariantViolation{Detail: fmt.Sprintf("puzzle %q would become unsolved", s)}
		}
	}
	for it, p := range before.Taken {
		if after.Taken[it] != p {
			return &InvariantViolation{Detail: fmt.Sprintf("item %q would change owner", it)}
		}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
