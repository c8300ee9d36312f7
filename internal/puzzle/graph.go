package puzzle

import (
	"fmt"
	"sort"
	"strings"
)

// Graph is the static content definition of one escape scenario.
// A Graph is immutable once validated and is shared by every session using it.
type Graph struct {
	ID      string            `yaml:"id"`
	Version int               `yaml:"version"`
	Title   string            `yaml:"title"`
	Start   string            `yaml:"start"`
	Nodes   map[string]*Node  `yaml:"nodes"`
	Items   map[string]Item   `yaml:"items,omitempty"`
	Aliases map[string]string `yaml:"aliases,omitempty"` // phrase -> node, item or action target
	Topics  map[string]string `yaml:"topics,omitempty"`  // topic -> text key or literal answer
	Texts   map[string]string `yaml:"texts,omitempty"`   // narrative text keys
	Success SuccessPredicate  `yaml:"success"`
	Persona PersonaSeed       `yaml:"persona,omitempty"`
}

// Node is a named location or obstacle.
type Node struct {
	Title       string                     `yaml:"title"`
	Description string                     `yaml:"description"`
	Locked      bool                       `yaml:"locked,omitempty"`
	Requires    []Condition                `yaml:"requires,omitempty"` // conjunction that unlocks the node
	Exits       []string                   `yaml:"exits,omitempty"`
	Items       []string                   `yaml:"items,omitempty"`
	Actions     map[Verb]map[string]Action `yaml:"actions,omitempty"`
}

// Item describes a unique object that can be taken.
type Item struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// Action is the declared outcome of a verb applied to a target within a node.
type Action struct {
	Item     string      `yaml:"item,omitempty"` // required instrument for use
	Requires []Condition `yaml:"requires,omitempty"`
	Effect   Effect      `yaml:"effect"`
}

// Effect lists the state changes an applied action makes.
type Effect struct {
	Unlock    []string           `yaml:"unlock,omitempty"`
	Solve     []string           `yaml:"solve,omitempty"`
	SetFlags  []string           `yaml:"set_flags,omitempty"`
	Clear     []string           `yaml:"clear,omitempty"`
	Grant     []string           `yaml:"grant,omitempty"`
	Consume   []string           `yaml:"consume,omitempty"`
	MoveTo    string             `yaml:"move_to,omitempty"`
	Sway      map[string]float64 `yaml:"disposition,omitempty"`
	Narration string             `yaml:"narration,omitempty"` // text key or literal
}

// Condition is a single precondition. Exactly one field must be set.
type Condition struct {
	Holds    string `yaml:"holds,omitempty"`
	Solved   string `yaml:"solved,omitempty"`
	Unlocked string `yaml:"unlocked,omitempty"`
	Flag     string `yaml:"flag,omitempty"`
	Reason   string `yaml:"reason,omitempty"` // overrides the generated failure text
}

// SuccessPredicate is checked after every applied transition.
type SuccessPredicate struct {
	At     string   `yaml:"at"`
	Holds  []string `yaml:"holds,omitempty"`
	Solved []string `yaml:"solved,omitempty"`
	Flags  []string `yaml:"flags,omitempty"`
}

// PersonaSeed configures the character a session starts with.
type PersonaSeed struct {
	Name        string             `yaml:"name,omitempty"`
	Traits      []string           `yaml:"traits,omitempty"`
	Disposition map[string]float64 `yaml:"disposition,omitempty"`
	Refusals    []string           `yaml:"refusals,omitempty"` // targets the character will not attempt
}

// ContentError reports every problem found while validating a graph.
type ContentError struct {
	GraphID  string
	Problems []string
}

func (e *ContentError) Error() string {
	if len(e.Problems) == 1 {
		return fmt.Sprintf("puzzle graph %q: %s", e.GraphID, e.Problems[0])
	}
	return fmt.Sprintf("puzzle graph %q: %d problems: %s", e.GraphID, len(e.Problems), strings.Join(e.Problems, "; "))
}

func (c Condition) kinds() int {
	n := 0
	for _, s := range []string{c.Holds, c.Solved, c.Unlocked, c.Flag} {
		if s != "" {
			n++
		}
	}
	return n
}

// String renders the condition as it appears in failure reasons.
func (c Condition) String() string {
	switch {
	case c.Holds != "":
		return "holds(" + c.Holds + ")"
	case c.Solved != "":
		return "solved(" + c.Solved + ")"
	case c.Unlocked != "":
		return "unlocked(" + c.Unlocked + ")"
	case c.Flag != "":
		return "flag(" + c.Flag + ")"
	}
	return "empty()"
}

// Text returns the narrative text for key, or key itself if it is not a declared key.
func (g *Graph) Text(key string) string {
	if t, ok := g.Texts[key]; ok {
		return t
	}
	return key
}

// ItemName returns the display name of an item.
func (g *Graph) ItemName(id string) string {
	if it, ok := g.Items[id]; ok && it.Name != "" {
		return it.Name
	}
	return strings.ReplaceAll(id, "-", " ")
}

// NodeTitle returns the display title of a node.
func (g *Graph) NodeTitle(id string) string {
	if n, ok := g.Nodes[id]; ok && n.Title != "" {
		return n.Title
	}
	return strings.ReplaceAll(id, "-", " ")
}

// Validate checks structural consistency and reports every problem found.
// Returns nil or a *ContentError.
func (g *Graph) Validate() error {
	var problems []string
	add := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if g.ID == "" {
		add("id is required")
	}
	if g.Version < 1 {
		add("version must be >= 1, got %d", g.Version)
	}
	if len(g.Nodes) == 0 {
		add("no nodes defined")
	}
	if g.Start == "" {
		add("start is required")
	} else if start := g.Nodes[g.Start]; start == nil {
		add("start node %q does not exist", g.Start)
	} else if start.Locked {
		add("start node %q cannot be locked", g.Start)
	}

	items := g.knownItems(add)
	solvable := make(map[string]bool)
	flags := make(map[string]bool)
	for _, node := range g.Nodes {
		if node == nil {
			continue
		}
		for _, targets := range node.Actions {
			for _, action := range targets {
				for _, s := range action.Effect.Solve {
					solvable[s] = true
				}
				for _, f := range action.Effect.SetFlags {
					flags[f] = true
				}
			}
		}
	}

	checkConditions := func(where string, conds []Condition) {
		for i, c := range conds {
			if c.kinds() != 1 {
				add("%s: requires[%d] must set exactly one of holds, solved, unlocked, flag", where, i)
				continue
			}
			switch {
			case c.Holds != "" && !items[c.Holds]:
				add("%s: requires unknown item %q", where, c.Holds)
			case c.Solved != "" && !solvable[c.Solved]:
				add("%s: requires %q solved but no action solves it", where, c.Solved)
			case c.Unlocked != "" && g.Nodes[c.Unlocked] == nil:
				add("%s: requires unknown node %q unlocked", where, c.Unlocked)
			case c.Flag != "" && !flags[c.Flag]:
				add("%s: requires flag %q but no action sets it", where, c.Flag)
			}
		}
	}

	for _, id := range sortedKeys(g.Nodes) {
		node := g.Nodes[id]
		if node == nil {
			add("node %q is empty", id)
			continue
		}
		where := "node " + id
		checkConditions(where, node.Requires)
		for _, exit := range node.Exits {
			if g.Nodes[exit] == nil {
				add("%s: exit to unknown node %q", where, exit)
			}
		}
		for verb, targets := range node.Actions {
			if !verb.Valid() {
				add("%s: unknown verb %q", where, verb)
				continue
			}
			for target, action := range targets {
				aw := fmt.Sprintf("%s: %s(%s)", where, verb, target)
				if action.Item != "" && !items[action.Item] {
					add("%s: unknown instrument %q", aw, action.Item)
				}
				if action.Item != "" && verb != VerbUse {
					add("%s: only use actions take an instrument", aw)
				}
				checkConditions(aw, action.Requires)
				g.checkEffect(aw, action.Effect, items, add)
			}
		}
	}

	if g.Success.At == "" {
		add("success.at is required")
	} else if g.Nodes[g.Success.At] == nil {
		add("success.at references unknown node %q", g.Success.At)
	}
	for _, it := range g.Success.Holds {
		if !items[it] {
			add("success.holds references unknown item %q", it)
		}
	}
	for _, s := range g.Success.Solved {
		if !solvable[s] {
			add("success.solved references %q but no action solves it", s)
		}
	}

	for phrase, target := range g.Aliases {
		if g.Nodes[target] == nil && !items[target] && !g.isActionTarget(target) && g.Topics[target] == "" {
			add("alias %q points at unknown target %q", phrase, target)
		}
	}

	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return &ContentError{GraphID: g.ID, Problems: problems}
}

func (g *Graph) checkEffect(where string, e Effect, items map[string]bool, add func(string, ...interface{})) {
	for _, n := range e.Unlock {
		if g.Nodes[n] == nil {
			add("%s: unlocks unknown node %q", where, n)
		}
	}
	for _, it := range append(append([]string{}, e.Grant...), e.Consume...) {
		if !items[it] {
			add("%s: references unknown item %q", where, it)
		}
	}
	if e.MoveTo != "" && g.Nodes[e.MoveTo] == nil {
		add("%s: moves to unknown node %q", where, e.MoveTo)
	}
	for _, f := range e.Clear {
		if strings.HasPrefix(f, "unlocked:") || strings.HasPrefix(f, "solved:") {
			add("%s: cannot clear %q, unlocked and solved are permanent", where, f)
		}
	}
	for axis, delta := range e.Sway {
		if delta < -1 || delta > 1 {
			add("%s: disposition %q delta %.2f out of range [-1, 1]", where, axis, delta)
		}
	}
}

// knownItems collects items placed in nodes or granted by actions, reporting duplicates.
func (g *Graph) knownItems(add func(string, ...interface{})) map[string]bool {
	items := make(map[string]bool)
	placed := make(map[string]string)
	for _, id := range sortedKeys(g.Nodes) {
		node := g.Nodes[id]
		if node == nil {
			continue
		}
		for _, it := range node.Items {
			if prev, ok := placed[it]; ok {
				add("item %q placed in both %q and %q", it, prev, id)
			}
			placed[it] = id
			items[it] = true
		}
		for _, targets := range node.Actions {
			for _, action := range targets {
				for _, it := range action.Effect.Grant {
					items[it] = true
				}
			}
		}
	}
	for id := range g.Items {
		items[id] = true
	}
	return items
}

func (g *Graph) isActionTarget(target string) bool {
	for _, node := range g.Nodes {
		if node == nil {
			continue
		}
		for _, targets := range node.Actions {
			if _, ok := targets[target]; ok {
				return true
			}
		}
	}
	return false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
