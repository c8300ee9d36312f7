package puzzle

import "fmt"

// Verb is one member of the closed action vocabulary.
type Verb string

const (
	VerbMove    Verb = "move"
	VerbTake    Verb = "take"
	VerbUse     Verb = "use"
	VerbOpen    Verb = "open"
	VerbExamine Verb = "examine"
	VerbAsk     Verb = "ask"
)

// Verbs lists every verb an Intent may carry.
var Verbs = []Verb{VerbMove, VerbTake, VerbUse, VerbOpen, VerbExamine, VerbAsk}

// Valid reports whether v belongs to the closed vocabulary.
func (v Verb) Valid() bool {
	for _, known := range Verbs {
		if v == known {
			return true
		}
	}
	return false
}

// Intent is a structurally validated game action.
// Item is only meaningful for VerbUse; Participant is the sender the action is attributed to.
type Intent struct {
	Verb        Verb   `json:"verb"`
	Target      string `json:"target"`
	Item        string `json:"item,omitempty"`
	Participant string `json:"participant,omitempty"`
}

// String renders the intent in call form, e.g. use(fuse, panel).
func (i Intent) String() string {
	if i.Verb == VerbUse {
		return fmt.Sprintf("use(%s, %s)", i.Item, i.Target)
	}
	return fmt.Sprintf("%s(%s)", i.Verb, i.Target)
}

// Validate checks the intent is well formed. It does not check the graph.
func (i Intent) Validate() error {
	if !i.Verb.Valid() {
		return fmt.Errorf("unknown verb %q", i.Verb)
	}
	if i.Target == "" {
		return fmt.Errorf("%s requires a target", i.Verb)
	}
	if i.Verb == VerbUse && i.Item == "" {
		return fmt.Errorf("use requires an item")
	}
	return nil
}
