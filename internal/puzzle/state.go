package puzzle

import (
	"sort"

	"github.com/goccy/go-json"
)

// Set is a string set that marshals as a sorted JSON array.
type Set map[string]struct{}

// NewSet builds a set from the given members.
func NewSet(members ...string) Set {
	s := make(Set, len(members))
	for _, m := range members {
		s[m] = struct{}{}
	}
	return s
}

// Has reports membership.
func (s Set) Has(m string) bool {
	_, ok := s[m]
	return ok
}

// Add inserts m and reports whether it was newly added.
func (s Set) Add(m string) bool {
	if s.Has(m) {
		return false
	}
	s[m] = struct{}{}
	return true
}

// Sorted returns the members in lexical order.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for m := range s {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Clone returns an independent copy.
func (s Set) Clone() Set {
	c := make(Set, len(s))
	for m := range s {
		c[m] = struct{}{}
	}
	return c
}

func (s Set) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

func (s *Set) UnmarshalJSON(data []byte) error {
	var members []string
	if err := json.Unmarshal(data, &members); err != nil {
		return err
	}
	*s = NewSet(members...)
	return nil
}

// WorldState is the mutable snapshot of one session's world.
// Values are treated as immutable once returned from the Machine; transitions produce copies.
type WorldState struct {
	GraphID     string            `json:"graph_id"`
	Location    string            `json:"location"`    // where the character stands
	Disposition string            `json:"disposition"` // character mood tag
	Unlocked    Set               `json:"unlocked"`
	Solved      Set               `json:"solved"`
	Flags       Set               `json:"flags"`
	Inventory   map[string]Set    `json:"inventory"` // participant -> items held
	Taken       map[string]string `json:"taken"`     // item -> participant who first took it
	Turn        int               `json:"turn"`      // applied transitions so far
}

// Clone returns a deep copy.
func (w *WorldState) Clone() *WorldState {
	c := *w
	c.Unlocked = w.Unlocked.Clone()
	c.Solved = w.Solved.Clone()
	c.Flags = w.Flags.Clone()
	c.Inventory = make(map[string]Set, len(w.Inventory))
	for p, items := range w.Inventory {
		c.Inventory[p] = items.Clone()
	}
	c.Taken = make(map[string]string, len(w.Taken))
	for it, p := range w.Taken {
		c.Taken[it] = p
	}
	return &c
}

// PartyHolds reports whether any participant holds item.
func (w *WorldState) PartyHolds(item string) bool {
	return w.Holder(item) != ""
}

// Holder returns the participant holding item, or "" if nobody does.
func (w *WorldState) Holder(item string) string {
	for _, p := range sortedKeys(w.Inventory) {
		if w.Inventory[p].Has(item) {
			return p
		}
	}
	return ""
}

// PartyInventory returns every item held by any participant, sorted.
func (w *WorldState) PartyInventory() []string {
	all := make(Set)
	for _, items := range w.Inventory {
		for it := range items {
			all.Add(it)
		}
	}
	return all.Sorted()
}

// worldWire is the persisted form of WorldState. Sets travel as sorted
// arrays; nested map-of-Set values are flattened before encoding.
type worldWire struct {
	GraphID     string              `json:"graph_id"`
	Location    string              `json:"location"`
	Disposition string              `json:"disposition"`
	Unlocked    []string            `json:"unlocked"`
	Solved      []string            `json:"solved"`
	Flags       []string            `json:"flags"`
	Inventory   map[string][]string `json:"inventory"`
	Taken       map[string]string   `json:"taken"`
	Turn        int                 `json:"turn"`
}

func (w WorldState) MarshalJSON() ([]byte, error) {
	wire := worldWire{
		GraphID:     w.GraphID,
		Location:    w.Location,
		Disposition: w.Disposition,
		Unlocked:    w.Unlocked.Sorted(),
		Solved:      w.Solved.Sorted(),
		Flags:       w.Flags.Sorted(),
		Inventory:   make(map[string][]string, len(w.Inventory)),
		Taken:       w.Taken,
		Turn:        w.Turn,
	}
	for p, items := range w.Inventory {
		wire.Inventory[p] = items.Sorted()
	}
	return json.Marshal(wire)
}

func (w *WorldState) UnmarshalJSON(data []byte) error {
	var wire worldWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*w = WorldState{
		GraphID:     wire.GraphID,
		Location:    wire.Location,
		Disposition: wire.Disposition,
		Unlocked:    NewSet(wire.Unlocked...),
		Solved:      NewSet(wire.Solved...),
		Flags:       NewSet(wire.Flags...),
		Inventory:   make(map[string]Set, len(wire.Inventory)),
		Taken:       wire.Taken,
		Turn:        wire.Turn,
	}
	for p, items := range wire.Inventory {
		w.Inventory[p] = NewSet(items...)
	}
	w.normalize()
	return nil
}

// Marshal encodes the state for persistence.
func (w *WorldState) Marshal() (string, error) {
	data, err := json.Marshal(w)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// UnmarshalWorldState decodes a persisted snapshot.
func UnmarshalWorldState(data string) (*WorldState, error) {
	var w WorldState
	if err := json.Unmarshal([]byte(data), &w); err != nil {
		return nil, err
	}
	w.normalize()
	return &w, nil
}

func (w *WorldState) normalize() {
	if w.Unlocked == nil {
		w.Unlocked = make(Set)
	}
	if w.Solved == nil {
		w.Solved = make(Set)
	}
	if w.Flags == nil {
		w.Flags = make(Set)
	}
	if w.Inventory == nil {
		w.Inventory = make(map[string]Set)
	}
	if w.Taken == nil {
		w.Taken = make(map[string]string)
	}
}
