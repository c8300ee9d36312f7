package puzzle

// View is the read-only projection of the current node the interpreter
// resolves chat text against.
type View struct {
	Location  string
	Exits     []string
	Items     []string          // untaken items lying here
	Inventory []string          // items held by anyone in the party
	Targets   map[Verb][]string // declared action targets by verb
	Aliases   map[string]string // phrase -> canonical target
	Topics    []string
	Names     map[string]string // canonical target -> display name
}

// View builds the interpreter's projection of ws.
func (m *Machine) View(ws *WorldState) View {
	v := View{
		Location:  ws.Location,
		Inventory: ws.PartyInventory(),
		Targets:   make(map[Verb][]string),
		Aliases:   m.graph.Aliases,
		Topics:    sortedKeys(m.graph.Topics),
		Names:     make(map[string]string),
	}
	node := m.graph.Nodes[ws.Location]
	if node == nil {
		return v
	}

	v.Exits = append(v.Exits, node.Exits...)
	for _, it := range node.Items {
		if _, taken := ws.Taken[it]; !taken {
			v.Items = append(v.Items, it)
		}
	}
	for verb, targets := range node.Actions {
		v.Targets[verb] = sortedKeys(targets)
	}

	for _, id := range v.Exits {
		v.Names[id] = m.graph.NodeTitle(id)
	}
	v.Names[ws.Location] = m.graph.NodeTitle(ws.Location)
	for _, it := range append(append([]string{}, v.Items...), v.Inventory...) {
		v.Names[it] = m.graph.ItemName(it)
	}
	return v
}
