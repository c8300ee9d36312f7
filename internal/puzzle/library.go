package puzzle

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrGraphNotFound is returned when no graph file exists for an ID.
var ErrGraphNotFound = errors.New("puzzle graph not found")

// ParseGraph decodes and validates a graph definition.
// Unknown fields are rejected so typos in content fail fast.
func ParseGraph(data []byte) (*Graph, error) {
	var g Graph
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&g); err != nil {
		return nil, &ContentError{GraphID: g.ID, Problems: []string{"failed to parse YAML: " + err.Error()}}
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return &g, nil
}

// LoadGraph reads and validates a graph file.
func LoadGraph(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrGraphNotFound, path)
		}
		return nil, fmt.Errorf("failed to read puzzle graph: %w", err)
	}
	return ParseGraph(data)
}

// Library loads graphs from a directory on first use and caches them.
// Cached graphs are shared read-only by every session.
type Library struct {
	dir string

	mu     sync.Mutex
	graphs map[string]*Graph
}

// NewLibrary returns a Library reading <dir>/<id>.yml (or .yaml).
func NewLibrary(dir string) *Library {
	return &Library{dir: dir, graphs: make(map[string]*Graph)}
}

// Add registers an already-built graph, validating it first.
func (l *Library) Add(g *Graph) error {
	if err := g.Validate(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.graphs[g.ID] = g
	return nil
}

// Get returns the graph with the given ID, loading it if necessary.
func (l *Library) Get(id string) (*Graph, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.HasPrefix(id, ".") {
		return nil, fmt.Errorf("%w: invalid graph id %q", ErrGraphNotFound, id)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if g, ok := l.graphs[id]; ok {
		return g, nil
	}
	if l.dir == "" {
		return nil, fmt.Errorf("%w: %s", ErrGraphNotFound, id)
	}

	var g *Graph
	var err error
	for _, ext := range []string{".yml", ".yaml"} {
		g, err = LoadGraph(filepath.Join(l.dir, id+ext))
		if !errors.Is(err, ErrGraphNotFound) {
			break
		}
	}
	if err != nil {
		return nil, err
	}
	if g.ID != id {
		return nil, &ContentError{GraphID: id, Problems: []string{fmt.Sprintf("file declares id %q", g.ID)}}
	}

	log.Printf("[Puzzle] Loaded graph %s v%d (%d nodes)", g.ID, g.Version, len(g.Nodes))
	l.graphs[id] = g
	return g, nil
}

// Machine returns a state machine for the graph with the given ID.
func (l *Library) Machine(id string) (*Machine, error) {
	g, err := l.Get(id)
	if err != nil {
		return nil, err
	}
	return NewMachine(g), nil
}
