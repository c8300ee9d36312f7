package report

import (
	"errors"
	"fmt"
	"io"

	"github.com/dyluth/lockstep/internal/puzzle"
)

// FormatGraphSummary describes a graph that passed validation.
func FormatGraphSummary(w io.Writer, g *puzzle.Graph) {
	fmt.Fprintf(w, "%s v%d: %s\n", g.ID, g.Version, orDash(g.Title))
	fmt.Fprintf(w, "  %s, %s, start at %s\n",
		counted(len(g.Nodes), "node"), counted(len(g.Topics), "topic"), g.Start)
}

// FormatContentError lists every problem in a graph that failed validation.
// Returns false if err is not a content error.
func FormatContentError(w io.Writer, err error) bool {
	var ce *puzzle.ContentError
	if !errors.As(err, &ce) {
		return false
	}
	fmt.Fprintf(w, "Puzzle graph %q has %s:\n", orDash(ce.GraphID), counted(len(ce.Problems), "problem"))
	for i, p := range ce.Problems {
		fmt.Fprintf(w, "  %d. %s\n", i+1, p)
	}
	return true
}
