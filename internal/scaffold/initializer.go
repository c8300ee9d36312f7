package scaffold

import (
	"embed"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dyluth/lockstep/internal/config"
	"github.com/dyluth/lockstep/internal/puzzle"
)

//go:embed templates/*
var templatesFS embed.FS

// FileInfo represents a file to be created during initialization
type FileInfo struct {
	Path        string // relative to the project root
	Template    string
	Permissions os.FileMode
}

// Files lists what Initialize creates, in creation order.
var Files = []FileInfo{
	{Path: "lockstep.yml", Template: "templates/lockstep.yml.tmpl", Permissions: 0644},
	{Path: filepath.Join("content", "escape.yml"), Template: "templates/escape.yml", Permissions: 0644},
	{Path: ".env.example", Template: "templates/env.example.tmpl", Permissions: 0644},
}

// Initialize creates a Lockstep project in root: a lockstep.yml, the
// starter escape graph and an .env.example.
// If force is true, existing files are overwritten.
func Initialize(root string, force bool) error {
	if !force {
		if err := CheckExisting(root); err != nil {
			return err
		}
	}

	for _, f := range Files {
		content, err := templatesFS.ReadFile(f.Template)
		if err != nil {
			return fmt.Errorf("failed to read %s template: %w", f.Path, err)
		}

		path := filepath.Join(root, f.Path)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", filepath.Dir(path), err)
		}
		if err := os.WriteFile(path, content, f.Permissions); err != nil {
			return fmt.Errorf("failed to write %s: %w", f.Path, err)
		}
	}

	return validateCreatedFiles(root)
}

// validateCreatedFiles checks the written config loads and the graph is playable.
func validateCreatedFiles(root string) error {
	if _, err := config.Load(filepath.Join(root, "lockstep.yml")); err != nil {
		return fmt.Errorf("created lockstep.yml is invalid: %w", err)
	}
	if _, err := puzzle.LoadGraph(filepath.Join(root, "content", "escape.yml")); err != nil {
		return fmt.Errorf("created escape graph is invalid: %w", err)
	}
	return nil
}

// PrintSuccess prints the success message with created files
func PrintSuccess(w io.Writer) {
	fmt.Fprintln(w, "\n✅ Successfully initialized Lockstep project!")
	fmt.Fprintln(w, "\nCreated:")
	for _, f := range Files {
		fmt.Fprintf(w, "  ✓ %s\n", f.Path)
	}
	fmt.Fprintln(w, "\nNext steps:")
	fmt.Fprintln(w, "  1. Copy .env.example to .env and set GEMINI_API_KEY to give Anna a voice")
	fmt.Fprintln(w, "  2. Check the puzzle graph: lockstep validate")
	fmt.Fprintln(w, "  3. Start Redis and run: lockstep serve")
}
