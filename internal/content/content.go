// Package content implements the content loader: resolving
// `<path>`, `<path#section>` and glob load-content expressions into
// FileContent/SectionContent Variables. Section narrowing reuses
// internal/svalue's goldmark-backed Markdown section walk
// (svalue.ParseMarkdown/MarkdownSection) rather than a second parser —
// tree-sitter, wired elsewhere in the domain stack for source-code
// parsing, has no Markdown grammar binding in this dependency set (see
// DESIGN.md).
package content

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mlld-lang/mlld-sub002/internal/ast"
	"github.com/mlld-lang/mlld-sub002/internal/collab"
	"github.com/mlld-lang/mlld-sub002/internal/mlerr"
	"github.com/mlld-lang/mlld-sub002/internal/security"
	"github.com/mlld-lang/mlld-sub002/internal/svalue"
)

// Loader resolves `<…>` load-content expressions against a FileSystem
// collaborator.
type Loader struct {
	FS  collab.FileSystem
	Dir string            // working directory for relative path resolution
}

// New builds a Loader rooted at dir.
func New(fs collab.FileSystem, dir string) *Loader {
	return &Loader{FS: fs, Dir: dir}
}

// Result is one loaded file, optionally narrowed to a heading section.
type Result struct {
	Path    string
	Text    string
	Section string // "" when no #section was requested
}

// Load resolves one `<path>` / `<path#section>` expression. A bare path with no section returns the whole file's
// text; a path with a glob pattern (`*`, `**`) expands via FS.Glob and
// returns one Result per match, sorted for deterministic ordering.
func (l *Loader) Load(ctx context.Context, node ast.PathNode, section string) ([]Result, error) {
	raw := filepath.Join(node.Segments...)
	full := l.resolve(raw)

	if strings.ContainsAny(raw, "*") {
		matches, err := l.FS.Glob(ctx, full)
		if err != nil {
			return nil, mlerr.Wrap(mlerr.FileError, err, "glob %q failed", full)
		}
		sort.Strings(matches)
		out := make([]Result, 0, len(matches))
		for _, m := range matches {
			text, err := l.FS.Read(ctx, m)
			if err != nil {
				return nil, mlerr.Wrap(mlerr.FileNotFound, err, "reading %q", m)
			}
			r, err := narrowToSection(m, text, section)
			if err != nil {
				return nil, err
			}
			out = append(out, r)
		}
		return out, nil
	}

	exists, err := l.FS.Exists(ctx, full)
	if err != nil {
		return nil, mlerr.Wrap(mlerr.FileError, err, "checking %q", full)
	}
	if !exists {
		return nil, mlerr.New(mlerr.FileNotFound, "no such file: %s", full).WithContext("path", full)
	}
	text, err := l.FS.Read(ctx, full)
	if err != nil {
		return nil, mlerr.Wrap(mlerr.FileNotFound, err, "reading %q", full)
	}
	r, err := narrowToSection(full, text, section)
	if err != nil {
		return nil, err
	}
	return []Result{r}, nil
}

func (l *Loader) resolve(raw string) string {
	if filepath.IsAbs(raw) {
		return raw
	}
	return filepath.Join(l.Dir, raw)
}

// ToStructuredValue wraps a single Result as a *svalue.Value tagged
// `src:file` taint and `file:<path>` (plus `section:<name>` when narrowed)
// provenance.
func ToStructuredValue(r Result) *svalue.Value {
	sources := []string{"file:" + r.Path}
	if r.Section != "" {
		sources = append(sources, "section:"+r.Section)
	}
	mx := security.Descriptor{Taint: []string{"src:file"}, Sources: sources}
	typ := svalue.Text
	if strings.HasSuffix(r.Path, ".md") || strings.HasSuffix(r.Path, ".markdown") {
		typ = svalue.Markdown
	}
	return svalue.New(typ, r.Text, nil, mx)
}

// narrowToSection returns the whole file when section == "", otherwise the
// matching heading's body via extractSection.
func narrowToSection(path, text, section string) (Result, error) {
	if section == "" {
		return Result{Path: path, Text: text}, nil
	}
	body, err := extractSection(text, section)
	if err != nil {
		return Result{}, mlerr.Wrap(mlerr.FieldNotFound, err, "section %q not found in %s", section, path)
	}
	return Result{Path: path, Text: body, Section: section}, nil
}

// extractSection parses source as Markdown via svalue.ParseMarkdown and
// returns the text of the heading-delimited section matching name
// (case-insensitive, trimmed) — the standard "section" semantics used by
// documentation tooling.
func extractSection(source, name string) (string, error) {
	sv := svalue.ParseMarkdown(source, security.Empty())
	data, _ := sv.AsData().(map[string]any)
	sections, _ := data["sections"].([]any)
	for _, raw := range sections {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		heading, _ := m["heading"].(string)
		if !strings.EqualFold(strings.TrimSpace(heading), strings.TrimSpace(name)) {
			continue
		}
		text, _ := m["text"].(string)
		return text, nil
	}
	return "", fmt.Errorf("no heading matched %q", name)
}
