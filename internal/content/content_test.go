package content

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mlld-lang/mlld-sub002/internal/ast"
)

// fakeFS is a minimal in-memory collab.FileSystem for exercising the
// loader without touching the real filesystem.
type fakeFS struct {
	files map[string]string
	globs map[string][]string
}

func (f *fakeFS) Read(_ context.Context, path string) (string, error) {
	return f.files[path], nil
}

func (f *fakeFS) Write(_ context.Context, path, content string) error {
	f.files[path] = content
	return nil
}

func (f *fakeFS) Exists(_ context.Context, path string) (bool, error) {
	_, ok := f.files[path]
	return ok, nil
}

func (f *fakeFS) IsDirectory(context.Context, string) (bool, error) { return false, nil }

func (f *fakeFS) Glob(_ context.Context, pattern string) ([]string, error) {
	return f.globs[pattern], nil
}

func pathNode(segments ...string) ast.PathNode {
	return ast.PathNode{Segments: segments}
}

func TestLoadWholeFile(t *testing.T) {
	fs := &fakeFS{files: map[string]string{"/root/notes.md": "# Title\nbody text"}}
	l := New(fs, "/root")

	results, err := l.Load(context.Background(), pathNode("notes.md"), "")
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "/root/notes.md", results[0].Path)
	require.Equal(t, "# Title\nbody text", results[0].Text)
	require.Empty(t, results[0].Section)
}

func TestLoadMissingFile(t *testing.T) {
	fs := &fakeFS{files: map[string]string{}}
	l := New(fs, "/root")

	_, err := l.Load(context.Background(), pathNode("missing.md"), "")
	require.Error(t, err)
}

func TestLoadNarrowsToSection(t *testing.T) {
	doc := "# Intro\nhello\n\n## Details\ndetail body\n"
	fs := &fakeFS{files: map[string]string{"/root/doc.md": doc}}
	l := New(fs, "/root")

	results, err := l.Load(context.Background(), pathNode("doc.md"), "Details")
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "Details", results[0].Section)
	require.Contains(t, results[0].Text, "detail body")
}

func TestLoadUnknownSectionErrors(t *testing.T) {
	doc := "# Intro\nhello\n"
	fs := &fakeFS{files: map[string]string{"/root/doc.md": doc}}
	l := New(fs, "/root")

	_, err := l.Load(context.Background(), pathNode("doc.md"), "Nope")
	require.Error(t, err)
}

func TestLoadGlobExpandsAndSorts(t *testing.T) {
	fs := &fakeFS{
		files: map[string]string{
			"/root/b.txt": "b",
			"/root/a.txt": "a",
		},
		globs: map[string][]string{
			"/root/*.txt": {"/root/b.txt", "/root/a.txt"},
		},
	}
	l := New(fs, "/root")

	results, err := l.Load(context.Background(), pathNode("*.txt"), "")
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "/root/a.txt", results[0].Path)
	require.Equal(t, "/root/b.txt", results[1].Path)
}

func TestToStructuredValueTagsFileTaint(t *testing.T) {
	r := Result{Path: "/root/notes.md", Text: "hi"}
	sv := ToStructuredValue(r)
	require.True(t, sv.Descriptor().HasTaint("src:file"))
	require.Equal(t, "hi", sv.AsText())
}
