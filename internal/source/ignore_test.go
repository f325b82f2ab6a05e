package source

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIgnore_Match(t *testing.T) {
	tests := []struct {
		name    string
		rules   string
		path    string
		isDir   bool
		ignored bool
	}{
		{"exact name anywhere", "foo.txt", "a/b/foo.txt", false, true},
		{"exact name no match", "foo.txt", "bar.txt", false, false},
		{"extension glob", "*.log", "logs/error.log", false, true},
		{"question mark one char", "file?.txt", "file1.txt", false, true},
		{"question mark too long", "file?.txt", "file12.txt", false, false},
		{"star stops at slash", "docs/*.md", "docs/sub/a.md", false, false},
		{"rooted pattern at root", "/build", "build", true, true},
		{"rooted pattern not nested", "/build", "src/build", true, false},
		{"dir only matches dir", "tmp/", "tmp", true, true},
		{"dir only skips file", "tmp/", "tmp", false, false},
		{"dir only covers children", "tmp/", "tmp/x/y.txt", false, true},
		{"double star prefix", "**/generated", "a/b/generated", true, true},
		{"double star middle", "a/**/z.md", "a/b/c/z.md", false, true},
		{"double star suffix", "vendor/**", "vendor/x/y.go", false, true},
		{"negation re-includes", "*.md\n!keep.md", "keep.md", false, false},
		{"negation order matters", "!keep.md\n*.md", "keep.md", false, true},
		{"comment ignored", "# *.md", "a.md", false, false},
		{"escaped hash", `\#notes`, "#notes", false, true},
		{"escaped bang", `\!important`, "!important", false, true},
		{"character class", "data[0-9].csv", "data7.csv", false, true},
		{"negated class", "data[!0-9].csv", "dataX.csv", false, true},
		{"crlf line endings", "*.tmp\r\n", "x.tmp", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Given: a root .gitignore
			root := t.TempDir()
			writeFile(t, root, IgnoreFile, tt.rules)

			// When: matching
			got := NewIgnore(root).Match(tt.path, tt.isDir)

			// Then
			assert.Equal(t, tt.ignored, got)
		})
	}
}

func TestIgnore_NestedFilesAreScoped(t *testing.T) {
	// Given: a nested .gitignore that only applies under its directory
	root := t.TempDir()
	writeFile(t, root, IgnoreFile, "*.draft\n")
	writeFile(t, root, "docs/"+IgnoreFile, "private.md\n!keep.draft\n")
	ig := NewIgnore(root)

	// Then: root rules apply everywhere, nested rules only below docs/
	assert.True(t, ig.Match("a.draft", false))
	assert.True(t, ig.Match("docs/private.md", false))
	assert.False(t, ig.Match("private.md", false))
	assert.False(t, ig.Match("docs/keep.draft", false), "deeper rules win")
}

func TestIgnore_Reload(t *testing.T) {
	// Given: rules loaded once
	root := t.TempDir()
	writeFile(t, root, IgnoreFile, "*.md\n")
	ig := NewIgnore(root)
	require.True(t, ig.Match("a.md", false))

	// When: the file changes and rules are reloaded
	writeFile(t, root, IgnoreFile, "*.txt\n")
	require.NoError(t, ig.Reload())

	// Then: the new rules apply
	assert.False(t, ig.Match("a.md", false))
	assert.True(t, ig.Match("a.txt", false))
}

func TestIgnore_NilMatchesNothing(t *testing.T) {
	var ig *Ignore
	assert.False(t, ig.Match("a.md", false))
	assert.NoError(t, ig.Reload())
}

func TestScanAll_HonoursGitignore(t *testing.T) {
	// Given: a project with ignored files and directories
	root := t.TempDir()
	writeFile(t, root, IgnoreFile, "build/\n*.log\n")
	writeFile(t, root, "README.md", "# Hi\n")
	writeFile(t, root, "build/out.md", "# generated\n")
	writeFile(t, root, "run.log", "log line")

	// When: scanning with and without ignore rules
	with, err := ScanAll(context.Background(), Options{Root: root, Ignore: NewIgnore(root)})
	require.NoError(t, err)
	without, err := ScanAll(context.Background(), Options{Root: root})
	require.NoError(t, err)

	// Then
	assert.Equal(t, []string{IgnoreFile, "README.md"}, paths(with))
	assert.Contains(t, paths(without), "build/out.md")
	assert.Contains(t, paths(without), "run.log")
}

func TestExcluded_UsesGitignore(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, IgnoreFile, "secret/\n")
	opts := Options{Root: root, Ignore: NewIgnore(root)}

	assert.True(t, opts.ExcludedDir("secret"))
	assert.True(t, opts.Excluded("secret/a.md"))
	assert.False(t, opts.Excluded("public/a.md"))
}
