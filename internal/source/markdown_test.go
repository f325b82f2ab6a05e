package source

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitMarkdown_BlocksPerHeading(t *testing.T) {
	// Given: a document with nested headings and preamble text
	text := "intro line\n# Guide\nwelcome\n## Install Steps\nrun it\n## Usage\nuse it\n"

	// When: splitting
	attrs, blocks := SplitMarkdown("docs/guide.md", text)

	// Then: each heading becomes a keyed block
	require.Len(t, blocks, 3)
	assert.Equal(t, "docs/guide.md#guide", blocks[0].Key)
	assert.Equal(t, "docs/guide.md#install-steps", blocks[1].Key)
	assert.Equal(t, "Guide > Install Steps", blocks[1].HeaderPath)
	assert.Equal(t, 2, blocks[1].Level)
	assert.Equal(t, 4, blocks[1].StartLine)
	assert.Equal(t, "## Install Steps\nrun it", blocks[1].Text)
	assert.Equal(t, "Guide", attrs["title"])
}

func TestSplitMarkdown_IgnoresHeadingsInFences(t *testing.T) {
	text := "# Real\n```sh\n# not a heading\n```\n~~~\n## also not\n~~~\n"

	_, blocks := SplitMarkdown("a.md", text)

	require.Len(t, blocks, 1)
	assert.Contains(t, blocks[0].Text, "# not a heading")
}

func TestSplitMarkdown_DuplicateHeadingsGetSuffix(t *testing.T) {
	_, blocks := SplitMarkdown("a.md", "## Notes\nx\n## Notes\ny\n## Notes\nz\n")

	require.Len(t, blocks, 3)
	assert.Equal(t, "a.md#notes", blocks[0].Key)
	assert.Equal(t, "a.md#notes-1", blocks[1].Key)
	assert.Equal(t, "a.md#notes-2", blocks[2].Key)
}

func TestSplitMarkdown_Frontmatter(t *testing.T) {
	// Given: YAML frontmatter with scalars and a list
	text := "---\ntitle: Handbook\ntags: [ops, oncall]\ndraft: true\n---\n# Intro\nhello\n"

	// When: splitting
	attrs, blocks := SplitMarkdown("h.md", text)

	// Then: attrs come from frontmatter and line numbers account for it
	assert.Equal(t, "Handbook", attrs["title"])
	assert.Equal(t, "ops,oncall", attrs["tags"])
	assert.Equal(t, "true", attrs["draft"])
	require.Len(t, blocks, 1)
	assert.Equal(t, 6, blocks[0].StartLine)
}

func TestSplitMarkdown_NoHeadings(t *testing.T) {
	attrs, blocks := SplitMarkdown("n.md", "just text\n")

	assert.Empty(t, blocks)
	assert.Empty(t, attrs)
}

func TestSlugify(t *testing.T) {
	tests := map[string]string{
		"Hello World":          "hello-world",
		"  API -- Reference  ": "api-reference",
		"What's new?":          "whats-new",
		"snake_case":           "snake_case",
		"!!!":                  "section",
		"Ünïcode Tïtle":        "ünïcode-tïtle",
	}
	for in, want := range tests {
		assert.Equal(t, want, Slugify(in), in)
	}
}

func TestSplitKey(t *testing.T) {
	p, s := SplitKey("docs/a.md#intro")
	assert.Equal(t, "docs/a.md", p)
	assert.Equal(t, "intro", s)

	p, s = SplitKey("docs/a.md")
	assert.Equal(t, "docs/a.md", p)
	assert.Empty(t, s)
}
