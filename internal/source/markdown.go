package source

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

var (
	// Matches headers: # Title, ## Title, etc.
	headerPattern = regexp.MustCompile(`^(#{1,6})\s+(.+?)\s*#*\s*$`)

	// Matches frontmatter: ---\n...\n---
	frontmatterPattern = regexp.MustCompile(`(?s)^---\n(.*?)\n---\n*`)
)

// SplitMarkdown parses YAML frontmatter into string attributes and splits
// text into one block per heading. Headings inside fenced code are ignored.
// Text before the first heading belongs to no block.
func SplitMarkdown(path, text string) (map[string]string, []Block) {
	attrs := map[string]string{}
	body := text
	lineOffset := 0

	if m := frontmatterPattern.FindStringSubmatch(text); m != nil {
		parseFrontmatter(m[1], attrs)
		lineOffset = strings.Count(m[0], "\n")
		body = text[len(m[0]):]
	}

	var (
		blocks  []Block
		current *Block
		content strings.Builder
		stack   [6]string
		inFence bool
		fence   string
		slugs   = map[string]int{}
	)
	flush := func() {
		if current == nil {
			return
		}
		current.Text = strings.TrimRight(content.String(), "\n")
		blocks = append(blocks, *current)
		content.Reset()
	}

	for i, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if marker := fenceMarker(trimmed); marker != "" {
			if !inFence {
				inFence, fence = true, marker
			} else if strings.HasPrefix(trimmed, fence) {
				inFence = false
			}
		}

		if !inFence {
			if m := headerPattern.FindStringSubmatch(line); m != nil {
				flush()
				level := len(m[1])
				title := strings.TrimSpace(m[2])

				stack[level-1] = title
				for j := level; j < len(stack); j++ {
					stack[j] = ""
				}
				var parts []string
				for j := 0; j < level; j++ {
					if stack[j] != "" {
						parts = append(parts, stack[j])
					}
				}

				current = &Block{
					Key:        path + "#" + uniqueSlug(Slugify(title), slugs),
					Heading:    title,
					HeaderPath: strings.Join(parts, " > "),
					Level:      level,
					StartLine:  lineOffset + i + 1,
				}
			}
		}
		if current != nil {
			content.WriteString(line)
			content.WriteString("\n")
		}
	}
	flush()

	if _, ok := attrs["title"]; !ok && len(blocks) > 0 && blocks[0].Level == 1 {
		attrs["title"] = blocks[0].Heading
	}
	return attrs, blocks
}

func fenceMarker(trimmed string) string {
	switch {
	case strings.HasPrefix(trimmed, "```"):
		return "```"
	case strings.HasPrefix(trimmed, "~~~"):
		return "~~~"
	}
	return ""
}

// parseFrontmatter copies scalar frontmatter fields into attrs. Lists are
// joined with commas; nested maps are skipped.
func parseFrontmatter(raw string, attrs map[string]string) {
	var fm map[string]any
	if err := yaml.Unmarshal([]byte(raw), &fm); err != nil {
		return
	}
	for k, v := range fm {
		switch val := v.(type) {
		case string:
			attrs[k] = val
		case int, int64, float64, bool:
			attrs[k] = fmt.Sprint(val)
		case []any:
			items := make([]string, 0, len(val))
			for _, item := range val {
				items = append(items, fmt.Sprint(item))
			}
			attrs[k] = strings.Join(items, ",")
		}
	}
}

// Slugify lowercases a heading and joins its words with hyphens.
func Slugify(heading string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(heading) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_':
			b.WriteRune(r)
			dash = false
		case unicode.IsSpace(r) || r == '-':
			if b.Len() > 0 && !dash {
				b.WriteByte('-')
				dash = true
			}
		}
	}
	slug := strings.TrimSuffix(b.String(), "-")
	if slug == "" {
		return "section"
	}
	return slug
}

func uniqueSlug(slug string, seen map[string]int) string {
	n := seen[slug]
	seen[slug] = n + 1
	if n == 0 {
		return slug
	}
	return fmt.Sprintf("%s-%d", slug, n)
}

// BlockText returns the text of the block with key in a markdown document.
func BlockText(doc *Document, key string) (string, bool) {
	for _, b := range doc.Blocks {
		if b.Key == key {
			return b.Text, true
		}
	}
	return "", false
}

// SplitKey splits "path#slug" into its parts. A key without '#' is a path.
func SplitKey(key string) (path, slug string) {
	if i := strings.LastIndexByte(key, '#'); i >= 0 {
		return key[:i], key[i+1:]
	}
	return key, ""
}
