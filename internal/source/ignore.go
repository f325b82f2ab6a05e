package source

import (
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// IgnoreFile is the per-directory ignore file honoured by scans.
const IgnoreFile = ".gitignore"

// Ignore holds the .gitignore rules found under a root. Rules are read on
// first use and again on every Reload. Safe for concurrent use.
type Ignore struct {
	root string

	mu     sync.RWMutex
	loaded bool
	rules  []ignoreRule
}

type ignoreRule struct {
	re       *regexp.Regexp
	base     string // directory holding the .gitignore, "" at the root
	negate   bool
	dirOnly  bool
	anchored bool
}

// NewIgnore returns the ignore rules of root, loaded lazily.
func NewIgnore(root string) *Ignore {
	return &Ignore{root: root}
}

// Reload re-reads every .gitignore under the root. Directories excluded by
// default are not searched.
func (ig *Ignore) Reload() error {
	if ig == nil {
		return nil
	}
	root, err := filepath.Abs(ig.root)
	if err != nil {
		return err
	}

	var rules []ignoreRule
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if rel != "." && matchAnyDir(rel, defaultExcludeDirs) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() != IgnoreFile {
			return nil
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return nil
		}
		base := path.Dir(rel)
		if base == "." {
			base = ""
		}
		rules = append(rules, parseIgnore(string(data), base)...)
		return nil
	})

	// Deeper files come later so their rules win.
	sort.SliceStable(rules, func(i, j int) bool { return depth(rules[i].base) < depth(rules[j].base) })

	ig.mu.Lock()
	ig.rules, ig.loaded = rules, true
	ig.mu.Unlock()
	return err
}

// Match reports whether rel is ignored. The last matching rule decides; a
// rule matching a parent directory covers everything below it.
func (ig *Ignore) Match(rel string, isDir bool) bool {
	if ig == nil {
		return false
	}
	ig.mu.RLock()
	loaded := ig.loaded
	ig.mu.RUnlock()
	if !loaded {
		_ = ig.Reload()
	}

	ig.mu.RLock()
	defer ig.mu.RUnlock()
	ignored := false
	for _, r := range ig.rules {
		if r.match(rel, isDir) {
			ignored = !r.negate
		}
	}
	return ignored
}

func (r ignoreRule) match(rel string, isDir bool) bool {
	if r.base != "" {
		if !strings.HasPrefix(rel, r.base+"/") {
			return false
		}
		rel = strings.TrimPrefix(rel, r.base+"/")
	}
	parts := strings.Split(rel, "/")
	for i := range parts {
		last := i == len(parts)-1
		if r.dirOnly && last && !isDir {
			continue
		}
		target := parts[i]
		if r.anchored {
			target = strings.Join(parts[:i+1], "/")
		}
		if r.re.MatchString(target) {
			return true
		}
	}
	return false
}

func parseIgnore(content, base string) []ignoreRule {
	var rules []ignoreRule
	for _, line := range strings.Split(content, "\n") {
		if r, ok := parseIgnoreLine(line, base); ok {
			rules = append(rules, r)
		}
	}
	return rules
}

func parseIgnoreLine(line, base string) (ignoreRule, bool) {
	line = strings.TrimSuffix(line, "\r")
	if strings.HasSuffix(line, `\ `) {
		line = strings.TrimSuffix(line, `\ `) + " "
	} else {
		line = strings.TrimRight(line, " \t")
	}
	if line == "" || line[0] == '#' {
		return ignoreRule{}, false
	}

	r := ignoreRule{base: base}
	switch {
	case strings.HasPrefix(line, `\#`), strings.HasPrefix(line, `\!`):
		line = line[1:]
	case line[0] == '!':
		r.negate = true
		line = line[1:]
	}
	if strings.HasSuffix(line, "/") {
		r.dirOnly = true
		line = strings.TrimSuffix(line, "/")
	}
	if strings.HasPrefix(line, "/") {
		line = line[1:]
		r.anchored = true
	}
	if strings.Contains(line, "/") {
		r.anchored = true
	}
	if line == "" {
		return ignoreRule{}, false
	}

	re, err := regexp.Compile("^" + globToRegex(line) + "$")
	if err != nil {
		return ignoreRule{}, false
	}
	r.re = re
	return r, true
}

// globToRegex translates gitignore glob syntax. "*" and "?" stop at "/",
// "**/" spans any number of directories.
func globToRegex(glob string) string {
	var b strings.Builder
	for i := 0; i < len(glob); i++ {
		c := glob[i]
		switch {
		case strings.HasPrefix(glob[i:], "**/"):
			b.WriteString("(?:.*/)?")
			i += 2
		case strings.HasPrefix(glob[i:], "**"):
			b.WriteString(".*")
			i++
		case c == '*':
			b.WriteString("[^/]*")
		case c == '?':
			b.WriteString("[^/]")
		case c == '[':
			j := strings.IndexByte(glob[i+1:], ']')
			if j < 0 {
				b.WriteString(`\[`)
				continue
			}
			class := glob[i+1 : i+1+j]
			if strings.HasPrefix(class, "!") {
				class = "^" + class[1:]
			}
			b.WriteString("[" + class + "]")
			i += j + 1
		case c == '\\' && i+1 < len(glob):
			b.WriteString(regexp.QuoteMeta(glob[i+1 : i+2]))
			i++
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	return b.String()
}

func depth(base string) int {
	if base == "" {
		return 0
	}
	return strings.Count(base, "/") + 1
}
