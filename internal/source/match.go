package source

import (
	"path"
	"strings"
)

// Directories never scanned.
var defaultExcludeDirs = []string{
	"**/.git/**",
	"**/node_modules/**",
	"**/vendor/**",
	"**/__pycache__/**",
	"**/.amanembed/**",
}

// Files never read.
var sensitiveFilePatterns = []string{
	".env",
	".env.*",
	"*.pem",
	"*.key",
	"*credentials*",
	"*secrets*",
	".netrc",
	"id_rsa",
	"id_ed25519",
}

// Patterns use forward slashes. Supported forms:
//
//	**/name/**   any path segment equal to name
//	dir/**       everything under dir
//	**/*.ext     any file with that suffix
//	dir/*.md     a glob within one directory
//	*.md, name*  a glob on the base name
func matchDir(rel, pattern string) bool {
	if strings.HasPrefix(pattern, "**/") {
		name := strings.TrimSuffix(strings.TrimPrefix(pattern, "**/"), "/**")
		for _, part := range strings.Split(rel, "/") {
			if part == name {
				return true
			}
		}
		return false
	}
	prefix := strings.TrimSuffix(pattern, "/**")
	return rel == prefix || strings.HasPrefix(rel, prefix+"/")
}

func matchFile(rel, pattern string) bool {
	base := path.Base(rel)

	switch {
	case strings.HasPrefix(pattern, "**/"):
		suffix := strings.TrimPrefix(pattern, "**/")
		if strings.HasSuffix(suffix, "/**") {
			return matchDir(path.Dir(rel), pattern)
		}
		ok, _ := path.Match(suffix, base)
		return ok

	case strings.HasSuffix(pattern, "/**"):
		return strings.HasPrefix(rel, strings.TrimSuffix(pattern, "/**")+"/")

	case strings.Contains(pattern, "/"):
		ok, _ := path.Match(pattern, rel)
		return ok

	case strings.HasPrefix(pattern, "*") && strings.HasSuffix(pattern, "*") && len(pattern) > 1:
		middle := strings.Trim(pattern, "*")
		return strings.Contains(strings.ToLower(base), strings.ToLower(middle))
	}

	ok, _ := path.Match(pattern, base)
	return ok
}

func matchAnyFile(rel string, patterns []string) bool {
	for _, p := range patterns {
		if matchFile(rel, p) {
			return true
		}
	}
	return false
}

func matchAnyDir(rel string, patterns []string) bool {
	for _, p := range patterns {
		if matchDir(rel, p) {
			return true
		}
	}
	return false
}

// Excluded reports whether rel would be skipped by a scan with opts.
// Size limits are not checked.
func (o Options) Excluded(rel string) bool {
	dir := path.Dir(rel)
	if dir != "." && (matchAnyDir(dir, defaultExcludeDirs) || matchAnyDir(dir, o.Exclude)) {
		return true
	}
	if matchAnyFile(rel, sensitiveFilePatterns) || matchAnyFile(rel, o.Exclude) {
		return true
	}
	if o.Ignore.Match(rel, false) {
		return true
	}
	if len(o.Include) > 0 && !matchAnyFile(rel, o.Include) {
		return true
	}
	return false
}

// ExcludedDir reports whether a directory and everything under it is skipped.
func (o Options) ExcludedDir(rel string) bool {
	return matchAnyDir(rel, defaultExcludeDirs) || matchAnyDir(rel, o.Exclude) || o.Ignore.Match(rel, true)
}
