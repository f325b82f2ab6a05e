package mcp

import (
	"path/filepath"
	"strings"
)

var mimeTypes = map[string]string{
	".md":   "text/markdown",
	".mdx":  "text/markdown",
	".txt":  "text/plain",
	".rst":  "text/x-rst",
	".go":   "text/x-go",
	".py":   "text/x-python",
	".ts":   "text/typescript",
	".js":   "text/javascript",
	".json": "application/json",
	".yaml": "text/x-yaml",
	".yml":  "text/x-yaml",
	".toml": "text/x-toml",
	".html": "text/html",
	".css":  "text/css",
	".sh":   "text/x-sh",
	".sql":  "text/x-sql",
}

// MimeTypeForPath returns the MIME type for a source path, text/plain when unknown.
func MimeTypeForPath(path string) string {
	if m, ok := mimeTypes[strings.ToLower(filepath.Ext(path))]; ok {
		return m
	}
	return "text/plain"
}
