// Package source discovers text files under a project root and splits
// markdown files into heading sections.
package source

import "time"

// DefaultMaxFileSize is the default maximum file size to read (1MB).
const DefaultMaxFileSize int64 = 1024 * 1024

// Options configures a scan.
type Options struct {
	// Root is the project directory. Keys are relative to it.
	Root string

	// Include, when non-empty, limits scanning to files matching one of
	// these patterns.
	Include []string

	// Exclude drops matching directories and files.
	Exclude []string

	// MaxFileSize skips larger files. Zero selects DefaultMaxFileSize.
	MaxFileSize int64

	// Ignore, when set, drops paths matched by the project's .gitignore
	// files. Scans reload it first.
	Ignore *Ignore
}

// File is a discovered source file.
type File struct {
	// Path is relative to the root, with forward slashes.
	Path    string
	AbsPath string
	Size    int64
	ModTime time.Time
}

// ScanResult is one item streamed by Scan.
type ScanResult struct {
	File  *File
	Error error
}

// Document is a file's content plus its markdown sections.
type Document struct {
	Path   string
	Text   string
	Attrs  map[string]string
	Blocks []Block
}

// Block is a heading section of a markdown document.
type Block struct {
	// Key is "<path>#<slug>".
	Key        string
	Heading    string
	HeaderPath string
	Level      int
	StartLine  int
	Text       string
}
