package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	amanerrors "github.com/Aman-CERP/amanembed/internal/errors"
)

// Scan walks opts.Root and streams every readable text file.
// The channel is closed when the walk ends.
func Scan(ctx context.Context, opts Options) (<-chan ScanResult, error) {
	absRoot, err := rootDir(opts)
	if err != nil {
		return nil, err
	}
	maxSize := opts.MaxFileSize
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}
	if err := opts.Ignore.Reload(); err != nil {
		return nil, fmt.Errorf("load %s: %w", IgnoreFile, err)
	}

	results := make(chan ScanResult, 64)
	go func() {
		defer close(results)
		err := filepath.WalkDir(absRoot, func(p string, d fs.DirEntry, err error) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			if err != nil {
				return nil // Skip files we can't access
			}

			rel, err := filepath.Rel(absRoot, p)
			if err != nil || rel == "." {
				return nil
			}
			rel = filepath.ToSlash(rel)

			if d.IsDir() {
				if opts.ExcludedDir(rel) {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() {
				return nil
			}
			if opts.Excluded(rel) {
				return nil
			}

			info, err := d.Info()
			if err != nil || info.Size() > maxSize {
				return nil
			}
			if isBinaryFile(p) {
				return nil
			}

			f := &File{Path: rel, AbsPath: p, Size: info.Size(), ModTime: info.ModTime()}
			select {
			case results <- ScanResult{File: f}:
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			select {
			case results <- ScanResult{Error: err}:
			case <-ctx.Done():
			}
		}
	}()
	return results, nil
}

// ScanAll collects a Scan, ordered by path.
func ScanAll(ctx context.Context, opts Options) ([]File, error) {
	ch, err := Scan(ctx, opts)
	if err != nil {
		return nil, err
	}
	var files []File
	var scanErr error
	for r := range ch {
		if r.Error != nil {
			scanErr = r.Error
			continue
		}
		files = append(files, *r.File)
	}
	if scanErr != nil {
		return files, scanErr
	}
	if err := ctx.Err(); err != nil {
		return files, err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// Read loads the file at rel under opts.Root and splits it into blocks when
// it is markdown.
func Read(opts Options, rel string) (*Document, error) {
	absRoot, err := rootDir(opts)
	if err != nil {
		return nil, err
	}
	abs, err := Resolve(absRoot, rel)
	if err != nil {
		return nil, err
	}

	maxSize := opts.MaxFileSize
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}

	f, err := os.Open(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, amanerrors.New(amanerrors.ErrCodeFileNotFound, fmt.Sprintf("%s not found", rel), err)
		}
		return nil, amanerrors.New(amanerrors.ErrCodeFilePermission, fmt.Sprintf("cannot open %s", rel), err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rel, err)
	}
	if int64(len(data)) > maxSize {
		return nil, amanerrors.New(amanerrors.ErrCodeFileTooLarge,
			fmt.Sprintf("%s exceeds %d bytes", rel, maxSize), nil)
	}
	if !utf8.Valid(data) || bytes.IndexByte(data, 0) >= 0 {
		return nil, amanerrors.New(amanerrors.ErrCodeInvalidInput, fmt.Sprintf("%s is not a text file", rel), nil)
	}

	rel = filepath.ToSlash(rel)
	doc := &Document{Path: rel, Text: string(data), Attrs: map[string]string{}}
	if IsMarkdown(rel) {
		doc.Attrs, doc.Blocks = SplitMarkdown(rel, doc.Text)
	}
	return doc, nil
}

// Resolve joins rel onto absRoot, refusing paths that escape it.
func Resolve(absRoot, rel string) (string, error) {
	abs := filepath.Join(absRoot, filepath.FromSlash(rel))
	if abs != absRoot && !strings.HasPrefix(abs, absRoot+string(filepath.Separator)) {
		return "", amanerrors.New(amanerrors.ErrCodeInvalidInput, fmt.Sprintf("path outside root: %s", rel), nil)
	}
	return abs, nil
}

// RelPath converts an absolute path to a root-relative key.
func RelPath(opts Options, abs string) (string, error) {
	absRoot, err := rootDir(opts)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(absRoot, abs)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", amanerrors.New(amanerrors.ErrCodeInvalidInput, fmt.Sprintf("path outside root: %s", abs), nil)
	}
	return filepath.ToSlash(rel), nil
}

// IsMarkdown reports whether path has a markdown extension.
func IsMarkdown(p string) bool {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".md", ".markdown", ".mdx":
		return true
	}
	return false
}

func rootDir(opts Options) (string, error) {
	root := opts.Root
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("failed to stat root directory: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("root path is not a directory: %s", abs)
	}
	return abs, nil
}

// isBinaryFile checks the first 512 bytes for a NUL.
func isBinaryFile(p string) bool {
	f, err := os.Open(p)
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, 512)
	n, err := f.Read(buf)
	if err != nil {
		return false
	}
	return bytes.IndexByte(buf[:n], 0) >= 0
}
