package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/Aman-CERP/amanembed/internal/index"
)

// StatusRenderer prints an index.Status.
type StatusRenderer struct {
	out    io.Writer
	styles Styles
}

// NewStatusRenderer creates a status renderer.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{out: out, styles: GetStyles(noColor)}
}

// Render writes a human-readable report.
func (r *StatusRenderer) Render(st index.Status) error {
	var b strings.Builder
	s := r.styles
	row := func(label string, value any) {
		pad := strings.Repeat(" ", max(12-len(label)-1, 0))
		fmt.Fprintf(&b, "  %s%s %v\n", s.Label.Render(label+":"), pad, value)
	}

	b.WriteString(s.Header.Render("Embedding Status") + "\n\n")
	row("Phase", s.Phase(string(st.State.Phase)))
	row("Model", st.State.Model.Key())
	row("Dimensions", st.Dimensions)
	row("Search", st.SearchMode)
	if run := st.State.Run; run != nil {
		row("Run", fmt.Sprintf("%s %d/%d (%s)", run.RunID, run.Current, run.Total, run.Reason))
	}
	row("Queued", st.State.Queue.Pending)
	row("Stale", st.State.Queue.Stale)
	b.WriteString("\n")

	row("Entities", st.Entities)
	row("Sources", st.Store.Sources)
	row("Blocks", st.Store.Blocks)
	row("Store size", FormatBytes(st.Store.SizeBytes))
	if st.HNSWSize > 0 {
		row("HNSW nodes", st.HNSWSize)
	}
	row("Query cache", st.CacheSize)

	if len(st.Store.Fresh) > 0 || len(st.Store.Stale) > 0 {
		b.WriteString("\n  " + s.Label.Render("Vectors by model:") + "\n")
		for _, model := range modelKeys(st.Store.Fresh, st.Store.Stale) {
			fmt.Fprintf(&b, "    %s  fresh %d  stale %d\n", model, st.Store.Fresh[model], st.Store.Stale[model])
		}
	}

	if e := st.State.LastError; e != nil {
		fmt.Fprintf(&b, "\n  %s %s\n", s.Error.Render(e.Code), e.Message)
	}

	_, err := io.WriteString(r.out, b.String())
	return err
}

// RenderJSON writes st as indented JSON.
func (r *StatusRenderer) RenderJSON(st index.Status) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(st)
}

func modelKeys(maps ...map[string]int) []string {
	seen := map[string]bool{}
	var keys []string
	for _, m := range maps {
		for k := range m {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys)
	return keys
}

// FormatBytes formats bytes to human-readable format.
func FormatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)
	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
