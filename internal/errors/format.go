package errors

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

// Payload is the machine-readable shape of an error, shared by the JSON CLI
// output and MCP tool errors.
type Payload struct {
	Code         string            `json:"code"`
	Message      string            `json:"message"`
	Category     string            `json:"category"`
	Kind         string            `json:"kind"`
	Retryable    bool              `json:"retryable"`
	RetryAfterMs int64             `json:"retry_after_ms,omitempty"`
	Suggestion   string            `json:"suggestion,omitempty"`
	Details      map[string]string `json:"details,omitempty"`
	Cause        string            `json:"cause,omitempty"`
}

// NewPayload describes err. Errors that are not AmanErrors are reported as
// internal errors carrying their message.
func NewPayload(err error) *Payload {
	if err == nil {
		return nil
	}
	ae := asOrInternal(err)
	p := &Payload{
		Code:       ae.Code,
		Message:    ae.Message,
		Category:   string(ae.Category),
		Kind:       Classify(ae).String(),
		Retryable:  ae.Retryable,
		Suggestion: ae.Suggestion,
		Details:    ae.Details,
	}
	if ae.RetryAfter > 0 {
		p.RetryAfterMs = ae.RetryAfter.Milliseconds()
	}
	if ae.Cause != nil && ae.Cause.Error() != ae.Message {
		p.Cause = ae.Cause.Error()
	}
	return p
}

// FormatJSON renders err as {"error": {...}} for commands whose stdout is JSON.
func FormatJSON(err error) ([]byte, error) {
	return json.Marshal(struct {
		Error *Payload `json:"error"`
	}{NewPayload(err)})
}

// FormatForCLI formats an error for terminal display.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}
	ae := asOrInternal(err)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Error: %s\n", ae.Message)
	if ae.Suggestion != "" {
		fmt.Fprintf(&sb, "  Hint: %s\n", ae.Suggestion)
	}
	if ae.RetryAfter > 0 {
		fmt.Fprintf(&sb, "  Retry after: %s\n", ae.RetryAfter)
	}
	fmt.Fprintf(&sb, "  Code: %s\n", ae.Code)
	return sb.String()
}

// LogAttrs returns slog attributes describing err.
func LogAttrs(err error) []slog.Attr {
	if err == nil {
		return nil
	}
	ae, ok := As(err)
	if !ok {
		return []slog.Attr{slog.String("error", err.Error())}
	}
	attrs := []slog.Attr{
		slog.String("error", ae.Message),
		slog.String("error_code", ae.Code),
		slog.String("category", string(ae.Category)),
		slog.String("kind", Classify(ae).String()),
	}
	if ae.RetryAfter > 0 {
		attrs = append(attrs, slog.Duration("retry_after", ae.RetryAfter))
	}
	if ae.Cause != nil {
		attrs = append(attrs, slog.String("cause", ae.Cause.Error()))
	}
	for k, v := range ae.Details {
		attrs = append(attrs, slog.String("detail_"+k, v))
	}
	return attrs
}

func asOrInternal(err error) *AmanError {
	if ae, ok := As(err); ok {
		return ae
	}
	return Wrap(ErrCodeInternal, err)
}
