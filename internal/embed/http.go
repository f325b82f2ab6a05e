package embed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	amanerrors "github.com/Aman-CERP/amanembed/internal/errors"
)

// newHTTPClient builds a pooled client. Per-request deadlines come from the context.
func newHTTPClient(poolSize int) (*http.Client, *http.Transport) {
	if poolSize <= 0 {
		poolSize = DefaultPoolSize
	}
	transport := &http.Transport{
		MaxIdleConns:        poolSize,
		MaxIdleConnsPerHost: poolSize,
		MaxConnsPerHost:     poolSize * 2,
		IdleConnTimeout:     10 * time.Second,
	}
	return &http.Client{Transport: transport}, transport
}

// classifyStatus maps a non-2xx response to a provider error.
func classifyStatus(provider string, resp *http.Response) *amanerrors.AmanError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := fmt.Sprintf("%s: HTTP %d: %s", provider, resp.StatusCode, strings.TrimSpace(string(body)))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		err := amanerrors.ProviderError(amanerrors.ErrCodeRateLimited, msg, nil)
		if d, ok := parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()); ok {
			err.WithRetryAfter(d)
		}
		return err
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return amanerrors.ProviderError(amanerrors.ErrCodeAuth, msg, nil).
			WithSuggestion("Check the provider API key")
	case resp.StatusCode == http.StatusBadRequest ||
		resp.StatusCode == http.StatusNotFound ||
		resp.StatusCode == http.StatusUnprocessableEntity ||
		resp.StatusCode == http.StatusRequestEntityTooLarge:
		return amanerrors.ProviderError(amanerrors.ErrCodeBadRequest, msg, nil)
	case resp.StatusCode >= 500:
		return amanerrors.ProviderError(amanerrors.ErrCodeUnavailable, msg, nil)
	default:
		return amanerrors.ProviderError(amanerrors.ErrCodeUnknown, msg, nil)
	}
}

// classifyTransport maps a client.Do failure to a provider error.
// Context cancellation is returned unchanged so callers can recognise it.
func classifyTransport(provider string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return amanerrors.ProviderError(amanerrors.ErrCodeNetwork, provider+": "+err.Error(), err)
}

// parseRetryAfter reads a Retry-After header in seconds or HTTP-date form.
func parseRetryAfter(v string, now time.Time) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(v); err == nil {
		d := t.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}
