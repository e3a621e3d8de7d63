package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/starford/tariffsync/internal/hscode"
	"github.com/starford/tariffsync/internal/models"
	"github.com/starford/tariffsync/internal/payload"
)

// MaxBodyBytes bounds a single payload response.
const MaxBodyBytes = 4 << 20

// HTTPFetcher fetches JSON or YAML payloads from a URL template. The
// template's {code} placeholder is replaced by the 10-digit code and
// {dotted} by its dotted form.
type HTTPFetcher struct {
	client    *http.Client
	template  string
	userAgent string
}

// NewHTTPFetcher returns a fetcher for urlTemplate. A nil client gets a
// default one with the given timeout.
func NewHTTPFetcher(client *http.Client, urlTemplate, userAgent string, timeout time.Duration) (*HTTPFetcher, error) {
	if !strings.Contains(urlTemplate, "{code}") && !strings.Contains(urlTemplate, "{dotted}") {
		return nil, fmt.Errorf("fetch: url template %q has no {code} placeholder", urlTemplate)
	}
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPFetcher{client: client, template: urlTemplate, userAgent: userAgent}, nil
}

// URL renders the request URL for code.
func (f *HTTPFetcher) URL(code hscode.Code) string {
	return strings.NewReplacer("{code}", code.String(), "{dotted}", code.Dotted()).Replace(f.template)
}

// Fetch implements Fetcher. 400, 404 and 410 are permanent; 408, 429, 5xx
// and transport errors are transient.
func (f *HTTPFetcher) Fetch(ctx context.Context, code hscode.Code) (models.RawPayload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL(code), nil)
	if err != nil {
		return models.RawPayload{}, Permanent(err)
	}
	req.Header.Set("Accept", "application/json, application/yaml;q=0.9")
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return models.RawPayload{}, Transient(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return models.RawPayload{}, &Error{
			Kind:   classifyStatus(resp.StatusCode),
			Status: resp.StatusCode,
			Err:    fmt.Errorf("GET %s: %s", req.URL.Redacted(), resp.Status),
		}
	}

	body, _, err := payload.DecodeReader(resp.Body, MaxBodyBytes)
	if err != nil {
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			return models.RawPayload{}, Transient(err)
		}
		return models.RawPayload{}, Permanent(err)
	}
	return models.RawPayload{Code: code, Body: body, FetchedAt: time.Now().UTC()}, nil
}

func classifyStatus(status int) Kind {
	switch {
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout, status >= 500:
		return KindTransient
	default:
		return KindPermanent
	}
}
