package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/starford/tariffsync/internal/hscode"
)

func TestHTTPFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); ua != "tariffsync-test" {
			t.Errorf("user agent = %q", ua)
		}
		switch r.URL.Path {
		case "/hs/0101210000":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"hs_code":"0101210000","droits_et_taxes":[]}`))
		case "/hs/0101290000":
			w.WriteHeader(http.StatusServiceUnavailable)
		case "/hs/0101300000":
			w.WriteHeader(http.StatusTooManyRequests)
		case "/hs/0102210000":
			_, _ = w.Write([]byte("<html>not a payload"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f, err := NewHTTPFetcher(srv.Client(), srv.URL+"/hs/{code}", "tariffsync-test", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	p, err := f.Fetch(ctx, "0101210000")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if p.Body["hs_code"] != "0101210000" || p.FetchedAt.IsZero() {
		t.Errorf("payload = %+v", p)
	}

	cases := map[hscode.Code]bool{ // code -> permanent
		"0101290000": false,
		"0101300000": false,
		"0102210000": true,
		"0102290000": true,
	}
	for code, permanent := range cases {
		_, err := f.Fetch(ctx, code)
		if err == nil {
			t.Errorf("%s: expected error", code)
			continue
		}
		if IsPermanent(err) != permanent {
			t.Errorf("%s: permanent = %v, want %v (%v)", code, IsPermanent(err), permanent, err)
		}
	}
}

func TestHTTPFetcher_TransportErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	f, _ := NewHTTPFetcher(nil, url+"/{code}", "", time.Second)
	_, err := f.Fetch(context.Background(), "0101210000")
	if err == nil || IsPermanent(err) {
		t.Errorf("err = %v, want transient", err)
	}
}

func TestNewHTTPFetcher_RequiresPlaceholder(t *testing.T) {
	if _, err := NewHTTPFetcher(nil, "http://example.test/hs", "", time.Second); err == nil {
		t.Error("expected error for template without placeholder")
	}
	f, err := NewHTTPFetcher(nil, "http://example.test/hs/{dotted}", "", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if got := f.URL("0101210000"); !strings.HasSuffix(got, "/0101.21.00.00") {
		t.Errorf("URL = %s", got)
	}
}
