package internal

import (
	"io"

	"github.com/starford/tariffsync/internal/fetch"
	"github.com/starford/tariffsync/internal/store"
)

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config  *Config
	logOut  io.Writer
	store   store.Store
	fetcher fetch.Fetcher
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithLogOutput redirects the JSON log stream (stdout by default). The MCP
// command sets it to stderr because stdout carries the protocol.
func WithLogOutput(w io.Writer) Option {
	return func(a *application) {
		a.logOut = w
	}
}

// WithStore uses st instead of opening the configured store. The caller
// keeps ownership and closes it.
func WithStore(st store.Store) Option {
	return func(a *application) {
		a.store = st
	}
}

// WithFetcher uses f instead of the configured source.
func WithFetcher(f fetch.Fetcher) Option {
	return func(a *application) {
		a.fetcher = f
	}
}
