// Package storage is the file-system layer for payload snapshots: it serves
// the file-based fetcher and receives record exports.
package storage

import (
	"context"
	"time"
)

// FileInfo describes one payload file.
type FileInfo struct {
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	Size      int64     `json:"size"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Provider is the interface for payload file operations. Paths are relative
// to the provider root.
type Provider interface {
	// List returns metadata for every payload file (.json, .yaml, .yml) under dir.
	List(ctx context.Context, dir string) ([]FileInfo, error)
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Write atomically writes content to path.
	Write(path string, content []byte) error
}

// PayloadExts are the recognised payload file extensions, in lookup order.
var PayloadExts = []string{".json", ".yaml", ".yml"}
