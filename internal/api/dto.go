package api

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/tariffsync/internal/hscode"
	"github.com/starford/tariffsync/internal/models"
	"github.com/starford/tariffsync/internal/pipeline"
)

// RecordListResponse wraps record listings and search results.
type RecordListResponse struct {
	Records []models.RecordSummary `json:"records" validate:"required"`
	// Next is the cursor for the following page, empty on the last one.
	Next hscode.Code `json:"next,omitempty" example:"0101210000"`
}

// RunResponse is a persisted run plus whether this process is running one now.
type RunResponse struct {
	Run     models.Run `json:"run" validate:"required"`
	Running bool       `json:"running"`
}

// RunRequest is the request body for triggering a run. Zero fields fall back
// to the configured defaults.
type RunRequest struct {
	Codes       []string `json:"codes,omitempty" example:"0101.21.00.00"`
	Window      string   `json:"window,omitempty" example:"24h"`
	BatchSize   int      `json:"batch_size,omitempty" example:"50"`
	Workers     int      `json:"workers,omitempty" example:"4"`
	ResumeRunID string   `json:"resume_run_id,omitempty"`
}

// Validate checks ranges and formats.
func (r RunRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Window, validation.By(func(v any) error {
			if s := v.(string); s != "" {
				_, err := time.ParseDuration(s)
				return err
			}
			return nil
		})),
		validation.Field(&r.BatchSize, validation.Min(0), validation.Max(10000)),
		validation.Field(&r.Workers, validation.Min(0), validation.Max(256)),
		validation.Field(&r.Codes, validation.Each(validation.By(func(v any) error {
			_, err := hscode.Parse(v.(string))
			return err
		}))),
	)
}

// Params converts a validated request into pipeline parameters.
func (r RunRequest) Params() (pipeline.Params, error) {
	p := pipeline.Params{
		BatchSize:   r.BatchSize,
		Workers:     r.Workers,
		ResumeRunID: r.ResumeRunID,
	}
	if r.Window != "" {
		d, err := time.ParseDuration(r.Window)
		if err != nil {
			return p, err
		}
		p.Window = d
	}
	for _, s := range r.Codes {
		c, err := hscode.Parse(s)
		if err != nil {
			return p, err
		}
		p.Codes = append(p.Codes, c)
	}
	return p, nil
}
