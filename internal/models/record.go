// Package models defines the domain types for tariffsync.
package models

import (
	"time"

	"github.com/starford/tariffsync/internal/hscode"
)

// RawPayload is an unvalidated source document for one identifier.
// It lives only inside the pipeline.
type RawPayload struct {
	Code      hscode.Code    `json:"code"`
	Body      map[string]any `json:"body"`
	FetchedAt time.Time      `json:"fetched_at"`
}

// Node is one level of the classification hierarchy.
type Node struct {
	Code  string `json:"code"`
	Label string `json:"label"`
}

// Hierarchy is the ancestor chain of a leaf.
type Hierarchy struct {
	Section    Node `json:"section"`
	Chapter    Node `json:"chapter"`
	Heading    Node `json:"heading"`    // HS4
	Subheading Node `json:"subheading"` // HS6
}

// TaxEntry is one duty or tax levied on import.
type TaxEntry struct {
	Code  string   `json:"code"`
	Label string   `json:"label"`
	Rate  *float64 `json:"rate"` // percent; nil when the source prints a non-numeric marker
	Raw   string   `json:"raw"`
}

// DocumentEntry is a required import document.
type DocumentEntry struct {
	Code   string `json:"code"`
	Name   string `json:"name"`
	Issuer string `json:"issuer,omitempty"`
}

// AgreementEntry is a preferential rate granted under a trade agreement.
type AgreementEntry struct {
	Country   string   `json:"country"`
	DutyRate  *float64 `json:"duty_rate"`
	Raw       string   `json:"raw"`
	Condition string   `json:"condition,omitempty"`
}

// DutyHistoryEntry is a past import-duty rate.
type DutyHistoryEntry struct {
	Date string   `json:"date"` // ISO-8601 date
	Rate *float64 `json:"rate"`
	Raw  string   `json:"raw"`
}

// RecordContent holds every field that participates in the fingerprint.
// Field order is part of the canonical serialization; append only.
type RecordContent struct {
	Code           hscode.Code        `json:"code"`
	Hierarchy      Hierarchy          `json:"hierarchy"`
	Designation    string             `json:"designation"`
	Unit           string             `json:"unit"`
	EntryIntoForce string             `json:"entry_into_force,omitempty"`
	Taxation       []TaxEntry         `json:"taxation"`
	Documents      []DocumentEntry    `json:"documents"`
	Agreements     []AgreementEntry   `json:"agreements"`
	DutyHistory    []DutyHistoryEntry `json:"duty_history"`
}

// CanonicalRecord is a validated, normalized and fingerprinted record.
type CanonicalRecord struct {
	RecordContent
	Version     int       `json:"version"`
	Fingerprint string    `json:"fingerprint"`
	CapturedAt  time.Time `json:"captured_at"`
}

// ChangeKind distinguishes the first insert from later content changes.
type ChangeKind string

const (
	ChangeCreated ChangeKind = "created"
	ChangeUpdated ChangeKind = "updated"
)

// ListDiff counts keyed entry differences in one subsection.
type ListDiff struct {
	Added   []string `json:"added,omitempty"`
	Removed []string `json:"removed,omitempty"`
	Changed []string `json:"changed,omitempty"`
}

// Empty reports whether the subsection did not change.
func (d ListDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// DiffSummary is the structured description of a content change.
type DiffSummary struct {
	Fields      []string  `json:"fields"`
	Taxation    *ListDiff `json:"taxation,omitempty"`
	Documents   *ListDiff `json:"documents,omitempty"`
	Agreements  *ListDiff `json:"agreements,omitempty"`
	DutyHistory *ListDiff `json:"duty_history,omitempty"`
}

// ChangeEntry records a version transition for one identifier.
type ChangeEntry struct {
	ID             int64          `json:"id"`
	Code           hscode.Code    `json:"code"`
	Kind           ChangeKind     `json:"kind"`
	OldVersion     int            `json:"old_version"`
	NewVersion     int            `json:"new_version"`
	OldFingerprint string         `json:"old_fingerprint,omitempty"`
	NewFingerprint string         `json:"new_fingerprint"`
	OldValue       *RecordContent `json:"old_value,omitempty"`
	NewValue       *RecordContent `json:"new_value"`
	Summary        DiffSummary    `json:"summary"`
	RunID          string         `json:"run_id"`
	ChangedAt      time.Time      `json:"changed_at"`
}

// RecordSummary is a lightweight listing row.
type RecordSummary struct {
	Code        hscode.Code `json:"code"`
	Designation string      `json:"designation"`
	Version     int         `json:"version"`
	Fingerprint string      `json:"fingerprint"`
	CapturedAt  time.Time   `json:"captured_at"`
}
