// Package normalize validates raw tariff payloads and reshapes them into the
// canonical record schema.
package normalize

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"golang.org/x/text/unicode/norm"

	"github.com/starford/tariffsync/internal/hscode"
	"github.com/starford/tariffsync/internal/models"
)

// Reason classifies a rejection.
type Reason string

const (
	ReasonMissingField       Reason = "missing_field"
	ReasonMalformedEntry     Reason = "malformed_entry"
	ReasonIdentifierMismatch Reason = "identifier_mismatch"
	ReasonMalformedPayload   Reason = "malformed_payload"
)

// Rejection is returned for payloads that cannot become a canonical record.
type Rejection struct {
	Reason Reason
	Detail string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("%s: %s", r.Reason, r.Detail)
}

// AsRejection unwraps err into a *Rejection.
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	ok := errors.As(err, &r)
	return r, ok
}

func reject(reason Reason, format string, args ...any) error {
	return &Rejection{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// listFields are the subsections whose entry-level errors count as malformed
// entries rather than missing fields.
var listFields = map[string]bool{
	"droits_et_taxes":              true,
	"documents_et_normes":          true,
	"accords_et_conventions":       true,
	"historique_droit_importation": true,
}

// Normalize validates p and returns its canonical content. It is pure: the
// same payload always yields the same content or the same rejection.
func Normalize(p models.RawPayload) (models.RecordContent, error) {
	if _, err := hscode.Parse(string(p.Code)); err != nil {
		return models.RecordContent{}, reject(ReasonMalformedPayload, "requested identifier: %v", err)
	}
	if p.Body == nil {
		return models.RecordContent{}, reject(ReasonMalformedPayload, "empty body")
	}

	raw, err := json.Marshal(p.Body)
	if err != nil {
		return models.RecordContent{}, reject(ReasonMalformedPayload, "encode body: %v", err)
	}
	var src sourceDocument
	if err := json.Unmarshal(raw, &src); err != nil {
		return models.RecordContent{}, reject(ReasonMalformedPayload, "decode body: %v", err)
	}

	if err := src.Validate(); err != nil {
		return models.RecordContent{}, classify(err)
	}

	if s := string(src.HSCode); s != "" {
		got, err := hscode.Parse(s)
		if err != nil {
			return models.RecordContent{}, reject(ReasonIdentifierMismatch, "hs_code %q is not a leaf code", s)
		}
		if got != p.Code {
			return models.RecordContent{}, reject(ReasonIdentifierMismatch, "hs_code %s, requested %s", got, p.Code)
		}
	}

	h, err := hierarchy(p.Code, src.Position)
	if err != nil {
		return models.RecordContent{}, err
	}

	content := models.RecordContent{
		Code:        p.Code,
		Hierarchy:   h,
		Designation: Clean(src.Position.Designation),
		Unit:        Clean(src.Position.Unit),
		Taxation:    taxation(*src.Taxes),
		Documents:   documents(*src.Documents),
		Agreements:  agreements(*src.Agreements),
		DutyHistory: []models.DutyHistoryEntry{},
	}
	if d, ok := parseDate(src.Position.EntryIntoForce); ok {
		content.EntryIntoForce = d
	}
	if src.History != nil {
		content.DutyHistory = dutyHistory(*src.History)
	}
	return content, nil
}

func classify(err error) error {
	var errs validation.Errors
	if !errors.As(err, &errs) {
		return reject(ReasonMalformedPayload, "%v", err)
	}
	reason := ReasonMissingField
	for field, fe := range errs {
		var nested validation.Errors
		if listFields[field] && errors.As(fe, &nested) {
			reason = ReasonMalformedEntry
			continue
		}
		if field == "position_tarifaire" && errors.As(fe, &nested) && !onlyBlank(nested) {
			reason = ReasonMalformedEntry
			continue
		}
		// a missing section outranks any malformed entry
		return reject(ReasonMissingField, "%v", err)
	}
	return reject(reason, "%v", err)
}

// onlyBlank reports whether every leaf error is a required/nil rule failure.
func onlyBlank(errs validation.Errors) bool {
	for _, e := range errs {
		var nested validation.Errors
		if errors.As(e, &nested) {
			if !onlyBlank(nested) {
				return false
			}
			continue
		}
		var ve validation.Error
		if !errors.As(e, &ve) {
			return false
		}
		switch ve.Code() {
		case validation.ErrRequired.Code(), validation.ErrNotNilRequired.Code():
		default:
			return false
		}
	}
	return true
}

func hierarchy(code hscode.Code, pos *sourcePosition) (models.Hierarchy, error) {
	section := splitLabeled(pos.Section)
	chapter := splitLabeled(pos.Chapter)
	if digitsOnly(chapter.Code) != code.Chapter() {
		return models.Hierarchy{}, reject(ReasonIdentifierMismatch, "chapter %s does not contain %s", chapter.Code, code)
	}
	chapter.Code = code.Chapter()

	heading := models.Node{Code: code.Heading()}
	if pos.Heading != nil {
		if digitsOnly(string(pos.Heading.Code)) != code.Heading() {
			return models.Hierarchy{}, reject(ReasonIdentifierMismatch, "heading %s does not contain %s", pos.Heading.Code, code)
		}
		heading.Label = Clean(pos.Heading.Label)
	}
	sub := models.Node{Code: code.Subheading()}
	if pos.Subheading != nil {
		if digitsOnly(string(pos.Subheading.Code)) != code.Subheading() {
			return models.Hierarchy{}, reject(ReasonIdentifierMismatch, "subheading %s does not contain %s", pos.Subheading.Code, code)
		}
		sub.Label = Clean(pos.Subheading.Label)
	}
	return models.Hierarchy{Section: section, Chapter: chapter, Heading: heading, Subheading: sub}, nil
}

func taxation(in []sourceTax) []models.TaxEntry {
	out := make([]models.TaxEntry, 0, len(in))
	for _, t := range in {
		raw := Clean(string(t.Rate))
		out = append(out, models.TaxEntry{
			Code:  Clean(t.Code),
			Label: Clean(t.Label),
			Rate:  ParsePercent(raw),
			Raw:   raw,
		})
	}
	slices.SortStableFunc(out, func(a, b models.TaxEntry) int { return cmp.Compare(a.Code, b.Code) })
	return out
}

func documents(in []sourceDoc) []models.DocumentEntry {
	out := make([]models.DocumentEntry, 0, len(in))
	for _, d := range in {
		out = append(out, models.DocumentEntry{
			Code:   Clean(string(d.Number)),
			Name:   Clean(d.Name),
			Issuer: Clean(d.Issuer),
		})
	}
	slices.SortStableFunc(out, func(a, b models.DocumentEntry) int { return cmp.Compare(a.Code, b.Code) })
	return out
}

func agreements(in []sourceAgreement) []models.AgreementEntry {
	out := make([]models.AgreementEntry, 0, len(in))
	for _, a := range in {
		raw := Clean(string(a.Rate))
		out = append(out, models.AgreementEntry{
			Country:   Clean(a.Country),
			DutyRate:  ParsePercent(raw),
			Raw:       raw,
			Condition: Clean(a.Condition),
		})
	}
	slices.SortStableFunc(out, func(a, b models.AgreementEntry) int { return cmp.Compare(a.Country, b.Country) })
	return out
}

func dutyHistory(in []sourceDuty) []models.DutyHistoryEntry {
	out := make([]models.DutyHistoryEntry, 0, len(in))
	for _, h := range in {
		date, _ := parseDate(h.Date)
		raw := Clean(string(h.Rate))
		out = append(out, models.DutyHistoryEntry{Date: date, Rate: ParsePercent(raw), Raw: raw})
	}
	slices.SortStableFunc(out, func(a, b models.DutyHistoryEntry) int { return cmp.Compare(a.Date, b.Date) })
	return out
}

// Clean applies NFKC normalization and collapses runs of whitespace.
func Clean(s string) string {
	return strings.Join(strings.Fields(norm.NFKC.String(s)), " ")
}

// ParsePercent parses a French-formatted percentage ("2,5 %", "17.5", "10%").
// Non-numeric markers such as "(*)" yield nil, as do NaN and infinities.
func ParsePercent(s string) *float64 {
	s = strings.TrimSuffix(strings.TrimSpace(Clean(s)), "%")
	s = strings.ReplaceAll(strings.TrimSpace(s), " ", "")
	s = strings.ReplaceAll(s, ",", ".")
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

var dateLayouts = []string{"02/01/2006", "2/1/2006", "2006-01-02", "02-01-2006", "02.01.2006"}

// parseDate returns the ISO-8601 form of a dd/mm/yyyy or ISO date.
func parseDate(s string) (string, bool) {
	s = Clean(s)
	if s == "" {
		return "", false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(time.DateOnly), true
		}
	}
	return "", false
}

func splitLabeled(s string) models.Node {
	m := labeledCode.FindStringSubmatch(Clean(s))
	if m == nil {
		return models.Node{Label: Clean(s)}
	}
	return models.Node{Code: strings.ToUpper(m[1]), Label: m[2]}
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
