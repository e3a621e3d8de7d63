// Package changes derives structured diff summaries between record versions.
package changes

import (
	"reflect"
	"sort"

	"github.com/starford/tariffsync/internal/models"
)

// Summarize compares two versions of the same record content. old may be nil
// for a first insert, in which case every populated field is reported.
func Summarize(old *models.RecordContent, cur models.RecordContent) models.DiffSummary {
	var prev models.RecordContent
	if old != nil {
		prev = *old
	}

	var s models.DiffSummary
	if prev.Hierarchy != cur.Hierarchy {
		s.Fields = append(s.Fields, "hierarchy")
	}
	if prev.Designation != cur.Designation {
		s.Fields = append(s.Fields, "designation")
	}
	if prev.Unit != cur.Unit {
		s.Fields = append(s.Fields, "unit")
	}
	if prev.EntryIntoForce != cur.EntryIntoForce {
		s.Fields = append(s.Fields, "entry_into_force")
	}

	if d := diffKeyed(prev.Taxation, cur.Taxation, func(e models.TaxEntry) string { return e.Code }); !d.Empty() {
		s.Fields = append(s.Fields, "taxation")
		s.Taxation = &d
	}
	if d := diffKeyed(prev.Documents, cur.Documents, func(e models.DocumentEntry) string { return e.Code }); !d.Empty() {
		s.Fields = append(s.Fields, "documents")
		s.Documents = &d
	}
	if d := diffKeyed(prev.Agreements, cur.Agreements, func(e models.AgreementEntry) string { return e.Country }); !d.Empty() {
		s.Fields = append(s.Fields, "agreements")
		s.Agreements = &d
	}
	if d := diffKeyed(prev.DutyHistory, cur.DutyHistory, func(e models.DutyHistoryEntry) string { return e.Date }); !d.Empty() {
		s.Fields = append(s.Fields, "duty_history")
		s.DutyHistory = &d
	}
	if s.Fields == nil {
		s.Fields = []string{}
	}
	return s
}

func diffKeyed[T any](old, cur []T, key func(T) string) models.ListDiff {
	before := make(map[string]T, len(old))
	for _, e := range old {
		before[key(e)] = e
	}
	var d models.ListDiff
	seen := make(map[string]struct{}, len(cur))
	for _, e := range cur {
		k := key(e)
		seen[k] = struct{}{}
		prev, ok := before[k]
		switch {
		case !ok:
			d.Added = append(d.Added, k)
		case !reflect.DeepEqual(prev, e):
			d.Changed = append(d.Changed, k)
		}
	}
	for k := range before {
		if _, ok := seen[k]; !ok {
			d.Removed = append(d.Removed, k)
		}
	}
	sort.Strings(d.Added)
	sort.Strings(d.Removed)
	sort.Strings(d.Changed)
	return d
}
