package checksum

import (
	"testing"
	"time"

	"github.com/starford/tariffsync/internal/hscode"
	"github.com/starford/tariffsync/internal/models"
)

func rate(f float64) *float64 { return &f }

func sample() models.CanonicalRecord {
	return models.CanonicalRecord{
		RecordContent: models.RecordContent{
			Code:        hscode.MustParse("0101210000"),
			Designation: "Reproducteurs de race pure",
			Unit:        "U",
			Taxation: []models.TaxEntry{
				{Code: "DI", Label: "Droit d'Importation", Rate: rate(2.5), Raw: "2,5 %"},
			},
			Documents:  []models.DocumentEntry{{Code: "108", Name: "Certificat sanitaire"}},
			Agreements: []models.AgreementEntry{},
		},
		Version:    1,
		CapturedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestSum(t *testing.T) {
	got := Sum([]byte("abc"))
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got != want {
		t.Errorf("Sum = %s", got)
	}
}

func TestFingerprint_Stable(t *testing.T) {
	r := sample()
	a, err := Fingerprint(r.RecordContent)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := Fingerprint(r.RecordContent)
	if a != b || len(a) != 64 {
		t.Errorf("fingerprints differ or wrong length: %s %s", a, b)
	}
}

func TestFingerprint_IgnoresVersionAndTimestamp(t *testing.T) {
	r1 := sample()
	r2 := sample()
	r2.Version = 7
	r2.CapturedAt = r2.CapturedAt.Add(72 * time.Hour)
	a, _ := Fingerprint(r1.RecordContent)
	b, _ := Fingerprint(r2.RecordContent)
	if a != b {
		t.Error("version/timestamp must not affect the fingerprint")
	}
}

func TestFingerprint_ContentChanges(t *testing.T) {
	base, _ := Fingerprint(sample().RecordContent)

	mutations := map[string]func(*models.CanonicalRecord){
		"designation": func(r *models.CanonicalRecord) { r.Designation += "." },
		"unit":        func(r *models.CanonicalRecord) { r.Unit = "KG" },
		"tax rate":    func(r *models.CanonicalRecord) { r.Taxation[0].Rate = rate(10) },
		"documents":   func(r *models.CanonicalRecord) { r.Documents = nil },
		"agreement": func(r *models.CanonicalRecord) {
			r.Agreements = append(r.Agreements, models.AgreementEntry{Country: "Turquie"})
		},
		"section label": func(r *models.CanonicalRecord) { r.Hierarchy.Section.Label = "x" },
	}
	for name, mutate := range mutations {
		r := sample()
		mutate(&r)
		got, _ := Fingerprint(r.RecordContent)
		if got == base {
			t.Errorf("%s: fingerprint did not change", name)
		}
	}
}
