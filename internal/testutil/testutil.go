// Package testutil provides shared test helpers for stores and payloads.
package testutil

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/starford/tariffsync/internal/hscode"
	"github.com/starford/tariffsync/internal/models"
	"github.com/starford/tariffsync/internal/storage"
	"github.com/starford/tariffsync/internal/store"
)

// TestDB creates a temporary SQLite store that is automatically cleaned up.
func TestDB(t *testing.T) *store.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "tariffsync-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := store.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestDir creates a temporary payload directory with a storage.FS.
func TestDir(t *testing.T) (string, *storage.FS) {
	t.Helper()
	dir := t.TempDir()
	fs, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, fs
}

// Codes returns n distinct leaf codes under chapter 01.
func Codes(n int) []hscode.Code {
	out := make([]hscode.Code, n)
	for i := range out {
		out[i] = hscode.MustParse(fmt.Sprintf("010121%04d", i))
	}
	return out
}

// Body returns a well-formed source document for code. rate is the import
// duty as printed by the source ("2,5 %").
func Body(code hscode.Code, rate string) map[string]any {
	return map[string]any{
		"hs_code": code.Dotted(),
		"position_tarifaire": map[string]any{
			"section":             "I - Animaux vivants et produits du règne animal",
			"chapitre":            code.Chapter() + " - Animaux vivants",
			"position":            map[string]any{"code": code.Heading(), "libelle": "Chevaux, ânes, mulets"},
			"sous_position":       map[string]any{"code": code.Subheading(), "libelle": "Reproducteurs de race pure"},
			"designation":         "Chevaux  reproducteurs de race pure",
			"unite":               "U",
			"date_entree_vigueur": "01/01/2024",
		},
		"droits_et_taxes": []any{
			map[string]any{"code": "TVA", "libelle": "Taxe sur la valeur ajoutée", "taux": "20 %"},
			map[string]any{"code": "DI", "libelle": "Droit d'importation", "taux": rate},
		},
		"documents_et_normes": []any{
			map[string]any{"numero": "103", "document": "Certificat sanitaire", "emetteur": "ONSSA"},
		},
		"accords_et_conventions": []any{
			map[string]any{"pays": "Union Européenne", "droit": "0 %"},
		},
		"historique_droit_importation": []any{
			map[string]any{"date": "02/01/2015", "taux": "10 %"},
		},
	}
}

// Payload wraps Body in a RawPayload.
func Payload(code hscode.Code, rate string) models.RawPayload {
	return models.RawPayload{Code: code, Body: Body(code, rate), FetchedAt: time.Now().UTC()}
}
