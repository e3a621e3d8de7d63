package fetch

import (
	"context"
	"testing"

	"github.com/starford/tariffsync/internal/hscode"
	"github.com/starford/tariffsync/internal/storage"
)

func TestFileFetcher(t *testing.T) {
	fs, err := storage.NewFS(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	_ = fs.Write("0101210000.json", []byte(`{"hs_code":"0101210000"}`))
	_ = fs.Write("01/0101290000.yaml", []byte("hs_code: \"0101290000\"\n"))
	_ = fs.Write("0101300000.json", []byte(`{"broken":`))

	f := NewFileFetcher(fs)
	ctx := context.Background()

	for _, code := range []string{"0101210000", "0101290000"} {
		p, err := f.Fetch(ctx, hscode.Code(code))
		if err != nil {
			t.Fatalf("Fetch %s: %v", code, err)
		}
		if p.Body["hs_code"] != code {
			t.Errorf("%s: body = %v", code, p.Body)
		}
	}

	if _, err := f.Fetch(ctx, "0101300000"); !IsPermanent(err) {
		t.Errorf("malformed snapshot: err = %v, want permanent", err)
	}
	if _, err := f.Fetch(ctx, "0102210000"); !IsPermanent(err) {
		t.Errorf("missing snapshot: err = %v, want permanent", err)
	}
}
