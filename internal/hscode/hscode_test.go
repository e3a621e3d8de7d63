package hscode

import (
	"errors"
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	cases := map[string]string{
		"0101210000":    "0101210000",
		"0101.21.00.00": "0101210000",
		" 8471 30 00 10": "8471300010",
	}
	for in, want := range cases {
		got, err := Parse(in)
		if err != nil {
			t.Fatalf("Parse(%q): %v", in, err)
		}
		if string(got) != want {
			t.Errorf("Parse(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, in := range []string{"", "0101", "01012100001", "0101x10000"} {
		if _, err := Parse(in); !errors.Is(err, ErrInvalid) {
			t.Errorf("Parse(%q) err = %v, want ErrInvalid", in, err)
		}
	}
}

func TestAncestors(t *testing.T) {
	c := MustParse("0101210000")
	if c.Chapter() != "01" || c.Heading() != "0101" || c.Subheading() != "010121" {
		t.Errorf("ancestors = %s/%s/%s", c.Chapter(), c.Heading(), c.Subheading())
	}
	if c.Dotted() != "0101.21.00.00" {
		t.Errorf("dotted = %s", c.Dotted())
	}
	if !c.HasPrefix("01.01") || c.HasPrefix("0102") || c.HasPrefix("") {
		t.Error("HasPrefix mismatch")
	}
}

func TestReadList_CSVHeader(t *testing.T) {
	in := "designation,hs_code\nChevaux,0101.21.00.00\nAnes,0101300000\n,\n"
	codes, errs := ReadList(strings.NewReader(in))
	if len(errs) != 0 {
		t.Fatalf("errs = %v", errs)
	}
	if len(codes) != 2 || codes[0] != "0101210000" || codes[1] != "0101300000" {
		t.Errorf("codes = %v", codes)
	}
}

func TestReadList_PlainLines(t *testing.T) {
	in := "0101210000\n\nbad\n0102290000\n"
	codes, errs := ReadList(strings.NewReader(in))
	if len(codes) != 2 {
		t.Errorf("codes = %v", codes)
	}
	if len(errs) != 1 {
		t.Errorf("expected one parse error, got %v", errs)
	}
}
