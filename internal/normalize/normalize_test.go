package normalize

import (
	"testing"
	"time"
)

func TestParseNumericCommaDecimal(t *testing.T) {
	v, ok, err := ParseNumeric("1.234,56", ",")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected a value, got missing")
	}
	if v != 1234.56 {
		t.Fatalf("expected 1234.56, got %v", v)
	}
}

func TestParseNumericPeriodDecimal(t *testing.T) {
	v, ok, err := ParseNumeric("1,234.56", ".")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected a value, got missing")
	}
	if v != 1234.56 {
		t.Fatalf("expected 1234.56, got %v", v)
	}
}

func TestParseNumericGroupingSeparators(t *testing.T) {
	cases := []struct {
		raw        string
		decimalSep string
		want       float64
	}{
		{"1 234,56", ",", 1234.56},
		{"1\u00a0234,56", ",", 1234.56},
		{"1\u2009234.56", ".", 1234.56},
		{"1\u202f234,56", ",", 1234.56},
		{"1'234.56", ".", 1234.56},
		{"12\u2019345", ".", 12345},
	}
	for _, tc := range cases {
		v, ok, err := ParseNumeric(tc.raw, tc.decimalSep)
		if err != nil || !ok {
			t.Fatalf("ParseNumeric(%q): v=%v ok=%v err=%v", tc.raw, v, ok, err)
		}
		if v != tc.want {
			t.Errorf("ParseNumeric(%q) = %v, want %v", tc.raw, v, tc.want)
		}
	}
}

func TestParseNumericMissingSentinels(t *testing.T) {
	for _, raw := range []string{"", "-", "N/A", "NA", ".", ",", "  "} {
		_, ok, err := ParseNumeric(raw, ".")
		if err != nil {
			t.Fatalf("sentinel %q: unexpected error: %v", raw, err)
		}
		if ok {
			t.Fatalf("sentinel %q: expected missing, got a value", raw)
		}
	}
}

func TestParseNumericGarbageFails(t *testing.T) {
	_, ok, err := ParseNumeric("abc", ".")
	if err == nil {
		t.Fatal("expected parse error for \"abc\"")
	}
	if ok {
		t.Fatal("garbage input must not report a value")
	}
}

func TestParseNumericNegative(t *testing.T) {
	v, ok, err := ParseNumeric("-0,75", ",")
	if err != nil || !ok {
		t.Fatalf("unexpected result: v=%v ok=%v err=%v", v, ok, err)
	}
	if v != -0.75 {
		t.Fatalf("expected -0.75, got %v", v)
	}
}

func TestParseDateLayouts(t *testing.T) {
	cases := []struct {
		raw     string
		layouts []string
		want    string
	}{
		{"31/01/2024", []string{"02/01/2006"}, "2024-01-31"},
		{"01-31-2024", []string{"02/01/2006", "01-02-2006"}, "2024-01-31"},
		{"2024-01-31", nil, "2024-01-31"},
	}
	for _, tc := range cases {
		got, err := ParseDate(tc.raw, tc.layouts...)
		if err != nil {
			t.Fatalf("ParseDate(%q): %v", tc.raw, err)
		}
		if got.Format("2006-01-02") != tc.want {
			t.Fatalf("ParseDate(%q) = %s, want %s", tc.raw, got.Format("2006-01-02"), tc.want)
		}
	}
}

func TestParseDateInvalid(t *testing.T) {
	if _, err := ParseDate("not-a-date", "2006-01-02"); err == nil {
		t.Fatal("expected error for invalid date")
	}
	if _, err := ParseDate(""); err == nil {
		t.Fatal("expected error for empty date")
	}
}

func TestParseDateIn(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	got, err := ParseDateIn("2024-01-31 08:30", loc, "2006-01-02 15:04")
	if err != nil {
		t.Fatalf("ParseDateIn: %v", err)
	}
	if got.Location() != loc {
		t.Fatalf("expected location %v, got %v", loc, got.Location())
	}
}
