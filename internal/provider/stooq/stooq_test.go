package stooq

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"macroflow/internal/connector"
	"macroflow/models"
)

const spxCSV = `Date,Open,High,Low,Close,Volume
2024-03-01,5096.72,5140.33,5094.16,5137.08,2201370000
2024-03-04,5130.99,5149.67,5127.18,5130.95,2033760000
`

const fxCSV = `Date,Open,High,Low,Close
2024-03-01,1.0805,1.0845,1.0796,1.0838
`

func TestParseBars(t *testing.T) {
	recs, err := parseBars("^SPX", []byte(spxCSV))
	if err != nil {
		t.Fatalf("parseBars: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("bars = %d, want 2", len(recs))
	}
	bar := recs[0].(models.MarketBar)
	if bar.Ticker != "^SPX" || bar.Open != 5096.72 || bar.Close != 5137.08 || bar.Volume != 2201370000 {
		t.Errorf("bar = %+v", bar)
	}
	if got := bar.Date.Format("2006-01-02"); got != "2024-03-01" {
		t.Errorf("date = %s, want 2024-03-01", got)
	}
}

func TestParseBarsWithoutVolumeColumn(t *testing.T) {
	recs, err := parseBars("EURUSD", []byte(fxCSV))
	if err != nil {
		t.Fatalf("parseBars: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("bars = %d, want 1", len(recs))
	}
	bar := recs[0].(models.MarketBar)
	if bar.Volume != 0 {
		t.Errorf("volume = %g, want 0 for a feed without volume", bar.Volume)
	}
	if bar.High != 1.0845 {
		t.Errorf("high = %g, want 1.0845", bar.High)
	}
}

func TestParseBarsSkipsCorruptRows(t *testing.T) {
	mixed := "Date,Open,High,Low,Close,Volume\n" +
		"2024-03-01,5096.72,5140.33,5094.16,5137.08,2201370000\n" +
		"2024-03-04,garbage,5149.67,5127.18,5130.95,2033760000\n" +
		"not-a-date,5100.00,5150.00,5090.00,5120.00,1000000\n" +
		"2024-03-05,5131.00,5160.00,5128.00,5157.50,1990000000\n"
	recs, err := parseBars("^SPX", []byte(mixed))
	if err != nil {
		t.Fatalf("parseBars: %v", err)
	}
	// The bad price and the bad date each drop their own row only.
	if len(recs) != 2 {
		t.Fatalf("bars = %d, want 2: %#v", len(recs), recs)
	}
	last := recs[1].(models.MarketBar)
	if got := last.Date.Format("2006-01-02"); got != "2024-03-05" {
		t.Errorf("surviving bar date = %s, want 2024-03-05", got)
	}
}

func TestParseBarsRejectsUnexpectedHeader(t *testing.T) {
	if _, err := parseBars("^SPX", []byte("No data\n")); err == nil {
		t.Fatal("accepted a payload without the bar header")
	}
}

func TestFetchRequestsEveryInstrument(t *testing.T) {
	seen := map[string]bool{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen[r.URL.Query().Get("s")] = true
		w.Write([]byte(spxCSV))
	}))
	defer srv.Close()

	c := New(nil, connector.Settings{BaseURL: srv.URL})
	defer c.Close()

	recs, err := c.Fetch(context.Background(),
		time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(recs) != 2*len(defaultInstruments) {
		t.Errorf("records = %d, want %d", len(recs), 2*len(defaultInstruments))
	}
	for _, inst := range defaultInstruments {
		if !seen[strings.ToLower(inst.Ticker)] {
			t.Errorf("instrument %s never requested", inst.Ticker)
		}
	}
}
