package domain

import (
	"errors"
	"testing"
	"time"
)

func TestReportCursorString(t *testing.T) {
	created := time.Date(2026, 3, 1, 10, 0, 0, 1500, time.FixedZone("EET", 2*3600))
	c := ReportCursor{CreatedAt: created, ID: "9b2f8f4e-3f53-4a55-9d1c-0d8f0a8f3c11"}

	raw := c.String()
	if want := "2026-03-01T08:00:00.0000015Z_9b2f8f4e-3f53-4a55-9d1c-0d8f0a8f3c11"; raw != want {
		t.Fatalf("String() = %q, want %q", raw, want)
	}
	got, err := ParseReportCursor(raw)
	if err != nil {
		t.Fatalf("ParseReportCursor: %v", err)
	}
	if !got.CreatedAt.Equal(created) || got.ID != c.ID {
		t.Fatalf("round trip = %+v", got)
	}
	if (ReportCursor{}).String() != "" {
		t.Fatal("zero cursor must encode empty")
	}
}

func TestParseReportCursor(t *testing.T) {
	got, err := ParseReportCursor("2026-03-01T10:00:00Z")
	if err != nil || got.ID != "" || got.CreatedAt.IsZero() {
		t.Fatalf("bare time cursor = %+v, %v", got, err)
	}
	for _, raw := range []string{"yesterday", "_abc", ""} {
		if _, err := ParseReportCursor(raw); !errors.Is(err, ErrInvalidFilter) {
			t.Errorf("ParseReportCursor(%q): expected ErrInvalidFilter, got %v", raw, err)
		}
	}
}

func TestReportPageNext(t *testing.T) {
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	full := ReportPage{Reports: []Report{{ID: "b", CreatedAt: created}, {ID: "a", CreatedAt: created}}, Limit: 2}
	next, ok := full.Next()
	if !ok || next.ID != "a" {
		t.Fatalf("full page next = %+v, %v", next, ok)
	}
	if _, ok := (ReportPage{Reports: full.Reports, Limit: 3}).Next(); ok {
		t.Fatal("short page must be the last")
	}
	if _, ok := (ReportPage{Limit: 2}).Next(); ok {
		t.Fatal("empty page must be the last")
	}
}
