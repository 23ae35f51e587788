package domain

import (
	"fmt"
	"strings"
	"time"
)

// Report is a persisted validation run.
type Report struct {
	ID        string
	Client    string
	Profile   string
	Document  string
	Outcome   ValidationOutcome
	Duration  time.Duration
	CreatedAt time.Time
}

func (r Report) Status() Status {
	return r.Outcome.Status()
}

func (r Report) Validate() error {
	if r.Profile == "" {
		return fmt.Errorf("%w: missing profile", ErrInvalidReport)
	}
	if r.Document == "" {
		return fmt.Errorf("%w: missing document name", ErrInvalidReport)
	}
	if r.Duration < 0 {
		return fmt.Errorf("%w: negative duration", ErrInvalidReport)
	}
	return nil
}

type ReportFilter struct {
	Client  string
	Profile string
	Status  Status
	// Before pages backwards from the cursor position, exclusive.
	Before ReportCursor
	Limit  int
}

// ReportCursor is a position in the newest-first report order. A cursor
// without an ID admits every report created strictly before CreatedAt.
type ReportCursor struct {
	CreatedAt time.Time
	ID        string
}

const cursorTimeFormat = "2006-01-02T15:04:05.999999999Z07:00"

func (c ReportCursor) IsZero() bool {
	return c.CreatedAt.IsZero()
}

// String encodes the cursor as "<RFC 3339 time>_<report id>".
func (c ReportCursor) String() string {
	if c.IsZero() {
		return ""
	}
	out := c.CreatedAt.UTC().Format(cursorTimeFormat)
	if c.ID != "" {
		out += "_" + c.ID
	}
	return out
}

// ParseReportCursor accepts the String form or a bare RFC 3339 time.
func ParseReportCursor(raw string) (ReportCursor, error) {
	ts, id, _ := strings.Cut(strings.TrimSpace(raw), "_")
	created, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return ReportCursor{}, fmt.Errorf("%w: invalid cursor %q", ErrInvalidFilter, raw)
	}
	return ReportCursor{CreatedAt: created.UTC(), ID: id}, nil
}

// ReportPage is one page of a report listing. Limit is the page size the
// listing was run with.
type ReportPage struct {
	Reports []Report
	Limit   int
}

// Next returns the cursor of the following page. A page shorter than its
// limit is the last one.
func (p ReportPage) Next() (ReportCursor, bool) {
	n := len(p.Reports)
	if n == 0 || n < p.Limit {
		return ReportCursor{}, false
	}
	last := p.Reports[n-1]
	return ReportCursor{CreatedAt: last.CreatedAt, ID: last.ID}, true
}

func (f ReportFilter) Validate() error {
	if f.Status != "" && !f.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidFilter, f.Status)
	}
	if f.Profile != "" && !profileNamePattern.MatchString(f.Profile) {
		return fmt.Errorf("%w: invalid profile %q", ErrInvalidFilter, f.Profile)
	}
	return nil
}
