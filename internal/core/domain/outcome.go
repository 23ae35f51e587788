package domain

import "slices"

type Status string

const (
	StatusSuccess Status = "Success"
	StatusError   Status = "Error"
)

func (s Status) Valid() bool {
	return s == StatusSuccess || s == StatusError
}

// ErrorRecord is one normalized validation finding. Location is empty when
// the producing engine did not report one.
type ErrorRecord struct {
	ID       int
	Message  string
	Location string
}

// ValidationOutcome is the verdict of one validation request. Its status is
// derived from the record collection and cannot be set independently.
type ValidationOutcome struct {
	errors []ErrorRecord
}

// NewOutcome restores an outcome from records as-is, ids included.
func NewOutcome(records ...ErrorRecord) ValidationOutcome {
	return ValidationOutcome{errors: slices.Clone(records)}
}

// FailedOutcome is the single-record outcome returned when a request cannot
// be validated at all.
func FailedOutcome(message string) ValidationOutcome {
	var o ValidationOutcome
	o.Append(message, "")
	return o
}

func (o ValidationOutcome) Status() Status {
	if len(o.errors) == 0 {
		return StatusSuccess
	}
	return StatusError
}

// Errors returns a copy of the records in insertion order. It is never nil.
func (o ValidationOutcome) Errors() []ErrorRecord {
	out := make([]ErrorRecord, len(o.errors))
	copy(out, o.errors)
	return out
}

func (o ValidationOutcome) Len() int {
	return len(o.errors)
}

// Append records one finding with the next id in the outcome sequence.
func (o *ValidationOutcome) Append(message, location string) ErrorRecord {
	rec := ErrorRecord{ID: len(o.errors) + 1, Message: message, Location: location}
	o.errors = append(o.errors, rec)
	return rec
}

// Merge appends stage records in order. Stage-relative ids are replaced so
// the outcome keeps a single monotonic sequence across stages.
func (o *ValidationOutcome) Merge(records []ErrorRecord) {
	for _, rec := range records {
		o.Append(rec.Message, rec.Location)
	}
}

func (o ValidationOutcome) Equal(other ValidationOutcome) bool {
	return slices.Equal(o.errors, other.errors)
}
