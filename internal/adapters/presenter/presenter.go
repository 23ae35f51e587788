// Package presenter renders validation outcomes as JSON, XML or CSV.
package presenter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"mime"
	"strconv"
	"strings"

	"github.com/atvirokodosprendimai/edocval/internal/core/domain"
)

type Format string

const (
	FormatJSON Format = "json"
	FormatXML  Format = "xml"
	FormatCSV  Format = "csv"
)

// Formats lists the supported formats in preference order.
var Formats = []Format{FormatJSON, FormatXML, FormatCSV}

// ParseFormat accepts a format name in any case. An empty name selects JSON.
func ParseFormat(raw string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(raw))); f {
	case "":
		return FormatJSON, nil
	case FormatJSON, FormatXML, FormatCSV:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", domain.ErrInvalidFormat, raw)
	}
}

func (f Format) ContentType() string {
	switch f {
	case FormatXML:
		return "application/xml; charset=utf-8"
	case FormatCSV:
		return "text/csv; charset=utf-8"
	default:
		return "application/json; charset=utf-8"
	}
}

// FromAccept picks the first supported format named in an Accept header.
func FromAccept(accept string) (Format, bool) {
	for _, part := range strings.Split(accept, ",") {
		mediaType, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		switch mediaType {
		case "application/json":
			return FormatJSON, true
		case "application/xml", "text/xml":
			return FormatXML, true
		case "text/csv":
			return FormatCSV, true
		}
	}
	return "", false
}

type jsonOutcome struct {
	Status domain.Status `json:"Status"`
	Errors []jsonRecord  `json:"Errors"`
}

type jsonRecord struct {
	ID       int    `json:"Id"`
	Message  string `json:"Message"`
	Location string `json:"Location,omitempty"`
}

type xmlOutcome struct {
	XMLName xml.Name      `xml:"ValidationOutcome"`
	Status  domain.Status `xml:"Status"`
	Errors  xmlErrors     `xml:"Errors"`
}

// xmlErrors keeps the Errors element present when there are no records.
type xmlErrors struct {
	Records []xmlRecord `xml:"ErrorRecord"`
}

type xmlRecord struct {
	ID       int    `xml:"Id"`
	Message  string `xml:"Message"`
	Location string `xml:"Location,omitempty"`
}

func Render(outcome domain.ValidationOutcome, format Format) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, outcome, format); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func Write(w io.Writer, outcome domain.ValidationOutcome, format Format) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, outcome)
	case FormatXML:
		return writeXML(w, outcome)
	case FormatCSV:
		return writeCSV(w, outcome)
	default:
		return fmt.Errorf("%w: %q", domain.ErrInvalidFormat, format)
	}
}

func writeJSON(w io.Writer, outcome domain.ValidationOutcome) error {
	out := jsonOutcome{Status: outcome.Status(), Errors: make([]jsonRecord, 0, outcome.Len())}
	for _, rec := range outcome.Errors() {
		out.Errors = append(out.Errors, jsonRecord{ID: rec.ID, Message: rec.Message, Location: rec.Location})
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}

func writeXML(w io.Writer, outcome domain.ValidationOutcome) error {
	out := xmlOutcome{Status: outcome.Status()}
	for _, rec := range outcome.Errors() {
		out.Errors.Records = append(out.Errors.Records, xmlRecord{ID: rec.ID, Message: rec.Message, Location: rec.Location})
	}
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encode xml: %w", err)
	}
	_, err := io.WriteString(w, "\n")
	return err
}

func writeCSV(w io.Writer, outcome domain.ValidationOutcome) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"Id", "Message"}); err != nil {
		return err
	}
	for _, rec := range outcome.Errors() {
		if err := cw.Write([]string{strconv.Itoa(rec.ID), rec.Message}); err != nil {
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("encode csv: %w", err)
	}
	return nil
}

func DecodeJSON(data []byte) (domain.ValidationOutcome, error) {
	var in jsonOutcome
	if err := json.Unmarshal(data, &in); err != nil {
		return domain.ValidationOutcome{}, fmt.Errorf("decode json: %w", err)
	}
	records := make([]domain.ErrorRecord, 0, len(in.Errors))
	for _, r := range in.Errors {
		records = append(records, domain.ErrorRecord{ID: r.ID, Message: r.Message, Location: r.Location})
	}
	return restore(in.Status, records)
}

func DecodeXML(data []byte) (domain.ValidationOutcome, error) {
	var in xmlOutcome
	if err := xml.Unmarshal(data, &in); err != nil {
		return domain.ValidationOutcome{}, fmt.Errorf("decode xml: %w", err)
	}
	records := make([]domain.ErrorRecord, 0, len(in.Errors.Records))
	for _, r := range in.Errors.Records {
		records = append(records, domain.ErrorRecord{ID: r.ID, Message: r.Message, Location: r.Location})
	}
	return restore(in.Status, records)
}

// restore rebuilds an outcome and rejects a status that contradicts the
// records it came with.
func restore(status domain.Status, records []domain.ErrorRecord) (domain.ValidationOutcome, error) {
	if !status.Valid() {
		return domain.ValidationOutcome{}, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidFormat, status)
	}
	outcome := domain.NewOutcome(records...)
	if outcome.Status() != status {
		return domain.ValidationOutcome{}, fmt.Errorf("%w: status %s with %d errors", domain.ErrInvalidFormat, status, len(records))
	}
	return outcome, nil
}
