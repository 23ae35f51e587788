package presenter

import (
	"encoding/csv"
	"encoding/xml"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/atvirokodosprendimai/edocval/internal/core/domain"
)

func sampleOutcome() domain.ValidationOutcome {
	var o domain.ValidationOutcome
	o.Append("[cvc-elt.1] element not declared", "/Invoice")
	o.Append(`quote " and, comma`, "")
	return o
}

func TestRenderJSON(t *testing.T) {
	out, err := Render(sampleOutcome(), FormatJSON)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	want := `{
  "Status": "Error",
  "Errors": [
    {
      "Id": 1,
      "Message": "[cvc-elt.1] element not declared",
      "Location": "/Invoice"
    },
    {
      "Id": 2,
      "Message": "quote \" and, comma"
    }
  ]
}
`
	if diff := cmp.Diff(want, string(out)); diff != "" {
		t.Fatalf("unexpected json (-want +got):\n%s", diff)
	}
}

func TestRenderJSONSuccessHasEmptyArray(t *testing.T) {
	out, err := Render(domain.NewOutcome(), FormatJSON)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(string(out), `"Errors": []`) || !strings.Contains(string(out), `"Status": "Success"`) {
		t.Fatalf("unexpected json: %s", out)
	}
}

func TestRenderXML(t *testing.T) {
	out, err := Render(sampleOutcome(), FormatXML)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	for _, fragment := range []string{
		"<ValidationOutcome>",
		"<Status>Error</Status>",
		"<Errors>",
		"<ErrorRecord>",
		"<Id>2</Id>",
		"<Message>quote &#34; and, comma</Message>",
	} {
		if !strings.Contains(string(out), fragment) {
			t.Fatalf("missing %q in:\n%s", fragment, out)
		}
	}
}

func TestRenderCSV(t *testing.T) {
	out, err := Render(sampleOutcome(), FormatCSV)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	rows, err := csv.NewReader(strings.NewReader(string(out))).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	want := [][]string{
		{"Id", "Message"},
		{"1", "[cvc-elt.1] element not declared"},
		{"2", `quote " and, comma`},
	}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Fatalf("unexpected rows (-want +got):\n%s", diff)
	}
}

func TestDecodeRestoresOutcome(t *testing.T) {
	outcomes := map[string]domain.ValidationOutcome{
		"errors": sampleOutcome(),
		"empty":  domain.NewOutcome(),
	}
	for name, original := range outcomes {
		for _, tt := range []struct {
			format Format
			decode func([]byte) (domain.ValidationOutcome, error)
		}{
			{FormatJSON, DecodeJSON},
			{FormatXML, DecodeXML},
		} {
			t.Run(name+"/"+string(tt.format), func(t *testing.T) {
				data, err := Render(original, tt.format)
				if err != nil {
					t.Fatalf("Render: %v", err)
				}
				got, err := tt.decode(data)
				if err != nil {
					t.Fatalf("decode: %v", err)
				}
				if got.Status() != original.Status() {
					t.Fatalf("status = %s, want %s", got.Status(), original.Status())
				}
				if diff := cmp.Diff(original.Errors(), got.Errors(), cmpopts.EquateEmpty()); diff != "" {
					t.Fatalf("records differ (-want +got):\n%s", diff)
				}
			})
		}
	}
}

func TestRenderCleanOutcome(t *testing.T) {
	tests := []struct {
		format Format
		want   string
	}{
		{FormatJSON, "{\n  \"Status\": \"Success\",\n  \"Errors\": []\n}\n"},
		{FormatXML, xml.Header + "<ValidationOutcome>\n  <Status>Success</Status>\n  <Errors></Errors>\n</ValidationOutcome>\n"},
		{FormatCSV, "Id,Message\n"},
	}
	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			out, err := Render(domain.NewOutcome(), tt.format)
			if err != nil {
				t.Fatalf("Render: %v", err)
			}
			if diff := cmp.Diff(tt.want, string(out)); diff != "" {
				t.Fatalf("unexpected output (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecodeRejectsInconsistentStatus(t *testing.T) {
	inputs := []string{
		`{"Status":"Success","Errors":[{"Id":1,"Message":"x"}]}`,
		`{"Status":"Error","Errors":[]}`,
		`{"Status":"Maybe","Errors":[]}`,
	}
	for _, in := range inputs {
		if _, err := DecodeJSON([]byte(in)); !errors.Is(err, domain.ErrInvalidFormat) {
			t.Errorf("DecodeJSON(%s): expected ErrInvalidFormat, got %v", in, err)
		}
	}
	if _, err := DecodeXML([]byte(`<ValidationOutcome><Status>Success</Status><Errors><ErrorRecord><Id>1</Id><Message>x</Message></ErrorRecord></Errors></ValidationOutcome>`)); !errors.Is(err, domain.ErrInvalidFormat) {
		t.Fatalf("DecodeXML: expected ErrInvalidFormat, got %v", err)
	}
}

func TestParseFormat(t *testing.T) {
	for raw, want := range map[string]Format{"": FormatJSON, "JSON": FormatJSON, " xml ": FormatXML, "csv": FormatCSV} {
		got, err := ParseFormat(raw)
		if err != nil || got != want {
			t.Errorf("ParseFormat(%q) = %q, %v", raw, got, err)
		}
	}
	if _, err := ParseFormat("yaml"); !errors.Is(err, domain.ErrInvalidFormat) {
		t.Fatalf("expected ErrInvalidFormat, got %v", err)
	}
	if _, err := Render(domain.NewOutcome(), Format("pdf")); !errors.Is(err, domain.ErrInvalidFormat) {
		t.Fatalf("expected ErrInvalidFormat, got %v", err)
	}
}

func TestFromAccept(t *testing.T) {
	tests := []struct {
		accept string
		want   Format
		ok     bool
	}{
		{"text/csv", FormatCSV, true},
		{"text/html, application/xml;q=0.9", FormatXML, true},
		{"application/json", FormatJSON, true},
		{"*/*", "", false},
	}
	for _, tt := range tests {
		got, ok := FromAccept(tt.accept)
		if got != tt.want || ok != tt.ok {
			t.Errorf("FromAccept(%q) = %q, %v", tt.accept, got, ok)
		}
	}
}
