package catalog

import (
	"errors"
	"fmt"
	"testing"
)

func TestSourceDescriptorValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		src     SourceDescriptor
		wantErr bool
	}{
		{"url only", SourceDescriptor{SingleURL: "https://example.com/listing/1"}, false},
		{"csv only", SourceDescriptor{CSVFile: "/uploads/batch.csv"}, false},
		{"neither", SourceDescriptor{}, true},
		{"both", SourceDescriptor{SingleURL: "https://example.com", CSVFile: "x.csv"}, true},
		{"blank url", SourceDescriptor{SingleURL: "   "}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.src.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestListingCoordinates(t *testing.T) {
	t.Parallel()

	var l Listing
	if l.HasCoordinates() {
		t.Fatal("new listing should have no coordinates")
	}
	l.SetCoordinates(25.7617, -80.1918)
	if !l.HasCoordinates() {
		t.Fatal("expected coordinates after SetCoordinates")
	}
	if *l.Latitude != 25.7617 || *l.Longitude != -80.1918 {
		t.Fatalf("unexpected pair: %v, %v", *l.Latitude, *l.Longitude)
	}
}

func TestJobStatusIsTerminal(t *testing.T) {
	t.Parallel()

	if JobStatusPending.IsTerminal() || JobStatusRunning.IsTerminal() {
		t.Fatal("pending/running must not be terminal")
	}
	if !JobStatusSucceeded.IsTerminal() || !JobStatusFailed.IsTerminal() {
		t.Fatal("succeeded/failed must be terminal")
	}
}

func TestAddressPartsCombined(t *testing.T) {
	t.Parallel()

	p := AddressParts{Address: "939 Chateau", City: "Windsor", State: "Ontario", Zipcode: "N8P 0E6"}
	if got := p.Combined(); got != "939 Chateau, Windsor, Ontario, N8P 0E6" {
		t.Fatalf("Combined() = %q", got)
	}
	if !(AddressParts{}).Empty() {
		t.Fatal("empty parts should report Empty")
	}
	if (AddressParts{City: " Miami "}).Combined() != "Miami" {
		t.Fatal("expected trimmed single part")
	}
}

func TestRawRecordGet(t *testing.T) {
	t.Parallel()

	r := RawRecord{Fields: map[string]string{"price": " $100 ", "title": ""}}
	if got := r.Get("title", "price"); got != "$100" {
		t.Fatalf("Get() = %q", got)
	}
	if got := r.Get("missing"); got != "" {
		t.Fatalf("Get() on missing field = %q", got)
	}
}

func TestErrorTaxonomy(t *testing.T) {
	t.Parallel()

	ve := NewValidationError("address", "required")
	if !IsValidation(ve) || !IsValidation(fmt.Errorf("normalize: %w", ve)) {
		t.Fatal("expected IsValidation for wrapped validation error")
	}
	te := &TransientError{Op: "geocode", Err: errors.New("timeout")}
	if !IsTransient(te) || IsTransient(ve) {
		t.Fatal("transient detection mismatch")
	}
	if !errors.Is(te, te.Err) {
		t.Fatal("expected TransientError to unwrap")
	}
}
