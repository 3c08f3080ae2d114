package ingest

import (
	"encoding/csv"
	"errors"
	"io"
	"strings"
	"testing"
)

const sampleUpload = "ssn,givenName,familyName,jurisdiction,licenseType,dateOfBirth,dateOfIssuance,dateOfExpiration,licenseStatus,npi\n" +
	"123-45-6789,Alice,Nguyen,oh,audiologist,1985-03-02,2020-01-15,2026-01-15,active,1234567890\n" +
	"987-65-4321,Bob,Okafor,oh,audiologist,1990-07-21,2021-06-01,2027-06-01,inactive,\n"

func TestRowReader(t *testing.T) {
	reader, err := NewRowReader(strings.NewReader(sampleUpload))
	if err != nil {
		t.Fatalf("NewRowReader() error = %v", err)
	}

	first, err := reader.Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if first.Number != 1 {
		t.Errorf("row number = %d, want 1", first.Number)
	}
	if first.Fields["givenName"] != "Alice" || first.Fields["npi"] != "1234567890" {
		t.Errorf("fields = %v", first.Fields)
	}

	second, err := reader.Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if _, ok := second.Fields["npi"]; ok {
		t.Error("empty cell should be omitted from fields")
	}

	if _, err := reader.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("Next() at end = %v, want io.EOF", err)
	}
}

func TestRowReaderBOM(t *testing.T) {
	reader, err := NewRowReader(strings.NewReader("\xef\xbb\xbfssn,givenName\n123-45-6789,Alice\n"))
	if err != nil {
		t.Fatalf("NewRowReader() error = %v", err)
	}

	row, err := reader.Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if row.Fields["ssn"] != "123-45-6789" {
		t.Errorf("BOM not stripped from header, fields = %v", row.Fields)
	}
}

func TestRowReaderLegacyEncoding(t *testing.T) {
	// Windows-1252 bytes: Muñoz with 0xF1 for ñ.
	reader, err := NewRowReader(strings.NewReader("familyName\nMu\xf1oz\n"))
	if err != nil {
		t.Fatalf("NewRowReader() error = %v", err)
	}

	row, err := reader.Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if row.Fields["familyName"] != "Muñoz" {
		t.Errorf("familyName = %q, want Muñoz", row.Fields["familyName"])
	}
}

func TestRowReaderEmptyUpload(t *testing.T) {
	if _, err := NewRowReader(strings.NewReader("")); !errors.Is(err, ErrEmptyUpload) {
		t.Errorf("NewRowReader(empty) = %v, want ErrEmptyUpload", err)
	}
}

func TestRowReaderMalformedRowKeepsStream(t *testing.T) {
	upload := "ssn,givenName\n123-45-6789,Alice,extra\n987-65-4321,Bob\n"
	reader, err := NewRowReader(strings.NewReader(upload))
	if err != nil {
		t.Fatalf("NewRowReader() error = %v", err)
	}

	_, err = reader.Next()
	var parseErr *csv.ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("Next() = %v, want *csv.ParseError", err)
	}

	row, err := reader.Next()
	if err != nil {
		t.Fatalf("Next() after malformed row error = %v", err)
	}
	if row.Number != 2 || row.Fields["givenName"] != "Bob" {
		t.Errorf("row = %+v, want row 2 Bob", row)
	}
}
