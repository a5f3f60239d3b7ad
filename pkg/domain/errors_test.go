package domain

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"atlasprep/pkg/reference"
)

func TestLookupErrorMatchesSentinel(t *testing.T) {
	err := fmt.Errorf("select cohort: %w", &LookupError{Kind: "cohort", Key: "D9"})
	if !errors.Is(err, ErrLookup) {
		t.Fatalf("expected ErrLookup match")
	}
	if errors.Is(err, ErrValidation) {
		t.Fatalf("lookup error must not match ErrValidation")
	}
	var lookup *LookupError
	if !errors.As(err, &lookup) || lookup.Key != "D9" {
		t.Fatalf("expected LookupError via errors.As")
	}
	if got := lookup.Error(); got != `cohort "D9" not found` {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestLookupErrorListsMissingIDs(t *testing.T) {
	err := &LookupError{Kind: "cells", Key: "D1", Missing: []string{"a", "b", "c", "d", "e", "f"}, Total: 10}
	msg := err.Error()
	if !strings.Contains(msg, "6 of 10") || !strings.Contains(msg, "a, b, c, d, e") || strings.Contains(msg, ", f") {
		t.Fatalf("unexpected message %q", msg)
	}
	short := &LookupError{Kind: "cells", Key: "D1", Missing: []string{"a"}}
	if !strings.Contains(short.Error(), "1 of 1") {
		t.Fatalf("expected total to default to missing count: %q", short.Error())
	}
}

func TestValidationErrorMatchesSentinel(t *testing.T) {
	err := fmt.Errorf("align: %w", &ValidationError{Reason: "insufficient overlap", Measured: 3, Required: 5, Detail: "3 of 5"})
	if !errors.Is(err, ErrValidation) || errors.Is(err, ErrLookup) {
		t.Fatalf("sentinel mismatch")
	}
	var v *ValidationError
	if !errors.As(err, &v) || v.Measured != 3 || v.Required != 5 {
		t.Fatalf("expected measured quantities, got %+v", v)
	}
	if (&ValidationError{Reason: "bare"}).Error() != "bare" {
		t.Fatalf("expected bare reason")
	}
}

func TestErrNotFoundMessage(t *testing.T) {
	if got := (ErrNotFound{Entity: EntityPanel, ID: "hlca"}).Error(); got != "panel hlca not found" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestPanelRecordRoundTrip(t *testing.T) {
	p, err := reference.NewPanel("k2", []reference.Gene{{ID: "id1", Symbol: "A"}, {ID: "id2", Symbol: "B"}})
	if err != nil {
		t.Fatalf("panel: %v", err)
	}
	rec := NewPanelRecord(p, time.Date(2024, 1, 1, 0, 0, 0, 0, time.FixedZone("x", 3600)))
	if rec.Size() != 2 || rec.Checksum != p.Checksum() || rec.ImportedAt.Location() != time.UTC {
		t.Fatalf("unexpected record %+v", rec)
	}
	back, err := rec.Panel()
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if back.Checksum() != p.Checksum() {
		t.Fatalf("checksum drift")
	}
}
