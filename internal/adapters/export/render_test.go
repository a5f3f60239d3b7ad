package export

import (
	"encoding/json"
	"strings"
	"testing"

	"atlasprep/internal/core"

	"github.com/google/go-cmp/cmp"
)

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"csv": FormatCSV, " JSON ": FormatJSON, "Mtx": FormatMTX} {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Fatalf("ParseFormat(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseFormat("h5ad"); err == nil {
		t.Fatalf("expected unsupported format error")
	}
}

func TestRenderCSV(t *testing.T) {
	r, err := Render(FormatCSV, testAlignment(t))
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	want := "cell,id1,id2,id3,id4\nc1,1,0,2,0\nc2,0,0,4.5,0\n"
	if diff := cmp.Diff(want, string(r.Payload)); diff != "" {
		t.Fatalf("csv mismatch (-want +got):\n%s", diff)
	}
	if r.ContentType != "text/csv" || r.Metadata["namespace"] != "gene_id" || r.Metadata["padded"] != 2 {
		t.Fatalf("unexpected artifact %+v", r)
	}
}

func TestRenderJSON(t *testing.T) {
	r, err := Render(FormatJSON, testAlignment(t))
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	var doc jsonMatrix
	if err := json.Unmarshal(r.Payload, &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := jsonMatrix{
		Cells:     []string{"c1", "c2"},
		Genes:     []string{"id1", "id2", "id3", "id4"},
		Namespace: "gene_id",
		Values:    [][]float32{{1, 0, 2, 0}, {0, 0, 4.5, 0}},
	}
	if diff := cmp.Diff(want, doc); diff != "" {
		t.Fatalf("json mismatch (-want +got):\n%s", diff)
	}
}

func TestRenderJSONCarriesCellAttributes(t *testing.T) {
	a := testAlignment(t)
	labelled, err := a.Matrix.WithCellAttribute("dataset", []string{"d", "d"})
	if err != nil {
		t.Fatalf("label: %v", err)
	}
	a.Matrix = labelled
	r, err := Render(FormatJSON, a)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	var doc jsonMatrix
	_ = json.Unmarshal(r.Payload, &doc)
	if diff := cmp.Diff(map[string][]string{"dataset": {"d", "d"}}, doc.Attributes); diff != "" {
		t.Fatalf("attributes mismatch (-want +got):\n%s", diff)
	}
}

func TestRenderMTX(t *testing.T) {
	r, err := Render(FormatMTX, testAlignment(t))
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	want := strings.Join([]string{
		"%%MatrixMarket matrix coordinate real general",
		"% namespace=gene_id",
		"4 2 3",
		"1 1 1",
		"3 1 2",
		"3 2 4.5",
		"",
	}, "\n")
	if diff := cmp.Diff(want, string(r.Payload)); diff != "" {
		t.Fatalf("mtx mismatch (-want +got):\n%s", diff)
	}
	if r.Metadata["nnz"] != 3 {
		t.Fatalf("expected nnz metadata, got %+v", r.Metadata)
	}
	if got := string(r.Companions["genes.tsv"]); got != "id1\nid2\nid3\nid4\n" {
		t.Fatalf("unexpected genes companion %q", got)
	}
	if got := string(r.Companions["barcodes.tsv"]); got != "c1\nc2\n" {
		t.Fatalf("unexpected barcodes companion %q", got)
	}
}

func TestRenderErrors(t *testing.T) {
	if _, err := Render(FormatCSV, core.Alignment{}); err == nil {
		t.Fatalf("expected error without matrix")
	}
	if _, err := Render(Format("xlsx"), testAlignment(t)); err == nil {
		t.Fatalf("expected unsupported format error")
	}
}
