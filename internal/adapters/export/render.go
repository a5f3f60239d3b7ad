// Package export renders aligned matrices into artifact formats, stores them
// through an ObjectStore and runs preparation jobs asynchronously.
package export

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"atlasprep/internal/core"
)

// Format is an artifact serialization.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatMTX  Format = "mtx"
)

// Formats lists every supported format.
var Formats = []Format{FormatCSV, FormatJSON, FormatMTX}

// ParseFormat accepts a format name case-insensitively.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Formats {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("unsupported export format %q", s)
}

// Rendered is one serialized artifact. Companions are sidecar files that
// belong to it, keyed by suffix (for example "genes.tsv").
type Rendered struct {
	Format      Format
	ContentType string
	Payload     []byte
	Metadata    map[string]any
	Companions  map[string][]byte
}

// Render serializes a.
func Render(format Format, a core.Alignment) (Rendered, error) {
	if a.Matrix == nil {
		return Rendered{}, fmt.Errorf("render %s: alignment has no matrix", format)
	}
	cells, genes := a.Matrix.Shape()
	meta := map[string]any{
		"cells":     cells,
		"genes":     genes,
		"namespace": a.Namespace.String(),
		"found":     a.Found,
		"padded":    a.Padded,
	}
	if a.Fallback != "" {
		meta["fallback"] = a.Fallback
	}
	var (
		out Rendered
		err error
	)
	switch format {
	case FormatCSV:
		out, err = renderCSV(a)
	case FormatJSON:
		out, err = renderJSON(a)
	case FormatMTX:
		out, err = renderMTX(a)
		meta["nnz"] = out.Metadata["nnz"]
	default:
		return Rendered{}, fmt.Errorf("unsupported export format %q", format)
	}
	if err != nil {
		return Rendered{}, fmt.Errorf("render %s: %w", format, err)
	}
	out.Format = format
	out.Metadata = meta
	return out, nil
}

func formatValue(v float32) string {
	return strconv.FormatFloat(float64(v), 'g', -1, 32)
}

func renderCSV(a core.Alignment) (Rendered, error) {
	m := a.Matrix
	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)
	if err := w.Write(append([]string{"cell"}, m.Genes()...)); err != nil {
		return Rendered{}, err
	}
	cells := m.Cells()
	record := make([]string, 0, 1+len(m.Genes()))
	for i, cell := range cells {
		record = append(record[:0], cell)
		for _, v := range m.Row(i) {
			record = append(record, formatValue(v))
		}
		if err := w.Write(record); err != nil {
			return Rendered{}, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return Rendered{}, err
	}
	return Rendered{ContentType: "text/csv", Payload: buf.Bytes()}, nil
}

type jsonMatrix struct {
	Cells      []string            `json:"cells"`
	Genes      []string            `json:"genes"`
	Namespace  string              `json:"namespace"`
	Values     [][]float32         `json:"values"`
	Attributes map[string][]string `json:"cell_attributes,omitempty"`
}

func renderJSON(a core.Alignment) (Rendered, error) {
	m := a.Matrix
	n, _ := m.Shape()
	doc := jsonMatrix{
		Cells:     m.Cells(),
		Genes:     m.Genes(),
		Namespace: a.Namespace.String(),
		Values:    make([][]float32, n),
	}
	for i := range doc.Values {
		doc.Values[i] = m.Row(i)
	}
	if names := m.CellAttributeNames(); len(names) > 0 {
		doc.Attributes = make(map[string][]string, len(names))
		for _, name := range names {
			doc.Attributes[name], _ = m.CellAttribute(name)
		}
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return Rendered{}, err
	}
	return Rendered{ContentType: "application/json", Payload: payload}, nil
}

// renderMTX writes a MatrixMarket coordinate matrix with genes as rows and
// cells as columns, entries ordered by column. Gene and barcode lists are
// returned as companions.
func renderMTX(a core.Alignment) (Rendered, error) {
	m := a.Matrix
	nCells, nGenes := m.Shape()
	var body bytes.Buffer
	nnz := 0
	for c := 0; c < nCells; c++ {
		for g, v := range m.Row(c) {
			if v == 0 {
				continue
			}
			fmt.Fprintf(&body, "%d %d %s\n", g+1, c+1, formatValue(v))
			nnz++
		}
	}
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	_, _ = w.WriteString("%%MatrixMarket matrix coordinate real general\n")
	fmt.Fprintf(w, "%% namespace=%s\n", a.Namespace)
	fmt.Fprintf(w, "%d %d %d\n", nGenes, nCells, nnz)
	if _, err := w.Write(body.Bytes()); err != nil {
		return Rendered{}, err
	}
	if err := w.Flush(); err != nil {
		return Rendered{}, err
	}
	return Rendered{
		ContentType: "text/x-matrix-market",
		Payload:     buf.Bytes(),
		Metadata:    map[string]any{"nnz": nnz},
		Companions: map[string][]byte{
			"genes.tsv":    lines(m.Genes()),
			"barcodes.tsv": lines(m.Cells()),
		},
	}, nil
}

func lines(values []string) []byte {
	var b strings.Builder
	for _, v := range values {
		b.WriteString(v)
		b.WriteByte('\n')
	}
	return []byte(b.String())
}
