package reference

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	idHeaders     = []string{"gene_id", "gene_ids", "ensembl_id"}
	symbolHeaders = []string{"gene_symbol", "gene_symbols", "symbol"}
)

// ReadCSV parses a panel from CSV. The header must name one id column and one
// symbol column (see idHeaders/symbolHeaders, case-insensitive); other
// columns, such as a leading unnamed index, are ignored. Row order is kept.
func ReadCSV(name string, r io.Reader) (*Panel, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("reference panel %q: empty csv", name)
	}
	if err != nil {
		return nil, fmt.Errorf("reference panel %q: read header: %w", name, err)
	}
	idCol, symCol := -1, -1
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		switch {
		case idCol < 0 && contains(idHeaders, h):
			idCol = i
		case symCol < 0 && contains(symbolHeaders, h):
			symCol = i
		}
	}
	if idCol < 0 || symCol < 0 {
		return nil, fmt.Errorf("reference panel %q: header %v lacks gene id and symbol columns", name, header)
	}
	var genes []Gene
	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("reference panel %q: line %d: %w", name, line, err)
		}
		if idCol >= len(rec) || symCol >= len(rec) {
			return nil, fmt.Errorf("reference panel %q: line %d has %d fields", name, line, len(rec))
		}
		genes = append(genes, Gene{ID: strings.TrimSpace(rec[idCol]), Symbol: strings.TrimSpace(rec[symCol])})
	}
	return NewPanel(name, genes)
}

// WriteCSV writes the panel with a gene_id,gene_symbol header.
func WriteCSV(w io.Writer, p *Panel) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"gene_id", "gene_symbol"}); err != nil {
		return err
	}
	for _, g := range p.genes {
		if err := cw.Write([]string{g.ID, g.Symbol}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func contains(values []string, v string) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}
