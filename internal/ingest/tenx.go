package ingest

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"atlasprep/internal/core"
	"atlasprep/pkg/expression"
)

// Gene annotation columns attached by ReadTenXDir.
const (
	AnnotationGeneIDs      = "gene_ids"
	AnnotationGeneSymbols  = "gene_symbols"
	AnnotationGeneNames    = "gene_names"
	AnnotationFeatureTypes = "feature_types"
)

// genomeSeparator joins a reference genome name to gene ids in multi-genome
// references, e.g. "GRCh38___ENSG00000243485".
const genomeSeparator = "___"

// ReadTenXDir reads a 10x Genomics matrix directory: matrix.mtx,
// features.tsv (or genes.tsv for older releases) and barcodes.tsv, each
// optionally gzipped. Column ids are the feature gene ids with any genome
// prefix removed; barcodes are normalized with core.NormalizeBarcode.
func ReadTenXDir(dir string) (*expression.Matrix, error) {
	mtxPath, err := findFile(dir, "matrix.mtx")
	if err != nil {
		return nil, err
	}
	featPath, err := findFile(dir, "features.tsv", "genes.tsv")
	if err != nil {
		return nil, err
	}
	bcPath, err := findFile(dir, "barcodes.tsv")
	if err != nil {
		return nil, err
	}

	features, err := readTSV(featPath)
	if err != nil {
		return nil, err
	}
	barcodes, err := readTSV(bcPath)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(features))
	symbols := make([]string, len(features))
	types := make([]string, len(features))
	hasTypes := false
	for i, rec := range features {
		id := rec[0]
		if j := strings.LastIndex(id, genomeSeparator); j >= 0 {
			id = id[j+len(genomeSeparator):]
		}
		ids[i] = id
		symbols[i] = id
		if len(rec) > 1 {
			symbols[i] = rec[1]
		}
		if len(rec) > 2 {
			types[i] = rec[2]
			hasTypes = true
		}
	}
	cells := make([]string, len(barcodes))
	for i, rec := range barcodes {
		cells[i] = core.NormalizeBarcode(rec[0])
	}

	rc, err := openFile(mtxPath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	values, err := readMatrixMarket(rc, len(ids), len(cells))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", mtxPath, err)
	}
	m, err := expression.NewDense(cells, ids, values)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", dir, err)
	}
	annotations := []struct {
		name   string
		values []string
	}{
		{AnnotationGeneIDs, ids},
		{AnnotationGeneSymbols, symbols},
		{AnnotationGeneNames, symbols},
	}
	if hasTypes {
		annotations = append(annotations, struct {
			name   string
			values []string
		}{AnnotationFeatureTypes, types})
	}
	for _, a := range annotations {
		if m, err = m.WithGeneAnnotation(a.name, a.values); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func readTSV(path string) ([][]string, error) {
	rc, err := openFile(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	r := csv.NewReader(rc)
	r.Comma = '\t'
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	var out [][]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if len(rec) == 0 || rec[0] == "" {
			return nil, fmt.Errorf("%s: line %d: empty identifier", path, len(out)+1)
		}
		out = append(out, rec)
	}
}

// readMatrixMarket parses a coordinate real or integer general matrix whose
// rows are features and columns barcodes, returning a dense cells x genes
// row-major slice.
func readMatrixMarket(r io.Reader, nGenes, nCells int) ([]float32, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	if !sc.Scan() {
		return nil, errors.New("empty matrix market file")
	}
	header := strings.Fields(strings.ToLower(sc.Text()))
	if len(header) < 5 || header[0] != "%%matrixmarket" || header[1] != "matrix" || header[2] != "coordinate" {
		return nil, fmt.Errorf("unsupported matrix market header %q", sc.Text())
	}
	if header[3] != "real" && header[3] != "integer" {
		return nil, fmt.Errorf("unsupported matrix market field %q", header[3])
	}
	if header[4] != "general" {
		return nil, fmt.Errorf("unsupported matrix market symmetry %q", header[4])
	}

	var values []float32
	expected, seen := -1, 0
	line := 1
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "%") {
			continue
		}
		fields := strings.Fields(text)
		if expected < 0 {
			if len(fields) != 3 {
				return nil, fmt.Errorf("line %d: malformed size line", line)
			}
			rows, err1 := strconv.Atoi(fields[0])
			cols, err2 := strconv.Atoi(fields[1])
			nnz, err3 := strconv.Atoi(fields[2])
			if err := errors.Join(err1, err2, err3); err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			if rows != nGenes || cols != nCells {
				return nil, fmt.Errorf("matrix is %dx%d but there are %d features and %d barcodes", rows, cols, nGenes, nCells)
			}
			expected = nnz
			values = make([]float32, nCells*nGenes)
			continue
		}
		if len(fields) != 3 {
			return nil, fmt.Errorf("line %d: expected 3 fields, got %d", line, len(fields))
		}
		g, err1 := strconv.Atoi(fields[0])
		c, err2 := strconv.Atoi(fields[1])
		v, err3 := strconv.ParseFloat(fields[2], 32)
		if err := errors.Join(err1, err2, err3); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if g < 1 || g > nGenes || c < 1 || c > nCells {
			return nil, fmt.Errorf("line %d: entry (%d,%d) out of range", line, g, c)
		}
		values[(c-1)*nGenes+(g-1)] = float32(v)
		seen++
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if expected < 0 {
		return nil, errors.New("missing size line")
	}
	if seen != expected {
		return nil, fmt.Errorf("size line declares %d entries, found %d", expected, seen)
	}
	return values, nil
}
