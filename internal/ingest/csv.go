package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"atlasprep/internal/core"
	"atlasprep/pkg/expression"
	"atlasprep/pkg/reference"
)

// ReadMatrixCSV parses a dense cells x genes matrix. The header lists gene
// ids after a leading index column; each row starts with a cell id, which is
// normalized with core.NormalizeBarcode.
func ReadMatrixCSV(r io.Reader) (*expression.Matrix, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("matrix csv: empty input")
	}
	if err != nil {
		return nil, fmt.Errorf("matrix csv: header: %w", err)
	}
	if len(header) < 2 {
		return nil, errors.New("matrix csv: header has no gene columns")
	}
	genes := make([]string, len(header)-1)
	for i, h := range header[1:] {
		genes[i] = strings.TrimSpace(h)
	}
	var cells []string
	var values []float32
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("matrix csv: %w", err)
		}
		cells = append(cells, core.NormalizeBarcode(strings.TrimSpace(rec[0])))
		for j, field := range rec[1:] {
			field = strings.TrimSpace(field)
			if field == "" {
				values = append(values, 0)
				continue
			}
			v, err := strconv.ParseFloat(field, 32)
			if err != nil {
				return nil, fmt.Errorf("matrix csv: line %d, gene %q: %w", line, genes[j], err)
			}
			values = append(values, float32(v))
		}
	}
	return expression.NewDense(cells, genes, values)
}

// ReadMatrixFile reads a matrix from a CSV file or a 10x directory.
func ReadMatrixFile(path string) (*expression.Matrix, error) {
	if isDir(path) {
		return ReadTenXDir(path)
	}
	rc, err := openFile(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	m, err := ReadMatrixCSV(rc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// ReadCellTable parses cell metadata whose first column is the cell id.
// Remaining columns are kept by header name.
func ReadCellTable(r io.Reader) (*expression.CellTable, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("cell metadata: empty input")
	}
	if err != nil {
		return nil, fmt.Errorf("cell metadata: header: %w", err)
	}
	names := make([]string, len(header))
	seen := make(map[string]struct{}, len(header))
	for i, h := range header[1:] {
		h = strings.TrimSpace(h)
		if h == "" {
			return nil, fmt.Errorf("cell metadata: column %d has no name", i+2)
		}
		if _, dup := seen[h]; dup {
			return nil, fmt.Errorf("cell metadata: duplicate column %q", h)
		}
		seen[h] = struct{}{}
		names[i+1] = h
	}
	var ids []string
	columns := make(map[string][]string, len(header)-1)
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("cell metadata: %w", err)
		}
		ids = append(ids, strings.TrimSpace(rec[0]))
		for i, name := range names[1:] {
			columns[name] = append(columns[name], rec[i+1])
		}
	}
	for _, name := range names[1:] {
		if _, ok := columns[name]; !ok {
			columns[name] = []string{}
		}
	}
	return expression.NewCellTable(ids, columns)
}

// ReadCellTableFile reads cell metadata from a possibly gzipped CSV file.
func ReadCellTableFile(path string) (*expression.CellTable, error) {
	rc, err := openFile(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	t, err := ReadCellTable(rc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// ReadPanelFile reads a reference panel CSV. The panel is named after the
// file with its extensions removed unless name is set.
func ReadPanelFile(path, name string) (*reference.Panel, error) {
	if name == "" {
		name = baseName(path)
	}
	rc, err := openFile(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	return reference.ReadCSV(name, rc)
}
