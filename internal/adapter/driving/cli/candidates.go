package cli

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ReadCandidatesFile reads candidate addresses from a CSV or one-per-line file.
func ReadCandidatesFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open candidates file: %w", err)
	}
	defer f.Close()

	candidates, err := ReadCandidates(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return candidates, nil
}

// ReadCandidates collects every cell that holds a valid email address, in
// file order, dropping case-insensitive duplicates. Header cells and other
// columns are ignored.
func ReadCandidates(r io.Reader) ([]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.Comment = '#'

	v := validator.New()
	seen := make(map[string]struct{})
	var out []string

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse candidates: %w", err)
		}

		for _, cell := range record {
			cell = strings.TrimSpace(cell)
			if !strings.Contains(cell, "@") {
				continue
			}
			if v.Var(cell, "required,email") != nil {
				continue
			}
			key := strings.ToLower(cell)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, cell)
		}
	}
	return out, nil
}
