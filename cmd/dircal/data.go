package main

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/dircal/pkg/errors"
)

// readScores reads rows of "label,p_0,...,p_{k-1}" (withLabel) or
// "p_0,...,p_{k-1}". A first row that does not parse as numbers is treated
// as a header.
func readScores(path string, withLabel bool) (X, y *mat.Dense, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()
	return parseScores(f, withLabel)
}

func parseScores(r io.Reader, withLabel bool) (X, y *mat.Dense, err error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	records, err := cr.ReadAll()
	if err != nil {
		return nil, nil, errors.Wrap(err, "read csv")
	}
	if len(records) > 0 && !numericRow(records[0]) {
		records = records[1:]
	}
	if len(records) == 0 {
		return nil, nil, errors.ErrEmptyData
	}

	offset := 0
	if withLabel {
		offset = 1
	}
	k := len(records[0]) - offset
	if k < 1 {
		return nil, nil, errors.NewValueError("readScores", "rows need at least one probability column")
	}

	n := len(records)
	X = mat.NewDense(n, k, nil)
	if withLabel {
		y = mat.NewDense(n, 1, nil)
	}
	for i, rec := range records {
		if len(rec) != k+offset {
			return nil, nil, errors.NewDimensionError("readScores", k+offset, len(rec), 1)
		}
		for j, field := range rec {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return nil, nil, errors.Wrapf(err, "row %d column %d", i+1, j+1)
			}
			if withLabel && j == 0 {
				y.Set(i, 0, v)
				continue
			}
			X.Set(i, j-offset, v)
		}
	}
	return X, y, nil
}

func numericRow(rec []string) bool {
	for _, field := range rec {
		if _, err := strconv.ParseFloat(strings.TrimSpace(field), 64); err != nil {
			return false
		}
	}
	return true
}

// writeScores writes P with a "p_0,...,p_{k-1}" header.
func writeScores(path string, P mat.Matrix) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	defer f.Close()
	if err := formatScores(f, P); err != nil {
		return err
	}
	return f.Close()
}

func formatScores(w io.Writer, P mat.Matrix) error {
	n, k := P.Dims()
	cw := csv.NewWriter(w)

	header := make([]string, k)
	for j := range header {
		header[j] = "p_" + strconv.Itoa(j)
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	row := make([]string, k)
	for i := 0; i < n; i++ {
		for j := 0; j < k; j++ {
			row[j] = strconv.FormatFloat(P.At(i, j), 'g', -1, 64)
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
