// Package matrixio implements the data-loading and synthetic-data
// generation paths of SPEC_FULL §4.2/§5: reading/writing a sparse matrix
// in a Matrix Market-compatible text format, and sampling a random sparse
// matrix either i.i.d. or from a ground-truth W*H factorization —
// grounded on the "generate V on the fly from random W/H" tool the
// original uses to synthesize benchmark inputs without shipping real data.
package matrixio

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	mferrors "github.com/dsgdpp/mf/pkg/errors"
	"github.com/dsgdpp/mf/pkg/mf/sparse"
	"github.com/dsgdpp/mf/pkg/rngsplit"
)

// WriteMatrixMarket writes v in the standard "%%MatrixMarket matrix
// coordinate real general" text format.
func WriteMatrixMarket(w io.Writer, v *sparse.COO) error {
	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprintln(bw, "%%MatrixMarket matrix coordinate real general"); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(bw, "%d %d %d\n", v.M, v.N, v.Nnz()); err != nil {
		return err
	}
	for p := 0; p < v.Nnz(); p++ {
		// Matrix Market indices are 1-based.
		if _, err := fmt.Fprintf(bw, "%d %d %.17g\n", v.Row[p]+1, v.Col[p]+1, v.Val[p]); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ReadMatrixMarket parses the coordinate real general subset of the
// Matrix Market format into a COO matrix.
func ReadMatrixMarket(r io.Reader) (*sparse.COO, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)

	var m, n, nnz int
	haveHeader := false
	row := make([]int32, 0)
	col := make([]int32, 0)
	val := make([]float64, 0)

	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "%") {
			continue
		}
		fields := strings.Fields(line)
		if !haveHeader {
			if len(fields) < 3 {
				return nil, mferrors.NewIOError("matrixio: malformed size header", nil)
			}
			var err error
			if m, err = strconv.Atoi(fields[0]); err != nil {
				return nil, mferrors.NewIOError("matrixio: bad row count", err)
			}
			if n, err = strconv.Atoi(fields[1]); err != nil {
				return nil, mferrors.NewIOError("matrixio: bad column count", err)
			}
			if nnz, err = strconv.Atoi(fields[2]); err != nil {
				return nil, mferrors.NewIOError("matrixio: bad nnz count", err)
			}
			row = make([]int32, 0, nnz)
			col = make([]int32, 0, nnz)
			val = make([]float64, 0, nnz)
			haveHeader = true
			continue
		}
		if len(fields) < 3 {
			return nil, mferrors.NewIOError("matrixio: malformed entry line", nil)
		}
		i, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, mferrors.NewIOError("matrixio: bad row index", err)
		}
		j, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, mferrors.NewIOError("matrixio: bad column index", err)
		}
		x, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return nil, mferrors.NewIOError("matrixio: bad value", err)
		}
		row = append(row, int32(i-1))
		col = append(col, int32(j-1))
		val = append(val, x)
	}
	if err := sc.Err(); err != nil {
		return nil, mferrors.NewIOError("matrixio: scan failed", err)
	}
	if !haveHeader {
		return nil, mferrors.NewIOError("matrixio: missing size header", nil)
	}
	return sparse.NewCOO(m, n, row, col, val, true)
}

// RandomMatrixDescriptor parameterises synthetic V generation — the Go
// equivalent of the original's mfcreateRandomMatrixFile tool, used by
// benchmarks and tests that need a reproducible V without shipping a
// data file (SPEC_FULL's supplemented-feature list).
type RandomMatrixDescriptor struct {
	M, N int
	Nnz  int
	Rank int     // 0 means i.i.d. uniform noise instead of a low-rank ground truth
	Seed uint32
	Min  float64 // used only when Rank == 0
	Max  float64
}

// GenerateRandomCOO samples a sparse matrix per d, following the
// "skip-sequential" reservoir technique of the original source: nnz
// distinct (i, j) pairs are chosen uniformly at random without
// replacement by repeatedly skipping a geometrically-distributed number
// of linear positions, which avoids materializing the full m*n grid.
func GenerateRandomCOO(d RandomMatrixDescriptor) (*sparse.COO, error) {
	if d.Nnz > d.M*d.N {
		return nil, mferrors.NewConfigError("matrixio: nnz exceeds matrix size", nil)
	}
	rng := rngsplit.NewRand(d.Seed)

	var w, h [][]float64
	if d.Rank > 0 {
		w = randomDense(rng, d.M, d.Rank)
		h = randomDense(rng, d.N, d.Rank)
	}

	row := make([]int32, 0, d.Nnz)
	col := make([]int32, 0, d.Nnz)
	val := make([]float64, 0, d.Nnz)

	n := d.M * d.N
	remaining := d.Nnz
	current := 0
	for remaining > 0 {
		skip := skipSequential(rng, remaining, n-current)
		current += skip
		i := current / d.N
		j := current % d.N
		var x float64
		if d.Rank > 0 {
			x = dotRow(w[i], h[j])
		} else {
			lo, hi := d.Min, d.Max
			if hi <= lo {
				hi = lo + 1
			}
			x = lo + rng.NextFloat64()*(hi-lo)
		}
		row = append(row, int32(i))
		col = append(col, int32(j))
		val = append(val, x)
		remaining--
		current++
	}
	return sparse.NewCOO(d.M, d.N, row, col, val, true)
}

func randomDense(rng *rngsplit.Rand, rows, r int) [][]float64 {
	out := make([][]float64, rows)
	for i := range out {
		out[i] = make([]float64, r)
		for k := range out[i] {
			out[i][k] = rng.NextFloat64()
		}
	}
	return out
}

func dotRow(a, b []float64) float64 {
	var s float64
	for k := range a {
		s += a[k] * b[k]
	}
	return s
}

// skipSequential draws a geometrically-distributed skip count so that
// selecting nnz positions out of remaining slots without replacement can
// be done in one linear pass instead of rejection sampling — the same
// algorithm as original_source/mf/matrix/op/generate.h's
// rg::skipSequential.
func skipSequential(rng *rngsplit.Rand, nnz, remaining int) int {
	if remaining <= nnz {
		return 0
	}
	// Probability a given slot is NOT selected, repeated until one is:
	// draw u in [0,1) and convert to a skip count via the standard
	// sequential-sampling inversion.
	u := rng.NextFloat64()
	prob := float64(nnz) / float64(remaining)
	if prob <= 0 {
		return remaining
	}
	skip := 0
	p := prob
	acc := p
	for acc < u && skip < remaining-nnz {
		skip++
		p *= 1 - prob
		acc += p
	}
	return skip
}
