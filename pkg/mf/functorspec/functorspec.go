// Package functorspec parses the `Name(arg,arg,...)` functor-spec grammar
// SPEC_FULL §6 exposes on the CLI surface for --update, --regularize,
// --loss and --decay, and maps the parsed names onto the concrete
// pkg/mf/update and pkg/mf/decay implementations, checking arity against
// each functor's parameter count. It also parses the small enum-valued
// flags (--sgd-order, --stratum-order, --balance, --balance-method) that
// round out the shared CLI contract, so every cmd/mf-* tool can build its
// kernel configuration from flag strings instead of hardcoding one functor.
package functorspec

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/dsgdpp/mf/pkg/mf/balance"
	"github.com/dsgdpp/mf/pkg/mf/decay"
	"github.com/dsgdpp/mf/pkg/mf/sgd"
	"github.com/dsgdpp/mf/pkg/mf/stratum"
	"github.com/dsgdpp/mf/pkg/mf/update"
)

// Spec is a parsed "Name(a,b,c)" functor reference. Args is nil (not
// empty) for a bare "Name" with no parens, so UpdateFunctor/Decay can
// distinguish "Name()" (explicit zero args) from "Name" in error messages.
type Spec struct {
	Name string
	Args []float64
}

// Parse splits s into a functor name and its comma-separated float
// arguments. "Nzsl" and "Nzsl()" both parse to zero args; "NzslL2(0.05)"
// parses to one.
func Parse(s string) (Spec, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Spec{}, fmt.Errorf("functorspec: empty functor spec")
	}
	open := strings.IndexByte(s, '(')
	if open < 0 {
		return Spec{Name: s}, nil
	}
	if !strings.HasSuffix(s, ")") {
		return Spec{}, fmt.Errorf("functorspec: %q: missing closing paren", s)
	}
	name := strings.TrimSpace(s[:open])
	if name == "" {
		return Spec{}, fmt.Errorf("functorspec: %q: empty functor name", s)
	}
	inner := strings.TrimSpace(s[open+1 : len(s)-1])
	var args []float64
	if inner != "" {
		parts := strings.Split(inner, ",")
		args = make([]float64, len(parts))
		for i, p := range parts {
			v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
			if err != nil {
				return Spec{}, fmt.Errorf("functorspec: %q: parsing argument %d (%q): %w", s, i, p, err)
			}
			args[i] = v
		}
	} else {
		args = []float64{}
	}
	return Spec{Name: name, Args: args}, nil
}

func (sp Spec) arity(n int) error {
	if len(sp.Args) != n {
		return fmt.Errorf("functorspec: %s expects %d argument(s), got %d", sp.Name, n, len(sp.Args))
	}
	return nil
}

// UpdateFunctor maps spec to the per-nonzero SGD functor it names. Names
// taking a per-row/column nonzero count (NzslNzl2) return a template
// value with Nnz1I/Nnz2J left at zero, for the caller to fill in per
// row before use.
func UpdateFunctor(spec Spec) (update.Functor, error) {
	switch spec.Name {
	case "Nzsl":
		if err := spec.arity(0); err != nil {
			return nil, err
		}
		return update.Nzsl{}, nil
	case "NzslL2":
		if err := spec.arity(1); err != nil {
			return nil, err
		}
		return update.NzslL2{Lambda: spec.Args[0]}, nil
	case "NzslNzl2":
		if err := spec.arity(1); err != nil {
			return nil, err
		}
		return update.NzslNzl2{Lambda: spec.Args[0]}, nil
	case "BiasedNzslNzl2":
		if err := spec.arity(4); err != nil {
			return nil, err
		}
		return update.BiasedNzslNzl2{
			LambdaW: spec.Args[0], LambdaH: spec.Args[1],
			LambdaRow: spec.Args[2], LambdaCol: spec.Args[3],
		}, nil
	case "Sl":
		if err := spec.arity(0); err != nil {
			return nil, err
		}
		return update.Sl{}, nil
	case "Gkl":
		if err := spec.arity(0); err != nil {
			return nil, err
		}
		return update.Gkl{}, nil
	case "Gnmf":
		if err := spec.arity(0); err != nil {
			return nil, err
		}
		return update.Gnmf{}, nil
	default:
		return nil, fmt.Errorf("functorspec: unknown update functor %q", spec.Name)
	}
}

// LossFunc computes the factorization's scalar loss over v's nonzeros
// given the current w/h.
type LossFunc func(w, h [][]float64, rows, cols []int32, vals []float64) float64

func squaredLoss(w, h [][]float64, rows, cols []int32, vals []float64) float64 {
	var s float64
	for p := range vals {
		i, j, x := rows[p], cols[p], vals[p]
		var pred float64
		wr, hc := w[i], h[j]
		for k := range wr {
			pred += wr[k] * hc[k]
		}
		diff := x - pred
		s += diff * diff
	}
	return s
}

func genKLLoss(w, h [][]float64, rows, cols []int32, vals []float64) float64 {
	var s float64
	for p := range vals {
		i, j, x := rows[p], cols[p], vals[p]
		var pred float64
		wr, hc := w[i], h[j]
		for k := range wr {
			pred += wr[k] * hc[k]
		}
		if pred <= 0 || x <= 0 {
			continue
		}
		s += x*math.Log(x/pred) - x + pred
	}
	return s
}

// Loss maps spec to the scalar loss function it names: Nzsl/Sl both
// select squared loss, Gkl selects generalized KL-divergence, matching
// the corresponding update functors' gradients.
func Loss(spec Spec) (LossFunc, error) {
	switch spec.Name {
	case "Nzsl", "Sl":
		if err := spec.arity(0); err != nil {
			return nil, err
		}
		return squaredLoss, nil
	case "Gkl":
		if err := spec.arity(0); err != nil {
			return nil, err
		}
		return genKLLoss, nil
	default:
		return nil, fmt.Errorf("functorspec: unknown loss functor %q", spec.Name)
	}
}

// Decay maps spec to the step-size controller it names:
// Constant(eps), Sequential(eps0,decay), BoldDriver(eps0,inc,dec),
// Auto(eps0,inc,dec,robustnessFactor).
func Decay(spec Spec) (decay.Controller, error) {
	switch spec.Name {
	case "Constant":
		if err := spec.arity(1); err != nil {
			return nil, err
		}
		return decay.Constant{Eps: spec.Args[0]}, nil
	case "Sequential":
		if err := spec.arity(2); err != nil {
			return nil, err
		}
		return decay.Sequential{Eps0: spec.Args[0], Decay: spec.Args[1]}, nil
	case "BoldDriver":
		if err := spec.arity(3); err != nil {
			return nil, err
		}
		return decay.NewBoldDriver(spec.Args[0], spec.Args[1], spec.Args[2]), nil
	case "Auto":
		if err := spec.arity(4); err != nil {
			return nil, err
		}
		return decay.NewAuto(decay.AutoSequential, spec.Args[0], spec.Args[1], spec.Args[2], int(spec.Args[3]), nil), nil
	default:
		return nil, fmt.Errorf("functorspec: unknown decay controller %q", spec.Name)
	}
}

// Wrap applies the --abs/--truncate post-processing flags around fn, in
// that order, matching the original source's UpdateAbs/UpdateTruncate
// composition order.
func Wrap(fn update.Functor, abs bool, truncate *[2]float64) update.Functor {
	if truncate != nil {
		fn = update.UpdateTruncate{Functor: fn, Lo: truncate[0], Hi: truncate[1]}
	}
	if abs {
		fn = update.UpdateAbs{Functor: fn}
	}
	return fn
}

// SgdOrder parses --sgd-order's value into sgd.PointOrder.
func SgdOrder(s string) (sgd.PointOrder, error) {
	switch strings.ToUpper(s) {
	case "SEQ":
		return sgd.PointSEQ, nil
	case "WR":
		return sgd.PointWR, nil
	case "WOR":
		return sgd.PointWOR, nil
	default:
		return 0, fmt.Errorf("functorspec: unknown sgd-order %q (want SEQ, WR or WOR)", s)
	}
}

// StratumOrder parses --stratum-order's value into stratum.Order.
func StratumOrder(s string) (stratum.Order, error) {
	switch strings.ToUpper(s) {
	case "SEQ":
		return stratum.SEQ, nil
	case "RSEQ":
		return stratum.RSEQ, nil
	case "WR":
		return stratum.WR, nil
	case "WOR":
		return stratum.WOR, nil
	case "COWOR":
		return stratum.COWOR, nil
	default:
		return 0, fmt.Errorf("functorspec: unknown stratum-order %q (want SEQ, RSEQ, WR, WOR or COWOR)", s)
	}
}

// BalanceSpec is the parsed --balance flag: whether rebalancing runs at
// all, and which norm weights it if so.
type BalanceSpec struct {
	Enabled bool
	Norm    balance.Norm
}

// Balance parses --balance's value: "None" disables rebalancing
// entirely, "L2" and "Nzl2" enable it with the matching norm.
func Balance(s string) (BalanceSpec, error) {
	switch strings.ToUpper(s) {
	case "NONE":
		return BalanceSpec{Enabled: false}, nil
	case "L2":
		return BalanceSpec{Enabled: true, Norm: balance.L2}, nil
	case "NZL2":
		return BalanceSpec{Enabled: true, Norm: balance.Nzl2}, nil
	default:
		return BalanceSpec{}, fmt.Errorf("functorspec: unknown balance norm %q (want None, L2 or Nzl2)", s)
	}
}

// BalanceMethod parses --balance-method's value.
func BalanceMethod(s string) (balance.Method, error) {
	switch strings.ToUpper(s) {
	case "SIMPLE":
		return balance.Simple, nil
	case "OPTIMAL":
		return balance.Optimal, nil
	default:
		return 0, fmt.Errorf("functorspec: unknown balance-method %q (want Simple or Optimal)", s)
	}
}
