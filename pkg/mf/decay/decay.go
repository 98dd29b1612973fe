// Package decay implements the step-size controllers of SPEC_FULL §4.8:
// Constant, Sequential, BoldDriver, and Auto (with its permanent fallback
// to BoldDriver and the parallel/distributed eps-candidate variants).
package decay

import (
	"math"

	"github.com/dsgdpp/mf/pkg/logging"
)

// Controller produces the next epoch's step size given the current loss.
// Next is called once per epoch, after the epoch's loss has been computed,
// and returns the eps to use for the NEXT epoch.
type Controller interface {
	Initial() float64
	Next(prevEps, loss float64) float64
}

// Constant never changes the step size.
type Constant struct{ Eps float64 }

func (c Constant) Initial() float64                { return c.Eps }
func (c Constant) Next(prevEps, loss float64) float64 { return prevEps }

// Sequential multiplies eps by a fixed per-epoch decay factor regardless
// of observed loss.
type Sequential struct {
	Eps0  float64
	Decay float64 // e.g. 0.9; eps_{t+1} = eps_t * Decay
}

func (s Sequential) Initial() float64 { return s.Eps0 }
func (s Sequential) Next(prevEps, loss float64) float64 {
	return prevEps * s.Decay
}

// BoldDriver grows eps by Inc when loss improves and shrinks it by Dec
// when loss worsens — the classic bold-driver heuristic, and also the
// fallback every Auto controller degrades to permanently once it decides
// its own heuristic is unreliable (SPEC_FULL §4.8).
type BoldDriver struct {
	Eps0       float64
	Inc, Dec   float64 // Inc > 1, 0 < Dec < 1
	prevLoss   float64
	hasPrev    bool
}

func NewBoldDriver(eps0, inc, dec float64) *BoldDriver {
	return &BoldDriver{Eps0: eps0, Inc: inc, Dec: dec}
}

func (b *BoldDriver) Initial() float64 { return b.Eps0 }

func (b *BoldDriver) Next(prevEps, loss float64) float64 {
	next := prevEps
	if b.hasPrev {
		if loss < b.prevLoss {
			next = prevEps * b.Inc
		} else {
			next = prevEps * b.Dec
		}
	}
	b.prevLoss = loss
	b.hasPrev = true
	return next
}

// AutoKind labels which Auto variant a controller stands for: the
// sequential-SGD controller or one of its parallel variants (SPEC_FULL's
// supplemented feature list). The kind is recorded on Auto only: Next,
// Candidates and ResolveCandidates behave the same for every kind, and
// nothing in this package evaluates candidates across goroutines or ranks.
type AutoKind int

const (
	// AutoSequential labels the single-node controller.
	AutoSequential AutoKind = iota
	// AutoParallel labels the multi-goroutine variant ("ParallelDecayAuto").
	AutoParallel
	// AutoDistributed labels the cross-rank variant ("DistributedDecayAuto").
	AutoDistributed
)

// Auto is the robustness-heuristic controller: it steps like BoldDriver
// and spends one unit of a RobustnessFactor budget on every epoch whose
// loss does not improve; once the budget is used up it falls back to the
// embedded BoldDriver for every remaining epoch. Auto does not try
// candidate step sizes itself: Candidates lists them for a caller to
// evaluate and ResolveCandidates takes the losses the caller measured.
type Auto struct {
	Kind             AutoKind
	Eps0             float64
	Inc, Dec         float64
	RobustnessFactor int // candidate count for Candidates; also the budget of non-improving epochs Next allows

	bold        *BoldDriver
	fellBack    bool
	log         *logging.Logger
}

// NewAuto constructs an Auto controller. log may be nil.
func NewAuto(kind AutoKind, eps0, inc, dec float64, robustnessFactor int, log *logging.Logger) *Auto {
	if log == nil {
		log = logging.Nop()
	}
	return &Auto{
		Kind:             kind,
		Eps0:             eps0,
		Inc:              inc,
		Dec:              dec,
		RobustnessFactor: robustnessFactor,
		bold:             NewBoldDriver(eps0, inc, dec),
		log:              log,
	}
}

func (a *Auto) Initial() float64 { return a.Eps0 }

// Candidates returns RobustnessFactor step sizes, each Dec times the one
// before, starting from prevEps*Dec, for an external evaluator (the
// caller, since Auto has no access to the model) to try; the caller
// reports the measured losses back via ResolveCandidates.
func (a *Auto) Candidates(prevEps float64) []float64 {
	n := a.RobustnessFactor
	if n <= 0 {
		n = 1
	}
	out := make([]float64, n)
	step := prevEps
	for i := 0; i < n; i++ {
		step *= a.Dec
		out[i] = step
	}
	return out
}

// Next implements the sequential Auto path directly (no candidate
// farming available): it behaves like BoldDriver, and every epoch whose
// loss is not below the previous one decrements RobustnessFactor (an
// improvement does not restore it); when it reaches zero, Auto disables
// itself and defers to the embedded BoldDriver permanently.
func (a *Auto) Next(prevEps, loss float64) float64 {
	if a.fellBack {
		return a.bold.Next(prevEps, loss)
	}
	prevLoss, hadPrev := a.bold.prevLoss, a.bold.hasPrev
	next := a.bold.Next(prevEps, loss)
	if hadPrev && loss >= prevLoss && !math.IsNaN(loss) {
		a.RobustnessFactor--
		if a.RobustnessFactor <= 0 {
			a.fellBack = true
			a.log.Warn("decay auto: robustness budget exhausted, falling back to bold driver permanently")
		}
	}
	return next
}

// ResolveCandidates picks the lowest-loss (eps, loss) trial reported by a
// caller's evaluation of Candidates and folds it into Auto's internal
// state through Next.
func (a *Auto) ResolveCandidates(trials []struct {
	Eps, Loss float64
}) float64 {
	if len(trials) == 0 {
		return a.bold.Next(a.bold.Eps0, math.Inf(1))
	}
	best := trials[0]
	for _, t := range trials[1:] {
		if t.Loss < best.Loss {
			best = t
		}
	}
	return a.Next(best.Eps, best.Loss)
}
