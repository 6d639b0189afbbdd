package numeric

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Status says why the solver stopped.
type Status int

const (
	// MaxIterationsReached means the iteration budget ran out. The result is still the best point found.
	MaxIterationsReached Status = iota
	// FunctionToleranceReached means an accepted step decreased the cost by less than
	// FunctionTolerance relative to the cost.
	FunctionToleranceReached
	// ParameterToleranceReached means the step became small relative to the parameters.
	ParameterToleranceReached
	// GradientToleranceReached means the max norm of the gradient fell below GradientTolerance.
	GradientToleranceReached
	// ZeroCost means the residuals are exactly zero.
	ZeroCost
	// NumericalFailure means the residuals or the Jacobian stopped being finite, or no finite step
	// could be found. The result is the last finite point, or the start if there was none.
	NumericalFailure
)

func (s Status) String() string {
	switch s {
	case MaxIterationsReached:
		return "max iterations reached"
	case FunctionToleranceReached:
		return "function tolerance reached"
	case ParameterToleranceReached:
		return "parameter tolerance reached"
	case GradientToleranceReached:
		return "gradient tolerance reached"
	case ZeroCost:
		return "zero cost"
	case NumericalFailure:
		return "numerical failure"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Converged reports whether the solver stopped on a tolerance rather than on its budget.
func (s Status) Converged() bool {
	return s != MaxIterationsReached && s != NumericalFailure
}

func allFinite(xs []float64) bool {
	for _, x := range xs {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

// Options configures LevenbergMarquardt. The defaults run to near machine precision: the
// tolerances are tiny so the iteration cap is the practical bound.
type Options struct {
	MaxIterations      int     `json:"max_iterations,omitempty"`
	FunctionTolerance  float64 `json:"function_tolerance,omitempty"`
	ParameterTolerance float64 `json:"parameter_tolerance,omitempty"`
	GradientTolerance  float64 `json:"gradient_tolerance,omitempty"`
	// InitialTrustRegion scales the largest diagonal entry of JᵀJ to get the initial damping.
	InitialTrustRegion float64 `json:"initial_trust_region,omitempty"`

	// Callback, if set, observes every iteration after the state has been updated.
	Callback func(IterationSummary) `json:"-"`
}

// DefaultOptions returns a dense solve with at most 50 iterations and 1e-16 tolerances.
func DefaultOptions() Options {
	return Options{
		MaxIterations:      50,
		FunctionTolerance:  1e-16,
		ParameterTolerance: 1e-16,
		GradientTolerance:  1e-16,
		InitialTrustRegion: 1e-3,
	}
}

// withDefaults fills zero fields from DefaultOptions.
func (opts Options) withDefaults() Options {
	def := DefaultOptions()
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = def.MaxIterations
	}
	if opts.FunctionTolerance <= 0 {
		opts.FunctionTolerance = def.FunctionTolerance
	}
	if opts.ParameterTolerance <= 0 {
		opts.ParameterTolerance = def.ParameterTolerance
	}
	if opts.GradientTolerance <= 0 {
		opts.GradientTolerance = def.GradientTolerance
	}
	if opts.InitialTrustRegion <= 0 {
		opts.InitialTrustRegion = def.InitialTrustRegion
	}
	return opts
}

// IterationSummary describes one iteration of the solver.
type IterationSummary struct {
	Iteration int
	// Cost is half the squared norm of the residuals after the iteration.
	Cost       float64
	CostChange float64
	// GradientMaxNorm is measured before the step was taken.
	GradientMaxNorm float64
	StepNorm        float64
	// RelativeDecrease is the ratio of actual to predicted cost decrease.
	RelativeDecrease float64
	Damping          float64
	Accepted         bool
}

// Result is what the solver returns. It is always filled, even when the budget ran out.
type Result struct {
	X            []float64
	NumResiduals int
	InitialCost  float64
	FinalCost    float64
	Status       Status
	Iterations   []IterationSummary

	NumResidualEvaluations int
	NumJacobianEvaluations int
}

// RMS returns the root mean square residual at the solution.
func (r *Result) RMS() float64 {
	if r.NumResiduals == 0 {
		return 0
	}
	return math.Sqrt(2 * r.FinalCost / float64(r.NumResiduals))
}

// Report returns a multi-line human readable summary.
func (r *Result) Report() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Levenberg-Marquardt: %s after %d iterations\n", r.Status, len(r.Iterations))
	fmt.Fprintf(&sb, "  parameters %d residuals %d\n", len(r.X), r.NumResiduals)
	fmt.Fprintf(&sb, "  initial cost %e final cost %e rms %e\n", r.InitialCost, r.FinalCost, r.RMS())
	fmt.Fprintf(&sb, "  residual evaluations %d jacobian evaluations %d\n",
		r.NumResidualEvaluations, r.NumJacobianEvaluations)
	for _, it := range r.Iterations {
		fmt.Fprintf(&sb, "  %3d cost %e change %+e |g| %e |step| %e rho %+e mu %e accepted %t\n",
			it.Iteration, it.Cost, it.CostChange, it.GradientMaxNorm, it.StepNorm,
			it.RelativeDecrease, it.Damping, it.Accepted)
	}
	return sb.String()
}

// LevenbergMarquardt minimizes the sum of squared residuals with a damped Gauss-Newton method.
// Each step solves [J; sqrt(mu)I] dx = [-r; 0] with a dense QR factorization, which is the
// normal equations (JᵀJ + mu I) dx = -Jᵀr without squaring the condition number.
type LevenbergMarquardt struct {
	opts Options
}

// NewLevenbergMarquardt returns a solver. Zero option fields take their default.
func NewLevenbergMarquardt(opts Options) *LevenbergMarquardt {
	return &LevenbergMarquardt{opts: opts.withDefaults()}
}

// Options returns the options the solver runs with.
func (lm *LevenbergMarquardt) Options() Options {
	return lm.opts
}

type lmState struct {
	r        Residual
	x        []float64
	res      []float64
	cost     float64
	jac      *mat.Dense
	gradient []float64
	result   *Result
}

func (s *lmState) evaluate(x, res []float64) float64 {
	s.r.Residuals(res, x)
	s.result.NumResidualEvaluations++
	return 0.5 * floats.Dot(res, res)
}

// linearize refreshes the Jacobian and the gradient Jᵀr at the current point.
func (s *lmState) linearize() {
	Jacobian(s.jac, s.r, s.x)
	s.result.NumJacobianEvaluations++
	var g mat.VecDense
	g.MulVec(s.jac.T(), mat.NewVecDense(len(s.res), s.res))
	copy(s.gradient, g.RawVector().Data)
}

// maxDiagonal returns the largest diagonal entry of JᵀJ, i.e. the largest squared column norm.
func (s *lmState) maxDiagonal() float64 {
	m, n := s.jac.Dims()
	largest := 0.
	for j := 0; j < n; j++ {
		var sq float64
		for i := 0; i < m; i++ {
			sq += s.jac.At(i, j) * s.jac.At(i, j)
		}
		largest = math.Max(largest, sq)
	}
	return largest
}

// solveStep solves the damped least squares system for the step.
func (s *lmState) solveStep(mu float64) ([]float64, error) {
	m, n := s.jac.Dims()
	aug := mat.NewDense(m+n, n, nil)
	aug.Slice(0, m, 0, n).(*mat.Dense).Copy(s.jac)
	sqrtMu := math.Sqrt(mu)
	for i := 0; i < n; i++ {
		aug.Set(m+i, i, sqrtMu)
	}
	rhs := mat.NewDense(m+n, 1, nil)
	for i, v := range s.res {
		rhs.Set(i, 0, -v)
	}

	var qr mat.QR
	qr.Factorize(aug)
	var dx mat.Dense
	if err := qr.SolveTo(&dx, false, rhs); err != nil {
		// An ill-conditioned system still produces a usable step; the gain ratio decides.
		// A singular triangular factor leaves dst unset.
		var cond mat.Condition
		if !errors.As(err, &cond) || math.IsInf(float64(cond), 1) {
			return nil, err
		}
	}
	return mat.Col(nil, 0, &dx), nil
}

// Minimize runs the solver from x0. It returns an error only for invalid input or a done context;
// in the latter case the partial result is returned alongside the error. A degenerate problem is
// not an error: it ends with NumericalFailure and the caller judges the point.
func (lm *LevenbergMarquardt) Minimize(ctx context.Context, r Residual, x0 []float64) (*Result, error) {
	n, m := len(x0), r.NumResiduals()
	if n == 0 {
		return nil, errors.New("no parameters to optimize")
	}
	if m == 0 {
		return nil, errors.New("no residuals to minimize")
	}

	s := &lmState{
		r:        r,
		x:        append([]float64(nil), x0...),
		res:      make([]float64, m),
		jac:      mat.NewDense(m, n, nil),
		gradient: make([]float64, n),
		result:   &Result{NumResiduals: m},
	}
	s.cost = s.evaluate(s.x, s.res)
	s.result.InitialCost = s.cost
	if !allFinite(s.res) {
		s.result.Status = NumericalFailure
		s.result.X = s.x
		s.result.FinalCost = s.cost
		return s.result, nil
	}
	s.linearize()

	opts := lm.opts
	mu := opts.InitialTrustRegion * s.maxDiagonal()
	if mu == 0 {
		mu = opts.InitialTrustRegion
	}
	nu := 2.

	finish := func(status Status) *Result {
		s.result.Status = status
		s.result.X = s.x
		s.result.FinalCost = s.cost
		return s.result
	}

	xNew := make([]float64, n)
	resNew := make([]float64, m)
	for iteration := 1; iteration <= opts.MaxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return finish(MaxIterationsReached), errors.Wrapf(err, "stopped at iteration %d", iteration)
		}
		if !allFinite(s.jac.RawMatrix().Data) || math.IsInf(mu, 0) || math.IsNaN(mu) {
			return finish(NumericalFailure), nil
		}
		if s.cost == 0 {
			return finish(ZeroCost), nil
		}
		gradientMax := floats.Norm(s.gradient, math.Inf(1))
		if gradientMax <= opts.GradientTolerance {
			return finish(GradientToleranceReached), nil
		}

		summary := IterationSummary{Iteration: iteration, GradientMaxNorm: gradientMax, Damping: mu, Cost: s.cost}
		step, err := s.solveStep(mu)
		if err != nil || !allFinite(step) {
			// Treated as a rejected step: more damping makes the system better conditioned.
			mu *= nu
			nu *= 2
			lm.record(s, summary)
			continue
		}
		summary.StepNorm = floats.Norm(step, 2)
		if summary.StepNorm <= opts.ParameterTolerance*(floats.Norm(s.x, 2)+opts.ParameterTolerance) {
			return finish(ParameterToleranceReached), nil
		}

		floats.AddTo(xNew, s.x, step)
		newCost := s.evaluate(xNew, resNew)
		// Decrease predicted by the linear model: L(0) - L(step) = step·(mu step - g) / 2.
		predicted := 0.5 * (mu*floats.Dot(step, step) - floats.Dot(step, s.gradient))
		actual := s.cost - newCost
		rho := actual / predicted
		summary.RelativeDecrease = rho

		if !math.IsNaN(newCost) && !math.IsInf(newCost, 0) && predicted > 0 && rho > 0 {
			oldCost := s.cost
			copy(s.x, xNew)
			copy(s.res, resNew)
			s.cost = newCost
			s.linearize()
			mu *= math.Max(1./3, 1-math.Pow(2*rho-1, 3))
			nu = 2

			summary.Accepted = true
			summary.Cost = newCost
			summary.CostChange = -actual
			lm.record(s, summary)
			if actual <= opts.FunctionTolerance*oldCost {
				return finish(FunctionToleranceReached), nil
			}
			continue
		}

		mu *= nu
		nu *= 2
		lm.record(s, summary)
	}
	return finish(MaxIterationsReached), nil
}

func (lm *LevenbergMarquardt) record(s *lmState, summary IterationSummary) {
	s.result.Iterations = append(s.result.Iterations, summary)
	if lm.opts.Callback != nil {
		lm.opts.Callback(summary)
	}
}
