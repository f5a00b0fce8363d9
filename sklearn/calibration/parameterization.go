package calibration

import (
	"math/rand"
	"strings"

	"gonum.org/v1/gonum/mat"

	scierrors "github.com/YuminosukeSato/dircal/pkg/errors"
)

// MatrixType selects the family of the weight matrix W.
type MatrixType int

const (
	// Full leaves W unconstrained.
	Full MatrixType = iota
	// Diagonal restricts W to a diagonal matrix.
	Diagonal
	// FixedDiagonal shares one scalar across the diagonal and another
	// across every off-diagonal entry.
	FixedDiagonal
)

// String returns the configuration name of the family.
func (t MatrixType) String() string {
	switch t {
	case Full:
		return "full"
	case Diagonal:
		return "diagonal"
	case FixedDiagonal:
		return "fixed_diagonal"
	default:
		return "unknown"
	}
}

func (t MatrixType) valid() bool {
	return t == Full || t == Diagonal || t == FixedDiagonal
}

// ParseMatrixType parses "full", "diagonal" or "fixed_diagonal".
func ParseMatrixType(s string) (MatrixType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "full":
		return Full, nil
	case "diagonal":
		return Diagonal, nil
	case "fixed_diagonal":
		return FixedDiagonal, nil
	default:
		return 0, scierrors.NewConfigurationError("matrix_type",
			"must be one of full, diagonal, fixed_diagonal", s)
	}
}

// Initializer selects the starting point of the optimizer.
type Initializer int

const (
	// InitIdentity starts from W = I, b = 0 (no-op calibration).
	InitIdentity Initializer = iota
	// InitRandom perturbs the identity with N(0, 0.01²) noise.
	InitRandom
)

// String returns the configuration name of the initializer.
func (i Initializer) String() string {
	switch i {
	case InitIdentity:
		return "identity"
	case InitRandom:
		return "random"
	default:
		return "unknown"
	}
}

// ParseInitializer parses "identity" or "random".
func ParseInitializer(s string) (Initializer, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "identity", "":
		return InitIdentity, nil
	case "random":
		return InitRandom, nil
	default:
		return 0, scierrors.NewConfigurationError("initializer", "must be identity or random", s)
	}
}

// randomInitScale is the standard deviation of the random initializer.
const randomInitScale = 0.01

// RegularizationPolicy controls which entries the l2 penalty covers and how
// it is scaled.
type RegularizationPolicy struct {
	// CompL2 replaces the Full penalty ‖[W|b] - [I|0]‖² by the
	// off-diagonal-and-intercept form Σ_{i≠j} W_ij² + Σ b², leaving the
	// diagonal free.
	CompL2 bool `json:"comp_l2" yaml:"comp_l2"`

	// CompL2AllFamilies extends CompL2 to Diagonal and FixedDiagonal, whose
	// diagonal terms then become unpenalized.
	CompL2AllFamilies bool `json:"comp_l2_all_families" yaml:"comp_l2_all_families"`

	// ScaleWithSamples divides the penalty by the number of training rows.
	ScaleWithSamples bool `json:"scale_with_samples" yaml:"scale_with_samples"`

	// ReferenceRow pins the last row of [W|b] to its identity-equivalent
	// value for the Full family, removing the softmax redundancy.
	ReferenceRow bool `json:"reference_row" yaml:"reference_row"`
}

// Parameterization maps a free-parameter vector onto the effective affine
// transform of one family.
type Parameterization interface {
	Type() MatrixType
	NumClasses() int
	NumParams() int

	// Unpack returns the effective k×k W and length-k b.
	Unpack(params []float64) (*mat.Dense, []float64)

	// Pack projects W and b onto the free parameters of the family.
	Pack(w mat.Matrix, b []float64) []float64

	// Penalty returns the unscaled squared penalty. If grad is non-nil it
	// is overwritten with the penalty gradient.
	Penalty(params, grad []float64) float64

	// Chain overwrites grad with the gradient with respect to the free
	// parameters, given the gradient with respect to W and b.
	Chain(dW *mat.Dense, db []float64, grad []float64)

	// InitialParams returns the starting point for the optimizer.
	InitialParams(init Initializer, rng *rand.Rand) []float64
}

// NewParameterization is the factory for the three families.
func NewParameterization(t MatrixType, k int, policy RegularizationPolicy) (Parameterization, error) {
	if k < 2 {
		return nil, scierrors.NewConfigurationError("n_classes", "at least 2 classes are required", k)
	}
	switch t {
	case Full:
		rows := k
		if policy.ReferenceRow {
			rows = k - 1
		}
		return &fullParam{k: k, rows: rows, policy: policy}, nil
	case Diagonal:
		return &diagonalParam{k: k, policy: policy}, nil
	case FixedDiagonal:
		return &fixedDiagonalParam{k: k, policy: policy}, nil
	default:
		return nil, scierrors.NewConfigurationError("matrix_type",
			"must be one of full, diagonal, fixed_diagonal", int(t))
	}
}

func identityParams(p Parameterization) []float64 {
	k := p.NumClasses()
	eye := mat.NewDiagDense(k, nil)
	for i := 0; i < k; i++ {
		eye.SetDiag(i, 1)
	}
	return p.Pack(eye, make([]float64, k))
}

func initialParams(p Parameterization, init Initializer, rng *rand.Rand) []float64 {
	params := identityParams(p)
	if init == InitRandom {
		if rng == nil {
			rng = rand.New(rand.NewSource(0))
		}
		for i := range params {
			params[i] += rng.NormFloat64() * randomInitScale
		}
	}
	return params
}

// ---------------------------------------------------------------------------
// Full
// ---------------------------------------------------------------------------

// fullParam stores [W|b] row-major, (k+1) values per row. With a reference
// row only the first k-1 rows are free and the last row is zero.
type fullParam struct {
	k      int
	rows   int
	policy RegularizationPolicy
}

func (p *fullParam) Type() MatrixType { return Full }
func (p *fullParam) NumClasses() int { return p.k }
func (p *fullParam) NumParams() int { return p.rows * (p.k + 1) }
func (p *fullParam) stride() int { return p.k + 1 }
func (p *fullParam) reference() bool { return p.rows < p.k }

// target is the identity-equivalent value of W_ij. With a reference row the
// target is I - 1·e_kᵀ, which yields the same calibrated output as I.
func (p *fullParam) target(i, j int) float64 {
	t := 0.0
	if i == j {
		t = 1
	}
	if p.reference() && j == p.k-1 {
		t--
	}
	return t
}

func (p *fullParam) Unpack(params []float64) (*mat.Dense, []float64) {
	k, s := p.k, p.stride()
	w := mat.NewDense(k, k, nil)
	b := make([]float64, k)
	for i := 0; i < p.rows; i++ {
		row := params[i*s : (i+1)*s]
		w.SetRow(i, row[:k])
		b[i] = row[k]
	}
	return w, b
}

func (p *fullParam) Pack(w mat.Matrix, b []float64) []float64 {
	k, s := p.k, p.stride()
	params := make([]float64, p.NumParams())
	// Subtracting the last row leaves the softmax output unchanged.
	var refW []float64
	var refB float64
	if p.reference() {
		refW = make([]float64, k)
		for j := 0; j < k; j++ {
			refW[j] = w.At(k-1, j)
		}
		refB = b[k-1]
	}
	for i := 0; i < p.rows; i++ {
		for j := 0; j < k; j++ {
			v := w.At(i, j)
			if refW != nil {
				v -= refW[j]
			}
			params[i*s+j] = v
		}
		params[i*s+k] = b[i] - refB
	}
	return params
}

func (p *fullParam) Penalty(params, grad []float64) float64 {
	k, s := p.k, p.stride()
	pen := 0.0
	for i := 0; i < p.rows; i++ {
		for j := 0; j <= k; j++ {
			idx := i*s + j
			var d float64
			switch {
			case j == k:
				d = params[idx]
			case p.policy.CompL2 && i == j:
				d = 0
			default:
				d = params[idx] - p.target(i, j)
			}
			pen += d * d
			if grad != nil {
				grad[idx] = 2 * d
			}
		}
	}
	return pen
}

func (p *fullParam) Chain(dW *mat.Dense, db []float64, grad []float64) {
	k, s := p.k, p.stride()
	for i := 0; i < p.rows; i++ {
		for j := 0; j < k; j++ {
			grad[i*s+j] = dW.At(i, j)
		}
		grad[i*s+k] = db[i]
	}
}

func (p *fullParam) InitialParams(init Initializer, rng *rand.Rand) []float64 {
	return initialParams(p, init, rng)
}

// ---------------------------------------------------------------------------
// Diagonal
// ---------------------------------------------------------------------------

// diagonalParam stores [d_0..d_{k-1}, b_0..b_{k-1}].
type diagonalParam struct {
	k      int
	policy RegularizationPolicy
}

func (p *diagonalParam) Type() MatrixType { return Diagonal }
func (p *diagonalParam) NumClasses() int { return p.k }
func (p *diagonalParam) NumParams() int { return 2 * p.k }

func (p *diagonalParam) Unpack(params []float64) (*mat.Dense, []float64) {
	w := mat.NewDense(p.k, p.k, nil)
	for j := 0; j < p.k; j++ {
		w.Set(j, j, params[j])
	}
	b := append([]float64(nil), params[p.k:2*p.k]...)
	return w, b
}

func (p *diagonalParam) Pack(w mat.Matrix, b []float64) []float64 {
	params := make([]float64, p.NumParams())
	for j := 0; j < p.k; j++ {
		params[j] = w.At(j, j)
		params[p.k+j] = b[j]
	}
	return params
}

func (p *diagonalParam) Penalty(params, grad []float64) float64 {
	freeDiag := p.policy.CompL2 && p.policy.CompL2AllFamilies
	pen := 0.0
	for j := 0; j < p.k; j++ {
		d := params[j] - 1
		if freeDiag {
			d = 0
		}
		c := params[p.k+j]
		pen += d*d + c*c
		if grad != nil {
			grad[j] = 2 * d
			grad[p.k+j] = 2 * c
		}
	}
	return pen
}

func (p *diagonalParam) Chain(dW *mat.Dense, db []float64, grad []float64) {
	for j := 0; j < p.k; j++ {
		grad[j] = dW.At(j, j)
		grad[p.k+j] = db[j]
	}
}

func (p *diagonalParam) InitialParams(init Initializer, rng *rand.Rand) []float64 {
	return initialParams(p, init, rng)
}

// ---------------------------------------------------------------------------
// FixedDiagonal
// ---------------------------------------------------------------------------

// fixedDiagonalParam stores [α, β, b_0..b_{k-1}] with W = (α-β)·I + β·11ᵀ.
type fixedDiagonalParam struct {
	k      int
	policy RegularizationPolicy
}

func (p *fixedDiagonalParam) Type() MatrixType { return FixedDiagonal }
func (p *fixedDiagonalParam) NumClasses() int { return p.k }
func (p *fixedDiagonalParam) NumParams() int { return 2 + p.k }

func (p *fixedDiagonalParam) Unpack(params []float64) (*mat.Dense, []float64) {
	alpha, beta := params[0], params[1]
	w := mat.NewDense(p.k, p.k, nil)
	for i := 0; i < p.k; i++ {
		for j := 0; j < p.k; j++ {
			if i == j {
				w.Set(i, j, alpha)
			} else {
				w.Set(i, j, beta)
			}
		}
	}
	b := append([]float64(nil), params[2:]...)
	return w, b
}

// Pack averages the diagonal and off-diagonal entries of w.
func (p *fixedDiagonalParam) Pack(w mat.Matrix, b []float64) []float64 {
	params := make([]float64, p.NumParams())
	var diag, off float64
	for i := 0; i < p.k; i++ {
		for j := 0; j < p.k; j++ {
			if i == j {
				diag += w.At(i, j)
			} else {
				off += w.At(i, j)
			}
		}
	}
	params[0] = diag / float64(p.k)
	params[1] = off / float64(p.k*(p.k-1))
	copy(params[2:], b)
	return params
}

func (p *fixedDiagonalParam) Penalty(params, grad []float64) float64 {
	da := params[0] - 1
	if p.policy.CompL2 && p.policy.CompL2AllFamilies {
		da = 0
	}
	beta := params[1]
	pen := da*da + beta*beta
	if grad != nil {
		grad[0] = 2 * da
		grad[1] = 2 * beta
	}
	for j := 0; j < p.k; j++ {
		c := params[2+j]
		pen += c * c
		if grad != nil {
			grad[2+j] = 2 * c
		}
	}
	return pen
}

func (p *fixedDiagonalParam) Chain(dW *mat.Dense, db []float64, grad []float64) {
	var dAlpha, dBeta float64
	for i := 0; i < p.k; i++ {
		for j := 0; j < p.k; j++ {
			if i == j {
				dAlpha += dW.At(i, j)
			} else {
				dBeta += dW.At(i, j)
			}
		}
	}
	grad[0] = dAlpha
	grad[1] = dBeta
	copy(grad[2:], db)
}

func (p *fixedDiagonalParam) InitialParams(init Initializer, rng *rand.Rand) []float64 {
	return initialParams(p, init, rng)
}
