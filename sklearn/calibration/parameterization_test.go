package calibration

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	scierrors "github.com/YuminosukeSato/dircal/pkg/errors"
)

func TestParseMatrixType(t *testing.T) {
	tests := []struct {
		in      string
		want    MatrixType
		wantErr bool
	}{
		{"full", Full, false},
		{"Diagonal", Diagonal, false},
		{" fixed_diagonal ", FixedDiagonal, false},
		{"triangular", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMatrixType(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, scierrors.IsConfigurationError(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, mustParse(t, got.String()))
		})
	}
}

func mustParse(t *testing.T, s string) MatrixType {
	t.Helper()
	mt, err := ParseMatrixType(s)
	require.NoError(t, err)
	return mt
}

func TestParseInitializer(t *testing.T) {
	init, err := ParseInitializer("random")
	require.NoError(t, err)
	assert.Equal(t, InitRandom, init)

	init, err = ParseInitializer("")
	require.NoError(t, err)
	assert.Equal(t, InitIdentity, init)

	_, err = ParseInitializer("zeros")
	assert.True(t, scierrors.IsConfigurationError(err))
}

func TestNumParams(t *testing.T) {
	tests := []struct {
		name   string
		mt     MatrixType
		policy RegularizationPolicy
		k      int
		want   int
	}{
		{"full", Full, RegularizationPolicy{}, 3, 12},
		{"full reference row", Full, RegularizationPolicy{ReferenceRow: true}, 3, 8},
		{"diagonal", Diagonal, RegularizationPolicy{}, 3, 6},
		{"fixed diagonal", FixedDiagonal, RegularizationPolicy{}, 3, 5},
		{"fixed diagonal k=10", FixedDiagonal, RegularizationPolicy{}, 10, 12},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewParameterization(tt.mt, tt.k, tt.policy)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.NumParams())
			assert.Equal(t, tt.k, p.NumClasses())
			assert.Equal(t, tt.mt, p.Type())
		})
	}

	_, err := NewParameterization(Full, 1, RegularizationPolicy{})
	assert.True(t, scierrors.IsConfigurationError(err))
	_, err = NewParameterization(MatrixType(7), 3, RegularizationPolicy{})
	assert.True(t, scierrors.IsConfigurationError(err))
}

func TestIdentityInitializer(t *testing.T) {
	policies := []RegularizationPolicy{
		{},
		{CompL2: true},
		{CompL2: true, CompL2AllFamilies: true},
	}
	for _, mt := range []MatrixType{Full, Diagonal, FixedDiagonal} {
		for _, policy := range policies {
			p, err := NewParameterization(mt, 4, policy)
			require.NoError(t, err)

			params := p.InitialParams(InitIdentity, nil)
			w, b := p.Unpack(params)

			for i := 0; i < 4; i++ {
				for j := 0; j < 4; j++ {
					assert.Equal(t, identityValue(i, j), w.At(i, j), "%s W[%d,%d]", mt, i, j)
				}
				assert.Equal(t, 0.0, b[i])
			}
			assert.Equal(t, 0.0, p.Penalty(params, nil), "%s penalty at identity", mt)
		}
	}
}

func identityValue(i, j int) float64 {
	if i == j {
		return 1
	}
	return 0
}

func TestReferenceRowIdentity(t *testing.T) {
	p, err := NewParameterization(Full, 3, RegularizationPolicy{ReferenceRow: true})
	require.NoError(t, err)

	params := p.InitialParams(InitIdentity, nil)
	w, b := p.Unpack(params)

	// I - 1·e_kᵀ
	want := mat.NewDense(3, 3, []float64{
		1, 0, -1,
		0, 1, -1,
		0, 0, 0,
	})
	assert.True(t, mat.Equal(want, w), "got %v", mat.Formatted(w))
	assert.Equal(t, []float64{0, 0, 0}, b)
	assert.Equal(t, 0.0, p.Penalty(params, nil))

	// the pinned transform calibrates exactly like the identity
	P := mat.NewDense(2, 3, []float64{0.2, 0.3, 0.5, 0.9, 0.05, 0.05})
	st := &FittedState{matrixType: Full, w: w, b: b, epsilon: DefaultEpsilon}
	got, err := PredictProba(st, P)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		for j := 0; j < 3; j++ {
			assert.InDelta(t, P.At(i, j), got.At(i, j), 1e-12)
		}
	}
}

func TestRandomInitializerIsSeeded(t *testing.T) {
	p, err := NewParameterization(Full, 3, RegularizationPolicy{})
	require.NoError(t, err)

	a := p.InitialParams(InitRandom, rand.New(rand.NewSource(7)))
	b := p.InitialParams(InitRandom, rand.New(rand.NewSource(7)))
	c := p.InitialParams(InitRandom, rand.New(rand.NewSource(8)))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	identity := p.InitialParams(InitIdentity, nil)
	for i := range a {
		assert.InDelta(t, identity[i], a[i], 0.1)
	}
}

func TestPackUnpackRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for _, mt := range []MatrixType{Full, Diagonal, FixedDiagonal} {
		p, err := NewParameterization(mt, 3, RegularizationPolicy{})
		require.NoError(t, err)

		params := make([]float64, p.NumParams())
		for i := range params {
			params[i] = rng.NormFloat64()
		}
		w, b := p.Unpack(params)
		assert.InDeltaSlice(t, params, p.Pack(w, b), 1e-12, "%s", mt)
	}
}

func TestFixedDiagonalStructure(t *testing.T) {
	p, err := NewParameterization(FixedDiagonal, 3, RegularizationPolicy{})
	require.NoError(t, err)

	w, b := p.Unpack([]float64{2, -0.5, 0.1, 0.2, 0.3})
	want := mat.NewDense(3, 3, []float64{
		2, -0.5, -0.5,
		-0.5, 2, -0.5,
		-0.5, -0.5, 2,
	})
	assert.True(t, mat.Equal(want, w))
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, b)
}

func TestPenaltyConventions(t *testing.T) {
	compAll := RegularizationPolicy{CompL2: true, CompL2AllFamilies: true}
	tests := []struct {
		name   string
		mt     MatrixType
		k      int
		policy RegularizationPolicy
		params []float64
		want   float64
	}{
		{"full", Full, 2, RegularizationPolicy{}, []float64{1.5, 0.2, 0.1, -0.3, 1, 0.4}, 0.55},
		{"full comp_l2", Full, 2, RegularizationPolicy{CompL2: true}, []float64{1.5, 0.2, 0.1, -0.3, 1, 0.4}, 0.30},
		{"full reference row", Full, 2, RegularizationPolicy{ReferenceRow: true}, []float64{1.5, -0.8, 0.1}, 0.30},
		{"diagonal", Diagonal, 2, RegularizationPolicy{}, []float64{1.5, 0.8, 0.1, -0.2}, 0.34},
		{"diagonal comp_l2 full only", Diagonal, 2, RegularizationPolicy{CompL2: true}, []float64{1.5, 0.8, 0.1, -0.2}, 0.34},
		{"diagonal comp_l2 all families", Diagonal, 2, compAll, []float64{1.5, 0.8, 0.1, -0.2}, 0.05},
		{"fixed diagonal", FixedDiagonal, 3, RegularizationPolicy{}, []float64{1.5, 0.2, 0.1, 0, -0.1}, 0.31},
		{"fixed diagonal comp_l2 all families", FixedDiagonal, 3, compAll, []float64{1.5, 0.2, 0.1, 0, -0.1}, 0.06},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewParameterization(tt.mt, tt.k, tt.policy)
			require.NoError(t, err)
			require.Len(t, tt.params, p.NumParams())

			grad := make([]float64, p.NumParams())
			assert.InDelta(t, tt.want, p.Penalty(tt.params, grad), 1e-12)
			assert.InDelta(t, tt.want, p.Penalty(tt.params, nil), 1e-12)
		})
	}
}
