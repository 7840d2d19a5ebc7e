package ml

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// MLPConfig configures the reference neural-network regressor. It exists to
// benchmark PLS offline and is never served.
type MLPConfig struct {
	Hidden             []int
	LearningRate       float64
	Alpha              float64 // L2 penalty
	BatchSize          int
	MaxIter            int
	ValidationFraction float64
	Patience           int // epochs without improvement before stopping
	Tol                float64
	Seed               uint64
}

// DefaultMLPConfig returns a (64, 32) ReLU network trained with Adam and
// early stopping on a 10% validation split.
func DefaultMLPConfig() MLPConfig {
	return MLPConfig{
		Hidden:             []int{64, 32},
		LearningRate:       1e-3,
		Alpha:              1e-4,
		BatchSize:          200,
		MaxIter:            2000,
		ValidationFraction: 0.1,
		Patience:           10,
		Tol:                1e-4,
		Seed:               42,
	}
}

type denseLayer struct {
	w *mat.Dense // in x out
	b []float64
}

// MLPRegressor is a fitted feed-forward network with ReLU hidden layers and
// a linear output.
type MLPRegressor struct {
	layers []denseLayer

	Epochs              int
	BestValidationScore float64
}

type adamState struct {
	mw, vw []*mat.Dense
	mb, vb [][]float64
	step   int
}

// FitMLP trains the network with minibatch Adam, keeping the parameters of
// the epoch with the best validation R².
func FitMLP(ctx context.Context, X [][]float64, y []float64, cfg MLPConfig) (*MLPRegressor, error) {
	n := len(X)
	if n != len(y) {
		return nil, fmt.Errorf("sample count mismatch: %d spectra, %d targets", n, len(y))
	}
	nVal := int(math.Ceil(cfg.ValidationFraction * float64(n)))
	if n-nVal < 1 || nVal < 2 {
		return nil, fmt.Errorf("too few samples (%d) for a %.0f%% validation split", n, cfg.ValidationFraction*100)
	}
	if len(cfg.Hidden) == 0 {
		return nil, errors.New("at least one hidden layer is required")
	}

	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed+1))
	perm := rng.Perm(n)
	valIdx, trainIdx := perm[:nVal], perm[nVal:]
	xVal, yVal := selectRows(X, valIdx), selectValues(y, valIdx)

	sizes := append([]int{len(X[0])}, cfg.Hidden...)
	sizes = append(sizes, 1)
	model := &MLPRegressor{BestValidationScore: math.Inf(-1)}
	for l := 0; l+1 < len(sizes); l++ {
		model.layers = append(model.layers, initLayer(rng, sizes[l], sizes[l+1]))
	}

	opt := newAdamState(model.layers)
	best := model.cloneLayers()
	stale := 0
	batch := max(1, min(cfg.BatchSize, len(trainIdx)))

	for epoch := 0; epoch < cfg.MaxIter; epoch++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rng.Shuffle(len(trainIdx), func(i, j int) { trainIdx[i], trainIdx[j] = trainIdx[j], trainIdx[i] })
		for start := 0; start < len(trainIdx); start += batch {
			end := min(start+batch, len(trainIdx))
			idx := trainIdx[start:end]
			model.step(selectRows(X, idx), selectValues(y, idx), cfg, opt)
		}
		model.Epochs = epoch + 1

		score := stat.RSquaredFrom(PredictAll(model, xVal), yVal, nil)
		if score < model.BestValidationScore+cfg.Tol {
			stale++
		} else {
			stale = 0
		}
		if score > model.BestValidationScore {
			model.BestValidationScore = score
			best = model.cloneLayers()
		}
		if stale > cfg.Patience {
			break
		}
	}

	model.layers = best
	return model, nil
}

// PredictRow runs a forward pass for one row.
func (m *MLPRegressor) PredictRow(x []float64) float64 {
	a := mat.NewDense(1, len(x), append([]float64(nil), x...))
	acts, _ := m.forward(a)
	return acts[len(acts)-1].At(0, 0)
}

// forward returns the activations of every layer (index 0 is the input) and
// the pre-activation values of every layer.
func (m *MLPRegressor) forward(a *mat.Dense) ([]*mat.Dense, []*mat.Dense) {
	acts := []*mat.Dense{a}
	pre := make([]*mat.Dense, 0, len(m.layers))
	for l, layer := range m.layers {
		var z mat.Dense
		z.Mul(acts[l], layer.w)
		rows, _ := z.Dims()
		for i := 0; i < rows; i++ {
			row := z.RawRowView(i)
			for j := range row {
				row[j] += layer.b[j]
			}
		}
		pre = append(pre, &z)

		out := mat.DenseCopyOf(&z)
		if l < len(m.layers)-1 {
			raw := out.RawMatrix().Data
			for i, v := range raw {
				if v < 0 {
					raw[i] = 0
				}
			}
		}
		acts = append(acts, out)
	}
	return acts, pre
}

// step performs one Adam update on a minibatch with squared loss.
func (m *MLPRegressor) step(X [][]float64, y []float64, cfg MLPConfig, opt *adamState) {
	bs := len(X)
	in := mat.NewDense(bs, len(X[0]), nil)
	for i, row := range X {
		in.SetRow(i, row)
	}
	acts, pre := m.forward(in)

	last := len(m.layers) - 1
	delta := mat.NewDense(bs, 1, nil)
	for i := 0; i < bs; i++ {
		delta.Set(i, 0, acts[last+1].At(i, 0)-y[i])
	}

	gradW := make([]*mat.Dense, len(m.layers))
	gradB := make([][]float64, len(m.layers))
	for l := last; l >= 0; l-- {
		var gw mat.Dense
		gw.Mul(acts[l].T(), delta)
		var reg mat.Dense
		reg.Scale(cfg.Alpha, m.layers[l].w)
		gw.Add(&gw, &reg)
		gw.Scale(1/float64(bs), &gw)
		gradW[l] = &gw

		_, cols := delta.Dims()
		gb := make([]float64, cols)
		for j := 0; j < cols; j++ {
			gb[j] = stat.Mean(mat.Col(nil, j, delta), nil)
		}
		gradB[l] = gb

		if l > 0 {
			var next mat.Dense
			next.Mul(delta, m.layers[l].w.T())
			raw := next.RawMatrix().Data
			z := pre[l-1].RawMatrix().Data
			for i := range raw {
				if z[i] <= 0 {
					raw[i] = 0
				}
			}
			delta = &next
		}
	}

	opt.apply(m.layers, gradW, gradB, cfg.LearningRate)
}

func (m *MLPRegressor) cloneLayers() []denseLayer {
	out := make([]denseLayer, len(m.layers))
	for i, l := range m.layers {
		out[i] = denseLayer{w: mat.DenseCopyOf(l.w), b: append([]float64(nil), l.b...)}
	}
	return out
}

// initLayer uses Glorot-uniform initialisation for weights and biases.
func initLayer(rng *rand.Rand, in, out int) denseLayer {
	bound := math.Sqrt(6.0 / float64(in+out))
	w := mat.NewDense(in, out, nil)
	raw := w.RawMatrix().Data
	for i := range raw {
		raw[i] = (2*rng.Float64() - 1) * bound
	}
	b := make([]float64, out)
	for i := range b {
		b[i] = (2*rng.Float64() - 1) * bound
	}
	return denseLayer{w: w, b: b}
}

func newAdamState(layers []denseLayer) *adamState {
	s := &adamState{}
	for _, l := range layers {
		r, c := l.w.Dims()
		s.mw = append(s.mw, mat.NewDense(r, c, nil))
		s.vw = append(s.vw, mat.NewDense(r, c, nil))
		s.mb = append(s.mb, make([]float64, len(l.b)))
		s.vb = append(s.vb, make([]float64, len(l.b)))
	}
	return s
}

func (s *adamState) apply(layers []denseLayer, gradW []*mat.Dense, gradB [][]float64, lr float64) {
	const (
		beta1   = 0.9
		beta2   = 0.999
		epsilon = 1e-8
	)
	s.step++
	t := float64(s.step)
	rate := lr * math.Sqrt(1-math.Pow(beta2, t)) / (1 - math.Pow(beta1, t))

	update := func(param, grad, m, v []float64) {
		for i := range param {
			m[i] = beta1*m[i] + (1-beta1)*grad[i]
			v[i] = beta2*v[i] + (1-beta2)*grad[i]*grad[i]
			param[i] -= rate * m[i] / (math.Sqrt(v[i]) + epsilon)
		}
	}

	for l := range layers {
		update(layers[l].w.RawMatrix().Data, gradW[l].RawMatrix().Data, s.mw[l].RawMatrix().Data, s.vw[l].RawMatrix().Data)
		update(layers[l].b, gradB[l], s.mb[l], s.vb[l])
	}
}
