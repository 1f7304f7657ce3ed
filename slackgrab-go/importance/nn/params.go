package nn

import (
	"math"
	"math/rand"

	"github.com/slackgrab/slackgrab/slackgrab-go/importance/features"
	"gonum.org/v1/gonum/mat"
)

// Layer sizes.
const (
	inputSize   = features.Dimension
	hidden1Size = 64
	hidden2Size = 32
)

// paramSizes lists the flattened size of each parameter in params.slices order.
var paramSizes = []int{
	hidden1Size * inputSize, hidden1Size,
	hidden2Size * hidden1Size, hidden2Size,
	hidden2Size, 1,
}

// params holds the network weights. Weight matrices are rows=outputs,
// cols=inputs.
type params struct {
	w1, w2, w3 *mat.Dense
	b1, b2, b3 *mat.VecDense
}

func newParams() *params {
	return &params{
		w1: mat.NewDense(hidden1Size, inputSize, nil),
		b1: mat.NewVecDense(hidden1Size, nil),
		w2: mat.NewDense(hidden2Size, hidden1Size, nil),
		b2: mat.NewVecDense(hidden2Size, nil),
		w3: mat.NewDense(1, hidden2Size, nil),
		b3: mat.NewVecDense(1, nil),
	}
}

// slices returns the backing arrays of every parameter; writes through them
// modify p.
func (p *params) slices() [][]float64 {
	return [][]float64{
		p.w1.RawMatrix().Data, p.b1.RawVector().Data,
		p.w2.RawMatrix().Data, p.b2.RawVector().Data,
		p.w3.RawMatrix().Data, p.b3.RawVector().Data,
	}
}

func (p *params) clone() *params {
	c := newParams()
	dst := c.slices()
	for i, src := range p.slices() {
		copy(dst[i], src)
	}
	return c
}

func (p *params) zero() {
	for _, s := range p.slices() {
		for i := range s {
			s[i] = 0
		}
	}
}

// initialize draws Xavier-uniform weights and zero biases.
func (p *params) initialize(rng *rand.Rand) {
	p.zero()
	for _, w := range []*mat.Dense{p.w1, p.w2, p.w3} {
		r, c := w.Dims()
		limit := math.Sqrt(6 / float64(r+c))
		data := w.RawMatrix().Data
		for i := range data {
			data[i] = (2*rng.Float64() - 1) * limit
		}
	}
}

// forward computes the network output for one input without dropout.
func (p *params) forward(x mat.Vector) float64 {
	var h1, h2 mat.VecDense
	h1.MulVec(p.w1, x)
	h1.AddVec(&h1, p.b1)
	reluInPlace(&h1)
	h2.MulVec(p.w2, &h1)
	h2.AddVec(&h2, p.b2)
	reluInPlace(&h2)
	return sigmoid(mat.Dot(p.w3.RowView(0), &h2) + p.b3.AtVec(0))
}

// forwardBatch computes outputs for each row of x.
func (p *params) forwardBatch(x *mat.Dense) []float64 {
	n, _ := x.Dims()
	var h1, h2, out mat.Dense
	h1.Mul(x, p.w1.T())
	addBiasRelu(&h1, p.b1)
	h2.Mul(&h1, p.w2.T())
	addBiasRelu(&h2, p.b2)
	out.Mul(&h2, p.w3.T())

	b := p.b3.AtVec(0)
	scores := make([]float64, n)
	for i := range scores {
		scores[i] = sigmoid(out.At(i, 0) + b)
	}
	return scores
}

// accumulate adds scale times the gradient of the squared error for one
// example to g, and returns the squared error.
func (p *params) accumulate(g *params, x *mat.VecDense, target, scale float64, drop dropout) float64 {
	var z1, z2 mat.VecDense
	z1.MulVec(p.w1, x)
	z1.AddVec(&z1, p.b1)
	m1 := drop.mask(hidden1Size)
	a1 := mat.NewVecDense(hidden1Size, nil)
	for i := 0; i < hidden1Size; i++ {
		a1.SetVec(i, relu(z1.AtVec(i))*m1[i])
	}

	z2.MulVec(p.w2, a1)
	z2.AddVec(&z2, p.b2)
	m2 := drop.mask(hidden2Size)
	a2 := mat.NewVecDense(hidden2Size, nil)
	for i := 0; i < hidden2Size; i++ {
		a2.SetVec(i, relu(z2.AtVec(i))*m2[i])
	}

	y := sigmoid(mat.Dot(p.w3.RowView(0), a2) + p.b3.AtVec(0))
	diff := y - target

	// output layer: d/dz of (y-t)^2 through the sigmoid
	delta3 := scale * 2 * diff * y * (1 - y)
	g.w3.RankOne(g.w3, delta3, mat.NewVecDense(1, []float64{1}), a2)
	g.b3.SetVec(0, g.b3.AtVec(0)+delta3)

	delta2 := mat.NewVecDense(hidden2Size, nil)
	for i := 0; i < hidden2Size; i++ {
		if z2.AtVec(i) > 0 {
			delta2.SetVec(i, p.w3.At(0, i)*delta3*m2[i])
		}
	}
	g.w2.RankOne(g.w2, 1, delta2, a1)
	g.b2.AddVec(g.b2, delta2)

	var back mat.VecDense
	back.MulVec(p.w2.T(), delta2)
	delta1 := mat.NewVecDense(hidden1Size, nil)
	for i := 0; i < hidden1Size; i++ {
		if z1.AtVec(i) > 0 {
			delta1.SetVec(i, back.AtVec(i)*m1[i])
		}
	}
	g.w1.RankOne(g.w1, 1, delta1, x)
	g.b1.AddVec(g.b1, delta1)

	return diff * diff
}

// dropout produces inverted-dropout masks. A zero rate or nil rng keeps
// every unit.
type dropout struct {
	rate float64
	rng  *rand.Rand
}

func (d dropout) mask(n int) []float64 {
	m := make([]float64, n)
	if d.rate <= 0 || d.rng == nil {
		for i := range m {
			m[i] = 1
		}
		return m
	}
	keep := 1 / (1 - d.rate)
	for i := range m {
		if d.rng.Float64() >= d.rate {
			m[i] = keep
		}
	}
	return m
}

func relu(x float64) float64 {
	if x > 0 {
		return x
	}
	return 0
}

func reluInPlace(v *mat.VecDense) {
	for i := 0; i < v.Len(); i++ {
		v.SetVec(i, relu(v.AtVec(i)))
	}
}

func addBiasRelu(h *mat.Dense, b *mat.VecDense) {
	h.Apply(func(_, j int, v float64) float64 {
		return relu(v + b.AtVec(j))
	}, h)
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

func inputVector(v features.Vector) *mat.VecDense {
	return mat.NewVecDense(inputSize, v.Values())
}

func inputMatrix(vs []features.Vector) *mat.Dense {
	data := make([]float64, 0, len(vs)*inputSize)
	for _, v := range vs {
		data = append(data, v.Values()...)
	}
	return mat.NewDense(len(vs), inputSize, data)
}
