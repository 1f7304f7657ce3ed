package nn

import (
	"math"

	"github.com/slackgrab/slackgrab/slackgrab-golib/errors"
)

var errNonFiniteGradient = errors.New("non-finite gradient")

// adam holds the optimizer's moment estimates, laid out like params.slices.
type adam struct {
	beta1, beta2, eps float64
	step              int
	m, v              [][]float64
}

func newAdam() *adam {
	a := &adam{beta1: 0.9, beta2: 0.999, eps: 1e-8}
	for _, n := range paramSizes {
		a.m = append(a.m, make([]float64, n))
		a.v = append(a.v, make([]float64, n))
	}
	return a
}

// apply takes one step against grads. Nothing is modified if any gradient
// is non-finite.
func (a *adam) apply(params, grads [][]float64, lr float64) error {
	for _, g := range grads {
		for _, x := range g {
			if !finite(x) {
				return errNonFiniteGradient
			}
		}
	}

	a.step++
	c1 := 1 - math.Pow(a.beta1, float64(a.step))
	c2 := 1 - math.Pow(a.beta2, float64(a.step))
	for k, p := range params {
		g, m, v := grads[k], a.m[k], a.v[k]
		for i := range p {
			m[i] = a.beta1*m[i] + (1-a.beta1)*g[i]
			v[i] = a.beta2*v[i] + (1-a.beta2)*g[i]*g[i]
			p[i] -= lr * (m[i] / c1) / (math.Sqrt(v[i]/c2) + a.eps)
		}
	}
	return nil
}

func (a *adam) clone() *adam {
	c := &adam{beta1: a.beta1, beta2: a.beta2, eps: a.eps, step: a.step}
	for k := range a.m {
		c.m = append(c.m, append([]float64(nil), a.m[k]...))
		c.v = append(c.v, append([]float64(nil), a.v[k]...))
	}
	return c
}
