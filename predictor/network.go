package predictor

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"

	"github.com/loiht2/ctr-aiops/backend/errdefs"
)

const probEpsilon = 1e-7

type dense struct {
	In  int       `json:"in"`
	Out int       `json:"out"`
	W   []float64 `json:"w"`
	B   []float64 `json:"b"`

	gW []float64
	gB []float64
}

func newDense(in, out int, rng *rand.Rand) *dense {
	d := &dense{In: in, Out: out, W: make([]float64, in*out), B: make([]float64, out)}
	limit := math.Sqrt(6 / float64(in+out))
	for i := range d.W {
		d.W[i] = (rng.Float64()*2 - 1) * limit
	}
	d.initGrads()
	return d
}

func (d *dense) initGrads() {
	d.gW = make([]float64, len(d.W))
	d.gB = make([]float64, len(d.B))
}

func (d *dense) row(o int) []float64 {
	return d.W[o*d.In : (o+1)*d.In]
}

func (d *dense) forward(x, out []float64) {
	for o := 0; o < d.Out; o++ {
		out[o] = floats.Dot(d.row(o), x) + d.B[o]
	}
}

// backward accumulates parameter gradients and, when gradIn is non-nil,
// adds the input gradient to it.
func (d *dense) backward(x, gradOut, gradIn []float64) {
	for o := 0; o < d.Out; o++ {
		g := gradOut[o]
		if g == 0 {
			continue
		}
		floats.AddScaled(d.gW[o*d.In:(o+1)*d.In], g, x)
		d.gB[o] += g
		if gradIn != nil {
			floats.AddScaled(gradIn, g, d.row(o))
		}
	}
}

func (d *dense) zeroGrads() {
	for i := range d.gW {
		d.gW[i] = 0
	}
	for i := range d.gB {
		d.gB[i] = 0
	}
}

// network holds the sequence cell, the tabular stack and the head.
// The LSTM cell runs a single step from a zero state, so only the input,
// candidate and output gates carry weights.
type network struct {
	Hidden  int      `json:"hidden"`
	Cell    *dense   `json:"cell"`
	Tabular []*dense `json:"tabular"`
	Head    *dense   `json:"head"`
	Out     *dense   `json:"out"`
}

func newNetwork(nFeatures int, opts Options, rng *rand.Rand) *network {
	n := &network{Hidden: opts.SeqHidden}
	n.Cell = newDense(1, 3*opts.SeqHidden, rng)
	in := nFeatures
	for _, units := range opts.HiddenUnits {
		n.Tabular = append(n.Tabular, newDense(in, units, rng))
		in = units
	}
	n.Head = newDense(in+opts.SeqHidden, opts.HeadUnits, rng)
	n.Out = newDense(opts.HeadUnits, 1, rng)
	return n
}

func (n *network) checkShape(nFeatures int) error {
	if n.Hidden <= 0 || n.Cell.In != 1 || n.Cell.Out != 3*n.Hidden {
		return fmt.Errorf("sequence cell does not match hidden size %d: %w", n.Hidden, errdefs.ErrValidation)
	}
	in := nFeatures
	for i, l := range n.Tabular {
		if l.In != in {
			return fmt.Errorf("tabular layer %d expects %d inputs, got %d: %w", i, l.In, in, errdefs.ErrValidation)
		}
		in = l.Out
	}
	if n.Head.In != in+n.Hidden || n.Out.In != n.Head.Out || n.Out.Out != 1 {
		return fmt.Errorf("head layers do not line up: %w", errdefs.ErrValidation)
	}
	return nil
}

func (n *network) layers() []*dense {
	out := []*dense{n.Cell}
	out = append(out, n.Tabular...)
	return append(out, n.Head, n.Out)
}

func (n *network) zeroGrads() {
	for _, l := range n.layers() {
		l.zeroGrads()
	}
}

// trace keeps the activations of one forward pass.
type trace struct {
	seq    []float64
	gates  []float64
	cellT  []float64
	tab    [][]float64
	headIn []float64
	headH  []float64
	p      float64
}

func (n *network) newTrace() *trace {
	t := &trace{
		seq:   make([]float64, 1),
		gates: make([]float64, 3*n.Hidden),
		cellT: make([]float64, n.Hidden),
		tab:   make([][]float64, len(n.Tabular)+1),
		headH: make([]float64, n.Head.Out),
	}
	for i, l := range n.Tabular {
		t.tab[i+1] = make([]float64, l.Out)
	}
	t.headIn = make([]float64, n.Head.In)
	return t
}

func (n *network) forward(x []float64, seq float64, t *trace) float64 {
	h := n.Hidden

	t.seq[0] = seq
	n.Cell.forward(t.seq, t.gates)
	for k := 0; k < h; k++ {
		t.gates[k] = sigmoid(t.gates[k])
		t.gates[h+k] = math.Tanh(t.gates[h+k])
		t.gates[2*h+k] = sigmoid(t.gates[2*h+k])
		t.cellT[k] = math.Tanh(t.gates[k] * t.gates[h+k])
	}

	t.tab[0] = x
	for i, l := range n.Tabular {
		l.forward(t.tab[i], t.tab[i+1])
		relu(t.tab[i+1])
	}

	last := t.tab[len(n.Tabular)]
	copy(t.headIn, last)
	for k := 0; k < h; k++ {
		t.headIn[len(last)+k] = t.gates[2*h+k] * t.cellT[k]
	}

	n.Head.forward(t.headIn, t.headH)
	relu(t.headH)

	var logit [1]float64
	n.Out.forward(t.headH, logit[:])
	t.p = sigmoid(logit[0])
	return t.p
}

// backward accumulates gradients of the BCE loss for label y.
func (n *network) backward(t *trace, y float64) {
	h := n.Hidden

	dHeadH := make([]float64, len(t.headH))
	n.Out.backward(t.headH, []float64{t.p - y}, dHeadH)
	reluGrad(t.headH, dHeadH)

	dHeadIn := make([]float64, len(t.headIn))
	n.Head.backward(t.headIn, dHeadH, dHeadIn)

	nTab := len(n.Tabular)
	lastLen := len(t.tab[nTab])
	grad := dHeadIn[:lastLen]
	for i := nTab - 1; i >= 0; i-- {
		reluGrad(t.tab[i+1], grad)
		var gradIn []float64
		if i > 0 {
			gradIn = make([]float64, len(t.tab[i]))
		}
		n.Tabular[i].backward(t.tab[i], grad, gradIn)
		grad = gradIn
	}

	dh := dHeadIn[lastLen:]
	dz := make([]float64, 3*h)
	for k := 0; k < h; k++ {
		i, g, o, tc := t.gates[k], t.gates[h+k], t.gates[2*h+k], t.cellT[k]
		dc := dh[k] * o * (1 - tc*tc)
		dz[k] = dc * g * i * (1 - i)
		dz[h+k] = dc * i * (1 - g*g)
		dz[2*h+k] = dh[k] * tc * o * (1 - o)
	}
	n.Cell.backward(t.seq, dz, nil)
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func relu(v []float64) {
	for i, x := range v {
		if x < 0 {
			v[i] = 0
		}
	}
}

func reluGrad(act, grad []float64) {
	for i, a := range act {
		if a <= 0 {
			grad[i] = 0
		}
	}
}

func bce(p, y float64) float64 {
	p = math.Min(math.Max(p, probEpsilon), 1-probEpsilon)
	return -(y*math.Log(p) + (1-y)*math.Log(1-p))
}

// adam is the Adam optimizer over every layer of a network.
type adam struct {
	lr     float64
	beta1  float64
	beta2  float64
	eps    float64
	step   int
	mW, vW [][]float64
	mB, vB [][]float64
}

func newAdam(n *network, lr float64) *adam {
	a := &adam{lr: lr, beta1: 0.9, beta2: 0.999, eps: 1e-8}
	for _, l := range n.layers() {
		a.mW = append(a.mW, make([]float64, len(l.W)))
		a.vW = append(a.vW, make([]float64, len(l.W)))
		a.mB = append(a.mB, make([]float64, len(l.B)))
		a.vB = append(a.vB, make([]float64, len(l.B)))
	}
	return a
}

// update applies one step using gradients averaged over batch rows.
func (a *adam) update(n *network, batch int) {
	a.step++
	c1 := 1 - math.Pow(a.beta1, float64(a.step))
	c2 := 1 - math.Pow(a.beta2, float64(a.step))
	inv := 1 / float64(batch)
	for i, l := range n.layers() {
		a.apply(l.W, l.gW, a.mW[i], a.vW[i], inv, c1, c2)
		a.apply(l.B, l.gB, a.mB[i], a.vB[i], inv, c1, c2)
	}
}

func (a *adam) apply(param, grad, m, v []float64, inv, c1, c2 float64) {
	for j := range param {
		g := grad[j] * inv
		m[j] = a.beta1*m[j] + (1-a.beta1)*g
		v[j] = a.beta2*v[j] + (1-a.beta2)*g*g
		param[j] -= a.lr * (m[j] / c1) / (math.Sqrt(v[j]/c2) + a.eps)
	}
}
