package visSummary

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"mwaSuite/metafits"
)

//ErrNoReads is returned by Finalize of summaries that are undefined without data
var ErrNoReads = errors.New("cannot finalize, no reads were added")

//toFloat64 converts vis into dst, dst is grown if required
func toFloat64(dst []float64, vis []float32) []float64 {
	if cap(dst) < len(vis) {
		dst = make([]float64, len(vis))
	}
	dst = dst[:len(vis)]
	for i, v := range vis {
		dst[i] = float64(v)
	}
	return dst
}

//Sum adds up every float of every read. Finalize returns [sum, number of reads]
type Sum struct {
	total   float64
	reads   int
	scratch []float64
}

//NewSum creates a new Sum instance
func NewSum(shape Shape) Summary {
	return &Sum{scratch: make([]float64, 0, shape.NumFloats())}
}

func (s *Sum) Name() string {
	return "sum"
}

func (s *Sum) Update(vis []float32) {
	s.scratch = toFloat64(s.scratch, vis)
	s.total += floats.Sum(s.scratch)
	s.reads++
}

func (s *Sum) Finalize() ([]float64, error) {
	return []float64{s.total, float64(s.reads)}, nil
}

func (s *Sum) Merge(other Summary) error {
	o, ok := other.(*Sum)
	if !ok {
		return fmt.Errorf("tried to merge %v into %v", other.Name(), s.Name())
	}
	s.total += o.total
	s.reads += o.reads
	return nil
}

func (s *Sum) Reset() {
	s.total = 0
	s.reads = 0
}

func (s *Sum) DeepCopy() Summary {
	return &Sum{total: s.total, reads: s.reads}
}

//MaxAmplitude is the maximal visibility amplitude per fine channel over all baselines, pols and reads
type MaxAmplitude struct {
	shape Shape
	max   []float64
}

//NewMaxAmplitude creates a new MaxAmplitude instance
func NewMaxAmplitude(shape Shape) Summary {
	return &MaxAmplitude{shape: shape, max: make([]float64, shape.NumFineChannels)}
}

func (m *MaxAmplitude) Name() string {
	return "maxAmplitude"
}

func (m *MaxAmplitude) Update(vis []float32) {
	nfc := m.shape.NumFineChannels
	for i := 0; i+1 < len(vis); i += 2 {
		fine := (i / 8) % nfc
		if a := math.Hypot(float64(vis[i]), float64(vis[i+1])); a > m.max[fine] {
			m.max[fine] = a
		}
	}
}

func (m *MaxAmplitude) Finalize() ([]float64, error) {
	res := make([]float64, len(m.max))
	copy(res, m.max)
	return res, nil
}

func (m *MaxAmplitude) Merge(other Summary) error {
	o, ok := other.(*MaxAmplitude)
	if !ok {
		return fmt.Errorf("tried to merge %v into %v", other.Name(), m.Name())
	}
	if len(o.max) != len(m.max) {
		return fmt.Errorf("tried to merge %v fine channels into %v", len(o.max), len(m.max))
	}
	for i := range m.max {
		m.max[i] = math.Max(m.max[i], o.max[i])
	}
	return nil
}

func (m *MaxAmplitude) Reset() {
	for i := range m.max {
		m.max[i] = 0
	}
}

func (m *MaxAmplitude) DeepCopy() Summary {
	c := &MaxAmplitude{shape: m.shape, max: make([]float64, len(m.max))}
	copy(c.max, m.max)
	return c
}

//AutoPower is the mean XX+YY auto correlation power per antenna. Finalize fails with ErrNoReads if nothing was added
type AutoPower struct {
	shape Shape
	//autos holds the baseline index of each antenna's auto correlation
	autos []int
	sum   []float64
	reads int
}

//NewAutoPower creates a new AutoPower instance
func NewAutoPower(shape Shape) Summary {
	autos := make([]int, shape.NumAntennas)
	for a := range autos {
		//cannot fail for a < NumAntennas
		autos[a], _ = metafits.BaselineIndex(a, a, shape.NumAntennas)
	}
	return &AutoPower{shape: shape, autos: autos, sum: make([]float64, shape.NumAntennas)}
}

func (p *AutoPower) Name() string {
	return "autoPower"
}

func (p *AutoPower) Update(vis []float32) {
	nfc := p.shape.NumFineChannels
	for a, bl := range p.autos {
		for fine := 0; fine < nfc; fine++ {
			off := (bl*nfc + fine) * 8
			//xx real and yy real
			p.sum[a] += float64(vis[off]) + float64(vis[off+6])
		}
	}
	p.reads++
}

func (p *AutoPower) Finalize() ([]float64, error) {
	if p.reads == 0 {
		return nil, ErrNoReads
	}
	res := make([]float64, len(p.sum))
	floats.ScaleTo(res, 1/float64(p.reads*p.shape.NumFineChannels), p.sum)
	return res, nil
}

func (p *AutoPower) Merge(other Summary) error {
	o, ok := other.(*AutoPower)
	if !ok {
		return fmt.Errorf("tried to merge %v into %v", other.Name(), p.Name())
	}
	if len(o.sum) != len(p.sum) {
		return fmt.Errorf("tried to merge %v antennas into %v", len(o.sum), len(p.sum))
	}
	floats.Add(p.sum, o.sum)
	p.reads += o.reads
	return nil
}

func (p *AutoPower) Reset() {
	for i := range p.sum {
		p.sum[i] = 0
	}
	p.reads = 0
}

func (p *AutoPower) DeepCopy() Summary {
	c := &AutoPower{shape: p.shape, autos: p.autos, sum: make([]float64, len(p.sum)), reads: p.reads}
	copy(c.sum, p.sum)
	return c
}
