package radio

import "github.com/edward-ap/liveradio/internal/audio"

// EffectKind tags a deferred effect request.
type EffectKind int

const (
	EffectEQ EffectKind = iota
	EffectIR
)

func (k EffectKind) String() string {
	if k == EffectIR {
		return "ir"
	}
	return "eq"
}

// PendingEffect is an effect request waiting for the effects unit. Only one
// exists at a time; a newer request of either kind replaces it.
type PendingEffect struct {
	Kind EffectKind
	EQ   []float64
	IR   string

	seq uint64
}

func (p *PendingEffect) apply(fx audio.Effects) error {
	if p.Kind == EffectIR {
		return fx.UpdateIR(p.IR)
	}
	return fx.UpdateEQ(p.EQ)
}

func (p *PendingEffect) clone() *PendingEffect {
	if p == nil {
		return nil
	}
	c := *p
	c.EQ = append([]float64(nil), p.EQ...)
	return &c
}
