// Package motion gera trajetórias de arrasto parecidas com as de uma pessoa.
//
// A trajetória é apenas um plano: quem executa o arrasto respeita os Delay de
// cada passo. Nada aqui dorme ou toca no browser.
package motion

import (
	"math"
	"math/rand/v2"
	"time"
)

// Step é um deslocamento relativo seguido de uma pausa.
type Step struct {
	DX    int
	DY    int
	Delay time.Duration
}

// Track é a sequência de passos de um arrasto.
type Track struct {
	Steps []Step
}

// Sum retorna o deslocamento total planejado.
func (t Track) Sum() (dx, dy int) {
	for _, s := range t.Steps {
		dx += s.DX
		dy += s.DY
	}
	return dx, dy
}

// Duration é a soma das pausas.
func (t Track) Duration() time.Duration {
	var d time.Duration
	for _, s := range t.Steps {
		d += s.Delay
	}
	return d
}

func (t Track) Len() int {
	return len(t.Steps)
}

// Options controla o perfil de velocidade.
type Options struct {
	// Accel é a aceleração até 4/5 do percurso.
	Accel float64
	// Decel é a desaceleração (em módulo) no trecho final.
	Decel float64
	// Slice é o intervalo de tempo do modelo físico, não o tempo real.
	Slice float64
	// MinStep impede que a velocidade zere antes do alvo.
	MinStep float64

	StepDelay  time.Duration
	StepJitter time.Duration

	JitterMin int
	JitterMax int
}

// DefaultOptions replica o perfil clássico: a=20 até 4/5, depois a=-30, t=0.31.
func DefaultOptions() Options {
	return Options{
		Accel:      20,
		Decel:      30,
		Slice:      0.31,
		MinStep:    1,
		StepDelay:  12 * time.Millisecond,
		StepJitter: 10 * time.Millisecond,
		JitterMin:  -2,
		JitterMax:  4,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Accel <= 0 {
		o.Accel = d.Accel
	}
	if o.Decel <= 0 {
		o.Decel = d.Decel
	}
	if o.Slice <= 0 {
		o.Slice = d.Slice
	}
	if o.MinStep <= 0 {
		o.MinStep = d.MinStep
	}
	if o.JitterMin == 0 && o.JitterMax == 0 {
		o.JitterMin, o.JitterMax = d.JitterMin, d.JitterMax
	}
	if o.JitterMax < o.JitterMin {
		o.JitterMin, o.JitterMax = o.JitterMax, o.JitterMin
	}
	return o
}

// NewRand cria um gerador próprio para quem não precisa de reprodutibilidade.
func NewRand() *rand.Rand {
	return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}

// Synthesize planeja um arrasto horizontal de exatamente distance pixels.
//
// A soma de DX é sempre igual a distance. Para |distance| >= 2 o plano tem
// pelo menos dois passos. Distância negativa espelha o plano; zero gera um
// plano vazio. O desvio vertical total é sorteado uma vez em
// [JitterMin, JitterMax] e espalhado pelos primeiros passos.
func Synthesize(distance int, rng *rand.Rand, opts Options) Track {
	if distance == 0 {
		return Track{}
	}
	if rng == nil {
		rng = NewRand()
	}
	opts = opts.withDefaults()

	sign := 1
	if distance < 0 {
		sign = -1
		distance = -distance
	}

	target := float64(distance)
	mid := target * 4 / 5
	t := opts.Slice

	var (
		v, current float64
		emitted    int
		dxs        []int
	)
	for current < target {
		a := opts.Accel
		if current >= mid {
			a = -opts.Decel
		}
		s := v*t + 0.5*a*t*t
		if s < opts.MinStep {
			s = opts.MinStep
		}
		v = math.Max(v+a*t, 0)

		current = math.Min(current+s, target)
		dx := int(math.Round(current)) - emitted
		if dx == 0 {
			continue
		}
		emitted += dx
		dxs = append(dxs, dx)
	}

	if len(dxs) == 1 && distance >= 2 {
		first := dxs[0] / 2
		dxs = []int{first, dxs[0] - first}
	}

	jitter := opts.JitterMin + rng.IntN(opts.JitterMax-opts.JitterMin+1)
	dys := spread(jitter, len(dxs))

	steps := make([]Step, len(dxs))
	for i, dx := range dxs {
		delay := opts.StepDelay
		if opts.StepJitter > 0 {
			delay += time.Duration(rng.Int64N(int64(opts.StepJitter)))
		}
		steps[i] = Step{DX: dx * sign, DY: dys[i], Delay: delay}
	}
	return Track{Steps: steps}
}

// spread distribui total em n passos de no máximo 1px, sobrando o resto no último.
func spread(total, n int) []int {
	out := make([]int, n)
	if n == 0 {
		return out
	}
	unit := 1
	if total < 0 {
		unit = -1
	}
	remaining := total
	for i := 0; i < n-1 && remaining != 0; i++ {
		out[i] = unit
		remaining -= unit
	}
	out[n-1] += remaining
	return out
}
