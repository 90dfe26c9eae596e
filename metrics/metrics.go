// Package metrics records per-phase timing for the hot-reload algorithm
// using tachymeter, the way cmd/benchmark reports propagation timing for
// the reactive systems it measures.
package metrics

import (
	"time"

	"github.com/jamiealquiza/tachymeter"
)

// Phase names the four phases requestUpdate walks through, plus dispatch
// for the initial load.
type Phase string

const (
	PhaseDispatch  Phase = "dispatch"
	PhaseDryRun    Phase = "dryRun"
	PhaseLinkTest  Phase = "linkTest"
	PhaseCommit    Phase = "commit"
	PhaseFinalize  Phase = "finalize"
)

// Recorder wraps one tachymeter per phase, sized for the last `size`
// samples of each. Nil-safe: a nil *Recorder's methods are no-ops so
// instrumentation can be threaded through unconditionally and only
// allocated when a caller actually wants numbers.
type Recorder struct {
	size  int
	tachs map[Phase]*tachymeter.Tachymeter
}

// New returns a Recorder sized to keep the last `size` samples per phase.
func New(size int) *Recorder {
	return &Recorder{
		size: size,
		tachs: map[Phase]*tachymeter.Tachymeter{
			PhaseDispatch: tachymeter.New(&tachymeter.Config{Size: size}),
			PhaseDryRun:   tachymeter.New(&tachymeter.Config{Size: size}),
			PhaseLinkTest: tachymeter.New(&tachymeter.Config{Size: size}),
			PhaseCommit:   tachymeter.New(&tachymeter.Config{Size: size}),
			PhaseFinalize: tachymeter.New(&tachymeter.Config{Size: size}),
		},
	}
}

// Observe records how long phase took. Safe to call on a nil Recorder.
func (r *Recorder) Observe(phase Phase, d time.Duration) {
	if r == nil {
		return
	}
	if t, ok := r.tachs[phase]; ok {
		t.AddTime(d)
	}
}

// Time runs fn, recording its duration against phase, and returns
// whatever fn returned.
func (r *Recorder) Time(phase Phase, fn func() error) error {
	start := time.Now()
	err := fn()
	r.Observe(phase, time.Since(start))
	return err
}

// PhaseSummary is one phase's calculated percentile snapshot.
type PhaseSummary struct {
	Phase Phase
	Avg   time.Duration
	Min   time.Duration
	P75   time.Duration
	P99   time.Duration
	Max   time.Duration
	Count int
}

// Summaries returns one PhaseSummary per phase that has recorded at least
// one sample, in a fixed dispatch→finalize order.
func (r *Recorder) Summaries() []PhaseSummary {
	if r == nil {
		return nil
	}
	var out []PhaseSummary
	for _, phase := range []Phase{PhaseDispatch, PhaseDryRun, PhaseLinkTest, PhaseCommit, PhaseFinalize} {
		t, ok := r.tachs[phase]
		if !ok {
			continue
		}
		calc := t.Calc()
		if calc.Count == 0 {
			continue
		}
		out = append(out, PhaseSummary{
			Phase: phase,
			Avg:   calc.Time.Avg,
			Min:   calc.Time.Min,
			P75:   calc.Time.P75,
			P99:   calc.Time.P99,
			Max:   calc.Time.Max,
			Count: calc.Count,
		})
	}
	return out
}
