package metrics_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/delaneyj/hmrcore/metrics"
)

func TestObserveFeedsSummaries(t *testing.T) {
	r := metrics.New(8)
	r.Observe(metrics.PhaseDryRun, 2*time.Millisecond)
	r.Observe(metrics.PhaseDryRun, 4*time.Millisecond)

	summaries := r.Summaries()
	require.Len(t, summaries, 1)
	assert.Equal(t, metrics.PhaseDryRun, summaries[0].Phase)
	assert.Equal(t, 2, summaries[0].Count)
}

func TestNilRecorderIsNoOp(t *testing.T) {
	var r *metrics.Recorder
	assert.NotPanics(t, func() {
		r.Observe(metrics.PhaseCommit, time.Millisecond)
		_ = r.Time(metrics.PhaseCommit, func() error { return nil })
	})
	assert.Nil(t, r.Summaries())
}
