package ewma

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecordSuccess_FirstSampleSetsEWMA(t *testing.T) {
	tr := New()
	tr.RecordSuccess("tier-0", 0.5)

	ewmaSecs, samples, ok := tr.GetLatency("tier-0")
	assert.True(t, ok)
	assert.Equal(t, 1.0, ewmaSecs*2) // 0.5*2 sanity
	assert.Equal(t, uint64(1), samples)
	assert.InDelta(t, 0.5, ewmaSecs, 1e-9)
}

func TestRecordSuccess_MonotonicityUnderUniformInput(t *testing.T) {
	// Property 5: recording the same value repeatedly converges the EWMA to
	// that value.
	tr := New(WithAlpha(0.3))
	const v = 0.2
	for i := 0; i < 200; i++ {
		tr.RecordSuccess("tier-0", v)
	}
	ewmaSecs, _, _ := tr.GetLatency("tier-0")
	assert.InDelta(t, v, ewmaSecs, 1e-6)
}

func TestRecordFailure_PenaltyBounded(t *testing.T) {
	// Property 6: after k consecutive failures the EWMA is bounded above by
	// baseline * failure_penalty in the limit.
	tr := New(WithAlpha(0.3), WithFailurePenalty(2.0))
	tr.RecordSuccess("tier-0", 1.0)
	baseline, _, _ := tr.GetLatency("tier-0")

	for i := 0; i < 1000; i++ {
		tr.RecordFailure("tier-0")
	}
	ewmaSecs, _, _ := tr.GetLatency("tier-0")
	assert.LessOrEqual(t, ewmaSecs, baseline*2.0+1e-6)
}

func TestRecordFailure_ResetByNextSuccess(t *testing.T) {
	tr := New()
	tr.RecordFailure("tier-0") // no-op on ewma since ewma==0
	tr.RecordFailure("tier-0")
	_, _, ok := tr.GetLatency("tier-0")
	assert.True(t, ok)

	tr.RecordSuccess("tier-0", 0.1)
	_, _, ok2 := tr.GetLatency("tier-0")
	assert.True(t, ok2)
	assert.Equal(t, uint64(0), tr.GetAllLatencies()["tier-0"].ConsecutiveFailures)
}

func TestSortTiers_MeasuredBeforeUnmeasured(t *testing.T) {
	tr := New(WithMinSamples(3))
	for i := 0; i < 3; i++ {
		tr.RecordSuccess("slow", 0.9)
	}
	for i := 0; i < 3; i++ {
		tr.RecordSuccess("fast", 0.1)
	}
	// "unmeasured" has only 1 sample, below minSamples.
	tr.RecordSuccess("unmeasured", 0.05)

	order := tr.SortTiers([]string{"slow", "unmeasured", "fast"})
	assert.Equal(t, []string{"fast", "slow", "unmeasured"}, order)
}

func TestSortTiers_UnmeasuredKeepsConfigOrder(t *testing.T) {
	tr := New()
	order := tr.SortTiers([]string{"tier-b", "tier-a", "tier-c"})
	assert.Equal(t, []string{"tier-b", "tier-a", "tier-c"}, order)
}

func TestSortTiers_StableOnTies(t *testing.T) {
	tr := New(WithMinSamples(1))
	tr.RecordSuccess("t1", 0.5)
	tr.RecordSuccess("t2", 0.5)
	order := tr.SortTiers([]string{"t1", "t2"})
	assert.Equal(t, []string{"t1", "t2"}, order)
}

func TestAttemptTimer_ResolvedExplicitly(t *testing.T) {
	tr := New()
	timer := StartAttemptTimer(tr, "tier-0")
	timer.FinishSuccess()
	timer.Close() // no-op, already resolved

	_, samples, _ := tr.GetLatency("tier-0")
	assert.Equal(t, uint64(1), samples)
}

func TestAttemptTimer_UnresolvedDefaultsToFailure(t *testing.T) {
	tr := New()
	func() {
		timer := StartAttemptTimer(tr, "tier-0")
		defer timer.Close()
		// simulate a panic recovery path or early return without resolving
	}()

	_, samples, _ := tr.GetLatency("tier-0")
	assert.Equal(t, uint64(1), samples)
	assert.True(t, tr.GetAllLatencies()["tier-0"].ConsecutiveFailures == 1)
}

func TestRestore_SeedsState(t *testing.T) {
	tr := New()
	tr.Restore("tier-0", 0.42, 10)

	ewmaSecs, samples, ok := tr.GetLatency("tier-0")
	assert.True(t, ok)
	assert.InDelta(t, 0.42, ewmaSecs, 1e-9)
	assert.Equal(t, uint64(10), samples)
}

func TestFailurePenaltyClampedToAtLeastOne(t *testing.T) {
	tr := New(WithFailurePenalty(0.1))
	tr.RecordSuccess("tier-0", 1.0)
	tr.RecordFailure("tier-0")
	ewmaSecs, _, _ := tr.GetLatency("tier-0")
	assert.False(t, math.IsNaN(ewmaSecs))
	// Penalty 0.1 is clamped to 1.0, so the failure leaves the EWMA at 1.0.
	assert.InDelta(t, 1.0, ewmaSecs, 1e-9)
}
