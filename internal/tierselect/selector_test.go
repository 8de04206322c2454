package tierselect

import (
	"testing"
	"time"

	"github.com/llmrelay/llmrelay/internal/ewma"
	"github.com/llmrelay/llmrelay/internal/ratelimit"
	"github.com/stretchr/testify/assert"
)

func TestOrder_DropsBackedOffTiers(t *testing.T) {
	e := ewma.New()
	rl := ratelimit.New()
	rl.Record429("tier-a", time.Second)

	sel := New(e, rl)
	ordered := sel.Order([]string{"tier-a,model-a", "tier-b,model-b"})
	assert.Equal(t, []string{"tier-b,model-b"}, ordered)
}

func TestOrder_ReSortsByEWMAAmongEligible(t *testing.T) {
	e := ewma.New()
	rl := ratelimit.New()
	for i := 0; i < 3; i++ {
		e.RecordSuccess("tier-slow", 2.0)
		e.RecordSuccess("tier-fast", 0.5)
	}

	sel := New(e, rl)
	ordered := sel.Order([]string{"tier-slow,m", "tier-fast,m"})
	assert.Equal(t, []string{"tier-fast,m", "tier-slow,m"}, ordered)
}

func TestOrder_UnmeasuredTiersKeepConfigOrder(t *testing.T) {
	e := ewma.New()
	rl := ratelimit.New()

	sel := New(e, rl)
	ordered := sel.Order([]string{"tier-a,m", "tier-b,m", "tier-c,m"})
	assert.Equal(t, []string{"tier-a,m", "tier-b,m", "tier-c,m"}, ordered)
}

func TestAllBackedOff_TrueWhenEveryCandidateSkipped(t *testing.T) {
	rl := ratelimit.New()
	rl.Record429("tier-a", time.Second)
	rl.Record429("tier-b", time.Second)

	sel := New(ewma.New(), rl)
	assert.True(t, sel.AllBackedOff([]string{"tier-a,m", "tier-b,m"}))
}

func TestAllBackedOff_FalseWhenAnyCandidateEligible(t *testing.T) {
	rl := ratelimit.New()
	rl.Record429("tier-a", time.Second)

	sel := New(ewma.New(), rl)
	assert.False(t, sel.AllBackedOff([]string{"tier-a,m", "tier-b,m"}))
}

func TestAllBackedOff_FalseForEmptyCandidates(t *testing.T) {
	sel := New(ewma.New(), ratelimit.New())
	assert.False(t, sel.AllBackedOff(nil))
}
