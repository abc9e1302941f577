package podds

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProbTriple(t *testing.T) {
	p := ProbTriple{Home: 0.5, Draw: 0.3, Away: 0.2}
	assert.True(t, p.Valid())
	assert.Equal(t, 0.5, p.At(OutcomeHome))
	assert.Equal(t, 0.2, p.At(OutcomeAway))
	assert.Zero(t, p.At(99))

	assert.InDelta(t, 0.8, p.HomeOrDraw(), 1e-12)
	assert.InDelta(t, 0.7, p.HomeOrAway(), 1e-12)
	assert.InDelta(t, 0.5, p.DrawOrAway(), 1e-12)
}

func TestProbTripleNormalize(t *testing.T) {
	p := ProbTriple{Home: 2, Draw: 1, Away: 1}.Normalize()
	assert.True(t, p.Valid())
	assert.InDelta(t, 0.5, p.Home, 1e-12)

	degenerate := ProbTriple{}.Normalize()
	assert.InDelta(t, 1.0/3, degenerate.Home, 1e-12, "zero mass falls back to uniform")
}

func TestProbTripleClamp(t *testing.T) {
	p := ProbTriple{Home: 1, Draw: 0, Away: 0}.Clamp(1e-4)
	assert.True(t, p.Valid())
	assert.Greater(t, p.Draw, 0.0, "clamping keeps every component off zero")
	assert.Less(t, p.Home, 1.0)
}

func TestMatchSentinels(t *testing.T) {
	m := NewMatch("m1", 1, time.Date(2024, 8, 1, 15, 0, 0, 0, time.UTC), "A", "B")
	assert.False(t, m.HasBeenPlayed())
	assert.False(t, m.HasXG())
	assert.False(t, m.HasOdds())
	assert.Equal(t, -1, m.Outcome())

	m.HomeGoals, m.AwayGoals = 2, 2
	assert.True(t, m.HasBeenPlayed())
	assert.Equal(t, OutcomeDraw, m.Outcome())

	m.AwayGoals = 3
	assert.Equal(t, OutcomeAway, m.Outcome())
}
