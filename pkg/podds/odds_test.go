package podds

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFairProbs(t *testing.T) {
	// A typical 1X2 price set carrying roughly a 5% margin.
	fair, err := FairProbs(2.0, 3.4, 4.2)
	require.NoError(t, err)
	assert.True(t, fair.Valid(), "fair probabilities should sum to one")
	assert.Greater(t, fair.Home, fair.Draw)
	assert.Greater(t, fair.Draw, fair.Away)

	// The margin disappears by normalization.
	assert.InDelta(t, 1.0, fair.Sum(), 1e-12)
}

func TestFairProbsRejectsBadOdds(t *testing.T) {
	_, err := FairProbs(1.0, 3.4, 4.2)
	assert.Error(t, err)
	_, err = FairProbs(2.0, -3.4, 4.2)
	assert.Error(t, err)
}

func TestOverround(t *testing.T) {
	margin, err := Overround(2.0, 3.4, 4.2)
	require.NoError(t, err)
	assert.Greater(t, margin, 0.0)
	assert.Less(t, margin, 0.1)

	_, err = Overround(0.5, 3.4, 4.2)
	assert.Error(t, err)
}
