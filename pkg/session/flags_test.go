package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFlagsSetClearHas(t *testing.T) {
	var f Flags
	assert.False(t, f.Has(FlagReady))
	f.Set(FlagReady)
	assert.True(t, f.Has(FlagReady))
	f.Clear(FlagReady)
	assert.False(t, f.Has(FlagReady))
}

func TestBeginICERestartSetsResendAndClearsTrickleState(t *testing.T) {
	var f Flags
	f.Set(FlagAllTrickles)
	f.Set(FlagTrickleSynced)

	f.BeginICERestart()

	assert.True(t, f.Has(FlagICERestart))
	assert.True(t, f.Has(FlagResendTrickles))
	assert.False(t, f.Has(FlagAllTrickles))
	assert.False(t, f.Has(FlagTrickleSynced))
}

func TestCleaningDominatesICERestart(t *testing.T) {
	var f Flags
	f.Set(FlagCleaning)
	f.BeginICERestart()
	assert.False(t, f.Has(FlagICERestart), "CLEANING must short-circuit an ICE restart request")
}
