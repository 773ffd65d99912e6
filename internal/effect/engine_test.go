package effect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_CommitAdvancesGeneration(t *testing.T) {
	e := NewEngine(t.TempDir())
	assert.Equal(t, uint64(0), e.Generation())

	gen1, err := e.Commit("solid", map[string]interface{}{"color": "#ff0000"})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), gen1)

	gen2, err := e.Commit("rainbow", nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), gen2)

	gen3 := e.Stop()
	assert.Equal(t, uint64(3), gen3)
	assert.Equal(t, KindOff, e.Advance(0).Config.Kind)
}

// A failed commit must leave the previous state untouched, including its
// elapsed time.
func TestEngine_FailedCommitKeepsActiveState(t *testing.T) {
	e := NewEngine(t.TempDir())
	_, err := e.Commit("pulse", map[string]interface{}{"color": "#00ff00", "period": 2})
	require.NoError(t, err)
	e.Advance(1.5)

	_, err = e.Commit("pulse", map[string]interface{}{"color": "#00ff00", "period": -2})
	require.Error(t, err)

	st := e.Advance(0)
	assert.Equal(t, KindPulse, st.Config.Kind)
	assert.Equal(t, uint64(1), st.Gen)
	assert.Equal(t, 1.5, st.Elapsed)
}

func TestEngine_AdvanceAccumulatesAndResetsOnCommit(t *testing.T) {
	e := NewEngine(t.TempDir())
	_, err := e.Commit("solid", map[string]interface{}{"color": "#ffffff"})
	require.NoError(t, err)

	assert.Equal(t, 0.1, e.Advance(0.1).Elapsed)
	assert.InDelta(t, 0.3, e.Advance(0.2).Elapsed, 1e-12)

	_, err = e.Commit("solid", map[string]interface{}{"color": "#000000"})
	require.NoError(t, err)
	assert.Equal(t, 0.05, e.Advance(0.05).Elapsed)
}
