package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/models"
)

func mod(id string, order int, threshold float64) models.Module {
	return models.Module{
		ID:    id,
		Order: order,
		Settings: models.VirtualizationSettings{
			InitialBatchSize:    2,
			GenerationThreshold: threshold,
		},
	}
}

func vm(moduleID string, status models.GenerationStatus, progress float64) *models.VirtualModule {
	return &models.VirtualModule{ModuleID: moduleID, GenerationStatus: status, Progress: progress}
}

func TestDecideNextBootstrap(t *testing.T) {
	states := []moduleState{
		{Module: mod("m1", 1, 0.8), Published: 3},
		{Module: mod("m2", 2, 0.8), Published: 3},
	}

	d := decideNext(states, 2, 0.8)
	require.NotNil(t, d)
	assert.Equal(t, "m1", d.ModuleID)
	assert.True(t, d.Bootstrap)
}

func TestDecideNextBootstrapSkipsUnreadyModules(t *testing.T) {
	states := []moduleState{
		{Module: mod("m1", 1, 0.8), Published: 0},
		{Module: mod("m2", 2, 0.8), Published: 3},
	}

	d := decideNext(states, 2, 0.8)
	require.NotNil(t, d)
	assert.Equal(t, "m2", d.ModuleID)
	assert.True(t, d.Bootstrap)
}

func TestDecideNextNothingPublished(t *testing.T) {
	states := []moduleState{
		{Module: mod("m1", 1, 0.8), Published: 0},
	}
	assert.Nil(t, decideNext(states, 2, 0.8))
}

func TestDecideNextBelowThreshold(t *testing.T) {
	states := []moduleState{
		{Module: mod("m1", 1, 0.8), VM: vm("m1", models.GenerationStatusReady, 0.67), Published: 3},
		{Module: mod("m2", 2, 0.8), Published: 3},
	}
	assert.Nil(t, decideNext(states, 2, 0.8))
}

func TestDecideNextThresholdCrossed(t *testing.T) {
	states := []moduleState{
		{Module: mod("m1", 1, 0.8), VM: vm("m1", models.GenerationStatusReady, 0.83), Published: 3},
		{Module: mod("m2", 2, 0.8), Published: 3},
		{Module: mod("m3", 3, 0.8), Published: 3},
	}

	d := decideNext(states, 2, 0.8)
	require.NotNil(t, d)
	assert.Equal(t, "m2", d.ModuleID)
	assert.False(t, d.Bootstrap)
}

func TestDecideNextWindowCap(t *testing.T) {
	// m1 crossed its threshold and m2 is already materializing: the window
	// holds two unconsumed modules, so m3 must not start.
	states := []moduleState{
		{Module: mod("m1", 1, 0.8), VM: vm("m1", models.GenerationStatusReady, 0.83), Published: 3},
		{Module: mod("m2", 2, 0.8), VM: vm("m2", models.GenerationStatusGenerating, 0), Published: 3},
		{Module: mod("m3", 3, 0.8), Published: 3},
	}
	assert.Nil(t, decideNext(states, 2, 0.8))
}

func TestDecideNextPendingCountsTowardWindow(t *testing.T) {
	states := []moduleState{
		{Module: mod("m1", 1, 0.8), VM: vm("m1", models.GenerationStatusReady, 0.83), Published: 3},
		{Module: mod("m2", 2, 0.8), VM: vm("m2", models.GenerationStatusPending, 0), Published: 3},
		{Module: mod("m3", 3, 0.8), Published: 3},
	}
	assert.Nil(t, decideNext(states, 2, 0.8))
}

func TestDecideNextConsumedModuleLeavesWindow(t *testing.T) {
	// m1 fully consumed frees a window slot; m2 at threshold pulls m3 in.
	states := []moduleState{
		{Module: mod("m1", 1, 0.8), VM: vm("m1", models.GenerationStatusReady, 1.0), Published: 3},
		{Module: mod("m2", 2, 0.8), VM: vm("m2", models.GenerationStatusReady, 0.83), Published: 3},
		{Module: mod("m3", 3, 0.8), Published: 3},
	}

	d := decideNext(states, 2, 0.8)
	require.NotNil(t, d)
	assert.Equal(t, "m3", d.ModuleID)
}

func TestDecideNextSkipsExistingAndUnready(t *testing.T) {
	// The next module in order already exists and the one after has no
	// published topics, so the first eligible target is m4.
	states := []moduleState{
		{Module: mod("m1", 1, 0.8), VM: vm("m1", models.GenerationStatusReady, 1.0), Published: 3},
		{Module: mod("m2", 2, 0.8), VM: vm("m2", models.GenerationStatusReady, 0.9), Published: 3},
		{Module: mod("m3", 3, 0.8), Published: 0},
		{Module: mod("m4", 4, 0.8), Published: 2},
	}

	d := decideNext(states, 2, 0.8)
	require.NotNil(t, d)
	assert.Equal(t, "m4", d.ModuleID)
}

func TestDecideNextModuleThresholdOverride(t *testing.T) {
	// Per-module threshold 0.5 beats the 0.8 default.
	states := []moduleState{
		{Module: mod("m1", 1, 0.5), VM: vm("m1", models.GenerationStatusReady, 0.6), Published: 3},
		{Module: mod("m2", 2, 0.8), Published: 3},
	}

	d := decideNext(states, 2, 0.8)
	require.NotNil(t, d)
	assert.Equal(t, "m2", d.ModuleID)
}

func TestDecideNextDefaultThresholdFallback(t *testing.T) {
	states := []moduleState{
		{Module: mod("m1", 1, 0), VM: vm("m1", models.GenerationStatusReady, 0.79), Published: 3},
		{Module: mod("m2", 2, 0), Published: 3},
	}
	assert.Nil(t, decideNext(states, 2, 0.8))

	states[0].VM.Progress = 0.8
	d := decideNext(states, 2, 0.8)
	require.NotNil(t, d)
	assert.Equal(t, "m2", d.ModuleID)
}

func TestDecideNextFailedModuleDoesNotAdvance(t *testing.T) {
	// A failed module is not in the window but also offers no progress
	// signal; the retry path owns it, the advance path ignores it.
	states := []moduleState{
		{Module: mod("m1", 1, 0.8), VM: vm("m1", models.GenerationStatusFailed, 0), Published: 3},
		{Module: mod("m2", 2, 0.8), Published: 3},
	}
	assert.Nil(t, decideNext(states, 2, 0.8))
}

func TestDecideNextUntouchedModulesDoNotAdvance(t *testing.T) {
	// Generated ahead but never opened: no module has progress, so there is
	// no current module to measure a threshold against.
	states := []moduleState{
		{Module: mod("m1", 1, 0.8), VM: vm("m1", models.GenerationStatusReady, 0), Published: 3},
		{Module: mod("m2", 2, 0.8), Published: 3},
	}
	assert.Nil(t, decideNext(states, 2, 0.8))
}

// TestWindowAdvanceScenario walks the progression of one student through a
// three-module plan with initial_batch_size=2 and threshold 0.8.
func TestWindowAdvanceScenario(t *testing.T) {
	m1 := mod("m1", 1, 0.8)
	m2 := mod("m2", 2, 0.8)
	m3 := mod("m3", 3, 0.8)

	// Bootstrap.
	states := []moduleState{
		{Module: m1, Published: 3},
		{Module: m2, Published: 3},
		{Module: m3, Published: 3},
	}
	d := decideNext(states, 2, 0.8)
	require.NotNil(t, d)
	assert.Equal(t, "m1", d.ModuleID)
	assert.True(t, d.Bootstrap)

	// First topic done: progress 0.33, below threshold.
	states[0].VM = vm("m1", models.GenerationStatusReady, 0.33)
	assert.Nil(t, decideNext(states, 2, 0.8))

	// Second topic done: 0.67, still below.
	states[0].VM.Progress = 0.67
	assert.Nil(t, decideNext(states, 2, 0.8))

	// Third topic partially done: 0.83 crosses the threshold; exactly m2 is
	// scheduled and m3 is not.
	states[0].VM.Progress = 0.83
	d = decideNext(states, 2, 0.8)
	require.NotNil(t, d)
	assert.Equal(t, "m2", d.ModuleID)

	// With m2 materializing the window is full.
	states[1].VM = vm("m2", models.GenerationStatusGenerating, 0)
	assert.Nil(t, decideNext(states, 2, 0.8))
}
