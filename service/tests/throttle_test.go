package service_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/zlnvch/learnlink/service"
)

func TestPointGate(t *testing.T) {
	gate := service.NewPointGate(16 * time.Millisecond)
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	assert.True(t, gate.Allow("g1", start))
	assert.False(t, gate.Allow("g1", start.Add(5*time.Millisecond)))
	assert.False(t, gate.Allow("g1", start.Add(15*time.Millisecond)))
	assert.True(t, gate.Allow("g1", start.Add(16*time.Millisecond)))

	// gestures are throttled independently
	assert.True(t, gate.Allow("g2", start.Add(17*time.Millisecond)))
	assert.False(t, gate.Allow("g1", start.Add(20*time.Millisecond)))
}

func TestPointGate_DroppedPointsDoNotExtendWindow(t *testing.T) {
	gate := service.NewPointGate(16 * time.Millisecond)
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	assert.True(t, gate.Allow("g1", start))
	for ms := 1; ms < 16; ms++ {
		assert.False(t, gate.Allow("g1", start.Add(time.Duration(ms)*time.Millisecond)))
	}
	assert.True(t, gate.Allow("g1", start.Add(16*time.Millisecond)))
}

func TestPointGate_SweepsStaleGestures(t *testing.T) {
	gate := service.NewPointGate(16 * time.Millisecond)
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 40; i++ {
		assert.True(t, gate.Allow(fmt.Sprintf("g%d", i), start))
	}
	// a fresh gesture is still admitted and recent ones stay throttled
	later := start.Add(time.Second)
	assert.True(t, gate.Allow("new", later))
	assert.False(t, gate.Allow("new", later.Add(time.Millisecond)))
}

func TestService_NewPointGateUsesDefault(t *testing.T) {
	svc, _, _, _, _, _ := setupService(t)
	assert.Equal(t, 16*time.Millisecond, svc.PointThrottle)

	gate := svc.NewPointGate()
	now := time.Now()
	assert.True(t, gate.Allow("g1", now))
	assert.False(t, gate.Allow("g1", now.Add(10*time.Millisecond)))
}
