// Package backpressure grades the load on the ingestion pending buffer.
//
// Samples wait in the pending buffer until they are written to the sample
// store. The buffer fills when the store is slow or when writes are
// halted after a failed integrity check. The controller maps buffer usage
// to a level the pipeline acts on.
package backpressure

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/qoslog/internal/clock"
	"github.com/xtxerr/qoslog/internal/storage/config"
)

// Level represents the current backpressure level.
type Level int

const (
	// LevelNormal - system operating normally.
	LevelNormal Level = iota

	// LevelWarning - pending samples accumulate.
	LevelWarning

	// LevelCritical - flush as soon as possible.
	LevelCritical

	// LevelEmergency - the oldest pending samples are being overwritten.
	LevelEmergency
)

// String returns the string representation of the level.
func (l Level) String() string {
	switch l {
	case LevelNormal:
		return "normal"
	case LevelWarning:
		return "warning"
	case LevelCritical:
		return "critical"
	case LevelEmergency:
		return "emergency"
	default:
		return "unknown"
	}
}

// Gauge reports buffer usage in [0, 1].
type Gauge interface {
	UsageRatio() float64
}

// Controller manages backpressure based on buffer utilization.
type Controller struct {
	mu sync.RWMutex

	config config.BackpressureConfig
	gauge  Gauge
	clock  clock.Clock

	// Current state
	level     atomic.Int32
	lastCheck time.Time
	lastLevel Level

	// Statistics
	stats Stats

	// Level change callback
	onLevelChange func(old, new Level)
}

// Stats holds backpressure statistics.
type Stats struct {
	LevelChanges   int64
	WarningCount   int64
	CriticalCount  int64
	EmergencyCount int64
	SamplesDropped int64
}

// New creates a new backpressure controller. A nil clk uses the system clock.
func New(cfg config.BackpressureConfig, gauge Gauge, clk clock.Clock) *Controller {
	if clk == nil {
		clk = clock.System{}
	}
	return &Controller{
		config: cfg,
		gauge:  gauge,
		clock:  clk,
	}
}

// SetOnLevelChange sets the callback for level changes.
func (c *Controller) SetOnLevelChange(fn func(old, new Level)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onLevelChange = fn
}

// Check evaluates current conditions and updates the level.
// This should be called periodically.
func (c *Controller) Check() Level {
	if !c.config.Enabled {
		return LevelNormal
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()

	// Respect cooldown
	if !c.lastCheck.IsZero() && now.Sub(c.lastCheck) < c.config.Recovery.Cooldown {
		return Level(c.level.Load())
	}
	c.lastCheck = now

	newLevel := c.determineLevel(c.gauge.UsageRatio())
	if newLevel != c.lastLevel {
		c.setLevel(newLevel)
	}

	return newLevel
}

// determineLevel determines the backpressure level based on usage.
func (c *Controller) determineLevel(usage float64) Level {
	thresholds := c.config.Thresholds
	hysteresis := c.config.Recovery.Hysteresis

	// Going up (increasing pressure)
	if usage >= thresholds.Emergency {
		return LevelEmergency
	}
	if usage >= thresholds.Critical {
		return LevelCritical
	}
	if usage >= thresholds.Warning {
		return LevelWarning
	}

	// Going down (decreasing pressure) - apply hysteresis
	switch c.lastLevel {
	case LevelEmergency:
		if usage < thresholds.Emergency-hysteresis {
			return LevelCritical
		}
		return LevelEmergency
	case LevelCritical:
		if usage < thresholds.Critical-hysteresis {
			return LevelWarning
		}
		return LevelCritical
	case LevelWarning:
		if usage < thresholds.Warning-hysteresis {
			return LevelNormal
		}
		return LevelWarning
	default:
		return LevelNormal
	}
}

// setLevel updates the current level and fires callback.
func (c *Controller) setLevel(newLevel Level) {
	oldLevel := c.lastLevel
	c.lastLevel = newLevel
	c.level.Store(int32(newLevel))
	c.stats.LevelChanges++

	switch newLevel {
	case LevelWarning:
		c.stats.WarningCount++
	case LevelCritical:
		c.stats.CriticalCount++
	case LevelEmergency:
		c.stats.EmergencyCount++
	}

	if c.onLevelChange != nil {
		c.onLevelChange(oldLevel, newLevel)
	}
}

// CurrentLevel returns the current backpressure level.
func (c *Controller) CurrentLevel() Level {
	return Level(c.level.Load())
}

// ShouldFlushNow returns true if pending samples should be written
// without waiting for the flush interval.
func (c *Controller) ShouldFlushNow() bool {
	return c.CurrentLevel() >= LevelCritical
}

// IsShedding returns true if pending samples are being overwritten.
func (c *Controller) IsShedding() bool {
	return c.CurrentLevel() == LevelEmergency
}

// RecordDrop records that a pending sample was overwritten.
func (c *Controller) RecordDrop() {
	c.mu.Lock()
	c.stats.SamplesDropped++
	c.mu.Unlock()
}

// Stats returns current statistics.
func (c *Controller) Stats() ControllerStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return ControllerStats{
		CurrentLevel:   c.CurrentLevel(),
		LevelChanges:   c.stats.LevelChanges,
		WarningCount:   c.stats.WarningCount,
		CriticalCount:  c.stats.CriticalCount,
		EmergencyCount: c.stats.EmergencyCount,
		SamplesDropped: c.stats.SamplesDropped,
		BufferUsage:    c.gauge.UsageRatio(),
	}
}

// ControllerStats holds controller statistics.
type ControllerStats struct {
	CurrentLevel   Level
	LevelChanges   int64
	WarningCount   int64
	CriticalCount  int64
	EmergencyCount int64
	SamplesDropped int64
	BufferUsage    float64
}
