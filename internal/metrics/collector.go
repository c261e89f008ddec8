package metrics

import (
	"context"
	"time"

	"github.com/luigi-home/luigid/internal/clock"
	"github.com/luigi-home/luigid/internal/logging"
	"github.com/luigi-home/luigid/internal/modules"
	"github.com/luigi-home/luigid/internal/system"
)

// Collector periodically refreshes the host gauges from the system and
// module services.
type Collector struct {
	registry  *Registry
	sys       *system.Service
	mods      *modules.Service
	logger    *logging.Logger
	interval  time.Duration
	startTime time.Time
	clk       clock.Clock
	stopCh    chan struct{}
}

// NewCollector creates a Collector.
func NewCollector(registry *Registry, sys *system.Service, mods *modules.Service, logger *logging.Logger, interval time.Duration) *Collector {
	if logger == nil {
		logger = logging.Default()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	clk := &clock.RealClock{}
	return &Collector{
		registry:  registry,
		sys:       sys,
		mods:      mods,
		logger:    logger.WithComponent("metrics"),
		interval:  interval,
		startTime: clk.Now(),
		clk:       clk,
		stopCh:    make(chan struct{}),
	}
}

// Start begins the collection loop.
func (c *Collector) Start() {
	go func() {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				return
			}
		}
	}()
}

// Stop halts the collection loop.
func (c *Collector) Stop() {
	close(c.stopCh)
}

// collect refreshes the gauges once. Probe failures are logged and
// leave the previous gauge values in place.
func (c *Collector) collect() {
	c.registry.Uptime.Set(c.clk.Since(c.startTime).Seconds())

	if c.sys != nil {
		m, err := c.sys.Metrics()
		if err != nil {
			c.logger.Warn("host metrics collection failed", "error", err)
		} else {
			c.registry.CPUUsed.Set(m.CPUUsedPercent)
			c.registry.MemoryUsed.Set(m.MemoryUsedPercent)
			c.registry.DiskUsed.Set(m.DiskUsedPercent)
			if m.CPUTempCelsius != nil {
				c.registry.CPUTemperature.Set(*m.CPUTempCelsius)
			}
		}
	}

	if c.mods != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		summaries, err := c.mods.List(ctx)
		cancel()
		if err != nil {
			c.logger.Warn("module status collection failed", "error", err)
			return
		}
		active := 0
		for _, s := range summaries {
			if s.Status == modules.StatusActive {
				active++
			}
		}
		c.registry.ModulesActive.Set(float64(active))
	}
}
