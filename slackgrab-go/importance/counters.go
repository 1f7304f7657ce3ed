package importance

import (
	"sync"
	"time"

	"github.com/slackgrab/slackgrab/slackgrab-golib/applog"
	"go.uber.org/zap"
)

const dayFormat = "2006-01-02"

// DailyCounts are the engine's activity counters for one local day.
type DailyCounts struct {
	Day          string `json:"day"`
	Scored       int64  `json:"scored"`
	Feedback     int64  `json:"feedback"`
	Interactions int64  `json:"interactions"`
	Dropped      int64  `json:"dropped"`
}

// DailyCounters tracks DailyCounts and resets them when the day changes.
type DailyCounters struct {
	budget int64
	logger *zap.Logger

	mu     sync.Mutex
	counts DailyCounts
	warned bool
	now    func() time.Time
}

// NewDailyCounters returns counters that report OverBudget once more than
// budget messages have been scored in a day. A non-positive budget disables
// the check.
func NewDailyCounters(budget int, logger *zap.Logger) *DailyCounters {
	logger = applog.OrNop(logger)
	return &DailyCounters{
		budget: int64(budget),
		logger: logger.Named("counters"),
		now:    time.Now,
	}
}

// AddScored counts n scored messages.
func (c *DailyCounters) AddScored(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollLocked()
	c.counts.Scored += int64(n)
	if c.overLocked() && !c.warned {
		c.warned = true
		c.logger.Warn("daily message budget exceeded",
			zap.Int64("scored", c.counts.Scored), zap.Int64("budget", c.budget), zap.String("day", c.counts.Day))
	}
}

// AddFeedback counts one feedback event.
func (c *DailyCounters) AddFeedback() {
	c.add(func(dc *DailyCounts) { dc.Feedback++ })
}

// AddInteraction counts one interaction event.
func (c *DailyCounters) AddInteraction() {
	c.add(func(dc *DailyCounts) { dc.Interactions++ })
}

// AddDropped counts one example dropped by the training queue.
func (c *DailyCounters) AddDropped() {
	c.add(func(dc *DailyCounts) { dc.Dropped++ })
}

// OverBudget reports whether today's scored count exceeds the budget.
func (c *DailyCounters) OverBudget() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollLocked()
	return c.overLocked()
}

// Snapshot returns today's counts.
func (c *DailyCounters) Snapshot() DailyCounts {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollLocked()
	return c.counts
}

func (c *DailyCounters) add(fn func(*DailyCounts)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollLocked()
	fn(&c.counts)
}

func (c *DailyCounters) overLocked() bool {
	return c.budget > 0 && c.counts.Scored > c.budget
}

func (c *DailyCounters) rollLocked() {
	day := c.now().Format(dayFormat)
	if day == c.counts.Day {
		return
	}
	if c.counts.Day != "" {
		c.logger.Info("daily counters reset",
			zap.String("day", c.counts.Day),
			zap.Int64("scored", c.counts.Scored),
			zap.Int64("feedback", c.counts.Feedback),
			zap.Int64("interactions", c.counts.Interactions),
			zap.Int64("dropped", c.counts.Dropped))
	}
	c.counts = DailyCounts{Day: day}
	c.warned = false
}
