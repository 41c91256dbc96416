package refresh

import (
	"fmt"
	"time"

	"stock_data_backend/models"
)

// RefreshStrategy decides whether a (symbol, data type) pair needs a
// refresh now, how often it should be refreshed, and how urgent it is
// relative to other work under the same strategy. Priorities are only
// comparable within one strategy.
type RefreshStrategy interface {
	ShouldRefresh(symbol string, dataType models.DataType, lastRefresh *time.Time) bool
	RefreshInterval(dataType models.DataType) time.Duration
	Priority(dataType models.DataType) int
}

// dataTypePriority ranks data types for the scheduled and periodic
// strategies. Historical prices come first, peer lists last.
var dataTypePriority = map[models.DataType]int{
	models.DataTypePriceHistorical: 80,
	models.DataTypePriceCurrent:    70,
	models.DataTypeFundamentals:    60,
	models.DataTypeEarnings:        50,
	models.DataTypeIndicators:      40,
	models.DataTypeNews:            30,
	models.DataTypeSignals:         20,
	models.DataTypeIndustryPeers:   10,
}

// ScheduledStrategy refreshes once per day after a fixed wall-clock time,
// e.g. the nightly batch at 01:00.
type ScheduledStrategy struct {
	hour   int
	minute int
	now    func() time.Time
}

// NewScheduledStrategy parses scheduleTime in "HH:MM" format
func NewScheduledStrategy(scheduleTime string) (*ScheduledStrategy, error) {
	t, err := time.Parse("15:04", scheduleTime)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule time %q: %w", scheduleTime, err)
	}
	return &ScheduledStrategy{hour: t.Hour(), minute: t.Minute(), now: time.Now}, nil
}

// lastOccurrence returns the most recent passing of the schedule time:
// today's if it has already passed, otherwise yesterday's.
func (s *ScheduledStrategy) lastOccurrence(now time.Time) time.Time {
	occ := time.Date(now.Year(), now.Month(), now.Day(), s.hour, s.minute, 0, 0, now.Location())
	if occ.After(now) {
		occ = occ.AddDate(0, 0, -1)
	}
	return occ
}

func (s *ScheduledStrategy) ShouldRefresh(symbol string, dataType models.DataType, lastRefresh *time.Time) bool {
	if lastRefresh == nil {
		return true
	}
	return lastRefresh.Before(s.lastOccurrence(s.now()))
}

func (s *ScheduledStrategy) RefreshInterval(dataType models.DataType) time.Duration {
	return 24 * time.Hour
}

func (s *ScheduledStrategy) Priority(dataType models.DataType) int {
	return dataTypePriority[dataType]
}

// OnDemandStrategy always refreshes. An explicit user action must never
// be silently skipped.
type OnDemandStrategy struct{}

func (OnDemandStrategy) ShouldRefresh(symbol string, dataType models.DataType, lastRefresh *time.Time) bool {
	return true
}

func (OnDemandStrategy) RefreshInterval(dataType models.DataType) time.Duration {
	return 0
}

func (OnDemandStrategy) Priority(dataType models.DataType) int {
	return 100
}

// PeriodicStrategy refreshes once a per-data-type interval has elapsed
type PeriodicStrategy struct {
	intervals map[models.DataType]time.Duration
	fallback  time.Duration
	now       func() time.Time
}

// DefaultPeriodicIntervals returns the per-data-type refresh cadence used
// when config does not override it.
func DefaultPeriodicIntervals() map[models.DataType]time.Duration {
	return map[models.DataType]time.Duration{
		models.DataTypePriceCurrent:    15 * time.Minute,
		models.DataTypePriceHistorical: 1 * time.Hour,
		models.DataTypeIndicators:      15 * time.Minute,
		models.DataTypeSignals:         15 * time.Minute,
		models.DataTypeNews:            30 * time.Minute,
		models.DataTypeEarnings:        6 * time.Hour,
		models.DataTypeFundamentals:    12 * time.Hour,
		models.DataTypeIndustryPeers:   24 * time.Hour,
	}
}

// NewPeriodicStrategy creates a periodic strategy; nil intervals use the
// defaults.
func NewPeriodicStrategy(intervals map[models.DataType]time.Duration) *PeriodicStrategy {
	if intervals == nil {
		intervals = DefaultPeriodicIntervals()
	}
	return &PeriodicStrategy{
		intervals: intervals,
		fallback:  time.Hour,
		now:       time.Now,
	}
}

func (s *PeriodicStrategy) ShouldRefresh(symbol string, dataType models.DataType, lastRefresh *time.Time) bool {
	if lastRefresh == nil {
		return true
	}
	return s.now().Sub(*lastRefresh) >= s.RefreshInterval(dataType)
}

func (s *PeriodicStrategy) RefreshInterval(dataType models.DataType) time.Duration {
	if iv, ok := s.intervals[dataType]; ok {
		return iv
	}
	return s.fallback
}

func (s *PeriodicStrategy) Priority(dataType models.DataType) int {
	return dataTypePriority[dataType]
}

// LiveStrategy refreshes whenever the data is older than maxAge. Used for
// the near-real-time price stream during market hours.
type LiveStrategy struct {
	maxAge time.Duration
	now    func() time.Time
}

// NewLiveStrategy creates a live strategy; a non-positive maxAge defaults
// to one minute.
func NewLiveStrategy(maxAge time.Duration) *LiveStrategy {
	if maxAge <= 0 {
		maxAge = time.Minute
	}
	return &LiveStrategy{maxAge: maxAge, now: time.Now}
}

func (s *LiveStrategy) ShouldRefresh(symbol string, dataType models.DataType, lastRefresh *time.Time) bool {
	if lastRefresh == nil {
		return true
	}
	return s.now().Sub(*lastRefresh) > s.maxAge
}

func (s *LiveStrategy) RefreshInterval(dataType models.DataType) time.Duration {
	return s.maxAge
}

func (s *LiveStrategy) Priority(dataType models.DataType) int {
	return 200
}

// StrategySet resolves the strategy governing each refresh mode
type StrategySet struct {
	Scheduled RefreshStrategy
	OnDemand  RefreshStrategy
	Periodic  RefreshStrategy
	Live      RefreshStrategy
}

// NewStrategySet builds the standard strategy set
func NewStrategySet(scheduleTime string, periodicIntervals map[models.DataType]time.Duration, liveMaxAge time.Duration) (*StrategySet, error) {
	scheduled, err := NewScheduledStrategy(scheduleTime)
	if err != nil {
		return nil, err
	}
	return &StrategySet{
		Scheduled: scheduled,
		OnDemand:  OnDemandStrategy{},
		Periodic:  NewPeriodicStrategy(periodicIntervals),
		Live:      NewLiveStrategy(liveMaxAge),
	}, nil
}

// ForMode returns the strategy governing the given refresh mode
func (s *StrategySet) ForMode(mode models.RefreshMode) (RefreshStrategy, error) {
	switch mode {
	case models.ModeScheduled:
		return s.Scheduled, nil
	case models.ModeOnDemand:
		return s.OnDemand, nil
	case models.ModePeriodic:
		return s.Periodic, nil
	case models.ModeLive:
		return s.Live, nil
	}
	return nil, Validationf("unknown refresh mode %q", mode)
}
