package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"stock_data_backend/config"
	"stock_data_backend/models"
	"stock_data_backend/services/refresh"

	"github.com/go-co-op/gocron"
)

// nightly batch fetches everything that changes at most daily
var scheduledDataTypes = []models.DataType{
	models.DataTypePriceHistorical,
	models.DataTypeFundamentals,
	models.DataTypeEarnings,
}

// JobStatus reports the last and next run of one recurring job
type JobStatus struct {
	Name    string `json:"name"`
	LastRun string `json:"last_run,omitempty"`
	NextRun string `json:"next_run,omitempty"`
}

// Scheduler manages the recurring refresh jobs
type Scheduler struct {
	cron     *gocron.Scheduler
	manager  *refresh.Manager
	cfg      config.RefreshConfig
	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex
	lastRuns map[string]time.Time
	jobs     map[string]*gocron.Job
}

// NewScheduler creates a scheduler around the refresh manager
func NewScheduler(manager *refresh.Manager, cfg config.RefreshConfig) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:     gocron.NewScheduler(time.Local),
		manager:  manager,
		cfg:      cfg,
		ctx:      ctx,
		cancel:   cancel,
		lastRuns: make(map[string]time.Time),
		jobs:     make(map[string]*gocron.Job),
	}
}

// Start registers and starts all recurring jobs
func (s *Scheduler) Start() {
	log.Println("Starting refresh scheduler...")

	// Nightly batch over the whole universe after the schedule boundary
	job, err := s.cron.Every(1).Day().At(s.cfg.ScheduleTime).Do(func() {
		s.markRun("scheduled_batch")
		s.runScheduledBatch()
	})
	if err != nil {
		log.Printf("Failed to register scheduled batch job: %v", err)
	} else {
		s.jobs["scheduled_batch"] = job
	}

	// Periodic refresh of current prices and news during trading hours
	job, err = s.cron.Every(15).Minutes().Do(func() {
		if isMarketOpen() {
			s.markRun("periodic_refresh")
			s.runPeriodicRefresh()
		}
	})
	if err != nil {
		log.Printf("Failed to register periodic job: %v", err)
	} else {
		s.jobs["periodic_refresh"] = job
	}

	// Live quote refresh every minute during trading hours
	job, err = s.cron.Every(1).Minute().Do(func() {
		if isMarketOpen() {
			s.markRun("live_quotes")
			s.runLiveRefresh()
		}
	})
	if err != nil {
		log.Printf("Failed to register live job: %v", err)
	} else {
		s.jobs["live_quotes"] = job
	}

	s.cron.StartAsync()
	log.Println("Refresh scheduler started successfully")
}

// Stop cancels running batches and stops the job runner
func (s *Scheduler) Stop() {
	s.cancel()
	s.cron.Stop()
	log.Println("Refresh scheduler stopped")
}

// runScheduledBatch refreshes the daily data types for every active
// symbol, resuming from the last checkpoint if the previous run of the
// same workflow was interrupted.
func (s *Scheduler) runScheduledBatch() {
	workflowID := "scheduled_" + time.Now().Format("2006-01-02")
	log.Printf("Scheduled batch %s starting", workflowID)

	result, err := s.manager.RefreshUniverse(s.ctx, workflowID, scheduledDataTypes, models.ModeScheduled, false)
	if err != nil {
		log.Printf("Scheduled batch %s interrupted: %v", workflowID, err)
		return
	}
	log.Printf("Scheduled batch %s completed: symbols=%d success=%d failed=%d skipped=%d resumed=%t",
		workflowID, result.SymbolsProcessed, result.TotalSuccessful,
		result.TotalFailed, result.TotalSkipped, result.Resumed)
}

// runPeriodicRefresh refreshes stale current prices and news, most
// stale first, for the symbols the periodic strategy says are due.
func (s *Scheduler) runPeriodicRefresh() {
	for _, dataType := range []models.DataType{models.DataTypePriceCurrent, models.DataTypeNews} {
		symbols, err := s.manager.SymbolsToRefresh(dataType, models.ModePeriodic)
		if err != nil {
			log.Printf("Failed to load periodic candidates for %s: %v", dataType, err)
			continue
		}
		for _, symbol := range symbols {
			if s.ctx.Err() != nil {
				return
			}
			result, err := s.manager.RefreshData(s.ctx, symbol, []models.DataType{dataType}, models.ModePeriodic, false, nil)
			if err != nil {
				log.Printf("Periodic refresh failed for %s/%s: %v", symbol, dataType, err)
				continue
			}
			if result.TotalFailed > 0 {
				log.Printf("Periodic refresh for %s/%s failed: %s",
					symbol, dataType, result.Results[dataType].Error)
			}
		}
	}
}

// runLiveRefresh keeps current quotes within the live staleness bound
func (s *Scheduler) runLiveRefresh() {
	symbols, err := s.manager.SymbolsToRefresh(models.DataTypePriceCurrent, models.ModeLive)
	if err != nil {
		log.Printf("Failed to load live candidates: %v", err)
		return
	}
	for _, symbol := range symbols {
		if s.ctx.Err() != nil {
			return
		}
		_, err := s.manager.RefreshData(s.ctx, symbol, []models.DataType{models.DataTypePriceCurrent}, models.ModeLive, false, nil)
		if err != nil {
			log.Printf("Live refresh failed for %s: %v", symbol, err)
		}
	}
}

func (s *Scheduler) markRun(name string) {
	s.mu.Lock()
	s.lastRuns[name] = time.Now()
	s.mu.Unlock()
}

// Status reports last and next run per job for the admin API
func (s *Scheduler) Status() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := make([]JobStatus, 0, len(s.jobs))
	for name, job := range s.jobs {
		status := JobStatus{Name: name}
		if last, ok := s.lastRuns[name]; ok {
			status.LastRun = last.Format(time.RFC3339)
		}
		if next := job.NextRun(); !next.IsZero() {
			status.NextRun = next.Format(time.RFC3339)
		}
		statuses = append(statuses, status)
	}
	return statuses
}

// isMarketOpen checks if the Vietnamese stock market is currently open
func isMarketOpen() bool {
	now := time.Now()

	if now.Weekday() == time.Saturday || now.Weekday() == time.Sunday {
		return false
	}

	// Trading hours: 9:00 - 15:00 local time
	hour := now.Hour()
	return hour >= 9 && hour < 15
}
