package scheduler

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/ameyrk/momentum/storage/persistent"
	"github.com/ameyrk/momentum/streak"
)

// State is the scheduler's lifecycle state. Start and Stop are transitions
// on this enum rather than flips of a boolean, which is what prevents a
// double-start from arming a second set of timers.
type State int

const (
	StateStopped State = iota
	StateRunning
)

func (s State) String() string {
	if s == StateRunning {
		return "running"
	}
	return "stopped"
}

// Timer names, reported by GetStatus.
const (
	timerDailyReset        = "dailyReset"
	timerHourlyValidation  = "hourlyValidation"
	timerInitialValidation = "initialValidation"
)

// Config holds the scheduler's trigger intervals. The midnight reset is not
// configurable: it always fires at the next local midnight in the reference
// timezone and every 24 hours after that.
type Config struct {
	// HourlyInterval is the interval of the recurring validation pass.
	HourlyInterval time.Duration
	// InitialDelay is the one-shot delay before the post-startup validation
	// pass, long enough for the process to finish booting.
	InitialDelay time.Duration
}

// DefaultConfig returns the production trigger intervals.
func DefaultConfig() Config {
	return Config{
		HourlyInterval: time.Hour,
		InitialDelay:   5 * time.Second,
	}
}

// Status is a point-in-time, side-effect-free view of the scheduler.
type Status struct {
	IsRunning          bool       `json:"is_running"`
	State              string     `json:"state"`
	ActiveTimers       []string   `json:"active_timers"`
	LastMaintenanceRun *time.Time `json:"last_maintenance_run,omitempty"`
	NextScheduledReset time.Time  `json:"next_scheduled_reset"`
}

// Scheduler drives the background maintenance of cached streaks: a daily
// reset pass at midnight, an hourly validation pass, and a one-shot
// validation shortly after startup. It is constructed once at process
// startup and handed to whichever component needs to invoke or inspect it.
//
// The timers overlap freely; a slow validation pass running into a daily
// reset pass is tolerated because reconciliation is idempotent and
// convergent. Maintenance effects are delivered at least once; nothing here
// depends on exactly-once.
type Scheduler struct {
	streaks *streak.StreakService
	store   storage.StorageInterface
	config  Config
	now     func() time.Time

	mu                 sync.Mutex
	state              State
	cancel             context.CancelFunc
	timers             map[string]bool
	lastMaintenanceRun time.Time
}

// NewScheduler creates a stopped Scheduler over the given streak service and
// store.
func NewScheduler(streaks *streak.StreakService, store storage.StorageInterface, config Config) *Scheduler {
	if config.HourlyInterval <= 0 {
		config.HourlyInterval = time.Hour
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 5 * time.Second
	}
	return &Scheduler{
		streaks: streaks,
		store:   store,
		config:  config,
		now:     time.Now,
		timers:  make(map[string]bool),
	}
}

// Start transitions the scheduler from stopped to running: it performs
// catch-up detection for a missed daily reset, runs a full validation pass,
// and arms the recurring triggers. Starting a running scheduler is a
// configuration error, reported but harmless.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	if s.state == StateRunning {
		s.mu.Unlock()
		return errors.New("scheduler is already running")
	}
	s.state = StateRunning
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.timers = make(map[string]bool)
	s.mu.Unlock()

	log.Printf("starting streak maintenance scheduler")

	// Compensate for restarts that spanned a midnight boundary before any
	// timer is armed.
	s.catchUpMissedMaintenance(ctx)

	s.armDailyReset(ctx)
	s.armHourlyValidation(ctx)
	s.armInitialValidation(ctx)

	log.Printf("streak maintenance scheduler started")
	return nil
}

// Stop transitions the scheduler to stopped and cancels all armed timers as
// a unit. Stopping a stopped scheduler is a no-op.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateStopped {
		log.Printf("scheduler is not running")
		return nil
	}

	s.cancel()
	s.cancel = nil
	s.timers = make(map[string]bool)
	s.state = StateStopped

	log.Printf("streak maintenance scheduler stopped")
	return nil
}

// GetStatus reports the scheduler's state, its active timers, the last
// maintenance run and the next scheduled midnight reset. Purely
// observational.
func (s *Scheduler) GetStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	timers := make([]string, 0, len(s.timers))
	for name := range s.timers {
		timers = append(timers, name)
	}
	sort.Strings(timers)

	status := Status{
		IsRunning:          s.state == StateRunning,
		State:              s.state.String(),
		ActiveTimers:       timers,
		NextScheduledReset: s.nextMidnight(),
	}
	if !s.lastMaintenanceRun.IsZero() {
		last := s.lastMaintenanceRun
		status.LastMaintenanceRun = &last
	}
	return status
}

// ForceCatchUp re-runs the catch-up detection on demand, exactly as Start
// does it.
func (s *Scheduler) ForceCatchUp(ctx context.Context) {
	log.Printf("forcing catch-up maintenance")
	s.catchUpMissedMaintenance(ctx)
}

// RunFullValidation validates every user's streaks and reconciles any user
// with discrepancies. A failure for one user is logged and skipped; the pass
// continues with the remaining users.
func (s *Scheduler) RunFullValidation(ctx context.Context) error {
	userIDs, err := s.store.DistinctUserIDs(ctx)
	if err != nil {
		return err
	}

	validated := 0
	fixed := 0
	for _, userID := range userIDs {
		discrepancies, err := s.streaks.ValidateStreaks(ctx, userID)
		if err != nil {
			log.Printf("validation: error validating user %s: %v", userID.Hex(), err)
			continue
		}
		if len(discrepancies) > 0 {
			if _, err := s.streaks.UpdateUserStreaks(ctx, userID); err != nil {
				log.Printf("validation: error reconciling user %s: %v", userID.Hex(), err)
				continue
			}
			fixed += len(discrepancies)
			log.Printf("fixed %d streak inconsistencies for user %s", len(discrepancies), userID.Hex())
		}
		validated++
	}

	log.Printf("full validation completed: validated %d users, fixed %d inconsistencies", validated, fixed)
	return nil
}

// catchUpMissedMaintenance runs the daily reset immediately when today's
// reset should have happened but has not, then always runs a full validation
// pass: repairs are cheap and idempotent, and validation covers drift the
// same-day heuristic cannot see.
func (s *Scheduler) catchUpMissedMaintenance(ctx context.Context) {
	if s.shouldRunMaintenanceToday(ctx) {
		log.Printf("running missed maintenance for today")
		s.performDailyReset(ctx)
	} else {
		log.Printf("no missed maintenance detected")
	}

	if err := s.RunFullValidation(ctx); err != nil {
		log.Printf("catch-up validation failed: %v", err)
	}
}

// shouldRunMaintenanceToday reports whether the daily reset still needs to
// run for the current calendar day. The comparison is on local calendar
// date in the reference timezone, not elapsed time. With no habits in the
// system there is nothing to maintain. If the habit count cannot be read,
// maintenance runs anyway: it is idempotent, a missed reset is not.
func (s *Scheduler) shouldRunMaintenanceToday(ctx context.Context) bool {
	count, err := s.store.CountHabits(ctx)
	if err != nil {
		log.Printf("error checking habit count: %v", err)
		return true
	}
	if count == 0 {
		return false
	}

	s.mu.Lock()
	last := s.lastMaintenanceRun
	s.mu.Unlock()

	if !last.IsZero() && streak.StartOfDay(last).Equal(streak.StartOfDay(s.now())) {
		return false
	}
	return true
}

// performDailyReset reconciles every user's habits and records the run time.
// Errors are logged, never escalated: no maintenance failure may halt the
// scheduler.
func (s *Scheduler) performDailyReset(ctx context.Context) {
	log.Printf("starting daily streak reset")
	total, err := s.streaks.ResetDailyStreaks(ctx)
	if err != nil {
		log.Printf("error during daily streak reset: %v", err)
		return
	}

	s.mu.Lock()
	s.lastMaintenanceRun = s.now()
	s.mu.Unlock()

	log.Printf("daily streak reset completed, updated %d habits", total)
}

// performHourlyValidation validates every user and logs discrepancy counts.
// It exists to surface drift for observability; it repairs nothing.
func (s *Scheduler) performHourlyValidation(ctx context.Context) {
	userIDs, err := s.store.DistinctUserIDs(ctx)
	if err != nil {
		log.Printf("hourly validation: error listing users: %v", err)
		return
	}

	validated := 0
	inconsistencies := 0
	for _, userID := range userIDs {
		discrepancies, err := s.streaks.ValidateStreaks(ctx, userID)
		if err != nil {
			log.Printf("hourly validation: error validating user %s: %v", userID.Hex(), err)
			continue
		}
		if len(discrepancies) > 0 {
			inconsistencies += len(discrepancies)
			log.Printf("user %s has %d streak inconsistencies", userID.Hex(), len(discrepancies))
		}
		validated++
	}

	log.Printf("hourly validation completed: validated %d users, found %d inconsistencies", validated, inconsistencies)
}

// armDailyReset arms a one-shot timer for the next local midnight, after
// which the reset recurs every 24 hours.
func (s *Scheduler) armDailyReset(ctx context.Context) {
	next := s.nextMidnight()
	delay := next.Sub(s.now())
	timers := s.registerTimer(timerDailyReset)
	log.Printf("daily streak reset scheduled for %s", next.Format(time.RFC3339))

	go func() {
		defer s.unregisterTimer(timers, timerDailyReset)

		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.performDailyReset(ctx)
		}

		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.performDailyReset(ctx)
			}
		}
	}()
}

// armHourlyValidation arms the recurring validation timer.
func (s *Scheduler) armHourlyValidation(ctx context.Context) {
	timers := s.registerTimer(timerHourlyValidation)

	go func() {
		defer s.unregisterTimer(timers, timerHourlyValidation)

		ticker := time.NewTicker(s.config.HourlyInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.performHourlyValidation(ctx)
			}
		}
	}()
}

// armInitialValidation arms the short one-shot post-startup validation so a
// freshly booted instance doesn't wait a full hour before first reconciling.
func (s *Scheduler) armInitialValidation(ctx context.Context) {
	timers := s.registerTimer(timerInitialValidation)

	go func() {
		defer s.unregisterTimer(timers, timerInitialValidation)

		timer := time.NewTimer(s.config.InitialDelay)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if err := s.RunFullValidation(ctx); err != nil {
				log.Printf("initial validation failed: %v", err)
			}
		}
	}()
}

// registerTimer marks the named timer active and returns the timer map it
// registered into. Each timer goroutine unregisters from that same map, so a
// goroutine winding down after a quick stop/start cannot delete the entry of
// its successor in the new run's map.
func (s *Scheduler) registerTimer(name string) map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timers[name] = true
	return s.timers
}

func (s *Scheduler) unregisterTimer(timers map[string]bool, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(timers, name)
}

// nextMidnight returns the next local midnight in the reference timezone.
func (s *Scheduler) nextMidnight() time.Time {
	return streak.StartOfDay(s.now()).AddDate(0, 0, 1)
}
