package services

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	model "github.com/sahilkadam/complianceos/models"
	"gorm.io/gorm"
)

// appLocation is the business timezone for "today" decisions (start
// mails, calendar windows). CAL_TIMEZONE, default Asia/Kolkata.
func appLocation() *time.Location {
	tz := os.Getenv("CAL_TIMEZONE")
	if tz == "" {
		tz = "Asia/Kolkata"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Printf("[appLocation] Unknown timezone %q; falling back to UTC", tz)
		return time.UTC
	}
	return loc
}

// todayIn returns the current calendar date in loc as a UTC-midnight
// value, directly comparable with the date columns.
func todayIn(loc *time.Location) time.Time {
	now := time.Now().In(loc)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

// SweepService runs the daily start-date sweep: any task whose start
// date has arrived and whose start mail has not gone out gets it sent,
// under the seeded scheduler identity. Because a successful send records
// the thread reference, yesterday's failures are naturally retried and
// double sends cannot happen.
type SweepService struct {
	db       *gorm.DB
	effects  *SideEffects
	identity *IdentityService
	cron     *cron.Cron
}

func NewSweepService(db *gorm.DB, effects *SideEffects, identity *IdentityService) *SweepService {
	return &SweepService{
		db:       db,
		effects:  effects,
		identity: identity,
		cron:     cron.New(cron.WithLocation(appLocation())),
	}
}

// Start registers the sweep schedule (SWEEP_CRON, default 08:00 daily)
// and begins the scheduler.
func (s *SweepService) Start() error {
	spec := os.Getenv("SWEEP_CRON")
	if spec == "" {
		spec = "0 8 * * *"
	}
	if _, err := s.cron.AddFunc(spec, s.RunOnce); err != nil {
		return fmt.Errorf("registering sweep schedule %q: %w", spec, err)
	}
	s.cron.Start()
	log.Printf("[Start] Start-date sweep scheduled (%s, %s)", spec, appLocation())
	return nil
}

// Stop halts the scheduler. Running jobs finish.
func (s *SweepService) Stop() {
	s.cron.Stop()
}

// RunOnce is the cron entry point; it runs one pass and logs.
func (s *SweepService) RunOnce() {
	count, err := s.Sweep()
	if err != nil {
		log.Printf("[RunOnce] Sweep failed: %v", err)
		return
	}
	log.Printf("[RunOnce] Sweep processed %d due tasks", count)
}

// Sweep performs one pass and returns how many tasks it processed. The
// admin trigger endpoint calls this directly.
func (s *SweepService) Sweep() (int, error) {
	actor, err := s.identity.SystemActor()
	if err != nil {
		return 0, fmt.Errorf("sweep has no system actor: %w", err)
	}

	today := todayIn(appLocation())
	var tasks []model.Task
	err = s.db.
		Where("start_date <= ? AND start_mail_thread_ref = '' AND status <> ?", today, model.StatusCompleted).
		Order("start_date asc").
		Find(&tasks).Error
	if err != nil {
		return 0, fmt.Errorf("fetching due tasks: %w", err)
	}

	for i := range tasks {
		s.effects.RunStart(&tasks[i], actor, model.SourceScheduled)
	}
	return len(tasks), nil
}
