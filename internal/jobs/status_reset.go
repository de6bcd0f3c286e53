// Package jobs runs the scheduled maintenance of the clients registry.
package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"neoexcelsync/pkg/errors"
	"neoexcelsync/pkg/logger"
)

// DefaultSchedule resets statuses every day at midnight.
const DefaultSchedule = "0 0 * * *"

// StatusResetter is the part of the clients store the job needs.
type StatusResetter interface {
	ResetStatuses(ctx context.Context) (int64, error)
}

// StatusResetConfig configures the nightly status reset.
type StatusResetConfig struct {
	Schedule string
	TimeZone string
	Timeout  time.Duration
}

// DefaultStatusResetConfig returns the midnight schedule in the local zone.
func DefaultStatusResetConfig() *StatusResetConfig {
	return &StatusResetConfig{
		Schedule: DefaultSchedule,
		TimeZone: "Local",
		Timeout:  time.Minute,
	}
}

// Validate parses the schedule and the time zone.
func (c *StatusResetConfig) Validate() error {
	if _, err := cron.ParseStandard(c.Schedule); err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "status_reset_schedule", c.Schedule, err).
			WithSuggestion("use a five-field cron expression such as \"0 0 * * *\"")
	}
	if _, err := time.LoadLocation(c.TimeZone); err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "status_reset_timezone", c.TimeZone, err)
	}
	if c.Timeout <= 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "status_reset_timeout", c.Timeout, nil)
	}
	return nil
}

// Scheduler owns the cron runner.
type Scheduler struct {
	cron    *cron.Cron
	store   StatusResetter
	timeout time.Duration
	loc     *time.Location
	logger  logger.Logger
}

// NewStatusResetScheduler registers the reset job without starting it.
func NewStatusResetScheduler(cfg *StatusResetConfig, store StatusResetter) (*Scheduler, error) {
	if cfg == nil {
		cfg = DefaultStatusResetConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	loc, _ := time.LoadLocation(cfg.TimeZone)

	s := &Scheduler{
		cron:    cron.New(cron.WithLocation(loc)),
		store:   store,
		timeout: cfg.Timeout,
		loc:     loc,
		logger:  logger.GetGlobalLogger().WithComponent("jobs"),
	}
	if _, err := s.cron.AddFunc(cfg.Schedule, s.ResetNow); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "status_reset_schedule", cfg.Schedule, err)
	}
	s.logger.WithFields(logger.Fields{
		"schedule": cfg.Schedule,
		"timezone": loc.String(),
	}).Info("Status reset scheduled")
	return s, nil
}

// Start runs the scheduler in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the scheduler and waits for a running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Next returns the next time the reset fires.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Schedule.Next(time.Now().In(s.loc))
}

// ResetNow sets every client status back to gray. Failures are logged.
func (s *Scheduler) ResetNow() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	op := logger.NewOperationLogger("status_reset", s.logger)
	n, err := s.store.ResetStatuses(ctx)
	if err != nil {
		op.Error(err, "Client status reset failed")
		return
	}
	op.WithField("clients", n).Success("Client statuses reset to gray")
}
