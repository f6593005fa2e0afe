// Package absence detects multi-day absence streaks and raises guardian alerts.
package absence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"faceattend/internal/attendance"
	"faceattend/internal/events"
	"faceattend/internal/metrics"
	"faceattend/internal/notify"
)

const DefaultWindowDays = 3

// Store is the persistence the monitor needs.
type Store interface {
	AbsentStudents(ctx context.Context, cutoff string) ([]attendance.Student, error)
	HasAlertSince(ctx context.Context, studentID, kind string, since time.Time) (bool, error)
	CreateAlert(ctx context.Context, a *attendance.Alert) error
	MarkAlertSent(ctx context.Context, id string) error
}

// Options configures a Monitor.
type Options struct {
	// WindowDays is W: a student is absent when no record is dated on or after today-W.
	WindowDays int
	// SuppressDuplicates skips students that already have an alert created on or after the cutoff.
	SuppressDuplicates bool
	Location           *time.Location
	Now                func() time.Time
}

// SweepResult summarises one sweep.
type SweepResult struct {
	Cutoff     string `json:"cutoff"`
	Absent     int    `json:"absent"`
	Alerted    int    `json:"alerted"`
	Notified   int    `json:"notified"`
	Suppressed int    `json:"suppressed"`
	NoContact  int    `json:"no_contact"`
	Logged     int    `json:"logged"`
	Failed     int    `json:"failed"`
}

// Monitor runs absence sweeps.
type Monitor struct {
	store     Store
	notifier  notify.Notifier
	publisher events.Publisher
	opts      Options
	logger    zerolog.Logger
}

func NewMonitor(store Store, notifier notify.Notifier, opts Options, logger zerolog.Logger) *Monitor {
	if opts.WindowDays <= 0 {
		opts.WindowDays = DefaultWindowDays
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Monitor{
		store:    store,
		notifier: notifier,
		opts:     opts,
		logger:   logger.With().Str("component", "absence").Logger(),
	}
}

// WithPublisher announces raised alerts on p.
func (m *Monitor) WithPublisher(p events.Publisher) *Monitor {
	m.publisher = p
	return m
}

// Cutoff returns the first date that still counts as recent attendance.
func (m *Monitor) Cutoff() time.Time {
	now := m.opts.Now().In(m.opts.Location)
	y, mo, d := now.Date()
	return time.Date(y, mo, d-m.opts.WindowDays, 0, 0, 0, 0, m.opts.Location)
}

// Sweep raises at most one alert per absent student with a guardian contact. An alert is persisted
// before notification; a failed or log-only notification leaves it unsent.
func (m *Monitor) Sweep(ctx context.Context) (SweepResult, error) {
	cutoff := m.Cutoff()
	res := SweepResult{Cutoff: cutoff.Format(attendance.DateLayout)}

	students, err := m.store.AbsentStudents(ctx, res.Cutoff)
	if err != nil {
		metrics.AbsenceAlerts().WithLabelValues("error").Inc()
		return res, fmt.Errorf("find absent students: %w", err)
	}
	res.Absent = len(students)

	for _, st := range students {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if st.GuardianPhone == nil || *st.GuardianPhone == "" {
			res.NoContact++
			continue
		}
		if m.opts.SuppressDuplicates {
			seen, err := m.store.HasAlertSince(ctx, st.ID, attendance.AlertConsecutiveAbsence, cutoff)
			if err != nil {
				return res, fmt.Errorf("check previous alerts: %w", err)
			}
			if seen {
				res.Suppressed++
				metrics.AbsenceAlerts().WithLabelValues("suppressed").Inc()
				continue
			}
		}

		alert := &attendance.Alert{
			StudentID: st.ID,
			Kind:      attendance.AlertConsecutiveAbsence,
			Message:   fmt.Sprintf("%s has been absent for %d+ days", st.Name, m.opts.WindowDays),
			CreatedAt: m.opts.Now().UTC(),
		}
		if err := m.store.CreateAlert(ctx, alert); err != nil {
			return res, fmt.Errorf("create alert: %w", err)
		}
		res.Alerted++
		if m.publisher != nil {
			m.publisher.Publish(ctx, events.Absence(st.Name, alert.Message))
		}

		notice := notify.Notice{AlertID: alert.ID, Contact: *st.GuardianPhone, StudentName: st.Name, DaysAbsent: m.opts.WindowDays}
		if err := m.notifier.SendAbsenceAlert(ctx, notice); err != nil {
			if errors.Is(err, notify.ErrNoChannel) {
				res.Logged++
				metrics.AbsenceAlerts().WithLabelValues("logged").Inc()
				continue
			}
			res.Failed++
			metrics.AbsenceAlerts().WithLabelValues("failed").Inc()
			m.logger.Error().Err(err).Str("alert_id", alert.ID).Str("student", st.Name).Msg("absence notification failed")
			continue
		}
		if err := m.store.MarkAlertSent(ctx, alert.ID); err != nil {
			m.logger.Error().Err(err).Str("alert_id", alert.ID).Msg("mark alert sent failed")
		}
		res.Notified++
		metrics.AbsenceAlerts().WithLabelValues("sent").Inc()
	}

	m.logger.Info().
		Str("cutoff", res.Cutoff).
		Int("absent", res.Absent).
		Int("alerted", res.Alerted).
		Int("suppressed", res.Suppressed).
		Int("failed", res.Failed).
		Msg("absence sweep finished")
	return res, nil
}

// Run sweeps every interval until ctx ends. Sweep errors are logged and the loop continues.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := m.Sweep(ctx); err != nil && ctx.Err() == nil {
				m.logger.Error().Err(err).Msg("absence sweep failed")
			}
		}
	}
}
