package attendance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"faceattend/internal/metrics"
)

// Service records attendance and serves the read models around it.
type Service struct {
	repo   *Repository
	loc    *time.Location
	now    func() time.Time
	logger zerolog.Logger
}

// NewService creates a service backed by a repository. loc decides which calendar day "today" is.
func NewService(repo *Repository, loc *time.Location, logger zerolog.Logger) *Service {
	if loc == nil {
		loc = time.Local
	}
	return &Service{
		repo:   repo,
		loc:    loc,
		now:    time.Now,
		logger: logger.With().Str("component", "attendance").Logger(),
	}
}

// WithClock replaces the wall clock; used by tests and replays.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Repo exposes the underlying repository.
func (s *Service) Repo() *Repository { return s.repo }

// Now returns the current time in the service location.
func (s *Service) Now() time.Time { return s.now().In(s.loc) }

// Today returns the current local calendar date.
func (s *Service) Today() string { return s.Now().Format(DateLayout) }

// MarkAttendance credits the student for today at most once. A repeat on the same day returns
// MarkAlreadyMarked and changes nothing; only store failures are returned as errors.
func (s *Service) MarkAttendance(ctx context.Context, studentID string, confidence float64, livenessVerified bool) (MarkResult, error) {
	student, err := s.repo.GetStudent(ctx, studentID)
	if err != nil {
		if !errors.Is(err, ErrStudentNotFound) {
			metrics.AttendanceMarks().WithLabelValues("error").Inc()
		}
		return MarkResult{}, err
	}

	now := s.Now()
	day, err := time.ParseInLocation(DateLayout, now.Format(DateLayout), s.loc)
	if err != nil {
		return MarkResult{}, err
	}
	rec := Record{
		StudentID:        student.ID,
		Date:             day,
		CheckedInAt:      now,
		Status:           RecordPresent,
		Confidence:       confidence,
		LivenessVerified: livenessVerified,
		PointsEarned:     Points(now, livenessVerified),
	}

	created, err := s.repo.InsertRecordAndCredit(ctx, rec)
	if err != nil {
		metrics.AttendanceMarks().WithLabelValues("error").Inc()
		return MarkResult{}, fmt.Errorf("mark attendance for %s: %w", student.ID, err)
	}
	if !created {
		metrics.AttendanceMarks().WithLabelValues(string(MarkAlreadyMarked)).Inc()
		return MarkResult{Status: MarkAlreadyMarked, StudentName: student.Name}, nil
	}

	metrics.AttendanceMarks().WithLabelValues(string(MarkCreated)).Inc()
	s.logger.Info().
		Str("student_id", student.ID).
		Str("student", student.Name).
		Int("points", rec.PointsEarned).
		Float64("confidence", confidence).
		Bool("liveness", livenessVerified).
		Msg("attendance marked")
	return MarkResult{Status: MarkCreated, Points: rec.PointsEarned, StudentName: student.Name, Record: &rec}, nil
}

// CreateStudent validates and stores a new student.
func (s *Service) CreateStudent(ctx context.Context, st Student) (Student, error) {
	st.Code = strings.TrimSpace(st.Code)
	st.Name = strings.TrimSpace(st.Name)
	if st.Code == "" || st.Name == "" {
		return Student{}, errors.New("student code and name required")
	}
	if st.GuardianPhone != nil && strings.TrimSpace(*st.GuardianPhone) == "" {
		st.GuardianPhone = nil
	}
	st.ID = ""
	st.Points = 0
	st.Embedding = nil
	st.Status = StatusActive
	st.EnrolledAt = s.now().UTC()
	if err := s.repo.CreateStudent(ctx, &st); err != nil {
		return Student{}, err
	}
	return st, nil
}

// ListStudents returns active students.
func (s *Service) ListStudents(ctx context.Context) ([]Student, error) {
	return s.repo.ListStudents(ctx, true)
}

// Records returns a day's records; an empty day means today.
func (s *Service) Records(ctx context.Context, day string) ([]RecordView, error) {
	day, err := s.normalizeDay(day)
	if err != nil {
		return nil, err
	}
	return s.repo.RecordsByDate(ctx, day)
}

// Stats summarises a day; an empty day means today.
func (s *Service) Stats(ctx context.Context, day string) (Stats, error) {
	day, err := s.normalizeDay(day)
	if err != nil {
		return Stats{}, err
	}
	total, err := s.repo.CountActive(ctx)
	if err != nil {
		return Stats{}, err
	}
	present, err := s.repo.CountPresent(ctx, day)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{Date: day, TotalStudents: total, PresentToday: present, AbsentToday: total - present}
	if total > 0 {
		st.AttendanceRate = float64(present) / float64(total) * 100
	}
	return st, nil
}

// Leaderboard ranks active students by cumulative points.
func (s *Service) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	entries, err := s.repo.Leaderboard(ctx, limit)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		entries[i].Rank = i + 1
		entries[i].Class = entries[i].ClassName + "-" + entries[i].Section
	}
	return entries, nil
}

// Alerts returns the most recent alerts.
func (s *Service) Alerts(ctx context.Context, limit int) ([]Alert, error) {
	return s.repo.ListAlerts(ctx, limit)
}

// RegisterKiosk validates and persists a kiosk.
func (s *Service) RegisterKiosk(ctx context.Context, kioskID string) error {
	if strings.TrimSpace(kioskID) == "" {
		return errors.New("kiosk id required")
	}
	return s.repo.UpsertKiosk(ctx, kioskID)
}

func (s *Service) normalizeDay(day string) (string, error) {
	if day == "" {
		return s.Today(), nil
	}
	t, err := time.Parse(DateLayout, day)
	if err != nil {
		return "", fmt.Errorf("%w %q, want YYYY-MM-DD", ErrInvalidDate, day)
	}
	return t.Format(DateLayout), nil
}
