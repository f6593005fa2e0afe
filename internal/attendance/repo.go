package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
)

const studentColumns = `id, code, name, class_name, section, guardian_phone, embedding, photo_url, points, status, enrolled_at`

// Repository persists students, attendance records and alerts.
// Queries are written with ? placeholders and rebound for the connected driver.
type Repository struct {
	db *sqlx.DB
}

// NewRepository creates a repo.
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// CreateStudent inserts a student, filling id, status and enrollment time when unset.
func (r *Repository) CreateStudent(ctx context.Context, st *Student) error {
	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	if st.Status == "" {
		st.Status = StatusActive
	}
	if st.EnrolledAt.IsZero() {
		st.EnrolledAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO students (`+studentColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)
	`), st.ID, st.Code, st.Name, st.ClassName, st.Section, st.GuardianPhone, st.Embedding, st.PhotoURL, st.Points, st.Status, st.EnrolledAt)
	if isUniqueViolation(err) {
		return ErrDuplicateCode
	}
	return err
}

// GetStudent returns a student by internal id.
func (r *Repository) GetStudent(ctx context.Context, id string) (*Student, error) {
	return r.getStudent(ctx, `SELECT `+studentColumns+` FROM students WHERE id = ?`, id)
}

// GetStudentByCode returns a student by external student code.
func (r *Repository) GetStudentByCode(ctx context.Context, code string) (*Student, error) {
	return r.getStudent(ctx, `SELECT `+studentColumns+` FROM students WHERE code = ?`, code)
}

func (r *Repository) getStudent(ctx context.Context, query string, arg any) (*Student, error) {
	var st Student
	if err := r.db.GetContext(ctx, &st, r.db.Rebind(query), arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrStudentNotFound
		}
		return nil, err
	}
	return &st, nil
}

// ListStudents returns students ordered by enrollment; activeOnly filters out inactive ones.
func (r *Repository) ListStudents(ctx context.Context, activeOnly bool) ([]Student, error) {
	query := `SELECT ` + studentColumns + ` FROM students`
	args := []any{}
	if activeOnly {
		query += ` WHERE status = ?`
		args = append(args, StatusActive)
	}
	query += ` ORDER BY enrolled_at, id`
	students := []Student{}
	if err := r.db.SelectContext(ctx, &students, r.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	return students, nil
}

// GalleryStudents returns every active student with a stored embedding in gallery order.
func (r *Repository) GalleryStudents(ctx context.Context) ([]Student, error) {
	students := []Student{}
	err := r.db.SelectContext(ctx, &students, r.db.Rebind(`
		SELECT `+studentColumns+`
		FROM students
		WHERE status = ? AND embedding IS NOT NULL
		ORDER BY enrolled_at, id
	`), StatusActive)
	return students, err
}

// SetEmbedding overwrites a student's embedding. photoURL is only written when non-nil.
func (r *Repository) SetEmbedding(ctx context.Context, studentID string, emb Embedding, photoURL *string) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE students
		SET embedding = ?, photo_url = COALESCE(?, photo_url)
		WHERE id = ?
	`), emb, photoURL, studentID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrStudentNotFound
	}
	return nil
}

// SetStudentStatus activates or deactivates a student.
func (r *Repository) SetStudentStatus(ctx context.Context, studentID, status string) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE students SET status = ? WHERE id = ?`), status, studentID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrStudentNotFound
	}
	return nil
}

// InsertRecordAndCredit writes the day's record and credits the student's points in one transaction.
// It reports created=false, with nothing changed, when a record for (student, date) already exists.
func (r *Repository) InsertRecordAndCredit(ctx context.Context, rec Record) (created bool, err error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil || !created {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO attendance_records
			(id, student_id, attendance_date, checked_in_at, status, confidence, liveness_verified, points_earned)
		VALUES (?,?,?,?,?,?,?,?)
		ON CONFLICT (student_id, attendance_date) DO NOTHING
	`), rec.ID, rec.StudentID, rec.Date.Format(DateLayout), rec.CheckedInAt.UTC(), rec.Status, rec.Confidence, rec.LivenessVerified, rec.PointsEarned)
	if err != nil {
		return false, fmt.Errorf("insert record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert record: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	res, err = tx.ExecContext(ctx, tx.Rebind(`UPDATE students SET points = points + ? WHERE id = ?`), rec.PointsEarned, rec.StudentID)
	if err != nil {
		return false, fmt.Errorf("credit points: %w", err)
	}
	if n, err = res.RowsAffected(); err == nil && n == 0 {
		return false, ErrStudentNotFound
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

// RecordsByDate returns the day's records with student names, earliest first.
func (r *Repository) RecordsByDate(ctx context.Context, day string) ([]RecordView, error) {
	records := []RecordView{}
	err := r.db.SelectContext(ctx, &records, r.db.Rebind(`
		SELECT a.id, a.student_id, a.attendance_date, a.checked_in_at, a.status, a.confidence,
		       a.liveness_verified, a.points_earned, s.name AS student_name
		FROM attendance_records a
		JOIN students s ON s.id = a.student_id
		WHERE a.attendance_date = ?
		ORDER BY a.checked_in_at
	`), day)
	return records, err
}

// CountRecords counts records for a student; used by tests and diagnostics.
func (r *Repository) CountRecords(ctx context.Context, studentID string) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, r.db.Rebind(`SELECT COUNT(*) FROM attendance_records WHERE student_id = ?`), studentID)
	return n, err
}

// CountActive counts active students.
func (r *Repository) CountActive(ctx context.Context) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, r.db.Rebind(`SELECT COUNT(*) FROM students WHERE status = ?`), StatusActive)
	return n, err
}

// CountPresent counts present records on a day.
func (r *Repository) CountPresent(ctx context.Context, day string) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, r.db.Rebind(`
		SELECT COUNT(*) FROM attendance_records WHERE attendance_date = ? AND status = ?
	`), day, RecordPresent)
	return n, err
}

// Leaderboard returns active students ordered by points.
func (r *Repository) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	entries := []LeaderboardEntry{}
	err := r.db.SelectContext(ctx, &entries, r.db.Rebind(`
		SELECT id, name, points, class_name, section
		FROM students
		WHERE status = ?
		ORDER BY points DESC, name
		LIMIT ?
	`), StatusActive, limit)
	return entries, err
}

// AbsentStudents returns active students with no record dated on or after cutoff.
func (r *Repository) AbsentStudents(ctx context.Context, cutoff string) ([]Student, error) {
	students := []Student{}
	err := r.db.SelectContext(ctx, &students, r.db.Rebind(`
		SELECT `+studentColumns+`
		FROM students s
		WHERE s.status = ?
		  AND NOT EXISTS (
			SELECT 1 FROM attendance_records a
			WHERE a.student_id = s.id AND a.attendance_date >= ?
		  )
		ORDER BY s.enrolled_at, s.id
	`), StatusActive, cutoff)
	return students, err
}

// CreateAlert inserts an alert.
func (r *Repository) CreateAlert(ctx context.Context, a *Alert) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO alerts (id, student_id, kind, message, created_at, sent, delivered)
		VALUES (?,?,?,?,?,?,?)
	`), a.ID, a.StudentID, a.Kind, a.Message, a.CreatedAt.UTC(), a.Sent, a.Delivered)
	return err
}

// HasAlertSince reports whether an alert of kind exists for the student created at or after since.
func (r *Repository) HasAlertSince(ctx context.Context, studentID, kind string, since time.Time) (bool, error) {
	var n int
	err := r.db.GetContext(ctx, &n, r.db.Rebind(`
		SELECT COUNT(*) FROM alerts WHERE student_id = ? AND kind = ? AND created_at >= ?
	`), studentID, kind, since.UTC())
	return n > 0, err
}

// MarkAlertSent flags an alert as handed to the notifier.
func (r *Repository) MarkAlertSent(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE alerts SET sent = ? WHERE id = ?`), true, id)
	return err
}

// MarkAlertDelivered flags an alert as delivered by the provider.
func (r *Repository) MarkAlertDelivered(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE alerts SET sent = ?, delivered = ? WHERE id = ?`), true, true, id)
	return err
}

// ListAlerts returns the newest alerts first.
func (r *Repository) ListAlerts(ctx context.Context, limit int) ([]Alert, error) {
	if limit <= 0 {
		limit = 20
	}
	alerts := []Alert{}
	err := r.db.SelectContext(ctx, &alerts, r.db.Rebind(`
		SELECT id, student_id, kind, message, created_at, sent, delivered
		FROM alerts
		ORDER BY created_at DESC
		LIMIT ?
	`), limit)
	return alerts, err
}

// UpsertKiosk ensures a kiosk record exists.
func (r *Repository) UpsertKiosk(ctx context.Context, kioskID string) error {
	if kioskID == "" {
		return errors.New("kiosk id required")
	}
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO kiosks (kiosk_id, created_at)
		VALUES (?, ?)
		ON CONFLICT (kiosk_id) DO NOTHING
	`), kioskID, time.Now().UTC())
	return err
}

// SaveRefreshToken stores a refresh token for rotation checks.
func (r *Repository) SaveRefreshToken(ctx context.Context, kioskID, token string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO refresh_tokens (kiosk_id, token, expires_at)
		VALUES (?, ?, ?)
	`), kioskID, token, expiresAt.UTC())
	return err
}

// ConsumeRefreshToken revokes an active, unexpired refresh token of the kiosk. Each token can be
// consumed once; anything else returns ErrTokenInvalid.
func (r *Repository) ConsumeRefreshToken(ctx context.Context, kioskID, token string) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE refresh_tokens SET revoked = ?
		WHERE kiosk_id = ? AND token = ? AND revoked = ? AND expires_at > ?
	`), true, kioskID, token, false, time.Now().UTC())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrTokenInvalid
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique || liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
