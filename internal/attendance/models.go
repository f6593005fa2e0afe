package attendance

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Student lifecycle values.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// RecordPresent is the only status the recognition pipeline writes.
const RecordPresent = "present"

// AlertConsecutiveAbsence is raised by the absence monitor.
const AlertConsecutiveAbsence = "consecutive_absence"

// DateLayout is the wire and storage format for attendance dates.
const DateLayout = "2006-01-02"

var (
	// ErrStudentNotFound is returned when no student matches an id or code.
	ErrStudentNotFound = errors.New("student not found")
	// ErrDuplicateCode is returned when a student code is already taken.
	ErrDuplicateCode = errors.New("student code already exists")
	// ErrTokenInvalid is returned for unknown, revoked or expired refresh tokens.
	ErrTokenInvalid = errors.New("refresh token invalid or revoked")
	// ErrInvalidDate is returned for dates not in DateLayout.
	ErrInvalidDate = errors.New("invalid date")
)

// Embedding is a face vector stored as a JSON array.
type Embedding []float64

// Value implements driver.Valuer.
func (e Embedding) Value() (driver.Value, error) {
	if e == nil {
		return nil, nil
	}
	b, err := json.Marshal([]float64(e))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (e *Embedding) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*e = nil
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("embedding: unsupported source type %T", src)
	}
	if len(raw) == 0 {
		*e = nil
		return nil
	}
	var out []float64
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("embedding: %w", err)
	}
	*e = out
	return nil
}

// Student is an enrolled person.
type Student struct {
	ID            string    `db:"id" json:"id"`
	Code          string    `db:"code" json:"student_id"`
	Name          string    `db:"name" json:"name"`
	ClassName     string    `db:"class_name" json:"class"`
	Section       string    `db:"section" json:"section"`
	GuardianPhone *string   `db:"guardian_phone" json:"guardian_phone,omitempty"`
	Embedding     Embedding `db:"embedding" json:"-"`
	PhotoURL      *string   `db:"photo_url" json:"photo_url,omitempty"`
	Points        int       `db:"points" json:"points"`
	Status        string    `db:"status" json:"status"`
	EnrolledAt    time.Time `db:"enrolled_at" json:"enrolled_at"`
}

// FaceEnrolled reports whether the student has a stored embedding.
func (s Student) FaceEnrolled() bool { return len(s.Embedding) > 0 }

// Record is one attendance row per student per day.
type Record struct {
	ID               string    `db:"id" json:"id"`
	StudentID        string    `db:"student_id" json:"student_id"`
	Date             time.Time `db:"attendance_date" json:"-"`
	CheckedInAt      time.Time `db:"checked_in_at" json:"time_in"`
	Status           string    `db:"status" json:"status"`
	Confidence       float64   `db:"confidence" json:"confidence"`
	LivenessVerified bool      `db:"liveness_verified" json:"liveness_verified"`
	PointsEarned     int       `db:"points_earned" json:"points"`
}

// RecordView is a record joined with the student's name.
type RecordView struct {
	Record
	StudentName string `db:"student_name" json:"student_name"`
}

// Alert is a raised absence event.
type Alert struct {
	ID        string    `db:"id" json:"id"`
	StudentID string    `db:"student_id" json:"student_id"`
	Kind      string    `db:"kind" json:"type"`
	Message   string    `db:"message" json:"message"`
	CreatedAt time.Time `db:"created_at" json:"timestamp"`
	Sent      bool      `db:"sent" json:"sent"`
	Delivered bool      `db:"delivered" json:"delivered"`
}

// MarkStatus is the outcome of MarkAttendance.
type MarkStatus string

const (
	// MarkCreated means a new record was written and points credited.
	MarkCreated MarkStatus = "created"
	// MarkAlreadyMarked means the student already has a record today; nothing changed.
	MarkAlreadyMarked MarkStatus = "already_marked"
)

// MarkResult is returned for every non-failing MarkAttendance call.
type MarkResult struct {
	Status      MarkStatus `json:"status"`
	Points      int        `json:"points"`
	StudentName string     `json:"student_name"`
	Record      *Record    `json:"record,omitempty"`
}

// Marked reports whether the call created the day's record.
func (r MarkResult) Marked() bool { return r.Status == MarkCreated }

// Stats summarises one day.
type Stats struct {
	Date           string  `json:"date"`
	TotalStudents  int     `json:"total_students"`
	PresentToday   int     `json:"present_today"`
	AbsentToday    int     `json:"absent_today"`
	AttendanceRate float64 `json:"attendance_rate"`
}

// LeaderboardEntry ranks a student by cumulative points.
type LeaderboardEntry struct {
	Rank      int    `json:"rank"`
	StudentID string `db:"id" json:"-"`
	Name      string `db:"name" json:"name"`
	Points    int    `db:"points" json:"points"`
	ClassName string `db:"class_name" json:"-"`
	Section   string `db:"section" json:"-"`
	Class     string `json:"class"`
}
