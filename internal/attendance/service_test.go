package attendance

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"faceattend/internal/store"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func newTestService(t *testing.T) (*Service, *fakeClock) {
	t.Helper()
	ctx := context.Background()
	db, err := store.NewDB(ctx, store.DriverSQLite, store.SQLiteDSN(filepath.Join(t.TempDir(), "attendance.db")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, store.Migrate(ctx, db))

	clock := &fakeClock{t: time.Date(2026, 10, 16, 8, 15, 0, 0, time.UTC)}
	svc := NewService(NewRepository(db.Client), time.UTC, zerolog.Nop()).WithClock(clock.Now)
	return svc, clock
}

func createStudent(t *testing.T, svc *Service, code, name string, phone *string) Student {
	t.Helper()
	st, err := svc.CreateStudent(context.Background(), Student{Code: code, Name: name, ClassName: "10", Section: "A", GuardianPhone: phone})
	require.NoError(t, err)
	return st
}

func strPtr(s string) *string { return &s }

func TestMarkAttendanceIsIdempotentPerDay(t *testing.T) {
	ctx := context.Background()
	svc, clock := newTestService(t)
	st := createStudent(t, svc, "S-001", "Ada", nil)

	first, err := svc.MarkAttendance(ctx, st.ID, 0.91, true)
	require.NoError(t, err)
	require.Equal(t, MarkCreated, first.Status)
	assert.Equal(t, 17, first.Points)
	assert.Equal(t, "Ada", first.StudentName)
	require.NotNil(t, first.Record)
	assert.True(t, first.Record.LivenessVerified)

	clock.Set(time.Date(2026, 10, 16, 11, 0, 0, 0, time.UTC))
	second, err := svc.MarkAttendance(ctx, st.ID, 0.95, false)
	require.NoError(t, err)
	assert.Equal(t, MarkAlreadyMarked, second.Status)
	assert.False(t, second.Marked())
	assert.Zero(t, second.Points)

	n, err := svc.Repo().CountRecords(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := svc.Repo().GetStudent(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, 17, got.Points)

	clock.Set(time.Date(2026, 10, 17, 9, 30, 0, 0, time.UTC))
	third, err := svc.MarkAttendance(ctx, st.ID, 0.8, false)
	require.NoError(t, err)
	require.Equal(t, MarkCreated, third.Status)
	assert.Equal(t, 7, third.Points)

	got, err = svc.Repo().GetStudent(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, 24, got.Points)
}

func TestMarkAttendanceConcurrentCallersCreateOneRecord(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	st := createStudent(t, svc, "S-002", "Grace", nil)

	const callers = 16
	results := make([]MarkResult, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i], errs[i] = svc.MarkAttendance(ctx, st.ID, 0.9, true)
		}(i)
	}
	close(start)
	wg.Wait()

	created, duplicates := 0, 0
	for i := range results {
		require.NoError(t, errs[i])
		switch results[i].Status {
		case MarkCreated:
			created++
		case MarkAlreadyMarked:
			duplicates++
		}
	}
	assert.Equal(t, 1, created)
	assert.Equal(t, callers-1, duplicates)

	got, err := svc.Repo().GetStudent(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, 17, got.Points)
}

func TestMarkAttendanceUnknownStudent(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.MarkAttendance(context.Background(), "missing", 0.9, false)
	require.ErrorIs(t, err, ErrStudentNotFound)
}

func TestCreateStudentRejectsDuplicateCode(t *testing.T) {
	svc, _ := newTestService(t)
	createStudent(t, svc, "S-003", "Linus", nil)
	_, err := svc.CreateStudent(context.Background(), Student{Code: "S-003", Name: "Other"})
	require.ErrorIs(t, err, ErrDuplicateCode)

	_, err = svc.CreateStudent(context.Background(), Student{Code: " ", Name: "Nobody"})
	require.Error(t, err)
}

func TestGalleryStudentsOrderAndFilter(t *testing.T) {
	ctx := context.Background()
	svc, clock := newTestService(t)
	repo := svc.Repo()

	a := createStudent(t, svc, "A", "Alpha", nil)
	clock.Set(clock.Now().Add(time.Minute))
	b := createStudent(t, svc, "B", "Beta", nil)
	clock.Set(clock.Now().Add(time.Minute))
	c := createStudent(t, svc, "C", "Gamma", nil)
	createStudent(t, svc, "D", "Delta", nil) // never enrolled

	require.NoError(t, repo.SetEmbedding(ctx, b.ID, Embedding{0.1, 0.2}, nil))
	require.NoError(t, repo.SetEmbedding(ctx, a.ID, Embedding{0.3, 0.4}, strPtr("https://cdn/a.jpg")))
	require.NoError(t, repo.SetEmbedding(ctx, c.ID, Embedding{0.5, 0.6}, nil))
	require.NoError(t, repo.SetStudentStatus(ctx, c.ID, StatusInactive))
	require.ErrorIs(t, repo.SetEmbedding(ctx, "missing", Embedding{1}, nil), ErrStudentNotFound)

	gallery, err := repo.GalleryStudents(ctx)
	require.NoError(t, err)
	require.Len(t, gallery, 2)
	assert.Equal(t, "Alpha", gallery[0].Name)
	assert.Equal(t, Embedding{0.3, 0.4}, gallery[0].Embedding)
	require.NotNil(t, gallery[0].PhotoURL)
	assert.Equal(t, "https://cdn/a.jpg", *gallery[0].PhotoURL)
	assert.Equal(t, "Beta", gallery[1].Name)

	// Re-enrollment overwrites and keeps the archived photo.
	require.NoError(t, repo.SetEmbedding(ctx, a.ID, Embedding{0.9, 0.9}, nil))
	got, err := repo.GetStudentByCode(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, Embedding{0.9, 0.9}, got.Embedding)
	require.NotNil(t, got.PhotoURL)
}

func TestStatsLeaderboardAndRecords(t *testing.T) {
	ctx := context.Background()
	svc, clock := newTestService(t)
	ada := createStudent(t, svc, "S-1", "Ada", nil)
	bob := createStudent(t, svc, "S-2", "Bob", nil)
	createStudent(t, svc, "S-3", "Cy", nil)

	_, err := svc.MarkAttendance(ctx, ada.ID, 0.9, true)
	require.NoError(t, err)
	clock.Set(time.Date(2026, 10, 16, 9, 45, 0, 0, time.UTC))
	_, err = svc.MarkAttendance(ctx, bob.ID, 0.8, false)
	require.NoError(t, err)

	stats, err := svc.Stats(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "2026-10-16", stats.Date)
	assert.Equal(t, 3, stats.TotalStudents)
	assert.Equal(t, 2, stats.PresentToday)
	assert.Equal(t, 1, stats.AbsentToday)
	assert.InDelta(t, 66.666, stats.AttendanceRate, 0.01)

	board, err := svc.Leaderboard(ctx, 2)
	require.NoError(t, err)
	require.Len(t, board, 2)
	assert.Equal(t, 1, board[0].Rank)
	assert.Equal(t, "Ada", board[0].Name)
	assert.Equal(t, 17, board[0].Points)
	assert.Equal(t, "10-A", board[0].Class)
	assert.Equal(t, "Bob", board[1].Name)

	records, err := svc.Records(ctx, "2026-10-16")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "Ada", records[0].StudentName)
	assert.Equal(t, "2026-10-16", records[0].Date.Format(DateLayout))
	assert.Equal(t, "Bob", records[1].StudentName)

	_, err = svc.Records(ctx, "16/10/2026")
	require.ErrorIs(t, err, ErrInvalidDate)
}

func TestAbsentStudentsAndAlerts(t *testing.T) {
	ctx := context.Background()
	svc, clock := newTestService(t)
	repo := svc.Repo()
	ada := createStudent(t, svc, "S-1", "Ada", strPtr("+15550001"))
	bob := createStudent(t, svc, "S-2", "Bob", nil)

	clock.Set(time.Date(2026, 10, 12, 8, 0, 0, 0, time.UTC))
	_, err := svc.MarkAttendance(ctx, ada.ID, 0.9, false)
	require.NoError(t, err)
	clock.Set(time.Date(2026, 10, 14, 8, 0, 0, 0, time.UTC))
	_, err = svc.MarkAttendance(ctx, bob.ID, 0.9, false)
	require.NoError(t, err)

	absent, err := repo.AbsentStudents(ctx, "2026-10-13")
	require.NoError(t, err)
	require.Len(t, absent, 1)
	assert.Equal(t, ada.ID, absent[0].ID)

	alert := &Alert{StudentID: ada.ID, Kind: AlertConsecutiveAbsence, Message: "Ada has been absent for 3+ days",
		CreatedAt: time.Date(2026, 10, 16, 7, 0, 0, 0, time.UTC)}
	require.NoError(t, repo.CreateAlert(ctx, alert))

	has, err := repo.HasAlertSince(ctx, ada.ID, AlertConsecutiveAbsence, time.Date(2026, 10, 13, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, has)
	has, err = repo.HasAlertSince(ctx, ada.ID, AlertConsecutiveAbsence, time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, repo.MarkAlertDelivered(ctx, alert.ID))
	alerts, err := svc.Alerts(ctx, 0)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.True(t, alerts[0].Sent)
	assert.True(t, alerts[0].Delivered)
}

func TestEmbeddingScan(t *testing.T) {
	var e Embedding
	require.NoError(t, e.Scan(nil))
	assert.Nil(t, e)
	require.NoError(t, e.Scan("[1,2.5]"))
	assert.Equal(t, Embedding{1, 2.5}, e)
	require.NoError(t, e.Scan([]byte("[3]")))
	assert.Equal(t, Embedding{3}, e)
	require.Error(t, e.Scan(42))

	v, err := Embedding(nil).Value()
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestRefreshTokensAreSingleUse(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	repo := svc.Repo()

	require.NoError(t, svc.RegisterKiosk(ctx, "kiosk-1"))
	require.NoError(t, svc.RegisterKiosk(ctx, "kiosk-1"))
	require.Error(t, svc.RegisterKiosk(ctx, " "))

	require.NoError(t, repo.SaveRefreshToken(ctx, "kiosk-1", "tok-a", time.Now().Add(time.Hour)))
	require.NoError(t, repo.SaveRefreshToken(ctx, "kiosk-1", "tok-old", time.Now().Add(-time.Hour)))

	require.ErrorIs(t, repo.ConsumeRefreshToken(ctx, "kiosk-2", "tok-a"), ErrTokenInvalid)
	require.NoError(t, repo.ConsumeRefreshToken(ctx, "kiosk-1", "tok-a"))
	require.ErrorIs(t, repo.ConsumeRefreshToken(ctx, "kiosk-1", "tok-a"), ErrTokenInvalid)
	require.ErrorIs(t, repo.ConsumeRefreshToken(ctx, "kiosk-1", "tok-old"), ErrTokenInvalid)
}
