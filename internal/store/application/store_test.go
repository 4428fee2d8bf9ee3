package applicationstore

import (
	"context"
	"database/sql/driver"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "btr-application-api/internal/common/errors"
	"btr-application-api/internal/common/logger"
	"btr-application-api/internal/models"
)

// ==========================
// Test helpers
// ==========================

type testLogger struct {
	t *testing.T
}

func (tl *testLogger) Debug(msg string, fields map[string]interface{}) {
	tl.t.Logf("DEBUG: %s %v", msg, fields)
}

func (tl *testLogger) Info(msg string, fields map[string]interface{}) {
	tl.t.Logf("INFO: %s %v", msg, fields)
}

func (tl *testLogger) Warn(msg string, fields map[string]interface{}) {
	tl.t.Logf("WARN: %s %v", msg, fields)
}

func (tl *testLogger) Error(msg string, fields map[string]interface{}) {
	tl.t.Logf("ERROR: %s %v", msg, fields)
}

func (tl *testLogger) WithFields(fields map[string]interface{}) logger.Logger {
	return tl
}

func (tl *testLogger) WithError(err error) logger.Logger {
	return tl.WithFields(map[string]interface{}{"error": err})
}

func (tl *testLogger) With(fields map[string]interface{}) logger.Logger {
	return tl
}

func newTestLogger(t *testing.T) logger.Logger {
	return &testLogger{t: t}
}

type recordingIndexer struct {
	mu   sync.Mutex
	apps []*models.Application
	err  error
}

func (r *recordingIndexer) Index(_ context.Context, app *models.Application) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.apps = append(r.apps, app)
	return r.err
}

var fixedNow = time.Date(2025, time.September, 15, 10, 30, 0, 0, time.UTC)

func testDefaults() models.ApplicationDefaults {
	return models.ApplicationDefaults{
		IDPrefix:     "BTR",
		AcademicYear: "2025-2026",
		Semester:     "I. Dönem",
		Status:       "pending",
	}
}

func createTestInput() models.ApplicationInput {
	hours := 8.0
	return models.ApplicationInput{
		TCNo:        "12345678901",
		FullName:    "Ayşe Yılmaz",
		Branch:      "Bilişim Teknolojileri",
		Email:       "ayse@example.com",
		Phone:       "05551234567",
		WeeklyHours: &hours,
		Preferences: map[string]interface{}{"ilTercihi": "Bursa", "ilceTercihi": "Nilüfer"},
	}
}

func newTestStore(t *testing.T, opts ...Option) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	store, err := New(db, NewPostgresSequencer(), testDefaults(), newTestLogger(t), opts...)
	require.NoError(t, err)
	return store, mock
}

func insertArgs() []driver.Value {
	args := make([]driver.Value, 17)
	for i := range args {
		args[i] = sqlmock.AnyArg()
	}
	args[2] = "12345678901"
	args[5] = "ayse@example.com"
	args[14] = "2025-2026"
	args[15] = "I. Dönem"
	args[16] = "pending"
	return args
}

func expectSequence(mock sqlmock.Sqlmock, value int64) {
	mock.ExpectQuery(`INSERT INTO application_sequences`).
		WithArgs(2025).
		WillReturnRows(sqlmock.NewRows([]string{"last_value"}).AddRow(value))
}

// ==========================
// Tests
// ==========================

func TestStore_Create_Success(t *testing.T) {
	indexer := &recordingIndexer{}
	store, mock := newTestStore(t, WithIndexer(indexer))

	mock.ExpectBegin()
	expectSequence(mock, 7)
	mock.ExpectExec(`INSERT INTO applications`).
		WithArgs(insertArgs()...).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	mock.ExpectExec(`INSERT INTO audit_log`).
		WithArgs("application_created", "application", sqlmock.AnyArg(), sqlmock.AnyArg(), fixedNow).
		WillReturnResult(sqlmock.NewResult(1, 1))

	app, err := store.Create(context.Background(), createTestInput())
	require.NoError(t, err)

	assert.Equal(t, "BTR-2025-0007", app.ApplicationID)
	assert.Equal(t, "pending", app.Status)
	assert.Equal(t, "2025-2026", app.AcademicYear)
	assert.Equal(t, "I. Dönem", app.Semester)
	assert.Equal(t, fixedNow, app.SubmissionDate)
	assert.NotEmpty(t, app.ID)

	require.Len(t, indexer.apps, 1)
	assert.Equal(t, "BTR-2025-0007", indexer.apps[0].ApplicationID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Create_ValidationFailsBeforeTouchingDatabase(t *testing.T) {
	store, mock := newTestStore(t)

	input := createTestInput()
	input.TCNo = "123"
	input.FullName = ""

	app, err := store.Create(context.Background(), input)
	assert.Nil(t, app)
	require.Error(t, err)

	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeApplicationValidationFailed))
	assert.Equal(t, "T.C. Kimlik Numarası 11 haneli olmalıdır., Ad Soyad gereklidir.",
		apperrors.Normalize(err).Message)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Create_DuplicateFields(t *testing.T) {
	cases := []struct {
		name       string
		pqErr      *pq.Error
		wantCode   apperrors.ErrorCode
		wantStatus int
	}{
		{"tcNo", &pq.Error{Code: uniqueViolation, Constraint: constraintTCNo}, apperrors.ErrCodeDuplicateTCNo, 409},
		{"email", &pq.Error{Code: uniqueViolation, Constraint: constraintEmail}, apperrors.ErrCodeDuplicateEmail, 409},
		{"applicationId", &pq.Error{Code: uniqueViolation, Constraint: constraintApplicationID}, apperrors.ErrCodeDuplicateApplicationID, 500},
		{"detail fallback", &pq.Error{Code: uniqueViolation, Detail: "Key (email)=(a@b.co) already exists."}, apperrors.ErrCodeDuplicateEmail, 409},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store, mock := newTestStore(t)

			mock.ExpectBegin()
			expectSequence(mock, 1)
			mock.ExpectExec(`INSERT INTO applications`).WillReturnError(tc.pqErr)
			mock.ExpectRollback()

			_, err := store.Create(context.Background(), createTestInput())
			require.Error(t, err)

			stdErr := apperrors.Normalize(err)
			assert.Equal(t, tc.wantCode, stdErr.Code)
			assert.Equal(t, tc.wantStatus, apperrors.HTTPStatus(stdErr.Code))
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestStore_Create_OtherInsertErrorIsServerFault(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectBegin()
	expectSequence(mock, 1)
	mock.ExpectExec(`INSERT INTO applications`).WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err := store.Create(context.Background(), createTestInput())
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeDatabaseInsertFailed))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Create_SequenceFailureRollsBack(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO application_sequences`).WillReturnError(errors.New("lock timeout"))
	mock.ExpectRollback()

	_, err := store.Create(context.Background(), createTestInput())
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeSequenceGenerationFailed))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Create_BeginFailure(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectBegin().WillReturnError(errors.New("too many connections"))

	_, err := store.Create(context.Background(), createTestInput())
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeDatabaseConnectionFailed))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Create_SideEffectFailuresDoNotFailSubmission(t *testing.T) {
	indexer := &recordingIndexer{err: errors.New("es down")}
	store, mock := newTestStore(t, WithIndexer(indexer))

	mock.ExpectBegin()
	expectSequence(mock, 12)
	mock.ExpectExec(`INSERT INTO applications`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	mock.ExpectExec(`INSERT INTO audit_log`).WillReturnError(errors.New("audit table missing"))

	app, err := store.Create(context.Background(), createTestInput())
	require.NoError(t, err)
	assert.Equal(t, "BTR-2025-0012", app.ApplicationID)
	assert.Len(t, indexer.apps, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Create_WithoutDatabase(t *testing.T) {
	store, err := New(nil, NewPostgresSequencer(), testDefaults(), newTestLogger(t))
	require.NoError(t, err)

	_, err = store.Create(context.Background(), createTestInput())
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeDatabaseConnectionFailed))
	assert.Error(t, store.Ping(context.Background()))
}

func TestStore_Ping(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	store, err := New(db, NewCountSequencer(), testDefaults(), newTestLogger(t))
	require.NoError(t, err)

	mock.ExpectPing()
	assert.NoError(t, store.Ping(context.Background()))

	mock.ExpectPing().WillReturnError(errors.New("down"))
	assert.True(t, apperrors.HasCode(store.Ping(context.Background()), apperrors.ErrCodeDatabaseConnectionFailed))
}

func TestNew_RequiresSequencer(t *testing.T) {
	_, err := New(nil, nil, testDefaults(), newTestLogger(t))
	assert.Error(t, err)
}

func TestMigrate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS applications`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS application_sequences`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS audit_log`).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, Migrate(context.Background(), db))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate_StopsOnFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS applications`).WillReturnError(errors.New("permission denied"))

	err = Migrate(context.Background(), db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create applications")
}

func expectMigrations(mock sqlmock.Sqlmock) {
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS applications`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS application_sequences`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS audit_log`).WillReturnResult(sqlmock.NewResult(0, 0))
}

func TestStore_AutoMigrate_RunsOnceBeforeFirstCreate(t *testing.T) {
	store, mock := newTestStore(t, WithAutoMigrate())

	expectMigrations(mock)
	mock.ExpectBegin()
	expectSequence(mock, 1)
	mock.ExpectExec(`INSERT INTO applications`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	mock.ExpectExec(`INSERT INTO audit_log`).WillReturnResult(sqlmock.NewResult(1, 1))

	_, err := store.Create(context.Background(), createTestInput())
	require.NoError(t, err)

	second := createTestInput()
	second.TCNo = "10987654321"
	second.Email = "mehmet@example.com"

	mock.ExpectBegin()
	expectSequence(mock, 2)
	mock.ExpectExec(`INSERT INTO applications`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	mock.ExpectExec(`INSERT INTO audit_log`).WillReturnResult(sqlmock.NewResult(1, 1))

	app, err := store.Create(context.Background(), second)
	require.NoError(t, err)
	assert.Equal(t, "BTR-2025-0002", app.ApplicationID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// The database came up after the API: the first attempt fails, the next
// Ping creates the tables.
func TestStore_AutoMigrate_RetriesAfterFailure(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	store, err := New(db, NewPostgresSequencer(), testDefaults(), newTestLogger(t), WithAutoMigrate())
	require.NoError(t, err)

	mock.ExpectPing()
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS applications`).WillReturnError(errors.New("database \"btr\" does not exist"))
	assert.True(t, apperrors.HasCode(store.Ping(context.Background()), apperrors.ErrCodeDatabaseConnectionFailed))

	mock.ExpectPing()
	expectMigrations(mock)
	assert.NoError(t, store.Ping(context.Background()))

	mock.ExpectPing()
	assert.NoError(t, store.Ping(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_AutoMigrate_FailureFailsCreate(t *testing.T) {
	store, mock := newTestStore(t, WithAutoMigrate())

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS applications`).WillReturnError(errors.New("permission denied"))

	_, err := store.Create(context.Background(), createTestInput())
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeDatabaseConnectionFailed))
	assert.Equal(t, 500, apperrors.HTTPStatus(apperrors.Normalize(err).Code))
	assert.NoError(t, mock.ExpectationsWereMet())
}
