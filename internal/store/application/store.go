// Package applicationstore persists BTR applications. It validates the
// document, allocates the application number and inserts the row in one
// transaction, then mirrors the result to the audit log and search index.
package applicationstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"

	apperrors "btr-application-api/internal/common/errors"
	"btr-application-api/internal/common/logger"
	"btr-application-api/internal/common/metrics"
	"btr-application-api/internal/common/observability"
	"btr-application-api/internal/common/validation"
	"btr-application-api/internal/models"
)

const uniqueViolation = "23505"

type Store struct {
	db        *sql.DB
	sequencer Sequencer
	indexer   Indexer
	validator *validation.ApplicationValidator
	defaults  models.ApplicationDefaults
	obs       *observability.Observability
	logger    logger.Logger
	now       func() time.Time

	autoMigrate bool
	schemaMu    sync.Mutex
	schemaReady bool
}

// Option customizes a Store.
type Option func(*Store)

// WithIndexer enables the search mirror.
func WithIndexer(idx Indexer) Option {
	return func(s *Store) { s.indexer = idx }
}

func WithObservability(obs *observability.Observability) Option {
	return func(s *Store) { s.obs = obs }
}

// WithAutoMigrate creates the tables on the first successful Ping or Create.
// A failed attempt is retried on the next call.
func WithAutoMigrate() Option {
	return func(s *Store) { s.autoMigrate = true }
}

// WithClock is used by tests to pin the submission year.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New builds a Store. db may be nil when the database was unreachable at
// startup; Create then fails with a connection error and Ping reports it.
func New(db *sql.DB, sequencer Sequencer, defaults models.ApplicationDefaults, log logger.Logger, opts ...Option) (*Store, error) {
	if sequencer == nil {
		return nil, fmt.Errorf("sequencer is required")
	}
	v, err := validation.NewApplicationValidator()
	if err != nil {
		return nil, err
	}

	s := &Store{
		db:        db,
		sequencer: sequencer,
		validator: v,
		defaults:  defaults,
		logger:    log.WithFields(map[string]interface{}{"component": "application-store", "sequencer": sequencer.Name()}),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.obs == nil {
		s.obs = &observability.Observability{}
	}
	return s, nil
}

// Ping reports whether the document store answers.
func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return apperrors.NewDatabaseConnectionError(errors.New("database not configured"))
	}
	if err := s.db.PingContext(ctx); err != nil {
		return apperrors.NewDatabaseConnectionError(err)
	}
	if err := s.ensureSchema(ctx); err != nil {
		return apperrors.NewDatabaseConnectionError(err)
	}
	return nil
}

// ensureSchema runs Migrate once per process when auto migration is on.
func (s *Store) ensureSchema(ctx context.Context) error {
	if !s.autoMigrate {
		return nil
	}
	s.schemaMu.Lock()
	defer s.schemaMu.Unlock()
	if s.schemaReady {
		return nil
	}
	if err := Migrate(ctx, s.db); err != nil {
		s.logger.Warn("schema migration failed", map[string]interface{}{"error": err})
		return err
	}
	s.schemaReady = true
	s.logger.Info("schema ready", nil)
	return nil
}

// Create validates input, assigns an application ID and stores the document.
// Errors are *errors.StandardError values classified as validation,
// duplicate or server failures.
func (s *Store) Create(ctx context.Context, input models.ApplicationInput) (*models.Application, error) {
	ctx, span := s.obs.StartSpan(ctx, "applicationstore.Create")
	defer span.End()

	violations, err := s.validator.ValidateInput(input)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	if len(violations) > 0 {
		return nil, apperrors.NewValidationError(violations)
	}

	if s.db == nil {
		return nil, apperrors.NewDatabaseConnectionError(errors.New("database not configured"))
	}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, apperrors.NewDatabaseConnectionError(err)
	}

	now := s.now().UTC()
	app := &models.Application{
		ID:               uuid.New().String(),
		ApplicationInput: input,
		SubmissionDate:   now,
		AcademicYear:     s.defaults.AcademicYear,
		Semester:         s.defaults.Semester,
		Status:           s.defaults.Status,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperrors.NewDatabaseConnectionError(err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	seq, err := s.sequencer.Next(ctx, tx, now.Year())
	if err != nil {
		return nil, apperrors.NewSequenceError(err)
	}
	app.ApplicationID = FormatApplicationID(s.defaults.IDPrefix, now.Year(), seq)
	span.SetAttributes(attribute.String("application.id", app.ApplicationID))

	if err := s.insert(ctx, tx, app); err != nil {
		return nil, classifyInsertError(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, classifyInsertError(err)
	}
	committed = true

	s.logger.Info("application stored", map[string]interface{}{
		"applicationId": app.ApplicationID,
		"rowId":         app.ID,
	})

	s.writeAudit(ctx, app)
	s.mirror(ctx, app)

	return app, nil
}

func (s *Store) insert(ctx context.Context, q Querier, app *models.Application) error {
	var preferences interface{}
	if app.Preferences != nil {
		raw, err := json.Marshal(app.Preferences)
		if err != nil {
			return fmt.Errorf("marshal preferences: %w", err)
		}
		preferences = string(raw)
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO applications (
			id, application_id, tc_no, full_name, branch, email, phone,
			weekly_hours, certificate_date, norm_status, preferences,
			special_request, teacher_date, submission_date, academic_year,
			semester, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		app.ID,
		app.ApplicationID,
		app.TCNo,
		app.FullName,
		nullString(app.Branch),
		app.Email,
		nullString(app.Phone),
		nullFloat(app.WeeklyHours),
		nullString(app.CertificateDate),
		nullString(app.NormStatus),
		preferences,
		nullString(app.SpecialRequest),
		nullString(app.TeacherDate),
		app.SubmissionDate,
		app.AcademicYear,
		app.Semester,
		app.Status,
	)
	return err
}

// writeAudit is best effort; the application is already committed.
func (s *Store) writeAudit(ctx context.Context, app *models.Application) {
	details, err := json.Marshal(map[string]interface{}{
		"applicationId": app.ApplicationID,
		"academicYear":  app.AcademicYear,
		"semester":      app.Semester,
	})
	if err != nil {
		details = []byte("{}")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_log (event_type, resource_type, resource_id, details, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		"application_created",
		"application",
		app.ID,
		string(details),
		app.SubmissionDate,
	)
	if err != nil {
		metrics.ApplicationSideEffectFailures.WithLabelValues("audit_log").Inc()
		s.logger.Warn("audit log insert failed", map[string]interface{}{
			"error":         err,
			"applicationId": app.ApplicationID,
		})
	}
}

func (s *Store) mirror(ctx context.Context, app *models.Application) {
	if s.indexer == nil {
		return
	}
	if err := s.indexer.Index(ctx, app); err != nil {
		metrics.ApplicationSideEffectFailures.WithLabelValues("search_index").Inc()
		s.logger.Warn("search index write failed", map[string]interface{}{
			"error":         err,
			"applicationId": app.ApplicationID,
		})
	}
}

// classifyInsertError maps unique violations to the field they concern.
func classifyInsertError(err error) error {
	if field := duplicateField(err); field != "" {
		return apperrors.NewDuplicateError(field, err)
	}
	return apperrors.NewDatabaseInsertError(err)
}

func duplicateField(err error) string {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || string(pqErr.Code) != uniqueViolation {
		return ""
	}
	switch pqErr.Constraint {
	case constraintTCNo:
		return "tcNo"
	case constraintEmail:
		return "email"
	case constraintApplicationID:
		return "applicationId"
	}
	// Constraints created outside Migrate: fall back to the key in the detail.
	switch {
	case strings.Contains(pqErr.Detail, "(tc_no)"):
		return "tcNo"
	case strings.Contains(pqErr.Detail, "(email)"):
		return "email"
	default:
		return "applicationId"
	}
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
