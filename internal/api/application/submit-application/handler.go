package submitapplication

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "btr-application-api/internal/common/errors"
	"btr-application-api/internal/common/logger"
	"btr-application-api/internal/common/metrics"
	"btr-application-api/internal/common/observability"
	"btr-application-api/internal/common/validation"
	"btr-application-api/internal/models"
)

const (
	Route = "/api/btr-applications"

	MsgCreated = "Başvuru başarıyla kaydedildi!"
)

// ApplicationCreator is the persistence side of a submission.
type ApplicationCreator interface {
	Create(ctx context.Context, input models.ApplicationInput) (*models.Application, error)
}

type Handler struct {
	config *Config
	store  ApplicationCreator
	errors *apperrors.ErrorHandler
	obs    *observability.Observability
	logger logger.Logger
}

func NewHandler(config *Config, store ApplicationCreator, obs *observability.Observability, log logger.Logger) *Handler {
	if obs == nil {
		obs = &observability.Observability{}
	}
	log = log.WithFields(map[string]interface{}{"route": Route})
	return &Handler{
		config: config,
		store:  store,
		errors: apperrors.NewErrorHandler(log),
		obs:    obs,
		logger: log,
	}
}

// Register mounts the submission route.
func (h *Handler) Register(r gin.IRoutes) {
	r.POST(Route, h.Handle)
}

func (h *Handler) Handle(c *gin.Context) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.config.Timeout)
	defer cancel()

	outcome := metrics.OutcomeCreated
	defer func() {
		metrics.ApplicationsSubmitted.WithLabelValues(outcome).Inc()
		h.obs.RecordSubmissionDuration(ctx, time.Since(start), outcome)
	}()

	input, err := h.decode(c)
	if err != nil {
		outcome = metrics.OutcomeInvalid
		h.errors.Respond(c, err)
		return
	}

	app, err := h.store.Create(ctx, *input)
	if err != nil {
		outcome = outcomeOf(err)
		h.errors.Respond(c, err)
		return
	}

	h.logger.Info("application submitted", map[string]interface{}{
		"applicationId": app.ApplicationID,
		"durationMs":    time.Since(start).Milliseconds(),
	})

	c.JSON(http.StatusCreated, Response{
		Success:       true,
		Message:       MsgCreated,
		ApplicationID: app.ApplicationID,
	})
}

// decode reads the body into the explicit input type. The body must be a
// JSON object; keys outside the input are dropped, or rejected when
// configured. Scalars are cast to their field's type and values that cannot
// be cast are left for validation to report.
func (h *Handler) decode(c *gin.Context) (*models.ApplicationInput, error) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, h.config.MaxBodyBytes))
	if err != nil {
		return nil, apperrors.NewInvalidRequestBodyError(err)
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil {
		return nil, apperrors.NewInvalidRequestBodyError(err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, apperrors.NewInvalidRequestBodyError(fmt.Errorf("unexpected data after JSON object"))
	}
	if raw == nil {
		return nil, apperrors.NewInvalidRequestBodyError(fmt.Errorf("body is not a JSON object"))
	}

	if unknown := unknownFields(raw); len(unknown) > 0 {
		if h.config.RejectUnknownFields {
			return nil, apperrors.NewInvalidRequestBodyError(fmt.Errorf("unknown fields: %v", unknown)).
				WithMetadata("unknownFields", unknown)
		}
		h.logger.Debug("ignoring unknown fields", map[string]interface{}{"fields": unknown})
	}

	input, err := validation.CoerceApplication(raw)
	if err != nil {
		return nil, apperrors.NewInvalidRequestBodyError(err)
	}
	return &input, nil
}

func unknownFields(raw map[string]interface{}) []string {
	var unknown []string
	for k := range raw {
		if !inputFields[k] {
			unknown = append(unknown, k)
		}
	}
	sort.Strings(unknown)
	return unknown
}

func outcomeOf(err error) string {
	switch {
	case apperrors.IsConflict(err):
		return metrics.OutcomeDuplicate
	case apperrors.HasCode(err, apperrors.ErrCodeApplicationValidationFailed):
		return metrics.OutcomeInvalid
	default:
		return metrics.OutcomeError
	}
}
