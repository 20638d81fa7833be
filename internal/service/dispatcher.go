package service

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	apperrors "github.com/kukipiyo/PiyoXAssistant/internal/errors"
	"github.com/kukipiyo/PiyoXAssistant/internal/metrics"
	"github.com/kukipiyo/PiyoXAssistant/internal/models"
	"github.com/kukipiyo/PiyoXAssistant/internal/render"
	"github.com/kukipiyo/PiyoXAssistant/pkg/xapi"
)

// Publisher is the outbound posting API.
type Publisher interface {
	Configured() bool
	CreatePost(ctx context.Context, text string) (*xapi.PostResult, error)
}

// Outcome classifies one dispatch attempt so the scheduler can decide how
// to reschedule the message.
type Outcome string

const (
	OutcomeSuccess      Outcome = "success"
	OutcomeRateLimited  Outcome = "rateLimited"
	OutcomeForbidden    Outcome = "forbidden"
	OutcomeUnauthorized Outcome = "unauthorized"
	OutcomeTransient    Outcome = "transient"
)

// DispatchResult reports what happened to one attempt.
type DispatchResult struct {
	Outcome  Outcome
	PostID   string
	Rendered string
	Err      error
}

// Dispatcher renders a message and delivers it to the publishing API.
type Dispatcher struct {
	publisher Publisher
	renderer  *render.Renderer
	logger    *logrus.Logger
	registry  *metrics.Registry
}

func NewDispatcher(publisher Publisher, renderer *render.Renderer, logger *logrus.Logger, registry *metrics.Registry) *Dispatcher {
	return &Dispatcher{
		publisher: publisher,
		renderer:  renderer,
		logger:    logger,
		registry:  registry,
	}
}

// Ready reports whether the publisher has credentials to dispatch with.
func (d *Dispatcher) Ready() bool {
	return d.publisher.Configured()
}

// Dispatch renders and publishes msg, classifying any failure by the API
// status code: 429 is retryable rate limiting, 403 is a permanent
// rejection of the content or account, 401 means the credentials are bad.
// Anything else counts as transient.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *models.Message) *DispatchResult {
	tracer := otel.Tracer("piyoassistant/dispatcher")
	ctx, span := tracer.Start(ctx, "dispatch")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("message.id", msg.ID),
		attribute.String("message.pattern", msg.DatePattern),
	)

	rendered := d.renderer.Render(ctx, msg.Content)

	start := time.Now()
	result, err := d.publisher.CreatePost(ctx, rendered)
	d.registry.Observe("publish_duration", time.Since(start), nil)

	if err == nil {
		d.registry.Inc("dispatch_total", map[string]string{"result": "success"})
		span.SetAttributes(attribute.String("post.id", result.ID))
		d.logger.WithFields(logrus.Fields{
			"messageId": msg.ID,
			"postId":    result.ID,
		}).Info("Message dispatched")
		return &DispatchResult{Outcome: OutcomeSuccess, PostID: result.ID, Rendered: rendered}
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	outcome := classifyPublishError(err)
	d.registry.Inc("dispatch_total", map[string]string{"result": string(outcome)})
	d.logger.WithError(err).WithFields(logrus.Fields{
		"messageId": msg.ID,
		"outcome":   outcome,
	}).Warn("Dispatch failed")

	return &DispatchResult{
		Outcome:  outcome,
		Rendered: rendered,
		Err:      wrapPublishError(err),
	}
}

func classifyPublishError(err error) Outcome {
	var apiErr *xapi.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusTooManyRequests:
			return OutcomeRateLimited
		case http.StatusForbidden:
			return OutcomeForbidden
		case http.StatusUnauthorized:
			return OutcomeUnauthorized
		}
	}
	return OutcomeTransient
}

func wrapPublishError(err error) error {
	var apiErr *xapi.APIError
	if errors.As(err, &apiErr) {
		return apperrors.NewPublishError(apiErr.StatusCode, err)
	}
	return apperrors.WrapRetryable(err, apperrors.ErrCodePublishAPI, "publish request failed")
}
