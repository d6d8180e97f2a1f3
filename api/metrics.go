package api

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("lead-board/api")

// requestMetrics collects per-request timings and logs them as one entry.
type requestMetrics struct {
	logger        *log.Logger
	route         string
	start         time.Time
	span          trace.Span
	authDuration  time.Duration
	storeDuration time.Duration
	itemsReturned int
	itemID        int64
	errorStage    string
}

func newRequestMetrics(ctx context.Context, logger *log.Logger, route string) (*requestMetrics, context.Context) {
	ctx, span := tracer.Start(ctx, "api "+route)
	return &requestMetrics{logger: logger, route: route, start: time.Now(), span: span}, ctx
}

func (m *requestMetrics) ObserveAuth(d time.Duration) {
	if d > 0 {
		m.authDuration = d
	}
}

func (m *requestMetrics) ObserveStore(d time.Duration) {
	if d > 0 {
		m.storeDuration = d
	}
}

func (m *requestMetrics) SetItemsReturned(n int) {
	if n < 0 {
		n = 0
	}
	m.itemsReturned = n
}

func (m *requestMetrics) SetItemID(id int64) { m.itemID = id }

func (m *requestMetrics) SetErrorStage(stage string) {
	if stage != "" {
		m.errorStage = stage
	}
}

// Log emits the entry and ends the span.
func (m *requestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}
	m.span.SetAttributes(attribute.String("http.route", m.route), attribute.Int("http.status_code", status))
	if m.errorStage != "" {
		m.span.SetStatus(codes.Error, m.errorStage)
	}
	m.span.End()
	if m.logger == nil {
		return
	}

	fields := log.Fields{
		"route":          m.route,
		"status":         status,
		"total_ms":       durationToMillis(time.Since(m.start)),
		"items_returned": m.itemsReturned,
	}
	if m.itemID != 0 {
		fields["item"] = m.itemID
	}
	if m.authDuration > 0 {
		fields["auth_ms"] = durationToMillis(m.authDuration)
	}
	if m.storeDuration > 0 {
		fields["store_ms"] = durationToMillis(m.storeDuration)
	}
	if m.errorStage != "" {
		fields["error_stage"] = m.errorStage
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	m.logger.WithFields(fields).Info("board.request.metrics")
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
