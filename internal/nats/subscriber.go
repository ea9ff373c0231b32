package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/sgerhart/aegisflux/backend/avclass/internal/metrics"
	"github.com/sgerhart/aegisflux/backend/avclass/internal/model"
)

// Classifier turns a request into a report; a nil report means nothing was extracted
type Classifier interface {
	Execute(ctx context.Context, req *model.Request) (*model.Report, error)
}

// Publisher sends result messages
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Result is the message published for every request
type Result struct {
	SHA256 string              `json:"sha256,omitempty"`
	Report *model.Report       `json:"report,omitempty"`
	Tags   map[string][]string `json:"tags,omitempty"`
	Error  string              `json:"error,omitempty"`
}

// Subscriber consumes classification requests from a queue group and
// publishes one result per request
type Subscriber struct {
	nc             *nats.Conn
	publisher      Publisher
	classifier     Classifier
	requestSubject string
	resultSubject  string
	queue          string
	metrics        *metrics.Metrics
	logger         *slog.Logger

	sub *nats.Subscription
}

// NewSubscriber creates a new NATS subscriber
func NewSubscriber(nc *nats.Conn, classifier Classifier, requestSubject, resultSubject, queue string, m *metrics.Metrics, logger *slog.Logger) *Subscriber {
	s := &Subscriber{
		nc:             nc,
		classifier:     classifier,
		requestSubject: requestSubject,
		resultSubject:  resultSubject,
		queue:          queue,
		metrics:        m,
		logger:         logger,
	}
	if nc != nil {
		s.publisher = nc
	}
	return s
}

// Subscribe listens for requests until ctx is cancelled, then drains
func (s *Subscriber) Subscribe(ctx context.Context) error {
	s.logger.Info("Subscribing to classification requests", "subject", s.requestSubject, "queue", s.queue)

	// Requests still pending when ctx ends are finished during the drain
	handlerCtx := context.WithoutCancel(ctx)
	sub, err := s.nc.QueueSubscribe(s.requestSubject, s.queue, func(msg *nats.Msg) {
		s.handleMessage(handlerCtx, msg.Data, msg.Reply)
	})
	if err != nil {
		s.logger.Error("Failed to subscribe to classification requests", "error", err)
		return err
	}
	s.sub = sub
	s.logger.Info("Subscribed to classification requests", "subject", s.requestSubject, "queue", s.queue)

	<-ctx.Done()

	s.logger.Info("Draining request subscription")
	if err := s.sub.Drain(); err != nil {
		s.logger.Error("Failed to drain request subscription", "error", err)
		return err
	}

	s.logger.Info("Graceful shutdown completed")
	return nil
}

// handleMessage classifies one request and publishes the result to reply,
// or to the result subject when the request carried no reply inbox. An
// empty verdict is only answered on a reply inbox.
func (s *Subscriber) handleMessage(ctx context.Context, data []byte, reply string) {
	s.logger.Debug("Received classification request", "data_length", len(data), "reply", reply)

	subject := reply
	if subject == "" {
		subject = s.resultSubject
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic while handling classification request", "panic", r)
			s.metrics.IncRequestErrors()
			s.publish(subject, &Result{Error: fmt.Sprintf("internal error: %v", r)})
		}
	}()

	req, err := parseRequest(data)
	if err != nil {
		s.logger.Error("Failed to parse classification request", "error", err)
		s.metrics.IncRequestsInvalid()
		s.publish(subject, &Result{Error: err.Error()})
		return
	}

	report, err := s.classifier.Execute(ctx, req)
	if err != nil {
		s.logger.Error("Failed to classify sample", "sha256", req.SHA256, "error", err)
		s.publish(subject, &Result{SHA256: req.SHA256, Error: err.Error()})
		return
	}

	if report == nil {
		// Only request/reply callers get an acknowledgement for an empty verdict
		if reply != "" {
			s.publish(subject, &Result{SHA256: req.SHA256})
		}
		s.logger.Debug("Nothing to report", "sha256", req.SHA256)
		return
	}

	s.publish(subject, &Result{SHA256: req.SHA256, Report: report, Tags: report.Tags()})
}

// parseRequest decodes and validates a request message
func parseRequest(data []byte) (*model.Request, error) {
	var req model.Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to unmarshal request: %w", err)
	}
	if strings.TrimSpace(req.SHA256) == "" {
		return nil, errors.New("request is missing sha256")
	}
	return &req, nil
}

func (s *Subscriber) publish(subject string, result *Result) {
	if s.publisher == nil {
		s.logger.Warn("No publisher configured, dropping result", "sha256", result.SHA256)
		return
	}

	data, err := json.Marshal(result)
	if err != nil {
		s.logger.Error("Failed to marshal result", "sha256", result.SHA256, "error", err)
		s.metrics.IncNatsPublishErrors()
		return
	}

	if err := s.publisher.Publish(subject, data); err != nil {
		s.logger.Error("Failed to publish result", "subject", subject, "sha256", result.SHA256, "error", err)
		s.metrics.IncNatsPublishErrors()
		return
	}

	s.logger.Debug("Published result", "subject", subject, "sha256", result.SHA256, "has_report", result.Report != nil)
}
