package nats

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sgerhart/aegisflux/backend/avclass/internal/metrics"
	"github.com/sgerhart/aegisflux/backend/avclass/internal/model"
	"github.com/sgerhart/aegisflux/backend/avclass/internal/service"
)

type published struct {
	subject string
	result  Result
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []published
	err      error
}

func (p *fakePublisher) Publish(subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	var r Result
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	p.messages = append(p.messages, published{subject: subject, result: r})
	return nil
}

type classifierFunc func(ctx context.Context, req *model.Request) (*model.Report, error)

func (f classifierFunc) Execute(ctx context.Context, req *model.Request) (*model.Report, error) {
	return f(ctx, req)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestSubscriber(t *testing.T, classifier Classifier) (*Subscriber, *fakePublisher, *metrics.Metrics) {
	t.Helper()
	m := metrics.NewMetrics(prometheus.NewRegistry())
	s := NewSubscriber(nil, classifier, "avclass.requests", "avclass.results", "avclass", m, testLogger())
	pub := &fakePublisher{}
	s.publisher = pub
	return s, pub, m
}

func startedService(t *testing.T) *service.Service {
	t.Helper()
	svc := service.New(service.Options{}, nil, metrics.NewMetrics(prometheus.NewRegistry()), testLogger())
	require.NoError(t, svc.Start(context.Background()))
	return svc
}

func TestSubscriber_HandleMessage(t *testing.T) {
	s, pub, _ := newTestSubscriber(t, startedService(t))

	s.handleMessage(context.Background(), []byte(`{
		"sha256": "abc123",
		"file_type": "executable/windows/pe32",
		"labels": ["W32.Sality.PE", "Win.Virus.Sality-1067"]
	}`), "")

	require.Len(t, pub.messages, 1)
	msg := pub.messages[0]
	assert.Equal(t, "avclass.results", msg.subject)
	assert.Equal(t, "abc123", msg.result.SHA256)
	assert.Empty(t, msg.result.Error)
	require.NotNil(t, msg.result.Report)
	assert.Equal(t, service.RuleSetBaseline, msg.result.Report.RuleSet)
	assert.Equal(t, []string{"sality"}, msg.result.Tags[model.TagAttributionFamily])
}

func TestSubscriber_RepliesToInbox(t *testing.T) {
	s, pub, _ := newTestSubscriber(t, startedService(t))

	s.handleMessage(context.Background(), []byte(`{"sha256": "abc123", "labels": []}`), "_INBOX.reply")

	require.Len(t, pub.messages, 1)
	assert.Equal(t, "_INBOX.reply", pub.messages[0].subject)
	assert.Nil(t, pub.messages[0].result.Report)
	assert.Empty(t, pub.messages[0].result.Tags)
	assert.Empty(t, pub.messages[0].result.Error)
}

func TestSubscriber_NothingToReportWithoutInbox(t *testing.T) {
	s, pub, _ := newTestSubscriber(t, startedService(t))

	s.handleMessage(context.Background(), []byte(`{"sha256": "abc123", "labels": ["Trojan.Generic.1", "Malicious (high Confidence)"]}`), "")

	assert.Empty(t, pub.messages)
}

func TestSubscriber_InvalidRequests(t *testing.T) {
	called := false
	s, pub, m := newTestSubscriber(t, classifierFunc(func(context.Context, *model.Request) (*model.Report, error) {
		called = true
		return nil, nil
	}))

	tests := []struct {
		name string
		data string
	}{
		{"invalid JSON", `invalid json`},
		{"missing sha256", `{"labels": ["Trojan.Agent"]}`},
		{"blank sha256", `{"sha256": "  "}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s.handleMessage(context.Background(), []byte(tt.data), "")
		})
	}

	assert.False(t, called)
	require.Len(t, pub.messages, len(tests))
	for _, msg := range pub.messages {
		assert.NotEmpty(t, msg.result.Error)
		assert.Nil(t, msg.result.Report)
	}
	assert.Equal(t, float64(len(tests)), testutil.ToFloat64(m.RequestsInvalidTotal))
}

func TestSubscriber_ClassifierError(t *testing.T) {
	s, pub, _ := newTestSubscriber(t, classifierFunc(func(context.Context, *model.Request) (*model.Report, error) {
		return nil, errors.New("rules unavailable")
	}))

	s.handleMessage(context.Background(), []byte(`{"sha256": "abc123"}`), "")

	require.Len(t, pub.messages, 1)
	assert.Equal(t, "abc123", pub.messages[0].result.SHA256)
	assert.Equal(t, "rules unavailable", pub.messages[0].result.Error)
}

func TestSubscriber_PublishError(t *testing.T) {
	s, pub, m := newTestSubscriber(t, startedService(t))
	pub.err = errors.New("connection closed")

	s.handleMessage(context.Background(), []byte(`{"sha256": "abc123"}`), "")

	assert.Empty(t, pub.messages)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NatsPublishErrors))
}

func TestSubscriber_AliasFlagFromMessage(t *testing.T) {
	s, pub, _ := newTestSubscriber(t, startedService(t))

	s.handleMessage(context.Background(), []byte(`{
		"sha256": "abc123",
		"file_type": "executable/windows/pe32",
		"labels": ["Trojan.Negasteal.A", "Win32/AgentTesla.B"],
		"include_malpedia_dataset": true
	}`), "")

	require.Len(t, pub.messages, 1)
	require.NotNil(t, pub.messages[0].result.Report)
	assert.Equal(t, service.RuleSetAlias, pub.messages[0].result.Report.RuleSet)
	assert.Equal(t, []string{"agent_tesla"}, pub.messages[0].result.Tags[model.TagAttributionFamily])
}

func TestSubscriber_RecoversFromPanic(t *testing.T) {
	s, pub, m := newTestSubscriber(t, classifierFunc(func(context.Context, *model.Request) (*model.Report, error) {
		panic("engine bug")
	}))

	assert.NotPanics(t, func() {
		s.handleMessage(context.Background(), []byte(`{"sha256": "abc123"}`), "")
	})

	require.Len(t, pub.messages, 1)
	assert.Contains(t, pub.messages[0].result.Error, "engine bug")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestErrorsTotal))
}
