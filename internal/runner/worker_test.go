package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"syscall"
	"testing"

	"github.com/google/uuid"
	"github.com/shaiso/Conveyor/internal/domain"
)

// recordingSink — EventSink, записывающий полученные события.
// Worker вызывает его синхронно, поэтому блокировки не нужны.
type recordingSink struct {
	succeeded []*domain.Task
	failed    []*domain.Task
	crashed   []*domain.Task
}

func (s *recordingSink) TaskSucceeded(task *domain.Task) {
	s.succeeded = append(s.succeeded, task)
}

func (s *recordingSink) TaskFailed(task *domain.Task) {
	s.failed = append(s.failed, task)
}

func (s *recordingSink) WorkerCrashed(task *domain.Task, _ any) {
	s.crashed = append(s.crashed, task)
}

// errorDoer — Doer, всегда возвращающий заданную ошибку.
type errorDoer struct {
	err error
}

func (d *errorDoer) Do(_ *http.Request) (*http.Response, error) {
	return nil, d.err
}

// panicDoer — Doer, паникующий при вызове.
type panicDoer struct{}

func (d *panicDoer) Do(_ *http.Request) (*http.Response, error) {
	panic("transport blew up")
}

func newTask(url string) *domain.Task {
	return &domain.Task{
		ID:          uuid.New(),
		JobID:       uuid.New(),
		ActivityID:  "act-1",
		ActivityURL: url,
		Input: domain.TaskInput{
			Key:       "order-42",
			Data:      "payload",
			Requestor: "tester",
		},
	}
}

// --- Worker Tests ---

func TestWorker_Success(t *testing.T) {
	var receivedBody map[string]string
	var receivedMethod, receivedContentType string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedMethod = r.Method
		receivedContentType = r.Header.Get("Content-Type")
		json.NewDecoder(r.Body).Decode(&receivedBody)

		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"data":"X","next_activities":[]}`))
	}))
	defer server.Close()

	task := newTask(server.URL)
	sink := &recordingSink{}

	NewWorker(nil, nil).Run(context.Background(), task, sink)

	// Ровно один POST с JSON-телом {key, data, requestor}
	if receivedMethod != http.MethodPost {
		t.Errorf("expected POST, got %s", receivedMethod)
	}
	if receivedContentType != "application/json" {
		t.Errorf("expected Content-Type application/json, got %s", receivedContentType)
	}
	if receivedBody["key"] != "order-42" || receivedBody["data"] != "payload" || receivedBody["requestor"] != "tester" {
		t.Errorf("unexpected request body: %v", receivedBody)
	}

	// Ровно одно терминальное событие — taskSucceeded
	if len(sink.succeeded) != 1 {
		t.Fatalf("expected 1 taskSucceeded event, got %d", len(sink.succeeded))
	}
	if len(sink.failed) != 0 || len(sink.crashed) != 0 {
		t.Error("expected no failure events")
	}

	if task.Output.Data != "X" {
		t.Errorf("expected output data X, got %q", task.Output.Data)
	}
	if task.Failed {
		t.Error("task should not be failed")
	}
	if !task.IsFinished() {
		t.Error("task should be finished")
	}
}

func TestWorker_Success_NextActivities(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"data":"ok","next_activities":["act-2","act-3"]}`))
	}))
	defer server.Close()

	task := newTask(server.URL)
	sink := &recordingSink{}

	NewWorker(nil, nil).Run(context.Background(), task, sink)

	if len(sink.succeeded) != 1 {
		t.Fatalf("expected 1 taskSucceeded event, got %d", len(sink.succeeded))
	}
	if len(task.Output.NextActivities) != 2 {
		t.Fatalf("expected 2 next activities, got %d", len(task.Output.NextActivities))
	}
	if task.Output.NextActivities[0] != "act-2" || task.Output.NextActivities[1] != "act-3" {
		t.Errorf("unexpected next activities: %v", task.Output.NextActivities)
	}
}

func TestWorker_Non200(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer server.Close()

	task := newTask(server.URL)
	sink := &recordingSink{}

	NewWorker(nil, nil).Run(context.Background(), task, sink)

	if len(sink.failed) != 1 {
		t.Fatalf("expected 1 taskFailed event, got %d", len(sink.failed))
	}
	if !task.Failed {
		t.Error("task should be failed")
	}
	// Тело ответа сохраняется как диагностический payload
	if task.Output.Data != "boom" {
		t.Errorf("expected output boom, got %q", task.Output.Data)
	}
}

func TestWorker_ConnExhausted(t *testing.T) {
	// Исчерпание file descriptors приходит обёрнутым в url.Error/OpError
	cause := fmt.Errorf("dial tcp: %w", syscall.EMFILE)

	task := newTask("http://activity.local/run")
	sink := &recordingSink{}

	NewWorker(&errorDoer{err: cause}, nil).Run(context.Background(), task, sink)

	if len(sink.failed) != 1 {
		t.Fatalf("expected 1 taskFailed event, got %d", len(sink.failed))
	}
	if task.Output.Data != FailurePayloadNoConnection {
		t.Errorf("expected sentinel %q, got %q", FailurePayloadNoConnection, task.Output.Data)
	}
}

func TestWorker_GenericTransportError(t *testing.T) {
	task := newTask("http://activity.local/run")
	sink := &recordingSink{}

	NewWorker(&errorDoer{err: errors.New("connection refused")}, nil).Run(context.Background(), task, sink)

	if len(sink.failed) != 1 {
		t.Fatalf("expected 1 taskFailed event, got %d", len(sink.failed))
	}
	if task.Output.Data != FailurePayloadUnknown {
		t.Errorf("expected sentinel %q, got %q", FailurePayloadUnknown, task.Output.Data)
	}
	// Sentinels различимы между собой
	if task.Output.Data == FailurePayloadNoConnection {
		t.Error("generic error must not produce the exhaustion sentinel")
	}
}

func TestWorker_MalformedSuccessBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("not json at all"))
	}))
	defer server.Close()

	task := newTask(server.URL)
	sink := &recordingSink{}

	NewWorker(nil, nil).Run(context.Background(), task, sink)

	if len(sink.failed) != 1 {
		t.Fatalf("expected 1 taskFailed event, got %d", len(sink.failed))
	}
	if task.Output.Data != FailurePayloadUnknown {
		t.Errorf("expected sentinel %q, got %q", FailurePayloadUnknown, task.Output.Data)
	}
}

func TestWorker_PanicBecomesCrashEvent(t *testing.T) {
	task := newTask("http://activity.local/run")
	sink := &recordingSink{}

	NewWorker(&panicDoer{}, nil).Run(context.Background(), task, sink)

	if len(sink.crashed) != 1 {
		t.Fatalf("expected 1 workerCrashed event, got %d", len(sink.crashed))
	}
	if len(sink.succeeded) != 0 || len(sink.failed) != 0 {
		t.Error("crashed worker must not emit a terminal event")
	}
}

func TestIsConnExhausted(t *testing.T) {
	if !isConnExhausted(fmt.Errorf("wrap: %w", syscall.EMFILE)) {
		t.Error("EMFILE should be detected")
	}
	if !isConnExhausted(fmt.Errorf("wrap: %w", syscall.ENFILE)) {
		t.Error("ENFILE should be detected")
	}
	if isConnExhausted(errors.New("connection refused")) {
		t.Error("generic error should not be detected as exhaustion")
	}
}
