package runner

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

// fakeStore — persistence-заглушка, записывающая все вызовы.
// Вызывается из горутин runner'а, поэтому защищена мьютексом.
type fakeStore struct {
	mu           sync.Mutex
	runningMarks int
	doneMarks    int
	outputs      []*domain.Task
	taskErrors   []*domain.Task

	// Инъекция ошибок persistence
	failSaveOutput error
	failMarkDone   error

	// Синхронизация SaveTaskOutput: entered закрывается при первом
	// входе, gate (если не nil) задерживает возврат до закрытия
	outputEntered chan struct{}
	outputGate    chan struct{}
}

func (s *fakeStore) MarkJobRunning(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job.MarkRunning()
	s.runningMarks++
	return nil
}

func (s *fakeStore) MarkJobDone(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failMarkDone != nil {
		return s.failMarkDone
	}
	job.MarkDone()
	s.doneMarks++
	return nil
}

func (s *fakeStore) SaveTaskOutput(_ context.Context, task *domain.Task) error {
	// Вызывается только горутиной runner'а, поэтому без мьютекса
	if s.outputEntered != nil {
		close(s.outputEntered)
		s.outputEntered = nil
	}
	if s.outputGate != nil {
		<-s.outputGate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSaveOutput != nil {
		return s.failSaveOutput
	}
	s.outputs = append(s.outputs, task)
	return nil
}

func (s *fakeStore) SaveTaskError(_ context.Context, task *domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.taskErrors = append(s.taskErrors, task)
	return nil
}

func (s *fakeStore) snapshot() (running, done, outputs, taskErrors int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runningMarks, s.doneMarks, len(s.outputs), len(s.taskErrors)
}

// newJobAndProcess собирает PENDING job и процесс с одной start activity.
func newJobAndProcess(url string) (*domain.Job, *domain.Process) {
	process := &domain.Process{
		ID:            uuid.New(),
		Name:          "test-process",
		StartActivity: "start",
		Activities: []domain.Activity{
			{ID: "start", URL: url},
		},
		IsActive: true,
	}
	job := &domain.Job{
		ID:        uuid.New(),
		ProcessID: process.ID,
		Input: domain.JobInput{
			Key:       "order-42",
			Data:      "payload",
			Requestor: "tester",
		},
		Status:    domain.JobStatusPending,
		CreatedAt: time.Now(),
	}
	return job, process
}

func waitDone(t *testing.T, jr *JobRunner) {
	t.Helper()
	select {
	case <-jr.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not terminate in time")
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

// --- Registry Tests ---

func TestRegistry_StartJob_Idempotent(t *testing.T) {
	// Handler не отвечает, пока не закрыт gate: runner остаётся живым
	gate := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-gate
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"data":"ok","next_activities":[]}`))
	}))
	defer server.Close()

	store := &fakeStore{}
	registry := NewRegistry()
	job, process := newJobAndProcess(server.URL)

	jr, err := registry.StartJob(context.Background(), RunnerConfig{
		Job:     job,
		Process: process,
		Store:   store,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Повторный запуск того же job — ErrJobAlreadyRunning, не дубликат
	_, err = registry.StartJob(context.Background(), RunnerConfig{
		Job:     job,
		Process: process,
		Store:   store,
	})
	if !errors.Is(err, ErrJobAlreadyRunning) {
		t.Fatalf("expected ErrJobAlreadyRunning, got %v", err)
	}

	if registry.Count() != 1 {
		t.Errorf("expected 1 live runner, got %d", registry.Count())
	}

	close(gate)
	waitDone(t, jr)

	// Ровно одна пометка RUNNING и один стартовый task
	running, _, outputs, _ := store.snapshot()
	if running != 1 {
		t.Errorf("expected exactly 1 running mark, got %d", running)
	}
	if outputs != 1 {
		t.Errorf("expected exactly 1 start task, got %d", outputs)
	}

	// Runner дерегистрируется при завершении
	waitFor(t, func() bool { return registry.Count() == 0 }, "runner was not removed from registry")
}

// --- JobRunner Tests ---

func TestJobRunner_SuccessPath(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"data":"X","next_activities":[]}`))
	}))
	defer server.Close()

	store := &fakeStore{}
	registry := NewRegistry()
	job, process := newJobAndProcess(server.URL)

	jr, err := registry.StartJob(context.Background(), RunnerConfig{
		Job:     job,
		Process: process,
		Store:   store,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	waitDone(t, jr)

	running, done, outputs, taskErrors := store.snapshot()
	if running != 1 {
		t.Errorf("expected 1 running mark, got %d", running)
	}
	if done != 1 {
		t.Errorf("expected 1 done mark, got %d", done)
	}
	if outputs != 1 || taskErrors != 0 {
		t.Errorf("expected 1 output and 0 errors, got %d/%d", outputs, taskErrors)
	}

	saved := store.outputs[0]
	if saved.Output.Data != "X" {
		t.Errorf("expected output data X, got %q", saved.Output.Data)
	}
	if saved.Failed {
		t.Error("task should not be failed")
	}

	if job.Status != domain.JobStatusDone {
		t.Errorf("expected job status DONE, got %s", job.Status)
	}
}

func TestJobRunner_Non200StillReachesDone(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer server.Close()

	store := &fakeStore{}
	registry := NewRegistry()
	job, process := newJobAndProcess(server.URL)

	jr, err := registry.StartJob(context.Background(), RunnerConfig{
		Job:     job,
		Process: process,
		Store:   store,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	waitDone(t, jr)

	_, done, outputs, taskErrors := store.snapshot()
	if taskErrors != 1 || outputs != 0 {
		t.Errorf("expected 1 task error and 0 outputs, got %d/%d", taskErrors, outputs)
	}

	saved := store.taskErrors[0]
	if !saved.Failed {
		t.Error("task should be failed")
	}
	if saved.Output.Data != "boom" {
		t.Errorf("expected failure payload boom, got %q", saved.Output.Data)
	}

	// Упавший task не мешает job дойти до DONE
	if done != 1 {
		t.Errorf("expected 1 done mark, got %d", done)
	}
	if job.Status != domain.JobStatusDone {
		t.Errorf("expected job status DONE, got %s", job.Status)
	}
}

func TestJobRunner_FanOut_SingleDoneMark(t *testing.T) {
	// Стартовый task висит на gate, остальные отвечают сразу
	gate := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("/start", func(w http.ResponseWriter, _ *http.Request) {
		<-gate
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"data":"start","next_activities":[]}`))
	})
	mux.HandleFunc("/fast", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"data":"fast","next_activities":[]}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	store := &fakeStore{}
	registry := NewRegistry()
	job, process := newJobAndProcess(server.URL + "/start")

	jr, err := registry.StartJob(context.Background(), RunnerConfig{
		Job:     job,
		Process: process,
		Store:   store,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Fan-out: три дополнительных task поверх стартового
	for i := 0; i < 3; i++ {
		task := &domain.Task{
			ID:          uuid.New(),
			JobID:       job.ID,
			ActivityID:  "fast",
			ActivityURL: server.URL + "/fast",
			Input:       domain.TaskInput{Key: "order-42"},
			CreatedAt:   time.Now(),
		}
		if err := jr.DispatchTask(task); err != nil {
			t.Fatalf("dispatch task %d: %v", i, err)
		}
	}

	// Ждём завершения fan-out tasks, затем отпускаем стартовый
	waitFor(t, func() bool {
		_, _, outputs, _ := store.snapshot()
		return outputs == 3
	}, "fan-out tasks did not finish")

	_, done, _, _ := store.snapshot()
	if done != 0 {
		t.Fatal("job must not be done while the start task is in flight")
	}

	close(gate)
	waitDone(t, jr)

	_, done, outputs, _ := store.snapshot()
	if outputs != 4 {
		t.Errorf("expected 4 saved outputs, got %d", outputs)
	}
	// Детектор срабатывает ровно один раз при любом числе tasks
	if done != 1 {
		t.Errorf("expected exactly 1 done mark, got %d", done)
	}
	if job.Status != domain.JobStatusDone {
		t.Errorf("expected job status DONE, got %s", job.Status)
	}
}

func TestJobRunner_StopBypassesCompletionDetector(t *testing.T) {
	gate := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-gate
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"data":"late","next_activities":[]}`))
	}))
	defer server.Close()
	defer close(gate)

	store := &fakeStore{}
	registry := NewRegistry()
	job, process := newJobAndProcess(server.URL)

	jr, err := registry.StartJob(context.Background(), RunnerConfig{
		Job:     job,
		Process: process,
		Store:   store,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	waitFor(t, func() bool {
		running, _, _, _ := store.snapshot()
		return running == 1
	}, "job was not marked running")

	jr.Stop()
	waitDone(t, jr)

	// Stop минует детектор: DONE не выставляется
	_, done, _, _ := store.snapshot()
	if done != 0 {
		t.Errorf("expected 0 done marks after stop, got %d", done)
	}
}

func TestJobRunner_EventAfterDoneIsRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"data":"X","next_activities":[]}`))
	}))
	defer server.Close()

	store := &fakeStore{}
	registry := NewRegistry()
	job, process := newJobAndProcess(server.URL)

	jr, err := registry.StartJob(context.Background(), RunnerConfig{
		Job:     job,
		Process: process,
		Store:   store,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	waitDone(t, jr)

	// Событие после завершения — нарушение инварианта, не повторный DONE
	stale := &domain.Task{ID: uuid.New(), JobID: job.ID}
	if err := jr.DispatchTask(stale); !errors.Is(err, ErrRunnerTerminated) {
		t.Errorf("expected ErrRunnerTerminated, got %v", err)
	}
	jr.TaskSucceeded(stale)

	time.Sleep(20 * time.Millisecond)

	_, done, _, _ := store.snapshot()
	if done != 1 {
		t.Errorf("expected done mark to stay at 1, got %d", done)
	}
}

// crashDoer паникует на путях /crash, остальные запросы выполняет real.
type crashDoer struct {
	real Doer
}

func (d *crashDoer) Do(req *http.Request) (*http.Response, error) {
	if strings.HasSuffix(req.URL.Path, "/crash") {
		panic("activity client exploded")
	}
	return d.real.Do(req)
}

func TestJobRunner_WorkerCrashIsNotTerminal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"data":"fast","next_activities":[]}`))
	}))
	defer server.Close()

	store := &fakeStore{}
	registry := NewRegistry()
	job, process := newJobAndProcess(server.URL + "/crash")

	jr, err := registry.StartJob(context.Background(), RunnerConfig{
		Job:     job,
		Process: process,
		Store:   store,
		Client:  &crashDoer{real: &http.Client{}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	waitFor(t, func() bool {
		running, _, _, _ := store.snapshot()
		return running == 1
	}, "job was not marked running")

	// Стартовый worker упал с паникой. Runner жив и принимает события:
	// dispatch дополнительного task проходит и выполняется
	task := &domain.Task{
		ID:          uuid.New(),
		JobID:       job.ID,
		ActivityID:  "fast",
		ActivityURL: server.URL + "/fast",
		Input:       domain.TaskInput{Key: "order-42"},
		CreatedAt:   time.Now(),
	}
	if err := jr.DispatchTask(task); err != nil {
		t.Fatalf("dispatch after crash: %v", err)
	}

	waitFor(t, func() bool {
		_, _, outputs, _ := store.snapshot()
		return outputs == 1
	}, "dispatched task did not finish")

	// Паника — не терминальное событие: счётчик упавшего task не
	// списан, поэтому завершение dispatched task не даёт DONE
	_, done, _, _ := store.snapshot()
	if done != 0 {
		t.Fatalf("crash must not count toward completion, got %d done marks", done)
	}
	if registry.Count() != 1 {
		t.Errorf("runner must stay live after worker crash, got %d", registry.Count())
	}

	jr.Stop()
	waitDone(t, jr)

	_, done, _, _ = store.snapshot()
	if done != 0 {
		t.Errorf("expected 0 done marks, got %d", done)
	}
	if job.Status != domain.JobStatusRunning {
		t.Errorf("expected job left RUNNING, got %s", job.Status)
	}
}

func TestJobRunner_QueuedEventsReportedOnTermination(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"data":"X","next_activities":[]}`))
	}))
	defer server.Close()

	entered := make(chan struct{})
	gate := make(chan struct{})
	store := &fakeStore{outputEntered: entered, outputGate: gate}
	registry := NewRegistry()
	job, process := newJobAndProcess(server.URL)

	jr, err := registry.StartJob(context.Background(), RunnerConfig{
		Job:     job,
		Process: process,
		Store:   store,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Runner застрял в persistence последнего task
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not reach SaveTaskOutput")
	}

	before := testutil.ToFloat64(telemetry.InvariantViolations)

	// Пока runner занят, в mailbox встают stop и чужое терминальное
	// событие. Оба останутся в очереди на момент завершения
	jr.Stop()
	jr.TaskSucceeded(&domain.Task{ID: uuid.New(), JobID: job.ID})

	close(gate)
	waitDone(t, jr)

	_, done, outputs, _ := store.snapshot()
	if done != 1 {
		t.Errorf("expected exactly 1 done mark, got %d", done)
	}
	// Отложенное терминальное событие не персистится
	if outputs != 1 {
		t.Errorf("expected 1 saved output, got %d", outputs)
	}

	// Отложенный stop — штатная гонка остановки с завершением,
	// отложенное терминальное событие — нарушение инварианта
	if delta := testutil.ToFloat64(telemetry.InvariantViolations) - before; delta != 1 {
		t.Errorf("expected exactly 1 reported violation, got %v", delta)
	}
}

func TestJobRunner_PersistenceFailureTerminatesWithoutDone(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"data":"X","next_activities":[]}`))
	}))
	defer server.Close()

	store := &fakeStore{failSaveOutput: errors.New("db is down")}
	registry := NewRegistry()
	job, process := newJobAndProcess(server.URL)

	jr, err := registry.StartJob(context.Background(), RunnerConfig{
		Job:     job,
		Process: process,
		Store:   store,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	waitDone(t, jr)

	// Авария persistence: runner завершился, job не помечен DONE
	_, done, _, _ := store.snapshot()
	if done != 0 {
		t.Errorf("expected 0 done marks, got %d", done)
	}
	if job.Status != domain.JobStatusRunning {
		t.Errorf("expected job left RUNNING, got %s", job.Status)
	}
}

func TestJobRunner_NoStartActivity(t *testing.T) {
	store := &fakeStore{}
	registry := NewRegistry()
	job, process := newJobAndProcess("http://activity.local/run")
	process.StartActivity = "missing"

	jr, err := registry.StartJob(context.Background(), RunnerConfig{
		Job:     job,
		Process: process,
		Store:   store,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	waitDone(t, jr)

	running, done, _, _ := store.snapshot()
	if running != 0 || done != 0 {
		t.Errorf("job without start activity must not touch persistence, got %d/%d", running, done)
	}
}

// --- Service Tests ---

func TestNew(t *testing.T) {
	svc := New(Config{})

	if svc.registry == nil {
		t.Error("registry should be initialized")
	}
	if svc.pollInterval != defaultPollInterval {
		t.Errorf("expected default poll interval %v, got %v", defaultPollInterval, svc.pollInterval)
	}
	if svc.batchSize != defaultBatchSize {
		t.Errorf("expected default batch size %d, got %d", defaultBatchSize, svc.batchSize)
	}
}

func TestNew_CustomConfig(t *testing.T) {
	svc := New(Config{
		PollInterval: 5 * time.Second,
		BatchSize:    50,
	})

	if svc.pollInterval != 5*time.Second {
		t.Errorf("expected poll interval 5s, got %v", svc.pollInterval)
	}
	if svc.batchSize != 50 {
		t.Errorf("expected batch size 50, got %d", svc.batchSize)
	}
}

func TestService_StartWithoutMQIsPollingOnly(t *testing.T) {
	svc := New(Config{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Без AMQP-соединения Start не падает и не создаёт consumers
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer svc.Stop()

	if svc.jobConsumer != nil || svc.stopConsumer != nil {
		t.Error("consumers must not be created without an MQ connection")
	}
}

func TestService_IsStopped(t *testing.T) {
	svc := New(Config{})

	if svc.IsStopped() {
		t.Error("should not be stopped initially")
	}

	svc.stoppedMu.Lock()
	svc.stopped = true
	svc.stoppedMu.Unlock()

	if !svc.IsStopped() {
		t.Error("should be stopped")
	}
}
