package runner

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

// defaultMailboxSize — размер буфера mailbox.
// Достаточен для fan-out: события worker'ов не блокируются.
const defaultMailboxSize = 64

// Store — persistence-коллаборатор runner'а.
//
// Runner считает все вызовы долговечными и идемпотентными.
// Ошибка любого вызова фатальна для runner'а: он завершает работу,
// не помечая job как DONE (см. обработку в handleTerminal).
type Store interface {
	// MarkJobRunning переводит job в RUNNING.
	MarkJobRunning(ctx context.Context, job *domain.Job) error

	// MarkJobDone переводит job в DONE.
	MarkJobDone(ctx context.Context, job *domain.Job) error

	// SaveTaskOutput сохраняет успешный результат task.
	SaveTaskOutput(ctx context.Context, task *domain.Task) error

	// SaveTaskError сохраняет ошибочный результат task.
	SaveTaskError(ctx context.Context, task *domain.Task) error
}

// JobRunner — актор, выполняющий ровно один job.
//
// Жизненный цикл:
//
//	Idle → Running → Terminated
//
// Создаётся через Registry.StartJob (один живой runner на ID job).
// Всё состояние (job, счётчик in-flight) мутируется только горутиной
// run(): события обрабатываются строго по одному, поэтому счётчик
// свободен от гонок без единого мьютекса.
//
// Terminated достигается тремя путями:
//   - счётчик вернулся к нулю → job помечен DONE (штатный путь)
//   - административный Stop → без пометки DONE
//   - ошибка persistence → без пометки DONE (авария)
type JobRunner struct {
	job     *domain.Job
	process *domain.Process
	store   Store
	worker  *Worker
	logger  *slog.Logger

	mailbox chan event
	done    chan struct{}

	// inFlight — счётчик незавершённых tasks.
	// Читается и пишется только горутиной run().
	inFlight int

	// failedTasks — количество упавших tasks. Для итогового события.
	failedTasks int

	// onTerminate — дерегистрация в Registry.
	onTerminate func(jobID uuid.UUID)

	// onDone — вызывается после успешной пометки DONE.
	onDone func(job *domain.Job, failedTasks int)
}

// RunnerConfig — конфигурация JobRunner.
type RunnerConfig struct {
	// Job — выполняемый job. Обязателен.
	Job *domain.Job

	// Process — определение процесса job'а. Обязателен.
	Process *domain.Process

	// Store — persistence-коллаборатор. Обязателен.
	Store Store

	// Client — HTTP-транспорт worker'ов (default: http.Client).
	Client Doer

	// Logger (default: slog.Default).
	Logger *slog.Logger

	// OnDone — опциональный callback после пометки job DONE.
	OnDone func(job *domain.Job, failedTasks int)
}

// newJobRunner создаёт runner. Запуск — через Registry.StartJob.
func newJobRunner(cfg RunnerConfig, onTerminate func(uuid.UUID)) *JobRunner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = telemetry.WithJobID(logger, cfg.Job.ID.String())

	return &JobRunner{
		job:         cfg.Job,
		process:     cfg.Process,
		store:       cfg.Store,
		worker:      NewWorker(cfg.Client, logger),
		logger:      logger,
		mailbox:     make(chan event, defaultMailboxSize),
		done:        make(chan struct{}),
		onTerminate: onTerminate,
		onDone:      cfg.OnDone,
	}
}

// JobID возвращает ID выполняемого job.
func (r *JobRunner) JobID() uuid.UUID {
	return r.job.ID
}

// Done возвращает канал, закрываемый при завершении runner'а.
func (r *JobRunner) Done() <-chan struct{} {
	return r.done
}

// Stop запрашивает административную остановку job.
// Остановка минует детектор завершения: job не помечается DONE.
// Уже запущенные worker'ы не отменяются; их поздние события
// будут отброшены с логом о нарушении инварианта.
func (r *JobRunner) Stop() {
	r.deliver(event{kind: evStop})
}

// DispatchTask ставит дополнительный task в выполнение (fan-out).
// Счётчик in-flight увеличится в шаге обработки события.
func (r *JobRunner) DispatchTask(task *domain.Task) error {
	return r.deliver(event{kind: evTaskStarted, task: task})
}

// TaskSucceeded реализует EventSink.
func (r *JobRunner) TaskSucceeded(task *domain.Task) {
	r.deliver(event{kind: evTaskSucceeded, task: task})
}

// TaskFailed реализует EventSink.
func (r *JobRunner) TaskFailed(task *domain.Task) {
	r.deliver(event{kind: evTaskFailed, task: task})
}

// WorkerCrashed реализует EventSink.
func (r *JobRunner) WorkerCrashed(task *domain.Task, cause any) {
	r.deliver(event{kind: evWorkerCrashed, task: task, cause: cause})
}

// deliver кладёт событие в mailbox.
//
// Событие, пришедшее после завершения runner'а — нарушение инварианта:
// оно означает дубликат доставки либо worker'а, пережившего
// административную остановку. Такое событие отбрасывается с громким
// логом, job не трогается.
func (r *JobRunner) deliver(ev event) error {
	select {
	case <-r.done:
		r.reportStaleEvent(ev)
		return ErrRunnerTerminated
	default:
	}

	select {
	case r.mailbox <- ev:
		return nil
	case <-r.done:
		r.reportStaleEvent(ev)
		return ErrRunnerTerminated
	}
}

// reportStaleEvent громко логирует событие после завершения.
// Stop после завершения — не нарушение: остановка штатно гоняется
// с завершением последнего task.
func (r *JobRunner) reportStaleEvent(ev event) {
	if ev.kind == evStop {
		r.logger.Debug("stop requested for already terminated runner")
		return
	}

	telemetry.InvariantViolations.Inc()
	r.logger.Error("invariant violation: event delivered after runner terminated",
		"event", ev.kind.String(),
	)
}

// drainMailbox отбрасывает события, оставшиеся в mailbox к моменту
// завершения. Для отчётности они неотличимы от событий, пришедших
// после закрытия done: каждое уходит в reportStaleEvent.
func (r *JobRunner) drainMailbox() {
	for {
		select {
		case ev := <-r.mailbox:
			r.reportStaleEvent(ev)
		default:
			return
		}
	}
}

// run — главный цикл актора. Работает в собственной горутине.
func (r *JobRunner) run(ctx context.Context) {
	telemetry.JobsRunning.Inc()
	defer func() {
		close(r.done)
		r.drainMailbox()
		r.onTerminate(r.job.ID)
		telemetry.JobsRunning.Dec()
	}()

	if err := r.runJob(ctx); err != nil {
		r.logger.Error("failed to start job", "error", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("runner context cancelled",
				"in_flight", r.inFlight,
			)
			return

		case ev := <-r.mailbox:
			if terminated := r.handle(ctx, ev); terminated {
				return
			}
		}
	}
}

// runJob переводит runner из Idle в Running.
//
// Порядок шагов фиксирован:
//  1. persist: job → RUNNING
//  2. построить стартовый task из start activity процесса
//  3. счётчик in-flight = 1
//  4. запустить worker
func (r *JobRunner) runJob(ctx context.Context) error {
	start := r.process.Start()
	if start == nil {
		return ErrNoStartActivity
	}

	if err := r.store.MarkJobRunning(ctx, r.job); err != nil {
		return err
	}

	task := r.buildTask(start)

	telemetry.JobsStarted.Inc()
	r.logger.Info("job started",
		"process_id", r.process.ID,
		"start_activity", start.ID,
		"task_id", task.ID,
	)

	r.inFlight = 1
	r.spawnWorker(ctx, task)

	return nil
}

// buildTask собирает task для activity из input job'а.
// Input job'а неизменяем: каждый task получает копию.
func (r *JobRunner) buildTask(activity *domain.Activity) *domain.Task {
	return &domain.Task{
		ID:          uuid.New(),
		JobID:       r.job.ID,
		ActivityID:  activity.ID,
		ActivityURL: activity.URL,
		Input: domain.TaskInput{
			Key:       r.job.Input.Key,
			Data:      r.job.Input.Data,
			Requestor: r.job.Input.Requestor,
		},
		CreatedAt: time.Now(),
	}
}

// spawnWorker запускает worker в отдельной горутине.
// Worker изолирован: его паника превращается в событие workerCrashed
// и не роняет runner.
func (r *JobRunner) spawnWorker(ctx context.Context, task *domain.Task) {
	telemetry.TasksInFlight.Inc()
	go r.worker.Run(ctx, task, r)
}

// handle обрабатывает одно событие из mailbox.
// Возвращает true, если runner должен завершиться.
func (r *JobRunner) handle(ctx context.Context, ev event) bool {
	switch ev.kind {
	case evTaskStarted:
		r.inFlight++
		r.logger.Debug("task dispatched",
			"task_id", ev.task.ID,
			"activity_id", ev.task.ActivityID,
			"in_flight", r.inFlight,
		)
		r.spawnWorker(ctx, ev.task)
		return false

	case evTaskSucceeded:
		return r.handleTerminal(ctx, ev.task, false)

	case evTaskFailed:
		r.failedTasks++
		return r.handleTerminal(ctx, ev.task, true)

	case evWorkerCrashed:
		// Worker умер без терминального события. Счётчик не трогаем:
		// детектор завершения работает только по терминальным
		// событиям. Job может навсегда остаться RUNNING — это
		// видно по логу и метрике in-flight.
		r.logger.Error("worker crashed without terminal event",
			"task_id", ev.task.ID,
			"panic", ev.cause,
			"in_flight", r.inFlight,
		)
		return false

	case evStop:
		r.logger.Info("job stopped administratively",
			"in_flight", r.inFlight,
		)
		return true

	default:
		r.logger.Error("unknown event kind", "kind", int(ev.kind))
		return false
	}
}

// handleTerminal обрабатывает терминальное событие task.
//
// Инвариант порядка: результат task сохраняется ДО изменения счётчика.
// Ошибка persistence фатальна: runner завершает работу, не помечая
// job как DONE, и оставляет след в логе. Последнее состояние счётчика
// при этом теряется (job остаётся RUNNING в БД).
func (r *JobRunner) handleTerminal(ctx context.Context, task *domain.Task, failed bool) bool {
	telemetry.TasksInFlight.Dec()

	var err error
	if failed {
		err = r.store.SaveTaskError(ctx, task)
	} else {
		err = r.store.SaveTaskOutput(ctx, task)
	}
	if err != nil {
		r.logger.Error("persistence failure, terminating runner",
			"task_id", task.ID,
			"failed", failed,
			"error", err,
		)
		return true
	}

	r.logger.Debug("task finished",
		"task_id", task.ID,
		"activity_id", task.ActivityID,
		"failed", failed,
		"duration", task.Duration(),
	)

	return r.detectCompletion(ctx)
}

// detectCompletion — детектор завершения job.
//
// Выполняется один раз на каждое терминальное событие, строго после
// сохранения результата task:
//   - n == 1: последний task → job DONE, счётчик 0, runner завершается
//   - n >  1: декремент, продолжаем
//   - n == 0: не должно случаться — событие пришло после завершения
//     job. Фатальное нарушение внутреннего состояния.
func (r *JobRunner) detectCompletion(ctx context.Context) bool {
	switch {
	case r.inFlight == 1:
		if err := r.store.MarkJobDone(ctx, r.job); err != nil {
			r.logger.Error("failed to mark job done, terminating runner",
				"error", err,
			)
			return true
		}
		r.inFlight = 0

		telemetry.JobsCompleted.WithLabelValues(string(domain.JobStatusDone)).Inc()
		r.logger.Info("job done",
			"failed_tasks", r.failedTasks,
			"duration", r.job.Duration(),
		)

		if r.onDone != nil {
			r.onDone(r.job, r.failedTasks)
		}
		return true

	case r.inFlight > 1:
		r.inFlight--
		return false

	default:
		// Счётчик уже ноль, а терминальное событие пришло —
		// job завершён дважды? Баг в протоколе событий.
		telemetry.InvariantViolations.Inc()
		r.logger.Error("invariant violation: terminal event with zero in-flight counter")
		return true
	}
}
