package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/repo"
)

// Scheduler — планировщик, обрабатывающий due schedules.
type Scheduler struct {
	scheduleRepo *repo.ScheduleRepo
	jobRepo      *repo.JobRepo
	processRepo  *repo.ProcessRepo
	publisher    *mq.Publisher
	logger       *slog.Logger
	batchSize    int
}

// Config — конфигурация Scheduler.
type Config struct {
	ScheduleRepo *repo.ScheduleRepo
	JobRepo      *repo.JobRepo
	ProcessRepo  *repo.ProcessRepo
	Publisher    *mq.Publisher
	Logger       *slog.Logger
	BatchSize    int // количество schedules за один тик (default: 100)
}

// New создаёт новый Scheduler.
func New(cfg Config) *Scheduler {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		scheduleRepo: cfg.ScheduleRepo,
		jobRepo:      cfg.JobRepo,
		processRepo:  cfg.ProcessRepo,
		publisher:    cfg.Publisher,
		logger:       logger,
		batchSize:    batchSize,
	}
}

// Tick выполняет один тик планировщика.
//
// 1. Находит due schedules (enabled=true, next_due_at <= now)
// 2. Для каждого schedule создаёт job
// 3. Обновляет next_due_at
// 4. Публикует job.submitted в RabbitMQ
//
// Ошибки одного schedule не блокируют обработку остальных.
func (s *Scheduler) Tick(ctx context.Context) error {
	now := time.Now()

	// 1. Находим due schedules
	schedules, err := s.scheduleRepo.ListDue(ctx, now, s.batchSize)
	if err != nil {
		return fmt.Errorf("list due schedules: %w", err)
	}

	if len(schedules) == 0 {
		return nil
	}

	s.logger.Debug("found due schedules", "count", len(schedules))

	// 2. Обрабатываем каждый schedule
	var processed, created int
	for i := range schedules {
		sched := &schedules[i]

		jobCreated, err := s.processSchedule(ctx, sched, now)
		if err != nil {
			s.logger.Error("failed to process schedule",
				"schedule_id", sched.ID,
				"schedule_name", sched.Name,
				"error", err,
			)
			// Продолжаем обработку остальных
			continue
		}

		processed++
		if jobCreated {
			created++
		}
	}

	s.logger.Info("scheduler tick completed",
		"due", len(schedules),
		"processed", processed,
		"jobs_created", created,
	)

	return nil
}

// processSchedule обрабатывает один schedule.
// Возвращает true, если job был создан (не был дубликатом).
func (s *Scheduler) processSchedule(ctx context.Context, sched *domain.Schedule, now time.Time) (bool, error) {
	// 1. Проверяем, что процесс существует и активен
	process, err := s.processRepo.GetByID(ctx, sched.ProcessID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			s.logger.Warn("process not found for schedule, skipping",
				"schedule_id", sched.ID,
				"process_id", sched.ProcessID,
			)
			// Не возвращаем ошибку — просто пропускаем
			return false, nil
		}
		return false, fmt.Errorf("get process: %w", err)
	}

	if !process.IsActive {
		s.logger.Debug("process is inactive, skipping schedule",
			"schedule_id", sched.ID,
			"process_id", process.ID,
		)
		return false, nil
	}

	// 2. Формируем idempotency key: "{schedule_id}_{next_due_at_unix}"
	// Это гарантирует, что для одного schedule и конкретного времени
	// будет создан только один job
	idempKey := fmt.Sprintf("%s_%d", sched.ID, sched.NextDueAt.Unix())

	// 3. Проверяем, не создан ли уже job (idempotency)
	existingJob, err := s.jobRepo.GetByIdempotencyKey(ctx, sched.ProcessID, idempKey)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return false, fmt.Errorf("check idempotency: %w", err)
	}

	var jobCreated bool
	var jobID uuid.UUID

	if existingJob != nil {
		// Job уже существует — просто обновляем next_due_at
		s.logger.Debug("job already exists (idempotency)",
			"schedule_id", sched.ID,
			"job_id", existingJob.ID,
			"idempotency_key", idempKey,
		)
		jobID = existingJob.ID
		jobCreated = false
	} else {
		// 4. Создаём новый job
		job := &domain.Job{
			ID:             uuid.New(),
			ProcessID:      sched.ProcessID,
			Input:          sched.Input,
			Status:         domain.JobStatusPending,
			IdempotencyKey: idempKey,
			CreatedAt:      now,
		}

		if err := s.jobRepo.Create(ctx, job); err != nil {
			return false, fmt.Errorf("create job: %w", err)
		}

		s.logger.Info("created job from schedule",
			"job_id", job.ID,
			"schedule_id", sched.ID,
			"schedule_name", sched.Name,
			"process_id", sched.ProcessID,
		)

		jobID = job.ID
		jobCreated = true
	}

	// 5. Вычисляем следующее время выполнения
	nextDue, err := CalculateNextDue(sched, now)
	if err != nil {
		s.logger.Error("failed to calculate next due, leaving schedule as is",
			"schedule_id", sched.ID,
			"error", err,
		)
		// Schedule некорректный — лучше не трогать next_due_at
		return jobCreated, nil
	}

	// 6. Обновляем schedule
	sched.RecordJob(jobID, nextDue)
	if err := s.scheduleRepo.Update(ctx, sched); err != nil {
		return jobCreated, fmt.Errorf("update schedule: %w", err)
	}

	// 7. Публикуем событие в RabbitMQ (если publisher настроен и job создан)
	if s.publisher != nil && jobCreated {
		if err := s.publisher.PublishJobSubmitted(ctx, jobID); err != nil {
			// Не фатальная ошибка — job уже создан в БД
			// Runner может забрать его через polling
			s.logger.Warn("failed to publish job.submitted",
				"job_id", jobID,
				"error", err,
			)
		}
	}

	return jobCreated, nil
}
