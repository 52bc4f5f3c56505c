package runner

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/repo"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

// handleJobSubmitted обрабатывает событие о новом job.
func (s *Service) handleJobSubmitted(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.JobSubmittedPayload](&delivery.Message)
	if err != nil {
		s.logger.Error("failed to parse job.submitted payload", "error", err)
		return err
	}

	s.logger.Debug("received job.submitted event", "job_id", payload.JobID)

	if err := s.processJob(ctx, payload.JobID); err != nil {
		// Дубликат запуска и не-PENDING статусы — не ошибки:
		// событие могло прийти повторно или job уже подхвачен polling'ом.
		if errors.Is(err, ErrJobAlreadyRunning) || errors.Is(err, ErrJobNotPending) {
			s.logger.Debug("job not started", "job_id", payload.JobID, "reason", err)
			return nil
		}
		s.logger.Error("failed to process job", "job_id", payload.JobID, "error", err)
		return err
	}

	return nil
}

// handleJobStop обрабатывает команду административной остановки job.
func (s *Service) handleJobStop(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.JobStopPayload](&delivery.Message)
	if err != nil {
		s.logger.Error("failed to parse job.stop payload", "error", err)
		return err
	}

	s.logger.Debug("received job.stop event", "job_id", payload.JobID)

	if err := s.stopJob(ctx, payload.JobID); err != nil {
		s.logger.Error("failed to stop job", "job_id", payload.JobID, "error", err)
		return err
	}

	return nil
}

// processJob запускает выполнение job.
//
// Повторный запрос для того же job — no-op: Registry вернёт
// ErrJobAlreadyRunning, и вызывающий код трактует это как успех.
func (s *Service) processJob(ctx context.Context, jobID uuid.UUID) error {
	// 1. Загружаем job из БД
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
		}
		return fmt.Errorf("get job: %w", err)
	}

	// 2. Проверяем статус
	if job.Status != domain.JobStatusPending {
		return ErrJobNotPending
	}

	// 3. Загружаем определение процесса
	process, err := s.processes.GetByID(ctx, job.ProcessID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return s.rejectJob(ctx, job, fmt.Errorf("%w: %s", ErrProcessNotFound, job.ProcessID))
		}
		return fmt.Errorf("get process: %w", err)
	}

	if process.Start() == nil {
		return s.rejectJob(ctx, job, ErrNoStartActivity)
	}

	// 4. Запускаем runner (create-if-absent по ID job)
	_, err = s.registry.StartJob(ctx, RunnerConfig{
		Job:     job,
		Process: process,
		Store:   s.store,
		Client:  s.client,
		Logger:  s.logger,
		OnDone: func(done *domain.Job, failedTasks int) {
			s.publishCompleted(done.ID, string(done.Status), failedTasks)
		},
	})
	if err != nil {
		return err
	}

	return nil
}

// rejectJob переводит невыполнимый job в STOPPED.
// Job без валидного процесса никогда не сможет выполниться:
// оставлять его PENDING значит бесконечно гонять через polling.
func (s *Service) rejectJob(ctx context.Context, job *domain.Job, cause error) error {
	job.MarkStopped()

	if err := s.jobs.Update(ctx, job); err != nil {
		return fmt.Errorf("update rejected job: %w", err)
	}

	s.logger.Warn("job rejected",
		"job_id", job.ID,
		"process_id", job.ProcessID,
		"reason", cause,
	)

	return fmt.Errorf("job rejected: %w", cause)
}

// stopJob административно останавливает job.
//
// Если runner жив — ему отправляется команда stop (детектор завершения
// при этом не срабатывает). Статус STOPPED персистится здесь, а не в
// runner'е: остановить можно и PENDING job, у которого runner'а нет.
func (s *Service) stopJob(ctx context.Context, jobID uuid.UUID) error {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
		}
		return fmt.Errorf("get job: %w", err)
	}

	// Уже завершённый job — no-op
	if job.IsFinished() {
		s.logger.Debug("job already finished, stop is a no-op",
			"job_id", jobID,
			"status", job.Status,
		)
		return nil
	}

	if jr, ok := s.registry.Get(jobID); ok {
		jr.Stop()
	}

	job.MarkStopped()
	if err := s.jobs.Update(ctx, job); err != nil {
		return fmt.Errorf("update stopped job: %w", err)
	}

	telemetry.JobsCompleted.WithLabelValues(string(domain.JobStatusStopped)).Inc()
	s.logger.Info("job stopped", "job_id", jobID)

	// Количество упавших tasks в completed-событии — best-effort
	var failedTasks int
	if s.tasks != nil {
		if n, err := s.tasks.CountByJobAndFailed(ctx, jobID, true); err == nil {
			failedTasks = n
		}
	}
	s.publishCompleted(jobID, string(domain.JobStatusStopped), failedTasks)

	return nil
}
