package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Conveyor/internal/domain"
)

// RunnerStore — persistence-коллаборатор Job Runner'а.
//
// Объединяет JobRepo и TaskRepo в интерфейс runner.Store:
// runner не знает о pgx и работает только с этими четырьмя вызовами.
// Все операции идемпотентны с точки зрения runner'а.
type RunnerStore struct {
	jobs  *JobRepo
	tasks *TaskRepo
}

// NewRunnerStore создаёт RunnerStore поверх пула соединений.
func NewRunnerStore(pool *pgxpool.Pool) *RunnerStore {
	return &RunnerStore{
		jobs:  NewJobRepo(pool),
		tasks: NewTaskRepo(pool),
	}
}

// MarkJobRunning переводит job в RUNNING и сохраняет в БД.
func (s *RunnerStore) MarkJobRunning(ctx context.Context, job *domain.Job) error {
	job.MarkRunning()
	return s.jobs.Update(ctx, job)
}

// MarkJobDone переводит job в DONE и сохраняет в БД.
func (s *RunnerStore) MarkJobDone(ctx context.Context, job *domain.Job) error {
	job.MarkDone()
	return s.jobs.Update(ctx, job)
}

// SaveTaskOutput сохраняет успешный результат task.
// Task создаётся при первом сохранении, если его ещё нет в БД.
func (s *RunnerStore) SaveTaskOutput(ctx context.Context, task *domain.Task) error {
	return s.saveTask(ctx, task)
}

// SaveTaskError сохраняет ошибочный результат task.
func (s *RunnerStore) SaveTaskError(ctx context.Context, task *domain.Task) error {
	return s.saveTask(ctx, task)
}

func (s *RunnerStore) saveTask(ctx context.Context, task *domain.Task) error {
	err := s.tasks.SaveResult(ctx, task)
	if errors.Is(err, ErrNotFound) {
		// Task ещё не создан (runner диспетчеризовал его только в памяти)
		if err := s.tasks.Create(ctx, task); err != nil {
			return err
		}
		return s.tasks.SaveResult(ctx, task)
	}
	return err
}
