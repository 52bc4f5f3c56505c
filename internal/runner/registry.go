package runner

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Registry — реестр живых Job Runner'ов.
//
// Гарантирует инвариант дедупликации: по одному ID job существует
// не более одного живого runner'а. Вставка create-if-absent атомарна,
// удаление выполняет сам runner при завершении.
type Registry struct {
	mu      sync.Mutex
	runners map[uuid.UUID]*JobRunner
}

// NewRegistry создаёт пустой Registry.
func NewRegistry() *Registry {
	return &Registry{
		runners: make(map[uuid.UUID]*JobRunner),
	}
}

// StartJob создаёт и запускает JobRunner для job.
//
// Если runner для этого ID уже жив — возвращает ErrJobAlreadyRunning.
// Вызывающий код обязан трактовать это как успех: повторный запрос
// на запуск того же job — no-op, а не дубликат выполнения.
func (r *Registry) StartJob(ctx context.Context, cfg RunnerConfig) (*JobRunner, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.runners[cfg.Job.ID]; exists {
		return nil, ErrJobAlreadyRunning
	}

	jr := newJobRunner(cfg, r.remove)
	r.runners[cfg.Job.ID] = jr

	go jr.run(ctx)

	return jr, nil
}

// Get возвращает живой runner для job, если он есть.
func (r *Registry) Get(jobID uuid.UUID) (*JobRunner, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	jr, ok := r.runners[jobID]
	return jr, ok
}

// Count возвращает количество живых runner'ов.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runners)
}

// StopAll запрашивает остановку всех живых runner'ов.
// Используется при shutdown сервиса.
func (r *Registry) StopAll() {
	r.mu.Lock()
	runners := make([]*JobRunner, 0, len(r.runners))
	for _, jr := range r.runners {
		runners = append(runners, jr)
	}
	r.mu.Unlock()

	// Stop вне блокировки: runner при завершении вызовет remove.
	for _, jr := range runners {
		jr.Stop()
	}
}

// remove удаляет runner из реестра. Вызывается самим runner'ом
// при завершении (onTerminate).
func (r *Registry) remove(jobID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.runners, jobID)
}
