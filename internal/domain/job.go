package domain

import (
	"time"

	"github.com/google/uuid"
)

// Job — экземпляр выполнения процесса.
//
// Job создаётся когда:
// - Пользователь запускает процесс вручную (через API/CLI)
// - Scheduler создаёт job по расписанию
//
// Job принадлежит ровно одному Job Runner на время выполнения:
// по одному идентификатору существует не более одного живого runner'а,
// повторный запрос на запуск того же job — no-op.
type Job struct {
	// ID — уникальный идентификатор job. По нему выполняется
	// дедупликация запусков.
	ID uuid.UUID `json:"id"`

	// ProcessID — ссылка на процесс, который выполняется.
	ProcessID uuid.UUID `json:"process_id"`

	// Input — входные данные job. Неизменяемы после старта.
	Input JobInput `json:"input"`

	// Status — текущий статус выполнения.
	Status JobStatus `json:"status"`

	// StartedAt — время начала выполнения (когда статус стал RUNNING).
	// Nil, если job ещё не начался.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время завершения.
	// Nil, если job ещё выполняется.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// IdempotencyKey — ключ идемпотентности для предотвращения дубликатов.
	// Например, для scheduled jobs: "{schedule_id}_{next_due_at}"
	IdempotencyKey string `json:"idempotency_key,omitempty"`

	// CreatedAt — время создания job.
	CreatedAt time.Time `json:"created_at"`
}

// JobInput — данные, переданные job при создании.
type JobInput struct {
	// Key — бизнес-ключ запуска (например, ID заказа).
	Key string `json:"key"`

	// Data — полезная нагрузка запуска.
	Data string `json:"data"`

	// Requestor — идентификатор инициатора запуска.
	Requestor string `json:"requestor"`
}

// Duration возвращает продолжительность выполнения.
// Возвращает 0, если job ещё не завершён.
func (j *Job) Duration() time.Duration {
	if j.StartedAt == nil || j.FinishedAt == nil {
		return 0
	}
	return j.FinishedAt.Sub(*j.StartedAt)
}

// IsFinished возвращает true, если job завершён (в любом статусе).
func (j *Job) IsFinished() bool {
	return j.Status.IsTerminal()
}

// MarkRunning переводит job в статус RUNNING.
func (j *Job) MarkRunning() {
	now := time.Now()
	j.Status = JobStatusRunning
	j.StartedAt = &now
}

// MarkDone переводит job в статус DONE.
func (j *Job) MarkDone() {
	now := time.Now()
	j.Status = JobStatusDone
	j.FinishedAt = &now
}

// MarkStopped переводит job в статус STOPPED.
func (j *Job) MarkStopped() {
	now := time.Now()
	j.Status = JobStatusStopped
	j.FinishedAt = &now
}
