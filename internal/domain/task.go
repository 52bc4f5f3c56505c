package domain

import (
	"time"

	"github.com/google/uuid"
)

// Task — одно конкретное выполнение activity внутри job.
//
// Task создаётся Job Runner'ом при диспетчеризации activity
// и мутируется ровно один раз — Task Worker'ом, который прикрепляет
// результат или ошибку. После эмита терминального события task
// больше не изменяется.
type Task struct {
	// ID — уникальный идентификатор task.
	ID uuid.UUID `json:"id"`

	// JobID — обратная ссылка на job (не владение).
	JobID uuid.UUID `json:"job_id"`

	// ActivityID — ID activity из определения процесса.
	ActivityID string `json:"activity_id"`

	// ActivityURL — URL, на который Task Worker делает POST.
	ActivityURL string `json:"activity_url"`

	// Input — входные данные task.
	Input TaskInput `json:"input"`

	// Output — результат выполнения. Заполняется worker'ом ровно
	// один раз при завершении (успех или ошибка).
	Output TaskOutput `json:"output"`

	// Failed — true, если task завершился ошибкой
	// (non-200 ответ или транспортный сбой).
	Failed bool `json:"failed"`

	// StartedAt — время начала выполнения.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время завершения.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// CreatedAt — время создания task.
	CreatedAt time.Time `json:"created_at"`
}

// TaskInput — входные данные task, отправляемые activity по HTTP.
type TaskInput struct {
	// Key — бизнес-ключ (наследуется от job).
	Key string `json:"key"`

	// Data — полезная нагрузка.
	Data string `json:"data"`

	// Requestor — инициатор.
	Requestor string `json:"requestor"`
}

// TaskOutput — результат завершённого task.
type TaskOutput struct {
	// Data — результат activity. При ошибке — диагностический payload
	// (тело non-200 ответа или фиксированный sentinel).
	Data string `json:"data"`

	// NextActivities — ID activities, которые activity назвала
	// следующими. Заполняется только при успехе. Диспетчеризация
	// следующих activities — ответственность внешнего слоя,
	// не ядра runner'а.
	NextActivities []string `json:"next_activities,omitempty"`
}

// Duration возвращает продолжительность выполнения.
func (t *Task) Duration() time.Duration {
	if t.StartedAt == nil || t.FinishedAt == nil {
		return 0
	}
	return t.FinishedAt.Sub(*t.StartedAt)
}

// IsFinished возвращает true, если task завершён.
func (t *Task) IsFinished() bool {
	return t.FinishedAt != nil
}

// MarkStarted фиксирует время начала выполнения.
func (t *Task) MarkStarted() {
	now := time.Now()
	t.StartedAt = &now
}

// AttachOutput прикрепляет успешный результат и завершает task.
func (t *Task) AttachOutput(data string, nextActivities []string) {
	now := time.Now()
	t.Output = TaskOutput{Data: data, NextActivities: nextActivities}
	t.Failed = false
	t.FinishedAt = &now
}

// AttachFailure прикрепляет диагностический payload ошибки и завершает task.
func (t *Task) AttachFailure(payload string) {
	now := time.Now()
	t.Output = TaskOutput{Data: payload}
	t.Failed = true
	t.FinishedAt = &now
}
