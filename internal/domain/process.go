package domain

import (
	"time"

	"github.com/google/uuid"
)

// Process — определение процесса.
//
// Process — это "рецепт" выполнения: набор activities и указание,
// с какой из них начинать. Каждый запуск процесса — отдельный Job.
type Process struct {
	// ID — уникальный идентификатор процесса.
	ID uuid.UUID `json:"id"`

	// Name — уникальное имя процесса (например, "sync-orders").
	Name string `json:"name"`

	// StartActivity — ID activity, с которой начинается выполнение.
	StartActivity string `json:"start_activity"`

	// Activities — все activities процесса.
	Activities []Activity `json:"activities"`

	// IsActive — флаг активности. Неактивные процессы не запускаются
	// по расписанию.
	IsActive bool `json:"is_active"`

	// CreatedAt — время создания процесса.
	CreatedAt time.Time `json:"created_at"`
}

// Activity — именованный шаг процесса, вызываемый по HTTP.
type Activity struct {
	// ID — уникальный идентификатор activity в рамках процесса.
	ID string `json:"id"`

	// Name — человекочитаемое имя.
	Name string `json:"name,omitempty"`

	// URL — адрес HTTP-endpoint'а, выполняющего activity.
	// Task Worker делает на него единственный POST.
	URL string `json:"url"`
}

// FindActivity ищет activity по ID. Возвращает nil, если не найдена.
func (p *Process) FindActivity(id string) *Activity {
	for i := range p.Activities {
		if p.Activities[i].ID == id {
			return &p.Activities[i]
		}
	}
	return nil
}

// Start возвращает стартовую activity процесса.
// Возвращает nil, если StartActivity не указана или не найдена.
func (p *Process) Start() *Activity {
	return p.FindActivity(p.StartActivity)
}
