package api

import (
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Conveyor/internal/domain"
)

// Process DTOs

// ActivityDTO — activity в запросах и ответах.
type ActivityDTO struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	URL  string `json:"url"`
}

// CreateProcessRequest — запрос на создание процесса.
type CreateProcessRequest struct {
	Name          string        `json:"name"`
	StartActivity string        `json:"start_activity"`
	Activities    []ActivityDTO `json:"activities"`
	IsActive      bool          `json:"is_active"`
}

// UpdateProcessRequest — запрос на обновление процесса.
type UpdateProcessRequest struct {
	Name          *string        `json:"name,omitempty"`
	StartActivity *string        `json:"start_activity,omitempty"`
	Activities    *[]ActivityDTO `json:"activities,omitempty"`
	IsActive      *bool          `json:"is_active,omitempty"`
}

// ProcessResponse — ответ с процессом.
type ProcessResponse struct {
	ID            uuid.UUID     `json:"id"`
	Name          string        `json:"name"`
	StartActivity string        `json:"start_activity"`
	Activities    []ActivityDTO `json:"activities"`
	IsActive      bool          `json:"is_active"`
	CreatedAt     time.Time     `json:"created_at"`
}

// ProcessFromDomain конвертирует domain.Process в ProcessResponse.
func ProcessFromDomain(p domain.Process) ProcessResponse {
	activities := make([]ActivityDTO, len(p.Activities))
	for i, a := range p.Activities {
		activities[i] = ActivityDTO{ID: a.ID, Name: a.Name, URL: a.URL}
	}
	return ProcessResponse{
		ID:            p.ID,
		Name:          p.Name,
		StartActivity: p.StartActivity,
		Activities:    activities,
		IsActive:      p.IsActive,
		CreatedAt:     p.CreatedAt,
	}
}

// activitiesToDomain конвертирует DTO activities в domain.
func activitiesToDomain(dtos []ActivityDTO) []domain.Activity {
	activities := make([]domain.Activity, len(dtos))
	for i, a := range dtos {
		activities[i] = domain.Activity{ID: a.ID, Name: a.Name, URL: a.URL}
	}
	return activities
}

// Job DTOs

// JobInputDTO — входные данные job.
type JobInputDTO struct {
	Key       string `json:"key"`
	Data      string `json:"data"`
	Requestor string `json:"requestor"`
}

// SubmitJobRequest — запрос на запуск job.
type SubmitJobRequest struct {
	Input          JobInputDTO `json:"input"`
	IdempotencyKey string      `json:"idempotency_key,omitempty"`
}

// JobResponse — ответ с job.
type JobResponse struct {
	ID             uuid.UUID   `json:"id"`
	ProcessID      uuid.UUID   `json:"process_id"`
	Input          JobInputDTO `json:"input"`
	Status         string      `json:"status"`
	StartedAt      *time.Time  `json:"started_at,omitempty"`
	FinishedAt     *time.Time  `json:"finished_at,omitempty"`
	IdempotencyKey string      `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}

// JobFromDomain конвертирует domain.Job в JobResponse.
func JobFromDomain(j domain.Job) JobResponse {
	return JobResponse{
		ID:        j.ID,
		ProcessID: j.ProcessID,
		Input: JobInputDTO{
			Key:       j.Input.Key,
			Data:      j.Input.Data,
			Requestor: j.Input.Requestor,
		},
		Status:         string(j.Status),
		StartedAt:      j.StartedAt,
		FinishedAt:     j.FinishedAt,
		IdempotencyKey: j.IdempotencyKey,
		CreatedAt:      j.CreatedAt,
	}
}

// Task DTOs

// TaskResponse — ответ с task.
type TaskResponse struct {
	ID             uuid.UUID  `json:"id"`
	JobID          uuid.UUID  `json:"job_id"`
	ActivityID     string     `json:"activity_id"`
	ActivityURL    string     `json:"activity_url"`
	Data           string     `json:"data,omitempty"`
	NextActivities []string   `json:"next_activities,omitempty"`
	Failed         bool       `json:"failed"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// TaskFromDomain конвертирует domain.Task в TaskResponse.
func TaskFromDomain(t domain.Task) TaskResponse {
	return TaskResponse{
		ID:             t.ID,
		JobID:          t.JobID,
		ActivityID:     t.ActivityID,
		ActivityURL:    t.ActivityURL,
		Data:           t.Output.Data,
		NextActivities: t.Output.NextActivities,
		Failed:         t.Failed,
		StartedAt:      t.StartedAt,
		FinishedAt:     t.FinishedAt,
		CreatedAt:      t.CreatedAt,
	}
}

// Schedule DTOs

// CreateScheduleRequest — запрос на создание schedule.
type CreateScheduleRequest struct {
	Name        string      `json:"name"`
	CronExpr    string      `json:"cron_expr,omitempty"`
	IntervalSec int         `json:"interval_sec,omitempty"`
	Timezone    string      `json:"timezone,omitempty"`
	Enabled     bool        `json:"enabled"`
	Input       JobInputDTO `json:"input"`
}

// UpdateScheduleRequest — запрос на обновление schedule.
type UpdateScheduleRequest struct {
	Name        *string      `json:"name,omitempty"`
	CronExpr    *string      `json:"cron_expr,omitempty"`
	IntervalSec *int         `json:"interval_sec,omitempty"`
	Timezone    *string      `json:"timezone,omitempty"`
	Input       *JobInputDTO `json:"input,omitempty"`
}

// SetEnabledRequest — запрос на включение/выключение.
type SetEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

// ScheduleResponse — ответ с schedule.
type ScheduleResponse struct {
	ID          uuid.UUID   `json:"id"`
	ProcessID   uuid.UUID   `json:"process_id"`
	Name        string      `json:"name"`
	CronExpr    string      `json:"cron_expr,omitempty"`
	IntervalSec int         `json:"interval_sec,omitempty"`
	Timezone    string      `json:"timezone"`
	Enabled     bool        `json:"enabled"`
	NextDueAt   *time.Time  `json:"next_due_at,omitempty"`
	LastJobAt   *time.Time  `json:"last_job_at,omitempty"`
	LastJobID   *uuid.UUID  `json:"last_job_id,omitempty"`
	Input       JobInputDTO `json:"input"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// ScheduleFromDomain конвертирует domain.Schedule в ScheduleResponse.
func ScheduleFromDomain(s *domain.Schedule) ScheduleResponse {
	if s == nil {
		return ScheduleResponse{}
	}
	return ScheduleResponse{
		ID:          s.ID,
		ProcessID:   s.ProcessID,
		Name:        s.Name,
		CronExpr:    s.CronExpr,
		IntervalSec: s.IntervalSec,
		Timezone:    s.Timezone,
		Enabled:     s.Enabled,
		NextDueAt:   s.NextDueAt,
		LastJobAt:   s.LastJobAt,
		LastJobID:   s.LastJobID,
		Input: JobInputDTO{
			Key:       s.Input.Key,
			Data:      s.Input.Data,
			Requestor: s.Input.Requestor,
		},
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

// parseIntOr парсит строку в int с дефолтным значением.
func parseIntOr(s string, defaultVal int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return n
}
