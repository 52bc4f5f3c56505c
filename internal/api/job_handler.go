package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/repo"
)

// ListJobs возвращает список jobs с фильтрацией.
// GET /api/v1/jobs?process_id=...&status=...&limit=...&offset=...
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	filter := repo.JobFilter{}

	// Парсим query параметры
	if processIDStr := r.URL.Query().Get("process_id"); processIDStr != "" {
		processID, err := uuid.Parse(processIDStr)
		if err != nil {
			BadRequest(w, "invalid process_id")
			return
		}
		filter.ProcessID = &processID
	}

	if status := r.URL.Query().Get("status"); status != "" {
		filter.Status = domain.JobStatus(status)
	}

	filter.Limit = parseIntOr(r.URL.Query().Get("limit"), 50)
	filter.Offset = parseIntOr(r.URL.Query().Get("offset"), 0)

	jobs, err := h.jobRepo.List(r.Context(), filter)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]JobResponse, len(jobs))
	for i, job := range jobs {
		result[i] = JobFromDomain(job)
	}

	List(w, result, len(result))
}

// SubmitJob создаёт новый job для процесса и отдаёт его Runner service.
// POST /api/v1/processes/{id}/jobs
//
// Ответ подтверждает только приём запроса: выполнение асинхронно,
// результат наблюдается через GET /api/v1/jobs/{id}.
func (h *Handler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	processID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid process id")
		return
	}

	var req SubmitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	// Проверяем, что процесс существует
	process, err := h.processRepo.GetByID(r.Context(), processID)
	if HandleRepoError(w, h.logger, err, "process not found") {
		return
	}

	if process.Start() == nil {
		InvalidState(w, "process has no start activity")
		return
	}

	// Проверяем idempotency key: повторный submit возвращает
	// существующий job, а не создаёт дубликат
	if req.IdempotencyKey != "" {
		existing, err := h.jobRepo.GetByIdempotencyKey(r.Context(), processID, req.IdempotencyKey)
		if err == nil && existing != nil {
			Success(w, JobFromDomain(*existing))
			return
		}
	}

	job := &domain.Job{
		ID:        uuid.New(),
		ProcessID: process.ID,
		Input: domain.JobInput{
			Key:       req.Input.Key,
			Data:      req.Input.Data,
			Requestor: req.Input.Requestor,
		},
		Status:         domain.JobStatusPending,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      time.Now(),
	}

	if err := h.jobRepo.Create(r.Context(), job); err != nil {
		InternalError(w, h.logger, err)
		return
	}

	// Публикуем событие в очередь
	if h.publisher != nil {
		if err := h.publisher.PublishJobSubmitted(r.Context(), job.ID); err != nil {
			// Не фатально: Runner заберёт job через polling
			h.logger.Warn("failed to publish job.submitted", "job_id", job.ID, "error", err)
		}
	}

	Accepted(w, JobFromDomain(*job))
}

// GetJob возвращает job по ID.
// GET /api/v1/jobs/{id}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid job id")
		return
	}

	job, err := h.jobRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "job not found") {
		return
	}

	Success(w, JobFromDomain(*job))
}

// StopJob административно останавливает job.
// POST /api/v1/jobs/{id}/stop
func (h *Handler) StopJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid job id")
		return
	}

	job, err := h.jobRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "job not found") {
		return
	}

	if job.IsFinished() {
		InvalidState(w, "job is already finished")
		return
	}

	// Остановку выполняет Runner service: у него живой runner этого job
	if h.publisher != nil {
		if err := h.publisher.PublishJobStop(r.Context(), job.ID); err != nil {
			InternalError(w, h.logger, err)
			return
		}

		Accepted(w, JobFromDomain(*job))
		return
	}

	// Без MQ (локальный режим) — останавливаем напрямую в БД
	job.MarkStopped()
	if err := h.jobRepo.Update(r.Context(), job); err != nil {
		InternalError(w, h.logger, err)
		return
	}

	Success(w, JobFromDomain(*job))
}

// ListJobTasks возвращает tasks job'а.
// GET /api/v1/jobs/{id}/tasks
func (h *Handler) ListJobTasks(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid job id")
		return
	}

	// Проверяем, что job существует
	_, err = h.jobRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "job not found") {
		return
	}

	tasks, err := h.taskRepo.ListByJobID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]TaskResponse, len(tasks))
	for i, t := range tasks {
		result[i] = TaskFromDomain(t)
	}

	List(w, result, len(result))
}

// GetTask возвращает task по ID.
// GET /api/v1/tasks/{id}
func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid task id")
		return
	}

	task, err := h.taskRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "task not found") {
		return
	}

	Success(w, TaskFromDomain(*task))
}
