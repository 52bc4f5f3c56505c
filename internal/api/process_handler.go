package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Conveyor/internal/domain"
)

// ListProcesses возвращает список процессов.
// GET /api/v1/processes?name=...&limit=...&offset=...
func (h *Handler) ListProcesses(w http.ResponseWriter, r *http.Request) {
	// Точный поиск по имени
	if name := r.URL.Query().Get("name"); name != "" {
		process, err := h.processRepo.GetByName(r.Context(), name)
		if HandleRepoError(w, h.logger, err, "process not found") {
			return
		}
		List(w, []ProcessResponse{ProcessFromDomain(*process)}, 1)
		return
	}

	limit := parseIntOr(r.URL.Query().Get("limit"), 50)
	offset := parseIntOr(r.URL.Query().Get("offset"), 0)

	processes, err := h.processRepo.List(r.Context(), limit, offset)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]ProcessResponse, len(processes))
	for i, p := range processes {
		result[i] = ProcessFromDomain(p)
	}

	List(w, result, len(result))
}

// CreateProcess создаёт новый процесс.
// POST /api/v1/processes
func (h *Handler) CreateProcess(w http.ResponseWriter, r *http.Request) {
	var req CreateProcessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	// Валидация
	if req.Name == "" {
		BadRequest(w, "name is required")
		return
	}
	if len(req.Activities) == 0 {
		BadRequest(w, "at least one activity is required")
		return
	}
	if req.StartActivity == "" {
		BadRequest(w, "start_activity is required")
		return
	}

	process := &domain.Process{
		ID:            uuid.New(),
		Name:          req.Name,
		StartActivity: req.StartActivity,
		Activities:    activitiesToDomain(req.Activities),
		IsActive:      req.IsActive,
		CreatedAt:     time.Now(),
	}

	// Стартовая activity должна существовать в списке
	if process.Start() == nil {
		BadRequest(w, "start_activity does not match any activity id")
		return
	}

	for _, a := range process.Activities {
		if a.ID == "" || a.URL == "" {
			BadRequest(w, "each activity requires id and url")
			return
		}
	}

	if err := h.processRepo.Create(r.Context(), process); err != nil {
		if HandleRepoError(w, h.logger, err, "") {
			return
		}
	}

	Created(w, ProcessFromDomain(*process))
}

// GetProcess возвращает процесс по ID.
// GET /api/v1/processes/{id}
func (h *Handler) GetProcess(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid process id")
		return
	}

	process, err := h.processRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "process not found") {
		return
	}

	Success(w, ProcessFromDomain(*process))
}

// UpdateProcess обновляет процесс.
// PUT /api/v1/processes/{id}
func (h *Handler) UpdateProcess(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid process id")
		return
	}

	var req UpdateProcessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	process, err := h.processRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "process not found") {
		return
	}

	if req.Name != nil {
		process.Name = *req.Name
	}
	if req.StartActivity != nil {
		process.StartActivity = *req.StartActivity
	}
	if req.Activities != nil {
		process.Activities = activitiesToDomain(*req.Activities)
	}
	if req.IsActive != nil {
		process.IsActive = *req.IsActive
	}

	if process.Start() == nil {
		BadRequest(w, "start_activity does not match any activity id")
		return
	}

	if err := h.processRepo.Update(r.Context(), process); err != nil {
		InternalError(w, h.logger, err)
		return
	}

	Success(w, ProcessFromDomain(*process))
}

// DeleteProcess удаляет процесс.
// DELETE /api/v1/processes/{id}
func (h *Handler) DeleteProcess(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid process id")
		return
	}

	if err := h.processRepo.Delete(r.Context(), id); err != nil {
		if HandleRepoError(w, h.logger, err, "process not found") {
			return
		}
		InternalError(w, h.logger, err)
		return
	}

	NoContent(w)
}
