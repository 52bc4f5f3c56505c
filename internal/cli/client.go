package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// ActivityDTO — activity процесса.
type ActivityDTO struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	URL  string `json:"url"`
}

// ProcessResponse — process из API.
type ProcessResponse struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	StartActivity string        `json:"start_activity"`
	Activities    []ActivityDTO `json:"activities"`
	IsActive      bool          `json:"is_active"`
	CreatedAt     string        `json:"created_at"`
}

// JobInputDTO — входные данные job.
type JobInputDTO struct {
	Key       string `json:"key"`
	Data      string `json:"data"`
	Requestor string `json:"requestor"`
}

// JobResponse — job из API.
type JobResponse struct {
	ID             string      `json:"id"`
	ProcessID      string      `json:"process_id"`
	Input          JobInputDTO `json:"input"`
	Status         string      `json:"status"`
	StartedAt      string      `json:"started_at,omitempty"`
	FinishedAt     string      `json:"finished_at,omitempty"`
	IdempotencyKey string      `json:"idempotency_key,omitempty"`
	CreatedAt      string      `json:"created_at"`
}

// TaskResponse — task из API.
type TaskResponse struct {
	ID             string   `json:"id"`
	JobID          string   `json:"job_id"`
	ActivityID     string   `json:"activity_id"`
	ActivityURL    string   `json:"activity_url"`
	Data           string   `json:"data,omitempty"`
	NextActivities []string `json:"next_activities,omitempty"`
	Failed         bool     `json:"failed"`
	StartedAt      string   `json:"started_at,omitempty"`
	FinishedAt     string   `json:"finished_at,omitempty"`
	CreatedAt      string   `json:"created_at"`
}

// ScheduleResponse — schedule из API.
type ScheduleResponse struct {
	ID          string      `json:"id"`
	ProcessID   string      `json:"process_id"`
	Name        string      `json:"name"`
	CronExpr    string      `json:"cron_expr,omitempty"`
	IntervalSec int         `json:"interval_sec,omitempty"`
	Timezone    string      `json:"timezone"`
	Enabled     bool        `json:"enabled"`
	NextDueAt   string      `json:"next_due_at,omitempty"`
	LastJobAt   string      `json:"last_job_at,omitempty"`
	LastJobID   string      `json:"last_job_id,omitempty"`
	Input       JobInputDTO `json:"input"`
	CreatedAt   string      `json:"created_at"`
	UpdatedAt   string      `json:"updated_at"`
}

// --- Request types ---

// CreateProcessRequest — создание process.
type CreateProcessRequest struct {
	Name          string        `json:"name"`
	StartActivity string        `json:"start_activity"`
	Activities    []ActivityDTO `json:"activities"`
	IsActive      bool          `json:"is_active"`
}

// UpdateProcessRequest — обновление process.
type UpdateProcessRequest struct {
	Name     *string `json:"name,omitempty"`
	IsActive *bool   `json:"is_active,omitempty"`
}

// SubmitJobRequest — запуск job.
type SubmitJobRequest struct {
	Input          JobInputDTO `json:"input"`
	IdempotencyKey string      `json:"idempotency_key,omitempty"`
}

// CreateScheduleRequest — создание schedule.
type CreateScheduleRequest struct {
	Name        string      `json:"name"`
	CronExpr    string      `json:"cron_expr,omitempty"`
	IntervalSec int         `json:"interval_sec,omitempty"`
	Timezone    string      `json:"timezone,omitempty"`
	Enabled     bool        `json:"enabled"`
	Input       JobInputDTO `json:"input"`
}

// UpdateScheduleRequest — обновление schedule.
type UpdateScheduleRequest struct {
	Name        *string      `json:"name,omitempty"`
	CronExpr    *string      `json:"cron_expr,omitempty"`
	IntervalSec *int         `json:"interval_sec,omitempty"`
	Timezone    *string      `json:"timezone,omitempty"`
	Input       *JobInputDTO `json:"input,omitempty"`
}

// ListJobsOpts — параметры фильтрации jobs.
type ListJobsOpts struct {
	ProcessID string
	Status    string
	Limit     int
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// --- Client ---

// Client — HTTP-клиент для Conveyor API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Processes ---

// ListProcesses возвращает все processes.
func (c *Client) ListProcesses() ([]ProcessResponse, error) {
	var processes []ProcessResponse
	err := c.list("/api/v1/processes", nil, &processes)
	return processes, err
}

// CreateProcess создаёт новый process.
func (c *Client) CreateProcess(req CreateProcessRequest) (*ProcessResponse, error) {
	var process ProcessResponse
	err := c.post("/api/v1/processes", req, &process)
	return &process, err
}

// GetProcess возвращает process по ID.
func (c *Client) GetProcess(id string) (*ProcessResponse, error) {
	var process ProcessResponse
	err := c.get("/api/v1/processes/"+id, &process)
	return &process, err
}

// UpdateProcess обновляет process.
func (c *Client) UpdateProcess(id string, req UpdateProcessRequest) (*ProcessResponse, error) {
	var process ProcessResponse
	err := c.put("/api/v1/processes/"+id, req, &process)
	return &process, err
}

// DeleteProcess удаляет process.
func (c *Client) DeleteProcess(id string) error {
	return c.delete("/api/v1/processes/" + id)
}

// --- Jobs ---

// ListJobs возвращает список jobs с фильтрацией.
func (c *Client) ListJobs(opts ListJobsOpts) ([]JobResponse, error) {
	params := url.Values{}
	if opts.ProcessID != "" {
		params.Set("process_id", opts.ProcessID)
	}
	if opts.Status != "" {
		params.Set("status", opts.Status)
	}
	if opts.Limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", opts.Limit))
	}

	var jobs []JobResponse
	err := c.list("/api/v1/jobs", params, &jobs)
	return jobs, err
}

// SubmitJob создаёт job для process.
func (c *Client) SubmitJob(processID string, req SubmitJobRequest) (*JobResponse, error) {
	var job JobResponse
	err := c.post("/api/v1/processes/"+processID+"/jobs", req, &job)
	return &job, err
}

// GetJob возвращает job по ID.
func (c *Client) GetJob(id string) (*JobResponse, error) {
	var job JobResponse
	err := c.get("/api/v1/jobs/"+id, &job)
	return &job, err
}

// StopJob останавливает job.
func (c *Client) StopJob(id string) (*JobResponse, error) {
	var job JobResponse
	err := c.post("/api/v1/jobs/"+id+"/stop", nil, &job)
	return &job, err
}

// ListTasks возвращает tasks для job.
func (c *Client) ListTasks(jobID string) ([]TaskResponse, error) {
	var tasks []TaskResponse
	err := c.list("/api/v1/jobs/"+jobID+"/tasks", nil, &tasks)
	return tasks, err
}

// --- Schedules ---

// ListSchedules возвращает schedules.
func (c *Client) ListSchedules() ([]ScheduleResponse, error) {
	var schedules []ScheduleResponse
	err := c.list("/api/v1/schedules", nil, &schedules)
	return schedules, err
}

// CreateSchedule создаёт schedule для process.
func (c *Client) CreateSchedule(processID string, req CreateScheduleRequest) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	err := c.post("/api/v1/processes/"+processID+"/schedules", req, &schedule)
	return &schedule, err
}

// GetSchedule возвращает schedule по ID.
func (c *Client) GetSchedule(id string) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	err := c.get("/api/v1/schedules/"+id, &schedule)
	return &schedule, err
}

// UpdateSchedule обновляет schedule.
func (c *Client) UpdateSchedule(id string, req UpdateScheduleRequest) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	err := c.put("/api/v1/schedules/"+id, req, &schedule)
	return &schedule, err
}

// DeleteSchedule удаляет schedule.
func (c *Client) DeleteSchedule(id string) error {
	return c.delete("/api/v1/schedules/" + id)
}

// EnableSchedule включает schedule.
func (c *Client) EnableSchedule(id string) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	body := map[string]bool{"enabled": true}
	err := c.put("/api/v1/schedules/"+id+"/enabled", body, &schedule)
	return &schedule, err
}

// DisableSchedule выключает schedule.
func (c *Client) DisableSchedule(id string) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	body := map[string]bool{"enabled": false}
	err := c.put("/api/v1/schedules/"+id+"/enabled", body, &schedule)
	return &schedule, err
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) put(path string, body any, result any) error {
	return c.doData(http.MethodPut, path, body, result)
}

func (c *Client) delete(path string) error {
	resp, err := c.do(http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return c.checkError(resp)
}

func (c *Client) list(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	// 204 No Content
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return fmt.Errorf("API error: HTTP %d", resp.StatusCode)
	}

	return fmt.Errorf("%s: %s", er.Error.Code, er.Error.Message)
}
