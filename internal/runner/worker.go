package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"syscall"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

// Sentinel payloads для транспортных ошибок.
//
// Записываются в task.Output.Data вместо тела ответа, когда
// HTTP-вызов не дошёл до activity. Фиксированные строки: по ним
// операторы отличают исчерпание соединений от прочих сбоев.
const (
	// FailurePayloadNoConnection — нет свободных соединений
	// (исчерпаны file descriptors на уровне ОС).
	FailurePayloadNoConnection = "no_connection_available"

	// FailurePayloadUnknown — любой другой транспортный сбой.
	FailurePayloadUnknown = "unknown_error"
)

// Doer выполняет один HTTP-запрос.
// Интерфейс нужен для подмены транспорта в тестах.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Worker — Task Worker: выполняет ровно один HTTP POST для одного task.
//
// Worker эфемерен: у него нет состояния кроме самого task. Он делает
// вызов, классифицирует результат, эмитит ровно одно терминальное
// событие в EventSink и завершается. Retry не выполняется.
//
// Классификация результата (по приоритету):
//  1. HTTP 200 → декодируем data и next_activities → taskSucceeded
//  2. Любой другой статус → тело ответа как payload ошибки → taskFailed
//  3. Исчерпание соединений → sentinel no_connection_available → taskFailed
//  4. Прочий транспортный сбой → sentinel unknown_error → taskFailed
type Worker struct {
	client Doer
	logger *slog.Logger
}

// NewWorker создаёт Worker.
func NewWorker(client Doer, logger *slog.Logger) *Worker {
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{client: client, logger: logger}
}

// activityResponse — тело успешного (HTTP 200) ответа activity.
type activityResponse struct {
	Data           string   `json:"data"`
	NextActivities []string `json:"next_activities"`
}

// Run выполняет task и эмитит терминальное событие.
// Запускается в отдельной горутине; паника не распространяется
// на runner, а превращается в событие workerCrashed.
func (w *Worker) Run(ctx context.Context, task *domain.Task, sink EventSink) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("worker panicked",
				"task_id", task.ID,
				"job_id", task.JobID,
				"panic", r,
			)
			sink.WorkerCrashed(task, r)
		}
	}()

	task.MarkStarted()
	w.execute(ctx, task)

	telemetry.TaskDuration.Observe(task.Duration().Seconds())

	if task.Failed {
		telemetry.TasksExecuted.WithLabelValues("failed").Inc()
		sink.TaskFailed(task)
		return
	}

	telemetry.TasksExecuted.WithLabelValues("succeeded").Inc()
	sink.TaskSucceeded(task)
}

// execute делает HTTP POST и прикрепляет результат к task.
func (w *Worker) execute(ctx context.Context, task *domain.Task) {
	body, err := json.Marshal(task.Input)
	if err != nil {
		w.logger.Error("failed to marshal task input",
			"task_id", task.ID,
			"error", err,
		)
		task.AttachFailure(FailurePayloadUnknown)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, task.ActivityURL, bytes.NewReader(body))
	if err != nil {
		w.logger.Error("failed to build request",
			"task_id", task.ID,
			"url", task.ActivityURL,
			"error", err,
		)
		task.AttachFailure(FailurePayloadUnknown)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		// Транспортный сбой: причина уходит в лог,
		// в task записывается только sentinel.
		if isConnExhausted(err) {
			w.logger.Warn("no connections available",
				"task_id", task.ID,
				"url", task.ActivityURL,
				"error", err,
			)
			task.AttachFailure(FailurePayloadNoConnection)
			return
		}

		w.logger.Warn("transport error",
			"task_id", task.ID,
			"url", task.ActivityURL,
			"error", err,
		)
		task.AttachFailure(FailurePayloadUnknown)
		return
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		w.logger.Warn("failed to read response body",
			"task_id", task.ID,
			"error", err,
		)
		task.AttachFailure(FailurePayloadUnknown)
		return
	}

	// Не-200 — логическая ошибка activity: тело ответа сохраняется
	// как диагностический payload.
	if resp.StatusCode != http.StatusOK {
		w.logger.Debug("activity returned non-200",
			"task_id", task.ID,
			"status_code", resp.StatusCode,
		)
		task.AttachFailure(string(respBody))
		return
	}

	var out activityResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		w.logger.Warn("failed to decode activity response",
			"task_id", task.ID,
			"error", err,
		)
		task.AttachFailure(FailurePayloadUnknown)
		return
	}

	task.AttachOutput(out.Data, out.NextActivities)
}

// isConnExhausted определяет исчерпание соединений: в системе
// закончились file descriptors (EMFILE — лимит процесса,
// ENFILE — лимит системы).
func isConnExhausted(err error) bool {
	return errors.Is(err, syscall.EMFILE) || errors.Is(err, syscall.ENFILE)
}
