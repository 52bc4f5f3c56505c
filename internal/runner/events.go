package runner

import "github.com/shaiso/Conveyor/internal/domain"

// eventKind — тип события в mailbox runner'а.
type eventKind int

const (
	// evTaskStarted — запрос на запуск ещё одного task (fan-out).
	// Увеличивает счётчик in-flight и порождает нового worker'а.
	evTaskStarted eventKind = iota

	// evTaskSucceeded — терминальное событие: task завершился успешно.
	evTaskSucceeded

	// evTaskFailed — терминальное событие: task завершился ошибкой
	// (non-200 ответ или транспортный сбой).
	evTaskFailed

	// evWorkerCrashed — worker упал с паникой, не эмитировав
	// терминальное событие. Информационное: счётчик не трогаем.
	evWorkerCrashed

	// evStop — административная остановка job.
	// Единственный переход, минующий детектор завершения.
	evStop
)

// String возвращает имя события для логирования.
func (k eventKind) String() string {
	switch k {
	case evTaskStarted:
		return "taskStarted"
	case evTaskSucceeded:
		return "taskSucceeded"
	case evTaskFailed:
		return "taskFailed"
	case evWorkerCrashed:
		return "workerCrashed"
	case evStop:
		return "stop"
	default:
		return "unknown"
	}
}

// event — сообщение в mailbox runner'а.
//
// Worker'ы общаются с runner'ом только через события: fire-and-forget,
// без ответа. Порядок событий одного worker'а сохраняется; между
// worker'ами порядок определяется только очерёдностью прибытия.
type event struct {
	kind eventKind

	// task — task, к которому относится событие. Nil для evStop.
	task *domain.Task

	// cause — причина паники для evWorkerCrashed.
	cause any
}

// EventSink — приёмник терминальных событий worker'а.
//
// Worker ничего не знает о внутренностях runner'а: он видит только
// этот интерфейс. В тестах подменяется записывающей заглушкой.
type EventSink interface {
	// TaskSucceeded сообщает об успешном завершении task.
	TaskSucceeded(task *domain.Task)

	// TaskFailed сообщает о завершении task с ошибкой.
	TaskFailed(task *domain.Task)

	// WorkerCrashed сообщает о панике worker'а до эмита
	// терминального события.
	WorkerCrashed(task *domain.Task, cause any)
}
