package runner

import "errors"

// Ошибки runner'а.
var (
	// ErrJobAlreadyRunning — для этого job уже существует живой runner.
	// Вызывающий код трактует это как успех (идемпотентный запуск).
	ErrJobAlreadyRunning = errors.New("job already running")

	// ErrJobNotFound — job не найден в БД.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobNotPending — job не в статусе PENDING.
	ErrJobNotPending = errors.New("job is not in PENDING status")

	// ErrProcessNotFound — процесс job'а не найден.
	ErrProcessNotFound = errors.New("process not found")

	// ErrNoStartActivity — у процесса нет стартовой activity.
	ErrNoStartActivity = errors.New("process has no start activity")

	// ErrRunnerTerminated — runner уже завершён, событие не доставлено.
	ErrRunnerTerminated = errors.New("job runner already terminated")
)
