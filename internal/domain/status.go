package domain

// JobStatus — статус выполнения job.
//
// Жизненный цикл:
//
//	PENDING → RUNNING → DONE
//	                  ↘ STOPPED (административная остановка)
type JobStatus string

const (
	// JobStatusPending — job создан, но Job Runner ещё не начал выполнение.
	JobStatusPending JobStatus = "PENDING"

	// JobStatusRunning — job в процессе выполнения, есть in-flight tasks.
	JobStatusRunning JobStatus = "RUNNING"

	// JobStatusDone — все tasks завершились, счётчик вернулся к нулю.
	//
	// DONE не означает, что все tasks успешны: упавшие tasks несут
	// флаг Failed, job при этом всё равно доводится до конца.
	JobStatusDone JobStatus = "DONE"

	// JobStatusStopped — job остановлен административно (stop),
	// минуя детектор завершения.
	JobStatusStopped JobStatus = "STOPPED"
)

// IsTerminal возвращает true, если статус финальный (job завершён).
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusDone, JobStatusStopped:
		return true
	default:
		return false
	}
}
