// Package runner реализует ядро выполнения jobs.
//
// Структура:
//   - registry.go — реестр живых Job Runner'ов (дедупликация по ID job)
//   - runner.go   — Job Runner: актор с mailbox, один на job
//   - worker.go   — Task Worker: один HTTP POST на один task
//   - events.go   — протокол событий worker → runner
//   - service.go  — Runner service: consumers RabbitMQ + polling fallback
//   - handlers.go — обработчики событий из очередей
//
// Модель выполнения:
//
//	job.submitted → Service → Registry.StartJob → JobRunner (горутина)
//	                                                  │
//	                                  ┌───────────────┤ spawn
//	                                  ▼               ▼
//	                             Task Worker ... Task Worker
//	                                  │               │
//	                                  └── события ────┘
//	                                        ▼
//	                              mailbox JobRunner'а
//
// Каждый JobRunner обрабатывает события строго по одному, поэтому
// счётчик in-flight tasks не требует блокировок. Когда счётчик
// возвращается к нулю, job помечается DONE ровно один раз и runner
// завершает работу.
package runner
