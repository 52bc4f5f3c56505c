// Package api реализует HTTP API сервиса Conveyor.
//
// Структура:
//   - handler.go          — Handler с зависимостями
//   - routes.go           — регистрация маршрутов
//   - middleware.go       — логирование и recovery
//   - response.go         — helpers для JSON-ответов
//   - dto.go              — request/response структуры
//   - process_handler.go  — CRUD процессов
//   - job_handler.go      — submit/stop/просмотр jobs
//   - schedule_handler.go — CRUD расписаний
//
// API принимает запросы на запуск jobs, но не выполняет их:
// выполнение — ответственность Runner service. Связь через RabbitMQ
// (job.submitted, job.stop) с fallback на polling БД.
package api
