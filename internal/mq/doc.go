// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — управление соединением с RabbitMQ (reconnect, graceful shutdown)
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — публикация сообщений в очереди
//   - consumer.go   — потребление сообщений из очередей
//
// Типы сообщений:
//   - job.submitted — новый job ожидает выполнения
//   - job.stop      — административная остановка job
//   - job.completed — job завершён (счётчик in-flight tasks вернулся к нулю)
//
// Exchanges:
//   - conveyor.jobs — события jobs
//   - conveyor.dlq  — dead letter queue
package mq
