package runner

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/repo"
)

// Default configuration values.
const (
	defaultPollInterval = 10 * time.Second
	defaultBatchSize    = 100
)

// Service — Runner service: точка входа выполнения jobs.
//
// Service:
//   - Получает новые jobs из очереди RabbitMQ (event-driven)
//   - Периодически проверяет pending jobs в БД (polling fallback)
//   - Запускает JobRunner через Registry (дедупликация по ID)
//   - Обрабатывает команды административной остановки
//   - Публикует события о завершённых jobs
type Service struct {
	// Repositories
	jobs      *repo.JobRepo
	processes *repo.ProcessRepo
	tasks     *repo.TaskRepo

	// Store — persistence-коллаборатор runner'ов.
	store Store

	// Registry живых runner'ов.
	registry *Registry

	// MQ
	publisher *mq.Publisher
	conn      *mq.Connection

	// HTTP-транспорт worker'ов.
	client Doer

	// Consumers
	jobConsumer  *mq.Consumer
	stopConsumer *mq.Consumer

	// Configuration
	pollInterval time.Duration
	batchSize    int

	// Lifecycle
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Service.
type Config struct {
	// Repositories
	JobRepo     *repo.JobRepo
	ProcessRepo *repo.ProcessRepo
	TaskRepo    *repo.TaskRepo

	// Store — persistence для runner'ов (обычно repo.RunnerStore).
	Store Store

	// MQ
	Publisher *mq.Publisher
	Conn      *mq.Connection

	// Client — HTTP-транспорт worker'ов (default: http.Client).
	Client Doer

	// Polling configuration
	PollInterval time.Duration // интервал polling (default: 10s)
	BatchSize    int           // количество jobs за один poll (default: 100)

	// Logger
	Logger *slog.Logger
}

// New создаёт новый Service.
func New(cfg Config) *Service {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		jobs:         cfg.JobRepo,
		processes:    cfg.ProcessRepo,
		tasks:        cfg.TaskRepo,
		store:        cfg.Store,
		registry:     NewRegistry(),
		publisher:    cfg.Publisher,
		conn:         cfg.Conn,
		client:       cfg.Client,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		logger:       logger,
	}
}

// Start запускает Service.
//
// Запускает:
//   - Consumer для jobs.submitted
//   - Consumer для jobs.stop
//   - Polling горутину для fallback
func (s *Service) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancelFunc = cancel

	s.logger.Info("starting runner service",
		"poll_interval", s.pollInterval,
		"batch_size", s.batchSize,
	)

	// Consumers требуют живого AMQP-соединения. Без него Service
	// работает в polling-only режиме: jobs подхватываются из БД.
	if s.conn != nil {
		s.jobConsumer = mq.NewConsumer(s.conn, s.logger, mq.ConsumerConfig{
			Queue:    string(mq.QueueJobsSubmitted),
			Handler:  s.handleJobSubmitted,
			Prefetch: 10,
		})

		s.stopConsumer = mq.NewConsumer(s.conn, s.logger, mq.ConsumerConfig{
			Queue:    string(mq.QueueJobsStop),
			Handler:  s.handleJobStop,
			Prefetch: 10,
		})

		// Запускаем job consumer
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.jobConsumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("job consumer error", "error", err)
			}
		}()

		// Запускаем stop consumer
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.stopConsumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("stop consumer error", "error", err)
			}
		}()
	} else {
		s.logger.Info("no MQ connection, running in polling-only mode")
	}

	// Запускаем polling. Без job-репозитория polling невозможен.
	if s.jobs != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.pollLoop(ctx)
		}()
	}

	s.logger.Info("runner service started")
	return nil
}

// Stop останавливает Service.
func (s *Service) Stop() {
	s.stoppedMu.Lock()
	s.stopped = true
	s.stoppedMu.Unlock()

	s.logger.Info("stopping runner service...")

	// Останавливаем живые runner'ы. Их jobs остаются RUNNING в БД;
	// после рестарта их можно реанимировать только вручную.
	s.registry.StopAll()

	if s.cancelFunc != nil {
		s.cancelFunc()
	}

	// Останавливаем consumers
	if s.jobConsumer != nil {
		s.jobConsumer.Stop()
	}
	if s.stopConsumer != nil {
		s.stopConsumer.Stop()
	}

	// Ждём завершения горутин
	s.wg.Wait()

	s.logger.Info("runner service stopped",
		"active_jobs", s.registry.Count(),
	)
}

// IsStopped проверяет, остановлен ли Service.
func (s *Service) IsStopped() bool {
	s.stoppedMu.RLock()
	defer s.stoppedMu.RUnlock()
	return s.stopped
}

// ActiveJobsCount возвращает количество выполняющихся jobs.
func (s *Service) ActiveJobsCount() int {
	return s.registry.Count()
}

// pollLoop — цикл polling для fallback.
func (s *Service) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	// Первый poll сразу при старте (подхватываем jobs, созданные пока были выключены)
	s.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

// poll выполняет один цикл polling.
func (s *Service) poll(ctx context.Context) {
	jobs, err := s.jobs.ListPending(ctx, s.batchSize)
	if err != nil {
		s.logger.Error("failed to list pending jobs", "error", err)
		return
	}

	if len(jobs) == 0 {
		return
	}

	s.logger.Debug("poll found pending jobs", "count", len(jobs))

	for i := range jobs {
		job := &jobs[i]

		if err := s.processJob(ctx, job.ID); err != nil {
			if errors.Is(err, ErrJobAlreadyRunning) || errors.Is(err, ErrJobNotPending) {
				continue
			}
			s.logger.Error("failed to process job from poll",
				"job_id", job.ID,
				"error", err,
			)
		}
	}
}

// publishCompleted публикует событие о завершённом job.
// Вызывается runner'ом после пометки DONE.
func (s *Service) publishCompleted(jobID uuid.UUID, status string, failedTasks int) {
	if s.publisher == nil {
		return
	}

	err := s.publisher.PublishJobCompleted(context.Background(), mq.JobCompletedPayload{
		JobID:       jobID,
		Status:      status,
		FailedTasks: failedTasks,
	})
	if err != nil {
		s.logger.Warn("failed to publish job.completed",
			"job_id", jobID,
			"error", err,
		)
	}
}
