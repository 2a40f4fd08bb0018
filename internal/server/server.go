package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/itstheanurag/gradebox/internal/api"
	"github.com/itstheanurag/gradebox/internal/config"
	"github.com/itstheanurag/gradebox/internal/database"
	"github.com/itstheanurag/gradebox/internal/grader"
	"github.com/itstheanurag/gradebox/internal/limiter"
	"github.com/itstheanurag/gradebox/internal/queue"
	"github.com/itstheanurag/gradebox/internal/worker"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout = 10 * time.Second
	// drainTimeout lets a started grading finish after shutdown begins.
	drainTimeout = 2 * time.Minute
)

type Server struct {
	conf        *config.Config
	logger      *zerolog.Logger
	httpServer  *http.Server
	db          *database.Database
	runtimes    *database.RuntimeRepository
	engine      *Engine
	queue       *queue.Manager
	workers     []*worker.Worker
	consumer    *queue.Consumer
	rateLimiter *limiter.RateLimiter
}

func New(
	ctx context.Context,
	conf *config.Config,
	logger *zerolog.Logger,
) (*Server, error) {
	db, err := database.New(conf, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	runtimes := database.NewRuntimeRepository(db)
	if err := SeedRuntimes(ctx, runtimes, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to seed runtimes: %w", err)
	}

	engine, err := NewEngine(conf, runtimes, database.NewSubmissionStore(db), logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	q := queue.NewManager(conf.Grader.QueueCapacity)

	// 100 req/sec global, 10 req/sec per IP, one running request per worker
	rl := limiter.NewRateLimiter(100, 10, 20, conf.Grader.WorkerCount)

	handler := api.NewHandler(engine.Grader, q, engine.Sandbox, runtimes, conf.Grader.RunMaxTestCases, logger)

	httpServer := &http.Server{
		Addr:         ":" + conf.Server.Port,
		Handler:      handler.Routes(rl.Middleware),
		ReadTimeout:  time.Duration(conf.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(conf.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(conf.Server.IdleTimeout) * time.Second,
	}

	workers := make([]*worker.Worker, conf.Grader.WorkerCount)
	for i := range workers {
		workers[i] = worker.NewWorker(i, engine.Grader, q, drainTimeout, logger)
	}

	var consumer *queue.Consumer
	if conf.Queue.AMQPURL != "" {
		consumer = queue.NewConsumer(queue.ConsumerOptions{
			URL:           conf.Queue.AMQPURL,
			QueueName:     conf.Queue.QueueName,
			Prefetch:      conf.Grader.WorkerCount,
			DeliveryLimit: conf.Queue.DeliveryLimit,
			RetryDelay:    seconds(conf.Queue.RetryDelaySeconds),
			DrainTimeout:  drainTimeout,
		}, q, grader.IsRetryable, logger)
	}

	return &Server{
		conf:        conf,
		logger:      logger,
		httpServer:  httpServer,
		db:          db,
		runtimes:    runtimes,
		engine:      engine,
		queue:       q,
		workers:     workers,
		consumer:    consumer,
		rateLimiter: rl,
	}, nil
}

// Run serves HTTP, grades queued submissions and, when configured, consumes
// the AMQP queue until ctx is done or one of them fails.
func (s *Server) Run(ctx context.Context) error {
	if s.conf.Grader.PullImages {
		if err := EnsureImages(ctx, s.runtimes, s.engine.Sandbox, s.logger); err != nil {
			return fmt.Errorf("failed to ensure docker images: %w", err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	s.rateLimiter.StartCleanup(ctx, 5*time.Minute)

	for _, w := range s.workers {
		g.Go(func() error {
			w.Start(ctx)
			return nil
		})
	}

	if s.consumer != nil {
		g.Go(func() error {
			return s.consumer.Run(ctx)
		})
	}

	g.Go(func() error {
		s.logger.Info().Str("port", s.conf.Server.Port).Msg("starting HTTP server")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		s.logger.Info().Msg("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown HTTP server: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func (s *Server) Close() error {
	if err := s.engine.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to close docker client")
	}
	return s.db.Close()
}
