// Package engine distributes attack and check tasks over a pool of
// workers. Each task owns one domain; tasks for the same domain are
// serialized so two browsers never race on one target.
package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/statehound/internal/config"
	"github.com/xkilldash9x/statehound/internal/domain"
	"github.com/xkilldash9x/statehound/internal/idp"
)

// Task is one unit of work: a domain, the provider to probe it with,
// and for attack tasks the variant to run.
type Task struct {
	Record   domain.Record
	Provider idp.Provider
	Variant  domain.Variant
}

// Worker processes one task. Both *attack.Runner and *attack.Checker
// are wrapped into this shape by the commands.
type Worker interface {
	ProcessTask(ctx context.Context, task Task) error
}

// WorkerFunc adapts a function to the Worker interface.
type WorkerFunc func(ctx context.Context, task Task) error

func (f WorkerFunc) ProcessTask(ctx context.Context, task Task) error { return f(ctx, task) }

// Engine manages the in-process distribution of tasks to a pool of
// workers.
type Engine struct {
	cfg    config.EngineConfig
	logger *zap.Logger
	worker Worker
	wg     sync.WaitGroup

	mu          sync.Mutex
	domainLocks map[string]*sync.Mutex
}

// New creates an engine around a worker.
func New(cfg config.EngineConfig, worker Worker, logger *zap.Logger) *Engine {
	return &Engine{
		cfg:         cfg,
		logger:      logger.With(zap.String("component", "engine")),
		worker:      worker,
		domainLocks: make(map[string]*sync.Mutex),
	}
}

// Start launches the worker pool consuming from taskChan. The channel
// is closed by the producer; Stop waits for the drain.
func (e *Engine) Start(ctx context.Context, taskChan <-chan Task) {
	concurrency := e.cfg.WorkerConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	e.logger.Info("Starting worker pool", zap.Int("concurrency", concurrency))
	for i := 0; i < concurrency; i++ {
		e.wg.Add(1)
		go e.runWorker(ctx, i+1, taskChan)
	}
}

// Stop waits for all workers to finish.
func (e *Engine) Stop() {
	e.logger.Info("Stopping engine, waiting for workers to finish")
	e.wg.Wait()
	e.logger.Info("Engine stopped")
}

// RunAll is the convenience path the commands use: it feeds the tasks
// through the pool and blocks until every one is processed.
func (e *Engine) RunAll(ctx context.Context, tasks []Task) {
	taskChan := make(chan Task)
	e.Start(ctx, taskChan)

	for _, task := range tasks {
		select {
		case <-ctx.Done():
			e.logger.Warn("Aborting task feed", zap.Error(ctx.Err()))
			close(taskChan)
			e.Stop()
			return
		case taskChan <- task:
		}
	}
	close(taskChan)
	e.Stop()
}

func (e *Engine) runWorker(ctx context.Context, workerID int, taskChan <-chan Task) {
	defer e.wg.Done()
	logger := e.logger.With(zap.Int("worker_id", workerID))
	logger.Debug("Worker started")

	for task := range taskChan {
		if ctx.Err() != nil {
			logger.Debug("Context cancelled, draining remaining tasks")
			continue
		}
		e.process(ctx, task, logger)
	}
	logger.Debug("Task queue drained, worker shutting down")
}

// process runs one task under the domain's lock and the run timeout.
// Failures are logged and swallowed: one broken domain never stops the
// batch.
func (e *Engine) process(ctx context.Context, task Task, logger *zap.Logger) {
	lock := e.domainLock(task.Record.Domain)
	lock.Lock()
	defer lock.Unlock()

	timeout := e.cfg.RunTimeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	taskCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logger.Info("Processing task",
		zap.String("domain", task.Record.Domain),
		zap.String("provider", string(task.Provider)),
		zap.String("variant", task.Variant.String()),
	)
	if err := e.worker.ProcessTask(taskCtx, task); err != nil {
		logger.Error("Task failed", zap.String("domain", task.Record.Domain), zap.Error(err))
	}
}

func (e *Engine) domainLock(name string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.domainLocks[name]
	if !ok {
		l = &sync.Mutex{}
		e.domainLocks[name] = l
	}
	return l
}
