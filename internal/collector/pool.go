package collector

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/olexisomar/ai-visibility/internal/db"
	"github.com/olexisomar/ai-visibility/internal/observability"
)

const (
	// promptConcurrency bounds in-flight prompts per provider run
	promptConcurrency = 4

	// runsChannel is the NOTIFY channel the dispatcher publishes on
	runsChannel = "automation_runs"
)

// RunNotifier is told about terminal run transitions so user-facing
// notifications can be created
type RunNotifier interface {
	NotifyRunComplete(ctx context.Context, run *db.AutomationRun, responses int)
	NotifyRunFailed(ctx context.Context, run *db.AutomationRun)
}

// Pool executes pending automation runs. Workers claim runs through
// row-level locking, get woken by NOTIFY, and fall back to a polling monitor
// when notifications are lost.
type Pool struct {
	database   *db.DB
	dbQueue    *db.DbQueue
	providers  map[string]Provider
	numWorkers int
	notifier   RunNotifier

	stopCh   chan struct{}
	notifyCh chan struct{}
	wg       sync.WaitGroup
	stopping atomic.Bool
}

// NewPool creates a collector pool over the given providers
func NewPool(database *db.DB, dbQueue *db.DbQueue, providers []Provider, numWorkers int) *Pool {
	if database == nil {
		panic("database connection is required")
	}
	if dbQueue == nil {
		panic("database queue is required")
	}
	if numWorkers < 1 {
		panic("numWorkers must be at least 1")
	}

	byName := make(map[string]Provider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}

	return &Pool{
		database:   database,
		dbQueue:    dbQueue,
		providers:  byName,
		numWorkers: numWorkers,
		stopCh:     make(chan struct{}),
		notifyCh:   make(chan struct{}, 1), // Buffer of 1 to prevent blocking
	}
}

// SetNotifier wires in run-completion notifications
func (p *Pool) SetNotifier(n RunNotifier) {
	p.notifier = n
}

// Start launches the workers, the NOTIFY listener and the pending monitor
func (p *Pool) Start(ctx context.Context) {
	log.Info().Int("workers", p.numWorkers).Int("providers", len(p.providers)).Msg("Starting collector pool")

	p.wg.Add(p.numWorkers)
	for i := 0; i < p.numWorkers; i++ {
		go p.worker(ctx, i)
	}

	p.wg.Add(1)
	go p.listenForRuns(ctx)

	p.startPendingMonitor(ctx)
}

// Stop stops the pool and waits for workers to finish their current run
func (p *Pool) Stop() {
	p.stopping.Store(true)
	log.Debug().Msg("Stopping collector pool")
	close(p.stopCh)
	p.wg.Wait()
	log.Debug().Msg("Collector pool stopped")
}

// worker claims and executes runs until stopped
func (p *Pool) worker(ctx context.Context, workerID int) {
	defer p.wg.Done()

	log.Info().Int("worker_id", workerID).Msg("Starting collector worker")

	consecutiveEmpty := 0
	baseSleep := 250 * time.Millisecond
	maxSleep := 30 * time.Second

	for {
		select {
		case <-p.stopCh:
			log.Debug().Int("worker_id", workerID).Msg("Worker received stop signal")
			return
		case <-ctx.Done():
			log.Debug().Int("worker_id", workerID).Msg("Worker context cancelled")
			return
		case <-p.notifyCh:
			consecutiveEmpty = 0
		default:
			run, err := p.dbQueue.ClaimNextAutomationRun(ctx)
			if err != nil {
				log.Error().Err(err).Int("worker_id", workerID).Msg("Failed to claim automation run")
				time.Sleep(baseSleep)
				continue
			}

			if run == nil {
				consecutiveEmpty++
				sleepTime := time.Duration(float64(baseSleep) * math.Pow(1.5, math.Min(float64(consecutiveEmpty), 10)))
				if sleepTime > maxSleep {
					sleepTime = maxSleep
				}

				select {
				case <-time.After(sleepTime):
				case <-p.notifyCh:
					consecutiveEmpty = 0
				case <-p.stopCh:
					return
				case <-ctx.Done():
					return
				}
				continue
			}

			consecutiveEmpty = 0
			p.executeRun(ctx, run)
		}
	}
}

// executeRun runs every applicable provider for the claimed run and records
// the terminal state
func (p *Pool) executeRun(ctx context.Context, run *db.AutomationRun) {
	span := sentry.StartSpan(ctx, "collector.execute_run")
	span.SetTag("run_id", run.ID)
	defer span.Finish()

	log.Info().
		Str("run_id", run.ID).
		Str("account_id", run.AccountID).
		Str("source", run.Source).
		Msg("Executing automation run")

	account, err := p.database.GetAccount(ctx, run.AccountID)
	if err != nil {
		p.failRun(ctx, run, fmt.Sprintf("failed to load account: %v", err))
		return
	}

	prompts, err := p.database.ListActivePrompts(ctx, run.AccountID)
	if err != nil {
		p.failRun(ctx, run, fmt.Sprintf("failed to load prompts: %v", err))
		return
	}
	if len(prompts) == 0 {
		p.failRun(ctx, run, "no active prompts configured")
		return
	}

	sources := p.resolveSources(run.Source)
	if len(sources) == 0 {
		p.failRun(ctx, run, fmt.Sprintf("no provider available for source %q", run.Source))
		return
	}

	totalResponses := 0
	succeeded := 0
	for _, source := range sources {
		count, err := p.runProvider(ctx, run, p.providers[source], account.Brand, prompts)
		totalResponses += count
		if err != nil {
			log.Error().Err(err).
				Str("run_id", run.ID).
				Str("source", source).
				Msg("Provider run failed")
			continue
		}
		succeeded++
	}

	if succeeded == 0 {
		p.failRun(ctx, run, "all provider runs failed")
		return
	}

	if err := p.database.CompleteAutomationRun(ctx, run.ID); err != nil {
		// The reaper may have reclaimed a very slow run in the meantime
		log.Warn().Err(err).Str("run_id", run.ID).Msg("Could not complete run, already in terminal state")
		return
	}

	observability.RecordAutomationRun(ctx, run.TriggerType, db.RunStatusCompleted)

	log.Info().
		Str("run_id", run.ID).
		Str("account_id", run.AccountID).
		Int("responses", totalResponses).
		Int("providers", succeeded).
		Msg("Automation run completed")

	if p.notifier != nil {
		p.notifier.NotifyRunComplete(ctx, run, totalResponses)
	}
}

// runProvider executes one provider over all prompts and persists its
// responses. Returns the number of responses collected.
func (p *Pool) runProvider(ctx context.Context, run *db.AutomationRun, provider Provider, brand string, prompts []*db.Prompt) (count int, err error) {
	ctx, otelSpan := observability.StartProviderRunSpan(ctx, observability.ProviderRunSpanInfo{
		RunID:     run.ID,
		AccountID: run.AccountID,
		Source:    provider.Name(),
		Prompts:   len(prompts),
	})
	start := time.Now()
	defer func() {
		status := db.RunStatusCompleted
		if err != nil {
			status = db.RunStatusFailed
		}
		observability.RecordProviderRun(ctx, observability.ProviderRunMetrics{
			Source:   provider.Name(),
			Status:   status,
			Duration: time.Since(start),
		})
		otelSpan.End()
	}()

	now := time.Now().UTC()
	providerRun := &db.ProviderRun{
		ID:              uuid.New().String(),
		AutomationRunID: &run.ID,
		AccountID:       run.AccountID,
		Source:          provider.Name(),
		Status:          db.RunStatusRunning,
		CreatedAt:       now,
		StartedAt:       &now,
	}
	if err := p.database.CreateProviderRun(ctx, providerRun); err != nil {
		return 0, err
	}

	var mu sync.Mutex
	responses := make([]*db.Response, 0, len(prompts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(promptConcurrency)

	for _, prompt := range prompts {
		prompt := prompt
		g.Go(func() error {
			answer, err := provider.Collect(gctx, prompt.Text)
			if err != nil {
				// One unanswerable prompt is not a provider failure
				log.Warn().Err(err).
					Str("run_id", run.ID).
					Str("source", provider.Name()).
					Int("prompt_id", prompt.ID).
					Msg("Failed to collect answer for prompt")
				return nil
			}

			analysis := AnalyseAnswer(brand, answer.Answer)
			response := &db.Response{
				ID:             uuid.New().String(),
				RunID:          providerRun.ID,
				PromptID:       prompt.ID,
				Source:         provider.Name(),
				Answer:         answer.Answer,
				BrandMentioned: analysis.BrandMentioned,
				BrandCited:     analysis.BrandCited,
				Position:       analysis.Position,
				Sentiment:      analysis.Sentiment,
				CostUSD:        answer.CostUSD,
				CreatedAt:      time.Now().UTC(),
			}

			mu.Lock()
			responses = append(responses, response)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		finishErr := p.database.FinishProviderRun(ctx, providerRun.ID, db.RunStatusFailed, len(responses), err.Error())
		if finishErr != nil {
			log.Error().Err(finishErr).Str("run_id", providerRun.ID).Msg("Failed to record provider run failure")
		}
		return len(responses), err
	}

	if len(responses) == 0 {
		err := fmt.Errorf("provider %s returned no answers", provider.Name())
		if finishErr := p.database.FinishProviderRun(ctx, providerRun.ID, db.RunStatusFailed, 0, err.Error()); finishErr != nil {
			log.Error().Err(finishErr).Str("run_id", providerRun.ID).Msg("Failed to record provider run failure")
		}
		return 0, err
	}

	if err := p.database.InsertResponses(ctx, responses); err != nil {
		if finishErr := p.database.FinishProviderRun(ctx, providerRun.ID, db.RunStatusFailed, 0, err.Error()); finishErr != nil {
			log.Error().Err(finishErr).Str("run_id", providerRun.ID).Msg("Failed to record provider run failure")
		}
		return 0, err
	}

	if err := p.database.FinishProviderRun(ctx, providerRun.ID, db.RunStatusCompleted, len(responses), ""); err != nil {
		return len(responses), err
	}

	log.Info().
		Str("run_id", run.ID).
		Str("provider_run_id", providerRun.ID).
		Str("source", provider.Name()).
		Int("responses", len(responses)).
		Msg("Provider run completed")

	return len(responses), nil
}

// resolveSources expands the run's source into the registered providers it
// covers
func (p *Pool) resolveSources(source string) []string {
	var wanted []string
	if source == db.SourceAll {
		wanted = []string{db.SourceGPT, db.SourceGoogleAIO}
	} else {
		wanted = []string{source}
	}

	available := make([]string, 0, len(wanted))
	for _, s := range wanted {
		if _, ok := p.providers[s]; ok {
			available = append(available, s)
		}
	}
	return available
}

// failRun records a terminal failure for a claimed run
func (p *Pool) failRun(ctx context.Context, run *db.AutomationRun, message string) {
	log.Error().
		Str("run_id", run.ID).
		Str("account_id", run.AccountID).
		Str("reason", message).
		Msg("Automation run failed")

	if err := p.database.FailAutomationRun(ctx, run.ID, message); err != nil {
		log.Warn().Err(err).Str("run_id", run.ID).Msg("Could not fail run, already in terminal state")
		return
	}

	observability.RecordAutomationRun(ctx, run.TriggerType, db.RunStatusFailed)

	if p.notifier != nil {
		run.ErrorMessage = message
		p.notifier.NotifyRunFailed(ctx, run)
	}
}

// listenForRuns wakes workers when the dispatcher publishes a run
func (p *Pool) listenForRuns(ctx context.Context) {
	defer p.wg.Done()

	wake := func() {
		select {
		case p.notifyCh <- struct{}{}:
		default:
			// Wakeup already pending
		}
	}

	listener := pq.NewListener(p.database.GetConfig().ConnectionString(),
		10*time.Second, // Min reconnect interval
		time.Minute,    // Max reconnect interval
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("Run notification listener error")
			}
		})
	defer listener.Close()

	if err := listener.Listen(runsChannel); err != nil {
		log.Error().Err(err).Msg("Failed to listen for run notifications, relying on polling")
		return
	}

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case n := <-listener.Notify:
			if n == nil {
				log.Warn().Msg("Run notification connection lost")
				continue
			}
			wake()
		case <-time.After(90 * time.Second):
			if err := listener.Ping(); err != nil {
				log.Error().Err(err).Msg("Run notification connection lost")
			}
		}
	}
}

// startPendingMonitor polls for pending runs the listener may have missed
func (p *Pool) startPendingMonitor(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-p.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				select {
				case p.notifyCh <- struct{}{}:
				default:
				}
			}
		}
	}()
}
