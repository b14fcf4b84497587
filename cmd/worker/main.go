// The worker consumes durable events: ingestion, qualification, research,
// generation, review, orchestration, attribution-adjacent side effects,
// learning, and notifications. Run as many replicas as throughput needs;
// per-lead locks and checkpointed steps keep them from stepping on each
// other.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/brightline/outreach-engine/internal/archive"
	"github.com/brightline/outreach-engine/internal/attribution"
	"github.com/brightline/outreach-engine/internal/config"
	"github.com/brightline/outreach-engine/internal/domain"
	"github.com/brightline/outreach-engine/internal/ingest"
	"github.com/brightline/outreach-engine/internal/learning"
	"github.com/brightline/outreach-engine/internal/notify"
	"github.com/brightline/outreach-engine/internal/orchestrator"
	"github.com/brightline/outreach-engine/internal/pkg/logger"
	"github.com/brightline/outreach-engine/internal/prompts"
	"github.com/brightline/outreach-engine/internal/providers"
	"github.com/brightline/outreach-engine/internal/qualify"
	"github.com/brightline/outreach-engine/internal/research"
	"github.com/brightline/outreach-engine/internal/runner"
	"github.com/brightline/outreach-engine/internal/sequence"
	"github.com/brightline/outreach-engine/internal/store"
)

func main() {
	cfg, err := config.LoadFromEnv(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("[Worker] config: %v", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))

	db, err := store.Open(cfg.Store.DatabaseURL, cfg.Store.MaxOpenConns, cfg.Store.MaxIdleConns, cfg.Store.ConnMaxLifetime)
	if err != nil {
		log.Fatalf("[Worker] database: %v", err)
	}
	defer db.Close()
	st := store.New(db)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Store.RedisAddr,
		Password: cfg.Store.RedisPassword,
	})
	defer rdb.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry, err := providers.NewRegistry(ctx, cfg.Providers, rdb)
	if err != nil {
		log.Fatalf("[Worker] providers: %v", err)
	}
	archiver, err := archive.New(ctx, cfg.Archive)
	if err != nil {
		log.Fatalf("[Worker] archive: %v", err)
	}

	run := runner.New(db, runner.Config{
		NumWorkers:   cfg.Runner.NumWorkers,
		PollInterval: time.Duration(cfg.Runner.PollIntervalSeconds) * time.Second,
		MaxAttempts:  cfg.Runner.MaxAttempts,
	})

	if err := seedPrompts(ctx, st); err != nil {
		log.Fatalf("[Worker] seed prompts: %v", err)
	}

	recorder := attribution.New(st)
	ingestor := ingest.New(st, run, registry.Search())
	qualifier := qualify.New(st, run, registry)
	researcher := research.New(st, run, registry, archiver)
	generator := sequence.NewGenerator(st, run, registry)
	reviewer := sequence.NewReviewer(st, run, registry)
	orch := orchestrator.New(st, rdb, run, registry, recorder)
	learner := learning.New(st, run, registry, cfg.Learning)
	notifier := notify.New(st, registry)

	run.Register(runner.EvCampaignIngest, ingestor.HandleDispatch, runner.HandlerOpts{})
	run.Register(runner.EvCampaignManualIngest, ingestor.HandleCampaign, runner.HandlerOpts{
		Concurrency: cfg.Runner.IngestConcurrency,
		Timeout:     5 * time.Minute,
	})
	run.Register(runner.EvLeadIngested, qualifier.Handle, runner.HandlerOpts{Concurrency: 8})
	run.Register(runner.EvLeadIntentIngested, qualifier.Handle, runner.HandlerOpts{Concurrency: 8})
	run.Register(runner.EvLeadReadyForDeploy, researcher.Handle, runner.HandlerOpts{
		Concurrency: 4,
		Timeout:     4 * time.Minute,
	})
	run.Register(runner.EvLeadResearchComplete, generator.HandleResearchComplete, runner.HandlerOpts{
		Concurrency: 4,
		Timeout:     5 * time.Minute,
	})
	run.Register(runner.EvSequenceRevisionNeed, generator.HandleRevision, runner.HandlerOpts{
		Concurrency: 4,
		Timeout:     5 * time.Minute,
	})
	run.Register(runner.EvSequenceReviewReq, reviewer.HandleReviewRequested, runner.HandlerOpts{Concurrency: 4})
	run.Register(runner.EvSequenceRevisionDone, reviewer.HandleReviewRequested, runner.HandlerOpts{Concurrency: 4})
	run.Register(runner.EvLeadSequenceReady, orch.HandleSequenceReady, runner.HandlerOpts{Concurrency: 4})
	run.Register(runner.EvOrchestrationEvent, orch.HandleEvent, runner.HandlerOpts{Concurrency: 8})
	run.Register(runner.EvWaitingTimeout, orch.HandleEvent, runner.HandlerOpts{Concurrency: 8})
	run.Register(runner.EvLearningAnalyze, learner.HandleAnalyze, runner.HandlerOpts{
		Concurrency: 1,
		Timeout:     10 * time.Minute,
	})
	run.Register(runner.EvDailyDigest, notifier.HandleDailyDigest, runner.HandlerOpts{Concurrency: 1})

	cron := runner.NewCronScheduler(db, run)
	ensure := func(name, event string, payload any, every time.Duration) {
		if err := cron.Ensure(ctx, name, event, payload, every); err != nil {
			log.Fatalf("[Worker] cron %s: %v", name, err)
		}
	}
	ensure("ingest-pixel", runner.EvCampaignIngest, ingest.DispatchPayload{SourceType: domain.SourcePixel}, 1*time.Hour)
	ensure("ingest-intent", runner.EvCampaignIngest, ingest.DispatchPayload{SourceType: domain.SourceIntent}, 6*time.Hour)
	ensure("ingest-apollo", runner.EvCampaignIngest, ingest.DispatchPayload{SourceType: domain.SourceApollo}, 24*time.Hour)
	ensure("learning-daily", runner.EvLearningAnalyze, learning.AnalyzePayload{}, 24*time.Hour)
	ensure("daily-digest", runner.EvDailyDigest, notify.DigestPayload{}, 24*time.Hour)

	recovery := runner.NewRecoveryWorker(db)

	if err := run.Start(); err != nil {
		log.Fatalf("[Worker] runner: %v", err)
	}
	cron.Start()
	recovery.Start()
	log.Printf("[Worker] running with %d workers", cfg.Runner.NumWorkers)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Println("[Worker] shutting down")
	recovery.Stop()
	cron.Stop()
	run.Stop()
}

// seedPrompts makes sure every evolvable prompt has a definition and an
// active version 1 so generation never races an empty table.
func seedPrompts(ctx context.Context, st *store.Store) error {
	seeds := map[string]string{
		prompts.NameQualification:  prompts.DefaultQualification,
		prompts.NameSequenceWriter: prompts.DefaultSequenceWriter,
		prompts.NameReviewer:       prompts.DefaultReviewer,
	}

	tenantIDs, err := st.Tenants.ListIDs(ctx)
	if err != nil {
		return err
	}
	for _, tenantID := range tenantIDs {
		for name, body := range seeds {
			def, err := st.Prompts.EnsureDefinition(ctx, tenantID, name, true)
			if err != nil {
				return err
			}
			if _, err := st.Prompts.ActiveVersion(ctx, def.ID); err == nil {
				continue
			} else if err != store.ErrNotFound {
				return err
			}
			v := &domain.PromptVersion{
				PromptID: def.ID,
				Version:  1,
				Body:     body,
				Status:   domain.PromptVersionTesting,
			}
			if err := st.Prompts.InsertVersion(ctx, v); err != nil {
				if err == store.ErrConflict {
					continue
				}
				return err
			}
			if err := st.Prompts.ActivateVersion(ctx, def.ID, v.ID); err != nil {
				return err
			}
		}
	}
	return nil
}
