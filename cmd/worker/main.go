package main

import (
	"context"
	"log"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/axiom-research/axiom/internal/config"
	"github.com/axiom-research/axiom/internal/llm"
	"github.com/axiom-research/axiom/internal/research"
	"github.com/axiom-research/axiom/internal/store/postgres"
	"github.com/axiom-research/axiom/internal/tools"
	"github.com/axiom-research/axiom/internal/workflows"
)

var (
	loadConfig = func() (config.Config, error) {
		return config.Load(), nil
	}
	dialTemporal = client.Dial
	newStore     = func(conn string) (*postgres.PostgresStore, error) {
		return postgres.New(conn)
	}
	newProvider = func(ctx context.Context, cfg config.Config) (llm.Provider, error) {
		return llm.NewGeminiProvider(ctx, llm.GeminiConfig{
			APIKey: cfg.GeminiAPIKey,
			Model:  cfg.Model,
		})
	}
	newActivities   = workflows.NewResearchActivities
	newWorker       = worker.New
	workerInterrupt = worker.InterruptCh
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	temporalClient, err := dialTemporal(client.Options{
		HostPort: cfg.TemporalAddress,
	})
	if err != nil {
		return err
	}
	if temporalClient != nil {
		defer temporalClient.Close()
	}

	store, err := newStore(cfg.PostgresURL)
	if err != nil {
		return err
	}

	provider, err := newProvider(context.Background(), cfg)
	if err != nil {
		return err
	}
	registry := tools.NewRegistry(
		tools.NewSearchClient(tools.SearchConfig{
			APIKey:     cfg.TavilyAPIKey,
			BaseURL:    cfg.SearchBaseURL,
			MaxResults: cfg.SearchMaxResults,
		}, nil),
		tools.NewPageReader(tools.ReaderConfig{
			BaseURL:  cfg.ReaderBaseURL,
			MaxChars: cfg.PageContentMaxChars,
		}, nil),
	)
	engine := research.NewEngine(provider, registry, research.Config{MaxSteps: cfg.MaxResearchSteps}, nil)
	activities := newActivities(store, engine, provider, cfg.APIBaseURL)

	w := newWorker(temporalClient, cfg.TemporalTaskQueue, worker.Options{})
	w.RegisterWorkflow(workflows.ResearchWorkflow)
	w.RegisterActivity(activities)

	log.Println("Axiom worker started")
	if err := w.Run(workerInterrupt()); err != nil {
		return err
	}

	return nil
}
