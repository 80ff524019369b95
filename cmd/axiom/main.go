package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.temporal.io/sdk/client"

	"github.com/axiom-research/axiom/internal/api"
	"github.com/axiom-research/axiom/internal/config"
	"github.com/axiom-research/axiom/internal/events"
	"github.com/axiom-research/axiom/internal/llm"
	"github.com/axiom-research/axiom/internal/research"
	"github.com/axiom-research/axiom/internal/store/postgres"
	"github.com/axiom-research/axiom/internal/tools"
	"github.com/axiom-research/axiom/internal/workflows"
)

type server interface {
	Start(ctx context.Context, addr string) error
}

var (
	loadConfig = func() (config.Config, error) {
		return config.Load(), nil
	}
	newBroker = events.NewBroker
	newStore  = func(conn string) (*postgres.PostgresStore, error) {
		return postgres.New(conn)
	}
	dialTemporal       = client.Dial
	newWorkflowService = workflows.NewService
	newProvider        = func(ctx context.Context, cfg config.Config) (llm.Provider, error) {
		return llm.NewGeminiProvider(ctx, llm.GeminiConfig{
			APIKey: cfg.GeminiAPIKey,
			Model:  cfg.Model,
		})
	}
	newServer = func(store *postgres.PostgresStore, broker *events.Broker, workflows *workflows.Service, engine api.TurnRunner, cfg config.Config) server {
		return api.NewServer(store, broker, workflows, engine, cfg)
	}
	notifyContext = signal.NotifyContext
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
	ctx, cancel := notifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	broker := newBroker()
	store, err := newStore(cfg.PostgresURL)
	if err != nil {
		return err
	}

	workflowClient, err := dialTemporal(client.Options{HostPort: cfg.TemporalAddress})
	if err != nil {
		return err
	}
	if workflowClient != nil {
		defer workflowClient.Close()
	}
	workflowService := newWorkflowService(workflowClient, cfg.TemporalTaskQueue)

	var engine api.TurnRunner
	provider, err := newProvider(ctx, cfg)
	if err != nil {
		log.Printf("warning: research engine disabled: %v", err)
	} else {
		engine = research.NewEngine(provider, newToolRegistry(cfg), research.Config{MaxSteps: cfg.MaxResearchSteps}, nil)
	}

	server := newServer(store, broker, workflowService, engine, cfg)

	addr := fmt.Sprintf(":%s", cfg.Port)
	log.Printf("Axiom API listening on %s", addr)
	if err := server.Start(ctx, addr); err != nil {
		return err
	}

	return nil
}

func newToolRegistry(cfg config.Config) *tools.Registry {
	return tools.NewRegistry(
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
}
