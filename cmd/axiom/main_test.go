package main

import (
	"context"
	"errors"
	"os"
	"testing"

	"go.temporal.io/sdk/client"

	"github.com/axiom-research/axiom/internal/api"
	"github.com/axiom-research/axiom/internal/config"
	"github.com/axiom-research/axiom/internal/events"
	"github.com/axiom-research/axiom/internal/llm"
	"github.com/axiom-research/axiom/internal/store/postgres"
	"github.com/axiom-research/axiom/internal/workflows"
)

type stubServer struct {
	err error
}

func (s stubServer) Start(ctx context.Context, addr string) error {
	return s.err
}

type stubProvider struct{}

func (stubProvider) Stream(ctx context.Context, req llm.StreamRequest) (llm.Stream, error) {
	return nil, errors.New("not implemented")
}

func captureAPIDeps() func() {
	origLoadConfig := loadConfig
	origNewBroker := newBroker
	origNewStore := newStore
	origDialTemporal := dialTemporal
	origNewWorkflowService := newWorkflowService
	origNewProvider := newProvider
	origNewServer := newServer
	origNotifyContext := notifyContext

	return func() {
		loadConfig = origLoadConfig
		newBroker = origNewBroker
		newStore = origNewStore
		dialTemporal = origDialTemporal
		newWorkflowService = origNewWorkflowService
		newProvider = origNewProvider
		newServer = origNewServer
		notifyContext = origNotifyContext
	}
}

func TestRunSuccess(t *testing.T) {
	restore := captureAPIDeps()
	t.Cleanup(restore)

	loadConfig = func() (config.Config, error) {
		return config.Config{
			Port:            "0",
			PostgresURL:     "postgres://example",
			TemporalAddress: "localhost:7233",
			GeminiAPIKey:    "key",
		}, nil
	}
	newStore = func(_ string) (*postgres.PostgresStore, error) {
		return &postgres.PostgresStore{}, nil
	}
	dialTemporal = func(_ client.Options) (client.Client, error) {
		return nil, nil
	}
	newWorkflowService = func(_ client.Client, _ string) *workflows.Service {
		return nil
	}
	newProvider = func(_ context.Context, _ config.Config) (llm.Provider, error) {
		return stubProvider{}, nil
	}
	engineConfigured := false
	newServer = func(_ *postgres.PostgresStore, _ *events.Broker, _ *workflows.Service, engine api.TurnRunner, _ config.Config) server {
		engineConfigured = engine != nil
		return stubServer{}
	}
	notifyContext = func(ctx context.Context, _ ...os.Signal) (context.Context, context.CancelFunc) {
		return context.WithCancel(ctx)
	}

	if err := run(); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !engineConfigured {
		t.Fatal("expected research engine to be wired into the server")
	}
}

func TestRunProviderFailureIsNonFatal(t *testing.T) {
	restore := captureAPIDeps()
	t.Cleanup(restore)

	loadConfig = func() (config.Config, error) {
		return config.Config{
			Port:            "0",
			PostgresURL:     "postgres://example",
			TemporalAddress: "localhost:7233",
		}, nil
	}
	newStore = func(_ string) (*postgres.PostgresStore, error) {
		return nil, nil
	}
	dialTemporal = func(_ client.Options) (client.Client, error) {
		return nil, nil
	}
	newWorkflowService = func(_ client.Client, _ string) *workflows.Service {
		return nil
	}
	newProvider = func(_ context.Context, _ config.Config) (llm.Provider, error) {
		return nil, llm.ErrMissingAPIKey
	}
	engineConfigured := true
	newServer = func(_ *postgres.PostgresStore, _ *events.Broker, _ *workflows.Service, engine api.TurnRunner, _ config.Config) server {
		engineConfigured = engine != nil
		return stubServer{}
	}
	notifyContext = func(ctx context.Context, _ ...os.Signal) (context.Context, context.CancelFunc) {
		return context.WithCancel(ctx)
	}

	if err := run(); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if engineConfigured {
		t.Fatal("expected server to run without an engine")
	}
}

func TestRunConfigLoadFailure(t *testing.T) {
	restore := captureAPIDeps()
	t.Cleanup(restore)

	loadConfig = func() (config.Config, error) {
		return config.Config{}, errors.New("config load failed")
	}

	if err := run(); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestRunStoreInitFailure(t *testing.T) {
	restore := captureAPIDeps()
	t.Cleanup(restore)

	loadConfig = func() (config.Config, error) {
		return config.Config{PostgresURL: "postgres://example"}, nil
	}
	newStore = func(_ string) (*postgres.PostgresStore, error) {
		return nil, errors.New("store init failed")
	}

	if err := run(); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestRunTemporalClientFailure(t *testing.T) {
	restore := captureAPIDeps()
	t.Cleanup(restore)

	loadConfig = func() (config.Config, error) {
		return config.Config{
			PostgresURL:     "postgres://example",
			TemporalAddress: "localhost:7233",
		}, nil
	}
	newStore = func(_ string) (*postgres.PostgresStore, error) {
		return nil, nil
	}
	dialTemporal = func(_ client.Options) (client.Client, error) {
		return nil, errors.New("temporal dial failed")
	}

	if err := run(); err == nil {
		t.Fatal("expected error, got nil")
	}
}
