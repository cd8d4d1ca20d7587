// ABOUTME: Gateway orchestrator that wires providers, tools, workflows and servers
// ABOUTME: Manages the HTTP API, the gRPC health server, and shutdown ordering

package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"

	"github.com/2389/workflow-gateway/internal/auth"
	"github.com/2389/workflow-gateway/internal/builtins"
	"github.com/2389/workflow-gateway/internal/config"
	"github.com/2389/workflow-gateway/internal/dedupe"
	"github.com/2389/workflow-gateway/internal/knowledge"
	"github.com/2389/workflow-gateway/internal/provider"
	"github.com/2389/workflow-gateway/internal/settings"
	"github.com/2389/workflow-gateway/internal/store"
	"github.com/2389/workflow-gateway/internal/tools"
	"github.com/2389/workflow-gateway/internal/workflow"
)

// Gateway owns every long-lived component of the server.
type Gateway struct {
	config     *config.Config
	store      *store.SQLiteStore
	providers  *provider.Registry
	closers    []io.Closer
	settings   *settings.Service
	knowledge  *knowledge.Service
	ledger     *dedupe.Ledger
	executor   *tools.Executor
	catalog    *workflow.Catalog
	workflows  *workflow.Manager
	grpcServer *grpc.Server
	health     *health.Server
	httpServer *http.Server
	logger     *slog.Logger
}

// initStore opens the SQLite store. WORKFLOW_GATEWAY_DB_PATH overrides the
// configured path.
func initStore(cfg *config.Config) (*store.SQLiteStore, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("WORKFLOW_GATEWAY_DB_PATH"); envPath != "" {
		dbPath = envPath
	}
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// loadCatalog merges the built-in workflow types with the optional
// definitions file. File entries replace built-ins of the same name.
func loadCatalog(cfg *config.Config) (*workflow.Catalog, error) {
	catalog := workflow.NewCatalog(workflow.Builtin()...)
	if cfg.Workflows.DefinitionsPath == "" {
		return catalog, nil
	}
	defs, err := workflow.LoadDefinitions(cfg.Workflows.DefinitionsPath)
	if err != nil {
		return nil, err
	}
	catalog.Merge(defs...)
	return catalog, nil
}

// New creates a Gateway from cfg. Nothing listens until Run.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	gw := &Gateway{
		config: cfg,
		store:  s,
		logger: logger.With("component", "gateway"),
	}
	if err := gw.init(logger); err != nil {
		gw.release()
		return nil, err
	}
	return gw, nil
}

func (g *Gateway) init(logger *slog.Logger) error {
	cfg := g.config

	registry, closers, err := buildRegistry(cfg.Providers, logger)
	if err != nil {
		return err
	}
	g.providers = registry
	g.closers = closers

	g.settings = settings.NewService(g.store, registry, logger)
	seedCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := g.settings.SeedDefaults(seedCtx, cfg.Settings); err != nil {
		return fmt.Errorf("seeding settings: %w", err)
	}

	g.knowledge = knowledge.NewService(g.settings, registry, logger)

	toolRegistry := tools.NewRegistry(logger)
	if err := builtins.RegisterAll(toolRegistry, g.store, g.knowledge); err != nil {
		return err
	}
	g.ledger = dedupe.New(24*time.Hour, 100_000)
	g.executor = tools.NewExecutor(tools.ExecutorConfig{
		Registry: toolRegistry,
		Ledger:   g.ledger,
		Timeout:  cfg.Agent.ToolTimeout,
		Logger:   logger,
	})

	g.catalog, err = loadCatalog(cfg)
	if err != nil {
		return err
	}
	factories := make([]*workflow.Factory, 0, len(g.catalog.Names()))
	for _, def := range g.catalog.All() {
		f, err := workflow.NewFactory(workflow.FactoryConfig{
			Definition:      def,
			Settings:        g.settings,
			Providers:       registry,
			Store:           g.store,
			Executor:        g.executor,
			MaxTokens:       cfg.History.MaxTokens,
			MaxMessages:     cfg.History.MaxMessages,
			MaxIterations:   cfg.Agent.MaxIterations,
			MaxOutputTokens: cfg.Agent.MaxOutputTokens,
			Logger:          logger,
		})
		if err != nil {
			return err
		}
		factories = append(factories, f)
	}
	g.workflows, err = workflow.NewManager(workflow.ManagerConfig{
		Factories: factories,
		Store:     g.store,
		Executor:  g.executor,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	if cfg.Server.GRPCAddr != "" {
		g.grpcServer = newGRPCServer()
		g.health = registerHealth(g.grpcServer, g.ready())
	}

	var verifier auth.TokenVerifier
	if cfg.Auth.JWTSecret != "" {
		verifier = auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		g.logger.Info("HTTP auth middleware enabled")
	}
	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           g.routes(auth.Middleware(verifier, logger)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.logger.Info("gateway initialized",
		"workflow_types", g.workflows.Types(),
		"providers", registry.IDs(),
		"tools", len(toolRegistry.Definitions()),
	)
	return nil
}

// Handler returns the HTTP handler serving the API and health endpoints.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// ready reports whether at least one inference provider is registered.
func (g *Gateway) ready() bool {
	return g.providers.Count(provider.CapabilityInference) > 0
}

// setupListeners creates TCP listeners for HTTP and, when configured, gRPC.
func (g *Gateway) setupListeners() (httpLn, grpcLn net.Listener, err error) {
	g.logger.Info("starting gateway",
		"grpc_addr", g.config.Server.GRPCAddr,
		"http_addr", g.config.Server.HTTPAddr,
	)

	httpLn, err = net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	if g.grpcServer == nil {
		return httpLn, nil, nil
	}
	grpcLn, err = net.Listen("tcp", g.config.Server.GRPCAddr)
	if err != nil {
		_ = httpLn.Close()
		return nil, nil, fmt.Errorf("listening on gRPC address: %w", err)
	}
	return httpLn, grpcLn, nil
}

// startServers starts the servers in goroutines, returning their error channel.
func (g *Gateway) startServers(httpLn, grpcLn net.Listener) chan error {
	errCh := make(chan error, 2)

	go func() {
		g.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := g.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	if grpcLn != nil {
		go func() {
			g.logger.Info("gRPC health server listening", "addr", grpcLn.Addr().String())
			if err := g.grpcServer.Serve(grpcLn); err != nil {
				errCh <- fmt.Errorf("gRPC server: %w", err)
			}
		}()
	}

	return errCh
}

// Run starts the servers and blocks until ctx is canceled or a server
// fails, then shuts down. Returns nil after a clean shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	httpLn, grpcLn, err := g.setupListeners()
	if err != nil {
		return err
	}

	errCh := g.startServers(httpLn, grpcLn)

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	// The run context is already done; shutdown gets its own deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), g.config.Server.ShutdownTimeout)
	defer cancel()
	shutdownErr := g.Shutdown(shutdownCtx)

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// shutdownGRPCServer gracefully stops the gRPC server or force-stops on ctx.
func (g *Gateway) shutdownGRPCServer(ctx context.Context) {
	if g.grpcServer == nil {
		return
	}
	g.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		g.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		g.grpcServer.Stop()
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown drains running turns, closes live workflows and their event
// streams, then stops the servers and releases resources. Turns still
// running when ctx ends are aborted and persisted as such.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	if g.health != nil {
		setHealth(g.health, false)
	}
	errs = appendCloseError(errs, "workflow drain", g.workflows.Shutdown(ctx))
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	g.shutdownGRPCServer(ctx)

	errs = append(errs, g.release()...)

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// release closes backends, the dedupe ledger and the store.
func (g *Gateway) release() []error {
	var errs []error
	for _, c := range g.closers {
		errs = appendCloseError(errs, "provider close", c.Close())
	}
	g.closers = nil
	if g.ledger != nil {
		g.ledger.Close()
		g.ledger = nil
	}
	if g.store != nil {
		errs = appendCloseError(errs, "store close", g.store.Close())
		g.store = nil
	}
	return errs
}
