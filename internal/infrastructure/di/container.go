package di

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/spf13/afero"

	agentgateway "github.com/YoshitsuguKoike/asw/internal/adapter/gateway/agent"
	githubgateway "github.com/YoshitsuguKoike/asw/internal/adapter/gateway/github"
	storagegateway "github.com/YoshitsuguKoike/asw/internal/adapter/gateway/storage"
	"github.com/YoshitsuguKoike/asw/internal/app"
	"github.com/YoshitsuguKoike/asw/internal/app/config"
	"github.com/YoshitsuguKoike/asw/internal/application/port/output"
	"github.com/YoshitsuguKoike/asw/internal/application/service"
	"github.com/YoshitsuguKoike/asw/internal/application/workflow"
	"github.com/YoshitsuguKoike/asw/internal/domain/repository"
	"github.com/YoshitsuguKoike/asw/internal/infra/git"
	"github.com/YoshitsuguKoike/asw/internal/infra/metrics"
	"github.com/YoshitsuguKoike/asw/internal/infra/ports"
	"github.com/YoshitsuguKoike/asw/internal/infra/repository/state"
	"github.com/YoshitsuguKoike/asw/internal/infra/verify"
	sqliterepo "github.com/YoshitsuguKoike/asw/internal/infrastructure/persistence/sqlite"
	templaterepo "github.com/YoshitsuguKoike/asw/internal/infrastructure/repository"
	"github.com/YoshitsuguKoike/asw/internal/infrastructure/transaction"
)

// Container is the DI container that holds all dependencies
// This implements manual dependency injection for Clean Architecture
type Container struct {
	cfg    config.Config
	logger app.Logger
	fs     afero.Fs

	// Infrastructure Layer - Database
	db        *sql.DB
	txManager output.TransactionManager

	// Infrastructure Layer - Repositories
	runLockRepo repository.RunLockRepository
	indexRepo   repository.WorkflowIndexRepository
	states      *state.IndexedStateRepository
	templates   repository.PromptTemplateRepository

	// Infrastructure Layer - Workspace
	worktrees *git.WorktreeManager
	allocator *ports.Allocator
	verifier  *verify.CommandVerifier
	metrics   *metrics.Recorder

	// Infrastructure Layer - Gateways
	agentGateway   output.AgentGateway
	changeGateway  output.ChangeRequestGateway
	storageGateway output.StorageGateway

	// Application Layer
	lockService  service.LockService
	orchestrator *workflow.Orchestrator
}

// Options selects the configuration and optional replacements for gateways
type Options struct {
	Config config.Config
	Logger app.Logger
	FS     afero.Fs // defaults to the OS filesystem

	// Replacements, mainly for tests
	AgentGateway  output.AgentGateway
	ChangeGateway output.ChangeRequestGateway
}

// NewContainer creates and initializes the DI container
func NewContainer(ctx context.Context, opts Options) (*Container, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	c := &Container{cfg: opts.Config, logger: opts.Logger, fs: opts.FS}
	if c.logger == nil {
		c.logger = app.NopLogger{}
	}
	if c.fs == nil {
		c.fs = afero.NewOsFs()
	}

	// Initialize dependencies in dependency order
	if err := c.initializeInfrastructure(ctx, opts); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize infrastructure: %w", err)
	}
	c.initializeApplication()
	return c, nil
}

// initializeInfrastructure initializes infrastructure layer components
func (c *Container) initializeInfrastructure(ctx context.Context, opts Options) error {
	// 1. SQLite database (run locks, workflow index)
	db, err := sqliterepo.Open(c.cfg.DBPath())
	if err != nil {
		return err
	}
	c.db = db
	c.txManager = transaction.NewSQLiteTransactionManager(db)
	c.runLockRepo = sqliterepo.NewRunLockRepository(db)
	c.indexRepo = sqliterepo.NewWorkflowIndexRepository(db)

	// 2. State store: YAML files mirrored into the index
	files := state.NewFileStateRepository(c.fs, c.cfg.AgentsRoot(), c.logger)
	c.states = state.NewIndexedStateRepository(files, c.indexRepo, c.logger)
	c.states.UseTransactions(c.txManager)
	c.templates = templaterepo.NewPromptTemplateRepositoryImpl(c.fs, c.cfg.Home())

	// 3. Workspace
	c.worktrees, err = git.NewWorktreeManager(c.cfg.RepoRoot(), c.cfg.WorktreesRoot(), c.cfg.TrunkBranch(),
		git.NewRunner(0), c.logger)
	if err != nil {
		return err
	}
	c.allocator = ports.NewAllocator(c.cfg.Ports(), ports.BindProber{}, c.indexRepo, c.logger)
	c.verifier = verify.NewCommandVerifier(c.cfg.Timeout(), c.logger)
	c.metrics = metrics.NewRecorder(c.cfg.MetricsFile())

	// 4. Gateways
	c.agentGateway = opts.AgentGateway
	if c.agentGateway == nil {
		c.agentGateway, err = agentgateway.NewAgentGateway(c.cfg, c.logger)
		if err != nil {
			return fmt.Errorf("failed to create agent gateway: %w", err)
		}
	}
	c.changeGateway = opts.ChangeGateway
	if c.changeGateway == nil {
		c.changeGateway = githubgateway.NewGHGateway(c.cfg.GitHub(), c.logger)
	}
	c.storageGateway, err = storagegateway.NewStorageGateway(ctx, c.cfg.Archive(), c.fs)
	if err != nil {
		return fmt.Errorf("failed to create archive gateway: %w", err)
	}
	return nil
}

// initializeApplication initializes application layer components
func (c *Container) initializeApplication() {
	c.lockService = service.NewLockService(c.runLockRepo, service.LockServiceConfig{TTL: c.cfg.LockTTL()}, c.logger)

	deps := workflow.Deps{
		States:    c.states,
		Worktrees: c.worktrees,
		Ports:     c.allocator,
		Agent:     c.agentGateway,
		Locks:     c.lockService,
		Verifier:  c.verifier,
		Changes:   c.changeGateway,
		Archive:   c.storageGateway,
		Prompts:   service.NewPromptBuilderService(c.templates, c.logger),
		Metrics:   c.metrics,
		FS:        c.fs,
		Logger:    c.logger,
	}
	c.orchestrator = workflow.New(c.cfg, deps)
}

// Config returns the loaded configuration
func (c *Container) Config() config.Config { return c.cfg }

// Orchestrator returns the phase state machine
func (c *Container) Orchestrator() *workflow.Orchestrator { return c.orchestrator }

// States returns the indexed state store
func (c *Container) States() *state.IndexedStateRepository { return c.states }

// Index returns the sqlite workflow index
func (c *Container) Index() repository.WorkflowIndexRepository { return c.indexRepo }

// Worktrees returns the git worktree manager
func (c *Container) Worktrees() *git.WorktreeManager { return c.worktrees }

// Allocator returns the port allocator
func (c *Container) Allocator() *ports.Allocator { return c.allocator }

// LockService returns the lock service
func (c *Container) LockService() service.LockService { return c.lockService }

// StorageGateway returns the archive gateway, nil when archiving is off
func (c *Container) StorageGateway() output.StorageGateway { return c.storageGateway }

// Metrics returns the metrics recorder
func (c *Container) Metrics() *metrics.Recorder { return c.metrics }

// Close flushes metrics, stops lock heartbeats and closes the database
func (c *Container) Close() error {
	if c.metrics != nil {
		if err := c.metrics.Flush(); err != nil {
			c.logger.Warn("failed to write metrics file: %v", err)
		}
	}
	if c.lockService != nil {
		if err := c.lockService.Stop(); err != nil {
			c.logger.Warn("failed to stop lock service: %v", err)
		}
	}
	if c.db != nil {
		err := c.db.Close()
		c.db = nil
		return err
	}
	return nil
}
