// Package app assembles the automation engine and its HTTP API from settings
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	fiber "github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"gorm.io/gorm"

	"github.com/Kensan196948G/ServiceGrid-sub004/internal/adapters"
	"github.com/Kensan196948G/ServiceGrid-sub004/internal/audit"
	"github.com/Kensan196948G/ServiceGrid-sub004/internal/config"
	"github.com/Kensan196948G/ServiceGrid-sub004/internal/db"
	"github.com/Kensan196948G/ServiceGrid-sub004/internal/db/repos"
	"github.com/Kensan196948G/ServiceGrid-sub004/internal/events"
	"github.com/Kensan196948G/ServiceGrid-sub004/internal/logger"
	"github.com/Kensan196948G/ServiceGrid-sub004/internal/notify"
	"github.com/Kensan196948G/ServiceGrid-sub004/internal/policy"
	"github.com/Kensan196948G/ServiceGrid-sub004/internal/runner"
	"github.com/Kensan196948G/ServiceGrid-sub004/internal/scheduler"
	"github.com/Kensan196948G/ServiceGrid-sub004/internal/workflow"
	"github.com/Kensan196948G/ServiceGrid-sub004/pkg/api/v1/handlers"
	"github.com/Kensan196948G/ServiceGrid-sub004/pkg/api/v1/middleware"
	"github.com/Kensan196948G/ServiceGrid-sub004/pkg/api/v1/routes"
)

// Server owns every long-lived component of the process
type Server struct {
	App       *fiber.App
	Engine    *workflow.Engine
	Scheduler *scheduler.Scheduler
	Ledger    *audit.Ledger
	Bus       *events.Bus

	settings *config.Settings
	db       *gorm.DB
	ownsDB   bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
	runErr chan error
}

// NewApp creates the fiber app with the v1 routes registered
func NewApp(requestHandler *handlers.RequestHandler, jobHandler *handlers.JobHandler, auditHandler *handlers.AuditHandler) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler:          customErrorHandler,
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(middleware.Logger())

	routes.RegisterRoutes(app, requestHandler, jobHandler, auditHandler)
	return app
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
	}

	return c.Status(code).JSON(fiber.Map{
		"slug":  "error",
		"error": err.Error(),
	})
}

// New opens the database when enabled and assembles the server. Nothing runs until Start.
func New(ctx context.Context, settings *config.Settings) (*Server, error) {
	if !settings.DBEnabled {
		logger.Warn("⚠️ Database disabled, state is kept in memory and lost on restart")
		return Assemble(ctx, settings, nil)
	}
	conn, err := db.New(settings.DB)
	if err != nil {
		return nil, err
	}
	s, err := Assemble(ctx, settings, conn)
	if err != nil {
		if sqlDB, dbErr := conn.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
		return nil, err
	}
	s.ownsDB = true
	return s, nil
}

// Assemble loads the configuration files and wires the components together on top of
// conn, which must already be migrated. A nil conn keeps all state in memory. The
// caller keeps ownership of conn.
func Assemble(ctx context.Context, settings *config.Settings, conn *gorm.DB) (*Server, error) {
	pol, err := policy.LoadFile(settings.PolicyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load security policy: %w", err)
	}
	wf, err := workflow.LoadFile(settings.WorkflowFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow config: %w", err)
	}
	registry, err := adapters.LoadRegistry(settings.AdaptersFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load adapter registry: %w", err)
	}

	s := &Server{settings: settings, db: conn, Bus: events.NewBus()}

	var (
		repo          workflow.Repository
		startSequence uint64
	)
	if conn != nil {
		store := repos.NewStore(conn)
		auditRepo := repos.NewAuditRepository(conn)
		last, err := auditRepo.Last(ctx)
		if err != nil && !errors.Is(err, repos.ErrNotFound) {
			return nil, err
		}
		s.Ledger = audit.New(audit.WithSink(auditRepo), audit.WithReader(auditRepo), audit.WithResume(last))
		if startSequence, err = store.MaxJobSequence(ctx); err != nil {
			return nil, err
		}
		repo = store
	} else {
		s.Ledger = audit.New()
		repo = workflow.NewMemoryRepository()
	}

	validator := policy.NewValidator(pol, s.Ledger)
	exec := runner.New(validator, registry, s.Ledger, runner.WithLimits(pol.MaxExecution(), pol.MaxMemoryBytes()))
	s.Scheduler = scheduler.New(exec, scheduler.Options{
		MaxConcurrentJobs: pol.MaxConcurrentJobs(),
		RetentionWindow:   settings.RetentionWindow,
		SweepInterval:     settings.SweepInterval,
		StartSequence:     startSequence,
		Store:             repo,
		Ledger:            s.Ledger,
		Events:            s.Bus,
	})
	s.Engine = workflow.NewEngine(wf, s.Scheduler, workflow.Options{
		Repository: repo,
		Ledger:     s.Ledger,
		Events:     s.Bus,
	})

	if settings.EscalationWebhookURL != "" {
		hook, err := notify.NewWebhook(settings.EscalationWebhookURL, settings.EscalationWebhookTimeout)
		if err != nil {
			return nil, err
		}
		hook.Subscribe(s.Bus, events.EventSLABreached, events.EventApprovalRequired)
		hook.SubscribeFailures(s.Bus)
	}

	var archiver handlers.Archiver
	if settings.Archive != nil {
		a, err := audit.NewArchiver(*settings.Archive)
		if err != nil {
			return nil, err
		}
		archiver = a
	}

	s.App = NewApp(
		handlers.NewRequestHandler(s.Engine),
		handlers.NewJobHandler(s.Engine, s.Scheduler),
		handlers.NewAuditHandler(s.Ledger, archiver),
	)
	logger.InfoWithFields("✅ Server assembled", map[string]interface{}{
		"db_enabled":      conn != nil,
		"max_concurrency": pol.MaxConcurrentJobs(),
		"adapter_kinds":   len(registry.Kinds()),
		"archive_enabled": archiver != nil,
	})
	return s, nil
}

// Start runs the event loop, the dispatch loop and the SLA monitor, then re-admits jobs
// left over from the previous run
func (s *Server) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)
	s.runErr = make(chan error, 1)

	s.Bus.Start(ctx)
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.runErr <- s.Scheduler.Run(ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.Engine.RunSLAMonitor(ctx, s.settings.SLAMonitorInterval)
	}()

	n, err := s.Engine.Restore(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		logger.Infof("♻️ Restored %d pending jobs", n)
	}
	return nil
}

// Serve accepts API connections on ln until Shutdown
func (s *Server) Serve(ln net.Listener) error {
	return s.App.Listener(ln)
}

// Shutdown stops accepting requests, cancels running jobs and waits for the loops to exit
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	if err := s.App.ShutdownWithContext(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop API server: %w", err))
	}
	if s.cancel != nil {
		s.cancel()
		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			if err := <-s.runErr; err != nil && !errors.Is(err, context.Canceled) {
				errs = append(errs, err)
			}
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("timed out waiting for running jobs: %w", ctx.Err()))
		}
	}
	if s.ownsDB {
		if sqlDB, err := s.db.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				errs = append(errs, fmt.Errorf("failed to close database: %w", err))
			}
		}
	}
	return errors.Join(errs...)
}
