package common

import (
	"context"
	"fmt"
	"log"
	"strings"

	"metered-assistant-go/internal/admin"
	"metered-assistant-go/internal/completion"
	"metered-assistant-go/internal/config"
	"metered-assistant-go/internal/conversation"
	"metered-assistant-go/internal/coordinator"
	"metered-assistant-go/internal/database"
	"metered-assistant-go/internal/formance"
	"metered-assistant-go/internal/ledger"
	"metered-assistant-go/internal/llm"
	"metered-assistant-go/internal/models"
	"metered-assistant-go/internal/reconciler"
	"metered-assistant-go/internal/session"
	"metered-assistant-go/internal/tokens"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// init loads environment variables from .env file if it exists
func init() {
	// Try to load .env file - if it doesn't exist, that's okay
	// Environment variables can be set via other means (shell export, docker, etc.)
	if err := godotenv.Load(); err != nil {
		log.Printf("Note: No .env file found or unable to load it: %v\n", err)
		log.Println("Make sure to set environment variables via export or other means")
	} else {
		log.Println("✓ Loaded environment variables from .env file")
	}
}

// Core is the ledger stack shared by the server and the operator tools.
type Core struct {
	DbService *database.Service
	Ledger    *ledger.Service
	// Mirror is nil when FORMANCE_STACK_URL is unset.
	Mirror *formance.Service
}

type Services struct {
	*Core
	Redis       *redis.Client
	Sessions    *session.Store
	Admin       *admin.Service
	Coordinator *coordinator.Coordinator
	Reconciler  *reconciler.HoldReconciler
}

func InitializeLogger() (*zap.Logger, func()) {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	zap.ReplaceGlobals(logger)

	cleanup := func() {
		if err := logger.Sync(); err != nil {
			if !isIgnorableSyncError(err) {
				log.Printf("Failed to sync logger: %v\n", err)
			}
		}
	}

	return logger, cleanup
}

// InitializeCore opens the database and builds the ledger, mirroring to
// Formance when configured.
func InitializeCore(ctx context.Context, cfg *models.Config) (*Core, error) {
	dbService, err := database.NewService(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	ledgerCfg := ledger.Config{WelcomeBonus: cfg.Billing.WelcomeBonus}
	var mirror *formance.Service
	if cfg.Formance.StackURL != "" {
		mirror, err = formance.NewService(ctx, cfg.Formance)
		if err != nil {
			dbService.Close()
			return nil, fmt.Errorf("failed to initialize ledger mirror: %w", err)
		}
		ledgerCfg.Mirror = mirror
	} else {
		zap.L().Info("Formance mirror disabled")
	}

	return &Core{
		DbService: dbService,
		Ledger:    ledger.NewService(dbService, ledgerCfg),
		Mirror:    mirror,
	}, nil
}

// InitializeServices wires the full request pipeline on top of InitializeCore.
func InitializeServices(ctx context.Context, cfg *models.Config) (*Services, error) {
	core, err := InitializeCore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	services := &Services{Core: core}

	catalog, err := config.LoadModelCatalog(cfg.AI.ModelsFile)
	if err != nil {
		services.Close()
		return nil, err
	}
	responses, err := config.LoadResponses(cfg.Billing.ResponsesFile)
	if err != nil {
		services.Close()
		return nil, err
	}

	zap.L().Info("Initializing completion provider",
		zap.String("base_url", cfg.AI.BaseURL),
		zap.String("model", cfg.AI.Model))
	client, err := llm.NewClient(cfg.AI)
	if err != nil {
		services.Close()
		return nil, err
	}

	budgeter := tokens.NewBudgeter(cfg.AI.SafetyMargin, cfg.AI.MinResponseTokens)
	orchestrator := completion.NewOrchestrator(client, budgeter, cfg.AI.RequestTimeout)

	services.Redis = session.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	services.Sessions = session.NewStore(services.Redis, cfg.Redis.SessionTTL)

	services.Admin = admin.NewService(core.DbService, core.Ledger, cfg.Billing.AdminIds)

	services.Coordinator = coordinator.New(coordinator.Config{
		ProjectName: cfg.ProjectName,
		AI:          cfg.AI,
		UsageCost:   cfg.Billing.UsageCost,
		DefaultRole: models.RolePrompt{
			RoleName: cfg.Billing.DefaultRoleName,
			Prompt:   cfg.Billing.DefaultRolePrompt,
		},
		Responses:  responses,
		RenderMode: cfg.Billing.RenderMode,
		Catalog:    catalog,
	}, coordinator.Dependencies{
		Accounts:      core.DbService,
		Conversations: core.DbService,
		Ledger:        core.Ledger,
		Context:       conversation.NewAssembler(core.DbService),
		Budgeter:      budgeter,
		Completer:     orchestrator,
	})

	services.Reconciler = reconciler.NewHoldReconciler(reconciler.HoldReconcilerConfig{
		Holds:         core.DbService,
		Ledger:        core.Ledger,
		HoldTimeout:   cfg.Reconciler.HoldTimeout,
		SweepInterval: cfg.Reconciler.SweepInterval,
	})

	zap.L().Info("Services initialized",
		zap.Int64("welcome_bonus", cfg.Billing.WelcomeBonus),
		zap.Int64("usage_cost", cfg.Billing.UsageCost),
		zap.Bool("sessions", services.Sessions.Enabled()),
		zap.Bool("mirror", core.Mirror != nil))
	return services, nil
}

func (c *Core) Close() error {
	if c == nil {
		return nil
	}
	if c.Mirror != nil {
		c.Mirror.Close()
	}
	if c.DbService != nil {
		c.DbService.Close()
	}
	return nil
}

func (cs *Services) Close() error {
	var err error
	if cs.Reconciler != nil {
		cs.Reconciler.Stop()
	}
	if cs.Redis != nil {
		err = multierr.Append(err, cs.Redis.Close())
	}
	return multierr.Append(err, cs.Core.Close())
}

func isIgnorableSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "sync /dev/stderr: inappropriate ioctl for device") ||
		strings.Contains(msg, "sync /dev/stdout: inappropriate ioctl for device")
}
