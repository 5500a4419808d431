package di

import (
	"github.com/buttermb/menulink/internal/crypto"
	"github.com/buttermb/menulink/internal/events"
	"github.com/buttermb/menulink/internal/handler"
	"github.com/buttermb/menulink/internal/repository"
	"github.com/buttermb/menulink/internal/security"
	"github.com/buttermb/menulink/internal/service"
	"github.com/buttermb/menulink/internal/worker"
	"github.com/buttermb/menulink/pkg/config"
	"github.com/buttermb/menulink/pkg/database"
	"github.com/buttermb/menulink/pkg/redis"
)

// Container holds all dependencies for the menulink service
type Container struct {
	// Infrastructure
	DB      *database.PostgresDB
	Redis   *redis.Client
	Bus     *events.Bus
	Vault   *crypto.Vault
	Monitor *security.Monitor

	// Repositories
	MenuRepo          repository.MenuRepository
	SecurityEventRepo repository.SecurityEventRepository

	// Services
	AccessService    service.AccessService
	LifecycleService service.LifecycleService

	// Worker
	LifecycleWorker *worker.LifecycleWorker

	// Handlers
	HealthHandler *handler.HealthHandler
	AccessHandler *handler.AccessHandler
	AdminHandler  *handler.AdminHandler
	StreamHandler *handler.StreamHandler
}

// ContainerConfig contains configuration for building the container
type ContainerConfig struct {
	Config *config.Config
	DB     *database.PostgresDB
	Redis  *redis.Client // may be nil; windows fall back to local memory
	Sink   events.Sink   // may be nil; events then stay in-process
	Vault  *crypto.Vault
}

// NewContainer creates a new dependency injection container
func NewContainer(cfg *ContainerConfig) *Container {
	c := &Container{
		DB:    cfg.DB,
		Redis: cfg.Redis,
		Vault: cfg.Vault,
	}

	// Initialize repositories
	c.MenuRepo = repository.NewPostgresMenuRepository(c.DB.Pool())
	c.SecurityEventRepo = repository.NewPostgresSecurityEventRepository(c.DB.Pool())

	// Initialize event fan-out and security monitoring
	c.Bus = events.NewBus(cfg.Sink)
	monitorCfg := security.DefaultConfig()
	monitorCfg.QueueSize = cfg.Config.Access.SecurityQueueSize
	monitorCfg.BadCodeThreshold = cfg.Config.Access.BadCodeThreshold
	monitorCfg.LockoutDuration = cfg.Config.Access.LockoutDuration
	c.Monitor = security.NewMonitor(monitorCfg, c.SecurityEventRepo, c.Redis, c.Bus)

	// Initialize services
	c.AccessService = service.NewAccessService(&service.AccessServiceConfig{
		DefaultRateLimitPerMinute: cfg.Config.Access.DefaultRateLimitPerMinute,
	}, c.MenuRepo, c.Monitor, c.Vault, c.Bus)

	lifecycleCfg := service.DefaultLifecycleServiceConfig()
	lifecycleCfg.ExpiringLookahead = cfg.Config.Scheduler.ExpiringLookahead
	c.LifecycleService = service.NewLifecycleService(lifecycleCfg, c.MenuRepo, c.Vault, c.Bus)

	// Initialize the lifecycle sweep
	workerCfg := worker.DefaultLifecycleWorkerConfig()
	workerCfg.ScanInterval = cfg.Config.Scheduler.ScanInterval
	workerCfg.BatchSize = cfg.Config.Scheduler.BatchSize
	c.LifecycleWorker = worker.NewLifecycleWorker(c.MenuRepo, c.LifecycleService, c.Redis, workerCfg)

	// Initialize handlers
	c.HealthHandler = handler.NewHealthHandler(c.DB, c.LifecycleWorker)
	c.AccessHandler = handler.NewAccessHandler(c.AccessService)
	c.AdminHandler = handler.NewAdminHandler(c.LifecycleService, c.AccessService, c.SecurityEventRepo)
	c.StreamHandler = handler.NewStreamHandler(c.Bus)

	return c
}

// Close releases container-owned resources in dependency order
func (c *Container) Close() {
	if c.LifecycleWorker != nil {
		c.LifecycleWorker.Stop()
	}
	if c.Monitor != nil {
		c.Monitor.Close()
	}
	if c.Bus != nil {
		c.Bus.Close()
	}
}
