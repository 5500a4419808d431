package security

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/buttermb/menulink/internal/domain"
	"github.com/buttermb/menulink/internal/repository"
	"github.com/buttermb/menulink/pkg/logger"
	pkgredis "github.com/buttermb/menulink/pkg/redis"
)

// Publisher is the slice of the notifier the monitor needs
type Publisher interface {
	Publish(event *domain.Event)
}

// Config holds SecurityMonitor settings
type Config struct {
	// QueueSize bounds the ingest queue; events beyond it are dropped
	// and counted rather than blocking the request path.
	QueueSize int
	// Window is the velocity window length
	Window time.Duration
	// BadCodeThreshold is how many bad_code outcomes within Window
	// escalate to a brute-force lockout.
	BadCodeThreshold int
	// LockoutDuration is how long an IP stays locked out after escalation
	LockoutDuration time.Duration
	// WriteTimeout bounds each log append
	WriteTimeout time.Duration
}

// DefaultConfig returns default monitor settings
func DefaultConfig() *Config {
	return &Config{
		QueueSize:        1024,
		Window:           time.Minute,
		BadCodeThreshold: 5,
		LockoutDuration:  15 * time.Minute,
		WriteTimeout:     3 * time.Second,
	}
}

// Monitor is the append-only security log front end. Ingestion is
// decoupled from the request path through a bounded queue: monitoring
// slowness never turns into a failed customer request.
type Monitor struct {
	config   *Config
	events   repository.SecurityEventRepository
	window   *VelocityWindow
	badCodes *VelocityWindow
	redis    *pkgredis.Client
	notifier Publisher

	queue    chan *domain.SecurityEvent
	stop     chan struct{}
	wg       sync.WaitGroup
	draining atomic.Bool

	dropped  atomic.Uint64
	ingested atomic.Uint64
}

// NewMonitor creates a security monitor. redis may be nil; lockouts
// then live only in the velocity window's local fallback.
func NewMonitor(cfg *Config, events repository.SecurityEventRepository, redis *pkgredis.Client, notifier Publisher) *Monitor {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	m := &Monitor{
		config:   cfg,
		events:   events,
		window:   NewVelocityWindow(redis, cfg.Window),
		badCodes: NewVelocityWindow(redis, cfg.Window),
		redis:    redis,
		notifier: notifier,
		queue:    make(chan *domain.SecurityEvent, cfg.QueueSize),
		stop:     make(chan struct{}),
	}
	m.wg.Add(1)
	go m.writeLoop()
	return m
}

// Ingest appends an event, fire-and-forget. Never blocks and never
// fails the caller; overflow is dropped and counted.
func (m *Monitor) Ingest(event *domain.SecurityEvent) {
	if event == nil || m.draining.Load() {
		return
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	select {
	case m.queue <- event:
		m.ingested.Add(1)
	default:
		m.dropped.Add(1)
	}
}

// Hit records an access attempt against the velocity window and
// returns the window state
func (m *Monitor) Hit(ctx context.Context, token, ipHash string) (*WindowState, error) {
	return m.window.Hit(ctx, token, ipHash)
}

// RecordBadCode tracks a failed access-code attempt. Past the
// configured threshold it emits a high-severity brute-force event and
// sets an IP-level lockout that outlives the base window.
func (m *Monitor) RecordBadCode(ctx context.Context, menuID, tenantID, token, ipHash string) {
	state, err := m.badCodes.Hit(ctx, "badcode:"+token, ipHash)
	if err != nil {
		return
	}
	if state.Count != int64(m.config.BadCodeThreshold)+1 {
		// Emit the escalation exactly once per window.
		return
	}

	m.Ingest(&domain.SecurityEvent{
		MenuID:   menuID,
		TenantID: tenantID,
		Type:     domain.SecurityCodeBruteForce,
		Severity: domain.SeverityHigh,
		Payload: map[string]any{
			"ip_hash":  ipHash,
			"attempts": state.Count,
		},
	})

	if m.redis != nil {
		key := lockoutKey(ipHash)
		if err := m.redis.Set(ctx, key, "1", m.config.LockoutDuration).Err(); err != nil {
			logger.WarnCtx(ctx, "lockout write failed", zap.Error(err))
		}
	}
}

// IsLockedOut reports whether an IP is under a brute-force lockout
// and how much of the lockout remains, so callers can answer with a
// truthful Retry-After. Fails open: a Redis error reads as not locked
// out, because the base velocity window still bounds the attacker.
func (m *Monitor) IsLockedOut(ctx context.Context, ipHash string) (bool, time.Duration) {
	if m.redis == nil {
		return false, 0
	}
	ttl, err := m.redis.TTL(ctx, lockoutKey(ipHash)).Result()
	if err != nil || ttl <= 0 {
		// -2 means no key, -1 no expiry; neither is a live lockout
		return false, 0
	}
	return true, ttl
}

func lockoutKey(ipHash string) string {
	return "menulink:lockout:" + ipHash
}

// Stats returns ingest accounting
func (m *Monitor) Stats() (ingested, dropped uint64) {
	return m.ingested.Load(), m.dropped.Load()
}

// Close drains the queue and stops the writer
func (m *Monitor) Close() {
	m.draining.Store(true)
	close(m.stop)
	m.wg.Wait()
}

// writeLoop is the single consumer of the ingest queue
func (m *Monitor) writeLoop() {
	defer m.wg.Done()
	for {
		select {
		case event := <-m.queue:
			m.persist(event)
		case <-m.stop:
			// drain what is left
			for {
				select {
				case event := <-m.queue:
					m.persist(event)
				default:
					return
				}
			}
		}
	}
}

func (m *Monitor) persist(event *domain.SecurityEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), m.config.WriteTimeout)
	defer cancel()

	if err := m.events.Append(ctx, event); err != nil {
		// fail open on monitoring: log and move on
		logger.Warn("security event append failed",
			zap.String("event_type", string(event.Type)),
			zap.String("menu_id", event.MenuID),
			zap.Error(err),
		)
	}

	if m.notifier != nil {
		m.notifier.Publish(&domain.Event{
			ID:       event.ID,
			Type:     domain.EventSecurityAlert,
			Topic:    domain.TopicSecurity,
			MenuID:   event.MenuID,
			TenantID: event.TenantID,
			Payload: map[string]any{
				"event_type": string(event.Type),
				"severity":   string(event.Severity),
			},
			CreatedAt: event.CreatedAt,
		})
	}
}
