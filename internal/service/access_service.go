package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/buttermb/menulink/internal/crypto"
	"github.com/buttermb/menulink/internal/domain"
	"github.com/buttermb/menulink/internal/dto"
	"github.com/buttermb/menulink/internal/repository"
	"github.com/buttermb/menulink/internal/security"
	"github.com/buttermb/menulink/pkg/logger"
	"github.com/buttermb/menulink/pkg/telemetry"
)

// SecurityMonitor is the slice of the monitor the access path needs
type SecurityMonitor interface {
	Ingest(event *domain.SecurityEvent)
	Hit(ctx context.Context, token, ipHash string) (*security.WindowState, error)
	RecordBadCode(ctx context.Context, menuID, tenantID, token, ipHash string)
	IsLockedOut(ctx context.Context, ipHash string) (bool, time.Duration)
}

// Publisher is the slice of the notifier the access path needs
type Publisher interface {
	Publish(event *domain.Event)
}

// RateLimitedError carries the retry window alongside ErrRateLimited
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string { return domain.ErrRateLimited.Error() }

// Unwrap lets errors.Is match domain.ErrRateLimited
func (e *RateLimitedError) Unwrap() error { return domain.ErrRateLimited }

// AccessServiceConfig holds AccessService settings
type AccessServiceConfig struct {
	// DefaultRateLimitPerMinute applies when a menu has no explicit limit
	DefaultRateLimitPerMinute int
}

// AccessService defines the customer-facing access operations
type AccessService interface {
	// Validate runs the full access pipeline for one attempt
	Validate(ctx context.Context, req *dto.AccessRequest, clientIP string) (*dto.AccessResponse, error)
	// RecordOrder records one order against an active menu. Invoked by
	// the ordering flow at the collaborator boundary.
	RecordOrder(ctx context.Context, tenantID, menuID string, req *dto.RecordOrderRequest) error
	// ReportScreenshot ingests a screenshot detection fired by the
	// viewer page. Always answers ok; the report is advisory.
	ReportScreenshot(ctx context.Context, req *dto.ScreenshotReportRequest, clientIP string)
}

type accessService struct {
	config   *AccessServiceConfig
	menus    repository.MenuRepository
	monitor  SecurityMonitor
	vault    *crypto.Vault
	notifier Publisher
	nowFunc  func() time.Time
	attempts *telemetry.Counter
}

// NewAccessService creates a new AccessService
func NewAccessService(cfg *AccessServiceConfig, menus repository.MenuRepository, monitor SecurityMonitor, vault *crypto.Vault, notifier Publisher) AccessService {
	if cfg == nil {
		cfg = &AccessServiceConfig{DefaultRateLimitPerMinute: 100}
	}
	attempts, err := telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "menulink.access.attempts",
		Description: "Access attempts by outcome",
		Unit:        "{attempt}",
	})
	if err != nil {
		logger.Warn("access attempts counter unavailable", zap.Error(err))
	}
	return &accessService{
		config:   cfg,
		menus:    menus,
		monitor:  monitor,
		vault:    vault,
		notifier: notifier,
		nowFunc:  time.Now,
		attempts: attempts,
	}
}

func (s *accessService) countAttempt(ctx context.Context, menu *domain.Menu, outcome domain.AccessOutcome) {
	if s.attempts == nil {
		return
	}
	attrs := []attribute.KeyValue{attribute.String("outcome", string(outcome))}
	if menu != nil {
		attrs = append(attrs, telemetry.TenantIDAttr(menu.TenantID), telemetry.MenuIDAttr(menu.ID))
	}
	s.attempts.Inc(ctx, attrs...)
}

// Validate runs the pipeline in a fixed order: token lookup, state and
// time check, access code, whitelist, velocity window, decrypt,
// counter. Monitoring side effects are fire-and-forget; authorization
// failures are final.
func (s *accessService) Validate(ctx context.Context, req *dto.AccessRequest, clientIP string) (*dto.AccessResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "access.validate")
	defer span.End()

	now := s.nowFunc()
	ipHash := crypto.HashIP(clientIP)

	// 1. Token lookup. Unknown token and foreign tenant both read as
	// not found.
	menu, token, err := s.menus.GetByToken(ctx, req.URLToken)
	if err != nil {
		return nil, s.unavailable(ctx, "token lookup failed", req.URLToken, err)
	}
	if menu == nil || token == nil {
		s.countAttempt(ctx, nil, domain.OutcomeNotFound)
		return nil, domain.ErrMenuNotFound
	}
	telemetry.SetSpanAttributes(ctx, telemetry.TenantIDAttr(menu.TenantID), telemetry.MenuIDAttr(menu.ID))

	// 2. State and time. A revoked token or an expired-but-unswept menu
	// is gone regardless of what the scheduler has gotten to; the sweep
	// is bookkeeping, not the correctness gate.
	if token.IsRevoked() || !menu.IsAccessible(now) {
		s.countAttempt(ctx, menu, domain.OutcomeExpired)
		return nil, domain.ErrMenuGone
	}

	// 3. Access code, constant-time. Missing and wrong are the same
	// answer so the response reveals nothing about code structure.
	if menu.HasAccessCode() {
		if req.AccessCode == "" || !crypto.VerifyAccessCode(req.AccessCode, menu.AccessCodeHash, menu.AccessCodeSalt) {
			s.monitor.RecordBadCode(ctx, menu.ID, menu.TenantID, token.Token, ipHash)
			s.countAttempt(ctx, menu, domain.OutcomeBadCode)
			return nil, domain.ErrAccessCodeRequired
		}
	}

	// Whitelisted menus admit only named customers; outsiders see the
	// same answer as an unknown token.
	if menu.Security.WhitelistID != nil {
		ok, err := s.menus.IsWhitelisted(ctx, *menu.Security.WhitelistID, req.CustomerRef)
		if err != nil {
			return nil, s.unavailable(ctx, "whitelist lookup failed", menu.ID, err)
		}
		if !ok {
			s.countAttempt(ctx, menu, domain.OutcomeNotFound)
			return nil, domain.ErrNotWhitelisted
		}
	}

	// 4. Velocity window plus the brute-force lockout that outlives it.
	if locked, remaining := s.monitor.IsLockedOut(ctx, ipHash); locked {
		s.countAttempt(ctx, menu, domain.OutcomeRateLimited)
		return nil, &RateLimitedError{RetryAfter: remaining}
	}
	limit := menu.Security.RateLimitPerMinute
	if limit <= 0 {
		limit = s.config.DefaultRateLimitPerMinute
	}
	state, err := s.monitor.Hit(ctx, token.Token, ipHash)
	if err != nil {
		// Fail open on the window read; the attempt is still logged.
		logger.WarnCtx(ctx, "velocity window unavailable", zap.Error(err))
	} else if state.Count > int64(limit) {
		s.monitor.Ingest(&domain.SecurityEvent{
			MenuID:   menu.ID,
			TenantID: menu.TenantID,
			Type:     domain.SecurityVelocityBreach,
			Severity: domain.SeverityMedium,
			Payload: map[string]any{
				"ip_hash": ipHash,
				"count":   state.Count,
				"limit":   limit,
			},
		})
		s.countAttempt(ctx, menu, domain.OutcomeRateLimited)
		return nil, &RateLimitedError{RetryAfter: state.RetryAfter}
	}

	// 5. Decrypt. Failure means corruption or tampering: log it loudly,
	// tell the customer nothing.
	var payload domain.MenuPayload
	if err := s.vault.Open(menu.TenantID, menu.PayloadCiphertext, menu.PayloadNonce, &payload); err != nil {
		s.monitor.Ingest(&domain.SecurityEvent{
			MenuID:   menu.ID,
			TenantID: menu.TenantID,
			Type:     domain.SecurityDecryptionFailure,
			Severity: domain.SeverityCritical,
			Payload:  map[string]any{"ip_hash": ipHash},
		})
		return nil, s.unavailable(ctx, "payload decryption failed", menu.ID, err)
	}

	// 6. Count the view. Single atomic update; if the menu slipped out
	// of active between the check and here, the answer flips to gone
	// and nothing is counted.
	_, applied, err := s.menus.IncrementViewCount(ctx, menu.ID)
	if err != nil {
		return nil, s.unavailable(ctx, "view count update failed", menu.ID, err)
	}
	if !applied {
		return nil, domain.ErrMenuGone
	}

	s.countAttempt(ctx, menu, domain.OutcomeSuccess)
	s.notifier.Publish(&domain.Event{
		Type:     domain.EventMenuViewed,
		Topic:    domain.TopicAccess,
		MenuID:   menu.ID,
		TenantID: menu.TenantID,
		Payload:  map[string]any{"ip_hash": ipHash},
	})

	return buildAccessResponse(menu, &payload), nil
}

// RecordOrder records one order against an active menu
func (s *accessService) RecordOrder(ctx context.Context, tenantID, menuID string, req *dto.RecordOrderRequest) error {
	menu, err := s.menus.GetByID(ctx, tenantID, menuID)
	if err != nil {
		return s.unavailable(ctx, "menu lookup failed", menuID, err)
	}
	if menu == nil {
		return domain.ErrMenuNotFound
	}

	productName := ""
	if req.ProductID != "" {
		var payload domain.MenuPayload
		if err := s.vault.Open(menu.TenantID, menu.PayloadCiphertext, menu.PayloadNonce, &payload); err == nil {
			for _, p := range payload.Products {
				if p.ID == req.ProductID {
					productName = p.Name
					break
				}
			}
		}
	}

	applied, err := s.menus.RecordOrder(ctx, menuID, req.AmountCents, req.ProductID, productName)
	if err != nil {
		return s.unavailable(ctx, "order record failed", menuID, err)
	}
	if !applied {
		return domain.ErrMenuGone
	}

	s.notifier.Publish(&domain.Event{
		Type:     domain.EventOrderRecorded,
		Topic:    domain.TopicOrders,
		MenuID:   menuID,
		TenantID: tenantID,
		Payload:  map[string]any{"amount_cents": req.AmountCents},
	})
	return nil
}

// ReportScreenshot ingests a screenshot detection fired by the viewer
// page. A report against an unknown token is dropped silently so the
// endpoint leaks nothing about token validity.
func (s *accessService) ReportScreenshot(ctx context.Context, req *dto.ScreenshotReportRequest, clientIP string) {
	menu, token, err := s.menus.GetByToken(ctx, req.URLToken)
	if err != nil || menu == nil || token == nil {
		return
	}
	s.monitor.Ingest(&domain.SecurityEvent{
		MenuID:   menu.ID,
		TenantID: menu.TenantID,
		Type:     domain.SecurityScreenshotDetected,
		Severity: domain.SeverityLow,
		Payload: map[string]any{
			"ip_hash": crypto.HashIP(clientIP),
			"detail":  req.Detail,
		},
	})
}

// unavailable collapses an internal failure to the generic customer
// answer while keeping the real cause findable by correlation id. The
// trace id is the correlation id when a span is recording; otherwise a
// fresh uuid stands in.
func (s *accessService) unavailable(ctx context.Context, msg, ref string, err error) error {
	correlationID := telemetry.GetTraceID(ctx)
	if correlationID == "" {
		correlationID = uuid.New().String()
	}
	telemetry.SetSpanError(ctx, err)
	logger.ErrorCtx(ctx, msg,
		zap.String("ref", ref),
		zap.String("correlation_id", correlationID),
		zap.Error(err),
	)
	return domain.ErrUnavailable
}

func buildAccessResponse(menu *domain.Menu, payload *domain.MenuPayload) *dto.AccessResponse {
	info := dto.MenuInfo{
		ID:                   menu.ID,
		Name:                 menu.Name,
		MenuType:             menu.Security.MenuType,
		ScreenshotProtection: menu.Security.ScreenshotProtection,
	}
	if menu.ScheduledDeactivationAt != nil {
		info.ExpiresAt = menu.ScheduledDeactivationAt.UTC().Format(time.RFC3339)
	}

	resp := &dto.AccessResponse{Menu: info}
	if menu.Security.MenuType == domain.MenuTypeForum {
		resp.RedirectURL = payload.RedirectURL
	} else {
		resp.Products = payload.Products
	}
	return resp
}
