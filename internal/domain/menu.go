package domain

import (
	"time"
)

// MenuState represents the lifecycle state of a disposable menu
type MenuState string

const (
	StateDraft    MenuState = "draft"
	StateActive   MenuState = "active"
	StateArchived MenuState = "archived"
	StateBurned   MenuState = "burned"
)

// MenuType distinguishes catalog menus from forum-type redirect menus
type MenuType string

const (
	MenuTypeStandard MenuType = "standard"
	MenuTypeForum    MenuType = "forum"
)

// validTransitions defines allowed lifecycle transitions
// Key is current state, value is list of allowed next states.
// archived -> active is the explicit reactivation path; it always
// mints a new access token.
var validTransitions = map[MenuState][]MenuState{
	StateDraft:    {StateActive},
	StateActive:   {StateArchived, StateBurned},
	StateArchived: {StateActive},
	StateBurned:   {}, // Terminal state
}

// IsValid returns true if the state is a known menu state
func (s MenuState) IsValid() bool {
	_, exists := validTransitions[s]
	return exists
}

// IsTerminal returns true if no further transitions are allowed
func (s MenuState) IsTerminal() bool {
	return len(validTransitions[s]) == 0
}

// CanTransitionTo returns true if transition to the target state is allowed
func (s MenuState) CanTransitionTo(target MenuState) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// ArchiveReason records why a menu left the active state
type ArchiveReason string

const (
	ArchiveReasonScheduled ArchiveReason = "scheduled"
	ArchiveReasonManual    ArchiveReason = "manual"
	ArchiveReasonBurned    ArchiveReason = "burned"
)

// SecuritySettings holds the per-menu access security policy
type SecuritySettings struct {
	MenuType             MenuType `json:"menu_type"`
	RateLimitPerMinute   int      `json:"rate_limit_per_minute"`
	LockoutThreshold     int      `json:"lockout_threshold"`
	ScreenshotProtection bool     `json:"screenshot_protection"`
	WhitelistID          *string  `json:"whitelist_id,omitempty"`
}

// Menu represents one disposable catalog in the multi-tenant system
type Menu struct {
	ID       string           `json:"id"`
	TenantID string           `json:"tenant_id"`
	Name     string           `json:"name"`
	State    MenuState        `json:"state"`
	Security SecuritySettings `json:"security"`

	// AccessCodeHash is empty when no access code is configured.
	// The hash is argon2id; the raw code is never stored or echoed back.
	AccessCodeHash string `json:"-"`
	AccessCodeSalt []byte `json:"-"`

	// Encrypted catalog payload. For forum-type menus the plaintext is
	// a redirect target instead of a product list.
	PayloadCiphertext []byte `json:"-"`
	PayloadNonce      []byte `json:"-"`

	ScheduledActivationAt   *time.Time `json:"scheduled_activation_at,omitempty"`
	ScheduledDeactivationAt *time.Time `json:"scheduled_deactivation_at,omitempty"`

	ViewCount         int64 `json:"view_count"`
	OrderCount        int64 `json:"order_count"`
	TotalRevenueCents int64 `json:"total_revenue_cents"`

	ArchivedAt     *time.Time     `json:"archived_at,omitempty"`
	ArchivedReason *ArchiveReason `json:"archived_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsExpired reports whether the scheduled deactivation time has elapsed.
// All time comparisons use UTC.
func (m *Menu) IsExpired(now time.Time) bool {
	if m.ScheduledDeactivationAt == nil {
		return false
	}
	return now.UTC().After(m.ScheduledDeactivationAt.UTC())
}

// IsAccessible reports whether the menu can serve customer requests at
// the given instant. The time check is the lazy backstop for scheduler
// lag: a menu past its deactivation window is gone even before the
// sweep has archived it.
func (m *Menu) IsAccessible(now time.Time) bool {
	if m.State != StateActive {
		return false
	}
	if m.ScheduledActivationAt != nil && now.UTC().Before(m.ScheduledActivationAt.UTC()) {
		return false
	}
	return !m.IsExpired(now)
}

// HasAccessCode reports whether a secondary access code is configured
func (m *Menu) HasAccessCode() bool {
	return m.AccessCodeHash != ""
}

// ConversionRate returns orders per view, 0 when there are no views
func (m *Menu) ConversionRate() float64 {
	if m.ViewCount == 0 {
		return 0
	}
	return float64(m.OrderCount) / float64(m.ViewCount)
}

// AccessToken is one entry in a menu's token history. A menu has at
// most one unrevoked token at a time; revoked tokens are kept forever
// so that old links resolve to Gone rather than NotFound.
type AccessToken struct {
	Token     string     `json:"token"`
	MenuID    string     `json:"menu_id"`
	TenantID  string     `json:"tenant_id"`
	CreatedAt time.Time  `json:"created_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

// IsRevoked reports whether the token has been permanently invalidated
func (t *AccessToken) IsRevoked() bool {
	return t.RevokedAt != nil
}

// TopProduct is one entry of a snapshot's best-seller list
type TopProduct struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Orders    int64  `json:"orders"`
}

// AnalyticsSnapshot is the usage summary frozen at the moment a menu
// is archived. Write-once: a reactivation opens a new active period
// and a later archival appends a new snapshot, it never rewrites an
// old one.
type AnalyticsSnapshot struct {
	ID                string       `json:"id"`
	MenuID            string       `json:"menu_id"`
	TenantID          string       `json:"tenant_id"`
	TotalViews        int64        `json:"total_views"`
	TotalOrders       int64        `json:"total_orders"`
	TotalRevenueCents int64        `json:"total_revenue_cents"`
	ConversionRate    float64      `json:"conversion_rate"`
	TopProducts       []TopProduct `json:"top_products"`
	CapturedAt        time.Time    `json:"captured_at"`
}

// WhitelistEntry scopes a menu to a named customer identity
type WhitelistEntry struct {
	ID          string    `json:"id"`
	WhitelistID string    `json:"whitelist_id"`
	CustomerRef string    `json:"customer_ref"`
	CreatedAt   time.Time `json:"created_at"`
}

// Product is one catalog item carried in a menu payload
type Product struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Category   string `json:"category,omitempty"`
	PriceCents int64  `json:"price_cents"`
	Available  bool   `json:"available"`
}

// MenuPayload is the decrypted content returned on successful access.
// Exactly one of Products or RedirectURL is populated depending on the
// menu type.
type MenuPayload struct {
	Products    []Product `json:"products,omitempty"`
	RedirectURL string    `json:"redirect_url,omitempty"`
}
