package service

import (
	"context"
	"sync"
	"time"

	"github.com/buttermb/menulink/internal/domain"
	"github.com/buttermb/menulink/internal/security"
)

// fakeMenuRepo is an in-memory MenuRepository for service tests
type fakeMenuRepo struct {
	mu        sync.Mutex
	menus     map[string]*domain.Menu
	tokens    map[string]*domain.AccessToken // keyed by token string
	snapshots map[string][]*domain.AnalyticsSnapshot
	whitelist map[string]map[string]bool // whitelistID -> customerRef
	top       []domain.TopProduct

	failWith error
}

func newFakeMenuRepo() *fakeMenuRepo {
	return &fakeMenuRepo{
		menus:     make(map[string]*domain.Menu),
		tokens:    make(map[string]*domain.AccessToken),
		snapshots: make(map[string][]*domain.AnalyticsSnapshot),
		whitelist: make(map[string]map[string]bool),
	}
}

func (f *fakeMenuRepo) add(menu *domain.Menu, token *domain.AccessToken) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.menus[menu.ID] = menu
	if token != nil {
		f.tokens[token.Token] = token
	}
}

func (f *fakeMenuRepo) Create(ctx context.Context, menu *domain.Menu, token *domain.AccessToken) error {
	if f.failWith != nil {
		return f.failWith
	}
	f.add(menu, token)
	return nil
}

func (f *fakeMenuRepo) GetByID(ctx context.Context, tenantID, id string) (*domain.Menu, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	menu, ok := f.menus[id]
	if !ok {
		return nil, nil
	}
	if tenantID != "" && menu.TenantID != tenantID {
		return nil, nil
	}
	return menu, nil
}

func (f *fakeMenuRepo) GetByToken(ctx context.Context, token string) (*domain.Menu, *domain.AccessToken, error) {
	if f.failWith != nil {
		return nil, nil, f.failWith
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	tok, ok := f.tokens[token]
	if !ok {
		return nil, nil, nil
	}
	return f.menus[tok.MenuID], tok, nil
}

func (f *fakeMenuRepo) CurrentToken(ctx context.Context, menuID string) (*domain.AccessToken, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tok := range f.tokens {
		if tok.MenuID == menuID && !tok.IsRevoked() {
			return tok, nil
		}
	}
	return nil, nil
}

func (f *fakeMenuRepo) IncrementViewCount(ctx context.Context, menuID string) (int64, bool, error) {
	if f.failWith != nil {
		return 0, false, f.failWith
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	menu, ok := f.menus[menuID]
	if !ok || menu.State != domain.StateActive {
		return 0, false, nil
	}
	menu.ViewCount++
	return menu.ViewCount, true, nil
}

func (f *fakeMenuRepo) RecordOrder(ctx context.Context, menuID string, amountCents int64, productID, productName string) (bool, error) {
	if f.failWith != nil {
		return false, f.failWith
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	menu, ok := f.menus[menuID]
	if !ok || menu.State != domain.StateActive {
		return false, nil
	}
	menu.OrderCount++
	menu.TotalRevenueCents += amountCents
	return true, nil
}

func (f *fakeMenuRepo) ListDueForArchival(ctx context.Context, now time.Time, limit int) ([]*domain.Menu, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var due []*domain.Menu
	for _, menu := range f.menus {
		if menu.State == domain.StateActive && menu.IsExpired(now) {
			due = append(due, menu)
		}
		if len(due) == limit {
			break
		}
	}
	return due, nil
}

func (f *fakeMenuRepo) ListExpiringSoon(ctx context.Context, tenantID string, now time.Time, lookahead time.Duration) ([]*domain.Menu, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Menu
	cutoff := now.Add(lookahead)
	for _, menu := range f.menus {
		if menu.TenantID != tenantID || menu.State != domain.StateActive {
			continue
		}
		if menu.ScheduledDeactivationAt == nil {
			continue
		}
		at := menu.ScheduledDeactivationAt.UTC()
		if at.After(now) && at.Before(cutoff) {
			out = append(out, menu)
		}
	}
	return out, nil
}

func (f *fakeMenuRepo) Archive(ctx context.Context, menuID string, reason domain.ArchiveReason, snapshot *domain.AnalyticsSnapshot, at time.Time) (bool, error) {
	if f.failWith != nil {
		return false, f.failWith
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	menu, ok := f.menus[menuID]
	if !ok || menu.State != domain.StateActive {
		return false, nil
	}
	if reason == domain.ArchiveReasonBurned {
		menu.State = domain.StateBurned
	} else {
		menu.State = domain.StateArchived
	}
	archivedAt := at.UTC()
	menu.ArchivedAt = &archivedAt
	menu.ArchivedReason = &reason
	// counters freeze at the transition instant, like the RETURNING
	// clause of the real conditional UPDATE
	snapshot.TotalViews = menu.ViewCount
	snapshot.TotalOrders = menu.OrderCount
	snapshot.TotalRevenueCents = menu.TotalRevenueCents
	snapshot.ConversionRate = 0
	if menu.ViewCount > 0 {
		snapshot.ConversionRate = float64(menu.OrderCount) / float64(menu.ViewCount)
	}
	for _, tok := range f.tokens {
		if tok.MenuID == menuID && !tok.IsRevoked() {
			revoked := at.UTC()
			tok.RevokedAt = &revoked
		}
	}
	f.snapshots[menuID] = append([]*domain.AnalyticsSnapshot{snapshot}, f.snapshots[menuID]...)
	return true, nil
}

func (f *fakeMenuRepo) Reactivate(ctx context.Context, menuID string, token *domain.AccessToken, deactivateAt time.Time) (bool, error) {
	if f.failWith != nil {
		return false, f.failWith
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	menu, ok := f.menus[menuID]
	if !ok || menu.State != domain.StateArchived {
		return false, nil
	}
	menu.State = domain.StateActive
	menu.ViewCount = 0
	menu.OrderCount = 0
	menu.TotalRevenueCents = 0
	menu.ArchivedAt = nil
	menu.ArchivedReason = nil
	at := deactivateAt
	menu.ScheduledDeactivationAt = &at
	f.tokens[token.Token] = token
	return true, nil
}

func (f *fakeMenuRepo) ListSnapshots(ctx context.Context, tenantID, menuID string) ([]*domain.AnalyticsSnapshot, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshots[menuID], nil
}

func (f *fakeMenuRepo) TopProducts(ctx context.Context, menuID string, limit int) ([]domain.TopProduct, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.top) > limit {
		return f.top[:limit], nil
	}
	return f.top, nil
}

func (f *fakeMenuRepo) IsWhitelisted(ctx context.Context, whitelistID, customerRef string) (bool, error) {
	if f.failWith != nil {
		return false, f.failWith
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.whitelist[whitelistID][customerRef], nil
}

// fakeMonitor records security interactions and returns a scripted window
type fakeMonitor struct {
	mu          sync.Mutex
	ingested    []*domain.SecurityEvent
	badCodes    int
	hits        int
	lockedOut   bool
	lockoutLeft time.Duration
	window      *security.WindowState
	hitErr      error
}

func (m *fakeMonitor) Ingest(event *domain.SecurityEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ingested = append(m.ingested, event)
}

func (m *fakeMonitor) Hit(ctx context.Context, token, ipHash string) (*security.WindowState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hits++
	if m.hitErr != nil {
		return nil, m.hitErr
	}
	if m.window != nil {
		return m.window, nil
	}
	return &security.WindowState{Count: int64(m.hits)}, nil
}

func (m *fakeMonitor) RecordBadCode(ctx context.Context, menuID, tenantID, token, ipHash string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.badCodes++
}

func (m *fakeMonitor) IsLockedOut(ctx context.Context, ipHash string) (bool, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lockedOut, m.lockoutLeft
}

func (m *fakeMonitor) ingestedTypes() []domain.SecurityEventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	types := make([]domain.SecurityEventType, 0, len(m.ingested))
	for _, e := range m.ingested {
		types = append(types, e.Type)
	}
	return types
}

// fakeNotifier collects published events
type fakeNotifier struct {
	mu     sync.Mutex
	events []*domain.Event
}

func (n *fakeNotifier) Publish(event *domain.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *fakeNotifier) published() []*domain.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]*domain.Event, len(n.events))
	copy(out, n.events)
	return out
}
