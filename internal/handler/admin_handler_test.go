package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buttermb/menulink/internal/domain"
	"github.com/buttermb/menulink/internal/dto"
	"github.com/buttermb/menulink/pkg/middleware"
)

type fakeLifecycleService struct {
	menu        *dto.MenuResponse
	shareLink   *dto.ShareLinkResponse
	reactivated *dto.ReactivateResponse
	snapshots   []*dto.SnapshotResponse
	expiring    []*dto.MenuResponse
	err         error

	archivedWith domain.ArchiveReason
	burned       bool
}

func (f *fakeLifecycleService) Create(ctx context.Context, tenantID string, req *dto.CreateMenuRequest) (*dto.MenuResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.menu, nil
}

func (f *fakeLifecycleService) Get(ctx context.Context, tenantID, menuID string) (*dto.MenuResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.menu, nil
}

func (f *fakeLifecycleService) GetShareLink(ctx context.Context, tenantID, menuID string) (*dto.ShareLinkResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.shareLink, nil
}

func (f *fakeLifecycleService) Archive(ctx context.Context, menuID string, reason domain.ArchiveReason, now time.Time) error {
	if f.err != nil {
		return f.err
	}
	f.archivedWith = reason
	return nil
}

func (f *fakeLifecycleService) Reactivate(ctx context.Context, tenantID, menuID string, req *dto.ReactivateRequest) (*dto.ReactivateResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.reactivated, nil
}

func (f *fakeLifecycleService) Burn(ctx context.Context, tenantID, menuID string) error {
	if f.err != nil {
		return f.err
	}
	f.burned = true
	return nil
}

func (f *fakeLifecycleService) ExpiringSoon(ctx context.Context, tenantID string, now time.Time) ([]*dto.MenuResponse, error) {
	return f.expiring, f.err
}

func (f *fakeLifecycleService) Snapshots(ctx context.Context, tenantID, menuID string) ([]*dto.SnapshotResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.snapshots, nil
}

type fakeSecurityEventRepo struct {
	events []*domain.SecurityEvent
	total  int
}

func (f *fakeSecurityEventRepo) Append(ctx context.Context, event *domain.SecurityEvent) error {
	f.events = append(f.events, event)
	return nil
}

func (f *fakeSecurityEventRepo) List(ctx context.Context, tenantID, menuID, severity string, page, limit int) ([]*domain.SecurityEvent, int, error) {
	return f.events, f.total, nil
}

const testTenantID = "8e13f2c4-0000-4000-8000-000000000001"

func adminRouter(lc *fakeLifecycleService, access *fakeAccessService, sec *fakeSecurityEventRepo) *gin.Engine {
	gin.SetMode(gin.TestMode)
	if access == nil {
		access = &fakeAccessService{}
	}
	if sec == nil {
		sec = &fakeSecurityEventRepo{}
	}
	h := NewAdminHandler(lc, access, sec)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.ContextKeyTenantID, testTenantID)
	})
	r.POST("/menus", h.CreateMenu)
	r.GET("/menus/expiring", h.ListExpiring)
	r.GET("/menus/:id", h.GetMenu)
	r.GET("/menus/:id/share-link", h.GetShareLink)
	r.POST("/menus/:id/archive", h.ArchiveMenu)
	r.POST("/menus/:id/reactivate", h.ReactivateMenu)
	r.POST("/menus/:id/burn", h.BurnMenu)
	r.POST("/menus/:id/orders", h.RecordOrder)
	r.GET("/menus/:id/snapshots", h.ListSnapshots)
	r.GET("/security-events", h.ListSecurityEvents)
	return r
}

func jsonRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestAdminHandler_CreateMenu(t *testing.T) {
	lc := &fakeLifecycleService{
		menu: &dto.MenuResponse{ID: "m1", Name: "Friday Drop", State: domain.StateActive},
	}
	router := adminRouter(lc, nil, nil)

	deactivation := time.Now().Add(48 * time.Hour).Format(time.RFC3339)
	body := fmt.Sprintf(`{
		"name": "Friday Drop",
		"access_code": "hunter2x",
		"scheduled_deactivation_at": %q,
		"activate_immediately": true
	}`, deactivation)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, jsonRequest(http.MethodPost, "/menus", body))

	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		Success bool             `json:"success"`
		Data    dto.MenuResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Friday Drop", resp.Data.Name)
	assert.Equal(t, domain.StateActive, resp.Data.State)
}

func TestAdminHandler_CreateMenu_ForumNeedsRedirect(t *testing.T) {
	router := adminRouter(&fakeLifecycleService{}, nil, nil)

	deactivation := time.Now().Add(48 * time.Hour).Format(time.RFC3339)
	body := fmt.Sprintf(`{
		"name": "Forum Drop",
		"menu_type": "forum",
		"scheduled_deactivation_at": %q
	}`, deactivation)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, jsonRequest(http.MethodPost, "/menus", body))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminHandler_MissingTenantContext(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewAdminHandler(&fakeLifecycleService{}, &fakeAccessService{}, &fakeSecurityEventRepo{})
	r := gin.New()
	// no tenant middleware here
	r.GET("/menus/:id", h.GetMenu)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/menus/m1", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdminHandler_GetMenu_NotFound(t *testing.T) {
	router := adminRouter(&fakeLifecycleService{err: domain.ErrMenuNotFound}, nil, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/menus/m1", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminHandler_GetShareLink(t *testing.T) {
	lc := &fakeLifecycleService{
		menu:      &dto.MenuResponse{ID: "m1"},
		shareLink: &dto.ShareLinkResponse{MenuID: "m1", URLToken: "tok_0123456789abcdef", HasAccessCode: true},
	}
	router := adminRouter(lc, nil, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/menus/m1/share-link", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data dto.ShareLinkResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "tok_0123456789abcdef", resp.Data.URLToken)
	assert.True(t, resp.Data.HasAccessCode)
}

func TestAdminHandler_ArchiveMenu(t *testing.T) {
	lc := &fakeLifecycleService{menu: &dto.MenuResponse{ID: "m1", State: domain.StateActive}}
	router := adminRouter(lc, nil, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, jsonRequest(http.MethodPost, "/menus/m1/archive", ""))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, domain.ArchiveReasonManual, lc.archivedWith)
}

func TestAdminHandler_ArchiveMenu_Conflict(t *testing.T) {
	router := adminRouter(&fakeLifecycleService{err: domain.ErrSchedulerConflict}, nil, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, jsonRequest(http.MethodPost, "/menus/m1/archive", ""))

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestAdminHandler_ReactivateMenu(t *testing.T) {
	future := time.Now().Add(72 * time.Hour)
	lc := &fakeLifecycleService{
		reactivated: &dto.ReactivateResponse{
			MenuID:                  "m1",
			URLToken:                "tok_fedcba9876543210",
			ScheduledDeactivationAt: future,
		},
	}
	router := adminRouter(lc, nil, nil)

	body := fmt.Sprintf(`{"scheduled_deactivation_at": %q}`, future.Format(time.RFC3339))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, jsonRequest(http.MethodPost, "/menus/m1/reactivate", body))

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data dto.ReactivateResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "tok_fedcba9876543210", resp.Data.URLToken)
}

func TestAdminHandler_ReactivateMenu_PastDeadline(t *testing.T) {
	router := adminRouter(&fakeLifecycleService{}, nil, nil)

	past := time.Now().Add(-time.Hour).Format(time.RFC3339)
	body := fmt.Sprintf(`{"scheduled_deactivation_at": %q}`, past)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, jsonRequest(http.MethodPost, "/menus/m1/reactivate", body))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminHandler_ReactivateMenu_InvalidTransition(t *testing.T) {
	router := adminRouter(&fakeLifecycleService{err: domain.ErrInvalidTransition}, nil, nil)

	future := time.Now().Add(72 * time.Hour).Format(time.RFC3339)
	body := fmt.Sprintf(`{"scheduled_deactivation_at": %q}`, future)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, jsonRequest(http.MethodPost, "/menus/m1/reactivate", body))

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestAdminHandler_BurnMenu(t *testing.T) {
	lc := &fakeLifecycleService{}
	router := adminRouter(lc, nil, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, jsonRequest(http.MethodPost, "/menus/m1/burn", ""))

	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, lc.burned)
}

func TestAdminHandler_RecordOrder(t *testing.T) {
	access := &fakeAccessService{}
	router := adminRouter(&fakeLifecycleService{}, access, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, jsonRequest(http.MethodPost, "/menus/m1/orders", `{"amount_cents": 2500}`))

	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestAdminHandler_RecordOrder_MissingAmount(t *testing.T) {
	router := adminRouter(&fakeLifecycleService{}, nil, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, jsonRequest(http.MethodPost, "/menus/m1/orders", `{}`))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminHandler_ListSnapshots(t *testing.T) {
	lc := &fakeLifecycleService{
		snapshots: []*dto.SnapshotResponse{
			{ID: "s2", MenuID: "m1", TotalViews: 40, TotalOrders: 10},
			{ID: "s1", MenuID: "m1", TotalViews: 7, TotalOrders: 1},
		},
	}
	router := adminRouter(lc, nil, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/menus/m1/snapshots", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data []dto.SnapshotResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 2)
	assert.Equal(t, "s2", resp.Data[0].ID)
}

func TestAdminHandler_ListExpiring(t *testing.T) {
	lc := &fakeLifecycleService{
		expiring: []*dto.MenuResponse{{ID: "m1", ExpiringSoon: true}},
	}
	router := adminRouter(lc, nil, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/menus/expiring", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data []dto.MenuResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.True(t, resp.Data[0].ExpiringSoon)
}

func TestAdminHandler_ListSecurityEvents(t *testing.T) {
	sec := &fakeSecurityEventRepo{
		events: []*domain.SecurityEvent{
			{ID: "e1", TenantID: testTenantID, Type: domain.SecurityVelocityBreach, Severity: domain.SeverityMedium},
		},
		total: 1,
	}
	router := adminRouter(&fakeLifecycleService{}, nil, sec)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/security-events?severity=medium", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data []domain.SecurityEvent `json:"data"`
		Meta struct {
			Total int64 `json:"total"`
		} `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, int64(1), resp.Meta.Total)
}

func TestAdminHandler_ListSecurityEvents_BadSeverity(t *testing.T) {
	router := adminRouter(&fakeLifecycleService{}, nil, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/security-events?severity=extreme", nil))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
