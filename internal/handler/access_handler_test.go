package handler

import (
	"context"
	"encoding/json"
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
	"github.com/buttermb/menulink/internal/service"
)

type fakeAccessService struct {
	result      *dto.AccessResponse
	err         error
	lastReq     *dto.AccessRequest
	screenshots []*dto.ScreenshotReportRequest
}

func (f *fakeAccessService) Validate(ctx context.Context, req *dto.AccessRequest, clientIP string) (*dto.AccessResponse, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeAccessService) RecordOrder(ctx context.Context, tenantID, menuID string, req *dto.RecordOrderRequest) error {
	return f.err
}

func (f *fakeAccessService) ReportScreenshot(ctx context.Context, req *dto.ScreenshotReportRequest, clientIP string) {
	f.screenshots = append(f.screenshots, req)
}

func accessRouter(svc service.AccessService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewAccessHandler(svc)
	r := gin.New()
	r.POST("/api/v1/access", h.Validate)
	r.GET("/m/:token", h.Resolve)
	r.POST("/api/v1/access/screenshot-report", h.ReportScreenshot)
	return r
}

func TestAccessHandler_Validate_Success(t *testing.T) {
	svc := &fakeAccessService{
		result: &dto.AccessResponse{
			Menu:     dto.MenuInfo{ID: "m1", Name: "Friday Drop", MenuType: domain.MenuTypeStandard},
			Products: []domain.Product{{Name: "House Blend", PriceCents: 1200}},
		},
	}
	router := accessRouter(svc)

	body := `{"url_token":"tok_0123456789abcdef","access_code":"hunter2x"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/access", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, svc.lastReq)
	assert.Equal(t, "tok_0123456789abcdef", svc.lastReq.URLToken)

	var resp struct {
		Success bool               `json:"success"`
		Data    dto.AccessResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "Friday Drop", resp.Data.Menu.Name)
	assert.Len(t, resp.Data.Products, 1)
}

func TestAccessHandler_Validate_BadBody(t *testing.T) {
	router := accessRouter(&fakeAccessService{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/access", strings.NewReader(`{"url_token":"short"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAccessHandler_Validate_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"access code required", domain.ErrAccessCodeRequired, http.StatusUnauthorized},
		{"gone", domain.ErrMenuGone, http.StatusGone},
		{"not found", domain.ErrMenuNotFound, http.StatusNotFound},
		{"not whitelisted reads as not found", domain.ErrNotWhitelisted, http.StatusNotFound},
		{"unavailable", domain.ErrUnavailable, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := accessRouter(&fakeAccessService{err: tt.err})

			body := `{"url_token":"tok_0123456789abcdef"}`
			req := httptest.NewRequest(http.MethodPost, "/api/v1/access", strings.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestAccessHandler_Validate_RateLimited(t *testing.T) {
	router := accessRouter(&fakeAccessService{
		err: &service.RateLimitedError{RetryAfter: 30 * time.Second},
	})

	body := `{"url_token":"tok_0123456789abcdef"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/access", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "30", w.Header().Get("Retry-After"))
}

func TestAccessHandler_Resolve_Redirect(t *testing.T) {
	svc := &fakeAccessService{
		result: &dto.AccessResponse{
			Menu:        dto.MenuInfo{ID: "m1", MenuType: domain.MenuTypeForum},
			RedirectURL: "https://forum.example.com/thread/42",
		},
	}
	router := accessRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/m/tok_0123456789abcdef", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://forum.example.com/thread/42", w.Header().Get("Location"))
}

func TestAccessHandler_Resolve_PassesQueryParams(t *testing.T) {
	svc := &fakeAccessService{
		result: &dto.AccessResponse{Menu: dto.MenuInfo{ID: "m1"}},
	}
	router := accessRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/m/tok_0123456789abcdef?code=hunter2x&ref=vip-7", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, svc.lastReq)
	assert.Equal(t, "tok_0123456789abcdef", svc.lastReq.URLToken)
	assert.Equal(t, "hunter2x", svc.lastReq.AccessCode)
	assert.Equal(t, "vip-7", svc.lastReq.CustomerRef)
}

func TestAccessHandler_ReportScreenshot_AlwaysAccepted(t *testing.T) {
	svc := &fakeAccessService{}
	router := accessRouter(svc)

	body := `{"url_token":"tok_whatever","detail":"PrintScreen"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/access/screenshot-report", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, svc.screenshots, 1)
	assert.Equal(t, "tok_whatever", svc.screenshots[0].URLToken)
}
