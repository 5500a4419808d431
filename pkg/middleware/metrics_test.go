package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestRequestMetrics_PassesThrough(t *testing.T) {
	router := gin.New()
	router.Use(RequestMetrics())
	router.GET("/m/:token", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"menu": "ok"})
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/m/tok_abc", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	// unmatched routes must not blow up label handling
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
