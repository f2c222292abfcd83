package api

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"ipfixflow/internal/archive"
)

func TestHealthHandlerReturnsOK(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := &handlers{}
	r.GET("/healthz", h.health)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/healthz", nil)
	r.ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	require.Contains(t, rec.Body.String(), "ok")
}

func TestFlowsHandlerAppliesFilter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ar := archive.New(10)
	ar.Append(archive.Snapshot{ID: 1, SrcAddr: "10.0.0.1", DstAddr: "1.2.3.4", DstPort: 443})
	ar.Append(archive.Snapshot{ID: 2, SrcAddr: "192.168.1.1", DstAddr: "1.2.3.5", DstPort: 80})

	r := gin.New()
	h := &handlers{archive: ar}
	r.GET("/api/v1/flows", h.flows)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/v1/flows?filter=port=443", nil)
	r.ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	require.Contains(t, rec.Body.String(), "10.0.0.1")
	require.NotContains(t, rec.Body.String(), "192.168.1.1")
}

func TestFlowsHandlerRejectsBadFilter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ar := archive.New(10)
	r := gin.New()
	h := &handlers{archive: ar}
	r.GET("/api/v1/flows", h.flows)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/v1/flows?filter=bogus=1", nil)
	r.ServeHTTP(rec, req)

	require.Equal(t, 400, rec.Code)
}
