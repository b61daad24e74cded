package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daviswhitehead/chef-chopsky-sub000/services/gateway/datatypes"
)

func TestRecoverJSONEmitsErrorEnvelope(t *testing.T) {
	router := gin.New()
	router.Use(RecoverJSON())
	router.POST("/v1/chat/turn", func(c *gin.Context) {
		panic("handler exploded")
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/turn", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusInternalServerError, w.Code)
	var resp datatypes.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "internal_error", resp.Error)
	assert.NotContains(t, resp.Message, "handler exploded",
		"the panic value must not reach the client")
	assert.GreaterOrEqual(t, resp.TimingMs, int64(0))
}

func TestRecoverJSONPassesThroughNormalResponses(t *testing.T) {
	router := gin.New()
	router.Use(RecoverJSON())
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}
