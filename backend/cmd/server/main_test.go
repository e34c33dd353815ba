package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	pkgerrors "engram/backend/pkg/errors"
	"engram/backend/pkg/logger"
)

func TestHealthEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/health", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var response map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &response)
	assert.Equal(t, "ok", response["status"])
}

func TestResolveEndpoint_InvalidRequest(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()

	// Mock endpoint with the same binding as the real route
	router.POST("/api/resolve", func(c *gin.Context) {
		var req struct {
			Name   string `json:"name" binding:"required"`
			Type   string `json:"type" binding:"required"`
			UserID string `json:"user_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"entity_key": "x"})
	})

	// Test missing fields
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/api/resolve", bytes.NewBuffer([]byte(`{"name":"only a name"}`)))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRespondErrorStatusMapping(t *testing.T) {
	gin.SetMode(gin.TestMode)
	log := logger.Get()

	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"invalid argument", pkgerrors.NewInvalidArgument("criteria", "missing"), http.StatusBadRequest},
		{"data integrity", pkgerrors.NewDataIntegrity("abc", "collision"), http.StatusConflict},
		{"upstream timeout", pkgerrors.NewUpstreamTimeout("vector search", 0, nil), http.StatusGatewayTimeout},
		{"upstream failure", pkgerrors.NewUpstreamFailure("neo4j", nil), http.StatusBadGateway},
		{"unknown error", assert.AnError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.GET("/boom", func(c *gin.Context) {
				respondError(c, log, "test", tt.err)
			})

			w := httptest.NewRecorder()
			req, _ := http.NewRequest("GET", "/boom", nil)
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}
