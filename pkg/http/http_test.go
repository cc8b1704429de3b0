package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinRisk/internal/domain/models"
)

func TestFromDomain(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("scenario x: %w", models.ErrScenarioNotFound), http.StatusNotFound, "ERR_NOT_FOUND"},
		{fmt.Errorf("rule: %w", models.ErrInvalidRule), http.StatusBadRequest, "ERR_INVALID_INPUT"},
		{models.ErrUnknownMethod, http.StatusBadRequest, "ERR_UNKNOWN_METHOD"},
		{fmt.Errorf("aapl: %w", models.ErrInsufficientData), http.StatusUnprocessableEntity, "ERR_INSUFFICIENT_DATA"},
		{models.AsTimeout(context.DeadlineExceeded, "var"), http.StatusGatewayTimeout, "ERR_TIMEOUT"},
		{models.AsTimeout(context.Canceled, "var"), StatusClientClosedRequest, "ERR_CANCELED"},
		{fmt.Errorf("boom"), http.StatusInternalServerError, "ERR_INTERNAL"},
		{BadRequestError("nope"), http.StatusBadRequest, "ERR_BAD_REQUEST"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			e := FromDomain(tt.err)
			assert.Equal(t, tt.status, e.Status)
			assert.Equal(t, tt.code, e.Code)
		})
	}
}

type echoHandler struct{}

func (echoHandler) RegisterRoutes(e *echo.Echo) {
	e.POST("/items", func(c echo.Context) error {
		var req struct {
			Name  string  `json:"name" validate:"required"`
			Ratio float64 `json:"ratio" default:"0.5" validate:"gt=0,lte=1"`
		}
		if errs := ReadAndValidateRequest(c, &req); errs != nil {
			return BadRequestResponse(c, errs)
		}
		return CreatedResponse(c, req)
	})
	e.GET("/missing", func(c echo.Context) error {
		return AppErrorResponse(c, models.ErrScenarioNotFound)
	})
	e.GET("/panic", func(echo.Context) error { panic("handler bug") })
}

func TestServerRoutes(t *testing.T) {
	srv := NewServer(echoHandler{}, WithCORS())
	e := srv.Echo()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/items", strings.NewReader(`{"name":"a"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)
	var body APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, map[string]interface{}{"name": "a", "ratio": 0.5}, body.Data)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/items", strings.NewReader(`{"ratio":2}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "ERR_REQUIRED")

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
