package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kukipiyo/PiyoXAssistant/internal/database"
	"github.com/kukipiyo/PiyoXAssistant/internal/metrics"
	"github.com/kukipiyo/PiyoXAssistant/internal/models"
	"github.com/kukipiyo/PiyoXAssistant/internal/pattern"
	"github.com/kukipiyo/PiyoXAssistant/internal/render"
	"github.com/kukipiyo/PiyoXAssistant/internal/schedule"
	"github.com/kukipiyo/PiyoXAssistant/internal/service"
	"github.com/kukipiyo/PiyoXAssistant/pkg/finance"
	"github.com/kukipiyo/PiyoXAssistant/pkg/weather"
	"github.com/kukipiyo/PiyoXAssistant/pkg/xapi"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	loc := time.UTC
	calc := schedule.NewCalculator(pattern.NewResolver(logger), logger, loc)

	// Unconfigured providers: rendering falls back to reference values.
	weatherClient := weather.NewClient("", "", "Tokyo", time.Second)
	financeClient := finance.NewClient("", "", time.Second)
	renderer := render.NewRenderer(weatherClient, financeClient, logger, loc)

	publisher := xapi.NewClient("", "", time.Second)
	dispatcher := service.NewDispatcher(publisher, renderer, logger, metrics.NewRegistry())

	cfg := models.SchedulerConfig{
		TickIntervalSec:   3600,
		Timezone:          "UTC",
		RecomputeDelaySec: 3600,
		DailyCeiling:      30,
		WeeklyCeiling:     200,
		MinGapMinutes:     30,
		AutoDispatch:      true,
	}
	svc := service.NewPostService(db, calc, dispatcher, renderer, cfg, logger, metrics.NewRegistry())
	t.Cleanup(svc.Stop)

	scheduler := service.NewScheduler(svc, time.Hour, logger)
	t.Cleanup(scheduler.Stop)

	return NewServer(svc, scheduler, renderer, db, logger)
}

func doJSON(t *testing.T, server *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)
	return w
}

func TestServer_HandleHealth(t *testing.T) {
	server := newTestServer(t)

	w := doJSON(t, server, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestServer_AddAndListMessages(t *testing.T) {
	server := newTestServer(t)

	w := doJSON(t, server, http.MethodPost, "/api/messages", addMessageRequest{
		Content:     "morning update",
		BaseTime:    "09:00",
		DatePattern: "daily",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var created models.Message
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, int64(1), created.ID)
	assert.Equal(t, models.StatusScheduled, created.Status)
	require.NotNil(t, created.NextDispatchAt)

	w = doJSON(t, server, http.MethodGet, "/api/messages", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var list []*models.Message
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list, 1)
}

func TestServer_AddMessageValidation(t *testing.T) {
	server := newTestServer(t)

	w := doJSON(t, server, http.MethodPost, "/api/messages", addMessageRequest{
		Content:     "bad time",
		BaseTime:    "25:99",
		DatePattern: "daily",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "VALIDATION_FAILED")
}

func TestServer_GetMessageNotFound(t *testing.T) {
	server := newTestServer(t)

	w := doJSON(t, server, http.MethodGet, "/api/messages/42", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "NOT_FOUND")
}

func TestServer_InvalidMessageID(t *testing.T) {
	server := newTestServer(t)

	w := doJSON(t, server, http.MethodGet, "/api/messages/abc", nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServer_DeleteMessage(t *testing.T) {
	server := newTestServer(t)

	w := doJSON(t, server, http.MethodPost, "/api/messages", addMessageRequest{
		Content:     "to delete",
		BaseTime:    "10:00",
		DatePattern: "daily",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, server, http.MethodDelete, "/api/messages/1", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, server, http.MethodGet, "/api/messages/1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_EditContent(t *testing.T) {
	server := newTestServer(t)

	w := doJSON(t, server, http.MethodPost, "/api/messages", addMessageRequest{
		Content:     "original",
		BaseTime:    "10:00",
		DatePattern: "daily",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, server, http.MethodPost, "/api/messages/1/content", map[string]string{"content": "updated"})
	require.Equal(t, http.StatusOK, w.Code)

	var msg models.Message
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &msg))
	assert.Equal(t, "updated", msg.Content)
}

func TestServer_PostponeValidation(t *testing.T) {
	server := newTestServer(t)

	w := doJSON(t, server, http.MethodPost, "/api/messages", addMessageRequest{
		Content:     "postpone me",
		BaseTime:    "10:00",
		DatePattern: "daily",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, server, http.MethodPost, "/api/messages/1/postpone", map[string]int{"minutes": 0})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, server, http.MethodPost, "/api/messages/1/postpone", map[string]int{"minutes": 15})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_PreviewBasic(t *testing.T) {
	server := newTestServer(t)

	w := doJSON(t, server, http.MethodPost, "/api/preview", map[string]interface{}{
		"text": "hello {WEATHER}",
		"full": false,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "hello [weather]", resp["rendered"])
}

func TestServer_PreviewFull(t *testing.T) {
	server := newTestServer(t)

	w := doJSON(t, server, http.MethodPost, "/api/preview", map[string]interface{}{
		"text": "temp is {TEMP}",
		"full": true,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var preview render.Preview
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &preview))
	assert.Equal(t, "temp is 25°C", preview.Rendered)
	assert.True(t, preview.WithinLimit)
}

func TestServer_PreviewEmptyText(t *testing.T) {
	server := newTestServer(t)

	w := doJSON(t, server, http.MethodPost, "/api/preview", map[string]interface{}{"text": ""})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServer_ImportCSV(t *testing.T) {
	server := newTestServer(t)

	csv := strings.Join([]string{
		"content,base_time,jitter_minutes,date_pattern",
		"daily briefing,08:00,10,daily",
		"broken row,99:99,0,daily",
		"weekend note,11:30,0,weekend",
	}, "\n")

	req := httptest.NewRequest(http.MethodPost, "/api/messages/import", strings.NewReader(csv))
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Imported int      `json:"imported"`
		Skipped  int      `json:"skipped"`
		Errors   []string `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Imported)
	assert.Equal(t, 1, resp.Skipped)

	lw := doJSON(t, server, http.MethodGet, "/api/messages", nil)
	var list []*models.Message
	require.NoError(t, json.Unmarshal(lw.Body.Bytes(), &list))
	assert.Len(t, list, 2)
}

func TestServer_SchedulerLifecycle(t *testing.T) {
	server := newTestServer(t)

	w := doJSON(t, server, http.MethodPost, "/api/scheduler/start", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"running":true}`, w.Body.String())

	w = doJSON(t, server, http.MethodPost, "/api/scheduler/stop", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"running":false}`, w.Body.String())
}

func TestServer_AssistMode(t *testing.T) {
	server := newTestServer(t)

	w := doJSON(t, server, http.MethodPost, "/api/scheduler/assist", map[string]bool{"enabled": true})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"assist_mode":true}`, w.Body.String())

	w = doJSON(t, server, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"assistMode":true`)
}

func TestServer_Status(t *testing.T) {
	server := newTestServer(t)

	w := doJSON(t, server, http.MethodPost, "/api/messages", addMessageRequest{
		Content:     "status check",
		BaseTime:    "09:00",
		DatePattern: "daily",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, server, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		SchedulerRunning bool             `json:"scheduler_running"`
		Summary          *service.Summary `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.SchedulerRunning)
	require.NotNil(t, resp.Summary)
	assert.Equal(t, 1, resp.Summary.Total)
	require.NotNil(t, resp.Summary.Next)
	assert.Equal(t, int64(1), resp.Summary.Next.ID)
}

func TestServer_Credentials(t *testing.T) {
	server := newTestServer(t)

	w := doJSON(t, server, http.MethodPost, "/api/credentials", map[string]string{
		"name":  database.CredentialWeatherAPIKey,
		"value": "test-key",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, server, http.MethodPost, "/api/credentials", map[string]string{
		"name":  "unknown_name",
		"value": "v",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, server, http.MethodGet, "/api/credentials", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var status map[string]bool
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.True(t, status[database.CredentialWeatherAPIKey])
	assert.False(t, status[database.CredentialBearerToken])
}

func TestServer_Metrics(t *testing.T) {
	server := newTestServer(t)

	// Generate some traffic first so counters exist.
	doJSON(t, server, http.MethodGet, "/health", nil)

	w := doJSON(t, server, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var snapshot map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snapshot))
	assert.Contains(t, snapshot, "counters")
	assert.Contains(t, snapshot, "uptime_ms")
}

func TestServer_RequestIDHeader(t *testing.T) {
	server := newTestServer(t)

	w := doJSON(t, server, http.MethodGet, "/health", nil)

	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}
