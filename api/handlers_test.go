package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"esp32watch/models"
	"esp32watch/services"
	"esp32watch/store"
)

type apiFixture struct {
	router  http.Handler
	handler *Handler
	store   *store.Store
	emails  *store.EmailStore
	alerts  *[]*models.DetectionAlert
	now     *time.Time
}

func setupAPIFixture(t *testing.T) apiFixture {
	ctx := context.Background()
	logger := zap.NewNop()

	db, err := store.Open(ctx, "sqlite", ":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	var mu sync.Mutex
	var alerts []*models.DetectionAlert
	notifier := services.NotifierFunc(func(_ context.Context, alert *models.DetectionAlert) error {
		mu.Lock()
		defer mu.Unlock()
		alerts = append(alerts, alert)
		return nil
	})

	detectionStore := store.NewDetectionStore(db)
	emailStore := store.NewEmailStore(db)
	liveness := services.NewLivenessService(services.NewMemoryHeartbeatStore(), 90*time.Second, logger).WithClock(clock)

	h := &Handler{
		Liveness:     liveness,
		Detections:   services.NewDetectionService(detectionStore, notifier, time.Second, logger).WithClock(clock),
		Dashboard:    services.NewDashboardService(detectionStore, emailStore, db, liveness, services.DashboardOptions{DeviceIDs: []string{"ESP32_Camera_AI"}}, logger).WithClock(clock),
		Emails:       services.NewEmailListService(emailStore, logger),
		Configurator: services.NewDeviceConfigurator(nil, "esp32/{device_id}/config", logger),
		Exporter:     services.NewDetectionExporter(detectionStore, time.UTC, logger),
		DB:           db,
		Env:          Environment{DBDriver: "sqlite", HeartbeatStore: "memory"},
		Logger:       logger,
		Now:          clock,
	}

	r := chi.NewRouter()
	h.RegisterRoutes(r)

	return apiFixture{router: r, handler: h, store: db, emails: emailStore, alerts: &alerts, now: &now}
}

func (f apiFixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func TestHandleDetection_Single(t *testing.T) {
	f := setupAPIFixture(t)

	w := f.do(t, http.MethodPost, "/api/detection",
		`{"device_id":"ESP32_Camera_AI","location":"Front Door","confidence":0.6,"dsp_time":95,"classification_time":180,"anomaly_time":60}`)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp detectionResponse
	decodeBody(t, w, &resp)
	assert.True(t, resp.Success)
	require.NotNil(t, resp.DetectionID)
	assert.True(t, resp.HumanDetected)
	assert.Len(t, *f.alerts, 1)
}

func TestHandleDetection_Batch(t *testing.T) {
	f := setupAPIFixture(t)

	w := f.do(t, http.MethodPost, "/api/detection", `{"detections":[
		{"device_id":"cam","location":"A","confidence":0.9},
		{"device_id":"cam","location":"B","confidence":0.1},
		{"device_id":"cam"},
		{"device_id":"cam","location":"C","human_detected":true},
		{"device_id":"cam","location":"D"}
	]}`)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp detectionResponse
	decodeBody(t, w, &resp)
	assert.Equal(t, 4, resp.Processed)
	assert.Equal(t, 1, resp.Skipped)
	assert.Len(t, resp.DetectionIDs, 4)
	assert.NotEmpty(t, resp.BatchID)
	assert.Equal(t, 2, resp.HumanDetectedCount)
	assert.Len(t, *f.alerts, 1)
}

func TestHandleDetection_BadRequest(t *testing.T) {
	f := setupAPIFixture(t)

	tests := []struct {
		name string
		body string
	}{
		{"missing location", `{"device_id":"cam"}`},
		{"malformed json", `{"device_id":`},
		{"empty body", ``},
		{"empty batch", `{"detections":[]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, "/api/detection", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			var resp errorResponse
			decodeBody(t, w, &resp)
			assert.NotEmpty(t, resp.Error)
		})
	}

	w := f.do(t, http.MethodGet, "/api/detections/latest", "")
	var latest models.LatestDetections
	decodeBody(t, w, &latest)
	assert.Equal(t, int64(0), latest.TotalCount)
	assert.Empty(t, *f.alerts)
}

func TestHandleHeartbeatAndStatus(t *testing.T) {
	f := setupAPIFixture(t)

	w := f.do(t, http.MethodPost, "/api/esp32/heartbeat",
		`{"device_id":"ESP32_Camera_AI","timestamp":1714564800000,"location":"Front Door","wifi_strength":-61}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var hb heartbeatResponse
	decodeBody(t, w, &hb)
	assert.True(t, hb.Success)
	assert.Equal(t, "Heartbeat received", hb.Message)

	w = f.do(t, http.MethodGet, "/api/esp32/status?device_id=ESP32_Camera_AI", "")
	require.Equal(t, http.StatusOK, w.Code)
	var status models.DeviceStatus
	decodeBody(t, w, &status)
	assert.True(t, status.Online)
	require.NotNil(t, status.SignalStrength)
	assert.Equal(t, -61, *status.SignalStrength)

	*f.now = f.now.Add(91 * time.Second)
	w = f.do(t, http.MethodGet, "/api/esp32/heartbeat?device_id=ESP32_Camera_AI", "")
	decodeBody(t, w, &status)
	assert.False(t, status.Online)

	w = f.do(t, http.MethodGet, "/api/esp32/devices", "")
	var devices devicesResponse
	decodeBody(t, w, &devices)
	assert.Equal(t, 1, devices.Total)
	assert.Equal(t, 0, devices.Online)
}

func TestHandleDeviceStatus_Unknown(t *testing.T) {
	f := setupAPIFixture(t)

	w := f.do(t, http.MethodGet, "/api/esp32/status?device_id=ghost", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"device_id":"ghost","online":false,"lastSeen":null}`, w.Body.String())
}

func TestHandleDeviceStatus_MissingID(t *testing.T) {
	f := setupAPIFixture(t)

	w := f.do(t, http.MethodGet, "/api/esp32/status", "")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"device_id is required"}`, w.Body.String())
}

func TestHandleDeviceStatus_DefaultDevice(t *testing.T) {
	f := setupAPIFixture(t)
	f.handler.DefaultDeviceID = "ESP32_Camera_AI"

	w := f.do(t, http.MethodPost, "/api/esp32/heartbeat",
		`{"device_id":"ESP32_Camera_AI","timestamp":1714564800000}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(t, http.MethodGet, "/api/esp32/status", "")

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var status models.DeviceStatus
	decodeBody(t, w, &status)
	assert.Equal(t, "ESP32_Camera_AI", status.DeviceID)
	assert.True(t, status.Online)
}

func TestHandleHeartbeat_MissingFields(t *testing.T) {
	f := setupAPIFixture(t)

	w := f.do(t, http.MethodPost, "/api/esp32/heartbeat", `{"device_id":"cam"}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleEmails(t *testing.T) {
	f := setupAPIFixture(t)

	w := f.do(t, http.MethodGet, "/api/emails", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	w = f.do(t, http.MethodPost, "/api/emails", `[{"email":"a@x.com"},{"email":"b@x.com"}]`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var saved emailsSaveResponse
	decodeBody(t, w, &saved)
	require.Len(t, saved.Data, 2)

	body := `[{"id":` + jsonUint(saved.Data[0].ID) + `,"email":"new@x.com"},{"email":"c@x.com"}]`
	w = f.do(t, http.MethodPost, "/api/emails", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decodeBody(t, w, &saved)
	require.Len(t, saved.Data, 2)
	assert.Equal(t, "new@x.com", saved.Data[0].Email)
	assert.Equal(t, "c@x.com", saved.Data[1].Email)
}

func TestHandleEmails_InvalidLeavesStoreUnchanged(t *testing.T) {
	f := setupAPIFixture(t)
	ctx := context.Background()
	require.NoError(t, f.emails.ApplyEmailPlan(ctx, models.EmailPlan{Creates: []string{"a@x.com"}}))

	w := f.do(t, http.MethodPost, "/api/emails", `[{"email":"b@x.com"},{"email":"notanemail"}]`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var resp errorResponse
	decodeBody(t, w, &resp)
	assert.Contains(t, resp.Error, "notanemail")

	emails, err := f.emails.ListEmails(ctx)
	require.NoError(t, err)
	require.Len(t, emails, 1)
	assert.Equal(t, "a@x.com", emails[0].Email)

	w = f.do(t, http.MethodPost, "/api/emails", `{"email":"a@x.com"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"Request body must be an array of emails"}`, w.Body.String())
}

func TestHandleEmails_NullBodyKeepsRecipients(t *testing.T) {
	f := setupAPIFixture(t)
	ctx := context.Background()
	require.NoError(t, f.emails.ApplyEmailPlan(ctx, models.EmailPlan{Creates: []string{"a@x.com", "b@x.com"}}))

	w := f.do(t, http.MethodPost, "/api/emails", `null`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"Request body must be an array of emails"}`, w.Body.String())

	emails, err := f.emails.ListEmails(ctx)
	require.NoError(t, err)
	assert.Len(t, emails, 2)

	w = f.do(t, http.MethodPost, "/api/emails", `[]`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	emails, err = f.emails.ListEmails(ctx)
	require.NoError(t, err)
	assert.Empty(t, emails)
}

func TestHandleLatestDetections_Pagination(t *testing.T) {
	f := setupAPIFixture(t)
	for i := 0; i < 8; i++ {
		w := f.do(t, http.MethodPost, "/api/detection", `{"device_id":"cam","location":"Hall","confidence":0.2,"dsp_time":90}`)
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := f.do(t, http.MethodGet, "/api/detections/latest", "")
	require.Equal(t, http.StatusOK, w.Code)
	var latest models.LatestDetections
	decodeBody(t, w, &latest)
	assert.Equal(t, int64(8), latest.TotalCount)
	assert.Equal(t, 2, latest.TotalPages)
	assert.Equal(t, 6, latest.ItemsPerPage)
	require.Len(t, latest.LatestDetections, 6)
	assert.Len(t, latest.LatestDetections[0].ProcessingPerformance, 1)

	w = f.do(t, http.MethodGet, "/api/detections/latest?page=1&limit=6", "")
	decodeBody(t, w, &latest)
	assert.Equal(t, 1, latest.CurrentPage)
	assert.Len(t, latest.LatestDetections, 2)

	w = f.do(t, http.MethodGet, "/api/detections/latest?page=abc&limit=-1", "")
	decodeBody(t, w, &latest)
	assert.Equal(t, 0, latest.CurrentPage)
	assert.Equal(t, 6, latest.ItemsPerPage)
}

func TestHandleStatsAndChartData(t *testing.T) {
	f := setupAPIFixture(t)
	w := f.do(t, http.MethodPost, "/api/detection", `{"device_id":"cam","location":"Hall","human_detected":true}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/api/dashboard/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	var stats models.DashboardStats
	decodeBody(t, w, &stats)
	assert.Equal(t, int64(1), stats.TotalDetectionCount)
	assert.Equal(t, int64(1), stats.TodayDetectionCount)
	assert.Equal(t, int64(1), stats.HumanDetectionCount)
	assert.True(t, stats.SystemStatus.Database)
	assert.Contains(t, stats.ESP32Status.Devices, "ESP32_Camera_AI")

	w = f.do(t, http.MethodGet, "/api/chart-data", "")
	require.Equal(t, http.StatusOK, w.Code)
	var chart models.ChartData
	decodeBody(t, w, &chart)
	require.Len(t, chart.DetectionTrends, 7)
	assert.Equal(t, 1, chart.DetectionTrends[6].Detections)
	assert.Equal(t, 1, chart.HourlyData[12].Detections)
	assert.Equal(t, 1, chart.DetectionStats.TimeDistribution[1].Value)
}

func TestHandleHealth(t *testing.T) {
	f := setupAPIFixture(t)

	w := f.do(t, http.MethodGet, "/api/health", "")

	require.Equal(t, http.StatusOK, w.Code)
	var resp healthResponse
	decodeBody(t, w, &resp)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "connected", resp.Database)
	assert.Equal(t, "sqlite", resp.Environment.DBDriver)

	require.NoError(t, f.store.Close())
	w = f.do(t, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	decodeBody(t, w, &resp)
	assert.Equal(t, "unhealthy", resp.Status)
	assert.NotEmpty(t, resp.Error)
}

func TestHandleConfigure_Unavailable(t *testing.T) {
	f := setupAPIFixture(t)

	w := f.do(t, http.MethodPost, "/api/esp32/configure",
		`{"ssid":"home","password":"secret","emails":["a@x.com"],"appToken":"tok"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = f.do(t, http.MethodPost, "/api/esp32/configure", `{"ssid":"home"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

type capturePublisher struct {
	topic   string
	payload []byte
}

func (c *capturePublisher) Publish(_ context.Context, topic string, payload []byte) error {
	c.topic, c.payload = topic, payload
	return nil
}

func TestHandleConfigure(t *testing.T) {
	f := setupAPIFixture(t)
	pub := &capturePublisher{}
	f.handler.Configurator = services.NewDeviceConfigurator(pub, "esp32/{device_id}/config", zap.NewNop())

	w := f.do(t, http.MethodPost, "/api/esp32/configure",
		`{"device_id":"ESP32_Camera_AI","ssid":"home","password":"secret","emails":["a@x.com"],"appToken":"tok"}`)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "esp32/ESP32_Camera_AI/config", pub.topic)
	assert.NotContains(t, w.Body.String(), "secret")
}

func TestHandleTestEmail_NotConfigured(t *testing.T) {
	f := setupAPIFixture(t)

	w := f.do(t, http.MethodPost, "/api/test-email", "")

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

type stubMailer struct {
	err     error
	message *string
}

func (s stubMailer) SendTest(_ context.Context, message string) (*services.TestEmailResult, error) {
	if s.message != nil {
		*s.message = message
	}
	if s.err != nil {
		return nil, s.err
	}
	return &services.TestEmailResult{Recipients: []string{"a@x.com"}, RecipientCount: 1}, nil
}

func TestHandleTestEmail(t *testing.T) {
	f := setupAPIFixture(t)

	var sent string
	f.handler.Mailer = stubMailer{message: &sent}
	w := f.do(t, http.MethodPost, "/api/test-email", `{"testMessage":"hello from the dashboard"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "hello from the dashboard", sent)
	var resp testEmailResponse
	decodeBody(t, w, &resp)
	assert.Equal(t, 1, resp.Details.RecipientCount)

	f.handler.Mailer = stubMailer{err: services.ErrNoRecipients}
	w = f.do(t, http.MethodPost, "/api/test-email", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleExport(t *testing.T) {
	f := setupAPIFixture(t)
	w := f.do(t, http.MethodPost, "/api/detection", `{"device_id":"cam","location":"Hall","confidence":0.8}`)
	require.Equal(t, http.StatusOK, w.Code)
	*f.now = f.now.Add(time.Minute)

	w = f.do(t, http.MethodGet, "/api/detections/export", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Disposition"), "attachment; filename="))

	wb, err := excelize.OpenReader(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	defer wb.Close()
	rows, err := wb.GetRows("Detections")
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	w = f.do(t, http.MethodGet, "/api/detections/export?from=2024-05-10T00:00:00Z&to=2024-05-01T00:00:00Z", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/api/detections/export?from=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func jsonUint(v uint) string {
	b, _ := json.Marshal(v)
	return string(b)
}
