package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"esp32watch/models"
	"esp32watch/services"
)

const maxBodyBytes = 1 << 20

type Liveness interface {
	RecordHeartbeat(ctx context.Context, hb models.Heartbeat) (models.DeviceRecord, error)
	Status(ctx context.Context, deviceID string) (models.DeviceStatus, error)
	AllStatuses(ctx context.Context) ([]models.DeviceStatus, error)
}

type Dashboard interface {
	Stats(ctx context.Context) (*models.DashboardStats, error)
	ChartData(ctx context.Context) (*models.ChartData, error)
	LatestDetections(ctx context.Context, page, size int) (*models.LatestDetections, error)
}

type EmailList interface {
	List(ctx context.Context) ([]models.NotificationEmail, error)
	Count(ctx context.Context) (int64, error)
	Save(ctx context.Context, desired []models.EmailEntry) ([]models.NotificationEmail, error)
}

type TestMailer interface {
	SendTest(ctx context.Context, message string) (*services.TestEmailResult, error)
}

type Configurator interface {
	Configure(ctx context.Context, req models.DeviceConfigRequest) (*models.ConfigureResult, error)
}

type Exporter interface {
	Export(ctx context.Context, from, to time.Time) ([]byte, int, error)
}

// Environment is reported by the health endpoint
type Environment struct {
	HasDatabaseURL  bool   `json:"hasDatabaseUrl"`
	HasSMTPUser     bool   `json:"hasSmtpUser"`
	HasSMTPPassword bool   `json:"hasSmtpPassword"`
	DBDriver        string `json:"dbDriver"`
	HeartbeatStore  string `json:"heartbeatStore"`
	MQTT            bool   `json:"mqtt"`
	RabbitMQ        bool   `json:"rabbitmq"`
}

type Handler struct {
	Liveness     Liveness
	Detections   services.DetectionRecorder
	Dashboard    Dashboard
	Emails       EmailList
	Mailer       TestMailer
	Configurator Configurator
	Exporter     Exporter
	DB           services.Pinger
	Env          Environment
	Logger       *zap.Logger
	// DefaultDeviceID answers status polls that name no device
	DefaultDeviceID string
	Now             func() time.Time
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/detection", h.handleDetection)
		r.Get("/detections/latest", h.handleLatestDetections)
		r.Get("/detections/export", h.handleExport)

		r.Route("/esp32", func(r chi.Router) {
			r.Post("/heartbeat", h.handleHeartbeat)
			r.Get("/heartbeat", h.handleDeviceStatus)
			r.Get("/status", h.handleDeviceStatus)
			r.Get("/devices", h.handleDevices)
			r.Post("/configure", h.handleConfigure)
		})

		r.Get("/dashboard/stats", h.handleStats)
		r.Get("/chart-data", h.handleChartData)

		r.Get("/emails", h.handleEmailsList)
		r.Post("/emails", h.handleEmailsSave)
		r.Post("/test-email", h.handleTestEmail)

		r.Get("/health", h.handleHealth)
	})
}

func (h *Handler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// internalError logs the cause and answers with a generic message
func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.Logger.Error(msg,
		zap.String("path", r.URL.Path),
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.Error(err))
	writeError(w, http.StatusInternalServerError, msg)
}

// RequestLogger writes one zap line per request
func RequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("HTTP request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}

// decodeJSON reads a JSON body; devices may send fields this server does not know
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
