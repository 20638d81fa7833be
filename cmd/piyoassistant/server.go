package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/kukipiyo/PiyoXAssistant/internal/constants"
	"github.com/kukipiyo/PiyoXAssistant/internal/database"
	apperrors "github.com/kukipiyo/PiyoXAssistant/internal/errors"
	"github.com/kukipiyo/PiyoXAssistant/internal/importer"
	"github.com/kukipiyo/PiyoXAssistant/internal/metrics"
	"github.com/kukipiyo/PiyoXAssistant/internal/middleware"
	"github.com/kukipiyo/PiyoXAssistant/internal/models"
	"github.com/kukipiyo/PiyoXAssistant/internal/render"
	"github.com/kukipiyo/PiyoXAssistant/internal/service"
	"github.com/kukipiyo/PiyoXAssistant/internal/tracing"
	"github.com/kukipiyo/PiyoXAssistant/internal/validation"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type Server struct {
	router    *mux.Router
	logger    *logrus.Logger
	svc       *service.PostService
	scheduler *service.Scheduler
	renderer  *render.Renderer
	db        *database.Database
	importer  *importer.Importer
	server    *http.Server
}

func NewServer(svc *service.PostService, scheduler *service.Scheduler, renderer *render.Renderer, db *database.Database, logger *logrus.Logger) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		logger:    logger,
		svc:       svc,
		scheduler: scheduler,
		renderer:  renderer,
		db:        db,
		importer:  importer.New(logger),
	}

	s.router.Use(middleware.Observability(logger, metrics.Default()))
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics()).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/messages", s.handleListMessages()).Methods(http.MethodGet)
	api.HandleFunc("/messages", s.handleAddMessage()).Methods(http.MethodPost)
	api.HandleFunc("/messages", s.handleReplaceMessages()).Methods(http.MethodPut)
	api.HandleFunc("/messages/import", s.handleImportMessages()).Methods(http.MethodPost)
	api.HandleFunc("/messages/{id}", s.handleGetMessage()).Methods(http.MethodGet)
	api.HandleFunc("/messages/{id}", s.handleDeleteMessage()).Methods(http.MethodDelete)
	api.HandleFunc("/messages/{id}/content", s.handleEditContent()).Methods(http.MethodPost)
	api.HandleFunc("/messages/{id}/time", s.handleEditTime()).Methods(http.MethodPost)
	api.HandleFunc("/messages/{id}/pattern", s.handleEditPattern()).Methods(http.MethodPost)
	api.HandleFunc("/messages/{id}/postpone", s.handlePostpone()).Methods(http.MethodPost)
	api.HandleFunc("/messages/{id}/duplicate", s.handleDuplicate()).Methods(http.MethodPost)
	api.HandleFunc("/messages/{id}/dispatched", s.handleMarkDispatched()).Methods(http.MethodPost)
	api.HandleFunc("/messages/{id}/preview", s.handlePreviewMessage()).Methods(http.MethodGet)

	api.HandleFunc("/preview", s.handlePreview()).Methods(http.MethodPost)
	api.HandleFunc("/status", s.handleStatus()).Methods(http.MethodGet)

	api.HandleFunc("/scheduler/start", s.handleSchedulerStart()).Methods(http.MethodPost)
	api.HandleFunc("/scheduler/stop", s.handleSchedulerStop()).Methods(http.MethodPost)
	api.HandleFunc("/scheduler/assist", s.handleAssistMode()).Methods(http.MethodPost)
	api.HandleFunc("/scheduler/compute", s.handleComputeSchedule()).Methods(http.MethodPost)

	api.HandleFunc("/credentials", s.handleSetCredential()).Methods(http.MethodPost)
	api.HandleFunc("/credentials", s.handleCredentialStatus()).Methods(http.MethodGet)
}

func (s *Server) Start() error {
	port := os.Getenv("PORT")
	if port == "" {
		port = strconv.Itoa(constants.DefaultServerPort)
	}

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%s", port),
		Handler:      s.router,
		ReadTimeout:  constants.DefaultServerReadTimeoutSec * time.Second,
		WriteTimeout: constants.DefaultServerWriteTimeoutSec * time.Second,
		IdleTimeout:  constants.DefaultServerIdleTimeoutSec * time.Second,
	}

	s.logger.Infof("Starting server on port %s", port)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := tracing.RequestID(r.Context())
	resp := apperrors.ToHTTPResponse(err, requestID)
	s.writeJSON(w, apperrors.HTTPStatusCode(err), resp)
}

func messageID(r *http.Request) (int64, error) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.NewValidationError("id", "must be a positive integer")
	}
	return id, nil
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func (s *Server) handleListMessages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusOK, s.svc.Messages())
	}
}

type addMessageRequest struct {
	Content       string `json:"content"`
	BaseTime      string `json:"baseTime"`
	JitterMinutes int    `json:"jitterMinutes"`
	DatePattern   string `json:"datePattern"`
}

func (s *Server) handleAddMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req addMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, r, apperrors.NewValidationError("body", "invalid JSON"))
			return
		}
		msg, err := s.svc.AddMessage(r.Context(), req.Content, req.BaseTime, req.JitterMinutes, req.DatePattern)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, msg)
	}
}

func (s *Server) handleReplaceMessages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var reqs []addMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
			s.writeError(w, r, apperrors.NewValidationError("body", "invalid JSON"))
			return
		}
		messages := make([]*models.Message, 0, len(reqs))
		for _, req := range reqs {
			messages = append(messages, &models.Message{
				Content:       req.Content,
				BaseTime:      req.BaseTime,
				JitterMinutes: req.JitterMinutes,
				DatePattern:   req.DatePattern,
			})
		}
		if err := s.svc.ReplaceAll(r.Context(), messages); err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]int{"count": len(messages)})
	}
}

func (s *Server) handleImportMessages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := s.importer.Parse(r.Body)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := s.svc.ReplaceAll(r.Context(), result.Messages); err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"imported": result.Imported,
			"skipped":  result.Skipped,
			"errors":   result.Errors,
		})
	}
}

func (s *Server) handleGetMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := messageID(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		msg, err := s.svc.Message(id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, msg)
	}
}

func (s *Server) handleDeleteMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := messageID(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := s.svc.DeleteMessage(r.Context(), id); err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func (s *Server) handleEditContent() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := messageID(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		var req struct {
			Content string `json:"content"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, r, apperrors.NewValidationError("body", "invalid JSON"))
			return
		}
		msg, err := s.svc.EditContent(r.Context(), id, req.Content)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, msg)
	}
}

func (s *Server) handleEditTime() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := messageID(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		var req struct {
			BaseTime      string `json:"baseTime"`
			JitterMinutes int    `json:"jitterMinutes"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, r, apperrors.NewValidationError("body", "invalid JSON"))
			return
		}
		msg, err := s.svc.EditTime(r.Context(), id, req.BaseTime, req.JitterMinutes)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, msg)
	}
}

func (s *Server) handleEditPattern() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := messageID(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		var req struct {
			DatePattern string `json:"datePattern"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, r, apperrors.NewValidationError("body", "invalid JSON"))
			return
		}
		msg, err := s.svc.EditPattern(r.Context(), id, req.DatePattern)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, msg)
	}
}

func (s *Server) handlePostpone() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := messageID(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		var req struct {
			Minutes int `json:"minutes"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, r, apperrors.NewValidationError("body", "invalid JSON"))
			return
		}
		if err := validation.ValidatePostponeMinutes(req.Minutes); err != nil {
			s.writeError(w, r, err)
			return
		}
		msg, err := s.svc.Postpone(r.Context(), id, req.Minutes)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, msg)
	}
}

func (s *Server) handleDuplicate() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := messageID(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		msg, err := s.svc.DuplicateMessage(r.Context(), id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, msg)
	}
}

func (s *Server) handleMarkDispatched() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := messageID(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		msg, err := s.svc.MarkManuallyDispatched(r.Context(), id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, msg)
	}
}

func (s *Server) handlePreviewMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := messageID(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		preview, err := s.svc.PreviewMessage(r.Context(), id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, preview)
	}
}

func (s *Server) handlePreview() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Text string `json:"text"`
			Full bool   `json:"full"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, r, apperrors.NewValidationError("body", "invalid JSON"))
			return
		}
		if req.Text == "" {
			s.writeError(w, r, apperrors.NewValidationError("text", "must not be empty"))
			return
		}
		if !req.Full {
			s.writeJSON(w, http.StatusOK, map[string]string{"rendered": s.renderer.RenderBasic(req.Text)})
			return
		}
		s.writeJSON(w, http.StatusOK, s.renderer.DryRun(r.Context(), req.Text))
	}
}

func (s *Server) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary := s.svc.Status()
		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"scheduler_running": s.scheduler.Running(),
			"summary":           summary,
		})
	}
}

func (s *Server) handleSchedulerStart() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.scheduler.Start(context.Background())
		s.writeJSON(w, http.StatusOK, map[string]bool{"running": s.scheduler.Running()})
	}
}

func (s *Server) handleSchedulerStop() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.scheduler.Stop()
		s.writeJSON(w, http.StatusOK, map[string]bool{"running": s.scheduler.Running()})
	}
}

func (s *Server) handleAssistMode() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Enabled bool `json:"enabled"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, r, apperrors.NewValidationError("body", "invalid JSON"))
			return
		}
		s.svc.SetAssistMode(req.Enabled)
		s.writeJSON(w, http.StatusOK, map[string]bool{"assist_mode": s.svc.AssistMode()})
	}
}

func (s *Server) handleComputeSchedule() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		count, err := s.svc.ComputeSchedule(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]int{"scheduled": count})
	}
}

var credentialNames = map[string]bool{
	database.CredentialBearerToken:   true,
	database.CredentialWeatherAPIKey: true,
	database.CredentialFinanceAPIKey: true,
}

func (s *Server) handleSetCredential() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, r, apperrors.NewValidationError("body", "invalid JSON"))
			return
		}
		if !credentialNames[req.Name] {
			s.writeError(w, r, apperrors.NewValidationError("name", "unknown credential name"))
			return
		}
		if req.Value == "" {
			s.writeError(w, r, apperrors.NewValidationError("value", "must not be empty"))
			return
		}
		if err := s.db.SetCredential(r.Context(), req.Name, req.Value); err != nil {
			s.writeError(w, r, err)
			return
		}
		// Clients read credentials at startup; a restart picks up the new value.
		s.logger.WithField("name", req.Name).Info("Credential updated, restart required to take effect")
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
	}
}

func (s *Server) handleCredentialStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := s.db.CredentialStatus(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, status)
	}
}
