// Package httpapi implements the coordinator's HTTP surface: a
// health/ready/metrics triplet (liveness, readiness-with-checks, a
// Prometheus handler, all mounted on one mux) plus the nested task/worker/
// auditor resource routes, expressed with chi so path parameters like
// /tasks/{task_id} and /workers/{worker_id}/tasks fall out directly.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/dcompute/coreplane/internal/errs"
	"github.com/dcompute/coreplane/pkg/consensus"
	"github.com/dcompute/coreplane/pkg/lifecycle"
	"github.com/dcompute/coreplane/pkg/log"
	"github.com/dcompute/coreplane/pkg/metrics"
	"github.com/dcompute/coreplane/pkg/registry"
	"github.com/dcompute/coreplane/pkg/storage"
	"github.com/dcompute/coreplane/pkg/types"
)

// Server is the coordinator's HTTP surface.
type Server struct {
	lifecycle *lifecycle.Manager
	registry  *registry.Registry
	consensus *consensus.Engine
	store     storage.Store

	router chi.Router
}

// New constructs a Server and wires every route the coordinator exposes.
func New(lc *lifecycle.Manager, reg *registry.Registry, cons *consensus.Engine, store storage.Store) *Server {
	s := &Server{lifecycle: lc, registry: reg, consensus: cons, store: store}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestMetrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Get("/health", s.health)
	r.Get("/ready", s.ready)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/tasks", func(r chi.Router) {
		for _, tt := range []types.TaskType{
			types.TaskTranscription, types.TaskTTS, types.TaskSummarization,
			types.TaskTextTranslation, types.TaskDocumentTranslation, types.TaskVideoTranscription,
		} {
			tt := tt
			r.Post("/"+string(tt), s.submitTask(tt))
		}
		r.Get("/completed", s.listCompleted)
		r.Get("/{task_id}", s.getTask)
	})

	r.Route("/workers", func(r chi.Router) {
		r.Post("/register", s.registerWorker)
		r.Post("/response", s.workerResponse)
		r.Get("/status", s.listWorkerStatus)
		r.Get("/{worker_id}/tasks", s.workerTasks)
	})

	r.Route("/auditors", func(r chi.Router) {
		r.Post("/worker-status", s.ingestAuditorReport)
		r.Post("/evaluation", s.submitEvaluation)
		r.Get("/{auditor_id}/audited_tasks", s.auditedTasks)
	})

	s.router = r
	return s
}

// ServeHTTP satisfies http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		metrics.APIRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(ww.Status())).Inc()
		timer.ObserveDurationVec(metrics.APIRequestDuration, r.Method)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errs.KindOf(err) {
	case errs.Validation, errs.Contract:
		status = http.StatusBadRequest
	case errs.DataQuality:
		status = http.StatusUnprocessableEntity
	case errs.Transient:
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "healthy", "timestamp": time.Now()})
}

func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	ready := true

	if _, err := s.store.ListPendingTasks(r.Context(), 1); err != nil {
		checks["storage"] = "error: " + err.Error()
		ready = false
	} else {
		checks["storage"] = "ok"
	}

	status := http.StatusOK
	state := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		state = "not ready"
	}
	writeJSON(w, status, map[string]interface{}{"status": state, "checks": checks, "timestamp": time.Now()})
}

// submitTaskRequest is the JSON body for every /tasks/{type} route. It
// accepts either inline text or a pre-uploaded blob_id — large binary
// payloads go through BlobGateway first — covering both paths uniformly
// without duplicating multipart parsing per task type.
type submitTaskRequest struct {
	Priority            types.Priority  `json:"priority"`
	SourceLanguage      string          `json:"source_language"`
	TargetLanguage      string          `json:"target_language"`
	InlineText          string          `json:"inline_text"`
	BlobID              string          `json:"blob_id"`
	InputSizeBytes      int64           `json:"input_size_bytes"`
	RequiredWorkerCount int             `json:"required_worker_count"`
	MinWorkerCount      int             `json:"min_worker_count"`
	MaxWorkerCount      int             `json:"max_worker_count"`
}

func (s *Server) submitTask(tt types.TaskType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req submitTaskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, errs.FailedTo(errs.Validation, "httpapi", "decode submit request", string(tt), err))
			return
		}

		taskID, err := s.lifecycle.Submit(r.Context(), lifecycle.TaskSpec{
			TaskType:       tt,
			Priority:       req.Priority,
			SourceLanguage: req.SourceLanguage,
			TargetLanguage: req.TargetLanguage,
			Input:          types.InputRef{InlineText: req.InlineText, BlobID: req.BlobID},
			InputSizeBytes: req.InputSizeBytes,

			RequiredWorkerCount: req.RequiredWorkerCount,
			MinWorkerCount:      req.MinWorkerCount,
			MaxWorkerCount:      req.MaxWorkerCount,
		})
		if err != nil {
			metrics.TasksRejectedTotal.WithLabelValues(string(errs.KindOf(err))).Inc()
			writeError(w, err)
			return
		}
		metrics.TasksSubmittedTotal.WithLabelValues(string(tt)).Inc()
		writeJSON(w, http.StatusCreated, map[string]string{"task_id": taskID})
	}
}

// bestResponse implements the supplemented "best_response" task-snapshot
// projection: the highest self-reported-accuracy response, or the first if
// none report accuracy.
func bestResponse(task *types.Task) *types.WorkerResponse {
	if len(task.WorkerResponses) == 0 {
		return nil
	}
	best := &task.WorkerResponses[0]
	for i := 1; i < len(task.WorkerResponses); i++ {
		if task.WorkerResponses[i].SelfReportedAccuracy > best.SelfReportedAccuracy {
			best = &task.WorkerResponses[i]
		}
	}
	return best
}

type taskSnapshot struct {
	TaskID          string                  `json:"task_id"`
	Status          types.TaskStatus        `json:"status"`
	AssignedCount   int                     `json:"assigned_count"`
	ResponseCount   int                     `json:"response_count"`
	BestResponse    *types.WorkerResponse   `json:"best_response,omitempty"`
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	task, err := s.lifecycle.GetTask(r.Context(), taskID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, taskSnapshot{
		TaskID:        task.TaskID,
		Status:        task.Status,
		AssignedCount: len(task.AssignedWorkers),
		ResponseCount: len(task.WorkerResponses),
		BestResponse:  bestResponse(task),
	})
}

func (s *Server) listCompleted(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.store.ListCompletedTasks(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

type workerResponseRequest struct {
	TaskID               string            `json:"task_id"`
	WorkerID             string            `json:"worker_id"`
	OutputRef            string            `json:"output_ref"`
	Fields               map[string]string `json:"fields"`
	ProcessingTime       float64           `json:"processing_time"`
	SelfReportedAccuracy float64           `json:"self_reported_accuracy"`
	SelfReportedSpeed    float64           `json:"self_reported_speed"`
	Broken               bool              `json:"broken"`
}

func (s *Server) workerResponse(w http.ResponseWriter, r *http.Request) {
	var req workerResponseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.FailedTo(errs.Validation, "httpapi", "decode worker response", "", err))
		return
	}
	status, err := s.lifecycle.RecordResponse(r.Context(), req.TaskID, req.WorkerID, lifecycle.ResponsePayload{
		OutputRef:            req.OutputRef,
		Fields:               req.Fields,
		ProcessingTime:       req.ProcessingTime,
		SelfReportedAccuracy: req.SelfReportedAccuracy,
		SelfReportedSpeed:    req.SelfReportedSpeed,
		Broken:               req.Broken,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(status)})
}

func (s *Server) registerWorker(w http.ResponseWriter, r *http.Request) {
	var worker types.WorkerRecord
	if err := json.NewDecoder(r.Body).Decode(&worker); err != nil {
		writeError(w, errs.FailedTo(errs.Validation, "httpapi", "decode worker registration", "", err))
		return
	}
	if err := s.registry.Register(r.Context(), &worker); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"worker_id": worker.WorkerID})
}

func (s *Server) listWorkerStatus(w http.ResponseWriter, r *http.Request) {
	records, err := s.consensus.ListConsensusWorkers(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) workerTasks(w http.ResponseWriter, r *http.Request) {
	workerID := chi.URLParam(r, "worker_id")
	worker, err := s.registry.Get(r.Context(), workerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, worker)
}

type auditorReportBatch struct {
	AuditorID string                `json:"auditor_id"`
	Epoch     int64                 `json:"epoch"`
	Statuses  []types.WorkerRecord  `json:"worker_status"`
}

func (s *Server) ingestAuditorReport(w http.ResponseWriter, r *http.Request) {
	var req auditorReportBatch
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.FailedTo(errs.Validation, "httpapi", "decode auditor report", "", err))
		return
	}
	reports := make([]consensus.ReportInput, 0, len(req.Statuses))
	for _, status := range req.Statuses {
		reports = append(reports, consensus.ReportInput{WorkerID: status.WorkerID, Status: status})
	}
	s.consensus.ReceiveReport(r.Context(), req.AuditorID, req.Epoch, reports)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) auditedTasks(w http.ResponseWriter, r *http.Request) {
	auditorID := chi.URLParam(r, "auditor_id")
	ids, err := s.store.ListAuditedTaskIDs(r.Context(), auditorID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ids)
}

func (s *Server) submitEvaluation(w http.ResponseWriter, r *http.Request) {
	var eval types.AuditEvaluation
	if err := json.NewDecoder(r.Body).Decode(&eval); err != nil {
		writeError(w, errs.FailedTo(errs.Validation, "httpapi", "decode evaluation", "", err))
		return
	}
	eval.EvaluatedAt = time.Now()
	if err := s.store.InsertAuditEvaluation(r.Context(), &eval); err != nil {
		writeError(w, err)
		return
	}
	if err := s.lifecycle.MarkDone(r.Context(), eval.TaskID); err != nil {
		log.WithTaskID(eval.TaskID).Error().Err(err).Msg("failed to mark task done after evaluation")
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}
