// Package http implements the HTTP transport for obivox.
//
// This transport exposes a REST API for dispatch and human feedback, a few
// views of the routing state, an operator switch for automatic cascades,
// and the Swagger UI. It is best
// suited for web clients, phones, and services that prefer HTTP.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	_ "github.com/nadzzz/obivox/docs"
	"github.com/nadzzz/obivox/internal/atlas"
	"github.com/nadzzz/obivox/internal/config"
	"github.com/nadzzz/obivox/internal/drift"
	"github.com/nadzzz/obivox/internal/feedback"
	"github.com/nadzzz/obivox/internal/message"
	"github.com/nadzzz/obivox/internal/observe"
	"github.com/nadzzz/obivox/internal/transport"
)

const defaultMaxBody = 25 << 20

// Transport implements transport.Transport over HTTP.
type Transport struct {
	port    int
	maxBody int64
	metrics *observe.Metrics
	server  *http.Server
}

// New creates a new HTTP transport. A nil m uses observe.Default.
func New(cfg config.HTTPConfig, m *observe.Metrics) *Transport {
	if cfg.MaxBody <= 0 {
		cfg.MaxBody = defaultMaxBody
	}
	if m == nil {
		m = observe.Default()
	}
	return &Transport{port: cfg.Port, maxBody: cfg.MaxBody, metrics: m}
}

// Name returns the transport identifier.
func (t *Transport) Name() string { return "http" }

// Handler builds the routed, instrumented handler for svc.
func (t *Transport) Handler(svc transport.Service) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /dispatch", func(w http.ResponseWriter, r *http.Request) {
		t.handleDispatch(w, r, svc)
	})
	mux.HandleFunc("POST /feedback", func(w http.ResponseWriter, r *http.Request) {
		t.handleFeedback(w, r, svc)
	})

	if insp, ok := svc.(transport.Inspector); ok {
		mux.HandleFunc("GET /atlas", func(w http.ResponseWriter, r *http.Request) {
			handleAtlas(w, insp)
		})
		mux.HandleFunc("GET /state", func(w http.ResponseWriter, r *http.Request) {
			handleState(w, insp.DriftState)
		})
		mux.HandleFunc("GET /confirmations", func(w http.ResponseWriter, r *http.Request) {
			handleConfirmations(w, r, insp)
		})
		mux.HandleFunc("GET /corrections", func(w http.ResponseWriter, r *http.Request) {
			handleCorrections(w, r, insp)
		})
	}
	if op, ok := svc.(transport.Operator); ok {
		mux.HandleFunc("PUT /state/fault-tolerance", func(w http.ResponseWriter, r *http.Request) {
			handleFaultTolerance(w, r, op)
		})
	}

	mux.Handle("GET /swagger/", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	return observe.Middleware(t.metrics)(mux)
}

// Listen starts the HTTP server and routes incoming requests to svc.
func (t *Transport) Listen(ctx context.Context, svc transport.Service) error {
	t.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", t.port),
		Handler:           t.Handler(svc),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("http transport listening", "port", t.port)

	go func() {
		<-ctx.Done()
		slog.Info("http transport shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = t.server.Shutdown(shutdownCtx)
	}()

	if err := t.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http listen: %w", err)
	}
	return nil
}

// statusFor maps a pipeline error to an HTTP status.
func statusFor(err error) int {
	switch transport.Classify(err) {
	case transport.KindInvalid:
		return http.StatusBadRequest
	case transport.KindNotFound:
		return http.StatusNotFound
	case transport.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// handleDispatch processes a POST /dispatch request.
//
// @Summary     Dispatch audio or text
// @Description Accepts a JSON message (base64 audio or text) or raw audio bytes. Audio is analysed,
// @Description classified by the drift controller and transcribed by the backend of the selected
// @Description atlas entry; text is synthesized. Low confidence or human-stress drift attach a
// @Description confirmation request that is answered through POST /feedback.
// @Tags        dispatch
// @Accept      json
// @Accept      audio/wav
// @Accept      audio/ogg
// @Produce     json
// @Param       message  body      message.Message  true  "Dispatch request (JSON). For raw audio, POST the bytes directly with the appropriate Content-Type."
// @Param       X-Obivox-Source     header  string  false  "Sender identifier (raw audio uploads)"
// @Param       X-Obivox-Language   header  string  false  "ISO-639-1 language hint (raw audio uploads)"
// @Param       X-Obivox-Service    header  string  false  "Atlas service override (raw audio uploads)"
// @Param       X-Obivox-Operation  header  string  false  "Atlas operation override (raw audio uploads)"
// @Param       X-Obivox-Drift      header  number  false  "Drift estimate in [0,1] (raw audio uploads)"
// @Success     200  {object}  message.DispatchResult  "Dispatch outcome"
// @Failure     400  {object}  message.DispatchResult  "Invalid input"
// @Failure     404  {object}  message.DispatchResult  "Unknown service/operation"
// @Failure     500  {object}  message.DispatchResult  "Internal processing error"
// @Router      /dispatch [post]
func (t *Transport) handleDispatch(w http.ResponseWriter, r *http.Request, svc transport.Service) {
	var msg message.Message
	body := http.MaxBytesReader(w, r.Body, t.maxBody)

	contentType := r.Header.Get("Content-Type")
	switch {
	case strings.HasPrefix(contentType, "application/json"):
		if err := json.NewDecoder(body).Decode(&msg); err != nil {
			http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
			return
		}
	default:
		// Treat body as raw audio; read routing hints from headers.
		audioData, err := io.ReadAll(body)
		if err != nil {
			http.Error(w, "reading audio: "+err.Error(), http.StatusBadRequest)
			return
		}
		msg.Audio = audioData
		msg.ContentType = contentType
		msg.Source = r.Header.Get("X-Obivox-Source")
		msg.Language = r.Header.Get("X-Obivox-Language")
		msg.Service = r.Header.Get("X-Obivox-Service")
		msg.Operation = r.Header.Get("X-Obivox-Operation")
		if v := r.Header.Get("X-Obivox-Drift"); v != "" {
			d, err := strconv.ParseFloat(v, 64)
			if err != nil {
				http.Error(w, "invalid drift header: "+err.Error(), http.StatusBadRequest)
				return
			}
			msg.DriftEstimate = &d
		}
	}

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.Timestamp = time.Now().UTC()

	result, err := svc.Handle(r.Context(), &msg)
	if err != nil {
		status := statusFor(err)
		slog.Warn("dispatch failed", "message_id", msg.ID, "status", status, "error", err)
		if result == nil {
			result = &message.DispatchResult{MessageID: msg.ID, Error: err.Error()}
		}
		writeJSON(w, status, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleFeedback processes a POST /feedback request.
//
// @Summary     Submit a human correction
// @Description Records a correction (optionally answering a confirmation request) and feeds it
// @Description back into the drift controller, which resets its recovery attempts.
// @Tags        feedback
// @Accept      json
// @Produce     json
// @Param       correction  body      message.Correction  true  "Correction"
// @Success     200  {object}  message.FeedbackResult
// @Failure     400  {string}  string  "Invalid request body"
// @Failure     404  {string}  string  "Unknown confirmation request"
// @Router      /feedback [post]
func (t *Transport) handleFeedback(w http.ResponseWriter, r *http.Request, svc transport.Service) {
	var c message.Correction
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&c); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}
	res, err := svc.Feedback(r.Context(), c)
	if err != nil {
		http.Error(w, "feedback error: "+err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// AtlasView is the GET /atlas response.
type AtlasView struct {
	Requested atlas.Discipline `json:"requested"`
	Effective atlas.Discipline `json:"effective"`
	Entries   []atlas.Entry    `json:"entries"`
}

// handleAtlas serves GET /atlas.
//
// @Summary  Discovery index contents
// @Tags     state
// @Produce  json
// @Success  200  {object}  AtlasView
// @Router   /atlas [get]
func handleAtlas(w http.ResponseWriter, insp transport.Inspector) {
	req, eff := insp.Discipline()
	writeJSON(w, http.StatusOK, AtlasView{Requested: req, Effective: eff, Entries: insp.Entries()})
}

// handleState serves GET /state.
//
// @Summary  Drift controller state
// @Tags     state
// @Produce  json
// @Success  200  {object}  drift.State
// @Router   /state [get]
func handleState(w http.ResponseWriter, state func() drift.State) {
	writeJSON(w, http.StatusOK, state())
}

// handleConfirmations serves GET /confirmations.
//
// @Summary  Pending confirmation requests
// @Tags     feedback
// @Produce  json
// @Param    limit  query  int  false  "Maximum number of requests"  default(100)
// @Success  200  {array}  feedback.Request
// @Router   /confirmations [get]
func handleConfirmations(w http.ResponseWriter, r *http.Request, insp transport.Inspector) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	pending, err := insp.Pending(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if pending == nil {
		pending = []feedback.Request{}
	}
	writeJSON(w, http.StatusOK, pending)
}

// handleCorrections serves GET /corrections.
//
// @Summary  Recorded human corrections, newest first
// @Tags     feedback
// @Produce  json
// @Param    limit  query  int  false  "Maximum number of corrections"  default(100)
// @Success  200  {array}  feedback.Correction
// @Router   /corrections [get]
func handleCorrections(w http.ResponseWriter, r *http.Request, insp transport.Inspector) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	corrections, err := insp.Corrections(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if corrections == nil {
		corrections = []feedback.Correction{}
	}
	writeJSON(w, http.StatusOK, corrections)
}

// FaultToleranceRequest is the PUT /state/fault-tolerance body.
type FaultToleranceRequest struct {
	Enabled *bool `json:"enabled"`
}

// handleFaultTolerance serves PUT /state/fault-tolerance.
//
// @Summary  Switch automatic cascades on or off
// @Tags     state
// @Accept   json
// @Produce  json
// @Param    body  body  FaultToleranceRequest  true  "Cascade switch"
// @Success  200  {object}  drift.State
// @Failure  400  {string}  string
// @Router   /state/fault-tolerance [put]
func handleFaultTolerance(w http.ResponseWriter, r *http.Request, op transport.Operator) {
	var req FaultToleranceRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<10)).Decode(&req); err != nil || req.Enabled == nil {
		http.Error(w, `body must be {"enabled": true|false}`, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, op.SetFaultTolerance(*req.Enabled))
}

// parseLimit reads the optional limit query parameter, writing a 400 when
// it is malformed.
func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		http.Error(w, "invalid limit", http.StatusBadRequest)
		return 0, false
	}
	return n, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Close gracefully shuts down the HTTP server.
func (t *Transport) Close() error {
	if t.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return t.server.Shutdown(ctx)
	}
	return nil
}
