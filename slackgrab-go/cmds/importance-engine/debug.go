package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/codegangsta/negroni"
	"github.com/gorilla/mux"
	"github.com/slackgrab/slackgrab/slackgrab-go/importance"
	"github.com/slackgrab/slackgrab/slackgrab-go/importance/features"
	"github.com/slackgrab/slackgrab/slackgrab-go/importance/label"
	"github.com/slackgrab/slackgrab/slackgrab-go/importance/training"
	"github.com/slackgrab/slackgrab/slackgrab-golib/errors"
	"go.uber.org/zap"
)

// engine is the part of importance.Engine the debug endpoints use.
type engine interface {
	Score(msg features.Message, sc features.Context) importance.Score
	FeedbackByID(messageID string, fb label.Feedback) error
	InteractionByID(messageID string, interacted bool, dwell time.Duration) error
	RunBatch(ctx context.Context) training.Result
	Stats() importance.Stats
}

type debugApp struct {
	engine engine
	logger *zap.Logger
}

func newDebugHandler(e engine, logger *zap.Logger) http.Handler {
	app := &debugApp{engine: e, logger: logger.Named("debug")}

	r := mux.NewRouter()
	r.HandleFunc("/debug/stats", app.handleStats).Methods("GET")
	r.HandleFunc("/debug/score", app.handleScore).Methods("POST")
	r.HandleFunc("/debug/feedback", app.handleFeedback).Methods("POST")
	r.HandleFunc("/debug/batch", app.handleBatch).Methods("POST")

	recovery := negroni.NewRecovery()
	recovery.PrintStack = false
	return negroni.New(recovery, negroni.HandlerFunc(app.logRequest), negroni.Wrap(r))
}

func (a *debugApp) logRequest(w http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	start := time.Now()
	next(w, r)
	a.logger.Debug("request",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Duration("elapsed", time.Since(start)))
}

func (a *debugApp) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.engine.Stats())
}

type scoreRequest struct {
	Message features.Message  `json:"message"`
	Context *features.Context `json:"context,omitempty"`
}

func (a *debugApp) handleScore(w http.ResponseWriter, r *http.Request) {
	var req scoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	sc := features.NewContext(time.Now())
	if req.Context != nil {
		sc = *req.Context
	}
	writeJSON(w, http.StatusOK, a.engine.Score(req.Message, sc))
}

// feedbackRequest carries either explicit feedback or an interaction.
type feedbackRequest struct {
	MessageID  string          `json:"message_id"`
	Feedback   *label.Feedback `json:"feedback,omitempty"`
	Interacted *bool           `json:"interacted,omitempty"`
	DwellMs    int64           `json:"dwell_ms,omitempty"`
}

func (a *debugApp) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var err error
	switch {
	case req.MessageID == "":
		http.Error(w, "message_id is required", http.StatusBadRequest)
		return
	case req.Feedback != nil:
		err = a.engine.FeedbackByID(req.MessageID, *req.Feedback)
	case req.Interacted != nil:
		err = a.engine.InteractionByID(req.MessageID, *req.Interacted, time.Duration(req.DwellMs)*time.Millisecond)
	default:
		http.Error(w, "one of feedback or interacted is required", http.StatusBadRequest)
		return
	}

	switch {
	case err == nil:
		w.WriteHeader(http.StatusAccepted)
	case errors.Is(err, importance.ErrUnknownMessage):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, training.ErrQueueFull), errors.Is(err, training.ErrTrainerStopped):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		a.logger.Error("feedback failed", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (a *debugApp) handleBatch(w http.ResponseWriter, r *http.Request) {
	res := a.engine.RunBatch(r.Context())
	a.logger.Info("batch requested",
		zap.Stringer("status", res.Status), zap.Int("examples", res.ExampleCount), zap.String("message", res.Message))
	writeJSON(w, http.StatusOK, res)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	buf, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(buf)
}
