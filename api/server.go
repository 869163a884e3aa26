// Copyright 2025 The credithub Authors
// This file is part of the credithub library.
//
// The credithub library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The credithub library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the credithub library. If not, see <http://www.gnu.org/licenses/>.

// Package api exposes the hub over HTTP: a JSON REST surface under /v1, a
// websocket event stream, Prometheus metrics and a health probe. All errors
// leave as the envelope {code, message, details}.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/commongrid/credithub/event"
	"github.com/commongrid/credithub/services"
	"github.com/commongrid/credithub/types"
)

// Services bundles the operation layer the server dispatches to.
type Services struct {
	Participants *services.ParticipantService
	TrustLines   *services.TrustLineService
	Payments     *services.PaymentService
	Equivalents  *services.EquivalentService
	Integrity    *services.IntegrityService
	Auth         *services.AuthService
}

// Server is the HTTP boundary.
type Server struct {
	svc  Services
	feed *event.Feed[types.Event]
	log  *zap.Logger

	httpSrv *http.Server
}

// NewServer builds the router and wraps it with CORS.
func NewServer(addr string, svc Services, feed *event.Feed[types.Event], corsOrigins []string, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{svc: svc, feed: feed, log: log}

	mux := httprouter.New()
	mux.HandlerFunc(http.MethodGet, "/health", s.handleHealth)
	mux.Handler(http.MethodGet, "/metrics", promhttp.Handler())

	mux.POST("/v1/participants", s.handleRegister)
	mux.GET("/v1/participants/:pid", s.handleGetParticipant)
	mux.PATCH("/v1/participants/:pid", s.auth(s.handleUpdateParticipant))
	mux.PUT("/v1/participants/:pid/status", s.auth(s.handleSetStatus))

	mux.POST("/v1/auth/challenge", s.handleChallenge)
	mux.POST("/v1/auth/token", s.handleToken)
	mux.POST("/v1/auth/refresh", s.handleRefresh)

	mux.POST("/v1/trustlines", s.auth(s.handleCreateTrustLine))
	mux.GET("/v1/trustlines/:id", s.auth(s.handleGetTrustLine))
	mux.PATCH("/v1/trustlines/:id", s.auth(s.handleUpdateTrustLine))
	mux.DELETE("/v1/trustlines/:id", s.auth(s.handleCloseTrustLine))

	mux.POST("/v1/payments", s.auth(s.handleCreatePayment))
	mux.GET("/v1/transactions/:id", s.auth(s.handleGetTransaction))

	mux.GET("/v1/equivalents", s.handleListEquivalents)
	mux.POST("/v1/equivalents", s.auth(s.handleCreateEquivalent))
	mux.PUT("/v1/equivalents/:code/active", s.auth(s.handleSetEquivalentActive))
	mux.POST("/v1/equivalents/:code/unfreeze", s.auth(s.handleUnfreezeEquivalent))

	mux.GET("/v1/integrity/status", s.auth(s.handleIntegrityStatus))
	mux.POST("/v1/integrity/verify/:code", s.auth(s.handleIntegrityVerify))
	mux.GET("/v1/integrity/checksum/:code", s.auth(s.handleIntegrityChecksum))
	mux.GET("/v1/integrity/audit", s.auth(s.handleAuditLog))

	mux.GET("/v1/ws", s.handleEvents)

	handler := cors.New(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}).Handler(mux)

	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start begins serving. It returns once the listener stops.
func (s *Server) Start() error {
	s.log.Info("http server listening", zap.String("addr", s.httpSrv.Addr))
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop shuts the listener down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

type ctxKey int

const pidKey ctxKey = iota

// auth enforces a bearer access token and stores the authenticated PID in
// the request context.
func (s *Server) auth(next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" {
			s.writeError(w, types.NewError(types.CodeForbidden, "missing bearer token"))
			return
		}
		pid, err := s.svc.Auth.VerifyAccess(token)
		if err != nil {
			s.writeError(w, err)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), pidKey, pid)), ps)
	}
}

func callerPID(r *http.Request) types.PID {
	pid, _ := r.Context().Value(pidKey).(types.PID)
	return pid
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug("response write failed", zap.Error(err))
	}
}

// writeError maps the typed error codes onto HTTP statuses and emits the
// envelope.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	te := types.AsError(err)
	status := http.StatusInternalServerError
	switch te.Code {
	case types.CodeValidation:
		status = http.StatusBadRequest
	case types.CodeInvalidSignature:
		status = http.StatusUnauthorized
	case types.CodeForbidden:
		status = http.StatusForbidden
	case types.CodeStateConflict:
		status = http.StatusConflict
	case types.CodeTimeout:
		status = http.StatusGatewayTimeout
	case types.CodeNoRoute, types.CodeInsufficientCapacity,
		types.CodeTrustLimitExceeded, types.CodeTrustLineNotActive:
		status = http.StatusUnprocessableEntity
	case types.CodeInternal:
		s.log.Error("internal error at boundary", zap.Error(err))
	}
	s.writeJSON(w, status, map[string]any{"error": te})
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return types.NewError(types.CodeValidation, "malformed request body", "cause", err.Error())
	}
	return nil
}
