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

package api

import (
	"crypto/ed25519"
	"encoding/base64"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"github.com/shopspring/decimal"

	"github.com/commongrid/credithub/services"
	"github.com/commongrid/credithub/types"
)

func decodeKey(s string) (ed25519.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil || len(raw) != ed25519.PublicKeySize {
		return nil, types.NewError(types.CodeValidation, "public_key must be a base64 Ed25519 key")
	}
	return ed25519.PublicKey(raw), nil
}

func decodeSig(s string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil || len(raw) == 0 {
		return nil, types.NewError(types.CodeValidation, "signature must be base64")
	}
	return raw, nil
}

func parseID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, types.NewError(types.CodeValidation, "malformed id", "id", s)
	}
	return id, nil
}

type wirePolicy struct {
	AutoClearing        bool             `json:"auto_clearing"`
	CanBeIntermediate   bool             `json:"can_be_intermediate"`
	BlockedParticipants []string         `json:"blocked_participants,omitempty"`
	DailyLimit          *decimal.Decimal `json:"daily_limit,omitempty"`
}

func (p wirePolicy) policy() types.TrustPolicy {
	blocked := make([]types.PID, len(p.BlockedParticipants))
	for i, b := range p.BlockedParticipants {
		blocked[i] = types.PID(b)
	}
	return types.TrustPolicy{
		AutoClearing:        p.AutoClearing,
		CanBeIntermediate:   p.CanBeIntermediate,
		BlockedParticipants: blocked,
		DailyLimit:          p.DailyLimit,
	}
}

// --- participants ---

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var body struct {
		PublicKey   string         `json:"public_key"`
		DisplayName string         `json:"display_name"`
		Type        string         `json:"type"`
		Profile     map[string]any `json:"profile"`
		Signature   string         `json:"signature"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	pub, err := decodeKey(body.PublicKey)
	if err != nil {
		s.writeError(w, err)
		return
	}
	sig, err := decodeSig(body.Signature)
	if err != nil {
		s.writeError(w, err)
		return
	}
	p, err := s.svc.Participants.Register(r.Context(), services.RegisterRequest{
		PublicKey:   pub,
		DisplayName: body.DisplayName,
		Type:        types.ParticipantType(body.Type),
		Profile:     body.Profile,
		Signature:   sig,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleGetParticipant(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	p, err := s.svc.Participants.Get(r.Context(), types.PID(ps.ByName("pid")))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleUpdateParticipant(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var body struct {
		DisplayName string         `json:"display_name"`
		Profile     map[string]any `json:"profile"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	p, err := s.svc.Participants.UpdateProfile(r.Context(), callerPID(r), types.PID(ps.ByName("pid")), body.DisplayName, body.Profile)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleSetStatus(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var body struct {
		Status string `json:"status"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.svc.Participants.SetStatus(r.Context(), callerPID(r), types.PID(ps.ByName("pid")), types.ParticipantStatus(body.Status)); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": body.Status})
}

// --- auth ---

func (s *Server) handleChallenge(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var body struct {
		PID string `json:"pid"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	ch, err := s.svc.Auth.NewChallenge(r.Context(), types.PID(body.PID))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"challenge_id": ch.ID,
		"nonce":        base64.StdEncoding.EncodeToString(ch.Nonce),
		"expires_at":   ch.ExpiresAt,
	})
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var body struct {
		ChallengeID string `json:"challenge_id"`
		Signature   string `json:"signature"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	id, err := parseID(body.ChallengeID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	sig, err := decodeSig(body.Signature)
	if err != nil {
		s.writeError(w, err)
		return
	}
	pair, err := s.svc.Auth.Authenticate(r.Context(), id, sig)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, pair)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	pair, err := s.svc.Auth.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, pair)
}

// --- trust lines ---

func (s *Server) handleCreateTrustLine(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var body struct {
		To         string          `json:"to"`
		Equivalent string          `json:"equivalent"`
		Limit      decimal.Decimal `json:"limit"`
		Policy     wirePolicy      `json:"policy"`
		PublicKey  string          `json:"public_key"`
		Signature  string          `json:"signature"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	pub, err := decodeKey(body.PublicKey)
	if err != nil {
		s.writeError(w, err)
		return
	}
	sig, err := decodeSig(body.Signature)
	if err != nil {
		s.writeError(w, err)
		return
	}
	line, err := s.svc.TrustLines.Create(r.Context(), services.CreateTrustLineRequest{
		From:       callerPID(r),
		To:         types.PID(body.To),
		Equivalent: body.Equivalent,
		Limit:      body.Limit,
		Policy:     body.Policy.policy(),
		PublicKey:  pub,
		Signature:  sig,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, line)
}

func (s *Server) handleGetTrustLine(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := parseID(ps.ByName("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	line, err := s.svc.TrustLines.ByID(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, line)
}

func (s *Server) handleUpdateTrustLine(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := parseID(ps.ByName("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	var body struct {
		Limit     *decimal.Decimal `json:"limit"`
		Policy    *wirePolicy      `json:"policy"`
		PublicKey string           `json:"public_key"`
		Signature string           `json:"signature"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	pub, err := decodeKey(body.PublicKey)
	if err != nil {
		s.writeError(w, err)
		return
	}
	sig, err := decodeSig(body.Signature)
	if err != nil {
		s.writeError(w, err)
		return
	}
	req := services.UpdateTrustLineRequest{ID: id, NewLimit: body.Limit, PublicKey: pub, Signature: sig}
	if body.Policy != nil {
		p := body.Policy.policy()
		req.NewPolicy = &p
	}
	line, err := s.svc.TrustLines.Update(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, line)
}

func (s *Server) handleCloseTrustLine(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := parseID(ps.ByName("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	var body struct {
		PublicKey string `json:"public_key"`
		Signature string `json:"signature"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	pub, err := decodeKey(body.PublicKey)
	if err != nil {
		s.writeError(w, err)
		return
	}
	sig, err := decodeSig(body.Signature)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.svc.TrustLines.Close(r.Context(), id, pub, sig); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

// --- payments ---

func (s *Server) handleCreatePayment(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var body struct {
		To          string          `json:"to"`
		Equivalent  string          `json:"equivalent"`
		Amount      decimal.Decimal `json:"amount"`
		Description string          `json:"description"`
		Constraints struct {
			MaxHops   int      `json:"max_hops"`
			MaxPaths  int      `json:"max_paths"`
			TimeoutMS int      `json:"timeout_ms"`
			Avoid     []string `json:"avoid"`
		} `json:"constraints"`
		PublicKey string `json:"public_key"`
		Signature string `json:"signature"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	pub, err := decodeKey(body.PublicKey)
	if err != nil {
		s.writeError(w, err)
		return
	}
	sig, err := decodeSig(body.Signature)
	if err != nil {
		s.writeError(w, err)
		return
	}
	avoid := make([]types.PID, len(body.Constraints.Avoid))
	for i, a := range body.Constraints.Avoid {
		avoid[i] = types.PID(a)
	}
	tx, err := s.svc.Payments.Create(r.Context(), services.CreatePaymentRequest{
		Payer:       callerPID(r),
		Payee:       types.PID(body.To),
		Equivalent:  body.Equivalent,
		Amount:      body.Amount,
		Description: body.Description,
		Constraints: services.Constraints{
			MaxHops:   body.Constraints.MaxHops,
			MaxPaths:  body.Constraints.MaxPaths,
			TimeoutMS: body.Constraints.TimeoutMS,
			Avoid:     avoid,
		},
		PublicKey: pub,
		Signature: sig,
	})
	if err != nil {
		// A terminal aborted transaction is still reported alongside the
		// error so the caller can retrieve the abort reason.
		te := types.AsError(err)
		if tx != nil {
			te = &types.Error{Code: te.Code, Message: te.Message, Details: map[string]any{"tx_id": tx.ID.String()}}
		}
		s.writeError(w, te)
		return
	}
	s.writeJSON(w, http.StatusCreated, tx)
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := parseID(ps.ByName("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	tx, err := s.svc.Payments.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, tx)
}

// --- equivalents ---

func (s *Server) handleListEquivalents(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	eqs, err := s.svc.Equivalents.List(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, eqs)
}

func (s *Server) handleCreateEquivalent(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var body struct {
		Code      string `json:"code"`
		Precision int    `json:"precision"`
		Type      string `json:"type"`
		ISOCode   string `json:"iso_code"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	eq, err := s.svc.Equivalents.Create(r.Context(), callerPID(r), body.Code, body.Precision, types.EquivalentType(body.Type), body.ISOCode)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, eq)
}

func (s *Server) handleSetEquivalentActive(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var body struct {
		Active bool `json:"active"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.svc.Equivalents.SetActive(r.Context(), callerPID(r), ps.ByName("code"), body.Active); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"active": body.Active})
}

func (s *Server) handleUnfreezeEquivalent(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if err := s.svc.Equivalents.Unfreeze(r.Context(), callerPID(r), ps.ByName("code")); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"frozen": false})
}

// --- integrity ---

func (s *Server) handleIntegrityStatus(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	st, err := s.svc.Integrity.Status(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleIntegrityVerify(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	cp, err := s.svc.Integrity.Verify(r.Context(), ps.ByName("code"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, cp)
}

func (s *Server) handleIntegrityChecksum(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	sum, err := s.svc.Integrity.Checksum(r.Context(), ps.ByName("code"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"equivalent": ps.ByName("code"), "checksum": sum})
}

func (s *Server) handleAuditLog(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	var from, to time.Time
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.writeError(w, types.NewError(types.CodeValidation, "from must be RFC3339"))
			return
		}
		from = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.writeError(w, types.NewError(types.CodeValidation, "to must be RFC3339"))
			return
		}
		to = t
	}
	records, err := s.svc.Integrity.AuditLog(r.Context(), q.Get("equivalent"), from, to, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, records)
}
