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

package types

import (
	"errors"
	"fmt"
)

// ErrorCode is the wire-level code of the boundary error envelope.
type ErrorCode string

const (
	CodeNoRoute              ErrorCode = "E001"
	CodeInsufficientCapacity ErrorCode = "E002"
	CodeTrustLimitExceeded   ErrorCode = "E003"
	CodeTrustLineNotActive   ErrorCode = "E004"
	CodeInvalidSignature     ErrorCode = "E005"
	CodeForbidden            ErrorCode = "E006"
	CodeTimeout              ErrorCode = "E007"
	CodeStateConflict        ErrorCode = "E008"
	CodeValidation           ErrorCode = "E009"
	CodeInternal             ErrorCode = "E010"
)

// Error is a typed service error carrying the envelope code. Engines and
// services return these; the API boundary serializes them verbatim.
type Error struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

// NewError builds a typed error with optional key/value detail pairs.
func NewError(code ErrorCode, msg string, kv ...any) *Error {
	e := &Error{Code: code, Message: msg}
	if len(kv) > 0 {
		e.Details = make(map[string]any, len(kv)/2)
		for i := 0; i+1 < len(kv); i += 2 {
			if k, ok := kv[i].(string); ok {
				e.Details[k] = kv[i+1]
			}
		}
	}
	return e
}

// AsError extracts a typed *Error from err, mapping unknown errors to E010.
func AsError(err error) *Error {
	var te *Error
	if errors.As(err, &te) {
		return te
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return &Error{Code: CodeValidation, Message: err.Error()}
	case errors.Is(err, ErrStateConflict):
		return &Error{Code: CodeStateConflict, Message: err.Error()}
	}
	return &Error{Code: CodeInternal, Message: err.Error()}
}

// Sentinel errors shared across the store backends and services.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrStateConflict = errors.New("state conflict")
)
