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

// Package identity implements the pure cryptographic operations of the hub:
// participant ID derivation, canonical JSON hashing and Ed25519 signature
// verification over domain-tagged payloads.
package identity

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gowebpki/jcs"
	"github.com/mr-tron/base58"

	"github.com/commongrid/credithub/types"
)

// OpTag is the operation-domain tag prepended to every signable payload so a
// signature for one operation class cannot be replayed as another.
type OpTag string

const (
	OpParticipantCreate OpTag = "participant.create"
	OpTrustLineCreate   OpTag = "trustline.create"
	OpTrustLineUpdate   OpTag = "trustline.update"
	OpTrustLineClose    OpTag = "trustline.close"
	OpPaymentCreate     OpTag = "payment.create"
	OpClearingAccept    OpTag = "clearing.accept"
)

var (
	ErrBadPublicKey  = errors.New("identity: public key must be 32 bytes")
	ErrBadSignature  = errors.New("identity: signature must be 64 bytes")
	ErrVerifyFailed  = errors.New("identity: signature verification failed")
	ErrNotCanonical  = errors.New("identity: payload not canonicalizable")
	ErrReservedField = errors.New(`identity: payload must not contain an "op" field`)
)

// DerivePID derives the participant identifier from a 32-byte Ed25519 public
// key: base58(sha256(pk)), Bitcoin alphabet (omits 0, O, I, l).
func DerivePID(pub ed25519.PublicKey) (types.PID, error) {
	if len(pub) != ed25519.PublicKeySize {
		return "", ErrBadPublicKey
	}
	sum := sha256.Sum256(pub)
	return types.PID(base58.Encode(sum[:])), nil
}

// CanonicalJSON renders v as RFC 8785 canonical JSON: lexicographically
// sorted keys, no insignificant whitespace, UTF-8, shortest faithful number
// form. Amounts travel as decimal strings in all hub payloads, so the
// ECMAScript number formatting of RFC 8785 never applies to them.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotCanonical, err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotCanonical, err)
	}
	return out, nil
}

// MakeSignable produces the canonical bytes a client must sign for the given
// operation: canonical_json({"op": tag, ...payload}). The payload must not
// itself carry an "op" key, and must exclude signature, public key and
// claimed PID fields.
func MakeSignable(payload map[string]any, op OpTag) ([]byte, error) {
	if _, ok := payload["op"]; ok {
		return nil, ErrReservedField
	}
	tagged := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		tagged[k] = v
	}
	tagged["op"] = string(op)
	return CanonicalJSON(tagged)
}

// Verify checks sig over msg with pub. It returns ErrVerifyFailed rather
// than a bool so call sites read as plain error flow.
func Verify(pub ed25519.PublicKey, msg, sig []byte) error {
	if len(pub) != ed25519.PublicKeySize {
		return ErrBadPublicKey
	}
	if len(sig) != ed25519.SignatureSize {
		return ErrBadSignature
	}
	if !ed25519.Verify(pub, msg, sig) {
		return ErrVerifyFailed
	}
	return nil
}

// VerifySigner verifies sig over the signable payload and additionally binds
// the signer: the PID derived from pub must equal claimed. This is the check
// every mutating service operation performs.
func VerifySigner(pub ed25519.PublicKey, payload map[string]any, op OpTag, sig []byte, claimed types.PID) error {
	pid, err := DerivePID(pub)
	if err != nil {
		return err
	}
	if pid != claimed {
		return fmt.Errorf("%w: key belongs to %s, claimed %s", ErrVerifyFailed, pid, claimed)
	}
	msg, err := MakeSignable(payload, op)
	if err != nil {
		return err
	}
	return Verify(pub, msg, sig)
}
