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
	"regexp"
	"time"
)

// EquivalentType classifies the unit of account behind an equivalent code.
type EquivalentType string

const (
	EquivalentFiat      EquivalentType = "fiat"
	EquivalentTime      EquivalentType = "time"
	EquivalentCommodity EquivalentType = "commodity"
	EquivalentCustom    EquivalentType = "custom"
)

var equivalentCodeRE = regexp.MustCompile(`^[A-Z0-9_]{1,16}$`)

// ValidEquivalentCode reports whether code is an acceptable equivalent code.
func ValidEquivalentCode(code string) bool { return equivalentCodeRE.MatchString(code) }

// Equivalent is a symbolic unit of account. Code and precision are immutable
// after creation; metadata and the active/frozen flags may change.
type Equivalent struct {
	Code      string         `json:"code"`
	Precision int            `json:"precision"` // 0..8 fractional digits
	Type      EquivalentType `json:"type"`
	ISOCode   string         `json:"iso_code,omitempty"`
	Active    bool           `json:"active"`

	// Frozen is set by the integrity sweeper when a critical invariant
	// violation is detected. Mutating operations on a frozen equivalent
	// are rejected until an operator clears the flag.
	Frozen bool `json:"frozen"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
