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

package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/commongrid/credithub/types"
)

// DebtChecksum computes the integrity checksum of one equivalent's debt
// state: SHA-256 over the canonical serialization of all rows sorted by
// (debtor, creditor). The serialization is line-oriented
// "debtor|creditor|amount\n" with amounts in minimal decimal form, so two
// stores holding the same debts always agree byte for byte.
func DebtChecksum(debts []*types.Debt) string {
	rows := make([]*types.Debt, len(debts))
	copy(rows, debts)
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Debtor != rows[j].Debtor {
			return rows[i].Debtor < rows[j].Debtor
		}
		return rows[i].Creditor < rows[j].Creditor
	})
	var b strings.Builder
	for _, d := range rows {
		b.WriteString(string(d.Debtor))
		b.WriteByte('|')
		b.WriteString(string(d.Creditor))
		b.WriteByte('|')
		b.WriteString(d.Amount.String())
		b.WriteByte('\n')
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
