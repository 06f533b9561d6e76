// Copyright 2025-2026
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package portfolio

import (
	"github.com/google/uuid"
	"github.com/wallet-pulse/wp-api/data"
)

// transactionKind classifies a raw transfer. An outbound transfer that moved
// no value is a gas-only transaction, e.g. an approval, and is recorded as a
// fee.
func transactionKind(transfer *data.Transfer) string {
	switch transfer.Direction {
	case data.DirectionReceive:
		return ReceiveTransaction
	case data.DirectionSend:
		if transfer.Amount.IsZero() {
			return FeeTransaction
		}
		return SendTransaction
	}
	return UnknownTransaction
}

// transactionFromTransfer converts a transfer reported by the account
// provider into a portfolio transaction attributed to the given wallet
func transactionFromTransfer(transfer *data.Transfer, w *Wallet) (*Transaction, error) {
	t := &Transaction{
		ID:              uuid.New(),
		WalletID:        w.ID,
		Kind:            transactionKind(transfer),
		Chain:           transfer.Chain,
		Hash:            transfer.Hash,
		Date:            transfer.Timestamp,
		Counterparty:    transfer.Counterparty,
		Symbol:          transfer.Symbol,
		ContractAddress: transfer.ContractAddress,
		Amount:          transfer.Amount,
		UsdValue:        transfer.Value,
		Fee:             transfer.Fee,
		Source:          transfer.Source,
	}

	if err := computeTransactionSourceID(t); err != nil {
		return nil, err
	}

	return t, nil
}
