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
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Lot is an open acquisition that has not been fully disposed of yet
type Lot struct {
	TransactionID   uuid.UUID       `json:"transactionId"`
	Chain           string          `json:"chain"`
	Symbol          string          `json:"symbol"`
	ContractAddress string          `json:"contractAddress"`
	Date            time.Time       `json:"date"`
	Amount          decimal.Decimal `json:"amount"`
	UnitCost        float64         `json:"unitCost"`
}

// RealizedGain reports the outcome of disposing of one or more lots. A single
// send produces separate long-term and short-term entries when it consumes
// lots on both sides of the one year holding boundary.
type RealizedGain struct {
	Date      time.Time       `json:"date"`
	Chain     string          `json:"chain"`
	Symbol    string          `json:"symbol"`
	Amount    decimal.Decimal `json:"amount"`
	Proceeds  float64         `json:"proceeds"`
	CostBasis float64         `json:"costBasis"`
	GainLoss  float64         `json:"gainLoss"`
	LongTerm  bool            `json:"longTerm"`

	// acquisitions the disposal consumed
	Lots []uuid.UUID `json:"lots"`
}

// RealizedGains replays the transaction history through a first-in first-out
// lot queue per token. Receive and earn transfers open lots at the usd value
// they arrived with; send transfers consume the oldest lots of the same
// token. A disposal larger than the tracked acquisitions carries a zero basis
// for the untracked part. Returns the realized gains in disposal order and
// the lots still open afterwards.
func RealizedGains(transactions []*Transaction) ([]*RealizedGain, []*Lot) {
	ordered := make([]*Transaction, len(transactions))
	copy(ordered, transactions)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Date.Equal(ordered[j].Date) {
			return ordered[i].SequenceNum < ordered[j].SequenceNum
		}
		return ordered[i].Date.Before(ordered[j].Date)
	})

	queues := make(map[string][]*Lot)
	gains := make([]*RealizedGain, 0, len(ordered))

	for _, t := range ordered {
		key := t.Chain + ":" + t.ContractAddress + ":" + t.Symbol
		switch t.Kind {
		case ReceiveTransaction, EarnTransaction:
			if !t.Amount.IsPositive() {
				continue
			}
			queues[key] = append(queues[key], &Lot{
				TransactionID:   t.ID,
				Chain:           t.Chain,
				Symbol:          t.Symbol,
				ContractAddress: t.ContractAddress,
				Date:            t.Date,
				Amount:          t.Amount,
				UnitCost:        t.UsdValue / t.Amount.InexactFloat64(),
			})
		case SendTransaction:
			if !t.Amount.IsPositive() {
				continue
			}
			entries, remaining := consumeLots(queues[key], t)
			queues[key] = remaining
			gains = append(gains, entries...)
		}
	}

	open := make([]*Lot, 0)
	for _, queue := range queues {
		open = append(open, queue...)
	}
	sort.SliceStable(open, func(i, j int) bool {
		if open[i].Date.Equal(open[j].Date) {
			return open[i].Symbol < open[j].Symbol
		}
		return open[i].Date.Before(open[j].Date)
	})

	return gains, open
}

// consumeLots applies a disposal to the token's lot queue and splits the
// result into long-term and short-term entries
func consumeLots(queue []*Lot, sell *Transaction) ([]*RealizedGain, []*Lot) {
	unitProceeds := sell.UsdValue / sell.Amount.InexactFloat64()

	// lots held longer than one year produce long-term gains; subtracting a
	// nanosecond makes a lot acquired exactly one year earlier short-term
	ltcCutoff := sell.Date.AddDate(-1, 0, 0).Add(-time.Nanosecond)

	longTerm := &RealizedGain{Date: sell.Date, Chain: sell.Chain, Symbol: sell.Symbol, LongTerm: true}
	shortTerm := &RealizedGain{Date: sell.Date, Chain: sell.Chain, Symbol: sell.Symbol}

	toFind := sell.Amount
	for len(queue) > 0 && toFind.IsPositive() {
		lot := queue[0]
		exercised := decimal.Min(lot.Amount, toFind)
		lot.Amount = lot.Amount.Sub(exercised)
		toFind = toFind.Sub(exercised)
		if lot.Amount.IsZero() {
			queue = queue[1:]
		}

		entry := shortTerm
		if lot.Date.Before(ltcCutoff) {
			entry = longTerm
		}
		amount := exercised.InexactFloat64()
		entry.Amount = entry.Amount.Add(exercised)
		entry.CostBasis += amount * lot.UnitCost
		entry.Proceeds += amount * unitProceeds
		entry.Lots = append(entry.Lots, lot.TransactionID)
	}

	// acquisitions that predate the tracked history carry no basis
	if toFind.IsPositive() {
		shortTerm.Amount = shortTerm.Amount.Add(toFind)
		shortTerm.Proceeds += toFind.InexactFloat64() * unitProceeds
	}

	entries := make([]*RealizedGain, 0, 2)
	for _, entry := range []*RealizedGain{longTerm, shortTerm} {
		if entry.Amount.IsPositive() {
			entry.GainLoss = entry.Proceeds - entry.CostBasis
			entries = append(entries, entry)
		}
	}

	return entries, queue
}
