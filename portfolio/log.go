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
	"github.com/rs/zerolog"
)

func (o *Wallet) MarshalZerologObject(e *zerolog.Event) {
	e.Str("WalletID", o.ID.String()).Str("Chain", o.Chain).Str("Address", o.Address).Str("Label", o.Label).Float64("TotalValue", o.TotalValue).Time("LastSynced", o.LastSynced)
}

func (o *Portfolio) MarshalZerologObject(e *zerolog.Event) {
	e.Str("PortfolioID", o.ID.String()).
		Str("Name", o.Name).
		Str("SyncSchedule", o.SyncSchedule).
		Int32("Notifications", o.Notifications).
		Float64("TotalValue", o.TotalValue).
		Float64("InitialValue", o.InitialValue).
		Float64("AllTimeHigh", o.AllTimeHigh).
		Float64("AllTimeLow", o.AllTimeLow).
		Int("NumWallets", len(o.Wallets)).
		Time("LastSynced", o.LastSynced)
}

func (o *Transaction) MarshalZerologObject(e *zerolog.Event) {
	e.Str("TransactionID", o.ID.String()).
		Time("Date", o.Date).
		Str("Kind", o.Kind).
		Str("Chain", o.Chain).
		Str("Hash", o.Hash).
		Str("Counterparty", o.Counterparty).
		Str("Symbol", o.Symbol).
		Str("Amount", o.Amount.String()).
		Float64("UsdValue", o.UsdValue).
		Str("Source", o.Source).
		Str("SourceID", o.SourceID)
}

func (metrics *RiskMetrics) MarshalZerologObject(e *zerolog.Event) {
	e.Str("PortfolioID", metrics.PortfolioID.String())
	e.Float64("Volatility30", metrics.Volatility30)
	e.Float64("Volatility90", metrics.Volatility90)
	e.Float64("MaxDrawDown", metrics.MaxDrawDown)
	e.Float64("SharpeRatio", metrics.SharpeRatio)
	e.Float64("ValueAtRisk", metrics.ValueAtRisk)
	e.Float64("ConcentrationRisk", metrics.ConcentrationRisk)
}

func (o *SyncResult) MarshalZerologObject(e *zerolog.Event) {
	e.Str("PortfolioID", o.PortfolioID.String()).
		Time("Started", o.Started).
		Time("Finished", o.Finished).
		Float64("TotalValue", o.TotalValue).
		Int("NumWallets", o.NumWallets).
		Int("NumTokens", o.NumTokens).
		Int("NewTransactions", o.NewTransactions).
		Bool("MetricsUpdated", o.MetricsUpdated).
		Strs("ProviderErrors", o.ProviderErrors)
}
