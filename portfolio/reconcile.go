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
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"github.com/wallet-pulse/wp-api/common"
	"github.com/wallet-pulse/wp-api/data"
	"github.com/wallet-pulse/wp-api/data/database"
	"github.com/wallet-pulse/wp-api/observability/opentelemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// SyncResult summarizes a single reconcile run
type SyncResult struct {
	PortfolioID     uuid.UUID `json:"portfolioId"`
	Started         time.Time `json:"started"`
	Finished        time.Time `json:"finished"`
	TotalValue      float64   `json:"totalValue"`
	NumWallets      int       `json:"numWallets"`
	NumTokens       int       `json:"numTokens"`
	NewTransactions int       `json:"newTransactions"`
	MetricsUpdated  bool      `json:"metricsUpdated"`
	MetricsMessage  string    `json:"metricsMessage,omitempty"`
	ProviderErrors  []string  `json:"providerErrors,omitempty"`
}

// Reconcile brings the portfolio in line with the chain: refresh every
// wallet's balances and holdings, ingest transfers that happened since the
// last sync, revalue the portfolio, fill any unset value checkpoints, record
// today's snapshot, and refresh the risk measurements. A wallet whose
// provider requests fail keeps its previous balances and value; the failure
// is reported in the result and does not stop the sync. Everything is
// persisted in one database transaction guarded by a per-portfolio advisory
// lock so two concurrent syncs of the same portfolio cannot interleave.
func (pm *Model) Reconcile(ctx context.Context) (*SyncResult, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "portfolio.Reconcile")
	defer span.End()

	p := pm.Portfolio
	span.SetAttributes(attribute.String("PortfolioID", p.ID.String()))
	subLog := log.With().Str("PortfolioID", p.ID.String()).Str("PortfolioName", p.Name).Logger()
	subLog.Info().Msg("reconciling portfolio")

	result := &SyncResult{
		PortfolioID: p.ID,
		Started:     time.Now(),
		NumWallets:  len(p.Wallets),
	}

	now := time.Now().In(common.GetTimezone())
	today := dayOf(now)

	for _, w := range p.Wallets {
		if err := pm.refreshWallet(ctx, w, now, result); err != nil {
			span.RecordError(err)
			subLog.Warn().Err(err).Str("Chain", w.Chain).Str("Address", w.Address).Msg("wallet refresh failed; keeping previous balances")
			result.ProviderErrors = append(result.ProviderErrors,
				fmt.Sprintf("%s %s: %s", w.Chain, w.Address, err.Error()))
		}
	}

	var totalValue float64
	for _, w := range p.Wallets {
		totalValue += w.TotalValue
	}

	newHigh, newLow := ensureCheckpoints(p, today, totalValue)
	p.LastSynced = now

	trx, err := database.TrxForUser(ctx, p.UserID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		subLog.Error().Stack().Err(err).Msg("unable to get database transaction")
		return nil, err
	}

	// serialize concurrent syncs of the same portfolio
	if _, err := trx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, p.ID.String()); err != nil {
		span.SetStatus(codes.Error, err.Error())
		subLog.Error().Stack().Err(err).Msg("could not acquire portfolio sync lock")
		if err := trx.Rollback(ctx); err != nil {
			subLog.Error().Stack().Err(err).Msg("could not rollback transaction")
		}
		return nil, err
	}

	if err := SaveSnapshotWithTransaction(ctx, trx, p.ID, p.UserID, today, p.TotalValue); err != nil {
		span.SetStatus(codes.Error, err.Error())
		if err := trx.Rollback(ctx); err != nil {
			subLog.Error().Stack().Err(err).Msg("could not rollback transaction")
		}
		return nil, err
	}

	perf, err := LoadSnapshotsWithTransaction(ctx, trx, p.ID, today.AddDate(0, 0, -LookbackDays))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		if err := trx.Rollback(ctx); err != nil {
			subLog.Error().Stack().Err(err).Msg("could not rollback transaction")
		}
		return nil, err
	}

	if viper.GetBool("sync.rolling_checkpoints") {
		rollCheckpoints(p, perf, today)
	}

	if err := pm.SaveWithTransaction(ctx, trx); err != nil {
		span.SetStatus(codes.Error, err.Error())
		if err := trx.Rollback(ctx); err != nil {
			subLog.Error().Stack().Err(err).Msg("could not rollback transaction")
		}
		return nil, err
	}

	metrics, err := CalculateRiskMetrics(perf, pm.Positions())
	if err != nil {
		// a failed or incomplete measurement never aborts the sync; keep the
		// previously stored return-based measurements and report the reason in
		// the result. The freshly measured concentration still replaces the
		// old one
		result.MetricsMessage = err.Error()
		if IsInsufficientData(err) {
			subLog.Info().Err(err).Msg("keeping stored risk measurements")
		} else {
			subLog.Warn().Stack().Err(err).Msg("risk measurement calculation failed")
		}
		stored, loadErr := LoadRiskMetricsWithTransaction(ctx, trx, p.ID)
		switch {
		case loadErr == nil:
			metrics.Volatility30 = stored.Volatility30
			metrics.Volatility90 = stored.Volatility90
			metrics.MaxDrawDown = stored.MaxDrawDown
			metrics.SharpeRatio = stored.SharpeRatio
			metrics.ValueAtRisk = stored.ValueAtRisk
		case errors.Is(loadErr, ErrRiskMetricsNotFound):
			// nothing stored yet; the measurements stay unset
		default:
			span.SetStatus(codes.Error, loadErr.Error())
			if err := trx.Rollback(ctx); err != nil {
				subLog.Error().Stack().Err(err).Msg("could not rollback transaction")
			}
			return nil, loadErr
		}
	} else {
		result.MetricsUpdated = true
	}

	metrics.UserID = p.UserID
	if err := metrics.SaveWithTransaction(ctx, trx); err != nil {
		span.SetStatus(codes.Error, err.Error())
		if err := trx.Rollback(ctx); err != nil {
			subLog.Error().Stack().Err(err).Msg("could not rollback transaction")
		}
		return nil, err
	}

	if err := trx.Commit(ctx); err != nil {
		span.SetStatus(codes.Error, err.Error())
		subLog.Error().Stack().Err(err).Msg("could not commit reconcile transaction")
		return nil, err
	}

	result.TotalValue = p.TotalValue
	result.Finished = time.Now()

	if result.NewTransactions > 0 {
		pm.AddActivity(fmt.Sprintf("sync recorded %d new transactions", result.NewTransactions), "sync")
	}
	for _, providerErr := range result.ProviderErrors {
		pm.AddActivity(fmt.Sprintf("sync issue: %s", providerErr), "sync", "error")
	}
	if newHigh {
		pm.AddActivity(fmt.Sprintf("new all-time high of $%s", roundCurrency(p.TotalValue)), "threshold", "ath")
		pm.notifyThreshold("all-time high")
	}
	if newLow {
		pm.AddActivity(fmt.Sprintf("new all-time low of $%s", roundCurrency(p.TotalValue)), "threshold", "atl")
		pm.notifyThreshold("all-time low")
	}
	if err := pm.SaveActivities(ctx); err != nil {
		subLog.Warn().Err(err).Msg("could not record sync activities")
	}

	subLog.Info().Object("SyncResult", result).Msg("portfolio reconciled")
	return result, nil
}

// refreshWallet replaces the wallet's balances and holdings with what the
// account provider reports right now and appends any transfers that happened
// since the wallet was last synced
func (pm *Model) refreshWallet(ctx context.Context, w *Wallet, now time.Time, result *SyncResult) error {
	subLog := log.With().Str("Chain", w.Chain).Str("Address", w.Address).Logger()

	native, err := pm.dataProxy.NativeHolding(ctx, w.Chain, w.Address)
	if err != nil {
		return err
	}

	tokens, err := pm.dataProxy.WalletHoldings(ctx, w.Chain, w.Address)
	if err != nil {
		return err
	}

	transfers, err := pm.dataProxy.Transfers(ctx, w.Chain, w.Address, w.LastSynced)
	if err != nil {
		return err
	}

	holdings := make([]*data.Holding, 0, len(tokens)+1)
	holdings = append(holdings, native)
	holdings = append(holdings, tokens...)
	result.NumTokens += len(holdings)

	var walletValue float64
	for _, h := range holdings {
		walletValue += h.Value
	}

	if providerValue, err := pm.dataProxy.NetWorth(ctx, w.Chain, w.Address); err == nil {
		if math.Abs(providerValue-walletValue) > 1.0 {
			subLog.Warn().Float64("ComputedValue", walletValue).Float64("ProviderValue", providerValue).Msg("wallet value disagrees with provider reported net worth")
		}
	}

	w.NativeBalance = native.Balance
	w.Holdings = holdings
	w.TotalValue = walletValue
	w.LastSynced = now

	sort.SliceStable(transfers, func(i, j int) bool {
		return transfers[i].Timestamp.Before(transfers[j].Timestamp)
	})

	var seq int32
	var lastTimestamp time.Time
	for _, transfer := range transfers {
		if transfer.Timestamp.Equal(lastTimestamp) {
			seq++
		} else {
			seq = 0
			lastTimestamp = transfer.Timestamp
		}

		t, err := transactionFromTransfer(transfer, w)
		if err != nil {
			subLog.Warn().Err(err).Str("Hash", transfer.Hash).Msg("skipping transfer that could not be converted")
			continue
		}
		t.SequenceNum = seq

		pm.Portfolio.Transactions = append(pm.Portfolio.Transactions, t)
		result.NewTransactions++
	}

	return nil
}

// ensureCheckpoints fills any value checkpoint that is still unset with the
// current total and maintains the all-time extrema. Once a checkpoint is
// established it is never moved here, so the comparison baselines stay fixed
// at the value the portfolio had when tracking began; the reported booleans
// are true when a previously established high or low was beaten. Idempotent:
// syncing twice on the same day changes nothing but the extrema.
func ensureCheckpoints(p *Portfolio, today time.Time, totalValue float64) (newHigh bool, newLow bool) {
	if math.IsNaN(p.InitialValue) {
		p.InitialValue = totalValue
	}
	if math.IsNaN(p.PreviousDayValue) {
		p.PreviousDayValue = totalValue
	}
	if math.IsNaN(p.PreviousWeekValue) {
		p.PreviousWeekValue = totalValue
	}
	if math.IsNaN(p.PreviousMonthValue) {
		p.PreviousMonthValue = totalValue
	}

	newHigh = !math.IsNaN(p.AllTimeHigh) && totalValue > p.AllTimeHigh
	newLow = !math.IsNaN(p.AllTimeLow) && totalValue < p.AllTimeLow

	if math.IsNaN(p.AllTimeHigh) || totalValue > p.AllTimeHigh {
		p.AllTimeHigh = totalValue
		p.AllTimeHighDate = today
	}
	if math.IsNaN(p.AllTimeLow) || totalValue < p.AllTimeLow {
		p.AllTimeLow = totalValue
		p.AllTimeLowDate = today
	}

	p.TotalValue = totalValue
	return newHigh, newLow
}

// rollCheckpoints derives the value checkpoints from the snapshot history
// instead of from sync boundaries: the previous day, week, and month values
// become the portfolio's value exactly one day, week, and month ago. Enabled
// with sync.rolling_checkpoints.
func rollCheckpoints(p *Portfolio, perf *Performance, today time.Time) {
	p.PreviousDayValue = snapshotValueOnOrBefore(perf, today.AddDate(0, 0, -1))
	p.PreviousWeekValue = snapshotValueOnOrBefore(perf, today.AddDate(0, 0, -7))
	p.PreviousMonthValue = snapshotValueOnOrBefore(perf, today.AddDate(0, -1, 0))
}

// snapshotValueOnOrBefore returns the most recent snapshot value dated on or
// before cutoff, or NaN when the history does not reach back that far
func snapshotValueOnOrBefore(perf *Performance, cutoff time.Time) float64 {
	cutoffKey := dateKey(cutoff)
	for idx := len(perf.Snapshots) - 1; idx >= 0; idx-- {
		if dateKey(perf.Snapshots[idx].Date) <= cutoffKey {
			return perf.Snapshots[idx].Value
		}
	}
	return math.NaN()
}

// dateKey collapses a timestamp to its calendar date in the timestamp's own
// location. Snapshot dates read back from the database sit at UTC midnight
// while cutoffs are day-truncated local times; comparing calendar dates keeps
// the two consistent.
func dateKey(t time.Time) int {
	return t.Year()*10000 + int(t.Month())*100 + t.Day()
}
