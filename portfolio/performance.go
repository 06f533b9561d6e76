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
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog/log"
	"github.com/wallet-pulse/wp-api/data/database"
)

const (
	// LookbackDays is how far back the valuation history reaches for risk
	// calculations
	LookbackDays = 90

	// minSnapshots is the fewest valuation snapshots a return series can be
	// derived from
	minSnapshots = 7

	// minReturns is the fewest daily returns the risk calculations accept
	minReturns = 5
)

var (
	ErrNotEnoughHistory = errors.New("not enough historical data for risk calculations")
	ErrNotEnoughReturns = errors.New("not enough return data for risk calculations")
)

// IsInsufficientData reports whether err means the portfolio simply has not
// accumulated enough history yet, as opposed to a real failure
func IsInsufficientData(err error) bool {
	return errors.Is(err, ErrNotEnoughHistory) || errors.Is(err, ErrNotEnoughReturns)
}

// Snapshot is the portfolio's total value at the close of one day
type Snapshot struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// Performance holds a portfolio's daily valuation history ordered oldest
// first. All risk calculations are derived from it.
type Performance struct {
	PortfolioID uuid.UUID   `json:"portfolioId"`
	Snapshots   []*Snapshot `json:"snapshots"`
}

// NewPerformance creates an empty performance history for a portfolio
func NewPerformance(portfolioID uuid.UUID) *Performance {
	return &Performance{
		PortfolioID: portfolioID,
		Snapshots:   []*Snapshot{},
	}
}

// LoadSnapshotsFromDB loads the valuation history for a portfolio beginning
// at since, oldest first
func LoadSnapshotsFromDB(ctx context.Context, portfolioID uuid.UUID, userID string, since time.Time) (*Performance, error) {
	subLog := log.With().Str("PortfolioID", portfolioID.String()).Str("UserID", userID).Logger()

	trx, err := database.TrxForUser(ctx, userID)
	if err != nil {
		subLog.Error().Stack().Err(err).Msg("unable to get database transaction")
		return nil, err
	}

	perf, err := LoadSnapshotsWithTransaction(ctx, trx, portfolioID, since)
	if err != nil {
		if err := trx.Rollback(ctx); err != nil {
			subLog.Error().Stack().Err(err).Msg("could not rollback transaction")
		}
		return nil, err
	}

	if err := trx.Commit(ctx); err != nil {
		subLog.Warn().Stack().Err(err).Msg("could not commit transaction")
	}

	return perf, nil
}

// LoadSnapshotsWithTransaction loads the valuation history using the supplied
// database transaction. Syncs use this form so the history read includes the
// snapshot written moments earlier in the same transaction.
func LoadSnapshotsWithTransaction(ctx context.Context, trx pgx.Tx, portfolioID uuid.UUID, since time.Time) (*Performance, error) {
	snapshotSQL := `SELECT
		event_date,
		total_value::double precision
	FROM portfolio_snapshots
	WHERE portfolio_id=$1 AND event_date >= $2
	ORDER BY event_date ASC`

	rows, err := trx.Query(ctx, snapshotSQL, portfolioID, since)
	if err != nil {
		log.Warn().Stack().Err(err).Str("PortfolioID", portfolioID.String()).Msg("could not load portfolio snapshots")
		return nil, err
	}

	perf := NewPerformance(portfolioID)
	for rows.Next() {
		snap := &Snapshot{}
		if err := rows.Scan(&snap.Date, &snap.Value); err != nil {
			log.Warn().Stack().Err(err).Str("PortfolioID", portfolioID.String()).Msg("could not scan snapshot row")
			return nil, err
		}
		perf.Snapshots = append(perf.Snapshots, snap)
	}

	return perf, nil
}

// SaveSnapshot records the portfolio's value for a single day. Syncing more
// than once a day overwrites that day's row rather than appending a second
// snapshot.
func SaveSnapshot(ctx context.Context, portfolioID uuid.UUID, userID string, date time.Time, value float64) error {
	subLog := log.With().Str("PortfolioID", portfolioID.String()).Str("UserID", userID).Logger()

	trx, err := database.TrxForUser(ctx, userID)
	if err != nil {
		subLog.Error().Stack().Err(err).Msg("unable to get database transaction")
		return err
	}

	if err := SaveSnapshotWithTransaction(ctx, trx, portfolioID, userID, date, value); err != nil {
		if err := trx.Rollback(ctx); err != nil {
			subLog.Error().Stack().Err(err).Msg("could not rollback transaction")
		}
		return err
	}

	if err := trx.Commit(ctx); err != nil {
		subLog.Error().Stack().Err(err).Msg("could not commit snapshot")
		return err
	}

	return nil
}

// SaveSnapshotWithTransaction records the portfolio's value for a single day
// using the supplied database transaction
func SaveSnapshotWithTransaction(ctx context.Context, trx pgx.Tx, portfolioID uuid.UUID, userID string, date time.Time, value float64) error {
	snapshotSQL := `INSERT INTO portfolio_snapshots (
		"portfolio_id",
		"user_id",
		"event_date",
		"total_value"
	) VALUES (
		$1, $2, $3, $4
	) ON CONFLICT ON CONSTRAINT portfolio_snapshots_pkey
	DO UPDATE SET total_value=$4`

	_, err := trx.Exec(ctx, snapshotSQL,
		portfolioID,          // 1
		userID,               // 2
		date,                 // 3
		roundCurrency(value), // 4
	)
	if err != nil {
		log.Error().Stack().Err(err).Str("PortfolioID", portfolioID.String()).Time("Date", date).Msg("could not save snapshot")
		return err
	}

	return nil
}

// Values returns the snapshot values in date order
func (perf *Performance) Values() []float64 {
	values := make([]float64, len(perf.Snapshots))
	for idx, snap := range perf.Snapshots {
		values[idx] = snap.Value
	}
	return values
}

// Returns derives the daily return series from the valuation history. A day
// whose preceding value is zero or negative produces no return because the
// ratio is undefined there.
func (perf *Performance) Returns() ([]float64, error) {
	if len(perf.Snapshots) < minSnapshots {
		return nil, ErrNotEnoughHistory
	}

	returns := make([]float64, 0, len(perf.Snapshots)-1)
	for idx := 1; idx < len(perf.Snapshots); idx++ {
		prev := perf.Snapshots[idx-1].Value
		if prev <= 0 {
			continue
		}
		returns = append(returns, (perf.Snapshots[idx].Value-prev)/prev)
	}

	if len(returns) < minReturns {
		return nil, ErrNotEnoughReturns
	}

	return returns, nil
}

// PeriodPerformance reports percentage change against each stored value
// checkpoint
type PeriodPerformance struct {
	DayChange   float64 `json:"dayChange"`
	WeekChange  float64 `json:"weekChange"`
	MonthChange float64 `json:"monthChange"`
	TotalChange float64 `json:"totalChange"`
}

// PeriodPerformance calculates the portfolio's percentage change over the
// previous day, week, and month checkpoints plus the change since inception.
// A checkpoint that has not been established yet, or that is not positive,
// contributes a change of 0.
func (p *Portfolio) PeriodPerformance() *PeriodPerformance {
	return &PeriodPerformance{
		DayChange:   percentChange(p.TotalValue, p.PreviousDayValue),
		WeekChange:  percentChange(p.TotalValue, p.PreviousWeekValue),
		MonthChange: percentChange(p.TotalValue, p.PreviousMonthValue),
		TotalChange: percentChange(p.TotalValue, p.InitialValue),
	}
}

func percentChange(current float64, reference float64) float64 {
	if math.IsNaN(reference) || reference <= 0 {
		return 0
	}
	return (current - reference) / reference * 100
}

// dayOf truncates t to midnight in its own location. Snapshot rows and the
// checkpoint roll are keyed by this day value.
func dayOf(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, t.Location())
}
