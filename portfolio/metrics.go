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
	"sort"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/wallet-pulse/wp-api/data/database"
	"gonum.org/v1/gonum/stat"
)

const (
	// riskFreeRate is the annual risk free rate used by the sharpe ratio
	riskFreeRate = 0.02

	// tradingDaysPerYear annualizes daily crypto returns; crypto markets do
	// not close so every calendar day is a trading day
	tradingDaysPerYear = 365

	// volatilityShortWindow is the number of trailing returns in the short
	// volatility measure
	volatilityShortWindow = 30

	// valueAtRiskConfidence is the confidence level of the reported VaR
	valueAtRiskConfidence = 0.95
)

var (
	ErrRiskMetricsNotFound = errors.New("no risk metrics stored for portfolio")
)

// RiskMetrics is the set of risk measurements maintained for a portfolio.
// Each value is a percentage except SharpeRatio which is a unitless ratio.
// A measurement that has never been computed is NaN and stored as NULL.
type RiskMetrics struct {
	PortfolioID       uuid.UUID `json:"portfolioId"`
	UserID            string    `json:"-"`
	Volatility30      float64   `json:"volatility30d"`
	Volatility90      float64   `json:"volatility90d"`
	MaxDrawDown       float64   `json:"maxDrawdown"`
	SharpeRatio       float64   `json:"sharpeRatio"`
	ValueAtRisk       float64   `json:"valueAtRisk"`
	ConcentrationRisk float64   `json:"concentrationRisk"`
	LastChanged       time.Time `json:"lastChanged"`
}

// AssetPosition is a portfolio's aggregate position in a single asset across
// all of its wallets
type AssetPosition struct {
	Symbol  string          `json:"symbol"`
	Balance decimal.Decimal `json:"balance"`
	Value   float64         `json:"value"`
	Weight  float64         `json:"weight"`
}

// NewRiskMetrics creates a RiskMetrics with every measurement unset
func NewRiskMetrics(portfolioID uuid.UUID) *RiskMetrics {
	return &RiskMetrics{
		PortfolioID:       portfolioID,
		Volatility30:      math.NaN(),
		Volatility90:      math.NaN(),
		MaxDrawDown:       math.NaN(),
		SharpeRatio:       math.NaN(),
		ValueAtRisk:       math.NaN(),
		ConcentrationRisk: math.NaN(),
	}
}

// Volatility measures the dispersion of daily returns as a percentage. When
// window is positive only the most recent window returns are measured,
// otherwise the whole lookback period is used.
func (perf *Performance) Volatility(window int) (float64, error) {
	returns, err := perf.Returns()
	if err != nil {
		return math.NaN(), err
	}
	return volatility(returns, window), nil
}

func volatility(returns []float64, window int) float64 {
	if window > 0 && len(returns) > window {
		returns = returns[len(returns)-window:]
	}
	return stat.PopStdDev(returns, nil) * 100
}

// MaxDrawDown measures the largest peak-to-trough decline in the valuation
// history as a percentage of the peak. Days before the value first turns
// positive are ignored because a drawdown from a non-positive peak is
// undefined.
func (perf *Performance) MaxDrawDown() float64 {
	maxDrawDown := 0.0
	peak := math.Inf(-1)

	for _, snap := range perf.Snapshots {
		if snap.Value > peak {
			peak = snap.Value
		}
		if peak <= 0 {
			continue
		}
		drawDown := (peak - snap.Value) / peak
		if drawDown > maxDrawDown {
			maxDrawDown = drawDown
		}
	}

	return maxDrawDown * 100
}

// SharpeRatio measures return earned in excess of the risk free rate per unit
// of volatility, annualized. A flat valuation history has no volatility and
// reports a ratio of 0.
func (perf *Performance) SharpeRatio() (float64, error) {
	returns, err := perf.Returns()
	if err != nil {
		return math.NaN(), err
	}
	return sharpeRatio(returns), nil
}

func sharpeRatio(returns []float64) float64 {
	stdDev := stat.PopStdDev(returns, nil)
	if stdDev == 0 {
		return 0
	}
	excess := stat.Mean(returns, nil) - riskFreeRate/tradingDaysPerYear
	return excess / stdDev * math.Sqrt(tradingDaysPerYear)
}

// ValueAtRisk estimates the single-day loss, as a percentage of portfolio
// value, that is only exceeded with probability 1 - confidence
func (perf *Performance) ValueAtRisk(confidence float64) (float64, error) {
	returns, err := perf.Returns()
	if err != nil {
		return math.NaN(), err
	}
	return valueAtRisk(returns, confidence), nil
}

func valueAtRisk(returns []float64, confidence float64) float64 {
	return math.Abs(percentile(returns, 1-confidence)) * 100
}

// percentile returns the p-th quantile of values, interpolating linearly
// between the two nearest order statistics. p is a fraction in [0, 1].
func percentile(values []float64, p float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	if len(sorted) == 1 {
		return sorted[0]
	}

	idx := p * float64(len(sorted)-1)
	lower := int(math.Floor(idx))
	upper := int(math.Ceil(idx))
	if lower == upper {
		return sorted[lower]
	}

	frac := idx - float64(lower)
	return sorted[lower]*(1-frac) + sorted[upper]*frac
}

// ConcentrationRisk measures how much of the portfolio sits in its single
// largest asset, as a percentage of total value. It is NaN when the portfolio
// holds no assets or has no positive value. When two assets tie the one seen
// first keeps the title.
func ConcentrationRisk(positions []*AssetPosition) float64 {
	if len(positions) == 0 {
		return math.NaN()
	}

	var total, largest float64
	for _, pos := range positions {
		total += pos.Value
		if pos.Value > largest {
			largest = pos.Value
		}
	}

	if total <= 0 {
		return math.NaN()
	}

	return largest / total * 100
}

// CalculateRiskMetrics computes the full set of risk measurements from a
// valuation history and the current asset positions. When the history is too
// short the four return-based measurements stay unset, the concentration is
// still measured, and the insufficiency is reported so the caller can decide
// what to keep.
func CalculateRiskMetrics(perf *Performance, positions []*AssetPosition) (*RiskMetrics, error) {
	metrics := NewRiskMetrics(perf.PortfolioID)
	metrics.ConcentrationRisk = ConcentrationRisk(positions)

	returns, err := perf.Returns()
	if err != nil {
		return metrics, err
	}

	metrics.Volatility30 = volatility(returns, volatilityShortWindow)
	metrics.Volatility90 = volatility(returns, 0)
	metrics.MaxDrawDown = perf.MaxDrawDown()
	metrics.SharpeRatio = sharpeRatio(returns)
	metrics.ValueAtRisk = valueAtRisk(returns, valueAtRiskConfidence)

	return metrics, nil
}

// LoadPositionsFromDB aggregates the stored wallet token balances for a
// portfolio by symbol, largest value first
func LoadPositionsFromDB(ctx context.Context, portfolioID uuid.UUID, userID string) ([]*AssetPosition, error) {
	subLog := log.With().Str("PortfolioID", portfolioID.String()).Str("UserID", userID).Logger()

	trx, err := database.TrxForUser(ctx, userID)
	if err != nil {
		subLog.Error().Stack().Err(err).Msg("unable to get database transaction")
		return nil, err
	}

	positionSQL := `SELECT
		wt.symbol,
		sum(wt.balance) AS balance,
		sum(wt.usd_value)::double precision AS usd_value
	FROM wallet_tokens wt
	JOIN wallets w ON w.id = wt.wallet_id
	WHERE w.portfolio_id=$1 AND wt.user_id=$2
	GROUP BY wt.symbol
	ORDER BY usd_value DESC, symbol ASC`

	rows, err := trx.Query(ctx, positionSQL, portfolioID, userID)
	if err != nil {
		subLog.Warn().Stack().Err(err).Msg("could not load positions from database")
		if err := trx.Rollback(ctx); err != nil {
			subLog.Error().Stack().Err(err).Msg("could not rollback transaction")
		}
		return nil, err
	}

	positions := make([]*AssetPosition, 0, 8)
	var total float64
	for rows.Next() {
		pos := &AssetPosition{}
		if err := rows.Scan(&pos.Symbol, &pos.Balance, &pos.Value); err != nil {
			subLog.Warn().Stack().Err(err).Msg("could not scan position row")
			if err := trx.Rollback(ctx); err != nil {
				subLog.Error().Stack().Err(err).Msg("could not rollback transaction")
			}
			return nil, err
		}
		total += pos.Value
		positions = append(positions, pos)
	}

	if total > 0 {
		for _, pos := range positions {
			pos.Weight = pos.Value / total * 100
		}
	}

	if err := trx.Commit(ctx); err != nil {
		subLog.Warn().Stack().Err(err).Msg("could not commit transaction")
	}

	return positions, nil
}

// LoadRiskMetricsFromDB loads the stored risk measurements for a portfolio
func LoadRiskMetricsFromDB(ctx context.Context, portfolioID uuid.UUID, userID string) (*RiskMetrics, error) {
	subLog := log.With().Str("PortfolioID", portfolioID.String()).Str("UserID", userID).Logger()

	trx, err := database.TrxForUser(ctx, userID)
	if err != nil {
		subLog.Error().Stack().Err(err).Msg("unable to get database transaction")
		return nil, err
	}

	metrics, err := LoadRiskMetricsWithTransaction(ctx, trx, portfolioID)
	if err != nil {
		if err := trx.Rollback(ctx); err != nil {
			subLog.Error().Stack().Err(err).Msg("could not rollback transaction")
		}
		return nil, err
	}
	metrics.UserID = userID

	if err := trx.Commit(ctx); err != nil {
		subLog.Warn().Stack().Err(err).Msg("could not commit transaction")
	}

	return metrics, nil
}

// LoadRiskMetricsWithTransaction loads the stored risk measurements using the
// supplied database transaction
func LoadRiskMetricsWithTransaction(ctx context.Context, trx pgx.Tx, portfolioID uuid.UUID) (*RiskMetrics, error) {
	metricsSQL := `SELECT
		volatility_30d::double precision,
		volatility_90d::double precision,
		max_drawdown::double precision,
		sharpe_ratio::double precision,
		value_at_risk::double precision,
		concentration_risk::double precision,
		lastchanged
	FROM risk_metrics
	WHERE portfolio_id=$1`

	var (
		vol30         pgtype.Float8
		vol90         pgtype.Float8
		maxDrawDown   pgtype.Float8
		sharpe        pgtype.Float8
		valAtRisk     pgtype.Float8
		concentration pgtype.Float8
	)

	metrics := NewRiskMetrics(portfolioID)
	err := trx.QueryRow(ctx, metricsSQL, portfolioID).Scan(&vol30, &vol90,
		&maxDrawDown, &sharpe, &valAtRisk, &concentration, &metrics.LastChanged)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRiskMetricsNotFound
		}
		log.Warn().Stack().Err(err).Str("PortfolioID", portfolioID.String()).Msg("could not load risk metrics")
		return nil, err
	}

	metrics.Volatility30 = floatOrNaN(vol30)
	metrics.Volatility90 = floatOrNaN(vol90)
	metrics.MaxDrawDown = floatOrNaN(maxDrawDown)
	metrics.SharpeRatio = floatOrNaN(sharpe)
	metrics.ValueAtRisk = floatOrNaN(valAtRisk)
	metrics.ConcentrationRisk = floatOrNaN(concentration)

	return metrics, nil
}

// Save writes the risk measurements to the database
func (rm *RiskMetrics) Save(ctx context.Context) error {
	subLog := log.With().Str("PortfolioID", rm.PortfolioID.String()).Str("UserID", rm.UserID).Logger()

	if rm.UserID == "" {
		subLog.Error().Stack().Msg("user id empty")
		return ErrEmptyUserID
	}

	trx, err := database.TrxForUser(ctx, rm.UserID)
	if err != nil {
		subLog.Error().Stack().Err(err).Msg("unable to get database transaction")
		return err
	}

	if err := rm.SaveWithTransaction(ctx, trx); err != nil {
		if err := trx.Rollback(ctx); err != nil {
			subLog.Error().Stack().Err(err).Msg("could not rollback transaction")
		}
		return err
	}

	if err := trx.Commit(ctx); err != nil {
		subLog.Error().Stack().Err(err).Msg("could not commit risk metrics")
		return err
	}

	return nil
}

// SaveWithTransaction writes the risk measurements in a single upsert so a
// reader never sees a half-updated row
func (rm *RiskMetrics) SaveWithTransaction(ctx context.Context, trx pgx.Tx) error {
	metricsSQL := `INSERT INTO risk_metrics (
		"portfolio_id",
		"user_id",
		"volatility_30d",
		"volatility_90d",
		"max_drawdown",
		"sharpe_ratio",
		"value_at_risk",
		"concentration_risk",
		"lastchanged"
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, now()
	) ON CONFLICT ON CONSTRAINT risk_metrics_pkey
	DO UPDATE SET
		volatility_30d=$3,
		volatility_90d=$4,
		max_drawdown=$5,
		sharpe_ratio=$6,
		value_at_risk=$7,
		concentration_risk=$8,
		lastchanged=now()`

	_, err := trx.Exec(ctx, metricsSQL,
		rm.PortfolioID,                         // 1
		rm.UserID,                              // 2
		nullableCurrency(rm.Volatility30),      // 3
		nullableCurrency(rm.Volatility90),      // 4
		nullableCurrency(rm.MaxDrawDown),       // 5
		nullableCurrency(rm.SharpeRatio),       // 6
		nullableCurrency(rm.ValueAtRisk),       // 7
		nullableCurrency(rm.ConcentrationRisk), // 8
	)
	if err != nil {
		log.Error().Stack().Err(err).Str("PortfolioID", rm.PortfolioID.String()).Msg("could not save risk metrics")
		return err
	}

	return nil
}

// MarshalJSON renders measurements that have not been computed yet as null
func (rm *RiskMetrics) MarshalJSON() ([]byte, error) {
	type alias RiskMetrics
	return json.Marshal(&struct {
		*alias
		Volatility30      *float64   `json:"volatility30d"`
		Volatility90      *float64   `json:"volatility90d"`
		MaxDrawDown       *float64   `json:"maxDrawdown"`
		SharpeRatio       *float64   `json:"sharpeRatio"`
		ValueAtRisk       *float64   `json:"valueAtRisk"`
		ConcentrationRisk *float64   `json:"concentrationRisk"`
		LastChanged       *time.Time `json:"lastChanged"`
	}{
		alias:             (*alias)(rm),
		Volatility30:      jsonFloat(rm.Volatility30),
		Volatility90:      jsonFloat(rm.Volatility90),
		MaxDrawDown:       jsonFloat(rm.MaxDrawDown),
		SharpeRatio:       jsonFloat(rm.SharpeRatio),
		ValueAtRisk:       jsonFloat(rm.ValueAtRisk),
		ConcentrationRisk: jsonFloat(rm.ConcentrationRisk),
		LastChanged:       jsonTime(rm.LastChanged),
	})
}
