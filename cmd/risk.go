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

package cmd

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/guptarohit/asciigraph"
	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/wallet-pulse/wp-api/common"
	"github.com/wallet-pulse/wp-api/data/database"
	"github.com/wallet-pulse/wp-api/portfolio"
)

var (
	riskPortfolioID string
	riskDays        int
)

func init() {
	riskCmd.Flags().StringVar(&riskPortfolioID, "portfolioID", "", "portfolio to report on, specified as {userID}:{portfolioID}")
	riskCmd.Flags().IntVar(&riskDays, "days", portfolio.LookbackDays, "days of valuation history to measure")
	rootCmd.AddCommand(riskCmd)
}

var riskCmd = &cobra.Command{
	Use:   "risk",
	Short: "Print a risk report for a portfolio",
	Run: func(_ *cobra.Command, _ []string) {
		ctx := context.Background()
		common.SetupLogging()
		common.SetupCache()

		if riskPortfolioID == "" {
			log.Fatal().Msg("--portfolioID is required, specified as {userID}:{portfolioID}")
		}

		if err := database.Connect(ctx); err != nil {
			log.Panic().Err(err).Msg("could not connect to database")
		}

		for _, pm := range getPortfolios(ctx, riskPortfolioID, nil) {
			printRiskReport(ctx, pm)
		}
	},
}

func printRiskReport(ctx context.Context, pm *portfolio.Model) {
	p := pm.Portfolio
	subLog := log.With().Str("PortfolioID", p.ID.String()).Str("UserID", p.UserID).Logger()

	since := time.Now().In(common.GetTimezone()).AddDate(0, 0, -riskDays)
	perf, err := portfolio.LoadSnapshotsFromDB(ctx, p.ID, p.UserID, since)
	if err != nil {
		subLog.Panic().Err(err).Msg("could not load valuation history")
	}

	positions, err := portfolio.LoadPositionsFromDB(ctx, p.ID, p.UserID)
	if err != nil {
		subLog.Panic().Err(err).Msg("could not load positions")
	}

	metrics, err := portfolio.CalculateRiskMetrics(perf, positions)
	if err != nil {
		if !portfolio.IsInsufficientData(err) {
			subLog.Panic().Err(err).Msg("could not calculate risk metrics")
		}
		subLog.Warn().Err(err).Int("NumSnapshots", len(perf.Snapshots)).Msg("history too short for return based measurements")
	}

	transactions, err := portfolio.LoadTransactionsFromDB(ctx, p.ID, p.UserID)
	if err != nil {
		subLog.Panic().Err(err).Msg("could not load transactions")
	}

	mwr := math.NaN()
	if rate, err := portfolio.MoneyWeightedReturn(transactions, p.TotalValue, time.Now()); err == nil {
		mwr = rate * 100
	}

	gains, openLots := portfolio.RealizedGains(transactions)
	var realized float64
	for _, g := range gains {
		realized += g.GainLoss
	}

	fmt.Printf("\n%s\n", p.Name)
	fmt.Printf("Total Value: $%.2f\n\n", p.TotalValue)

	if values := perf.Values(); len(values) > 1 {
		fmt.Println(asciigraph.Plot(values,
			asciigraph.Height(10),
			asciigraph.Width(72),
			asciigraph.Caption(fmt.Sprintf("portfolio value, last %d days", riskDays))))
		fmt.Println()
	}

	fmt.Println(metricsTable(metrics, mwr, realized, len(openLots)))
	fmt.Println(positionsTable(positions))
}

func metricsTable(metrics *portfolio.RiskMetrics, mwr float64, realized float64, numOpenLots int) string {
	s := &strings.Builder{}
	table := tablewriter.NewWriter(s)
	table.SetHeader([]string{"Metric", "Value"})
	table.SetBorder(false)

	table.Append([]string{"Volatility (30d)", formatMetric(metrics.Volatility30, "%")})
	table.Append([]string{"Volatility (90d)", formatMetric(metrics.Volatility90, "%")})
	table.Append([]string{"Max Drawdown", formatMetric(metrics.MaxDrawDown, "%")})
	table.Append([]string{"Sharpe Ratio", formatMetric(metrics.SharpeRatio, "")})
	table.Append([]string{"Value at Risk (95%)", formatMetric(metrics.ValueAtRisk, "%")})
	table.Append([]string{"Concentration Risk", formatMetric(metrics.ConcentrationRisk, "%")})
	table.Append([]string{"Money-Weighted Return (annual)", formatMetric(mwr, "%")})
	table.Append([]string{"Realized Gain / Loss", fmt.Sprintf("$%.2f", realized)})
	table.Append([]string{"Open Lots", fmt.Sprintf("%d", numOpenLots)})

	table.Render()
	return s.String()
}

func positionsTable(positions []*portfolio.AssetPosition) string {
	if len(positions) == 0 {
		return "<NO POSITIONS>"
	}

	s := &strings.Builder{}
	table := tablewriter.NewWriter(s)
	table.SetHeader([]string{"Symbol", "Balance", "Value", "Weight"})
	table.SetBorder(false)

	var total float64
	for _, pos := range positions {
		total += pos.Value
		table.Append([]string{
			pos.Symbol,
			pos.Balance.String(),
			fmt.Sprintf("$%.2f", pos.Value),
			fmt.Sprintf("%.1f%%", pos.Weight),
		})
	}

	footer := make([]string, 4)
	footer[0] = "Total"
	footer[2] = fmt.Sprintf("$%.2f", total)
	table.SetFooter(footer)

	table.Render()
	return s.String()
}

func formatMetric(value float64, suffix string) string {
	if math.IsNaN(value) {
		return "--"
	}
	return fmt.Sprintf("%.2f%s", value, suffix)
}
