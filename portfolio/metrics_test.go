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

package portfolio_test

import (
	"math"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/wallet-pulse/wp-api/portfolio"
)

// dailyHistory builds a valuation history with one snapshot per day
func dailyHistory(values ...float64) *portfolio.Performance {
	perf := portfolio.NewPerformance(uuid.New())
	date := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)
	for _, value := range values {
		perf.Snapshots = append(perf.Snapshots, &portfolio.Snapshot{
			Date:  date,
			Value: value,
		})
		date = date.AddDate(0, 0, 1)
	}
	return perf
}

var _ = Describe("RiskMetrics", func() {
	var perf *portfolio.Performance

	Describe("when measuring volatility", func() {
		Context("with a week of mixed daily returns", func() {
			BeforeEach(func() {
				// daily returns: 0, 0, -5%, -2%, +1%, +3%, +10%
				perf = dailyHistory(100, 100, 100, 95, 93.1, 94.031, 96.85193, 106.537123)
			})

			It("should measure dispersion across the whole history", func() {
				vol, err := perf.Volatility(0)
				Expect(err).To(BeNil())
				Expect(vol).Should(BeNumerically("~", 4.3425, 0.001))
			})

			It("should restrict the measurement to the most recent window", func() {
				vol, err := perf.Volatility(3)
				Expect(err).To(BeNil())
				Expect(vol).Should(BeNumerically("~", 3.8586, 0.001))
			})

			It("should use every return when the window exceeds the history", func() {
				windowed, err := perf.Volatility(30)
				Expect(err).To(BeNil())
				full, err := perf.Volatility(0)
				Expect(err).To(BeNil())
				Expect(windowed).Should(Equal(full))
			})
		})

		Context("with a valuation history that never moves", func() {
			BeforeEach(func() {
				perf = dailyHistory(100, 100, 100, 100, 100, 100, 100, 100)
			})

			It("should be zero", func() {
				vol, err := perf.Volatility(0)
				Expect(err).To(BeNil())
				Expect(vol).Should(BeZero())
			})
		})
	})

	Describe("when measuring maximum drawdown", func() {
		Context("with a peak followed by a trough", func() {
			BeforeEach(func() {
				perf = dailyHistory(100, 110, 99, 105, 90, 120, 115, 108)
			})

			It("should report the largest decline from the peak", func() {
				// worst stretch is 110 down to 90
				Expect(perf.MaxDrawDown()).Should(BeNumerically("~", 18.1818, 0.001))
			})
		})

		Context("with a history that only rises", func() {
			BeforeEach(func() {
				perf = dailyHistory(100, 101, 102, 103, 104, 105, 106, 107)
			})

			It("should be zero", func() {
				Expect(perf.MaxDrawDown()).Should(BeZero())
			})
		})

		Context("with a valuation history that never moves", func() {
			BeforeEach(func() {
				perf = dailyHistory(100, 100, 100, 100, 100, 100, 100, 100)
			})

			It("should be zero", func() {
				Expect(perf.MaxDrawDown()).Should(BeZero())
			})
		})

		Context("with days before the portfolio had any value", func() {
			BeforeEach(func() {
				perf = dailyHistory(0, 100, 80, 120, 90, 100, 110)
			})

			It("should ignore the worthless days", func() {
				// 120 down to 90, not 100 down to 0
				Expect(perf.MaxDrawDown()).Should(BeNumerically("~", 25))
			})
		})
	})

	Describe("when measuring the sharpe ratio", func() {
		Context("with a week of mixed daily returns", func() {
			BeforeEach(func() {
				perf = dailyHistory(100, 100, 100, 95, 93.1, 94.031, 96.85193, 106.537123)
			})

			It("should annualize the excess return per unit of volatility", func() {
				sharpe, err := perf.SharpeRatio()
				Expect(err).To(BeNil())
				Expect(sharpe).Should(BeNumerically("~", 4.3754, 0.001))
			})
		})

		Context("with a valuation history that never moves", func() {
			BeforeEach(func() {
				perf = dailyHistory(100, 100, 100, 100, 100, 100, 100, 100)
			})

			It("should be zero rather than dividing by zero", func() {
				sharpe, err := perf.SharpeRatio()
				Expect(err).To(BeNil())
				Expect(sharpe).Should(BeZero())
			})
		})
	})

	Describe("when measuring value at risk", func() {
		Context("with a week of mixed daily returns", func() {
			BeforeEach(func() {
				perf = dailyHistory(100, 100, 100, 95, 93.1, 94.031, 96.85193, 106.537123)
			})

			It("should interpolate between the worst returns", func() {
				// the 5th percentile falls between the -5% and -2% days
				valueAtRisk, err := perf.ValueAtRisk(0.95)
				Expect(err).To(BeNil())
				Expect(valueAtRisk).Should(BeNumerically("~", 4.1, 1e-9))
			})
		})

		Context("with exactly five usable returns", func() {
			BeforeEach(func() {
				// the worthless first day yields no return, leaving
				// -5%, -2%, +1%, +3%, +10%
				perf = dailyHistory(0, 100, 95, 93.1, 94.031, 96.85193, 106.537123)
			})

			It("should take the loss a day at the 5th percentile would bring", func() {
				valueAtRisk, err := perf.ValueAtRisk(0.95)
				Expect(err).To(BeNil())
				Expect(valueAtRisk).Should(BeNumerically("~", 4.4, 1e-9))
			})
		})

		Context("with a valuation history that never moves", func() {
			BeforeEach(func() {
				perf = dailyHistory(100, 100, 100, 100, 100, 100, 100, 100)
			})

			It("should be zero", func() {
				valueAtRisk, err := perf.ValueAtRisk(0.95)
				Expect(err).To(BeNil())
				Expect(valueAtRisk).Should(BeZero())
			})
		})
	})

	Describe("when measuring concentration", func() {
		Context("with one dominant asset", func() {
			It("should report the largest asset's share of total value", func() {
				positions := []*portfolio.AssetPosition{
					{Symbol: "ETH", Value: 600},
					{Symbol: "USDC", Value: 300},
					{Symbol: "PEPE", Value: 100},
				}
				Expect(portfolio.ConcentrationRisk(positions)).Should(BeNumerically("~", 60))
			})
		})

		Context("with assets of equal value", func() {
			It("should report the shared share", func() {
				positions := []*portfolio.AssetPosition{
					{Symbol: "ETH", Value: 500},
					{Symbol: "USDC", Value: 500},
				}
				Expect(portfolio.ConcentrationRisk(positions)).Should(BeNumerically("~", 50))
			})
		})

		Context("with no assets", func() {
			It("should not be measurable", func() {
				Expect(math.IsNaN(portfolio.ConcentrationRisk(nil))).Should(BeTrue())
			})
		})

		Context("with assets that are all worthless", func() {
			It("should not be measurable", func() {
				positions := []*portfolio.AssetPosition{
					{Symbol: "RUG", Value: 0},
					{Symbol: "DUST", Value: 0},
				}
				Expect(math.IsNaN(portfolio.ConcentrationRisk(positions))).Should(BeTrue())
			})
		})
	})

	Describe("when calculating the full set of measurements", func() {
		var positions []*portfolio.AssetPosition

		BeforeEach(func() {
			positions = []*portfolio.AssetPosition{
				{Symbol: "ETH", Value: 600},
				{Symbol: "USDC", Value: 300},
				{Symbol: "PEPE", Value: 100},
			}
		})

		Context("with enough history", func() {
			BeforeEach(func() {
				perf = dailyHistory(100, 100, 100, 95, 93.1, 94.031, 96.85193, 106.537123)
			})

			It("should fill in every measurement", func() {
				metrics, err := portfolio.CalculateRiskMetrics(perf, positions)
				Expect(err).To(BeNil())
				Expect(metrics.Volatility30).Should(BeNumerically("~", 4.3425, 0.001))
				Expect(metrics.Volatility90).Should(BeNumerically("~", 4.3425, 0.001))
				Expect(metrics.MaxDrawDown).Should(BeNumerically("~", 6.9, 0.001))
				Expect(metrics.SharpeRatio).Should(BeNumerically("~", 4.3754, 0.001))
				Expect(metrics.ValueAtRisk).Should(BeNumerically("~", 4.1, 1e-9))
				Expect(metrics.ConcentrationRisk).Should(BeNumerically("~", 60))
			})

			It("should measure the same inputs to the same values", func() {
				first, err := portfolio.CalculateRiskMetrics(perf, positions)
				Expect(err).To(BeNil())
				second, err := portfolio.CalculateRiskMetrics(perf, positions)
				Expect(err).To(BeNil())
				Expect(second).To(Equal(first))
			})
		})

		Context("with fewer than a week of snapshots", func() {
			BeforeEach(func() {
				perf = dailyHistory(100, 101, 102, 103, 104, 105)
			})

			It("should report that history is insufficient", func() {
				_, err := portfolio.CalculateRiskMetrics(perf, positions)
				Expect(err).To(MatchError(portfolio.ErrNotEnoughHistory))
				Expect(err.Error()).To(Equal("not enough historical data for risk calculations"))
				Expect(portfolio.IsInsufficientData(err)).To(BeTrue())
			})

			It("should still measure concentration", func() {
				metrics, err := portfolio.CalculateRiskMetrics(perf, positions)
				Expect(err).To(HaveOccurred())
				Expect(metrics.ConcentrationRisk).Should(BeNumerically("~", 60))
				Expect(math.IsNaN(metrics.Volatility30)).Should(BeTrue())
				Expect(math.IsNaN(metrics.SharpeRatio)).Should(BeTrue())
			})
		})

		Context("with a week of snapshots but too many worthless days", func() {
			BeforeEach(func() {
				perf = dailyHistory(0, 0, 0, 0, 100, 105, 110)
			})

			It("should report that the return series is insufficient", func() {
				_, err := portfolio.CalculateRiskMetrics(perf, positions)
				Expect(err).To(MatchError(portfolio.ErrNotEnoughReturns))
				Expect(err.Error()).To(Equal("not enough return data for risk calculations"))
				Expect(portfolio.IsInsufficientData(err)).To(BeTrue())
			})
		})
	})

	Describe("when rendering to JSON", func() {
		It("should render unmeasured values as null", func() {
			metrics := portfolio.NewRiskMetrics(uuid.New())
			encoded, err := json.Marshal(metrics)
			Expect(err).To(BeNil())
			Expect(string(encoded)).To(ContainSubstring(`"volatility30d":null`))
			Expect(string(encoded)).To(ContainSubstring(`"sharpeRatio":null`))
			Expect(string(encoded)).To(ContainSubstring(`"lastChanged":null`))
		})

		It("should render measured values as numbers", func() {
			metrics := portfolio.NewRiskMetrics(uuid.New())
			metrics.ValueAtRisk = 4.1
			encoded, err := json.Marshal(metrics)
			Expect(err).To(BeNil())
			Expect(string(encoded)).To(ContainSubstring(`"valueAtRisk":4.1`))
		})
	})
})
