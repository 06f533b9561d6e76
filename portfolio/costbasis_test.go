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
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/wallet-pulse/wp-api/portfolio"
)

func ethTransaction(kind string, date time.Time, amount float64, usdValue float64) *portfolio.Transaction {
	return &portfolio.Transaction{
		ID:              uuid.New(),
		Kind:            kind,
		Chain:           "eth",
		Symbol:          "ETH",
		ContractAddress: "",
		Date:            date,
		Amount:          decimal.NewFromFloat(amount),
		UsdValue:        usdValue,
	}
}

var _ = Describe("RealizedGains", func() {
	Context("when a sale spans the one year holding boundary", func() {
		var (
			gains []*portfolio.RealizedGain
			open  []*portfolio.Lot
		)

		BeforeEach(func() {
			transactions := []*portfolio.Transaction{
				ethTransaction(portfolio.ReceiveTransaction, time.Date(2024, time.January, 10, 0, 0, 0, 0, time.UTC), 1, 2000),
				ethTransaction(portfolio.ReceiveTransaction, time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC), 1, 3000),
				ethTransaction(portfolio.SendTransaction, time.Date(2025, time.August, 20, 0, 0, 0, 0, time.UTC), 1.5, 5250),
			}
			gains, open = portfolio.RealizedGains(transactions)
		})

		It("should split the disposal into long-term and short-term entries", func() {
			Expect(gains).To(HaveLen(2))

			longTerm := gains[0]
			Expect(longTerm.LongTerm).To(BeTrue())
			Expect(longTerm.Amount.Equal(decimal.NewFromInt(1))).To(BeTrue())
			Expect(longTerm.Proceeds).Should(BeNumerically("~", 3500))
			Expect(longTerm.CostBasis).Should(BeNumerically("~", 2000))
			Expect(longTerm.GainLoss).Should(BeNumerically("~", 1500))
			Expect(longTerm.Lots).To(HaveLen(1))

			shortTerm := gains[1]
			Expect(shortTerm.LongTerm).To(BeFalse())
			Expect(shortTerm.Amount.Equal(decimal.NewFromFloat(0.5))).To(BeTrue())
			Expect(shortTerm.Proceeds).Should(BeNumerically("~", 1750))
			Expect(shortTerm.CostBasis).Should(BeNumerically("~", 1500))
			Expect(shortTerm.GainLoss).Should(BeNumerically("~", 250))
		})

		It("should leave the unsold part of the newest lot open", func() {
			Expect(open).To(HaveLen(1))
			Expect(open[0].Amount.Equal(decimal.NewFromFloat(0.5))).To(BeTrue())
			Expect(open[0].UnitCost).Should(BeNumerically("~", 3000))
			Expect(open[0].Date.Month()).To(Equal(time.June))
		})
	})

	Context("when a lot is exactly one year old", func() {
		It("should treat the gain as short-term", func() {
			transactions := []*portfolio.Transaction{
				ethTransaction(portfolio.ReceiveTransaction, time.Date(2024, time.August, 20, 0, 0, 0, 0, time.UTC), 1, 2000),
				ethTransaction(portfolio.SendTransaction, time.Date(2025, time.August, 20, 0, 0, 0, 0, time.UTC), 1, 3000),
			}
			gains, _ := portfolio.RealizedGains(transactions)

			Expect(gains).To(HaveLen(1))
			Expect(gains[0].LongTerm).To(BeFalse())
			Expect(gains[0].GainLoss).Should(BeNumerically("~", 1000))
		})
	})

	Context("when a disposal predates the tracked history", func() {
		It("should carry a zero basis for the untracked part", func() {
			transactions := []*portfolio.Transaction{{
				ID:       uuid.New(),
				Kind:     portfolio.SendTransaction,
				Chain:    "bsc",
				Symbol:   "BNB",
				Date:     time.Date(2025, time.July, 1, 0, 0, 0, 0, time.UTC),
				Amount:   decimal.NewFromInt(2),
				UsdValue: 1100,
			}}
			gains, open := portfolio.RealizedGains(transactions)

			Expect(gains).To(HaveLen(1))
			Expect(gains[0].LongTerm).To(BeFalse())
			Expect(gains[0].CostBasis).To(BeZero())
			Expect(gains[0].GainLoss).Should(BeNumerically("~", 1100))
			Expect(gains[0].Lots).To(BeEmpty())
			Expect(open).To(BeEmpty())
		})
	})

	Context("with staking rewards", func() {
		It("should open a lot at the reward's market value", func() {
			transactions := []*portfolio.Transaction{
				ethTransaction(portfolio.EarnTransaction, time.Date(2025, time.May, 1, 0, 0, 0, 0, time.UTC), 0.1, 250),
			}
			gains, open := portfolio.RealizedGains(transactions)

			Expect(gains).To(BeEmpty())
			Expect(open).To(HaveLen(1))
			Expect(open[0].UnitCost).Should(BeNumerically("~", 2500))
		})
	})

	Context("with an out of order history", func() {
		It("should consume lots in acquisition order", func() {
			transactions := []*portfolio.Transaction{
				ethTransaction(portfolio.SendTransaction, time.Date(2025, time.August, 20, 0, 0, 0, 0, time.UTC), 1, 3000),
				ethTransaction(portfolio.ReceiveTransaction, time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC), 1, 2600),
				ethTransaction(portfolio.ReceiveTransaction, time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC), 1, 2200),
			}
			gains, open := portfolio.RealizedGains(transactions)

			// the March lot is older so it sells first
			Expect(gains).To(HaveLen(1))
			Expect(gains[0].CostBasis).Should(BeNumerically("~", 2200))
			Expect(gains[0].GainLoss).Should(BeNumerically("~", 800))
			Expect(open).To(HaveLen(1))
			Expect(open[0].UnitCost).Should(BeNumerically("~", 2600))
		})
	})

	Context("with different tokens", func() {
		It("should keep a separate lot queue per token", func() {
			usdc := &portfolio.Transaction{
				ID:              uuid.New(),
				Kind:            portfolio.ReceiveTransaction,
				Chain:           "eth",
				Symbol:          "USDC",
				ContractAddress: "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48",
				Date:            time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC),
				Amount:          decimal.NewFromInt(1000),
				UsdValue:        1000,
			}
			transactions := []*portfolio.Transaction{
				ethTransaction(portfolio.ReceiveTransaction, time.Date(2025, time.May, 1, 0, 0, 0, 0, time.UTC), 1, 2500),
				usdc,
				ethTransaction(portfolio.SendTransaction, time.Date(2025, time.July, 1, 0, 0, 0, 0, time.UTC), 1, 3100),
			}
			gains, open := portfolio.RealizedGains(transactions)

			Expect(gains).To(HaveLen(1))
			Expect(gains[0].Symbol).To(Equal("ETH"))
			Expect(gains[0].GainLoss).Should(BeNumerically("~", 600))
			Expect(open).To(HaveLen(1))
			Expect(open[0].Symbol).To(Equal("USDC"))
		})
	})
})
