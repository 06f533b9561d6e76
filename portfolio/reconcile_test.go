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
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jarcoal/httpmock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pashagolub/pgxmock"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/wallet-pulse/wp-api/common"
	"github.com/wallet-pulse/wp-api/data"
	"github.com/wallet-pulse/wp-api/data/database"
	"github.com/wallet-pulse/wp-api/portfolio"
)

const reconcileWallet = "0x1111111111111111111111111111111111111111"

// mockWalletEndpoints answers the account provider requests for a wallet
// holding 2 ETH and 1400 USDC with no transfer history
func mockWalletEndpoints(fromDate string) {
	httpmock.RegisterResponder("GET",
		"https://deep-index.moralis.io/api/v2.2/"+reconcileWallet+"/balance?chain=eth",
		httpmock.NewStringResponder(200, `{"balance": "2000000000000000000"}`))
	httpmock.RegisterResponder("GET",
		"https://deep-index.moralis.io/api/v2.2/"+reconcileWallet+"/erc20?chain=eth",
		httpmock.NewStringResponder(200, `[{
			"token_address": "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
			"symbol": "USDC",
			"name": "USD Coin",
			"decimals": 6,
			"balance": "1400000000",
			"possible_spam": false,
			"verified_contract": true
		}]`))
	httpmock.RegisterResponder("GET",
		fmt.Sprintf("https://deep-index.moralis.io/api/v2.2/%s/erc20/transfers?chain=eth&from_date=%s", reconcileWallet, fromDate),
		httpmock.NewStringResponder(200, `{"cursor": "", "result": []}`))
}

// mockTransferHistory replaces the empty transfer page with a 500 USDC
// deposit and a gas only approval in the same block
func mockTransferHistory(fromDate string) {
	httpmock.RegisterResponder("GET",
		fmt.Sprintf("https://deep-index.moralis.io/api/v2.2/%s/erc20/transfers?chain=eth&from_date=%s", reconcileWallet, fromDate),
		httpmock.NewStringResponder(200, `{
			"cursor": "",
			"result": [{
				"token_symbol": "USDC",
				"token_decimals": "6",
				"from_address": "0xfeedfeedfeedfeedfeedfeedfeedfeedfeedfeed",
				"to_address": "0x1111111111111111111111111111111111111111",
				"address": "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
				"block_timestamp": "2025-08-20T14:00:00.000Z",
				"transaction_hash": "0xaaa111",
				"value": "500000000",
				"possible_spam": false
			}, {
				"token_symbol": "USDC",
				"token_decimals": "6",
				"from_address": "0x1111111111111111111111111111111111111111",
				"to_address": "0xdeaddeaddeaddeaddeaddeaddeaddeaddeaddead",
				"address": "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
				"block_timestamp": "2025-08-20T14:00:00.000Z",
				"transaction_hash": "0xbbb222",
				"value": "0",
				"possible_spam": false
			}]
		}`))
}

// syncSnapshotRows builds one snapshot row per day starting at start
func syncSnapshotRows(start time.Time, values ...float64) *pgxmock.Rows {
	rows := pgxmock.NewRows([]string{"event_date", "total_value"})
	for idx, value := range values {
		rows.AddRow(start.AddDate(0, 0, idx), value)
	}
	return rows
}

var _ = Describe("Reconcile", func() {
	var (
		ctx    context.Context
		dbPool pgxmock.PgxConnIface
		pm     *portfolio.Model
		p      *portfolio.Portfolio
		w      *portfolio.Wallet

		history time.Time
	)

	BeforeEach(func() {
		var err error
		ctx = context.Background()

		manager := data.GetManagerInstance()
		manager.Reset()
		httpmock.Activate()

		dbPool, err = pgxmock.NewConn()
		Expect(err).To(BeNil())
		database.SetPool(dbPool)

		pm = portfolio.NewPortfolio("Degen Fund", "auth0|user1", manager)
		p = pm.Portfolio
		w, err = pm.AddWallet("eth", reconcileWallet, "hot")
		Expect(err).To(BeNil())

		history = time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)
	})

	AfterEach(func() {
		httpmock.DeactivateAndReset()
		dbPool.Close(ctx)
	})

	Context("on the first sync of a new wallet", func() {
		BeforeEach(func() {
			mockWalletEndpoints("0001-01-01")
			mockTransferHistory("0001-01-01")
			httpmock.RegisterResponder("GET",
				"https://deep-index.moralis.io/api/v2.2/wallets/"+reconcileWallet+"/net-worth?chains[]=eth&exclude_spam=true&exclude_unverified_contracts=true",
				httpmock.NewStringResponder(200, `{"total_networth_usd": "7000.00", "chains": [{"chain": "eth", "networth_usd": "7000.00"}]}`))

			dbPool.ExpectBegin()
			dbPool.ExpectExec("SET ROLE").WillReturnResult(pgconn.CommandTag("SET ROLE"))
			dbPool.ExpectExec("SELECT pg_advisory_xact_lock").WillReturnResult(pgxmock.NewResult("SELECT", 1))
			dbPool.ExpectExec("INSERT INTO portfolio_snapshots").WillReturnResult(pgxmock.NewResult("INSERT", 1))
			dbPool.ExpectQuery("SELECT (.+) FROM portfolio_snapshots").WillReturnRows(
				syncSnapshotRows(history, 6000, 6100, 6050, 6200, 6150, 6300, 6250, 7000))
			dbPool.ExpectExec("INSERT INTO portfolios").WillReturnResult(pgxmock.NewResult("INSERT", 1))
			dbPool.ExpectExec("INSERT INTO wallets").WillReturnResult(pgxmock.NewResult("INSERT", 1))
			dbPool.ExpectExec("DELETE FROM wallet_tokens").WillReturnResult(pgxmock.NewResult("DELETE", 0))
			dbPool.ExpectExec("INSERT INTO wallet_tokens").WillReturnResult(pgxmock.NewResult("INSERT", 1))
			dbPool.ExpectExec("INSERT INTO wallet_tokens").WillReturnResult(pgxmock.NewResult("INSERT", 1))
			dbPool.ExpectExec("INSERT INTO transactions").WillReturnResult(pgxmock.NewResult("INSERT", 1))
			dbPool.ExpectExec("INSERT INTO transactions").WillReturnResult(pgxmock.NewResult("INSERT", 1))
			dbPool.ExpectExec("INSERT INTO risk_metrics").WillReturnResult(pgxmock.NewResult("INSERT", 1))
			dbPool.ExpectCommit()

			// activity log for the ingested transactions
			dbPool.ExpectBegin()
			dbPool.ExpectExec("SET ROLE").WillReturnResult(pgconn.CommandTag("SET ROLE"))
			dbPool.ExpectExec("INSERT INTO activity").WillReturnResult(pgxmock.NewResult("INSERT", 1))
			dbPool.ExpectCommit()
		})

		It("should value the portfolio from the provider's balances", func() {
			result, err := pm.Reconcile(ctx)
			Expect(err).To(BeNil())

			Expect(result.NumWallets).To(Equal(1))
			Expect(result.TotalValue).Should(BeNumerically("~", 7000))
			Expect(result.ProviderErrors).To(BeEmpty())
			Expect(result.MetricsUpdated).To(BeTrue())

			Expect(w.NativeBalance.Equal(decimal.NewFromInt(2))).To(BeTrue())
			Expect(w.Holdings).To(HaveLen(2))
			Expect(w.Holdings[0].Symbol).To(Equal("ETH"))
			Expect(w.Holdings[0].Value).Should(BeNumerically("~", 5600))
			Expect(w.TotalValue).Should(BeNumerically("~", 7000))
			Expect(w.LastSynced.IsZero()).To(BeFalse())
		})

		It("should establish the initial checkpoints", func() {
			_, err := pm.Reconcile(ctx)
			Expect(err).To(BeNil())

			Expect(p.TotalValue).Should(BeNumerically("~", 7000))
			Expect(p.InitialValue).Should(BeNumerically("~", 7000))
			Expect(p.PreviousDayValue).Should(BeNumerically("~", 7000))
			Expect(p.PreviousWeekValue).Should(BeNumerically("~", 7000))
			Expect(p.PreviousMonthValue).Should(BeNumerically("~", 7000))
			Expect(p.AllTimeHigh).Should(BeNumerically("~", 7000))
			Expect(p.AllTimeLow).Should(BeNumerically("~", 7000))
			Expect(p.LastSynced.IsZero()).To(BeFalse())
		})

		It("should ingest the wallet's transfers in block order", func() {
			result, err := pm.Reconcile(ctx)
			Expect(err).To(BeNil())
			Expect(result.NewTransactions).To(Equal(2))
			Expect(p.Transactions).To(HaveLen(2))

			deposit := p.Transactions[0]
			Expect(deposit.Kind).To(Equal(portfolio.ReceiveTransaction))
			Expect(deposit.Amount.Equal(decimal.NewFromInt(500))).To(BeTrue())
			Expect(deposit.UsdValue).Should(BeNumerically("~", 500))
			Expect(deposit.SequenceNum).To(Equal(int32(0)))
			Expect(deposit.SourceID).To(HaveLen(32))
			Expect(deposit.WalletID).To(Equal(w.ID))

			approval := p.Transactions[1]
			Expect(approval.Kind).To(Equal(portfolio.FeeTransaction))
			Expect(approval.Amount.IsZero()).To(BeTrue())
			Expect(approval.SequenceNum).To(Equal(int32(1)))
			Expect(approval.SourceID).NotTo(Equal(deposit.SourceID))
		})
	})

	Context("when the account provider is down", func() {
		BeforeEach(func() {
			dbPool.ExpectBegin()
			dbPool.ExpectExec("SET ROLE").WillReturnResult(pgconn.CommandTag("SET ROLE"))
			dbPool.ExpectExec("SELECT pg_advisory_xact_lock").WillReturnResult(pgxmock.NewResult("SELECT", 1))
			dbPool.ExpectExec("INSERT INTO portfolio_snapshots").WillReturnResult(pgxmock.NewResult("INSERT", 1))
			dbPool.ExpectQuery("SELECT (.+) FROM portfolio_snapshots").WillReturnRows(
				syncSnapshotRows(history, 0, 0, 0))
			dbPool.ExpectExec("INSERT INTO portfolios").WillReturnResult(pgxmock.NewResult("INSERT", 1))
			dbPool.ExpectExec("INSERT INTO wallets").WillReturnResult(pgxmock.NewResult("INSERT", 1))
			dbPool.ExpectQuery("SELECT (.+) FROM risk_metrics").WillReturnError(pgx.ErrNoRows)
			dbPool.ExpectExec("INSERT INTO risk_metrics").WillReturnResult(pgxmock.NewResult("INSERT", 1))
			dbPool.ExpectCommit()

			// activity log for the provider failure
			dbPool.ExpectBegin()
			dbPool.ExpectExec("SET ROLE").WillReturnResult(pgconn.CommandTag("SET ROLE"))
			dbPool.ExpectExec("INSERT INTO activity").WillReturnResult(pgxmock.NewResult("INSERT", 1))
			dbPool.ExpectCommit()
		})

		It("should keep the wallet's previous state and finish the sync", func() {
			result, err := pm.Reconcile(ctx)
			Expect(err).To(BeNil())

			Expect(result.ProviderErrors).To(HaveLen(1))
			Expect(result.ProviderErrors[0]).To(ContainSubstring(reconcileWallet))
			Expect(result.NewTransactions).To(BeZero())
			Expect(result.MetricsUpdated).To(BeFalse())

			Expect(w.Holdings).To(BeNil())
			Expect(w.LastSynced.IsZero()).To(BeTrue())
			Expect(p.LastSynced.IsZero()).To(BeFalse())
		})
	})

	Context("when syncing a second time on the same day", func() {
		BeforeEach(func() {
			now := time.Now().In(common.GetTimezone())
			fromDate := now.UTC().Format("2006-01-02")
			mockWalletEndpoints(fromDate)

			p.TotalValue = 7000
			p.InitialValue = 5000
			p.PreviousDayValue = 6900
			p.PreviousWeekValue = 6800
			p.PreviousMonthValue = 6700
			p.AllTimeHigh = 8000
			p.AllTimeHighDate = time.Date(2025, time.August, 1, 0, 0, 0, 0, time.UTC)
			p.AllTimeLow = 4000
			p.AllTimeLowDate = time.Date(2025, time.July, 4, 0, 0, 0, 0, time.UTC)
			p.LastSynced = now
			w.LastSynced = now

			dbPool.ExpectBegin()
			dbPool.ExpectExec("SET ROLE").WillReturnResult(pgconn.CommandTag("SET ROLE"))
			dbPool.ExpectExec("SELECT pg_advisory_xact_lock").WillReturnResult(pgxmock.NewResult("SELECT", 1))
			dbPool.ExpectExec("INSERT INTO portfolio_snapshots").WillReturnResult(pgxmock.NewResult("INSERT", 1))
			dbPool.ExpectQuery("SELECT (.+) FROM portfolio_snapshots").WillReturnRows(
				syncSnapshotRows(history, 6000, 6100, 6050, 6200, 6150, 6300, 6250, 7000))
			dbPool.ExpectExec("INSERT INTO portfolios").WillReturnResult(pgxmock.NewResult("INSERT", 1))
			dbPool.ExpectExec("INSERT INTO wallets").WillReturnResult(pgxmock.NewResult("INSERT", 1))
			dbPool.ExpectExec("DELETE FROM wallet_tokens").WillReturnResult(pgxmock.NewResult("DELETE", 2))
			dbPool.ExpectExec("INSERT INTO wallet_tokens").WillReturnResult(pgxmock.NewResult("INSERT", 1))
			dbPool.ExpectExec("INSERT INTO wallet_tokens").WillReturnResult(pgxmock.NewResult("INSERT", 1))
			dbPool.ExpectExec("INSERT INTO risk_metrics").WillReturnResult(pgxmock.NewResult("INSERT", 1))
			dbPool.ExpectCommit()
		})

		It("should move no checkpoints", func() {
			result, err := pm.Reconcile(ctx)
			Expect(err).To(BeNil())
			Expect(result.NewTransactions).To(BeZero())

			Expect(p.PreviousDayValue).Should(BeNumerically("~", 6900))
			Expect(p.PreviousWeekValue).Should(BeNumerically("~", 6800))
			Expect(p.PreviousMonthValue).Should(BeNumerically("~", 6700))
			Expect(p.InitialValue).Should(BeNumerically("~", 5000))
			Expect(p.AllTimeHigh).Should(BeNumerically("~", 8000))
			Expect(p.AllTimeHighDate).To(Equal(time.Date(2025, time.August, 1, 0, 0, 0, 0, time.UTC)))
			Expect(p.AllTimeLow).Should(BeNumerically("~", 4000))
		})
	})

	Context("when earlier syncs only partially established the baselines", func() {
		BeforeEach(func() {
			yesterday := time.Now().In(common.GetTimezone()).AddDate(0, 0, -1)
			fromDate := yesterday.UTC().Format("2006-01-02")
			mockWalletEndpoints(fromDate)

			p.TotalValue = 6500
			p.InitialValue = 6000
			p.PreviousDayValue = 6400
			p.AllTimeHigh = 6600
			p.AllTimeHighDate = time.Date(2025, time.August, 1, 0, 0, 0, 0, time.UTC)
			p.AllTimeLow = 5000
			p.AllTimeLowDate = time.Date(2025, time.July, 4, 0, 0, 0, 0, time.UTC)
			p.LastSynced = yesterday
			w.LastSynced = yesterday

			dbPool.ExpectBegin()
			dbPool.ExpectExec("SET ROLE").WillReturnResult(pgconn.CommandTag("SET ROLE"))
			dbPool.ExpectExec("SELECT pg_advisory_xact_lock").WillReturnResult(pgxmock.NewResult("SELECT", 1))
			dbPool.ExpectExec("INSERT INTO portfolio_snapshots").WillReturnResult(pgxmock.NewResult("INSERT", 1))
			dbPool.ExpectQuery("SELECT (.+) FROM portfolio_snapshots").WillReturnRows(
				syncSnapshotRows(history, 6000, 6100, 6050, 6200, 6150, 6300, 6500, 7000))
			dbPool.ExpectExec("INSERT INTO portfolios").WillReturnResult(pgxmock.NewResult("INSERT", 1))
			dbPool.ExpectExec("INSERT INTO wallets").WillReturnResult(pgxmock.NewResult("INSERT", 1))
			dbPool.ExpectExec("DELETE FROM wallet_tokens").WillReturnResult(pgxmock.NewResult("DELETE", 2))
			dbPool.ExpectExec("INSERT INTO wallet_tokens").WillReturnResult(pgxmock.NewResult("INSERT", 1))
			dbPool.ExpectExec("INSERT INTO wallet_tokens").WillReturnResult(pgxmock.NewResult("INSERT", 1))
			dbPool.ExpectExec("INSERT INTO risk_metrics").WillReturnResult(pgxmock.NewResult("INSERT", 1))
			dbPool.ExpectCommit()

			// activity log for the new all-time high
			dbPool.ExpectBegin()
			dbPool.ExpectExec("SET ROLE").WillReturnResult(pgconn.CommandTag("SET ROLE"))
			dbPool.ExpectExec("INSERT INTO activity").WillReturnResult(pgxmock.NewResult("INSERT", 1))
			dbPool.ExpectCommit()
		})

		It("should fill only the unset checkpoints and beat the all-time high", func() {
			_, err := pm.Reconcile(ctx)
			Expect(err).To(BeNil())

			Expect(p.PreviousDayValue).Should(BeNumerically("~", 6400))
			Expect(p.PreviousWeekValue).Should(BeNumerically("~", 7000))
			Expect(p.PreviousMonthValue).Should(BeNumerically("~", 7000))
			Expect(p.TotalValue).Should(BeNumerically("~", 7000))
			Expect(p.AllTimeHigh).Should(BeNumerically("~", 7000))
			Expect(p.AllTimeLow).Should(BeNumerically("~", 5000))
			Expect(p.InitialValue).Should(BeNumerically("~", 6000))
		})
	})

	Context("with rolling checkpoints enabled", func() {
		BeforeEach(func() {
			viper.Set("sync.rolling_checkpoints", true)

			now := time.Now().In(common.GetTimezone())
			fromDate := now.UTC().Format("2006-01-02")
			mockWalletEndpoints(fromDate)

			today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
			rows := pgxmock.NewRows([]string{"event_date", "total_value"}).
				AddRow(today.AddDate(0, 0, -40), 5000.0).
				AddRow(today.AddDate(0, 0, -7), 6000.0).
				AddRow(today.AddDate(0, 0, -1), 6900.0).
				AddRow(today, 7000.0)

			p.TotalValue = 6900
			p.InitialValue = 5000
			p.LastSynced = now
			w.LastSynced = now

			dbPool.ExpectBegin()
			dbPool.ExpectExec("SET ROLE").WillReturnResult(pgconn.CommandTag("SET ROLE"))
			dbPool.ExpectExec("SELECT pg_advisory_xact_lock").WillReturnResult(pgxmock.NewResult("SELECT", 1))
			dbPool.ExpectExec("INSERT INTO portfolio_snapshots").WillReturnResult(pgxmock.NewResult("INSERT", 1))
			dbPool.ExpectQuery("SELECT (.+) FROM portfolio_snapshots").WillReturnRows(rows)
			dbPool.ExpectExec("INSERT INTO portfolios").WillReturnResult(pgxmock.NewResult("INSERT", 1))
			dbPool.ExpectExec("INSERT INTO wallets").WillReturnResult(pgxmock.NewResult("INSERT", 1))
			dbPool.ExpectExec("DELETE FROM wallet_tokens").WillReturnResult(pgxmock.NewResult("DELETE", 2))
			dbPool.ExpectExec("INSERT INTO wallet_tokens").WillReturnResult(pgxmock.NewResult("INSERT", 1))
			dbPool.ExpectExec("INSERT INTO wallet_tokens").WillReturnResult(pgxmock.NewResult("INSERT", 1))
			dbPool.ExpectQuery("SELECT (.+) FROM risk_metrics").WillReturnError(pgx.ErrNoRows)
			dbPool.ExpectExec("INSERT INTO risk_metrics").WillReturnResult(pgxmock.NewResult("INSERT", 1))
			dbPool.ExpectCommit()
		})

		AfterEach(func() {
			viper.Set("sync.rolling_checkpoints", false)
		})

		It("should derive the checkpoints from the snapshot history", func() {
			result, err := pm.Reconcile(ctx)
			Expect(err).To(BeNil())
			Expect(result.MetricsUpdated).To(BeFalse())

			Expect(p.PreviousDayValue).Should(BeNumerically("~", 6900))
			Expect(p.PreviousWeekValue).Should(BeNumerically("~", 6000))
			Expect(p.PreviousMonthValue).Should(BeNumerically("~", 5000))
		})
	})
})
