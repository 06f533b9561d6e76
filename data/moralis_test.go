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

package data_test

import (
	"context"
	"errors"
	"time"

	"github.com/jarcoal/httpmock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/wallet-pulse/wp-api/chains"
	"github.com/wallet-pulse/wp-api/data"
)

var _ = Describe("Moralis provider", func() {
	var (
		ctx      context.Context
		provider data.AccountReader
		wallet   string
	)

	BeforeEach(func() {
		ctx = context.Background()
		wallet = "0xd8da6bf26964af9d7eed9e03e53415d37aa96045"
		provider = data.NewMoralis("TEST")

		httpmock.Activate()
	})

	AfterEach(func() {
		httpmock.DeactivateAndReset()
	})

	Describe("when fetching net worth", func() {
		Context("with a healthy upstream", func() {
			It("returns the provider's USD valuation", func() {
				httpmock.RegisterResponder("GET", "https://deep-index.moralis.io/api/v2.2/wallets/"+wallet+"/net-worth?chains[]=eth&exclude_spam=true&exclude_unverified_contracts=true",
					httpmock.NewStringResponder(200, `{"total_networth_usd": "1250.50", "chains": [{"chain": "eth", "networth_usd": "1250.50"}]}`))

				netWorth, err := provider.NetWorth(ctx, "eth", wallet)
				Expect(err).To(BeNil())
				Expect(netWorth).Should(BeNumerically("~", 1250.50, 1e-6))
			})
		})

		Context("with an unknown chain", func() {
			It("returns an error", func() {
				_, err := provider.NetWorth(ctx, "dogechain", wallet)
				Expect(errors.Is(err, chains.ErrChainNotFound)).To(BeTrue())
			})
		})

		Context("with a failing upstream", func() {
			It("returns an invalid status code error", func() {
				httpmock.RegisterResponder("GET", "https://deep-index.moralis.io/api/v2.2/wallets/"+wallet+"/net-worth?chains[]=eth&exclude_spam=true&exclude_unverified_contracts=true",
					httpmock.NewStringResponder(500, `{"message": "internal error"}`))

				_, err := provider.NetWorth(ctx, "eth", wallet)
				Expect(errors.Is(err, data.ErrInvalidStatusCode)).To(BeTrue())
			})
		})
	})

	Describe("when fetching token balances", func() {
		BeforeEach(func() {
			httpmock.RegisterResponder("GET", "https://deep-index.moralis.io/api/v2.2/"+wallet+"/erc20?chain=eth",
				httpmock.NewStringResponder(200, `[
					{"token_address": "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", "symbol": "USDC", "name": "USD Coin", "logo": "https://example.com/usdc.png", "decimals": 6, "balance": "5000000", "possible_spam": false, "verified_contract": true},
					{"token_address": "0xdeadbeef00000000000000000000000000000000", "symbol": "FREE", "name": "Free Airdrop", "decimals": 18, "balance": "1000000000000000000000", "possible_spam": true, "verified_contract": false}
				]`))
		})

		It("converts raw balances using the token's decimals", func() {
			holdings, err := provider.Holdings(ctx, "eth", wallet)
			Expect(err).To(BeNil())
			Expect(holdings).To(HaveLen(1))
			Expect(holdings[0].Symbol).To(Equal("USDC"))
			Expect(holdings[0].Balance.Equal(decimal.NewFromInt(5))).To(BeTrue())
		})

		It("normalizes contract addresses to lower case", func() {
			holdings, err := provider.Holdings(ctx, "eth", wallet)
			Expect(err).To(BeNil())
			Expect(holdings[0].ContractAddress).To(Equal("0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"))
		})

		It("skips possible spam tokens", func() {
			holdings, err := provider.Holdings(ctx, "eth", wallet)
			Expect(err).To(BeNil())
			for _, h := range holdings {
				Expect(h.Symbol).ToNot(Equal("FREE"))
			}
		})
	})

	Describe("when fetching the native balance", func() {
		It("converts wei to whole units", func() {
			httpmock.RegisterResponder("GET", "https://deep-index.moralis.io/api/v2.2/"+wallet+"/balance?chain=eth",
				httpmock.NewStringResponder(200, `{"balance": "2000000000000000000"}`))

			balance, err := provider.NativeBalance(ctx, "eth", wallet)
			Expect(err).To(BeNil())
			Expect(balance.Equal(decimal.NewFromInt(2))).To(BeTrue())
		})

		It("errors when the balance is not a number", func() {
			httpmock.RegisterResponder("GET", "https://deep-index.moralis.io/api/v2.2/"+wallet+"/balance?chain=eth",
				httpmock.NewStringResponder(200, `{"balance": "not-a-number"}`))

			_, err := provider.NativeBalance(ctx, "eth", wallet)
			Expect(errors.Is(err, data.ErrInvalidBalance)).To(BeTrue())
		})
	})

	Describe("when fetching token transfers", func() {
		BeforeEach(func() {
			httpmock.RegisterResponder("GET", "https://deep-index.moralis.io/api/v2.2/"+wallet+"/erc20/transfers?chain=eth&from_date=2025-01-01",
				httpmock.NewStringResponder(200, `{
					"cursor": "",
					"result": [
						{"token_symbol": "USDC", "token_decimals": "6", "from_address": "`+wallet+`", "to_address": "0x1111111111111111111111111111111111111111", "address": "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", "block_timestamp": "2025-02-01T10:30:00.000Z", "transaction_hash": "0xaaa", "value": "2500000", "possible_spam": false},
						{"token_symbol": "WETH", "token_decimals": "18", "from_address": "0x2222222222222222222222222222222222222222", "to_address": "`+wallet+`", "address": "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2", "block_timestamp": "2025-02-02T08:00:00.000Z", "transaction_hash": "0xbbb", "value": "500000000000000000", "possible_spam": false},
						{"token_symbol": "SCAM", "token_decimals": "18", "from_address": "0x3333333333333333333333333333333333333333", "to_address": "`+wallet+`", "address": "0x4444444444444444444444444444444444444444", "block_timestamp": "2025-02-03T08:00:00.000Z", "transaction_hash": "0xccc", "value": "1", "possible_spam": true}
					]
				}`))
		})

		It("classifies direction relative to the wallet", func() {
			since := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
			transfers, err := provider.Transfers(ctx, "eth", wallet, since)
			Expect(err).To(BeNil())
			Expect(transfers).To(HaveLen(2))
			Expect(transfers[0].Direction).To(Equal(data.DirectionSend))
			Expect(transfers[1].Direction).To(Equal(data.DirectionReceive))
		})

		It("records the counterparty on the other side of the transfer", func() {
			since := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
			transfers, err := provider.Transfers(ctx, "eth", wallet, since)
			Expect(err).To(BeNil())
			Expect(transfers[0].Counterparty).To(Equal("0x1111111111111111111111111111111111111111"))
			Expect(transfers[1].Counterparty).To(Equal("0x2222222222222222222222222222222222222222"))
		})

		It("converts transfer amounts using the token's decimals", func() {
			since := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
			transfers, err := provider.Transfers(ctx, "eth", wallet, since)
			Expect(err).To(BeNil())
			Expect(transfers[0].Amount.Equal(decimal.RequireFromString("2.5"))).To(BeTrue())
			Expect(transfers[1].Amount.Equal(decimal.RequireFromString("0.5"))).To(BeTrue())
		})

		It("parses block timestamps", func() {
			since := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
			transfers, err := provider.Transfers(ctx, "eth", wallet, since)
			Expect(err).To(BeNil())
			Expect(transfers[0].Timestamp).To(Equal(time.Date(2025, 2, 1, 10, 30, 0, 0, time.UTC)))
		})
	})

	Describe("when fetching native transactions", func() {
		BeforeEach(func() {
			httpmock.RegisterResponder("GET", "https://deep-index.moralis.io/api/v2.2/"+wallet+"?chain=eth&from_date=2025-01-01",
				httpmock.NewStringResponder(200, `{
					"cursor": "",
					"result": [
						{"hash": "0xddd", "from_address": "`+wallet+`", "to_address": "0x5555555555555555555555555555555555555555", "value": "1000000000000000000", "gas_price": "20000000000", "receipt_gas_used": "21000", "block_timestamp": "2025-03-01T12:00:00.000Z"}
					]
				}`))
		})

		It("computes the fee from gas used and gas price", func() {
			since := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
			transactions, err := provider.Transactions(ctx, "eth", wallet, since)
			Expect(err).To(BeNil())
			Expect(transactions).To(HaveLen(1))
			Expect(transactions[0].Fee.Equal(decimal.RequireFromString("0.00042"))).To(BeTrue())
		})

		It("uses the chain's native symbol", func() {
			since := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
			transactions, err := provider.Transactions(ctx, "eth", wallet, since)
			Expect(err).To(BeNil())
			Expect(transactions[0].Symbol).To(Equal("ETH"))
			Expect(transactions[0].Amount.Equal(decimal.NewFromInt(1))).To(BeTrue())
		})
	})

	Describe("when fetching defi positions", func() {
		It("reports protocol engagements", func() {
			httpmock.RegisterResponder("GET", "https://deep-index.moralis.io/api/v2.2/wallets/"+wallet+"/defi/positions?chain=eth",
				httpmock.NewStringResponder(200, `[
					{"protocol_name": "Lido", "protocol_id": "lido", "position": {"label": "staked", "balance_usd": 1250.5, "tokens": [{"symbol": "stETH"}]}}
				]`))

			positions, err := provider.Positions(ctx, "eth", wallet)
			Expect(err).To(BeNil())
			Expect(positions).To(HaveLen(1))
			Expect(positions[0].Protocol).To(Equal("Lido"))
			Expect(positions[0].Label).To(Equal("staked"))
			Expect(positions[0].Value).Should(BeNumerically("~", 1250.5, 1e-6))
			Expect(positions[0].Symbols).To(ConsistOf("stETH"))
		})
	})
})
