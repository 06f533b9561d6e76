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

	"github.com/jackc/pgconn"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pashagolub/pgxmock"

	"github.com/wallet-pulse/wp-api/chains"
	"github.com/wallet-pulse/wp-api/data"
	"github.com/wallet-pulse/wp-api/data/database"
)

var _ = Describe("Token registry", func() {
	var (
		ctx    context.Context
		dbPool pgxmock.PgxConnIface
	)

	BeforeEach(func() {
		var err error
		ctx = context.Background()

		dbPool, err = pgxmock.NewConn()
		Expect(err).To(BeNil())
		database.SetPool(dbPool)

		dbPool.ExpectBegin()
		// NOTE: pgconn.CommandTag is ignored
		dbPool.ExpectExec("SET ROLE").WillReturnResult(pgconn.CommandTag("SET ROLE"))

		rows := pgxmock.NewRows([]string{"chain", "contract_address", "symbol", "name", "decimals", "logo", "coingecko_id", "last_price", "price_updated"}).
			AddRow("eth", "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", "USDC", "USD Coin", int32(6), "", "usd-coin", 1.0, time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)).
			AddRow("eth", "", "ETH", "Ethereum", int32(18), "", "ethereum", 3000.5, time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)).
			AddRow("bsc", "", "BNB", "BNB", int32(18), "", "binancecoin", 550.0, time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC))
		dbPool.ExpectQuery("SELECT").WillReturnRows(rows)
		dbPool.ExpectCommit()

		Expect(data.LoadTokensFromDB(ctx)).To(Succeed())
	})

	AfterEach(func() {
		dbPool.Close(ctx)
	})

	Describe("when looking tokens up", func() {
		It("finds a token by chain and contract address", func() {
			token, err := data.TokenForAddress("eth", "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48")
			Expect(err).To(BeNil())
			Expect(token.Symbol).To(Equal("USDC"))
			Expect(token.Decimals).To(Equal(int32(6)))
		})

		It("normalizes the contract address", func() {
			token, err := data.TokenForAddress("eth", "0xA0B86991C6218B36C1D19D4A2E9EB0CE3606EB48")
			Expect(err).To(BeNil())
			Expect(token.Symbol).To(Equal("USDC"))
		})

		It("resolves the native asset through the empty contract address", func() {
			token, err := data.TokenForAddress("eth", "")
			Expect(err).To(BeNil())
			Expect(token.Symbol).To(Equal("ETH"))
		})

		It("returns ErrTokenNotFound for unknown tokens", func() {
			_, err := data.TokenForAddress("eth", "0x0000000000000000000000000000000000000bad")
			Expect(errors.Is(err, data.ErrTokenNotFound)).To(BeTrue())
		})

		It("finds tokens by symbol regardless of case", func() {
			tokens, err := data.TokensForSymbol("usdc")
			Expect(err).To(BeNil())
			Expect(tokens).To(HaveLen(1))
			Expect(tokens[0].Chain).To(Equal("eth"))
		})

		It("lists tokens that have a price source id", func() {
			tokens := data.TokensWithCoingeckoID()
			Expect(tokens).To(HaveLen(3))
		})
	})

	Describe("when seeding native assets", func() {
		It("registers natives missing from the registry and skips known ones", func() {
			missing := 0
			for _, c := range chains.All() {
				if _, err := data.TokenForAddress(c.Slug, ""); err != nil {
					missing++
				}
			}
			Expect(missing).To(BeNumerically(">", 0))

			for i := 0; i < missing; i++ {
				dbPool.ExpectBegin()
				dbPool.ExpectExec("SET ROLE").WillReturnResult(pgconn.CommandTag("SET ROLE"))
				dbPool.ExpectExec("INSERT INTO tokens").WillReturnResult(pgxmock.NewResult("INSERT", 1))
				dbPool.ExpectCommit()
			}

			data.SeedNativeTokens(ctx)

			for _, c := range chains.All() {
				token, err := data.TokenForAddress(c.Slug, "")
				Expect(err).To(BeNil())
				Expect(token.Symbol).To(Equal(c.NativeSymbol))
			}
			Expect(dbPool.ExpectationsWereMet()).To(Succeed())
		})
	})

	Describe("when registering tokens", func() {
		It("persists new token metadata", func() {
			dbPool.ExpectBegin()
			dbPool.ExpectExec("SET ROLE").WillReturnResult(pgconn.CommandTag("SET ROLE"))
			dbPool.ExpectExec("INSERT INTO tokens").WillReturnResult(pgxmock.NewResult("INSERT", 1))
			dbPool.ExpectCommit()

			token := &data.Token{
				Chain:           "eth",
				ContractAddress: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2",
				Symbol:          "WETH",
				Name:            "Wrapped Ether",
				Decimals:        18,
				CoingeckoID:     "weth",
			}
			Expect(data.UpsertToken(ctx, token)).To(Succeed())

			found, err := data.TokenForAddress("eth", "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2")
			Expect(err).To(BeNil())
			Expect(found.Symbol).To(Equal("WETH"))
		})

		It("updates the cached price when one is persisted", func() {
			dbPool.ExpectBegin()
			dbPool.ExpectExec("SET ROLE").WillReturnResult(pgconn.CommandTag("SET ROLE"))
			dbPool.ExpectExec("UPDATE tokens").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
			dbPool.ExpectCommit()

			Expect(data.UpdateTokenPrice(ctx, "eth", "", 3100.0)).To(Succeed())

			token, err := data.TokenForAddress("eth", "")
			Expect(err).To(BeNil())
			Expect(token.LastPrice).Should(BeNumerically("~", 3100.0, 1e-9))
		})
	})
})
