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

	"github.com/jarcoal/httpmock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/wallet-pulse/wp-api/data"
)

var _ = Describe("CoinGecko price source", func() {
	var (
		ctx    context.Context
		source data.PriceSource
	)

	BeforeEach(func() {
		ctx = context.Background()
		source = data.NewCoingecko("")

		httpmock.Activate()
	})

	AfterEach(func() {
		httpmock.DeactivateAndReset()
	})

	Describe("when requesting prices", func() {
		Context("with known asset ids", func() {
			It("returns the USD price for each id", func() {
				httpmock.RegisterResponder("GET", "https://api.coingecko.com/api/v3/simple/price?ids=bitcoin,ethereum&vs_currencies=usd",
					httpmock.NewStringResponder(200, `{"bitcoin": {"usd": 65000.25}, "ethereum": {"usd": 3000.5}}`))

				prices, err := source.Prices(ctx, []string{"bitcoin", "ethereum"})
				Expect(err).To(BeNil())
				Expect(prices).To(HaveLen(2))
				Expect(prices["bitcoin"]).Should(BeNumerically("~", 65000.25, 1e-6))
				Expect(prices["ethereum"]).Should(BeNumerically("~", 3000.5, 1e-6))
			})
		})

		Context("with an unknown asset id", func() {
			It("omits it from the result", func() {
				httpmock.RegisterResponder("GET", "https://api.coingecko.com/api/v3/simple/price?ids=bitcoin,not-a-coin&vs_currencies=usd",
					httpmock.NewStringResponder(200, `{"bitcoin": {"usd": 65000.25}}`))

				prices, err := source.Prices(ctx, []string{"bitcoin", "not-a-coin"})
				Expect(err).To(BeNil())
				Expect(prices).To(HaveLen(1))
				_, ok := prices["not-a-coin"]
				Expect(ok).To(BeFalse())
			})
		})

		Context("when the provider is rate limiting", func() {
			It("returns an invalid status code error", func() {
				httpmock.RegisterResponder("GET", "https://api.coingecko.com/api/v3/simple/price?ids=bitcoin&vs_currencies=usd",
					httpmock.NewStringResponder(429, `{"status": {"error_code": 429}}`))

				_, err := source.Prices(ctx, []string{"bitcoin"})
				Expect(errors.Is(err, data.ErrInvalidStatusCode)).To(BeTrue())
			})
		})

		Context("with no ids", func() {
			It("returns an empty map without calling the provider", func() {
				prices, err := source.Prices(ctx, []string{})
				Expect(err).To(BeNil())
				Expect(prices).To(BeEmpty())
			})
		})
	})

	Describe("when resolving contract addresses", func() {
		const usdcContract = "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"

		Context("with a contract the provider tracks", func() {
			It("returns the provider's asset id", func() {
				httpmock.RegisterResponder("GET", "https://api.coingecko.com/api/v3/coins/ethereum/contract/"+usdcContract,
					httpmock.NewStringResponder(200, `{"id": "usd-coin", "symbol": "usdc", "name": "USDC"}`))

				id, err := source.CoinID(ctx, "ethereum", usdcContract)
				Expect(err).To(BeNil())
				Expect(id).To(Equal("usd-coin"))
			})

			It("lower-cases the contract address", func() {
				httpmock.RegisterResponder("GET", "https://api.coingecko.com/api/v3/coins/ethereum/contract/"+usdcContract,
					httpmock.NewStringResponder(200, `{"id": "usd-coin"}`))

				id, err := source.CoinID(ctx, "ethereum", "0xA0b86991C6218b36c1d19D4a2e9Eb0cE3606eB48")
				Expect(err).To(BeNil())
				Expect(id).To(Equal("usd-coin"))
			})
		})

		Context("with a contract the provider does not track", func() {
			It("returns ErrTokenNotFound", func() {
				httpmock.RegisterResponder("GET", "https://api.coingecko.com/api/v3/coins/ethereum/contract/0x0000000000000000000000000000000000000bad",
					httpmock.NewStringResponder(404, `{"error": "coin not found"}`))

				_, err := source.CoinID(ctx, "ethereum", "0x0000000000000000000000000000000000000bad")
				Expect(errors.Is(err, data.ErrTokenNotFound)).To(BeTrue())
			})
		})
	})
})
