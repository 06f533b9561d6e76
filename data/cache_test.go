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
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/wallet-pulse/wp-api/data"
)

var _ = Describe("PriceCache", func() {
	var cache *data.PriceCache

	BeforeEach(func() {
		cache = data.NewPriceCache(1024, time.Hour)
	})

	Describe("when storing prices", func() {
		It("round trips a price", func() {
			err := cache.Set("eth", "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", 1.0)
			Expect(err).To(BeNil())

			price, err := cache.Get("eth", "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48")
			Expect(err).To(BeNil())
			Expect(price).Should(BeNumerically("~", 1.0, 1e-9))
		})

		It("treats contract addresses case insensitively", func() {
			err := cache.Set("eth", "0xA0B86991C6218B36C1D19D4A2E9EB0CE3606EB48", 1.0)
			Expect(err).To(BeNil())

			price, err := cache.Get("eth", "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48")
			Expect(err).To(BeNil())
			Expect(price).Should(BeNumerically("~", 1.0, 1e-9))
		})

		It("keys the native asset by chain", func() {
			Expect(cache.Set("eth", "", 3000.5)).To(Succeed())
			Expect(cache.Set("bsc", "", 550.25)).To(Succeed())

			price, err := cache.Get("eth", "")
			Expect(err).To(BeNil())
			Expect(price).Should(BeNumerically("~", 3000.5, 1e-9))

			price, err = cache.Get("bsc", "")
			Expect(err).To(BeNil())
			Expect(price).Should(BeNumerically("~", 550.25, 1e-9))
		})

		It("overwrites an existing price without growing the cache", func() {
			Expect(cache.Set("eth", "", 3000.5)).To(Succeed())
			sizeBefore := cache.Size()

			Expect(cache.Set("eth", "", 3100.0)).To(Succeed())
			Expect(cache.Size()).To(Equal(sizeBefore))

			price, err := cache.Get("eth", "")
			Expect(err).To(BeNil())
			Expect(price).Should(BeNumerically("~", 3100.0, 1e-9))
		})

		It("errors when a single entry exceeds the budget", func() {
			tiny := data.NewPriceCache(8, time.Hour)
			err := tiny.Set("eth", "", 3000.5)
			Expect(errors.Is(err, data.ErrDataLargerThanCache)).To(BeTrue())
		})
	})

	Describe("when prices expire", func() {
		It("reports a miss after the ttl has passed", func() {
			shortLived := data.NewPriceCache(1024, 25*time.Millisecond)
			Expect(shortLived.Set("eth", "", 3000.5)).To(Succeed())

			Expect(shortLived.Check("eth", "")).To(BeTrue())

			time.Sleep(50 * time.Millisecond)

			Expect(shortLived.Check("eth", "")).To(BeFalse())
			_, err := shortLived.Get("eth", "")
			Expect(errors.Is(err, data.ErrPriceNotAvailable)).To(BeTrue())
		})
	})

	Describe("when the cache fills up", func() {
		It("evicts the least recently stored price", func() {
			// room for exactly two entries
			small := data.NewPriceCache(32, time.Hour)

			Expect(small.Set("eth", "0x0000000000000000000000000000000000000001", 1.0)).To(Succeed())
			Expect(small.Set("eth", "0x0000000000000000000000000000000000000002", 2.0)).To(Succeed())
			Expect(small.Count()).To(Equal(2))

			Expect(small.Set("eth", "0x0000000000000000000000000000000000000003", 3.0)).To(Succeed())
			Expect(small.Count()).To(Equal(2))

			_, err := small.Get("eth", "0x0000000000000000000000000000000000000001")
			Expect(errors.Is(err, data.ErrPriceNotAvailable)).To(BeTrue())

			price, err := small.Get("eth", "0x0000000000000000000000000000000000000003")
			Expect(err).To(BeNil())
			Expect(price).Should(BeNumerically("~", 3.0, 1e-9))
		})
	})
})
