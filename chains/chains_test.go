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

package chains_test

import (
	"errors"
	"sort"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/wallet-pulse/wp-api/chains"
)

var _ = Describe("Chain registry", func() {
	Describe("when looking chains up", func() {
		It("finds a chain by slug", func() {
			chain, err := chains.Lookup("eth")
			Expect(err).To(BeNil())
			Expect(chain.Name).To(Equal("Ethereum"))
			Expect(chain.ChainID).To(Equal(1))
			Expect(chain.NativeSymbol).To(Equal("ETH"))
		})

		It("returns ErrChainNotFound for unknown slugs", func() {
			_, err := chains.Lookup("dogecoin")
			Expect(errors.Is(err, chains.ErrChainNotFound)).To(BeTrue())
		})
	})

	Describe("the embedded registry", func() {
		It("is ordered by slug", func() {
			all := chains.All()
			Expect(len(all)).To(BeNumerically(">", 0))
			Expect(sort.SliceIsSorted(all, func(i, j int) bool {
				return all[i].Slug < all[j].Slug
			})).To(BeTrue())
		})

		It("carries complete metadata for every chain", func() {
			for _, chain := range chains.All() {
				Expect(chain.Slug).ToNot(BeEmpty())
				Expect(chain.Name).ToNot(BeEmpty())
				Expect(chain.ChainID).To(BeNumerically(">", 0))
				Expect(chain.NativeSymbol).ToNot(BeEmpty())
				Expect(chain.NativeDecimals).To(Equal(18))
				Expect(chain.CoingeckoPlatform).ToNot(BeEmpty())
				Expect(chain.NativeCoinID).ToNot(BeEmpty())
				Expect(chain.Explorer).To(HavePrefix("https://"))
			}
		})

		It("does not register duplicate chain ids", func() {
			seen := map[int]string{}
			for _, chain := range chains.All() {
				Expect(seen).ToNot(HaveKey(chain.ChainID), "chain id %d registered by %s and %s", chain.ChainID, seen[chain.ChainID], chain.Slug)
				seen[chain.ChainID] = chain.Slug
			}
		})
	})
})
