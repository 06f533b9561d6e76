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

package data

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"github.com/wallet-pulse/wp-api/chains"
)

// Manager combines the account provider, the price source, and the price
// cache behind a single front door. Handlers and the sync orchestrator only
// talk to the Manager.
type Manager struct {
	accounts AccountReader
	prices   PriceSource
	cache    *PriceCache
}

var (
	managerOnce     sync.Once
	managerInstance *Manager
)

func GetManagerInstance() *Manager {
	managerOnce.Do(func() {
		ctx := context.Background()
		if err := LoadTokensFromDB(ctx); err != nil {
			log.Error().Err(err).Msg("could not load token registry")
		}
		SeedNativeTokens(ctx)

		managerInstance = &Manager{
			accounts: NewMoralis(viper.GetString("moralis.apikey")),
			prices:   NewCoingecko(viper.GetString("coingecko.apikey")),
			cache:    NewPriceCache(priceCacheBytes(), priceCacheTTL()),
		}

		managerInstance.scheduleTokenRefresh()
	})
	return managerInstance
}

// Reset clears cached prices and re-reads provider credentials from the
// configuration. Primarily used by tests.
func (manager *Manager) Reset() {
	manager.accounts = NewMoralis(viper.GetString("moralis.apikey"))
	manager.prices = NewCoingecko(viper.GetString("coingecko.apikey"))
	manager.cache = NewPriceCache(priceCacheBytes(), priceCacheTTL())
}

// AccountSource names the upstream that account data is fetched from
func (manager *Manager) AccountSource() string {
	return manager.accounts.Source()
}

// NetWorth returns the provider's USD valuation of an account
func (manager *Manager) NetWorth(ctx context.Context, chain string, address string) (float64, error) {
	return manager.accounts.NetWorth(ctx, chain, address)
}

// NativeBalance returns the account's balance of the chain's native asset
func (manager *Manager) NativeBalance(ctx context.Context, chain string, address string) (decimal.Decimal, error) {
	return manager.accounts.NativeBalance(ctx, chain, address)
}

// Positions returns the account's DeFi engagements
func (manager *Manager) Positions(ctx context.Context, chain string, address string) ([]*Position, error) {
	return manager.accounts.Positions(ctx, chain, address)
}

// NativeHolding returns the account's native asset balance as a priced
// holding
func (manager *Manager) NativeHolding(ctx context.Context, chain string, address string) (*Holding, error) {
	c, err := chains.Lookup(chain)
	if err != nil {
		return nil, err
	}

	balance, err := manager.accounts.NativeBalance(ctx, chain, address)
	if err != nil {
		return nil, err
	}

	holding := &Holding{
		Chain:    chain,
		Symbol:   c.NativeSymbol,
		Name:     c.Name,
		Decimals: int32(c.NativeDecimals),
		Balance:  balance,
	}

	if price, err := manager.PriceForToken(ctx, chain, ""); err == nil {
		holding.Price = price
		holding.Value = balance.InexactFloat64() * price
	}

	return holding, nil
}

// WalletHoldings returns the account's token balances with USD prices
// filled in. Holdings with no known price keep a zero value. Tokens seen for
// the first time are added to the token registry.
func (manager *Manager) WalletHoldings(ctx context.Context, chain string, address string) ([]*Holding, error) {
	holdings, err := manager.accounts.Holdings(ctx, chain, address)
	if err != nil {
		return nil, err
	}

	for _, h := range holdings {
		if _, err := TokenForAddress(h.Chain, h.ContractAddress); err != nil {
			token := &Token{
				Chain:           h.Chain,
				ContractAddress: h.ContractAddress,
				Symbol:          h.Symbol,
				Name:            h.Name,
				Decimals:        h.Decimals,
				Logo:            h.Logo,
			}
			if c, err := chains.Lookup(h.Chain); err == nil && c.CoingeckoPlatform != "" {
				if id, err := manager.prices.CoinID(ctx, c.CoingeckoPlatform, h.ContractAddress); err == nil {
					token.CoingeckoID = id
				}
			}
			if err := UpsertToken(ctx, token); err != nil {
				log.Warn().Err(err).Str("Symbol", h.Symbol).Msg("could not register token")
			}
		}

		price, err := manager.PriceForToken(ctx, h.Chain, h.ContractAddress)
		if err != nil {
			// unknown price; the holding's usd value stays 0
			continue
		}

		h.Price = price
		h.Value = h.Balance.InexactFloat64() * price
	}

	return holdings, nil
}

// Transfers returns token transfers for the account with USD values filled
// in where a price is known
func (manager *Manager) Transfers(ctx context.Context, chain string, address string, since time.Time) ([]*Transfer, error) {
	transfers, err := manager.accounts.Transfers(ctx, chain, address, since)
	if err != nil {
		return nil, err
	}
	manager.priceTransfers(ctx, transfers)
	return transfers, nil
}

// Transactions returns native transactions for the account with USD values
// filled in where a price is known
func (manager *Manager) Transactions(ctx context.Context, chain string, address string, since time.Time) ([]*Transfer, error) {
	transactions, err := manager.accounts.Transactions(ctx, chain, address, since)
	if err != nil {
		return nil, err
	}
	manager.priceTransfers(ctx, transactions)
	return transactions, nil
}

// PriceForToken returns the current USD price of a token. Lookup order is
// the in-memory cache, the upstream price source, and finally the last
// persisted price. The empty contract address refers to the chain's native
// asset.
func (manager *Manager) PriceForToken(ctx context.Context, chain string, contractAddress string) (float64, error) {
	if price, err := manager.cache.Get(chain, contractAddress); err == nil {
		return price, nil
	}

	token, err := TokenForAddress(chain, contractAddress)
	if err != nil {
		return 0, ErrPriceNotAvailable
	}

	if token.CoingeckoID != "" {
		prices, err := manager.prices.Prices(ctx, []string{token.CoingeckoID})
		if err != nil {
			log.Warn().Err(err).Str("CoingeckoID", token.CoingeckoID).Msg("price lookup failed")
		} else if price, ok := prices[token.CoingeckoID]; ok {
			if err := manager.cache.Set(chain, contractAddress, price); err != nil {
				log.Warn().Err(err).Str("Chain", chain).Str("ContractAddress", contractAddress).Msg("could not cache price")
			}
			return price, nil
		}
	}

	if token.LastPrice > 0 {
		return token.LastPrice, nil
	}

	return 0, ErrPriceNotAvailable
}

// RefreshPrices fetches fresh USD prices for every token with a CoinGecko id
// and persists them. Called on a schedule so portfolio values stay current
// between syncs.
func (manager *Manager) RefreshPrices(ctx context.Context) error {
	tokens := TokensWithCoingeckoID()
	if len(tokens) == 0 {
		log.Info().Msg("no tokens with a price source id; skipping price refresh")
		return nil
	}

	byID := make(map[string][]*Token, len(tokens))
	ids := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if _, ok := byID[t.CoingeckoID]; !ok {
			ids = append(ids, t.CoingeckoID)
		}
		byID[t.CoingeckoID] = append(byID[t.CoingeckoID], t)
	}

	// keep request batches stable across runs
	sort.Strings(ids)

	prices, err := manager.prices.Prices(ctx, ids)
	if err != nil {
		log.Error().Err(err).Msg("could not refresh token prices")
		return err
	}

	for id, price := range prices {
		for _, t := range byID[id] {
			if err := manager.cache.Set(t.Chain, t.ContractAddress, price); err != nil {
				log.Warn().Err(err).Str("Symbol", t.Symbol).Msg("could not cache price")
			}
			if err := UpdateTokenPrice(ctx, t.Chain, t.ContractAddress, price); err != nil {
				log.Warn().Err(err).Str("Symbol", t.Symbol).Msg("could not persist price")
			}
		}
	}

	log.Info().Int("NumPrices", len(prices)).Int("NumTokens", len(tokens)).Msg("token prices refreshed")
	return nil
}

// Private Implementation

func (manager *Manager) priceTransfers(ctx context.Context, transfers []*Transfer) {
	for _, t := range transfers {
		price, err := manager.PriceForToken(ctx, t.Chain, t.ContractAddress)
		if err != nil {
			continue
		}
		t.Value = t.Amount.InexactFloat64() * price
	}
}

func (manager *Manager) scheduleTokenRefresh() {
	refreshTimer := time.NewTimer(24 * time.Hour)
	go func() {
		<-refreshTimer.C
		log.Info().Msg("refreshing token registry")
		if err := LoadTokensFromDB(context.Background()); err != nil {
			log.Error().Err(err).Msg("could not refresh token registry")
		}
		manager.scheduleTokenRefresh()
	}()
}

func priceCacheBytes() int64 {
	sz := viper.GetInt64("data.price_cache_bytes")
	if sz == 0 {
		sz = 1 << 20
	}
	return sz
}

func priceCacheTTL() time.Duration {
	ttl := viper.GetDuration("data.price_ttl")
	if ttl == 0 {
		ttl = 5 * time.Minute
	}
	return ttl
}
