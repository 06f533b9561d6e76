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
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wallet-pulse/wp-api/chains"
	"github.com/wallet-pulse/wp-api/common"
	"github.com/wallet-pulse/wp-api/data/database"
)

// Token represents an asset that can be held in a wallet. Metadata is shared
// by all users; the registry is filled from the tokens table at startup and
// extended as syncs discover new assets.
type Token struct {
	Chain           string    `json:"chain"`
	ContractAddress string    `json:"contractAddress"`
	Symbol          string    `json:"symbol"`
	Name            string    `json:"name"`
	Decimals        int32     `json:"decimals"`
	Logo            string    `json:"logo"`
	CoingeckoID     string    `json:"coingeckoId"`
	LastPrice       float64   `json:"lastPrice"`
	PriceUpdated    time.Time `json:"priceUpdated"`
}

var (
	tokensByChainAddress = map[string]*Token{}
	tokensBySymbol       = map[string][]*Token{}
	tokenLock            sync.RWMutex
)

func tokenKey(chain, contractAddress string) string {
	return fmt.Sprintf("%s:%s", chain, common.NormalizeAddress(contractAddress))
}

// LoadTokensFromDB replaces the in-memory token registry with the contents of
// the tokens table
func LoadTokensFromDB(ctx context.Context) error {
	trx, err := database.TrxForUser(ctx, "wpuser")
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not get transaction when creating token list")
		return err
	}

	rows, err := trx.Query(ctx, `SELECT chain, contract_address, symbol, coalesce(name, ''), decimals, coalesce(logo, ''), coalesce(coingecko_id, ''), coalesce(last_price, 0), coalesce(price_updated, to_timestamp(0)) FROM tokens`)
	if err != nil {
		log.Error().Err(err).Msg("could not query tokens from database")
		if err := trx.Rollback(ctx); err != nil {
			log.Error().Stack().Err(err).Msg("could not rollback transaction")
		}
		return err
	}

	byChainAddress := make(map[string]*Token, 1000)
	bySymbol := make(map[string][]*Token, 1000)

	for rows.Next() {
		t := &Token{}
		err := rows.Scan(&t.Chain, &t.ContractAddress, &t.Symbol, &t.Name, &t.Decimals, &t.Logo, &t.CoingeckoID, &t.LastPrice, &t.PriceUpdated)
		if err != nil {
			log.Error().Err(err).Msg("could not scan database results")
			if err := trx.Rollback(ctx); err != nil {
				log.Error().Stack().Err(err).Msg("could not rollback transaction")
			}
			return err
		}

		byChainAddress[tokenKey(t.Chain, t.ContractAddress)] = t
		symbol := strings.ToUpper(t.Symbol)
		bySymbol[symbol] = append(bySymbol[symbol], t)
	}

	if err := trx.Commit(ctx); err != nil {
		log.Warn().Stack().Err(err).Msg("could not commit transaction")
	}

	tokenLock.Lock()
	tokensByChainAddress = byChainAddress
	tokensBySymbol = bySymbol
	tokenLock.Unlock()

	log.Info().Int("NumTokens", len(byChainAddress)).Msg("token registry loaded")
	return nil
}

// SeedNativeTokens registers the native asset of every chain in the registry
// that the tokens table does not know yet. Native assets carry no contract
// address so syncs never discover them the way they discover ERC-20s.
func SeedNativeTokens(ctx context.Context) {
	for _, c := range chains.All() {
		if _, err := TokenForAddress(c.Slug, ""); err == nil {
			continue
		}

		token := &Token{
			Chain:       c.Slug,
			Symbol:      c.NativeSymbol,
			Name:        c.Name,
			Decimals:    int32(c.NativeDecimals),
			CoingeckoID: c.NativeCoinID,
		}
		if err := UpsertToken(ctx, token); err != nil {
			log.Warn().Err(err).Str("Chain", c.Slug).Msg("could not seed native token")
		}
	}
}

// TokenForAddress looks a token up by its chain and contract address. The
// empty contract address refers to the chain's native asset.
func TokenForAddress(chain, contractAddress string) (*Token, error) {
	tokenLock.RLock()
	defer tokenLock.RUnlock()

	t, ok := tokensByChainAddress[tokenKey(chain, contractAddress)]
	if !ok {
		return nil, ErrTokenNotFound
	}
	return t, nil
}

// TokensForSymbol returns every known token with the given symbol. Symbols
// are not unique across chains so callers must disambiguate.
func TokensForSymbol(symbol string) ([]*Token, error) {
	tokenLock.RLock()
	defer tokenLock.RUnlock()

	tokens, ok := tokensBySymbol[strings.ToUpper(symbol)]
	if !ok {
		return nil, ErrTokenNotFound
	}
	return tokens, nil
}

// TokensWithCoingeckoID returns all registered tokens that can be priced
// through the price source
func TokensWithCoingeckoID() []*Token {
	tokenLock.RLock()
	defer tokenLock.RUnlock()

	tokens := make([]*Token, 0, len(tokensByChainAddress))
	for _, t := range tokensByChainAddress {
		if t.CoingeckoID != "" {
			tokens = append(tokens, t)
		}
	}
	return tokens
}

// UpsertToken records token metadata discovered during a sync. Prices are
// left alone; they are maintained by the price refresh job.
func UpsertToken(ctx context.Context, t *Token) error {
	subLog := log.With().Str("Chain", t.Chain).Str("ContractAddress", t.ContractAddress).Str("Symbol", t.Symbol).Logger()

	trx, err := database.TrxForUser(ctx, "wpuser")
	if err != nil {
		subLog.Error().Stack().Err(err).Msg("unable to get database transaction")
		return err
	}

	contractAddress := common.NormalizeAddress(t.ContractAddress)
	sql := `INSERT INTO tokens (
		"chain",
		"contract_address",
		"symbol",
		"name",
		"decimals",
		"logo",
		"coingecko_id"
	) VALUES (
		$1,
		$2,
		$3,
		$4,
		$5,
		$6,
		$7
	) ON CONFLICT ON CONSTRAINT tokens_pkey
	DO UPDATE SET
		symbol=$3,
		name=$4,
		decimals=$5,
		logo=$6`
	_, err = trx.Exec(ctx, sql,
		t.Chain,         // 1
		contractAddress, // 2
		t.Symbol,        // 3
		t.Name,          // 4
		t.Decimals,      // 5
		t.Logo,          // 6
		t.CoingeckoID,   // 7
	)
	if err != nil {
		subLog.Error().Stack().Err(err).Str("Query", sql).Msg("failed to save token")
		if err := trx.Rollback(ctx); err != nil {
			log.Error().Stack().Err(err).Msg("could not rollback transaction")
		}
		return err
	}

	if err := trx.Commit(ctx); err != nil {
		subLog.Error().Stack().Err(err).Msg("failed to commit token")
		return err
	}

	tokenLock.Lock()
	tokensByChainAddress[tokenKey(t.Chain, t.ContractAddress)] = t
	symbol := strings.ToUpper(t.Symbol)
	tokensBySymbol[symbol] = append(tokensBySymbol[symbol], t)
	tokenLock.Unlock()

	return nil
}

// UpdateTokenPrice stores the latest USD price for a token
func UpdateTokenPrice(ctx context.Context, chain, contractAddress string, price float64) error {
	subLog := log.With().Str("Chain", chain).Str("ContractAddress", contractAddress).Float64("Price", price).Logger()

	trx, err := database.TrxForUser(ctx, "wpuser")
	if err != nil {
		subLog.Error().Stack().Err(err).Msg("unable to get database transaction")
		return err
	}

	sql := `UPDATE tokens SET last_price=$3, price_updated=now() WHERE chain=$1 AND contract_address=$2`
	_, err = trx.Exec(ctx, sql, chain, common.NormalizeAddress(contractAddress), price)
	if err != nil {
		subLog.Error().Stack().Err(err).Str("Query", sql).Msg("failed to update token price")
		if err := trx.Rollback(ctx); err != nil {
			log.Error().Stack().Err(err).Msg("could not rollback transaction")
		}
		return err
	}

	if err := trx.Commit(ctx); err != nil {
		subLog.Error().Stack().Err(err).Msg("failed to commit token price")
		return err
	}

	tokenLock.Lock()
	if t, ok := tokensByChainAddress[tokenKey(chain, contractAddress)]; ok {
		t.LastPrice = price
		t.PriceUpdated = time.Now()
	}
	tokenLock.Unlock()

	return nil
}
