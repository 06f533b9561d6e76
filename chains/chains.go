// Copyright 2025-2026
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package chains holds the registry of EVM networks the tracker understands.
// The registry ships compiled into the binary; wallets reference chains by
// slug and every provider request is validated against it.
package chains

import (
	"embed"
	"errors"
	"sort"

	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog/log"
)

//go:embed chains.toml
var resources embed.FS

var (
	ErrChainNotFound = errors.New("chain not registered")
)

// Chain describes a supported EVM network. CoingeckoPlatform is the price
// source's asset-platform id used to resolve contract addresses; NativeCoinID
// is the price source's id for the chain's native asset.
type Chain struct {
	Slug              string `toml:"slug" json:"slug"`
	Name              string `toml:"name" json:"name"`
	ChainID           int    `toml:"chain_id" json:"chain_id"`
	NativeSymbol      string `toml:"native_symbol" json:"native_symbol"`
	NativeDecimals    int    `toml:"native_decimals" json:"native_decimals"`
	CoingeckoPlatform string `toml:"coingecko_platform" json:"-"`
	NativeCoinID      string `toml:"native_coin_id" json:"-"`
	Explorer          string `toml:"explorer" json:"explorer"`
}

type chainFile struct {
	Chain []*Chain `toml:"chain"`
}

// ChainList is every registered chain ordered by slug
var ChainList = []*Chain{}

// ChainMap indexes registered chains by slug
var ChainMap = make(map[string]*Chain)

// InitializeChainMap loads the embedded chain registry. Safe to call more
// than once; the registry is rebuilt from the embedded file each time.
func InitializeChainMap() {
	raw, err := resources.ReadFile("chains.toml")
	if err != nil {
		log.Panic().Err(err).Msg("could not read embedded chain registry")
	}

	var parsed chainFile
	if err := toml.Unmarshal(raw, &parsed); err != nil {
		log.Panic().Err(err).Msg("could not parse embedded chain registry")
	}

	ChainList = parsed.Chain
	ChainMap = make(map[string]*Chain, len(parsed.Chain))
	for _, chain := range parsed.Chain {
		ChainMap[chain.Slug] = chain
	}

	sort.Slice(ChainList, func(i, j int) bool { return ChainList[i].Slug < ChainList[j].Slug })
	log.Info().Int("NumChains", len(ChainList)).Msg("initialized chain registry")
}

// Lookup returns the chain registered for slug
func Lookup(slug string) (*Chain, error) {
	if len(ChainMap) == 0 {
		InitializeChainMap()
	}
	chain, ok := ChainMap[slug]
	if !ok {
		return nil, ErrChainNotFound
	}
	return chain, nil
}

// All returns every registered chain ordered by slug
func All() []*Chain {
	if len(ChainMap) == 0 {
		InitializeChainMap()
	}
	return ChainList
}
