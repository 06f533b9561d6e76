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
	"time"

	"github.com/shopspring/decimal"
)

// Transfer direction relative to the tracked wallet
const (
	DirectionSend    = "send"
	DirectionReceive = "receive"
	DirectionUnknown = "unknown"
)

// Holding is a single asset balance inside a wallet. The empty contract
// address denotes the chain's native asset.
type Holding struct {
	Chain           string          `json:"chain"`
	ContractAddress string          `json:"contractAddress"`
	Symbol          string          `json:"symbol"`
	Name            string          `json:"name"`
	Decimals        int32           `json:"decimals"`
	Logo            string          `json:"logo"`
	Balance         decimal.Decimal `json:"balance"`
	Price           float64         `json:"price"`
	Value           float64         `json:"value"`
}

// Transfer is an on-chain movement of value that involves a tracked wallet.
// Both token transfers and native transactions are normalized to this shape.
type Transfer struct {
	Chain           string          `json:"chain"`
	Hash            string          `json:"hash"`
	ContractAddress string          `json:"contractAddress"`
	Symbol          string          `json:"symbol"`
	Direction       string          `json:"direction"`
	Counterparty    string          `json:"counterparty"`
	Amount          decimal.Decimal `json:"amount"`
	Fee             decimal.Decimal `json:"fee"`
	Value           float64         `json:"value"`
	Timestamp       time.Time       `json:"timestamp"`
	Source          string          `json:"source"`
}

// Position is a DeFi engagement such as staked assets or a liquidity pool
// share reported by the account provider.
type Position struct {
	Chain    string   `json:"chain"`
	Protocol string   `json:"protocol"`
	Label    string   `json:"label"`
	Value    float64  `json:"value"`
	Symbols  []string `json:"symbols"`
}

// AccountReader fetches balances and history for on-chain accounts
type AccountReader interface {
	NetWorth(ctx context.Context, chain string, address string) (float64, error)
	Holdings(ctx context.Context, chain string, address string) ([]*Holding, error)
	NativeBalance(ctx context.Context, chain string, address string) (decimal.Decimal, error)
	Transfers(ctx context.Context, chain string, address string, since time.Time) ([]*Transfer, error)
	Transactions(ctx context.Context, chain string, address string, since time.Time) ([]*Transfer, error)
	Positions(ctx context.Context, chain string, address string) ([]*Position, error)
	Source() string
}

// PriceSource looks up current USD prices by provider-specific asset id.
// CoinID resolves a contract address on an asset platform to the provider's
// asset id so newly discovered tokens become priceable.
type PriceSource interface {
	Prices(ctx context.Context, ids []string) (map[string]float64, error)
	CoinID(ctx context.Context, platform string, contractAddress string) (string, error)
	Source() string
}
