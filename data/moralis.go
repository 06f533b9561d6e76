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
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"github.com/wallet-pulse/wp-api/chains"
	"github.com/wallet-pulse/wp-api/common"
	"github.com/wallet-pulse/wp-api/observability/opentelemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
)

var moralisAPI = "https://deep-index.moralis.io/api/v2.2"

type moralis struct {
	apikey  string
	limiter *rate.Limiter
}

type moralisNetWorthResponse struct {
	TotalNetworthUsd string `json:"total_networth_usd"`
	Chains           []struct {
		Chain       string `json:"chain"`
		NetworthUsd string `json:"networth_usd"`
	} `json:"chains"`
}

type moralisTokenBalance struct {
	TokenAddress     string `json:"token_address"`
	Symbol           string `json:"symbol"`
	Name             string `json:"name"`
	Logo             string `json:"logo"`
	Decimals         int32  `json:"decimals"`
	Balance          string `json:"balance"`
	PossibleSpam     bool   `json:"possible_spam"`
	VerifiedContract bool   `json:"verified_contract"`
}

type moralisNativeBalance struct {
	Balance string `json:"balance"`
}

type moralisTokenTransfer struct {
	TokenSymbol     string `json:"token_symbol"`
	TokenDecimals   string `json:"token_decimals"`
	FromAddress     string `json:"from_address"`
	ToAddress       string `json:"to_address"`
	Address         string `json:"address"`
	BlockTimestamp  string `json:"block_timestamp"`
	TransactionHash string `json:"transaction_hash"`
	Value           string `json:"value"`
	PossibleSpam    bool   `json:"possible_spam"`
}

type moralisTransferPage struct {
	Cursor string                 `json:"cursor"`
	Result []moralisTokenTransfer `json:"result"`
}

type moralisTransaction struct {
	Hash           string `json:"hash"`
	FromAddress    string `json:"from_address"`
	ToAddress      string `json:"to_address"`
	Value          string `json:"value"`
	GasPrice       string `json:"gas_price"`
	ReceiptGasUsed string `json:"receipt_gas_used"`
	BlockTimestamp string `json:"block_timestamp"`
}

type moralisTransactionPage struct {
	Cursor string               `json:"cursor"`
	Result []moralisTransaction `json:"result"`
}

type moralisDefiPosition struct {
	ProtocolName string `json:"protocol_name"`
	ProtocolID   string `json:"protocol_id"`
	Position     struct {
		Label      string  `json:"label"`
		BalanceUsd float64 `json:"balance_usd"`
		Tokens     []struct {
			Symbol string `json:"symbol"`
		} `json:"tokens"`
	} `json:"position"`
}

// NewMoralis creates a new Moralis account provider
func NewMoralis(apikey string) *moralis {
	rps := viper.GetFloat64("moralis.rate_limit")
	if rps == 0 {
		rps = 25
	}
	return &moralis{
		apikey:  apikey,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

func (m *moralis) Source() string {
	return "api.moralis.com"
}

// NetWorth returns the total USD value of an account as computed by the
// provider
func (m *moralis) NetWorth(ctx context.Context, chain string, address string) (float64, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "moralis.NetWorth")
	defer span.End()

	subLog := log.With().Str("Chain", chain).Str("Address", address).Logger()

	if _, err := chains.Lookup(chain); err != nil {
		subLog.Error().Err(err).Msg("unknown chain")
		return 0, err
	}

	address = common.NormalizeAddress(address)
	url := fmt.Sprintf("%s/wallets/%s/net-worth?chains[]=%s&exclude_spam=true&exclude_unverified_contracts=true", moralisAPI, address, chain)
	span.SetAttributes(
		attribute.KeyValue{
			Key:   "Url",
			Value: attribute.StringValue(url),
		},
	)

	resp := moralisNetWorthResponse{}
	if err := m.request(ctx, url, &resp); err != nil {
		span.RecordError(err)
		msg := "moralis net-worth request failed"
		span.SetStatus(codes.Error, msg)
		subLog.Error().Err(err).Msg(msg)
		return 0, err
	}

	total, err := strconv.ParseFloat(resp.TotalNetworthUsd, 64)
	if err != nil {
		span.RecordError(err)
		msg := "could not parse net-worth value"
		span.SetStatus(codes.Error, msg)
		subLog.Error().Err(err).Str("TotalNetworthUsd", resp.TotalNetworthUsd).Msg(msg)
		return 0, ErrInvalidBalance
	}

	return total, nil
}

// Holdings returns the token balances of an account. Prices are not filled
// in; that is the job of the Manager.
func (m *moralis) Holdings(ctx context.Context, chain string, address string) ([]*Holding, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "moralis.Holdings")
	defer span.End()

	subLog := log.With().Str("Chain", chain).Str("Address", address).Logger()

	if _, err := chains.Lookup(chain); err != nil {
		subLog.Error().Err(err).Msg("unknown chain")
		return nil, err
	}

	address = common.NormalizeAddress(address)
	url := fmt.Sprintf("%s/%s/erc20?chain=%s", moralisAPI, address, chain)
	span.SetAttributes(
		attribute.KeyValue{
			Key:   "Url",
			Value: attribute.StringValue(url),
		},
	)

	balances := []moralisTokenBalance{}
	if err := m.request(ctx, url, &balances); err != nil {
		span.RecordError(err)
		msg := "moralis token balance request failed"
		span.SetStatus(codes.Error, msg)
		subLog.Error().Err(err).Msg(msg)
		return nil, err
	}

	holdings := make([]*Holding, 0, len(balances))
	for _, b := range balances {
		if b.PossibleSpam {
			continue
		}

		balance, err := decimal.NewFromString(b.Balance)
		if err != nil {
			subLog.Warn().Str("RawBalance", b.Balance).Str("Symbol", b.Symbol).Msg("could not parse token balance")
			continue
		}

		holdings = append(holdings, &Holding{
			Chain:           chain,
			ContractAddress: common.NormalizeAddress(b.TokenAddress),
			Symbol:          b.Symbol,
			Name:            b.Name,
			Decimals:        b.Decimals,
			Logo:            b.Logo,
			Balance:         balance.Shift(-b.Decimals),
		})
	}

	return holdings, nil
}

// NativeBalance returns the account's balance of the chain's native asset
func (m *moralis) NativeBalance(ctx context.Context, chain string, address string) (decimal.Decimal, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "moralis.NativeBalance")
	defer span.End()

	subLog := log.With().Str("Chain", chain).Str("Address", address).Logger()

	c, err := chains.Lookup(chain)
	if err != nil {
		subLog.Error().Err(err).Msg("unknown chain")
		return decimal.Zero, err
	}

	address = common.NormalizeAddress(address)
	url := fmt.Sprintf("%s/%s/balance?chain=%s", moralisAPI, address, chain)
	span.SetAttributes(
		attribute.KeyValue{
			Key:   "Url",
			Value: attribute.StringValue(url),
		},
	)

	resp := moralisNativeBalance{}
	if err := m.request(ctx, url, &resp); err != nil {
		span.RecordError(err)
		msg := "moralis native balance request failed"
		span.SetStatus(codes.Error, msg)
		subLog.Error().Err(err).Msg(msg)
		return decimal.Zero, err
	}

	balance, err := decimal.NewFromString(resp.Balance)
	if err != nil {
		span.RecordError(err)
		msg := "could not parse native balance"
		span.SetStatus(codes.Error, msg)
		subLog.Error().Err(err).Str("RawBalance", resp.Balance).Msg(msg)
		return decimal.Zero, ErrInvalidBalance
	}

	return balance.Shift(-int32(c.NativeDecimals)), nil
}

// Transfers returns token transfers involving the account since the given
// time. Results are paged by the provider; pages are followed until the
// cursor is exhausted or moralis.max_pages is hit.
func (m *moralis) Transfers(ctx context.Context, chain string, address string, since time.Time) ([]*Transfer, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "moralis.Transfers")
	defer span.End()

	subLog := log.With().Str("Chain", chain).Str("Address", address).Time("Since", since).Logger()

	if _, err := chains.Lookup(chain); err != nil {
		subLog.Error().Err(err).Msg("unknown chain")
		return nil, err
	}

	address = common.NormalizeAddress(address)
	transfers := make([]*Transfer, 0, 100)
	cursor := ""

	for page := 0; page < m.maxPages(); page++ {
		url := fmt.Sprintf("%s/%s/erc20/transfers?chain=%s&from_date=%s", moralisAPI, address, chain, since.UTC().Format("2006-01-02"))
		if cursor != "" {
			url = fmt.Sprintf("%s&cursor=%s", url, cursor)
		}

		resp := moralisTransferPage{}
		if err := m.request(ctx, url, &resp); err != nil {
			span.RecordError(err)
			msg := "moralis token transfer request failed"
			span.SetStatus(codes.Error, msg)
			subLog.Error().Err(err).Int("Page", page).Msg(msg)
			return nil, err
		}

		for ii := range resp.Result {
			row := &resp.Result[ii]
			if row.PossibleSpam {
				continue
			}

			decimals, err := strconv.ParseInt(row.TokenDecimals, 10, 32)
			if err != nil {
				subLog.Warn().Str("TokenDecimals", row.TokenDecimals).Str("Hash", row.TransactionHash).Msg("could not parse token decimals")
				continue
			}

			amount, err := decimal.NewFromString(row.Value)
			if err != nil {
				subLog.Warn().Str("RawValue", row.Value).Str("Hash", row.TransactionHash).Msg("could not parse transfer value")
				continue
			}

			ts, err := time.Parse(time.RFC3339, row.BlockTimestamp)
			if err != nil {
				subLog.Warn().Str("BlockTimestamp", row.BlockTimestamp).Str("Hash", row.TransactionHash).Msg("could not parse block timestamp")
				continue
			}

			direction := transferDirection(address, row.FromAddress, row.ToAddress)
			counterparty := common.NormalizeAddress(row.ToAddress)
			if direction == DirectionReceive {
				counterparty = common.NormalizeAddress(row.FromAddress)
			}

			transfers = append(transfers, &Transfer{
				Chain:           chain,
				Hash:            row.TransactionHash,
				ContractAddress: common.NormalizeAddress(row.Address),
				Symbol:          row.TokenSymbol,
				Direction:       direction,
				Counterparty:    counterparty,
				Amount:          amount.Shift(-int32(decimals)),
				Timestamp:       ts,
				Source:          m.Source(),
			})
		}

		cursor = resp.Cursor
		if cursor == "" {
			break
		}
	}

	return transfers, nil
}

// Transactions returns native currency transactions involving the account
// since the given time. The transaction fee is computed from the gas used
// and the gas price.
func (m *moralis) Transactions(ctx context.Context, chain string, address string, since time.Time) ([]*Transfer, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "moralis.Transactions")
	defer span.End()

	subLog := log.With().Str("Chain", chain).Str("Address", address).Time("Since", since).Logger()

	c, err := chains.Lookup(chain)
	if err != nil {
		subLog.Error().Err(err).Msg("unknown chain")
		return nil, err
	}

	address = common.NormalizeAddress(address)
	transactions := make([]*Transfer, 0, 100)
	cursor := ""

	for page := 0; page < m.maxPages(); page++ {
		url := fmt.Sprintf("%s/%s?chain=%s&from_date=%s", moralisAPI, address, chain, since.UTC().Format("2006-01-02"))
		if cursor != "" {
			url = fmt.Sprintf("%s&cursor=%s", url, cursor)
		}

		resp := moralisTransactionPage{}
		if err := m.request(ctx, url, &resp); err != nil {
			span.RecordError(err)
			msg := "moralis transaction request failed"
			span.SetStatus(codes.Error, msg)
			subLog.Error().Err(err).Int("Page", page).Msg(msg)
			return nil, err
		}

		for ii := range resp.Result {
			row := &resp.Result[ii]

			amount, err := decimal.NewFromString(row.Value)
			if err != nil {
				subLog.Warn().Str("RawValue", row.Value).Str("Hash", row.Hash).Msg("could not parse transaction value")
				continue
			}

			ts, err := time.Parse(time.RFC3339, row.BlockTimestamp)
			if err != nil {
				subLog.Warn().Str("BlockTimestamp", row.BlockTimestamp).Str("Hash", row.Hash).Msg("could not parse block timestamp")
				continue
			}

			fee := decimal.Zero
			gasUsed, gasErr := decimal.NewFromString(row.ReceiptGasUsed)
			gasPrice, priceErr := decimal.NewFromString(row.GasPrice)
			if gasErr == nil && priceErr == nil {
				fee = gasUsed.Mul(gasPrice).Shift(-int32(c.NativeDecimals))
			}

			direction := transferDirection(address, row.FromAddress, row.ToAddress)
			counterparty := common.NormalizeAddress(row.ToAddress)
			if direction == DirectionReceive {
				counterparty = common.NormalizeAddress(row.FromAddress)
			}

			transactions = append(transactions, &Transfer{
				Chain:        chain,
				Hash:         row.Hash,
				Symbol:       c.NativeSymbol,
				Direction:    direction,
				Counterparty: counterparty,
				Amount:       amount.Shift(-int32(c.NativeDecimals)),
				Fee:          fee,
				Timestamp:    ts,
				Source:       m.Source(),
			})
		}

		cursor = resp.Cursor
		if cursor == "" {
			break
		}
	}

	return transactions, nil
}

// Positions returns DeFi engagements for the account (staked assets,
// liquidity pool shares, lending positions)
func (m *moralis) Positions(ctx context.Context, chain string, address string) ([]*Position, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "moralis.Positions")
	defer span.End()

	subLog := log.With().Str("Chain", chain).Str("Address", address).Logger()

	if _, err := chains.Lookup(chain); err != nil {
		subLog.Error().Err(err).Msg("unknown chain")
		return nil, err
	}

	address = common.NormalizeAddress(address)
	url := fmt.Sprintf("%s/wallets/%s/defi/positions?chain=%s", moralisAPI, address, chain)
	span.SetAttributes(
		attribute.KeyValue{
			Key:   "Url",
			Value: attribute.StringValue(url),
		},
	)

	rows := []moralisDefiPosition{}
	if err := m.request(ctx, url, &rows); err != nil {
		span.RecordError(err)
		msg := "moralis defi position request failed"
		span.SetStatus(codes.Error, msg)
		subLog.Error().Err(err).Msg(msg)
		return nil, err
	}

	positions := make([]*Position, 0, len(rows))
	for ii := range rows {
		row := &rows[ii]
		symbols := make([]string, 0, len(row.Position.Tokens))
		for _, tok := range row.Position.Tokens {
			symbols = append(symbols, tok.Symbol)
		}

		positions = append(positions, &Position{
			Chain:    chain,
			Protocol: row.ProtocolName,
			Label:    row.Position.Label,
			Value:    row.Position.BalanceUsd,
			Symbols:  symbols,
		})
	}

	return positions, nil
}

func (m *moralis) maxPages() int {
	maxPages := viper.GetInt("moralis.max_pages")
	if maxPages == 0 {
		maxPages = 10
	}
	return maxPages
}

func (m *moralis) request(ctx context.Context, url string, out any) error {
	if err := m.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-API-Key", m.apikey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: %d", ErrInvalidStatusCode, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	return json.Unmarshal(body, out)
}

// transferDirection classifies a transfer relative to the tracked wallet
func transferDirection(wallet, from, to string) string {
	switch common.NormalizeAddress(wallet) {
	case common.NormalizeAddress(from):
		return DirectionSend
	case common.NormalizeAddress(to):
		return DirectionReceive
	}
	return DirectionUnknown
}
