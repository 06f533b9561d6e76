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
	"strings"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"github.com/wallet-pulse/wp-api/observability/opentelemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
)

var coingeckoAPI = "https://api.coingecko.com/api/v3"

// asset ids per /simple/price call
const coingeckoChunkSize = 250

type coingecko struct {
	apikey  string
	limiter *rate.Limiter
}

// NewCoingecko creates a new CoinGecko price source
func NewCoingecko(apikey string) *coingecko {
	rps := viper.GetFloat64("coingecko.rate_limit")
	if rps == 0 {
		// the free tier allows roughly 30 calls a minute
		rps = 0.5
	}
	return &coingecko{
		apikey:  apikey,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

func (c *coingecko) Source() string {
	return "api.coingecko.com"
}

// Prices returns current USD prices for the given CoinGecko asset ids. Ids
// the provider does not know are absent from the result map.
func (c *coingecko) Prices(ctx context.Context, ids []string) (map[string]float64, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "coingecko.Prices")
	defer span.End()

	subLog := log.With().Int("NumIds", len(ids)).Logger()
	span.SetAttributes(
		attribute.KeyValue{
			Key:   "NumIds",
			Value: attribute.IntValue(len(ids)),
		},
	)

	prices := make(map[string]float64, len(ids))
	for _, chunk := range partitionArray(ids, coingeckoChunkSize) {
		url := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=usd", coingeckoAPI, strings.Join(chunk, ","))
		body, err := c.get(ctx, url, subLog)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "coingecko price request failed")
			return nil, err
		}

		quotes := map[string]map[string]float64{}
		if err := json.Unmarshal(body, &quotes); err != nil {
			span.RecordError(err)
			msg := "could not unmarshal json"
			span.SetStatus(codes.Error, msg)
			subLog.Error().Err(err).Bytes("Body", body).Msg(msg)
			return nil, err
		}

		for id, vs := range quotes {
			if usd, ok := vs["usd"]; ok {
				prices[id] = usd
			}
		}
	}

	return prices, nil
}

// CoinID resolves a contract address to the provider's asset id using the
// chain's asset-platform id. Contracts the provider does not track return
// ErrTokenNotFound.
func (c *coingecko) CoinID(ctx context.Context, platform string, contractAddress string) (string, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "coingecko.CoinID")
	defer span.End()

	subLog := log.With().Str("Platform", platform).Str("ContractAddress", contractAddress).Logger()

	url := fmt.Sprintf("%s/coins/%s/contract/%s", coingeckoAPI, platform, strings.ToLower(contractAddress))
	body, err := c.get(ctx, url, subLog)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "coingecko contract lookup failed")
		return "", err
	}

	coin := struct {
		ID string `json:"id"`
	}{}
	if err := json.Unmarshal(body, &coin); err != nil {
		span.RecordError(err)
		msg := "could not unmarshal json"
		span.SetStatus(codes.Error, msg)
		subLog.Error().Err(err).Bytes("Body", body).Msg(msg)
		return "", err
	}

	if coin.ID == "" {
		return "", ErrTokenNotFound
	}
	return coin.ID, nil
}

// get performs a rate limited request against the coingecko api and returns
// the response body. 404 maps to ErrTokenNotFound; other non-2xx codes map to
// ErrInvalidStatusCode.
func (c *coingecko) get(ctx context.Context, url string, subLog zerolog.Logger) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		subLog.Error().Err(err).Msg("could not build coingecko request")
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.apikey != "" {
		req.Header.Set("x-cg-demo-api-key", c.apikey)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		subLog.Error().Err(err).Msg("coingecko request failed")
		return nil, err
	}

	if resp.StatusCode == http.StatusNotFound {
		if err := resp.Body.Close(); err != nil {
			subLog.Warn().Err(err).Msg("could not close response body")
		}
		return nil, ErrTokenNotFound
	}

	if resp.StatusCode >= 400 {
		subLog.Error().Int("HTTPResponseStatusCode", resp.StatusCode).Msg("coingecko returned invalid response code")
		if err := resp.Body.Close(); err != nil {
			subLog.Warn().Err(err).Msg("could not close response body")
		}
		return nil, fmt.Errorf("%w: %d", ErrInvalidStatusCode, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err := resp.Body.Close(); err != nil {
		subLog.Warn().Err(err).Msg("could not close response body")
	}
	if err != nil {
		subLog.Error().Err(err).Msg("could not read coingecko body")
		return nil, err
	}

	return body, nil
}
