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

package messenger

import (
	"errors"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/wallet-pulse/wp-api/common"
	"github.com/wallet-pulse/wp-api/portfolio"
)

type SyncRequest struct {
	UserID      string `json:"user_id"`
	PortfolioID string `json:"portfolio_id"`
	RequestTime string `json:"request_time"`
}

// GetSyncRequest returns a single queued sync request message; nil when the
// queue is empty
func GetSyncRequest() (*nats.Msg, error) {
	if jetStream == nil {
		return nil, ErrNotConnected
	}

	sub, err := jetStream.PullSubscribe(viper.GetString("nats.requests_subject"), viper.GetString("nats.requests_consumer"))
	if err != nil {
		log.Error().Err(err).Msg("could not connect to durable consumer (note: make sure the consumer already exists)")
		return nil, err
	}

	msgs, err := sub.Fetch(1)
	if err != nil {
		if errors.Is(err, nats.ErrTimeout) {
			log.Debug().Msg("no sync requests available in queue")
			return nil, nil
		}
		log.Error().Err(err).Msg("could not fetch new messages")
		return nil, err
	}

	if len(msgs) == 0 {
		log.Debug().Msg("no sync requests in queue")
		return nil, nil
	}

	return msgs[0], nil
}

// CreateSyncRequest queues a portfolio reconciliation for the background
// worker
func CreateSyncRequest(userID string, portfolioID uuid.UUID) error {
	if jetStream == nil {
		return ErrNotConnected
	}

	subject := viper.GetString("nats.requests_subject")

	req := SyncRequest{
		UserID:      userID,
		PortfolioID: portfolioID.String(),
		RequestTime: time.Now().In(common.GetTimezone()).String(),
	}

	jsonReq, err := json.Marshal(req)
	if err != nil {
		log.Error().Err(err).Msg("could not serialize request to JSON")
		return err
	}

	if _, err := jetStream.Publish(subject, jsonReq); err != nil {
		log.Error().Err(err).Msg("could not publish a sync request")
		return err
	}

	return nil
}

// PublishSyncResult reports the outcome of a queued sync on the results
// subject
func PublishSyncResult(result *portfolio.SyncResult) error {
	if jetStream == nil {
		return ErrNotConnected
	}

	subject := viper.GetString("nats.results_subject")

	jsonResult, err := json.Marshal(result)
	if err != nil {
		log.Error().Err(err).Msg("could not serialize sync result to JSON")
		return err
	}

	if _, err := jetStream.Publish(subject, jsonResult); err != nil {
		log.Error().Err(err).Msg("could not publish sync result")
		return err
	}

	return nil
}
