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

package cmd

import (
	"context"
	"os"
	"os/signal"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/wallet-pulse/wp-api/common"
	"github.com/wallet-pulse/wp-api/data"
	"github.com/wallet-pulse/wp-api/data/database"
	"github.com/wallet-pulse/wp-api/messenger"
	"github.com/wallet-pulse/wp-api/portfolio"
)

func init() {
	rootCmd.AddCommand(workerCmd)
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Process queued portfolio sync requests",
	Long:  `Run a worker that consumes sync requests from the NATS work queue, reconciles the requested portfolio, and publishes the result.`,
	Run: func(_ *cobra.Command, _ []string) {
		ctx := context.Background()

		common.SetupLogging()
		common.SetupCache()
		log.Info().Msg("initialized logging")

		// setup database
		if err := database.Connect(ctx); err != nil {
			log.Panic().Err(err).Msg("could not connect to database")
		}

		// initialize data framework
		data.GetManagerInstance()
		log.Info().Msg("initialized data framework")

		if err := messenger.Initialize(); err != nil {
			log.Panic().Err(err).Msg("could not connect to NATS")
		}

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt)

		// fetch blocks for a few seconds when the queue is empty, so the
		// shutdown check runs on every pass
		log.Info().Msg("waiting for sync requests")
		for {
			select {
			case sig := <-quit:
				log.Info().Str("Signal", sig.String()).Msg("shutting down worker")
				return
			default:
			}

			msg, err := messenger.GetSyncRequest()
			if err != nil {
				log.Error().Err(err).Msg("could not fetch sync request")
				time.Sleep(5 * time.Second)
				continue
			}
			if msg == nil {
				continue
			}

			processSyncRequest(ctx, msg)
		}
	},
}

func processSyncRequest(ctx context.Context, msg *nats.Msg) {
	var request messenger.SyncRequest
	if err := json.Unmarshal(msg.Data, &request); err != nil {
		log.Error().Err(err).Msg("could not deserialize sync request; dropping message")
		if err := msg.Ack(); err != nil {
			log.Error().Err(err).Msg("could not ack sync request")
		}
		return
	}

	subLog := log.With().Str("UserID", request.UserID).Str("PortfolioID", request.PortfolioID).Logger()
	subLog.Info().Str("RequestTime", request.RequestTime).Msg("processing sync request")

	portfolios, err := portfolio.LoadFromDB(ctx, []string{request.PortfolioID}, request.UserID, data.GetManagerInstance())
	if err != nil {
		subLog.Error().Stack().Err(err).Msg("could not load portfolio; dropping sync request")
		if err := msg.Ack(); err != nil {
			subLog.Error().Err(err).Msg("could not ack sync request")
		}
		return
	}

	result, err := portfolios[0].Reconcile(ctx)
	if err != nil {
		subLog.Error().Stack().Err(err).Msg("sync failed; requeueing request")
		if err := msg.Nak(); err != nil {
			subLog.Error().Err(err).Msg("could not nak sync request")
		}
		return
	}

	if err := messenger.PublishSyncResult(result); err != nil {
		subLog.Error().Err(err).Msg("could not publish sync result")
	}

	if err := msg.Ack(); err != nil {
		subLog.Error().Err(err).Msg("could not ack sync request")
	}

	subLog.Info().Object("SyncResult", result).Msg("processed sync request")
}
