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

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/wallet-pulse/wp-api/common"
	"github.com/wallet-pulse/wp-api/data"
	"github.com/wallet-pulse/wp-api/data/database"
	"github.com/wallet-pulse/wp-api/messenger"
)

var syncPortfolioID string
var syncUser string
var syncPublish bool

func init() {
	syncCmd.Flags().StringVar(&syncPortfolioID, "portfolioID", "", "Portfolio to sync specified as {userID}:{portfolioID}")
	syncCmd.Flags().StringVar(&syncUser, "user", "", "Only sync portfolios owned by the specified user")
	syncCmd.Flags().BoolVar(&syncPublish, "publish", false, "Publish sync results to NATS")
	rootCmd.AddCommand(syncCmd)
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile portfolios against their chains",
	Long:  `Fetch current balances, holdings, and transfer history for each portfolio's wallets, value them in USD, and store the updated valuations and risk measurements.`,
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

		if syncPublish {
			if err := messenger.Initialize(); err != nil {
				log.Panic().Err(err).Msg("could not connect to NATS")
			}
		}

		var users []string
		if syncUser != "" {
			users = []string{syncUser}
		} else if syncPortfolioID == "" {
			users = getUsers(ctx)
		}

		portfolios := getPortfolios(ctx, syncPortfolioID, users)
		log.Info().Int("NumPortfolios", len(portfolios)).Msg("syncing portfolios")

		for _, pm := range portfolios {
			subLog := log.With().Str("UserID", pm.Portfolio.UserID).Str("PortfolioName", pm.Portfolio.Name).Str("PortfolioID", pm.Portfolio.ID.String()).Logger()

			result, err := pm.Reconcile(ctx)
			if err != nil {
				subLog.Error().Stack().Err(err).Msg("sync failed; skipping portfolio")
				continue
			}

			subLog.Info().Object("SyncResult", result).Msg("portfolio synced")

			if syncPublish {
				if err := messenger.PublishSyncResult(result); err != nil {
					subLog.Error().Err(err).Msg("could not publish sync result")
				}
			}
		}
	},
}
