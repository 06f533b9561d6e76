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
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/wallet-pulse/wp-api/common"
	"github.com/wallet-pulse/wp-api/data/database"
)

var purgeUser string

func init() {
	if err := viper.BindEnv("database.snapshot_retention_days", "SNAPSHOT_RETENTION_DAYS"); err != nil {
		log.Panic().Err(err).Msg("could not bind database.snapshot_retention_days")
	}
	purgeCmd.Flags().IntP("snapshot-retention-days", "r", 400, "Days of daily valuation history to keep")
	if err := viper.BindPFlag("database.snapshot_retention_days", purgeCmd.Flags().Lookup("snapshot-retention-days")); err != nil {
		log.Panic().Err(err).Msg("could not bind database.snapshot_retention_days")
	}

	purgeCmd.Flags().StringVar(&purgeUser, "user", "", "Only purge snapshots from specified user")

	rootCmd.AddCommand(purgeCmd)
}

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete daily valuations older than snapshot_retention_days",
	Run: func(_ *cobra.Command, _ []string) {
		ctx := context.Background()

		common.SetupLogging()

		// setup database
		if err := database.Connect(ctx); err != nil {
			log.Panic().Err(err).Msg("could not connect to database")
		}

		userList := make([]string, 0)
		if purgeUser != "" {
			userList = append(userList, purgeUser)
		} else {
			userList = append(userList, getUsers(ctx)...)
		}

		retentionDays := viper.GetInt("database.snapshot_retention_days")
		cutoff := time.Now().AddDate(0, 0, -retentionDays)

		for _, u := range userList {
			subLog := log.With().Str("User", u).Logger()
			trx, err := database.TrxForUser(ctx, u)
			if err != nil {
				subLog.Error().Stack().Err(err).Msg("could not get database transaction")
				continue
			}

			var cnt int64
			err = trx.QueryRow(ctx, "SELECT count(*) FROM portfolio_snapshots WHERE event_date < $1", cutoff).Scan(&cnt)
			if err != nil {
				subLog.Error().Stack().Err(err).Msg("could not get expired snapshot count")
				if err := trx.Rollback(ctx); err != nil {
					log.Error().Stack().Err(err).Msg("could not rollback transaction")
				}

				continue
			}

			subLog.Info().Int64("NumExpiredSnapshots", cnt).Time("Cutoff", cutoff).Msg("number of expired snapshots")

			_, err = trx.Exec(ctx, "DELETE FROM portfolio_snapshots WHERE event_date < $1", cutoff)
			if err != nil {
				subLog.Error().Stack().Err(err).Msg("could not delete snapshots")
				if err := trx.Rollback(ctx); err != nil {
					log.Error().Stack().Err(err).Msg("could not rollback transaction")
				}

				continue
			}

			if err := trx.Commit(ctx); err != nil {
				subLog.Error().Stack().Err(err).Msg("could not delete snapshots")
			}
		}
	},
}
