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

package cmd

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/wallet-pulse/wp-api/common"
	"github.com/wallet-pulse/wp-api/data/database"
)

var (
	notifyUser string
	notifyDate string
	notifyTest bool
)

func init() {
	notifyCmd.Flags().StringVar(&notifyUser, "user", "", "only send notifications for portfolios owned by user")
	notifyCmd.Flags().StringVarP(&notifyDate, "date", "d", "", "date to run notifications for 2006-01-02")
	notifyCmd.Flags().BoolVarP(&notifyTest, "test", "t", false, "log notifications that would be sent without sending them")
	rootCmd.AddCommand(notifyCmd)
}

var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "Send portfolio summary e-mails that are due",
	Run: func(_ *cobra.Command, _ []string) {
		ctx := context.Background()
		common.SetupLogging()

		if err := database.Connect(ctx); err != nil {
			log.Panic().Err(err).Msg("could not connect to database")
		}

		// NOTE: the notifier is scheduled shortly after midnight; the default
		// date is the day that just ended
		var forDate time.Time
		if notifyDate != "" {
			var err error
			forDate, err = time.Parse("2006-01-02", notifyDate)
			if err != nil {
				log.Panic().Err(err).Str("DateStr", notifyDate).Msg("could not parse DateStr with format 2006-01-02")
			}
		} else {
			forDate = time.Now().In(common.GetTimezone()).AddDate(0, 0, -1)
		}

		log.Info().Time("ForDate", forDate).Msg("evaluating notifications")

		var users []string
		if notifyUser != "" {
			users = []string{notifyUser}
		} else {
			users = getUsers(ctx)
		}

		portfolios := getPortfolios(ctx, "", users)
		for _, pm := range portfolios {
			subLog := log.With().Str("UserID", pm.Portfolio.UserID).Str("PortfolioID", pm.Portfolio.ID.String()).Str("PortfolioName", pm.Portfolio.Name).Logger()

			if len(pm.RequestedNotificationsForDate(forDate)) == 0 {
				continue
			}

			if err := pm.LoadHoldingsFromDB(ctx); err != nil {
				subLog.Error().Err(err).Msg("could not load holdings; skipping portfolio")
				continue
			}

			notifications := pm.NotificationsForDate(forDate)
			contact, err := common.GetAuth0User(pm.Portfolio.UserID)
			if err != nil {
				subLog.Error().Err(err).Msg("could not get contact info for user")
				continue
			}

			for _, notification := range notifications {
				if notifyTest {
					subLog.Info().Str("Frequency", notification.ForFrequency.String()).Str("Email", contact.Email).Msg("test run; not sending notification")
					continue
				}

				if err := notification.SendEmail(contact.Name, contact.Email); err != nil {
					subLog.Error().Err(err).Str("Frequency", notification.ForFrequency.String()).Msg("could not send notification e-mail")
				}
			}
		}
	},
}
