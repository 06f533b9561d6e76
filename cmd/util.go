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
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/wallet-pulse/wp-api/data"
	"github.com/wallet-pulse/wp-api/data/database"
	"github.com/wallet-pulse/wp-api/portfolio"
)

// getPortfolios retrieves portfolios from the database
//
//	portfolioID - specified as {userID}:{portfolioID}, only pull requested portfolio
//	userList    - list of users to include portfolios for
func getPortfolios(ctx context.Context, portfolioID string, userList []string) []*portfolio.Model {
	dataManager := data.GetManagerInstance()

	portfolios := make([]*portfolio.Model, 0, 100)
	if portfolioID != "" {
		portfolioParts := strings.Split(portfolioID, ":")
		if len(portfolioParts) != 2 {
			log.Fatal().Str("InputStr", portfolioID).Int("LenPortfolioParts", len(portfolioParts)).Msg("must specify portfolioID as {userID}:{portfolioID}")
		}
		userID := portfolioParts[0]
		ids := []string{portfolioParts[1]}

		log.Info().Str("PortfolioID", portfolioID).Msg("load portfolio from DB")
		p, err := portfolio.LoadFromDB(ctx, ids, userID, dataManager)
		if err != nil {
			log.Fatal().Err(err).Msg("could not load portfolio from DB")
		}
		portfolios = append(portfolios, p[0])
		return portfolios
	}

	for _, userID := range userList {
		p, err := portfolio.LoadFromDB(ctx, []string{}, userID, dataManager)
		if err != nil {
			log.Panic().Err(err).Str("UserID", userID).Msg("could not load portfolios from DB")
		}
		portfolios = append(portfolios, p...)
	}

	return portfolios
}

func getUsers(ctx context.Context) []string {
	users, err := database.GetUsers(ctx)
	if err != nil {
		log.Panic().Err(err).Msg("could not load users from database")
	}
	return users
}
