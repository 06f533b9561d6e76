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

package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/lestrrat-go/jwx/jwk"
	"github.com/wallet-pulse/wp-api/handler"
	"github.com/wallet-pulse/wp-api/middleware"
)

// SetupRoutes registers the API surface. Every route under /v1 requires a
// valid JWT or api key.
func SetupRoutes(app *fiber.App, jwksAutoRefresh *jwk.AutoRefresh, jwksURL string) {
	api := app.Group("/v1", middleware.WPAuth(jwksAutoRefresh, jwksURL))
	api.Get("/", handler.Ping)

	// Portfolio
	portfolio := api.Group("/portfolio")
	portfolio.Get("/", handler.ListPortfolios)
	portfolio.Post("/", handler.CreatePortfolio)
	portfolio.Get("/:id", handler.GetPortfolio)
	portfolio.Patch("/:id", handler.UpdatePortfolio)
	portfolio.Delete("/:id", handler.DeletePortfolio)
	portfolio.Get("/:id/risk", handler.GetPortfolioRisk)
	portfolio.Get("/:id/snapshots", handler.GetPortfolioSnapshots)
	portfolio.Post("/:id/sync", handler.SyncPortfolio)
	portfolio.Get("/:id/transactions", handler.GetPortfolioTransactions)
	portfolio.Get("/:id/gains", handler.GetPortfolioGains)

	// Wallets
	portfolio.Get("/:id/wallets", handler.ListWallets)
	portfolio.Post("/:id/wallets", handler.AddWallet)
	portfolio.Delete("/:id/wallets/:walletID", handler.DeleteWallet)

	// Activity feed and service notices
	api.Get("/activity", handler.GetActivity)
	api.Get("/announcements", handler.GetAnnouncements)
}
