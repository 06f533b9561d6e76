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

package handler

import (
	"context"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/wallet-pulse/wp-api/data/database"
)

// walletParams is the request body for adding a wallet to a portfolio
type walletParams struct {
	Chain   string `json:"chain"`
	Address string `json:"address"`
	Label   string `json:"label"`
}

// ListWallets returns the wallets that make up a portfolio
func ListWallets(c *fiber.Ctx) error {
	ctx := context.Background()

	pm, err := loadPortfolio(ctx, c)
	if err != nil {
		return err
	}

	return c.JSON(pm.Portfolio.Wallets)
}

// AddWallet attaches a new wallet to a portfolio. The chain must be known to
// the chain registry and the address must pass the chain's format check
func AddWallet(c *fiber.Ctx) error {
	ctx := context.Background()
	userID := c.Locals("userID").(string)
	subLog := log.With().Str("UserID", userID).Str("Endpoint", "AddWallet").Logger()

	pm, err := loadPortfolio(ctx, c)
	if err != nil {
		return err
	}

	params := walletParams{}
	if err := json.Unmarshal(c.Body(), &params); err != nil {
		subLog.Warn().Err(err).Msg("could not deserialize request body")
		return fiber.ErrBadRequest
	}

	wallet, err := pm.AddWallet(params.Chain, params.Address, params.Label)
	if err != nil {
		subLog.Warn().Err(err).Str("Chain", params.Chain).Str("Address", params.Address).Msg("could not add wallet to portfolio")
		return c.Status(fiber.StatusBadRequest).SendString(err.Error())
	}

	if err := pm.Save(ctx); err != nil {
		subLog.Error().Stack().Err(err).Msg("could not save portfolio to database")
		return fiber.ErrInternalServerError
	}

	return c.JSON(wallet)
}

// DeleteWallet removes a wallet from a portfolio. Transactions already
// recorded against the wallet are kept for cost basis history
func DeleteWallet(c *fiber.Ctx) error {
	ctx := context.Background()
	portfolioID := c.Params("id")
	walletID := c.Params("walletID")
	userID := c.Locals("userID").(string)
	subLog := log.With().Str("UserID", userID).Str("PortfolioID", portfolioID).Str("WalletID", walletID).Str("Endpoint", "DeleteWallet").Logger()

	if _, err := uuid.Parse(portfolioID); err != nil {
		subLog.Warn().Err(err).Msg("portfolio id is not a valid uuid")
		return fiber.ErrBadRequest
	}

	if _, err := uuid.Parse(walletID); err != nil {
		subLog.Warn().Err(err).Msg("wallet id is not a valid uuid")
		return fiber.ErrBadRequest
	}

	trx, err := database.TrxForUser(ctx, userID)
	if err != nil {
		subLog.Error().Stack().Err(err).Msg("unable to get database transaction for user")
		return fiber.ErrServiceUnavailable
	}

	tag, err := trx.Exec(ctx, "DELETE FROM wallets WHERE id=$1 AND portfolio_id=$2 AND user_id=$3", walletID, portfolioID, userID)
	if err != nil {
		subLog.Warn().Stack().Err(err).Msg("could not delete wallet")
		if err := trx.Rollback(ctx); err != nil {
			subLog.Error().Stack().Err(err).Msg("could not rollback transaction")
		}
		return fiber.ErrInternalServerError
	}

	if err := trx.Commit(ctx); err != nil {
		subLog.Error().Stack().Err(err).Msg("could not commit database transaction")
		return fiber.ErrInternalServerError
	}

	if tag.RowsAffected() == 0 {
		return fiber.ErrNotFound
	}

	return c.JSON(fiber.Map{"status": "success"})
}
