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
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/wallet-pulse/wp-api/common"
	"github.com/wallet-pulse/wp-api/data"
	"github.com/wallet-pulse/wp-api/data/database"
	"github.com/wallet-pulse/wp-api/messenger"
	"github.com/wallet-pulse/wp-api/observability/opentelemetry"
	"github.com/wallet-pulse/wp-api/portfolio"
	"github.com/wallet-pulse/wp-api/synccron"
	"go.opentelemetry.io/otel"
)

// PortfolioSummary is the list representation of a portfolio
type PortfolioSummary struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	TotalValue float64   `json:"totalValue"`
	DayChange  float64   `json:"dayChange"`
}

// PortfolioOverview is the detail representation of a portfolio
type PortfolioOverview struct {
	Portfolio   *portfolio.Portfolio         `json:"portfolio"`
	Performance *portfolio.PeriodPerformance `json:"performance"`
	Allocation  []*portfolio.AssetPosition   `json:"allocation"`
}

// GainsResponse pairs realized gains with the acquisition lots still open
type GainsResponse struct {
	Gains    []*portfolio.RealizedGain `json:"gains"`
	OpenLots []*portfolio.Lot          `json:"openLots"`
}

// portfolioParams are the user settable portfolio fields; nil means leave
// unchanged
type portfolioParams struct {
	Name          *string `json:"name"`
	SyncSchedule  *string `json:"syncSchedule"`
	Notifications *int32  `json:"notifications"`
}

// loadPortfolio fetches the portfolio named by the :id route parameter,
// scoped to the authenticated user
func loadPortfolio(ctx context.Context, c *fiber.Ctx) (*portfolio.Model, error) {
	portfolioID := c.Params("id")
	userID := c.Locals("userID").(string)
	subLog := log.With().Str("UserID", userID).Str("PortfolioID", portfolioID).Logger()

	if _, err := uuid.Parse(portfolioID); err != nil {
		subLog.Warn().Err(err).Msg("portfolio id is not a valid uuid")
		return nil, fiber.ErrBadRequest
	}

	portfolios, err := portfolio.LoadFromDB(ctx, []string{portfolioID}, userID, data.GetManagerInstance())
	if err != nil {
		if errors.Is(err, portfolio.ErrPortfolioNotFound) {
			return nil, fiber.ErrNotFound
		}
		subLog.Error().Stack().Err(err).Msg("could not load portfolio from database")
		return nil, fiber.ErrInternalServerError
	}

	return portfolios[0], nil
}

// applyPortfolioParams validates the requested settings and copies them onto
// the portfolio
func applyPortfolioParams(c *fiber.Ctx, pm *portfolio.Model, params *portfolioParams, subLog *zerolog.Logger) error {
	if params.Name != nil {
		if *params.Name == "" {
			return c.Status(fiber.StatusBadRequest).SendString("portfolio name may not be empty")
		}
		pm.Portfolio.Name = *params.Name
	}

	if params.SyncSchedule != nil {
		if _, err := synccron.New(*params.SyncSchedule); err != nil {
			subLog.Warn().Err(err).Str("SyncSchedule", *params.SyncSchedule).Msg("rejecting malformed sync schedule")
			return c.Status(fiber.StatusBadRequest).SendString(fmt.Sprintf("invalid sync schedule: %s", err.Error()))
		}
		pm.Portfolio.SyncSchedule = *params.SyncSchedule
	}

	if params.Notifications != nil {
		pm.Portfolio.Notifications = *params.Notifications
	}

	return nil
}

// ListPortfolios returns a summary of each portfolio the user owns
func ListPortfolios(c *fiber.Ctx) error {
	ctx := context.Background()
	userID := c.Locals("userID").(string)
	subLog := log.With().Str("UserID", userID).Str("Endpoint", "ListPortfolios").Logger()

	portfolios, err := portfolio.LoadFromDB(ctx, []string{}, userID, data.GetManagerInstance())
	if err != nil {
		subLog.Error().Stack().Err(err).Msg("could not load portfolios from database")
		return fiber.ErrInternalServerError
	}

	summaries := make([]*PortfolioSummary, 0, len(portfolios))
	for _, pm := range portfolios {
		summaries = append(summaries, &PortfolioSummary{
			ID:         pm.Portfolio.ID,
			Name:       pm.Portfolio.Name,
			TotalValue: pm.Portfolio.TotalValue,
			DayChange:  pm.Portfolio.PeriodPerformance().DayChange,
		})
	}

	return c.JSON(summaries)
}

// CreatePortfolio creates a new, empty portfolio for the user
func CreatePortfolio(c *fiber.Ctx) error {
	ctx := context.Background()
	userID := c.Locals("userID").(string)
	subLog := log.With().Str("UserID", userID).Str("Endpoint", "CreatePortfolio").Logger()

	params := portfolioParams{}
	if err := json.Unmarshal(c.Body(), &params); err != nil {
		subLog.Warn().Err(err).Msg("could not deserialize request body")
		return fiber.ErrBadRequest
	}

	if params.Name == nil || *params.Name == "" {
		return c.Status(fiber.StatusBadRequest).SendString("portfolio name may not be empty")
	}

	pm := portfolio.NewPortfolio(*params.Name, userID, data.GetManagerInstance())
	params.Name = nil
	if err := applyPortfolioParams(c, pm, &params, &subLog); err != nil {
		return err
	}

	if err := pm.Save(ctx); err != nil {
		subLog.Error().Stack().Err(err).Msg("could not save portfolio to database")
		return fiber.ErrInternalServerError
	}

	return c.JSON(pm.Portfolio)
}

// GetPortfolio returns an overview of a single portfolio: its settings,
// current value, performance against each checkpoint, and token allocation
func GetPortfolio(c *fiber.Ctx) error {
	ctx := context.Background()
	userID := c.Locals("userID").(string)
	subLog := log.With().Str("UserID", userID).Str("Endpoint", "GetPortfolio").Logger()

	pm, err := loadPortfolio(ctx, c)
	if err != nil {
		return err
	}

	allocation, err := portfolio.LoadPositionsFromDB(ctx, pm.Portfolio.ID, userID)
	if err != nil {
		subLog.Error().Stack().Err(err).Msg("could not load token positions from database")
		return fiber.ErrInternalServerError
	}

	return c.JSON(PortfolioOverview{
		Portfolio:   pm.Portfolio,
		Performance: pm.Portfolio.PeriodPerformance(),
		Allocation:  allocation,
	})
}

// UpdatePortfolio changes a portfolio's name, sync schedule, or notification
// settings; fields omitted from the request body are left unchanged
func UpdatePortfolio(c *fiber.Ctx) error {
	ctx := context.Background()
	userID := c.Locals("userID").(string)
	subLog := log.With().Str("UserID", userID).Str("Endpoint", "UpdatePortfolio").Logger()

	pm, err := loadPortfolio(ctx, c)
	if err != nil {
		return err
	}

	params := portfolioParams{}
	if err := json.Unmarshal(c.Body(), &params); err != nil {
		subLog.Warn().Err(err).Msg("could not deserialize request body")
		return fiber.ErrBadRequest
	}

	if err := applyPortfolioParams(c, pm, &params, &subLog); err != nil {
		return err
	}

	if err := pm.Save(ctx); err != nil {
		subLog.Error().Stack().Err(err).Msg("could not save portfolio to database")
		return fiber.ErrInternalServerError
	}

	return c.JSON(pm.Portfolio)
}

// DeletePortfolio removes a portfolio along with its wallets, transactions,
// snapshots, and risk measurements
func DeletePortfolio(c *fiber.Ctx) error {
	ctx := context.Background()
	portfolioID := c.Params("id")
	userID := c.Locals("userID").(string)
	subLog := log.With().Str("UserID", userID).Str("PortfolioID", portfolioID).Str("Endpoint", "DeletePortfolio").Logger()

	if _, err := uuid.Parse(portfolioID); err != nil {
		subLog.Warn().Err(err).Msg("portfolio id is not a valid uuid")
		return fiber.ErrBadRequest
	}

	trx, err := database.TrxForUser(ctx, userID)
	if err != nil {
		subLog.Error().Stack().Err(err).Msg("unable to get database transaction for user")
		return fiber.ErrServiceUnavailable
	}

	// child rows cascade
	tag, err := trx.Exec(ctx, "DELETE FROM portfolios WHERE id=$1 AND user_id=$2", portfolioID, userID)
	if err != nil {
		subLog.Warn().Stack().Err(err).Msg("could not delete portfolio")
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

// GetPortfolioRisk returns the most recently calculated risk measurements for
// a portfolio
func GetPortfolioRisk(c *fiber.Ctx) error {
	ctx := context.Background()
	portfolioID := c.Params("id")
	userID := c.Locals("userID").(string)
	subLog := log.With().Str("UserID", userID).Str("PortfolioID", portfolioID).Str("Endpoint", "GetPortfolioRisk").Logger()

	pid, err := uuid.Parse(portfolioID)
	if err != nil {
		subLog.Warn().Err(err).Msg("portfolio id is not a valid uuid")
		return fiber.ErrBadRequest
	}

	// the key carries the user so a cached entry can never cross tenants
	cacheID := fmt.Sprintf("%s:%s:risk", userID, pid)
	if raw, err := common.CacheGet(cacheID); err == nil && len(raw) > 0 {
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		return c.Send(raw)
	}

	metrics, err := portfolio.LoadRiskMetricsFromDB(ctx, pid, userID)
	if err != nil {
		if errors.Is(err, portfolio.ErrRiskMetricsNotFound) {
			return fiber.ErrNotFound
		}
		subLog.Error().Stack().Err(err).Msg("could not load risk metrics from database")
		return fiber.ErrInternalServerError
	}

	if raw, err := json.Marshal(metrics); err == nil {
		if err := common.CacheSet(cacheID, raw); err != nil {
			subLog.Warn().Err(err).Msg("could not cache risk metrics")
		}
	}

	return c.JSON(metrics)
}

// GetPortfolioSnapshots returns the portfolio's daily valuation history for
// the requested number of days, most recent last
func GetPortfolioSnapshots(c *fiber.Ctx) error {
	ctx := context.Background()
	portfolioID := c.Params("id")
	userID := c.Locals("userID").(string)
	subLog := log.With().Str("UserID", userID).Str("PortfolioID", portfolioID).Str("Endpoint", "GetPortfolioSnapshots").Logger()

	pid, err := uuid.Parse(portfolioID)
	if err != nil {
		subLog.Warn().Err(err).Msg("portfolio id is not a valid uuid")
		return fiber.ErrBadRequest
	}

	days, err := strconv.Atoi(c.Query("days", "30"))
	if err != nil || days < 1 {
		subLog.Warn().Str("Days", c.Query("days")).Msg("invalid days query parameter")
		return fiber.ErrBadRequest
	}

	since := time.Now().In(common.GetTimezone()).AddDate(0, 0, -days)
	perf, err := portfolio.LoadSnapshotsFromDB(ctx, pid, userID, since)
	if err != nil {
		subLog.Error().Stack().Err(err).Msg("could not load snapshots from database")
		return fiber.ErrInternalServerError
	}

	return c.JSON(perf)
}

// SyncPortfolio reconciles the portfolio against its chains. With ?queue=true
// the request is published to the sync worker and the call returns
// immediately; otherwise the sync runs inline and the result is returned
func SyncPortfolio(c *fiber.Ctx) error {
	ctx := context.Background()
	userID := c.Locals("userID").(string)
	subLog := log.With().Str("UserID", userID).Str("Endpoint", "SyncPortfolio").Logger()

	if c.Query("queue", "false") == "true" {
		pid, err := uuid.Parse(c.Params("id"))
		if err != nil {
			subLog.Warn().Err(err).Msg("portfolio id is not a valid uuid")
			return fiber.ErrBadRequest
		}
		if err := messenger.CreateSyncRequest(userID, pid); err != nil {
			subLog.Error().Stack().Err(err).Msg("could not queue sync request")
			return fiber.ErrServiceUnavailable
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "queued"})
	}

	pm, err := loadPortfolio(ctx, c)
	if err != nil {
		return err
	}

	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "handler.SyncPortfolio")
	span.SetAttributes(opentelemetry.SpanAttributesFromFiber(c)...)
	defer span.End()

	result, err := pm.Reconcile(ctx)
	if err != nil {
		subLog.Error().Stack().Err(err).Msg("portfolio sync failed")
		return fiber.ErrInternalServerError
	}

	return c.JSON(result)
}

// GetPortfolioGains returns realized gains matched FIFO against acquisition
// lots, plus the lots still open
func GetPortfolioGains(c *fiber.Ctx) error {
	ctx := context.Background()
	portfolioID := c.Params("id")
	userID := c.Locals("userID").(string)
	subLog := log.With().Str("UserID", userID).Str("PortfolioID", portfolioID).Str("Endpoint", "GetPortfolioGains").Logger()

	pid, err := uuid.Parse(portfolioID)
	if err != nil {
		subLog.Warn().Err(err).Msg("portfolio id is not a valid uuid")
		return fiber.ErrBadRequest
	}

	transactions, err := portfolio.LoadTransactionsFromDB(ctx, pid, userID)
	if err != nil {
		subLog.Error().Stack().Err(err).Msg("could not load transactions from database")
		return fiber.ErrInternalServerError
	}

	gains, openLots := portfolio.RealizedGains(transactions)
	return c.JSON(GainsResponse{
		Gains:    gains,
		OpenLots: openLots,
	})
}
