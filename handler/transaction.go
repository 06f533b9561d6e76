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
	"strconv"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/wallet-pulse/wp-api/filter"
)

const maxPageSize = 1000

// TransactionPage is one page of a portfolio's transaction history
type TransactionPage struct {
	Transactions json.RawMessage `json:"transactions"`
	Page         int             `json:"page"`
	PageSize     int             `json:"pageSize"`
	Total        int             `json:"total"`
	TotalPages   int             `json:"totalPages"`
}

// queryParams collects the request's query parameters into a map
func queryParams(c *fiber.Ctx) map[string]string {
	params := make(map[string]string)
	c.Request().URI().QueryArgs().VisitAll(func(key []byte, value []byte) {
		params[string(key)] = string(value)
	})
	return params
}

// GetPortfolioTransactions returns one page of the portfolio's transactions,
// most recent first. Results may be narrowed with PostgREST style filters,
// e.g. ?kind=eq.swap&event_date=gte.2026-01-01
func GetPortfolioTransactions(c *fiber.Ctx) error {
	ctx := context.Background()
	portfolioID := c.Params("id")
	userID := c.Locals("userID").(string)
	subLog := log.With().Str("UserID", userID).Str("PortfolioID", portfolioID).Str("Endpoint", "GetPortfolioTransactions").Logger()

	if _, err := uuid.Parse(portfolioID); err != nil {
		subLog.Warn().Err(err).Msg("portfolio id is not a valid uuid")
		return fiber.ErrBadRequest
	}

	page, err := strconv.Atoi(c.Query("page", "1"))
	if err != nil || page < 1 {
		subLog.Warn().Str("Page", c.Query("page")).Msg("invalid page query parameter")
		return fiber.ErrBadRequest
	}

	pageSize, err := strconv.Atoi(c.Query("page_size", "50"))
	if err != nil || pageSize < 1 || pageSize > maxPageSize {
		subLog.Warn().Str("PageSize", c.Query("page_size")).Msg("invalid page_size query parameter")
		return fiber.ErrBadRequest
	}

	where := filter.Clauses(queryParams(c), "kind", "chain", "symbol", "wallet_id", "event_date")

	f := filter.Database{PortfolioID: portfolioID, UserID: userID}
	transactions, total, err := f.Transactions(ctx, where, (page-1)*pageSize, pageSize)
	if err != nil {
		if errors.Is(err, filter.ErrMalformedClause) || errors.Is(err, filter.ErrUnknownOperator) {
			return c.Status(fiber.StatusBadRequest).SendString(err.Error())
		}
		subLog.Error().Stack().Err(err).Msg("could not query transactions")
		return fiber.ErrInternalServerError
	}

	return c.JSON(TransactionPage{
		Transactions: transactions,
		Page:         page,
		PageSize:     pageSize,
		Total:        total,
		TotalPages:   (total + pageSize - 1) / pageSize,
	})
}
