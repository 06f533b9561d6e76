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

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
	"github.com/wallet-pulse/wp-api/filter"
)

const maxActivityLimit = 500

// GetActivity returns the user's activity feed across every portfolio they
// own, most recent first. Results may be narrowed with PostgREST style
// filters, e.g. ?portfolio_id=eq.<uuid>&tags=cs.{sync}
func GetActivity(c *fiber.Ctx) error {
	ctx := context.Background()
	userID := c.Locals("userID").(string)
	subLog := log.With().Str("UserID", userID).Str("Endpoint", "GetActivity").Logger()

	limit, err := strconv.Atoi(c.Query("limit", "100"))
	if err != nil || limit < 1 || limit > maxActivityLimit {
		subLog.Warn().Str("Limit", c.Query("limit")).Msg("invalid limit query parameter")
		return fiber.ErrBadRequest
	}

	where := filter.Clauses(queryParams(c), "portfolio_id", "event_date", "activity", "tags")

	f := filter.Database{UserID: userID}
	payload, err := f.Activities(ctx, where, limit)
	if err != nil {
		if errors.Is(err, filter.ErrMalformedClause) || errors.Is(err, filter.ErrUnknownOperator) {
			return c.Status(fiber.StatusBadRequest).SendString(err.Error())
		}
		subLog.Error().Stack().Err(err).Msg("could not query activity")
		return fiber.ErrInternalServerError
	}

	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSONCharsetUTF8)
	return c.Send(payload)
}
