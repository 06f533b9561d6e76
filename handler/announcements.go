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
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
	"github.com/wallet-pulse/wp-api/filter"
)

// GetAnnouncements returns the service notices that have not expired yet,
// most recent first
func GetAnnouncements(c *fiber.Ctx) error {
	ctx := context.Background()
	userID := c.Locals("userID").(string)
	subLog := log.With().Str("UserID", userID).Str("Endpoint", "GetAnnouncements").Logger()

	where := filter.Clauses(queryParams(c), "event_date", "tags")
	where["expires"] = fmt.Sprintf("gt.%s", time.Now().Format(time.RFC3339))

	payload, err := filter.Announcements(ctx, userID, where)
	if err != nil {
		if errors.Is(err, filter.ErrMalformedClause) || errors.Is(err, filter.ErrUnknownOperator) {
			return c.Status(fiber.StatusBadRequest).SendString(err.Error())
		}
		subLog.Error().Stack().Err(err).Msg("could not query announcements")
		return fiber.ErrInternalServerError
	}

	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSONCharsetUTF8)
	return c.Send(payload)
}
