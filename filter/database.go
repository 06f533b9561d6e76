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

package filter

import (
	"context"
	"fmt"

	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog/log"

	"github.com/wallet-pulse/wp-api/data/database"
)

// Database runs filtered list queries as the requesting user. Row level
// security scopes every query to the user's own rows; the portfolio id
// narrows transaction queries to one portfolio.
type Database struct {
	PortfolioID string
	UserID      string
}

var transactionFields = []string{"id", "wallet_id", "kind", "chain", "hash",
	"event_date", "counterparty", "symbol", "contract_address", "amount",
	"usd_value", "fee", "memo", "source", "sequence_num"}

var activityFields = []string{"id", "portfolio_id", "event_date", "activity", "tags"}

var announcementFields = []string{"id", "event_date", "announcement", "tags"}

// Transactions returns one page of the portfolio's transactions as a JSON
// array plus the total number of rows matching the filter before paging
func (f *Database) Transactions(ctx context.Context, where map[string]string, offset int, limit int) ([]byte, int, error) {
	clauses := make(map[string]string, len(where)+1)
	for column, value := range where {
		clauses[column] = value
	}
	clauses["portfolio_id"] = fmt.Sprintf("eq.%s", f.PortfolioID)

	countSQL, countArgs, err := BuildQuery("transactions", nil, []string{"count(*) AS total"}, clauses, "")
	if err != nil {
		return nil, 0, err
	}

	pageSQL, pageArgs, err := BuildQuery("transactions", transactionFields, nil, clauses, "event_date DESC, sequence_num DESC")
	if err != nil {
		return nil, 0, err
	}
	pageSQL = fmt.Sprintf("%s limit %d offset %d", pageSQL, limit, offset)

	subLog := log.With().Str("PortfolioID", f.PortfolioID).Str("UserID", f.UserID).Logger()

	trx, err := database.TrxForUser(ctx, f.UserID)
	if err != nil {
		subLog.Error().Stack().Err(err).Msg("unable to get database transaction")
		return nil, 0, err
	}

	var total int
	if err := trx.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		subLog.Warn().Stack().Err(err).Msg("could not count transactions")
		if err := trx.Rollback(ctx); err != nil {
			subLog.Error().Stack().Err(err).Msg("could not rollback transaction")
		}
		return nil, 0, err
	}

	payload, err := jsonRows(ctx, trx, pageSQL, pageArgs)
	if err != nil {
		subLog.Warn().Stack().Err(err).Msg("could not query transactions")
		if err := trx.Rollback(ctx); err != nil {
			subLog.Error().Stack().Err(err).Msg("could not rollback transaction")
		}
		return nil, 0, err
	}

	if err := trx.Commit(ctx); err != nil {
		subLog.Warn().Stack().Err(err).Msg("could not commit transaction")
	}

	return payload, total, nil
}

// Activities returns the user's most recent activity entries as a JSON array.
// When the filter carries no portfolio clause the feed spans every portfolio
// the user owns.
func (f *Database) Activities(ctx context.Context, where map[string]string, limit int) ([]byte, error) {
	sql, args, err := BuildQuery("activity", activityFields, nil, where, "event_date DESC")
	if err != nil {
		return nil, err
	}
	sql = fmt.Sprintf("%s limit %d", sql, limit)

	subLog := log.With().Str("UserID", f.UserID).Logger()

	trx, err := database.TrxForUser(ctx, f.UserID)
	if err != nil {
		subLog.Error().Stack().Err(err).Msg("unable to get database transaction")
		return nil, err
	}

	payload, err := jsonRows(ctx, trx, sql, args)
	if err != nil {
		subLog.Warn().Stack().Err(err).Msg("could not query activity")
		if err := trx.Rollback(ctx); err != nil {
			subLog.Error().Stack().Err(err).Msg("could not rollback transaction")
		}
		return nil, err
	}

	if err := trx.Commit(ctx); err != nil {
		subLog.Warn().Stack().Err(err).Msg("could not commit transaction")
	}

	return payload, nil
}

// Announcements returns the service notices that have not expired yet
func Announcements(ctx context.Context, userID string, where map[string]string) ([]byte, error) {
	sql, args, err := BuildQuery("announcements", announcementFields, nil, where, "event_date DESC")
	if err != nil {
		return nil, err
	}

	subLog := log.With().Str("UserID", userID).Logger()

	trx, err := database.TrxForUser(ctx, userID)
	if err != nil {
		subLog.Error().Stack().Err(err).Msg("unable to get database transaction")
		return nil, err
	}

	payload, err := jsonRows(ctx, trx, sql, args)
	if err != nil {
		subLog.Warn().Stack().Err(err).Msg("could not query announcements")
		if err := trx.Rollback(ctx); err != nil {
			subLog.Error().Stack().Err(err).Msg("could not rollback transaction")
		}
		return nil, err
	}

	if err := trx.Commit(ctx); err != nil {
		subLog.Warn().Stack().Err(err).Msg("could not commit transaction")
	}

	return payload, nil
}

// jsonRows runs the statement and folds the result set into a JSON array on
// the database side. An empty result folds to NULL, which comes back as [].
func jsonRows(ctx context.Context, trx pgx.Tx, sql string, args []interface{}) ([]byte, error) {
	var payload pgtype.Text
	aggregate := fmt.Sprintf(`SELECT array_to_json(array_agg(row_to_json(tbl))) FROM (%s) tbl`, sql)
	if err := trx.QueryRow(ctx, aggregate, args...).Scan(&payload); err != nil {
		return nil, err
	}
	if payload.Status != pgtype.Present {
		return []byte("[]"), nil
	}
	return []byte(payload.String), nil
}
