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

package database

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type PgxIface interface {
	Begin(context.Context) (pgx.Tx, error)
}

var (
	ErrEmptyUserID = errors.New("userID cannot be an empty string")
)

var pool PgxIface

// open transaction tracking, used to find leaked transactions. TrxForUser
// records the caller that opened each transaction; Commit and Rollback on the
// wrapped transaction remove the entry again.
var (
	trxMu   sync.Mutex
	openTrx = make(map[string]string)
)

// reserved role names that never correspond to an end user
var reservedRoles = map[string]bool{
	"wpapi":    true,
	"wpanon":   true,
	"wphealth": true,
	"wpuser":   true,
}

func trackTrx(id string, caller string) {
	trxMu.Lock()
	openTrx[id] = caller
	trxMu.Unlock()
}

func untrackTrx(id string) {
	trxMu.Lock()
	delete(openTrx, id)
	trxMu.Unlock()
}

// LogOpenTransactions writes an INFO log for each transaction that has been
// started but neither committed nor rolled back
func LogOpenTransactions() {
	trxMu.Lock()
	defer trxMu.Unlock()
	for id, caller := range openTrx {
		log.Info().Str("TrxId", id).Str("Caller", caller).Msg("open transaction")
	}
}

// SetPool replaces the connection pool; tests use this to install a mock
func SetPool(myPool PgxIface) {
	trxMu.Lock()
	openTrx = make(map[string]string)
	trxMu.Unlock()
	pool = myPool
}

// Connect establishes the database pool from database.url and runs any
// pending schema migrations unless database.skip_migrations is set
func Connect(ctx context.Context) error {
	myPool, err := pgxpool.Connect(ctx, viper.GetString("database.url"))
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not connect to database")
		return err
	}
	if err = myPool.Ping(ctx); err != nil {
		log.Error().Stack().Err(err).Msg("could not ping database server")
		return err
	}
	SetPool(myPool)

	if !viper.GetBool("database.skip_migrations") {
		if err := Migrate(); err != nil {
			log.Error().Stack().Err(err).Msg("database migration failed")
			return err
		}
	}

	return nil
}

// TrxForUser begins a transaction and assumes the role belonging to userID so
// that row-level security policies scope every statement to that user's rows.
// The role is provisioned on first use.
// NOTE: the pool connects as wpapi, which only has enough privileges to
// create user roles and switch to them
func TrxForUser(ctx context.Context, userID string) (pgx.Tx, error) {
	trx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}

	_, file, lineno, ok := runtime.Caller(1)
	wrappedTrx := &WpDbTx{
		id:   uuid.New().String(),
		user: userID,
		tx:   trx,
	}
	trackTrx(wrappedTrx.id, fmt.Sprintf("[%v] %s:%d", ok, file, lineno))

	subLog := log.With().Str("UserID", userID).Logger()

	ident := pgx.Identifier{userID}
	if _, err := wrappedTrx.Exec(ctx, fmt.Sprintf("SET ROLE %s", ident.Sanitize())); err != nil {
		// role does not exist yet; provision it and retry
		subLog.Warn().Stack().Err(err).Msg("role does not exist")
		if err := wrappedTrx.Rollback(ctx); err != nil {
			log.Error().Stack().Err(err).Msg("could not rollback transaction")
			return nil, err
		}
		if err := provisionUserRole(ctx, userID); err != nil {
			log.Error().Stack().Err(err).Msg("could not provision user role")
			return nil, err
		}
		return TrxForUser(ctx, userID)
	}

	return wrappedTrx, nil
}

// provisionUserRole creates a nologin role for userID and grants it to wpapi
// so the API can SET ROLE to it.
// NOTE: role names cannot be bound parameters, so the identifier is sanitized
// here before interpolation
func provisionUserRole(ctx context.Context, userID string) error {
	if userID == "" {
		log.Error().Stack().Msg("userID cannot be an empty string")
		return ErrEmptyUserID
	}

	subLog := log.With().Str("UserID", userID).Logger()
	subLog.Info().Msg("creating new role")

	trx, err := pool.Begin(ctx)
	if err != nil {
		subLog.Error().Stack().Err(err).Msg("could not create new transaction")
		return err
	}

	ident := pgx.Identifier{userID}
	stmts := []string{
		"SET ROLE wpapi",
		fmt.Sprintf("CREATE ROLE %s WITH nologin IN ROLE wpuser;", ident.Sanitize()),
		fmt.Sprintf("GRANT %s TO wpapi;", ident.Sanitize()),
	}
	for _, stmt := range stmts {
		if _, err := trx.Exec(ctx, stmt); err != nil {
			subLog.Error().Stack().Err(err).Str("Query", stmt).Msg("role provisioning statement failed")
			if err := trx.Rollback(ctx); err != nil {
				subLog.Error().Stack().Err(err).Msg("could not rollback transaction")
			}
			return err
		}
	}

	if err := trx.Commit(ctx); err != nil {
		subLog.Error().Stack().Err(err).Msg("failed to commit changes")
		if err := trx.Rollback(ctx); err != nil {
			subLog.Error().Stack().Err(err).Msg("could not rollback transaction")
		}
		return err
	}

	return nil
}

// GetUsers lists every user role granted to wpapi, skipping the service roles
func GetUsers(ctx context.Context) ([]string, error) {
	trx, err := pool.Begin(ctx)
	if err != nil {
		log.Error().Err(err).Msg("could not begin transaction")
		return nil, err
	}

	sql := `WITH RECURSIVE cte AS (
		SELECT oid FROM pg_roles WHERE rolname = $1
		UNION ALL
			SELECT m.roleid
			FROM cte JOIN pg_auth_members m ON m.member = cte.oid
	)
	SELECT oid::regrole::text AS rolename FROM cte;`
	rows, err := trx.Query(ctx, sql, "wpapi")
	if err != nil {
		log.Warn().Stack().Err(err).Str("Query", sql).Msg("get list of database roles failed")
		if err := trx.Rollback(ctx); err != nil {
			log.Error().Stack().Err(err).Msg("could not rollback transaction")
		}
		return nil, err
	}

	users := make([]string, 0, 100)
	for rows.Next() {
		var roleName string
		if err := rows.Scan(&roleName); err != nil {
			log.Warn().Stack().Err(err).Str("Query", sql).Msg("GetUsers scan failed")
			continue
		}

		roleName = strings.Trim(roleName, "\"")
		if reservedRoles[roleName] {
			continue
		}
		users = append(users, roleName)
	}

	if err := rows.Err(); err != nil {
		log.Warn().Stack().Err(err).Str("Query", sql).Msg("GetUsers query read failed")
		if err := trx.Rollback(ctx); err != nil {
			log.Error().Stack().Err(err).Msg("could not rollback transaction")
		}
		return nil, err
	}

	if err := trx.Commit(ctx); err != nil {
		log.Error().Err(err).Msg("could not commit transaction")
	}

	return users, nil
}
