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

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog/log"
)

var (
	ErrUnsupported = errors.New("unsupported function")
)

// WpDbTx wraps a pgx transaction so that Commit and Rollback clear the
// open-transaction tracking entry recorded by TrxForUser
type WpDbTx struct {
	id   string
	user string
	tx   pgx.Tx
}

// Begin is unsupported; every unit of work gets its own role-scoped
// transaction from TrxForUser
func (t *WpDbTx) Begin(ctx context.Context) (pgx.Tx, error) {
	log.Panic().Str("UserID", t.user).Msg("nested transactions are not supported")
	return nil, ErrUnsupported
}

// BeginFunc is unsupported for the same reason as Begin
func (t *WpDbTx) BeginFunc(ctx context.Context, f func(pgx.Tx) error) (err error) {
	log.Panic().Str("UserID", t.user).Msg("nested transactions are not supported")
	return ErrUnsupported
}

// Commit commits the transaction; safe to call multiple times, later calls
// return ErrTxClosed
func (t *WpDbTx) Commit(ctx context.Context) error {
	untrackTrx(t.id)
	return t.tx.Commit(ctx)
}

// Rollback rolls the transaction back; safe after Commit, so callers may
// defer it unconditionally
func (t *WpDbTx) Rollback(ctx context.Context) error {
	untrackTrx(t.id)
	return t.tx.Rollback(ctx)
}

func (t *WpDbTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return t.tx.CopyFrom(ctx, tableName, columnNames, rowSrc)
}

func (t *WpDbTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	return t.tx.SendBatch(ctx, b)
}

func (t *WpDbTx) LargeObjects() pgx.LargeObjects {
	return t.tx.LargeObjects()
}

func (t *WpDbTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return t.tx.Prepare(ctx, name, sql)
}

func (t *WpDbTx) Exec(ctx context.Context, sql string, arguments ...interface{}) (commandTag pgconn.CommandTag, err error) {
	return t.tx.Exec(ctx, sql, arguments...)
}

func (t *WpDbTx) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	return t.tx.Query(ctx, sql, args...)
}

func (t *WpDbTx) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	return t.tx.QueryRow(ctx, sql, args...)
}

func (t *WpDbTx) QueryFunc(ctx context.Context, sql string, args []interface{}, scans []interface{}, f func(pgx.QueryFuncRow) error) (pgconn.CommandTag, error) {
	return t.tx.QueryFunc(ctx, sql, args, scans, f)
}

// Conn returns the connection the transaction is executing on
func (t *WpDbTx) Conn() *pgx.Conn {
	return t.tx.Conn()
}
