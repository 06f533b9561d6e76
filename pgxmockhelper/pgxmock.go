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

// Package pgxmockhelper bundles the database expectations that tests queue
// over and over: the begin / role switch pair every per-user transaction
// issues and the token registry load the data manager performs at startup.
package pgxmockhelper

import (
	"time"

	"github.com/jackc/pgconn"
	"github.com/pashagolub/pgxmock"
)

// MockTrx queues the begin and role switch that TrxForUser issues before any
// statements run
func MockTrx(db pgxmock.PgxConnIface) {
	db.ExpectBegin()
	db.ExpectExec("SET ROLE").WillReturnResult(pgconn.CommandTag("SET ROLE"))
}

// MockManager queues the token registry load that data.GetManagerInstance
// performs on first use
func MockManager(db pgxmock.PgxConnIface) {
	MockTrx(db)
	db.ExpectQuery("SELECT (.+) FROM tokens").WillReturnRows(TokenRegistryRows())
	db.ExpectCommit()
}

// TokenRegistryRows builds a small token registry covering two chain native
// assets and one stablecoin
func TokenRegistryRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{"chain", "contract_address", "symbol", "name", "decimals", "logo", "coingecko_id", "last_price", "price_updated"}).
		AddRow("eth", "", "ETH", "Ethereum", int32(18), "", "ethereum", 2800.0, time.Now()).
		AddRow("eth", "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", "USDC", "USD Coin", int32(6), "", "usd-coin", 1.0, time.Now()).
		AddRow("bsc", "", "BNB", "BNB", int32(18), "", "binancecoin", 550.0, time.Now())
}
