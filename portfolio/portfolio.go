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

package portfolio

import (
	"context"
	"encoding/hex"
	"errors"
	"math"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/wallet-pulse/wp-api/chains"
	"github.com/wallet-pulse/wp-api/common"
	"github.com/wallet-pulse/wp-api/data"
	"github.com/wallet-pulse/wp-api/data/database"
	"github.com/zeebo/blake3"
)

var (
	ErrEmptyUserID       = errors.New("user id empty")
	ErrPortfolioNotFound = errors.New("could not find portfolio ID in database")
	ErrWalletNotFound    = errors.New("could not find wallet ID in database")
	ErrDuplicateWallet   = errors.New("wallet is already part of portfolio")
	ErrGenerateHash      = errors.New("could not create a new hash")
)

const (
	SourceName = "WP"
)

const (
	ReceiveTransaction   = "receive"
	SendTransaction      = "send"
	SwapTransaction      = "swap"
	LiquidityTransaction = "liquidity"
	StakeTransaction     = "stake"
	UnstakeTransaction   = "unstake"
	EarnTransaction      = "earn"
	FeeTransaction       = "fee"
	UnknownTransaction   = "unknown"
)

type Activity struct {
	Date time.Time
	Msg  string
	Tags []string
}

// Model stores a portfolio and the provider handle used to refresh it
type Model struct {
	Portfolio *Portfolio

	// private
	dataProxy  *data.Manager
	activities []*Activity
}

// Portfolio groups one or more wallets and tracks their combined value over
// time. Checkpoint values (previous day / week / month) and the all-time
// extrema are NaN until the first sync that establishes them; they are stored
// as NULL in the database.
type Portfolio struct {
	ID                 uuid.UUID      `json:"id"`
	UserID             string         `json:"userId"`
	Name               string         `json:"name"`
	SyncSchedule       string         `json:"syncSchedule"`
	Notifications      int32          `json:"notifications"`
	TotalValue         float64        `json:"totalValue"`
	InitialValue       float64        `json:"initialValue"`
	PreviousDayValue   float64        `json:"previousDayValue"`
	PreviousWeekValue  float64        `json:"previousWeekValue"`
	PreviousMonthValue float64        `json:"previousMonthValue"`
	AllTimeHigh        float64        `json:"allTimeHigh"`
	AllTimeHighDate    time.Time      `json:"allTimeHighDate"`
	AllTimeLow         float64        `json:"allTimeLow"`
	AllTimeLowDate     time.Time      `json:"allTimeLowDate"`
	LastSynced         time.Time      `json:"lastSynced"`
	Created            time.Time      `json:"created"`
	LastChanged        time.Time      `json:"lastChanged"`
	Wallets            []*Wallet      `json:"wallets"`
	Transactions       []*Transaction `json:"-"`
}

// Wallet is an on-chain account tracked as part of a portfolio
type Wallet struct {
	ID            uuid.UUID       `json:"id"`
	PortfolioID   uuid.UUID       `json:"portfolioId"`
	UserID        string          `json:"-"`
	Chain         string          `json:"chain"`
	Address       string          `json:"address"`
	Label         string          `json:"label"`
	NativeBalance decimal.Decimal `json:"nativeBalance"`
	TotalValue    float64         `json:"totalValue"`
	LastSynced    time.Time       `json:"lastSynced"`
	Created       time.Time       `json:"created"`
	LastChanged   time.Time       `json:"lastChanged"`
	Holdings      []*data.Holding `json:"holdings,omitempty"`
}

// Transaction is an on-chain event attributed to a portfolio. SourceID is a
// hex encoded digest of the identifying fields; re-ingesting the same history
// produces the same id and updates the existing row instead of inserting a
// duplicate.
type Transaction struct {
	ID              uuid.UUID       `json:"id"`
	WalletID        uuid.UUID       `json:"walletId"`
	Kind            string          `json:"kind"`
	Chain           string          `json:"chain"`
	Hash            string          `json:"hash"`
	Date            time.Time       `json:"date"`
	Counterparty    string          `json:"counterparty"`
	Symbol          string          `json:"symbol"`
	ContractAddress string          `json:"contractAddress"`
	Amount          decimal.Decimal `json:"amount"`
	UsdValue        float64         `json:"usdValue"`
	Fee             decimal.Decimal `json:"fee"`
	Memo            string          `json:"memo"`
	Source          string          `json:"source"`
	SourceID        string          `json:"sourceId"`
	SequenceNum     int32           `json:"sequenceNum"`
}

// NewPortfolio creates an empty portfolio for the given user
func NewPortfolio(name string, userID string, manager *data.Manager) *Model {
	now := time.Now()
	p := Portfolio{
		ID:                 uuid.New(),
		UserID:             userID,
		Name:               name,
		SyncSchedule:       "@daily",
		InitialValue:       math.NaN(),
		PreviousDayValue:   math.NaN(),
		PreviousWeekValue:  math.NaN(),
		PreviousMonthValue: math.NaN(),
		AllTimeHigh:        math.NaN(),
		AllTimeLow:         math.NaN(),
		Created:            now,
		LastChanged:        now,
		Wallets:            []*Wallet{},
		Transactions:       []*Transaction{},
	}

	model := Model{
		Portfolio:  &p,
		dataProxy:  manager,
		activities: []*Activity{},
	}

	return &model
}

// AddWallet registers a new on-chain account with the portfolio. The chain
// must be present in the chain registry and the address is normalized before
// comparison so the same account pasted with different capitalization does
// not create a second wallet.
func (pm *Model) AddWallet(chain string, address string, label string) (*Wallet, error) {
	if _, err := chains.Lookup(chain); err != nil {
		log.Error().Err(err).Str("Chain", chain).Msg("cannot add wallet for unknown chain")
		return nil, err
	}

	address = common.NormalizeAddress(address)
	for _, w := range pm.Portfolio.Wallets {
		if w.Chain == chain && w.Address == address {
			return nil, ErrDuplicateWallet
		}
	}

	now := time.Now()
	w := &Wallet{
		ID:          uuid.New(),
		PortfolioID: pm.Portfolio.ID,
		UserID:      pm.Portfolio.UserID,
		Chain:       chain,
		Address:     address,
		Label:       label,
		Created:     now,
		LastChanged: now,
	}
	pm.Portfolio.Wallets = append(pm.Portfolio.Wallets, w)
	return w, nil
}

// AddActivity records a notable event against the portfolio. Activities are
// buffered on the model until SaveActivities is called.
func (pm *Model) AddActivity(msg string, tags ...string) {
	pm.activities = append(pm.activities, &Activity{
		Date: time.Now(),
		Msg:  msg,
		Tags: tags,
	})
}

// Positions aggregates the current wallet holdings by symbol, in the order
// the assets are first seen. Weight is each asset's percentage of the total
// portfolio value and is 0 when the portfolio has no value.
func (pm *Model) Positions() []*AssetPosition {
	positions := make([]*AssetPosition, 0, 8)
	bySymbol := make(map[string]*AssetPosition, 8)

	var total float64
	for _, w := range pm.Portfolio.Wallets {
		for _, h := range w.Holdings {
			pos, ok := bySymbol[h.Symbol]
			if !ok {
				pos = &AssetPosition{Symbol: h.Symbol}
				bySymbol[h.Symbol] = pos
				positions = append(positions, pos)
			}
			pos.Balance = pos.Balance.Add(h.Balance)
			pos.Value += h.Value
			total += h.Value
		}
	}

	if total > 0 {
		for _, pos := range positions {
			pos.Weight = pos.Value / total * 100
		}
	}

	return positions
}

// LoadFromDB loads portfolios from the database. When portfolioIDs is empty
// all portfolios belonging to userID are returned, otherwise every requested
// id must exist or ErrPortfolioNotFound is returned.
func LoadFromDB(ctx context.Context, portfolioIDs []string, userID string, manager *data.Manager) ([]*Model, error) {
	subLog := log.With().Strs("PortfolioIDs", portfolioIDs).Str("UserID", userID).Logger()
	if userID == "" {
		subLog.Error().Stack().Msg("user id empty")
		return nil, ErrEmptyUserID
	}

	trx, err := database.TrxForUser(ctx, userID)
	if err != nil {
		subLog.Error().Stack().Err(err).Msg("unable to get database transaction")
		return nil, err
	}

	portfolioSQL := `SELECT
		id,
		name,
		sync_schedule,
		notifications,
		total_value::double precision,
		initial_value::double precision,
		previous_day_value::double precision,
		previous_week_value::double precision,
		previous_month_value::double precision,
		all_time_high::double precision,
		all_time_high_date,
		all_time_low::double precision,
		all_time_low_date,
		last_synced,
		created,
		lastchanged
	FROM portfolios`

	var rows pgx.Rows
	if len(portfolioIDs) > 0 {
		portfolioSQL = portfolioSQL + " WHERE id = ANY($1::uuid[]) AND user_id=$2 ORDER BY name"
		rows, err = trx.Query(ctx, portfolioSQL, portfolioIDs, userID)
	} else {
		portfolioSQL = portfolioSQL + " WHERE user_id=$1 ORDER BY name"
		rows, err = trx.Query(ctx, portfolioSQL, userID)
	}
	if err != nil {
		subLog.Warn().Stack().Err(err).Msg("could not load portfolios from database")
		if err := trx.Rollback(ctx); err != nil {
			subLog.Error().Stack().Err(err).Msg("could not rollback transaction")
		}
		return nil, err
	}

	resultSet := make([]*Model, 0, len(portfolioIDs))
	byID := make(map[uuid.UUID]*Model, len(portfolioIDs))

	for rows.Next() {
		p := &Portfolio{
			UserID:       userID,
			Wallets:      []*Wallet{},
			Transactions: []*Transaction{},
		}

		var (
			initialValue  pgtype.Float8
			prevDayValue  pgtype.Float8
			prevWeekValue pgtype.Float8
			prevMonth     pgtype.Float8
			ath           pgtype.Float8
			athDate       pgtype.Date
			atl           pgtype.Float8
			atlDate       pgtype.Date
			lastSynced    pgtype.Timestamptz
		)

		err := rows.Scan(&p.ID, &p.Name, &p.SyncSchedule, &p.Notifications,
			&p.TotalValue, &initialValue, &prevDayValue, &prevWeekValue,
			&prevMonth, &ath, &athDate, &atl, &atlDate, &lastSynced,
			&p.Created, &p.LastChanged)
		if err != nil {
			subLog.Warn().Stack().Err(err).Msg("could not scan portfolio row")
			if err := trx.Rollback(ctx); err != nil {
				subLog.Error().Stack().Err(err).Msg("could not rollback transaction")
			}
			return nil, err
		}

		p.InitialValue = floatOrNaN(initialValue)
		p.PreviousDayValue = floatOrNaN(prevDayValue)
		p.PreviousWeekValue = floatOrNaN(prevWeekValue)
		p.PreviousMonthValue = floatOrNaN(prevMonth)
		p.AllTimeHigh = floatOrNaN(ath)
		p.AllTimeHighDate = dateOrZero(athDate)
		p.AllTimeLow = floatOrNaN(atl)
		p.AllTimeLowDate = dateOrZero(atlDate)
		p.LastSynced = timeOrZero(lastSynced)

		model := &Model{
			Portfolio:  p,
			dataProxy:  manager,
			activities: []*Activity{},
		}
		resultSet = append(resultSet, model)
		byID[p.ID] = model
	}

	if len(portfolioIDs) > 0 && len(resultSet) != len(portfolioIDs) {
		if err := trx.Rollback(ctx); err != nil {
			subLog.Error().Stack().Err(err).Msg("could not rollback transaction")
		}
		return nil, ErrPortfolioNotFound
	}

	if err := loadWallets(ctx, trx, userID, byID); err != nil {
		if err := trx.Rollback(ctx); err != nil {
			subLog.Error().Stack().Err(err).Msg("could not rollback transaction")
		}
		return nil, err
	}

	if err := trx.Commit(ctx); err != nil {
		subLog.Warn().Stack().Err(err).Msg("could not commit transaction")
	}

	return resultSet, nil
}

func loadWallets(ctx context.Context, trx pgx.Tx, userID string, byID map[uuid.UUID]*Model) error {
	if len(byID) == 0 {
		return nil
	}

	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id.String())
	}

	walletSQL := `SELECT
		id,
		portfolio_id,
		chain,
		address,
		label,
		native_balance,
		total_value::double precision,
		last_synced,
		created,
		lastchanged
	FROM wallets
	WHERE portfolio_id = ANY($1::uuid[]) AND user_id=$2
	ORDER BY chain, address`

	rows, err := trx.Query(ctx, walletSQL, ids, userID)
	if err != nil {
		log.Warn().Stack().Err(err).Msg("could not load wallets from database")
		return err
	}

	for rows.Next() {
		w := &Wallet{UserID: userID}
		var (
			label      pgtype.Text
			lastSynced pgtype.Timestamptz
		)

		err := rows.Scan(&w.ID, &w.PortfolioID, &w.Chain, &w.Address, &label,
			&w.NativeBalance, &w.TotalValue, &lastSynced, &w.Created, &w.LastChanged)
		if err != nil {
			log.Warn().Stack().Err(err).Msg("could not scan wallet row")
			return err
		}

		w.Label = textOrEmpty(label)
		w.LastSynced = timeOrZero(lastSynced)

		if model, ok := byID[w.PortfolioID]; ok {
			model.Portfolio.Wallets = append(model.Portfolio.Wallets, w)
		}
	}

	return nil
}

// LoadHoldingsFromDB hydrates each wallet's Holdings with the token balances
// captured by the last sync. Reconcile replaces holdings with live chain
// data; offline consumers such as the notifier read the stored copy instead.
func (pm *Model) LoadHoldingsFromDB(ctx context.Context) error {
	p := pm.Portfolio
	subLog := log.With().Str("PortfolioID", p.ID.String()).Str("UserID", p.UserID).Logger()

	trx, err := database.TrxForUser(ctx, p.UserID)
	if err != nil {
		subLog.Error().Stack().Err(err).Msg("unable to get database transaction")
		return err
	}

	tokenSQL := `SELECT
		wt.wallet_id,
		wt.chain,
		wt.contract_address,
		wt.symbol,
		wt.balance,
		wt.usd_value::double precision
	FROM wallet_tokens wt
	JOIN wallets w ON w.id = wt.wallet_id
	WHERE w.portfolio_id=$1 AND wt.user_id=$2
	ORDER BY wt.usd_value DESC`

	rows, err := trx.Query(ctx, tokenSQL, p.ID, p.UserID)
	if err != nil {
		subLog.Warn().Stack().Err(err).Msg("could not load wallet tokens from database")
		if err := trx.Rollback(ctx); err != nil {
			subLog.Error().Stack().Err(err).Msg("could not rollback transaction")
		}
		return err
	}

	byWallet := make(map[uuid.UUID]*Wallet, len(p.Wallets))
	for _, w := range p.Wallets {
		byWallet[w.ID] = w
	}

	for rows.Next() {
		var walletID uuid.UUID
		h := &data.Holding{}
		if err := rows.Scan(&walletID, &h.Chain, &h.ContractAddress, &h.Symbol, &h.Balance, &h.Value); err != nil {
			subLog.Warn().Stack().Err(err).Msg("could not scan wallet token row")
			if err := trx.Rollback(ctx); err != nil {
				subLog.Error().Stack().Err(err).Msg("could not rollback transaction")
			}
			return err
		}

		if w, ok := byWallet[walletID]; ok {
			w.Holdings = append(w.Holdings, h)
		}
	}

	if err := trx.Commit(ctx); err != nil {
		subLog.Warn().Stack().Err(err).Msg("could not commit transaction")
	}

	return nil
}

// LoadTransactionsFromDB loads the complete transaction history for a
// portfolio, oldest first
func LoadTransactionsFromDB(ctx context.Context, portfolioID uuid.UUID, userID string) ([]*Transaction, error) {
	subLog := log.With().Str("PortfolioID", portfolioID.String()).Str("UserID", userID).Logger()

	trx, err := database.TrxForUser(ctx, userID)
	if err != nil {
		subLog.Error().Stack().Err(err).Msg("unable to get database transaction")
		return nil, err
	}

	transactionSQL := `SELECT
		id,
		wallet_id,
		kind,
		chain,
		hash,
		event_date,
		counterparty,
		symbol,
		contract_address,
		amount,
		usd_value::double precision,
		fee,
		memo,
		source,
		encode(source_id, 'hex') AS source_id,
		sequence_num
	FROM transactions
	WHERE portfolio_id=$1 AND user_id=$2
	ORDER BY event_date ASC, sequence_num ASC`

	rows, err := trx.Query(ctx, transactionSQL, portfolioID, userID)
	if err != nil {
		subLog.Warn().Stack().Err(err).Msg("could not load transactions from database")
		if err := trx.Rollback(ctx); err != nil {
			subLog.Error().Stack().Err(err).Msg("could not rollback transaction")
		}
		return nil, err
	}

	transactions := make([]*Transaction, 0, 100)
	for rows.Next() {
		t := &Transaction{}

		var (
			walletID        pgtype.UUID
			counterparty    pgtype.Text
			symbol          pgtype.Text
			contractAddress pgtype.Text
			amount          decimal.NullDecimal
			usdValue        pgtype.Float8
			fee             decimal.NullDecimal
			memo            pgtype.Text
		)

		err := rows.Scan(&t.ID, &walletID, &t.Kind, &t.Chain, &t.Hash, &t.Date,
			&counterparty, &symbol, &contractAddress, &amount, &usdValue, &fee,
			&memo, &t.Source, &t.SourceID, &t.SequenceNum)
		if err != nil {
			subLog.Warn().Stack().Err(err).Msg("could not scan transaction row")
			if err := trx.Rollback(ctx); err != nil {
				subLog.Error().Stack().Err(err).Msg("could not rollback transaction")
			}
			return nil, err
		}

		if walletID.Status == pgtype.Present {
			t.WalletID = uuid.UUID(walletID.Bytes)
		}
		t.Counterparty = textOrEmpty(counterparty)
		t.Symbol = textOrEmpty(symbol)
		t.ContractAddress = textOrEmpty(contractAddress)
		if amount.Valid {
			t.Amount = amount.Decimal
		}
		if usdValue.Status == pgtype.Present {
			t.UsdValue = usdValue.Float
		}
		if fee.Valid {
			t.Fee = fee.Decimal
		}
		t.Memo = textOrEmpty(memo)

		transactions = append(transactions, t)
	}

	if err := trx.Commit(ctx); err != nil {
		subLog.Warn().Stack().Err(err).Msg("could not commit transaction")
	}

	return transactions, nil
}

// SaveActivities writes buffered activities to the database and clears the
// buffer. Failing to record an activity is logged but does not fail the sync
// that produced it.
func (pm *Model) SaveActivities(ctx context.Context) error {
	p := pm.Portfolio
	subLog := log.With().Str("PortfolioID", p.ID.String()).Str("UserID", p.UserID).Logger()

	if len(pm.activities) == 0 {
		return nil
	}

	trx, err := database.TrxForUser(ctx, p.UserID)
	if err != nil {
		subLog.Error().Stack().Err(err).Msg("unable to get database transaction")
		return err
	}

	sql := `INSERT INTO activity (
		"id",
		"portfolio_id",
		"user_id",
		"event_date",
		"activity",
		"tags"
	) VALUES (
		$1, $2, $3, $4, $5, $6
	)`

	for _, activity := range pm.activities {
		_, err = trx.Exec(ctx, sql,
			uuid.New(),    // 1
			p.ID,          // 2
			p.UserID,      // 3
			activity.Date, // 4
			activity.Msg,  // 5
			activity.Tags, // 6
		)
		if err != nil {
			subLog.Error().Stack().Err(err).Str("Activity", activity.Msg).Msg("could not save activity")
			if err := trx.Rollback(ctx); err != nil {
				subLog.Error().Stack().Err(err).Msg("could not rollback transaction")
			}
			return err
		}
	}

	if err := trx.Commit(ctx); err != nil {
		subLog.Error().Stack().Err(err).Msg("could not commit activities")
		return err
	}

	pm.activities = []*Activity{}
	return nil
}

// Save writes the portfolio, its wallets, holdings, and transactions to the
// database
func (pm *Model) Save(ctx context.Context) error {
	p := pm.Portfolio
	subLog := log.With().Str("PortfolioName", p.Name).Str("PortfolioID", p.ID.String()).Logger()
	subLog.Info().Msg("saving portfolio")

	if p.UserID == "" {
		subLog.Error().Stack().Msg("user id empty")
		return ErrEmptyUserID
	}

	trx, err := database.TrxForUser(ctx, p.UserID)
	if err != nil {
		subLog.Error().Stack().Err(err).Msg("unable to get database transaction")
		return err
	}

	if err := pm.SaveWithTransaction(ctx, trx); err != nil {
		subLog.Error().Stack().Err(err).Msg("could not save portfolio")
		if err := trx.Rollback(ctx); err != nil {
			subLog.Error().Stack().Err(err).Msg("could not rollback transaction")
		}
		return err
	}

	if err := trx.Commit(ctx); err != nil {
		subLog.Error().Stack().Err(err).Msg("could not commit portfolio")
		return err
	}

	return nil
}

// SaveWithTransaction writes the portfolio and everything hanging off of it
// using the supplied database transaction. The caller owns the commit.
func (pm *Model) SaveWithTransaction(ctx context.Context, trx pgx.Tx) error {
	p := pm.Portfolio

	portfolioSQL := `INSERT INTO portfolios (
		"id",
		"user_id",
		"name",
		"sync_schedule",
		"notifications",
		"total_value",
		"initial_value",
		"previous_day_value",
		"previous_week_value",
		"previous_month_value",
		"all_time_high",
		"all_time_high_date",
		"all_time_low",
		"all_time_low_date",
		"last_synced",
		"lastchanged"
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8,
		$9, $10, $11, $12, $13, $14, $15, now()
	) ON CONFLICT ON CONSTRAINT portfolios_pkey
	DO UPDATE SET
		name=$3,
		sync_schedule=$4,
		notifications=$5,
		total_value=$6,
		initial_value=$7,
		previous_day_value=$8,
		previous_week_value=$9,
		previous_month_value=$10,
		all_time_high=$11,
		all_time_high_date=$12,
		all_time_low=$13,
		all_time_low_date=$14,
		last_synced=$15,
		lastchanged=now()`

	_, err := trx.Exec(ctx, portfolioSQL,
		p.ID,                                   // 1
		p.UserID,                               // 2
		p.Name,                                 // 3
		p.SyncSchedule,                         // 4
		p.Notifications,                        // 5
		roundCurrency(p.TotalValue),            // 6
		nullableCurrency(p.InitialValue),       // 7
		nullableCurrency(p.PreviousDayValue),   // 8
		nullableCurrency(p.PreviousWeekValue),  // 9
		nullableCurrency(p.PreviousMonthValue), // 10
		nullableCurrency(p.AllTimeHigh),        // 11
		nullableDate(p.AllTimeHighDate),        // 12
		nullableCurrency(p.AllTimeLow),         // 13
		nullableDate(p.AllTimeLowDate),         // 14
		nullableTime(p.LastSynced),             // 15
	)
	if err != nil {
		log.Error().Stack().Err(err).Str("PortfolioID", p.ID.String()).Msg("could not save portfolio row")
		return err
	}

	if err := pm.saveWallets(ctx, trx); err != nil {
		return err
	}

	return pm.saveTransactions(ctx, trx)
}

func (pm *Model) saveWallets(ctx context.Context, trx pgx.Tx) error {
	p := pm.Portfolio

	walletSQL := `INSERT INTO wallets (
		"id",
		"portfolio_id",
		"user_id",
		"chain",
		"address",
		"label",
		"native_balance",
		"total_value",
		"last_synced",
		"lastchanged"
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, now()
	) ON CONFLICT ON CONSTRAINT wallets_pkey
	DO UPDATE SET
		label=$6,
		native_balance=$7,
		total_value=$8,
		last_synced=$9,
		lastchanged=now()`

	for _, w := range p.Wallets {
		_, err := trx.Exec(ctx, walletSQL,
			w.ID,                        // 1
			p.ID,                        // 2
			p.UserID,                    // 3
			w.Chain,                     // 4
			w.Address,                   // 5
			nullableString(w.Label),     // 6
			w.NativeBalance,             // 7
			roundCurrency(w.TotalValue), // 8
			nullableTime(w.LastSynced),  // 9
		)
		if err != nil {
			log.Error().Stack().Err(err).Str("WalletID", w.ID.String()).Msg("could not save wallet row")
			return err
		}

		if err := saveWalletTokens(ctx, trx, p.UserID, w); err != nil {
			return err
		}
	}

	return nil
}

// saveWalletTokens replaces the stored token balances for a wallet with the
// holdings captured by the latest sync. Wallets whose refresh failed keep
// their previous holdings because Holdings is nil in that case.
func saveWalletTokens(ctx context.Context, trx pgx.Tx, userID string, w *Wallet) error {
	if w.Holdings == nil {
		return nil
	}

	if _, err := trx.Exec(ctx, `DELETE FROM wallet_tokens WHERE wallet_id=$1`, w.ID); err != nil {
		log.Error().Stack().Err(err).Str("WalletID", w.ID.String()).Msg("could not clear wallet tokens")
		return err
	}

	tokenSQL := `INSERT INTO wallet_tokens (
		"wallet_id",
		"user_id",
		"chain",
		"contract_address",
		"symbol",
		"balance",
		"usd_value",
		"lastchanged"
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, now()
	)`

	for _, h := range w.Holdings {
		_, err := trx.Exec(ctx, tokenSQL,
			w.ID,                   // 1
			userID,                 // 2
			h.Chain,                // 3
			h.ContractAddress,      // 4
			h.Symbol,               // 5
			h.Balance,              // 6
			roundCurrency(h.Value), // 7
		)
		if err != nil {
			log.Error().Stack().Err(err).Str("WalletID", w.ID.String()).Str("Symbol", h.Symbol).Msg("could not save wallet token")
			return err
		}
	}

	return nil
}

func (pm *Model) saveTransactions(ctx context.Context, trx pgx.Tx) error {
	p := pm.Portfolio
	log.Info().Str("PortfolioID", p.ID.String()).Int("NumTransactions", len(p.Transactions)).Msg("saving portfolio transactions")

	transactionSQL := `INSERT INTO transactions (
		"id",
		"portfolio_id",
		"wallet_id",
		"user_id",
		"kind",
		"chain",
		"hash",
		"event_date",
		"counterparty",
		"symbol",
		"contract_address",
		"amount",
		"usd_value",
		"fee",
		"memo",
		"source",
		"source_id",
		"sequence_num",
		"lastchanged"
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
		$11, $12, $13, $14, $15, $16, decode($17, 'hex'), $18, now()
	) ON CONFLICT ON CONSTRAINT transactions_source_id_unq
	DO UPDATE SET
		usd_value=$13,
		fee=$14,
		sequence_num=$18,
		lastchanged=now()`

	for _, t := range p.Transactions {
		if t.SourceID == "" {
			if err := computeTransactionSourceID(t); err != nil {
				log.Warn().Stack().Err(err).Str("TransactionID", t.ID.String()).Msg("could not compute transaction source id")
				return err
			}
		}

		_, err := trx.Exec(ctx, transactionSQL,
			t.ID,                              // 1
			p.ID,                              // 2
			nullableUUID(t.WalletID),          // 3
			p.UserID,                          // 4
			t.Kind,                            // 5
			t.Chain,                           // 6
			t.Hash,                            // 7
			t.Date,                            // 8
			nullableString(t.Counterparty),    // 9
			nullableString(t.Symbol),          // 10
			nullableString(t.ContractAddress), // 11
			t.Amount,                          // 12
			roundCurrency(t.UsdValue),         // 13
			t.Fee,                             // 14
			nullableString(t.Memo),            // 15
			t.Source,                          // 16
			t.SourceID,                        // 17
			t.SequenceNum,                     // 18
		)
		if err != nil {
			log.Warn().Stack().Err(err).Str("TransactionID", t.ID.String()).Str("Kind", t.Kind).Msg("could not save transaction")
			return err
		}
	}

	return nil
}

// computeTransactionSourceID calculates a stable id from the fields that
// identify an on-chain event. Two syncs that see the same event always derive
// the same id.
func computeTransactionSourceID(t *Transaction) error {
	h := blake3.New()

	if _, err := h.Write([]byte(t.Chain)); err != nil {
		return err
	}
	if _, err := h.Write([]byte(t.Hash)); err != nil {
		return err
	}
	if _, err := h.Write([]byte(t.ContractAddress)); err != nil {
		return err
	}
	if _, err := h.Write([]byte(t.Counterparty)); err != nil {
		return err
	}
	if _, err := h.Write([]byte(t.Kind)); err != nil {
		return err
	}
	if _, err := h.Write([]byte(t.Amount.String())); err != nil {
		return err
	}

	digest := h.Digest()
	buf := make([]byte, 16)
	n, err := digest.Read(buf)
	if err != nil {
		return err
	}
	if n != 16 {
		return ErrGenerateHash
	}

	t.SourceID = hex.EncodeToString(buf)
	return nil
}

// MarshalJSON renders unset checkpoint and extrema values as null. The zero
// value cannot stand in for them because 0 is a legitimate portfolio value.
func (p *Portfolio) MarshalJSON() ([]byte, error) {
	type alias Portfolio
	return json.Marshal(&struct {
		*alias
		InitialValue       *float64   `json:"initialValue"`
		PreviousDayValue   *float64   `json:"previousDayValue"`
		PreviousWeekValue  *float64   `json:"previousWeekValue"`
		PreviousMonthValue *float64   `json:"previousMonthValue"`
		AllTimeHigh        *float64   `json:"allTimeHigh"`
		AllTimeHighDate    *time.Time `json:"allTimeHighDate"`
		AllTimeLow         *float64   `json:"allTimeLow"`
		AllTimeLowDate     *time.Time `json:"allTimeLowDate"`
		LastSynced         *time.Time `json:"lastSynced"`
	}{
		alias:              (*alias)(p),
		InitialValue:       jsonFloat(p.InitialValue),
		PreviousDayValue:   jsonFloat(p.PreviousDayValue),
		PreviousWeekValue:  jsonFloat(p.PreviousWeekValue),
		PreviousMonthValue: jsonFloat(p.PreviousMonthValue),
		AllTimeHigh:        jsonFloat(p.AllTimeHigh),
		AllTimeHighDate:    jsonTime(p.AllTimeHighDate),
		AllTimeLow:         jsonFloat(p.AllTimeLow),
		AllTimeLowDate:     jsonTime(p.AllTimeLowDate),
		LastSynced:         jsonTime(p.LastSynced),
	})
}

func jsonFloat(v float64) *float64 {
	if math.IsNaN(v) {
		return nil
	}
	return &v
}

func jsonTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func roundCurrency(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(2)
}

func nullableCurrency(v float64) interface{} {
	if math.IsNaN(v) {
		return nil
	}
	return roundCurrency(v)
}

func nullableDate(d time.Time) interface{} {
	if d.IsZero() {
		return nil
	}
	return d
}

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableUUID(id uuid.UUID) interface{} {
	if id == uuid.Nil {
		return nil
	}
	return id
}

func floatOrNaN(v pgtype.Float8) float64 {
	if v.Status == pgtype.Present {
		return v.Float
	}
	return math.NaN()
}

func textOrEmpty(v pgtype.Text) string {
	if v.Status == pgtype.Present {
		return v.String
	}
	return ""
}

func dateOrZero(v pgtype.Date) time.Time {
	if v.Status == pgtype.Present {
		return v.Time
	}
	return time.Time{}
}

func timeOrZero(v pgtype.Timestamptz) time.Time {
	if v.Status == pgtype.Present {
		return v.Time
	}
	return time.Time{}
}
