package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	insertCashAssetSQL = `INSERT INTO cash_assets (currency, amount, home_value, updated_at)
    VALUES ($1,$2,$3,$4)
    RETURNING id;`

	updateCashAssetSQL = `UPDATE cash_assets
    SET currency = $2, amount = $3, home_value = $4, updated_at = $5
    WHERE id = $1;`

	deleteCashAssetSQL = `DELETE FROM cash_assets WHERE id = $1;`

	listCashAssetsSQL = `SELECT id, currency, amount, home_value, updated_at
    FROM cash_assets
    ORDER BY currency, id;`

	revalueCashByCurrencySQL = `UPDATE cash_assets
    SET home_value = amount * $2, updated_at = $3
    WHERE currency = $1;`

	insertStockAssetSQL = `INSERT INTO stock_assets (symbol, name, shares, market, price, currency, home_value, updated_at)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
    RETURNING id;`

	updateStockAssetSQL = `UPDATE stock_assets
    SET symbol = $2, name = $3, shares = $4, market = $5, price = $6, currency = $7, home_value = $8, updated_at = $9
    WHERE id = $1;`

	deleteStockAssetSQL = `DELETE FROM stock_assets WHERE id = $1;`

	listStockAssetsSQL = `SELECT id, symbol, name, shares, market, price, currency, home_value, updated_at
    FROM stock_assets
    ORDER BY symbol, id;`

	listStockSymbolsSQL = `SELECT DISTINCT symbol FROM stock_assets ORDER BY symbol;`

	listCashCurrenciesSQL = `SELECT DISTINCT currency FROM cash_assets ORDER BY currency;`

	revalueStockBySymbolSQL = `UPDATE stock_assets
    SET price = $2, home_value = shares * $2 * $3, updated_at = $4
    WHERE symbol = $1;`

	upsertExchangeRateSQL = `INSERT INTO exchange_rates (pair, rate, updated_at)
    VALUES ($1,$2,$3)
    ON CONFLICT (pair) DO UPDATE
    SET rate = EXCLUDED.rate,
        updated_at = EXCLUDED.updated_at;`

	getExchangeRateSQL = `SELECT pair, rate, updated_at FROM exchange_rates WHERE pair = $1;`

	listExchangeRatesSQL = `SELECT pair, rate, updated_at FROM exchange_rates ORDER BY pair;`

	sumCashHomeSQL  = `SELECT COALESCE(SUM(home_value), 0) FROM cash_assets;`
	sumStockHomeSQL = `SELECT COALESCE(SUM(home_value), 0) FROM stock_assets;`

	insertSnapshotSQL = `INSERT INTO networth_snapshots (snapshot_ts, total, degraded)
    VALUES ($1,$2,$3)
    ON CONFLICT (snapshot_ts) DO UPDATE
    SET total = EXCLUDED.total,
        degraded = EXCLUDED.degraded;`

	listSnapshotsBetweenSQL = `SELECT snapshot_ts, total, degraded
    FROM networth_snapshots
    WHERE snapshot_ts >= $1
      AND snapshot_ts < $2
    ORDER BY snapshot_ts;`

	listRecentSnapshotsSQL = `SELECT snapshot_ts, total, degraded
    FROM networth_snapshots
    ORDER BY snapshot_ts DESC
    LIMIT $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// AssetStore defines operations for the user's holdings.
type AssetStore interface {
	InsertCashAsset(ctx context.Context, asset CashAsset) (int64, error)
	UpdateCashAsset(ctx context.Context, asset CashAsset) error
	DeleteCashAsset(ctx context.Context, id int64) error
	ListCashAssets(ctx context.Context) ([]CashAsset, error)
	ListCashCurrencies(ctx context.Context) ([]string, error)
	RevalueCashByCurrency(ctx context.Context, currency string, homeRate decimal.Decimal) error

	InsertStockAsset(ctx context.Context, asset StockAsset) (int64, error)
	UpdateStockAsset(ctx context.Context, asset StockAsset) error
	DeleteStockAsset(ctx context.Context, id int64) error
	ListStockAssets(ctx context.Context) ([]StockAsset, error)
	ListStockSymbols(ctx context.Context) ([]string, error)
	RevalueStockBySymbol(ctx context.Context, symbol string, price, homeRate decimal.Decimal) error

	TotalHomeValue(ctx context.Context) (decimal.Decimal, error)
}

// RateStore defines operations for persisted exchange rates.
type RateStore interface {
	UpsertExchangeRate(ctx context.Context, row ExchangeRateRow) error
	GetExchangeRate(ctx context.Context, pair string) (ExchangeRateRow, error)
	ListExchangeRates(ctx context.Context) ([]ExchangeRateRow, error)
}

// SnapshotStore defines operations for net-worth history.
type SnapshotStore interface {
	InsertSnapshot(ctx context.Context, snap NetWorthSnapshot) error
	ListSnapshotsBetween(ctx context.Context, from, to time.Time) ([]NetWorthSnapshot, error)
	ListRecentSnapshots(ctx context.Context, limit int) ([]NetWorthSnapshot, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to holdings, rates, cache entries, and snapshots.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// unlock is best effort; releasing the connection drops the lock anyway
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// InsertCashAsset persists a new cash holding.
func (s *Store) InsertCashAsset(ctx context.Context, asset CashAsset) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var id int64
	if err := pool.QueryRow(ctx, insertCashAssetSQL,
		asset.Currency,
		asset.Amount.String(),
		asset.HomeValue.String(),
		asset.UpdatedAt,
	).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert cash asset: %w", err)
	}
	return id, nil
}

// UpdateCashAsset mutates an existing cash holding.
func (s *Store) UpdateCashAsset(ctx context.Context, asset CashAsset) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	tag, execErr := pool.Exec(ctx, updateCashAssetSQL,
		asset.ID,
		asset.Currency,
		asset.Amount.String(),
		asset.HomeValue.String(),
		asset.UpdatedAt,
	)
	if execErr != nil {
		return fmt.Errorf("update cash asset: %w", execErr)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// DeleteCashAsset removes a cash holding.
func (s *Store) DeleteCashAsset(ctx context.Context, id int64) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteCashAssetSQL, id); execErr != nil {
		return fmt.Errorf("delete cash asset: %w", execErr)
	}
	return nil
}

// ListCashAssets lists cash holdings ordered by currency.
func (s *Store) ListCashAssets(ctx context.Context) ([]CashAsset, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listCashAssetsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list cash assets: %w", queryErr)
	}
	defer rows.Close()

	assets := make([]CashAsset, 0)
	for rows.Next() {
		var (
			asset     CashAsset
			amountStr string
			homeStr   string
		)
		if err := rows.Scan(&asset.ID, &asset.Currency, &amountStr, &homeStr, &asset.UpdatedAt); err != nil {
			return nil, err
		}
		if asset.Amount, err = decimal.NewFromString(amountStr); err != nil {
			return nil, fmt.Errorf("parse cash amount: %w", err)
		}
		if asset.HomeValue, err = decimal.NewFromString(homeStr); err != nil {
			return nil, fmt.Errorf("parse cash home value: %w", err)
		}
		assets = append(assets, asset)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return assets, nil
}

// ListCashCurrencies lists distinct currencies held as cash.
func (s *Store) ListCashCurrencies(ctx context.Context) ([]string, error) {
	return s.listStrings(ctx, listCashCurrenciesSQL)
}

// RevalueCashByCurrency recomputes home values for every holding in one
// currency inside a single transaction.
func (s *Store) RevalueCashByCurrency(ctx context.Context, currency string, homeRate decimal.Decimal) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin revalue cash: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, revalueCashByCurrencySQL, currency, homeRate.String(), time.Now().UTC()); err != nil {
		return fmt.Errorf("revalue cash %s: %w", currency, err)
	}
	return tx.Commit(ctx)
}

// InsertStockAsset persists a new stock position.
func (s *Store) InsertStockAsset(ctx context.Context, asset StockAsset) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var id int64
	if err := pool.QueryRow(ctx, insertStockAssetSQL,
		asset.Symbol,
		asset.Name,
		asset.Shares.String(),
		asset.Market,
		asset.Price.String(),
		asset.Currency,
		asset.HomeValue.String(),
		asset.UpdatedAt,
	).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert stock asset: %w", err)
	}
	return id, nil
}

// UpdateStockAsset mutates an existing stock position.
func (s *Store) UpdateStockAsset(ctx context.Context, asset StockAsset) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	tag, execErr := pool.Exec(ctx, updateStockAssetSQL,
		asset.ID,
		asset.Symbol,
		asset.Name,
		asset.Shares.String(),
		asset.Market,
		asset.Price.String(),
		asset.Currency,
		asset.HomeValue.String(),
		asset.UpdatedAt,
	)
	if execErr != nil {
		return fmt.Errorf("update stock asset: %w", execErr)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// DeleteStockAsset removes a stock position.
func (s *Store) DeleteStockAsset(ctx context.Context, id int64) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteStockAssetSQL, id); execErr != nil {
		return fmt.Errorf("delete stock asset: %w", execErr)
	}
	return nil
}

// ListStockAssets lists stock positions ordered by symbol.
func (s *Store) ListStockAssets(ctx context.Context) ([]StockAsset, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listStockAssetsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list stock assets: %w", queryErr)
	}
	defer rows.Close()

	assets := make([]StockAsset, 0)
	for rows.Next() {
		asset, scanErr := scanStockAsset(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		assets = append(assets, asset)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return assets, nil
}

// ListStockSymbols lists distinct held symbols.
func (s *Store) ListStockSymbols(ctx context.Context) ([]string, error) {
	return s.listStrings(ctx, listStockSymbolsSQL)
}

// RevalueStockBySymbol updates the price and home value of every position in
// symbol inside a single transaction: either both columns change or neither.
func (s *Store) RevalueStockBySymbol(ctx context.Context, symbol string, price, homeRate decimal.Decimal) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin revalue stock: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, revalueStockBySymbolSQL, symbol, price.String(), homeRate.String(), time.Now().UTC()); err != nil {
		return fmt.Errorf("revalue stock %s: %w", symbol, err)
	}
	return tx.Commit(ctx)
}

// TotalHomeValue sums cash and stock home-currency values.
func (s *Store) TotalHomeValue(ctx context.Context) (decimal.Decimal, error) {
	pool, err := s.getPool()
	if err != nil {
		return decimal.Zero, err
	}

	var cashStr, stockStr string
	if err := pool.QueryRow(ctx, sumCashHomeSQL).Scan(&cashStr); err != nil {
		return decimal.Zero, fmt.Errorf("sum cash home value: %w", err)
	}
	if err := pool.QueryRow(ctx, sumStockHomeSQL).Scan(&stockStr); err != nil {
		return decimal.Zero, fmt.Errorf("sum stock home value: %w", err)
	}

	cash, err := decimal.NewFromString(cashStr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse cash total: %w", err)
	}
	stock, err := decimal.NewFromString(stockStr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse stock total: %w", err)
	}
	return cash.Add(stock), nil
}

// UpsertExchangeRate persists or replaces one currency pair.
func (s *Store) UpsertExchangeRate(ctx context.Context, row ExchangeRateRow) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, upsertExchangeRateSQL, row.Pair, row.Rate.String(), row.UpdatedAt); execErr != nil {
		return fmt.Errorf("upsert exchange rate: %w", execErr)
	}
	return nil
}

// GetExchangeRate loads one pair; pgx.ErrNoRows when absent.
func (s *Store) GetExchangeRate(ctx context.Context, pair string) (ExchangeRateRow, error) {
	pool, err := s.getPool()
	if err != nil {
		return ExchangeRateRow{}, err
	}

	var (
		row     ExchangeRateRow
		rateStr string
	)
	if err := pool.QueryRow(ctx, getExchangeRateSQL, pair).Scan(&row.Pair, &rateStr, &row.UpdatedAt); err != nil {
		return ExchangeRateRow{}, err
	}
	if row.Rate, err = decimal.NewFromString(rateStr); err != nil {
		return ExchangeRateRow{}, fmt.Errorf("parse exchange rate: %w", err)
	}
	return row, nil
}

// ListExchangeRates lists all persisted pairs.
func (s *Store) ListExchangeRates(ctx context.Context) ([]ExchangeRateRow, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listExchangeRatesSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list exchange rates: %w", queryErr)
	}
	defer rows.Close()

	rates := make([]ExchangeRateRow, 0)
	for rows.Next() {
		var (
			row     ExchangeRateRow
			rateStr string
		)
		if err := rows.Scan(&row.Pair, &rateStr, &row.UpdatedAt); err != nil {
			return nil, err
		}
		if row.Rate, err = decimal.NewFromString(rateStr); err != nil {
			return nil, fmt.Errorf("parse exchange rate: %w", err)
		}
		rates = append(rates, row)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return rates, nil
}

// InsertSnapshot persists a net-worth observation.
func (s *Store) InsertSnapshot(ctx context.Context, snap NetWorthSnapshot) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, insertSnapshotSQL, snap.Time, snap.Total.String(), snap.Degraded); execErr != nil {
		return fmt.Errorf("insert snapshot: %w", execErr)
	}
	return nil
}

// ListSnapshotsBetween lists snapshots within a time window.
func (s *Store) ListSnapshotsBetween(ctx context.Context, from, to time.Time) ([]NetWorthSnapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSnapshotsBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list snapshots between: %w", queryErr)
	}
	defer rows.Close()

	return collectSnapshots(rows)
}

// ListRecentSnapshots lists the most recent snapshots, newest first.
func (s *Store) ListRecentSnapshots(ctx context.Context, limit int) ([]NetWorthSnapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentSnapshotsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent snapshots: %w", queryErr)
	}
	defer rows.Close()

	return collectSnapshots(rows)
}

func collectSnapshots(rows pgx.Rows) ([]NetWorthSnapshot, error) {
	snaps := make([]NetWorthSnapshot, 0)
	for rows.Next() {
		var (
			snap     NetWorthSnapshot
			totalStr string
		)
		if err := rows.Scan(&snap.Time, &totalStr, &snap.Degraded); err != nil {
			return nil, err
		}
		total, err := decimal.NewFromString(totalStr)
		if err != nil {
			return nil, fmt.Errorf("parse snapshot total: %w", err)
		}
		snap.Total = total
		snaps = append(snaps, snap)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return snaps, nil
}

func (s *Store) listStrings(ctx context.Context, sql string) ([]string, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, sql)
	if queryErr != nil {
		return nil, fmt.Errorf("list strings: %w", queryErr)
	}
	defer rows.Close()

	values := make([]string, 0)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return values, nil
}

func scanStockAsset(rows pgx.Rows) (StockAsset, error) {
	var (
		asset     StockAsset
		sharesStr string
		priceStr  string
		homeStr   string
	)
	if err := rows.Scan(
		&asset.ID,
		&asset.Symbol,
		&asset.Name,
		&sharesStr,
		&asset.Market,
		&priceStr,
		&asset.Currency,
		&homeStr,
		&asset.UpdatedAt,
	); err != nil {
		return StockAsset{}, err
	}

	var err error
	if asset.Shares, err = decimal.NewFromString(sharesStr); err != nil {
		return StockAsset{}, fmt.Errorf("parse shares: %w", err)
	}
	if asset.Price, err = decimal.NewFromString(priceStr); err != nil {
		return StockAsset{}, fmt.Errorf("parse price: %w", err)
	}
	if asset.HomeValue, err = decimal.NewFromString(homeStr); err != nil {
		return StockAsset{}, fmt.Errorf("parse home value: %w", err)
	}
	return asset, nil
}
