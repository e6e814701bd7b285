package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"bakeledger/backend/internal/domain"
	"bakeledger/backend/internal/ledger"
	"bakeledger/backend/internal/store"
	"bakeledger/backend/internal/xid"
)

// Store is the postgres Repository. Every mutation runs in one transaction
// with pessimistic row locks on stock_items: the row is read FOR UPDATE, the
// new value is computed in application code (ledger package), and written
// back. Multi-row operations lock in ascending item-id order so concurrent
// sales sharing products cannot deadlock. Lock waits are bounded by a
// per-transaction lock_timeout and surface as store.ErrConflict.
type Store struct {
	db          *sql.DB
	lockTimeout time.Duration
}

func New(ctx context.Context, databaseURL string, lockTimeout time.Duration) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if lockTimeout <= 0 {
		lockTimeout = 3 * time.Second
	}

	return &Store{db: db, lockTimeout: lockTimeout}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) beginTx(ctx context.Context) (*sql.Tx, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	// bounded lock waits: a blocked FOR UPDATE fails with 55P03 instead of
	// queueing indefinitely
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())); err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	return tx, nil
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03", "40001", "40P01":
			return store.ErrConflict
		case "23505":
			return store.ErrDuplicate
		}
	}
	return err
}

const stockItemColumns = `id, name, kind, unit, current_stock, reorder_point, average_cost_per_unit, last_purchased_price, selling_price, active, updated_at`

func scanStockItem(row interface{ Scan(...any) error }) (*domain.StockItem, error) {
	var item domain.StockItem
	err := row.Scan(
		&item.ID, &item.Name, &item.Kind, &item.Unit,
		&item.CurrentStock, &item.ReorderPoint,
		&item.AverageCostPerUnit, &item.LastPurchasedPrice,
		&item.SellingPrice, &item.Active, &item.UpdatedAt,
	)
	if err != nil {
		return nil, mapError(err)
	}
	return &item, nil
}

func (s *Store) CreateStockItem(ctx context.Context, item domain.StockItem) (*domain.StockItem, error) {
	if item.ID == "" {
		item.ID = xid.New("itm")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stock_items (id, name, kind, unit, current_stock, reorder_point, average_cost_per_unit, last_purchased_price, selling_price, active, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,now())
	`, item.ID, item.Name, item.Kind, item.Unit, item.CurrentStock, item.ReorderPoint,
		item.AverageCostPerUnit, item.LastPurchasedPrice, item.SellingPrice, item.Active)
	if err != nil {
		return nil, mapError(err)
	}
	return s.GetStockItem(ctx, item.ID)
}

func (s *Store) GetStockItem(ctx context.Context, id string) (*domain.StockItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+stockItemColumns+` FROM stock_items WHERE id = $1`, id)
	return scanStockItem(row)
}

func (s *Store) ListStockItems(ctx context.Context, kind domain.ItemKind) ([]domain.StockItem, error) {
	query := `SELECT ` + stockItemColumns + ` FROM stock_items`
	args := []any{}
	if kind != "" {
		query += ` WHERE kind = $1`
		args = append(args, kind)
	}
	query += ` ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	items := make([]domain.StockItem, 0, 64)
	for rows.Next() {
		item, err := scanStockItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, mapError(rows.Err())
}

// UpdateStockItem writes metadata only; quantity and cost columns belong to
// the event operations.
func (s *Store) UpdateStockItem(ctx context.Context, item domain.StockItem) (*domain.StockItem, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE stock_items
		SET name = $1, reorder_point = $2, selling_price = $3, active = $4, updated_at = now()
		WHERE id = $5
	`, item.Name, item.ReorderPoint, item.SellingPrice, item.Active, item.ID)
	if err != nil {
		return nil, mapError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetStockItem(ctx, item.ID)
}

func (s *Store) ListLowStockItems(ctx context.Context) ([]domain.StockItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+stockItemColumns+`
		FROM stock_items
		WHERE kind = $1 AND current_stock <= reorder_point
		ORDER BY name
	`, domain.KindRawIngredient)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	items := make([]domain.StockItem, 0, 16)
	for rows.Next() {
		item, err := scanStockItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, mapError(rows.Err())
}

func (s *Store) lockStockItem(ctx context.Context, tx *sql.Tx, id string) (*domain.StockItem, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+stockItemColumns+` FROM stock_items WHERE id = $1 FOR UPDATE`, id)
	return scanStockItem(row)
}

// lockStockItems locks the given rows in ascending id order and returns them
// keyed by id. Missing ids surface as store.ErrNotFound.
func (s *Store) lockStockItems(ctx context.Context, tx *sql.Tx, ids []string) (map[string]domain.StockItem, error) {
	unique := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}
	sort.Strings(unique)

	rows, err := tx.QueryContext(ctx, `
		SELECT `+stockItemColumns+`
		FROM stock_items
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE
	`, unique)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	items := make(map[string]domain.StockItem, len(unique))
	for rows.Next() {
		item, err := scanStockItem(rows)
		if err != nil {
			return nil, err
		}
		items[item.ID] = *item
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	if len(items) != len(unique) {
		return nil, store.ErrNotFound
	}
	return items, nil
}

func (s *Store) writeStockQuantities(ctx context.Context, tx *sql.Tx, id string, stock decimal.Decimal) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE stock_items SET current_stock = $1, updated_at = now() WHERE id = $2
	`, stock, id)
	return mapError(err)
}

func (s *Store) ApplyPurchase(ctx context.Context, purchase domain.PurchaseEvent) (*domain.PurchaseEvent, error) {
	if purchase.Quantity.Sign() <= 0 {
		return nil, ledger.ErrInvalidQuantity
	}
	if purchase.TotalCost.Sign() < 0 {
		return nil, ledger.ErrInvalidCost
	}

	tx, err := s.beginTx(ctx)
	if err != nil {
		return nil, mapError(err)
	}
	defer func() { _ = tx.Rollback() }()

	applied, err := s.applyPurchaseTx(ctx, tx, purchase)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO purchases (id, item_id, quantity, total_cost, unit_cost, is_anomaly, vendor, notes, purchased_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, applied.ID, applied.ItemID, applied.Quantity, applied.TotalCost, applied.UnitCost,
		applied.IsAnomaly, applied.Vendor, applied.Notes, applied.PurchasedBy, applied.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, mapError(err)
	}
	return applied, nil
}

// applyPurchaseTx folds the purchase into the locked stock item row. The
// caller persists the purchase record.
func (s *Store) applyPurchaseTx(ctx context.Context, tx *sql.Tx, purchase domain.PurchaseEvent) (*domain.PurchaseEvent, error) {
	item, err := s.lockStockItem(ctx, tx, purchase.ItemID)
	if err != nil {
		return nil, err
	}

	purchase.UnitCost = ledger.UnitCost(purchase.TotalCost, purchase.Quantity)
	purchase.IsAnomaly = ledger.IsAnomalous(purchase.UnitCost, item.AverageCostPerUnit)
	newAvg := ledger.NextAverageCost(item.CurrentStock, item.AverageCostPerUnit, purchase.Quantity, purchase.TotalCost)

	_, err = tx.ExecContext(ctx, `
		UPDATE stock_items
		SET current_stock = current_stock + $1,
		    average_cost_per_unit = $2,
		    last_purchased_price = $3,
		    updated_at = now()
		WHERE id = $4
	`, purchase.Quantity, newAvg, purchase.UnitCost, item.ID)
	if err != nil {
		return nil, mapError(err)
	}

	if purchase.ID == "" {
		purchase.ID = xid.New("pur")
	}
	if purchase.CreatedAt.IsZero() {
		purchase.CreatedAt = time.Now().UTC()
	}
	return &purchase, nil
}

const purchaseColumns = `id, item_id, quantity, total_cost, unit_cost, is_anomaly, vendor, notes, purchased_by, created_at`

func scanPurchase(row interface{ Scan(...any) error }) (*domain.PurchaseEvent, error) {
	var p domain.PurchaseEvent
	err := row.Scan(&p.ID, &p.ItemID, &p.Quantity, &p.TotalCost, &p.UnitCost,
		&p.IsAnomaly, &p.Vendor, &p.Notes, &p.PurchasedBy, &p.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &p, nil
}

func (s *Store) GetPurchase(ctx context.Context, id string) (*domain.PurchaseEvent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE id = $1`, id)
	return scanPurchase(row)
}

// ReversePurchase subtracts the purchased quantity and deletes the event.
// average_cost_per_unit is left untouched: the weighted average cannot be
// inverted without the full purchase history, and this ledger does not
// replay history.
func (s *Store) ReversePurchase(ctx context.Context, id string) (*domain.PurchaseEvent, error) {
	tx, err := s.beginTx(ctx)
	if err != nil {
		return nil, mapError(err)
	}
	defer func() { _ = tx.Rollback() }()

	purchase, err := scanPurchase(tx.QueryRowContext(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, err
	}

	item, err := s.lockStockItem(ctx, tx, purchase.ItemID)
	if err != nil {
		return nil, err
	}
	if err := s.writeStockQuantities(ctx, tx, item.ID, item.CurrentStock.Sub(purchase.Quantity)); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM purchases WHERE id = $1`, id); err != nil {
		return nil, mapError(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, mapError(err)
	}
	return purchase, nil
}

// ReplacePurchase is the compensating re-application for purchase edits:
// reverse the old quantity, then apply the replacement (possibly against a
// different item) with a full cost recompute, all in one transaction.
func (s *Store) ReplacePurchase(ctx context.Context, id string, purchase domain.PurchaseEvent) (*domain.PurchaseEvent, error) {
	if purchase.Quantity.Sign() <= 0 {
		return nil, ledger.ErrInvalidQuantity
	}
	if purchase.TotalCost.Sign() < 0 {
		return nil, ledger.ErrInvalidCost
	}

	tx, err := s.beginTx(ctx)
	if err != nil {
		return nil, mapError(err)
	}
	defer func() { _ = tx.Rollback() }()

	old, err := scanPurchase(tx.QueryRowContext(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, err
	}

	items, err := s.lockStockItems(ctx, tx, []string{old.ItemID, purchase.ItemID})
	if err != nil {
		return nil, err
	}

	oldItem := items[old.ItemID]
	if err := s.writeStockQuantities(ctx, tx, oldItem.ID, oldItem.CurrentStock.Sub(old.Quantity)); err != nil {
		return nil, err
	}

	purchase.ID = old.ID
	purchase.CreatedAt = old.CreatedAt
	applied, err := s.applyPurchaseTx(ctx, tx, purchase)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE purchases
		SET item_id = $1, quantity = $2, total_cost = $3, unit_cost = $4, is_anomaly = $5, vendor = $6, notes = $7
		WHERE id = $8
	`, applied.ItemID, applied.Quantity, applied.TotalCost, applied.UnitCost, applied.IsAnomaly, applied.Vendor, applied.Notes, id)
	if err != nil {
		return nil, mapError(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, mapError(err)
	}
	return applied, nil
}

func (s *Store) ListPurchases(ctx context.Context, itemID string, anomaliesOnly bool, since time.Time, limit int) ([]domain.PurchaseEvent, error) {
	query := `SELECT ` + purchaseColumns + ` FROM purchases WHERE 1=1`
	args := []any{}
	if itemID != "" {
		args = append(args, itemID)
		query += fmt.Sprintf(` AND item_id = $%d`, len(args))
	}
	if anomaliesOnly {
		query += ` AND is_anomaly = true`
	}
	if !since.IsZero() {
		args = append(args, since)
		query += fmt.Sprintf(` AND created_at >= $%d`, len(args))
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	purchases := make([]domain.PurchaseEvent, 0, 32)
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		purchases = append(purchases, *p)
	}
	return purchases, mapError(rows.Err())
}

const adjustmentColumns = `id, item_id, quantity_change, reason, notes, actor_name, created_at`

func scanAdjustment(row interface{ Scan(...any) error }) (*domain.AdjustmentEvent, error) {
	var a domain.AdjustmentEvent
	err := row.Scan(&a.ID, &a.ItemID, &a.QuantityChange, &a.Reason, &a.Notes, &a.ActorName, &a.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &a, nil
}

func (s *Store) ApplyAdjustment(ctx context.Context, adjustment domain.AdjustmentEvent) (*domain.AdjustmentEvent, error) {
	tx, err := s.beginTx(ctx)
	if err != nil {
		return nil, mapError(err)
	}
	defer func() { _ = tx.Rollback() }()

	item, err := s.lockStockItem(ctx, tx, adjustment.ItemID)
	if err != nil {
		return nil, err
	}
	// no floor at zero: negative stock records over-consumption awaiting
	// correction
	if err := s.writeStockQuantities(ctx, tx, item.ID, item.CurrentStock.Add(adjustment.QuantityChange)); err != nil {
		return nil, err
	}

	if adjustment.ID == "" {
		adjustment.ID = xid.New("adj")
	}
	if adjustment.CreatedAt.IsZero() {
		adjustment.CreatedAt = time.Now().UTC()
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO adjustments (id, item_id, quantity_change, reason, notes, actor_name, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, adjustment.ID, adjustment.ItemID, adjustment.QuantityChange, adjustment.Reason,
		adjustment.Notes, adjustment.ActorName, adjustment.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, mapError(err)
	}
	applied := adjustment
	return &applied, nil
}

func (s *Store) GetAdjustment(ctx context.Context, id string) (*domain.AdjustmentEvent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+adjustmentColumns+` FROM adjustments WHERE id = $1`, id)
	return scanAdjustment(row)
}

func (s *Store) ReverseAdjustment(ctx context.Context, id string) (*domain.AdjustmentEvent, error) {
	tx, err := s.beginTx(ctx)
	if err != nil {
		return nil, mapError(err)
	}
	defer func() { _ = tx.Rollback() }()

	adjustment, err := scanAdjustment(tx.QueryRowContext(ctx, `SELECT `+adjustmentColumns+` FROM adjustments WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, err
	}
	item, err := s.lockStockItem(ctx, tx, adjustment.ItemID)
	if err != nil {
		return nil, err
	}
	if err := s.writeStockQuantities(ctx, tx, item.ID, item.CurrentStock.Sub(adjustment.QuantityChange)); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM adjustments WHERE id = $1`, id); err != nil {
		return nil, mapError(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, mapError(err)
	}
	return adjustment, nil
}

func (s *Store) ReplaceAdjustment(ctx context.Context, id string, adjustment domain.AdjustmentEvent) (*domain.AdjustmentEvent, error) {
	tx, err := s.beginTx(ctx)
	if err != nil {
		return nil, mapError(err)
	}
	defer func() { _ = tx.Rollback() }()

	old, err := scanAdjustment(tx.QueryRowContext(ctx, `SELECT `+adjustmentColumns+` FROM adjustments WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, err
	}

	items, err := s.lockStockItems(ctx, tx, []string{old.ItemID, adjustment.ItemID})
	if err != nil {
		return nil, err
	}

	oldItem := items[old.ItemID]
	if err := s.writeStockQuantities(ctx, tx, oldItem.ID, oldItem.CurrentStock.Sub(old.QuantityChange)); err != nil {
		return nil, err
	}
	newItem, err := s.lockStockItem(ctx, tx, adjustment.ItemID)
	if err != nil {
		return nil, err
	}
	if err := s.writeStockQuantities(ctx, tx, newItem.ID, newItem.CurrentStock.Add(adjustment.QuantityChange)); err != nil {
		return nil, err
	}

	adjustment.ID = old.ID
	adjustment.CreatedAt = old.CreatedAt
	_, err = tx.ExecContext(ctx, `
		UPDATE adjustments
		SET item_id = $1, quantity_change = $2, reason = $3, notes = $4, actor_name = $5
		WHERE id = $6
	`, adjustment.ItemID, adjustment.QuantityChange, adjustment.Reason, adjustment.Notes, adjustment.ActorName, id)
	if err != nil {
		return nil, mapError(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, mapError(err)
	}
	replaced := adjustment
	return &replaced, nil
}

func (s *Store) ListAdjustments(ctx context.Context, itemID string, limit int) ([]domain.AdjustmentEvent, error) {
	query := `SELECT ` + adjustmentColumns + ` FROM adjustments`
	args := []any{}
	if itemID != "" {
		args = append(args, itemID)
		query += ` WHERE item_id = $1`
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	adjustments := make([]domain.AdjustmentEvent, 0, 32)
	for rows.Next() {
		a, err := scanAdjustment(rows)
		if err != nil {
			return nil, err
		}
		adjustments = append(adjustments, *a)
	}
	return adjustments, mapError(rows.Err())
}

func (s *Store) CreateRecipe(ctx context.Context, recipe domain.Recipe) (*domain.Recipe, error) {
	tx, err := s.beginTx(ctx)
	if err != nil {
		return nil, mapError(err)
	}
	defer func() { _ = tx.Rollback() }()

	if recipe.ID == "" {
		recipe.ID = xid.New("rcp")
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO recipes (id, producible_kind, producible_item_id, standard_yield, instructions)
		VALUES ($1,$2,$3,$4,$5)
	`, recipe.ID, recipe.Producible.Kind, recipe.Producible.ItemID, recipe.StandardYield, recipe.Instructions)
	if err != nil {
		return nil, mapError(err)
	}
	if err := s.insertRecipeLines(ctx, tx, recipe.ID, recipe.Lines); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, mapError(err)
	}
	created := recipe
	return &created, nil
}

func (s *Store) insertRecipeLines(ctx context.Context, tx *sql.Tx, recipeID string, lines []domain.RecipeLine) error {
	for i, line := range lines {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO recipe_lines (recipe_id, position, ingredient_id, quantity_per_yield)
			VALUES ($1,$2,$3,$4)
		`, recipeID, i, line.IngredientID, line.QuantityPerYield)
		if err != nil {
			return mapError(err)
		}
	}
	return nil
}

func (s *Store) GetRecipe(ctx context.Context, id string) (*domain.Recipe, error) {
	var recipe domain.Recipe
	err := s.db.QueryRowContext(ctx, `
		SELECT id, producible_kind, producible_item_id, standard_yield, instructions
		FROM recipes WHERE id = $1
	`, id).Scan(&recipe.ID, &recipe.Producible.Kind, &recipe.Producible.ItemID, &recipe.StandardYield, &recipe.Instructions)
	if err != nil {
		return nil, mapError(err)
	}
	if err := s.loadRecipeLines(ctx, &recipe); err != nil {
		return nil, err
	}
	return &recipe, nil
}

func (s *Store) GetRecipeByProducible(ctx context.Context, ref domain.ProducibleRef) (*domain.Recipe, error) {
	var recipe domain.Recipe
	err := s.db.QueryRowContext(ctx, `
		SELECT id, producible_kind, producible_item_id, standard_yield, instructions
		FROM recipes WHERE producible_kind = $1 AND producible_item_id = $2
	`, ref.Kind, ref.ItemID).Scan(&recipe.ID, &recipe.Producible.Kind, &recipe.Producible.ItemID, &recipe.StandardYield, &recipe.Instructions)
	if err != nil {
		return nil, mapError(err)
	}
	if err := s.loadRecipeLines(ctx, &recipe); err != nil {
		return nil, err
	}
	return &recipe, nil
}

func (s *Store) loadRecipeLines(ctx context.Context, recipe *domain.Recipe) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ingredient_id, quantity_per_yield
		FROM recipe_lines WHERE recipe_id = $1 ORDER BY position
	`, recipe.ID)
	if err != nil {
		return mapError(err)
	}
	defer rows.Close()

	for rows.Next() {
		var line domain.RecipeLine
		if err := rows.Scan(&line.IngredientID, &line.QuantityPerYield); err != nil {
			return mapError(err)
		}
		recipe.Lines = append(recipe.Lines, line)
	}
	return mapError(rows.Err())
}

// UpdateRecipe replaces the full line set.
func (s *Store) UpdateRecipe(ctx context.Context, recipe domain.Recipe) (*domain.Recipe, error) {
	tx, err := s.beginTx(ctx)
	if err != nil {
		return nil, mapError(err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE recipes
		SET producible_kind = $1, producible_item_id = $2, standard_yield = $3, instructions = $4
		WHERE id = $5
	`, recipe.Producible.Kind, recipe.Producible.ItemID, recipe.StandardYield, recipe.Instructions, recipe.ID)
	if err != nil {
		return nil, mapError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM recipe_lines WHERE recipe_id = $1`, recipe.ID); err != nil {
		return nil, mapError(err)
	}
	if err := s.insertRecipeLines(ctx, tx, recipe.ID, recipe.Lines); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, mapError(err)
	}
	updated := recipe
	return &updated, nil
}

func (s *Store) ListRecipes(ctx context.Context) ([]domain.Recipe, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, producible_kind, producible_item_id, standard_yield, instructions
		FROM recipes ORDER BY id
	`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	recipes := make([]domain.Recipe, 0, 16)
	for rows.Next() {
		var recipe domain.Recipe
		if err := rows.Scan(&recipe.ID, &recipe.Producible.Kind, &recipe.Producible.ItemID, &recipe.StandardYield, &recipe.Instructions); err != nil {
			return nil, mapError(err)
		}
		recipes = append(recipes, recipe)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}

	for i := range recipes {
		if err := s.loadRecipeLines(ctx, &recipes[i]); err != nil {
			return nil, err
		}
	}
	return recipes, nil
}

func (s *Store) CommitProduction(ctx context.Context, run domain.ProductionEvent) (*domain.ProductionEvent, error) {
	tx, err := s.beginTx(ctx)
	if err != nil {
		return nil, mapError(err)
	}
	defer func() { _ = tx.Rollback() }()

	ids := make([]string, 0, len(run.Lines)+1)
	ids = append(ids, run.Producible.ItemID)
	for _, line := range run.Lines {
		ids = append(ids, line.IngredientID)
	}
	items, err := s.lockStockItems(ctx, tx, ids)
	if err != nil {
		return nil, err
	}

	output := items[run.Producible.ItemID]
	if output.Kind != run.Producible.Kind {
		return nil, fmt.Errorf("producible kind mismatch for %s: %w", output.ID, store.ErrUnsupported)
	}
	if err := s.writeStockQuantities(ctx, tx, output.ID, output.CurrentStock.Add(run.QuantityProduced)); err != nil {
		return nil, err
	}
	for _, line := range run.Lines {
		ingredient := items[line.IngredientID]
		if err := s.writeStockQuantities(ctx, tx, ingredient.ID, ingredient.CurrentStock.Sub(line.Actual)); err != nil {
			return nil, err
		}
	}

	if run.ID == "" {
		run.ID = xid.New("run")
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO production_runs (id, recipe_id, producible_kind, producible_item_id, quantity_produced, chef_name, notes, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, run.ID, run.RecipeID, run.Producible.Kind, run.Producible.ItemID, run.QuantityProduced, run.ChefName, run.Notes, run.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	for _, line := range run.Lines {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO consumption_lines (run_id, ingredient_id, theoretical_amount, actual_amount, wastage)
			VALUES ($1,$2,$3,$4,$5)
		`, run.ID, line.IngredientID, line.Theoretical, line.Actual, line.Wastage)
		if err != nil {
			return nil, mapError(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, mapError(err)
	}
	committed := run
	return &committed, nil
}

func (s *Store) GetProduction(ctx context.Context, id string) (*domain.ProductionEvent, error) {
	run, err := s.getProductionRow(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.loadConsumptionLines(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

func (s *Store) getProductionRow(ctx context.Context, id string) (*domain.ProductionEvent, error) {
	var run domain.ProductionEvent
	err := s.db.QueryRowContext(ctx, `
		SELECT id, recipe_id, producible_kind, producible_item_id, quantity_produced, chef_name, notes, created_at
		FROM production_runs WHERE id = $1
	`, id).Scan(&run.ID, &run.RecipeID, &run.Producible.Kind, &run.Producible.ItemID,
		&run.QuantityProduced, &run.ChefName, &run.Notes, &run.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &run, nil
}

func (s *Store) loadConsumptionLines(ctx context.Context, run *domain.ProductionEvent) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ingredient_id, theoretical_amount, actual_amount, wastage
		FROM consumption_lines WHERE run_id = $1 ORDER BY ingredient_id
	`, run.ID)
	if err != nil {
		return mapError(err)
	}
	defer rows.Close()

	for rows.Next() {
		var line domain.ConsumptionLine
		if err := rows.Scan(&line.IngredientID, &line.Theoretical, &line.Actual, &line.Wastage); err != nil {
			return mapError(err)
		}
		run.Lines = append(run.Lines, line)
	}
	return mapError(rows.Err())
}

// ReverseProduction restores every ingredient by its actual consumption and
// removes the produced output, then deletes the run and its lines.
func (s *Store) ReverseProduction(ctx context.Context, id string) (*domain.ProductionEvent, error) {
	tx, err := s.beginTx(ctx)
	if err != nil {
		return nil, mapError(err)
	}
	defer func() { _ = tx.Rollback() }()

	var run domain.ProductionEvent
	err = tx.QueryRowContext(ctx, `
		SELECT id, recipe_id, producible_kind, producible_item_id, quantity_produced, chef_name, notes, created_at
		FROM production_runs WHERE id = $1 FOR UPDATE
	`, id).Scan(&run.ID, &run.RecipeID, &run.Producible.Kind, &run.Producible.ItemID,
		&run.QuantityProduced, &run.ChefName, &run.Notes, &run.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}

	lineRows, err := tx.QueryContext(ctx, `
		SELECT ingredient_id, theoretical_amount, actual_amount, wastage
		FROM consumption_lines WHERE run_id = $1 ORDER BY ingredient_id
	`, id)
	if err != nil {
		return nil, mapError(err)
	}
	for lineRows.Next() {
		var line domain.ConsumptionLine
		if err := lineRows.Scan(&line.IngredientID, &line.Theoretical, &line.Actual, &line.Wastage); err != nil {
			_ = lineRows.Close()
			return nil, mapError(err)
		}
		run.Lines = append(run.Lines, line)
	}
	if err := lineRows.Err(); err != nil {
		_ = lineRows.Close()
		return nil, mapError(err)
	}
	_ = lineRows.Close()

	ids := make([]string, 0, len(run.Lines)+1)
	ids = append(ids, run.Producible.ItemID)
	for _, line := range run.Lines {
		ids = append(ids, line.IngredientID)
	}
	items, err := s.lockStockItems(ctx, tx, ids)
	if err != nil {
		return nil, err
	}

	output := items[run.Producible.ItemID]
	if err := s.writeStockQuantities(ctx, tx, output.ID, output.CurrentStock.Sub(run.QuantityProduced)); err != nil {
		return nil, err
	}
	for _, line := range run.Lines {
		ingredient := items[line.IngredientID]
		if err := s.writeStockQuantities(ctx, tx, ingredient.ID, ingredient.CurrentStock.Add(line.Actual)); err != nil {
			return nil, err
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM consumption_lines WHERE run_id = $1`, id); err != nil {
		return nil, mapError(err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM production_runs WHERE id = $1`, id); err != nil {
		return nil, mapError(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, mapError(err)
	}
	return &run, nil
}

func (s *Store) ListProductionRuns(ctx context.Context, producibleItemID string, since time.Time, limit int) ([]domain.ProductionEvent, error) {
	query := `
		SELECT id, recipe_id, producible_kind, producible_item_id, quantity_produced, chef_name, notes, created_at
		FROM production_runs WHERE 1=1`
	args := []any{}
	if producibleItemID != "" {
		args = append(args, producibleItemID)
		query += fmt.Sprintf(` AND producible_item_id = $%d`, len(args))
	}
	if !since.IsZero() {
		args = append(args, since)
		query += fmt.Sprintf(` AND created_at >= $%d`, len(args))
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	runs := make([]domain.ProductionEvent, 0, 16)
	for rows.Next() {
		var run domain.ProductionEvent
		if err := rows.Scan(&run.ID, &run.RecipeID, &run.Producible.Kind, &run.Producible.ItemID,
			&run.QuantityProduced, &run.ChefName, &run.Notes, &run.CreatedAt); err != nil {
			return nil, mapError(err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}

	for i := range runs {
		if err := s.loadConsumptionLines(ctx, &runs[i]); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

func (s *Store) CreatePaymentMethod(ctx context.Context, method domain.PaymentMethod) (*domain.PaymentMethod, error) {
	if method.ID == "" {
		method.ID = xid.New("pm")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payment_methods (id, name, active, config_details)
		VALUES ($1,$2,$3,$4)
	`, method.ID, method.Name, method.Active, method.ConfigDetails)
	if err != nil {
		return nil, mapError(err)
	}
	created := method
	return &created, nil
}

func (s *Store) ListPaymentMethods(ctx context.Context, activeOnly bool) ([]domain.PaymentMethod, error) {
	query := `SELECT id, name, active, config_details FROM payment_methods`
	if activeOnly {
		query += ` WHERE active = true`
	}
	query += ` ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	methods := make([]domain.PaymentMethod, 0, 8)
	for rows.Next() {
		var method domain.PaymentMethod
		if err := rows.Scan(&method.ID, &method.Name, &method.Active, &method.ConfigDetails); err != nil {
			return nil, mapError(err)
		}
		methods = append(methods, method)
	}
	return methods, mapError(rows.Err())
}

func (s *Store) SetPaymentMethodActive(ctx context.Context, id string, active bool) (*domain.PaymentMethod, error) {
	var method domain.PaymentMethod
	err := s.db.QueryRowContext(ctx, `
		UPDATE payment_methods SET active = $1 WHERE id = $2
		RETURNING id, name, active, config_details
	`, active, id).Scan(&method.ID, &method.Name, &method.Active, &method.ConfigDetails)
	if err != nil {
		return nil, mapError(err)
	}
	return &method, nil
}

// CreateSale commits a multi-line, multi-payment sale as one atomic unit.
// Product rows are locked in ascending id order; any validation failure
// aborts with no stock mutated. Unit prices are snapshotted from the locked
// rows, so the sale is immune to later selling-price changes.
func (s *Store) CreateSale(ctx context.Context, sale domain.SaleEvent) (*domain.SaleEvent, error) {
	if len(sale.Lines) == 0 || len(sale.Payments) == 0 {
		return nil, store.ErrUnsupported
	}

	tx, err := s.beginTx(ctx)
	if err != nil {
		return nil, mapError(err)
	}
	defer func() { _ = tx.Rollback() }()

	ids := make([]string, 0, len(sale.Lines))
	for _, line := range sale.Lines {
		if line.Quantity.Sign() <= 0 {
			return nil, ledger.ErrInvalidQuantity
		}
		ids = append(ids, line.ItemID)
	}
	items, err := s.lockStockItems(ctx, tx, ids)
	if err != nil {
		return nil, err
	}

	total := decimal.Zero
	priced := make([]domain.SaleLine, 0, len(sale.Lines))
	deducted := make(map[string]decimal.Decimal, len(items))
	for _, line := range sale.Lines {
		product := items[line.ItemID]
		if product.Kind != domain.KindFinishedGood {
			return nil, store.ErrNotFound
		}
		if !product.Active {
			return nil, store.ErrProductInactive
		}
		already := deducted[product.ID]
		if product.CurrentStock.Sub(already).LessThan(line.Quantity) {
			return nil, store.ErrInsufficientStock
		}
		deducted[product.ID] = already.Add(line.Quantity)

		subtotal := product.SellingPrice.Mul(line.Quantity).Round(2)
		priced = append(priced, domain.SaleLine{
			ItemID:          line.ItemID,
			Quantity:        line.Quantity,
			UnitPriceAtSale: product.SellingPrice,
			Subtotal:        subtotal,
		})
		total = total.Add(subtotal)
	}

	if err := s.validatePaymentsTx(ctx, tx, sale.Payments, total); err != nil {
		return nil, err
	}

	for id, qty := range deducted {
		item := items[id]
		if err := s.writeStockQuantities(ctx, tx, id, item.CurrentStock.Sub(qty)); err != nil {
			return nil, err
		}
	}

	sale.Lines = priced
	sale.TotalAmount = total
	if sale.ID == "" {
		sale.ID = xid.New("sal")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO sales (id, cashier_name, customer_name, total_amount, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, sale.ID, sale.CashierName, sale.CustomerName, sale.TotalAmount, sale.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	for i, line := range sale.Lines {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sale_lines (sale_id, position, item_id, quantity, unit_price_at_sale, subtotal)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, sale.ID, i, line.ItemID, line.Quantity, line.UnitPriceAtSale, line.Subtotal)
		if err != nil {
			return nil, mapError(err)
		}
	}
	if err := s.insertSalePayments(ctx, tx, sale.ID, sale.Payments); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, mapError(err)
	}
	created := sale
	return &created, nil
}

func (s *Store) validatePaymentsTx(ctx context.Context, tx *sql.Tx, payments []domain.PaymentLine, total decimal.Decimal) error {
	paid := decimal.Zero
	for _, payment := range payments {
		if payment.Amount.Sign() <= 0 {
			return ledger.ErrInvalidPayment
		}
		var active bool
		err := tx.QueryRowContext(ctx, `SELECT active FROM payment_methods WHERE id = $1`, payment.MethodID).Scan(&active)
		if err != nil {
			return mapError(err)
		}
		if !active {
			return store.ErrNotFound
		}
		paid = paid.Add(payment.Amount)
	}
	if paid.LessThan(total) {
		return store.ErrUnderPayment
	}
	return nil
}

func (s *Store) insertSalePayments(ctx context.Context, tx *sql.Tx, saleID string, payments []domain.PaymentLine) error {
	for _, payment := range payments {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sale_payments (sale_id, method_id, amount)
			VALUES ($1,$2,$3)
		`, saleID, payment.MethodID, payment.Amount)
		if err != nil {
			return mapError(err)
		}
	}
	return nil
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.SaleEvent, error) {
	var sale domain.SaleEvent
	err := s.db.QueryRowContext(ctx, `
		SELECT id, cashier_name, customer_name, total_amount, created_at
		FROM sales WHERE id = $1
	`, id).Scan(&sale.ID, &sale.CashierName, &sale.CustomerName, &sale.TotalAmount, &sale.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	if err := s.loadSaleChildren(ctx, &sale); err != nil {
		return nil, err
	}
	return &sale, nil
}

func (s *Store) loadSaleChildren(ctx context.Context, sale *domain.SaleEvent) error {
	lineRows, err := s.db.QueryContext(ctx, `
		SELECT item_id, quantity, unit_price_at_sale, subtotal
		FROM sale_lines WHERE sale_id = $1 ORDER BY position
	`, sale.ID)
	if err != nil {
		return mapError(err)
	}
	for lineRows.Next() {
		var line domain.SaleLine
		if err := lineRows.Scan(&line.ItemID, &line.Quantity, &line.UnitPriceAtSale, &line.Subtotal); err != nil {
			_ = lineRows.Close()
			return mapError(err)
		}
		sale.Lines = append(sale.Lines, line)
	}
	if err := lineRows.Err(); err != nil {
		_ = lineRows.Close()
		return mapError(err)
	}
	_ = lineRows.Close()

	payRows, err := s.db.QueryContext(ctx, `
		SELECT method_id, amount FROM sale_payments WHERE sale_id = $1
	`, sale.ID)
	if err != nil {
		return mapError(err)
	}
	defer payRows.Close()
	for payRows.Next() {
		var payment domain.PaymentLine
		if err := payRows.Scan(&payment.MethodID, &payment.Amount); err != nil {
			return mapError(err)
		}
		sale.Payments = append(sale.Payments, payment)
	}
	return mapError(payRows.Err())
}

// DeleteSale restores each line's quantity onto product stock and removes
// the sale with its lines and payments. The sale row is locked first so two
// concurrent deletes cannot both restock; the loser sees ErrNotFound.
func (s *Store) DeleteSale(ctx context.Context, id string) (*domain.SaleEvent, error) {
	tx, err := s.beginTx(ctx)
	if err != nil {
		return nil, mapError(err)
	}
	defer func() { _ = tx.Rollback() }()

	var sale domain.SaleEvent
	err = tx.QueryRowContext(ctx, `
		SELECT id, cashier_name, customer_name, total_amount, created_at
		FROM sales WHERE id = $1 FOR UPDATE
	`, id).Scan(&sale.ID, &sale.CashierName, &sale.CustomerName, &sale.TotalAmount, &sale.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}

	lineRows, err := tx.QueryContext(ctx, `
		SELECT item_id, quantity, unit_price_at_sale, subtotal
		FROM sale_lines WHERE sale_id = $1 ORDER BY position
	`, id)
	if err != nil {
		return nil, mapError(err)
	}
	for lineRows.Next() {
		var line domain.SaleLine
		if err := lineRows.Scan(&line.ItemID, &line.Quantity, &line.UnitPriceAtSale, &line.Subtotal); err != nil {
			_ = lineRows.Close()
			return nil, mapError(err)
		}
		sale.Lines = append(sale.Lines, line)
	}
	if err := lineRows.Err(); err != nil {
		_ = lineRows.Close()
		return nil, mapError(err)
	}
	_ = lineRows.Close()

	payRows, err := tx.QueryContext(ctx, `
		SELECT method_id, amount FROM sale_payments WHERE sale_id = $1
	`, id)
	if err != nil {
		return nil, mapError(err)
	}
	for payRows.Next() {
		var payment domain.PaymentLine
		if err := payRows.Scan(&payment.MethodID, &payment.Amount); err != nil {
			_ = payRows.Close()
			return nil, mapError(err)
		}
		sale.Payments = append(sale.Payments, payment)
	}
	if err := payRows.Err(); err != nil {
		_ = payRows.Close()
		return nil, mapError(err)
	}
	_ = payRows.Close()

	ids := make([]string, 0, len(sale.Lines))
	for _, line := range sale.Lines {
		ids = append(ids, line.ItemID)
	}
	items, err := s.lockStockItems(ctx, tx, ids)
	if err != nil {
		return nil, err
	}

	restored := make(map[string]decimal.Decimal, len(items))
	for _, line := range sale.Lines {
		restored[line.ItemID] = restored[line.ItemID].Add(line.Quantity)
	}
	for itemID, qty := range restored {
		item := items[itemID]
		if err := s.writeStockQuantities(ctx, tx, itemID, item.CurrentStock.Add(qty)); err != nil {
			return nil, err
		}
	}

	for _, table := range []string{"sale_payments", "sale_lines"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE sale_id = $1`, id); err != nil {
			return nil, mapError(err)
		}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM sales WHERE id = $1`, id)
	if err != nil {
		return nil, mapError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return nil, mapError(err)
	}
	return &sale, nil
}

func (s *Store) ReplaceSalePayments(ctx context.Context, id string, payments []domain.PaymentLine) (*domain.SaleEvent, error) {
	if len(payments) == 0 {
		return nil, store.ErrUnderPayment
	}

	tx, err := s.beginTx(ctx)
	if err != nil {
		return nil, mapError(err)
	}
	defer func() { _ = tx.Rollback() }()

	var total decimal.Decimal
	if err := tx.QueryRowContext(ctx, `SELECT total_amount FROM sales WHERE id = $1 FOR UPDATE`, id).Scan(&total); err != nil {
		return nil, mapError(err)
	}
	if err := s.validatePaymentsTx(ctx, tx, payments, total); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM sale_payments WHERE sale_id = $1`, id); err != nil {
		return nil, mapError(err)
	}
	if err := s.insertSalePayments(ctx, tx, id, payments); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, mapError(err)
	}
	return s.GetSale(ctx, id)
}

func (s *Store) ListSales(ctx context.Context, from, to time.Time, limit int) ([]domain.SaleEvent, error) {
	query := `SELECT id, cashier_name, customer_name, total_amount, created_at FROM sales WHERE 1=1`
	args := []any{}
	if !from.IsZero() {
		args = append(args, from)
		query += fmt.Sprintf(` AND created_at >= $%d`, len(args))
	}
	if !to.IsZero() {
		args = append(args, to)
		query += fmt.Sprintf(` AND created_at <= $%d`, len(args))
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	sales := make([]domain.SaleEvent, 0, 32)
	for rows.Next() {
		var sale domain.SaleEvent
		if err := rows.Scan(&sale.ID, &sale.CashierName, &sale.CustomerName, &sale.TotalAmount, &sale.CreatedAt); err != nil {
			return nil, mapError(err)
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}

	for i := range sales {
		if err := s.loadSaleChildren(ctx, &sales[i]); err != nil {
			return nil, err
		}
	}
	return sales, nil
}

// CloseDay computes the expected total inside the transaction and relies on
// the unique index on daily_closings.date to reject a second closing.
func (s *Store) CloseDay(ctx context.Context, closing domain.DailyClosing) (*domain.DailyClosing, error) {
	tx, err := s.beginTx(ctx)
	if err != nil {
		return nil, mapError(err)
	}
	defer func() { _ = tx.Rollback() }()

	// day boundaries in UTC, matching the memory store's bucketing
	var expected decimal.Decimal
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(total_amount), 0)
		FROM sales
		WHERE (created_at AT TIME ZONE 'UTC')::date = $1::date
	`, closing.Date).Scan(&expected)
	if err != nil {
		return nil, mapError(err)
	}

	declared := closing.TotalCashDeclared.Add(closing.TotalDigitalDeclared)
	closing.TotalSalesExpected = expected
	closing.CashDiscrepancy = declared.Sub(expected)
	if closing.ID == "" {
		closing.ID = xid.New("eod")
	}
	if closing.CreatedAt.IsZero() {
		closing.CreatedAt = time.Now().UTC()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO daily_closings (id, date, closed_by, total_sales_expected, total_cash_declared, total_digital_declared, cash_discrepancy, notes, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, closing.ID, closing.Date, closing.ClosedBy, closing.TotalSalesExpected,
		closing.TotalCashDeclared, closing.TotalDigitalDeclared, closing.CashDiscrepancy,
		closing.Notes, closing.CreatedAt)
	if err != nil {
		if errors.Is(mapError(err), store.ErrDuplicate) {
			return nil, store.ErrAlreadyClosed
		}
		return nil, mapError(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, mapError(err)
	}
	created := closing
	return &created, nil
}

func (s *Store) GetDailyClosing(ctx context.Context, date string) (*domain.DailyClosing, error) {
	var closing domain.DailyClosing
	err := s.db.QueryRowContext(ctx, `
		SELECT id, date, closed_by, total_sales_expected, total_cash_declared, total_digital_declared, cash_discrepancy, notes, created_at
		FROM daily_closings WHERE date = $1
	`, date).Scan(&closing.ID, &closing.Date, &closing.ClosedBy, &closing.TotalSalesExpected,
		&closing.TotalCashDeclared, &closing.TotalDigitalDeclared, &closing.CashDiscrepancy,
		&closing.Notes, &closing.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &closing, nil
}

func (s *Store) SumSalesForDay(ctx context.Context, date string) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(total_amount), 0)
		FROM sales
		WHERE (created_at AT TIME ZONE 'UTC')::date = $1::date
	`, date).Scan(&total)
	if err != nil {
		return decimal.Zero, mapError(err)
	}
	return total, nil
}
