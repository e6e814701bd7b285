package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"bakeledger/backend/internal/domain"
	"bakeledger/backend/internal/ledger"
	"bakeledger/backend/internal/store"
	"bakeledger/backend/internal/xid"
)

// Store is an in-memory Repository used by tests and DB-less runs. A single
// mutex serializes mutations, which gives the same all-or-nothing semantics
// as the postgres transactions: every operation validates fully before it
// writes anything.
type Store struct {
	mu             sync.RWMutex
	items          map[string]domain.StockItem
	purchases      map[string]domain.PurchaseEvent
	adjustments    map[string]domain.AdjustmentEvent
	recipes        map[string]domain.Recipe
	productionRuns map[string]domain.ProductionEvent
	paymentMethods map[string]domain.PaymentMethod
	sales          map[string]domain.SaleEvent
	closingsByDate map[string]domain.DailyClosing
}

func New() *Store {
	return &Store{
		items:          map[string]domain.StockItem{},
		purchases:      map[string]domain.PurchaseEvent{},
		adjustments:    map[string]domain.AdjustmentEvent{},
		recipes:        map[string]domain.Recipe{},
		productionRuns: map[string]domain.ProductionEvent{},
		paymentMethods: map[string]domain.PaymentMethod{},
		sales:          map[string]domain.SaleEvent{},
		closingsByDate: map[string]domain.DailyClosing{},
	}
}

// NewSeeded returns a store preloaded with a small bakery catalog for dev
// and demo runs.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	qty := func(v string) decimal.Decimal { return decimal.RequireFromString(v) }

	for _, item := range []domain.StockItem{
		{ID: "itm-flour", Name: "Wheat Flour", Kind: domain.KindRawIngredient, Unit: domain.UnitKilogram, CurrentStock: qty("120.000"), ReorderPoint: qty("25.000"), AverageCostPerUnit: qty("22.50"), LastPurchasedPrice: qty("23.00")},
		{ID: "itm-sugar", Name: "Sugar", Kind: domain.KindRawIngredient, Unit: domain.UnitKilogram, CurrentStock: qty("40.000"), ReorderPoint: qty("10.000"), AverageCostPerUnit: qty("38.00"), LastPurchasedPrice: qty("38.00")},
		{ID: "itm-butter", Name: "Butter", Kind: domain.KindRawIngredient, Unit: domain.UnitKilogram, CurrentStock: qty("15.000"), ReorderPoint: qty("5.000"), AverageCostPerUnit: qty("240.00"), LastPurchasedPrice: qty("245.00")},
		{ID: "itm-yeast", Name: "Dry Yeast", Kind: domain.KindRawIngredient, Unit: domain.UnitGram, CurrentStock: qty("900.000"), ReorderPoint: qty("200.000"), AverageCostPerUnit: qty("0.45"), LastPurchasedPrice: qty("0.45")},
		{ID: "itm-milk", Name: "Milk", Kind: domain.KindRawIngredient, Unit: domain.UnitLiter, CurrentStock: qty("30.000"), ReorderPoint: qty("12.000"), AverageCostPerUnit: qty("55.00"), LastPurchasedPrice: qty("54.00")},
		{ID: "itm-bread", Name: "Burger Bread", Kind: domain.KindFinishedGood, Unit: domain.UnitPieces, CurrentStock: qty("60.000"), SellingPrice: qty("15.00"), Active: true},
		{ID: "itm-cake", Name: "Sponge Cake", Kind: domain.KindFinishedGood, Unit: domain.UnitPieces, CurrentStock: qty("8.000"), SellingPrice: qty("350.00"), Active: true},
	} {
		item.UpdatedAt = now
		s.items[item.ID] = item
	}

	for _, method := range []domain.PaymentMethod{
		{ID: "pm-cash", Name: "Cash", Active: true},
		{ID: "pm-telebirr", Name: "Telebirr", Active: true, ConfigDetails: "Pay to 0911 000 000"},
	} {
		s.paymentMethods[method.ID] = method
	}

	s.recipes["rcp-bread"] = domain.Recipe{
		ID:            "rcp-bread",
		Producible:    domain.ProducibleRef{Kind: domain.KindFinishedGood, ItemID: "itm-bread"},
		StandardYield: qty("10"),
		Lines: []domain.RecipeLine{
			{IngredientID: "itm-flour", QuantityPerYield: qty("2.500")},
			{IngredientID: "itm-yeast", QuantityPerYield: qty("30.000")},
			{IngredientID: "itm-milk", QuantityPerYield: qty("1.200")},
		},
	}

	return s
}

func (s *Store) CreateStockItem(_ context.Context, item domain.StockItem) (*domain.StockItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.items {
		if strings.EqualFold(existing.Name, item.Name) {
			return nil, store.ErrDuplicate
		}
	}

	if item.ID == "" {
		item.ID = xid.New("itm")
	}
	item.UpdatedAt = time.Now().UTC()
	s.items[item.ID] = item

	created := item
	return &created, nil
}

func (s *Store) GetStockItem(_ context.Context, id string) (*domain.StockItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := item
	return &found, nil
}

func (s *Store) ListStockItems(_ context.Context, kind domain.ItemKind) ([]domain.StockItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.StockItem, 0, len(s.items))
	for _, item := range s.items {
		if kind != "" && item.Kind != kind {
			continue
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items, nil
}

// UpdateStockItem writes metadata only. Stock and cost fields are owned by
// the event operations and are preserved from the stored row.
func (s *Store) UpdateStockItem(_ context.Context, item domain.StockItem) (*domain.StockItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.items[item.ID]
	if !ok {
		return nil, store.ErrNotFound
	}

	existing.Name = item.Name
	existing.ReorderPoint = item.ReorderPoint
	existing.SellingPrice = item.SellingPrice
	existing.Active = item.Active
	existing.UpdatedAt = time.Now().UTC()
	s.items[item.ID] = existing

	updated := existing
	return &updated, nil
}

func (s *Store) ListLowStockItems(_ context.Context) ([]domain.StockItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.StockItem, 0, 8)
	for _, item := range s.items {
		if item.Kind != domain.KindRawIngredient {
			continue
		}
		if ledger.IsLowStock(item.CurrentStock, item.ReorderPoint) {
			items = append(items, item)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items, nil
}

func (s *Store) ApplyPurchase(_ context.Context, purchase domain.PurchaseEvent) (*domain.PurchaseEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	applied, err := s.applyPurchaseLocked(purchase)
	if err != nil {
		return nil, err
	}
	s.purchases[applied.ID] = *applied
	return applied, nil
}

func (s *Store) GetPurchase(_ context.Context, id string) (*domain.PurchaseEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	purchase, ok := s.purchases[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := purchase
	return &found, nil
}

// ReversePurchase subtracts the purchased quantity and deletes the event.
// The running average cost is deliberately left as-is: the weighted average
// is not invertible without replaying the full purchase history, and this
// ledger never replays history.
func (s *Store) ReversePurchase(_ context.Context, id string) (*domain.PurchaseEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	purchase, ok := s.purchases[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if err := s.reversePurchaseLocked(purchase); err != nil {
		return nil, err
	}
	delete(s.purchases, id)

	reversed := purchase
	return &reversed, nil
}

func (s *Store) ReplacePurchase(_ context.Context, id string, purchase domain.PurchaseEvent) (*domain.PurchaseEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.purchases[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if _, exists := s.items[purchase.ItemID]; !exists {
		return nil, store.ErrNotFound
	}

	if err := s.reversePurchaseLocked(old); err != nil {
		return nil, err
	}
	purchase.ID = old.ID
	purchase.CreatedAt = old.CreatedAt
	applied, err := s.applyPurchaseLocked(purchase)
	if err != nil {
		// put the reversed quantity back so the failed replace is a no-op
		item := s.items[old.ItemID]
		item.CurrentStock = item.CurrentStock.Add(old.Quantity)
		s.items[old.ItemID] = item
		return nil, err
	}
	s.purchases[id] = *applied
	return applied, nil
}

func (s *Store) applyPurchaseLocked(purchase domain.PurchaseEvent) (*domain.PurchaseEvent, error) {
	if purchase.Quantity.Sign() <= 0 {
		return nil, ledger.ErrInvalidQuantity
	}
	if purchase.TotalCost.Sign() < 0 {
		return nil, ledger.ErrInvalidCost
	}
	item, ok := s.items[purchase.ItemID]
	if !ok {
		return nil, store.ErrNotFound
	}

	purchase.UnitCost = ledger.UnitCost(purchase.TotalCost, purchase.Quantity)
	purchase.IsAnomaly = ledger.IsAnomalous(purchase.UnitCost, item.AverageCostPerUnit)

	item.AverageCostPerUnit = ledger.NextAverageCost(item.CurrentStock, item.AverageCostPerUnit, purchase.Quantity, purchase.TotalCost)
	item.CurrentStock = item.CurrentStock.Add(purchase.Quantity)
	item.LastPurchasedPrice = purchase.UnitCost
	item.UpdatedAt = time.Now().UTC()
	s.items[item.ID] = item

	if purchase.ID == "" {
		purchase.ID = xid.New("pur")
	}
	if purchase.CreatedAt.IsZero() {
		purchase.CreatedAt = time.Now().UTC()
	}
	applied := purchase
	return &applied, nil
}

func (s *Store) reversePurchaseLocked(purchase domain.PurchaseEvent) error {
	item, ok := s.items[purchase.ItemID]
	if !ok {
		return store.ErrNotFound
	}
	item.CurrentStock = item.CurrentStock.Sub(purchase.Quantity)
	item.UpdatedAt = time.Now().UTC()
	s.items[item.ID] = item
	return nil
}

func (s *Store) ListPurchases(_ context.Context, itemID string, anomaliesOnly bool, since time.Time, limit int) ([]domain.PurchaseEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	purchases := make([]domain.PurchaseEvent, 0, len(s.purchases))
	for _, purchase := range s.purchases {
		if itemID != "" && purchase.ItemID != itemID {
			continue
		}
		if anomaliesOnly && !purchase.IsAnomaly {
			continue
		}
		if !since.IsZero() && purchase.CreatedAt.Before(since) {
			continue
		}
		purchases = append(purchases, purchase)
	}
	sort.Slice(purchases, func(i, j int) bool { return purchases[i].CreatedAt.After(purchases[j].CreatedAt) })
	if limit > 0 && len(purchases) > limit {
		purchases = purchases[:limit]
	}
	return purchases, nil
}

func (s *Store) ApplyAdjustment(_ context.Context, adjustment domain.AdjustmentEvent) (*domain.AdjustmentEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[adjustment.ItemID]
	if !ok {
		return nil, store.ErrNotFound
	}

	// unconditional: stock may go negative to reflect over-consumption
	item.CurrentStock = item.CurrentStock.Add(adjustment.QuantityChange)
	item.UpdatedAt = time.Now().UTC()
	s.items[item.ID] = item

	if adjustment.ID == "" {
		adjustment.ID = xid.New("adj")
	}
	if adjustment.CreatedAt.IsZero() {
		adjustment.CreatedAt = time.Now().UTC()
	}
	s.adjustments[adjustment.ID] = adjustment

	applied := adjustment
	return &applied, nil
}

func (s *Store) GetAdjustment(_ context.Context, id string) (*domain.AdjustmentEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	adjustment, ok := s.adjustments[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := adjustment
	return &found, nil
}

func (s *Store) ReverseAdjustment(_ context.Context, id string) (*domain.AdjustmentEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	adjustment, ok := s.adjustments[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	item, ok := s.items[adjustment.ItemID]
	if !ok {
		return nil, store.ErrNotFound
	}

	item.CurrentStock = item.CurrentStock.Sub(adjustment.QuantityChange)
	item.UpdatedAt = time.Now().UTC()
	s.items[item.ID] = item
	delete(s.adjustments, id)

	reversed := adjustment
	return &reversed, nil
}

func (s *Store) ReplaceAdjustment(_ context.Context, id string, adjustment domain.AdjustmentEvent) (*domain.AdjustmentEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.adjustments[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	item, ok := s.items[adjustment.ItemID]
	if !ok {
		return nil, store.ErrNotFound
	}
	oldItem, ok := s.items[old.ItemID]
	if !ok {
		return nil, store.ErrNotFound
	}

	oldItem.CurrentStock = oldItem.CurrentStock.Sub(old.QuantityChange)
	oldItem.UpdatedAt = time.Now().UTC()
	s.items[oldItem.ID] = oldItem

	item = s.items[adjustment.ItemID]
	item.CurrentStock = item.CurrentStock.Add(adjustment.QuantityChange)
	item.UpdatedAt = time.Now().UTC()
	s.items[item.ID] = item

	adjustment.ID = old.ID
	adjustment.CreatedAt = old.CreatedAt
	s.adjustments[id] = adjustment

	replaced := adjustment
	return &replaced, nil
}

func (s *Store) ListAdjustments(_ context.Context, itemID string, limit int) ([]domain.AdjustmentEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	adjustments := make([]domain.AdjustmentEvent, 0, len(s.adjustments))
	for _, adjustment := range s.adjustments {
		if itemID != "" && adjustment.ItemID != itemID {
			continue
		}
		adjustments = append(adjustments, adjustment)
	}
	sort.Slice(adjustments, func(i, j int) bool { return adjustments[i].CreatedAt.After(adjustments[j].CreatedAt) })
	if limit > 0 && len(adjustments) > limit {
		adjustments = adjustments[:limit]
	}
	return adjustments, nil
}

func (s *Store) CreateRecipe(_ context.Context, recipe domain.Recipe) (*domain.Recipe, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.validateRecipeLocked(recipe); err != nil {
		return nil, err
	}
	for _, existing := range s.recipes {
		if existing.Producible == recipe.Producible {
			return nil, store.ErrDuplicate
		}
	}

	if recipe.ID == "" {
		recipe.ID = xid.New("rcp")
	}
	s.recipes[recipe.ID] = recipe

	created := recipe
	return &created, nil
}

func (s *Store) validateRecipeLocked(recipe domain.Recipe) error {
	producible, ok := s.items[recipe.Producible.ItemID]
	if !ok {
		return store.ErrNotFound
	}
	if producible.Kind != recipe.Producible.Kind {
		return fmt.Errorf("producible kind mismatch for %s: %w", producible.ID, store.ErrUnsupported)
	}
	for _, line := range recipe.Lines {
		ingredient, ok := s.items[line.IngredientID]
		if !ok {
			return store.ErrNotFound
		}
		if ingredient.Kind != domain.KindRawIngredient {
			return fmt.Errorf("recipe line %s is not a raw ingredient: %w", ingredient.ID, store.ErrUnsupported)
		}
	}
	return nil
}

func (s *Store) GetRecipe(_ context.Context, id string) (*domain.Recipe, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recipe, ok := s.recipes[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := recipe
	found.Lines = append([]domain.RecipeLine(nil), recipe.Lines...)
	return &found, nil
}

func (s *Store) GetRecipeByProducible(_ context.Context, ref domain.ProducibleRef) (*domain.Recipe, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, recipe := range s.recipes {
		if recipe.Producible == ref {
			found := recipe
			found.Lines = append([]domain.RecipeLine(nil), recipe.Lines...)
			return &found, nil
		}
	}
	return nil, store.ErrNotFound
}

// UpdateRecipe replaces the full line set, mirroring how recipe edits arrive
// from callers.
func (s *Store) UpdateRecipe(_ context.Context, recipe domain.Recipe) (*domain.Recipe, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.recipes[recipe.ID]; !ok {
		return nil, store.ErrNotFound
	}
	if err := s.validateRecipeLocked(recipe); err != nil {
		return nil, err
	}
	s.recipes[recipe.ID] = recipe

	updated := recipe
	return &updated, nil
}

func (s *Store) ListRecipes(_ context.Context) ([]domain.Recipe, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recipes := make([]domain.Recipe, 0, len(s.recipes))
	for _, recipe := range s.recipes {
		recipes = append(recipes, recipe)
	}
	sort.Slice(recipes, func(i, j int) bool { return recipes[i].ID < recipes[j].ID })
	return recipes, nil
}

func (s *Store) CommitProduction(_ context.Context, run domain.ProductionEvent) (*domain.ProductionEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	output, ok := s.items[run.Producible.ItemID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if output.Kind != run.Producible.Kind {
		return nil, fmt.Errorf("producible kind mismatch for %s: %w", output.ID, store.ErrUnsupported)
	}
	for _, line := range run.Lines {
		if _, ok := s.items[line.IngredientID]; !ok {
			return nil, store.ErrNotFound
		}
	}

	output.CurrentStock = output.CurrentStock.Add(run.QuantityProduced)
	output.UpdatedAt = time.Now().UTC()
	s.items[output.ID] = output

	// ingredient stock may go negative; the over-consumption is corrected
	// later by an adjustment
	for _, line := range run.Lines {
		ingredient := s.items[line.IngredientID]
		ingredient.CurrentStock = ingredient.CurrentStock.Sub(line.Actual)
		ingredient.UpdatedAt = time.Now().UTC()
		s.items[ingredient.ID] = ingredient
	}

	if run.ID == "" {
		run.ID = xid.New("run")
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	s.productionRuns[run.ID] = run

	committed := run
	return &committed, nil
}

func (s *Store) GetProduction(_ context.Context, id string) (*domain.ProductionEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.productionRuns[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := run
	found.Lines = append([]domain.ConsumptionLine(nil), run.Lines...)
	return &found, nil
}

// ReverseProduction restores every ingredient by its actual (not theoretical)
// consumption and removes the produced output.
func (s *Store) ReverseProduction(_ context.Context, id string) (*domain.ProductionEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.productionRuns[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	output, ok := s.items[run.Producible.ItemID]
	if !ok {
		return nil, store.ErrNotFound
	}
	for _, line := range run.Lines {
		if _, ok := s.items[line.IngredientID]; !ok {
			return nil, store.ErrNotFound
		}
	}

	output.CurrentStock = output.CurrentStock.Sub(run.QuantityProduced)
	output.UpdatedAt = time.Now().UTC()
	s.items[output.ID] = output

	for _, line := range run.Lines {
		ingredient := s.items[line.IngredientID]
		ingredient.CurrentStock = ingredient.CurrentStock.Add(line.Actual)
		ingredient.UpdatedAt = time.Now().UTC()
		s.items[ingredient.ID] = ingredient
	}
	delete(s.productionRuns, id)

	reversed := run
	return &reversed, nil
}

func (s *Store) ListProductionRuns(_ context.Context, producibleItemID string, since time.Time, limit int) ([]domain.ProductionEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]domain.ProductionEvent, 0, len(s.productionRuns))
	for _, run := range s.productionRuns {
		if producibleItemID != "" && run.Producible.ItemID != producibleItemID {
			continue
		}
		if !since.IsZero() && run.CreatedAt.Before(since) {
			continue
		}
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].CreatedAt.After(runs[j].CreatedAt) })
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (s *Store) CreatePaymentMethod(_ context.Context, method domain.PaymentMethod) (*domain.PaymentMethod, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.paymentMethods {
		if strings.EqualFold(existing.Name, method.Name) {
			return nil, store.ErrDuplicate
		}
	}

	if method.ID == "" {
		method.ID = xid.New("pm")
	}
	s.paymentMethods[method.ID] = method

	created := method
	return &created, nil
}

func (s *Store) ListPaymentMethods(_ context.Context, activeOnly bool) ([]domain.PaymentMethod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	methods := make([]domain.PaymentMethod, 0, len(s.paymentMethods))
	for _, method := range s.paymentMethods {
		if activeOnly && !method.Active {
			continue
		}
		methods = append(methods, method)
	}
	sort.Slice(methods, func(i, j int) bool { return methods[i].Name < methods[j].Name })
	return methods, nil
}

func (s *Store) SetPaymentMethodActive(_ context.Context, id string, active bool) (*domain.PaymentMethod, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	method, ok := s.paymentMethods[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	method.Active = active
	s.paymentMethods[id] = method

	updated := method
	return &updated, nil
}

// CreateSale validates every line and payment before touching any stock, so
// a failure on the last line leaves the store exactly as it was.
func (s *Store) CreateSale(_ context.Context, sale domain.SaleEvent) (*domain.SaleEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(sale.Lines) == 0 || len(sale.Payments) == 0 {
		return nil, store.ErrUnsupported
	}

	total := decimal.Zero
	priced := make([]domain.SaleLine, 0, len(sale.Lines))
	deducted := make(map[string]decimal.Decimal, len(sale.Lines))
	for _, line := range sale.Lines {
		if line.Quantity.Sign() <= 0 {
			return nil, ledger.ErrInvalidQuantity
		}
		product, ok := s.items[line.ItemID]
		if !ok || product.Kind != domain.KindFinishedGood {
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

	if err := s.validatePaymentsLocked(sale.Payments, total); err != nil {
		return nil, err
	}

	for _, line := range priced {
		product := s.items[line.ItemID]
		product.CurrentStock = product.CurrentStock.Sub(line.Quantity)
		product.UpdatedAt = time.Now().UTC()
		s.items[product.ID] = product
	}

	sale.Lines = priced
	sale.TotalAmount = total
	if sale.ID == "" {
		sale.ID = xid.New("sal")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	s.sales[sale.ID] = sale

	created := sale
	return &created, nil
}

func (s *Store) validatePaymentsLocked(payments []domain.PaymentLine, total decimal.Decimal) error {
	paid := decimal.Zero
	for _, payment := range payments {
		if payment.Amount.Sign() <= 0 {
			return ledger.ErrInvalidPayment
		}
		method, ok := s.paymentMethods[payment.MethodID]
		if !ok || !method.Active {
			return store.ErrNotFound
		}
		paid = paid.Add(payment.Amount)
	}
	if paid.LessThan(total) {
		return store.ErrUnderPayment
	}
	return nil
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.SaleEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.sales[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := sale
	found.Lines = append([]domain.SaleLine(nil), sale.Lines...)
	found.Payments = append([]domain.PaymentLine(nil), sale.Payments...)
	return &found, nil
}

func (s *Store) DeleteSale(_ context.Context, id string) (*domain.SaleEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.sales[id]
	if !ok {
		return nil, store.ErrNotFound
	}

	for _, line := range sale.Lines {
		product, ok := s.items[line.ItemID]
		if !ok {
			continue
		}
		product.CurrentStock = product.CurrentStock.Add(line.Quantity)
		product.UpdatedAt = time.Now().UTC()
		s.items[product.ID] = product
	}
	delete(s.sales, id)

	deleted := sale
	return &deleted, nil
}

func (s *Store) ReplaceSalePayments(_ context.Context, id string, payments []domain.PaymentLine) (*domain.SaleEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.sales[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if len(payments) == 0 {
		return nil, store.ErrUnderPayment
	}
	if err := s.validatePaymentsLocked(payments, sale.TotalAmount); err != nil {
		return nil, err
	}

	sale.Payments = append([]domain.PaymentLine(nil), payments...)
	s.sales[id] = sale

	updated := sale
	return &updated, nil
}

func (s *Store) ListSales(_ context.Context, from, to time.Time, limit int) ([]domain.SaleEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.SaleEvent, 0, len(s.sales))
	for _, sale := range s.sales {
		if !from.IsZero() && sale.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && sale.CreatedAt.After(to) {
			continue
		}
		sales = append(sales, sale)
	}
	sort.Slice(sales, func(i, j int) bool { return sales[i].CreatedAt.After(sales[j].CreatedAt) })
	if limit > 0 && len(sales) > limit {
		sales = sales[:limit]
	}
	return sales, nil
}

func (s *Store) CloseDay(_ context.Context, closing domain.DailyClosing) (*domain.DailyClosing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.closingsByDate[closing.Date]; exists {
		return nil, store.ErrAlreadyClosed
	}

	expected := s.sumSalesForDayLocked(closing.Date)
	declared := closing.TotalCashDeclared.Add(closing.TotalDigitalDeclared)

	closing.TotalSalesExpected = expected
	closing.CashDiscrepancy = declared.Sub(expected)
	if closing.ID == "" {
		closing.ID = xid.New("eod")
	}
	if closing.CreatedAt.IsZero() {
		closing.CreatedAt = time.Now().UTC()
	}
	s.closingsByDate[closing.Date] = closing

	created := closing
	return &created, nil
}

func (s *Store) GetDailyClosing(_ context.Context, date string) (*domain.DailyClosing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	closing, ok := s.closingsByDate[date]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := closing
	return &found, nil
}

func (s *Store) SumSalesForDay(_ context.Context, date string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sumSalesForDayLocked(date), nil
}

func (s *Store) sumSalesForDayLocked(date string) decimal.Decimal {
	total := decimal.Zero
	for _, sale := range s.sales {
		if sale.CreatedAt.UTC().Format("2006-01-02") == date {
			total = total.Add(sale.TotalAmount)
		}
	}
	return total
}
