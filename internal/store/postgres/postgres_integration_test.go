package postgres

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"bakeledger/backend/internal/domain"
	"bakeledger/backend/internal/store"
	"bakeledger/backend/internal/xid"
)

// Integration tests run only against a throwaway database:
//
//	BAKELEDGER_TEST_DATABASE_URL=postgres://localhost:5432/bakeledger_test go test ./internal/store/postgres/
var schema = []string{
	`CREATE TABLE IF NOT EXISTS stock_items (
		id text PRIMARY KEY,
		name text NOT NULL UNIQUE,
		kind text NOT NULL,
		unit text NOT NULL,
		current_stock numeric(14,3) NOT NULL DEFAULT 0,
		reorder_point numeric(14,3) NOT NULL DEFAULT 0,
		average_cost_per_unit numeric(14,2) NOT NULL DEFAULT 0,
		last_purchased_price numeric(14,2) NOT NULL DEFAULT 0,
		selling_price numeric(14,2) NOT NULL DEFAULT 0,
		active boolean NOT NULL DEFAULT true,
		updated_at timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS purchases (
		id text PRIMARY KEY,
		item_id text NOT NULL REFERENCES stock_items(id),
		quantity numeric(14,3) NOT NULL,
		total_cost numeric(14,2) NOT NULL,
		unit_cost numeric(14,2) NOT NULL,
		is_anomaly boolean NOT NULL DEFAULT false,
		vendor text NOT NULL DEFAULT '',
		notes text NOT NULL DEFAULT '',
		purchased_by text NOT NULL DEFAULT '',
		created_at timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS adjustments (
		id text PRIMARY KEY,
		item_id text NOT NULL REFERENCES stock_items(id),
		quantity_change numeric(14,3) NOT NULL,
		reason text NOT NULL,
		notes text NOT NULL DEFAULT '',
		actor_name text NOT NULL DEFAULT '',
		created_at timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS recipes (
		id text PRIMARY KEY,
		producible_kind text NOT NULL,
		producible_item_id text NOT NULL REFERENCES stock_items(id),
		standard_yield numeric(14,3) NOT NULL,
		instructions text NOT NULL DEFAULT '',
		UNIQUE (producible_kind, producible_item_id)
	)`,
	`CREATE TABLE IF NOT EXISTS recipe_lines (
		recipe_id text NOT NULL REFERENCES recipes(id) ON DELETE CASCADE,
		position int NOT NULL,
		ingredient_id text NOT NULL REFERENCES stock_items(id),
		quantity_per_yield numeric(14,3) NOT NULL,
		PRIMARY KEY (recipe_id, position)
	)`,
	`CREATE TABLE IF NOT EXISTS production_runs (
		id text PRIMARY KEY,
		recipe_id text NOT NULL REFERENCES recipes(id),
		producible_kind text NOT NULL,
		producible_item_id text NOT NULL REFERENCES stock_items(id),
		quantity_produced numeric(14,3) NOT NULL,
		chef_name text NOT NULL DEFAULT '',
		notes text NOT NULL DEFAULT '',
		created_at timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS consumption_lines (
		run_id text NOT NULL REFERENCES production_runs(id) ON DELETE CASCADE,
		ingredient_id text NOT NULL REFERENCES stock_items(id),
		theoretical_amount numeric(14,3) NOT NULL,
		actual_amount numeric(14,3) NOT NULL,
		wastage numeric(14,3) NOT NULL,
		PRIMARY KEY (run_id, ingredient_id)
	)`,
	`CREATE TABLE IF NOT EXISTS payment_methods (
		id text PRIMARY KEY,
		name text NOT NULL UNIQUE,
		active boolean NOT NULL DEFAULT true,
		config_details text NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS sales (
		id text PRIMARY KEY,
		cashier_name text NOT NULL DEFAULT '',
		customer_name text NOT NULL DEFAULT '',
		total_amount numeric(14,2) NOT NULL,
		created_at timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS sale_lines (
		sale_id text NOT NULL REFERENCES sales(id) ON DELETE CASCADE,
		position int NOT NULL,
		item_id text NOT NULL REFERENCES stock_items(id),
		quantity numeric(14,3) NOT NULL,
		unit_price_at_sale numeric(14,2) NOT NULL,
		subtotal numeric(14,2) NOT NULL,
		PRIMARY KEY (sale_id, position)
	)`,
	`CREATE TABLE IF NOT EXISTS sale_payments (
		sale_id text NOT NULL REFERENCES sales(id) ON DELETE CASCADE,
		method_id text NOT NULL REFERENCES payment_methods(id),
		amount numeric(14,2) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS daily_closings (
		id text PRIMARY KEY,
		date text NOT NULL UNIQUE,
		closed_by text NOT NULL DEFAULT '',
		total_sales_expected numeric(14,2) NOT NULL,
		total_cash_declared numeric(14,2) NOT NULL,
		total_digital_declared numeric(14,2) NOT NULL,
		cash_discrepancy numeric(14,2) NOT NULL,
		notes text NOT NULL DEFAULT '',
		created_at timestamptz NOT NULL DEFAULT now()
	)`,
}

func newIntegrationStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("BAKELEDGER_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("BAKELEDGER_TEST_DATABASE_URL not set, skipping postgres integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s, err := New(ctx, url, 2*time.Second)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			t.Fatalf("schema: %v", err)
		}
	}
	return s
}

func makeItem(t *testing.T, s *Store, kind domain.ItemKind, price string) *domain.StockItem {
	t.Helper()
	item, err := s.CreateStockItem(context.Background(), domain.StockItem{
		Name:         "it-" + xid.New(string(kind)),
		Kind:         kind,
		Unit:         domain.UnitKilogram,
		ReorderPoint: decimal.RequireFromString("5"),
		SellingPrice: decimal.RequireFromString(price),
		Active:       true,
	})
	if err != nil {
		t.Fatalf("create stock item: %v", err)
	}
	return item
}

func TestIntegrationPurchaseLifecycle(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	item := makeItem(t, s, domain.KindRawIngredient, "0")

	first, err := s.ApplyPurchase(ctx, domain.PurchaseEvent{
		ItemID: item.ID, Quantity: decimal.RequireFromString("100"), TotalCost: decimal.RequireFromString("2500"),
	})
	if err != nil {
		t.Fatalf("first purchase: %v", err)
	}
	if first.IsAnomaly {
		t.Fatal("first purchase must not be anomalous")
	}

	second, err := s.ApplyPurchase(ctx, domain.PurchaseEvent{
		ItemID: item.ID, Quantity: decimal.RequireFromString("10"), TotalCost: decimal.RequireFromString("300"),
	})
	if err != nil {
		t.Fatalf("second purchase: %v", err)
	}

	got, err := s.GetStockItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if !got.CurrentStock.Equal(decimal.RequireFromString("110")) {
		t.Fatalf("stock = %s, want 110", got.CurrentStock)
	}
	if !got.AverageCostPerUnit.Equal(decimal.RequireFromString("25.45")) {
		t.Fatalf("average = %s, want 25.45", got.AverageCostPerUnit)
	}

	if _, err := s.ReversePurchase(ctx, second.ID); err != nil {
		t.Fatalf("reverse: %v", err)
	}
	got, _ = s.GetStockItem(ctx, item.ID)
	if !got.CurrentStock.Equal(decimal.RequireFromString("100")) {
		t.Fatalf("stock after reverse = %s, want 100", got.CurrentStock)
	}
	// average stays at the post-purchase value
	if !got.AverageCostPerUnit.Equal(decimal.RequireFromString("25.45")) {
		t.Fatalf("average after reverse = %s, want 25.45", got.AverageCostPerUnit)
	}
	if _, err := s.GetPurchase(ctx, second.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("reversed purchase still present: %v", err)
	}
}

func TestIntegrationConcurrentPurchases(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	item := makeItem(t, s, domain.KindRawIngredient, "0")

	const workers = 16
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ApplyPurchase(ctx, domain.PurchaseEvent{
				ItemID: item.ID, Quantity: decimal.RequireFromString("1"), TotalCost: decimal.RequireFromString("10"),
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent purchase: %v", err)
		}
	}

	got, err := s.GetStockItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if !got.CurrentStock.Equal(decimal.NewFromInt(workers)) {
		t.Fatalf("stock = %s, want %d (lost update)", got.CurrentStock, workers)
	}
	if !got.AverageCostPerUnit.Equal(decimal.RequireFromString("10.00")) {
		t.Fatalf("average = %s, want 10.00", got.AverageCostPerUnit)
	}
}

func TestIntegrationSaleAtomicityAndPayments(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	bread := makeItem(t, s, domain.KindFinishedGood, "15.00")
	if _, err := s.ApplyAdjustment(ctx, domain.AdjustmentEvent{
		ItemID: bread.ID, QuantityChange: decimal.RequireFromString("20"), Reason: domain.ReasonAudit,
	}); err != nil {
		t.Fatalf("seed stock: %v", err)
	}
	method, err := s.CreatePaymentMethod(ctx, domain.PaymentMethod{Name: "cash-" + xid.New("pm"), Active: true})
	if err != nil {
		t.Fatalf("payment method: %v", err)
	}

	_, err = s.CreateSale(ctx, domain.SaleEvent{
		Lines:    []domain.SaleLine{{ItemID: bread.ID, Quantity: decimal.RequireFromString("30")}},
		Payments: []domain.PaymentLine{{MethodID: method.ID, Amount: decimal.RequireFromString("1000")}},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("oversell: %v", err)
	}
	got, _ := s.GetStockItem(ctx, bread.ID)
	if !got.CurrentStock.Equal(decimal.RequireFromString("20")) {
		t.Fatalf("stock mutated by failed sale: %s", got.CurrentStock)
	}

	sale, err := s.CreateSale(ctx, domain.SaleEvent{
		Lines:    []domain.SaleLine{{ItemID: bread.ID, Quantity: decimal.RequireFromString("4")}},
		Payments: []domain.PaymentLine{{MethodID: method.ID, Amount: decimal.RequireFromString("60")}},
	})
	if err != nil {
		t.Fatalf("sale: %v", err)
	}
	if !sale.TotalAmount.Equal(decimal.RequireFromString("60")) {
		t.Fatalf("total = %s, want 60", sale.TotalAmount)
	}

	// the closing window buckets by UTC calendar day, so today's sale must
	// be visible under today's UTC date
	sum, err := s.SumSalesForDay(ctx, time.Now().UTC().Format("2006-01-02"))
	if err != nil {
		t.Fatalf("sum sales: %v", err)
	}
	if sum.LessThan(sale.TotalAmount) {
		t.Fatalf("day total %s does not include the sale (%s)", sum, sale.TotalAmount)
	}

	if _, err := s.ReplaceSalePayments(ctx, sale.ID, []domain.PaymentLine{
		{MethodID: method.ID, Amount: decimal.RequireFromString("10")},
	}); !errors.Is(err, store.ErrUnderPayment) {
		t.Fatalf("short replacement: %v", err)
	}

	if _, err := s.DeleteSale(ctx, sale.ID); err != nil {
		t.Fatalf("void sale: %v", err)
	}
	got, _ = s.GetStockItem(ctx, bread.ID)
	if !got.CurrentStock.Equal(decimal.RequireFromString("20")) {
		t.Fatalf("stock after void = %s, want 20", got.CurrentStock)
	}
}

func TestIntegrationDeleteSaleRestocksExactlyOnce(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	bread := makeItem(t, s, domain.KindFinishedGood, "15.00")
	if _, err := s.ApplyAdjustment(ctx, domain.AdjustmentEvent{
		ItemID: bread.ID, QuantityChange: decimal.RequireFromString("10"), Reason: domain.ReasonAudit,
	}); err != nil {
		t.Fatalf("seed stock: %v", err)
	}
	method, err := s.CreatePaymentMethod(ctx, domain.PaymentMethod{Name: "cash-" + xid.New("pm"), Active: true})
	if err != nil {
		t.Fatalf("payment method: %v", err)
	}
	sale, err := s.CreateSale(ctx, domain.SaleEvent{
		Lines:    []domain.SaleLine{{ItemID: bread.ID, Quantity: decimal.RequireFromString("4")}},
		Payments: []domain.PaymentLine{{MethodID: method.ID, Amount: decimal.RequireFromString("60")}},
	})
	if err != nil {
		t.Fatalf("sale: %v", err)
	}

	// both deletes race for the sale row lock; exactly one may restock
	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.DeleteSale(ctx, sale.ID)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var succeeded, notFound int
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, store.ErrNotFound):
			notFound++
		default:
			t.Fatalf("unexpected delete error: %v", err)
		}
	}
	if succeeded != 1 || notFound != 1 {
		t.Fatalf("deletes: %d succeeded, %d not-found, want exactly one of each", succeeded, notFound)
	}

	got, err := s.GetStockItem(ctx, bread.ID)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if !got.CurrentStock.Equal(decimal.RequireFromString("10")) {
		t.Fatalf("stock = %s, want 10 (restocked exactly once)", got.CurrentStock)
	}
}

func TestIntegrationCloseDayOnce(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	// clear the fixture date so reruns against a persistent test database
	// stay independent
	date := "1999-01-01"
	if _, err := s.db.ExecContext(ctx, `DELETE FROM daily_closings WHERE date = $1`, date); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	first, err := s.CloseDay(ctx, domain.DailyClosing{
		Date:              date,
		TotalCashDeclared: decimal.RequireFromString("100"),
	})
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if !first.CashDiscrepancy.Equal(decimal.RequireFromString("100")) {
		t.Fatalf("discrepancy = %s, want 100 (no sales that day)", first.CashDiscrepancy)
	}

	if _, err := s.CloseDay(ctx, domain.DailyClosing{Date: date}); !errors.Is(err, store.ErrAlreadyClosed) {
		t.Fatalf("double close: %v", err)
	}
}
