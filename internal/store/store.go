package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"bakeledger/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflicting concurrent update, retry")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrUnderPayment      = errors.New("payments do not cover sale total")
	ErrProductInactive   = errors.New("product is inactive")
	ErrUnsupported       = errors.New("operation not supported")
	ErrAlreadyClosed     = errors.New("day already closed")
	ErrDuplicate         = errors.New("already exists")
)

// Repository is the persistence boundary of the ledger. Every Apply*/
// Reverse*/Commit method runs as one all-or-nothing transaction: stock item
// rows are read under an exclusive lock (multi-row operations lock in
// ascending item-id order), new values are computed via the ledger package,
// and either every row is written or none. Lock wait timeouts surface as
// ErrConflict and are safe to retry from scratch.
type Repository interface {
	CreateStockItem(ctx context.Context, item domain.StockItem) (*domain.StockItem, error)
	GetStockItem(ctx context.Context, id string) (*domain.StockItem, error)
	ListStockItems(ctx context.Context, kind domain.ItemKind) ([]domain.StockItem, error)
	UpdateStockItem(ctx context.Context, item domain.StockItem) (*domain.StockItem, error)
	ListLowStockItems(ctx context.Context) ([]domain.StockItem, error)

	ApplyPurchase(ctx context.Context, purchase domain.PurchaseEvent) (*domain.PurchaseEvent, error)
	GetPurchase(ctx context.Context, id string) (*domain.PurchaseEvent, error)
	ReversePurchase(ctx context.Context, id string) (*domain.PurchaseEvent, error)
	ReplacePurchase(ctx context.Context, id string, purchase domain.PurchaseEvent) (*domain.PurchaseEvent, error)
	ListPurchases(ctx context.Context, itemID string, anomaliesOnly bool, since time.Time, limit int) ([]domain.PurchaseEvent, error)

	ApplyAdjustment(ctx context.Context, adjustment domain.AdjustmentEvent) (*domain.AdjustmentEvent, error)
	GetAdjustment(ctx context.Context, id string) (*domain.AdjustmentEvent, error)
	ReverseAdjustment(ctx context.Context, id string) (*domain.AdjustmentEvent, error)
	ReplaceAdjustment(ctx context.Context, id string, adjustment domain.AdjustmentEvent) (*domain.AdjustmentEvent, error)
	ListAdjustments(ctx context.Context, itemID string, limit int) ([]domain.AdjustmentEvent, error)

	CreateRecipe(ctx context.Context, recipe domain.Recipe) (*domain.Recipe, error)
	GetRecipe(ctx context.Context, id string) (*domain.Recipe, error)
	GetRecipeByProducible(ctx context.Context, ref domain.ProducibleRef) (*domain.Recipe, error)
	UpdateRecipe(ctx context.Context, recipe domain.Recipe) (*domain.Recipe, error)
	ListRecipes(ctx context.Context) ([]domain.Recipe, error)

	CommitProduction(ctx context.Context, run domain.ProductionEvent) (*domain.ProductionEvent, error)
	GetProduction(ctx context.Context, id string) (*domain.ProductionEvent, error)
	ReverseProduction(ctx context.Context, id string) (*domain.ProductionEvent, error)
	ListProductionRuns(ctx context.Context, producibleItemID string, since time.Time, limit int) ([]domain.ProductionEvent, error)

	CreatePaymentMethod(ctx context.Context, method domain.PaymentMethod) (*domain.PaymentMethod, error)
	ListPaymentMethods(ctx context.Context, activeOnly bool) ([]domain.PaymentMethod, error)
	SetPaymentMethodActive(ctx context.Context, id string, active bool) (*domain.PaymentMethod, error)

	CreateSale(ctx context.Context, sale domain.SaleEvent) (*domain.SaleEvent, error)
	GetSale(ctx context.Context, id string) (*domain.SaleEvent, error)
	DeleteSale(ctx context.Context, id string) (*domain.SaleEvent, error)
	ReplaceSalePayments(ctx context.Context, id string, payments []domain.PaymentLine) (*domain.SaleEvent, error)
	ListSales(ctx context.Context, from, to time.Time, limit int) ([]domain.SaleEvent, error)

	CloseDay(ctx context.Context, closing domain.DailyClosing) (*domain.DailyClosing, error)
	GetDailyClosing(ctx context.Context, date string) (*domain.DailyClosing, error)
	SumSalesForDay(ctx context.Context, date string) (decimal.Decimal, error)
}
