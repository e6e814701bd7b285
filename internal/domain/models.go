package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quantities are fixed-point decimals with 3 fractional digits on the wire,
// money amounts with 2. Everything is carried as shopspring decimals; the
// *String helpers below produce the canonical serialized form.

func QuantityString(q decimal.Decimal) string {
	return q.StringFixed(3)
}

func MoneyString(m decimal.Decimal) string {
	return m.StringFixed(2)
}

func ParseQuantity(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, err
	}
	return d.Round(3), nil
}

func ParseMoney(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, err
	}
	return d.Round(2), nil
}

type Unit string

const (
	UnitKilogram   Unit = "kg"
	UnitGram       Unit = "g"
	UnitLiter      Unit = "l"
	UnitMilliliter Unit = "ml"
	UnitPieces     Unit = "pcs"
)

func (u Unit) Valid() bool {
	switch u {
	case UnitKilogram, UnitGram, UnitLiter, UnitMilliliter, UnitPieces:
		return true
	}
	return false
}

type ItemKind string

const (
	KindRawIngredient ItemKind = "raw_ingredient"
	KindFinishedGood  ItemKind = "finished_good"
)

func (k ItemKind) Valid() bool {
	return k == KindRawIngredient || k == KindFinishedGood
}

// StockItem is the single owning record of truth for quantity and cost.
// AverageCostPerUnit and LastPurchasedPrice are written only by purchase
// application; CurrentStock only by the Apply*/Reverse* store operations.
// SellingPrice and Active are meaningful for finished goods, the costing
// fields and ReorderPoint for raw ingredients.
type StockItem struct {
	ID                 string          `json:"id"`
	Name               string          `json:"name"`
	Kind               ItemKind        `json:"kind"`
	Unit               Unit            `json:"unit"`
	CurrentStock       decimal.Decimal `json:"current_stock"`
	ReorderPoint       decimal.Decimal `json:"reorder_point"`
	AverageCostPerUnit decimal.Decimal `json:"average_cost_per_unit"`
	LastPurchasedPrice decimal.Decimal `json:"last_purchased_price"`
	SellingPrice       decimal.Decimal `json:"selling_price"`
	Active             bool            `json:"active"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

type StockItemCreateRequest struct {
	Name         string          `json:"name"`
	Kind         ItemKind        `json:"kind"`
	Unit         Unit            `json:"unit"`
	ReorderPoint decimal.Decimal `json:"reorder_point"`
	SellingPrice decimal.Decimal `json:"selling_price"`
}

type StockItemUpdateRequest struct {
	Name         *string          `json:"name,omitempty"`
	ReorderPoint *decimal.Decimal `json:"reorder_point,omitempty"`
	SellingPrice *decimal.Decimal `json:"selling_price,omitempty"`
	Active       *bool            `json:"active,omitempty"`
}

// PurchaseEvent is an immutable fact. Editing a purchase is modeled as a
// compensating reversal followed by a fresh application, never an in-place
// mutation of the stored row's stock effects.
type PurchaseEvent struct {
	ID          string          `json:"id"`
	ItemID      string          `json:"item_id"`
	Quantity    decimal.Decimal `json:"quantity"`
	TotalCost   decimal.Decimal `json:"total_cost"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	IsAnomaly   bool            `json:"is_anomaly"`
	Vendor      string          `json:"vendor,omitempty"`
	Notes       string          `json:"notes,omitempty"`
	PurchasedBy string          `json:"purchased_by,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

type PurchaseInput struct {
	ItemID    string          `json:"item_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	TotalCost decimal.Decimal `json:"total_cost"`
	Vendor    string          `json:"vendor"`
	Notes     string          `json:"notes"`
}

type AdjustmentReason string

const (
	ReasonWaste          AdjustmentReason = "waste"
	ReasonTheft          AdjustmentReason = "theft"
	ReasonAudit          AdjustmentReason = "audit"
	ReasonReturn         AdjustmentReason = "return"
	ReasonPackagingUsage AdjustmentReason = "packaging_usage"
)

func (r AdjustmentReason) Valid() bool {
	switch r {
	case ReasonWaste, ReasonTheft, ReasonAudit, ReasonReturn, ReasonPackagingUsage:
		return true
	}
	return false
}

// AdjustmentEvent records a manual stock correction. It never touches cost
// fields and its reversal is the exact negation of QuantityChange.
type AdjustmentEvent struct {
	ID             string           `json:"id"`
	ItemID         string           `json:"item_id"`
	QuantityChange decimal.Decimal  `json:"quantity_change"`
	Reason         AdjustmentReason `json:"reason"`
	Notes          string           `json:"notes,omitempty"`
	ActorName      string           `json:"actor_name,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

type AdjustmentInput struct {
	ItemID         string           `json:"item_id"`
	QuantityChange decimal.Decimal  `json:"quantity_change"`
	Reason         AdjustmentReason `json:"reason"`
	Notes          string           `json:"notes"`
}

// ProducibleRef names the single thing a recipe yields: a finished good or a
// composite raw ingredient (e.g. a topping made in the kitchen). Kind must
// match the referenced stock item's kind.
type ProducibleRef struct {
	Kind   ItemKind `json:"kind"`
	ItemID string   `json:"item_id"`
}

type RecipeLine struct {
	IngredientID     string          `json:"ingredient_id"`
	QuantityPerYield decimal.Decimal `json:"quantity_per_yield"`
}

type Recipe struct {
	ID            string          `json:"id"`
	Producible    ProducibleRef   `json:"producible"`
	StandardYield decimal.Decimal `json:"standard_yield"`
	Instructions  string          `json:"instructions,omitempty"`
	Lines         []RecipeLine    `json:"lines"`
}

type RecipeInput struct {
	Producible    ProducibleRef   `json:"producible"`
	StandardYield decimal.Decimal `json:"standard_yield"`
	Instructions  string          `json:"instructions"`
	Lines         []RecipeLine    `json:"lines"`
}

// ConsumptionLine is the theoretical-vs-actual usage of one ingredient in a
// production run. Wastage = Actual - Theoretical and may be negative when the
// chef used less than the recipe predicts.
type ConsumptionLine struct {
	IngredientID string          `json:"ingredient_id"`
	Theoretical  decimal.Decimal `json:"theoretical_amount"`
	Actual       decimal.Decimal `json:"actual_amount"`
	Wastage      decimal.Decimal `json:"wastage"`
}

type ProductionEvent struct {
	ID               string            `json:"id"`
	RecipeID         string            `json:"recipe_id"`
	Producible       ProducibleRef     `json:"producible"`
	QuantityProduced decimal.Decimal   `json:"quantity_produced"`
	ChefName         string            `json:"chef_name,omitempty"`
	Notes            string            `json:"notes,omitempty"`
	Lines            []ConsumptionLine `json:"lines"`
	CreatedAt        time.Time         `json:"created_at"`
}

type ProductionInput struct {
	RecipeID         string                     `json:"recipe_id"`
	QuantityProduced decimal.Decimal            `json:"quantity_produced"`
	ChefActuals      map[string]decimal.Decimal `json:"chef_actuals"`
	Notes            string                     `json:"notes"`
}

type PaymentMethod struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Active        bool   `json:"active"`
	ConfigDetails string `json:"config_details,omitempty"`
}

type SaleLine struct {
	ItemID          string          `json:"item_id"`
	Quantity        decimal.Decimal `json:"quantity"`
	UnitPriceAtSale decimal.Decimal `json:"unit_price_at_sale"`
	Subtotal        decimal.Decimal `json:"subtotal"`
}

type PaymentLine struct {
	MethodID string          `json:"method_id"`
	Amount   decimal.Decimal `json:"amount"`
}

// SaleEvent is one customer transaction. UnitPriceAtSale is snapshotted at
// creation and immune to later selling-price changes. Sum of payments must
// cover TotalAmount; excess is not tracked as change owed.
type SaleEvent struct {
	ID           string          `json:"id"`
	CashierName  string          `json:"cashier_name,omitempty"`
	CustomerName string          `json:"customer_name,omitempty"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	Lines        []SaleLine      `json:"lines"`
	Payments     []PaymentLine   `json:"payments"`
	CreatedAt    time.Time       `json:"created_at"`
}

type SaleLineInput struct {
	ItemID   string          `json:"item_id"`
	Quantity decimal.Decimal `json:"quantity"`
}

type SaleInput struct {
	CustomerName string          `json:"customer_name"`
	Lines        []SaleLineInput `json:"lines"`
	Payments     []PaymentLine   `json:"payments"`
}

// DailyClosing is the blind end-of-day reconciliation: the cashier declares
// counted totals without seeing the expected figure first. Negative
// CashDiscrepancy means a shortage.
type DailyClosing struct {
	ID                   string          `json:"id"`
	Date                 string          `json:"date"`
	ClosedBy             string          `json:"closed_by,omitempty"`
	TotalSalesExpected   decimal.Decimal `json:"total_sales_expected"`
	TotalCashDeclared    decimal.Decimal `json:"total_cash_declared"`
	TotalDigitalDeclared decimal.Decimal `json:"total_digital_declared"`
	CashDiscrepancy      decimal.Decimal `json:"cash_discrepancy"`
	Notes                string          `json:"notes,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
}

type DailyClosingInput struct {
	TotalCashDeclared    decimal.Decimal `json:"total_cash_declared"`
	TotalDigitalDeclared decimal.Decimal `json:"total_digital_declared"`
	Notes                string          `json:"notes"`
}

type ShoppingListItem struct {
	ItemID       string          `json:"item_id"`
	Name         string          `json:"name"`
	Unit         Unit            `json:"unit"`
	CurrentStock decimal.Decimal `json:"current_stock"`
	ReorderPoint decimal.Decimal `json:"reorder_point"`
	SuggestedBuy decimal.Decimal `json:"suggested_buy"`
}

type ShoppingList struct {
	Items       []ShoppingListItem `json:"items"`
	ShareText   string             `json:"share_text"`
	GeneratedAt time.Time          `json:"generated_at"`
}

// Actor identifies who is performing an operation. It travels in the request
// context (service.WithActor), never in package or thread-local state.
type Actor struct {
	ID        string
	Name      string
	Role      string
	RequestIP string
}
