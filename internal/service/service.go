package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"bakeledger/backend/internal/cache"
	"bakeledger/backend/internal/domain"
	"bakeledger/backend/internal/ledger"
	"bakeledger/backend/internal/notify"
	"bakeledger/backend/internal/store"
)

type contextKey string

const actorKey contextKey = "actor"

// WithActor attaches the acting staff member to the context. Operations read
// it back for attribution; there is no package-level current-user state.
func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorKey).(domain.Actor)
	return actor, ok
}

// Service orchestrates ledger operations: input validation, the store call,
// and post-commit side effects (events, audit trail, cache invalidation).
// Side effects are fire-and-forget; a committed mutation is never rolled
// back because a notification failed.
type Service struct {
	repo      store.Repository
	publisher notify.Publisher
	audit     notify.AuditRecorder
	listCache cache.ShoppingListCache
	listTTL   time.Duration
	log       *logrus.Logger
}

type Options struct {
	Repo            store.Repository
	Publisher       notify.Publisher
	Audit           notify.AuditRecorder
	ShoppingCache   cache.ShoppingListCache
	ShoppingListTTL time.Duration
	Log             *logrus.Logger
}

func New(opts Options) *Service {
	if opts.Log == nil {
		opts.Log = logrus.New()
	}
	if opts.Publisher == nil {
		opts.Publisher = &notify.LogPublisher{Log: opts.Log}
	}
	if opts.Audit == nil {
		opts.Audit = &notify.LogAuditRecorder{Log: opts.Log}
	}
	if opts.ShoppingCache == nil {
		opts.ShoppingCache = cache.Noop{}
	}
	if opts.ShoppingListTTL <= 0 {
		opts.ShoppingListTTL = 30 * time.Second
	}
	return &Service{
		repo:      opts.Repo,
		publisher: opts.Publisher,
		audit:     opts.Audit,
		listCache: opts.ShoppingCache,
		listTTL:   opts.ShoppingListTTL,
		log:       opts.Log,
	}
}

func (s *Service) actorName(ctx context.Context) string {
	if actor, ok := ActorFromContext(ctx); ok {
		return actor.Name
	}
	return ""
}

func (s *Service) emit(ctx context.Context, eventType, message string, payload any) {
	event := notify.Event{
		Type:       eventType,
		Message:    message,
		Payload:    payload,
		OccurredAt: time.Now().UTC(),
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.log.WithError(err).WithField("event_type", eventType).Warn("event publish failed")
	}
}

func (s *Service) logAudit(ctx context.Context, action, detail string) {
	if err := s.audit.Record(ctx, s.actorName(ctx), action, detail); err != nil {
		s.log.WithError(err).WithField("action", action).Warn("audit record failed")
	}
}

// checkLowStock emits a low_stock event for every listed raw ingredient that
// sits at or below its reorder point after the mutation.
func (s *Service) checkLowStock(ctx context.Context, itemIDs []string) {
	for _, id := range itemIDs {
		item, err := s.repo.GetStockItem(ctx, id)
		if err != nil {
			continue
		}
		if item.Kind != domain.KindRawIngredient {
			continue
		}
		if ledger.IsLowStock(item.CurrentStock, item.ReorderPoint) {
			s.emit(ctx, notify.EventLowStock,
				fmt.Sprintf("%s is low: %s %s left (reorder at %s)",
					item.Name, domain.QuantityString(item.CurrentStock), item.Unit,
					domain.QuantityString(item.ReorderPoint)),
				item)
		}
	}
}

func (s *Service) CreateStockItem(ctx context.Context, req domain.StockItemCreateRequest) (*domain.StockItem, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("name is required: %w", store.ErrUnsupported)
	}
	if !req.Kind.Valid() {
		return nil, fmt.Errorf("unknown item kind %q: %w", req.Kind, store.ErrUnsupported)
	}
	if !req.Unit.Valid() {
		return nil, fmt.Errorf("unknown unit %q: %w", req.Unit, store.ErrUnsupported)
	}
	if req.ReorderPoint.Sign() < 0 || req.SellingPrice.Sign() < 0 {
		return nil, ledger.ErrInvalidCost
	}

	item, err := s.repo.CreateStockItem(ctx, domain.StockItem{
		Name:         req.Name,
		Kind:         req.Kind,
		Unit:         req.Unit,
		ReorderPoint: req.ReorderPoint,
		SellingPrice: req.SellingPrice,
		Active:       true,
	})
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "stock_item.create", item.ID+" "+item.Name)
	return item, nil
}

func (s *Service) GetStockItem(ctx context.Context, id string) (*domain.StockItem, error) {
	return s.repo.GetStockItem(ctx, id)
}

func (s *Service) ListStockItems(ctx context.Context, kind domain.ItemKind) ([]domain.StockItem, error) {
	return s.repo.ListStockItems(ctx, kind)
}

func (s *Service) UpdateStockItem(ctx context.Context, id string, req domain.StockItemUpdateRequest) (*domain.StockItem, error) {
	item, err := s.repo.GetStockItem(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Name != nil {
		item.Name = *req.Name
	}
	if req.ReorderPoint != nil {
		if req.ReorderPoint.Sign() < 0 {
			return nil, ledger.ErrInvalidQuantity
		}
		item.ReorderPoint = *req.ReorderPoint
	}
	if req.SellingPrice != nil {
		if req.SellingPrice.Sign() < 0 {
			return nil, ledger.ErrInvalidCost
		}
		item.SellingPrice = *req.SellingPrice
	}
	if req.Active != nil {
		item.Active = *req.Active
	}

	updated, err := s.repo.UpdateStockItem(ctx, *item)
	if err != nil {
		return nil, err
	}
	s.listCache.Invalidate(ctx)
	s.logAudit(ctx, "stock_item.update", updated.ID)
	return updated, nil
}

func (s *Service) RecordPurchase(ctx context.Context, in domain.PurchaseInput) (*domain.PurchaseEvent, error) {
	if in.Quantity.Sign() <= 0 {
		return nil, ledger.ErrInvalidQuantity
	}
	if in.TotalCost.Sign() < 0 {
		return nil, ledger.ErrInvalidCost
	}

	applied, err := s.repo.ApplyPurchase(ctx, domain.PurchaseEvent{
		ItemID:      in.ItemID,
		Quantity:    in.Quantity,
		TotalCost:   in.TotalCost,
		Vendor:      in.Vendor,
		Notes:       in.Notes,
		PurchasedBy: s.actorName(ctx),
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, notify.EventPurchaseCreated,
		fmt.Sprintf("purchased %s of %s for %s", domain.QuantityString(applied.Quantity),
			applied.ItemID, domain.MoneyString(applied.TotalCost)),
		applied)
	if applied.IsAnomaly {
		s.emit(ctx, notify.EventPriceAnomaly,
			fmt.Sprintf("unit cost %s for %s is above the anomaly threshold",
				domain.MoneyString(applied.UnitCost), applied.ItemID),
			applied)
	}
	s.listCache.Invalidate(ctx)
	s.checkLowStock(ctx, []string{applied.ItemID})
	s.logAudit(ctx, "purchase.create", applied.ID)
	return applied, nil
}

// DeletePurchase reverses the purchase's quantity effect and removes the
// record. The item's weighted average cost is not recomputed; see the store
// contract.
func (s *Service) DeletePurchase(ctx context.Context, id string) error {
	reversed, err := s.repo.ReversePurchase(ctx, id)
	if err != nil {
		return err
	}
	s.listCache.Invalidate(ctx)
	s.checkLowStock(ctx, []string{reversed.ItemID})
	s.logAudit(ctx, "purchase.delete", id)
	return nil
}

// UpdatePurchase is reverse-then-reapply: the old quantity is backed out and
// the replacement is folded in with a fresh unit-cost and anomaly
// evaluation against the item's current average.
func (s *Service) UpdatePurchase(ctx context.Context, id string, in domain.PurchaseInput) (*domain.PurchaseEvent, error) {
	if in.Quantity.Sign() <= 0 {
		return nil, ledger.ErrInvalidQuantity
	}
	if in.TotalCost.Sign() < 0 {
		return nil, ledger.ErrInvalidCost
	}

	replaced, err := s.repo.ReplacePurchase(ctx, id, domain.PurchaseEvent{
		ItemID:      in.ItemID,
		Quantity:    in.Quantity,
		TotalCost:   in.TotalCost,
		Vendor:      in.Vendor,
		Notes:       in.Notes,
		PurchasedBy: s.actorName(ctx),
	})
	if err != nil {
		return nil, err
	}
	if replaced.IsAnomaly {
		s.emit(ctx, notify.EventPriceAnomaly,
			fmt.Sprintf("unit cost %s for %s is above the anomaly threshold",
				domain.MoneyString(replaced.UnitCost), replaced.ItemID),
			replaced)
	}
	s.listCache.Invalidate(ctx)
	s.logAudit(ctx, "purchase.update", id)
	return replaced, nil
}

func (s *Service) ListPurchases(ctx context.Context, itemID string, anomaliesOnly bool, since time.Time, limit int) ([]domain.PurchaseEvent, error) {
	return s.repo.ListPurchases(ctx, itemID, anomaliesOnly, since, limit)
}

func (s *Service) RecordAdjustment(ctx context.Context, in domain.AdjustmentInput) (*domain.AdjustmentEvent, error) {
	if in.QuantityChange.Sign() == 0 {
		return nil, ledger.ErrInvalidQuantity
	}
	if !in.Reason.Valid() {
		return nil, fmt.Errorf("unknown adjustment reason %q: %w", in.Reason, store.ErrUnsupported)
	}

	applied, err := s.repo.ApplyAdjustment(ctx, domain.AdjustmentEvent{
		ItemID:         in.ItemID,
		QuantityChange: in.QuantityChange,
		Reason:         in.Reason,
		Notes:          in.Notes,
		ActorName:      s.actorName(ctx),
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, notify.EventStockAdjustment,
		fmt.Sprintf("adjusted %s by %s (%s)", applied.ItemID,
			domain.QuantityString(applied.QuantityChange), applied.Reason),
		applied)
	s.listCache.Invalidate(ctx)
	s.checkLowStock(ctx, []string{applied.ItemID})
	s.logAudit(ctx, "adjustment.create", applied.ID)
	return applied, nil
}

func (s *Service) DeleteAdjustment(ctx context.Context, id string) error {
	reversed, err := s.repo.ReverseAdjustment(ctx, id)
	if err != nil {
		return err
	}
	s.listCache.Invalidate(ctx)
	s.checkLowStock(ctx, []string{reversed.ItemID})
	s.logAudit(ctx, "adjustment.delete", id)
	return nil
}

func (s *Service) UpdateAdjustment(ctx context.Context, id string, in domain.AdjustmentInput) (*domain.AdjustmentEvent, error) {
	if in.QuantityChange.Sign() == 0 {
		return nil, ledger.ErrInvalidQuantity
	}
	if !in.Reason.Valid() {
		return nil, fmt.Errorf("unknown adjustment reason %q: %w", in.Reason, store.ErrUnsupported)
	}

	replaced, err := s.repo.ReplaceAdjustment(ctx, id, domain.AdjustmentEvent{
		ItemID:         in.ItemID,
		QuantityChange: in.QuantityChange,
		Reason:         in.Reason,
		Notes:          in.Notes,
		ActorName:      s.actorName(ctx),
	})
	if err != nil {
		return nil, err
	}
	s.listCache.Invalidate(ctx)
	s.checkLowStock(ctx, []string{replaced.ItemID})
	s.logAudit(ctx, "adjustment.update", id)
	return replaced, nil
}

func (s *Service) ListAdjustments(ctx context.Context, itemID string, limit int) ([]domain.AdjustmentEvent, error) {
	return s.repo.ListAdjustments(ctx, itemID, limit)
}

func (s *Service) validateRecipeInput(ctx context.Context, in domain.RecipeInput) error {
	if !in.Producible.Kind.Valid() {
		return fmt.Errorf("unknown producible kind %q: %w", in.Producible.Kind, store.ErrUnsupported)
	}
	if in.StandardYield.Sign() <= 0 {
		return ledger.ErrInvalidYield
	}
	if len(in.Lines) == 0 {
		return ledger.ErrEmptyRecipe
	}

	producible, err := s.repo.GetStockItem(ctx, in.Producible.ItemID)
	if err != nil {
		return err
	}
	if producible.Kind != in.Producible.Kind {
		return fmt.Errorf("producible %s is a %s: %w", producible.ID, producible.Kind, store.ErrUnsupported)
	}

	for _, line := range in.Lines {
		if line.QuantityPerYield.Sign() <= 0 {
			return fmt.Errorf("ingredient %s: %w", line.IngredientID, ledger.ErrInvalidQuantity)
		}
		ingredient, err := s.repo.GetStockItem(ctx, line.IngredientID)
		if err != nil {
			return err
		}
		if ingredient.Kind != domain.KindRawIngredient {
			return fmt.Errorf("ingredient %s is not a raw ingredient: %w", ingredient.ID, store.ErrUnsupported)
		}
	}
	return nil
}

func (s *Service) CreateRecipe(ctx context.Context, in domain.RecipeInput) (*domain.Recipe, error) {
	if err := s.validateRecipeInput(ctx, in); err != nil {
		return nil, err
	}
	recipe, err := s.repo.CreateRecipe(ctx, domain.Recipe{
		Producible:    in.Producible,
		StandardYield: in.StandardYield,
		Instructions:  in.Instructions,
		Lines:         in.Lines,
	})
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "recipe.create", recipe.ID)
	return recipe, nil
}

func (s *Service) GetRecipe(ctx context.Context, id string) (*domain.Recipe, error) {
	return s.repo.GetRecipe(ctx, id)
}

func (s *Service) GetRecipeByProducible(ctx context.Context, ref domain.ProducibleRef) (*domain.Recipe, error) {
	return s.repo.GetRecipeByProducible(ctx, ref)
}

func (s *Service) ListRecipes(ctx context.Context) ([]domain.Recipe, error) {
	return s.repo.ListRecipes(ctx)
}

// UpdateRecipe affects future production runs only; committed runs keep the
// consumption lines they were planned with.
func (s *Service) UpdateRecipe(ctx context.Context, id string, in domain.RecipeInput) (*domain.Recipe, error) {
	if err := s.validateRecipeInput(ctx, in); err != nil {
		return nil, err
	}
	recipe, err := s.repo.UpdateRecipe(ctx, domain.Recipe{
		ID:            id,
		Producible:    in.Producible,
		StandardYield: in.StandardYield,
		Instructions:  in.Instructions,
		Lines:         in.Lines,
	})
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "recipe.update", id)
	return recipe, nil
}

// RunProduction scales the recipe to the produced quantity, folds in any
// chef-reported actuals, and commits the whole consumption plan atomically.
// Ingredients may be driven negative; that is recorded, not blocked.
func (s *Service) RunProduction(ctx context.Context, in domain.ProductionInput) (*domain.ProductionEvent, error) {
	recipe, err := s.repo.GetRecipe(ctx, in.RecipeID)
	if err != nil {
		return nil, err
	}

	lines, err := ledger.BuildPlan(recipe, in.QuantityProduced, in.ChefActuals)
	if err != nil {
		return nil, err
	}

	run, err := s.repo.CommitProduction(ctx, domain.ProductionEvent{
		RecipeID:         recipe.ID,
		Producible:       recipe.Producible,
		QuantityProduced: in.QuantityProduced,
		ChefName:         s.actorName(ctx),
		Notes:            in.Notes,
		Lines:            lines,
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, notify.EventProductionComplete,
		fmt.Sprintf("produced %s of %s", domain.QuantityString(run.QuantityProduced), run.Producible.ItemID),
		run)
	ids := make([]string, 0, len(run.Lines))
	for _, line := range run.Lines {
		ids = append(ids, line.IngredientID)
	}
	s.listCache.Invalidate(ctx)
	s.checkLowStock(ctx, ids)
	s.logAudit(ctx, "production.commit", run.ID)
	return run, nil
}

func (s *Service) GetProduction(ctx context.Context, id string) (*domain.ProductionEvent, error) {
	return s.repo.GetProduction(ctx, id)
}

// DeleteProduction restores every ingredient by its recorded actual
// consumption and removes the produced output.
func (s *Service) DeleteProduction(ctx context.Context, id string) error {
	reversed, err := s.repo.ReverseProduction(ctx, id)
	if err != nil {
		return err
	}
	s.listCache.Invalidate(ctx)
	s.checkLowStock(ctx, []string{reversed.Producible.ItemID})
	s.logAudit(ctx, "production.delete", id)
	return nil
}

func (s *Service) ListProductionRuns(ctx context.Context, producibleItemID string, since time.Time, limit int) ([]domain.ProductionEvent, error) {
	return s.repo.ListProductionRuns(ctx, producibleItemID, since, limit)
}

func (s *Service) CreateSale(ctx context.Context, in domain.SaleInput) (*domain.SaleEvent, error) {
	if len(in.Lines) == 0 {
		return nil, fmt.Errorf("sale needs at least one line: %w", store.ErrUnsupported)
	}
	if len(in.Payments) == 0 {
		return nil, store.ErrUnderPayment
	}

	lines := make([]domain.SaleLine, 0, len(in.Lines))
	for _, line := range in.Lines {
		lines = append(lines, domain.SaleLine{ItemID: line.ItemID, Quantity: line.Quantity})
	}

	sale, err := s.repo.CreateSale(ctx, domain.SaleEvent{
		CashierName:  s.actorName(ctx),
		CustomerName: in.CustomerName,
		Lines:        lines,
		Payments:     in.Payments,
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, notify.EventSaleComplete,
		fmt.Sprintf("sale %s for %s", sale.ID, domain.MoneyString(sale.TotalAmount)),
		sale)
	s.logAudit(ctx, "sale.create", sale.ID)
	return sale, nil
}

func (s *Service) GetSale(ctx context.Context, id string) (*domain.SaleEvent, error) {
	return s.repo.GetSale(ctx, id)
}

// DeleteSale voids the transaction and restocks every line.
func (s *Service) DeleteSale(ctx context.Context, id string) error {
	if _, err := s.repo.DeleteSale(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, "sale.delete", id)
	return nil
}

// UpdateSaleLines is intentionally unsupported: changing what was sold would
// silently rewrite stock history. Void the sale and ring it up again.
func (s *Service) UpdateSaleLines(ctx context.Context, id string, lines []domain.SaleLineInput) error {
	return fmt.Errorf("sale lines are immutable, void and re-create instead: %w", store.ErrUnsupported)
}

// UpdateSalePayments swaps how a sale was paid without touching stock; the
// new payment set must still cover the total.
func (s *Service) UpdateSalePayments(ctx context.Context, id string, payments []domain.PaymentLine) (*domain.SaleEvent, error) {
	sale, err := s.repo.ReplaceSalePayments(ctx, id, payments)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "sale.update_payments", id)
	return sale, nil
}

func (s *Service) ListSales(ctx context.Context, from, to time.Time, limit int) ([]domain.SaleEvent, error) {
	return s.repo.ListSales(ctx, from, to, limit)
}

// CloseDay records the blind cash count for a calendar date. The expected
// total is computed server-side and the discrepancy is declared minus
// expected; a date can be closed once.
func (s *Service) CloseDay(ctx context.Context, date string, in domain.DailyClosingInput) (*domain.DailyClosing, error) {
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return nil, fmt.Errorf("bad closing date %q: %w", date, store.ErrUnsupported)
	}
	if in.TotalCashDeclared.Sign() < 0 || in.TotalDigitalDeclared.Sign() < 0 {
		return nil, ledger.ErrInvalidPayment
	}

	closing, err := s.repo.CloseDay(ctx, domain.DailyClosing{
		Date:                 date,
		ClosedBy:             s.actorName(ctx),
		TotalCashDeclared:    in.TotalCashDeclared,
		TotalDigitalDeclared: in.TotalDigitalDeclared,
		Notes:                in.Notes,
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, notify.EventEODClosing,
		fmt.Sprintf("day %s closed, discrepancy %s", closing.Date, domain.MoneyString(closing.CashDiscrepancy)),
		closing)
	s.logAudit(ctx, "closing.create", closing.ID)
	return closing, nil
}

func (s *Service) GetDailyClosing(ctx context.Context, date string) (*domain.DailyClosing, error) {
	return s.repo.GetDailyClosing(ctx, date)
}

func (s *Service) CreatePaymentMethod(ctx context.Context, name, configDetails string) (*domain.PaymentMethod, error) {
	if name == "" {
		return nil, fmt.Errorf("payment method name is required: %w", store.ErrUnsupported)
	}
	method, err := s.repo.CreatePaymentMethod(ctx, domain.PaymentMethod{
		Name:          name,
		Active:        true,
		ConfigDetails: configDetails,
	})
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "payment_method.create", method.ID)
	return method, nil
}

func (s *Service) ListPaymentMethods(ctx context.Context, activeOnly bool) ([]domain.PaymentMethod, error) {
	return s.repo.ListPaymentMethods(ctx, activeOnly)
}

func (s *Service) SetPaymentMethodActive(ctx context.Context, id string, active bool) (*domain.PaymentMethod, error) {
	method, err := s.repo.SetPaymentMethodActive(ctx, id, active)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "payment_method.set_active", id)
	return method, nil
}

var two = decimal.NewFromInt(2)

// ShoppingList renders the raw ingredients at or below reorder point with a
// suggested buy quantity that restocks to twice the reorder point. The
// result is cached briefly; any stock mutation invalidates it.
func (s *Service) ShoppingList(ctx context.Context) (*domain.ShoppingList, error) {
	if cached, ok := s.listCache.Get(ctx); ok {
		return cached, nil
	}

	lowItems, err := s.repo.ListLowStockItems(ctx)
	if err != nil {
		return nil, err
	}

	list := &domain.ShoppingList{
		Items:       make([]domain.ShoppingListItem, 0, len(lowItems)),
		GeneratedAt: time.Now().UTC(),
	}
	text := "Shopping list " + list.GeneratedAt.Format("2006-01-02") + ":"
	for _, item := range lowItems {
		suggested := item.ReorderPoint.Mul(two).Sub(item.CurrentStock).Round(3)
		if suggested.Sign() <= 0 {
			suggested = item.ReorderPoint
		}
		list.Items = append(list.Items, domain.ShoppingListItem{
			ItemID:       item.ID,
			Name:         item.Name,
			Unit:         item.Unit,
			CurrentStock: item.CurrentStock,
			ReorderPoint: item.ReorderPoint,
			SuggestedBuy: suggested,
		})
		text += fmt.Sprintf("\n- %s: buy %s %s (have %s)",
			item.Name, domain.QuantityString(suggested), item.Unit,
			domain.QuantityString(item.CurrentStock))
	}
	list.ShareText = text

	s.listCache.Set(ctx, list, s.listTTL)
	return list, nil
}
