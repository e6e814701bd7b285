package ledger

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"bakeledger/backend/internal/domain"
)

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal literal %q: %v", s, err)
	}
	return d
}

func TestUnitCost(t *testing.T) {
	got := UnitCost(dec(t, "300"), dec(t, "10"))
	if !got.Equal(dec(t, "30.00")) {
		t.Fatalf("unit cost = %s, want 30.00", got)
	}

	if !UnitCost(dec(t, "300"), decimal.Zero).IsZero() {
		t.Fatalf("unit cost with zero qty should be zero")
	}
}

func TestNextAverageCostFoldsPurchase(t *testing.T) {
	// ingredient at stock=100, avg=25.00; purchase qty=10 for 300 total
	got := NextAverageCost(dec(t, "100"), dec(t, "25.00"), dec(t, "10"), dec(t, "300"))
	if !got.Equal(dec(t, "25.45")) {
		t.Fatalf("new average = %s, want 25.45", got)
	}
}

func TestNextAverageCostUnchangedWhenTotalQtyNotPositive(t *testing.T) {
	// over-consumed stock: -20 + 10 purchased is still not positive
	prior := dec(t, "25.00")
	got := NextAverageCost(dec(t, "-20"), prior, dec(t, "10"), dec(t, "300"))
	if !got.Equal(prior) {
		t.Fatalf("average = %s, want prior 25.00 unchanged", got)
	}
}

func TestAnomalyDetection(t *testing.T) {
	avg := dec(t, "25.00") // threshold: 32.50

	if IsAnomalous(dec(t, "30.00"), avg) {
		t.Fatalf("30.00 <= 32.50 must not be anomalous")
	}
	if IsAnomalous(dec(t, "32.50"), avg) {
		t.Fatalf("exactly at threshold must not be anomalous")
	}
	if !IsAnomalous(dec(t, "40.00"), avg) {
		t.Fatalf("40.00 > 32.50 must be anomalous")
	}
	if IsAnomalous(dec(t, "40.00"), decimal.Zero) {
		t.Fatalf("first purchase (no prior average) can never be anomalous")
	}
}

func TestIsLowStock(t *testing.T) {
	if !IsLowStock(dec(t, "10.000"), dec(t, "10.000")) {
		t.Fatalf("stock at reorder point is low")
	}
	if IsLowStock(dec(t, "10.001"), dec(t, "10.000")) {
		t.Fatalf("stock above reorder point is not low")
	}
}

func testRecipe(t *testing.T) *domain.Recipe {
	t.Helper()
	return &domain.Recipe{
		ID:            "rcp-1",
		Producible:    domain.ProducibleRef{Kind: domain.KindFinishedGood, ItemID: "prd-bread"},
		StandardYield: dec(t, "10"),
		Lines: []domain.RecipeLine{
			{IngredientID: "ing-flour", QuantityPerYield: dec(t, "2.5")},
		},
	}
}

func TestBuildPlanScalesByYieldRatio(t *testing.T) {
	recipe := testRecipe(t)

	lines, err := BuildPlan(recipe, dec(t, "25"), nil)
	if err != nil {
		t.Fatalf("build plan: %v", err)
	}
	if len(lines) != 1 {
		t.Fatalf("expected one consumption line, got %d", len(lines))
	}
	if !lines[0].Theoretical.Equal(dec(t, "6.250")) {
		t.Fatalf("theoretical = %s, want 6.250", lines[0].Theoretical)
	}
	if !lines[0].Actual.Equal(dec(t, "6.250")) {
		t.Fatalf("actual defaults to theoretical, got %s", lines[0].Actual)
	}
	if !lines[0].Wastage.IsZero() {
		t.Fatalf("wastage = %s, want 0", lines[0].Wastage)
	}
}

func TestBuildPlanChefActualsAndWastage(t *testing.T) {
	recipe := testRecipe(t)

	lines, err := BuildPlan(recipe, dec(t, "25"), map[string]decimal.Decimal{
		"ing-flour": dec(t, "6.5"),
	})
	if err != nil {
		t.Fatalf("build plan: %v", err)
	}
	if !lines[0].Actual.Equal(dec(t, "6.500")) {
		t.Fatalf("actual = %s, want 6.500", lines[0].Actual)
	}
	if !lines[0].Wastage.Equal(dec(t, "0.250")) {
		t.Fatalf("wastage = %s, want 0.250", lines[0].Wastage)
	}
}

func TestBuildPlanNegativeWastageAllowed(t *testing.T) {
	recipe := testRecipe(t)

	lines, err := BuildPlan(recipe, dec(t, "25"), map[string]decimal.Decimal{
		"ing-flour": dec(t, "6.0"),
	})
	if err != nil {
		t.Fatalf("build plan: %v", err)
	}
	if !lines[0].Wastage.Equal(dec(t, "-0.250")) {
		t.Fatalf("wastage = %s, want -0.250", lines[0].Wastage)
	}
}

func TestBuildPlanValidation(t *testing.T) {
	recipe := testRecipe(t)

	if _, err := BuildPlan(nil, dec(t, "10"), nil); !errors.Is(err, ErrNoRecipe) {
		t.Fatalf("nil recipe: got %v, want ErrNoRecipe", err)
	}

	empty := *recipe
	empty.Lines = nil
	if _, err := BuildPlan(&empty, dec(t, "10"), nil); !errors.Is(err, ErrEmptyRecipe) {
		t.Fatalf("empty recipe: got %v, want ErrEmptyRecipe", err)
	}

	badYield := *recipe
	badYield.StandardYield = decimal.Zero
	if _, err := BuildPlan(&badYield, dec(t, "10"), nil); !errors.Is(err, ErrInvalidYield) {
		t.Fatalf("zero yield: got %v, want ErrInvalidYield", err)
	}

	if _, err := BuildPlan(recipe, decimal.Zero, nil); !errors.Is(err, ErrInvalidQuantity) {
		t.Fatalf("zero quantity: got %v, want ErrInvalidQuantity", err)
	}

	_, err := BuildPlan(recipe, dec(t, "10"), map[string]decimal.Decimal{
		"ing-flour": dec(t, "-1"),
	})
	if !errors.Is(err, ErrNegativeActual) {
		t.Fatalf("negative actual: got %v, want ErrNegativeActual", err)
	}
	if !IsValidation(err) {
		t.Fatalf("negative actual should classify as validation error")
	}
}
