package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"

	"bakeledger/backend/internal/domain"
)

// ratioPrecision bounds the scaling ratio so a recipe defined against an
// awkward yield (e.g. 7) still scales deterministically.
const ratioPrecision = 6

// BuildPlan scales a recipe to the requested output quantity and merges in
// chef-reported actual consumption. For every recipe line the theoretical
// amount is quantityPerYield * (quantityProduced / standardYield); the actual
// amount defaults to theoretical when the chef reported nothing for that
// ingredient.
func BuildPlan(recipe *domain.Recipe, quantityProduced decimal.Decimal, chefActuals map[string]decimal.Decimal) ([]domain.ConsumptionLine, error) {
	if recipe == nil {
		return nil, ErrNoRecipe
	}
	if len(recipe.Lines) == 0 {
		return nil, ErrEmptyRecipe
	}
	if recipe.StandardYield.Sign() <= 0 {
		return nil, ErrInvalidYield
	}
	if quantityProduced.Sign() <= 0 {
		return nil, ErrInvalidQuantity
	}
	for ingredientID, actual := range chefActuals {
		if actual.Sign() < 0 {
			return nil, fmt.Errorf("ingredient %s: %w", ingredientID, ErrNegativeActual)
		}
	}

	ratio := quantityProduced.DivRound(recipe.StandardYield, ratioPrecision)

	lines := make([]domain.ConsumptionLine, 0, len(recipe.Lines))
	for _, line := range recipe.Lines {
		if line.QuantityPerYield.Sign() <= 0 {
			return nil, fmt.Errorf("ingredient %s: %w", line.IngredientID, ErrInvalidQuantity)
		}
		theoretical := line.QuantityPerYield.Mul(ratio).Round(3)
		actual := theoretical
		if reported, ok := chefActuals[line.IngredientID]; ok {
			actual = reported.Round(3)
		}
		lines = append(lines, domain.ConsumptionLine{
			IngredientID: line.IngredientID,
			Theoretical:  theoretical,
			Actual:       actual,
			Wastage:      Wastage(actual, theoretical),
		})
	}

	return lines, nil
}
