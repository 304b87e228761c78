/**
 * @description
 * Collateral sizing for rotation slots. The earlier a member is paid out,
 * the less they will have contributed by payout time, so early positions
 * carry full collateral and the anchor position carries none. The curve is
 * linear and deterministic.
 */

package app

import (
	"fmt"
	"math"
)

// SizeCollateral computes the required collateral in kobo for a rotation
// position. position is 1-indexed; position 1 requires base*ratio, the last
// position requires zero, and the discount between them is linear.
func SizeCollateral(baseAmount int64, ratio float64, position, totalSlots int) (int64, error) {
	if baseAmount <= 0 {
		return 0, &ValidationError{Msg: fmt.Sprintf("base amount must be positive, got %d", baseAmount)}
	}
	if ratio < 0 || ratio > 1 {
		return 0, &ValidationError{Msg: fmt.Sprintf("collateral ratio must be within [0,1], got %v", ratio)}
	}
	if position < 1 {
		return 0, &ValidationError{Msg: fmt.Sprintf("rotation position must be >= 1, got %d", position)}
	}
	if totalSlots < 1 {
		return 0, &ValidationError{Msg: fmt.Sprintf("total slots must be >= 1, got %d", totalSlots)}
	}
	if position > totalSlots {
		return 0, &ValidationError{Msg: fmt.Sprintf("rotation position %d exceeds total slots %d", position, totalSlots)}
	}

	factor := 0.0
	if totalSlots > 1 {
		factor = float64(position-1) / float64(totalSlots-1)
	}
	if factor < 0 {
		factor = 0
	}
	if factor > 1 {
		factor = 1
	}

	discount := 1 - factor
	return int64(math.Round(float64(baseAmount) * ratio * discount)), nil
}
