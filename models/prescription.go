package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Prescription grid: every dioptric value moves in quarter steps.
// A value is on-grid iff round(x*100) mod 25 == 0.

var (
	lensSphereMin   = decimal.NewFromInt(-20)
	lensSphereMax   = decimal.NewFromInt(20)
	lensCylinderMin = decimal.NewFromInt(-15)

	blockAdditionMin = decimal.NewFromInt(1)
	blockAdditionMax = decimal.NewFromInt(4)

	// The lab's blockers only accept these curves.
	blockBases = []decimal.Decimal{
		decimal.NewFromFloat(0.5),
		decimal.NewFromInt(1),
		decimal.NewFromInt(2),
		decimal.NewFromInt(4),
		decimal.NewFromInt(6),
		decimal.NewFromInt(8),
		decimal.NewFromInt(10),
	}

	hundred    = decimal.NewFromInt(100)
	quarterMod = decimal.NewFromInt(25)
)

func onGrid(v decimal.Decimal) bool {
	cents := v.Mul(hundred).Round(0)
	return cents.Mod(quarterMod).IsZero()
}

// ValidateLensPrescription normalizes and checks a lens prescription.
// The cylinder sign is always forced negative regardless of how the
// practitioner wrote it.
func ValidateLensPrescription(sphere decimal.Decimal, cylinderRaw decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	cylinder := cylinderRaw.Abs().Neg()

	if sphere.LessThan(lensSphereMin) || sphere.GreaterThan(lensSphereMax) {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: sphere %s outside [-20, +20]", ErrInvalidPrescription, sphere)
	}
	if !onGrid(sphere) {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: sphere %s is not in quarter steps", ErrInvalidPrescription, sphere)
	}
	if cylinder.LessThan(lensCylinderMin) {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: cylinder %s outside [-15, 0]", ErrInvalidPrescription, cylinder)
	}
	if !onGrid(cylinder) {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: cylinder %s is not in quarter steps", ErrInvalidPrescription, cylinder)
	}
	return sphere, cylinder, nil
}

// ValidateBlockPrescription checks a semi-finished block's base curve and addition.
func ValidateBlockPrescription(base decimal.Decimal, addition decimal.Decimal) error {
	valid := false
	for _, b := range blockBases {
		if base.Equal(b) {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("%w: base %s is not a catalog curve", ErrInvalidPrescription, base)
	}
	if addition.LessThan(blockAdditionMin) || addition.GreaterThan(blockAdditionMax) {
		return fmt.Errorf("%w: addition %s outside [1.00, 4.00]", ErrInvalidPrescription, addition)
	}
	if !onGrid(addition) {
		return fmt.Errorf("%w: addition %s is not in quarter steps", ErrInvalidPrescription, addition)
	}
	return nil
}
