package models_test

import (
	"errors"
	"testing"

	"bitbucket.org/opticorelab/labsupply_backend/models"
)

// Regression: a cached rule lookup survived its supplier or product being
// deactivated. Rule writes always invalidated, but UpdateSupplier and
// UpdateProduct did not, so a primed cache kept admitting the pairing for
// up to the cache expiry.
func TestFindActivePriceRule_DeactivationEvictsCache(t *testing.T) {
	ctx := newIntegrationContext(t)

	supplier := createTestSupplier(t, ctx, "Essilor", false)
	lens := createTestProduct(t, ctx, "Poly 1.59 AR", models.ProductKindLens)
	createTestRule(t, ctx, lens.ID, supplier.ID, "150")

	// Prime the cache.
	if _, err := models.FindActivePriceRule(ctx, lens.ID, supplier.ID); err != nil {
		t.Fatalf("FindActivePriceRule: %v", err)
	}

	if _, err := models.UpdateSupplier(ctx, supplier.ID, &models.NewSupplier{
		Name:     "Essilor",
		IsActive: newFalse(),
	}); err != nil {
		t.Fatalf("UpdateSupplier: %v", err)
	}

	_, err := models.FindActivePriceRule(ctx, lens.ID, supplier.ID)
	if !errors.Is(err, models.ErrRuleNotFound) {
		t.Fatalf("lookup after supplier deactivation: expected ErrRuleNotFound, got %v", err)
	}

	// Reactivate, re-prime, then deactivate the product.
	if _, err := models.UpdateSupplier(ctx, supplier.ID, &models.NewSupplier{
		Name:     "Essilor",
		IsActive: newTrue(),
	}); err != nil {
		t.Fatalf("reactivate supplier: %v", err)
	}
	if _, err := models.FindActivePriceRule(ctx, lens.ID, supplier.ID); err != nil {
		t.Fatalf("re-prime: %v", err)
	}

	if _, err := models.UpdateProduct(ctx, lens.ID, &models.NewProduct{
		Name:     "Poly 1.59 AR",
		Kind:     models.ProductKindLens,
		IsActive: newFalse(),
	}); err != nil {
		t.Fatalf("UpdateProduct: %v", err)
	}

	_, err = models.FindActivePriceRule(ctx, lens.ID, supplier.ID)
	if !errors.Is(err, models.ErrRuleNotFound) {
		t.Fatalf("lookup after product deactivation: expected ErrRuleNotFound, got %v", err)
	}
}
