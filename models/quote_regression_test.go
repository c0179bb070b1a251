package models_test

import (
	"context"
	"testing"

	"bitbucket.org/opticorelab/labsupply_backend/models"
	"github.com/shopspring/decimal"
)

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func createQuoteFixture(t *testing.T, ctx context.Context) (narrow, wide *models.QuoteProduct) {
	t.Helper()

	services := []models.NewQuoteService{
		{Code: "EDGE", Description: "Edging", Price: dec("10")},
		{Code: "TINT", Description: "Tinting", Price: dec("25")},
		{Code: "HIGHPWR", Description: "High power surfacing", Price: dec("40")},
	}
	for _, s := range services {
		if _, err := models.CreateQuoteService(ctx, &s); err != nil {
			t.Fatalf("CreateQuoteService %s: %v", s.Code, err)
		}
	}

	var err error
	narrow, err = models.CreateQuoteProduct(ctx, &models.NewQuoteProduct{
		Code:           "VS-150",
		Name:           "Single 1.50",
		Price:          dec("100"),
		Vision:         models.VisionSingle,
		AntiReflective: newTrue(),
		Photochromic:   newFalse(),
		BlueFilter:     newFalse(),
		SphereMin:      dec("-4"),
		SphereMax:      dec("4"),
		CylinderMin:    dec("-2"),
		CylinderMax:    dec("0"),
		Services: []models.NewQuoteServiceLink{
			{ServiceCode: "EDGE", Role: models.QuoteServiceMandatory},
			{ServiceCode: "TINT", Role: models.QuoteServiceOptional},
		},
	})
	if err != nil {
		t.Fatalf("CreateQuoteProduct VS-150: %v", err)
	}

	wide, err = models.CreateQuoteProduct(ctx, &models.NewQuoteProduct{
		Code:           "VS-167",
		Name:           "Single 1.67",
		Price:          dec("250"),
		Vision:         models.VisionSingle,
		AntiReflective: newTrue(),
		Photochromic:   newFalse(),
		BlueFilter:     newFalse(),
		SphereMin:      dec("-10"),
		SphereMax:      dec("10"),
		CylinderMin:    dec("-4"),
		CylinderMax:    dec("0"),
		Services: []models.NewQuoteServiceLink{
			{ServiceCode: "EDGE", Role: models.QuoteServiceMandatory},
			{ServiceCode: "TINT", Role: models.QuoteServiceOptional},
			{
				ServiceCode: "HIGHPWR",
				Role:        models.QuoteServiceSurcharge,
				SphereMin:   decPtr("-10"),
				SphereMax:   decPtr("-5"),
				CylinderMin: decPtr("-4"),
				CylinderMax: decPtr("0"),
			},
		},
	})
	if err != nil {
		t.Fatalf("CreateQuoteProduct VS-167: %v", err)
	}
	return narrow, wide
}

// Options must match vision and flags exactly and cover BOTH eyes.
func TestGetQuoteOptions(t *testing.T) {
	ctx := newIntegrationContext(t)
	narrow, wide := createQuoteFixture(t, ctx)

	// Mild prescription: both designs qualify, cheapest first.
	options, err := models.GetQuoteOptions(ctx, &models.QuoteRequest{
		Vision:         models.VisionSingle,
		AntiReflective: true,
		Right:          models.QuoteEye{Sphere: dec("-2"), Cylinder: dec("-0.5")},
		Left:           models.QuoteEye{Sphere: dec("-1.75"), Cylinder: dec("-0.75")},
	})
	if err != nil {
		t.Fatalf("GetQuoteOptions: %v", err)
	}
	if len(options) != 2 {
		t.Fatalf("got %d options; want 2", len(options))
	}
	if options[0].ID != narrow.ID || options[1].ID != wide.ID {
		t.Fatalf("options out of price order: %d, %d", options[0].ID, options[1].ID)
	}

	// One strong eye pushes the quote past the narrow design's window.
	options, err = models.GetQuoteOptions(ctx, &models.QuoteRequest{
		Vision:         models.VisionSingle,
		AntiReflective: true,
		Right:          models.QuoteEye{Sphere: dec("-6"), Cylinder: dec("-0.5")},
		Left:           models.QuoteEye{Sphere: dec("-1.75"), Cylinder: dec("-0.75")},
	})
	if err != nil {
		t.Fatalf("GetQuoteOptions strong eye: %v", err)
	}
	if len(options) != 1 || options[0].ID != wide.ID {
		t.Fatalf("strong prescription must only match the wide design, got %d options", len(options))
	}

	// A flag mismatch excludes everything.
	options, err = models.GetQuoteOptions(ctx, &models.QuoteRequest{
		Vision:         models.VisionSingle,
		AntiReflective: true,
		BlueFilter:     true,
		Right:          models.QuoteEye{Sphere: dec("-2"), Cylinder: dec("-0.5")},
		Left:           models.QuoteEye{Sphere: dec("-1.75"), Cylinder: dec("-0.75")},
	})
	if err != nil {
		t.Fatalf("GetQuoteOptions flag mismatch: %v", err)
	}
	if len(options) != 0 {
		t.Fatalf("blue filter request matched %d non-blue designs", len(options))
	}
}

// The service breakdown prices mandatory work, lists optional add-ons, and
// pulls a surcharge into the mandatory block only when an eye triggers it.
func TestGetQuoteServices(t *testing.T) {
	ctx := newIntegrationContext(t)
	_, wide := createQuoteFixture(t, ctx)

	mild := models.QuoteEye{Sphere: dec("-2"), Cylinder: dec("-0.5")}
	strong := models.QuoteEye{Sphere: dec("-6"), Cylinder: dec("-0.5")}

	// No eye in the surcharge window: product + EDGE only.
	breakdown, err := models.GetQuoteServices(ctx, wide.ID, mild, mild)
	if err != nil {
		t.Fatalf("GetQuoteServices: %v", err)
	}
	if len(breakdown.Mandatory) != 1 || breakdown.Mandatory[0].Code != "EDGE" {
		t.Fatalf("mandatory = %+v; want EDGE only", breakdown.Mandatory)
	}
	if len(breakdown.Optional) != 1 || breakdown.Optional[0].Code != "TINT" {
		t.Fatalf("optional = %+v; want TINT", breakdown.Optional)
	}
	if !breakdown.Total.Equal(dec("260")) {
		t.Fatalf("total = %s; want 260 (250 + 10)", breakdown.Total)
	}

	// One strong eye triggers the high-power surcharge.
	breakdown, err = models.GetQuoteServices(ctx, wide.ID, strong, mild)
	if err != nil {
		t.Fatalf("GetQuoteServices strong eye: %v", err)
	}
	codes := map[string]bool{}
	for _, entry := range breakdown.Mandatory {
		codes[entry.Code] = true
	}
	if !codes["EDGE"] || !codes["HIGHPWR"] || len(breakdown.Mandatory) != 2 {
		t.Fatalf("mandatory = %+v; want EDGE and HIGHPWR", breakdown.Mandatory)
	}
	if !breakdown.Total.Equal(dec("300")) {
		t.Fatalf("total = %s; want 300 (250 + 10 + 40)", breakdown.Total)
	}
}

// Re-submitting a product code replaces it and its links without duplicates.
func TestCreateQuoteProduct_UpsertReplacesLinks(t *testing.T) {
	ctx := newIntegrationContext(t)
	narrow, _ := createQuoteFixture(t, ctx)

	updated, err := models.CreateQuoteProduct(ctx, &models.NewQuoteProduct{
		Code:           "VS-150",
		Name:           "Single 1.50 AR",
		Price:          dec("110"),
		Vision:         models.VisionSingle,
		AntiReflective: newTrue(),
		Photochromic:   newFalse(),
		BlueFilter:     newFalse(),
		SphereMin:      dec("-4"),
		SphereMax:      dec("4"),
		CylinderMin:    dec("-2"),
		CylinderMax:    dec("0"),
		Services: []models.NewQuoteServiceLink{
			{ServiceCode: "EDGE", Role: models.QuoteServiceMandatory},
		},
	})
	if err != nil {
		t.Fatalf("CreateQuoteProduct upsert: %v", err)
	}
	if updated.ID != narrow.ID {
		t.Fatalf("upsert created a new row (%d != %d)", updated.ID, narrow.ID)
	}
	if !updated.Price.Equal(dec("110")) {
		t.Fatalf("price = %s; want 110", updated.Price)
	}
	if len(updated.Services) != 1 || updated.Services[0].Service.Code != "EDGE" {
		t.Fatalf("links not replaced: %+v", updated.Services)
	}
}
