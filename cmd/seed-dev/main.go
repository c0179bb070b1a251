package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"bitbucket.org/opticorelab/labsupply_backend/config"
	"bitbucket.org/opticorelab/labsupply_backend/models"
	"bitbucket.org/opticorelab/labsupply_backend/utils"
	"github.com/shopspring/decimal"
)

func getenv(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func boolPtr(v bool) *bool { return &v }

// seed-dev provisions a development database with the lab's default
// supplier roster, a starter lens/block catalog, and price rules.
func main() {
	businessId := flag.String("business", getenv("SEED_BUSINESS_ID", "dev-lab"), "business id to seed")
	flag.Parse()

	config.ConnectDatabaseWithRetry()
	models.MigrateTable()

	ctx := context.Background()
	ctx = utils.SetBusinessIdInContext(ctx, *businessId)
	ctx = utils.SetUserIdInContext(ctx, 0)
	ctx = utils.SetUserNameInContext(ctx, "seed-dev")

	// "Outros" is the invoiced catch-all supplier.
	supplierNames := []struct {
		name    string
		billing bool
	}{
		{"Essilor", false},
		{"Zeiss", false},
		{"Hoya", false},
		{"Saturn", false},
		{"Transitions", false},
		{"Outros", true},
	}

	suppliers := map[string]*models.Supplier{}
	for _, s := range supplierNames {
		supplier, err := models.CreateSupplier(ctx, &models.NewSupplier{
			Name:      s.name,
			IsActive:  boolPtr(true),
			IsBilling: boolPtr(s.billing),
		})
		if err != nil {
			log.Fatalf("seed supplier %s: %v", s.name, err)
		}
		suppliers[s.name] = supplier
		fmt.Printf("supplier %s (id=%d billing=%v)\n", s.name, supplier.ID, s.billing)
	}

	products := []models.NewProduct{
		{Name: "CR-39 1.50 Incolor", ExternalCode: "CR39-150", Kind: models.ProductKindLens, IsActive: boolPtr(true), InStock: boolPtr(true)},
		{Name: "Poly 1.59 AR", ExternalCode: "POLY-159", Kind: models.ProductKindLens, IsActive: boolPtr(true), InStock: boolPtr(true)},
		{Name: "1.67 AR Blue", ExternalCode: "HI-167", Kind: models.ProductKindLens, IsActive: boolPtr(true), InStock: boolPtr(true)},
		{Name: "Bloco CR-39 Base 4", ExternalCode: "BL-CR39-4", Kind: models.ProductKindBlock, IsActive: boolPtr(true), InStock: boolPtr(true)},
		{Name: "Bloco Poly Base 6", ExternalCode: "BL-POLY-6", Kind: models.ProductKindBlock, IsActive: boolPtr(true), InStock: boolPtr(true)},
	}

	ceilings := map[string]decimal.Decimal{
		"CR-39 1.50 Incolor": decimal.NewFromInt(80),
		"Poly 1.59 AR":       decimal.NewFromInt(150),
		"1.67 AR Blue":       decimal.NewFromInt(320),
		"Bloco CR-39 Base 4": decimal.NewFromInt(45),
		"Bloco Poly Base 6":  decimal.NewFromInt(70),
	}

	for _, p := range products {
		product, err := models.CreateProduct(ctx, &p)
		if err != nil {
			log.Fatalf("seed product %s: %v", p.Name, err)
		}
		for _, supplier := range suppliers {
			_, err := models.CreatePriceRule(ctx, &models.NewPriceRule{
				ProductId:  product.ID,
				SupplierId: supplier.ID,
				MaxPrice:   ceilings[p.Name],
				IsActive:   boolPtr(true),
			})
			if err != nil {
				log.Fatalf("seed rule %s/%s: %v", p.Name, supplier.Name, err)
			}
		}
		fmt.Printf("product %s (id=%d) with %d rules\n", product.Name, product.ID, len(suppliers))
	}

	fmt.Println("seed complete")
}
