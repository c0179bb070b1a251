package models

import (
	"log"

	"bitbucket.org/opticorelab/labsupply_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Product{}, &Supplier{}, &PriceRule{},
		&PurchaseOrder{}, &PurchaseItem{}, &Payment{},
		&SupplierCredit{}, &SupplierCreditUse{},
		&QuoteProduct{}, &QuoteService{}, &QuoteProductService{},
		&AuditEvent{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
