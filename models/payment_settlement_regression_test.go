package models_test

import (
	"context"
	"testing"
	"time"

	"bitbucket.org/opticorelab/labsupply_backend/config"
	"bitbucket.org/opticorelab/labsupply_backend/models"
	"bitbucket.org/opticorelab/labsupply_backend/utils"
	"github.com/shopspring/decimal"
)

func composePendingOrder(t *testing.T, ctx context.Context, os string, productId, supplierId int, price string) *models.PurchaseOrder {
	t.Helper()
	orders, err := models.ComposePurchaseOrders(ctx, &models.NewOrderSubmission{
		OsNumber: os,
		Pairing:  models.PairingModeHalf,
		Kind:     models.ProductKindLens,
		Items: []models.NewOrderItem{
			lensItem(productId, supplierId, price, "-2", "-0.5"),
		},
	})
	if err != nil {
		t.Fatalf("ComposePurchaseOrders: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("got %d orders; want 1", len(orders))
	}
	return orders[0]
}

func insertCredit(t *testing.T, ctx context.Context, supplierId int, amount string, at time.Time) *models.SupplierCredit {
	t.Helper()
	businessId, _ := utils.GetBusinessIdFromContext(ctx)
	credit := models.SupplierCredit{
		BusinessId: businessId,
		SupplierId: supplierId,
		Amount:     dec(amount),
		Remaining:  dec(amount),
		CreatedAt:  at,
	}
	if err := config.GetDB().Create(&credit).Error; err != nil {
		t.Fatalf("insert credit: %v", err)
	}
	return &credit
}

// Credit is drained before cash: a 30 credit against a 100 order leaves a
// 70 cash payment and an empty balance.
func TestSettlePurchaseOrderPayment_PartialCredit(t *testing.T) {
	ctx := newIntegrationContext(t)

	supplier := createTestSupplier(t, ctx, "Essilor", false)
	lens := createTestProduct(t, ctx, "Poly 1.59 AR", models.ProductKindLens)
	createTestRule(t, ctx, lens.ID, supplier.ID, "150")

	insertCredit(t, ctx, supplier.ID, "30", time.Now().UTC())
	order := composePendingOrder(t, ctx, "OS-7001", lens.ID, supplier.ID, "100")

	result, err := models.SettlePurchaseOrderPayment(ctx, order.ID, &models.NewPayment{Method: "PIX"})
	if err != nil {
		t.Fatalf("SettlePurchaseOrderPayment: %v", err)
	}
	if !result.SuggestedDue.Equal(dec("70")) {
		t.Fatalf("suggested due = %s; want 70", result.SuggestedDue)
	}
	if !result.CreditConsumed.Equal(dec("30")) {
		t.Fatalf("credit consumed = %s; want 30", result.CreditConsumed)
	}
	if !result.CashDue.Equal(dec("70")) {
		t.Fatalf("cash due = %s; want 70", result.CashDue)
	}
	if result.Payment == nil || !result.Payment.Amount.Equal(dec("70")) {
		t.Fatalf("payment = %+v; want amount 70", result.Payment)
	}
	if result.Payment.Method != "PIX" {
		t.Fatalf("payment method = %q; want PIX", result.Payment.Method)
	}
	if result.Order.Status != models.OrderStatusPaid {
		t.Fatalf("order status = %s; want PAID", result.Order.Status)
	}
	if balance := creditBalance(t, ctx, supplier.ID); !balance.IsZero() {
		t.Fatalf("balance after settlement = %s; want 0", balance)
	}
}

// Credits are consumed strictly oldest first, and each credit's use rows
// always reconcile with its drained amount.
func TestSettlePurchaseOrderPayment_CreditsDrainOldestFirst(t *testing.T) {
	ctx := newIntegrationContext(t)

	supplier := createTestSupplier(t, ctx, "Zeiss", false)
	lens := createTestProduct(t, ctx, "Poly 1.59 AR", models.ProductKindLens)
	createTestRule(t, ctx, lens.ID, supplier.ID, "150")

	base := time.Now().UTC().Add(-time.Hour)
	oldest := insertCredit(t, ctx, supplier.ID, "10", base)
	middle := insertCredit(t, ctx, supplier.ID, "10", base.Add(time.Minute))
	newest := insertCredit(t, ctx, supplier.ID, "10", base.Add(2*time.Minute))

	order := composePendingOrder(t, ctx, "OS-7101", lens.ID, supplier.ID, "25")

	result, err := models.SettlePurchaseOrderPayment(ctx, order.ID, nil)
	if err != nil {
		t.Fatalf("SettlePurchaseOrderPayment: %v", err)
	}
	if !result.CreditConsumed.Equal(dec("25")) {
		t.Fatalf("credit consumed = %s; want 25", result.CreditConsumed)
	}
	if result.Payment != nil {
		t.Fatalf("fully covered order must not create a payment, got %+v", result.Payment)
	}

	db := config.GetDB()
	remaining := func(id int) decimal.Decimal {
		var c models.SupplierCredit
		if err := db.First(&c, id).Error; err != nil {
			t.Fatalf("reload credit %d: %v", id, err)
		}
		return c.Remaining
	}
	if r := remaining(oldest.ID); !r.IsZero() {
		t.Fatalf("oldest credit remaining = %s; want 0", r)
	}
	if r := remaining(middle.ID); !r.IsZero() {
		t.Fatalf("middle credit remaining = %s; want 0", r)
	}
	if r := remaining(newest.ID); !r.Equal(dec("5")) {
		t.Fatalf("newest credit remaining = %s; want 5", r)
	}

	// amount - remaining == sum of uses, per credit.
	for _, credit := range []*models.SupplierCredit{oldest, middle, newest} {
		var used decimal.NullDecimal
		err := db.Model(&models.SupplierCreditUse{}).
			Where("supplier_credit_id = ?", credit.ID).
			Select("SUM(amount)").
			Scan(&used).Error
		if err != nil {
			t.Fatalf("sum uses for credit %d: %v", credit.ID, err)
		}
		sum := decimal.Zero
		if used.Valid {
			sum = used.Decimal
		}
		if !credit.Amount.Sub(remaining(credit.ID)).Equal(sum) {
			t.Fatalf("credit %d ledger out of balance: amount %s remaining %s uses %s",
				credit.ID, credit.Amount, remaining(credit.ID), sum)
		}
	}
}

func TestSettlePurchaseOrderPayment_SettleTwiceFails(t *testing.T) {
	ctx := newIntegrationContext(t)

	supplier := createTestSupplier(t, ctx, "Hoya", false)
	lens := createTestProduct(t, ctx, "Poly 1.59 AR", models.ProductKindLens)
	createTestRule(t, ctx, lens.ID, supplier.ID, "150")

	order := composePendingOrder(t, ctx, "OS-7201", lens.ID, supplier.ID, "50")

	if _, err := models.SettlePurchaseOrderPayment(ctx, order.ID, nil); err != nil {
		t.Fatalf("first settlement: %v", err)
	}
	if _, err := models.SettlePurchaseOrderPayment(ctx, order.ID, nil); err == nil {
		t.Fatal("second settlement of the same order must fail")
	}

	db := config.GetDB()
	var payments int64
	if err := db.Model(&models.Payment{}).Where("purchase_order_id = ?", order.ID).Count(&payments).Error; err != nil {
		t.Fatalf("count payments: %v", err)
	}
	if payments != 1 {
		t.Fatalf("order has %d payments; want 1", payments)
	}
}

func TestGetPaymentsByDay(t *testing.T) {
	ctx := newIntegrationContext(t)

	supplier := createTestSupplier(t, ctx, "Saturn", false)
	lens := createTestProduct(t, ctx, "Poly 1.59 AR", models.ProductKindLens)
	createTestRule(t, ctx, lens.ID, supplier.ID, "150")

	first := composePendingOrder(t, ctx, "OS-7301", lens.ID, supplier.ID, "40")
	second := composePendingOrder(t, ctx, "OS-7302", lens.ID, supplier.ID, "60")
	for _, order := range []*models.PurchaseOrder{first, second} {
		if _, err := models.SettlePurchaseOrderPayment(ctx, order.ID, &models.NewPayment{Method: "PIX"}); err != nil {
			t.Fatalf("settle order %d: %v", order.ID, err)
		}
	}

	today := time.Now().UTC().Format("2006-01-02")
	report, err := models.GetPaymentsByDay(ctx, today)
	if err != nil {
		t.Fatalf("GetPaymentsByDay: %v", err)
	}
	if len(report.Entries) != 2 {
		t.Fatalf("got %d entries; want 2", len(report.Entries))
	}
	if !report.Total.Equal(dec("100")) {
		t.Fatalf("report total = %s; want 100", report.Total)
	}
	for _, entry := range report.Entries {
		if entry.Supplier == nil || entry.Supplier.ID != supplier.ID {
			t.Fatalf("entry supplier = %+v; want id %d", entry.Supplier, supplier.ID)
		}
		if entry.Order == nil || len(entry.Order.Items) != 1 {
			t.Fatalf("entry order missing items: %+v", entry.Order)
		}
	}

	empty, err := models.GetPaymentsByDay(ctx, "2000-01-01")
	if err != nil {
		t.Fatalf("GetPaymentsByDay empty day: %v", err)
	}
	if len(empty.Entries) != 0 || !empty.Total.IsZero() {
		t.Fatalf("empty day not empty: %+v", empty)
	}

	if _, err := models.GetPaymentsByDay(ctx, "not-a-day"); err == nil {
		t.Fatal("malformed day must fail")
	}
}

func TestGetPendingPurchaseOrders(t *testing.T) {
	ctx := newIntegrationContext(t)

	essilor := createTestSupplier(t, ctx, "Essilor", false)
	zeiss := createTestSupplier(t, ctx, "Zeiss", false)
	lens := createTestProduct(t, ctx, "Poly 1.59 AR", models.ProductKindLens)
	createTestRule(t, ctx, lens.ID, essilor.ID, "150")
	createTestRule(t, ctx, lens.ID, zeiss.ID, "150")

	composePendingOrder(t, ctx, "OS-7401", lens.ID, essilor.ID, "40")
	composePendingOrder(t, ctx, "OS-7402", lens.ID, essilor.ID, "60")
	composePendingOrder(t, ctx, "OS-7403", lens.ID, zeiss.ID, "80")
	insertCredit(t, ctx, essilor.ID, "25", time.Now().UTC())

	pending, err := models.GetPendingPurchaseOrders(ctx)
	if err != nil {
		t.Fatalf("GetPendingPurchaseOrders: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("got %d supplier groups; want 2", len(pending))
	}

	byId := map[int]*models.SupplierPendingOrders{}
	for _, entry := range pending {
		byId[entry.Supplier.ID] = entry
	}
	if entry := byId[essilor.ID]; len(entry.Orders) != 2 || !entry.Total.Equal(dec("100")) || !entry.CreditBalance.Equal(dec("25")) {
		t.Fatalf("essilor group = orders %d total %s credit %s; want 2/100/25",
			len(entry.Orders), entry.Total, entry.CreditBalance)
	}
	if entry := byId[zeiss.ID]; len(entry.Orders) != 1 || !entry.Total.Equal(dec("80")) {
		t.Fatalf("zeiss group = orders %d total %s; want 1/80", len(entry.Orders), entry.Total)
	}
}
