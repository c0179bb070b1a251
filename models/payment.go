package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/opticorelab/labsupply_backend/config"
	"bitbucket.org/opticorelab/labsupply_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm/clause"
)

// Payment is the single settlement record of an order. Credit-only
// settlements leave no Payment row at all; only cash (or the synthetic
// BILLED amount) is recorded.
type Payment struct {
	ID              int             `gorm:"primary_key" json:"id"`
	BusinessId      string          `gorm:"index;not null" json:"business_id"`
	PurchaseOrderId int             `gorm:"uniqueIndex;not null" json:"purchase_order_id"`
	PayerId         int             `gorm:"index;not null" json:"payer_id"`
	Method          string          `gorm:"size:50;default:null" json:"method"`
	Reference       string          `gorm:"size:255;default:null" json:"reference"`
	Amount          decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
	PaidAt          time.Time       `gorm:"index;not null" json:"paid_at"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

type NewPayment struct {
	Method    string           `json:"method"`
	Reference string           `json:"reference"`
	// Amount overrides the computed cash due when provided and non-negative.
	Amount *decimal.Decimal `json:"amount"`
}

type SettlementResult struct {
	Order          *PurchaseOrder  `json:"order"`
	SuggestedDue   decimal.Decimal `json:"suggested_due"`
	CreditConsumed decimal.Decimal `json:"credit_consumed"`
	CashDue        decimal.Decimal `json:"cash_due"`
	Payment        *Payment        `json:"payment"`
}

// SettlePurchaseOrderPayment settles a pending order: supplier credit is
// drained first (oldest credit first), the remainder becomes a cash Payment,
// and the order moves to PAID. One transaction, at most one Payment row.
func SettlePurchaseOrderPayment(ctx context.Context, orderId int, input *NewPayment) (*SettlementResult, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, fmt.Errorf("%w: business id is required", ErrUnauthenticated)
	}
	payerId, ok := utils.GetUserIdFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("%w: user id is required", ErrUnauthenticated)
	}
	if input == nil {
		input = &NewPayment{}
	}

	db := config.GetDB()

	// Peek at the order for the lock key; the transactional re-read below is
	// the authority on status.
	peek, err := utils.FetchModel[PurchaseOrder](ctx, businessId, orderId)
	if err != nil {
		return nil, fmt.Errorf("%w: order %d", ErrNotFound, orderId)
	}

	// One settlement at a time per supplier across instances; the FOR UPDATE
	// on credit rows stays the authority inside the transaction.
	release, err := utils.ObtainBusinessLock(ctx, businessId, "supplier-settlement", fmt.Sprint(peek.SupplierId), "payment.go", "SettlePurchaseOrderPayment")
	if err != nil {
		if errors.Is(err, utils.ErrorLockNotObtained) {
			return nil, ErrConcurrencyConflict
		}
		return nil, err
	}
	defer release()

	tx := db.Begin()

	var order PurchaseOrder
	err = tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("business_id = ?", businessId).
		First(&order, orderId).Error
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("%w: order %d", ErrNotFound, orderId)
	}
	if order.Status != OrderStatusPendingPayment {
		tx.Rollback()
		return nil, fmt.Errorf("%w: order %d is not pending payment (status %s)", ErrInvalidState, order.ID, order.Status)
	}

	// Display-only hint of what cash will be needed.
	balance, err := supplierCreditBalance(tx.WithContext(ctx), businessId, order.SupplierId)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	suggestedDue := decimal.Max(order.Total.Sub(balance), decimal.Zero)

	consumed, err := consumeSupplierCredits(tx, ctx, businessId, order.SupplierId, order.ID, order.Total)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	cashDue := decimal.Max(order.Total.Sub(consumed), decimal.Zero)

	var payment *Payment
	if cashDue.GreaterThan(decimal.Zero) {
		amount := cashDue
		// Caller override wins over the computed due.
		if input.Amount != nil && !input.Amount.IsNegative() {
			amount = *input.Amount
		}
		payment = &Payment{
			BusinessId:      businessId,
			PurchaseOrderId: order.ID,
			PayerId:         payerId,
			Method:          input.Method,
			Reference:       input.Reference,
			Amount:          amount,
			PaidAt:          time.Now().UTC(),
		}
		if err := tx.WithContext(ctx).Create(payment).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	if err := tx.WithContext(ctx).Model(&order).Update("Status", OrderStatusPaid).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	order.Status = OrderStatusPaid

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	recordAuditEvent(ctx, AuditActionOrderSettled,
		fmt.Sprintf("Order %d settled: credit %s, cash %s.", order.ID, consumed, cashDue),
		order.ID, "purchase_orders")

	return &SettlementResult{
		Order:          &order,
		SuggestedDue:   suggestedDue,
		CreditConsumed: consumed,
		CashDue:        cashDue,
		Payment:        payment,
	}, nil
}

type PaymentsByDayEntry struct {
	Payment  *Payment       `json:"payment"`
	Order    *PurchaseOrder `json:"order"`
	Supplier *Supplier      `json:"supplier"`
}

type PaymentsByDayReport struct {
	Day     string                `json:"day"`
	Total   decimal.Decimal       `json:"total"`
	Entries []*PaymentsByDayEntry `json:"entries"`
}

// GetPaymentsByDay lists payments whose paid_at falls on the given day
// (YYYY-MM-DD, UTC). Feeds the reversal screen's day filter.
func GetPaymentsByDay(ctx context.Context, day string) (*PaymentsByDayReport, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, fmt.Errorf("%w: business id is required", ErrUnauthenticated)
	}

	start, err := time.Parse("2006-01-02", day)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid day %q, want YYYY-MM-DD", ErrInvalidSubmission, day)
	}
	end := start.Add(24 * time.Hour)

	db := config.GetDB()
	var payments []*Payment
	err = db.WithContext(ctx).
		Where("business_id = ?", businessId).
		Where("paid_at >= ? AND paid_at < ?", start, end).
		Order("paid_at asc, id asc").
		Find(&payments).Error
	if err != nil {
		return nil, err
	}

	report := PaymentsByDayReport{Day: day, Total: decimal.Zero}
	for _, payment := range payments {
		order, err := utils.FetchModel[PurchaseOrder](ctx, businessId, payment.PurchaseOrderId, "Items")
		if err != nil {
			return nil, err
		}
		supplier, err := utils.FetchModel[Supplier](ctx, businessId, order.SupplierId)
		if err != nil {
			return nil, err
		}
		report.Entries = append(report.Entries, &PaymentsByDayEntry{
			Payment:  payment,
			Order:    order,
			Supplier: supplier,
		})
		report.Total = report.Total.Add(payment.Amount)
	}

	return &report, nil
}
