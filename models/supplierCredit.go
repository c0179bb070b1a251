package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/opticorelab/labsupply_backend/config"
	"bitbucket.org/opticorelab/labsupply_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SupplierCredit is a prepaid balance held against a supplier, created only
// by item reversal and drained only by settlement. Rows are never deleted.
type SupplierCredit struct {
	ID         int             `gorm:"primary_key" json:"id"`
	BusinessId string          `gorm:"index;not null" json:"business_id"`
	SupplierId int             `gorm:"index;not null" json:"supplier_id"`
	Amount     decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
	Remaining  decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"remaining"`
	// Item that generated this credit. Unique: an item reverses at most once.
	SourceItemId *int      `gorm:"uniqueIndex;default:null" json:"source_item_id"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type SupplierCreditUse struct {
	ID               int             `gorm:"primary_key" json:"id"`
	BusinessId       string          `gorm:"index;not null" json:"business_id"`
	SupplierCreditId int             `gorm:"index;not null" json:"supplier_credit_id"`
	PurchaseOrderId  int             `gorm:"index;not null" json:"purchase_order_id"`
	Amount           decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (c *SupplierCredit) useAmount(amount decimal.Decimal) error {
	if c.Remaining.LessThan(amount) {
		return errors.New("credit remaining balance less than applied amount")
	}
	c.Remaining = c.Remaining.Sub(amount)
	return nil
}

// GetSupplierCreditBalance sums the remaining balance across the supplier's
// open credits.
func GetSupplierCreditBalance(ctx context.Context, supplierId int) (decimal.Decimal, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return decimal.Zero, fmt.Errorf("%w: business id is required", ErrUnauthenticated)
	}
	db := config.GetDB()
	return supplierCreditBalance(db.WithContext(ctx), businessId, supplierId)
}

func supplierCreditBalance(tx *gorm.DB, businessId string, supplierId int) (decimal.Decimal, error) {
	var balance decimal.NullDecimal
	err := tx.Model(&SupplierCredit{}).
		Where("business_id = ?", businessId).
		Where("supplier_id = ?", supplierId).
		Select("SUM(remaining)").
		Scan(&balance).Error
	if err != nil {
		return decimal.Zero, err
	}
	if !balance.Valid {
		return decimal.Zero, nil
	}
	return balance.Decimal, nil
}

// consumeSupplierCredits drains the supplier's credits oldest-first against
// the order, up to desiredAmount. Must run inside the caller's transaction.
// The selected rows are locked (SELECT ... FOR UPDATE) so two concurrent
// settlements cannot drain the same credit twice.
func consumeSupplierCredits(tx *gorm.DB, ctx context.Context, businessId string, supplierId int, orderId int, desiredAmount decimal.Decimal) (decimal.Decimal, error) {
	if desiredAmount.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, nil
	}

	var credits []SupplierCredit
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("business_id = ?", businessId).
		Where("supplier_id = ?", supplierId).
		Where("remaining > 0").
		Order("created_at asc, id asc").
		Find(&credits).Error
	if err != nil {
		return decimal.Zero, err
	}

	consumed := decimal.Zero
	for i := range credits {
		stillNeeded := desiredAmount.Sub(consumed)
		if stillNeeded.LessThanOrEqual(decimal.Zero) {
			break
		}
		take := decimal.Min(credits[i].Remaining, stillNeeded)

		if err := credits[i].useAmount(take); err != nil {
			return decimal.Zero, err
		}
		if err := tx.WithContext(ctx).Save(&credits[i]).Error; err != nil {
			return decimal.Zero, err
		}

		use := SupplierCreditUse{
			BusinessId:       businessId,
			SupplierCreditId: credits[i].ID,
			PurchaseOrderId:  orderId,
			Amount:           take,
		}
		if err := tx.WithContext(ctx).Create(&use).Error; err != nil {
			return decimal.Zero, err
		}

		consumed = consumed.Add(take)
	}

	return consumed, nil
}

// itemAlreadyReversed reports whether a credit already references the item.
func itemAlreadyReversed(tx *gorm.DB, ctx context.Context, itemId int) (bool, error) {
	var existing int64
	err := tx.WithContext(ctx).Model(&SupplierCredit{}).
		Where("source_item_id = ?", itemId).
		Count(&existing).Error
	if err != nil {
		return false, err
	}
	return existing > 0, nil
}

// issueCreditFromReversal creates the credit generated by reversing an item.
// Must run inside the caller's transaction, after the order row is locked
// and the item checked against itemAlreadyReversed.
func issueCreditFromReversal(tx *gorm.DB, ctx context.Context, businessId string, item *PurchaseItem, supplierId int) (*SupplierCredit, error) {
	amount := item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: item %d totals %s", ErrInvalidAmount, item.ID, amount)
	}

	sourceItemId := item.ID
	credit := SupplierCredit{
		BusinessId:   businessId,
		SupplierId:   supplierId,
		Amount:       amount,
		Remaining:    amount,
		SourceItemId: &sourceItemId,
	}
	if err := tx.WithContext(ctx).Create(&credit).Error; err != nil {
		return nil, err
	}
	return &credit, nil
}

// ReversePurchaseItem converts one already-paid item into a supplier credit
// ("extorno") and transitions its order to REVERSED. Not undoable.
func ReversePurchaseItem(ctx context.Context, itemId int) (*SupplierCredit, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, fmt.Errorf("%w: business id is required", ErrUnauthenticated)
	}

	db := config.GetDB()

	var item PurchaseItem
	if err := db.WithContext(ctx).Where("business_id = ?", businessId).First(&item, itemId).Error; err != nil {
		return nil, fmt.Errorf("%w: item %d", ErrNotFound, itemId)
	}

	tx := db.Begin()

	var order PurchaseOrder
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("business_id = ?", businessId).
		First(&order, item.PurchaseOrderId).Error
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("%w: order %d", ErrNotFound, item.PurchaseOrderId)
	}

	// The locked order row serializes concurrent reversals of its items, so
	// this check cannot race with the insert below.
	reversed, err := itemAlreadyReversed(tx, ctx, item.ID)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if reversed {
		tx.Rollback()
		return nil, ErrAlreadyReversed
	}

	if order.Status != OrderStatusPaid {
		tx.Rollback()
		return nil, fmt.Errorf("%w: order %d is not paid (status %s)", ErrInvalidState, order.ID, order.Status)
	}

	credit, err := issueCreditFromReversal(tx, ctx, businessId, &item, order.SupplierId)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	newStatus := OrderStatusReversed
	if config.ItemScopedReversal() {
		// Item granularity: the order only flips once every item has a credit.
		var unreversed int64
		err := tx.WithContext(ctx).Model(&PurchaseItem{}).
			Where("purchase_order_id = ?", order.ID).
			Where("id NOT IN (?)", tx.Session(&gorm.Session{NewDB: true}).
				Model(&SupplierCredit{}).
				Select("source_item_id").
				Where("source_item_id IS NOT NULL")).
			Count(&unreversed).Error
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		if unreversed > 0 {
			newStatus = order.Status
		}
	}

	if newStatus != order.Status {
		if err := tx.WithContext(ctx).Model(&order).Update("Status", newStatus).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
		order.Status = newStatus
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	recordAuditEvent(ctx, AuditActionItemReversed,
		fmt.Sprintf("Item %d of order %d reversed into credit %s for supplier %d.", item.ID, order.ID, credit.Amount, order.SupplierId),
		item.ID, "purchase_items")

	return credit, nil
}
