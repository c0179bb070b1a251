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

// osPairLimit caps how many items may share one OS number ("full pair").
const osPairLimit = 2

type PurchaseOrder struct {
	ID         int             `gorm:"primary_key" json:"id"`
	BusinessId string          `gorm:"index;not null" json:"business_id"`
	BuyerId    int             `gorm:"index;not null" json:"buyer_id"`
	SupplierId int             `gorm:"index;not null" json:"supplier_id"`
	Status     OrderStatus     `gorm:"type:enum('PENDING_PAYMENT','PAID','REVERSED','CANCELED');not null" json:"status"`
	Total      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total"`
	Note       string          `gorm:"size:255;default:null" json:"note"`
	Items      []PurchaseItem  `gorm:"foreignKey:PurchaseOrderId" json:"items"`
	CreatedAt  time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type PurchaseItem struct {
	ID              int    `gorm:"primary_key" json:"id"`
	BusinessId      string `gorm:"index;not null" json:"business_id"`
	PurchaseOrderId int    `gorm:"index;not null" json:"purchase_order_id"`
	ProductId       int    `gorm:"index;not null" json:"product_id"`
	// External work-order identifier; at most two items system-wide share one.
	OsNumber  string              `gorm:"size:50;index;not null" json:"os_number"`
	Quantity  int                 `gorm:"not null;default:1" json:"quantity"`
	UnitPrice decimal.Decimal     `gorm:"type:decimal(20,4);not null" json:"unit_price"`
	Sphere    decimal.NullDecimal `gorm:"type:decimal(10,2);default:null" json:"sphere"`
	Cylinder  decimal.NullDecimal `gorm:"type:decimal(10,2);default:null" json:"cylinder"`
	Base      decimal.NullDecimal `gorm:"type:decimal(10,2);default:null" json:"base"`
	Addition  decimal.NullDecimal `gorm:"type:decimal(10,2);default:null" json:"addition"`
	CreatedAt time.Time           `gorm:"autoCreateTime" json:"created_at"`
}

type NewOrderItem struct {
	ProductId  int             `json:"product_id" binding:"required"`
	SupplierId int             `json:"supplier_id" binding:"required"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price" binding:"required"`
	Sphere     decimal.Decimal `json:"sphere"`
	Cylinder   decimal.Decimal `json:"cylinder"`
	Base       decimal.Decimal `json:"base"`
	Addition   decimal.Decimal `json:"addition"`
}

type NewOrderSubmission struct {
	OsNumber string         `json:"os_number" binding:"required"`
	Pairing  PairingMode    `json:"pairing" binding:"required"`
	Kind     ProductKind    `json:"kind" binding:"required"`
	Items    []NewOrderItem `json:"items" binding:"required,dive"`
}

// buildItem validates one line-item request and maps it to a row.
// All checks happen here, before anything is written.
func (input NewOrderSubmission) buildItem(ctx context.Context, businessId string, req NewOrderItem) (*PurchaseItem, error) {
	product, err := utils.FetchModel[Product](ctx, businessId, req.ProductId)
	if err != nil {
		return nil, fmt.Errorf("%w: product %d", ErrNotFound, req.ProductId)
	}
	if product.Kind != input.Kind {
		return nil, fmt.Errorf("%w: product %q is a %s, submission is for %s", ErrInvalidSubmission, product.Name, product.Kind, input.Kind)
	}

	rule, err := FindActivePriceRule(ctx, req.ProductId, req.SupplierId)
	if err != nil {
		return nil, err
	}
	if err := rule.ValidatePrice(req.UnitPrice); err != nil {
		return nil, err
	}

	quantity := req.Quantity
	if quantity == 0 {
		quantity = 1
	}
	if quantity < 0 {
		return nil, fmt.Errorf("%w: quantity %d", ErrInvalidAmount, req.Quantity)
	}

	item := PurchaseItem{
		BusinessId: businessId,
		ProductId:  req.ProductId,
		OsNumber:   input.OsNumber,
		Quantity:   quantity,
		UnitPrice:  req.UnitPrice,
	}

	switch input.Kind {
	case ProductKindLens:
		sphere, cylinder, err := ValidateLensPrescription(req.Sphere, req.Cylinder)
		if err != nil {
			return nil, err
		}
		item.Sphere = decimal.NewNullDecimal(sphere)
		item.Cylinder = decimal.NewNullDecimal(cylinder)
	case ProductKindBlock:
		if err := ValidateBlockPrescription(req.Base, req.Addition); err != nil {
			return nil, err
		}
		item.Base = decimal.NewNullDecimal(req.Base)
		item.Addition = decimal.NewNullDecimal(req.Addition)
	default:
		return nil, fmt.Errorf("%w: unknown product kind %q", ErrInvalidSubmission, input.Kind)
	}

	return &item, nil
}

// ComposePurchaseOrders admits a half or full pair under one OS number and
// creates one order per distinct target supplier. All-or-nothing: any
// validation failure leaves the database untouched.
func ComposePurchaseOrders(ctx context.Context, input *NewOrderSubmission) ([]*PurchaseOrder, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, fmt.Errorf("%w: business id is required", ErrUnauthenticated)
	}
	buyerId, ok := utils.GetUserIdFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("%w: user id is required", ErrUnauthenticated)
	}

	if len(input.Items) != input.Pairing.ItemsRequired() {
		return nil, fmt.Errorf("%w: pairing %s requires %d item(s), got %d", ErrInvalidSubmission, input.Pairing, input.Pairing.ItemsRequired(), len(input.Items))
	}

	// Serialize submissions for the same OS number across instances.
	// The locked count inside the transaction remains the authority.
	release, err := utils.ObtainBusinessLock(ctx, businessId, "os-pairing", input.OsNumber, "purchaseOrder.go", "ComposePurchaseOrders")
	if err != nil {
		if errors.Is(err, utils.ErrorLockNotObtained) {
			return nil, ErrConcurrencyConflict
		}
		return nil, err
	}
	defer release()

	// Validate every item before the first write.
	type supplierGroup struct {
		supplier *Supplier
		items    []PurchaseItem
	}
	var groupOrder []int
	groups := map[int]*supplierGroup{}

	for _, req := range input.Items {
		item, err := input.buildItem(ctx, businessId, req)
		if err != nil {
			return nil, err
		}

		group, seen := groups[req.SupplierId]
		if !seen {
			supplier, err := getActiveSupplier(ctx, businessId, req.SupplierId)
			if err != nil {
				return nil, fmt.Errorf("%w: supplier %d", ErrNotFound, req.SupplierId)
			}
			group = &supplierGroup{supplier: supplier}
			groups[req.SupplierId] = group
			groupOrder = append(groupOrder, req.SupplierId)
		}
		group.items = append(group.items, *item)
	}

	db := config.GetDB()
	tx := db.Begin()

	// Pairing cap, checked under lock in the same transaction that inserts.
	var existingItems []PurchaseItem
	err = tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("business_id = ?", businessId).
		Where("os_number = ?", input.OsNumber).
		Find(&existingItems).Error
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if len(existingItems)+len(input.Items) > osPairLimit {
		tx.Rollback()
		return nil, fmt.Errorf("%w: %q has %d item(s)", ErrTooManyItemsForOS, input.OsNumber, len(existingItems))
	}

	var orders []*PurchaseOrder
	for _, supplierId := range groupOrder {
		group := groups[supplierId]

		total := decimal.Zero
		for _, item := range group.items {
			total = total.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
		}

		policy := group.supplier.SettlementPolicy()
		order := PurchaseOrder{
			BusinessId: businessId,
			BuyerId:    buyerId,
			SupplierId: supplierId,
			Status:     policy.InitialStatus(),
			Total:      total,
			Note:       fmt.Sprintf("OS %s (%s)", input.OsNumber, input.Pairing),
			Items:      group.items,
		}
		if err := tx.WithContext(ctx).Create(&order).Error; err != nil {
			tx.Rollback()
			return nil, err
		}

		if payment := policy.SyntheticPayment(&order, buyerId); payment != nil {
			payment.PurchaseOrderId = order.ID
			if err := tx.WithContext(ctx).Create(payment).Error; err != nil {
				tx.Rollback()
				return nil, err
			}
		}

		orders = append(orders, &order)
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	for _, order := range orders {
		recordAuditEvent(ctx, AuditActionOrderCreated,
			fmt.Sprintf("Order %d created for supplier %d (%s), total %s.", order.ID, order.SupplierId, order.Status, order.Total),
			order.ID, "purchase_orders")
	}

	return orders, nil
}

func GetPurchaseOrder(ctx context.Context, id int) (*PurchaseOrder, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, fmt.Errorf("%w: business id is required", ErrUnauthenticated)
	}
	order, err := utils.FetchModel[PurchaseOrder](ctx, businessId, id, "Items")
	if err != nil {
		return nil, fmt.Errorf("%w: order %d", ErrNotFound, id)
	}
	return order, nil
}

// SupplierPendingOrders is the payer's worklist entry: a supplier's
// unsettled orders, their combined due amount, and the credit available
// against them.
type SupplierPendingOrders struct {
	Supplier      *Supplier        `json:"supplier"`
	Orders        []*PurchaseOrder `json:"orders"`
	Total         decimal.Decimal  `json:"total"`
	CreditBalance decimal.Decimal  `json:"credit_balance"`
}

func GetPendingPurchaseOrders(ctx context.Context) ([]*SupplierPendingOrders, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, fmt.Errorf("%w: business id is required", ErrUnauthenticated)
	}

	db := config.GetDB()
	var orders []*PurchaseOrder
	err := db.WithContext(ctx).
		Preload("Items").
		Where("business_id = ?", businessId).
		Where("status = ?", OrderStatusPendingPayment).
		Order("supplier_id asc, created_at asc").
		Find(&orders).Error
	if err != nil {
		return nil, err
	}

	var results []*SupplierPendingOrders
	bySupplier := map[int]*SupplierPendingOrders{}
	for _, order := range orders {
		entry, seen := bySupplier[order.SupplierId]
		if !seen {
			supplier, err := utils.FetchModel[Supplier](ctx, businessId, order.SupplierId)
			if err != nil {
				return nil, err
			}
			balance, err := GetSupplierCreditBalance(ctx, order.SupplierId)
			if err != nil {
				return nil, err
			}
			entry = &SupplierPendingOrders{Supplier: supplier, CreditBalance: balance}
			bySupplier[order.SupplierId] = entry
			results = append(results, entry)
		}
		entry.Orders = append(entry.Orders, order)
		entry.Total = entry.Total.Add(order.Total)
	}

	return results, nil
}

// CancelPurchaseOrder administratively cancels an order that has not been
// paid. The row is kept for the audit trail.
func CancelPurchaseOrder(ctx context.Context, id int) (*PurchaseOrder, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, fmt.Errorf("%w: business id is required", ErrUnauthenticated)
	}

	db := config.GetDB()
	tx := db.Begin()

	var order PurchaseOrder
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("business_id = ?", businessId).
		First(&order, id).Error
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("%w: order %d", ErrNotFound, id)
	}
	if order.Status != OrderStatusPendingPayment {
		tx.Rollback()
		return nil, fmt.Errorf("%w: only pending orders can be canceled (status %s)", ErrInvalidState, order.Status)
	}

	if err := tx.WithContext(ctx).Model(&order).Update("Status", OrderStatusCanceled).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	order.Status = OrderStatusCanceled

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	recordAuditEvent(ctx, AuditActionOrderCanceled,
		fmt.Sprintf("Order %d canceled before payment.", order.ID),
		order.ID, "purchase_orders")

	return &order, nil
}
