package models

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/opticorelab/labsupply_backend/config"
	"bitbucket.org/opticorelab/labsupply_backend/utils"
)

type Supplier struct {
	ID         int       `gorm:"primary_key" json:"id"`
	BusinessId string    `gorm:"index;not null;uniqueIndex:uq_supplier_name" json:"business_id"`
	Name       string    `gorm:"size:255;not null;uniqueIndex:uq_supplier_name" json:"name" binding:"required"`
	IsActive   *bool     `gorm:"not null;default:true" json:"is_active"`
	IsBilling  *bool     `gorm:"not null;default:false" json:"is_billing"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewSupplier struct {
	Name      string `json:"name" binding:"required"`
	IsActive  *bool  `json:"is_active"`
	IsBilling *bool  `json:"is_billing"`
}

// SettlementPolicy decides how a freshly composed order is settled.
// Exactly two variants exist today: invoiced suppliers are paid at creation
// time with a synthetic BILLED payment, everyone else waits for the payer.
type SettlementPolicy interface {
	InitialStatus() OrderStatus
	// SyntheticPayment returns the payment row to attach at creation time,
	// or nil when settlement is deferred to the Payment Processor.
	SyntheticPayment(order *PurchaseOrder, payerId int) *Payment
}

type ImmediateSettlement struct{}

func (ImmediateSettlement) InitialStatus() OrderStatus { return OrderStatusPaid }

func (ImmediateSettlement) SyntheticPayment(order *PurchaseOrder, payerId int) *Payment {
	return &Payment{
		BusinessId: order.BusinessId,
		PayerId:    payerId,
		Method:     PaymentMethodBilled,
		Amount:     order.Total,
		PaidAt:     time.Now().UTC(),
	}
}

type DeferredSettlement struct{}

func (DeferredSettlement) InitialStatus() OrderStatus { return OrderStatusPendingPayment }

func (DeferredSettlement) SyntheticPayment(order *PurchaseOrder, payerId int) *Payment {
	return nil
}

func (s Supplier) SettlementPolicy() SettlementPolicy {
	if s.IsBilling != nil && *s.IsBilling {
		return ImmediateSettlement{}
	}
	return DeferredSettlement{}
}

func CreateSupplier(ctx context.Context, input *NewSupplier) (*Supplier, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, fmt.Errorf("%w: business id is required", ErrUnauthenticated)
	}

	supplier := Supplier{
		BusinessId: businessId,
		Name:       input.Name,
		IsActive:   input.IsActive,
		IsBilling:  input.IsBilling,
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&supplier).Error; err != nil {
		return nil, err
	}
	return &supplier, nil
}

func UpdateSupplier(ctx context.Context, id int, input *NewSupplier) (*Supplier, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, fmt.Errorf("%w: business id is required", ErrUnauthenticated)
	}

	supplier, err := utils.FetchModel[Supplier](ctx, businessId, id)
	if err != nil {
		return nil, ErrNotFound
	}

	supplier.Name = input.Name
	if input.IsActive != nil {
		supplier.IsActive = input.IsActive
	}
	if input.IsBilling != nil {
		supplier.IsBilling = input.IsBilling
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Save(supplier).Error; err != nil {
		return nil, err
	}
	// Cached rule lookups embed this supplier's activity; evict them.
	invalidateRuleCacheForSupplier(ctx, businessId, supplier.ID)
	return supplier, nil
}

func GetSuppliers(ctx context.Context, activeOnly bool) ([]*Supplier, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, fmt.Errorf("%w: business id is required", ErrUnauthenticated)
	}

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Where("business_id = ?", businessId)
	if activeOnly {
		dbCtx = dbCtx.Where("is_active = ?", true)
	}

	var results []*Supplier
	if err := dbCtx.Order("name asc").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func getActiveSupplier(ctx context.Context, businessId string, id int) (*Supplier, error) {
	db := config.GetDB()
	var supplier Supplier
	err := db.WithContext(ctx).
		Where("business_id = ?", businessId).
		Where("is_active = ?", true).
		First(&supplier, id).Error
	if err != nil {
		return nil, ErrNotFound
	}
	return &supplier, nil
}
