package models

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/opticorelab/labsupply_backend/config"
	"bitbucket.org/opticorelab/labsupply_backend/utils"
)

type Product struct {
	ID           int         `gorm:"primary_key" json:"id"`
	BusinessId   string      `gorm:"index;not null;uniqueIndex:uq_product_name_kind" json:"business_id"`
	Name         string      `gorm:"size:255;not null;uniqueIndex:uq_product_name_kind" json:"name" binding:"required"`
	ExternalCode string      `gorm:"size:100;default:null" json:"external_code"`
	Kind         ProductKind `gorm:"type:enum('Lens','Block');not null;uniqueIndex:uq_product_name_kind" json:"kind" binding:"required"`
	IsActive     *bool       `gorm:"not null;default:true" json:"is_active"`
	InStock      *bool       `gorm:"not null;default:true" json:"in_stock"`
	CreatedAt    time.Time   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewProduct struct {
	Name         string      `json:"name" binding:"required"`
	ExternalCode string      `json:"external_code"`
	Kind         ProductKind `json:"kind" binding:"required"`
	IsActive     *bool       `json:"is_active"`
	InStock      *bool       `json:"in_stock"`
}

func CreateProduct(ctx context.Context, input *NewProduct) (*Product, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, fmt.Errorf("%w: business id is required", ErrUnauthenticated)
	}

	product := Product{
		BusinessId:   businessId,
		Name:         input.Name,
		ExternalCode: input.ExternalCode,
		Kind:         input.Kind,
		IsActive:     input.IsActive,
		InStock:      input.InStock,
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&product).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

func UpdateProduct(ctx context.Context, id int, input *NewProduct) (*Product, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, fmt.Errorf("%w: business id is required", ErrUnauthenticated)
	}

	product, err := utils.FetchModel[Product](ctx, businessId, id)
	if err != nil {
		return nil, ErrNotFound
	}

	product.Name = input.Name
	product.ExternalCode = input.ExternalCode
	product.Kind = input.Kind
	if input.IsActive != nil {
		product.IsActive = input.IsActive
	}
	if input.InStock != nil {
		product.InStock = input.InStock
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Save(product).Error; err != nil {
		return nil, err
	}
	// Cached rule lookups embed this product's activity; evict them.
	invalidateRuleCacheForProduct(ctx, businessId, product.ID)
	return product, nil
}

// GetProducts lists the catalog, optionally narrowed to a kind and to
// active, in-stock entries only.
func GetProducts(ctx context.Context, kind *ProductKind, activeOnly bool) ([]*Product, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, fmt.Errorf("%w: business id is required", ErrUnauthenticated)
	}

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Where("business_id = ?", businessId)
	if kind != nil {
		dbCtx = dbCtx.Where("kind = ?", *kind)
	}
	if activeOnly {
		dbCtx = dbCtx.Where("is_active = ?", true).Where("in_stock = ?", true)
	}

	var results []*Product
	if err := dbCtx.Order("name asc").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
