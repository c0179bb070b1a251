package models

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/opticorelab/labsupply_backend/config"
	"bitbucket.org/opticorelab/labsupply_backend/utils"
	"github.com/shopspring/decimal"
)

// priceCeilingEpsilon absorbs float rounding on prices arriving from
// upstream systems. A price a hair over the ceiling is still admitted.
var priceCeilingEpsilon = decimal.NewFromFloat(1e-6)

const ruleCacheExpiry = 10 * time.Minute

type PriceRule struct {
	ID         int             `gorm:"primary_key" json:"id"`
	BusinessId string          `gorm:"index;not null;uniqueIndex:uq_rule_product_supplier" json:"business_id"`
	ProductId  int             `gorm:"not null;uniqueIndex:uq_rule_product_supplier" json:"product_id" binding:"required"`
	SupplierId int             `gorm:"not null;uniqueIndex:uq_rule_product_supplier" json:"supplier_id" binding:"required"`
	MaxPrice   decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"max_price" binding:"required"`
	IsActive   *bool           `gorm:"not null;default:true" json:"is_active"`
	CreatedAt  time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewPriceRule struct {
	ProductId  int             `json:"product_id" binding:"required"`
	SupplierId int             `json:"supplier_id" binding:"required"`
	MaxPrice   decimal.Decimal `json:"max_price" binding:"required"`
	IsActive   *bool           `json:"is_active"`
}

func ruleCacheKey(businessId string, productId int, supplierId int) string {
	return fmt.Sprintf("price-rule:%s:%d:%d", businessId, productId, supplierId)
}

// FindActivePriceRule resolves the price ceiling for a (product, supplier)
// pairing. Only active rules between an active product and an active
// supplier are visible. Lookups are cached in Redis; rule writes invalidate.
func FindActivePriceRule(ctx context.Context, productId int, supplierId int) (*PriceRule, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, fmt.Errorf("%w: business id is required", ErrUnauthenticated)
	}

	if !config.DisableRuleCache() {
		var cached PriceRule
		found, err := config.GetRedisObject(ruleCacheKey(businessId, productId, supplierId), &cached)
		if err != nil {
			config.LogError(config.GetLogger(), "priceRule.go", "FindActivePriceRule", "redis get", nil, err)
		} else if found {
			return &cached, nil
		}
	}

	db := config.GetDB()
	var rule PriceRule
	err := db.WithContext(ctx).
		Joins("JOIN products ON products.id = price_rules.product_id").
		Joins("JOIN suppliers ON suppliers.id = price_rules.supplier_id").
		Where("price_rules.business_id = ?", businessId).
		Where("price_rules.product_id = ?", productId).
		Where("price_rules.supplier_id = ?", supplierId).
		Where("price_rules.is_active = ?", true).
		Where("products.is_active = ?", true).
		Where("suppliers.is_active = ?", true).
		First(&rule).Error
	if err != nil {
		return nil, fmt.Errorf("%w: product %d / supplier %d", ErrRuleNotFound, productId, supplierId)
	}

	if !config.DisableRuleCache() {
		if err := config.SetRedisObject(ruleCacheKey(businessId, productId, supplierId), rule, ruleCacheExpiry); err != nil {
			config.LogError(config.GetLogger(), "priceRule.go", "FindActivePriceRule", "redis set", nil, err)
		}
	}
	return &rule, nil
}

// ValidatePrice admits a negotiated unit price against the rule ceiling.
func (r *PriceRule) ValidatePrice(price decimal.Decimal) error {
	if price.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: got %s", ErrPriceInvalid, price)
	}
	if price.GreaterThan(r.MaxPrice.Add(priceCeilingEpsilon)) {
		return fmt.Errorf("%w: %s > %s", ErrPriceExceedsRule, price, r.MaxPrice)
	}
	return nil
}

// invalidateRuleCache drops every cached rule lookup matching the filter.
// Product and supplier updates call this: the cache key carries no activity
// state, so a deactivation must evict or stale rules stay admissible until
// expiry.
func invalidateRuleCache(ctx context.Context, businessId string, filter string, id int) {
	db := config.GetDB()
	var rules []PriceRule
	err := db.WithContext(ctx).
		Where("business_id = ?", businessId).
		Where(filter, id).
		Find(&rules).Error
	if err != nil {
		config.LogError(config.GetLogger(), "priceRule.go", "invalidateRuleCache", filter, id, err)
		return
	}
	for _, rule := range rules {
		if err := config.RemoveRedisKey(ruleCacheKey(businessId, rule.ProductId, rule.SupplierId)); err != nil {
			config.LogError(config.GetLogger(), "priceRule.go", "invalidateRuleCache", "cache invalidate", rule.ID, err)
		}
	}
}

func invalidateRuleCacheForProduct(ctx context.Context, businessId string, productId int) {
	invalidateRuleCache(ctx, businessId, "product_id = ?", productId)
}

func invalidateRuleCacheForSupplier(ctx context.Context, businessId string, supplierId int) {
	invalidateRuleCache(ctx, businessId, "supplier_id = ?", supplierId)
}

func CreatePriceRule(ctx context.Context, input *NewPriceRule) (*PriceRule, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, fmt.Errorf("%w: business id is required", ErrUnauthenticated)
	}
	if input.MaxPrice.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: max price %s", ErrPriceInvalid, input.MaxPrice)
	}
	if err := utils.ValidateResourceId[Product](ctx, businessId, input.ProductId); err != nil {
		return nil, fmt.Errorf("%w: product %d", ErrNotFound, input.ProductId)
	}
	if err := utils.ValidateResourceId[Supplier](ctx, businessId, input.SupplierId); err != nil {
		return nil, fmt.Errorf("%w: supplier %d", ErrNotFound, input.SupplierId)
	}

	rule := PriceRule{
		BusinessId: businessId,
		ProductId:  input.ProductId,
		SupplierId: input.SupplierId,
		MaxPrice:   input.MaxPrice,
		IsActive:   input.IsActive,
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&rule).Error; err != nil {
		return nil, err
	}
	if err := config.RemoveRedisKey(ruleCacheKey(businessId, input.ProductId, input.SupplierId)); err != nil {
		config.LogError(config.GetLogger(), "priceRule.go", "CreatePriceRule", "cache invalidate", nil, err)
	}
	return &rule, nil
}

func UpdatePriceRule(ctx context.Context, id int, input *NewPriceRule) (*PriceRule, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, fmt.Errorf("%w: business id is required", ErrUnauthenticated)
	}
	if input.MaxPrice.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: max price %s", ErrPriceInvalid, input.MaxPrice)
	}

	rule, err := utils.FetchModel[PriceRule](ctx, businessId, id)
	if err != nil {
		return nil, ErrNotFound
	}

	rule.MaxPrice = input.MaxPrice
	if input.IsActive != nil {
		rule.IsActive = input.IsActive
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Save(rule).Error; err != nil {
		return nil, err
	}
	if err := config.RemoveRedisKey(ruleCacheKey(businessId, rule.ProductId, rule.SupplierId)); err != nil {
		config.LogError(config.GetLogger(), "priceRule.go", "UpdatePriceRule", "cache invalidate", nil, err)
	}
	return rule, nil
}

func GetPriceRules(ctx context.Context) ([]*PriceRule, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, fmt.Errorf("%w: business id is required", ErrUnauthenticated)
	}
	return utils.FetchAllModels[PriceRule](ctx, businessId)
}
