package models

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/opticorelab/labsupply_backend/config"
	"bitbucket.org/opticorelab/labsupply_backend/utils"
	"github.com/shopspring/decimal"
)

// QuoteProduct is a quotable lens design: a base price plus the vision type,
// coating flags and the dioptric window it can be surfaced for. Quotes never
// touch the purchasing catalog; the counter quotes from this table and the
// buyer later orders against Products and PriceRules.
type QuoteProduct struct {
	ID             int                   `gorm:"primary_key" json:"id"`
	BusinessId     string                `gorm:"index;not null;uniqueIndex:uq_quote_product_code" json:"business_id"`
	Code           string                `gorm:"size:100;not null;uniqueIndex:uq_quote_product_code" json:"code" binding:"required"`
	Name           string                `gorm:"size:255;not null" json:"name" binding:"required"`
	Price          decimal.Decimal       `gorm:"type:decimal(20,4);not null" json:"price"`
	Vision         VisionType            `gorm:"type:enum('SINGLE','PROGRESSIVE','BIFOCAL');not null" json:"vision"`
	AntiReflective *bool                 `gorm:"not null;default:false" json:"anti_reflective"`
	Photochromic   *bool                 `gorm:"not null;default:false" json:"photochromic"`
	BlueFilter     *bool                 `gorm:"not null;default:false" json:"blue_filter"`
	SphereMin      decimal.Decimal       `gorm:"type:decimal(10,2);not null" json:"sphere_min"`
	SphereMax      decimal.Decimal       `gorm:"type:decimal(10,2);not null" json:"sphere_max"`
	CylinderMin    decimal.Decimal       `gorm:"type:decimal(10,2);not null" json:"cylinder_min"`
	CylinderMax    decimal.Decimal       `gorm:"type:decimal(10,2);not null" json:"cylinder_max"`
	Services       []QuoteProductService `gorm:"foreignKey:QuoteProductId" json:"services"`
	CreatedAt      time.Time             `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time             `gorm:"autoUpdateTime" json:"updated_at"`
}

// QuoteService is a catalog entry for lab services (tinting, edging,
// prism work) priced independently of the lens.
type QuoteService struct {
	ID          int             `gorm:"primary_key" json:"id"`
	BusinessId  string          `gorm:"index;not null;uniqueIndex:uq_quote_service_code" json:"business_id"`
	Code        string          `gorm:"size:100;not null;uniqueIndex:uq_quote_service_code" json:"code" binding:"required"`
	Description string          `gorm:"size:255;default:null" json:"description"`
	Price       decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"price"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// QuoteProductService attaches a service to a quotable product. SURCHARGE
// links carry an optional sphere/cylinder window; they are charged like
// mandatory services when either eye falls inside it.
type QuoteProductService struct {
	ID             int                 `gorm:"primary_key" json:"id"`
	BusinessId     string              `gorm:"index;not null" json:"business_id"`
	QuoteProductId int                 `gorm:"index;not null" json:"quote_product_id"`
	QuoteServiceId int                 `gorm:"index;not null" json:"quote_service_id"`
	Role           QuoteServiceRole    `gorm:"type:enum('MANDATORY','OPTIONAL','SURCHARGE');not null" json:"role"`
	SphereMin      decimal.NullDecimal `gorm:"type:decimal(10,2);default:null" json:"sphere_min"`
	SphereMax      decimal.NullDecimal `gorm:"type:decimal(10,2);default:null" json:"sphere_max"`
	CylinderMin    decimal.NullDecimal `gorm:"type:decimal(10,2);default:null" json:"cylinder_min"`
	CylinderMax    decimal.NullDecimal `gorm:"type:decimal(10,2);default:null" json:"cylinder_max"`
	Service        QuoteService        `gorm:"foreignKey:QuoteServiceId;references:ID" json:"service"`
}

// QuoteEye is one eye's prescription as entered at the counter.
type QuoteEye struct {
	Sphere   decimal.Decimal `json:"sphere"`
	Cylinder decimal.Decimal `json:"cylinder"`
}

// rangeContains is bound-order tolerant: admins enter cylinder windows both
// ways around (0..-2 and -2..0 mean the same thing).
func rangeContains(v decimal.Decimal, a decimal.Decimal, b decimal.Decimal) bool {
	lo := decimal.Min(a, b)
	hi := decimal.Max(a, b)
	return v.GreaterThanOrEqual(lo) && v.LessThanOrEqual(hi)
}

// axisContains treats a missing bound as unbounded on that side.
func axisContains(v decimal.Decimal, min decimal.NullDecimal, max decimal.NullDecimal) bool {
	switch {
	case min.Valid && max.Valid:
		return rangeContains(v, min.Decimal, max.Decimal)
	case min.Valid:
		return v.GreaterThanOrEqual(min.Decimal)
	case max.Valid:
		return v.LessThanOrEqual(max.Decimal)
	default:
		return true
	}
}

// CoversPrescription reports whether this design can be surfaced for an eye.
func (p *QuoteProduct) CoversPrescription(eye QuoteEye) bool {
	return rangeContains(eye.Sphere, p.SphereMin, p.SphereMax) &&
		rangeContains(eye.Cylinder, p.CylinderMin, p.CylinderMax)
}

// SurchargeApplies reports whether a SURCHARGE link is triggered by either
// eye. A link with no bounds at all applies unconditionally.
func (l *QuoteProductService) SurchargeApplies(right QuoteEye, left QuoteEye) bool {
	applies := func(eye QuoteEye) bool {
		return axisContains(eye.Sphere, l.SphereMin, l.SphereMax) &&
			axisContains(eye.Cylinder, l.CylinderMin, l.CylinderMax)
	}
	return applies(right) || applies(left)
}

// QuoteRequest is the counter's filter: vision type, coating flags and both
// eyes. Only products matching every flag and covering both eyes qualify.
type QuoteRequest struct {
	Vision         VisionType `json:"vision" binding:"required"`
	AntiReflective bool       `json:"anti_reflective"`
	Photochromic   bool       `json:"photochromic"`
	BlueFilter     bool       `json:"blue_filter"`
	Right          QuoteEye   `json:"right"`
	Left           QuoteEye   `json:"left"`
}

// GetQuoteOptions lists the quotable products admissible for the request.
func GetQuoteOptions(ctx context.Context, input *QuoteRequest) ([]*QuoteProduct, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, fmt.Errorf("%w: business id is required", ErrUnauthenticated)
	}

	db := config.GetDB()
	var candidates []*QuoteProduct
	err := db.WithContext(ctx).
		Where("business_id = ?", businessId).
		Where("vision = ?", input.Vision).
		Where("anti_reflective = ?", input.AntiReflective).
		Where("photochromic = ?", input.Photochromic).
		Where("blue_filter = ?", input.BlueFilter).
		Order("price asc, name asc").
		Find(&candidates).Error
	if err != nil {
		return nil, err
	}

	var options []*QuoteProduct
	for _, product := range candidates {
		if product.CoversPrescription(input.Right) && product.CoversPrescription(input.Left) {
			options = append(options, product)
		}
	}
	return options, nil
}

type QuoteServiceEntry struct {
	Code  string          `json:"code"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

// QuoteServiceBreakdown is the priced bill of services for one product and
// prescription: the mandatory block (including triggered surcharges), the
// optional add-ons, and the running total of product plus mandatory.
type QuoteServiceBreakdown struct {
	Product   *QuoteProduct        `json:"product"`
	Mandatory []*QuoteServiceEntry `json:"mandatory"`
	Optional  []*QuoteServiceEntry `json:"optional"`
	Total     decimal.Decimal      `json:"total"`
}

func serviceEntry(link *QuoteProductService) *QuoteServiceEntry {
	name := link.Service.Description
	if name == "" {
		name = link.Service.Code
	}
	return &QuoteServiceEntry{
		Code:  link.Service.Code,
		Name:  name,
		Price: link.Service.Price,
	}
}

// GetQuoteServices resolves the services owed for a quoted product and
// prescription. Surcharges triggered by either eye join the mandatory block.
func GetQuoteServices(ctx context.Context, productId int, right QuoteEye, left QuoteEye) (*QuoteServiceBreakdown, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, fmt.Errorf("%w: business id is required", ErrUnauthenticated)
	}

	product, err := utils.FetchModel[QuoteProduct](ctx, businessId, productId, "Services", "Services.Service")
	if err != nil {
		return nil, fmt.Errorf("%w: quote product %d", ErrNotFound, productId)
	}

	breakdown := QuoteServiceBreakdown{Product: product, Total: product.Price}
	for i := range product.Services {
		link := &product.Services[i]
		switch link.Role {
		case QuoteServiceMandatory:
			breakdown.Mandatory = append(breakdown.Mandatory, serviceEntry(link))
		case QuoteServiceOptional:
			breakdown.Optional = append(breakdown.Optional, serviceEntry(link))
		case QuoteServiceSurcharge:
			if link.SurchargeApplies(right, left) {
				breakdown.Mandatory = append(breakdown.Mandatory, serviceEntry(link))
			}
		}
	}
	for _, entry := range breakdown.Mandatory {
		breakdown.Total = breakdown.Total.Add(entry.Price)
	}
	return &breakdown, nil
}

type NewQuoteService struct {
	Code        string          `json:"code" binding:"required"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
}

// CreateQuoteService upserts a service catalog entry by code.
func CreateQuoteService(ctx context.Context, input *NewQuoteService) (*QuoteService, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, fmt.Errorf("%w: business id is required", ErrUnauthenticated)
	}

	db := config.GetDB()
	var service QuoteService
	err := db.WithContext(ctx).
		Where("business_id = ?", businessId).
		Where("code = ?", input.Code).
		First(&service).Error
	if err != nil {
		service = QuoteService{
			BusinessId:  businessId,
			Code:        input.Code,
			Description: input.Description,
			Price:       input.Price,
		}
		if err := db.WithContext(ctx).Create(&service).Error; err != nil {
			return nil, err
		}
		return &service, nil
	}

	service.Description = input.Description
	service.Price = input.Price
	if err := db.WithContext(ctx).Save(&service).Error; err != nil {
		return nil, err
	}
	return &service, nil
}

type NewQuoteServiceLink struct {
	ServiceCode string           `json:"service_code" binding:"required"`
	Role        QuoteServiceRole `json:"role" binding:"required"`
	SphereMin   *decimal.Decimal `json:"sphere_min"`
	SphereMax   *decimal.Decimal `json:"sphere_max"`
	CylinderMin *decimal.Decimal `json:"cylinder_min"`
	CylinderMax *decimal.Decimal `json:"cylinder_max"`
}

type NewQuoteProduct struct {
	Code           string                `json:"code" binding:"required"`
	Name           string                `json:"name" binding:"required"`
	Price          decimal.Decimal       `json:"price"`
	Vision         VisionType            `json:"vision" binding:"required"`
	AntiReflective *bool                 `json:"anti_reflective"`
	Photochromic   *bool                 `json:"photochromic"`
	BlueFilter     *bool                 `json:"blue_filter"`
	SphereMin      decimal.Decimal       `json:"sphere_min"`
	SphereMax      decimal.Decimal       `json:"sphere_max"`
	CylinderMin    decimal.Decimal       `json:"cylinder_min"`
	CylinderMax    decimal.Decimal       `json:"cylinder_max"`
	Services       []NewQuoteServiceLink `json:"services" binding:"dive"`
}

func nullDecimalFrom(v *decimal.Decimal) decimal.NullDecimal {
	if v == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(*v)
}

// CreateQuoteProduct upserts a quotable product by code and replaces its
// service links. Codes referencing unknown services create catalog stubs,
// priced later via CreateQuoteService.
func CreateQuoteProduct(ctx context.Context, input *NewQuoteProduct) (*QuoteProduct, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, fmt.Errorf("%w: business id is required", ErrUnauthenticated)
	}

	db := config.GetDB()
	tx := db.Begin()

	var product QuoteProduct
	err := tx.WithContext(ctx).
		Where("business_id = ?", businessId).
		Where("code = ?", input.Code).
		First(&product).Error
	if err != nil {
		product = QuoteProduct{BusinessId: businessId, Code: input.Code}
	}

	product.Name = input.Name
	product.Price = input.Price
	product.Vision = input.Vision
	product.AntiReflective = input.AntiReflective
	product.Photochromic = input.Photochromic
	product.BlueFilter = input.BlueFilter
	product.SphereMin = input.SphereMin
	product.SphereMax = input.SphereMax
	product.CylinderMin = input.CylinderMin
	product.CylinderMax = input.CylinderMax
	product.Services = nil

	if err := tx.WithContext(ctx).Save(&product).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	// Replace the links wholesale; the link rows carry no history.
	err = tx.WithContext(ctx).
		Where("quote_product_id = ?", product.ID).
		Delete(&QuoteProductService{}).Error
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	for _, linkInput := range input.Services {
		var service QuoteService
		err := tx.WithContext(ctx).
			Where("business_id = ?", businessId).
			Where("code = ?", linkInput.ServiceCode).
			First(&service).Error
		if err != nil {
			service = QuoteService{BusinessId: businessId, Code: linkInput.ServiceCode}
			if err := tx.WithContext(ctx).Create(&service).Error; err != nil {
				tx.Rollback()
				return nil, err
			}
		}

		link := QuoteProductService{
			BusinessId:     businessId,
			QuoteProductId: product.ID,
			QuoteServiceId: service.ID,
			Role:           linkInput.Role,
			SphereMin:      nullDecimalFrom(linkInput.SphereMin),
			SphereMax:      nullDecimalFrom(linkInput.SphereMax),
			CylinderMin:    nullDecimalFrom(linkInput.CylinderMin),
			CylinderMax:    nullDecimalFrom(linkInput.CylinderMax),
		}
		if err := tx.WithContext(ctx).Create(&link).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	return utils.FetchModel[QuoteProduct](ctx, businessId, product.ID, "Services", "Services.Service")
}

func GetQuoteProducts(ctx context.Context) ([]*QuoteProduct, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, fmt.Errorf("%w: business id is required", ErrUnauthenticated)
	}
	return utils.FetchAllModels[QuoteProduct](ctx, businessId, "Services", "Services.Service")
}
