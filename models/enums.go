package models

import (
	"errors"
)

type OrderStatus string

const (
	OrderStatusPendingPayment OrderStatus = "PENDING_PAYMENT"
	OrderStatusPaid           OrderStatus = "PAID"
	OrderStatusReversed       OrderStatus = "REVERSED"
	OrderStatusCanceled       OrderStatus = "CANCELED"
)

func (s *OrderStatus) UnmarshalText(b []byte) error {
	switch OrderStatus(b) {
	case OrderStatusPendingPayment, OrderStatusPaid, OrderStatusReversed, OrderStatusCanceled:
		*s = OrderStatus(b)
	default:
		return errors.New("invalid order status")
	}
	return nil
}

type ProductKind string

const (
	ProductKindLens  ProductKind = "Lens"
	ProductKindBlock ProductKind = "Block"
)

func (k *ProductKind) UnmarshalText(b []byte) error {
	switch ProductKind(b) {
	case ProductKindLens, ProductKindBlock:
		*k = ProductKind(b)
	default:
		return errors.New("invalid product kind")
	}
	return nil
}

type PairingMode string

const (
	PairingModeHalf PairingMode = "Half"
	PairingModeFull PairingMode = "Full"
)

func (p *PairingMode) UnmarshalText(b []byte) error {
	switch PairingMode(b) {
	case PairingModeHalf, PairingModeFull:
		*p = PairingMode(b)
	default:
		return errors.New("invalid pairing mode")
	}
	return nil
}

// ItemsRequired is the number of line items a pairing mode admits.
func (p PairingMode) ItemsRequired() int {
	if p == PairingModeFull {
		return 2
	}
	return 1
}

type VisionType string

const (
	VisionSingle      VisionType = "SINGLE"
	VisionProgressive VisionType = "PROGRESSIVE"
	VisionBifocal     VisionType = "BIFOCAL"
)

func (v *VisionType) UnmarshalText(b []byte) error {
	switch VisionType(b) {
	case VisionSingle, VisionProgressive, VisionBifocal:
		*v = VisionType(b)
	default:
		return errors.New("invalid vision type")
	}
	return nil
}

// QuoteServiceRole places a service on a quoted product: always charged,
// offered as an add-on, or charged only when the prescription falls inside
// the link's range.
type QuoteServiceRole string

const (
	QuoteServiceMandatory QuoteServiceRole = "MANDATORY"
	QuoteServiceOptional  QuoteServiceRole = "OPTIONAL"
	QuoteServiceSurcharge QuoteServiceRole = "SURCHARGE"
)

func (r *QuoteServiceRole) UnmarshalText(b []byte) error {
	switch QuoteServiceRole(b) {
	case QuoteServiceMandatory, QuoteServiceOptional, QuoteServiceSurcharge:
		*r = QuoteServiceRole(b)
	default:
		return errors.New("invalid quote service role")
	}
	return nil
}

// PaymentMethodBilled is the sentinel method recorded on the synthetic
// payment attached to orders of invoiced ("billing") suppliers.
const PaymentMethodBilled = "BILLED"

type AuditAction string

const (
	AuditActionOrderCreated  AuditAction = "ORDER_CREATED"
	AuditActionOrderCanceled AuditAction = "ORDER_CANCELED"
	AuditActionOrderSettled  AuditAction = "ORDER_SETTLED"
	AuditActionItemReversed  AuditAction = "ITEM_REVERSED"
)
