package models

import (
	"context"
	"time"

	"bitbucket.org/opticorelab/labsupply_backend/config"
	"bitbucket.org/opticorelab/labsupply_backend/utils"
	"github.com/google/uuid"
)

type AuditEvent struct {
	ID            int         `gorm:"primary_key" json:"id"`
	BusinessId    string      `gorm:"index;not null" json:"business_id"`
	Action        AuditAction `gorm:"size:50;not null" json:"action"`
	Detail        string      `gorm:"type:text" json:"detail"`
	ReferenceId   int         `gorm:"index" json:"reference_id"`
	ReferenceType string      `gorm:"size:255" json:"reference_type"`
	ActorId       int         `gorm:"index;not null" json:"actor_id"`
	ActorName     string      `gorm:"size:100" json:"actor_name"`
	CorrelationId string      `gorm:"size:36" json:"correlation_id"`
	CreatedAt     time.Time   `gorm:"autoCreateTime" json:"created_at"`
}

func correlationIdFromContextOrNew(ctx context.Context) string {
	if ctx != nil {
		if v, ok := utils.GetCorrelationIdFromContext(ctx); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}

// recordAuditEvent persists an audit row and publishes it to the audit topic.
// Runs AFTER the business transaction has committed; every failure here is
// log-only and never reaches the caller.
func recordAuditEvent(ctx context.Context, action AuditAction, detail string, referenceId int, referenceType string) {
	logger := config.GetLogger()

	businessId, _ := utils.GetBusinessIdFromContext(ctx)
	actorId, _ := utils.GetUserIdFromContext(ctx)
	actorName, _ := utils.GetUserNameFromContext(ctx)

	event := AuditEvent{
		BusinessId:    businessId,
		Action:        action,
		Detail:        detail,
		ReferenceId:   referenceId,
		ReferenceType: referenceType,
		ActorId:       actorId,
		ActorName:     actorName,
		CorrelationId: correlationIdFromContextOrNew(ctx),
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&event).Error; err != nil {
		config.LogError(logger, "auditEvent.go", "recordAuditEvent", "store audit event", event, err)
	}

	if err := config.PublishAuditEvent(config.AuditMessage{
		BusinessId:    businessId,
		OccurredAt:    time.Now().UTC(),
		ActorId:       actorId,
		ActorName:     actorName,
		Action:        string(action),
		Detail:        detail,
		ReferenceId:   referenceId,
		ReferenceType: referenceType,
		CorrelationId: event.CorrelationId,
	}); err != nil {
		config.LogError(logger, "auditEvent.go", "recordAuditEvent", "publish audit event", event, err)
	}
}
