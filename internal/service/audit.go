package service

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/noah-isme/release-distribution-api/internal/models"
)

type auditWriter interface {
	Create(ctx context.Context, log *models.AuditLog) error
}

// auditTrail persists audit rows on behalf of a service. Failures are logged and never returned.
type auditTrail struct {
	writer auditWriter
	source string
	logger *zap.Logger
}

func (a auditTrail) emit(ctx context.Context, actor models.Principal, action, resource, resourceID string, oldValues, newValues interface{}) {
	if a.writer == nil {
		return
	}
	log := &models.AuditLog{
		Action:    action,
		Resource:  resource,
		IPAddress: "system",
		UserAgent: a.source,
	}
	if actor.ID != "" {
		id := actor.ID
		log.UserID = &id
	}
	if resourceID != "" {
		log.ResourceID = &resourceID
	}
	log.OldValues = marshalAudit(oldValues)
	log.NewValues = marshalAudit(newValues)
	if err := a.writer.Create(ctx, log); err != nil && a.logger != nil {
		a.logger.Warn("failed to persist audit log", zap.String("action", action), zap.String("resource_id", resourceID), zap.Error(err))
	}
}

func marshalAudit(value interface{}) []byte {
	if value == nil {
		return nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil
	}
	return raw
}
