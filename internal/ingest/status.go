package ingest

import (
	"context"
	"fmt"

	"github.com/lalith-99/unifiedinbox/internal/models"
	"github.com/lalith-99/unifiedinbox/internal/realtime"
	"github.com/lalith-99/unifiedinbox/internal/repository"
	"github.com/lalith-99/unifiedinbox/internal/status"
	"go.uber.org/zap"
)

// StatusUpdate is a vendor delivery callback for one of our outbound sends.
type StatusUpdate struct {
	ExternalID   string
	VendorStatus string
	Error        string
}

// ApplyStatus moves the outbound message carrying the external id forward
// along the delivery lifecycle. Unknown ids, inbound rows, unknown vendor
// values and backwards transitions are ignored; changed reports whether the
// row was written.
func (p *Pipeline) ApplyStatus(ctx context.Context, ch models.Channel, u StatusUpdate) (msg *models.Message, changed bool, err error) {
	if u.ExternalID == "" {
		return nil, false, nil
	}
	msg, err = p.store.Messages().FindByExternalRef(ctx, ch, models.NewExternalRef(ch, u.ExternalID))
	if err != nil {
		return nil, false, fmt.Errorf("find message: %w", err)
	}
	if msg == nil || msg.Direction != models.DirectionOutbound {
		return msg, false, nil
	}

	next, ok := status.Outbound(ch, u.VendorStatus)
	if !ok || !status.Advances(msg.Status, next) {
		p.logger.Debug("ignoring status callback",
			zap.Int64("message_id", msg.ID),
			zap.String("current", string(msg.Status)),
			zap.String("vendor_status", u.VendorStatus))
		return msg, false, nil
	}

	now := p.now()
	upd := repository.MessageUpdate{
		Status:   &next,
		Metadata: models.Metadata{models.MetaVendorStatus: u.VendorStatus},
	}
	switch next {
	case models.StatusDelivered:
		upd.DeliveredAt = &now
	case models.StatusRead:
		upd.ReadAt = &now
		if msg.DeliveredAt == nil {
			upd.DeliveredAt = &now
		}
	case models.StatusFailed:
		errText := u.Error
		if errText == "" {
			errText = "vendor reported " + u.VendorStatus
		}
		upd.Metadata[models.MetaError] = errText
	}

	updated, err := p.store.Messages().Update(ctx, msg.ID, upd)
	if err != nil {
		return nil, false, fmt.Errorf("update message status: %w", err)
	}
	p.pub.Publish(updated.UserID, realtime.Event{Type: realtime.MessageUpdated, Message: updated})
	return updated, true, nil
}
