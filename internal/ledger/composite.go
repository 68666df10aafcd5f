package ledger

import (
	"context"

	"github.com/escrowgrid/escrowcore/internal/domain"
)

// Composite chains the primary ledger backend with the optional on-chain
// mirror. The primary write runs first and its error is final; the mirror
// only runs after the event is durable.
type Composite struct {
	base   domain.Ledger
	mirror *Mirror // nil when on-chain mirroring is disabled
}

// NewComposite wraps base with mirror. mirror may be nil.
func NewComposite(base domain.Ledger, mirror *Mirror) *Composite {
	return &Composite{base: base, mirror: mirror}
}

func (c *Composite) RecordPositionCreated(ctx context.Context, position domain.Position, lctx domain.LedgerContext) error {
	if err := c.base.RecordPositionCreated(ctx, position, lctx); err != nil {
		return err
	}
	if c.mirror != nil {
		return c.mirror.RecordPositionCreated(ctx, position, lctx)
	}
	return nil
}

func (c *Composite) RecordPositionStateChanged(ctx context.Context, position domain.Position, event domain.PositionLifecycleEvent, lctx domain.LedgerContext) error {
	if err := c.base.RecordPositionStateChanged(ctx, position, event, lctx); err != nil {
		return err
	}
	if c.mirror != nil {
		return c.mirror.RecordPositionStateChanged(ctx, position, event, lctx)
	}
	return nil
}

func (c *Composite) ListEvents(ctx context.Context, filter domain.LedgerFilter) ([]domain.LedgerEvent, error) {
	return c.base.ListEvents(ctx, filter)
}
