package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ashureev/campaign-center/internal/domain"
)

// Publish posts drafted pieces when auto-publish is on, otherwise keeps them
// as drafts. Every piece is recorded in history afterwards.
type Publish struct {
	publisher Publisher
	history   History
	events    EventSink
	pacer     Pacer
	logger    *slog.Logger
}

// Run processes pieces in place. A failed publish leaves that piece as a
// draft and moves on to the next one.
func (p *Publish) Run(ctx context.Context, id domain.CampaignID, pieces []domain.ContentPiece, autoPublish bool) ([]domain.ContentPiece, error) {
	for i := range pieces {
		if err := ctx.Err(); err != nil {
			return pieces, err
		}
		piece := &pieces[i]
		name := piece.Platform.DisplayName()
		ref := domain.PlatformRef(piece.Platform)

		if autoPublish {
			emit(ctx, p.events, id, domain.AgentPublisher, domain.StatusRunning, ref,
				fmt.Sprintf("Publishing to %s...", name), nil)
			if err := p.pacer.Pause(ctx, StepPause); err != nil {
				return pieces, err
			}

			if p.publisher.Publish(ctx, piece) {
				emit(ctx, p.events, id, domain.AgentPublisher, domain.StatusCompleted, ref,
					fmt.Sprintf("Published to %s!", name), nil)
			} else {
				emit(ctx, p.events, id, domain.AgentPublisher, domain.StatusFailed, ref,
					fmt.Sprintf("Failed to publish to %s. Saved as draft.", name), nil)
			}
		} else {
			emit(ctx, p.events, id, domain.AgentPublisher, domain.StatusCompleted, ref,
				fmt.Sprintf("%s content saved as draft (auto-publish off)", name), nil)
		}

		if err := p.history.Store(ctx, id, string(piece.Platform), piece.Content); err != nil {
			p.logger.Warn("Failed to record content history", "campaign_id", id, "platform", piece.Platform, "error", err)
		}
	}
	return pieces, nil
}
