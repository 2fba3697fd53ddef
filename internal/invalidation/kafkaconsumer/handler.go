package kafkaconsumer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/IBM/sarama"
)

// groupHandler feeds each claimed partition through process, one event at a
// time. An offset is marked only once its event has been applied; a failure
// ends the claim so the group session restarts from the last mark.
type groupHandler struct {
	process func(context.Context, *sarama.ConsumerMessage) error
	logger  *slog.Logger
}

func (h *groupHandler) log() *slog.Logger {
	if h.logger == nil {
		return slog.Default()
	}
	return h.logger
}

func (h *groupHandler) Setup(sess sarama.ConsumerGroupSession) error {
	h.log().Info("invalidation partitions assigned",
		"member", sess.MemberID(), "generation", sess.GenerationID(), "claims", sess.Claims())
	return nil
}

func (h *groupHandler) Cleanup(sess sarama.ConsumerGroupSession) error {
	h.log().Debug("invalidation partitions released", "generation", sess.GenerationID())
	return nil
}

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := sess.Context()
	events := claim.Messages()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("partition %d: session ended: %w", claim.Partition(), ctx.Err())
		case msg, open := <-events:
			if !open {
				return nil
			}
			if err := h.process(ctx, msg); err != nil {
				return fmt.Errorf("invalidation at %s/%d@%d not applied: %w",
					msg.Topic, msg.Partition, msg.Offset, err)
			}
			sess.MarkMessage(msg, "")
		}
	}
}
