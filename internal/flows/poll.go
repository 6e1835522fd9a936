package flows

import (
	"context"

	"eppd/internal/epp"
	"eppd/internal/model"
	pkgerrors "eppd/pkg/errors"
	"eppd/pkg/requestcontext"
)

// pollRequestFlow returns the oldest visible message in the registrar's
// queue without consuming it; the registrar acks it explicitly.
type pollRequestFlow struct {
	baseFlow
}

func (pollRequestFlow) Name() string { return "PollRequest" }

func (pollRequestFlow) Run(ctx context.Context, fc *FlowContext) (*epp.Response, error) {
	now := requestcontext.Now(ctx)
	msgs, err := fc.Tx.ListPollMessages(ctx, fc.ClientID(), now)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return epp.Success(&epp.PollData{QueueCount: 0}), nil
	}
	head := msgs[0]
	eventTime := head.EventTime
	return epp.Success(&epp.PollData{
		MessageID:  head.ID,
		QueueCount: len(msgs),
		Message:    head.Message,
		EventTime:  &eventTime,
	}), nil
}

// pollAckFlow consumes one message the registrar has seen.
type pollAckFlow struct {
	baseFlow
}

func (pollAckFlow) Name() string { return "PollAck" }

func (pollAckFlow) Run(ctx context.Context, fc *FlowContext) (*epp.Response, error) {
	id := fc.Command.MessageID
	if id == "" {
		return nil, pkgerrors.New(pkgerrors.CodeSyntax, "poll ack names no message")
	}
	key := model.EntityKey{Kind: model.EntityPollMessage, ID: id}
	e, err := fc.Tx.LoadEntity(ctx, key)
	if err != nil {
		if pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
			return nil, pkgerrors.Newf(pkgerrors.CodeNotFound, "no message %s to acknowledge", id)
		}
		return nil, err
	}
	msg := e.(*model.PollMessage)
	if msg.RegistrarID != fc.ClientID() {
		return nil, pkgerrors.New(pkgerrors.CodeAuthorization, "message belongs to another registrar")
	}
	if err := fc.Tx.DeleteEntities(ctx, key); err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	remaining, err := fc.Tx.ListPollMessages(ctx, fc.ClientID(), now)
	if err != nil {
		return nil, err
	}
	return epp.Success(&epp.PollData{QueueCount: len(remaining)}), nil
}
