package domain

import (
	"context"
	"errors"
)

var (
	ErrBusClosed = errors.New("message bus closed")
	ErrBusBusy   = errors.New("message bus busy")
)

// MessageBus routes messages between channels and the agent loop.
type MessageBus interface {
	// Publish queues an inbound message. It returns ErrBusBusy when the
	// queue stays full past the bus's wait limit or ctx ends first.
	Publish(ctx context.Context, msg InboundMessage) error
	Subscribe() <-chan InboundMessage
	SendOutbound(msg OutboundMessage)
	OnOutbound(channelName string, handler func(OutboundMessage))
	Close()
}
