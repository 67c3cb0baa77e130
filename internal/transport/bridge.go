package transport

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"chatcore/internal/bus"
)

// EventSource is the subscription surface the bridge consumes.
// *Client satisfies it.
type EventSource interface {
	Subscribe(event string, bufSize int) (<-chan json.RawMessage, func())
}

// Bridge republishes wire events as domain events on the bus. It does not
// touch the store or any session directly; consumers subscribe to the bus
// independently (the session loop, the ingest engine).
type Bridge struct {
	source EventSource
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
}

// NewBridge creates a bridge from a transport event source to the bus.
func NewBridge(source EventSource, b *bus.Bus, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{source: source, bus: b, logger: logger}
}

// Start subscribes to the wire events and begins translating.
func (b *Bridge) Start(ctx context.Context) {
	ctx, b.cancel = context.WithCancel(ctx)

	msgCh, unsubMsg := b.source.Subscribe(EventReceiveMessage, 256)
	typCh, unsubTyp := b.source.Subscribe(EventTyping, 64)
	conCh, unsubCon := b.source.Subscribe(EventConnect, 4)
	disCh, unsubDis := b.source.Subscribe(EventDisconnect, 4)

	go func() {
		defer unsubMsg()
		defer unsubTyp()
		defer unsubCon()
		defer unsubDis()
		for {
			select {
			case data := <-msgCh:
				msg, err := ParseMessage(data)
				if err != nil {
					b.logger.Warn("bad receiveMessage frame", zap.Error(err))
					continue
				}
				b.bus.Emit(bus.KindRelayMessage, msg)
			case data := <-typCh:
				var evt TypingEvent
				if err := json.Unmarshal(data, &evt); err != nil {
					b.logger.Warn("bad typing frame", zap.Error(err))
					continue
				}
				b.bus.Emit(bus.KindRelayTyping, evt)
			case <-conCh:
				b.bus.Emit(bus.KindRelayConnected, nil)
			case <-disCh:
				b.bus.Emit(bus.KindRelayDisconnected, nil)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the bridge.
func (b *Bridge) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
}
