// Package ingest mirrors relay traffic into the local cache: inbound
// messages, opened backlogs and locally sent messages all land in SQLite,
// and the contact directory's previews and unread counters move with them.
package ingest

import (
	"context"

	"go.uber.org/zap"

	"chatcore/internal/bus"
	"chatcore/internal/directory"
	"chatcore/internal/store"
)

// ActiveProvider reports which conversation is open, so unread counters only
// grow for the inactive ones.
type ActiveProvider interface {
	ActiveConversation() (int64, bool)
}

// Engine consumes bus events in its own goroutine and writes through to the
// cache. It never blocks a publisher.
type Engine struct {
	db     *store.DB
	dir    *directory.Directory
	bus    *bus.Bus
	active ActiveProvider
	logger *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an ingest engine.
func New(db *store.DB, dir *directory.Directory, b *bus.Bus, active ActiveProvider, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		db:     db,
		dir:    dir,
		bus:    b,
		active: active,
		logger: logger,
	}
}

// Start launches the consumer loop.
func (e *Engine) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})

	messages, unsubMsg := e.bus.Subscribe(bus.KindRelayMessage, 128)
	history, unsubHist := e.bus.Subscribe(bus.KindRelayHistory, 16)
	outbound, unsubOut := e.bus.Subscribe(bus.KindSessionOutbound, 64)

	go func() {
		defer close(e.done)
		defer unsubMsg()
		defer unsubHist()
		defer unsubOut()
		for {
			select {
			case <-ctx.Done():
				return
			case evt := <-messages:
				if msg, ok := evt.Payload.(*store.Message); ok {
					e.inbound(msg)
				}
			case evt := <-history:
				if msgs, ok := evt.Payload.([]*store.Message); ok {
					e.backlog(msgs)
				}
			case evt := <-outbound:
				if msg, ok := evt.Payload.(*store.Message); ok {
					e.outbound(msg)
				}
			}
		}
	}()
}

// Stop terminates the consumer loop and waits for it to drain.
func (e *Engine) Stop() {
	if e.cancel == nil {
		return
	}
	e.cancel()
	<-e.done
}

// inbound caches a live message and moves the sender's directory entry:
// preview always, unread counter only when their conversation is inactive.
func (e *Engine) inbound(msg *store.Message) {
	if err := e.db.UpsertMessage(msg); err != nil {
		e.logger.Warn("message cache write failed", zap.Error(err), zap.Int64("group_id", msg.GroupID))
	}
	active := false
	if gid, ok := e.active.ActiveConversation(); ok && gid == msg.GroupID {
		active = true
	}
	e.dir.ApplyInbound(msg, active)
}

// backlog caches the history loaded when a conversation opens.
func (e *Engine) backlog(msgs []*store.Message) {
	if len(msgs) == 0 {
		return
	}
	if err := e.db.UpsertMessages(msgs); err != nil {
		e.logger.Warn("backlog cache write failed", zap.Error(err), zap.Int64("group_id", msgs[0].GroupID))
	}
}

// outbound caches a locally sent message. No unread movement: the sender has
// obviously read their own message.
func (e *Engine) outbound(msg *store.Message) {
	if err := e.db.UpsertMessage(msg); err != nil {
		e.logger.Warn("outbound cache write failed", zap.Error(err), zap.Int64("group_id", msg.GroupID))
	}
	e.dir.ApplyInbound(msg, true)
}
