package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chatcore/internal/attach"
	"chatcore/internal/bus"
	"chatcore/internal/identity"
	"chatcore/internal/relay"
	"chatcore/internal/store"
	"chatcore/internal/transport"
)

var (
	// ErrNotOpen means the operation needs an open session.
	ErrNotOpen = errors.New("no open conversation")
	// ErrSend means an outbound message did not reach the relay. When the
	// message was appended anyway its delivery status is "unsent"; an
	// attachment failure appends nothing.
	ErrSend = errors.New("send failed")
	// ErrEmpty means there was neither text nor a staged attachment.
	ErrEmpty = errors.New("nothing to send")
)

// Transport is the slice of the socket client the session needs.
type Transport interface {
	JoinScope(groupID int64)
	Emit(event string, payload any) error
}

// History fetches the backlog of a conversation, oldest first.
type History interface {
	GroupMessages(ctx context.Context, groupID int64) ([]relay.MessageRow, error)
}

// Uploader pushes a staged attachment to object storage.
type Uploader interface {
	Upload(ctx context.Context, f attach.File) (string, error)
}

// Resolver binds a contact to its conversation id and tracks read state.
type Resolver interface {
	Resolve(ctx context.Context, ident identity.Identity, contact *store.Contact) (int64, error)
	MarkRead(userID int64)
}

// TypingChange is the payload of conversation.typing events.
type TypingChange struct {
	UserID int64
	Active bool
}

// Session is the single active conversation. Opening a contact closes any
// prior session; at most one conversation is open at a time.
type Session struct {
	ident     identity.Identity
	transport Transport
	history   History
	uploader  Uploader
	resolver  Resolver
	bus       *bus.Bus
	logger    *zap.Logger
	typingTTL time.Duration

	mu        sync.Mutex
	machine   *Machine
	groupID   int64
	contactID int64
	log       []*store.Message
	seen      map[string]bool
	staged    *attach.File
	typing    map[int64]*time.Timer

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSession wires a session over the transport, history fetcher, uploader
// and resolver. typingTTL bounds how long a peer's typing signal stays
// active without a refresh.
func NewSession(ident identity.Identity, tr Transport, hist History, up Uploader, res Resolver, b *bus.Bus, typingTTL time.Duration, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		ident:     ident,
		transport: tr,
		history:   hist,
		uploader:  up,
		resolver:  res,
		bus:       b,
		logger:    logger,
		typingTTL: typingTTL,
		machine:   NewMachine(b),
		seen:      make(map[string]bool),
		typing:    make(map[int64]*time.Timer),
	}
}

// Start launches the inbound loop consuming relay events off the bus.
func (s *Session) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	events, unsub := s.bus.Subscribe("relay.", 64)
	go func() {
		defer close(s.done)
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case evt := <-events:
				s.handle(evt)
			}
		}
	}()
}

// Stop closes the session and terminates the inbound loop.
func (s *Session) Stop() {
	s.Close()
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

func (s *Session) handle(evt bus.Event) {
	switch evt.Kind {
	case bus.KindRelayMessage:
		msg, ok := evt.Payload.(*store.Message)
		if !ok {
			return
		}
		s.ingest(msg)
	case bus.KindRelayTyping:
		typ, ok := evt.Payload.(transport.TypingEvent)
		if !ok {
			return
		}
		s.peerTyping(typ.UserID)
	case bus.KindRelayConnected:
		// The transport forgets joined scopes across reconnects; rejoin the
		// active one so live delivery resumes.
		s.mu.Lock()
		open := s.machine.Current() == StateOpen
		gid := s.groupID
		s.mu.Unlock()
		if open {
			s.transport.JoinScope(gid)
		}
	}
}

// Open resolves the contact's conversation, joins its delivery scope, loads
// the backlog and moves the session to Open. Any prior session is closed
// first. On failure the session reverts to Closed and the error surfaces.
func (s *Session) Open(ctx context.Context, contact *store.Contact) error {
	s.Close()

	if err := s.machine.Transition(StateOpening); err != nil {
		return err
	}

	gid, err := s.resolver.Resolve(ctx, s.ident, contact)
	if err != nil {
		_ = s.machine.Transition(StateClosed)
		return err
	}

	s.transport.JoinScope(gid)

	rows, err := s.history.GroupMessages(ctx, gid)
	if err != nil {
		_ = s.machine.Transition(StateClosed)
		return err
	}

	log := make([]*store.Message, 0, len(rows))
	now := time.Now().UnixMilli()
	for _, r := range rows {
		corr := r.CorrelationID
		if corr == "" {
			corr = uuid.NewString()
		}
		status := store.DeliveryReceived
		if r.SenderID.Int64() == s.ident.ID {
			status = store.DeliverySent
		}
		log = append(log, &store.Message{
			GroupID:        gid,
			CorrelationID:  corr,
			SenderID:       r.SenderID.Int64(),
			Kind:           r.MessageType,
			Body:           r.Message,
			FileURL:        r.FileURL,
			DeliveryStatus: status,
			ArrivedAt:      now,
		})
	}

	s.mu.Lock()
	s.groupID = gid
	s.contactID = contact.UserID
	s.log = log
	s.seen = make(map[string]bool)
	s.mu.Unlock()

	s.bus.Emit(bus.KindRelayHistory, log)
	s.resolver.MarkRead(contact.UserID)

	if err := s.machine.Transition(StateOpen); err != nil {
		return err
	}
	s.logger.Info("conversation opened",
		zap.Int64("group_id", gid),
		zap.Int64("contact_id", contact.UserID),
		zap.Int("backlog", len(log)))
	return nil
}

// Close tears the session down: log, staged attachment and typing timers are
// discarded and the state returns to Closed. Safe to call when already closed.
func (s *Session) Close() {
	s.mu.Lock()
	for id, timer := range s.typing {
		timer.Stop()
		delete(s.typing, id)
	}
	s.log = nil
	s.seen = make(map[string]bool)
	s.staged = nil
	s.groupID = 0
	s.contactID = 0
	s.mu.Unlock()

	if cur := s.machine.Current(); cur != StateClosed {
		if err := s.machine.Transition(StateClosed); err != nil {
			s.logger.Warn("close transition failed", zap.Error(err))
		}
	}
}

// Send emits a message into the open conversation. A staged attachment is
// uploaded first: upload failure returns ErrSend with nothing appended, so a
// retry re-runs the whole send. After a successful emit — or an emit into a
// dead connection — the message is appended optimistically; the latter case
// carries delivery status "unsent" and returns ErrSend.
func (s *Session) Send(ctx context.Context, text string) error {
	s.mu.Lock()
	if s.machine.Current() != StateOpen {
		s.mu.Unlock()
		return ErrNotOpen
	}
	staged := s.staged
	gid := s.groupID
	s.mu.Unlock()

	if text == "" && staged == nil {
		return ErrEmpty
	}

	kind := store.KindText
	fileURL := ""
	if staged != nil {
		url, err := s.uploader.Upload(ctx, *staged)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrSend, err)
		}
		kind = staged.Kind
		fileURL = url
	}

	corr := uuid.NewString()
	msg := &store.Message{
		GroupID:        gid,
		CorrelationID:  corr,
		SenderID:       s.ident.ID,
		Kind:           kind,
		Body:           text,
		FileURL:        fileURL,
		DeliveryStatus: store.DeliverySent,
		ArrivedAt:      time.Now().UnixMilli(),
	}

	var sendErr error
	if err := s.transport.Emit(transport.EventSendMessage, transport.MessagePayload{
		GroupID:       gid,
		SenderID:      s.ident.ID,
		Message:       text,
		MessageType:   kind,
		FileURL:       fileURL,
		CorrelationID: corr,
	}); err != nil {
		msg.DeliveryStatus = store.DeliveryUnsent
		sendErr = fmt.Errorf("%w: %w", ErrSend, err)
		s.logger.Warn("outbound emit failed", zap.Error(err), zap.Int64("group_id", gid))
	}

	s.mu.Lock()
	if s.machine.Current() != StateOpen || s.groupID != gid {
		// Session closed while uploading; drop the append.
		s.mu.Unlock()
		return ErrNotOpen
	}
	s.staged = nil
	s.seen[corr] = true
	s.log = append(s.log, msg)
	s.mu.Unlock()

	s.bus.Emit(bus.KindConversationAppended, msg)
	s.bus.Emit(bus.KindSessionOutbound, msg)
	return sendErr
}

// Typing signals the peer that the local user is composing. Best effort:
// a dead connection drops the signal silently.
func (s *Session) Typing() {
	s.mu.Lock()
	open := s.machine.Current() == StateOpen
	gid := s.groupID
	s.mu.Unlock()
	if !open {
		return
	}
	if err := s.transport.Emit(transport.EventTyping, transport.TypingPayload{GroupID: gid, UserID: s.ident.ID}); err != nil {
		s.logger.Debug("typing emit dropped", zap.Error(err))
	}
}

// Stage holds a local file for the next Send. A second Stage replaces the
// first.
func (s *Session) Stage(f attach.File) {
	s.mu.Lock()
	s.staged = &f
	s.mu.Unlock()
}

// DiscardStaged drops the staged attachment without sending.
func (s *Session) DiscardStaged() {
	s.mu.Lock()
	s.staged = nil
	s.mu.Unlock()
}

// ingest appends an inbound message when it belongs to the open
// conversation. The sender's own relay echo is deduplicated by correlation
// id against the optimistic append.
func (s *Session) ingest(msg *store.Message) {
	s.mu.Lock()
	if s.machine.Current() != StateOpen || msg.GroupID != s.groupID {
		s.mu.Unlock()
		return
	}
	if msg.CorrelationID != "" && s.seen[msg.CorrelationID] {
		s.mu.Unlock()
		return
	}
	s.log = append(s.log, msg)
	s.mu.Unlock()

	s.bus.Emit(bus.KindConversationAppended, msg)
}

// peerTyping marks a peer as typing and arms the expiry timer. A refresh
// while active just extends the timer.
func (s *Session) peerTyping(userID int64) {
	s.mu.Lock()
	if s.machine.Current() != StateOpen {
		s.mu.Unlock()
		return
	}
	timer, active := s.typing[userID]
	if active {
		timer.Reset(s.typingTTL)
		s.mu.Unlock()
		return
	}
	s.typing[userID] = time.AfterFunc(s.typingTTL, func() {
		s.mu.Lock()
		delete(s.typing, userID)
		s.mu.Unlock()
		s.bus.Emit(bus.KindConversationTyping, TypingChange{UserID: userID, Active: false})
	})
	s.mu.Unlock()

	s.bus.Emit(bus.KindConversationTyping, TypingChange{UserID: userID, Active: true})
}

// State returns the session lifecycle state.
func (s *Session) State() State {
	return s.machine.Current()
}

// ActiveConversation reports the open conversation id, if any.
func (s *Session) ActiveConversation() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.machine.Current() != StateOpen {
		return 0, false
	}
	return s.groupID, true
}

// TypingActive lists the peers currently typing.
func (s *Session) TypingActive() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, 0, len(s.typing))
	for id := range s.typing {
		out = append(out, id)
	}
	return out
}

// Log returns a snapshot of the ordered conversation log.
func (s *Session) Log() []*store.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*store.Message, len(s.log))
	copy(out, s.log)
	return out
}
