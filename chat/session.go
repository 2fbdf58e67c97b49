// Package chat holds the client-side conversation: the opaque context handed back by the server,
// and the transcript of message bubbles a UI renders.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/navigatorvzhang/web-chatbot/client"
	"github.com/navigatorvzhang/web-chatbot/codec"
	"go.uber.org/zap"
)

const (
	initFailedMessage = "Failed to initialize chat session. Please restart the session."
	sendFailedPrefix  = "Sorry, there was an error processing your message. Details: "
)

var (
	ErrEmptyMessage = errors.New("empty message")
	// ErrBusy is returned when Send is called while another call is still outstanding.
	ErrBusy = errors.New("a message is already being sent")
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Bubble struct {
	Role Role
	Text string
}

// Backend is the server as seen by a session. *client.Client implements it.
type Backend interface {
	Init(ctx context.Context) (*codec.InitResponse, error)
	Chat(ctx context.Context, message string, convCtx json.RawMessage) (*codec.ChatReply, error)
}

// Session is one conversation. At most one call is in flight at a time, so replies are
// observed in the order messages were sent.
type Session struct {
	log     *zap.SugaredLogger
	backend Backend

	busy atomic.Bool

	mut        sync.Mutex
	convCtx    json.RawMessage
	transcript []Bubble
}

func NewSession(backend Backend, log *zap.SugaredLogger) *Session {
	return &Session{
		log:     log.Named("session"),
		backend: backend,
	}
}

// Init starts the session. On failure the user is told so in the transcript and the session stays usable.
func (s *Session) Init(ctx context.Context) error {
	if !s.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer s.busy.Store(false)

	resp, err := s.backend.Init(ctx)
	if err != nil {
		s.log.Errorw("chat initialization failed", "Error", err)
		s.add(Bubble{Role: RoleAssistant, Text: initFailedMessage})
		return err
	}

	s.mut.Lock()
	s.convCtx = resp.Context
	s.mut.Unlock()
	s.log.Debugw("chat initialized", "ChatFile", resp.ChatFile)
	return nil
}

// Send sends one user message and returns the assistant bubble appended for it.
// A failed call still produces a bubble describing the failure.
func (s *Session) Send(ctx context.Context, message string) (Bubble, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return Bubble{}, ErrEmptyMessage
	}
	if !s.busy.CompareAndSwap(false, true) {
		return Bubble{}, ErrBusy
	}
	defer s.busy.Store(false)

	s.add(Bubble{Role: RoleUser, Text: message})

	reply, err := s.backend.Chat(ctx, message, s.Context())
	if err != nil {
		s.log.Errorw("chat error", "Error", err)
		b := Bubble{Role: RoleAssistant, Text: sendFailedPrefix + client.UserMessage(err)}
		s.add(b)
		return b, err
	}

	s.mut.Lock()
	// the server's context replaces ours wholesale
	s.convCtx = reply.Context
	s.mut.Unlock()

	b := Bubble{Role: RoleAssistant, Text: reply.Response}
	s.add(b)
	return b, nil
}

// Busy reports whether a call is outstanding. UIs disable input while it is true.
func (s *Session) Busy() bool {
	return s.busy.Load()
}

func (s *Session) Context() json.RawMessage {
	s.mut.Lock()
	defer s.mut.Unlock()
	if s.convCtx == nil {
		return nil
	}
	return append(json.RawMessage(nil), s.convCtx...)
}

func (s *Session) Transcript() []Bubble {
	s.mut.Lock()
	defer s.mut.Unlock()
	return append([]Bubble(nil), s.transcript...)
}

func (s *Session) add(b Bubble) {
	s.mut.Lock()
	defer s.mut.Unlock()
	s.transcript = append(s.transcript, b)
}
