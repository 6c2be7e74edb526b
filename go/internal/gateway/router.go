package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Arboghast/Multi-Socket-Backend/go/internal/events"
	"github.com/Arboghast/Multi-Socket-Backend/go/internal/fabric"
	"github.com/Arboghast/Multi-Socket-Backend/go/internal/session"
)

// Msg is anything the router's dispatcher consumes
type Msg interface{ isRouterMsg() }

// FromClient is one inbound event from a connection
type FromClient struct {
	ConnID string
	Event  string
	Data   json.RawMessage
}

// Connected announces a newly attached connection
type Connected struct {
	ConnID string
}

// Disconnected announces a dropped connection
type Disconnected struct {
	ConnID string
}

func (FromClient) isRouterMsg()   {}
func (Connected) isRouterMsg()    {}
func (Disconnected) isRouterMsg() {}

// Handler processes one inbound event for a connection
type Handler func(ctx context.Context, connID string, data json.RawMessage) error

type route struct {
	handler  Handler
	response string // outbound event that carries errors back
}

// Sender delivers a message to a single connection wherever it is attached
type Sender interface {
	Send(ctx context.Context, connID string, msg fabric.Message) error
}

// RouterConfig holds dispatcher settings
type RouterConfig struct {
	InboxSize      int
	HandlerTimeout time.Duration
}

// DefaultRouterConfig returns default dispatcher settings
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		InboxSize:      1024,
		HandlerTimeout: 5 * time.Second,
	}
}

// Router feeds every inbound message through one dispatcher goroutine
type Router struct {
	inbox    chan Msg
	done     chan struct{}
	routes   map[string]route
	sessions Sessions
	sender   Sender
	config   RouterConfig
}

// NewRouter creates a router with the session event handlers registered
func NewRouter(sessions Sessions, sender Sender, config RouterConfig) *Router {
	defaults := DefaultRouterConfig()
	if config.InboxSize <= 0 {
		config.InboxSize = defaults.InboxSize
	}
	if config.HandlerTimeout <= 0 {
		config.HandlerTimeout = defaults.HandlerTimeout
	}

	r := &Router{
		inbox:    make(chan Msg, config.InboxSize),
		done:     make(chan struct{}),
		routes:   make(map[string]route),
		sessions: sessions,
		sender:   sender,
		config:   config,
	}
	r.registerSessionHandlers()
	return r
}

// Register binds an inbound event to a handler. Errors from h are reported
// to the caller on the response event.
func (r *Router) Register(event, response string, h Handler) {
	r.routes[event] = route{handler: h, response: response}
}

// Submit queues msg for the dispatcher, blocking while the inbox is full.
// It returns false once the router has been drained.
func (r *Router) Submit(msg Msg) bool {
	select {
	case <-r.done:
		return false
	default:
	}

	select {
	case r.inbox <- msg:
		return true
	case <-r.done:
		return false
	}
}

// Run dispatches messages until ctx is cancelled. Messages still queued
// at that point are left for Drain.
func (r *Router) Run(ctx context.Context) {
	log.Info().Int("routes", len(r.routes)).Msg("event router started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Int("queued", len(r.inbox)).Msg("event router stopped dispatching")
			return
		case msg := <-r.inbox:
			r.Dispatch(ctx, msg)
		}
	}
}

// Drain stops accepting messages and dispatches whatever is still queued
// under ctx. Call it once, after Run has returned.
func (r *Router) Drain(ctx context.Context) {
	drained := r.dispatchQueued(ctx)
	close(r.done)
	// Submit calls that raced with close may still have landed
	drained += r.dispatchQueued(ctx)
	log.Info().Int("drained", drained).Msg("event router drained")
}

func (r *Router) dispatchQueued(ctx context.Context) int {
	n := 0
	for {
		select {
		case msg := <-r.inbox:
			r.Dispatch(ctx, msg)
			n++
		default:
			return n
		}
	}
}

// Dispatch handles a single message synchronously
func (r *Router) Dispatch(ctx context.Context, msg Msg) {
	ctx, cancel := context.WithTimeout(ctx, r.config.HandlerTimeout)
	defer cancel()

	switch m := msg.(type) {
	case Connected:
		if err := r.sessions.Connect(ctx, m.ConnID); err != nil {
			log.Error().Err(err).Str("connection_id", m.ConnID).Msg("failed to register connection")
		}

	case Disconnected:
		if err := r.sessions.Disconnect(ctx, m.ConnID); err != nil {
			log.Error().Err(err).Str("connection_id", m.ConnID).Msg("failed to clean up connection")
		}

	case FromClient:
		rt, ok := r.routes[m.Event]
		if !ok {
			log.Debug().
				Str("connection_id", m.ConnID).
				Str("event", m.Event).
				Msg("ignoring unknown event")
			return
		}

		if err := rt.handler(ctx, m.ConnID, m.Data); err != nil {
			r.reportError(ctx, m, rt.response, err)
			return
		}
		log.Debug().
			Str("connection_id", m.ConnID).
			Str("event", m.Event).
			Msg("event handled")
	}
}

// reportError sends err to the originating connection only
func (r *Router) reportError(ctx context.Context, m FromClient, response string, err error) {
	code, message := session.Describe(err)
	if code == session.CodeInternal {
		log.Error().Err(err).
			Str("connection_id", m.ConnID).
			Str("event", m.Event).
			Msg("event handler failed")
	} else {
		log.Debug().
			Str("connection_id", m.ConnID).
			Str("event", m.Event).
			Str("code", string(code)).
			Msg("event rejected")
	}

	msg, encErr := fabric.NewMessage(response, events.ErrorPayload{
		Error: events.ErrorBody{Code: string(code), Message: message},
	})
	if encErr != nil {
		log.Error().Err(encErr).Msg("failed to encode error payload")
		return
	}
	if sendErr := r.sender.Send(ctx, m.ConnID, msg); sendErr != nil {
		log.Warn().Err(sendErr).Str("connection_id", m.ConnID).Msg("failed to deliver error to client")
	}
}
