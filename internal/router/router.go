// Package router stores every accepted message in its end user's transcript
// and pushes it to whoever is connected to receive it.
package router

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/supportdesk/internal/chat"
	"github.com/Tyrowin/supportdesk/internal/metrics"
	"github.com/Tyrowin/supportdesk/internal/registry"
)

// Transcripts is the slice of the transcript store the router writes to.
type Transcripts interface {
	Append(ctx context.Context, key string, msg chat.Message)
}

// Directory is the slice of the connection registry the router reads.
type Directory interface {
	ResolveUser(id string) (registry.Handle, bool)
	Admins() []registry.Handle
}

// Delivery summarises what Route did with a message.
type Delivery struct {
	Key       string
	Attempted int
	Delivered int
	Failed    int
}

// Router is safe for concurrent use; it holds no state of its own.
type Router struct {
	transcripts Transcripts
	directory   Directory
	logger      zerolog.Logger
}

// New returns a router over the given store and registry.
func New(transcripts Transcripts, directory Directory, logger zerolog.Logger) *Router {
	return &Router{
		transcripts: transcripts,
		directory:   directory,
		logger:      logger.With().Str("component", "router").Logger(),
	}
}

// Route validates msg, appends it to the transcript of the end user it
// belongs to and pushes it to the live recipients. Invalid messages are
// rejected with an error and leave no trace. An offline recipient is not an
// error: the message stays in the transcript for the next fetch.
func (r *Router) Route(ctx context.Context, msg chat.Message) (Delivery, error) {
	if err := msg.Validate(); err != nil {
		metrics.MessagesRejected.WithLabelValues(rejectReason(err)).Inc()
		return Delivery{}, err
	}

	key := msg.TranscriptKey()
	r.transcripts.Append(ctx, key, msg)

	targets := r.targets(msg)
	delivery := r.broadcast(msg, targets)
	delivery.Key = key

	metrics.MessagesRouted.WithLabelValues(direction(msg)).Inc()
	r.logger.Debug().
		Str("key", key).
		Str("sender", msg.Sender.String()).
		Str("recipient", msg.Recipient.String()).
		Int("attempted", delivery.Attempted).
		Int("delivered", delivery.Delivered).
		Int("failed", delivery.Failed).
		Msg("message routed")
	return delivery, nil
}

// Post sends text from the admin role to userID.
func (r *Router) Post(ctx context.Context, userID, text string) (Delivery, error) {
	id, err := chat.ParseUserID(userID)
	if err != nil {
		return Delivery{}, err
	}
	return r.Route(ctx, chat.NewMessage(chat.Admin(), chat.User(id), text))
}

// targets picks the handles that should see msg. Every admin gets a copy of
// user-bound traffic too, for live monitoring.
func (r *Router) targets(msg chat.Message) []registry.Handle {
	admins := r.directory.Admins()
	if msg.Recipient.IsAdmin() {
		return admins
	}

	targets := make([]registry.Handle, 0, len(admins)+1)
	if h, ok := r.directory.ResolveUser(msg.Recipient.UserID()); ok {
		targets = append(targets, h)
	}
	return append(targets, admins...)
}

// broadcast pushes msg to each handle independently. A failed push is logged
// and counted; it never stops the remaining pushes.
func (r *Router) broadcast(msg chat.Message, targets []registry.Handle) Delivery {
	var d Delivery
	for _, h := range targets {
		if h == nil {
			continue
		}
		d.Attempted++
		if err := push(h, msg); err != nil {
			d.Failed++
			metrics.Deliveries.WithLabelValues("failed").Inc()
			r.logger.Warn().Err(err).Str("conn_id", h.ID()).Msg("push failed")
			continue
		}
		d.Delivered++
		metrics.Deliveries.WithLabelValues("ok").Inc()
	}
	return d
}

// push shields the loop from a handle that panics.
func push(h registry.Handle, msg chat.Message) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.Errorf("push panicked: %v", rec)
		}
	}()
	return h.Push(msg)
}

func direction(msg chat.Message) string {
	if msg.Recipient.IsAdmin() {
		return "to_admin"
	}
	return "to_user"
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, chat.ErrEmptyText):
		return "empty_text"
	case errors.Is(err, chat.ErrMissingRecipient):
		return "missing_recipient"
	case errors.Is(err, chat.ErrNoUserParty):
		return "no_user_party"
	default:
		return "invalid"
	}
}
