package feedback

import (
	"context"
	"fmt"
	"sync"

	"github.com/bz888/convo/internal/api"
	"github.com/bz888/convo/internal/chat"
	"github.com/bz888/convo/internal/logger"
)

const defaultConfirmation = "Thank you for your feedback!"

// Kind is a user judgment on one bot response.
type Kind string

const (
	ThumbsUp       Kind = "thumbs_up"
	ThumbsDown     Kind = "thumbs_down"
	FormatMismatch Kind = "format_mismatch"
	TooLong        Kind = "too_long"
	TooShort       Kind = "too_short"
	OffTopic       Kind = "off_topic"
)

var kinds = map[Kind]bool{
	ThumbsUp:       true,
	ThumbsDown:     true,
	FormatMismatch: true,
	TooLong:        true,
	TooShort:       true,
	OffTopic:       true,
}

// ParseKind maps a user-typed feedback name onto a known kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !kinds[k] {
		return "", fmt.Errorf("unknown feedback kind %q", s)
	}
	return k, nil
}

// Gateway is the slice of the backend client feedback needs.
type Gateway interface {
	SubmitFeedback(ctx context.Context, fb api.FeedbackRequest) (*api.FeedbackResponse, error)
}

// Controller records judgments on individual bot responses. Submissions on
// different interactions may run concurrently; resubmitting while one is
// loading, or after one already stuck, is blocked client-side.
type Controller struct {
	mu      sync.Mutex
	loading map[string]bool

	gw   Gateway
	conv *chat.Controller
	log  *logger.Logger
}

func NewController(gw Gateway, conv *chat.Controller) *Controller {
	return &Controller{
		loading: make(map[string]bool),
		gw:      gw,
		conv:    conv,
		log:     logger.NewLogger("feedback"),
	}
}

// Submit sends one judgment for the given interaction and, on success,
// marks the matching message in place. On failure the message list is left
// unchanged and only the loading flag is cleared.
func (c *Controller) Submit(interactionID string, sessionID string, kind Kind) error {
	if !kinds[kind] {
		return fmt.Errorf("unknown feedback kind %q", kind)
	}

	if msg, ok := c.conv.MessageByInteraction(interactionID); ok && msg.FeedbackSubmitted != "" {
		c.log.Warn("Feedback already submitted for ", interactionID)
		return nil
	}

	c.mu.Lock()
	if c.loading[interactionID] {
		c.mu.Unlock()
		return nil
	}
	c.loading[interactionID] = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.loading, interactionID)
		c.mu.Unlock()
	}()

	resp, err := c.gw.SubmitFeedback(context.Background(), api.FeedbackRequest{
		InteractionID: interactionID,
		SessionID:     sessionID,
		FeedbackType:  string(kind),
	})
	if err != nil {
		c.log.Error("Failed to submit feedback: ", err)
		return err
	}

	confirmation := resp.FeedbackMessage
	if confirmation == "" {
		confirmation = defaultConfirmation
	}
	c.conv.ApplyFeedback(interactionID, string(kind), confirmation)
	return nil
}

// Loading reports whether a submission for the interaction is in flight.
func (c *Controller) Loading(interactionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading[interactionID]
}
