package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bz888/convo/internal/api"
	"github.com/bz888/convo/internal/logger"
)

const defaultImagePrompt = "Describe this image in detail."

// Gateway is the slice of the backend client the controller needs.
type Gateway interface {
	Chat(ctx context.Context, message string, sessionID string) (*api.ChatResponse, error)
	ImageChat(ctx context.Context, image []byte, fileName string, text string, sessionID string) (*api.ChatResponse, error)
	VoiceChat(ctx context.Context, wavData []byte, sessionID string) (*api.ChatResponse, error)
	ChatHistory(ctx context.Context) ([]api.Session, error)
	DeleteSession(ctx context.Context, sessionID string) (*api.DeleteResponse, error)
	DeleteAllHistory(ctx context.Context) (*api.DeleteResponse, error)
}

// Controller owns the mutable conversation state: the displayed message
// list, the session index, the current/selected session and the in-flight
// request registry. Blocking operations are synchronous; callers run them
// on their own goroutines and the controller serializes every mutation.
type Controller struct {
	mu sync.Mutex

	gw       Gateway
	registry *Registry
	log      *logger.Logger

	messages         []Message
	sessions         []api.Session
	selectedSession  *api.Session
	currentSessionID string
	currentInput     string

	inflight int
	lastID   int64

	onChange func()
}

func NewController(gw Gateway) *Controller {
	return &Controller{
		gw:       gw,
		registry: NewRegistry(),
		log:      logger.NewLogger("chat"),
	}
}

// Registry exposes the request registry so the voice adapter can scope
// its transcription requests under the same cancellation broadcast.
func (c *Controller) Registry() *Registry {
	return c.registry
}

// OnChange registers the re-render hook. The callback fires after every
// state mutation, outside the controller lock.
func (c *Controller) OnChange(fn func()) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

func (c *Controller) notify() {
	c.mu.Lock()
	fn := c.onChange
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// SubmitMessage sends the composed text to the backend. It appends the
// user message and a loading placeholder first, then replaces the
// placeholder in place once the request settles. Whitespace-only input is
// a no-op. A previous chat request still in flight is cancelled before the
// new one starts.
func (c *Controller) SubmitMessage(text string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}

	c.mu.Lock()
	userMsg := Message{ID: c.nextIDLocked(), Text: trimmed, Sender: SenderUser}
	placeholder := Message{ID: c.nextIDLocked(), Sender: SenderAI, IsLoading: true}
	c.messages = append(c.messages, userMsg, placeholder)
	c.currentInput = ""
	c.inflight++
	sessionID := c.currentSessionID
	c.mu.Unlock()
	ctx, release := c.registry.Begin(ChannelChat)
	c.notify()

	resp, err := c.gw.Chat(ctx, trimmed, sessionID)
	return c.settle(placeholder.ID, resp, err, release, "Something went wrong.")
}

// UploadImage sends the image plus the composed text (or a default prompt)
// as one multipart request. The composed input is cleared only after the
// request settles, the prompt is part of the payload built at submit time.
func (c *Controller) UploadImage(image []byte, fileName string, previewURI string) error {
	if len(image) == 0 {
		return errors.New("no image data")
	}

	c.mu.Lock()
	prompt := c.currentInput
	if strings.TrimSpace(prompt) == "" {
		prompt = defaultImagePrompt
	}
	userMsg := Message{
		ID:        c.nextIDLocked(),
		Text:      prompt,
		Sender:    SenderUser,
		Image:     previewURI,
		ImageName: fileName,
	}
	placeholder := Message{ID: c.nextIDLocked(), Sender: SenderAI, IsLoading: true}
	c.messages = append(c.messages, userMsg, placeholder)
	c.inflight++
	sessionID := c.currentSessionID
	c.mu.Unlock()
	ctx, release := c.registry.Begin(ChannelImage)
	c.notify()

	resp, err := c.gw.ImageChat(ctx, image, fileName, prompt, sessionID)
	if err == nil || !api.IsCanceled(err) {
		c.mu.Lock()
		c.currentInput = ""
		c.mu.Unlock()
	}
	return c.settle(placeholder.ID, resp, err, release, "Failed to analyze image.")
}

// SubmitVoice sends recorded WAV audio through the voice-chat endpoint
// with the same placeholder lifecycle as SubmitMessage.
func (c *Controller) SubmitVoice(wavData []byte) error {
	if len(wavData) == 0 {
		return errors.New("no audio data")
	}

	c.mu.Lock()
	userMsg := Message{ID: c.nextIDLocked(), Text: "🎤 Voice message", Sender: SenderUser}
	placeholder := Message{ID: c.nextIDLocked(), Sender: SenderAI, IsLoading: true}
	c.messages = append(c.messages, userMsg, placeholder)
	c.inflight++
	sessionID := c.currentSessionID
	c.mu.Unlock()
	ctx, release := c.registry.Begin(ChannelVoice)
	c.notify()

	resp, err := c.gw.VoiceChat(ctx, wavData, sessionID)
	return c.settle(placeholder.ID, resp, err, release, "Failed to process voice message.")
}

// settle finishes one request lifecycle: replace the placeholder on
// success or failure, drop it silently on cancellation, and kick off the
// background session refresh after a successful round trip.
func (c *Controller) settle(placeholderID int64, resp *api.ChatResponse, err error, release func(), fallback string) error {
	release()

	c.mu.Lock()
	c.inflight--
	if err != nil {
		if api.IsCanceled(err) {
			c.removeMessageLocked(placeholderID)
			c.mu.Unlock()
			c.notify()
			return nil
		}
		c.updateMessageLocked(placeholderID, func(m *Message) {
			m.Text = "⚠️ " + visibleError(err, fallback)
			m.IsLoading = false
		})
		c.mu.Unlock()
		c.notify()
		return err
	}

	if c.currentSessionID == "" && resp.SessionID != "" {
		c.currentSessionID = resp.SessionID
	}
	c.updateMessageLocked(placeholderID, func(m *Message) {
		m.Text = resp.Response
		m.IsLoading = false
		m.DetectedLanguage = resp.DetectedLanguage
		m.LanguageName = resp.LanguageName
		m.Confidence = resp.Confidence
		m.SessionID = resp.SessionID
		m.InteractionID = resp.InteractionID
	})
	c.mu.Unlock()
	c.notify()

	go c.RefreshSessions()
	return nil
}

// SelectSession switches the conversation to a stored session. Every
// in-flight request is cancelled first; the displayed messages are
// replaced wholesale by the session's expanded pairs.
func (c *Controller) SelectSession(session api.Session) {
	c.registry.CancelAll()

	c.mu.Lock()
	selected := session
	c.selectedSession = &selected
	c.currentSessionID = session.SessionID
	c.messages = expandSession(session)
	c.mu.Unlock()
	c.notify()
}

// expandSession flattens stored user/bot pairs into display order. Pair
// metadata lands on the AI message only.
func expandSession(session api.Session) []Message {
	messages := make([]Message, 0, len(session.Messages)*2)
	for _, pair := range session.Messages {
		messages = append(messages, Message{
			ID:     int64(pair.ID)*2 - 1,
			Text:   pair.UserInput,
			Sender: SenderUser,
		})

		interactionID := pair.StoredID
		if interactionID == "" {
			interactionID = fmt.Sprintf("%s_%d", pair.SessionID, pair.ID*2)
		}
		messages = append(messages, Message{
			ID:               int64(pair.ID) * 2,
			Text:             pair.BotResponse,
			Sender:           SenderAI,
			DetectedLanguage: pair.LanguageCode,
			LanguageName:     pair.LanguageName,
			SessionID:        pair.SessionID,
			InteractionID:    interactionID,
		})
	}
	return messages
}

// StartNewChat cancels everything in flight and resets the conversation.
// The session index is left alone.
func (c *Controller) StartNewChat() {
	c.registry.CancelAll()

	c.mu.Lock()
	c.messages = nil
	c.selectedSession = nil
	c.currentSessionID = ""
	c.currentInput = ""
	c.mu.Unlock()
	c.notify()
}

// DeleteSession removes one stored session. Nothing is removed locally
// until the backend confirms.
func (c *Controller) DeleteSession(sessionID string) error {
	resp, err := c.gw.DeleteSession(context.Background(), sessionID)
	if err != nil {
		c.log.Error("Failed to delete session: ", err)
		return err
	}
	if !resp.Success {
		c.log.Error("Backend refused session delete: ", resp.Message)
		return fmt.Errorf("delete session %s: %s", sessionID, resp.Message)
	}

	c.mu.Lock()
	kept := c.sessions[:0]
	for _, s := range c.sessions {
		if s.SessionID != sessionID {
			kept = append(kept, s)
		}
	}
	c.sessions = kept
	wasCurrent := c.currentSessionID == sessionID ||
		(c.selectedSession != nil && c.selectedSession.SessionID == sessionID)
	c.mu.Unlock()

	if wasCurrent {
		c.StartNewChat()
	} else {
		c.notify()
	}
	go c.RefreshSessions()
	return nil
}

// DeleteAllHistory wipes every stored session. The confirmed flag is the
// caller's explicit user confirmation; without it the gateway is never
// called.
func (c *Controller) DeleteAllHistory(confirmed bool) error {
	if !confirmed {
		return nil
	}

	resp, err := c.gw.DeleteAllHistory(context.Background())
	if err != nil {
		c.log.Error("Failed to delete chat history: ", err)
		return err
	}
	if !resp.Success {
		return fmt.Errorf("delete history: %s", resp.Message)
	}

	c.mu.Lock()
	c.sessions = nil
	c.mu.Unlock()
	c.StartNewChat()
	return nil
}

// RefreshSessions replaces the session index wholesale. Best effort:
// failures are logged and swallowed, never surfaced.
func (c *Controller) RefreshSessions() {
	sessions, err := c.gw.ChatHistory(context.Background())
	if err != nil {
		c.log.Error("Failed to fetch chat history: ", err)
		return
	}

	c.mu.Lock()
	c.sessions = sessions
	c.mu.Unlock()
	c.notify()
}

// ApplyFeedback records a submitted judgment on the message matching the
// interaction id, leaving every other message untouched.
func (c *Controller) ApplyFeedback(interactionID string, kind string, confirmation string) {
	c.mu.Lock()
	for i := range c.messages {
		if c.messages[i].InteractionID == interactionID {
			c.messages[i].FeedbackSubmitted = kind
			c.messages[i].FeedbackMessage = confirmation
		}
	}
	c.mu.Unlock()
	c.notify()
}

// MessageByInteraction looks up a displayed message by its interaction id.
func (c *Controller) MessageByInteraction(interactionID string) (Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range c.messages {
		if m.InteractionID == interactionID {
			return m, true
		}
	}
	return Message{}, false
}

func (c *Controller) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

func (c *Controller) Sessions() []api.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]api.Session, len(c.sessions))
	copy(out, c.sessions)
	return out
}

func (c *Controller) SelectedSession() *api.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.selectedSession == nil {
		return nil
	}
	s := *c.selectedSession
	return &s
}

func (c *Controller) CurrentSessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentSessionID
}

func (c *Controller) Input() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentInput
}

func (c *Controller) SetInput(text string) {
	c.mu.Lock()
	c.currentInput = text
	c.mu.Unlock()
	c.notify()
}

// AppendInput space-joins a finalized dictation fragment onto the composed
// input instead of overwriting it.
func (c *Controller) AppendInput(fragment string) {
	if fragment == "" {
		return
	}
	c.mu.Lock()
	if c.currentInput == "" {
		c.currentInput = fragment
	} else {
		c.currentInput = c.currentInput + " " + fragment
	}
	c.mu.Unlock()
	c.notify()
}

// IsLoading reports whether any request is in flight.
func (c *Controller) IsLoading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inflight > 0
}

func (c *Controller) updateMessageLocked(id int64, fn func(*Message)) {
	for i := range c.messages {
		if c.messages[i].ID == id {
			fn(&c.messages[i])
			return
		}
	}
}

func (c *Controller) removeMessageLocked(id int64) {
	for i := range c.messages {
		if c.messages[i].ID == id {
			c.messages = append(c.messages[:i], c.messages[i+1:]...)
			return
		}
	}
}

// nextIDLocked derives creation-time ids the way the UI always has,
// bumping on same-millisecond collisions.
func (c *Controller) nextIDLocked() int64 {
	id := time.Now().UnixMilli()
	if id <= c.lastID {
		id = c.lastID + 1
	}
	c.lastID = id
	return id
}

func visibleError(err error, fallback string) string {
	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return fallback
}
