package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/bz888/convo/internal/logger"
)

const requestTimeout = 120 * time.Second

// APIError is a non-2xx answer from the backend. Cancellation is never
// wrapped in an APIError, it surfaces as context.Canceled.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return e.Message
}

// IsRateLimited reports whether err is the backend throttling us (HTTP 429).
func IsRateLimited(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests
}

// IsCanceled reports whether err is a cancelled request rather than a failure.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}

// Client issues the backend calls. One method per capability.
type Client struct {
	baseURL string
	http    *http.Client
	log     *logger.Logger
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: requestTimeout},
		log:     logger.NewLogger("api client"),
	}
}

func (c *Client) Chat(ctx context.Context, message string, sessionID string) (*ChatResponse, error) {
	body, err := json.Marshal(ChatRequest{Message: message, SessionID: sessionID})
	if err != nil {
		return nil, fmt.Errorf("serialize chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var resp ChatResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) ImageChat(ctx context.Context, image []byte, fileName string, text string, sessionID string) (*ChatResponse, error) {
	form := &bytes.Buffer{}
	writer := multipart.NewWriter(form)

	part, err := writer.CreateFormFile("image", fileName)
	if err != nil {
		return nil, fmt.Errorf("create image part: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return nil, fmt.Errorf("write image part: %w", err)
	}
	writer.WriteField("text", text)
	if sessionID != "" {
		writer.WriteField("session_id", sessionID)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/image-chat", form)
	if err != nil {
		return nil, fmt.Errorf("create image-chat request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var resp ChatResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) VoiceChat(ctx context.Context, wavData []byte, sessionID string) (*ChatResponse, error) {
	form, contentType, err := audioForm(wavData, sessionID)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/voice-chat", form)
	if err != nil {
		return nil, fmt.Errorf("create voice-chat request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	var resp ChatResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Transcribe(ctx context.Context, wavData []byte) (*TranscribeResponse, error) {
	form, contentType, err := audioForm(wavData, "")
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transcribe", form)
	if err != nil {
		return nil, fmt.Errorf("create transcribe request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	var resp TranscribeResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) ChatHistory(ctx context.Context) ([]Session, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/chat-history", nil)
	if err != nil {
		return nil, fmt.Errorf("create history request: %w", err)
	}

	var resp HistoryResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return resp.Sessions, nil
}

func (c *Client) DeleteSession(ctx context.Context, sessionID string) (*DeleteResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/session/"+sessionID, nil)
	if err != nil {
		return nil, fmt.Errorf("create delete session request: %w", err)
	}

	var resp DeleteResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) DeleteAllHistory(ctx context.Context) (*DeleteResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/chat-history", nil)
	if err != nil {
		return nil, fmt.Errorf("create delete history request: %w", err)
	}

	var resp DeleteResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) SubmitFeedback(ctx context.Context, fb FeedbackRequest) (*FeedbackResponse, error) {
	body, err := json.Marshal(fb)
	if err != nil {
		return nil, fmt.Errorf("serialize feedback request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/feedback", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("create feedback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var resp FeedbackResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// audioForm wraps recorded WAV bytes in the multipart shape the backend
// expects on /voice-chat and /transcribe.
func audioForm(wavData []byte, sessionID string) (*bytes.Buffer, string, error) {
	form := &bytes.Buffer{}
	writer := multipart.NewWriter(form)

	part, err := writer.CreateFormFile("audio", "recording.wav")
	if err != nil {
		return nil, "", fmt.Errorf("create audio part: %w", err)
	}
	if _, err := part.Write(wavData); err != nil {
		return nil, "", fmt.Errorf("write audio part: %w", err)
	}
	if sessionID != "" {
		writer.WriteField("session_id", sessionID)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart form: %w", err)
	}
	return form, writer.FormDataContentType(), nil
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		if IsCanceled(err) {
			c.log.Info("Request cancelled: ", req.URL.Path)
			return context.Canceled
		}
		c.log.Error("Failed to perform request: ", err)
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.log.Error("Failed to close response body: ", err)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if resp.StatusCode == http.StatusTooManyRequests {
			apiErr.Message = "Server is busy (quota exceeded). Please wait a moment."
		} else {
			apiErr.Message = fmt.Sprintf("HTTP error! status: %d", resp.StatusCode)
		}
		c.log.Error("Backend error: ", resp.Status)
		return apiErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		c.log.Error("Failed to decode response: ", err)
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
