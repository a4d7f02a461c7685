package api

// ChatRequest Request to the /chat endpoint
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

// ChatResponse Shared response shape of /chat, /image-chat and /voice-chat
type ChatResponse struct {
	Response         string  `json:"response"`
	SessionID        string  `json:"session_id"`
	DetectedLanguage string  `json:"detected_language,omitempty"`
	LanguageName     string  `json:"language_name,omitempty"`
	Confidence       float64 `json:"confidence,omitempty"`
	InteractionID    string  `json:"interaction_id,omitempty"`
}

// SessionMessage One stored user/bot exchange inside a session
type SessionMessage struct {
	ID           int    `json:"id"`
	StoredID     string `json:"_id,omitempty"`
	UserInput    string `json:"user_input"`
	BotResponse  string `json:"bot_response"`
	LanguageCode string `json:"language_code,omitempty"`
	LanguageName string `json:"language_name,omitempty"`
	SessionID    string `json:"session_id"`
}

// Session A persisted conversation thread as served by /chat-history
type Session struct {
	SessionID    string           `json:"session_id"`
	SessionTitle string           `json:"session_title"`
	MessageCount int              `json:"message_count"`
	Messages     []SessionMessage `json:"messages"`
}

type HistoryResponse struct {
	Sessions []Session `json:"sessions"`
}

type TranscribeResponse struct {
	Transcription string `json:"transcription"`
}

type DeleteResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type FeedbackRequest struct {
	InteractionID string `json:"interaction_id"`
	SessionID     string `json:"session_id"`
	FeedbackType  string `json:"feedback_type"`
	FeedbackText  string `json:"feedback_text"`
}

type FeedbackResponse struct {
	FeedbackMessage string `json:"feedback_message,omitempty"`
}
