package chat

// Sender marks which side of the conversation a message belongs to.
type Sender string

const (
	SenderUser Sender = "user"
	SenderAI   Sender = "ai"
)

// Message is one entry of the displayed conversation. All optional fields
// are declared upfront, messages never grow ad hoc shape.
type Message struct {
	ID               int64   `json:"id"`
	Text             string  `json:"text"`
	Sender           Sender  `json:"sender"`
	IsLoading        bool    `json:"isLoading,omitempty"`
	Image            string  `json:"image,omitempty"`
	ImageName        string  `json:"imageName,omitempty"`
	DetectedLanguage string  `json:"detectedLanguage,omitempty"`
	LanguageName     string  `json:"languageName,omitempty"`
	Confidence       float64 `json:"confidence,omitempty"`
	SessionID        string  `json:"sessionId,omitempty"`
	InteractionID    string  `json:"interactionId,omitempty"`

	FeedbackSubmitted string `json:"feedbackSubmitted,omitempty"`
	FeedbackMessage   string `json:"feedbackMessage,omitempty"`
}
