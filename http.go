package chat

// SendRequest is the body of the HTTP send endpoint. Render asks for
// the stored text rendered as sanitized HTML in the response, for web
// callers that display the message immediately.
type SendRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
	Render bool   `json:"render,omitempty"`
}

// SendResponse acknowledges a delivered message.
type SendResponse struct {
	MessageID string `json:"message_id"`
	HTML      string `json:"html,omitempty"`
}
