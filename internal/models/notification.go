package models

// RenderedNotification is the text produced for one intimation event.
type RenderedNotification struct {
	Title                 string
	Body                  string
	RecipientEmployeeID   int64
	RecipientEmployeeName string
}

// PushResult captures the delivery outcome per device token.
type PushResult struct {
	Token     string `json:"token"`
	Provider  string `json:"provider"`
	Status    string `json:"status"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

const (
	// ResultDelivered indicates the push was acknowledged by the provider.
	ResultDelivered = "delivered"
	// ResultFailed indicates the provider rejected the token.
	ResultFailed = "failed"
)
