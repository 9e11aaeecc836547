package models

import "encoding/json"

// RecentMessage is one entry of the recent-message window the transport
// worker attaches to an incoming message for the analysis command.
type RecentMessage struct {
	Author     string `json:"author"`
	SenderName string `json:"sender_name"`
	Body       string `json:"body"`
	Type       string `json:"type"`
}

// IncomingMessage is the transport-agnostic record of a received chat
// message as published on the incoming queue.
type IncomingMessage struct {
	ID             string          `json:"id"`
	From           string          `json:"from"`
	Author         string          `json:"author"`
	SenderName     string          `json:"sender_name"`
	Body           string          `json:"body"`
	ReplyToID      string          `json:"reply_to_id,omitempty"`
	FromMe         bool            `json:"from_me"`
	IsGroup        bool            `json:"is_group"`
	Participants   []string        `json:"participants,omitempty"`
	RecentMessages []RecentMessage `json:"recent_messages,omitempty"`
}

// Marshal serializes the message to JSON.
func (m IncomingMessage) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// UnmarshalIncomingMessage deserializes JSON to IncomingMessage.
func UnmarshalIncomingMessage(data []byte) (IncomingMessage, error) {
	var msg IncomingMessage
	err := json.Unmarshal(data, &msg)
	return msg, err
}

// Cleanup instructs the delivery worker to remove a disposable resource
// after the message has been delivered.
type Cleanup struct {
	Type     string `json:"type"`
	Filename string `json:"filename"`
	Scope    string `json:"scope"`
}

// SendRequest is an outgoing-message job as submitted to the send queue and
// consumed by the external delivery worker.
type SendRequest struct {
	GroupID  string   `json:"group_id"`
	Type     string   `json:"type"`
	Content  string   `json:"content"`
	Caption  string   `json:"caption,omitempty"`
	ReplyTo  string   `json:"reply_to,omitempty"`
	Mentions []string `json:"mentions,omitempty"`
	Cleanup  *Cleanup `json:"cleanup,omitempty"`
}

// Marshal serializes the request to JSON.
func (r SendRequest) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

// UnmarshalSendRequest deserializes JSON to SendRequest.
func UnmarshalSendRequest(data []byte) (SendRequest, error) {
	var req SendRequest
	err := json.Unmarshal(data, &req)
	return req, err
}
