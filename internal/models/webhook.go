package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ObjectPage is the webhook object type delivered for page subscriptions.
const ObjectPage = "page"

// WebhookBody is the envelope posted by the Messenger Platform to the webhook.
type WebhookBody struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry groups the events delivered for a single page.
type Entry struct {
	ID        string         `json:"id"`
	Time      int64          `json:"time"`
	Messaging []WebhookEvent `json:"messaging,omitempty"`
	Standby   []WebhookEvent `json:"standby,omitempty"`
	Changes   []Change       `json:"changes,omitempty"`
}

// Change is a page feed change (posts and comments).
type Change struct {
	Field string      `json:"field"`
	Value ChangeValue `json:"value"`
}

// ChangeValue carries the identifiers of the post or comment that changed.
type ChangeValue struct {
	Item      string `json:"item"`
	Verb      string `json:"verb"`
	PostID    string `json:"post_id,omitempty"`
	CommentID string `json:"comment_id,omitempty"`
	Message   string `json:"message,omitempty"`
}

// WebhookEvent is a single messaging event. Exactly one of the pointer fields
// is normally set.
type WebhookEvent struct {
	Sender            Participant        `json:"sender"`
	Recipient         Participant        `json:"recipient"`
	Timestamp         int64              `json:"timestamp"`
	Message           *InboundMessage    `json:"message,omitempty"`
	Postback          *Postback          `json:"postback,omitempty"`
	Referral          *Referral          `json:"referral,omitempty"`
	Optin             *Optin             `json:"optin,omitempty"`
	PassThreadControl *PassThreadControl `json:"pass_thread_control,omitempty"`
	Delivery          *Delivery          `json:"delivery,omitempty"`
	Read              *Read              `json:"read,omitempty"`
}

// Participant identifies a sender or recipient. Chat plugin guests are
// identified by UserRef instead of ID.
type Participant struct {
	ID      string `json:"id,omitempty"`
	UserRef string `json:"user_ref,omitempty"`
}

// Key returns the identifier used to address the participant.
func (p Participant) Key() string {
	if p.UserRef != "" {
		return p.UserRef
	}
	return p.ID
}

// InboundMessage is a message written by the user (or an echo of ours).
type InboundMessage struct {
	MID         string       `json:"mid"`
	Text        string       `json:"text,omitempty"`
	IsEcho      bool         `json:"is_echo,omitempty"`
	QuickReply  *QuickReply  `json:"quick_reply,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Postback is delivered when a postback button, Get Started or persistent
// menu item is tapped.
type Postback struct {
	MID      string    `json:"mid,omitempty"`
	Title    string    `json:"title,omitempty"`
	Payload  string    `json:"payload"`
	Referral *Referral `json:"referral,omitempty"`
}

// Referral types handled by the bot.
const (
	ReferralOpenThread     = "OPEN_THREAD"
	ReferralLeadComplete   = "LEAD_COMPLETE"
	ReferralLeadIncomplete = "LEAD_INCOMPLETE"
)

// Referral is delivered when a user enters the thread through an m.me link,
// an ad or a lead form.
type Referral struct {
	Type   string `json:"type"`
	Ref    string `json:"ref,omitempty"`
	Source string `json:"source,omitempty"`
}

// OptinNotificationMessages is the optin type for recurring notifications.
const OptinNotificationMessages = "notification_messages"

// Optin is delivered when a user opts in to recurring notifications.
type Optin struct {
	Type                          string `json:"type"`
	Payload                       string `json:"payload,omitempty"`
	NotificationMessagesToken     string `json:"notification_messages_token,omitempty"`
	NotificationMessagesFrequency string `json:"notification_messages_frequency,omitempty"`
	TokenExpiryTimestamp          int64  `json:"token_expiry_timestamp,omitempty"`
}

// PassThreadControl is delivered when thread ownership changes (handover protocol).
type PassThreadControl struct {
	NewOwnerAppID      AppID  `json:"new_owner_app_id"`
	PreviousOwnerAppID AppID  `json:"previous_owner_app_id,omitempty"`
	Metadata           string `json:"metadata,omitempty"`
}

// Delivery reports that messages were delivered.
type Delivery struct {
	MIDs      []string `json:"mids,omitempty"`
	Watermark int64    `json:"watermark"`
}

// Read reports that messages up to the watermark were read.
type Read struct {
	Watermark int64 `json:"watermark"`
}

// AppID is an application identifier. The platform sends app ids as JSON
// numbers in some events and as strings in others.
type AppID string

// UnmarshalJSON accepts both numeric and string encodings.
func (a *AppID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*a = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = AppID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid app id %s: %w", data, err)
	}
	*a = AppID(n.String())
	return nil
}
