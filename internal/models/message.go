package models

import "time"

// Attachment types.
const (
	AttachmentImage    = "image"
	AttachmentTemplate = "template"
)

// Template types.
const (
	TemplateGeneric              = "generic"
	TemplateButton               = "button"
	TemplateNotificationMessages = "notification_messages"
)

// Button types.
const (
	ButtonPostback = "postback"
	ButtonWebURL   = "web_url"
)

// Message is an outbound Send API message. Delay and PersonaID are local
// delivery hints and are never serialized.
type Message struct {
	Text         string       `json:"text,omitempty"`
	QuickReplies []QuickReply `json:"quick_replies,omitempty"`
	Attachment   *Attachment  `json:"attachment,omitempty"`

	Delay     time.Duration `json:"-"`
	PersonaID string        `json:"-"`
}

// Validate checks the message against Send API limits.
func (m *Message) Validate() error {
	if m.Text == "" && m.Attachment == nil {
		return ErrEmptyMessage
	}
	if len([]rune(m.Text)) > MaxTextLength {
		return ErrTextTooLong
	}
	if len(m.QuickReplies) > MaxQuickReplies {
		return ErrTooManyQuickReplies
	}
	for _, qr := range m.QuickReplies {
		if qr.Title == "" || len([]rune(qr.Title)) > MaxQuickReplyTitleLength {
			return ErrQuickReplyTitle
		}
	}
	if m.Attachment != nil && m.Attachment.Payload != nil && len(m.Attachment.Payload.Buttons) > MaxButtons {
		return ErrTooManyButtons
	}
	return nil
}

// QuickReply is a quick reply chip. Inbound quick replies carry only the payload.
type QuickReply struct {
	ContentType string `json:"content_type,omitempty"`
	Title       string `json:"title,omitempty"`
	Payload     string `json:"payload"`
	ImageURL    string `json:"image_url,omitempty"`
}

// Attachment is a media or template attachment.
type Attachment struct {
	Type    string             `json:"type"`
	Payload *AttachmentPayload `json:"payload,omitempty"`
}

// AttachmentPayload covers the media and template payload variants used by the bot.
type AttachmentPayload struct {
	URL          string    `json:"url,omitempty"`
	IsReusable   bool      `json:"is_reusable,omitempty"`
	TemplateType string    `json:"template_type,omitempty"`
	Text         string    `json:"text,omitempty"`
	Title        string    `json:"title,omitempty"`
	ImageURL     string    `json:"image_url,omitempty"`
	Payload      string    `json:"payload,omitempty"`
	Buttons      []Button  `json:"buttons,omitempty"`
	Elements     []Element `json:"elements,omitempty"`

	NotificationMessagesFrequency string `json:"notification_messages_frequency,omitempty"`
	NotificationMessagesTimezone  string `json:"notification_messages_timezone,omitempty"`
}

// Element is a generic template card.
type Element struct {
	Title    string   `json:"title"`
	Subtitle string   `json:"subtitle,omitempty"`
	ImageURL string   `json:"image_url,omitempty"`
	Buttons  []Button `json:"buttons,omitempty"`
}

// Button is a postback or URL button.
type Button struct {
	Type    string `json:"type"`
	Title   string `json:"title"`
	Payload string `json:"payload,omitempty"`
	URL     string `json:"url,omitempty"`
}

// Recipient addresses a Send API request. Exactly one field is set.
type Recipient struct {
	ID                        string `json:"id,omitempty"`
	UserRef                   string `json:"user_ref,omitempty"`
	NotificationMessagesToken string `json:"notification_messages_token,omitempty"`
	PostID                    string `json:"post_id,omitempty"`
	CommentID                 string `json:"comment_id,omitempty"`
}

// IsZero reports whether no recipient field is set.
func (r Recipient) IsZero() bool {
	return r == Recipient{}
}

// Sender actions.
const (
	SenderActionTypingOn = "typing_on"
	SenderActionMarkSeen = "mark_seen"
)

// SendRequest is the body of a Send API call.
type SendRequest struct {
	Recipient     Recipient `json:"recipient"`
	MessagingType string    `json:"messaging_type,omitempty"`
	Message       *Message  `json:"message,omitempty"`
	SenderAction  string    `json:"sender_action,omitempty"`
	PersonaID     string    `json:"persona_id,omitempty"`
}
