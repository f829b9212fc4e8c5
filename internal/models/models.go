// Package models defines the core data structures for PagePipe.
//
// It includes the Messenger webhook envelope, outbound Send API messages,
// delivery receipts, inbound message records and confirmed orders, which are
// shared across modules.
package models

import (
	"encoding/json"
	"errors"
	"time"
)

// Validation constants for input validation
const (
	// MaxTextLength is the maximum length of a text message accepted by the Send API.
	MaxTextLength = 2000
	// MaxQuickReplies is the maximum number of quick replies on a single message.
	MaxQuickReplies = 13
	// MaxQuickReplyTitleLength is the maximum length of a quick reply title.
	MaxQuickReplyTitleLength = 20
	// MaxButtons is the maximum number of buttons on a template.
	MaxButtons = 3
)

// Error variables for better error handling and testability
var (
	ErrEmptyRecipient      = errors.New("recipient cannot be empty")
	ErrEmptyMessage        = errors.New("message must have text or an attachment")
	ErrTextTooLong         = errors.New("message text exceeds maximum length")
	ErrTooManyQuickReplies = errors.New("too many quick replies")
	ErrQuickReplyTitle     = errors.New("quick reply title is empty or too long")
	ErrTooManyButtons      = errors.New("too many buttons")
)

// MessageStatus represents the delivery status of a message.
type MessageStatus string

const (
	// MessageStatusSent indicates the message was accepted by the Send API.
	MessageStatusSent MessageStatus = "sent"
	// MessageStatusDelivered indicates the platform reported delivery.
	MessageStatusDelivered MessageStatus = "delivered"
	// MessageStatusRead indicates the platform reported the message was read.
	MessageStatusRead MessageStatus = "read"
	// MessageStatusFailed indicates the Send API rejected the message.
	MessageStatusFailed MessageStatus = "failed"
)

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// Receipt records a delivery event for a message sent to a user.
type Receipt struct {
	To     string        `json:"to"`
	Status MessageStatus `json:"status"`
	Time   int64         `json:"time"`
}

// Response represents an inbound text message from a user.
type Response struct {
	From string `json:"from"`
	Body string `json:"body"`
	Time int64  `json:"time"`
}

// OrderStatus classifies the order field of a cashier reply.
type OrderStatus string

const (
	// OrderStatusNone means the reply carried no order information.
	OrderStatusNone OrderStatus = ""
	// OrderStatusDraft means the reply carried order details still being collected.
	OrderStatusDraft OrderStatus = "draft"
	// OrderStatusConfirmed means the customer confirmed the order.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusNotConfirmed means the customer declined the order.
	OrderStatusNotConfirmed OrderStatus = "not_confirmed"
)

// Order is a confirmed or declined order captured from a cashier conversation.
type Order struct {
	ID        string          `json:"id"`
	PSID      string          `json:"psid"`
	Status    OrderStatus     `json:"status"`
	Details   json.RawMessage `json:"details,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// API Response types for consistent JSON responses

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{
		response: APIResponse{},
	}
}

// WithStatus sets the status of the API response.
func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

// WithMessage sets the message of the API response.
func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

// WithResult sets the result data of the API response.
func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithResult(result).
		Build()
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithMessage(message).
		WithResult(result).
		Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusError).
		WithMessage(message).
		Build()
}
