// Package messaging receives Messenger webhook events, decides the responses
// and relays them through the Send API.
package messaging

import (
	"context"
	"errors"
	"time"

	"github.com/BTreeMap/PagePipe/internal/genai"
	"github.com/BTreeMap/PagePipe/internal/graph"
	"github.com/BTreeMap/PagePipe/internal/models"
)

// Defaults for the messaging layer.
const (
	// DefaultChannelBufferSize is the buffer of the receipts channel.
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout bounds how long an emit waits on a full channel.
	DefaultChannelTimeout = 100 * time.Millisecond
	// DefaultMessageInterval spaces successive messages of one response.
	DefaultMessageInterval = 2 * time.Second
	// DefaultOptinDelay is how long after an optin the recurring message is sent.
	DefaultOptinDelay = 5 * time.Second
	// LeadAdsAppID is the app id of Messenger Lead Ads.
	LeadAdsAppID = "413038776280800"
)

// ErrServiceStopped is returned when sending after Stop.
var ErrServiceStopped = errors.New("messaging: service stopped")

// SendAPI delivers Send API requests.
type SendAPI interface {
	SendMessage(ctx context.Context, req models.SendRequest) (*graph.SendResult, error)
}

// ProfileAPI fetches user profiles.
type ProfileAPI interface {
	GetUserProfile(ctx context.Context, psid string) (*graph.UserProfile, error)
}

// Replier produces conversational replies to free text.
type Replier interface {
	Reply(ctx context.Context, psid, utterance string) (genai.Answer, error)
}

// OrderStore persists orders captured from conversations.
type OrderStore interface {
	SaveOrder(o models.Order) error
	LatestOrder(psid string) (*models.Order, error)
}
