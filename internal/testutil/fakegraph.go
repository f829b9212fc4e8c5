package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/BTreeMap/PagePipe/internal/graph"
	"github.com/BTreeMap/PagePipe/internal/models"
)

// FakeGraph records Send API requests and serves canned profiles and
// conversations. It is safe for concurrent use.
type FakeGraph struct {
	mu            sync.Mutex
	requests      []models.SendRequest
	events        []graph.AppEvent
	profileCalls  int
	Profiles      map[string]graph.UserProfile
	Conversations map[string]*graph.Conversations
	SendErr       error
	ProfileErr    error
	notify        chan struct{}
}

// NewFakeGraph creates an empty FakeGraph.
func NewFakeGraph() *FakeGraph {
	return &FakeGraph{
		Profiles:      make(map[string]graph.UserProfile),
		Conversations: make(map[string]*graph.Conversations),
		notify:        make(chan struct{}, 1024),
	}
}

// SendMessage records req.
func (f *FakeGraph) SendMessage(ctx context.Context, req models.SendRequest) (*graph.SendResult, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	n := len(f.requests)
	err := f.SendErr
	f.mu.Unlock()

	select {
	case f.notify <- struct{}{}:
	default:
	}
	if err != nil {
		return nil, err
	}
	return &graph.SendResult{RecipientID: req.Recipient.ID, MessageID: fmt.Sprintf("mid.%d", n)}, nil
}

// GetUserProfile returns the configured profile for psid.
func (f *FakeGraph) GetUserProfile(ctx context.Context, psid string) (*graph.UserProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profileCalls++
	if f.ProfileErr != nil {
		return nil, f.ProfileErr
	}
	p, ok := f.Profiles[psid]
	if !ok {
		return nil, &graph.APIError{Status: 400, Message: "unknown user"}
	}
	return &p, nil
}

// GetConversations returns the configured conversation for psid.
func (f *FakeGraph) GetConversations(ctx context.Context, psid string) (*graph.Conversations, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.Conversations[psid]; ok {
		return c, nil
	}
	return &graph.Conversations{}, nil
}

// PostAppEvent records event.
func (f *FakeGraph) PostAppEvent(ctx context.Context, event graph.AppEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

// Requests returns a copy of the recorded Send API requests.
func (f *FakeGraph) Requests() []models.SendRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.SendRequest(nil), f.requests...)
}

// Messages returns the recorded requests that carried a message.
func (f *FakeGraph) Messages() []models.SendRequest {
	var out []models.SendRequest
	for _, r := range f.Requests() {
		if r.Message != nil {
			out = append(out, r)
		}
	}
	return out
}

// Events returns a copy of the recorded app events.
func (f *FakeGraph) Events() []graph.AppEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]graph.AppEvent(nil), f.events...)
}

// ProfileCalls returns how many profiles were fetched.
func (f *FakeGraph) ProfileCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.profileCalls
}

// WaitForMessages blocks until at least n message requests were recorded or
// timeout elapses, and returns the message requests seen.
func (f *FakeGraph) WaitForMessages(n int, timeout time.Duration) []models.SendRequest {
	deadline := time.After(timeout)
	for {
		if msgs := f.Messages(); len(msgs) >= n {
			return msgs
		}
		select {
		case <-f.notify:
		case <-deadline:
			return f.Messages()
		}
	}
}
