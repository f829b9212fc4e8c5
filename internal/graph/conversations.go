package graph

import (
	"context"
	"log/slog"
)

// conversationFields selects the message fields needed to rebuild a transcript.
const conversationFields = "messages{message,from,created_time}"

// Conversations is the Conversations API response.
type Conversations struct {
	Data []Thread `json:"data"`
}

// Thread is a single page conversation.
type Thread struct {
	ID       string      `json:"id"`
	Messages MessagePage `json:"messages"`
}

// MessagePage is one page of thread messages, newest first.
type MessagePage struct {
	Data []Message `json:"data"`
}

// Message is a single thread message.
type Message struct {
	ID          string `json:"id"`
	Message     string `json:"message"`
	From        From   `json:"from"`
	CreatedTime string `json:"created_time"`
}

// From identifies the author of a thread message.
type From struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// LatestThreadMessages returns the messages of the first thread, or nil when
// the response carries no thread. It never panics on partial responses.
func (c *Conversations) LatestThreadMessages() []Message {
	if c == nil || len(c.Data) == 0 {
		return nil
	}
	return c.Data[0].Messages.Data
}

// GetConversations fetches the conversation between the page and a user.
func (c *Client) GetConversations(ctx context.Context, psid string) (*Conversations, error) {
	var out Conversations
	resp, err := c.request(ctx).
		SetQueryParams(map[string]string{
			"platform": "messenger",
			"user_id":  psid,
			"fields":   conversationFields,
		}).
		SetResult(&out).
		Get("/me/conversations")
	if err := check("graph.GetConversations", resp, err); err != nil {
		slog.Error("graph.GetConversations failed", "error", err, "psid", psid)
		return nil, err
	}
	slog.Debug("graph.GetConversations succeeded", "psid", psid, "threads", len(out.Data), "messages", len(out.LatestThreadMessages()))
	return &out, nil
}
