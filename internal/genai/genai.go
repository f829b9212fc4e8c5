// Package genai answers free-text messages with an OpenAI chat completion
// grounded in the day's Messenger conversation.
package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/PagePipe/internal/conversation"
	"github.com/BTreeMap/PagePipe/internal/graph"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Defaults.
const (
	DefaultModel   = "gpt-3.5-turbo"
	DefaultTimeout = 30 * time.Second
)

// Apology is returned to the user whenever a reply cannot be generated.
const Apology = "An error occurred while processing your message."

// DefaultSystemPrompt asks the model to act as a cashier and track the order as JSON.
const DefaultSystemPrompt = `You are the cashier of the shop. STRICTLY reply in JSON with two keys: "cashier" and "order".
The value of "cashier" is the message you would normally say as a cashier.
The value of "order" follows this format:
{"customer": "...", "items": {"item": quantity}, "tower": "...", "total": number, "payment_type": "...", "note": "..."}
If the customer has not provided every value, ask for the missing values.
If the customer has provided every value, ask the customer to confirm the order.
If the customer confirms the order, set "order" to "confirmed".
If the customer does not confirm the order, set "order" to "not confirmed".
Always reply in JSON.`

var (
	// ErrMissingAPIKey is returned when no API key is configured.
	ErrMissingAPIKey = errors.New("genai: API key not set")
	// ErrNoChoicesReturned is returned when the model answers without choices.
	ErrNoChoicesReturned = errors.New("genai: no choices returned")
)

// chatCompleter is the subset of the OpenAI chat completions service we use.
type chatCompleter interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// HistorySource fetches the page conversation with a user.
type HistorySource interface {
	GetConversations(ctx context.Context, psid string) (*graph.Conversations, error)
}

// Opts holds configuration for the GenAI client.
type Opts struct {
	APIKey       string
	BaseURL      string
	Model        string
	Timeout      time.Duration
	SystemPrompt string
	History      HistorySource
	Assembler    []conversation.Option
}

// Option defines a configuration option for the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithBaseURL points the client at an OpenAI compatible endpoint.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithModel sets the chat model.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithTimeout bounds each completion request.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// WithSystemPrompt replaces the default cashier instructions.
func WithSystemPrompt(prompt string) Option {
	return func(o *Opts) { o.SystemPrompt = prompt }
}

// WithHistory sets where conversation history is read from.
func WithHistory(h HistorySource) Option {
	return func(o *Opts) { o.History = h }
}

// WithTranscriptOptions configures how history is turned into a transcript.
func WithTranscriptOptions(opts ...conversation.Option) Option {
	return func(o *Opts) { o.Assembler = append(o.Assembler, opts...) }
}

// Client generates replies with a chat completion model.
type Client struct {
	chat      chatCompleter
	assembler *conversation.Assembler
	opts      Opts
}

// NewClient creates a GenAI client.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{Model: DefaultModel, Timeout: DefaultTimeout, SystemPrompt: DefaultSystemPrompt}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	cli := openai.NewClient(reqOpts...)
	return newClient(&cli.Chat.Completions, cfg), nil
}

func newClient(chat chatCompleter, cfg Opts) *Client {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	return &Client{chat: chat, assembler: conversation.NewAssembler(cfg.Assembler...), opts: cfg}
}

// Complete sends turns to the model and returns the first choice.
func (c *Client) Complete(ctx context.Context, turns []conversation.Turn) (string, error) {
	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.opts.Model),
		Messages: toMessages(turns),
	}
	resp, err := c.chat.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", ErrNoChoicesReturned
	}
	return resp.Choices[0].Message.Content, nil
}

// Reply answers utterance from psid. On failure the returned Answer carries
// the apology text together with the error.
func (c *Client) Reply(ctx context.Context, psid, utterance string) (Answer, error) {
	transcript := c.transcript(ctx, psid, utterance)
	turns := c.assembler.BuildPrompt(c.opts.SystemPrompt, transcript, utterance)

	slog.Debug("Client.Reply: requesting completion", "psid", psid, "turns", len(turns))
	raw, err := c.Complete(ctx, turns)
	if err != nil {
		slog.Error("Client.Reply: completion failed", "psid", psid, "error", err)
		return Answer{Text: Apology}, err
	}
	return ParseAnswer(raw), nil
}

// transcript loads today's history. Fetch failures degrade to an empty transcript.
func (c *Client) transcript(ctx context.Context, psid, utterance string) []conversation.Turn {
	if c.opts.History == nil {
		return nil
	}
	conv, err := c.opts.History.GetConversations(ctx, psid)
	if err != nil {
		slog.Warn("Client.transcript: failed to fetch conversation history", "psid", psid, "error", err)
		return nil
	}
	return c.assembler.Transcript(HistoryFromGraph(conv.LatestThreadMessages()), utterance)
}

// HistoryFromGraph converts Conversations API messages to history messages.
func HistoryFromGraph(msgs []graph.Message) []conversation.HistoryMessage {
	out := make([]conversation.HistoryMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, conversation.HistoryMessage{
			ID:          m.ID,
			Text:        m.Message,
			FromID:      m.From.ID,
			FromName:    m.From.Name,
			CreatedTime: m.CreatedTime,
		})
	}
	return out
}

func toMessages(turns []conversation.Turn) []openai.ChatCompletionMessageParamUnion {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case conversation.RoleSystem:
			msgs = append(msgs, openai.SystemMessage(t.Content))
		case conversation.RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(t.Content))
		default:
			msgs = append(msgs, openai.UserMessage(t.Content))
		}
	}
	return msgs
}
