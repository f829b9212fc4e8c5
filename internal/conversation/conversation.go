// Package conversation rebuilds a role-tagged transcript from the page's
// Messenger history so it can be forwarded to a chat-completion model.
//
// The transcript is derived from platform history on every turn and is never
// persisted. Only the current calendar day of the conversation is kept.
package conversation

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
)

// Role tags the author of a turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// DefaultMaxTurns caps the number of history turns forwarded to the model.
const DefaultMaxTurns = 40

// Turn is a single message of the transcript.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// HistoryMessage is one message of the platform conversation history, as
// returned by the Conversations API (newest first).
type HistoryMessage struct {
	ID          string
	Text        string
	FromID      string
	FromName    string
	CreatedTime string
}

// timeLayouts lists the timestamp formats the Graph API has been seen to use.
var timeLayouts = []string{
	"2006-01-02T15:04:05-0700",
	time.RFC3339,
	time.RFC3339Nano,
}

// ParseCreatedTime parses a Graph API created_time value.
func ParseCreatedTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized created_time %q", value)
}

// Opts holds configuration for an Assembler.
type Opts struct {
	PageID   string
	PageName string
	Location *time.Location
	Annotate bool
	MaxTurns int
}

// Option defines a configuration option for the Assembler.
type Option func(*Opts)

// WithPageID identifies page-authored messages by sender id.
func WithPageID(id string) Option {
	return func(o *Opts) { o.PageID = id }
}

// WithPageName identifies page-authored messages by sender name prefix.
func WithPageName(name string) Option {
	return func(o *Opts) { o.PageName = name }
}

// WithLocation sets the location used to decide calendar days.
func WithLocation(loc *time.Location) Option {
	return func(o *Opts) { o.Location = loc }
}

// WithAnnotation toggles the "My name is ..., time written: ..." content format.
func WithAnnotation(annotate bool) Option {
	return func(o *Opts) { o.Annotate = annotate }
}

// WithMaxTurns caps the transcript length. Values <= 0 keep the default.
func WithMaxTurns(n int) Option {
	return func(o *Opts) { o.MaxTurns = n }
}

// Assembler turns platform history into a transcript.
type Assembler struct {
	opts Opts
}

// NewAssembler creates an Assembler. By default days are computed in UTC,
// content is annotated and DefaultMaxTurns applies.
func NewAssembler(opts ...Option) *Assembler {
	cfg := Opts{Location: time.UTC, Annotate: true, MaxTurns: DefaultMaxTurns}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}
	return &Assembler{opts: cfg}
}

type parsedMessage struct {
	msg  HistoryMessage
	role Role
	at   time.Time
}

// Transcript converts history into chronologically ordered turns covering
// the calendar day of the newest message. The newest message is dropped when
// it is the user's current utterance, since the caller appends that itself.
// Malformed messages are skipped; empty history yields an empty transcript.
func (a *Assembler) Transcript(history []HistoryMessage, utterance string) []Turn {
	parsed := make([]parsedMessage, 0, len(history))
	for _, m := range history {
		if strings.TrimSpace(m.Text) == "" {
			continue
		}
		at, err := ParseCreatedTime(m.CreatedTime)
		if err != nil {
			slog.Debug("Assembler.Transcript: skipping message with bad timestamp", "id", m.ID, "error", err)
			continue
		}
		parsed = append(parsed, parsedMessage{msg: m, role: a.roleOf(m), at: at})
	}
	if len(parsed) == 0 {
		return []Turn{}
	}

	// Newest first.
	sort.SliceStable(parsed, func(i, j int) bool { return parsed[i].at.After(parsed[j].at) })

	day := calendarDay(parsed[0].at, a.opts.Location)
	end := len(parsed)
	for i, p := range parsed {
		if calendarDay(p.at, a.opts.Location) != day {
			end = i
			break
		}
	}
	parsed = parsed[:end]

	if parsed[0].role == RoleUser && sameUtterance(parsed[0].msg.Text, utterance) {
		parsed = parsed[1:]
	}

	if len(parsed) > a.opts.MaxTurns {
		parsed = parsed[:a.opts.MaxTurns]
	}

	turns := make([]Turn, len(parsed))
	for i, p := range parsed {
		// Reverse into chronological order.
		turns[len(parsed)-1-i] = Turn{Role: p.role, Content: a.content(p.msg), Timestamp: p.at}
	}
	return turns
}

// BuildPrompt orders the system prompt, the transcript and the new utterance.
func (a *Assembler) BuildPrompt(system string, transcript []Turn, utterance string) []Turn {
	turns := make([]Turn, 0, len(transcript)+2)
	if system != "" {
		turns = append(turns, Turn{Role: RoleSystem, Content: system})
	}
	turns = append(turns, transcript...)
	turns = append(turns, Turn{Role: RoleUser, Content: utterance})
	return turns
}

func (a *Assembler) roleOf(m HistoryMessage) Role {
	if a.opts.PageID != "" && m.FromID == a.opts.PageID {
		return RoleAssistant
	}
	if a.opts.PageName != "" && strings.HasPrefix(m.FromName, a.opts.PageName) {
		return RoleAssistant
	}
	return RoleUser
}

func (a *Assembler) content(m HistoryMessage) string {
	if !a.opts.Annotate || m.FromName == "" {
		return m.Text
	}
	return fmt.Sprintf("My name is %s, %s, time written: %s", m.FromName, m.Text, m.CreatedTime)
}

func calendarDay(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02")
}

func sameUtterance(a, b string) bool {
	b = strings.TrimSpace(b)
	return b != "" && strings.EqualFold(strings.TrimSpace(a), b)
}
