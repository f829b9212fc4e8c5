package store

import "time"

// DedupRecord is the inbound message deduplication record of one webhook mid.
type DedupRecord struct {
	MessageID     string     `json:"message_id"`
	ParticipantID string     `json:"participant_id"`
	ReceivedAt    time.Time  `json:"received_at"`
	ProcessedAt   *time.Time `json:"processed_at"`
}

// DedupRepo drops webhook redeliveries. The platform retries deliveries it
// considers unacknowledged, so the same mid can arrive more than once.
type DedupRepo interface {
	// RecordInbound claims messageID. It reports false when the mid was
	// claimed before; the claim is a single insert, so concurrent
	// deliveries of one mid cannot both see true.
	RecordInbound(messageID, participantID string) (bool, error)

	// MarkProcessed stamps processed_at once the event has been handled.
	MarkProcessed(messageID string) error
}
