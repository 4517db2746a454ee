package models

// Location carries the geo tags attached to a trial at submission time.
// Tags are resolved server-side from the request; clients never supply them.
type Location struct {
	CountryCode string `json:"country_code,omitempty"`
	Region      string `json:"region,omitempty"`
	City        string `json:"city,omitempty"`
}

// Trial is one measured stimulus-response event.
type Trial struct {
	TimestampMs int64     `json:"timestamp"`
	LatencyMs   int64     `json:"reactionTime"`
	SubjectID   string    `json:"userId,omitempty"`
	Location    *Location `json:"location,omitempty"`
}

// ResultStore holds trials keyed by test type ("reactionTime",
// "audioReactionTime", "cpt", "numberMemory", "colorBlindness").
// Append-only from the application's point of view; retention pruning is the
// only deletion.
type ResultStore map[string][]Trial

// Known test types served by the results endpoints.
var TestTypes = []string{
	"reactionTime",
	"audioReactionTime",
	"cpt",
	"numberMemory",
	"colorBlindness",
}

// IsKnownTestType reports whether t is one of the served test types.
func IsKnownTestType(t string) bool {
	for _, known := range TestTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Message types for timed messages.
const (
	MessageTypeText  = "TEXT"
	MessageTypeImage = "IMAGE"
	MessageTypeVideo = "VIDEO"
)

// ViewerState is one viewer's attempt accounting against a timed message.
type ViewerState struct {
	AttemptsUsed       int   `json:"attempts"`
	LastReactionTimeMs int64 `json:"reactionTime,omitempty"`
}

// TimedMessage is a shareable artifact gated behind a reveal trial.
// Content and MediaURL are mutually exclusive by MessageType: TEXT carries
// Content, IMAGE/VIDEO carry MediaURL.
//
// Invariant: AttemptsUsed <= MaxAttempts for every viewer; once equal, that
// viewer is permanently locked out (no reset path).
type TimedMessage struct {
	ID                string                 `json:"id"`
	Title             string                 `json:"title"`
	MessageType       string                 `json:"messageType"`
	Content           string                 `json:"content,omitempty"`
	MediaURL          string                 `json:"mediaUrl,omitempty"`
	VisibleDurationMs int64                  `json:"visibleDuration"`
	MaxAttempts       int                    `json:"maxAttempts"`
	CreatorID         string                 `json:"creatorId"`
	CreatedAt         string                 `json:"createdAt"`
	PerUserState      map[string]ViewerState `json:"perUserState,omitempty"`
}

// ViewerStateFor returns the recorded state for a viewer; an absent viewer
// has zero attempts.
func (m *TimedMessage) ViewerStateFor(viewerID string) ViewerState {
	if m.PerUserState == nil {
		return ViewerState{}
	}
	return m.PerUserState[viewerID]
}

// Exhausted reports whether the viewer has consumed every allowed attempt.
func (m *TimedMessage) Exhausted(viewerID string) bool {
	return m.ViewerStateFor(viewerID).AttemptsUsed >= m.MaxAttempts
}

// MessageStore holds timed messages in creation order.
type MessageStore struct {
	Messages []TimedMessage `json:"messages"`
}

// Find returns the message with the given id, or nil.
func (s *MessageStore) Find(id string) *TimedMessage {
	for i := range s.Messages {
		if s.Messages[i].ID == id {
			return &s.Messages[i]
		}
	}
	return nil
}

// PeriodBucket aggregates continuous-performance actions whose elapsed
// session time falls into one fixed-width window.
type PeriodBucket struct {
	StartMs          int64   `json:"startTime"`
	CorrectResponses int     `json:"correctResponses"`
	CommissionErrors int     `json:"commissionErrors"`
	OmissionErrors   int     `json:"omissionErrors"`
	LatenciesMs      []int64 `json:"reactionTimes"`
}

// AverageLatencyMs is the mean captured latency for the window, 0 when empty.
func (b *PeriodBucket) AverageLatencyMs() float64 {
	if len(b.LatenciesMs) == 0 {
		return 0
	}
	var sum int64
	for _, l := range b.LatenciesMs {
		sum += l
	}
	return float64(sum) / float64(len(b.LatenciesMs))
}

// Accuracy is correct / (correct+commission+omission) for the window,
// 0 when nothing was classified.
func (b *PeriodBucket) Accuracy() float64 {
	total := b.CorrectResponses + b.CommissionErrors + b.OmissionErrors
	if total == 0 {
		return 0
	}
	return float64(b.CorrectResponses) / float64(total)
}
