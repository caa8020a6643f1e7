package memory

import "time"

// User is the anonymous identity everything else hangs off. Profile and
// Summary together form the user's memory record; both are overwritten
// wholesale by consolidation, never merged at the storage layer.
type User struct {
	ID          string
	Profile     map[string]interface{}
	Summary     string
	CreatedAtMS int64
	UpdatedAtMS int64
}

// Conversation groups an ordered message sequence for one user.
type Conversation struct {
	ID          string
	UserID      string
	CreatedAtMS int64
}

// Roles a Message can carry.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one immutable conversation entry.
type Message struct {
	ID             int64
	ConversationID string
	Role           string
	Content        string
	CreatedAt      time.Time
}

// Record is the per-user memory pair read into every prompt.
type Record struct {
	Profile map[string]interface{} `json:"profile"`
	Summary string                 `json:"summary"`
}

// EmptyRecord is what a user with no consolidated memory looks like.
func EmptyRecord() Record {
	return Record{Profile: map[string]interface{}{}, Summary: ""}
}

// Exchange is the role-tagged pair handed to the consolidator after a turn.
type Exchange struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// JobType values for background memory workers.
const (
	JobConsolidate = "consolidate"
)

// JobStatus values.
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// Job is a durable background memory task.
type Job struct {
	ID            string
	JobType       string
	UserID        string
	Status        string
	Payload       map[string]string
	Error         string
	RunAfterMS    int64
	LeaseUntilMS  int64
	CreatedAtMS   int64
	UpdatedAtMS   int64
	CompletedAtMS int64
}
