package memory

import "context"

// Store provides durable persistence for users, conversations, messages
// and the consolidation job queue.
type Store interface {
	Close() error

	GetOrCreateUser(ctx context.Context, id string) (User, error)
	GetOrCreateConversation(ctx context.Context, userID string) (Conversation, error)
	AppendMessage(ctx context.Context, conversationID, role, content string) (Message, error)
	ListRecentMessages(ctx context.Context, conversationID string, limit int) ([]Message, error)

	GetUserMemory(ctx context.Context, userID string) (Record, error)
	SetUserMemory(ctx context.Context, userID string, rec Record) error

	EnqueueJob(ctx context.Context, job Job) error
	ClaimNextJob(ctx context.Context, nowMS, leaseForMS int64) (Job, bool, error)
	CompleteJob(ctx context.Context, id string) error
	FailJob(ctx context.Context, id, errMsg string) error
	RequeueExpiredJobs(ctx context.Context, nowMS int64) error
	PurgeFinishedJobs(ctx context.Context, beforeMS int64) (int, error)
}

// Consolidator folds one exchange into a user's memory record.
type Consolidator interface {
	Consolidate(ctx context.Context, userID string, exchange []Exchange) (Record, error)
}
