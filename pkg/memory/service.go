package memory

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/rs/zerolog/log"
)

// Config configures the memory subsystem.
type Config struct {
	Workspace           string
	WorkerPoll          time.Duration
	WorkerLease         time.Duration
	ConsolidateTimeout  time.Duration
	JobRetention        time.Duration
	MaintenanceEnabled  bool
	MaintenanceSchedule string
}

// Service owns the conversation store and runs consolidation off the
// response path through a durable job queue.
type Service struct {
	cfg          Config
	store        Store
	consolidator Consolidator
	gron         *gronx.Gronx

	stopCh chan struct{}
	wg     sync.WaitGroup

	sweepMu   sync.Mutex
	lastSweep time.Time

	closeOnce sync.Once
	closeErr  error
}

func NewService(cfg Config, complete CompleteFunc) (*Service, error) {
	if strings.TrimSpace(cfg.Workspace) == "" {
		return nil, fmt.Errorf("memory workspace is required")
	}
	if cfg.WorkerPoll <= 0 {
		cfg.WorkerPoll = 700 * time.Millisecond
	}
	if cfg.WorkerLease <= 0 {
		cfg.WorkerLease = 60 * time.Second
	}
	if cfg.ConsolidateTimeout <= 0 {
		cfg.ConsolidateTimeout = 120 * time.Second
	}
	if cfg.JobRetention <= 0 {
		cfg.JobRetention = 14 * 24 * time.Hour
	}
	// The lease must outlive a full consolidation attempt, otherwise an
	// in-flight job is requeued and handed to a second claimer.
	if minLease := cfg.ConsolidateTimeout + 30*time.Second; cfg.WorkerLease < minLease {
		cfg.WorkerLease = minLease
	}
	if cfg.MaintenanceEnabled && !gronx.New().IsValid(cfg.MaintenanceSchedule) {
		return nil, fmt.Errorf("invalid maintenance schedule %q", cfg.MaintenanceSchedule)
	}

	dbPath := filepath.Join(cfg.Workspace, "state", "conversations.db")
	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		return nil, err
	}

	svc := &Service{
		cfg:          cfg,
		store:        store,
		consolidator: NewLLMConsolidator(store, complete),
		gron:         gronx.New(),
		stopCh:       make(chan struct{}),
	}

	// Recover jobs left over from a prior process lifetime before the
	// ticker takes over.
	svc.processPendingJobs(context.Background())

	svc.wg.Add(1)
	go svc.runWorker()
	return svc, nil
}

func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopCh)
		s.wg.Wait()
		s.closeErr = s.store.Close()
	})
	return s.closeErr
}

func (s *Service) GetOrCreateUser(ctx context.Context, id string) (User, error) {
	return s.store.GetOrCreateUser(ctx, id)
}

func (s *Service) GetOrCreateConversation(ctx context.Context, userID string) (Conversation, error) {
	return s.store.GetOrCreateConversation(ctx, userID)
}

func (s *Service) AppendMessage(ctx context.Context, conversationID, role, content string) (Message, error) {
	return s.store.AppendMessage(ctx, conversationID, role, content)
}

func (s *Service) ListRecentMessages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	return s.store.ListRecentMessages(ctx, conversationID, limit)
}

func (s *Service) GetUserMemory(ctx context.Context, userID string) (Record, error) {
	return s.store.GetUserMemory(ctx, userID)
}

// ScheduleConsolidation enqueues the finished exchange for background
// consolidation. It never blocks the caller on the work itself and never
// reports the work's eventual outcome; an enqueue failure only logs.
func (s *Service) ScheduleConsolidation(ctx context.Context, userID string, exchange []Exchange) {
	now := time.Now().UnixMilli()
	payload := map[string]string{"count": strconv.Itoa(len(exchange))}
	for i, ex := range exchange {
		payload["role_"+strconv.Itoa(i)] = ex.Role
		payload["content_"+strconv.Itoa(i)] = ex.Content
	}

	err := s.store.EnqueueJob(ctx, Job{
		ID:          consolidationJobID(userID, now, exchange),
		JobType:     JobConsolidate,
		UserID:      userID,
		Status:      JobPending,
		Payload:     payload,
		RunAfterMS:  now,
		CreatedAtMS: now,
		UpdatedAtMS: now,
	})
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("failed to enqueue consolidation job")
	}
}

// Drain processes runnable jobs until the queue is empty. Tests use it as
// the deterministic completion signal for fire-and-forget consolidation.
func (s *Service) Drain(ctx context.Context) {
	for s.processPendingJobs(ctx) > 0 {
	}
}

func (s *Service) runWorker() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.WorkerPoll)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.processPendingJobs(context.Background())
			s.maybeSweep()
		}
	}
}

func (s *Service) processPendingJobs(ctx context.Context) int {
	const maxBatch = 32
	_ = s.store.RequeueExpiredJobs(ctx, time.Now().UnixMilli())

	leaseForMS := int64(s.cfg.WorkerLease / time.Millisecond)
	processed := 0

	for i := 0; i < maxBatch; i++ {
		job, ok, err := s.store.ClaimNextJob(ctx, time.Now().UnixMilli(), leaseForMS)
		if err != nil || !ok {
			return processed
		}
		processed++

		if err := s.handleJob(ctx, job); err != nil {
			log.Warn().Err(err).Str("job_id", job.ID).Str("user_id", job.UserID).Msg("consolidation job failed")
			_ = s.store.FailJob(ctx, job.ID, err.Error())
			continue
		}
		_ = s.store.CompleteJob(ctx, job.ID)
	}
	return processed
}

func (s *Service) handleJob(ctx context.Context, job Job) error {
	switch job.JobType {
	case JobConsolidate:
		if strings.TrimSpace(job.UserID) == "" {
			return fmt.Errorf("invalid consolidate job payload")
		}
		exchange := decodeExchange(job.Payload)
		if len(exchange) == 0 {
			return fmt.Errorf("consolidate job %s carries no exchange", job.ID)
		}
		jobCtx, cancel := context.WithTimeout(ctx, s.cfg.ConsolidateTimeout)
		defer cancel()
		_, err := s.consolidator.Consolidate(jobCtx, job.UserID, exchange)
		return err
	default:
		return fmt.Errorf("unknown memory job type: %s", job.JobType)
	}
}

func (s *Service) maybeSweep() {
	if !s.cfg.MaintenanceEnabled {
		return
	}

	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	now := time.Now()
	if now.Sub(s.lastSweep) < time.Minute {
		return
	}
	due, err := s.gron.IsDue(s.cfg.MaintenanceSchedule, now)
	if err != nil || !due {
		return
	}
	s.lastSweep = now

	cutoff := now.Add(-s.cfg.JobRetention).UnixMilli()
	purged, err := s.store.PurgeFinishedJobs(context.Background(), cutoff)
	if err != nil {
		log.Warn().Err(err).Msg("maintenance sweep failed")
		return
	}
	if purged > 0 {
		log.Info().Int("purged", purged).Msg("maintenance sweep purged finished consolidation jobs")
	}
}

func decodeExchange(payload map[string]string) []Exchange {
	count, err := strconv.Atoi(payload["count"])
	if err != nil || count <= 0 {
		return nil
	}
	out := make([]Exchange, 0, count)
	for i := 0; i < count; i++ {
		role := payload["role_"+strconv.Itoa(i)]
		content := payload["content_"+strconv.Itoa(i)]
		if role == "" {
			continue
		}
		out = append(out, Exchange{Role: role, Content: content})
	}
	return out
}

func consolidationJobID(userID string, nowMS int64, exchange []Exchange) string {
	var b strings.Builder
	b.WriteString(userID)
	b.WriteString("|")
	b.WriteString(strconv.FormatInt(nowMS, 10))
	for _, ex := range exchange {
		b.WriteString("|")
		b.WriteString(ex.Role)
		b.WriteString(":")
		b.WriteString(ex.Content)
	}
	h := sha1.Sum([]byte(b.String()))
	return "job-" + hex.EncodeToString(h[:8])
}
