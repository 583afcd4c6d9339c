package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/hookrelay/internal/breaker"
	"github.com/smallbiznis/hookrelay/internal/clock"
	"github.com/smallbiznis/hookrelay/internal/event/domain"
	"github.com/smallbiznis/hookrelay/internal/observability/metrics"
	"github.com/smallbiznis/hookrelay/internal/queue"
	"github.com/smallbiznis/hookrelay/internal/router"
	"github.com/smallbiznis/hookrelay/pkg/db"
)

const (
	ingestAccepted  = "accepted"
	ingestDuplicate = "duplicate"
	ingestRejected  = "rejected"
)

// Service admits gateway notifications into the pipeline and processes the
// jobs they become.
type Service struct {
	db      *gorm.DB
	repo    domain.Repository
	queue   *queue.Queue
	router  *router.Router
	breaker *breaker.Breaker
	clock   clock.Clock
	log     *zap.Logger
	metrics *metrics.PipelineMetrics
	node    *snowflake.Node
	secret  []byte
}

func New(
	db *gorm.DB,
	repo domain.Repository,
	q *queue.Queue,
	rt *router.Router,
	dbBreaker *breaker.Breaker,
	clk clock.Clock,
	log *zap.Logger,
	node *snowflake.Node,
	webhookSecret string,
) *Service {
	return &Service{
		db:      db,
		repo:    repo,
		queue:   q,
		router:  rt,
		breaker: dbBreaker,
		clock:   clk,
		log:     log.Named("event"),
		metrics: metrics.Pipeline(),
		node:    node,
		secret:  []byte(webhookSecret),
	}
}

// VerifySignature checks the gateway's HMAC-SHA256 hex signature over the
// raw request body in constant time.
func (s *Service) VerifySignature(body []byte, signature string) error {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return domain.ErrInvalidSignature
	}
	return nil
}

// Ingest verifies, dedupes and enqueues one notification. Duplicates are a
// successful no-op so the gateway sees 2xx and stops redelivering.
func (s *Service) Ingest(ctx context.Context, body []byte, signature string) (domain.Admission, error) {
	if err := s.VerifySignature(body, signature); err != nil {
		s.metrics.IncIngest(ingestRejected)
		return domain.Duplicate, err
	}

	var env domain.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		s.metrics.IncIngest(ingestRejected)
		return domain.Duplicate, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	if env.ID == "" || env.Event == "" {
		s.metrics.IncIngest(ingestRejected)
		return domain.Duplicate, domain.ErrInvalidPayload
	}

	payload, err := json.Marshal(env.Payload)
	if err != nil {
		s.metrics.IncIngest(ingestRejected)
		return domain.Duplicate, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}

	class := domain.ParseEventType(env.Event)
	event := &domain.WebhookEvent{
		ID:         s.node.Generate(),
		EventID:    env.ID,
		EventType:  env.Event,
		EntityType: class.EntityKey(),
		EntityID:   entityID(env.Payload, class.EntityKey()),
		Payload:    payload,
		ReceivedAt: s.clock.Now(),
	}

	var inserted bool
	err = s.breaker.Execute(ctx, func(ctx context.Context) error {
		var opErr error
		inserted, opErr = s.repo.InsertEvent(ctx, s.db, event)
		if db.IsDuplicateKeyErr(opErr) {
			// Concurrent delivery raced past the conflict clause.
			inserted = false
			return nil
		}
		return opErr
	})
	if err != nil {
		return domain.Duplicate, fmt.Errorf("admit event %s: %w", env.ID, err)
	}
	if !inserted {
		s.metrics.IncIngest(ingestDuplicate)
		s.log.Info("duplicate event ignored",
			zap.String("event_id", env.ID),
			zap.String("event_type", env.Event),
		)
		return domain.Duplicate, nil
	}

	if err := s.enqueue(ctx, event); err != nil {
		// The row exists, so redelivery dedupes to a no-op. Replay is the
		// recovery path for events admitted but never queued.
		s.log.Error("admitted event not enqueued",
			zap.String("event_id", env.ID),
			zap.Error(err),
		)
		return domain.FirstSeen, fmt.Errorf("enqueue event %s: %w", env.ID, err)
	}

	s.metrics.IncIngest(ingestAccepted)
	return domain.FirstSeen, nil
}

func (s *Service) enqueue(ctx context.Context, event *domain.WebhookEvent) error {
	class := domain.ParseEventType(event.EventType)
	jobType := class.EntityKey()
	if jobType == "" {
		jobType = "event"
	}
	_, err := s.queue.Enqueue(ctx, queue.Job{
		Type:      jobType,
		EventID:   event.EventID,
		EventType: event.EventType,
		Payload:   json.RawMessage(event.Payload),
	}, queue.Options{Priority: class.Priority()})
	return err
}

// HandleJob is the worker entry point: route the event, then flip its
// processed flag. Routing is idempotent, so a crash between the two steps
// just means one harmless re-route on redelivery.
func (s *Service) HandleJob(ctx context.Context, job *queue.Job) error {
	if err := s.router.Route(ctx, job.EventType, job.Payload); err != nil {
		return err
	}
	return s.breaker.Execute(ctx, func(ctx context.Context) error {
		return s.repo.MarkProcessed(ctx, s.db, job.EventID, s.clock.Now())
	})
}

// Replay re-enqueues one admitted but unprocessed event.
func (s *Service) Replay(ctx context.Context, eventID string) error {
	var event *domain.WebhookEvent
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		var opErr error
		event, opErr = s.repo.FindByEventID(ctx, s.db, eventID)
		return opErr
	})
	if err != nil {
		return err
	}
	if event == nil {
		return domain.ErrEventNotFound
	}
	if event.Processed {
		return domain.ErrAlreadyProcessed
	}
	return s.enqueue(ctx, event)
}

// ReplayUnprocessed re-enqueues every admitted event still unprocessed, up
// to limit. Used after queue data loss or a long redis outage.
func (s *Service) ReplayUnprocessed(ctx context.Context, limit int) (int, error) {
	var events []domain.WebhookEvent
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		var opErr error
		events, opErr = s.repo.ListUnprocessed(ctx, s.db, limit)
		return opErr
	})
	if err != nil {
		return 0, err
	}
	replayed := 0
	for i := range events {
		if err := s.enqueue(ctx, &events[i]); err != nil {
			return replayed, err
		}
		replayed++
	}
	return replayed, nil
}

func entityID(payload map[string]any, key string) string {
	if key == "" {
		return ""
	}
	wrapper, ok := payload[key].(map[string]any)
	if !ok {
		return ""
	}
	entity, ok := wrapper["entity"].(map[string]any)
	if !ok {
		return ""
	}
	id, _ := entity["id"].(string)
	return id
}
