package service

import (
	"context"
	"log"
	"time"

	"github.com/lumahealth/scangate/internal/models"
	"github.com/lumahealth/scangate/internal/repository"
)

// Auditor accepts append-only audit events. Implementations are
// best-effort: a failed or dropped write never blocks or reverses an
// admission decision.
type Auditor interface {
	Emit(event *models.AuditEvent)
}

// AuditSink batches events through a buffered channel into the audit table.
// When the buffer is full the event is dropped rather than blocking the
// request path.
type AuditSink struct {
	repo   *repository.AuditRepository
	events chan *models.AuditEvent
	quit   chan struct{}
	done   chan struct{}
}

func NewAuditSink(repo *repository.AuditRepository, bufferSize int) *AuditSink {
	s := &AuditSink{
		repo:   repo,
		events: make(chan *models.AuditEvent, bufferSize),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	go s.run()

	return s
}

func (s *AuditSink) Emit(event *models.AuditEvent) {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	select {
	case s.events <- event:
	default:
		log.Println("Audit event channel full, dropping event")
	}
}

func (s *AuditSink) run() {
	defer close(s.done)

	batch := make([]*models.AuditEvent, 0, 100)
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case event := <-s.events:
			batch = append(batch, event)

			if len(batch) >= 100 {
				s.flush(batch)
				batch = make([]*models.AuditEvent, 0, 100)
			}
		case <-ticker.C:
			if len(batch) > 0 {
				s.flush(batch)
				batch = make([]*models.AuditEvent, 0, 100)
			}
		case <-s.quit:
			// Drain whatever is already queued, then flush once
			for {
				select {
				case event := <-s.events:
					batch = append(batch, event)
				default:
					s.flush(batch)
					return
				}
			}
		}
	}
}

func (s *AuditSink) flush(batch []*models.AuditEvent) {
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.repo.CreateBatch(ctx, batch); err != nil {
		log.Printf("Failed to insert audit events: %v", err)
	}
}

// Flushes pending events and stops the worker.
func (s *AuditSink) Close() {
	close(s.quit)
	<-s.done
}
