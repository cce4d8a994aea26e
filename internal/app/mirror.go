package app

import (
	"context"
	"log"
	"sync"
	"time"

	"deckqa/internal/model"
	"deckqa/internal/retrieval"
)

const (
	MirrorPending  = "pending"
	MirrorQueued   = "queued"
	MirrorDone     = "mirrored"
	MirrorFailed   = "failed"
	MirrorDisabled = "disabled"

	mirrorTimeout  = 60 * time.Second
	publishTimeout = 5 * time.Second
)

// Mirror copies freshly ingested chunks into the remote retrieval backend.
// It must return quickly; the copy itself is best-effort.
type Mirror interface {
	Mirror(ctx context.Context, req retrieval.IngestRequest) string
}

type RemoteIngester interface {
	Ingest(ctx context.Context, req retrieval.IngestRequest) (*retrieval.IngestResponse, error)
}

// MirrorStatusStore records the final outcome of a mirror call.
type MirrorStatusStore interface {
	UpdateMirrorStatus(id, status string) error
}

// JobPublisher enqueues a JSON job on a named queue.
type JobPublisher interface {
	Publish(ctx context.Context, queue string, payload any) error
}

// DirectMirror runs each mirror call in its own goroutine and records the
// outcome when a status store is configured.
type DirectMirror struct {
	remote RemoteIngester
	status MirrorStatusStore
	wg     sync.WaitGroup
}

// NewDirectMirror accepts a nil status store.
func NewDirectMirror(remote RemoteIngester, status MirrorStatusStore) *DirectMirror {
	return &DirectMirror{remote: remote, status: status}
}

func (m *DirectMirror) Mirror(_ context.Context, req retrieval.IngestRequest) string {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
		defer cancel()

		status := MirrorDone
		if resp, err := m.remote.Ingest(ctx, req); err != nil {
			log.Printf("mirror document failed: doc_id=%s err=%v", req.DocumentID, err)
			status = MirrorFailed
		} else {
			log.Printf("mirror document done: doc_id=%s status=%s", req.DocumentID, resp.Status)
		}
		if m.status != nil {
			if err := m.status.UpdateMirrorStatus(req.DocumentID, status); err != nil {
				log.Printf("record mirror status failed: doc_id=%s err=%v", req.DocumentID, err)
			}
		}
	}()
	return MirrorPending
}

// Wait blocks until in-flight mirror calls finish.
func (m *DirectMirror) Wait() {
	m.wg.Wait()
}

// QueueMirror hands the mirror job to a worker through the message queue.
type QueueMirror struct {
	publisher JobPublisher
	queue     string
}

func NewQueueMirror(publisher JobPublisher, queue string) *QueueMirror {
	return &QueueMirror{publisher: publisher, queue: queue}
}

func (m *QueueMirror) Mirror(ctx context.Context, req retrieval.IngestRequest) string {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := m.publisher.Publish(ctx, m.queue, req); err != nil {
		log.Printf("enqueue mirror job failed: doc_id=%s err=%v", req.DocumentID, err)
		return MirrorFailed
	}
	return MirrorQueued
}

// QueueTurnPublisher sends answered turns to the persistence worker.
type QueueTurnPublisher struct {
	publisher JobPublisher
	queue     string
}

func NewQueueTurnPublisher(publisher JobPublisher, queue string) *QueueTurnPublisher {
	return &QueueTurnPublisher{publisher: publisher, queue: queue}
}

func (p *QueueTurnPublisher) PublishTurn(ctx context.Context, turn model.QATurn) error {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	return p.publisher.Publish(ctx, p.queue, turn)
}

// LogTurnPublisher only logs answered turns.
type LogTurnPublisher struct{}

func (LogTurnPublisher) PublishTurn(_ context.Context, turn model.QATurn) error {
	log.Printf("qa turn answered: key=%s tier=%s persona=%s", turn.DocumentKey, turn.Tier, turn.Persona)
	return nil
}
