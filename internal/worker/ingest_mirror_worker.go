package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"deckqa/internal/app"
	"deckqa/internal/retrieval"
)

const (
	MirrorDone   = app.MirrorDone
	MirrorFailed = app.MirrorFailed

	mirrorTimeout = 60 * time.Second
)

type RemoteIngester interface {
	Ingest(ctx context.Context, req retrieval.IngestRequest) (*retrieval.IngestResponse, error)
}

type MirrorStatusStore = app.MirrorStatusStore

// IngestMirrorWorker copies queued documents into the remote retrieval
// backend and records the outcome when a status store is configured.
type IngestMirrorWorker struct {
	consumer
	remote RemoteIngester
	status MirrorStatusStore
}

// NewIngestMirrorWorker accepts a nil status store.
func NewIngestMirrorWorker(conn *amqp.Connection, remote RemoteIngester, status MirrorStatusStore, queueName string) *IngestMirrorWorker {
	w := &IngestMirrorWorker{remote: remote, status: status}
	w.consumer = consumer{conn: conn, queue: queueName, name: "ingest-mirror-worker", handle: w.process}
	return w
}

func (w *IngestMirrorWorker) Start(ctx context.Context) error {
	return w.start(ctx)
}

func (w *IngestMirrorWorker) Close() {
	w.close()
}

// process never asks for a requeue after a remote failure: the retrieval
// client already tried both endpoints.
func (w *IngestMirrorWorker) process(ctx context.Context, body []byte) error {
	var req retrieval.IngestRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return fmt.Errorf("%w: decode mirror job failed: %v", errDrop, err)
	}
	if req.DocumentID == "" || len(req.Chunks) == 0 {
		return fmt.Errorf("%w: mirror job without document or chunks", errDrop)
	}

	ctx, cancel := context.WithTimeout(ctx, mirrorTimeout)
	defer cancel()

	status := MirrorDone
	if _, err := w.remote.Ingest(ctx, req); err != nil {
		log.Printf("mirror document failed: doc_id=%s err=%v", req.DocumentID, err)
		status = MirrorFailed
	}
	if w.status != nil {
		if err := w.status.UpdateMirrorStatus(req.DocumentID, status); err != nil {
			log.Printf("record mirror status failed: doc_id=%s err=%v", req.DocumentID, err)
		}
	}
	return nil
}
