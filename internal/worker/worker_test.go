package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deckqa/internal/model"
	"deckqa/internal/retrieval"
)

type turnStoreStub struct {
	created []*model.QATurn
	err     error
}

func (s *turnStoreStub) Create(turn *model.QATurn) error {
	if s.err != nil {
		return s.err
	}
	s.created = append(s.created, turn)
	return nil
}

func TestTurnPersistWorker_Process(t *testing.T) {
	store := &turnStoreStub{}
	w := NewTurnPersistWorker(nil, store, "q")

	body, err := json.Marshal(model.QATurn{ID: 42, DocumentKey: "d1", Question: "q?", Answer: "a.", Tier: "lexical"})
	require.NoError(t, err)
	require.NoError(t, w.process(context.Background(), body))

	require.Len(t, store.created, 1)
	assert.Zero(t, store.created[0].ID)
	assert.Equal(t, "d1", store.created[0].DocumentKey)
	assert.Equal(t, "[]", store.created[0].Citations)

	t.Run("bad payload is dropped", func(t *testing.T) {
		err := w.process(context.Background(), []byte("{"))
		assert.ErrorIs(t, err, errDrop)
	})

	t.Run("store failure is retryable", func(t *testing.T) {
		failing := NewTurnPersistWorker(nil, &turnStoreStub{err: errors.New("db down")}, "q")
		err := failing.process(context.Background(), body)
		require.Error(t, err)
		assert.NotErrorIs(t, err, errDrop)
	})
}

type remoteStub struct {
	err  error
	reqs []retrieval.IngestRequest
}

func (r *remoteStub) Ingest(_ context.Context, req retrieval.IngestRequest) (*retrieval.IngestResponse, error) {
	r.reqs = append(r.reqs, req)
	if r.err != nil {
		return nil, r.err
	}
	return &retrieval.IngestResponse{Status: "success"}, nil
}

type statusStub map[string]string

func (s statusStub) UpdateMirrorStatus(id, status string) error {
	s[id] = status
	return nil
}

func TestIngestMirrorWorker_Process(t *testing.T) {
	job, err := json.Marshal(retrieval.IngestRequest{DocumentID: "d1", Chunks: []model.Chunk{{Text: "x"}}})
	require.NoError(t, err)

	tests := []struct {
		name       string
		remoteErr  error
		wantStatus string
	}{
		{"mirrored", nil, MirrorDone},
		{"remote unavailable", retrieval.ErrRemoteUnavailable, MirrorFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			remote := &remoteStub{err: tt.remoteErr}
			status := statusStub{}
			w := NewIngestMirrorWorker(nil, remote, status, "q")

			require.NoError(t, w.process(context.Background(), job))
			require.Len(t, remote.reqs, 1)
			assert.Equal(t, "d1", remote.reqs[0].DocumentID)
			assert.Equal(t, tt.wantStatus, status["d1"])
		})
	}

	t.Run("invalid jobs are dropped", func(t *testing.T) {
		w := NewIngestMirrorWorker(nil, &remoteStub{}, nil, "q")
		assert.ErrorIs(t, w.process(context.Background(), []byte("nope")), errDrop)
		assert.ErrorIs(t, w.process(context.Background(), []byte(`{"doc_id":"d1","chunks":[]}`)), errDrop)
	})
}
