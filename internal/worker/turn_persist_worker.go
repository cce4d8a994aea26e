package worker

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"deckqa/internal/model"
)

type TurnStore interface {
	Create(turn *model.QATurn) error
}

// TurnPersistWorker writes answered questions from the queue into MySQL.
type TurnPersistWorker struct {
	consumer
	repo TurnStore
}

func NewTurnPersistWorker(conn *amqp.Connection, repo TurnStore, queueName string) *TurnPersistWorker {
	w := &TurnPersistWorker{repo: repo}
	w.consumer = consumer{conn: conn, queue: queueName, name: "turn-persist-worker", handle: w.process}
	return w
}

func (w *TurnPersistWorker) Start(ctx context.Context) error {
	return w.start(ctx)
}

func (w *TurnPersistWorker) Close() {
	w.close()
}

func (w *TurnPersistWorker) process(_ context.Context, body []byte) error {
	var turn model.QATurn
	if err := json.Unmarshal(body, &turn); err != nil {
		return fmt.Errorf("%w: decode qa turn failed: %v", errDrop, err)
	}
	// Ids come from the database.
	turn.ID = 0
	if turn.Citations == "" {
		turn.Citations = "[]"
	}
	return w.repo.Create(&turn)
}
