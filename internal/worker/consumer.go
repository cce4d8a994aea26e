// Package worker consumes background jobs from RabbitMQ.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"deckqa/internal/platform/rabbitmq"
)

// errDrop marks a delivery that can never succeed; it is not requeued.
var errDrop = errors.New("drop job")

type handleFunc func(ctx context.Context, body []byte) error

// consumer runs one delivery loop for a single queue. A handler error
// wrapping errDrop nacks without requeue; other errors requeue once.
type consumer struct {
	conn   *amqp.Connection
	queue  string
	name   string
	handle handleFunc

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (c *consumer) start(ctx context.Context) error {
	if c.cancel != nil {
		return nil
	}

	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("open %s channel failed: %w", c.name, err)
	}
	if err := rabbitmq.DeclareQueue(ch, c.queue); err != nil {
		_ = ch.Close()
		return err
	}
	if err := ch.Qos(8, 0, false); err != nil {
		_ = ch.Close()
		return fmt.Errorf("set %s prefetch failed: %w", c.name, err)
	}
	deliveries, err := ch.Consume(c.queue, c.name, false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("consume %s failed: %w", c.queue, err)
	}

	workerCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer ch.Close()

		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				c.dispatch(workerCtx, d)
			}
		}
	}()
	return nil
}

func (c *consumer) dispatch(ctx context.Context, d amqp.Delivery) {
	err := c.handle(ctx, d.Body)
	switch {
	case err == nil:
		_ = d.Ack(false)
	case errors.Is(err, errDrop) || d.Redelivered:
		log.Printf("%s dropped job: %v", c.name, err)
		_ = d.Nack(false, false)
	default:
		log.Printf("%s job failed, requeueing: %v", c.name, err)
		_ = d.Nack(false, true)
	}
}

func (c *consumer) close() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}
