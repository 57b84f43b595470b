package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrUnknownReceipt is returned when deleting with a stale or unknown receipt handle.
var ErrUnknownReceipt = errors.New("unknown receipt handle")

type memoryMessage struct {
	id           string
	body         []byte
	receipt      string
	receiveCount int
	visibleAt    time.Time
}

// MemoryQueue is an in-process Client with visibility timeouts and
// dead-lettering. Receive never blocks.
type MemoryQueue struct {
	mu              sync.Mutex
	messages        []*memoryMessage
	deadLetters     []Message
	maxReceiveCount int
	now             func() time.Time
}

var _ Client = (*MemoryQueue)(nil)

// NewMemoryQueue creates an empty queue. maxReceiveCount of zero disables dead-lettering.
func NewMemoryQueue(maxReceiveCount int) *MemoryQueue {
	return &MemoryQueue{
		maxReceiveCount: maxReceiveCount,
		now:             time.Now,
	}
}

// Send implements Sender.
func (q *MemoryQueue) Send(ctx context.Context, body any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("encoding message body: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	id := uuid.NewString()
	q.messages = append(q.messages, &memoryMessage{id: id, body: data})
	return id, nil
}

// Receive returns up to in.MaxMessages visible messages and hides them for
// in.VisibilityTimeout.
func (q *MemoryQueue) Receive(ctx context.Context, in ReceiveInput) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var out []Message
	kept := q.messages[:0]
	for _, m := range q.messages {
		if len(out) >= in.MaxMessages || now.Before(m.visibleAt) {
			kept = append(kept, m)
			continue
		}

		m.receiveCount++
		if q.maxReceiveCount > 0 && m.receiveCount > q.maxReceiveCount {
			q.deadLetters = append(q.deadLetters, Message{
				ID:           m.id,
				Body:         m.body,
				ReceiveCount: m.receiveCount - 1,
			})
			continue
		}

		m.receipt = uuid.NewString()
		m.visibleAt = now.Add(in.VisibilityTimeout)
		out = append(out, Message{
			ID:            m.id,
			ReceiptHandle: m.receipt,
			Body:          m.body,
			ReceiveCount:  m.receiveCount,
		})
		kept = append(kept, m)
	}
	q.messages = kept
	return out, nil
}

// Delete implements Client.
func (q *MemoryQueue) Delete(ctx context.Context, msg Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, m := range q.messages {
		if m.receipt != "" && m.receipt == msg.ReceiptHandle {
			q.messages = append(q.messages[:i], q.messages[i+1:]...)
			return nil
		}
	}
	return ErrUnknownReceipt
}

// Len returns the number of messages still on the queue, visible or not.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}

// DeadLetters returns the messages moved off the queue after too many receives.
func (q *MemoryQueue) DeadLetters() []Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Message(nil), q.deadLetters...)
}

// Bodies returns the bodies of the messages still on the queue, in send order.
func (q *MemoryQueue) Bodies() [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([][]byte, 0, len(q.messages))
	for _, m := range q.messages {
		out = append(out, m.body)
	}
	return out
}
