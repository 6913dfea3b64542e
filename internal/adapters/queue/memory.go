// Package queue provides domain.RepairQueue implementations.
package queue

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/PabloGalante/personai/internal/domain"
)

var ErrQueueFull = errors.New("repair queue is full")

// MemoryQueue is a buffered in-process queue. Jobs are lost on restart.
type MemoryQueue struct {
	jobs     chan domain.RepairJob
	consumed atomic.Bool
}

var _ domain.RepairQueue = (*MemoryQueue)(nil)

func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{jobs: make(chan domain.RepairJob, size)}
}

// Enqueue never blocks. A full buffer returns ErrQueueFull.
func (q *MemoryQueue) Enqueue(ctx context.Context, job domain.RepairJob) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case q.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Jobs forwards queued jobs until ctx is done. Only one consumer is supported.
// Acks are no-ops: nothing survives a restart anyway.
func (q *MemoryQueue) Jobs(ctx context.Context) (<-chan domain.RepairDelivery, error) {
	if !q.consumed.CompareAndSwap(false, true) {
		return nil, errors.New("memory queue already has a consumer")
	}

	out := make(chan domain.RepairDelivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case job := <-q.jobs:
				select {
				case out <- domain.RepairDelivery{Job: job, Ack: noAck}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func noAck(context.Context) error { return nil }

// Len reports how many jobs are waiting.
func (q *MemoryQueue) Len() int {
	return len(q.jobs)
}
