package mq

import (
	"context"
	"errors"
	"log/slog"
	"testing"
)

// --- Consumer Tests ---

func TestConsumer_StartWithoutConnection(t *testing.T) {
	c := NewConsumer(nil, slog.Default(), ConsumerConfig{
		Queue: string(QueueJobsSubmitted),
	})

	// Consumer без соединения обязан вернуть ошибку, а не паниковать
	err := c.Start(context.Background())
	if !errors.Is(err, ErrNoConnection) {
		t.Fatalf("expected ErrNoConnection, got %v", err)
	}
}

func TestNewConsumer_DefaultPrefetch(t *testing.T) {
	c := NewConsumer(nil, slog.Default(), ConsumerConfig{Queue: "q"})

	if c.prefetch != 1 {
		t.Errorf("expected default prefetch 1, got %d", c.prefetch)
	}
}
