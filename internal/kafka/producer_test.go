package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func waitClosed(t *testing.T, p *Producer) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		p.WaitClosed()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("flush loop did not exit")
	}
}

func TestProducerCloseAfterCancel(t *testing.T) {
	p := NewProducer([]string{"localhost:0"}, "t", 4)
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)

	cancel()
	waitClosed(t, p)

	require.NotPanics(t, func() { p.Close() })
}

func TestProducerCancelAfterClose(t *testing.T) {
	p := NewProducer([]string{"localhost:0"}, "t", 4)
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)

	p.Close()
	cancel()
	waitClosed(t, p)

	require.NotPanics(t, func() { p.Close() })
}
