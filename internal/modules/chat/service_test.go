// README: Chat service tests over the in-memory store.
package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"motorcab/internal/realtime"
)

func TestSendAndList(t *testing.T) {
	rt := realtime.NewMemoryStore()
	svc := NewService(rt)
	ctx := context.Background()

	if _, err := svc.Send(ctx, "t1", SenderDriver, QuickReplies[0]); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if _, err := svc.Send(ctx, "t1", SenderPassenger, "ok, waiting"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	msgs, err := svc.Messages(ctx, "t1")
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("len = %d, want 2", len(msgs))
	}
	if msgs[0].Sender != SenderDriver || msgs[0].Text != QuickReplies[0] {
		t.Fatalf("first message = %+v", msgs[0])
	}
	if msgs[0].Timestamp == 0 {
		t.Fatal("timestamp not stamped")
	}
}

func TestSendRejectsEmptyText(t *testing.T) {
	svc := NewService(realtime.NewMemoryStore())
	if _, err := svc.Send(context.Background(), "t1", SenderDriver, "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("Send = %v, want ErrEmptyMessage", err)
	}
}

func TestWatchDeliversConversation(t *testing.T) {
	rt := realtime.NewMemoryStore()
	svc := NewService(rt)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed, err := svc.Watch(ctx, "t1")
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if _, err := svc.Send(ctx, "t1", SenderDriver, "hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case msgs := <-feed:
			if len(msgs) == 1 && msgs[0].Text == "hello" {
				return
			}
		case <-deadline:
			t.Fatal("message not delivered")
		}
	}
}
