package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/zapdesk/inbox-bridge/internal/biz/domain"
)

func newTestBufferUsecase(clock *time.Time) (*BufferUsecase, *mockBufferRepo) {
	bufferRepo := newMockBufferRepo()
	uc := NewBufferUsecase(bufferRepo, DefaultBufferConfig())
	uc.now = func() time.Time { return *clock }
	return uc, bufferRepo
}

func TestBufferUsecase_AddToBuffer_Coalesces(t *testing.T) {
	ctx := context.Background()
	t0 := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	clock := t0
	uc, _ := newTestBufferUsecase(&clock)

	req := domain.AppendRequest{ConversationID: "c1", Phone: "5511999990000", Content: "Hi"}
	first, created, err := uc.AddToBuffer(ctx, req)
	if err != nil {
		t.Fatalf("AddToBuffer failed: %v", err)
	}
	if !created {
		t.Error("Expected first message to create a buffer")
	}

	clock = t0.Add(10 * time.Second)
	req.Content = "Are you open?"
	second, created, err := uc.AddToBuffer(ctx, req)
	if err != nil {
		t.Fatalf("AddToBuffer failed: %v", err)
	}
	if created {
		t.Error("Expected second message to join the existing buffer")
	}
	if second.ID != first.ID {
		t.Errorf("Expected same buffer %s, got %s", first.ID, second.ID)
	}
	if len(second.Messages) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(second.Messages))
	}
	if want := t0.Add(40 * time.Second); !second.ScheduledResponseAt.Equal(want) {
		t.Errorf("Expected scheduled at %v, got %v", want, second.ScheduledResponseAt)
	}
	if got := second.CombinedContent(); got != "Hi\nAre you open?" {
		t.Errorf("Expected combined content, got %q", got)
	}
}

func TestBufferUsecase_AddToBuffer_NewBufferAfterTerminal(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	uc, bufferRepo := newTestBufferUsecase(&clock)

	req := domain.AppendRequest{ConversationID: "c1", Content: "Hi"}
	first, _, _ := uc.AddToBuffer(ctx, req)
	if err := bufferRepo.Complete(ctx, first.ID, clock); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	second, created, err := uc.AddToBuffer(ctx, req)
	if err != nil {
		t.Fatalf("AddToBuffer failed: %v", err)
	}
	if !created || second.ID == first.ID {
		t.Error("Expected a new buffer after the previous one completed")
	}
	if len(second.Messages) != 1 {
		t.Errorf("Expected 1 message, got %d", len(second.Messages))
	}
}

func TestBufferUsecase_AddToBuffer_Validation(t *testing.T) {
	clock := time.Now()
	uc, _ := newTestBufferUsecase(&clock)

	if _, _, err := uc.AddToBuffer(context.Background(), domain.AppendRequest{Content: "Hi"}); err == nil {
		t.Error("Expected error for missing conversation id")
	}
	if _, _, err := uc.AddToBuffer(context.Background(), domain.AppendRequest{ConversationID: "c1", Content: "  "}); err == nil {
		t.Error("Expected error for blank content")
	}
}

func TestBufferUsecase_ReclaimStale(t *testing.T) {
	ctx := context.Background()
	t0 := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	clock := t0
	uc, bufferRepo := newTestBufferUsecase(&clock)

	buf, _, _ := uc.AddToBuffer(ctx, domain.AppendRequest{ConversationID: "c1", Content: "Hi"})
	if _, err := bufferRepo.Claim(ctx, buf.ID, t0); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}

	clock = t0.Add(5 * time.Minute)
	n, _ := uc.ReclaimStale(ctx)
	if n != 0 {
		t.Errorf("Expected nothing reclaimed before the timeout, got %d", n)
	}

	clock = t0.Add(11 * time.Minute)
	n, _ = uc.ReclaimStale(ctx)
	if n != 1 {
		t.Errorf("Expected 1 reclaimed buffer, got %d", n)
	}
	got, _ := bufferRepo.Get(ctx, buf.ID)
	if got.Status != domain.BufferStatusFailed || got.LastError != "abandoned" {
		t.Errorf("Expected failed/abandoned, got %s/%s", got.Status, got.LastError)
	}
}
