package store

import (
	"context"
	"sync"
	"testing"
)

func TestCreateAndGetKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.CreateKey(ctx, "primary", "AIzaSy-test-value")
	if err != nil {
		t.Fatalf("CreateKey() error = %v", err)
	}
	if created.ID == "" {
		t.Fatal("CreateKey() returned empty id")
	}
	if !created.IsActive || created.UsageCount != 0 || created.LastUsed != nil {
		t.Fatalf("CreateKey() = %+v, want active key with zero usage", created)
	}

	got, err := s.GetKey(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetKey() error = %v", err)
	}
	if got == nil {
		t.Fatal("GetKey() = nil, want key")
	}
	if got.Name != "primary" || got.KeyValue != "AIzaSy-test-value" {
		t.Fatalf("GetKey() = %+v", got)
	}
	if !got.CreatedAt.Equal(created.CreatedAt) {
		t.Fatalf("created_at round trip = %v, want %v", got.CreatedAt, created.CreatedAt)
	}
}

func TestGetKeyMissing(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetKey(context.Background(), "no-such-id")
	if err != nil {
		t.Fatalf("GetKey() error = %v", err)
	}
	if got != nil {
		t.Fatalf("GetKey() = %+v, want nil", got)
	}
}

func TestUpdateKeyPartial(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	key, err := s.CreateKey(ctx, "old-name", "value")
	if err != nil {
		t.Fatalf("CreateKey() error = %v", err)
	}

	name := "new-name"
	updated, err := s.UpdateKey(ctx, key.ID, KeyUpdate{Name: &name})
	if err != nil {
		t.Fatalf("UpdateKey() error = %v", err)
	}
	if updated.Name != "new-name" {
		t.Fatalf("name = %q, want %q", updated.Name, "new-name")
	}
	if !updated.IsActive {
		t.Fatal("untouched is_active flipped")
	}

	inactive := false
	updated, err = s.UpdateKey(ctx, key.ID, KeyUpdate{IsActive: &inactive})
	if err != nil {
		t.Fatalf("UpdateKey() error = %v", err)
	}
	if updated.IsActive {
		t.Fatal("is_active not cleared")
	}
	if updated.Name != "new-name" {
		t.Fatalf("untouched name changed to %q", updated.Name)
	}

	// Empty update is a no-op read-back.
	updated, err = s.UpdateKey(ctx, key.ID, KeyUpdate{})
	if err != nil {
		t.Fatalf("UpdateKey() error = %v", err)
	}
	if updated == nil || updated.Name != "new-name" || updated.IsActive {
		t.Fatalf("empty update = %+v", updated)
	}
}

func TestUpdateKeyMissing(t *testing.T) {
	s := newTestStore(t)
	name := "x"
	got, err := s.UpdateKey(context.Background(), "no-such-id", KeyUpdate{Name: &name})
	if err != nil {
		t.Fatalf("UpdateKey() error = %v", err)
	}
	if got != nil {
		t.Fatalf("UpdateKey() = %+v, want nil", got)
	}
}

func TestDeleteKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	key, err := s.CreateKey(ctx, "doomed", "value")
	if err != nil {
		t.Fatalf("CreateKey() error = %v", err)
	}

	deleted, err := s.DeleteKey(ctx, key.ID)
	if err != nil {
		t.Fatalf("DeleteKey() error = %v", err)
	}
	if !deleted {
		t.Fatal("DeleteKey() = false, want true")
	}

	deleted, err = s.DeleteKey(ctx, key.ID)
	if err != nil {
		t.Fatalf("DeleteKey() second call error = %v", err)
	}
	if deleted {
		t.Fatal("DeleteKey() on missing key = true, want false")
	}
}

func TestIncrementUsageConcurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	key, err := s.CreateKey(ctx, "busy", "value")
	if err != nil {
		t.Fatalf("CreateKey() error = %v", err)
	}

	const workers = 20
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.IncrementUsage(ctx, key.ID)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("IncrementUsage() error = %v", err)
		}
	}

	got, err := s.GetKey(ctx, key.ID)
	if err != nil {
		t.Fatalf("GetKey() error = %v", err)
	}
	if got.UsageCount != workers {
		t.Fatalf("usage_count = %d, want %d", got.UsageCount, workers)
	}
	if got.LastUsed == nil {
		t.Fatal("last_used not stamped")
	}
}

func TestActiveKeysOrdered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	fresh, err := s.CreateKey(ctx, "fresh", "v1")
	if err != nil {
		t.Fatalf("CreateKey() error = %v", err)
	}
	worn, err := s.CreateKey(ctx, "worn", "v2")
	if err != nil {
		t.Fatalf("CreateKey() error = %v", err)
	}
	retired, err := s.CreateKey(ctx, "retired", "v3")
	if err != nil {
		t.Fatalf("CreateKey() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		if err = s.IncrementUsage(ctx, worn.ID); err != nil {
			t.Fatalf("IncrementUsage() error = %v", err)
		}
	}
	if err = s.MarkKeyFailed(ctx, retired.ID); err != nil {
		t.Fatalf("MarkKeyFailed() error = %v", err)
	}

	keys, err := s.ActiveKeysOrdered(ctx)
	if err != nil {
		t.Fatalf("ActiveKeysOrdered() error = %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("len(keys) = %d, want 2", len(keys))
	}
	if keys[0].ID != fresh.ID {
		t.Fatalf("first key = %s, want never-used key %s", keys[0].Name, fresh.Name)
	}
	if keys[1].ID != worn.ID {
		t.Fatalf("second key = %s, want %s", keys[1].Name, worn.Name)
	}
}

func TestListKeysPage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := s.CreateKey(ctx, "key", "value"); err != nil {
			t.Fatalf("CreateKey() error = %v", err)
		}
	}

	keys, total, err := s.ListKeysPage(ctx, 1, 2)
	if err != nil {
		t.Fatalf("ListKeysPage() error = %v", err)
	}
	if total != 5 {
		t.Fatalf("total = %d, want 5", total)
	}
	if len(keys) != 2 {
		t.Fatalf("len(keys) = %d, want 2", len(keys))
	}

	keys, _, err = s.ListKeysPage(ctx, 3, 2)
	if err != nil {
		t.Fatalf("ListKeysPage() error = %v", err)
	}
	if len(keys) != 1 {
		t.Fatalf("last page len = %d, want 1", len(keys))
	}

	// Out-of-range inputs clamp rather than fail.
	keys, _, err = s.ListKeysPage(ctx, 0, MaxKeysPerPage+1)
	if err != nil {
		t.Fatalf("ListKeysPage() error = %v", err)
	}
	if len(keys) != 5 {
		t.Fatalf("clamped page len = %d, want 5", len(keys))
	}
}
