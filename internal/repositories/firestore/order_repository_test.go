package firestore

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/printdesk/api/internal/domain"
	"github.com/printdesk/api/internal/platform/config"
	pfirestore "github.com/printdesk/api/internal/platform/firestore"
)

func orderSnapshot(n int) pfirestore.Snapshot[domain.Order] {
	base := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
	snap := pfirestore.Snapshot[domain.Order]{ReadTime: base}
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("ord_%d", i)
		snap.Documents = append(snap.Documents, pfirestore.Document[domain.Order]{
			ID:   id,
			Data: domain.Order{ID: id, CreatedAt: base.Add(-time.Duration(i) * time.Hour)},
		})
	}
	return snap
}

func TestToBatchTrimsTheLookaheadRecord(t *testing.T) {
	batch := toBatch(orderSnapshot(4), 3)
	if !batch.Truncated {
		t.Fatalf("expected batch to report truncation")
	}
	if len(batch.Orders) != 3 || batch.Orders[2].ID != "ord_2" {
		t.Fatalf("expected the three newest orders, got %+v", batch.Orders)
	}
}

func TestToBatchWithinLimit(t *testing.T) {
	batch := toBatch(orderSnapshot(3), 3)
	if batch.Truncated || len(batch.Orders) != 3 {
		t.Fatalf("unexpected batch truncated=%v orders=%d", batch.Truncated, len(batch.Orders))
	}

	snap := orderSnapshot(2)
	snap.Failures = []*pfirestore.DecodeError{{DocumentID: "ord_bad", Err: errors.New("bad enum")}}
	batch = toBatch(snap, 3)
	if batch.Truncated || len(batch.Orders) != 2 || len(batch.Skipped) != 1 {
		t.Fatalf("unexpected batch %+v", batch)
	}
}

func TestWithOrderWatchLimit(t *testing.T) {
	repo, err := NewOrderRepository(pfirestore.NewProvider(config.FirestoreConfig{ProjectID: "test-project"}), "", WithOrderWatchLimit(500))
	if err != nil {
		t.Fatalf("NewOrderRepository: %v", err)
	}
	if repo.watchLimit != 500 {
		t.Fatalf("expected watch limit 500, got %d", repo.watchLimit)
	}

	repo, _ = NewOrderRepository(pfirestore.NewProvider(config.FirestoreConfig{ProjectID: "test-project"}), "", WithOrderWatchLimit(0))
	if repo.watchLimit != defaultWatchLimit {
		t.Fatalf("expected default watch limit, got %d", repo.watchLimit)
	}
}
