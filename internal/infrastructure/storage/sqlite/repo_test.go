package sqlite

import (
	"context"
	"os"
	"testing"

	"marketpulse/internal/domain/model"
)

func TestSQLiteRepoUpsertLatestPrice(t *testing.T) {
	dbPath := "test.db"
	defer os.Remove(dbPath)

	repo, err := New(dbPath)
	if err != nil {
		t.Fatalf("failed to create repo: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	if err := repo.UpsertLatestPrice(ctx, "BTCUSDT", 45000.0, 1700000000000); err != nil {
		t.Fatalf("UpsertLatestPrice failed: %v", err)
	}
	// second upsert for the same symbol must not violate uniqueness
	if err := repo.UpsertLatestPrice(ctx, "BTCUSDT", 45100.0, 1700000001000); err != nil {
		t.Fatalf("second UpsertLatestPrice failed: %v", err)
	}
}

func TestSQLiteRepoAlertEvents(t *testing.T) {
	dbPath := "test_events.db"
	defer os.Remove(dbPath)

	repo, err := New(dbPath)
	if err != nil {
		t.Fatalf("failed to create repo: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	events := []*model.AlertEvent{
		{RuleID: "r1", RuleType: model.RulePriceChange, Symbol: "BTCUSDT", Metric: 6.2, Message: "BTCUSDT: 24h price change 6.20%", Timestamp: 1700000000000},
		{RuleID: "r2", RuleType: model.RuleFunding, Symbol: "ETHUSDT", Metric: 0.0005, Message: "ETHUSDT: funding 0.0500%", Timestamp: 1700000060000},
	}
	for _, ev := range events {
		if err := repo.InsertAlertEvent(ctx, ev); err != nil {
			t.Fatalf("InsertAlertEvent failed: %v", err)
		}
	}

	got, err := repo.ListAlertEvents(ctx, 10)
	if err != nil {
		t.Fatalf("ListAlertEvents failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[0].RuleID != "r2" {
		t.Errorf("expected newest event first, got %s", got[0].RuleID)
	}
	if got[1].Symbol != "BTCUSDT" || got[1].Metric != 6.2 {
		t.Errorf("event round-trip mismatch: %+v", got[1])
	}
}
