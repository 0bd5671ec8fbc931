package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/remote-agent-terminal/gateway/internal/db"
	"github.com/remote-agent-terminal/gateway/internal/events"
	"github.com/remote-agent-terminal/gateway/internal/model"
)

func newTestRepo(t *testing.T) *EventRepository {
	t.Helper()
	testDB, err := db.NewTestDB()
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	t.Cleanup(func() { testDB.Close() })
	return NewEventRepository(testDB)
}

func TestEventRepository_InsertAndList(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	id := model.NewSessionID()
	code := 0
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	evts := []events.Event{
		{Type: events.TypeSessionCreated, SessionID: id, OwnerID: "alice", At: at},
		{Type: events.TypeSessionStarted, SessionID: id, OwnerID: "alice", At: at.Add(time.Second)},
		{Type: events.TypeSessionTerminated, SessionID: id, OwnerID: "alice", Reason: model.ReasonProcessExited, ExitCode: &code, At: at.Add(2 * time.Second)},
		{Type: events.TypeSessionCreated, SessionID: model.NewSessionID(), OwnerID: "bob", At: at},
	}
	for _, e := range evts {
		if err := repo.Handle(ctx, e); err != nil {
			t.Fatalf("Handle failed: %v", err)
		}
	}

	got, err := repo.ListBySession(ctx, id)
	if err != nil {
		t.Fatalf("ListBySession failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Expected 3 events, got %d", len(got))
	}
	if got[2].Reason != model.ReasonProcessExited {
		t.Errorf("Expected reason %q, got %q", model.ReasonProcessExited, got[2].Reason)
	}
	if got[2].ExitCode == nil || *got[2].ExitCode != 0 {
		t.Errorf("Expected exit code 0, got %v", got[2].ExitCode)
	}
	if got[0].ExitCode != nil || got[0].Reason != "" {
		t.Errorf("Expected no reason or exit code on created event, got %+v", got[0])
	}
	if !got[1].At.Equal(at.Add(time.Second)) {
		t.Errorf("Expected timestamp %v, got %v", at.Add(time.Second), got[1].At)
	}

	count, err := repo.CountByType(ctx, events.TypeSessionCreated)
	if err != nil {
		t.Fatalf("CountByType failed: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected 2 created events, got %d", count)
	}

	if err := repo.DeleteBySession(ctx, id); err != nil {
		t.Fatalf("DeleteBySession failed: %v", err)
	}
	got, _ = repo.ListBySession(ctx, id)
	if len(got) != 0 {
		t.Errorf("Expected no events after delete, got %d", len(got))
	}
}

func TestOpen_CreatesFileDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "events.db")
	conn, err := db.Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer conn.Close()

	repo := NewEventRepository(conn)
	if err := repo.Insert(context.Background(), events.Event{Type: events.TypeSessionCreated, SessionID: "s", OwnerID: "o"}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
}

// Every recorded event is listed back for its session, in order, with its
// type and reason intact.
func TestEventHistoryProperty(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	types := []events.Type{events.TypeSessionCreated, events.TypeSessionStarted, events.TypeSessionTerminated}
	reasons := []model.TerminationReason{"", model.ReasonUserRequested, model.ReasonTimeout, model.ReasonProcessError}

	properties.Property("events round-trip per session in insertion order", prop.ForAll(
		func(owner string, typeIdx []int, reasonIdx int) bool {
			id := model.NewSessionID()
			var want []events.Event
			for _, ti := range typeIdx {
				evt := events.Event{
					Type:      types[ti],
					SessionID: id,
					OwnerID:   owner,
					Reason:    reasons[reasonIdx],
					At:        time.Now(),
				}
				if err := repo.Insert(ctx, evt); err != nil {
					return false
				}
				want = append(want, evt)
			}

			got, err := repo.ListBySession(ctx, id)
			if err != nil || len(got) != len(want) {
				return false
			}
			for i := range want {
				if got[i].Type != want[i].Type || got[i].OwnerID != owner || got[i].Reason != want[i].Reason {
					return false
				}
			}
			return true
		},
		gen.AlphaString(),
		gen.SliceOf(gen.IntRange(0, 2)),
		gen.IntRange(0, 3),
	))

	properties.TestingRun(t)
}
