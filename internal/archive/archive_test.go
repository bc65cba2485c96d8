package archive

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"polity/engine/internal/poll"
)

type memWriter struct {
	objects map[string][]byte
	err     error
}

func (w *memWriter) PutJSON(_ context.Context, key string, body []byte) error {
	if w.err != nil {
		return w.err
	}
	w.objects[key] = body
	return nil
}

func TestObjectKey(t *testing.T) {
	if got, want := ObjectKey("t1", "poll_9"), "tenants/t1/polls/poll_9.json"; got != want {
		t.Fatalf("ObjectKey = %q, want %q", got, want)
	}
}

func TestStoreWritesSnapshot(t *testing.T) {
	archivedAt := time.Date(2024, 7, 1, 8, 0, 0, 0, time.UTC)
	policyID := "policy_1"
	p := poll.PolicyChangePoll{Meta: poll.Meta{
		ID:        "poll_9",
		TenantID:  "t1",
		Name:      "New bylaws",
		CreatedAt: archivedAt.Add(-48 * time.Hour),
		Deadline:  archivedAt.Add(-time.Hour),
		Result:    poll.ResultPositive,
		PolicyID:  &policyID,
	}}

	writer := &memWriter{objects: map[string][]byte{}}
	sink := &Sink{Writer: writer, Now: func() time.Time { return archivedAt }}
	sink.store(context.Background(), p)

	body, ok := writer.objects["tenants/t1/polls/poll_9.json"]
	if !ok {
		t.Fatalf("snapshot not written: %v", writer.objects)
	}
	var snapshot Snapshot
	if err := json.Unmarshal(body, &snapshot); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snapshot.Kind != "policy_change" || snapshot.Result != poll.ResultPositive || snapshot.PolicyID != policyID {
		t.Fatalf("unexpected snapshot: %+v", snapshot)
	}
	if !snapshot.ArchivedAt.Equal(archivedAt) || !snapshot.EndedAt.Equal(archivedAt.Add(-time.Hour)) {
		t.Fatalf("unexpected timestamps: %+v", snapshot)
	}
}

func TestStoreSurvivesWriterFailure(t *testing.T) {
	writer := &memWriter{objects: map[string][]byte{}, err: errors.New("bucket gone")}
	(&Sink{Writer: writer}).store(context.Background(), poll.SharePoll{Meta: poll.Meta{ID: "poll_1"}})
	if len(writer.objects) != 0 {
		t.Fatal("nothing should be stored on failure")
	}
}

func TestNotifyIgnoresOtherEvents(t *testing.T) {
	writer := &memWriter{objects: map[string][]byte{}}
	sink := &Sink{Writer: writer}
	sink.Notify(context.Background(), poll.EventStarted, poll.AuthorityPoll{})
	sink.Notify(context.Background(), poll.EventAboutToEnd, poll.AuthorityPoll{})
	if err := sink.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(writer.objects) != 0 {
		t.Fatalf("unexpected objects: %v", writer.objects)
	}
}

func TestNotifyUploadFinishesBeforeWaitReturns(t *testing.T) {
	writer := &memWriter{objects: map[string][]byte{}}
	sink := &Sink{Writer: writer}
	sink.Notify(context.Background(), poll.EventEnded, poll.SharePoll{Meta: poll.Meta{ID: "poll_3", TenantID: "t2"}})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := sink.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if _, ok := writer.objects["tenants/t2/polls/poll_3.json"]; !ok {
		t.Fatalf("snapshot missing after Wait: %v", writer.objects)
	}
}
