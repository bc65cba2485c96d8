package scheduler

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"polity/engine/internal/lock"
	"polity/engine/internal/poll"
	"polity/engine/internal/settings"
)

func newAuthorityPollScheduler(m *memStore, sink *recordingSink) *AuthorityPollScheduler {
	return &AuthorityPollScheduler{
		Polls:    m,
		Settings: settings.NewProvider(m),
		Locker:   lock.NewLocal(),
		Notifier: sink,
		Clock:    fixedClock{now: t0},
		LockWait: 20 * time.Millisecond,
	}
}

func endedAuthorityPoll(id string, deadline time.Time) poll.AuthorityPoll {
	meta := activeMeta(id, deadline)
	meta.Active = false
	meta.Result = poll.ResultCompleted
	return poll.AuthorityPoll{Meta: meta}
}

func TestAuthorityPollStartsAfterVotingFrequency(t *testing.T) {
	m := newMemStore()
	m.addTenant("t1", "a", "b", "c")
	m.settings[settings.KeyLanguage] = "de"
	m.settings[settings.KeyVotingDuration] = "48"
	m.put(endedAuthorityPoll("auth_1", t0.Add(-91*24*time.Hour)))

	sink := &recordingSink{}
	report, err := newAuthorityPollScheduler(m, sink).RunAuthorityPollStartPass(context.Background())
	if err != nil {
		t.Fatalf("RunAuthorityPollStartPass: %v", err)
	}
	if report.Started != 1 || report.Processed != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}

	var created poll.Meta
	for _, id := range m.order {
		if p := m.polls[id]; p.Kind() == poll.KindAuthority && p.Info().Active {
			created = p.Info()
		}
	}
	if !strings.HasPrefix(created.ID, "poll_") {
		t.Fatalf("unexpected poll id %q", created.ID)
	}
	if created.Name != "Autoritätsumfrage #2" {
		t.Fatalf("name = %q", created.Name)
	}
	if !created.CreatedAt.Equal(t0) || !created.Deadline.Equal(t0.Add(48*time.Hour)) {
		t.Fatalf("unexpected window %v - %v", created.CreatedAt, created.Deadline)
	}

	events := sink.sent()
	if len(events) != 1 || events[0].event != poll.EventStarted || events[0].pollID != created.ID {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestAuthorityPollNotStartedWhenNotDue(t *testing.T) {
	cases := []struct {
		name  string
		setup func(m *memStore)
	}{
		{
			name:  "no authority poll ever ended",
			setup: func(*memStore) {},
		},
		{
			name: "frequency not yet elapsed",
			setup: func(m *memStore) {
				m.put(endedAuthorityPoll("auth_1", t0.Add(-10*24*time.Hour)))
			},
		},
		{
			name: "next poll already scheduled",
			setup: func(m *memStore) {
				m.put(endedAuthorityPoll("auth_1", t0.Add(-91*24*time.Hour)))
				m.put(poll.AuthorityPoll{Meta: activeMeta("auth_2", t0.Add(5*time.Hour))})
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := newMemStore()
			m.addTenant("t1", "a")
			tc.setup(m)
			before := len(m.polls)

			sink := &recordingSink{}
			report, err := newAuthorityPollScheduler(m, sink).RunAuthorityPollStartPass(context.Background())
			if err != nil {
				t.Fatalf("RunAuthorityPollStartPass: %v", err)
			}
			if report.Started != 0 || len(m.polls) != before || len(sink.sent()) != 0 {
				t.Fatalf("expected no new poll, report %+v", report)
			}
		})
	}
}

func TestAuthorityPollStartReportsStoreFailure(t *testing.T) {
	m := newMemStore()
	m.addTenant("t1", "a")
	m.addTenant("t2", "b")
	m.put(endedAuthorityPoll("auth_1", t0.Add(-91*24*time.Hour)))
	boom := errors.New("insert failed")
	m.addPollFn = func(context.Context, poll.Poll) error { return boom }

	sink := &recordingSink{}
	_, err := newAuthorityPollScheduler(m, sink).RunAuthorityPollStartPass(context.Background())
	var jobErr *JobError
	if !errors.As(err, &jobErr) || !errors.Is(err, boom) {
		t.Fatalf("expected wrapped *JobError, got %v", err)
	}
	if jobErr.Job != JobAuthorityPoll || jobErr.TenantID != "t1" || !strings.HasPrefix(jobErr.PollID, "poll_") {
		t.Fatalf("unexpected job error: %+v", jobErr)
	}
	if len(sink.sent()) != 0 {
		t.Fatal("no event may be emitted for a poll that was not stored")
	}
}

func TestAuthorityPollPassSkipsWhileLocked(t *testing.T) {
	m := newMemStore()
	locker := lock.NewLocal()
	held, ok, err := locker.TryAcquire(context.Background(), 0)
	if err != nil || !ok {
		t.Fatalf("TryAcquire = %v, %v", ok, err)
	}
	defer held.Release(context.Background())

	s := newAuthorityPollScheduler(m, &recordingSink{})
	s.Locker = locker
	report, err := s.RunAuthorityPollStartPass(context.Background())
	if err != nil || !report.Skipped {
		t.Fatalf("report = %+v, err = %v; want skipped", report, err)
	}
}

func TestAuthorityPollName(t *testing.T) {
	cases := map[string]string{
		"en": "Authority Poll #3",
		"de": "Autoritätsumfrage #3",
		"fr": "Sondage d'autorité #3",
		"es": "Authority Poll #3",
	}
	for language, want := range cases {
		if got := AuthorityPollName(language, 3); got != want {
			t.Fatalf("AuthorityPollName(%q) = %q, want %q", language, got, want)
		}
	}
}
