package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"polity/engine/internal/poll"
	"polity/engine/internal/store"
)

// memStore backs every scheduler port with in-memory state. The *Fn fields
// override single operations to inject failures or block.
type memStore struct {
	mu sync.Mutex

	tenants  []store.Tenant
	polls    map[string]poll.Poll
	order    []string
	votes    map[string][]poll.Vote
	weights  map[string]map[string]float64
	initial  map[string]map[string]float64
	members  map[string][]string
	policies map[string]poll.PolicyStatus
	policyOf map[string]string
	settings map[string]string
	notified map[string]time.Time

	getActivePollsFn func(context.Context) ([]poll.Poll, error)
	endPollFn        func(context.Context, string, time.Time) error
	setResultFn      func(context.Context, string, string) error
	addPollFn        func(context.Context, poll.Poll) error
}

func newMemStore() *memStore {
	return &memStore{
		polls:    map[string]poll.Poll{},
		votes:    map[string][]poll.Vote{},
		weights:  map[string]map[string]float64{},
		initial:  map[string]map[string]float64{},
		members:  map[string][]string{},
		policies: map[string]poll.PolicyStatus{},
		policyOf: map[string]string{},
		settings: map[string]string{},
		notified: map[string]time.Time{},
	}
}

func (m *memStore) addTenant(id string, members ...string) {
	m.tenants = append(m.tenants, store.Tenant{ID: id, Name: id})
	m.members[id] = members
}

func (m *memStore) put(p poll.Poll) {
	id := p.Info().ID
	if _, ok := m.polls[id]; !ok {
		m.order = append(m.order, id)
	}
	m.polls[id] = p
}

func (m *memStore) vote(pollID, voterID string, votedFor string, value int) {
	vote := poll.Vote{PollID: pollID, VoterID: voterID, Value: value}
	if votedFor != "" {
		target := votedFor
		vote.VotedFor = &target
	}
	m.votes[pollID] = append(m.votes[pollID], vote)
}

func (m *memStore) poll(id string) poll.Meta {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.polls[id].Info()
}

func (m *memStore) GetActivePolls(ctx context.Context) ([]poll.Poll, error) {
	if m.getActivePollsFn != nil {
		return m.getActivePollsFn(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var active []poll.Poll
	for _, id := range m.order {
		if p := m.polls[id]; p.Info().Active {
			active = append(active, p)
		}
	}
	return active, nil
}

func (m *memStore) GetUnresolvedPolls(context.Context) ([]poll.Poll, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var unresolved []poll.Poll
	for _, id := range m.order {
		if p := m.polls[id]; !p.Info().Active && p.Info().Result == "" {
			unresolved = append(unresolved, p)
		}
	}
	return unresolved, nil
}

func (m *memStore) EndPoll(ctx context.Context, pollID string, at time.Time) error {
	if m.endPollFn != nil {
		if err := m.endPollFn(ctx, pollID, at); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.polls[pollID]
	meta := p.Info()
	if !meta.Active {
		return nil
	}
	meta.Active = false
	meta.Deadline = at
	m.polls[pollID], _ = poll.FromRecord(p.Kind(), meta)
	return nil
}

func (m *memStore) SetResult(ctx context.Context, pollID, result string) error {
	if m.setResultFn != nil {
		return m.setResultFn(ctx, pollID, result)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.polls[pollID]
	meta := p.Info()
	if meta.Result != "" {
		return nil
	}
	meta.Result = result
	m.polls[pollID], _ = poll.FromRecord(p.Kind(), meta)
	return nil
}

func (m *memStore) GetVotesFor(_ context.Context, pollID string) ([]poll.Vote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]poll.Vote(nil), m.votes[pollID]...), nil
}

func (m *memStore) CountDistinctVoters(_ context.Context, pollID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return poll.DistinctVoters(m.votes[pollID]), nil
}

func (m *memStore) MarkAboutToEnd(_ context.Context, pollID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.polls[pollID]
	meta := p.Info()
	if meta.AboutToEndNotifiedAt != nil {
		return nil
	}
	meta.AboutToEndNotifiedAt = &at
	m.notified[pollID] = at
	m.polls[pollID], _ = poll.FromRecord(p.Kind(), meta)
	return nil
}

func (m *memStore) LatestEndedAuthorityPoll(_ context.Context, tenantID string) (poll.Poll, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest poll.Poll
	for _, id := range m.order {
		p := m.polls[id]
		meta := p.Info()
		if meta.TenantID != tenantID || p.Kind() != poll.KindAuthority || meta.Active {
			continue
		}
		if latest == nil || meta.Deadline.After(latest.Info().Deadline) {
			latest = p
		}
	}
	return latest, nil
}

func (m *memStore) ListTenants(context.Context) ([]store.Tenant, error) {
	return m.tenants, nil
}

func (m *memStore) GetPollsSince(_ context.Context, tenantID string, since time.Time) ([]poll.Poll, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var polls []poll.Poll
	for _, id := range m.order {
		p := m.polls[id]
		meta := p.Info()
		if meta.TenantID == tenantID && !meta.Deadline.Before(since) {
			polls = append(polls, p)
		}
	}
	return polls, nil
}

func (m *memStore) CountPolls(_ context.Context, tenantID string, kind poll.Kind) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, p := range m.polls {
		if p.Info().TenantID == tenantID && p.Kind() == kind {
			count++
		}
	}
	return count, nil
}

func (m *memStore) AddPoll(ctx context.Context, p poll.Poll) error {
	if m.addPollFn != nil {
		return m.addPollFn(ctx, p)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(p)
	return nil
}

func (m *memStore) GetAuthorityWeights(_ context.Context, tenantID string) (map[string]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]float64, len(m.weights[tenantID]))
	for id, weight := range m.weights[tenantID] {
		out[id] = weight
	}
	return out, nil
}

func (m *memStore) SetAuthorityWeights(_ context.Context, tenantID string, weights map[string]float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := make(map[string]float64, len(weights))
	for id := range m.weights[tenantID] {
		next[id] = 0
	}
	for id, weight := range weights {
		next[id] = weight
	}
	m.weights[tenantID] = next
	return nil
}

func (m *memStore) GetInitialAuthorityWeights(_ context.Context, tenantID string) (map[string]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initial[tenantID], nil
}

func (m *memStore) ActiveUserIDs(_ context.Context, tenantID string) ([]string, error) {
	ids := append([]string(nil), m.members[tenantID]...)
	sort.Strings(ids)
	return ids, nil
}

func (m *memStore) CountConfirmedUsers(_ context.Context, tenantID string) (int, error) {
	return len(m.members[tenantID]), nil
}

func (m *memStore) CountVoters(_ context.Context, tenantID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, weight := range m.weights[tenantID] {
		if weight > 0 {
			count++
		}
	}
	return count, nil
}

func (m *memStore) AcceptPolicy(_ context.Context, policyID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tenantID := m.policyOf[policyID]
	for id, status := range m.policies {
		if id != policyID && m.policyOf[id] == tenantID && status == poll.PolicyActive {
			m.policies[id] = poll.PolicyOverridden
		}
	}
	m.policies[policyID] = poll.PolicyActive
	return nil
}

func (m *memStore) RejectPolicy(_ context.Context, policyID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.policies[policyID] == poll.PolicyVoting {
		m.policies[policyID] = poll.PolicyRejected
	}
	return nil
}

func (m *memStore) TenantSetting(_ context.Context, _, key string) (string, bool, error) {
	value, ok := m.settings[key]
	return value, ok, nil
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type sentEvent struct {
	event  poll.Event
	pollID string
	result string
}

type recordingSink struct {
	mu     sync.Mutex
	events []sentEvent
}

func (r *recordingSink) Notify(_ context.Context, event poll.Event, p poll.Poll) {
	r.mu.Lock()
	defer r.mu.Unlock()
	meta := p.Info()
	r.events = append(r.events, sentEvent{event: event, pollID: meta.ID, result: meta.Result})
}

func (r *recordingSink) sent() []sentEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sentEvent(nil), r.events...)
}
