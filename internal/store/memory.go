package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Egles-vieira/fernandes-surgical-crm-sub000/internal/model"
)

// Memory is an in-process Store used by tests and the dev mode. It mirrors
// the claim and compare-and-set semantics of the Postgres implementation.
type Memory struct {
	mu            sync.Mutex
	accounts      map[string]*model.Account
	contacts      map[string]*model.Contact
	conversations map[string]*model.Conversation
	messages      map[string]*model.Message
	order         map[string]int
	seq           int
}

func NewMemory() *Memory {
	return &Memory{
		accounts:      map[string]*model.Account{},
		contacts:      map[string]*model.Contact{},
		conversations: map[string]*model.Conversation{},
		messages:      map[string]*model.Message{},
		order:         map[string]int{},
	}
}

var _ Store = (*Memory)(nil)

// AddAccount seeds an account. Accounts are created by the configuration
// flow, which is outside the engine.
func (s *Memory) AddAccount(a model.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := a
	s.accounts[a.ID] = &cp
}

func (s *Memory) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *Memory) SetAccountStatus(ctx context.Context, id string, status model.ConnectionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return ErrNotFound
	}
	a.Status = status
	return nil
}

func (s *Memory) GetContact(ctx context.Context, id string) (*model.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *Memory) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *Memory) EnsureConversation(ctx context.Context, accountID, phone, name string) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var contact *model.Contact
	for _, c := range s.contacts {
		if c.AccountID == accountID && c.Phone == phone {
			contact = c
			break
		}
	}
	if contact == nil {
		contact = &model.Contact{ID: uuid.NewString(), AccountID: accountID, Phone: phone, Name: name}
		s.contacts[contact.ID] = contact
	} else if name != "" && contact.Name == "" {
		contact.Name = name
	}

	for _, conv := range s.conversations {
		if conv.AccountID == accountID && conv.ContactID == contact.ID {
			cp := *conv
			return &cp, nil
		}
	}

	conv := &model.Conversation{
		ID:        uuid.NewString(),
		AccountID: accountID,
		ContactID: contact.ID,
		Status:    model.Open,
	}
	s.conversations[conv.ID] = conv
	cp := *conv
	return &cp, nil
}

func (s *Memory) TouchOutbound(ctx context.Context, conversationID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return ErrNotFound
	}
	if at.After(conv.LastMessageAt) {
		conv.LastMessageAt = at
	}
	return nil
}

func (s *Memory) TouchInbound(ctx context.Context, conversationID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return ErrNotFound
	}
	if at.After(conv.LastMessageAt) {
		conv.LastMessageAt = at
	}
	if conv.LastInboundAt == nil || at.After(*conv.LastInboundAt) {
		t := at
		conv.LastInboundAt = &t
	}
	return nil
}

func (s *Memory) CreateMessage(ctx context.Context, m *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *m
	cp.Reactions = append([]model.Reaction(nil), m.Reactions...)
	s.messages[m.ID] = &cp
	s.seq++
	s.order[m.ID] = s.seq
	return nil
}

func (s *Memory) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(id)
}

func (s *Memory) getLocked(id string) (*model.Message, error) {
	m, ok := s.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	cp.Reactions = append([]model.Reaction(nil), m.Reactions...)
	return &cp, nil
}

func (s *Memory) GetMessageByProviderID(ctx context.Context, providerMessageID string) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, m := range s.messages {
		if m.ProviderMessageID == providerMessageID {
			return s.getLocked(id)
		}
	}
	return nil, ErrNotFound
}

func (s *Memory) ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Message
	for _, m := range s.messages {
		if m.ConversationID == conversationID {
			cp := *m
			cp.Reactions = append([]model.Reaction(nil), m.Reactions...)
			out = append(out, cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return s.order[out[i].ID] < s.order[out[j].ID]
	})

	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Memory) ClaimPending(ctx context.Context, limit int, now time.Time) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inFlight := map[string]bool{}
	oldestPending := map[string]string{}
	for id, m := range s.messages {
		if m.Direction != model.Outbound {
			continue
		}
		switch m.Status {
		case model.Sending:
			inFlight[m.ConversationID] = true
		case model.Pending:
			cur, ok := oldestPending[m.ConversationID]
			if !ok || s.order[id] < s.order[cur] {
				oldestPending[m.ConversationID] = id
			}
		}
	}

	var claimable []string
	for convID, id := range oldestPending {
		if inFlight[convID] {
			continue
		}
		m := s.messages[id]
		if m.NextAttemptAt != nil && m.NextAttemptAt.After(now) {
			continue
		}
		claimable = append(claimable, id)
	}
	sort.Slice(claimable, func(i, j int) bool {
		return s.order[claimable[i]] < s.order[claimable[j]]
	})
	if limit > 0 && len(claimable) > limit {
		claimable = claimable[:limit]
	}

	var out []model.Message
	for _, id := range claimable {
		m := s.messages[id]
		m.Status = model.Sending
		m.UpdatedAt = now
		cp := *m
		out = append(out, cp)
	}
	return out, nil
}

func (s *Memory) MarkSent(ctx context.Context, id, providerMessageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return ErrNotFound
	}
	m.ProviderMessageID = providerMessageID
	// A delivered/read receipt may have landed before this write; never
	// regress it.
	if m.Status.Advances(model.Sent) {
		m.Status = model.Sent
	}
	m.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Memory) ScheduleRetry(ctx context.Context, id string, nextAttemptAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return ErrNotFound
	}
	if m.Status != model.Sending {
		return nil
	}
	m.Status = model.Pending
	m.AttemptCount++
	t := nextAttemptAt
	m.NextAttemptAt = &t
	m.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Memory) MarkErrored(ctx context.Context, id string, info model.ErrorInfo, failedAt time.Time, consumeAttempt bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return ErrNotFound
	}
	m.Status = model.Errored
	cp := info
	m.Error = &cp
	t := failedAt
	m.FailedAt = &t
	if consumeAttempt {
		m.AttemptCount++
	}
	m.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Memory) AdvanceStatus(ctx context.Context, id string, status model.Status) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return false, ErrNotFound
	}
	if !m.Status.Advances(status) {
		return false, nil
	}
	m.Status = status
	m.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *Memory) ResetForResend(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return ErrNotFound
	}
	m.Status = model.Pending
	m.Error = nil
	m.FailedAt = nil
	m.AttemptCount = 0
	m.NextAttemptAt = nil
	m.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Memory) SetReaction(ctx context.Context, id, actor, emoji string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return ErrNotFound
	}

	kept := m.Reactions[:0]
	for _, r := range m.Reactions {
		if r.Actor != actor {
			kept = append(kept, r)
		}
	}
	m.Reactions = kept
	if emoji != "" {
		m.Reactions = append(m.Reactions, model.Reaction{Emoji: emoji, Actor: actor})
	}
	m.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Memory) ApplyEdit(ctx context.Context, id, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return ErrNotFound
	}
	m.Body = body
	m.Edited = true
	m.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Memory) Tombstone(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return false, ErrNotFound
	}
	if m.Deleted {
		return false, nil
	}
	m.Deleted = true
	m.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *Memory) MarkConversationRead(ctx context.Context, conversationID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, m := range s.messages {
		if m.ConversationID == conversationID && m.Direction == model.Inbound && m.Status == model.Received {
			m.Status = model.Read
			m.UpdatedAt = time.Now().UTC()
			n++
		}
	}
	return n, nil
}
