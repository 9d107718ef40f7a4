package service_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	appErrors "github.com/unclebandit/campaign-dispatcher/internal/errors"
	"github.com/unclebandit/campaign-dispatcher/internal/mailer"
	"github.com/unclebandit/campaign-dispatcher/internal/model"
)

// ---------- campaigns ----------

type finalized struct {
	Status              string
	Total, Sent, Failed int
}

type MockCampaignRepo struct {
	mu        sync.Mutex
	Due       []*model.Campaign
	Recent    []model.RecentCampaign
	All       []*model.Campaign
	Stats     map[string]int
	DueErr    error
	ClaimErr  error
	Claimed   map[uuid.UUID]bool
	Failed    map[uuid.UUID]bool
	Finalized map[uuid.UUID]finalized
	StaleCut  *time.Time
	Touched   map[uuid.UUID]int
}

func NewMockCampaignRepo(due ...*model.Campaign) *MockCampaignRepo {
	return &MockCampaignRepo{
		Due:       due,
		Claimed:   map[uuid.UUID]bool{},
		Failed:    map[uuid.UUID]bool{},
		Finalized: map[uuid.UUID]finalized{},
		Touched:   map[uuid.UUID]int{},
	}
}

func (m *MockCampaignRepo) ListDue(ctx context.Context, now time.Time) ([]*model.Campaign, error) {
	return m.Due, m.DueErr
}

func (m *MockCampaignRepo) ClaimForSending(ctx context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ClaimErr != nil {
		return false, m.ClaimErr
	}
	if m.Claimed[id] {
		return false, nil
	}
	m.Claimed[id] = true
	return true, nil
}

// Writes fail on a done context, as they do through *sql.DB.
func (m *MockCampaignRepo) MarkFailed(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Failed[id] = true
	return nil
}

func (m *MockCampaignRepo) Finalize(ctx context.Context, id uuid.UUID, status string, total, sent, failed int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Finalized[id] = finalized{Status: status, Total: total, Sent: sent, Failed: failed}
	return nil
}

func (m *MockCampaignRepo) ResetStale(ctx context.Context, olderThan time.Time) (int64, error) {
	m.StaleCut = &olderThan
	return 0, nil
}

func (m *MockCampaignRepo) Touch(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Touched[id]++
	return nil
}

func (m *MockCampaignRepo) ListRecent(ctx context.Context, limit int) ([]model.RecentCampaign, error) {
	return m.Recent, nil
}

func (m *MockCampaignRepo) ListCampaigns(ctx context.Context, offset, limit int, status string) ([]*model.Campaign, int, error) {
	all := m.All
	start := offset
	end := offset + limit
	if start >= len(all) {
		return []*model.Campaign{}, len(all), nil
	}
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], len(all), nil
}

func (m *MockCampaignRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Campaign, error) {
	for _, c := range append(m.All, m.Due...) {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, appErrors.NewCampaignNotFound(id)
}

func (m *MockCampaignRepo) GetSendStats(ctx context.Context, id uuid.UUID) (map[string]int, error) {
	return m.Stats, nil
}

// ---------- audiences ----------

type MockAudienceRepo struct {
	Audiences   map[uuid.UUID]*model.Audience
	Static      map[uuid.UUID][]model.Subscriber
	Subscribers []model.Subscriber
	Profiles    map[string][]uuid.UUID
	FailOn      map[uuid.UUID]bool
	OnGet       func()
}

func NewMockAudienceRepo() *MockAudienceRepo {
	return &MockAudienceRepo{
		Audiences: map[uuid.UUID]*model.Audience{},
		Static:    map[uuid.UUID][]model.Subscriber{},
		Profiles:  map[string][]uuid.UUID{},
		FailOn:    map[uuid.UUID]bool{},
	}
}

func (m *MockAudienceRepo) AddStatic(members ...model.Subscriber) uuid.UUID {
	id := uuid.New()
	m.Audiences[id] = &model.Audience{ID: id, Filters: model.AudienceFilters{AudienceType: model.AudienceStatic}}
	m.Static[id] = members
	return id
}

func (m *MockAudienceRepo) AddDynamic(rules ...model.AudienceRule) uuid.UUID {
	id := uuid.New()
	m.Audiences[id] = &model.Audience{ID: id, Filters: model.AudienceFilters{AudienceType: model.AudienceDynamic, Rules: rules}}
	return id
}

func (m *MockAudienceRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Audience, error) {
	if m.OnGet != nil {
		m.OnGet()
	}
	if m.FailOn[id] {
		return nil, errors.New("connection reset")
	}
	return m.Audiences[id], nil
}

func (m *MockAudienceRepo) StaticMembers(ctx context.Context, audienceID uuid.UUID) ([]model.Subscriber, error) {
	return m.Static[audienceID], nil
}

func (m *MockAudienceRepo) StaticMemberIDs(ctx context.Context, audienceID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for _, s := range m.Static[audienceID] {
		ids = append(ids, s.ID)
	}
	return ids, nil
}

func (m *MockAudienceRepo) SubscribersByStatus(ctx context.Context, status string, userIDs []uuid.UUID) ([]model.Subscriber, error) {
	allowed := map[uuid.UUID]bool{}
	for _, id := range userIDs {
		allowed[id] = true
	}
	var out []model.Subscriber
	for _, s := range m.Subscribers {
		if s.Status != status {
			continue
		}
		if userIDs != nil && (s.UserID == nil || !allowed[*s.UserID]) {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (m *MockAudienceRepo) ProfileIDsBySubscription(ctx context.Context, tier string) ([]uuid.UUID, error) {
	return m.Profiles[tier], nil
}

func (m *MockAudienceRepo) SubscriberByID(ctx context.Context, id uuid.UUID) (*model.Subscriber, error) {
	for _, s := range m.Subscribers {
		if s.ID == id {
			s := s
			return &s, nil
		}
	}
	return nil, appErrors.NewSubscriberNotFound(id)
}

// ---------- sends ----------

type MockSendRepo struct {
	mu        sync.Mutex
	Records   map[[2]uuid.UUID]*model.SendRecord
	CreateErr error
}

func NewMockSendRepo() *MockSendRepo {
	return &MockSendRepo{Records: map[[2]uuid.UUID]*model.SendRecord{}}
}

func (m *MockSendRepo) CreateOrGet(ctx context.Context, campaignID, subscriberID uuid.UUID, email string) (*model.SendRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateErr != nil {
		return nil, m.CreateErr
	}
	key := [2]uuid.UUID{campaignID, subscriberID}
	if rec, ok := m.Records[key]; ok {
		cp := *rec
		return &cp, nil
	}
	rec := &model.SendRecord{ID: uuid.New(), CampaignID: campaignID, SubscriberID: subscriberID, Email: email, Status: model.SendPending}
	m.Records[key] = rec
	cp := *rec
	return &cp, nil
}

func (m *MockSendRepo) update(id uuid.UUID, fn func(*model.SendRecord)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.Records {
		if r.ID == id {
			fn(r)
		}
	}
}

func (m *MockSendRepo) MarkSent(ctx context.Context, id uuid.UUID, messageID string) error {
	m.update(id, func(r *model.SendRecord) { r.Status = model.SendSent; r.MessageID = messageID })
	return nil
}

func (m *MockSendRepo) MarkFailed(ctx context.Context, id uuid.UUID, lastError string) error {
	m.update(id, func(r *model.SendRecord) { r.Status = model.SendFailed; r.Error = lastError })
	return nil
}

func (m *MockSendRepo) CountStatus(status string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.Records {
		if r.Status == status {
			n++
		}
	}
	return n
}

// ---------- sender ----------

type MockSender struct {
	mu     sync.Mutex
	Sent   []*mailer.Message
	FailTo map[string]bool
	All    bool
}

func (m *MockSender) Send(ctx context.Context, msg *mailer.Message) (*mailer.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.All || m.FailTo[msg.To] {
		return nil, errors.New("provider rejected message")
	}
	m.Sent = append(m.Sent, msg)
	return &mailer.Result{MessageID: "msg-" + msg.To, SentAt: time.Now()}, nil
}

func (m *MockSender) Recipients() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.Sent))
	for _, s := range m.Sent {
		out = append(out, s.To)
	}
	return out
}

func activeSub(email string) model.Subscriber {
	return model.Subscriber{ID: uuid.New(), Email: email, Status: model.SubscriberActive}
}
