package controller_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/campaign-dispatcher/internal/controller"
	appErrors "github.com/unclebandit/campaign-dispatcher/internal/errors"
	"github.com/unclebandit/campaign-dispatcher/internal/handler"
	"github.com/unclebandit/campaign-dispatcher/internal/model"
	"github.com/unclebandit/campaign-dispatcher/internal/personalize"
	"github.com/unclebandit/campaign-dispatcher/internal/scheduler"
	"github.com/unclebandit/campaign-dispatcher/internal/service"
)

// --- Mocks ---

type fakeProcessor struct {
	report *service.Report
	err    error
	calls  int
}

func (f *fakeProcessor) ProcessScheduled(ctx context.Context) (*service.Report, error) {
	f.calls++
	return f.report, f.err
}

type MockCampaignRepo struct {
	campaigns []*model.Campaign
}

func (m *MockCampaignRepo) ListDue(ctx context.Context, now time.Time) ([]*model.Campaign, error) {
	return nil, nil
}
func (m *MockCampaignRepo) ClaimForSending(ctx context.Context, id uuid.UUID) (bool, error) {
	return true, nil
}
func (m *MockCampaignRepo) MarkFailed(ctx context.Context, id uuid.UUID) error { return nil }
func (m *MockCampaignRepo) Finalize(ctx context.Context, id uuid.UUID, status string, total, sent, failed int) error {
	return nil
}
func (m *MockCampaignRepo) ResetStale(ctx context.Context, olderThan time.Time) (int64, error) {
	return 0, nil
}
func (m *MockCampaignRepo) Touch(ctx context.Context, id uuid.UUID) error { return nil }
func (m *MockCampaignRepo) ListRecent(ctx context.Context, limit int) ([]model.RecentCampaign, error) {
	return nil, nil
}

func (m *MockCampaignRepo) ListCampaigns(ctx context.Context, offset, limit int, status string) ([]*model.Campaign, int, error) {
	var filtered []*model.Campaign
	for _, c := range m.campaigns {
		if status != "" && c.Status != status {
			continue
		}
		filtered = append(filtered, c)
	}
	total := len(filtered)

	// Simulate pagination
	start := offset
	end := offset + limit
	if start > total {
		return []*model.Campaign{}, total, nil
	}
	if end > total {
		end = total
	}
	return filtered[start:end], total, nil
}

func (m *MockCampaignRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Campaign, error) {
	for _, c := range m.campaigns {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, appErrors.NewCampaignNotFound(id)
}

func (m *MockCampaignRepo) GetSendStats(ctx context.Context, id uuid.UUID) (map[string]int, error) {
	return map[string]int{"total": 2, "pending": 0, "sent": 2, "failed": 0}, nil
}

type MockAudienceRepo struct {
	subscriber model.Subscriber
}

func (m *MockAudienceRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Audience, error) {
	return nil, nil
}
func (m *MockAudienceRepo) StaticMembers(ctx context.Context, id uuid.UUID) ([]model.Subscriber, error) {
	return nil, nil
}
func (m *MockAudienceRepo) StaticMemberIDs(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error) {
	return nil, nil
}
func (m *MockAudienceRepo) SubscribersByStatus(ctx context.Context, status string, userIDs []uuid.UUID) ([]model.Subscriber, error) {
	return nil, nil
}
func (m *MockAudienceRepo) ProfileIDsBySubscription(ctx context.Context, tier string) ([]uuid.UUID, error) {
	return nil, nil
}
func (m *MockAudienceRepo) SubscriberByID(ctx context.Context, id uuid.UUID) (*model.Subscriber, error) {
	if id == m.subscriber.ID {
		s := m.subscriber
		return &s, nil
	}
	return nil, appErrors.NewSubscriberNotFound(id)
}

// --- Setup ---

type testServer struct {
	handler   http.Handler
	processor *fakeProcessor
	configErr error
	repo      *MockCampaignRepo
	audiences *MockAudienceRepo
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	layout, err := service.NewLayoutRenderer("https://example.com", "NNAud.io")
	require.NoError(t, err)

	ts := &testServer{
		processor: &fakeProcessor{report: &service.Report{Message: "No scheduled campaigns to process", RecentlyProcessed: []model.RecentCampaign{}}},
		repo:      &MockCampaignRepo{},
		audiences: &MockAudienceRepo{subscriber: model.Subscriber{ID: uuid.New(), Email: "jane@example.com", Status: model.SubscriberActive, Metadata: model.SubscriberMetadata{FirstName: "Jane"}}},
	}

	svc := &service.CampaignService{
		CampaignRepo: ts.repo,
		AudienceRepo: ts.audiences,
		Layout:       layout,
		Personalizer: personalize.New("https://example.com", "secret"),
	}

	ts.handler = controller.NewRouter(controller.Routes{
		Dispatch: &controller.DispatchController{
			Processor:   ts.processor,
			Status:      service.NewStatusTracker(),
			Auth:        controller.CronAuth{Secret: "topsecret"},
			ConfigError: func() error { return ts.configErr },
		},
		Campaigns:     &controller.CampaignController{CampaignService: svc},
		CampaignStats: &handler.CampaignHandler{Service: svc},
	})
	return ts
}

func (ts *testServer) do(method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	return w
}

var bearer = map[string]string{"Authorization": "Bearer topsecret"}

// --- Dispatch endpoint ---

func TestProcessScheduled_Auth(t *testing.T) {
	cases := []struct {
		name    string
		headers map[string]string
		want    int
	}{
		{"no credentials", nil, http.StatusUnauthorized},
		{"wrong bearer", map[string]string{"Authorization": "Bearer nope"}, http.StatusUnauthorized},
		{"bearer", bearer, http.StatusOK},
		{"platform signature", map[string]string{controller.SignatureHeader: "abc"}, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t)
			w := ts.do(http.MethodPost, "/api/email-campaigns/process-scheduled", nil, tc.headers)
			assert.Equal(t, tc.want, w.Code)
			if tc.want == http.StatusUnauthorized {
				assert.JSONEq(t, `{"error":"Unauthorized"}`, w.Body.String())
				assert.Equal(t, 0, ts.processor.calls)
			}
		})
	}
}

func TestCronAuth_SignatureMustMatchWhenConfigured(t *testing.T) {
	auth := controller.CronAuth{Signature: "expected"}

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set(controller.SignatureHeader, "other")
	ok, _ := auth.Authorized(req)
	assert.False(t, ok)

	req.Header.Set(controller.SignatureHeader, "expected")
	ok, via := auth.Authorized(req)
	assert.True(t, ok)
	assert.Equal(t, "platform cron", via)

	// An empty secret disables bearer auth entirely.
	req = httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer ")
	ok, _ = auth.Authorized(req)
	assert.False(t, ok)
}

func TestProcessScheduled_ConfigGate(t *testing.T) {
	ts := newTestServer(t)
	ts.configErr = errors.New("invalid configuration: database is required")

	w := ts.do(http.MethodPost, "/api/email-campaigns/process-scheduled", nil, bearer)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "database is required")
	assert.Equal(t, 0, ts.processor.calls)
}

func TestProcessScheduled_FetchFailure(t *testing.T) {
	ts := newTestServer(t)
	ts.processor.err = fmt.Errorf("%w: connection refused", service.ErrFetchDue)

	w := ts.do(http.MethodPost, "/api/email-campaigns/process-scheduled", nil, bearer)
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	var res controller.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "Failed to fetch scheduled campaigns", res.Error)
	assert.Contains(t, res.Details, "connection refused")
}

func TestProcessScheduled_NothingDueBody(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(http.MethodPost, "/api/email-campaigns/process-scheduled", nil, bearer)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"message":"No scheduled campaigns to process","processed":0,"recentlyProcessed":[]}`, w.Body.String())
}

// slowProcessor outlasts the caller and reports what its context looked like.
type slowProcessor struct {
	delay time.Duration
	done  chan error
}

func (p *slowProcessor) ProcessScheduled(ctx context.Context) (*service.Report, error) {
	time.Sleep(p.delay)
	p.done <- ctx.Err()
	return &service.Report{Message: "done"}, nil
}

func TestProcessScheduled_RunSurvivesCallerTimeout(t *testing.T) {
	proc := &slowProcessor{delay: 300 * time.Millisecond, done: make(chan error, 1)}
	ts := newTestServer(t)
	router := controller.NewRouter(controller.Routes{
		Dispatch: &controller.DispatchController{
			Processor: proc,
			Status:    service.NewStatusTracker(),
			Auth:      controller.CronAuth{Secret: "topsecret"},
		},
		Campaigns:     &controller.CampaignController{CampaignService: &service.CampaignService{CampaignRepo: ts.repo}},
		CampaignStats: &handler.CampaignHandler{},
	})
	srv := httptest.NewServer(router)
	defer srv.Close()

	trigger := scheduler.New(srv.URL+"/api/email-campaigns/process-scheduled", "topsecret", time.Minute, 50*time.Millisecond)
	_, err := trigger.Call(context.Background())
	require.Error(t, err, "the trigger gives up before the run ends")

	select {
	case ctxErr := <-proc.done:
		assert.NoError(t, ctxErr, "the run must not see the caller's cancellation")
	case <-time.After(5 * time.Second):
		t.Fatal("dispatch run never finished")
	}
}

func TestProcessorStatus(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodGet, "/api/email-campaigns/process-scheduled", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var st service.ProcessorStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(t, "Never executed", st.TimeSinceLastExecution)

	// Even a rejected call counts as an execution.
	ts.do(http.MethodPost, "/api/email-campaigns/process-scheduled", nil, nil)

	w = ts.do(http.MethodGet, "/api/email-campaigns/process-scheduled", nil, nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(t, "0 minutes ago", st.TimeSinceLastExecution)
	assert.NotNil(t, st.LastExecutionTime)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

// --- Campaign endpoints ---

func TestListCampaignsPagination(t *testing.T) {
	ts := newTestServer(t)

	totalCampaigns := 25
	for i := 1; i <= totalCampaigns; i++ {
		ts.repo.campaigns = append(ts.repo.campaigns, &model.Campaign{
			ID:     uuid.New(),
			Name:   "Campaign " + strconv.Itoa(i),
			Status: model.CampaignSent,
		})
	}
	ts.repo.campaigns = append(ts.repo.campaigns, &model.Campaign{ID: uuid.New(), Status: model.CampaignDraft})

	pageSize := 10
	seen := map[uuid.UUID]bool{}
	totalPages := (totalCampaigns + pageSize - 1) / pageSize

	for page := 1; page <= totalPages; page++ {
		w := ts.do(http.MethodGet,
			"/api/email-campaigns?page="+strconv.Itoa(page)+"&page_size="+strconv.Itoa(pageSize)+"&status=sent",
			nil, bearer)
		require.Equal(t, http.StatusOK, w.Code)

		var res struct {
			Data       []model.Campaign `json:"data"`
			Pagination struct {
				Page       int `json:"page"`
				PageSize   int `json:"page_size"`
				TotalCount int `json:"total_count"`
				TotalPages int `json:"total_pages"`
			} `json:"pagination"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))

		assert.Equal(t, page, res.Pagination.Page)
		assert.Equal(t, pageSize, res.Pagination.PageSize)
		assert.Equal(t, totalCampaigns, res.Pagination.TotalCount)
		assert.Equal(t, totalPages, res.Pagination.TotalPages)

		for _, c := range res.Data {
			assert.False(t, seen[c.ID], "duplicate campaign across pages")
			seen[c.ID] = true
			assert.Equal(t, model.CampaignSent, c.Status)
		}
	}
	assert.Len(t, seen, totalCampaigns)
}

func TestCampaignEndpointsRequireBearer(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(http.MethodGet, "/api/email-campaigns", nil, map[string]string{controller.SignatureHeader: "abc"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGetCampaignWithStats(t *testing.T) {
	ts := newTestServer(t)
	c := &model.Campaign{ID: uuid.New(), Name: "Promo", Status: model.CampaignSent}
	ts.repo.campaigns = []*model.Campaign{c}

	w := ts.do(http.MethodGet, "/api/email-campaigns/"+c.ID.String(), nil, bearer)
	require.Equal(t, http.StatusOK, w.Code)

	var res struct {
		Name  string         `json:"name"`
		Stats map[string]int `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "Promo", res.Name)
	assert.Equal(t, 2, res.Stats["sent"])

	w = ts.do(http.MethodGet, "/api/email-campaigns/"+uuid.NewString(), nil, bearer)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(http.MethodGet, "/api/email-campaigns/not-a-uuid", nil, bearer)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPersonalizedPreview(t *testing.T) {
	ts := newTestServer(t)
	c := &model.Campaign{ID: uuid.New(), Subject: "Hi {{firstName}}", HTMLContent: "<p>Hello {{fullName}}</p>"}
	ts.repo.campaigns = []*model.Campaign{c}

	body, _ := json.Marshal(map[string]any{"subscriber_id": ts.audiences.subscriber.ID})
	w := ts.do(http.MethodPost, "/api/email-campaigns/"+c.ID.String()+"/preview", body, bearer)
	require.Equal(t, http.StatusOK, w.Code)

	var res service.Preview
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "Hi Jane", res.Subject)
	assert.Contains(t, res.HTML, "<p>Hello Jane</p>")

	body, _ = json.Marshal(map[string]any{"subscriber_id": uuid.New()})
	w = ts.do(http.MethodPost, "/api/email-campaigns/"+c.ID.String()+"/preview", body, bearer)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(http.MethodPost, "/api/email-campaigns/"+c.ID.String()+"/preview", []byte("{"), bearer)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
