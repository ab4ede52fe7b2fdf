package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"campaignengine/internal/models"
	"campaignengine/internal/repository"
	"campaignengine/internal/service"
)

// MockCampaignService is a mock implementation of CampaignService and SegmentPreviewer
type MockCampaignService struct {
	mock.Mock
}

func (m *MockCampaignService) CreateCampaign(ctx context.Context, req *service.CreateCampaignRequest) (*models.Campaign, error) {
	args := m.Called(ctx, req)
	campaign, _ := args.Get(0).(*models.Campaign)
	return campaign, args.Error(1)
}

func (m *MockCampaignService) UpdateCampaign(ctx context.Context, id int, req *service.UpdateCampaignRequest) (*models.Campaign, error) {
	args := m.Called(ctx, id, req)
	campaign, _ := args.Get(0).(*models.Campaign)
	return campaign, args.Error(1)
}

func (m *MockCampaignService) DeleteCampaign(ctx context.Context, id int) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockCampaignService) GetCampaign(ctx context.Context, id int) (*models.Campaign, error) {
	args := m.Called(ctx, id)
	campaign, _ := args.Get(0).(*models.Campaign)
	return campaign, args.Error(1)
}

func (m *MockCampaignService) ListCampaigns(ctx context.Context, filters repository.CampaignFilters) ([]*models.Campaign, *service.PaginationInfo, error) {
	args := m.Called(ctx, filters)
	campaigns, _ := args.Get(0).([]*models.Campaign)
	pagination, _ := args.Get(1).(*service.PaginationInfo)
	return campaigns, pagination, args.Error(2)
}

func (m *MockCampaignService) ListCampaignCustomers(ctx context.Context, id int) ([]*models.Customer, error) {
	args := m.Called(ctx, id)
	customers, _ := args.Get(0).([]*models.Customer)
	return customers, args.Error(1)
}

func (m *MockCampaignService) ActivateCampaign(ctx context.Context, id int) (*models.Campaign, error) {
	args := m.Called(ctx, id)
	campaign, _ := args.Get(0).(*models.Campaign)
	return campaign, args.Error(1)
}

func (m *MockCampaignService) StopCampaign(ctx context.Context, id int) (*models.Campaign, error) {
	args := m.Called(ctx, id)
	campaign, _ := args.Get(0).(*models.Campaign)
	return campaign, args.Error(1)
}

func (m *MockCampaignService) HandleDeliveryReceipt(ctx context.Context, receipt models.DeliveryReceipt) error {
	args := m.Called(ctx, receipt)
	return args.Error(0)
}

func (m *MockCampaignService) PreviewSegment(ctx context.Context, req *service.PreviewSegmentRequest) (*service.SegmentPreview, error) {
	args := m.Called(ctx, req)
	preview, _ := args.Get(0).(*service.SegmentPreview)
	return preview, args.Error(1)
}

type staticHealth struct {
	status string
}

func (h staticHealth) CheckHealth(ctx context.Context) *service.HealthStatus {
	return &service.HealthStatus{Status: h.status, Services: map[string]string{}}
}

func newTestRouter(svc *MockCampaignService, health string) http.Handler {
	log := zap.NewNop()
	return NewRouter(
		NewCampaignHandler(svc, log),
		NewSegmentHandler(svc, log),
		NewHealthHandler(staticHealth{status: health}),
		log,
	)
}

func serve(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorDetail {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Error
}

func TestCreateCampaign_Created(t *testing.T) {
	svc := new(MockCampaignService)
	svc.On("CreateCampaign", mock.Anything, &service.CreateCampaignRequest{Name: "Launch", SegmentID: 2, Message: "Hi"}).
		Return(&models.Campaign{ID: 5, Name: "Launch", Status: models.CampaignStatusDraft, Stats: models.CampaignStats{TotalAudience: 3}}, nil)

	w := serve(t, newTestRouter(svc, service.StatusHealthy), http.MethodPost, "/campaigns",
		map[string]interface{}{"name": "Launch", "segment_id": 2, "message": "Hi"})

	assert.Equal(t, http.StatusCreated, w.Code)
	var campaign models.Campaign
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &campaign))
	assert.Equal(t, 5, campaign.ID)
	assert.Equal(t, 3, campaign.Stats.TotalAudience)
	svc.AssertExpectations(t)
}

func TestCreateCampaign_InvalidJSON(t *testing.T) {
	svc := new(MockCampaignService)

	w := serve(t, newTestRouter(svc, service.StatusHealthy), http.MethodPost, "/campaigns", "{bad")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_JSON", decodeError(t, w).Code)
	svc.AssertNotCalled(t, "CreateCampaign", mock.Anything, mock.Anything)
}

func TestServiceErrorMapping(t *testing.T) {
	testCases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{name: "not found", err: &service.NotFoundError{Resource: "campaign", ID: 9}, wantStatus: http.StatusNotFound, wantCode: "RESOURCE_NOT_FOUND"},
		{name: "validation", err: &service.ValidationError{Message: "segment 4 no longer exists"}, wantStatus: http.StatusBadRequest, wantCode: "VALIDATION_ERROR"},
		{name: "invalid state", err: &service.InvalidStateError{ID: 9, Status: "completed", Action: "activate"}, wantStatus: http.StatusConflict, wantCode: "INVALID_STATE"},
		{name: "persistence", err: errors.New("failed to activate campaign: connection reset"), wantStatus: http.StatusInternalServerError, wantCode: "INTERNAL_ERROR"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			svc := new(MockCampaignService)
			svc.On("ActivateCampaign", mock.Anything, 9).Return(nil, tc.err)

			w := serve(t, newTestRouter(svc, service.StatusHealthy), http.MethodPost, "/campaigns/9/activate", nil)

			assert.Equal(t, tc.wantStatus, w.Code)
			detail := decodeError(t, w)
			assert.Equal(t, tc.wantCode, detail.Code)
			if tc.wantStatus == http.StatusInternalServerError {
				assert.NotContains(t, detail.Message, "connection reset")
			}
		})
	}
}

func TestListCampaigns_ParsesFilters(t *testing.T) {
	svc := new(MockCampaignService)
	running := models.CampaignStatusRunning
	svc.On("ListCampaigns", mock.Anything, repository.CampaignFilters{Page: 2, PageSize: 100, Status: &running}).
		Return([]*models.Campaign{{ID: 1}}, &service.PaginationInfo{Page: 2, PageSize: 100, TotalCount: 101, TotalPages: 2}, nil)

	w := serve(t, newTestRouter(svc, service.StatusHealthy), http.MethodGet, "/campaigns?page=2&per_page=500&status=running", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp ListCampaignsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Campaigns, 1)
	assert.Equal(t, 101, resp.Pagination.TotalCount)
	svc.AssertExpectations(t)
}

func TestListCampaigns_InvalidStatus(t *testing.T) {
	svc := new(MockCampaignService)

	w := serve(t, newTestRouter(svc, service.StatusHealthy), http.MethodGet, "/campaigns?status=sending", nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", decodeError(t, w).Code)
}

func TestDeliveryReceipt_RoutesToService(t *testing.T) {
	svc := new(MockCampaignService)
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc.On("HandleDeliveryReceipt", mock.Anything, models.DeliveryReceipt{
		CampaignID: 1, CustomerID: 2, Status: models.LogStatusDelivered, Timestamp: at,
	}).Return(nil)

	w := serve(t, newTestRouter(svc, service.StatusHealthy), http.MethodPost, "/campaigns/delivery-receipt",
		`{"campaignId":1,"customerId":2,"status":"delivered","timestamp":"2026-03-01T09:00:00Z"}`)

	assert.Equal(t, http.StatusAccepted, w.Code)
	svc.AssertExpectations(t)
}

type receiptRecorder struct {
	receipts []models.DeliveryReceipt
}

func (r *receiptRecorder) Submit(ctx context.Context, receipt models.DeliveryReceipt) error {
	r.receipts = append(r.receipts, receipt)
	return nil
}

func TestDeliveryReceipt_WithoutTimestampIsAccepted(t *testing.T) {
	sink := &receiptRecorder{}
	svc := service.NewCampaignService(service.Repositories{}, service.NewTemplateService(), nil, nil, sink, nil,
		service.Config{}, zap.NewNop())
	log := zap.NewNop()
	router := NewRouter(
		NewCampaignHandler(svc, log),
		NewSegmentHandler(svc, log),
		NewHealthHandler(staticHealth{status: service.StatusHealthy}),
		log,
	)

	w := serve(t, router, http.MethodPost, "/campaigns/delivery-receipt",
		`{"campaignId":1,"customerId":2,"status":"delivered","channels":{"email":{"success":true,"id":"EMAIL_1"}}}`)

	assert.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, sink.receipts, 1)
	assert.Equal(t, 2, sink.receipts[0].CustomerID)
	assert.True(t, sink.receipts[0].Timestamp.IsZero())
}

func TestDeliveryReceipt_MissingField(t *testing.T) {
	svc := new(MockCampaignService)
	svc.On("HandleDeliveryReceipt", mock.Anything, mock.Anything).
		Return(&service.ValidationError{Message: "customerId is required"})

	w := serve(t, newTestRouter(svc, service.StatusHealthy), http.MethodPost, "/campaigns/delivery-receipt",
		`{"campaignId":1,"status":"delivered","timestamp":"2026-03-01T09:00:00Z"}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "customerId is required", decodeError(t, w).Message)
}

func TestDeleteCampaign_NoContent(t *testing.T) {
	svc := new(MockCampaignService)
	svc.On("DeleteCampaign", mock.Anything, 4).Return(nil)

	w := serve(t, newTestRouter(svc, service.StatusHealthy), http.MethodDelete, "/campaigns/4", nil)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestCampaignCustomers(t *testing.T) {
	svc := new(MockCampaignService)
	svc.On("ListCampaignCustomers", mock.Anything, 4).Return([]*models.Customer{{ID: 1}, {ID: 2}}, nil)

	w := serve(t, newTestRouter(svc, service.StatusHealthy), http.MethodGet, "/campaigns/4/customers", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp CampaignCustomersResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Total)
}

func TestSegmentPreview(t *testing.T) {
	svc := new(MockCampaignService)
	svc.On("PreviewSegment", mock.Anything, mock.MatchedBy(func(req *service.PreviewSegmentRequest) bool {
		return len(req.Rules) == 1 && req.Logic == models.LogicAny
	})).Return(&service.SegmentPreview{TotalCustomers: 10, MatchingCustomers: 4, Preview: []*models.Customer{}}, nil)

	w := serve(t, newTestRouter(svc, service.StatusHealthy), http.MethodPost, "/segments/preview",
		`{"rules":[{"field":"visit_count","operator":"greater_than","value":3}],"rule_logic":"ANY"}`)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, float64(4), resp["matchingCustomers"])
	assert.Equal(t, float64(10), resp["totalCustomers"])
}

func TestHealth(t *testing.T) {
	svc := new(MockCampaignService)

	w := serve(t, newTestRouter(svc, service.StatusHealthy), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(t, newTestRouter(svc, service.StatusUnhealthy), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestNonNumericIDIsNotRouted(t *testing.T) {
	svc := new(MockCampaignService)

	w := serve(t, newTestRouter(svc, service.StatusHealthy), http.MethodGet, "/campaigns/abc", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
