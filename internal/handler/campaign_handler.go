package handler

import (
	"context"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"campaignengine/internal/models"
	"campaignengine/internal/repository"
	"campaignengine/internal/service"
)

// CampaignService is the campaign state machine as seen by the HTTP layer
type CampaignService interface {
	CreateCampaign(ctx context.Context, req *service.CreateCampaignRequest) (*models.Campaign, error)
	UpdateCampaign(ctx context.Context, id int, req *service.UpdateCampaignRequest) (*models.Campaign, error)
	DeleteCampaign(ctx context.Context, id int) error
	GetCampaign(ctx context.Context, id int) (*models.Campaign, error)
	ListCampaigns(ctx context.Context, filters repository.CampaignFilters) ([]*models.Campaign, *service.PaginationInfo, error)
	ListCampaignCustomers(ctx context.Context, id int) ([]*models.Customer, error)
	ActivateCampaign(ctx context.Context, id int) (*models.Campaign, error)
	StopCampaign(ctx context.Context, id int) (*models.Campaign, error)
	HandleDeliveryReceipt(ctx context.Context, receipt models.DeliveryReceipt) error
}

// CampaignHandler handles HTTP requests for campaign operations
type CampaignHandler struct {
	campaignService CampaignService
	log             *zap.Logger
}

// NewCampaignHandler creates a new campaign handler
func NewCampaignHandler(campaignService CampaignService, log *zap.Logger) *CampaignHandler {
	return &CampaignHandler{
		campaignService: campaignService,
		log:             log,
	}
}

// ListCampaignsResponse represents the response for listing campaigns
type ListCampaignsResponse struct {
	Campaigns  []*models.Campaign      `json:"campaigns"`
	Pagination *service.PaginationInfo `json:"pagination"`
}

// CampaignCustomersResponse lists the customers a campaign's segment currently matches
type CampaignCustomersResponse struct {
	CampaignID int                `json:"campaign_id"`
	Total      int                `json:"total"`
	Customers  []*models.Customer `json:"customers"`
}

// Create handles POST /campaigns
func (h *CampaignHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req service.CreateCampaignRequest
	if !decodeBody(w, r, &req) {
		return
	}

	campaign, err := h.campaignService.CreateCampaign(r.Context(), &req)
	if err != nil {
		HandleServiceError(w, h.log, err)
		return
	}

	_ = WriteJSON(w, http.StatusCreated, campaign)
}

// List handles GET /campaigns
func (h *CampaignHandler) List(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	page := 1
	if pageStr := query.Get("page"); pageStr != "" {
		if p, err := strconv.Atoi(pageStr); err == nil && p > 0 {
			page = p
		}
	}

	perPage := 20
	if perPageStr := query.Get("per_page"); perPageStr != "" {
		if pp, err := strconv.Atoi(perPageStr); err == nil && pp > 0 {
			perPage = pp
		}
	}
	if perPage > 100 {
		perPage = 100
	}

	filters := repository.CampaignFilters{
		Page:     page,
		PageSize: perPage,
	}

	if statusStr := query.Get("status"); statusStr != "" {
		status, err := models.ParseCampaignStatus(statusStr)
		if err != nil {
			WriteValidationError(w, err.Error())
			return
		}
		filters.Status = &status
	}

	campaigns, pagination, err := h.campaignService.ListCampaigns(r.Context(), filters)
	if err != nil {
		HandleServiceError(w, h.log, err)
		return
	}

	_ = WriteJSON(w, http.StatusOK, ListCampaignsResponse{
		Campaigns:  campaigns,
		Pagination: pagination,
	})
}

// GetByID handles GET /campaigns/{id}
func (h *CampaignHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	campaign, err := h.campaignService.GetCampaign(r.Context(), id)
	if err != nil {
		HandleServiceError(w, h.log, err)
		return
	}

	_ = WriteJSON(w, http.StatusOK, campaign)
}

// Update handles PUT /campaigns/{id}
func (h *CampaignHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req service.UpdateCampaignRequest
	if !decodeBody(w, r, &req) {
		return
	}

	campaign, err := h.campaignService.UpdateCampaign(r.Context(), id, &req)
	if err != nil {
		HandleServiceError(w, h.log, err)
		return
	}

	_ = WriteJSON(w, http.StatusOK, campaign)
}

// Delete handles DELETE /campaigns/{id}
func (h *CampaignHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.campaignService.DeleteCampaign(r.Context(), id); err != nil {
		HandleServiceError(w, h.log, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Activate handles POST /campaigns/{id}/activate
func (h *CampaignHandler) Activate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	campaign, err := h.campaignService.ActivateCampaign(r.Context(), id)
	if err != nil {
		HandleServiceError(w, h.log, err)
		return
	}

	_ = WriteJSON(w, http.StatusOK, campaign)
}

// Stop handles POST /campaigns/{id}/stop
func (h *CampaignHandler) Stop(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	campaign, err := h.campaignService.StopCampaign(r.Context(), id)
	if err != nil {
		HandleServiceError(w, h.log, err)
		return
	}

	_ = WriteJSON(w, http.StatusOK, campaign)
}

// Customers handles GET /campaigns/{id}/customers
func (h *CampaignHandler) Customers(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	customers, err := h.campaignService.ListCampaignCustomers(r.Context(), id)
	if err != nil {
		HandleServiceError(w, h.log, err)
		return
	}

	_ = WriteJSON(w, http.StatusOK, CampaignCustomersResponse{
		CampaignID: id,
		Total:      len(customers),
		Customers:  customers,
	})
}

// DeliveryReceipt handles POST /campaigns/delivery-receipt
func (h *CampaignHandler) DeliveryReceipt(w http.ResponseWriter, r *http.Request) {
	var receipt models.DeliveryReceipt
	if !decodeBody(w, r, &receipt) {
		return
	}

	if err := h.campaignService.HandleDeliveryReceipt(r.Context(), receipt); err != nil {
		HandleServiceError(w, h.log, err)
		return
	}

	_ = WriteJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}
