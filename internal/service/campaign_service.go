package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"campaignengine/internal/dispatch"
	"campaignengine/internal/models"
	"campaignengine/internal/notify"
	"campaignengine/internal/repository"
	"campaignengine/internal/segment"
	"campaignengine/internal/tasks"
)

const previewSampleSize = 10

// Dispatcher sends one campaign message to one customer and acknowledges it
// once the send has been recorded
type Dispatcher interface {
	Dispatch(ctx context.Context, campaignID int, customer *models.Customer, message string) (*dispatch.Result, error)
	Acknowledge(campaignID, customerID int, result *dispatch.Result)
}

// Runner runs supervised background work
type Runner interface {
	Go(name string, fn tasks.Func) bool
	Wait()
}

// Repositories groups the stores the campaign service works against
type Repositories struct {
	Campaigns repository.CampaignRepository
	Logs      repository.LogRepository
	Customers repository.CustomerRepository
	Segments  repository.SegmentRepository
}

// Config configures the campaign service
type Config struct {
	// GraceWindow is how long a drained running campaign waits for late receipts before completing
	GraceWindow time.Duration
	// RecordAttempts bounds the writes of one dispatch outcome before the row is marked failed
	RecordAttempts uint
}

// CampaignService handles campaign business logic
type CampaignService struct {
	campaignRepo repository.CampaignRepository
	logRepo      repository.LogRepository
	customerRepo repository.CustomerRepository
	segmentRepo  repository.SegmentRepository
	templateSvc  *TemplateService
	dispatcher   Dispatcher
	notifier     notify.Publisher
	receipts     dispatch.ReceiptSink
	runner       Runner
	graceWindow  time.Duration
	log          *zap.Logger
	now          func() time.Time

	recordAttempts uint
	recordBackOff  func() backoff.BackOff

	// campaigns with a dispatch run in this process
	active sync.Map
}

// NewCampaignService creates a new campaign service
func NewCampaignService(
	repos Repositories,
	templateSvc *TemplateService,
	dispatcher Dispatcher,
	notifier notify.Publisher,
	receipts dispatch.ReceiptSink,
	runner Runner,
	cfg Config,
	log *zap.Logger,
) *CampaignService {
	if cfg.GraceWindow <= 0 {
		cfg.GraceWindow = 10 * time.Minute
	}
	if cfg.RecordAttempts == 0 {
		cfg.RecordAttempts = 5
	}
	if notifier == nil {
		notifier = notify.NewLogPublisher(log)
	}
	return &CampaignService{
		campaignRepo: repos.Campaigns,
		logRepo:      repos.Logs,
		customerRepo: repos.Customers,
		segmentRepo:  repos.Segments,
		templateSvc:  templateSvc,
		dispatcher:   dispatcher,
		notifier:     notifier,
		receipts:     receipts,
		runner:       runner,
		graceWindow:  cfg.GraceWindow,
		log:          log,
		now:          time.Now,

		recordAttempts: cfg.RecordAttempts,
		recordBackOff:  defaultRecordBackOff,
	}
}

func defaultRecordBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	return b
}

// CreateCampaign snapshots the segment's audience and creates the campaign
// with one pending log row per matching customer
func (s *CampaignService) CreateCampaign(ctx context.Context, req *CreateCampaignRequest) (*models.Campaign, error) {
	campaign := &models.Campaign{
		Name:         req.Name,
		Description:  req.Description,
		SegmentID:    req.SegmentID,
		Message:      req.Message,
		Status:       models.CampaignStatusDraft,
		ScheduledFor: req.ScheduledFor,
	}

	if err := campaign.Validate(); err != nil {
		return nil, &ValidationError{Message: err.Error()}
	}

	if err := s.templateSvc.ValidateTemplate(campaign.Message); err != nil {
		return nil, &ValidationError{Message: fmt.Sprintf("invalid message: %v", err)}
	}

	now := s.now()
	if campaign.ScheduledFor != nil {
		if !campaign.IsScheduledAfter(now) {
			return nil, &ValidationError{Message: "scheduled_for must be in the future"}
		}
		campaign.Status = models.CampaignStatusScheduled
	}

	audience, err := s.audienceFor(ctx, campaign.SegmentID)
	if err != nil {
		return nil, err
	}

	if err := s.campaignRepo.CreateWithAudience(ctx, campaign, customerIDs(audience)); err != nil {
		return nil, fmt.Errorf("failed to create campaign: %w", err)
	}

	s.log.Info("Campaign created",
		zap.Int("campaign_id", campaign.ID),
		zap.String("status", string(campaign.Status)),
		zap.Int("total_audience", campaign.Stats.TotalAudience))

	if campaign.Status == models.CampaignStatusScheduled {
		s.publish(notify.EventScheduled, campaign)
	}

	return campaign, nil
}

// UpdateCampaign changes a draft or scheduled campaign.
// Changing the segment re-snapshots the audience.
func (s *CampaignService) UpdateCampaign(ctx context.Context, id int, req *UpdateCampaignRequest) (*models.Campaign, error) {
	campaign, err := s.getCampaign(ctx, id)
	if err != nil {
		return nil, err
	}

	if !campaign.CanUpdate() {
		return nil, &InvalidStateError{ID: id, Status: string(campaign.Status), Action: "update"}
	}

	previous := campaign.Status
	segmentChanged := false

	if req.Name != nil {
		campaign.Name = *req.Name
	}
	if req.Description != nil {
		campaign.Description = *req.Description
	}
	if req.Message != nil {
		if err := s.templateSvc.ValidateTemplate(*req.Message); err != nil {
			return nil, &ValidationError{Message: fmt.Sprintf("invalid message: %v", err)}
		}
		campaign.Message = *req.Message
	}
	if req.SegmentID != nil && *req.SegmentID != campaign.SegmentID {
		campaign.SegmentID = *req.SegmentID
		segmentChanged = true
	}
	if req.ScheduledFor != nil {
		if !req.ScheduledFor.After(s.now()) {
			return nil, &ValidationError{Message: "scheduled_for must be in the future"}
		}
		campaign.ScheduledFor = req.ScheduledFor
		campaign.Status = models.CampaignStatusScheduled
	}

	if err := campaign.Validate(); err != nil {
		return nil, &ValidationError{Message: err.Error()}
	}

	var audience []int
	if segmentChanged {
		customers, err := s.audienceFor(ctx, campaign.SegmentID)
		if err != nil {
			return nil, err
		}
		audience = customerIDs(customers)
	}

	ok, err := s.campaignRepo.Update(ctx, campaign, audience)
	if err != nil {
		return nil, fmt.Errorf("failed to update campaign: %w", err)
	}
	if !ok {
		return nil, s.stateConflict(ctx, id, "update")
	}

	if previous != models.CampaignStatusScheduled && campaign.Status == models.CampaignStatusScheduled {
		s.publish(notify.EventScheduled, campaign)
	}

	return campaign, nil
}

// DeleteCampaign removes a campaign and its log rows
func (s *CampaignService) DeleteCampaign(ctx context.Context, id int) error {
	campaign, err := s.getCampaign(ctx, id)
	if err != nil {
		return err
	}

	if !campaign.CanDelete() {
		return &InvalidStateError{ID: id, Status: string(campaign.Status), Action: "delete"}
	}

	allowed := []models.CampaignStatus{
		models.CampaignStatusDraft,
		models.CampaignStatusScheduled,
		models.CampaignStatusStopped,
		models.CampaignStatusRunning,
	}
	ok, err := s.campaignRepo.Delete(ctx, id, allowed)
	if err != nil {
		return fmt.Errorf("failed to delete campaign: %w", err)
	}
	if !ok {
		return s.stateConflict(ctx, id, "delete")
	}

	s.log.Info("Campaign deleted", zap.Int("campaign_id", id))
	return nil
}

// GetCampaign retrieves a campaign by ID
func (s *CampaignService) GetCampaign(ctx context.Context, id int) (*models.Campaign, error) {
	return s.getCampaign(ctx, id)
}

// ListCampaigns lists campaigns with filters
func (s *CampaignService) ListCampaigns(ctx context.Context, filters repository.CampaignFilters) ([]*models.Campaign, *PaginationInfo, error) {
	campaigns, total, err := s.campaignRepo.List(ctx, filters)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list campaigns: %w", err)
	}

	page := filters.Page
	if page <= 0 {
		page = 1
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	pagination := &PaginationInfo{
		Page:       page,
		PageSize:   pageSize,
		TotalCount: total,
		TotalPages: (total + pageSize - 1) / pageSize,
	}

	return campaigns, pagination, nil
}

// ListCampaignCustomers evaluates the campaign's segment against the current customers
func (s *CampaignService) ListCampaignCustomers(ctx context.Context, id int) ([]*models.Customer, error) {
	campaign, err := s.getCampaign(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.audienceFor(ctx, campaign.SegmentID)
}

// PreviewSegment evaluates an unsaved rule set. Nothing is persisted.
func (s *CampaignService) PreviewSegment(ctx context.Context, req *PreviewSegmentRequest) (*SegmentPreview, error) {
	if err := segment.ValidateRules(req.Rules, req.Logic); err != nil {
		return nil, &ValidationError{Message: err.Error()}
	}

	customers, err := s.customerRepo.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list customers: %w", err)
	}

	matched := segment.Match(customers, req.Rules, req.Logic)
	sample := matched
	if len(sample) > previewSampleSize {
		sample = sample[:previewSampleSize]
	}

	return &SegmentPreview{
		TotalCustomers:    len(customers),
		MatchingCustomers: len(matched),
		Preview:           sample,
	}, nil
}

// ActivateCampaign starts a draft or scheduled campaign. A campaign whose
// schedule is still in the future becomes scheduled instead.
func (s *CampaignService) ActivateCampaign(ctx context.Context, id int) (*models.Campaign, error) {
	campaign, err := s.getCampaign(ctx, id)
	if err != nil {
		return nil, err
	}

	if !campaign.CanActivate() {
		return nil, &InvalidStateError{ID: id, Status: string(campaign.Status), Action: "activate"}
	}

	if campaign.IsScheduledAfter(s.now()) {
		if campaign.Status == models.CampaignStatusScheduled {
			return campaign, nil
		}
		ok, err := s.campaignRepo.TransitionStatus(ctx, id,
			[]models.CampaignStatus{models.CampaignStatusDraft}, models.CampaignStatusScheduled)
		if err != nil {
			return nil, fmt.Errorf("failed to schedule campaign: %w", err)
		}
		if !ok {
			return nil, s.stateConflict(ctx, id, "activate")
		}
		campaign.Status = models.CampaignStatusScheduled
		s.publish(notify.EventScheduled, campaign)
		return campaign, nil
	}

	from := []models.CampaignStatus{models.CampaignStatusDraft, models.CampaignStatusScheduled}
	if err := s.start(ctx, campaign, from); err != nil {
		return nil, err
	}

	return campaign, nil
}

// ActivateScheduled promotes a due scheduled campaign. It reports false without
// error when the campaign is no longer scheduled.
func (s *CampaignService) ActivateScheduled(ctx context.Context, campaign *models.Campaign) (bool, error) {
	current, err := s.campaignRepo.GetByID(ctx, campaign.ID)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to re-read campaign: %w", err)
	}
	if current.Status != models.CampaignStatusScheduled {
		return false, nil
	}

	err = s.start(ctx, current, []models.CampaignStatus{models.CampaignStatusScheduled})

	var stateErr *InvalidStateError
	if errors.As(err, &stateErr) {
		return false, nil
	}

	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		// Nothing will make the campaign sendable again
		if _, ferr := s.campaignRepo.TransitionStatus(ctx, current.ID,
			[]models.CampaignStatus{models.CampaignStatusScheduled}, models.CampaignStatusFailed); ferr != nil {
			return false, errors.Join(err, ferr)
		}
		s.log.Warn("Scheduled campaign failed to activate",
			zap.Int("campaign_id", current.ID),
			zap.Error(err))
	}
	if err != nil {
		return false, err
	}

	return true, nil
}

// StopCampaign stops a running campaign. In-flight sends are not cancelled.
func (s *CampaignService) StopCampaign(ctx context.Context, id int) (*models.Campaign, error) {
	ok, err := s.campaignRepo.TransitionStatus(ctx, id,
		[]models.CampaignStatus{models.CampaignStatusRunning}, models.CampaignStatusStopped)
	if err != nil {
		return nil, fmt.Errorf("failed to stop campaign: %w", err)
	}
	if !ok {
		return nil, s.stateConflict(ctx, id, "stop")
	}

	s.log.Info("Campaign stopped", zap.Int("campaign_id", id))
	return s.getCampaign(ctx, id)
}

// Wait blocks until background dispatch runs and notifications have finished
func (s *CampaignService) Wait() {
	s.runner.Wait()
}

// start re-validates the segment, moves the campaign to running and launches its dispatch run
func (s *CampaignService) start(ctx context.Context, campaign *models.Campaign, from []models.CampaignStatus) error {
	if campaign.SegmentID <= 0 {
		return &ValidationError{Message: fmt.Sprintf("campaign %d has no segment", campaign.ID)}
	}
	if _, err := s.segmentRepo.GetByID(ctx, campaign.SegmentID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return &ValidationError{Message: fmt.Sprintf("segment %d no longer exists", campaign.SegmentID)}
		}
		return fmt.Errorf("failed to get segment: %w", err)
	}

	ok, err := s.campaignRepo.TransitionStatus(ctx, campaign.ID, from, models.CampaignStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to activate campaign: %w", err)
	}
	if !ok {
		return s.stateConflict(ctx, campaign.ID, "activate")
	}

	campaign.Status = models.CampaignStatusRunning
	campaign.CompletionDueAt = nil

	s.log.Info("Campaign activated",
		zap.Int("campaign_id", campaign.ID),
		zap.Int("total_audience", campaign.Stats.TotalAudience))

	s.startRun(campaign.ID)
	s.publish(notify.EventActivated, campaign)
	return nil
}

func (s *CampaignService) getCampaign(ctx context.Context, id int) (*models.Campaign, error) {
	campaign, err := s.campaignRepo.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &NotFoundError{Resource: "campaign", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}
	return campaign, nil
}

// stateConflict explains a conditional write that matched no row
func (s *CampaignService) stateConflict(ctx context.Context, id int, action string) error {
	current, err := s.getCampaign(ctx, id)
	if err != nil {
		return err
	}
	return &InvalidStateError{ID: id, Status: string(current.Status), Action: action}
}

// audienceFor evaluates a stored segment against every customer
func (s *CampaignService) audienceFor(ctx context.Context, segmentID int) ([]*models.Customer, error) {
	seg, err := s.segmentRepo.GetByID(ctx, segmentID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &NotFoundError{Resource: "segment", ID: segmentID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get segment: %w", err)
	}

	customers, err := s.customerRepo.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list customers: %w", err)
	}

	return segment.Match(customers, seg.Rules, seg.Logic), nil
}

// publish sends a lifecycle notification in the background. Failures are logged only.
func (s *CampaignService) publish(event notify.Event, campaign *models.Campaign) {
	n := notify.New(event, campaign, s.now())
	s.runner.Go("notify", func(ctx context.Context) error {
		if err := s.notifier.Publish(ctx, n); err != nil {
			return fmt.Errorf("failed to publish %s for campaign %d: %w", n.Event, n.CampaignID, err)
		}
		return nil
	})
}

func customerIDs(customers []*models.Customer) []int {
	ids := make([]int, len(customers))
	for i, c := range customers {
		ids[i] = c.ID
	}
	return ids
}

// Request/Response types

// CreateCampaignRequest represents a request to create a campaign
type CreateCampaignRequest struct {
	Name         string     `json:"name"`
	Description  string     `json:"description,omitempty"`
	SegmentID    int        `json:"segment_id"`
	Message      string     `json:"message"`
	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`
}

// UpdateCampaignRequest represents a partial campaign update
type UpdateCampaignRequest struct {
	Name         *string    `json:"name,omitempty"`
	Description  *string    `json:"description,omitempty"`
	SegmentID    *int       `json:"segment_id,omitempty"`
	Message      *string    `json:"message,omitempty"`
	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`
}

// PreviewSegmentRequest is an unsaved rule set
type PreviewSegmentRequest struct {
	Rules []models.Rule    `json:"rules"`
	Logic models.RuleLogic `json:"rule_logic"`
}

// SegmentPreview is the result of evaluating an unsaved rule set
type SegmentPreview struct {
	TotalCustomers    int                `json:"totalCustomers"`
	MatchingCustomers int                `json:"matchingCustomers"`
	Preview           []*models.Customer `json:"preview"`
}

// PaginationInfo represents pagination metadata
type PaginationInfo struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
	TotalPages int `json:"total_pages"`
}
