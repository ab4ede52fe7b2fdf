package service

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"campaignengine/internal/models"
	"campaignengine/internal/repository"
)

// memState is an in-memory stand-in for the PostgreSQL repositories with the
// same conditional-write semantics
type memState struct {
	mu        sync.Mutex
	nextID    int
	customers map[int]*models.Customer
	segments  map[int]*models.Segment
	campaigns map[int]*models.Campaign
	logs      map[int]*models.CommunicationLog
	claims    map[int]bool
}

func newMemState() *memState {
	return &memState{
		customers: map[int]*models.Customer{},
		segments:  map[int]*models.Segment{},
		campaigns: map[int]*models.Campaign{},
		logs:      map[int]*models.CommunicationLog{},
		claims:    map[int]bool{},
	}
}

func (m *memState) id() int {
	m.nextID++
	return m.nextID
}

func (m *memState) repositories() Repositories {
	return Repositories{
		Campaigns: memCampaigns{m},
		Logs:      memLogs{m},
		Customers: memCustomers{m},
		Segments:  memSegments{m},
	}
}

func (m *memState) addCustomer(c *models.Customer) *models.Customer {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = m.id()
	m.customers[c.ID] = c
	return c
}

func (m *memState) addSegment(s *models.Segment) *models.Segment {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.ID = m.id()
	m.segments[s.ID] = s
	return s
}

func (m *memState) campaign(id int) models.Campaign {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.campaigns[id]
}

func (m *memState) setCampaign(id int, fn func(c *models.Campaign)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m.campaigns[id])
}

func (m *memState) logsFor(campaignID int) map[int]models.CommunicationLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[int]models.CommunicationLog{}
	for _, l := range m.logs {
		if l.CampaignID == campaignID {
			out[l.CustomerID] = *l
		}
	}
	return out
}

func (m *memState) pendingCount(campaignID int) int {
	count := 0
	for _, l := range m.logs {
		if l.CampaignID == campaignID && l.Status == models.LogStatusPending {
			count++
		}
	}
	return count
}

func (m *memState) insertPending(campaign *models.Campaign, customerIDs []int) {
	for _, cid := range customerIDs {
		id := m.id()
		m.logs[id] = &models.CommunicationLog{
			ID:         id,
			CampaignID: campaign.ID,
			CustomerID: cid,
			Message:    campaign.Message,
			Status:     models.LogStatusPending,
		}
	}
}

type memCustomers struct{ *memState }

func (r memCustomers) Create(ctx context.Context, customer *models.Customer) error {
	r.addCustomer(customer)
	return nil
}

func (r memCustomers) GetByIDs(ctx context.Context, ids []int) ([]*models.Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*models.Customer{}
	for _, id := range ids {
		if c, ok := r.customers[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r memCustomers) ListAll(ctx context.Context) ([]*models.Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.Customer, 0, len(r.customers))
	for _, c := range r.customers {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b *models.Customer) int { return a.ID - b.ID })
	return out, nil
}

type memSegments struct{ *memState }

func (r memSegments) Create(ctx context.Context, segment *models.Segment) error {
	r.addSegment(segment)
	return nil
}

func (r memSegments) GetByID(ctx context.Context, id int) (*models.Segment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.segments[id]
	if !ok {
		return nil, fmt.Errorf("segment %d: %w", id, repository.ErrNotFound)
	}
	return s, nil
}

type memCampaigns struct{ *memState }

func (r memCampaigns) CreateWithAudience(ctx context.Context, campaign *models.Campaign, customerIDs []int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	campaign.ID = r.id()
	campaign.Stats = models.CampaignStats{TotalAudience: len(customerIDs)}
	stored := *campaign
	r.campaigns[campaign.ID] = &stored
	r.insertPending(campaign, customerIDs)
	return nil
}

func (r memCampaigns) GetByID(ctx context.Context, id int) (*models.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return nil, fmt.Errorf("campaign %d: %w", id, repository.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (r memCampaigns) List(ctx context.Context, filters repository.CampaignFilters) ([]*models.Campaign, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*models.Campaign{}
	for _, c := range r.campaigns {
		if filters.Status != nil && c.Status != *filters.Status {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	slices.SortFunc(out, func(a, b *models.Campaign) int { return b.ID - a.ID })
	return out, len(out), nil
}

func (r memCampaigns) Update(ctx context.Context, campaign *models.Campaign, audience []int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.campaigns[campaign.ID]
	if !ok || (stored.Status != models.CampaignStatusDraft && stored.Status != models.CampaignStatusScheduled) {
		return false, nil
	}
	if audience != nil {
		for id, l := range r.logs {
			if l.CampaignID == campaign.ID {
				delete(r.logs, id)
			}
		}
		r.insertPending(campaign, audience)
		campaign.Stats.TotalAudience = len(audience)
	}
	cp := *campaign
	r.campaigns[campaign.ID] = &cp
	return true, nil
}

func (r memCampaigns) TransitionStatus(ctx context.Context, id int, from []models.CampaignStatus, to models.CampaignStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok || !slices.Contains(from, c.Status) {
		return false, nil
	}
	c.Status = to
	c.CompletionDueAt = nil
	return true, nil
}

func (r memCampaigns) Delete(ctx context.Context, id int, allowed []models.CampaignStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok || !slices.Contains(allowed, c.Status) {
		return false, nil
	}
	delete(r.campaigns, id)
	for lid, l := range r.logs {
		if l.CampaignID == id {
			delete(r.logs, lid)
		}
	}
	return true, nil
}

func (r memCampaigns) ListDueScheduled(ctx context.Context, now time.Time) ([]*models.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*models.Campaign{}
	for _, c := range r.campaigns {
		if c.Status == models.CampaignStatusScheduled && c.ScheduledFor != nil && !c.ScheduledFor.After(now) {
			cp := *c
			out = append(out, &cp)
		}
	}
	slices.SortFunc(out, func(a, b *models.Campaign) int { return a.ID - b.ID })
	return out, nil
}

func (r memCampaigns) ArmCompletion(ctx context.Context, id int, dueAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok || c.Status != models.CampaignStatusRunning || c.CompletionDueAt != nil || r.pendingCount(id) > 0 {
		return false, nil
	}
	c.CompletionDueAt = &dueAt
	return true, nil
}

func (r memCampaigns) ArmIdleRunning(ctx context.Context, dueAt time.Time) ([]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := []int{}
	for id, c := range r.campaigns {
		if c.Status == models.CampaignStatusRunning && c.CompletionDueAt == nil && r.pendingCount(id) == 0 {
			c.CompletionDueAt = &dueAt
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (r memCampaigns) CompleteDue(ctx context.Context, now time.Time) ([]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := []int{}
	for id, c := range r.campaigns {
		if c.Status == models.CampaignStatusRunning && c.CompletionDueAt != nil && !c.CompletionDueAt.After(now) {
			c.Status = models.CampaignStatusCompleted
			c.CompletionDueAt = nil
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (r memCampaigns) ListRunningWithPending(ctx context.Context) ([]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := []int{}
	for id, c := range r.campaigns {
		if c.Status == models.CampaignStatusRunning && r.pendingCount(id) > 0 {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (r memCampaigns) ClaimDispatch(ctx context.Context, id int) (func(), bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.claims[id] {
		return nil, false, nil
	}
	r.claims[id] = true
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.claims, id)
	}, true, nil
}

type memLogs struct{ *memState }

func (r memLogs) ListPending(ctx context.Context, campaignID int) ([]*models.PendingDelivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*models.PendingDelivery{}
	for _, l := range r.logs {
		if l.CampaignID == campaignID && l.Status == models.LogStatusPending {
			out = append(out, &models.PendingDelivery{Log: *l, Customer: *r.customers[l.CustomerID]})
		}
	}
	slices.SortFunc(out, func(a, b *models.PendingDelivery) int { return a.Log.ID - b.Log.ID })
	return out, nil
}

func (r memLogs) RecordDispatchOutcome(ctx context.Context, campaignID int, outcome models.DispatchOutcome) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.logs[outcome.LogID]
	if !ok || l.CampaignID != campaignID || l.Status != models.LogStatusPending {
		return false, nil
	}
	l.Status = outcome.Status
	l.Message = outcome.Message
	l.MessageID = outcome.MessageID
	l.Channels = outcome.Channels
	l.Error = outcome.Error

	c := r.campaigns[campaignID]
	if outcome.Status == models.LogStatusSent {
		at := outcome.At
		l.SentAt = &at
		c.Stats.Sent++
	} else {
		c.Stats.Failed++
	}
	return true, nil
}

func (r memLogs) CountPending(ctx context.Context, campaignID int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pendingCount(campaignID), nil
}

func (r memLogs) ApplyDeliveryUpdates(ctx context.Context, campaignID int, updates []models.DeliveryUpdate) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delivered := 0
	for _, u := range updates {
		if u.Status != models.LogStatusDelivered && u.Status != models.LogStatusFailed {
			continue
		}
		for _, l := range r.logs {
			if l.CampaignID != campaignID || l.CustomerID != u.CustomerID || l.Status != models.LogStatusSent {
				continue
			}
			l.Status = u.Status
			if u.Status == models.LogStatusDelivered {
				at := u.At
				l.DeliveredAt = &at
				delivered++
			}
		}
	}
	if c, ok := r.campaigns[campaignID]; ok {
		c.Stats.Delivered = min(c.Stats.Delivered+delivered, c.Stats.Sent)
	}
	return delivered, nil
}

func repositoryFilters(page, pageSize int) repository.CampaignFilters {
	return repository.CampaignFilters{Page: page, PageSize: pageSize}
}
