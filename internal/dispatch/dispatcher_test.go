package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"campaignengine/internal/models"
	"campaignengine/internal/tasks"
)

// MockReceiptSink is a mock implementation of ReceiptSink
type MockReceiptSink struct {
	mock.Mock
}

func (m *MockReceiptSink) Submit(ctx context.Context, receipt models.DeliveryReceipt) error {
	args := m.Called(ctx, receipt)
	return args.Error(0)
}

// recordingSender remembers every address it was asked to deliver to
type recordingSender struct {
	mu   sync.Mutex
	to   []string
	fail error
}

func (s *recordingSender) Send(ctx context.Context, to, message string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.to = append(s.to, to)
	if s.fail != nil {
		return "", s.fail
	}
	return "VENDOR_" + to, nil
}

func (s *recordingSender) calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.to...)
}

func strPtr(s string) *string { return &s }

func newTestDispatcher(email, sms Sender, sink ReceiptSink, runner Runner) *Dispatcher {
	return New(
		map[models.Channel]Sender{models.ChannelEmail: email, models.ChannelSMS: sms},
		sink,
		runner,
		Config{AckDelay: time.Millisecond},
		zap.NewNop(),
	)
}

func TestDispatch_AllChannelsSucceed(t *testing.T) {
	email, sms := &recordingSender{}, &recordingSender{}
	sink := new(MockReceiptSink)
	sink.On("Submit", mock.Anything, mock.MatchedBy(func(r models.DeliveryReceipt) bool {
		return r.CampaignID == 7 && r.CustomerID == 1 && r.Status == models.LogStatusDelivered && len(r.Channels) == 2
	})).Return(nil).Once()

	group := tasks.New(zap.NewNop())
	d := newTestDispatcher(email, sms, sink, group)

	customer := &models.Customer{ID: 1, Email: strPtr("a@example.com"), Phone: strPtr("9876543210")}
	result, err := d.Dispatch(context.Background(), 7, customer, "hello")
	require.NoError(t, err)
	d.Acknowledge(7, customer.ID, result)
	group.Wait()

	assert.Contains(t, result.MessageID, "MSG_")
	assert.True(t, result.Channels[models.ChannelEmail].Success)
	assert.True(t, result.Channels[models.ChannelSMS].Success)
	assert.Equal(t, []string{"+919876543210"}, sms.calls())
	sink.AssertExpectations(t)
}

func TestDispatch_PartialFailureStillSucceeds(t *testing.T) {
	email := &recordingSender{fail: errors.New("mailbox full")}
	sms := &recordingSender{}
	sink := new(MockReceiptSink)
	sink.On("Submit", mock.Anything, mock.Anything).Return(nil).Once()

	group := tasks.New(zap.NewNop())
	d := newTestDispatcher(email, sms, sink, group)

	customer := &models.Customer{ID: 2, Email: strPtr("b@example.com"), Phone: strPtr("919876543210")}
	result, err := d.Dispatch(context.Background(), 7, customer, "hello")
	require.NoError(t, err)
	d.Acknowledge(7, customer.ID, result)
	group.Wait()

	assert.False(t, result.Channels[models.ChannelEmail].Success)
	assert.Contains(t, result.Channels[models.ChannelEmail].Error, "mailbox full")
	assert.True(t, result.Channels[models.ChannelSMS].Success)
	sink.AssertExpectations(t)
}

func TestDispatch_AllChannelsFailed(t *testing.T) {
	email := &recordingSender{fail: errors.New("bounced")}
	sink := new(MockReceiptSink)
	group := tasks.New(zap.NewNop())
	d := newTestDispatcher(email, &recordingSender{}, sink, group)

	customer := &models.Customer{ID: 3, Email: strPtr("c@example.com")}
	result, err := d.Dispatch(context.Background(), 7, customer, "hello")
	d.Acknowledge(7, customer.ID, result)
	group.Wait()

	var allErr *AllChannelsFailedError
	require.ErrorAs(t, err, &allErr)
	assert.Equal(t, 3, allErr.CustomerID)
	require.Len(t, allErr.Failures, 1)
	assert.Equal(t, models.ChannelEmail, allErr.Failures[0].Channel)
	require.NotNil(t, result)
	assert.False(t, result.Channels[models.ChannelEmail].Success)
	sink.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)
}

func TestDispatch_NoReachableChannel(t *testing.T) {
	d := newTestDispatcher(&recordingSender{}, &recordingSender{}, nil, nil)

	_, err := d.Dispatch(context.Background(), 7, &models.Customer{ID: 4}, "hello")

	var allErr *AllChannelsFailedError
	require.ErrorAs(t, err, &allErr)
	assert.Empty(t, allErr.Failures)
	assert.Contains(t, err.Error(), "no reachable channel")
}

func TestDispatch_InvalidPhoneNeverReachesVendor(t *testing.T) {
	sms := &recordingSender{}
	d := newTestDispatcher(&recordingSender{}, sms, nil, nil)

	customer := &models.Customer{ID: 5, Phone: strPtr("987654321")}
	result, err := d.Dispatch(context.Background(), 7, customer, "hello")

	var allErr *AllChannelsFailedError
	require.ErrorAs(t, err, &allErr)
	var phoneErr *InvalidPhoneError
	assert.ErrorAs(t, allErr.Failures[0], &phoneErr)
	assert.Empty(t, sms.calls())
	assert.False(t, result.Channels[models.ChannelSMS].Success)
}

func TestDispatch_MissingSender(t *testing.T) {
	d := New(map[models.Channel]Sender{}, nil, nil, Config{}, zap.NewNop())

	customer := &models.Customer{ID: 6, Email: strPtr("d@example.com")}
	_, err := d.Dispatch(context.Background(), 7, customer, "hello")

	assert.ErrorContains(t, err, "no sender configured")
}

func TestDispatch_AckFailureIsSupervised(t *testing.T) {
	sink := new(MockReceiptSink)
	sink.On("Submit", mock.Anything, mock.Anything).Return(errors.New("broker down")).Once()

	group := tasks.New(zap.NewNop())
	d := newTestDispatcher(&recordingSender{}, &recordingSender{}, sink, group)

	customer := &models.Customer{ID: 8, Email: strPtr("e@example.com")}
	result, err := d.Dispatch(context.Background(), 7, customer, "hello")
	require.NoError(t, err)
	d.Acknowledge(7, customer.ID, result)

	assert.NotPanics(t, group.Wait)
	sink.AssertExpectations(t)
}

func TestDispatch_DoesNotAcknowledgeOnItsOwn(t *testing.T) {
	sink := new(MockReceiptSink)
	group := tasks.New(zap.NewNop())
	d := newTestDispatcher(&recordingSender{}, &recordingSender{}, sink, group)

	customer := &models.Customer{ID: 9, Email: strPtr("f@example.com")}
	_, err := d.Dispatch(context.Background(), 7, customer, "hello")
	require.NoError(t, err)
	group.Wait()

	sink.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)
}

func TestSimulatedSender(t *testing.T) {
	always := NewSimulatedSender(models.ChannelSMS, 1.5, 0, 0)
	id, err := always.Send(context.Background(), "+919876543210", "hi")
	require.NoError(t, err)
	assert.Contains(t, id, "SMS_")
	assert.Equal(t, 1.0, always.SuccessRate())

	never := NewSimulatedSender(models.ChannelEmail, 0, 0, 0)
	_, err = never.Send(context.Background(), "x@example.com", "hi")
	assert.ErrorContains(t, err, "failed to send email")

	slow := NewSimulatedSender(models.ChannelEmail, 1, time.Hour, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = slow.Send(ctx, "x@example.com", "hi")
	assert.ErrorIs(t, err, context.Canceled)
}
