package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

// MockCompleter is a mock implementation of Completer
type MockCompleter struct {
	mock.Mock
}

func (m *MockCompleter) ArmIdleRunning(ctx context.Context) ([]int, error) {
	args := m.Called(ctx)
	ids, _ := args.Get(0).([]int)
	return ids, args.Error(1)
}

func (m *MockCompleter) CompleteDue(ctx context.Context) ([]int, error) {
	args := m.Called(ctx)
	ids, _ := args.Get(0).([]int)
	return ids, args.Error(1)
}

func TestCompletionSweeper_RearmsOnStartAndSweeps(t *testing.T) {
	completer := new(MockCompleter)
	completer.On("ArmIdleRunning", mock.Anything).Return([]int{3}, nil)
	swept := make(chan struct{}, 1)
	completer.On("CompleteDue", mock.Anything).Return([]int{3}, nil).Run(func(mock.Arguments) {
		select {
		case swept <- struct{}{}:
		default:
		}
	})

	sweeper := NewCompletionSweeper(completer, 5*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sweeper.Run(ctx) }()

	select {
	case <-swept:
	case <-time.After(time.Second):
		t.Fatal("sweeper never ran CompleteDue")
	}

	cancel()
	assert.NoError(t, <-done)
	completer.AssertCalled(t, "ArmIdleRunning", mock.Anything)
}

func TestCompletionSweeper_SweepSurvivesErrors(t *testing.T) {
	completer := new(MockCompleter)
	completer.On("ArmIdleRunning", mock.Anything).Return(nil, errors.New("db down"))
	completer.On("CompleteDue", mock.Anything).Return(nil, errors.New("db down"))

	sweeper := NewCompletionSweeper(completer, time.Minute, zap.NewNop())

	assert.NotPanics(t, func() { sweeper.Sweep(context.Background()) })
	completer.AssertNumberOfCalls(t, "CompleteDue", 1)
}
