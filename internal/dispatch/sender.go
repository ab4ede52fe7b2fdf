package dispatch

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"campaignengine/internal/models"
)

// Sender delivers a message over one channel and returns the vendor message ID
type Sender interface {
	Send(ctx context.Context, to, message string) (string, error)
}

// SenderFunc adapts a function to the Sender interface
type SenderFunc func(ctx context.Context, to, message string) (string, error)

// Send calls f
func (f SenderFunc) Send(ctx context.Context, to, message string) (string, error) {
	return f(ctx, to, message)
}

// SimulatedSender stands in for an email or SMS vendor.
// Each send sleeps for a random latency and succeeds with the configured probability.
type SimulatedSender struct {
	channel     models.Channel
	minLatency  time.Duration
	maxLatency  time.Duration
	mu          sync.RWMutex
	successRate float64
}

// NewSimulatedSender creates a simulated vendor for the channel.
// successRate is clamped to 0.0..1.0.
func NewSimulatedSender(channel models.Channel, successRate float64, minLatency, maxLatency time.Duration) *SimulatedSender {
	if maxLatency < minLatency {
		maxLatency = minLatency
	}
	return &SimulatedSender{
		channel:     channel,
		minLatency:  minLatency,
		maxLatency:  maxLatency,
		successRate: clampRate(successRate),
	}
}

// Send simulates a vendor call
func (s *SimulatedSender) Send(ctx context.Context, to, message string) (string, error) {
	latency := s.minLatency
	if spread := s.maxLatency - s.minLatency; spread > 0 {
		latency += rand.N(spread)
	}

	if latency > 0 {
		timer := time.NewTimer(latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
		}
	}

	if rand.Float64() >= s.SuccessRate() {
		failures := []string{
			"network timeout",
			"recipient rejected",
			"rate limit exceeded",
			"service temporarily unavailable",
			"insufficient balance",
		}
		return "", fmt.Errorf("failed to send %s to %s: %s", s.channel, to, failures[rand.IntN(len(failures))])
	}

	return strings.ToUpper(string(s.channel)) + "_" + uuid.NewString(), nil
}

// SuccessRate returns the configured success rate
func (s *SimulatedSender) SuccessRate() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.successRate
}

// SetSuccessRate updates the success rate
func (s *SimulatedSender) SetSuccessRate(rate float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.successRate = clampRate(rate)
}

func clampRate(rate float64) float64 {
	if rate < 0.0 {
		return 0.0
	}
	if rate > 1.0 {
		return 1.0
	}
	return rate
}
