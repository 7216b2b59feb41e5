package failover

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/codyaverett/mcp-agent/internal/provider"
)

type mockProvider struct {
	id     string
	models []string
	errs   []error
}

func (m *mockProvider) ID() string { return m.id }

func (m *mockProvider) Complete(_ context.Context, req *provider.CompletionRequest) (*provider.CompletionResponse, error) {
	m.models = append(m.models, req.Model)
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &provider.CompletionResponse{Content: "ok from " + m.id}, nil
}

func setupTest(t *testing.T, providers ...*mockProvider) *provider.Registry {
	t.Helper()
	reg := provider.NewRegistry()
	for _, p := range providers {
		if err := reg.Register(p); err != nil {
			t.Fatal(err)
		}
	}
	return reg
}

func rateLimited(id string) error {
	return &provider.APIError{Provider: id, Status: 429, Body: "slow down"}
}

func TestCompleteSuccess(t *testing.T) {
	anthropic := &mockProvider{id: "anthropic"}
	ctrl, err := NewController(setupTest(t, anthropic), nil, "anthropic/claude-haiku-4", nil, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	req := &provider.CompletionRequest{Model: "ignored"}
	resp, err := ctrl.Complete(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "ok from anthropic" {
		t.Errorf("unexpected content: %s", resp.Content)
	}
	if len(anthropic.models) != 1 || anthropic.models[0] != "claude-haiku-4" {
		t.Errorf("provider saw models %v, want [claude-haiku-4]", anthropic.models)
	}
	if req.Model != "ignored" {
		t.Errorf("req.Model should be restored, got %q", req.Model)
	}
	if ctrl.ID() != "anthropic/claude-haiku-4" {
		t.Errorf("ID() = %q", ctrl.ID())
	}
}

func TestCompleteFallsBackOnRateLimit(t *testing.T) {
	anthropic := &mockProvider{id: "anthropic", errs: []error{rateLimited("anthropic")}}
	openai := &mockProvider{id: "openai"}
	cooldowns := NewCooldownTracker(DefaultCooldownConfig())
	ctrl, err := NewController(setupTest(t, anthropic, openai), cooldowns,
		"anthropic/claude-haiku-4", []provider.ModelRef{"openai/gpt-4o-mini"}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	resp, err := ctrl.Complete(context.Background(), &provider.CompletionRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "ok from openai" {
		t.Errorf("expected fallback response, got %s", resp.Content)
	}
	if !cooldowns.InCooldown("anthropic", time.Now()) {
		t.Error("anthropic should be cooling down after a 429")
	}

	// The benched provider is skipped on the next call.
	if _, err := ctrl.Complete(context.Background(), &provider.CompletionRequest{}); err != nil {
		t.Fatal(err)
	}
	if len(anthropic.models) != 1 {
		t.Errorf("anthropic called %d times, want 1", len(anthropic.models))
	}
	if len(openai.models) != 2 {
		t.Errorf("openai called %d times, want 2", len(openai.models))
	}
}

func TestCompleteStopsOnNonRetryable(t *testing.T) {
	bad := &provider.APIError{Provider: "anthropic", Status: 400, Body: "bad request"}
	anthropic := &mockProvider{id: "anthropic", errs: []error{bad}}
	openai := &mockProvider{id: "openai"}
	ctrl, err := NewController(setupTest(t, anthropic, openai), nil,
		"anthropic/claude-haiku-4", []provider.ModelRef{"openai/gpt-4o-mini"}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	_, err = ctrl.Complete(context.Background(), &provider.CompletionRequest{})
	if !errors.Is(err, bad) {
		t.Errorf("expected the 400 to surface, got %v", err)
	}
	if len(openai.models) != 0 {
		t.Error("fallback should not be tried after a non-retryable error")
	}
}

func TestCompleteAllExhausted(t *testing.T) {
	down := &provider.APIError{Provider: "x", Status: 503, Body: "unavailable"}
	anthropic := &mockProvider{id: "anthropic", errs: []error{down}}
	openai := &mockProvider{id: "openai", errs: []error{down}}
	ctrl, err := NewController(setupTest(t, anthropic, openai), nil,
		"anthropic/claude-haiku-4", []provider.ModelRef{"openai/gpt-4o-mini", "anthropic/claude-haiku-4"}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	_, err = ctrl.Complete(context.Background(), &provider.CompletionRequest{})
	var ae *AllExhaustedError
	if !errors.As(err, &ae) {
		t.Fatalf("expected AllExhaustedError, got %v", err)
	}
	if len(ae.Attempted) != 2 {
		t.Errorf("attempted %v, want two distinct models", ae.Attempted)
	}
	if !errors.Is(err, down) {
		t.Error("AllExhaustedError should unwrap to the last failure")
	}
}

func TestCompleteAllCoolingDown(t *testing.T) {
	anthropic := &mockProvider{id: "anthropic"}
	cooldowns := NewCooldownTracker(DefaultCooldownConfig())
	cooldowns.PutInCooldown("anthropic", time.Now())
	ctrl, err := NewController(setupTest(t, anthropic), cooldowns, "anthropic/claude-haiku-4", nil, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	_, err = ctrl.Complete(context.Background(), &provider.CompletionRequest{})
	var ae *AllExhaustedError
	if !errors.As(err, &ae) {
		t.Fatalf("expected AllExhaustedError, got %v", err)
	}
	if len(ae.Attempted) != 0 || len(anthropic.models) != 0 {
		t.Error("no model should be attempted while every provider cools down")
	}
}

func TestNewControllerValidatesModels(t *testing.T) {
	reg := setupTest(t, &mockProvider{id: "openai"})
	if _, err := NewController(reg, nil, "anthropic/claude-haiku-4", nil, zerolog.Nop()); err == nil {
		t.Error("expected error for unregistered provider")
	}
	if _, err := NewController(reg, nil, "openai/gpt", []provider.ModelRef{"nomodel"}, zerolog.Nop()); err == nil {
		t.Error("expected error for invalid fallback ref")
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
		rateLimit bool
		auth      bool
	}{
		{"429", rateLimited("a"), true, true, false},
		{"401", &provider.APIError{Status: 401}, true, false, true},
		{"403 wrapped", fmt.Errorf("call: %w", &provider.APIError{Status: 403}), true, false, true},
		{"500", &provider.APIError{Status: 500}, true, false, false},
		{"400", &provider.APIError{Status: 400}, false, false, false},
		{"deadline", context.DeadlineExceeded, true, false, false},
		{"canceled", context.Canceled, false, false, false},
		{"plain", errors.New("decode failed"), false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.retryable {
				t.Errorf("IsRetryable = %v, want %v", got, tt.retryable)
			}
			if got := IsRateLimitError(tt.err); got != tt.rateLimit {
				t.Errorf("IsRateLimitError = %v, want %v", got, tt.rateLimit)
			}
			if got := IsAuthError(tt.err); got != tt.auth {
				t.Errorf("IsAuthError = %v, want %v", got, tt.auth)
			}
		})
	}
}

func TestCooldownGrowsAndCaps(t *testing.T) {
	ct := NewCooldownTracker(CooldownConfig{Initial: time.Minute, Max: 10 * time.Minute, Multiplier: 5})
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if got := ct.PutInCooldown("p", now); !got.Equal(now.Add(time.Minute)) {
		t.Errorf("first cooldown until %v", got)
	}
	if got := ct.PutInCooldown("p", now); !got.Equal(now.Add(5 * time.Minute)) {
		t.Errorf("second cooldown until %v", got)
	}
	if got := ct.PutInCooldown("p", now); !got.Equal(now.Add(10 * time.Minute)) {
		t.Errorf("third cooldown should cap at max, until %v", got)
	}
	if !ct.InCooldown("p", now.Add(9*time.Minute)) {
		t.Error("should still be cooling down")
	}
	ct.Reset("p")
	if ct.InCooldown("p", now) {
		t.Error("reset should clear the cooldown")
	}
}
