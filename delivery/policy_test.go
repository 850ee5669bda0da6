package delivery

import (
	"errors"
	"net/http"
	"testing"
	"time"
)

func TestPolicy_Decide(t *testing.T) {
	p := DefaultPolicy()
	tests := []struct {
		name string
		err  error
		want Action
	}{
		{"ok", nil, ActionSucceed},
		{"not found", &StatusError{Code: http.StatusNotFound}, ActionReject},
		{"server error", &StatusError{Code: http.StatusInternalServerError}, ActionRetry},
		{"bad request", &StatusError{Code: http.StatusBadRequest}, ActionRetry},
		{"created is not 200", &StatusError{Code: http.StatusCreated}, ActionRetry},
		{"transport", errors.New("connection refused"), ActionRetry},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.Decide(tt.err); got != tt.want {
				t.Errorf("Decide = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestPolicy_DelayBounds(t *testing.T) {
	p := Policy{Base: time.Second, MaxAttempts: 5}
	for attempt := 1; attempt <= 5; attempt++ {
		lo := p.Delay(attempt, func() float64 { return 0 })
		hi := p.Delay(attempt, func() float64 { return 0.999999 })
		if lo != time.Second {
			t.Errorf("attempt %d: min delay = %s, want 1s", attempt, lo)
		}
		if hi > time.Duration(attempt)*time.Second || hi < lo {
			t.Errorf("attempt %d: max delay = %s out of range", attempt, hi)
		}
	}
	if d := p.Delay(1, func() float64 { return 0.7 }); d != time.Second {
		t.Errorf("first retry delay = %s, want exactly base", d)
	}
}

func TestPolicy_Exhausted(t *testing.T) {
	p := Policy{Base: time.Second, MaxAttempts: 3}
	if p.Exhausted(2) {
		t.Error("2 of 3 attempts should not be exhausted")
	}
	if !p.Exhausted(3) {
		t.Error("3 of 3 attempts should be exhausted")
	}
}

func TestEndpoint(t *testing.T) {
	tests := []struct {
		base, token, want string
	}{
		{"https://api.example.com/turno/", "abc", "https://api.example.com/turno/abc"},
		{"https://api.example.com/turno?token=", "abc", "https://api.example.com/turno?token=abc"},
		{"https://api.example.com/turno", "abc", "https://api.example.com/turno?token=abc"},
		{"https://api.example.com/turno?x=1", "a b", "https://api.example.com/turno?token=a+b&x=1"},
		{"https://api.example.com/turno", "", "https://api.example.com/turno"},
	}
	for _, tt := range tests {
		got, err := Endpoint(tt.base, tt.token)
		if err != nil {
			t.Fatalf("Endpoint(%q): %v", tt.base, err)
		}
		if got != tt.want {
			t.Errorf("Endpoint(%q, %q) = %q, want %q", tt.base, tt.token, got, tt.want)
		}
	}
}
