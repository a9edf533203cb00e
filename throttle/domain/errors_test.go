package domain

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

type flaggedErr struct{}

func (flaggedErr) Error() string     { return "slow down" }
func (flaggedErr) RateLimited() bool { return true }

func TestIsRateLimited(t *testing.T) {
	rl := &RateLimitedError{URL: "https://ebay.com", StatusCode: 429, RetryAfter: 2 * time.Second}
	if !IsRateLimited(rl) {
		t.Fatalf("expected 429 error to be rate limited")
	}
	if !IsRateLimited(fmt.Errorf("fetch: %w", rl)) {
		t.Fatalf("expected wrapped 429 error to be rate limited")
	}
	if !IsRateLimited(flaggedErr{}) {
		t.Fatalf("expected flagged error to be rate limited")
	}
	if IsRateLimited(errors.New("boom")) {
		t.Fatalf("expected plain error not to be rate limited")
	}
	if got := RetryAfterOf(fmt.Errorf("x: %w", rl)); got != 2*time.Second {
		t.Fatalf("expected retry after 2s, got %s", got)
	}
}

func TestRetriesExhaustedError_NamesDomain(t *testing.T) {
	err := &RetriesExhaustedError{Domain: "ebay.com", Attempts: 3, Last: &RateLimitedError{StatusCode: 429}}
	if got := err.Error(); !strings.Contains(got, "ebay.com") {
		t.Fatalf("expected domain in message, got %q", got)
	}
	var rl *RateLimitedError
	if !errors.As(err, &rl) {
		t.Fatalf("expected last error to be reachable via errors.As")
	}
}

func TestConfigPatch_Apply(t *testing.T) {
	base := RateLimitConfig{Domain: "x.com", RequestsPerWindow: 10, Window: time.Minute, MinDelay: time.Second}
	n := 2
	out := ConfigPatch{RequestsPerWindow: &n}.Apply(base)
	if out.RequestsPerWindow != 2 || out.Window != time.Minute || out.MinDelay != time.Second {
		t.Fatalf("unexpected merge result: %+v", out)
	}
	if base.RequestsPerWindow != 10 {
		t.Fatalf("base must not be mutated")
	}
}
