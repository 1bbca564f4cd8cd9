package main

import (
	"checkout/internal/pkg/bootstrap"
	"testing"
	"time"
)

func TestRefundSettingsFollowRemoteConfig(t *testing.T) {
	if _, err := bootstrap.Load(""); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := refundSettings(); got.MaxAttempts != 3 || got.Backoff != 5*time.Second {
		t.Fatalf("defaults = %+v", got)
	}
	if _, err := bootstrap.ApplyRemote("refund:\n  max_attempts: 6\n  backoff: 1s\n"); err != nil {
		t.Fatalf("ApplyRemote: %v", err)
	}
	if got := refundSettings(); got.MaxAttempts != 6 || got.Backoff != time.Second {
		t.Fatalf("after reload = %+v", got)
	}
}
