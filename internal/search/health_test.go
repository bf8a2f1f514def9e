package search

import (
	"errors"
	"testing"
	"time"
)

func TestProviderBlockedAfterConsecutiveFailures(t *testing.T) {
	service := NewService([]Provider{
		&fakeProvider{name: "flaky"},
	}, time.Second)

	now := time.Now()
	failure := errors.New("connection refused")
	for i := 0; i < providerFailureThreshold; i++ {
		if blocked, _, _ := service.isProviderBlocked("flaky", now); blocked {
			t.Fatalf("provider blocked too early, after %d failures", i)
		}
		service.recordProviderResult("flaky", "test", failure, 10*time.Millisecond, now)
	}

	blocked, until, lastErr := service.isProviderBlocked("flaky", now)
	if !blocked {
		t.Fatal("expected provider blocked at the failure threshold")
	}
	if !until.After(now) {
		t.Fatalf("expected future unblock time, got %v", until)
	}
	if lastErr == "" {
		t.Fatal("expected last error to be recorded")
	}
}

func TestProviderSuccessResetsFailures(t *testing.T) {
	service := NewService([]Provider{
		&fakeProvider{name: "recovering"},
	}, time.Second)

	now := time.Now()
	failure := errors.New("timeout")
	service.recordProviderResult("recovering", "q", failure, 0, now)
	service.recordProviderResult("recovering", "q", failure, 0, now)
	service.recordProviderResult("recovering", "q", nil, 5*time.Millisecond, now)
	service.recordProviderResult("recovering", "q", failure, 0, now)
	service.recordProviderResult("recovering", "q", failure, 0, now)

	if blocked, _, _ := service.isProviderBlocked("recovering", now); blocked {
		t.Fatal("a success in between must reset the failure streak")
	}
}

func TestExponentialBlockDuration(t *testing.T) {
	cases := []struct {
		failures int
		want     time.Duration
	}{
		{3, 2 * time.Minute},
		{4, 4 * time.Minute},
		{5, 8 * time.Minute},
		{6, 15 * time.Minute},
		{10, 15 * time.Minute},
	}
	for _, tc := range cases {
		if got := exponentialBlockDuration(tc.failures); got != tc.want {
			t.Fatalf("exponentialBlockDuration(%d) = %v, want %v", tc.failures, got, tc.want)
		}
	}
}

func TestBlockExpires(t *testing.T) {
	service := NewService([]Provider{
		&fakeProvider{name: "healing"},
	}, time.Second)

	now := time.Now()
	failure := errors.New("http 503")
	for i := 0; i < providerFailureThreshold; i++ {
		service.recordProviderResult("healing", "q", failure, 0, now)
	}

	if blocked, _, _ := service.isProviderBlocked("healing", now); !blocked {
		t.Fatal("expected provider blocked")
	}
	later := now.Add(3 * time.Minute)
	if blocked, _, _ := service.isProviderBlocked("healing", later); blocked {
		t.Fatal("expected block to lapse after the base duration")
	}
}

func TestProviderDiagnosticsExposeState(t *testing.T) {
	service := NewService([]Provider{
		&fakeProvider{name: "alpha"},
		&fakeProvider{name: "beta"},
	}, time.Second)

	now := time.Now()
	service.recordProviderResult("beta", "catan", errors.New("deadline exceeded"), 250*time.Millisecond, now)

	items := service.ProviderDiagnostics()
	if len(items) != 2 {
		t.Fatalf("expected 2 diagnostics entries, got %d", len(items))
	}
	if items[0].Name != "alpha" || items[1].Name != "beta" {
		t.Fatalf("expected alphabetical order, got %#v", items)
	}
	beta := items[1]
	if beta.ConsecutiveFailures != 1 || beta.LastError == "" {
		t.Fatalf("expected failure state on beta: %#v", beta)
	}
	if beta.TimeoutCount != 1 {
		t.Fatalf("expected timeout-like error counted, got %d", beta.TimeoutCount)
	}
	if beta.LastQuery != "catan" {
		t.Fatalf("expected last query recorded, got %q", beta.LastQuery)
	}
}
