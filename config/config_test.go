package config

import (
	"strings"
	"testing"
	"time"
)

func validResearch() ResearchConfig {
	return ResearchConfig{
		DefaultBreadth:      4,
		DefaultDepth:        2,
		MaxBreadth:          10,
		MaxDepth:            5,
		MaxLearnings:        5,
		MaxFollowUps:        3,
		ConcurrencyLimit:    2,
		SearchPacingMin:     time.Second,
		SearchPacingMax:     2 * time.Second,
		FetchPacingMin:      3 * time.Second,
		FetchPacingMax:      8 * time.Second,
		SearchRetryAttempts: 3,
		FetchRetryAttempts:  2,
	}
}

func TestResearchConfigValidate(t *testing.T) {
	if err := validResearch().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	bad := validResearch()
	bad.DefaultBreadth = 0
	if err := bad.Validate(); err == nil {
		t.Fatal("zero breadth should be rejected")
	}

	bad = validResearch()
	bad.DefaultDepth = 6
	if err := bad.Validate(); err == nil || !strings.Contains(err.Error(), "max_depth") {
		t.Fatalf("depth above maximum should be rejected, got %v", err)
	}
}

func TestSearchConfigValidate(t *testing.T) {
	ok := SearchConfig{Provider: "brave", MaxResults: 5}
	if err := ok.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	bad := SearchConfig{Provider: "bing", MaxResults: 5}
	if err := bad.Validate(); err == nil {
		t.Fatal("unknown provider should be rejected")
	}
}

func TestFetchConfigValidate(t *testing.T) {
	if err := (FetchConfig{Fetcher: "readability"}).Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	if err := (FetchConfig{Fetcher: "wget"}).Validate(); err == nil {
		t.Fatal("unknown fetcher should be rejected")
	}
}

func TestRateLimitConfigValidate(t *testing.T) {
	ok := RateLimitConfig{
		Enabled:              true,
		SearchPerMinute:      5,
		FetchPerMinute:       20,
		ReportPerMinute:      5,
		GlobalFetchPerMinute: 20,
	}
	if err := ok.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	disabled := RateLimitConfig{Enabled: false}
	if err := disabled.Validate(); err != nil {
		t.Fatalf("disabled limiter should skip budget checks: %v", err)
	}

	bad := ok
	bad.SearchPerMinute = 0
	if err := bad.Validate(); err == nil {
		t.Fatal("zero budget should be rejected when enabled")
	}
}

func TestRedisConfigValidate(t *testing.T) {
	if err := (RedisConfig{Enabled: false}).Validate(); err != nil {
		t.Fatalf("disabled redis should validate: %v", err)
	}
	if err := (RedisConfig{Enabled: true, Host: "localhost"}).Validate(); err == nil {
		t.Fatal("missing port should be rejected")
	}
	if err := (RedisConfig{Enabled: true, Host: "localhost", Port: "6379"}).Validate(); err != nil {
		t.Fatalf("valid redis config rejected: %v", err)
	}
}
