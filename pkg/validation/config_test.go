package validation

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestConfigValidatorRules(t *testing.T) {
	tests := []struct {
		name    string
		apply   func(*ConfigValidator)
		wantErr bool
	}{
		{"required ok", func(cv *ConfigValidator) { cv.Required("Endpoint", "wss://x") }, false},
		{"required blank", func(cv *ConfigValidator) { cv.Required("Endpoint", "  ") }, true},
		{"url ok", func(cv *ConfigValidator) { cv.URL("Endpoint", "wss://chat.example.com/socket", "ws", "wss") }, false},
		{"url wrong scheme", func(cv *ConfigValidator) { cv.URL("Endpoint", "http://chat.example.com", "ws", "wss") }, true},
		{"url relative", func(cv *ConfigValidator) { cv.URL("Endpoint", "/socket") }, true},
		{"range in", func(cv *ConfigValidator) { cv.RangeInt("PageSize", 20, 1, 500) }, false},
		{"range out", func(cv *ConfigValidator) { cv.RangeInt("PageSize", 0, 1, 500) }, true},
		{"positive", func(cv *ConfigValidator) { cv.Positive("MaxAttempts", 0) }, true},
		{"non-negative", func(cv *ConfigValidator) { cv.NonNegative("RetryCount", 0) }, false},
		{"min float", func(cv *ConfigValidator) { cv.MinFloat("Growth", 0.5, 1) }, true},
		{"min duration", func(cv *ConfigValidator) { cv.MinDuration("Timeout", time.Millisecond, 10*time.Millisecond) }, true},
		{"duration order", func(cv *ConfigValidator) {
			cv.DurationOrder("Base", 10*time.Second, "Max", 5*time.Second)
		}, true},
		{"one of", func(cv *ConfigValidator) { cv.OneOf("Mode", "remote", "local", "remote") }, false},
		{"one of miss", func(cv *ConfigValidator) { cv.OneOf("Mode", "hybrid", "local", "remote") }, true},
		{"custom", func(cv *ConfigValidator) { cv.Custom("X", func() error { return errors.New("bad") }) }, true},
		{"when false", func(cv *ConfigValidator) { cv.When(false, func(cv *ConfigValidator) { cv.Positive("X", -1) }) }, false},
		{"when true", func(cv *ConfigValidator) { cv.When(true, func(cv *ConfigValidator) { cv.Positive("X", -1) }) }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cv := NewConfigValidator("Config")
			tt.apply(cv)
			err := cv.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfigValidatorJoinsErrors(t *testing.T) {
	custom := errors.New("custom failure")
	err := NewConfigValidator("Search").
		Positive("PageSize", 0).
		Custom("Keys", func() error { return custom }).
		Validate()

	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "2 validation errors") {
		t.Errorf("unexpected message: %v", err)
	}
	if !errors.Is(err, custom) {
		t.Error("joined error should wrap the custom error")
	}
	if !strings.Contains(err.Error(), "Search.PageSize") {
		t.Errorf("message should name the field: %v", err)
	}
}

func TestDefaults(t *testing.T) {
	if got := DefaultOr("", "/"); got != "/" {
		t.Errorf("DefaultOr = %q", got)
	}
	if got := DefaultOrInt(-1, 5); got != 5 {
		t.Errorf("DefaultOrInt = %d", got)
	}
	if got := DefaultOrInt(3, 5); got != 3 {
		t.Errorf("DefaultOrInt = %d", got)
	}
	if got := DefaultOrFloat(0, 1.5); got != 1.5 {
		t.Errorf("DefaultOrFloat = %v", got)
	}
	if got := DefaultOrDuration(0, time.Second); got != time.Second {
		t.Errorf("DefaultOrDuration = %v", got)
	}
}
