package validation

import (
	"strings"
	"testing"
)

type sessionForm struct {
	Endpoint  string `validate:"required,wsurl"`
	Namespace string `validate:"omitempty,nspath"`
	PageSize  int    `validate:"gte=1,lte=500"`
}

func TestStruct(t *testing.T) {
	tests := []struct {
		name    string
		in      sessionForm
		wantErr string
	}{
		{"valid", sessionForm{Endpoint: "wss://chat.example.com/socket", Namespace: "/chat", PageSize: 20}, ""},
		{"missing endpoint", sessionForm{PageSize: 20}, "Endpoint: is required"},
		{"http endpoint", sessionForm{Endpoint: "https://chat.example.com", PageSize: 20}, "not a ws:// or wss:// URL"},
		{"bad namespace", sessionForm{Endpoint: "ws://localhost:8080", Namespace: "chat", PageSize: 20}, "not a namespace path"},
		{"page size", sessionForm{Endpoint: "ws://localhost:8080", PageSize: 0}, "PageSize"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Struct(&tt.in)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestStructNil(t *testing.T) {
	if err := Struct(nil); err == nil {
		t.Error("expected error for nil")
	}
}
