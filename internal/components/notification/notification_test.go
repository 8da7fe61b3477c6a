package notification

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"
)

const secret = "hook-secret"

func validHeaders() Headers {
	return Headers{
		ChannelToken:      secret,
		ResourceState:     StateSync,
		ResourceID:        "res-1",
		ChannelExpiration: "Tue, 07 May 2024 01:00:00 GMT",
		ChannelID:         "chan-1",
	}
}

func TestValidate_Sync(t *testing.T) {
	ev, err := Validate(validHeaders(), secret)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	sync, ok := ev.(SyncEvent)
	if !ok {
		t.Fatalf("expected SyncEvent, got %T", ev)
	}
	want := time.Date(2024, 5, 7, 1, 0, 0, 0, time.UTC)
	if !sync.ChannelExpiration.Equal(want) {
		t.Errorf("expiration = %v, want %v", sync.ChannelExpiration, want)
	}
	if sync.ResourceID != "res-1" || sync.ChannelID != "chan-1" {
		t.Errorf("unexpected event %+v", sync)
	}
}

func TestValidate_Exists(t *testing.T) {
	h := validHeaders()
	h.ResourceState = StateExists
	ev, err := Validate(h, secret)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if _, ok := ev.(ChangedEvent); !ok {
		t.Fatalf("expected ChangedEvent, got %T", ev)
	}
}

func TestValidate_Failures(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Headers)
		secret   string
		field    string
		badToken bool
	}{
		{"missing token", func(h *Headers) { h.ChannelToken = "" }, secret, HeaderChannelToken, true},
		{"wrong token", func(h *Headers) { h.ChannelToken = "nope" }, secret, HeaderChannelToken, true},
		{"unconfigured secret", func(h *Headers) {}, "", HeaderChannelToken, true},
		{"missing state", func(h *Headers) { h.ResourceState = "" }, secret, HeaderResourceState, false},
		{"unsupported state", func(h *Headers) { h.ResourceState = "not_exists" }, secret, HeaderResourceState, false},
		{"missing resource id", func(h *Headers) { h.ResourceID = "" }, secret, HeaderResourceID, false},
		{"resource id with colon", func(h *Headers) { h.ResourceID = "res:1" }, secret, HeaderResourceID, false},
		{"missing expiration", func(h *Headers) { h.ChannelExpiration = "" }, secret, HeaderChannelExpiration, false},
		{"bad expiration", func(h *Headers) { h.ChannelExpiration = "next tuesday" }, secret, HeaderChannelExpiration, false},
		{"missing channel id", func(h *Headers) { h.ChannelID = "" }, secret, HeaderChannelID, false},
		// Token is checked before anything else.
		{"everything wrong", func(h *Headers) { *h = Headers{ChannelToken: "x"} }, secret, HeaderChannelToken, true},
		// State before resource id.
		{"state and id wrong", func(h *Headers) { h.ResourceState = "bogus"; h.ResourceID = "" }, secret, HeaderResourceState, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := validHeaders()
			tt.mutate(&h)
			ev, err := Validate(h, tt.secret)
			if ev != nil {
				t.Errorf("expected no event, got %T", ev)
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected *ValidationError, got %v", err)
			}
			if verr.Field != tt.field {
				t.Errorf("field = %q, want %q", verr.Field, tt.field)
			}
			if verr.BadToken() != tt.badToken {
				t.Errorf("BadToken() = %v, want %v", verr.BadToken(), tt.badToken)
			}
		})
	}
}

func TestParseExpiration(t *testing.T) {
	want := time.Date(2024, 5, 7, 1, 0, 0, 0, time.UTC)
	for _, v := range []string{
		"Tue, 07 May 2024 01:00:00 GMT",
		"Tuesday, 07-May-24 01:00:00 GMT",
		"Tue May  7 01:00:00 2024",
		"2024-05-07T10:00:00+09:00",
	} {
		got, err := ParseExpiration(v)
		if err != nil {
			t.Errorf("ParseExpiration(%q) error = %v", v, err)
			continue
		}
		if !got.Equal(want) {
			t.Errorf("ParseExpiration(%q) = %v, want %v", v, got, want)
		}
	}
}

func TestHeadersFromRequest(t *testing.T) {
	req := httptest.NewRequest("POST", "/api/calendar", nil)
	req.Header.Set("x-goog-channel-token", "t")
	req.Header.Set("X-Goog-Resource-State", "exists")
	req.Header.Set("X-Goog-Resource-ID", "r")
	req.Header.Set("X-Goog-Channel-Expiration", "e")
	req.Header.Set("X-Goog-Channel-Id", "c")

	h := HeadersFromRequest(req)
	want := Headers{ChannelToken: "t", ResourceState: "exists", ResourceID: "r", ChannelExpiration: "e", ChannelID: "c"}
	if h != want {
		t.Errorf("HeadersFromRequest() = %+v, want %+v", h, want)
	}
}
