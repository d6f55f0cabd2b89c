package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

var creds = Credentials{AccessToken: "tok", PhoneNumberID: "12345"}

func TestSendMessage(t *testing.T) {
	var got GenericMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/12345/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer tok" {
			t.Errorf("authorization = %q", auth)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"messaging_product":"whatsapp","messages":[{"id":"wamid.1"}]}`))
	}))
	defer srv.Close()

	id, err := NewClient(srv.URL).SendMessage(context.Background(), creds, "+55 (11) 99999-0000", "oi")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if id != "wamid.1" {
		t.Errorf("id = %q", id)
	}
	if got.To != "5511999990000" || got.Text == nil || got.Text.Body != "oi" {
		t.Errorf("payload = %+v", got)
	}
}

func TestSendTemplateMessage(t *testing.T) {
	tests := []struct {
		name   string
		params []string
		want   string
	}{
		{"no variables", nil, `{"name":"promo","language":{"code":"pt_BR"}}`},
		{"body variables", []string{"Ana", "20%"}, `{"name":"promo","language":{"code":"pt_BR"},"components":[{"type":"body","parameters":[{"type":"text","text":"Ana"},{"type":"text","text":"20%"}]}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got struct {
				Type     string          `json:"type"`
				Template json.RawMessage `json:"template"`
			}
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				json.NewDecoder(r.Body).Decode(&got)
				w.Write([]byte(`{"messages":[{"id":"wamid.2"}]}`))
			}))
			defer srv.Close()

			if _, err := NewClient(srv.URL).SendTemplateMessage(context.Background(), creds, "5511999990000", "promo", "pt_BR", tt.params...); err != nil {
				t.Fatalf("SendTemplateMessage: %v", err)
			}
			if got.Type != "template" || string(got.Template) != tt.want {
				t.Errorf("template = %s, want %s", got.Template, tt.want)
			}
		})
	}
}

func TestSendMessageAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"Invalid parameter","type":"OAuthException","code":100}}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).SendMessage(context.Background(), creds, "5511", "oi")
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *Error", err)
	}
	if apiErr.Status != http.StatusBadRequest || apiErr.Code != "100" || apiErr.Message != "Invalid parameter" {
		t.Errorf("err = %+v", apiErr)
	}
}

func TestSendMessageUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(url).SendMessage(context.Background(), creds, "5511", "oi")
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Status != 0 {
		t.Fatalf("err = %v, want transport error", err)
	}
}

func TestNormalizePhone(t *testing.T) {
	if got := NormalizePhone("+55 11 9-8"); got != "551198" {
		t.Errorf("NormalizePhone = %q", got)
	}
}
