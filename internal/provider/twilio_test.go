package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/reachkit/reachkit/internal/models"
)

func twilioCreds() models.TwilioCredentials {
	return models.TwilioCredentials{
		AccountSID: "AC123",
		AuthToken:  "secret",
		FromNumber: "+15550001111",
	}
}

func TestTwilioSendMessageWireShape(t *testing.T) {
	var gotPath, gotTo, gotFrom, gotBody, gotUser, gotPass string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUser, gotPass, _ = r.BasicAuth()
		r.ParseForm()
		gotTo = r.PostFormValue("To")
		gotFrom = r.PostFormValue("From")
		gotBody = r.PostFormValue("Body")
		json.NewEncoder(w).Encode(map[string]string{
			"sid":    "SM123",
			"status": "queued",
			"price":  "-0.0075",
		})
	}))
	defer srv.Close()

	a := NewTwilio(twilioCreds(), testLogger(), WithBaseURL(srv.URL))
	res := a.SendMessage(context.Background(), Message{To: "+1 (555) 123-4567", Body: "hello"})

	if !res.Success {
		t.Fatalf("expected success, got %+v", res.Error)
	}
	if res.MessageID != "SM123" {
		t.Errorf("expected SM123, got %q", res.MessageID)
	}
	if res.Cost != 0.0075 {
		t.Errorf("expected cost 0.0075, got %v", res.Cost)
	}
	if gotPath != "/Accounts/AC123/Messages.json" {
		t.Errorf("unexpected path %q", gotPath)
	}
	if gotUser != "AC123" || gotPass != "secret" {
		t.Errorf("unexpected basic auth %q:%q", gotUser, gotPass)
	}
	if gotTo != "+15551234567" {
		t.Errorf("expected normalized To, got %q", gotTo)
	}
	if gotFrom != "+15550001111" {
		t.Errorf("unexpected From %q", gotFrom)
	}
	if gotBody != "hello" {
		t.Errorf("unexpected Body %q", gotBody)
	}
}

func TestTwilioInvalidAddressNoNetworkCall(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	a := NewTwilio(twilioCreds(), testLogger(), WithBaseURL(srv.URL))
	res := a.SendMessage(context.Background(), Message{To: "not-a-number", Body: "hello"})

	if res.Success {
		t.Fatal("expected failure for invalid address")
	}
	if res.Error.Code != CodeInvalidAddress {
		t.Errorf("expected %s, got %s", CodeInvalidAddress, res.Error.Code)
	}
	if n := calls.Load(); n != 0 {
		t.Errorf("expected zero gateway calls, got %d", n)
	}
}

func TestTwilioGatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"code":    21211,
			"message": "The 'To' number is not a valid phone number.",
			"status":  400,
		})
	}))
	defer srv.Close()

	a := NewTwilio(twilioCreds(), testLogger(), WithBaseURL(srv.URL))
	res := a.SendMessage(context.Background(), Message{To: "+15551234567", Body: "hello"})

	if res.Success {
		t.Fatal("expected failure")
	}
	if res.Error.Code != CodeProviderError {
		t.Errorf("expected %s, got %s", CodeProviderError, res.Error.Code)
	}
	if res.Error.Detail != "21211" {
		t.Errorf("expected gateway code in detail, got %q", res.Error.Detail)
	}
}

func TestTwilioMissingSID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "queued"})
	}))
	defer srv.Close()

	a := NewTwilio(twilioCreds(), testLogger(), WithBaseURL(srv.URL))
	res := a.SendMessage(context.Background(), Message{To: "+15551234567", Body: "hello"})

	if res.Success {
		t.Fatal("expected failure when the gateway returns no sid")
	}
	if res.Error.Code != CodeProviderError {
		t.Errorf("expected %s, got %s", CodeProviderError, res.Error.Code)
	}
}

func TestTwilioTestConnection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, _ := r.BasicAuth()
		if user != "AC123" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]any{"code": 20003, "message": "Authentication Error"})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"sid": "AC123", "status": "active"})
	}))
	defer srv.Close()

	a := NewTwilio(twilioCreds(), testLogger(), WithBaseURL(srv.URL))
	if err := a.TestConnection(context.Background()); err != nil {
		t.Errorf("expected success, got %v", err)
	}

	bad := twilioCreds()
	bad.AuthToken = "wrong"
	b := NewTwilio(bad, testLogger(), WithBaseURL(srv.URL))
	if err := b.TestConnection(context.Background()); err == nil {
		t.Error("expected error for rejected credentials")
	}
}

func TestTwilioSubmitTemplateUnsupported(t *testing.T) {
	a := NewTwilio(twilioCreds(), testLogger())
	if _, err := a.SubmitTemplate(context.Background(), &models.Template{Name: "x"}); err == nil {
		t.Error("expected error, template submission is not supported")
	}
}
