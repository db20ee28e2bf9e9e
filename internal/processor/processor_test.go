package processor

import (
	"errors"
	"net/http"
	"testing"

	"checkout-service/internal/model"
)

func TestNewResponse(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantKey string
		wantVal string
		wantOK  bool
	}{
		{"json success", 201, `{"id":"ORDER-1"}`, "id", "ORDER-1", true},
		{"json error", 422, `{"name":"UNPROCESSABLE_ENTITY"}`, "name", "UNPROCESSABLE_ENTITY", false},
		{"plain text", 500, `upstream exploded`, "body", "upstream exploded", false},
		{"empty", 204, ``, "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := NewResponse(tt.status, []byte(tt.body))
			if resp.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", resp.StatusCode, tt.status)
			}
			if resp.OK() != tt.wantOK {
				t.Errorf("OK = %v", resp.OK())
			}
			if tt.wantKey != "" && resp.String(tt.wantKey) != tt.wantVal {
				t.Errorf("Result[%s] = %v", tt.wantKey, resp.Result[tt.wantKey])
			}
		})
	}
}

func TestFromValue(t *testing.T) {
	type order struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	resp := FromValue(http.StatusCreated, order{ID: "5O1", Status: "CREATED"})
	if !resp.OK() || resp.String("id") != "5O1" || resp.String("status") != "CREATED" {
		t.Errorf("resp = %+v", resp)
	}

	resp = FromValue(http.StatusOK, func() {})
	if resp.StatusCode != TransportFailure {
		t.Errorf("unencodable value: resp = %+v", resp)
	}
}

func TestFailure(t *testing.T) {
	resp := Failure(errors.New("dial tcp: connection refused"))
	if resp.StatusCode != TransportFailure || resp.OK() || resp.String("error") != "dial tcp: connection refused" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestInvalidRequestError(t *testing.T) {
	err := NewInvalidRequestError("stripe", &Response{StatusCode: 400, Result: map[string]any{"error": "file too big"}})
	if !errors.Is(err, model.ErrInvalidRequest) {
		t.Error("should match ErrInvalidRequest")
	}
	if err.Body != `{"error":"file too big"}` {
		t.Errorf("Body = %s", err.Body)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(&Mock{NameValue: "paypal"}, &Mock{NameValue: "stripe"})

	if p, err := r.Get("stripe"); err != nil || p.Name() != "stripe" {
		t.Errorf("Get(stripe) = %v, %v", p, err)
	}
	if _, err := r.Get("braintree"); !errors.Is(err, ErrUnknownProcessor) {
		t.Errorf("Get(braintree) err = %v", err)
	}
	if names := r.Names(); len(names) != 2 || names[0] != "paypal" {
		t.Errorf("Names = %v", names)
	}
}

func TestFilesIn(t *testing.T) {
	ev := &Evidence{Files: []File{{Slot: SlotReceipt, Name: "a"}, {Slot: SlotUncategorized, Name: "b"}, {Slot: SlotReceipt, Name: "c"}}}
	if got := ev.FilesIn(SlotReceipt); len(got) != 2 || got[1].Name != "c" {
		t.Errorf("FilesIn = %+v", got)
	}
}
