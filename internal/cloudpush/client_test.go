package cloudpush

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/altibiz/fieldgate/internal/modbus"
	"github.com/altibiz/fieldgate/internal/store"
)

func TestClientPushPostsJSONBatch(t *testing.T) {
	// RegisterValue marshals to a plain JSON value with no inverse, so only
	// the fields checked below are decoded.
	var received []struct{ Source string }
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("got method %s want POST", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	batch := []store.Measurement{
		{
			Source:    "meter-1",
			Timestamp: time.Now().UTC().Truncate(time.Second),
			Data: map[string]modbus.RegisterValue{
				"active_power": {Tag: modbus.TagU32, Decimal: decimal.NewFromInt(100)},
			},
		},
	}
	if err := c.Push(context.Background(), batch); err != nil {
		t.Fatalf("push: %v", err)
	}
	if len(received) != 1 || received[0].Source != "meter-1" {
		t.Fatalf("got %+v", received)
	}
}

func TestClientPushFailsOnErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	err := c.Push(context.Background(), []store.Measurement{{Source: "meter-1"}})
	if err == nil {
		t.Fatal("expected an error for a 500 response")
	}
}
