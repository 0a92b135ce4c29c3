package labgateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
)

func testBatch() Batch {
	return Batch{
		OrgID:          7,
		PatientID:      uuid.New(),
		DeliveryMethod: "lab_service",
		Orders: []BatchOrder{
			{OrderID: uuid.New(), RequisitionNumber: "LAB-2025-0110-0001", TestCode: "CBC", TestName: "Complete Blood Count", Priority: "routine"},
		},
	}
}

func TestHTTPGateway_Transmit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type %q", ct)
		}
		w.Write([]byte(`{"external_order_id":"EXT-42"}`))
	}))
	defer srv.Close()

	g := NewHTTPGateway(srv.URL)
	id, err := g.Transmit(context.Background(), testBatch())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "EXT-42" {
		t.Errorf("expected EXT-42, got %s", id)
	}
}

func TestHTTPGateway_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	g := NewHTTPGateway(srv.URL)
	_, err := g.Transmit(context.Background(), testBatch())
	if !errors.Is(err, ErrGatewayUnavailable) {
		t.Errorf("expected ErrGatewayUnavailable, got %v", err)
	}
}

func TestHTTPGateway_EmptyExternalID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	g := NewHTTPGateway(srv.URL)
	_, err := g.Transmit(context.Background(), testBatch())
	if !errors.Is(err, ErrGatewayUnavailable) {
		t.Errorf("expected ErrGatewayUnavailable, got %v", err)
	}
}

func TestMockGateway_RecordsBatches(t *testing.T) {
	g := NewMockGateway()
	id1, err := g.Transmit(context.Background(), testBatch())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id2, _ := g.Transmit(context.Background(), testBatch())
	if id1 == id2 {
		t.Errorf("expected distinct external ids, got %s twice", id1)
	}
	if len(g.Batches()) != 2 {
		t.Errorf("expected 2 recorded batches, got %d", len(g.Batches()))
	}
}

func TestMockGateway_Error(t *testing.T) {
	g := NewMockGateway()
	g.SetError(ErrGatewayUnavailable)
	if _, err := g.Transmit(context.Background(), testBatch()); !errors.Is(err, ErrGatewayUnavailable) {
		t.Errorf("expected injected error, got %v", err)
	}
	if len(g.Batches()) != 0 {
		t.Error("failed transmit must not be recorded")
	}
}
