package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/why-aditi/webhook-delivery-service/internal/auth"
	"github.com/why-aditi/webhook-delivery-service/internal/domain"
	"github.com/why-aditi/webhook-delivery-service/internal/logging"
	"github.com/why-aditi/webhook-delivery-service/internal/store"
)

type notifyingAttempter struct {
	attempted chan uuid.UUID
}

func (n *notifyingAttempter) Attempt(_ context.Context, id uuid.UUID) error {
	n.attempted <- id
	return nil
}

type apiFixture struct {
	subs       *store.MemorySubscriptionStore
	deliveries *store.MemoryDeliveryStore
	attempter  *notifyingAttempter
	router     *gin.Engine
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	deliveries := store.NewMemoryDeliveryStore()
	subs := store.NewMemorySubscriptionStore().WithDeliveries(deliveries)
	att := &notifyingAttempter{attempted: make(chan uuid.UUID, 8)}
	logger := logging.NewWithWriter("api-test", io.Discard)
	srv := NewServer(subs, deliveries, nil, att, logger)
	return &apiFixture{subs: subs, deliveries: deliveries, attempter: att, router: srv.Router()}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *apiFixture) decode(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response %s: %v", w.Body.String(), err)
	}
}

func (f *apiFixture) createSubscription(t *testing.T, eventTypes ...string) uuid.UUID {
	t.Helper()
	w := f.do(t, http.MethodPost, "/subscriptions", gin.H{
		"target_url":  "https://example.com/hook",
		"secret":      "s3cret",
		"event_types": eventTypes,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create subscription: status %d body %s", w.Code, w.Body.String())
	}
	var resp struct {
		ID uuid.UUID `json:"id"`
	}
	f.decode(t, w, &resp)
	return resp.ID
}

func TestCreateSubscriptionValidation(t *testing.T) {
	f := newAPIFixture(t)

	tests := []struct {
		name string
		body gin.H
		want int
	}{
		{"valid", gin.H{"target_url": "https://example.com/h", "event_types": []string{"a.b"}}, 201},
		{"ftp scheme", gin.H{"target_url": "ftp://example.com/h", "event_types": []string{"a.b"}}, 400},
		{"no host", gin.H{"target_url": "https://", "event_types": []string{"a.b"}}, 400},
		{"empty event types", gin.H{"target_url": "https://example.com/h", "event_types": []string{}}, 400},
		{"blank event type", gin.H{"target_url": "https://example.com/h", "event_types": []string{" "}}, 400},
		{"missing body fields", gin.H{}, 400},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, "/subscriptions", tt.body)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestSubscriptionResponseOmitsSecret(t *testing.T) {
	f := newAPIFixture(t)
	id := f.createSubscription(t, "order.created")

	w := f.do(t, http.MethodGet, "/subscriptions/"+id.String(), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp map[string]any
	f.decode(t, w, &resp)
	if _, ok := resp["secret"]; ok {
		t.Error("response leaks the subscription secret")
	}
	if resp["has_secret"] != true {
		t.Error("has_secret not reported")
	}
}

func TestSubscriptionCRUD(t *testing.T) {
	f := newAPIFixture(t)
	id := f.createSubscription(t, "order.created")

	w := f.do(t, http.MethodPut, "/subscriptions/"+id.String(), gin.H{
		"target_url":  "https://example.com/v2",
		"event_types": []string{"order.created", "order.cancelled"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("update status = %d: %s", w.Code, w.Body.String())
	}
	sub, err := f.subs.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if sub.TargetURL != "https://example.com/v2" || len(sub.EventTypes) != 2 {
		t.Errorf("update not persisted: %+v", sub)
	}

	if w := f.do(t, http.MethodDelete, "/subscriptions/"+id.String(), nil); w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", w.Code)
	}
	if w := f.do(t, http.MethodGet, "/subscriptions/"+id.String(), nil); w.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", w.Code)
	}
	if w := f.do(t, http.MethodDelete, "/subscriptions/"+id.String(), nil); w.Code != http.StatusNotFound {
		t.Errorf("double delete status = %d, want 404", w.Code)
	}
}

func TestIngestQueuesDelivery(t *testing.T) {
	f := newAPIFixture(t)
	id := f.createSubscription(t, "order.created")

	w := f.do(t, http.MethodPost, "/ingest/"+id.String(), gin.H{
		"event_type": "order.created",
		"payload":    gin.H{"order_id": 42},
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		DeliveryID uuid.UUID `json:"delivery_id"`
		Status     string    `json:"status"`
	}
	f.decode(t, w, &resp)
	if resp.Status != string(domain.StatusPending) {
		t.Errorf("status = %q, want pending", resp.Status)
	}

	d, err := f.deliveries.Get(context.Background(), resp.DeliveryID)
	if err != nil {
		t.Fatalf("queued delivery missing: %v", err)
	}
	if d.EventType != "order.created" {
		t.Errorf("event_type = %q", d.EventType)
	}

	select {
	case attempted := <-f.attempter.attempted:
		if attempted != resp.DeliveryID {
			t.Errorf("attempted %s, want %s", attempted, resp.DeliveryID)
		}
	case <-time.After(time.Second):
		t.Error("immediate dispatch never ran")
	}
}

func TestIngestRejectsDisallowedEventType(t *testing.T) {
	f := newAPIFixture(t)
	id := f.createSubscription(t, "order.created")

	w := f.do(t, http.MethodPost, "/ingest/"+id.String(), gin.H{
		"event_type": "user.deleted",
		"payload":    gin.H{"x": 1},
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestIngestUnknownSubscription(t *testing.T) {
	f := newAPIFixture(t)
	w := f.do(t, http.MethodPost, "/ingest/"+uuid.NewString(), gin.H{
		"event_type": "order.created",
		"payload":    gin.H{"x": 1},
	})
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestGetDeliveryAndHistory(t *testing.T) {
	f := newAPIFixture(t)
	id := f.createSubscription(t, "order.created")
	ctx := context.Background()

	first, _ := f.deliveries.Create(ctx, id, "order.created", json.RawMessage(`{"n":1}`))
	second, _ := f.deliveries.Create(ctx, id, "order.created", json.RawMessage(`{"n":2}`))

	w := f.do(t, http.MethodGet, "/deliveries/"+first.ID.String(), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get delivery status = %d", w.Code)
	}
	var got deliveryResponse
	f.decode(t, w, &got)
	if got.ID != first.ID || got.Status != string(domain.StatusPending) {
		t.Errorf("delivery = %+v", got)
	}

	w = f.do(t, http.MethodGet, "/deliveries/"+second.ID.String()+"/history", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("history status = %d", w.Code)
	}
	var hist struct {
		Total int `json:"total"`
	}
	f.decode(t, w, &hist)
	if hist.Total != 2 {
		t.Errorf("history total = %d, want 2", hist.Total)
	}

	if w := f.do(t, http.MethodGet, "/deliveries/"+uuid.NewString(), nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown delivery status = %d, want 404", w.Code)
	}
}

func TestSubscriptionDeliveriesWithStats(t *testing.T) {
	f := newAPIFixture(t)
	id := f.createSubscription(t, "order.created")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, _ := f.deliveries.Create(ctx, id, "order.created", json.RawMessage(`{}`))
		f.deliveries.ClaimAttempt(ctx, d.ID, 5)
		f.deliveries.MarkDelivered(ctx, d.ID, 200, "ok")
	}
	d, _ := f.deliveries.Create(ctx, id, "order.created", json.RawMessage(`{}`))
	f.deliveries.ClaimAttempt(ctx, d.ID, 5)
	f.deliveries.MarkFailed(ctx, d.ID, store.FailureRecord{ErrorMessage: "x", Exhausted: true})

	w := f.do(t, http.MethodGet, "/subscriptions/"+id.String()+"/deliveries?limit=2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Deliveries  []deliveryResponse `json:"deliveries"`
		TotalCount  int                `json:"total_count"`
		SuccessRate float64            `json:"success_rate"`
	}
	f.decode(t, w, &resp)
	if len(resp.Deliveries) != 2 {
		t.Errorf("deliveries len = %d, want 2 (limit)", len(resp.Deliveries))
	}
	if resp.TotalCount != 3 {
		t.Errorf("total_count = %d, want 3", resp.TotalCount)
	}
	if resp.SuccessRate < 66 || resp.SuccessRate > 67 {
		t.Errorf("success_rate = %v, want ~66.7", resp.SuccessRate)
	}
}

func TestListDeadDeliveries(t *testing.T) {
	f := newAPIFixture(t)
	id := f.createSubscription(t, "order.created")
	ctx := context.Background()

	d, _ := f.deliveries.Create(ctx, id, "order.created", json.RawMessage(`{}`))
	f.deliveries.ClaimAttempt(ctx, d.ID, 5)
	f.deliveries.MarkFailed(ctx, d.ID, store.FailureRecord{ErrorMessage: "gone", Exhausted: true})

	w := f.do(t, http.MethodGet, "/deliveries/dead", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Total int `json:"total"`
	}
	f.decode(t, w, &resp)
	if resp.Total != 1 {
		t.Errorf("total = %d, want 1", resp.Total)
	}
}

func TestAuthProtectsManagementRoutesOnly(t *testing.T) {
	gin.SetMode(gin.TestMode)
	deliveries := store.NewMemoryDeliveryStore()
	subs := store.NewMemorySubscriptionStore().WithDeliveries(deliveries)
	logger := logging.NewWithWriter("api-test", io.Discard)
	issuer, err := auth.NewTokenIssuer("test-key", time.Minute)
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	router := NewServer(subs, deliveries, nil, nil, logger).WithAuth(issuer).Router()

	sub := &domain.Subscription{TargetURL: "https://example.com/h", EventTypes: []string{"a.b"}}
	if err := subs.Create(context.Background(), sub); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Management routes require a token.
	req := httptest.NewRequest(http.MethodGet, "/subscriptions", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated list status = %d, want 401", w.Code)
	}

	token, _ := issuer.Mint("admin")
	req = httptest.NewRequest(http.MethodGet, "/subscriptions", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("authenticated list status = %d, want 200", w.Code)
	}

	// Ingestion stays open.
	body := bytes.NewReader([]byte(`{"event_type":"a.b","payload":{"x":1}}`))
	req = httptest.NewRequest(http.MethodPost, "/ingest/"+sub.ID.String(), body)
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Errorf("open ingest status = %d, want 202", w.Code)
	}
}
