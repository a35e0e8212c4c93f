package httpx

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Farid-Ze/alfa-beauty-sub000/internal/audit"
	"github.com/Farid-Ze/alfa-beauty-sub000/internal/domain"
	"github.com/Farid-Ze/alfa-beauty-sub000/internal/inventory"
	"github.com/Farid-Ze/alfa-beauty-sub000/internal/memstore"
	"github.com/Farid-Ze/alfa-beauty-sub000/internal/orders"
	"github.com/Farid-Ze/alfa-beauty-sub000/internal/pricing"
	"github.com/Farid-Ze/alfa-beauty-sub000/internal/returns"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testAPI struct {
	router  *chi.Mux
	ms      *memstore.Store
	mr      *miniredis.Miniredis
	product domain.Product
}

func newAPI(t *testing.T) *testAPI {
	t.Helper()
	ms := memstore.New()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	p := ms.PutProduct(domain.Product{SKU: "SHAMPOO", Name: "Shampoo", BasePrice: 50000, Stock: 10, MinOrderQty: 1, OrderIncrement: 1, IsActive: true})
	ms.PutBatch(domain.StockBatch{ID: "B1", ProductID: p.ID, BatchNumber: "B1", QuantityAvailable: 10, ReceivedAt: time.Now().Add(-time.Hour), IsActive: true})

	resolver := &pricing.Resolver{DB: ms, Cache: &pricing.RedisCache{Client: rdb}}
	alloc := &inventory.Allocator{DB: ms}
	log := &audit.Log{Sink: ms}

	r := NewRouter()
	(&OrdersHandler{
		Orders:         &orders.Service{DB: ms, Pricing: resolver, Inventory: alloc, Audit: log},
		DB:             ms,
		Redis:          rdb,
		WhatsAppNumber: "6281200000000",
	}).Register(r)
	(&CatalogHandler{Pricing: resolver, Inventory: alloc}).Register(r)
	(&ReturnsHandler{Returns: &returns.Service{DB: ms, Inventory: alloc, Audit: log, LoyaltyReversal: true}, DB: ms}).Register(r)
	return &testAPI{router: r, ms: ms, mr: mr, product: p}
}

func (a *testAPI) do(t *testing.T, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (a *testAPI) cart(qty int) string {
	return a.ms.PutCart(domain.Cart{Items: []domain.CartItem{{ProductID: a.product.ID, Quantity: qty}}}).ID
}

func TestCheckoutAndIdempotentRetry(t *testing.T) {
	api := newAPI(t)
	cart := api.cart(3)
	body := `{"customer":{"name":"Ayu","phone":"0812"}}`

	rec := api.do(t, http.MethodPost, "/carts/"+cart+"/checkout", body, "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	first := decode[OrderResp](t, rec)
	assert.Equal(t, int64(150000), first.TotalAmount)
	assert.False(t, first.Idempotent)
	require.Len(t, first.Items, 1)
	assert.Equal(t, "B1", first.Items[0].BatchAllocations[0].BatchNumber)
	assert.True(t, api.mr.Exists("idem:order:create:k-1"))
	assert.True(t, api.mr.Exists("order_status:"+first.OrderID))

	rec = api.do(t, http.MethodPost, "/carts/"+cart+"/checkout", body, "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusOK, rec.Code)
	again := decode[OrderResp](t, rec)
	assert.True(t, again.Idempotent)
	assert.Equal(t, first.OrderID, again.OrderID)
	assert.Equal(t, 7, api.ms.Product(api.product.ID).Stock)
}

func TestCheckoutAssistedChannel(t *testing.T) {
	api := newAPI(t)
	rec := api.do(t, http.MethodPost, "/carts/"+api.cart(1)+"/checkout", `{"customer":{"name":"Ayu"},"channel":"assisted"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	resp := decode[OrderResp](t, rec)
	assert.True(t, strings.HasPrefix(resp.OrderNumber, "WA-"))
	assert.Equal(t, "6281200000000", resp.WhatsAppNumber)
}

func TestCheckoutErrors(t *testing.T) {
	api := newAPI(t)
	tests := []struct {
		name string
		cart string
		body string
		code int
	}{
		{"bad json", api.cart(1), `{`, http.StatusBadRequest},
		{"missing name", api.cart(1), `{"customer":{}}`, http.StatusUnprocessableEntity},
		{"empty cart", api.ms.PutCart(domain.Cart{}).ID, `{"customer":{"name":"Ayu"}}`, http.StatusBadRequest},
		{"unknown cart", "nope", `{"customer":{"name":"Ayu"}}`, http.StatusNotFound},
		{"insufficient stock", api.cart(11), `{"customer":{"name":"Ayu"}}`, http.StatusConflict},
		{"unknown customer", api.cart(1), `{"customer_id":"ghost","customer":{"name":"Ayu"}}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := api.do(t, http.MethodPost, "/carts/"+tt.cart+"/checkout", tt.body)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
		})
	}

	rec := api.do(t, http.MethodPost, "/carts/"+api.cart(11)+"/checkout", `{"customer":{"name":"Ayu"}}`)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, float64(11), body["requested"])
	assert.Equal(t, float64(10), body["available"])
}

func TestGetAndCompleteOrder(t *testing.T) {
	api := newAPI(t)
	customer := api.ms.PutCustomer(domain.Customer{Name: "Salon"})
	cart := api.ms.PutCart(domain.Cart{UserID: &customer.ID, Items: []domain.CartItem{{ProductID: api.product.ID, Quantity: 2}}})

	rec := api.do(t, http.MethodPost, "/carts/"+cart.ID+"/checkout", `{"customer":{"name":"Salon"}}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode[OrderResp](t, rec).OrderID

	api.mr.Del("order_status:" + id)
	rec = api.do(t, http.MethodGet, "/orders/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "unpaid", decode[map[string]any](t, rec)["payment_status"])
	assert.True(t, api.mr.Exists("order_status:"+id), "status cached on read")

	rec = api.do(t, http.MethodPost, "/orders/"+id+"/complete", `{"payment_method":"transfer"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	done := decode[CompleteResp](t, rec)
	assert.Equal(t, int64(10), done.PointsEarned)
	assert.False(t, done.Skipped)

	rec = api.do(t, http.MethodGet, "/orders/"+id, "")
	assert.Equal(t, "paid", decode[map[string]any](t, rec)["payment_status"], "cache refreshed on completion")

	rec = api.do(t, http.MethodPost, "/orders/"+id+"/complete", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[CompleteResp](t, rec).Skipped)

	rec = api.do(t, http.MethodGet, "/orders/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPricesAndInventory(t *testing.T) {
	api := newAPI(t)
	pid := api.product.ID

	rec := api.do(t, http.MethodGet, "/prices?product_id="+pid+"&quantity=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(50000), decode[map[string]any](t, rec)["unit_price"])
	assert.NotEmpty(t, api.mr.Keys(), "single price cached")

	rec = api.do(t, http.MethodGet, "/prices?product_id="+pid+"&quantity=0", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = api.do(t, http.MethodPost, "/prices/bulk", `{"items":[{"product_id":"`+pid+`","quantity":1},{"product_id":"ghost","quantity":1}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	bulk := decode[struct {
		Prices map[string]pricing.Result `json:"prices"`
	}](t, rec)
	assert.Len(t, bulk.Prices, 1)

	rec = api.do(t, http.MethodPost, "/prices/invalidate", `{"product_id":"`+pid+`"}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = api.do(t, http.MethodGet, "/inventory/"+pid+"/availability?quantity=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode[map[string]any](t, rec)["available"])

	rec = api.do(t, http.MethodPost, "/inventory/batches", `{"product_id":"`+pid+`","batch_number":"B2","quantity":5}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, 15, api.ms.Product(pid).Stock)

	rec = api.do(t, http.MethodPost, "/inventory/sync", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[map[string][]inventory.Correction](t, rec)["corrections"])

	rec = api.do(t, http.MethodPost, "/inventory/near-expiry/refresh", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReturnFlow(t *testing.T) {
	api := newAPI(t)
	customer := api.ms.PutCustomer(domain.Customer{Name: "Salon"})
	cart := api.ms.PutCart(domain.Cart{UserID: &customer.ID, Items: []domain.CartItem{{ProductID: api.product.ID, Quantity: 2}}})
	rec := api.do(t, http.MethodPost, "/carts/"+cart.ID+"/checkout", `{"customer":{"name":"Ayu"}}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	orderID := decode[OrderResp](t, rec).OrderID

	rec = api.do(t, http.MethodPost, "/returns", `{"order_id":"`+orderID+`","items":[{"order_item_id":"x","quantity":1}]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, "order not paid yet")

	require.Equal(t, http.StatusOK, api.do(t, http.MethodPost, "/orders/"+orderID+"/complete", "").Code)
	o, err := api.ms.Order(context.Background(), orderID)
	require.NoError(t, err)

	rec = api.do(t, http.MethodPost, "/returns", `{"order_id":"`+orderID+`","reason":"leaking","items":[{"order_item_id":"`+o.Items[0].ID+`","quantity":1,"restock":true}]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	ret := decode[ReturnResp](t, rec)
	assert.Equal(t, domain.ReturnRequested, ret.Status)

	rec = api.do(t, http.MethodPost, "/returns/"+ret.ID+"/complete", "")
	assert.Equal(t, http.StatusConflict, rec.Code, "must be approved first")

	require.Equal(t, http.StatusOK, api.do(t, http.MethodPost, "/returns/"+ret.ID+"/approve", "").Code)
	require.Equal(t, http.StatusOK, api.do(t, http.MethodPost, "/returns/"+ret.ID+"/receive", "").Code)

	rec = api.do(t, http.MethodPost, "/returns/"+ret.ID+"/complete", "", "X-Actor", "admin@alfa")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 9, api.ms.Product(api.product.ID).Stock)

	rec = api.do(t, http.MethodGet, "/returns/"+ret.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[ReturnResp](t, rec)
	assert.Equal(t, domain.ReturnCompleted, got.Status)
	assert.Equal(t, int64(50000), got.RefundAmount)
	assert.Equal(t, int64(5), got.PointsReversed)

	rec = api.do(t, http.MethodPost, "/returns/"+ret.ID+"/reject", `{"reason":"late"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}
