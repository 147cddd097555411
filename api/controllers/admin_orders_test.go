package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/codevault-backend/api/middleware"
	"github.com/angelmondragon/codevault-backend/internal/inventory"
	"github.com/angelmondragon/codevault-backend/internal/ledger"
	internalorders "github.com/angelmondragon/codevault-backend/internal/orders"
	"github.com/angelmondragon/codevault-backend/internal/payments"
	"github.com/angelmondragon/codevault-backend/internal/reconciliation"
	"github.com/angelmondragon/codevault-backend/pkg/db/models"
	"github.com/angelmondragon/codevault-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/codevault-backend/pkg/errors"
	"github.com/angelmondragon/codevault-backend/pkg/nowpayments"
)

type stubAdminOrders struct {
	retryID uuid.UUID
	cancel  internalorders.CancelInput
	err     error
}

func (s *stubAdminOrders) RetryAllocation(_ context.Context, orderID uuid.UUID) (*models.Order, error) {
	s.retryID = orderID
	if s.err != nil {
		return nil, s.err
	}
	return &models.Order{ID: orderID, Status: enums.OrderStatusCompleted, PaymentStatus: enums.PaymentStatusPaid}, nil
}

func (s *stubAdminOrders) Cancel(_ context.Context, input internalorders.CancelInput) (*models.Order, error) {
	s.cancel = input
	if s.err != nil {
		return nil, s.err
	}
	return &models.Order{ID: input.OrderID, Status: enums.OrderStatusCancelled, PaymentStatus: enums.PaymentStatusRefunded}, nil
}

type stubStock struct {
	productID uuid.UUID
	secrets   []json.RawMessage
	err       error
}

func (s *stubStock) AddStock(_ context.Context, productID uuid.UUID, secrets []json.RawMessage) (int, error) {
	s.productID = productID
	s.secrets = secrets
	if s.err != nil {
		return 0, s.err
	}
	return len(secrets), nil
}

func adminRequest(method, target, body string, params map[string]string) (*http.Request, uuid.UUID) {
	adminID := uuid.New()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rctx)
	ctx = middleware.WithActor(ctx, adminID, enums.UserRoleAdmin)
	return req.WithContext(ctx), adminID
}

func TestAdminAllocateOrder(t *testing.T) {
	svc := &stubAdminOrders{}
	orderID := uuid.New()
	req, _ := adminRequest(http.MethodPost, "/", "", map[string]string{"orderId": orderID.String()})
	resp := httptest.NewRecorder()
	AdminAllocateOrder(svc, nil).ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, orderID, svc.retryID)
	assert.Contains(t, resp.Body.String(), `"status":"completed"`)
}

func TestAdminAllocateOrderShortage(t *testing.T) {
	svc := &stubAdminOrders{err: pkgerrors.Wrap(pkgerrors.CodeInsufficientStock, inventory.ErrInsufficientStock, "insufficient stock")}
	req, _ := adminRequest(http.MethodPost, "/", "", map[string]string{"orderId": uuid.NewString()})
	resp := httptest.NewRecorder()
	AdminAllocateOrder(svc, nil).ServeHTTP(resp, req)

	assert.Equal(t, http.StatusConflict, resp.Code)
}

func TestAdminRefundOrderActsAsAdmin(t *testing.T) {
	svc := &stubAdminOrders{}
	orderID := uuid.New()
	req, adminID := adminRequest(http.MethodPost, "/", `{"reason":"duplicate purchase"}`, map[string]string{"orderId": orderID.String()})
	resp := httptest.NewRecorder()
	AdminRefundOrder(svc, nil).ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, orderID, svc.cancel.OrderID)
	assert.Equal(t, adminID, svc.cancel.ActorUserID)
	assert.Equal(t, enums.UserRoleAdmin, svc.cancel.ActorRole)
	assert.Equal(t, "duplicate purchase", svc.cancel.Reason)
	assert.Contains(t, resp.Body.String(), `"payment_status":"refunded"`)
}

func TestAdminRefundOrderRequiresReason(t *testing.T) {
	svc := &stubAdminOrders{}
	req, _ := adminRequest(http.MethodPost, "/", `{}`, map[string]string{"orderId": uuid.NewString()})
	resp := httptest.NewRecorder()
	AdminRefundOrder(svc, nil).ServeHTTP(resp, req)

	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, uuid.Nil, svc.cancel.OrderID)
}

func TestAdminImportCredentials(t *testing.T) {
	svc := &stubStock{}
	productID := uuid.New()
	body := `{"credentials":[{"user":"a","pass":"1"},"license-key-2",{"user":"c"}]}`
	req, _ := adminRequest(http.MethodPost, "/", body, map[string]string{"productId": productID.String()})
	resp := httptest.NewRecorder()
	AdminImportCredentials(svc, nil).ServeHTTP(resp, req)

	require.Equal(t, http.StatusCreated, resp.Code)
	assert.Equal(t, productID, svc.productID)
	require.Len(t, svc.secrets, 3)
	assert.JSONEq(t, `"license-key-2"`, string(svc.secrets[1]))
	assert.JSONEq(t, `{"data":{"product_id":"`+productID.String()+`","added":3}}`, resp.Body.String())
}

func TestAdminImportCredentialsRejectsEmptyList(t *testing.T) {
	svc := &stubStock{}
	req, _ := adminRequest(http.MethodPost, "/", `{"credentials":[]}`, map[string]string{"productId": uuid.NewString()})
	resp := httptest.NewRecorder()
	AdminImportCredentials(svc, nil).ServeHTTP(resp, req)

	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Nil(t, svc.secrets)
}

func TestAdminImportCredentialsUnknownProduct(t *testing.T) {
	svc := &stubStock{err: inventory.ErrProductNotFound}
	req, _ := adminRequest(http.MethodPost, "/", `{"credentials":["k"]}`, map[string]string{"productId": uuid.NewString()})
	resp := httptest.NewRecorder()
	AdminImportCredentials(svc, nil).ServeHTTP(resp, req)

	assert.Equal(t, http.StatusNotFound, resp.Code)
}

type stubEntries struct {
	entry *models.LedgerEntry
}

func (s stubEntries) Get(context.Context, uuid.UUID) (*models.LedgerEntry, error) {
	if s.entry == nil {
		return nil, ledger.ErrEntryNotFound
	}
	return s.entry, nil
}

type stubStatus struct {
	gotID string
	err   error
}

func (s *stubStatus) GetStatus(_ context.Context, externalID string) (*payments.StatusResult, error) {
	s.gotID = externalID
	if s.err != nil {
		return nil, s.err
	}
	return &payments.StatusResult{
		Mapped:  enums.LedgerStatusCompleted,
		Payment: &nowpayments.PaymentStatus{PaymentID: nowpayments.FlexibleID(externalID), Status: "finished"},
	}, nil
}

type stubReconciler struct {
	entryID uuid.UUID
	payment *nowpayments.PaymentStatus
}

func (s *stubReconciler) Reconcile(_ context.Context, entryID uuid.UUID, payment *nowpayments.PaymentStatus) (*reconciliation.Result, error) {
	s.entryID = entryID
	s.payment = payment
	return &reconciliation.Result{
		EntryID:  entryID,
		Previous: enums.LedgerStatusPending,
		Current:  enums.LedgerStatusCompleted,
		Credited: true,
	}, nil
}

func TestAdminReconcileEntry(t *testing.T) {
	invoiceID, gatewayID := "4522625843", "5077125051"
	entry := &models.LedgerEntry{ID: uuid.New(), GatewayTransactionID: &invoiceID, GatewayPaymentID: &gatewayID, Status: enums.LedgerStatusPending}
	gateway := &stubStatus{}
	reconciler := &stubReconciler{}

	req, _ := adminRequest(http.MethodPost, "/", "", map[string]string{"entryId": entry.ID.String()})
	resp := httptest.NewRecorder()
	AdminReconcileEntry(stubEntries{entry: entry}, gateway, reconciler, nil).ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, gatewayID, gateway.gotID)
	assert.Equal(t, entry.ID, reconciler.entryID)
	require.NotNil(t, reconciler.payment)
	assert.Equal(t, "finished", reconciler.payment.Status)
	assert.Contains(t, resp.Body.String(), `"credited":true`)
}

func TestAdminReconcileEntryWithoutGatewayID(t *testing.T) {
	invoiceID := "4522625843"
	entry := &models.LedgerEntry{ID: uuid.New(), GatewayTransactionID: &invoiceID}
	gateway := &stubStatus{}
	req, _ := adminRequest(http.MethodPost, "/", "", map[string]string{"entryId": entry.ID.String()})
	resp := httptest.NewRecorder()
	AdminReconcileEntry(stubEntries{entry: entry}, gateway, &stubReconciler{}, nil).ServeHTTP(resp, req)

	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	assert.Empty(t, gateway.gotID)
}

func TestAdminReconcileEntryErrors(t *testing.T) {
	gatewayID := "1"
	entry := &models.LedgerEntry{ID: uuid.New(), GatewayPaymentID: &gatewayID}

	t.Run("unknown entry", func(t *testing.T) {
		req, _ := adminRequest(http.MethodPost, "/", "", map[string]string{"entryId": uuid.NewString()})
		resp := httptest.NewRecorder()
		AdminReconcileEntry(stubEntries{}, &stubStatus{}, &stubReconciler{}, nil).ServeHTTP(resp, req)
		assert.Equal(t, http.StatusNotFound, resp.Code)
	})

	t.Run("gateway down", func(t *testing.T) {
		gateway := &stubStatus{err: pkgerrors.Wrap(pkgerrors.CodeDependency, errors.New("502"), "payment status")}
		reconciler := &stubReconciler{}
		req, _ := adminRequest(http.MethodPost, "/", "", map[string]string{"entryId": entry.ID.String()})
		resp := httptest.NewRecorder()
		AdminReconcileEntry(stubEntries{entry: entry}, gateway, reconciler, nil).ServeHTTP(resp, req)
		assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
		assert.Equal(t, uuid.Nil, reconciler.entryID)
	})
}
