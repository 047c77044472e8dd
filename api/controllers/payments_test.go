package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/tradeline-backend/internal/payments"
	"github.com/angelmondragon/tradeline-backend/pkg/db/models"
	"github.com/angelmondragon/tradeline-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tradeline-backend/pkg/errors"
	"github.com/angelmondragon/tradeline-backend/pkg/pagination"
)

type stubPaymentService struct {
	instructions *payments.Instructions
	txn          *models.Transaction
	page         *payments.TransactionPage
	err          error

	lastBuyer   uuid.UUID
	lastProduct uuid.UUID
	lastRole    enums.UserRole
	lastStatus  *enums.TransactionStatus
	lastParty   *uuid.UUID
	lastParams  pagination.Params
}

func (s *stubPaymentService) InitiatePayment(_ context.Context, buyerID, productID uuid.UUID) (*payments.Instructions, error) {
	s.lastBuyer, s.lastProduct = buyerID, productID
	return s.instructions, s.err
}

func (s *stubPaymentService) CancelPayment(_ context.Context, _ uuid.UUID, buyerID uuid.UUID) (*models.Transaction, error) {
	s.lastBuyer = buyerID
	return s.txn, s.err
}

func (s *stubPaymentService) GetTransaction(_ context.Context, _ uuid.UUID, _ uuid.UUID, role enums.UserRole) (*models.Transaction, error) {
	s.lastRole = role
	return s.txn, s.err
}

func (s *stubPaymentService) ListTransactions(_ context.Context, status *enums.TransactionStatus, party *uuid.UUID, params pagination.Params) (*payments.TransactionPage, error) {
	s.lastStatus, s.lastParty, s.lastParams = status, party, params
	if s.page == nil {
		return &payments.TransactionPage{}, s.err
	}
	return s.page, s.err
}

func (s *stubPaymentService) Instructions(txn *models.Transaction) *payments.Instructions {
	return &payments.Instructions{TransactionID: txn.ID, Reference: txn.PaymentReference}
}

func sampleTransaction(status enums.TransactionStatus) *models.Transaction {
	return &models.Transaction{
		ID:               uuid.New(),
		PaymentReference: "TLP-ABCDEFGH2345",
		BuyerID:          uuid.New(),
		SellerID:         uuid.New(),
		ProductID:        uuid.New(),
		AmountKobo:       500000,
		CommissionKobo:   15000,
		SellerShareKobo:  485000,
		Status:           status,
		ChannelType:      enums.ChannelTypeDedicatedAccount,
		CreatedAt:        time.Now().UTC(),
	}
}

func TestInitiatePaymentCreated(t *testing.T) {
	buyer := uuid.New()
	product := uuid.New()
	svc := &stubPaymentService{instructions: &payments.Instructions{Reference: "TLP-ABCDEFGH2345", Amount: "5000.00"}}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments", strings.NewReader(`{"product_id":"`+product.String()+`"}`))
	req = asUser(req, buyer, enums.UserRoleUser)
	resp := httptest.NewRecorder()
	InitiatePayment(svc, testLogger())(resp, req)

	require.Equal(t, http.StatusCreated, resp.Code)
	assert.Equal(t, buyer, svc.lastBuyer)
	assert.Equal(t, product, svc.lastProduct)
	assert.Contains(t, resp.Body.String(), `"amount":"5000.00"`)
	assert.NotContains(t, resp.Body.String(), "AmountKobo")
}

func TestInitiatePaymentReusedIsOK(t *testing.T) {
	pending := uuid.New()
	svc := &stubPaymentService{instructions: &payments.Instructions{Reused: true, ProductID: pending}}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments", strings.NewReader(`{"product_id":"`+uuid.NewString()+`"}`))
	req = asUser(req, uuid.New(), enums.UserRoleUser)
	resp := httptest.NewRecorder()
	InitiatePayment(svc, testLogger())(resp, req)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"product_id":"`+pending.String()+`"`)
}

func TestInitiatePaymentValidation(t *testing.T) {
	bodies := []string{`{}`, `{"product_id":"nope"}`, `{"product_id":"` + uuid.NewString() + `","amount":"1"}`}
	for _, body := range bodies {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/payments", strings.NewReader(body))
		req = asUser(req, uuid.New(), enums.UserRoleUser)
		resp := httptest.NewRecorder()
		InitiatePayment(&stubPaymentService{}, testLogger())(resp, req)
		assert.Equal(t, http.StatusBadRequest, resp.Code, body)
	}
}

func TestInitiatePaymentMapsServiceErrors(t *testing.T) {
	cases := map[pkgerrors.Code]int{
		pkgerrors.CodeConflict:            http.StatusConflict,
		pkgerrors.CodeUpstreamUnavailable: http.StatusServiceUnavailable,
		pkgerrors.CodeNotFound:            http.StatusNotFound,
	}
	for code, status := range cases {
		svc := &stubPaymentService{err: pkgerrors.New(code, "x")}
		req := httptest.NewRequest(http.MethodPost, "/api/v1/payments", strings.NewReader(`{"product_id":"`+uuid.NewString()+`"}`))
		req = asUser(req, uuid.New(), enums.UserRoleUser)
		resp := httptest.NewRecorder()
		InitiatePayment(svc, testLogger())(resp, req)
		assert.Equal(t, status, resp.Code, code)
	}
}

func TestGetPaymentRendersNaira(t *testing.T) {
	txn := sampleTransaction(enums.TransactionStatusInEscrow)
	svc := &stubPaymentService{txn: txn}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = asUser(req, txn.BuyerID, enums.UserRoleUser)
	req = addRouteParam(req, "transactionID", txn.ID.String())
	resp := httptest.NewRecorder()
	GetPayment(svc, testLogger())(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	var envelope struct {
		Data transactionView `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &envelope))
	assert.Equal(t, "5000.00", envelope.Data.Amount)
	assert.Equal(t, "150.00", envelope.Data.Commission)
	assert.Equal(t, "4850.00", envelope.Data.SellerShare)
	assert.Equal(t, "NGN", envelope.Data.Currency)
	assert.Equal(t, enums.UserRoleUser, svc.lastRole)
}

func TestPaymentInstructionsRequiresUnpaid(t *testing.T) {
	paid := sampleTransaction(enums.TransactionStatusInEscrow)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = asUser(req, paid.BuyerID, enums.UserRoleUser)
	req = addRouteParam(req, "transactionID", paid.ID.String())
	resp := httptest.NewRecorder()
	PaymentInstructions(&stubPaymentService{txn: paid}, testLogger())(resp, req)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)

	pending := sampleTransaction(enums.TransactionStatusAwaitingPayment)
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req = asUser(req, pending.BuyerID, enums.UserRoleUser)
	req = addRouteParam(req, "transactionID", pending.ID.String())
	resp = httptest.NewRecorder()
	PaymentInstructions(&stubPaymentService{txn: pending}, testLogger())(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), pending.PaymentReference)
}

func TestCancelPayment(t *testing.T) {
	txn := sampleTransaction(enums.TransactionStatusCancelled)
	svc := &stubPaymentService{txn: txn}
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req = asUser(req, txn.BuyerID, enums.UserRoleUser)
	req = addRouteParam(req, "transactionID", txn.ID.String())
	resp := httptest.NewRecorder()
	CancelPayment(svc, testLogger())(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, txn.BuyerID, svc.lastBuyer)
	assert.Contains(t, resp.Body.String(), `"status":"cancelled"`)
}

func TestListMyTransactionsScopesToCaller(t *testing.T) {
	user := uuid.New()
	svc := &stubPaymentService{page: &payments.TransactionPage{Items: []models.Transaction{*sampleTransaction(enums.TransactionStatusCompleted)}, Cursor: "next"}}
	req := httptest.NewRequest(http.MethodGet, "/?status=completed&limit=5", nil)
	req = asUser(req, user, enums.UserRoleUser)
	resp := httptest.NewRecorder()
	ListMyTransactions(svc, testLogger())(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	require.NotNil(t, svc.lastParty)
	assert.Equal(t, user, *svc.lastParty)
	require.NotNil(t, svc.lastStatus)
	assert.Equal(t, enums.TransactionStatusCompleted, *svc.lastStatus)
	assert.Equal(t, 5, svc.lastParams.Limit)
	assert.Contains(t, resp.Body.String(), `"cursor":"next"`)
}

func TestAdminListTransactionsRejectsUnknownStatus(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?status=paid", nil)
	req = asUser(req, uuid.New(), enums.UserRoleAdmin)
	resp := httptest.NewRecorder()
	AdminListTransactions(&stubPaymentService{}, testLogger())(resp, req)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestAdminListTransactionsIsUnscoped(t *testing.T) {
	svc := &stubPaymentService{}
	req := httptest.NewRequest(http.MethodGet, "/?status=confirmed_pending_payout", nil)
	req = asUser(req, uuid.New(), enums.UserRoleAdmin)
	resp := httptest.NewRecorder()
	AdminListTransactions(svc, testLogger())(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Nil(t, svc.lastParty)
	require.NotNil(t, svc.lastStatus)
	assert.Equal(t, enums.TransactionStatusConfirmedPendingPayout, *svc.lastStatus)
}
