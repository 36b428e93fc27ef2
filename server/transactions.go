package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"vaultbay/escrow"
	"vaultbay/models"
)

type createTransactionRequest struct {
	ProductID string `json:"productId"`
	Asset     string `json:"asset"`
	Quantity  int    `json:"quantity"`
}

type createTransactionResponse struct {
	Transaction   *models.Transaction `json:"transaction"`
	WalletAddress string              `json:"walletAddress"`
	Amount        float64             `json:"amount"`
}

// CreateTransaction opens an escrow order and returns the payment quote.
func (s *Server) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	caller, err := s.caller(r)
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, "missing identity")
		return
	}
	var req createTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	productID, err := uuid.Parse(req.ProductID)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid product id")
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}

	result, err := s.engine.Create(r.Context(), caller.ID, productID, req.Asset, req.Quantity)
	if err != nil {
		s.handleCoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, createTransactionResponse{
		Transaction:   result.Transaction,
		WalletAddress: result.WalletAddress,
		Amount:        result.Amount,
	})
}

// CancelTransaction moves a CREATED order to CANCELLED.
func (s *Server) CancelTransaction(w http.ResponseWriter, r *http.Request) {
	caller, txID, ok := s.transactionCall(w, r)
	if !ok {
		return
	}
	txn, err := s.engine.Cancel(r.Context(), caller, txID)
	if err != nil {
		s.handleCoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, txn)
}

// ConfirmDeposit records the operator's confirmation that funds arrived.
func (s *Server) ConfirmDeposit(w http.ResponseWriter, r *http.Request) {
	caller, txID, ok := s.transactionCall(w, r)
	if !ok {
		return
	}
	txn, err := s.engine.ConfirmDeposit(r.Context(), caller, txID)
	if err != nil {
		s.handleCoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, txn)
}

// AuthorizeRelease records the buyer's consent to release held funds.
func (s *Server) AuthorizeRelease(w http.ResponseWriter, r *http.Request) {
	caller, txID, ok := s.transactionCall(w, r)
	if !ok {
		return
	}
	txn, err := s.engine.AuthorizeRelease(r.Context(), caller, txID)
	if err != nil {
		s.handleCoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, txn)
}

type deliverRequest struct {
	ItemContent string `json:"itemContent"`
}

// DeliverItem stores the item payload and creates the buyer's inbox message.
func (s *Server) DeliverItem(w http.ResponseWriter, r *http.Request) {
	caller, txID, ok := s.transactionCall(w, r)
	if !ok {
		return
	}
	var req deliverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	msg, err := s.delivery.Deliver(r.Context(), caller, txID, req.ItemContent)
	if err != nil {
		s.handleCoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, msg)
}

// CompleteTransaction settles the order and returns the buyer's refreshed
// financials alongside the terminal transaction.
func (s *Server) CompleteTransaction(w http.ResponseWriter, r *http.Request) {
	caller, txID, ok := s.transactionCall(w, r)
	if !ok {
		return
	}
	result, err := s.engine.Complete(r.Context(), caller, txID)
	if err != nil {
		s.handleCoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"transaction": result.Transaction,
		"financials":  result.Financials,
	})
}

// GetTransaction returns one order visible to the caller.
func (s *Server) GetTransaction(w http.ResponseWriter, r *http.Request) {
	caller, txID, ok := s.transactionCall(w, r)
	if !ok {
		return
	}
	txn, err := s.engine.Get(r.Context(), caller, txID)
	if err != nil {
		s.handleCoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, txn)
}

// ListTransactions returns the caller's orders, newest first.
func (s *Server) ListTransactions(w http.ResponseWriter, r *http.Request) {
	caller, err := s.caller(r)
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, "missing identity")
		return
	}
	txns, err := s.engine.ListByBuyer(r.Context(), caller.ID)
	if err != nil {
		s.handleCoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"transactions": txns})
}

// Inbox lists the caller's delivery messages.
func (s *Server) Inbox(w http.ResponseWriter, r *http.Request) {
	caller, err := s.caller(r)
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, "missing identity")
		return
	}
	msgs, err := s.delivery.Inbox(r.Context(), caller.ID)
	if err != nil {
		s.handleCoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

// MarkRead flips one inbox message to read.
func (s *Server) MarkRead(w http.ResponseWriter, r *http.Request) {
	caller, err := s.caller(r)
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, "missing identity")
		return
	}
	msgID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid message id")
		return
	}
	if err := s.delivery.MarkRead(r.Context(), caller.ID, msgID); err != nil {
		s.handleCoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// transactionCall resolves the caller and the transaction id path parameter.
func (s *Server) transactionCall(w http.ResponseWriter, r *http.Request) (escrow.Caller, uuid.UUID, bool) {
	caller, err := s.caller(r)
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, "missing identity")
		return escrow.Caller{}, uuid.Nil, false
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid transaction id")
		return escrow.Caller{}, uuid.Nil, false
	}
	return caller, id, true
}
