package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"vaultbay/models"
	"vaultbay/wallet"
)

type productRequest struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Price       float64 `json:"price"`
	Region      string  `json:"region"`
	Type        string  `json:"type"`
	Pieces      *int    `json:"pieces,omitempty"`
	ImageRef    string  `json:"imageRef,omitempty"`
}

func (p *productRequest) validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("name required")
	}
	if p.Price <= 0 {
		return errors.New("price must be positive")
	}
	if p.Pieces != nil && *p.Pieces < 0 {
		return errors.New("pieces must not be negative")
	}
	return nil
}

// ListProducts returns the catalog, with optional region and type filters.
func (s *Server) ListProducts(w http.ResponseWriter, r *http.Request) {
	query := s.db.WithContext(r.Context()).Model(&models.Product{})
	if region := strings.TrimSpace(r.URL.Query().Get("region")); region != "" {
		query = query.Where("region = ?", region)
	}
	if kind := strings.TrimSpace(r.URL.Query().Get("type")); kind != "" {
		query = query.Where("type = ?", kind)
	}
	var products []models.Product
	if err := query.Order("created_at DESC").Find(&products).Error; err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "store unavailable, retry later")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

// GetProduct returns a single listing.
func (s *Server) GetProduct(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid product id")
		return
	}
	var product models.Product
	if err := s.db.WithContext(r.Context()).First(&product, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.writeError(w, http.StatusNotFound, "not found")
			return
		}
		s.writeError(w, http.StatusServiceUnavailable, "store unavailable, retry later")
		return
	}
	s.writeJSON(w, http.StatusOK, product)
}

// CreateProduct adds a catalog listing. Operator only.
func (s *Server) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	now := s.now()
	product := models.Product{
		ID:          uuid.New(),
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		Price:       req.Price,
		Region:      strings.TrimSpace(req.Region),
		Type:        strings.TrimSpace(req.Type),
		Pieces:      req.Pieces,
		ImageRef:    strings.TrimSpace(req.ImageRef),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.db.WithContext(r.Context()).Create(&product).Error; err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "store unavailable, retry later")
		return
	}
	s.writeJSON(w, http.StatusCreated, product)
}

// UpdateProduct replaces the mutable fields of a listing. Existing
// transactions keep their snapshotted amounts.
func (s *Server) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid product id")
		return
	}
	var req productRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var product models.Product
	if err := s.db.WithContext(r.Context()).First(&product, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.writeError(w, http.StatusNotFound, "not found")
			return
		}
		s.writeError(w, http.StatusServiceUnavailable, "store unavailable, retry later")
		return
	}

	product.Name = strings.TrimSpace(req.Name)
	product.Description = req.Description
	product.Price = req.Price
	product.Region = strings.TrimSpace(req.Region)
	product.Type = strings.TrimSpace(req.Type)
	product.Pieces = req.Pieces
	product.ImageRef = strings.TrimSpace(req.ImageRef)
	product.UpdatedAt = s.now()
	if err := s.db.WithContext(r.Context()).Save(&product).Error; err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "store unavailable, retry later")
		return
	}
	s.writeJSON(w, http.StatusOK, product)
}

// DeleteProduct removes a listing from the catalog. Transactions referencing
// it are unaffected; they carry their own snapshots.
func (s *Server) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid product id")
		return
	}
	result := s.db.WithContext(r.Context()).Delete(&models.Product{}, "id = ?", id)
	if result.Error != nil {
		s.writeError(w, http.StatusServiceUnavailable, "store unavailable, retry later")
		return
	}
	if result.RowsAffected == 0 {
		s.writeError(w, http.StatusNotFound, "not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type walletRequest struct {
	Address string `json:"address"`
}

// PutWallet sets the receiving address for an asset. New transactions quote
// the new address; existing ones keep their snapshot.
func (s *Server) PutWallet(w http.ResponseWriter, r *http.Request) {
	asset, err := wallet.NormalizeAsset(chi.URLParam(r, "asset"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req walletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	address := strings.TrimSpace(req.Address)
	if err := wallet.ValidateAddress(asset, address); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cfg := models.WalletConfig{Asset: asset, Address: address, UpdatedAt: s.now()}
	if err := s.db.WithContext(r.Context()).Save(&cfg).Error; err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "store unavailable, retry later")
		return
	}
	s.writeJSON(w, http.StatusOK, cfg)
}
