package config

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"

	"vaultbay/models"
	"vaultbay/wallet"
)

// Seed holds the operator-authored bootstrap catalog and wallet addresses
// loaded at startup.
type Seed struct {
	Products []SeedProduct `yaml:"products"`
	Wallets  []SeedWallet  `yaml:"wallets"`
}

// SeedProduct is one catalog listing in the seed file.
type SeedProduct struct {
	Name        string  `yaml:"name"`
	Description string  `yaml:"description"`
	Price       float64 `yaml:"price"`
	Region      string  `yaml:"region"`
	Type        string  `yaml:"type"`
	Pieces      *int    `yaml:"pieces"`
	ImageRef    string  `yaml:"image"`
}

// SeedWallet maps a payment asset to its receiving address.
type SeedWallet struct {
	Asset   string `yaml:"asset"`
	Address string `yaml:"address"`
}

// LoadSeed parses a YAML seed file.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse seed %s: %w", path, err)
	}
	for i, p := range seed.Products {
		if p.Name == "" {
			return nil, fmt.Errorf("seed product %d: name is required", i)
		}
		if p.Price <= 0 {
			return nil, fmt.Errorf("seed product %q: price must be positive", p.Name)
		}
	}
	for _, w := range seed.Wallets {
		if err := wallet.ValidateAddress(w.Asset, w.Address); err != nil {
			return nil, fmt.Errorf("seed wallet: %w", err)
		}
	}
	return &seed, nil
}

// Apply upserts wallet addresses and inserts any products not yet present
// (matched by name, so repeated startups do not duplicate the catalog).
func (s *Seed) Apply(db *gorm.DB) error {
	return db.Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		for _, w := range s.Wallets {
			asset, err := wallet.NormalizeAsset(w.Asset)
			if err != nil {
				return err
			}
			cfg := models.WalletConfig{Asset: asset, Address: w.Address, UpdatedAt: now}
			if err := tx.Save(&cfg).Error; err != nil {
				return err
			}
		}
		for _, p := range s.Products {
			var count int64
			if err := tx.Model(&models.Product{}).Where("name = ?", p.Name).Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				continue
			}
			product := models.Product{
				ID:          uuid.New(),
				Name:        p.Name,
				Description: p.Description,
				Price:       p.Price,
				Region:      p.Region,
				Type:        p.Type,
				Pieces:      p.Pieces,
				ImageRef:    p.ImageRef,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			if err := tx.Create(&product).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
