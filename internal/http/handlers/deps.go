package handlers

import (
	"github.com/jmoiron/sqlx"

	"dukapos/internal/config"
	"dukapos/internal/credit"
	"dukapos/internal/metrics"
	"dukapos/internal/mpesa"
	"dukapos/internal/repos"
	"dukapos/internal/services"
	"dukapos/internal/stock"
)

type Deps struct {
	Auth    *services.AuthService
	Metrics *metrics.Metrics

	AuthHandler      *AuthHandler
	ProductHandler   *ProductHandler
	SearchHandler    *SearchHandler
	InventoryHandler *InventoryHandler
	CartHandler      *CartHandler
	SaleHandler      *SaleHandler
	MpesaHandler     *MpesaHandler
	CreditHandler    *CreditHandler
	AdminHandler     *AdminHandler
}

// NewDeps wires repositories, services and handlers around a hydrated stock
// ledger and a payment client.
func NewDeps(db *sqlx.DB, cfg config.Config, ledger *stock.Ledger, payments *mpesa.Client, m *metrics.Metrics) *Deps {
	prodRepo := repos.NewProductRepo(db)
	invRepo := repos.NewInventoryRepo(db)
	saleRepo := repos.NewSaleRepo(db)
	mpesaRepo := repos.NewMpesaRepo(db)
	userRepo := repos.NewUserRepo(db)

	catalogSvc := services.NewCatalogService(prodRepo, ledger)
	invSvc := services.NewInventoryService(catalogSvc)
	cartSvc := services.NewCartService(catalogSvc)
	creditLedger := credit.NewLedger(repos.NewCreditRepo(db))
	saleSvc := services.NewSaleService(catalogSvc, ledger, payments, creditLedger, saleRepo, m,
		cfg.Mpesa.ConfirmTimeout, cfg.IdempotencyTTL)
	authSvc := &services.AuthService{Users: userRepo}

	return &Deps{
		Auth:             authSvc,
		Metrics:          m,
		AuthHandler:      &AuthHandler{Auth: authSvc},
		ProductHandler:   &ProductHandler{Catalog: catalogSvc},
		SearchHandler:    &SearchHandler{Catalog: catalogSvc},
		InventoryHandler: &InventoryHandler{Inv: invSvc},
		CartHandler:      &CartHandler{Cart: cartSvc},
		SaleHandler:      &SaleHandler{Cart: cartSvc, Sales: saleSvc, Repo: saleRepo},
		MpesaHandler:     &MpesaHandler{Client: payments, Repo: mpesaRepo},
		CreditHandler:    &CreditHandler{Credit: creditLedger},
		AdminHandler:     &AdminHandler{Products: prodRepo, Sales: saleRepo, Inv: invRepo, Mpesa: mpesaRepo, Ledger: ledger},
	}
}
