package main

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/halcyonlabs/cvm/internal/access"
	"github.com/halcyonlabs/cvm/internal/adaptor"
	"github.com/halcyonlabs/cvm/internal/config"
	"github.com/halcyonlabs/cvm/internal/engine"
	"github.com/halcyonlabs/cvm/internal/logger"
	"github.com/halcyonlabs/cvm/internal/pricing"
	"github.com/halcyonlabs/cvm/internal/state"
	"github.com/halcyonlabs/cvm/internal/types"
	"github.com/halcyonlabs/cvm/internal/vault"
	"github.com/halcyonlabs/cvm/internal/web"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// main is the entry point for the CVM system.
func main() {
	// --- 1. Initialization Phase ---
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("Warning: .env file not found. Relying on OS environment variables.")
	}

	// Load configuration from environment variables
	if err := config.LoadConfig(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Initialize(os.Getenv("LOG_LEVEL"))
	log.Info().Msg("CVM Core Logic Starting...")

	// Initialize Database Connection
	dbCfg := state.DBConfig{
		Host: os.Getenv("DB_HOST"), Port: mustAtoi(os.Getenv("DB_PORT"), 5432),
		User: os.Getenv("DB_USER"), Password: os.Getenv("DB_PASSWORD"),
		DBName: os.Getenv("DB_NAME"), SSLMode: os.Getenv("DB_SSLMODE"),
	}
	if err := state.InitDB(dbCfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer state.CloseDB()
	if err := state.EnsureSchema(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure database schema")
	}

	// Load Risk Parameters; the persisted active set wins over the env values
	riskParams, err := state.LoadActiveRiskParameters(engine.DEFAULT_CONFIG_NAME)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load active risk parameters, using env values and saving.")
		defaultParams := config.RiskParameters()
		if _, err := state.SaveRiskParameters(defaultParams, engine.DEFAULT_CONFIG_NAME, engine.DEFAULT_CONFIG_VERSION, true); err != nil {
			log.Fatal().Err(err).Msg("Failed to save initial default risk parameters.")
		}
		riskParams = &defaultParams
	}
	log.Info().Msg("Risk parameters loaded successfully.")
	vaultParams := riskParams.VaultParams()

	// --- 2. Credentials, Prices, Adaptors ---
	gate := access.NewGate()
	adminID, err := gate.Issue(access.RoleAdmin)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to issue admin credential")
	}
	operatorID, err := gate.Issue(access.RoleOperator)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to issue operator credential")
	}
	log.Info().
		Str("admin_credential", adminID.String()).
		Str("operator_credential", operatorID.String()).
		Msg("Credentials issued; pass via the X-Vault-Credential header")

	prices := pricing.NewCache(vaultParams.MaxPriceStaleness)

	registry := adaptor.NewRegistry()
	markets := adaptor.NewStaticMarketSource()
	deviationBps := riskParams.MarketDeviationBps
	if asset := os.Getenv("CVM_LENDING_ASSET"); asset != "" {
		feed := os.Getenv("CVM_LENDING_FEED")
		if feed == "" {
			log.Fatal().Msg("CVM_LENDING_ASSET is set but CVM_LENDING_FEED is not")
		}
		a := adaptor.NewLendingAdaptor(types.AssetTypeID(asset), types.AssetTypeID(feed), deviationBps, vaultParams.MaxPriceStaleness)
		if err := registry.Register(a); err != nil {
			log.Fatal().Err(err).Msg("Failed to register lending adaptor")
		}
		log.Info().Str("asset", asset).Str("feed", feed).Msg("Lending adaptor registered")
	}
	if asset := os.Getenv("CVM_AMM_ASSET"); asset != "" {
		a := adaptor.NewAMMLPAdaptor(types.AssetTypeID(asset), deviationBps, vaultParams.MaxPriceStaleness)
		if err := registry.Register(a); err != nil {
			log.Fatal().Err(err).Msg("Failed to register AMM LP adaptor")
		}
		log.Info().Str("asset", asset).Msg("AMM LP adaptor registered")
	}

	// --- 3. Vault ---
	v, err := vault.New(vault.Config{
		Gate:     gate,
		Prices:   prices,
		Adaptors: registry,
		Params:   vaultParams,
		Journal:  state.NewJournal(),
		Now:      time.Now(),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create vault")
	}
	log.Info().Str("vault_id", v.ID().String()).Msg("Vault created")

	// --- 4. Web Server ---
	webPort := os.Getenv("WEB_PORT")
	if webPort == "" {
		webPort = "8080"
	}

	webServer := web.NewWebServer(webPort, v, prices, markets)
	go func() {
		log.Info().Str("port", webPort).Str("url", "http://localhost:"+webPort).Msg("Starting CVM web API")
		if err := webServer.Start(); err != nil {
			log.Error().Err(err).Msg("Web server failed to start")
		}
	}()

	// --- 5. Valuation Engine Main Loop ---
	epochDuration := time.Duration(riskParams.EpochDurationSecs) * time.Second
	engineInstance, err := engine.NewEngine(engine.Config{
		Vault:         v,
		Markets:       markets,
		AdminID:       adminID,
		EpochDuration: epochDuration,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create engine instance")
	}

	log.Info().Str("interval", config.CycleInterval.String()).Msg("Starting engine main loop")

	ctx := context.Background()
	engineInstance.RunLoop(ctx, config.CycleInterval)
}

// Helper to convert string to int with a default value
func mustAtoi(s string, defaultValue int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return i
}
