package main

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	dsig "github.com/russellhaering/goxmldsig"
	"go.opentelemetry.io/contrib/bridges/otelslog"

	authhandler "authgate/internal/auth/handler"
	"authgate/internal/auth/service"
	"authgate/internal/config"
	"authgate/internal/db"
	"authgate/internal/ratelimit"
	"authgate/internal/saml"
	"authgate/internal/security"
	"authgate/internal/server"
	"authgate/internal/session"
	"authgate/internal/telemetry/otel"
	"authgate/internal/user/repository"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := otel.NewProviders(ctx, cfg.OTLPEndpoint, "authgate", cfg.OTLPInsecure)
	if err != nil {
		log.Fatalf("telemetry: %v", err)
	}
	providers.SetGlobal()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = providers.Shutdown(shutdownCtx)
	}()

	logger := newLogger(cfg, providers)

	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}
	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	tokens, err := newTokenProvider(cfg, logger)
	if err != nil {
		log.Fatalf("session keys: %v", err)
	}

	users := repository.NewPostgresRepository(conn)
	auth := service.NewAuthService(users, security.NewHasher(cfg.BcryptCost))
	sessions := session.NewManager(tokens, cfg.Env == "production")

	handshake, err := newHandshake(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("saml: %v", err)
	}

	limiter := ratelimit.NewLimiter(cfg.LoginMaxAttempts, cfg.LoginWindowDuration())
	defer limiter.Close()

	router := server.NewRouter(server.Deps{
		Accounts:    authhandler.New(auth, sessions, handshake, logger),
		Sessions:    sessions,
		Limiter:     limiter,
		Log:         logger,
		HealthCheck: conn.PingContext,
	})
	srv := server.New(cfg.HTTPAddr, router)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("serve: %v", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
	logger.Info("http server stopped")
}

// newLogger routes logs through the OTLP pipeline when an endpoint is
// configured, plain text to stderr otherwise.
func newLogger(cfg *config.Config, providers *otel.Providers) *slog.Logger {
	if cfg.OTLPEndpoint != "" {
		return slog.New(otelslog.NewHandler("authgate", otelslog.WithLoggerProvider(providers.LoggerProvider)))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

// newTokenProvider builds the session signer from the configured key pair.
// Without configured keys an ephemeral RSA key is generated, which means
// sessions do not survive a restart; fine for development, logged loudly.
func newTokenProvider(cfg *config.Config, logger *slog.Logger) (*security.TokenProvider, error) {
	if cfg.SessionPrivateKey == "" {
		logger.Warn("SESSION_PRIVATE_KEY not set; using an ephemeral key, sessions will not survive restarts")
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return nil, err
		}
		return security.NewTokenProvider(key, key.Public(), cfg.SessionIssuer, cfg.SessionAudience, cfg.SessionTTLDuration()), nil
	}
	priv, err := security.ParsePrivateKey(cfg.SessionPrivateKey)
	if err != nil {
		return nil, err
	}
	var pub crypto.PublicKey
	if cfg.SessionPublicKey != "" {
		pub, err = security.ParsePublicKey(cfg.SessionPublicKey)
		if err != nil {
			return nil, err
		}
	} else {
		pub = priv.Public()
	}
	return security.NewTokenProvider(priv, pub, cfg.SessionIssuer, cfg.SessionAudience, cfg.SessionTTLDuration()), nil
}

// newHandshake fetches the IdP metadata and builds the federation handshake.
// Returns nil when federation is not configured; the federation routes then
// answer 404.
func newHandshake(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*saml.Handshake, error) {
	if !cfg.SAMLEnabled() {
		logger.Info("federated login disabled; SAML_IDP_METADATA_URL and SAML_IDP_ENTITY_ID not configured")
		return nil, nil
	}
	metadata, err := saml.FetchIDPMetadata(ctx, cfg.SAMLIDPMetadataURL)
	if err != nil {
		return nil, err
	}

	samlCfg := saml.Config{
		SPEntityID:       cfg.SAMLSPEntityID,
		IDPEntityID:      cfg.SAMLIDPEntityID,
		IDPSSOURL:        metadata.SSOURL,
		IDPCertStore:     metadata.CertStore,
		ACSURL:           cfg.SAMLACSURL,
		AllowUnsolicited: cfg.SAMLAllowUnsolicited,
	}
	if cfg.SAMLSPPrivateKey != "" && cfg.SAMLSPCertificate != "" {
		keyPEM, err := security.LoadPEM(cfg.SAMLSPPrivateKey)
		if err != nil {
			return nil, err
		}
		certPEM, err := security.LoadPEM(cfg.SAMLSPCertificate)
		if err != nil {
			return nil, err
		}
		pair, err := tls.X509KeyPair(certPEM, keyPEM)
		if err != nil {
			return nil, err
		}
		samlCfg.SPKeyStore = dsig.TLSCertKeyStore(pair)
		samlCfg.SignRequests = true
	}

	logger.Info("federated login enabled",
		"idp_entity_id", cfg.SAMLIDPEntityID,
		"sso_url", metadata.SSOURL,
		"allow_unsolicited", cfg.SAMLAllowUnsolicited,
	)
	return saml.NewHandshake(samlCfg), nil
}
