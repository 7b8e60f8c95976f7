package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/healapp/backend/internal/api"
	"github.com/healapp/backend/internal/auth"
	"github.com/healapp/backend/internal/bootstrap"
	"github.com/healapp/backend/internal/cache"
	"github.com/healapp/backend/internal/config"
	"github.com/healapp/backend/internal/consultation"
	"github.com/healapp/backend/internal/logger"
	"github.com/healapp/backend/internal/metrics"
	"github.com/healapp/backend/internal/middleware"
	"github.com/healapp/backend/internal/seed"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New("info").WithError(err).Fatal("config")
	}
	log := logger.New(cfg.LogLevel)
	srvLog := log.WithComponent("server")

	ctx := context.Background()
	stores, err := bootstrap.OpenStores(ctx, cfg, log)
	if err != nil {
		srvLog.WithError(err).Fatal("store")
	}
	defer stores.Close()

	if err := seed.Run(ctx, stores.Users, cfg.SeedAdminEmail, cfg.SeedAdminPassword, log.WithComponent("seed")); err != nil {
		srvLog.WithError(err).Warn("seed (ignorado se já aplicado)")
	}
	if !cfg.IsProduction() && cfg.StoreKind == config.BackendMemory {
		if err := seed.Demo(ctx, stores.Consultations, cfg.Location(), time.Now(), log.WithComponent("seed")); err != nil {
			srvLog.WithError(err).Warn("seed de demonstração")
		}
	}

	dispatcher := bootstrap.Dispatcher(cfg, log)
	svc := consultation.NewService(stores.Consultations,
		consultation.WithNotifier(dispatcher),
		consultation.WithAuditRecorder(stores.Audit),
		consultation.WithLogger(log),
		consultation.WithLocation(cfg.Location()),
		consultation.WithNotifyTimeout(cfg.NotifyTimeout()),
	)

	revoked := cache.New[struct{}](time.Minute)
	defer revoked.Stop()
	authn := auth.NewAuthenticator(stores.Users, cfg.JWTSecret, cfg.SessionTTL(), revoked)
	if rs, ok := stores.Users.(auth.ResetStore); ok {
		authn.SetResetStore(rs)
	}
	var sendReset api.ResetMailer
	if mc := bootstrap.MailConfig(cfg, log); mc != nil {
		sendReset = func(ctx context.Context, to, name, link string) error {
			ctx, cancel := context.WithTimeout(ctx, cfg.NotifyTimeout())
			defer cancel()
			return mc.SendPasswordReset(ctx, to, name, link, "1 hora")
		}
	}
	resetThrottle := cache.New[struct{}](api.ResetRequestInterval)
	defer resetThrottle.Stop()

	r := mux.NewRouter()
	r.Use(middleware.Metrics)

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}).Methods(http.MethodGet)

	r.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := stores.Ready(r.Context()); err != nil {
			srvLog.WithError(err).Warn("ready: store indisponível")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"store unhealthy"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	}).Methods(http.MethodGet)

	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	h := &api.Handler{
		Service: svc,
		Auth:    authn,
		Links:   dispatcher,
		Log:     log.WithComponent("api"),
	}
	h.SetAuditReader(stores.Audit)
	h.SetDeepLinkHost(cfg.WhatsAppDeepLinkHost)
	h.SetReminderSource(stores.Consultations, cfg.ReminderDaysAhead)
	h.SetAllowedOrigins(cfg.CORSOrigins)
	h.SetPublicSignup(cfg.AllowPublicSignup)
	h.SetPasswordReset(cfg.AppPublicURL, sendReset, resetThrottle)
	h.Register(r, middleware.RequireAuthMiddleware(authn))

	chain := middleware.Recover(srvLog)(
		middleware.RequestID(
			middleware.Timeout(cfg.RequestTimeout())(
				middleware.CORS(cfg.CORSOrigins)(
					middleware.Gzip(r)))))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           chain,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// WriteTimeout fica zerado por causa do stream em WebSocket; Timeout cobre as demais rotas
	}

	go func() {
		srvLog.WithFields(logrus.Fields{"port": cfg.Port, "store": cfg.StoreKind}).Info("backend listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			srvLog.WithError(err).Fatal("listen")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		srvLog.WithError(err).Error("shutdown")
	}
	// fecha os WebSockets e espera os links de confirmação ainda em envio
	svc.Close()
	srvLog.Info("backend stopped")
}
