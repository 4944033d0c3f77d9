package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/dropDatabas3/gatehouse/internal/cache"
	cachemem "github.com/dropDatabas3/gatehouse/internal/cache/memory"
	cacheredis "github.com/dropDatabas3/gatehouse/internal/cache/redis"
	"github.com/dropDatabas3/gatehouse/internal/config"
	"github.com/dropDatabas3/gatehouse/internal/email"
	gatehousehttp "github.com/dropDatabas3/gatehouse/internal/http"
	"github.com/dropDatabas3/gatehouse/internal/identity"
	"github.com/dropDatabas3/gatehouse/internal/metrics"
	"github.com/dropDatabas3/gatehouse/internal/observability/logger"
	"github.com/dropDatabas3/gatehouse/internal/oidc/discovery"
	"github.com/dropDatabas3/gatehouse/internal/oidc/flow"
	"github.com/dropDatabas3/gatehouse/internal/oidc/idtoken"
	"github.com/dropDatabas3/gatehouse/internal/oidc/token"
	storemem "github.com/dropDatabas3/gatehouse/internal/store/memory"
	storepg "github.com/dropDatabas3/gatehouse/internal/store/pg"
)

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the login endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadSettings()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	return cmd
}

// stores groups the two contracts plus the optional closer behind them.
type stores struct {
	users identity.UserStore
	links identity.LinkStore
	close func()
}

// openStores picks the backend from DATABASE_URL: PostgreSQL when set,
// the in-process store otherwise.
func openStores(ctx context.Context) (*stores, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		st := storemem.New()
		return &stores{users: st.Users(), links: st.Links(), close: func() {}}, nil
	}
	st, err := storepg.New(ctx, dsn, storepg.Config{})
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}
	return &stores{users: st.Users(), links: st.Links(), close: st.Close}, nil
}

// openCache picks the cache from REDIS_ADDR: shared Redis when set, the
// in-process cache otherwise. States and sessions live here, so Redis is
// what makes a multi-instance deployment coherent.
func openCache() cache.Cache {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return cachemem.New(time.Hour)
	}
	db, _ := strconv.Atoi(os.Getenv("REDIS_DB"))
	return cacheredis.New(addr, db, "gatehouse")
}

func buildResolver(cfg *config.Settings, st *stores) (flow.IdentityResolver, error) {
	if cfg.StaticMode() {
		m, err := identity.ParseMapping(cfg.UsernameMapping)
		if err != nil {
			return nil, err
		}
		return identity.NewStaticResolver(st.users, m), nil
	}

	var opts []identity.ResolverOption
	if cfg.WelcomeEmail && cfg.SMTP.Host != "" {
		notifier := email.NewWelcomeNotifier(email.FromConfig(cfg.SMTP), cfg.RedirectURI)
		opts = append(opts, identity.WithNotifier(notifier))
	}
	return identity.NewResolver(st.users, st.links, identity.Policy{
		Provider:      cfg.ProviderKey,
		AutoLink:      cfg.AutoLinkUser,
		AutoProvision: cfg.AutoCreateUser,
	}, opts...), nil
}

func serve(ctx context.Context, cfg *config.Settings, addr string) error {
	log := logger.Named("serve")

	st, err := openStores(ctx)
	if err != nil {
		return err
	}
	defer st.close()

	c := openCache()
	if err := metrics.Register(nil); err != nil {
		return err
	}

	resolver, err := buildResolver(cfg, st)
	if err != nil {
		return err
	}

	var validatorOpts []idtoken.ValidatorOption
	if cfg.AllowInsecureHTTP {
		// Dev setups that accept plain-http providers also accept the
		// legacy behavior of proceeding when the JWKS is unreachable.
		validatorOpts = append(validatorOpts, idtoken.WithFailOpen(true))
	}

	f := flow.New(
		cfg,
		discovery.NewResolver(c,
			discovery.WithInsecureHTTP(cfg.AllowInsecureHTTP),
			discovery.WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout})),
		token.NewExchanger(cfg.HTTPTimeout),
		idtoken.NewValidator(idtoken.NewKeySource(c, cfg.HTTPTimeout), validatorOpts...),
		resolver,
		flow.NewStateStore(c, cfg.StateTTL),
	)

	sessions := gatehousehttp.NewSessions(c, !cfg.AllowInsecureHTTP)
	handler := gatehousehttp.NewLoginHandler(f, st.users, sessions)

	r := chi.NewRouter()
	r.Use(chimw.RequestID, chimw.RealIP, chimw.Recoverer)
	handler.Register(r)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", logger.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case sig := <-stop:
		log.Info("shutting down", logger.String("signal", sig.String()))
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
