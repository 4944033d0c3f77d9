package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	cachemem "github.com/dropDatabas3/gatehouse/internal/cache/memory"
	cacheredis "github.com/dropDatabas3/gatehouse/internal/cache/redis"
	"github.com/dropDatabas3/gatehouse/internal/config"
	"github.com/dropDatabas3/gatehouse/internal/oidc/discovery"
	"github.com/dropDatabas3/gatehouse/internal/oidc/idtoken"
	storepg "github.com/dropDatabas3/gatehouse/internal/store/pg"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Probe the provider and backing services",
		Long: "Resolves the provider configuration, fetches its signing keys, and pings\n" +
			"the configured database and cache. All probes run concurrently.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadSettings()
			if err != nil {
				return err
			}
			return runChecks(cmd.Context(), cfg)
		},
	}
}

func runChecks(ctx context.Context, cfg *config.Settings) error {
	ctx, cancel := context.WithTimeout(ctx, cfg.HTTPTimeout)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	ok := func(name string) { fmt.Printf("ok   %s\n", name) }

	g.Go(func() error {
		provider, err := checkProvider(ctx, cfg)
		if err != nil {
			return fmt.Errorf("provider: %w", err)
		}
		ok("provider " + provider.Issuer)

		keys := idtoken.NewKeySource(cachemem.New(time.Minute), cfg.HTTPTimeout)
		if _, err := keys.SigningKey(ctx, provider.Issuer, provider.JWKSURI); err != nil {
			return fmt.Errorf("jwks: %w", err)
		}
		ok("jwks " + idtoken.JWKSEndpoint(provider.Issuer, provider.JWKSURI))
		return nil
	})

	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		g.Go(func() error {
			st, err := storepg.New(ctx, dsn, storepg.Config{})
			if err != nil {
				return fmt.Errorf("postgres: %w", err)
			}
			defer st.Close()
			if err := st.Ping(ctx); err != nil {
				return fmt.Errorf("postgres: %w", err)
			}
			ok("postgres")
			return nil
		})
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		g.Go(func() error {
			c := cacheredis.New(addr, 0, "gatehouse")
			defer c.Close()
			if err := c.Ping(ctx); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
			ok("redis")
			return nil
		})
	}

	return g.Wait()
}

func checkProvider(ctx context.Context, cfg *config.Settings) (*discovery.ProviderConfig, error) {
	if cfg.DiscoveryURL != "" {
		r := discovery.NewResolver(cachemem.New(time.Minute),
			discovery.WithInsecureHTTP(cfg.AllowInsecureHTTP),
			discovery.WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}))
		return r.Resolve(ctx, cfg.DiscoveryURL)
	}
	return discovery.FromManualBase(cfg.OAuthURL)
}
