// warden-admin is the operator CLI for the security control plane: ledger
// verification and snapshots, API key lifecycle, token secret rotation and
// blacklist cleanup. It talks to the same stores as the gateway, selected by
// WARDEN_PG_DSN (empty means in-memory, for local demos).
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"

	"github.com/wardenhq/warden/internal/audit"
	"github.com/wardenhq/warden/internal/auth"
	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/obs"
	"github.com/wardenhq/warden/internal/ratelimit"
	"github.com/wardenhq/warden/internal/rbac"
	"github.com/wardenhq/warden/internal/rotation"
	"github.com/wardenhq/warden/internal/store/pg"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

const usage = `usage: warden-admin <command>

commands:
  verify                  replay the audit ledger and check every link
  stats                   ledger entry count plus a fresh integrity pass
  snapshot                capture the ledger tail (count + last hash)
  apikey create           mint an API key (flags: -name -role -user -expires-days)
  apikey list             list API keys (flags: -user)
  apikey revoke           revoke an API key (flags: -id)
  rotate-secret           rotate the token signing secret (new value from
                          WARDEN_NEW_TOKEN_SECRET)
  clear-previous-secret   end the rotation grace window early
  cleanup                 drop expired blacklist rows and rotation leftovers,
                          report secrets due for rotation
`

type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	chain   *audit.Chain
	roles   *rbac.Engine
	limiter *ratelimit.Limiter
	rotator *rotation.Manager
	authsvc *auth.Service
	close   func()
}

func main() {
	log.SetFlags(0)
	args := os.Args[1:]
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("%v", err)
	}

	logger, err := obs.NewLogger(obs.LogConfigFromEnv())
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer obs.Sync(logger)
	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("startup: %v", err)
	}
	defer a.close()

	if err := a.run(ctx, args); err != nil {
		log.Fatalf("%v", err)
	}
}

// buildApp wires the full control plane: stores, ledger chain, role engine,
// limiter, rotation manager and the auth service on top.
func buildApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	var (
		auditStore    audit.Storage
		authStore     auth.Storage
		rbacStore     rbac.Storage
		rotationStore rotation.Storage
		closeStore    = func() {}
	)
	if cfg.Database.DSN != "" {
		store, err := pg.Open(cfg.Database.DSN,
			pg.WithPool(cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns))
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := store.Ping(ctx); err != nil {
			store.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		auditStore, authStore, rbacStore, rotationStore = store, store, store, store
		closeStore = func() { _ = store.Close() }
	} else {
		auditStore = audit.NewMemoryStore()
		authStore = auth.NewMemoryStore()
		rbacStore = rbac.NewMemoryStore()
		rotationStore = rotation.NewMemoryStore()
	}

	chain, err := audit.NewChain(auditStore, cfg.Audit.SigningKey, audit.WithLogger(logger))
	if err != nil {
		closeStore()
		return nil, err
	}
	if err := chain.Initialize(ctx); err != nil {
		closeStore()
		return nil, fmt.Errorf("initialize ledger: %w", err)
	}

	roles := rbac.NewEngine(rbacStore, rbac.WithLogger(logger))
	if err := roles.LoadPersisted(ctx); err != nil {
		closeStore()
		return nil, fmt.Errorf("load roles: %w", err)
	}

	limiter, err := ratelimit.New(ratelimit.Rule{
		Name:        "default",
		Window:      cfg.RateLimit.DefaultWindow,
		MaxRequests: cfg.RateLimit.DefaultMaxRequests,
		KeyType:     ratelimit.KeyIP,
		OnExceed:    ratelimit.PolicyReject,
	}, ratelimit.WithLogger(logger))
	if err != nil {
		closeStore()
		return nil, err
	}

	rotator := rotation.NewManager(rotationStore,
		rotation.WithLogger(logger),
		rotation.WithGrace(cfg.Rotation.PreviousValueTTL))
	if err := registerSecrets(ctx, rotator); err != nil {
		closeStore()
		return nil, fmt.Errorf("register secrets: %w", err)
	}

	opts := []auth.ServiceOption{
		auth.WithLogger(logger),
		auth.WithIssuer(cfg.Auth.Issuer),
		auth.WithAccessTTL(cfg.Auth.AccessTokenTTL),
		auth.WithRefreshTTL(cfg.Auth.RefreshTokenTTL),
		auth.WithAdminCredential(cfg.Auth.AdminUserID, cfg.Auth.AdminPasswordHash),
		auth.WithKeyPrefix(cfg.Auth.APIKeyPrefix),
		auth.WithRotation(rotator),
	}
	// A restart inside the grace window re-seeds the previous signing secret
	// so tokens minted before the rotation stay valid.
	if prev, err := rotator.PreviousValue(ctx, rotation.SecretTokenSigning); err == nil {
		opts = append(opts, auth.WithPreviousSecret(prev))
	} else if !errors.Is(err, rotation.ErrNotFound) {
		closeStore()
		return nil, fmt.Errorf("load previous secret: %w", err)
	}

	authsvc, err := auth.NewService(authStore, chain, roles, limiter, cfg.Auth.TokenSecret, opts...)
	if err != nil {
		closeStore()
		return nil, err
	}

	return &app{
		cfg:     cfg,
		logger:  logger,
		chain:   chain,
		roles:   roles,
		limiter: limiter,
		rotator: rotator,
		authsvc: authsvc,
		close:   closeStore,
	}, nil
}

// registerSecrets keeps lifecycle rows for the secrets the plane depends on.
// Values never pass through here; all three arrive via environment.
func registerSecrets(ctx context.Context, rotator *rotation.Manager) error {
	secrets := []rotation.SecretMetadata{
		{
			Name:                 rotation.SecretTokenSigning,
			Source:               rotation.SourceExternal,
			Category:             rotation.CategoryJWT,
			RotationIntervalDays: 90,
			AutoRotate:           true,
		},
		{
			Name:     rotation.SecretAuditSigning,
			Source:   rotation.SourceExternal,
			Category: rotation.CategoryAuditSigning,
		},
		{
			Name:     rotation.SecretAdminHash,
			Source:   rotation.SourceExternal,
			Category: rotation.CategoryAdmin,
		},
	}
	for _, meta := range secrets {
		if err := rotator.Register(ctx, meta); err != nil {
			return fmt.Errorf("register %s: %w", meta.Name, err)
		}
	}
	return nil
}

func (a *app) run(ctx context.Context, args []string) error {
	switch args[0] {
	case "verify":
		return a.cmdVerify(ctx)
	case "stats":
		return a.cmdStats(ctx)
	case "snapshot":
		return a.cmdSnapshot(ctx)
	case "apikey":
		return a.cmdAPIKey(ctx, args[1:])
	case "rotate-secret":
		return a.cmdRotateSecret(ctx)
	case "clear-previous-secret":
		return a.cmdClearPreviousSecret(ctx)
	case "cleanup":
		return a.cmdCleanup(ctx)
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func (a *app) cmdVerify(ctx context.Context) error {
	res, err := a.chain.Verify(ctx)
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}
	printJSON(res)
	if !res.Valid {
		return fmt.Errorf("ledger integrity check failed at %s: %s", res.BrokenAt, res.Reason)
	}
	return nil
}

func (a *app) cmdStats(ctx context.Context) error {
	stats, err := a.chain.Stats(ctx)
	if err != nil {
		return fmt.Errorf("stats: %w", err)
	}
	printJSON(stats)
	return nil
}

func (a *app) cmdSnapshot(ctx context.Context) error {
	snap, err := a.chain.CreateSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	printJSON(snap)
	return nil
}

func (a *app) cmdAPIKey(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: warden-admin apikey [create|list|revoke]")
	}
	switch args[0] {
	case "create":
		fs := flag.NewFlagSet("apikey create", flag.ExitOnError)
		name := fs.String("name", "", "display name")
		role := fs.String("role", "", "role id the key acts with")
		user := fs.String("user", "", "user id the key acts as")
		days := fs.Int("expires-days", 0, "days until expiry (0 = never)")
		_ = fs.Parse(args[1:])

		rec, raw, err := a.authsvc.CreateAPIKey(ctx, auth.CreateAPIKeyParams{
			Name:          *name,
			Role:          *role,
			UserID:        *user,
			ExpiresInDays: *days,
		})
		if err != nil {
			return fmt.Errorf("create api key: %w", err)
		}
		fmt.Printf("id:     %s\n", rec.ID)
		fmt.Printf("name:   %s\n", rec.Name)
		fmt.Printf("role:   %s\n", rec.Role)
		if rec.ExpiresAt != nil {
			fmt.Printf("expires: %s\n", rec.ExpiresAt.UTC().Format(time.RFC3339))
		}
		fmt.Printf("key:    %s\n", raw)
		fmt.Println("save the key now; only its hash is stored and it cannot be shown again")
		return nil

	case "list":
		fs := flag.NewFlagSet("apikey list", flag.ExitOnError)
		user := fs.String("user", "", "filter by user id")
		_ = fs.Parse(args[1:])

		keys, err := a.authsvc.ListAPIKeys(ctx, *user)
		if err != nil {
			return fmt.Errorf("list api keys: %w", err)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tPREFIX\tROLE\tUSER\tCREATED\tEXPIRES\tREVOKED\tLAST USED")
		for _, k := range keys {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				k.ID, k.Name, k.KeyPrefix, k.Role, k.UserID,
				k.CreatedAt.UTC().Format(time.RFC3339),
				fmtTime(k.ExpiresAt), fmtTime(k.RevokedAt), fmtTime(k.LastUsedAt))
		}
		return w.Flush()

	case "revoke":
		fs := flag.NewFlagSet("apikey revoke", flag.ExitOnError)
		id := fs.String("id", "", "key id")
		_ = fs.Parse(args[1:])
		if *id == "" {
			return errors.New("apikey revoke: -id is required")
		}
		if err := a.authsvc.RevokeAPIKey(ctx, *id, a.cfg.Auth.AdminUserID); err != nil {
			return fmt.Errorf("revoke api key: %w", err)
		}
		fmt.Printf("revoked %s\n", *id)
		return nil

	default:
		return fmt.Errorf("unknown apikey command %q", args[0])
	}
}

func (a *app) cmdRotateSecret(ctx context.Context) error {
	// The new value comes from the environment, not argv, so it never shows
	// up in shell history or the process table.
	newSecret := strings.TrimSpace(os.Getenv("WARDEN_NEW_TOKEN_SECRET"))
	if newSecret == "" {
		return errors.New("rotate-secret: set WARDEN_NEW_TOKEN_SECRET")
	}
	if err := a.authsvc.UpdateTokenSecret(ctx, newSecret); err != nil {
		return fmt.Errorf("rotate secret: %w", err)
	}
	fmt.Println("token signing secret rotated")
	fmt.Printf("update WARDEN_TOKEN_SECRET everywhere before the %s grace window closes;\n", a.cfg.Rotation.PreviousValueTTL)
	fmt.Println("tokens signed with the outgoing secret stay valid until then")
	return nil
}

func (a *app) cmdClearPreviousSecret(ctx context.Context) error {
	if err := a.authsvc.ClearPreviousSecret(ctx); err != nil {
		return fmt.Errorf("clear previous secret: %w", err)
	}
	fmt.Println("grace window closed; only the current secret validates tokens")
	return nil
}

func (a *app) cmdCleanup(ctx context.Context) error {
	tokens, err := a.authsvc.CleanupExpiredTokens(ctx)
	if err != nil {
		return fmt.Errorf("cleanup tokens: %w", err)
	}
	purged, err := a.rotator.PurgeExpired(ctx)
	if err != nil {
		return fmt.Errorf("purge rotation values: %w", err)
	}
	fmt.Printf("expired blacklist rows removed: %d\n", tokens)
	fmt.Printf("expired rotation values removed: %d\n", purged)

	due, err := a.rotator.Due(ctx)
	if err != nil {
		return fmt.Errorf("check due secrets: %w", err)
	}
	for _, meta := range due {
		fmt.Printf("secret %q is due for rotation (interval %dd)\n", meta.Name, meta.RotationIntervalDays)
	}
	return nil
}

func printJSON(v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Fatalf("encode output: %v", err)
	}
	fmt.Println(string(b))
}

func fmtTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
