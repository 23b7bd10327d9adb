package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"casedata/internal/config"
	"casedata/internal/db"
	"casedata/internal/domain"
	"casedata/internal/engine"
	"casedata/internal/events"
	"casedata/internal/logger"
	"casedata/internal/migrate"
	"casedata/internal/numbering"
	"casedata/internal/observability"
	"casedata/internal/process"
	"casedata/internal/repo"
	"casedata/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "casedata",
	Short: "casedata errand service",
	Long: `casedata stores municipal errands and keeps their workflow processes in sync.
- Errand: the case a citizen or company opened, owned by a municipality and a namespace.
- Children: stakeholders, decisions, notes, facilities and statuses live and die with their errand.
- Parameters: free key/values lists attached to an errand and searchable with param.<key>=<value>.
- Process: every errand gets a remote workflow when created; later changes are signalled to it.
- History: every change is recorded, view it with 'casedata errand history'.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("CASEDATA")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().String("config", "", "config file (defaults to <workspace>/casedata.yml)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("client-id", "casedata-cli", "client identifier recorded on changes")
	rootCmd.PersistentFlags().String("user-id", "", "user identifier recorded on changes")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("client-id", rootCmd.PersistentFlags().Lookup("client-id"))
	_ = viper.BindPFlag("user-id", rootCmd.PersistentFlags().Lookup("user-id"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(errandCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(tokenCmd())
}

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log, err := logger.New(cfg.Logging.Mode)
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			shutdownTracing, err := observability.InitOTel(ctx, log, observability.OtelConfig{
				Enabled:      cfg.Tracing.Enabled,
				ServiceName:  cfg.Tracing.ServiceName,
				OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
				OTLPInsecure: cfg.Tracing.OTLPInsecure,
			})
			if err != nil {
				return err
			}
			defer shutdownTracing(context.Background())

			conn, err := openDB(ctx, cfg)
			if err != nil {
				return err
			}
			defer conn.Close()

			syncer, closeEngines, err := process.FromConfig(cfg.Process, log)
			if err != nil {
				return err
			}
			defer closeEngines()
			dispatcher := events.NewDispatcher(cfg.Dispatcher.QueueSize, syncer.HandleEvent, log)
			defer dispatcher.Close()

			e, closeNumbers, err := newEngine(conn, cfg, log)
			if err != nil {
				return err
			}
			defer closeNumbers()
			e.Process = syncer
			e.Publisher = dispatcher

			if addr == "" {
				addr = cfg.Server.Addr
			}
			jwtSecret := cfg.Server.JWTSecret
			if s := viper.GetString("jwt-secret"); s != "" {
				jwtSecret = s
			}
			if jwtSecret == "" {
				return fmt.Errorf("server.jwt_secret or CASEDATA_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{
				Engine:   e,
				BasePath: cfg.Server.BasePath,
				Log:      log,
				Auth: server.AuthConfig{
					JWTSecret:          jwtSecret,
					AllowLegacyHeaders: cfg.Server.AllowLegacyHeaders,
				},
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				log.Info("serving casedata API", "addr", addr, "base_path", cfg.Server.BasePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			conn, err := openDB(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer conn.Close()
			version, err := migrate.Current(cmd.Context(), conn)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"version": version})
			}
			fmt.Printf("database at migration %d\n", version)
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage casedata.yml"}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default config to the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath()
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Server.JWTSecret != "" {
				cfg.Server.JWTSecret = "[REDACTED]"
			}
			for i := range cfg.Process.Engines {
				if cfg.Process.Engines[i].APIKey != "" {
					cfg.Process.Engines[i].APIKey = "[REDACTED]"
				}
			}
			return printJSON(cfg)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate config",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := loadConfig()
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func errandCmd() *cobra.Command {
	errand := &cobra.Command{
		Use:   "errand",
		Short: "Work with errands in the local database",
	}
	errand.AddCommand(errandCreateCmd())
	errand.AddCommand(errandShowCmd())
	errand.AddCommand(errandSearchCmd())
	errand.AddCommand(errandDeleteCmd())
	errand.AddCommand(errandHistoryCmd())
	return errand
}

func scopeFlags(cmd *cobra.Command, scope *domain.Scope) {
	cmd.Flags().StringVar(&scope.MunicipalityID, "municipality", "", "municipality id")
	cmd.Flags().StringVar(&scope.Namespace, "namespace", "", "namespace")
	_ = cmd.MarkFlagRequired("municipality")
	_ = cmd.MarkFlagRequired("namespace")
}

func errandCreateCmd() *cobra.Command {
	var (
		scope  domain.Scope
		draft  domain.Errand
		file   string
		params []string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an errand and start its process",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file != "" {
				data, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				if err := json.Unmarshal(data, &draft); err != nil {
					return fmt.Errorf("parse %s: %w", file, err)
				}
			}
			for _, kv := range params {
				key, value, ok := strings.Cut(kv, "=")
				if !ok {
					return fmt.Errorf("--param %q must be key=value", kv)
				}
				draft.ExtraParameters = append(draft.ExtraParameters, domain.ExtraParameter{
					Key: key, Values: strings.Split(value, ","),
				})
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				created, err := e.CreateErrand(ctx, scope, draft, cliActor())
				if err != nil {
					return err
				}
				return printErrands([]domain.Errand{created})
			})
		},
	}
	scopeFlags(cmd, &scope)
	cmd.Flags().StringVar(&draft.CaseType, "case-type", "", "case type")
	cmd.Flags().StringVar(&draft.Priority, "priority", "", "LOW, MEDIUM or HIGH")
	cmd.Flags().StringVar(&draft.Description, "description", "", "description")
	cmd.Flags().StringVar(&draft.Channel, "channel", "", "intake channel")
	cmd.Flags().StringVar(&file, "file", "", "JSON errand draft; flags override its fields")
	cmd.Flags().StringArrayVar(&params, "param", nil, "parameter key=v1,v2 (repeatable)")
	return cmd
}

func errandShowCmd() *cobra.Command {
	var (
		scope  domain.Scope
		id     int64
		number string
	)
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show one errand by id or errand number",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var (
					errand domain.Errand
					err    error
				)
				if number != "" {
					errand, err = e.FindByErrandNumber(ctx, number)
				} else {
					errand, err = e.GetErrand(ctx, scope, id)
				}
				if err != nil {
					return err
				}
				return printJSON(errand)
			})
		},
	}
	cmd.Flags().StringVar(&scope.MunicipalityID, "municipality", "", "municipality id")
	cmd.Flags().StringVar(&scope.Namespace, "namespace", "", "namespace")
	cmd.Flags().Int64Var(&id, "id", 0, "errand id")
	cmd.Flags().StringVar(&number, "number", "", "errand number, e.g. ERR-2024-000001")
	return cmd
}

func errandSearchCmd() *cobra.Command {
	var (
		scope      domain.Scope
		predicate  string
		params     []string
		sorts      []string
		page, size int
	)
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search errands with a filter predicate and exact parameter matches",
		RunE: func(cmd *cobra.Command, args []string) error {
			wanted := map[string]string{}
			for _, kv := range params {
				key, value, ok := strings.Cut(kv, "=")
				if !ok {
					return fmt.Errorf("--param %q must be key=value", kv)
				}
				wanted[key] = value
			}
			req := domain.PageRequest{Page: page, Size: size}
			for _, s := range sorts {
				field, dir, _ := strings.Cut(s, ",")
				req.Sort = append(req.Sort, domain.SortOrder{Field: field, Desc: strings.EqualFold(dir, "desc")})
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				result, err := e.Search(ctx, scope, predicate, wanted, req)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(result)
				}
				if err := printErrands(result.Items); err != nil {
					return err
				}
				fmt.Printf("page %d/%d, %d errands\n", result.Page+1, result.TotalPages, result.TotalElements)
				return nil
			})
		},
	}
	scopeFlags(cmd, &scope)
	cmd.Flags().StringVar(&predicate, "filter", "", "predicate, e.g. caseType:'PARKING_PERMIT'")
	cmd.Flags().StringArrayVar(&params, "param", nil, "exact parameter match key=value (repeatable)")
	cmd.Flags().StringArrayVar(&sorts, "sort", nil, "field or field,desc (repeatable)")
	cmd.Flags().IntVar(&page, "page", 0, "zero-based page")
	cmd.Flags().IntVar(&size, "size", domain.DefaultPageSize, "page size")
	return cmd
}

func errandDeleteCmd() *cobra.Command {
	var (
		scope domain.Scope
		id    int64
	)
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete an errand and everything it owns",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.DeleteErrand(ctx, scope, id, cliActor()); err != nil {
					return err
				}
				fmt.Printf("deleted errand %d\n", id)
				return nil
			})
		},
	}
	scopeFlags(cmd, &scope)
	cmd.Flags().Int64Var(&id, "id", 0, "errand id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func errandHistoryCmd() *cobra.Command {
	var (
		scope domain.Scope
		id    int64
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the change history of an errand",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				evts, err := e.History(ctx, scope, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(evts)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Version", "Client", "User", "At"})
				for _, evt := range evts {
					tw.AppendRow(table.Row{evt.ID, evt.Type, evt.Version, evt.ClientID, evt.UserID, evt.TS})
				}
				tw.Render()
				return nil
			})
		},
	}
	scopeFlags(cmd, &scope)
	cmd.Flags().Int64Var(&id, "id", 0, "errand id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func apiKeyCmd() *cobra.Command {
	keys := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys for machine clients",
	}
	keys.AddCommand(apiKeyCreateCmd())
	keys.AddCommand(apiKeyListCmd())
	keys.AddCommand(apiKeyDeleteCmd())
	return keys
}

func apiKeyCreateCmd() *cobra.Command {
	var clientID, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key; the raw key is printed once",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := newRawKey()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				key := domain.APIKey{
					ID:        uuid.NewString(),
					ClientID:  clientID,
					Name:      name,
					KeyHash:   repo.HashAPIKey(raw),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := e.Store.InsertAPIKey(ctx, key); err != nil {
					return err
				}
				return printJSON(map[string]string{"id": key.ID, "client_id": clientID, "key": raw})
			})
		},
	}
	cmd.Flags().StringVar(&clientID, "client", "", "client id the key authenticates as")
	cmd.Flags().StringVar(&name, "name", "", "label")
	_ = cmd.MarkFlagRequired("client")
	return cmd
}

func apiKeyListCmd() *cobra.Command {
	var clientID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				keys, err := e.Store.ListAPIKeys(ctx, clientID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Client", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.ClientID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&clientID, "client", "", "only keys of this client")
	return cmd
}

func apiKeyDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Store.DeleteAPIKey(ctx, args[0])
			})
		},
	}
}

func tokenCmd() *cobra.Command {
	var (
		clientID, userID string
		ttl              time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token signed with the configured secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			secret := cfg.Server.JWTSecret
			if s := viper.GetString("jwt-secret"); s != "" {
				secret = s
			}
			token, err := server.SignToken(secret, clientID, userID, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&clientID, "client", "", "client_id claim")
	cmd.Flags().StringVar(&userID, "user", "", "subject (user id)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime, 0 for none")
	_ = cmd.MarkFlagRequired("client")
	return cmd
}

// --- helpers ---

func configPath() string {
	if p := viper.GetString("config"); p != "" {
		return p
	}
	return config.Path(viper.GetString("workspace"))
}

func loadConfig() (*config.Config, error) {
	if p := viper.GetString("config"); p != "" {
		return config.FromFile(p)
	}
	return config.LoadOptional(viper.GetString("workspace"))
}

func openDB(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace"), Path: cfg.Database.Path})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// newEngine wires the errand number backend. The returned func releases the Redis client, if any.
func newEngine(conn *sql.DB, cfg *config.Config, log *logger.Logger) (engine.Engine, func(), error) {
	e := engine.New(conn, cfg)
	e.Log = log
	if cfg.Numbering.Backend != config.NumberingRedis {
		return e, func() {}, nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Numbering.RedisAddr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return engine.Engine{}, nil, fmt.Errorf("numbering redis %s: %w", cfg.Numbering.RedisAddr, err)
	}
	e.Numbers.Counter = numbering.NewRedisCounter(client)
	return e, func() { client.Close() }, nil
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Logging.Mode)
	if err != nil {
		return err
	}
	defer log.Sync()
	conn, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer conn.Close()
	e, closeNumbers, err := newEngine(conn, cfg, log)
	if err != nil {
		return err
	}
	defer closeNumbers()
	syncer, closeEngines, err := process.FromConfig(cfg.Process, log)
	if err != nil {
		return err
	}
	defer closeEngines()
	e.Process = syncer
	return fn(ctx, e)
}

func cliActor() domain.Actor {
	return domain.Actor{ClientID: viper.GetString("client-id"), UserID: viper.GetString("user-id")}
}

func newRawKey() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "cd_" + hex.EncodeToString(b), nil
}

func printErrands(items []domain.Errand) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Number", "Case type", "Priority", "Phase", "Version", "Process"})
	for _, e := range items {
		pid := ""
		if e.ProcessID != nil {
			pid = *e.ProcessID
		}
		tw.AppendRow(table.Row{e.ID, e.ErrandNumber, e.CaseType, e.Priority, e.Phase, e.Version, pid})
	}
	tw.Render()
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
