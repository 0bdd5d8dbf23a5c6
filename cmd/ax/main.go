package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"assignx/internal/app"
	"assignx/internal/config"
	"assignx/internal/db"
	"assignx/internal/domain"
	"assignx/internal/engine"
	"assignx/internal/migrate"
	"assignx/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "ax",
	Short: "AssignX CLI",
	Long: `AssignX runs academic projects from submission to settlement.
- Project: a client's request; moves submitted -> analyzing -> quoted -> paid -> assigned -> in_progress -> qc -> delivered -> completed.
- Quote: the client price in paise. Capture splits it into worker payout, intermediary commission and platform fee.
- QC: intermediaries review work before delivery; rejections and client revisions loop back to in_progress.
- Auto-approval: delivered work completes by itself when the client stays silent past the approval window.
- Ledger: append-only credits written once at settlement or refund.
- Actor: every command runs as --actor-id; roles are client, worker, intermediary and admin.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		// process environment wins over .env
		if err := godotenv.Load(filepath.Join(workspace, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load .env: %w", err)
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("ASSIGNX")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "", "actor identifier")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "log engine activity to stderr")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(actorCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(paymentCmd())
	rootCmd.AddCommand(workerCmd())
	rootCmd.AddCommand(assignCmd())
	rootCmd.AddCommand(qcCmd())
	rootCmd.AddCommand(settleCmd())
	rootCmd.AddCommand(refundCmd())
	rootCmd.AddCommand(ledgerCmd())
	rootCmd.AddCommand(timerCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the workspace database and a default assignx.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				fmt.Printf("Keeping existing %s\n", path)
			} else {
				// each workspace gets its own sandbox signing secret
				yml := strings.Replace(config.GenerateDefault(), "  provider: sandbox\n",
					"  provider: sandbox\n  key_secret: sbx_"+strings.ReplaceAll(uuid.NewString(), "-", "")+"\n", 1)
				if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
					return err
				}
				fmt.Printf("Wrote %s\n", path)
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			n, err := migrate.MigrateContext(cmd.Context(), conn)
			if err != nil {
				return err
			}
			fmt.Printf("Database %s at schema version %d\n", db.Path(workspace), n)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing assignx.yml")
	return cmd
}

func configCmd() *cobra.Command {
	c := &cobra.Command{Use: "config", Short: "Inspect assignx.yml"}
	c.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			cfg.Gateway.KeySecret = redact(cfg.Gateway.KeySecret)
			for i := range cfg.Notify.Webhooks {
				cfg.Notify.Webhooks[i].Secret = redact(cfg.Notify.Webhooks[i].Secret)
			}
			return printJSON(cfg)
		},
	})
	c.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate assignx.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(viper.GetString("workspace")); err != nil {
				return err
			}
			fmt.Println("config ok")
			return nil
		},
	})
	return c
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var legacyHeader bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server with the auto-approval scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt_secret")
			if secret == "" {
				return fmt.Errorf("ASSIGNX_JWT_SECRET is required for bearer auth")
			}
			rt, err := app.Open(cmd.Context(), app.Options{Workspace: viper.GetString("workspace")})
			if err != nil {
				return err
			}
			defer rt.Close()
			if err := rt.Start(cmd.Context()); err != nil {
				if errors.Is(err, app.ErrSandboxSecret) {
					return fmt.Errorf("%w (set it in %s or run ax init)", err, config.Path(rt.Workspace))
				}
				return err
			}
			if addr == "" {
				addr = rt.Config.Server.Addr
			}
			if basePath == "" {
				basePath = rt.Config.Server.BasePath
			}
			handler, err := server.New(server.Config{
				Engine:   *rt.Engine,
				BasePath: basePath,
				Log:      rt.Log.Named("http"),
				Auth: server.AuthConfig{
					JWTSecret:              secret,
					AllowLegacyActorHeader: legacyHeader,
					Logger:                 rt.Log.Named("auth"),
				},
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(ctx)
			}()
			rt.Log.Info("serving", zap.String("addr", addr), zap.String("base_path", basePath))
			fmt.Printf("Serving AssignX API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from assignx.yml)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default /v0)")
	cmd.Flags().BoolVar(&legacyHeader, "allow-actor-header", false, "accept X-Actor-Id without credentials (dev only)")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	log := zap.NewNop()
	if viper.GetBool("verbose") {
		var err error
		if log, err = zap.NewDevelopment(); err != nil {
			return err
		}
	}
	rt, err := app.Open(ctx, app.Options{Workspace: viper.GetString("workspace"), Logger: log})
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, *rt.Engine)
}

func actorID() string {
	return strings.TrimSpace(viper.GetString("actor-id"))
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	if renderTable(os.Stdout, v) {
		return nil
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}

func projectArg(args []string) (string, error) {
	if len(args) != 1 || strings.TrimSpace(args[0]) == "" {
		return "", fmt.Errorf("project id or AX number required")
	}
	return args[0], nil
}

func printProject(p domain.Project, err error) error {
	if err != nil {
		return err
	}
	return printJSONOrTable(p)
}
