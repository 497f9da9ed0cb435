package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"certline/internal/config"
	"certline/internal/db"
	"certline/internal/engine"
	"certline/internal/events"
	"certline/internal/mail"
	"certline/internal/migrate"
	"certline/internal/server"
	"certline/internal/workspace"
)

var rootCmd = &cobra.Command{
	Use:   "certline",
	Short: "Certline CLI",
	Long: `Certline generates and distributes personalized certificates in bulk.
It reads a roster spreadsheet (name, email, certificate reference), clones a
slide template per recipient, substitutes the recipient's name for the
configured placeholder, exports the result to PDF into a destination folder,
writes the artifact reference back into the roster, and optionally emails each
recipient their certificate as an attachment.

Configuration lives in certline.yml (create one with 'certline init').
Secrets come from the environment: CERTLINE_TOKEN for the workspace API,
CERTLINE_SMTP_* for mail, CERTLINE_JWT_SECRET for 'certline serve'.`,
}

func main() {
	cobra.OnInitialize(initViper)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initViper() {
	viper.SetEnvPrefix("CERTLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	viper.SetDefault("smtp-port", 587)
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().String("config", "", "path to certline.yml (defaults to <workspace>/certline.yml)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(rosterCmd())
	rootCmd.AddCommand(generateCmd())
	rootCmd.AddCommand(persistCmd())
	rootCmd.AddCommand(notifyCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var baseURL string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default certline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(baseURL)), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&baseURL, "api-base-url", "https://workspace.example.com", "workspace api base url")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect certline config",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return printJSONOrIndent(cfg)
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func rosterCmd() *cobra.Command {
	roster := &cobra.Command{
		Use:   "roster",
		Short: "Inspect the roster",
	}
	roster.AddCommand(rosterListCmd())
	return roster
}

func rosterListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Load and list roster recipients",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				if err := e.Load(ctx); err != nil {
					return err
				}
				recipients := e.Recipients()
				if viper.GetBool("json") {
					return printJSON(recipients)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Name", "Email", "Certificate"})
				for _, r := range recipients {
					tw.AppendRow(table.Row{r.Name, r.Email, r.Certificate})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func generateCmd() *cobra.Command {
	var keepCopy, keepGoing bool
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate one certificate per roster recipient",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				applyPolicyFlags(e, cmd, keepCopy, keepGoing)
				if err := e.Load(ctx); err != nil {
					return err
				}
				return e.GenerateAll(ctx)
			})
		},
	}
	cmd.Flags().BoolVar(&keepCopy, "keep-copy", false, "keep the intermediate template copy")
	cmd.Flags().BoolVar(&keepGoing, "keep-going", false, "continue past per-recipient failures")
	return cmd
}

func persistCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "persist",
		Short: "Write roster rows (with certificate references) back to the sheet",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				if err := e.Load(ctx); err != nil {
					return err
				}
				return e.Persist(ctx)
			})
		},
	}
	return cmd
}

func notifyCmd() *cobra.Command {
	var opts mail.Options
	var keepGoing bool
	cmd := &cobra.Command{
		Use:   "notify",
		Short: "Email each recipient their certificate",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				applyPolicyFlags(e, cmd, false, keepGoing)
				if err := e.Load(ctx); err != nil {
					return err
				}
				return e.NotifyAll(ctx, opts)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Subject, "subject", "", "message subject (default per recipient)")
	cmd.Flags().StringVar(&opts.HTMLBody, "body", "", "HTML message body (default per recipient)")
	cmd.Flags().StringVar(&opts.SenderName, "sender-name", "", "sender display name")
	cmd.Flags().BoolVar(&keepGoing, "keep-going", false, "continue past per-recipient failures")
	return cmd
}

func runCmd() *cobra.Command {
	var notify, keepCopy, keepGoing bool
	var opts mail.Options
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full batch: load, generate, persist, optionally notify",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				applyPolicyFlags(e, cmd, keepCopy, keepGoing)
				return e.Run(ctx, engine.RunOptions{Notify: notify, Mail: opts})
			})
		},
	}
	cmd.Flags().BoolVar(&notify, "notify", false, "email recipients after persisting")
	cmd.Flags().BoolVar(&keepCopy, "keep-copy", false, "keep the intermediate template copies")
	cmd.Flags().BoolVar(&keepGoing, "keep-going", false, "continue past per-recipient failures")
	cmd.Flags().StringVar(&opts.Subject, "subject", "", "message subject")
	cmd.Flags().StringVar(&opts.HTMLBody, "body", "", "HTML message body")
	cmd.Flags().StringVar(&opts.SenderName, "sender-name", "", "sender display name")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Run log",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, runID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail run-log events",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspaceDir := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspaceDir})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			items, err := events.Latest(cmd.Context(), conn, n, runID, evtType)
			if err != nil {
				return err
			}
			return printJSONOrIndent(items)
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&runID, "run", "", "run id filter")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				authCfg := server.AuthConfig{JWTSecret: viper.GetString("jwt-secret")}
				if authCfg.JWTSecret == "" {
					return fmt.Errorf("CERTLINE_JWT_SECRET is required for bearer auth")
				}
				handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving Certline API on http://%s%s\n", addr, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func loadConfig() (*config.Config, error) {
	if path := viper.GetString("config"); path != "" {
		return config.FromFile(path)
	}
	return config.Load(viper.GetString("workspace"))
}

func withEngine(ctx context.Context, fn func(context.Context, *engine.Engine) error) error {
	workspaceDir := viper.GetString("workspace")
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	conn, err := db.Open(db.Config{Workspace: workspaceDir})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	ws := workspace.New(cfg.API.BaseURL, viper.GetString("token"))
	sender := mail.NewSMTP(
		viper.GetString("smtp-host"),
		viper.GetInt("smtp-port"),
		viper.GetString("smtp-username"),
		viper.GetString("smtp-password"),
		viper.GetString("smtp-from"),
	)
	e := engine.New(conn, cfg, ws, sender)
	e.Feedback = engine.WriterFeedback{W: os.Stdout}
	return fn(ctx, e)
}

func applyPolicyFlags(e *engine.Engine, cmd *cobra.Command, keepCopy, keepGoing bool) {
	if cmd.Flags().Changed("keep-copy") {
		e.Config.Policy.DiscardCopy = !keepCopy
	}
	if cmd.Flags().Changed("keep-going") {
		e.Config.Policy.KeepGoing = keepGoing
	}
}

func printJSONOrIndent(v any) error {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
