package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"claimline/internal/app"
	"claimline/internal/config"
	"claimline/internal/db"
	"claimline/internal/domain"
	"claimline/internal/engine"
	"claimline/internal/migrate"
	"claimline/internal/repo"
	"claimline/internal/server"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "cl",
		Short:         "Claimline insurance claims service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "init" {
				return nil
			}
			_, err := db.EnsureWorkspace(viper.GetString("workspace"))
			return err
		},
	}
	initConfig()
	addPersistentFlags(root)
	registerCommands(root)
	return root
}

func initConfig() {
	viper.SetEnvPrefix("CLAIMLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags(root *cobra.Command) {
	root.PersistentFlags().String("workspace", ".", "workspace directory")
	root.PersistentFlags().Bool("json", false, "output JSON instead of tables")
	root.PersistentFlags().String("actor-id", "", "actor id recorded on mutations")
	_ = viper.BindPFlag("workspace", root.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", root.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", root.PersistentFlags().Lookup("actor-id"))
}

func registerCommands(root *cobra.Command) {
	root.AddCommand(initCommand())
	root.AddCommand(serveCmd())
	root.AddCommand(claimCmd())
	root.AddCommand(suggestCmd())
	root.AddCommand(apikeyCmd())
	root.AddCommand(configCmd())
	root.AddCommand(logCmd())
}

func initCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize a claimline workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			if _, err := os.Stat(config.Path(workspace)); os.IsNotExist(err) {
				if err := app.WriteDefaultConfig(workspace); err != nil {
					return err
				}
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			fmt.Printf("initialized workspace at %s\n", db.Path(workspace))
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			basePath, _ := cmd.Flags().GetString("base-path")
			return withEngine(func(e engine.Engine) error {
				secret := os.Getenv("CLAIMLINE_JWT_SECRET")
				if secret == "" && e.Config != nil {
					secret = e.Config.Auth.JWTSecret
				}
				allowLegacy := true
				if e.Config != nil {
					allowLegacy = e.Config.Auth.AllowLegacyActorHeader
				}
				handler, err := server.New(server.Config{
					Engine:   e,
					BasePath: basePath,
					Auth: server.AuthConfig{
						JWTSecret:              secret,
						AllowLegacyActorHeader: allowLegacy,
					},
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
				defer stop()
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
				log.Printf("claimline api listening on %s (base path %s)", addr, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().String("addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().String("base-path", "/v1", "API base path")
	return cmd
}

func claimCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "claim",
		Short: "Manage claims",
	}
	cmd.AddCommand(claimCreateCmd())
	cmd.AddCommand(claimListCmd())
	cmd.AddCommand(claimShowCmd())
	cmd.AddCommand(claimUpdateCmd())
	cmd.AddCommand(claimStatusCmd())
	cmd.AddCommand(claimVideoCmd())
	cmd.AddCommand(claimDeleteCmd())
	cmd.AddCommand(claimMetricsCmd())
	return cmd
}

func claimCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a claim and generate its first suggestion batch",
		RunE: func(cmd *cobra.Command, args []string) error {
			policy, _ := cmd.Flags().GetString("policy-number")
			holder, _ := cmd.Flags().GetString("policyholder")
			dateOfLoss, _ := cmd.Flags().GetString("date-of-loss")
			description, _ := cmd.Flags().GetString("description")
			amount, _ := cmd.Flags().GetFloat64("amount")
			itemsJSON, _ := cmd.Flags().GetString("items")
			var items []domain.ClaimItem
			if itemsJSON != "" {
				if err := json.Unmarshal([]byte(itemsJSON), &items); err != nil {
					return fmt.Errorf("parse --items: %w", err)
				}
			}
			return withEngine(func(e engine.Engine) error {
				claim, suggestions, err := e.CreateClaim(context.Background(), engine.ClaimCreateOptions{
					PolicyNumber:     policy,
					PolicyholderName: holder,
					DateOfLoss:       dateOfLoss,
					Description:      description,
					TotalAmount:      amount,
					Items:            items,
					ActorID:          actorID(),
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"claim": claim, "suggestions": suggestions})
				}
				fmt.Printf("created claim %s (%s)\n", claim.ClaimNumber, claim.ID)
				renderSuggestions(suggestions)
				return nil
			})
		},
	}
	cmd.Flags().String("policy-number", "", "policy number")
	cmd.Flags().String("policyholder", "", "policyholder name")
	cmd.Flags().String("date-of-loss", "", "date of loss (RFC3339)")
	cmd.Flags().String("description", "", "claim description")
	cmd.Flags().Float64("amount", 0, "total amount claimed")
	cmd.Flags().String("items", "", "claim items as a JSON array")
	_ = cmd.MarkFlagRequired("policy-number")
	_ = cmd.MarkFlagRequired("policyholder")
	_ = cmd.MarkFlagRequired("date-of-loss")
	return cmd
}

func claimListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List claims",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, _ := cmd.Flags().GetString("status")
			policy, _ := cmd.Flags().GetString("policy-number")
			limit, _ := cmd.Flags().GetInt("limit")
			recent, _ := cmd.Flags().GetInt("recent-days")
			return withEngine(func(e engine.Engine) error {
				var claims []domain.Claim
				var err error
				if recent > 0 {
					claims, err = e.RecentClaims(context.Background(), recent)
				} else {
					claims, err = e.Repo.ListClaims(context.Background(), repo.ClaimFilters{
						Status:       status,
						PolicyNumber: policy,
						Limit:        limit,
					})
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(claims)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Number", "Policyholder", "Status", "Amount", "Video", "Created"})
				for _, c := range claims {
					tw.AppendRow(table.Row{c.ID, c.ClaimNumber, c.PolicyholderName, c.Status, fmt.Sprintf("%.2f", c.TotalAmount), c.HasVideo, c.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().String("status", "", "filter by claim status")
	cmd.Flags().String("policy-number", "", "filter by policy number")
	cmd.Flags().Int("limit", 0, "limit results")
	cmd.Flags().Int("recent-days", 0, "only claims created within the last N days")
	return cmd
}

func claimShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <claim-id>",
		Short: "Show a claim",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(e engine.Engine) error {
				claim, err := e.Repo.GetClaim(context.Background(), args[0])
				if err != nil {
					return err
				}
				return printJSON(claim)
			})
		},
	}
}

func claimUpdateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update <claim-id>",
		Short: "Update claim fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.ClaimUpdateOptions{ID: args[0], ActorID: actorID()}
			if cmd.Flags().Changed("policy-number") {
				v, _ := cmd.Flags().GetString("policy-number")
				opts.PolicyNumber = &v
			}
			if cmd.Flags().Changed("policyholder") {
				v, _ := cmd.Flags().GetString("policyholder")
				opts.PolicyholderName = &v
			}
			if cmd.Flags().Changed("date-of-loss") {
				v, _ := cmd.Flags().GetString("date-of-loss")
				opts.DateOfLoss = &v
			}
			if cmd.Flags().Changed("description") {
				v, _ := cmd.Flags().GetString("description")
				opts.Description = &v
			}
			if cmd.Flags().Changed("amount") {
				v, _ := cmd.Flags().GetFloat64("amount")
				opts.TotalAmount = &v
			}
			if cmd.Flags().Changed("items") {
				raw, _ := cmd.Flags().GetString("items")
				var items []domain.ClaimItem
				if err := json.Unmarshal([]byte(raw), &items); err != nil {
					return fmt.Errorf("parse --items: %w", err)
				}
				opts.Items = items
			}
			return withEngine(func(e engine.Engine) error {
				claim, err := e.UpdateClaim(context.Background(), opts)
				if err != nil {
					return err
				}
				return printJSON(claim)
			})
		},
	}
	cmd.Flags().String("policy-number", "", "policy number")
	cmd.Flags().String("policyholder", "", "policyholder name")
	cmd.Flags().String("date-of-loss", "", "date of loss (RFC3339)")
	cmd.Flags().String("description", "", "claim description")
	cmd.Flags().Float64("amount", 0, "total amount claimed")
	cmd.Flags().String("items", "", "claim items as a JSON array")
	return cmd
}

func claimStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <claim-id> <status>",
		Short: "Change a claim status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(e engine.Engine) error {
				claim, err := e.UpdateClaimStatus(context.Background(), args[0], args[1], actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(claim)
				}
				fmt.Printf("claim %s is now %s\n", claim.ClaimNumber, claim.Status)
				return nil
			})
		},
	}
}

func claimVideoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "attach-video <claim-id>",
		Short: "Attach a video analysis document and regenerate recommendations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			analysisJSON, _ := cmd.Flags().GetString("analysis")
			var analysis map[string]any
			if err := json.Unmarshal([]byte(analysisJSON), &analysis); err != nil {
				return fmt.Errorf("parse --analysis: %w", err)
			}
			return withEngine(func(e engine.Engine) error {
				claim, suggestions, err := e.AttachVideoAnalysis(context.Background(), args[0], analysis, actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"claim": claim, "suggestions": suggestions})
				}
				fmt.Printf("attached video analysis to %s\n", claim.ClaimNumber)
				renderSuggestions(suggestions)
				return nil
			})
		},
	}
	cmd.Flags().String("analysis", "", "analysis document as JSON")
	_ = cmd.MarkFlagRequired("analysis")
	return cmd
}

func claimDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <claim-id>",
		Short: "Delete a claim and its suggestions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(e engine.Engine) error {
				if err := e.DeleteClaim(context.Background(), args[0], actorID()); err != nil {
					return err
				}
				fmt.Printf("deleted claim %s\n", args[0])
				return nil
			})
		},
	}
}

func claimMetricsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Show claim population metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(e engine.Engine) error {
				m, err := e.ClaimMetricsReport(context.Background())
				if err != nil {
					return err
				}
				return printJSON(m)
			})
		},
	}
}

func suggestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "suggest",
		Short: "Manage AI suggestions",
	}
	cmd.AddCommand(suggestGenerateCmd())
	cmd.AddCommand(suggestRegenerateCmd())
	cmd.AddCommand(suggestListCmd())
	cmd.AddCommand(suggestShowCmd())
	cmd.AddCommand(suggestReviewCmd())
	cmd.AddCommand(suggestMetricsCmd())
	cmd.AddCommand(suggestPendingCmd())
	cmd.AddCommand(suggestHighConfidenceCmd())
	return cmd
}

func suggestGenerateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generate <claim-id>",
		Short: "Generate a fresh suggestion batch for a claim",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(e engine.Engine) error {
				suggestions, err := e.GenerateSuggestions(context.Background(), args[0], actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(suggestions)
				}
				renderSuggestions(suggestions)
				return nil
			})
		},
	}
}

func suggestRegenerateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "regenerate <claim-id>",
		Short: "Replace a claim's suggestion set with a new batch",
		Long:  "Deletes every existing suggestion for the claim, reviewed or not, and generates a new batch.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(e engine.Engine) error {
				suggestions, err := e.RegenerateSuggestions(context.Background(), args[0], actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(suggestions)
				}
				renderSuggestions(suggestions)
				return nil
			})
		},
	}
}

func suggestListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List suggestions",
		RunE: func(cmd *cobra.Command, args []string) error {
			claimID, _ := cmd.Flags().GetString("claim-id")
			status, _ := cmd.Flags().GetString("status")
			kind, _ := cmd.Flags().GetString("type")
			limit, _ := cmd.Flags().GetInt("limit")
			return withRepo(func(r repo.Repo) error {
				suggestions, err := r.ListSuggestions(context.Background(), repo.SuggestionFilters{
					ClaimID: claimID,
					Status:  status,
					Type:    kind,
					Limit:   limit,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(suggestions)
				}
				renderSuggestions(suggestions)
				return nil
			})
		},
	}
	cmd.Flags().String("claim-id", "", "filter by claim")
	cmd.Flags().String("status", "", "filter by review status")
	cmd.Flags().String("type", "", "filter by suggestion type")
	cmd.Flags().Int("limit", 0, "limit results")
	return cmd
}

func suggestShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <suggestion-id>",
		Short: "Show a suggestion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(func(r repo.Repo) error {
				s, err := r.GetSuggestion(context.Background(), args[0])
				if err != nil {
					return err
				}
				return printJSON(s)
			})
		},
	}
}

func suggestReviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review <suggestion-id> <accepted|rejected|modified>",
		Short: "Apply a review decision to a pending suggestion",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			notes, _ := cmd.Flags().GetString("notes")
			modifiedJSON, _ := cmd.Flags().GetString("modified-action")
			var modified map[string]any
			if modifiedJSON != "" {
				if err := json.Unmarshal([]byte(modifiedJSON), &modified); err != nil {
					return fmt.Errorf("parse --modified-action: %w", err)
				}
			}
			reviewer := actorID()
			if reviewer == "" {
				return fmt.Errorf("--actor-id is required for review")
			}
			return withEngine(func(e engine.Engine) error {
				s, err := e.ReviewSuggestion(context.Background(), engine.ReviewOptions{
					SuggestionID:   args[0],
					Status:         args[1],
					ReviewerID:     reviewer,
					ReviewerNotes:  optionalString(notes),
					ModifiedAction: modified,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(s)
				}
				fmt.Printf("suggestion %s %s by %s\n", s.ID, s.Status, reviewer)
				return nil
			})
		},
	}
	cmd.Flags().String("notes", "", "reviewer notes")
	cmd.Flags().String("modified-action", "", "replacement action as JSON (required when status is modified)")
	return cmd
}

func suggestMetricsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Show suggestion acceptance metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(e engine.Engine) error {
				m, err := e.Metrics(context.Background())
				if err != nil {
					return err
				}
				return printJSON(m)
			})
		},
	}
}

func suggestPendingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List suggestions awaiting review",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(e engine.Engine) error {
				suggestions, err := e.PendingSuggestions(context.Background())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(suggestions)
				}
				renderSuggestions(suggestions)
				return nil
			})
		},
	}
}

func suggestHighConfidenceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "high-confidence",
		Short: "List suggestions at or above a confidence threshold",
		RunE: func(cmd *cobra.Command, args []string) error {
			threshold, _ := cmd.Flags().GetFloat64("threshold")
			return withEngine(func(e engine.Engine) error {
				suggestions, err := e.HighConfidence(context.Background(), threshold)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(suggestions)
				}
				renderSuggestions(suggestions)
				return nil
			})
		},
	}
	cmd.Flags().Float64("threshold", 0, "confidence threshold (defaults to configured value)")
	return cmd
}

func apikeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys",
	}
	cmd.AddCommand(apikeyCreateCmd())
	cmd.AddCommand(apikeyListCmd())
	cmd.AddCommand(apikeyDeleteCmd())
	return cmd
}

func apikeyCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for an actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, _ := cmd.Flags().GetString("for-actor")
			name, _ := cmd.Flags().GetString("name")
			if actor == "" {
				actor = actorID()
			}
			if actor == "" {
				return fmt.Errorf("--for-actor is required")
			}
			return withEngine(func(e engine.Engine) error {
				raw := strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
				key := domain.APIKey{
					ID:        uuid.NewString(),
					ActorID:   actor,
					Name:      name,
					KeyHash:   repo.HashAPIKey(raw),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				tx, err := e.DB.BeginTx(context.Background(), nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				if err := e.Repo.InsertAPIKey(context.Background(), tx, key); err != nil {
					return err
				}
				if err := tx.Commit(); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"id": key.ID, "actor_id": key.ActorID, "key": raw})
				}
				fmt.Printf("api key %s for %s (store it now, it is not shown again):\n%s\n", key.ID, actor, raw)
				return nil
			})
		},
	}
	cmd.Flags().String("for-actor", "", "actor id the key authenticates")
	cmd.Flags().String("name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, _ := cmd.Flags().GetString("for-actor")
			return withRepo(func(r repo.Repo) error {
				keys, err := r.ListAPIKeys(context.Background(), actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Actor", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().String("for-actor", "", "filter by actor")
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key-id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(func(r repo.Repo) error {
				if err := r.DeleteAPIKey(context.Background(), args[0]); err != nil {
					return err
				}
				fmt.Printf("deleted api key %s\n", args[0])
				return nil
			})
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the resolved configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.ResolveConfig(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	})
	return cmd
}

func logCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show the event log",
		RunE: func(cmd *cobra.Command, args []string) error {
			after, _ := cmd.Flags().GetInt64("after")
			limit, _ := cmd.Flags().GetInt("limit")
			return withRepo(func(r repo.Repo) error {
				events, err := r.EventsAfter(context.Background(), limit, after)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Entity", "Actor"})
				for _, e := range events {
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.EntityKind + "/" + e.EntityID, e.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().Int64("after", 0, "only events after this id")
	cmd.Flags().Int("limit", 100, "maximum events")
	return cmd
}

func withEngine(fn func(engine.Engine) error) error {
	conn, cfg, err := openWorkspace()
	if err != nil {
		return err
	}
	defer conn.Close()
	e := engine.New(conn, cfg)
	return fn(e)
}

func withRepo(fn func(repo.Repo) error) error {
	conn, _, err := openWorkspace()
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(repo.Repo{DB: conn})
}

func openWorkspace() (*sql.DB, *config.Config, error) {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, nil, err
	}
	cfg, err := app.ResolveConfig(workspace)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	return conn, cfg, nil
}

func actorID() string {
	return viper.GetString("actor-id")
}

func renderSuggestions(suggestions []domain.Suggestion) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Type", "Confidence", "Status", "Model", "Description"})
	for _, s := range suggestions {
		tw.AppendRow(table.Row{s.ID, s.Type, fmt.Sprintf("%.2f", s.ConfidenceScore), s.Status, s.ModelVersion, s.Description})
	}
	tw.Render()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
