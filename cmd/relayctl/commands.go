package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"drive-relay/internal/audit"
	"drive-relay/internal/auth"
	"drive-relay/internal/config"
	"drive-relay/internal/dispatcher"
	"drive-relay/internal/model"
	"drive-relay/internal/parser"
	"drive-relay/internal/summarize"
	"drive-relay/internal/summarize/anthropic"
	"drive-relay/internal/summarize/openai"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "relayctl",
		Short:         "Operate a drive-relay deployment",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			_ = godotenv.Load()
		},
	}

	root.AddCommand(newTokenCmd(), newParseCmd(), newHelpTextCmd(), newAuditCmd())
	return root
}

func newTokenCmd() *cobra.Command {
	var (
		subject string
		role    string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an operator token signed with ADMIN_JWT_SECRET",
		RunE: func(cmd *cobra.Command, _ []string) error {
			issuer, err := auth.NewIssuer(config.FromEnv().AdminJWTSecret, ttl)
			if err != nil {
				return fmt.Errorf("ADMIN_JWT_SECRET: %w", err)
			}

			token, expiresAt, err := issuer.Issue(subject, role)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expiresAt.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "operator identity recorded in audit entries")
	cmd.Flags().StringVar(&role, "role", auth.RoleAdmin, "admin or observer")
	cmd.Flags().DurationVar(&ttl, "ttl", auth.DefaultTTL, "token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

type parsedCommand struct {
	Intent          model.Intent `json:"intent"`
	Path            string       `json:"path,omitempty"`
	DestinationPath string       `json:"destination_path,omitempty"`
	ErrorDetail     string       `json:"error_detail,omitempty"`
}

func newParseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse <message>",
		Short: "Show how a chat message would be interpreted",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed := parser.Parse(strings.Join(args, " "))
			return writeJSON(cmd.OutOrStdout(), parsedCommand{
				Intent:          parsed.Intent,
				Path:            parsed.Path,
				DestinationPath: parsed.DestinationPath,
				ErrorDetail:     parsed.ErrorDetail,
			})
		},
	}
}

func newHelpTextCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "help-text",
		Short: "Print the HELP reply chat users receive",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.FromEnv()
			services := []string{}
			if cfg.OpenAIAPIKey != "" {
				services = append(services, openai.ServiceName)
			}
			if cfg.AnthropicAPIKey != "" {
				services = append(services, anthropic.ServiceName)
			}
			services = append(services, summarize.BasicServiceName)

			fmt.Fprintln(cmd.OutOrStdout(), dispatcher.HelpText(cfg.RateLimitPerHour, cfg.RateLimitWindow, services))
			return nil
		},
	}
}

func newAuditCmd() *cobra.Command {
	var (
		file        string
		user        string
		commandType string
		result      string
		since       time.Duration
		limit       int
	)

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query a JSONL audit log, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if file == "" {
				file = config.FromEnv().AuditLogFile
			}

			store, err := audit.NewFileStore(file, audit.DefaultMaxEntries)
			if err != nil {
				return err
			}

			filter := model.AuditFilter{
				UserID:      user,
				CommandType: strings.ToUpper(commandType),
				Result:      strings.ToLower(result),
				Limit:       limit,
			}
			if since > 0 {
				filter.Since = time.Now().Add(-since)
			}

			entries, err := audit.NewTrail(store).Query(cmd.Context(), filter)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), entries)
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "audit log path (default AUDIT_LOG_FILE)")
	cmd.Flags().StringVar(&user, "user", "", "sender id")
	cmd.Flags().StringVar(&commandType, "type", "", "command type, e.g. LIST or DELETE_CONFIRMED")
	cmd.Flags().StringVar(&result, "result", "", "result, e.g. success or failed")
	cmd.Flags().DurationVar(&since, "since", 0, "only entries newer than this long ago")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum entries")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
