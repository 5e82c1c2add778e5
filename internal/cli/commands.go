package cli

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/receipts-pipeline/internal/common"
	"github.com/joseph-ayodele/receipts-pipeline/internal/export"
	repo "github.com/joseph-ayodele/receipts-pipeline/internal/repository"
	"github.com/joseph-ayodele/receipts-pipeline/internal/utils"
)

func NewMigrateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withDB(cmd.Context(), func(db *DB) error {
				if err := repo.Migrate(cmd.Context(), db.Driver, opts.logger); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
				return nil
			})
		},
	}
}

func NewHealthCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check database connectivity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withDB(cmd.Context(), func(db *DB) error {
				if err := db.Ping(cmd.Context()); err != nil {
					return fmt.Errorf("DB health: FAIL (%w)", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "DB health: OK")
				return nil
			})
		},
	}
}

func NewTokenCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage worker node tokens",
	}
	cmd.AddCommand(newTokenCreateCommand(opts))
	return cmd
}

func newTokenCreateCommand(opts *RootOptions) *cobra.Command {
	var (
		name   string
		limit  int
		images bool
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a node token and print its secret once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			name = strings.TrimSpace(name)
			if name == "" {
				return common.InvalidArgumentError("--name is required")
			}
			if limit < 0 {
				return common.InvalidArgumentError("--limit must not be negative")
			}
			secret, err := newSecret()
			if err != nil {
				return err
			}
			return opts.withDB(cmd.Context(), func(db *DB) error {
				tok, err := repo.NewNodeTokenRepository(db.Driver, opts.logger).Create(cmd.Context(), name, secret, limit, images)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "token %d (%s) created, crawl limit %d/day, images %t\n", tok.ID, tok.Name, tok.CrawlDailyLimit, tok.CanViewReceiptImages)
				fmt.Fprintf(out, "secret: %s\n", secret)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "node name (required)")
	cmd.Flags().IntVar(&limit, "limit", 0, "crawls allowed per UTC day; 0 disables crawling")
	cmd.Flags().BoolVar(&images, "images", false, "allow the node to download receipt images")
	return cmd
}

func newSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func NewExportCommand(opts *RootOptions) *cobra.Command {
	var fromStr, toStr, out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the receipt status report as XLSX",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := optionalDate("from", fromStr)
			if err != nil {
				return err
			}
			to, err := optionalDate("to", toStr)
			if err != nil {
				return err
			}
			if out == "" {
				out = fmt.Sprintf("receipts-%s.xlsx", time.Now().UTC().Format("20060102"))
			}
			return opts.withDB(cmd.Context(), func(db *DB) error {
				svc := export.NewService(repo.NewReceiptRepository(db.Driver, opts.logger), opts.logger)
				data, err := svc.ExportReceiptsXLSX(cmd.Context(), from, to)
				if err != nil {
					return err
				}
				if err := os.WriteFile(out, data, 0o644); err != nil {
					return fmt.Errorf("write %s: %w", out, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", out, len(data))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&fromStr, "from", "", "from date YYYY-MM-DD")
	cmd.Flags().StringVar(&toStr, "to", "", "to date YYYY-MM-DD")
	cmd.Flags().StringVar(&out, "out", "", "output file (default receipts-<today>.xlsx)")
	return cmd
}

func optionalDate(name, s string) (*time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	t, err := utils.ParseYMD(s)
	if err != nil {
		return nil, common.InvalidArgumentErrorf("invalid --%s date, use YYYY-MM-DD: %v", name, err)
	}
	return &t, nil
}
