package cli_test

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/receipts-pipeline/internal/cli"
	"github.com/joseph-ayodele/receipts-pipeline/internal/common"
	"github.com/joseph-ayodele/receipts-pipeline/internal/repository"
	"github.com/joseph-ayodele/receipts-pipeline/internal/repository/repotest"
)

func sqliteOpener(t *testing.T) (cli.Opener, repository.NodeTokenRepository) {
	t.Helper()
	drv := repotest.NewDriver(t)
	tokens := repository.NewNodeTokenRepository(drv, repotest.Logger())
	open := func(context.Context, *common.Config, *slog.Logger) (*cli.DB, error) {
		return &cli.DB{
			Driver: drv,
			Ping:   func(ctx context.Context) error { return drv.DB().PingContext(ctx) },
			Close:  func() {},
		}, nil
	}
	return open, tokens
}

func execute(t *testing.T, open cli.Opener, args ...string) (string, error) {
	t.Helper()
	t.Setenv("CONFIG_FILE", "")
	var out, errOut bytes.Buffer
	cmd := cli.NewRootCommand(open)
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestTokenCreate(t *testing.T) {
	open, tokens := sqliteOpener(t)

	out, err := execute(t, open, "token", "create", "--name", "reader-1", "--limit", "5", "--images")
	require.NoError(t, err)
	assert.Contains(t, out, "crawl limit 5/day, images true")

	m := regexp.MustCompile(`secret: ([0-9a-f]{64})`).FindStringSubmatch(out)
	require.Len(t, m, 2, out)

	tok, err := tokens.GetBySecret(context.Background(), m[1])
	require.NoError(t, err)
	assert.Equal(t, "reader-1", tok.Name)
	assert.True(t, tok.CanViewReceiptImages)
	assert.Equal(t, 5, tok.CrawlDailyLimit)

	_, err = execute(t, open, "token", "create")
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestMigrateAndHealth(t *testing.T) {
	open, _ := sqliteOpener(t)

	out, err := execute(t, open, "migrate")
	require.NoError(t, err)
	assert.Equal(t, "schema up to date\n", out)

	out, err = execute(t, open, "health")
	require.NoError(t, err)
	assert.Equal(t, "DB health: OK\n", out)
}

func TestExport(t *testing.T) {
	open, _ := sqliteOpener(t)
	path := filepath.Join(t.TempDir(), "report.xlsx")

	out, err := execute(t, open, "export", "--from", "2026-01-01", "--out", path)
	require.NoError(t, err)
	assert.Contains(t, out, "wrote "+path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("PK")))

	_, err = execute(t, open, "export", "--from", "01/02/2026")
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}
