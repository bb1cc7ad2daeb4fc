package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/ledger/internal/app"
)

const seedYAML = `
accounts:
  - {code: "1011", name: Petty cash, type: asset, nature: debit, parent: "10", leaf: true}
  - {code: "10", name: Cash, type: ASSET, nature: DEBIT}
  - {code: "70", name: Revenue, type: INCOME, nature: CREDIT}
  - {code: "7011", name: Services, type: INCOME, nature: CREDIT, parent: "70", leaf: true}
  - {code: "59", name: Retained earnings, type: EQUITY, nature: CREDIT}
  - {code: "5911", name: Accumulated result, type: EQUITY, nature: CREDIT, parent: "59", leaf: true}
cost_centers:
  - {code: ADM, name: Administration, type: ADMINISTRATIVE}
mappings:
  - {module: BANK, key: bank, account_code: "1011"}
`

type harness struct {
	svc     *app.Services
	stdout  *bytes.Buffer
	stderr  *bytes.Buffer
	actor   string
	migrate string
}

func newHarness() *harness {
	return &harness{
		svc:    app.NewServices(app.Deps{Stores: app.MemoryStores()}),
		stdout: new(bytes.Buffer),
		stderr: new(bytes.Buffer),
	}
}

func (h *harness) run(t *testing.T, stdin string, args ...string) error {
	t.Helper()
	h.stdout.Reset()
	root := NewRootCommand(Options{
		Stdout: h.stdout,
		Stderr: h.stderr,
		Connect: func(_ context.Context, settings *viper.Viper) (*app.Services, func(), error) {
			h.actor = settings.GetString("actor")
			return h.svc, func() {}, nil
		},
		Migrate: func(dsn string) error {
			h.migrate = dsn
			return nil
		},
	})
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	return root.Execute()
}

func writeSeed(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chart.yaml")
	require.NoError(t, os.WriteFile(path, []byte(seedYAML), 0o600))
	return path
}

func TestSeedChartIsIdempotent(t *testing.T) {
	h := newHarness()
	path := writeSeed(t)

	require.NoError(t, h.run(t, "", "seed-chart", "--file", path))
	assert.Contains(t, h.stdout.String(), "accounts created 6, existing 0; cost centers created 1; mappings 1")

	account, err := h.svc.Registry.GetAccount(context.Background(), "1011")
	require.NoError(t, err)
	assert.True(t, account.AcceptsMovements)
	mapping, err := h.svc.Mappings.Get(context.Background(), "BANK", "bank")
	require.NoError(t, err)
	assert.Equal(t, "1011", mapping.AccountCode)

	require.NoError(t, h.run(t, "", "seed-chart", "--file", path))
	assert.Contains(t, h.stdout.String(), "accounts created 0, existing 6")
}

func TestPeriodCommands(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.run(t, "", "seed-chart", "--file", writeSeed(t)))

	require.NoError(t, h.run(t, "", "open-period", "--year", "2026", "--month", "3", "--actor", "controller"))
	assert.Contains(t, h.stdout.String(), "period 2026-03 opened")
	assert.Equal(t, "controller", h.actor)

	require.NoError(t, h.run(t, "", "close-period", "--year", "2026", "--month", "3", "--actor", "controller"))
	assert.Contains(t, h.stdout.String(), "period 2026-03 closed by controller")

	assert.Error(t, h.run(t, "", "close-period", "--year", "2026", "--month", "3"))
	assert.Error(t, h.run(t, "", "close-period"))
	assert.Error(t, h.run(t, "", "close-period", "--year", "2026", "--month", "4"))
}

func TestImportRates(t *testing.T) {
	h := newHarness()
	csvData := "# daily quotes\ndate,from,to,buy,sell,source\n2026-03-01,usd,PEN,3.72,3.76,SBS\n\n2026-03-02,EUR,PEN,4.01,4.10\n"

	require.NoError(t, h.run(t, csvData, "import-rates", "--dry-run"))
	assert.Contains(t, h.stdout.String(), "2 rate(s) valid, nothing recorded")

	require.NoError(t, h.run(t, csvData, "import-rates", "--json"))
	assert.Contains(t, h.stdout.String(), `"parsed":2`)
	rate, err := h.svc.FX.LatestRate(context.Background(), "USD", "PEN", mustDate(t, "2026-03-05"))
	require.NoError(t, err)
	assert.Equal(t, "SBS", rate.Source)

	err = h.run(t, "date,from,to,buy\n2026-03-01,USD,PEN,3.7\n", "import-rates")
	assert.ErrorContains(t, err, "missing required columns")
	err = h.run(t, "date,from,to,buy,sell\n2026-03-01,USD,PEN,0,3.7\n", "import-rates")
	assert.Error(t, err)
}

func TestMigrateRequiresDSN(t *testing.T) {
	h := newHarness()
	t.Setenv("PG_DSN", "")
	assert.Error(t, h.run(t, "", "migrate"))
	require.NoError(t, h.run(t, "", "migrate", "--dsn", "postgres://ledger@db/ledger"))
	assert.Equal(t, "postgres://ledger@db/ledger", h.migrate)
}

func TestParseRatesCSVEmpty(t *testing.T) {
	rows, err := ParseRatesCSV(strings.NewReader("  \n"))
	require.NoError(t, err)
	assert.Empty(t, rows)
	_, err = ParseRatesCSV(errReader{})
	assert.Error(t, err)
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, errors.New("boom") }

func mustDate(t *testing.T, raw string) time.Time {
	t.Helper()
	d, err := time.Parse(time.DateOnly, raw)
	require.NoError(t, err)
	return d
}
