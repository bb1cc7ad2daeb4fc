package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/odyssey-erp/ledger/internal/accounting"
	"github.com/odyssey-erp/ledger/internal/accounting/mappings"
	"github.com/odyssey-erp/ledger/internal/accounting/shared"
	"github.com/odyssey-erp/ledger/internal/app"
)

// AccountSeed is one account of a chart seed file.
type AccountSeed struct {
	Code   string `mapstructure:"code"`
	Name   string `mapstructure:"name"`
	Type   string `mapstructure:"type"`
	Nature string `mapstructure:"nature"`
	Parent string `mapstructure:"parent"`
	Leaf   bool   `mapstructure:"leaf"`
}

// CostCenterSeed is one cost center of a chart seed file.
type CostCenterSeed struct {
	Code      string `mapstructure:"code"`
	Name      string `mapstructure:"name"`
	Type      string `mapstructure:"type"`
	ProjectID *int64 `mapstructure:"project_id"`
}

// ChartSeed is the content of a seed file: accounts, cost centers and the
// posting rule mappings.
type ChartSeed struct {
	Accounts    []AccountSeed             `mapstructure:"accounts"`
	CostCenters []CostCenterSeed          `mapstructure:"cost_centers"`
	Mappings    []mappings.AccountMapping `mapstructure:"mappings"`
}

// SeedSummary counts what a seed run changed.
type SeedSummary struct {
	AccountsCreated    int
	AccountsExisting   int
	CostCentersCreated int
	MappingsUpserted   int
}

// LoadChartSeed reads a YAML, JSON or TOML seed file through viper.
func LoadChartSeed(path string) (ChartSeed, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return ChartSeed{}, fmt.Errorf("read seed %s: %w", path, err)
	}
	var seed ChartSeed
	if err := v.Unmarshal(&seed); err != nil {
		return ChartSeed{}, fmt.Errorf("decode seed %s: %w", path, err)
	}
	return seed, nil
}

// ApplyChartSeed creates missing accounts parents first, then cost centers and
// mappings. Accounts that already exist are left untouched.
func ApplyChartSeed(ctx context.Context, svc *app.Services, seed ChartSeed) (SeedSummary, error) {
	var summary SeedSummary
	pending := seed.Accounts
	known := make(map[string]bool, len(pending))
	for len(pending) > 0 {
		var next []AccountSeed
		for _, acc := range pending {
			if acc.Parent != "" && !known[acc.Parent] {
				if _, err := svc.Registry.GetAccount(ctx, acc.Parent); err != nil {
					next = append(next, acc)
					continue
				}
				known[acc.Parent] = true
			}
			_, err := svc.Registry.CreateAccount(ctx, accounting.CreateAccountInput{
				Code:             acc.Code,
				Name:             acc.Name,
				Type:             accounting.AccountType(strings.ToUpper(acc.Type)),
				Nature:           accounting.Nature(strings.ToUpper(acc.Nature)),
				ParentCode:       acc.Parent,
				AcceptsMovements: acc.Leaf,
			})
			switch {
			case errors.Is(err, shared.ErrDuplicateCode):
				summary.AccountsExisting++
			case err != nil:
				return summary, fmt.Errorf("account %s: %w", acc.Code, err)
			default:
				summary.AccountsCreated++
			}
			known[acc.Code] = true
		}
		if len(next) == len(pending) {
			return summary, fmt.Errorf("account %s: parent %s not found", next[0].Code, next[0].Parent)
		}
		pending = next
	}
	for _, cc := range seed.CostCenters {
		if _, err := svc.Registry.CreateCostCenter(ctx, accounting.CreateCostCenterInput{
			Code:      cc.Code,
			Name:      cc.Name,
			Type:      cc.Type,
			ProjectID: cc.ProjectID,
		}); err != nil {
			if errors.Is(err, shared.ErrDuplicateCode) {
				continue
			}
			return summary, fmt.Errorf("cost center %s: %w", cc.Code, err)
		}
		summary.CostCentersCreated++
	}
	for _, m := range seed.Mappings {
		if _, err := svc.Registry.ResolvePostable(ctx, m.AccountCode); err != nil {
			return summary, fmt.Errorf("mapping %s/%s: %w", m.Module, m.Key, err)
		}
		if err := svc.Mappings.Upsert(ctx, m); err != nil {
			return summary, fmt.Errorf("mapping %s/%s: %w", m.Module, m.Key, err)
		}
		summary.MappingsUpserted++
	}
	return summary, nil
}

func (rt *runtime) seedChartCommand() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed-chart",
		Short: "Load a chart of accounts, cost centers and posting mappings from a file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			seed, err := LoadChartSeed(file)
			if err != nil {
				return err
			}
			return rt.withServices(cmd, func(ctx context.Context, svc *app.Services) error {
				summary, err := ApplyChartSeed(ctx, svc, seed)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "accounts created %d, existing %d; cost centers created %d; mappings %d\n",
					summary.AccountsCreated, summary.AccountsExisting, summary.CostCentersCreated, summary.MappingsUpserted)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "seed file (yaml, json or toml)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
