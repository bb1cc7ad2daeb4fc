package cli

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/odyssey-erp/ledger/internal/app"
	"github.com/odyssey-erp/ledger/internal/fx"
)

// RateImportSummary reports an import-rates run.
type RateImportSummary struct {
	DryRun   bool             `json:"dry_run"`
	Parsed   int              `json:"parsed"`
	Recorded []fx.Rate        `json:"recorded,omitempty"`
	Rows     []fx.RecordInput `json:"-"`
}

// ParseRatesCSV reads date,from,to,buy,sell[,source] rows. Blank lines and
// lines starting with # are skipped.
func ParseRatesCSV(r io.Reader) ([]fx.RecordInput, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	reader := csv.NewReader(bytes.NewReader(data))
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	header, err := nextNonEmptyRecord(reader)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}
	idx := map[string]int{"date": -1, "from": -1, "to": -1, "buy": -1, "sell": -1, "source": -1}
	for i, col := range header {
		switch name := strings.ToLower(strings.TrimSpace(col)); name {
		case "from_currency":
			idx["from"] = i
		case "to_currency":
			idx["to"] = i
		case "buy_rate":
			idx["buy"] = i
		case "sell_rate":
			idx["sell"] = i
		default:
			if _, ok := idx[name]; ok {
				idx[name] = i
			}
		}
	}
	for _, col := range []string{"date", "from", "to", "buy", "sell"} {
		if idx[col] < 0 {
			return nil, errors.New("missing required columns (need date, from, to, buy, sell)")
		}
	}
	field := func(record []string, col string) string {
		if i := idx[col]; i >= 0 && i < len(record) {
			return strings.TrimSpace(record[i])
		}
		return ""
	}
	var rows []fx.RecordInput
	for n := 1; ; n++ {
		record, err := nextNonEmptyRecord(reader)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		date, err := time.Parse(time.DateOnly, field(record, "date"))
		if err != nil {
			return nil, fmt.Errorf("record %d: invalid date %q", n, field(record, "date"))
		}
		buy, err := decimal.NewFromString(field(record, "buy"))
		if err != nil {
			return nil, fmt.Errorf("record %d: invalid buy rate: %v", n, err)
		}
		sell, err := decimal.NewFromString(field(record, "sell"))
		if err != nil {
			return nil, fmt.Errorf("record %d: invalid sell rate: %v", n, err)
		}
		in := fx.RecordInput{
			From:   field(record, "from"),
			To:     field(record, "to"),
			Buy:    buy,
			Sell:   sell,
			Date:   date,
			Source: field(record, "source"),
		}
		if in.Source == "" {
			in.Source = "IMPORT"
		}
		if err := in.Validate(); err != nil {
			return nil, fmt.Errorf("record %d: %w", n, err)
		}
		rows = append(rows, in)
	}
	return rows, nil
}

func nextNonEmptyRecord(r *csv.Reader) ([]string, error) {
	for {
		record, err := r.Read()
		if err != nil {
			return nil, err
		}
		skip := true
		for _, field := range record {
			trimmed := strings.TrimSpace(field)
			if trimmed == "" || strings.HasPrefix(trimmed, "#") {
				continue
			}
			skip = false
		}
		if !skip {
			return record, nil
		}
	}
}

func (rt *runtime) importRatesCommand() *cobra.Command {
	var (
		file       string
		dryRun     bool
		jsonOutput bool
	)
	cmd := &cobra.Command{
		Use:   "import-rates",
		Short: "Append exchange rates from a CSV file (use - for stdin)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var src io.Reader = cmd.InOrStdin()
			if file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				defer f.Close()
				src = f
			}
			rows, err := ParseRatesCSV(src)
			if err != nil {
				return fmt.Errorf("import rates: %w", err)
			}
			summary := RateImportSummary{DryRun: dryRun, Parsed: len(rows), Rows: rows}
			if !dryRun && len(rows) > 0 {
				err := rt.withServices(cmd, func(ctx context.Context, svc *app.Services) error {
					for _, in := range rows {
						rate, err := svc.FX.Record(ctx, in)
						if err != nil {
							return fmt.Errorf("record %s/%s %s: %w", in.From, in.To, in.Date.Format(time.DateOnly), err)
						}
						summary.Recorded = append(summary.Recorded, rate)
					}
					return nil
				})
				if err != nil {
					return err
				}
			}
			return writeRateSummary(cmd.OutOrStdout(), summary, jsonOutput)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "CSV file with date,from,to,buy,sell[,source]")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "parse and validate without recording")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print the summary as JSON")
	return cmd
}

func writeRateSummary(out io.Writer, summary RateImportSummary, asJSON bool) error {
	if asJSON {
		return json.NewEncoder(out).Encode(summary)
	}
	if summary.DryRun {
		fmt.Fprintf(out, "%d rate(s) valid, nothing recorded (dry run)\n", summary.Parsed)
		for _, row := range summary.Rows {
			fmt.Fprintf(out, " - %s %s/%s buy %s sell %s\n", row.Date.Format(time.DateOnly), row.From, row.To, row.Buy, row.Sell)
		}
		return nil
	}
	fmt.Fprintf(out, "%d rate(s) recorded\n", len(summary.Recorded))
	for _, rate := range summary.Recorded {
		fmt.Fprintf(out, " - %s %s/%s buy %s sell %s\n", rate.Date.Format(time.DateOnly), rate.From, rate.To, rate.Buy, rate.Sell)
	}
	return nil
}
