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
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/fx"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

// RateStore reads and writes exchange rates.
type RateStore interface {
	fx.RateProvider
	UpsertRates(ctx context.Context, rows []fx.RateInput) error
}

// FXOpsCLI offers operational helpers to manage exchange rates.
type FXOpsCLI struct {
	store RateStore
}

// NewFXOpsCLI constructs a new helper instance.
func NewFXOpsCLI(store RateStore) (*FXOpsCLI, error) {
	if store == nil {
		return nil, errors.New("fx cli: rate store required")
	}
	return &FXOpsCLI{store: store}, nil
}

// FXImportMode enumerates supported execution strategies.
type FXImportMode string

const (
	// FXImportModeDry parses and reports without persisting.
	FXImportModeDry FXImportMode = "dry"
	// FXImportModeApply persists the parsed rates.
	FXImportModeApply FXImportMode = "apply"
)

// FXImportOptions configures the import command.
type FXImportOptions struct {
	Source       string
	SourceReader io.Reader
	Mode         FXImportMode
	JSONOutput   bool
	Stdout       io.Writer
	Stderr       io.Writer
	Stdin        io.Reader
}

// FXImportSummary is the structured outcome of an import.
type FXImportSummary struct {
	Mode    FXImportMode `json:"mode"`
	Rates   []FXRateRow  `json:"rates"`
	Applied int          `json:"applied"`
}

// FXRateRow is one parsed quote.
type FXRateRow struct {
	From string `json:"from"`
	To   string `json:"to"`
	Date string `json:"date"`
	Rate string `json:"rate"`
}

// ImportCommand loads a CSV of quotes with columns date, rate and either
// from/to or a six-letter pair such as USDIDR.
func (c *FXOpsCLI) ImportCommand(ctx context.Context, opts FXImportOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	mode := FXImportMode(strings.ToLower(string(opts.Mode)))
	if mode == "" {
		mode = FXImportModeDry
	}
	if mode != FXImportModeDry && mode != FXImportModeApply {
		fmt.Fprintf(opts.Stderr, "fx import: invalid mode %q (expected dry or apply)\n", opts.Mode)
		return 1
	}
	data, err := readSource(opts.Source, opts.SourceReader, opts.Stdin)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "fx import: %v\n", err)
		return 1
	}
	rows, err := parseRates(data)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "fx import: %v\n", err)
		return 1
	}
	if len(rows) == 0 {
		fmt.Fprintln(opts.Stderr, "fx import: source contains no rates")
		return 1
	}
	summary := FXImportSummary{Mode: mode, Rates: make([]FXRateRow, len(rows))}
	for i, row := range rows {
		summary.Rates[i] = FXRateRow{From: row.From, To: row.To, Date: row.Date.Format(shared.DateLayout), Rate: row.Rate.String()}
	}
	if mode == FXImportModeApply {
		if err := c.store.UpsertRates(ctx, rows); err != nil {
			fmt.Fprintf(opts.Stderr, "fx import: apply failed: %v\n", err)
			return 1
		}
		summary.Applied = len(rows)
	}
	if err := writeImportOutput(opts, summary); err != nil {
		fmt.Fprintf(opts.Stderr, "fx import: %v\n", err)
		return 1
	}
	return 0
}

// FXLookupOptions configures the lookup command.
type FXLookupOptions struct {
	From   string
	To     string
	Date   string
	Stdout io.Writer
	Stderr io.Writer
}

// LookupCommand prints the rate effective for a pair on a date. It exits with
// 10 when no rate is on file.
func (c *FXOpsCLI) LookupCommand(ctx context.Context, opts FXLookupOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	date, err := shared.ParseDate("date", strings.TrimSpace(opts.Date))
	if err != nil {
		fmt.Fprintf(opts.Stderr, "fx lookup: %v\n", err)
		return 1
	}
	rate, err := c.store.Rate(ctx, opts.From, opts.To, date)
	if err != nil {
		var missing *fx.MissingRateError
		if errors.As(err, &missing) {
			fmt.Fprintf(opts.Stderr, "fx lookup: %v\n", err)
			return 10
		}
		fmt.Fprintf(opts.Stderr, "fx lookup: %v\n", err)
		return 1
	}
	fmt.Fprintf(opts.Stdout, "%s/%s %s %s\n", fx.Normalize(opts.From), fx.Normalize(opts.To), date.Format(shared.DateLayout), rate.String())
	return 0
}

func readSource(path string, reader, stdin io.Reader) ([]byte, error) {
	switch {
	case reader != nil:
		return io.ReadAll(reader)
	case path == "-":
		return io.ReadAll(stdin)
	case strings.TrimSpace(path) == "":
		return nil, errors.New("--source is required")
	default:
		return os.ReadFile(path)
	}
}

func parseRates(data []byte) ([]fx.RateInput, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	reader := csv.NewReader(bytes.NewReader(data))
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err != nil {
		return nil, err
	}
	idx := map[string]int{"from": -1, "to": -1, "pair": -1, "date": -1, "rate": -1}
	for i, col := range header {
		name := strings.ToLower(strings.TrimSpace(col))
		switch name {
		case "from", "from_currency", "base":
			idx["from"] = i
		case "to", "to_currency", "quote":
			idx["to"] = i
		case "pair":
			idx["pair"] = i
		case "date", "rate_date", "as_of":
			idx["date"] = i
		case "rate":
			idx["rate"] = i
		}
	}
	if idx["date"] < 0 || idx["rate"] < 0 || (idx["pair"] < 0 && (idx["from"] < 0 || idx["to"] < 0)) {
		return nil, errors.New("missing required columns (need date, rate and from/to or pair)")
	}
	var rows []fx.RateInput
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if blankRecord(record) {
			continue
		}
		row, err := parseRateRecord(record, idx)
		if err != nil {
			line, _ := reader.FieldPos(0)
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		rows = append(rows, row)
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Date.Before(rows[j].Date) })
	return rows, nil
}

func parseRateRecord(record []string, idx map[string]int) (fx.RateInput, error) {
	get := func(key string) string {
		i := idx[key]
		if i < 0 || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}
	from, to := get("from"), get("to")
	if pair := strings.ReplaceAll(get("pair"), "/", ""); pair != "" {
		if len(pair) != 6 {
			return fx.RateInput{}, fmt.Errorf("invalid pair %q", get("pair"))
		}
		from, to = pair[:3], pair[3:]
	}
	date, err := time.Parse(shared.DateLayout, get("date"))
	if err != nil {
		return fx.RateInput{}, fmt.Errorf("invalid date %q", get("date"))
	}
	rate, err := decimal.NewFromString(get("rate"))
	if err != nil || !rate.IsPositive() {
		return fx.RateInput{}, fmt.Errorf("invalid rate %q", get("rate"))
	}
	return fx.RateInput{From: fx.Normalize(from), To: fx.Normalize(to), Date: date, Rate: rate}, nil
}

func blankRecord(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func writeImportOutput(opts FXImportOptions, summary FXImportSummary) error {
	if opts.JSONOutput {
		enc := json.NewEncoder(opts.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}
	for _, r := range summary.Rates {
		if _, err := fmt.Fprintf(opts.Stdout, "%s %s/%s %s\n", r.Date, r.From, r.To, r.Rate); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(opts.Stdout, "%d rates parsed (mode %s, applied %d)\n", len(summary.Rates), summary.Mode, summary.Applied)
	return err
}
