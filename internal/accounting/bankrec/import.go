package bankrec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

// Field names a statement column.
type Field string

const (
	FieldDate        Field = "date"
	FieldAmount      Field = "amount"
	FieldDebit       Field = "debit"
	FieldCredit      Field = "credit"
	FieldDescription Field = "description"
	FieldReference   Field = "reference"
	FieldCleared     Field = "cleared"
	FieldVoucher     Field = "voucher_id"
)

// Mapping assigns zero-based column indexes to fields.
type Mapping map[Field]int

var synonyms = map[Field][]string{
	FieldDate:        {"date", "transaction date", "trans date", "value date", "posting date", "tanggal", "tgl"},
	FieldAmount:      {"amount", "net amount", "jumlah", "nominal", "mutasi"},
	FieldDebit:       {"debit", "withdrawal", "withdrawals", "money out", "paid out"},
	FieldCredit:      {"credit", "deposit", "deposits", "money in", "paid in"},
	FieldDescription: {"description", "details", "narrative", "memo", "keterangan", "uraian"},
	FieldReference:   {"reference", "ref", "ref no", "cheque no", "check no", "no ref"},
	FieldCleared:     {"cleared", "reconciled", "status"},
	FieldVoucher:     {"voucher", "voucher id", "voucher_id"},
}

var dateLayouts = []string{shared.DateLayout, "02/01/2006", "2006/01/02", "02-01-2006", "2 Jan 2006"}

// DetectMapping builds a mapping from a header row, matching case-folded
// column names against known synonyms.
func DetectMapping(header []string) (Mapping, error) {
	fold := cases.Fold()
	lookup := make(map[string]Field)
	for field, names := range synonyms {
		for _, n := range names {
			lookup[fold.String(n)] = field
		}
	}
	m := Mapping{}
	for i, cell := range header {
		key := fold.String(strings.Join(strings.Fields(strings.TrimPrefix(cell, "\ufeff")), " "))
		if field, ok := lookup[key]; ok {
			if _, taken := m[field]; !taken {
				m[field] = i
			}
		}
	}
	return m, m.Validate()
}

// Validate checks that a date and some amount column are mapped.
func (m Mapping) Validate() error {
	if _, ok := m[FieldDate]; !ok {
		return shared.Invalid("mapping", "required", "no date column mapped")
	}
	_, amount := m[FieldAmount]
	_, debit := m[FieldDebit]
	_, credit := m[FieldCredit]
	if !amount && !debit && !credit {
		return shared.Invalid("mapping", "required", "no amount, debit or credit column mapped")
	}
	for field, idx := range m {
		if idx < 0 {
			return shared.Invalid("mapping", "index", "column for %s must not be negative", field)
		}
	}
	return nil
}

func (m Mapping) cell(row []string, f Field) string {
	idx, ok := m[f]
	if !ok || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

// ParseRow converts a raw row into a LineInput. Debit columns are
// withdrawals and reduce the balance. Rows without a cleared column are
// treated as cleared.
func (m Mapping) ParseRow(row []string) (LineInput, error) {
	var in LineInput
	date, err := parseStatementDate(m.cell(row, FieldDate))
	if err != nil {
		return LineInput{}, err
	}
	in.Date = date

	amount := decimal.Zero
	if raw := m.cell(row, FieldAmount); raw != "" {
		if amount, err = shared.ParseAmount("amount", raw); err != nil {
			return LineInput{}, err
		}
	}
	if raw := m.cell(row, FieldCredit); raw != "" {
		credit, err := shared.ParseAmount("credit", raw)
		if err != nil {
			return LineInput{}, err
		}
		amount = amount.Add(credit.Abs())
	}
	if raw := m.cell(row, FieldDebit); raw != "" {
		debit, err := shared.ParseAmount("debit", raw)
		if err != nil {
			return LineInput{}, err
		}
		amount = amount.Sub(debit.Abs())
	}
	in.Amount = amount

	in.Cleared = true
	if _, ok := m[FieldCleared]; ok {
		in.Cleared = parseCleared(m.cell(row, FieldCleared))
	}
	if raw := m.cell(row, FieldVoucher); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return LineInput{}, shared.Invalid("voucher_id", "id", "invalid voucher id %q", raw)
		}
		in.VoucherID = &id
	}
	in.Description = m.cell(row, FieldDescription)
	in.Reference = m.cell(row, FieldReference)
	return in, nil
}

func parseStatementDate(raw string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, shared.Invalid("date", "date", "%q is not a recognised date", raw)
}

func parseCleared(raw string) bool {
	switch strings.ToLower(raw) {
	case "y", "yes", "x", "ok", "cleared", "reconciled":
		return true
	}
	b, _ := strconv.ParseBool(raw)
	return b
}

// ImportInput carries pre-parsed statement rows. A nil Mapping is detected
// from the first row, which is then skipped; HasHeader skips it for an
// explicit mapping.
type ImportInput struct {
	HeaderID  int64
	ActorID   int64
	Rows      [][]string
	Mapping   Mapping
	HasHeader bool
	// SkipDuplicates drops rows whose fingerprint matches a line already on
	// the header. Identical rows in one statement are otherwise all kept.
	SkipDuplicates bool
}

// Import adds every valid row as a line. Blank and invalid rows are reported
// and skipped, as are duplicates when SkipDuplicates is set. A COMPLETED
// header rejects the batch.
func (s *Service) Import(ctx context.Context, in ImportInput) (ImportResult, error) {
	mapping := in.Mapping
	start := 0
	if mapping == nil {
		if len(in.Rows) == 0 {
			return ImportResult{}, shared.Invalid("rows", "required", "no rows supplied")
		}
		detected, err := DetectMapping(in.Rows[0])
		if err != nil {
			return ImportResult{}, err
		}
		mapping = detected
		start = 1
	} else {
		if err := mapping.Validate(); err != nil {
			return ImportResult{}, err
		}
		if in.HasHeader {
			start = 1
		}
	}

	release, err := s.acquire(ctx, in.HeaderID)
	if err != nil {
		return ImportResult{}, err
	}
	defer release()

	var result ImportResult
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		result = ImportResult{Skipped: []SkippedRow{}}
		h, err := tx.LockHeader(ctx, in.HeaderID)
		if err != nil {
			return err
		}
		if err := editable(h, "import into"); err != nil {
			return err
		}
		var seen map[string]bool
		if in.SkipDuplicates {
			if seen, err = tx.Fingerprints(ctx, h.ID); err != nil {
				return err
			}
		}
		for i := start; i < len(in.Rows); i++ {
			rowNo := i + 1
			if blank(in.Rows[i]) {
				result.skip(rowNo, "blank row")
				continue
			}
			parsed, err := mapping.ParseRow(in.Rows[i])
			if err != nil {
				if !shared.IsValidation(err) {
					return err
				}
				result.skip(rowNo, reason(err))
				continue
			}
			line, err := s.prepareLine(ctx, tx, h, parsed)
			if err != nil {
				if !shared.IsValidation(err) {
					return err
				}
				result.skip(rowNo, reason(err))
				continue
			}
			if in.SkipDuplicates && seen[line.Fingerprint] {
				result.skip(rowNo, "duplicate of an existing line")
				continue
			}
			if _, err := tx.InsertLine(ctx, line); err != nil {
				return fmt.Errorf("bankrec: insert row %d: %w", rowNo, err)
			}
			if in.SkipDuplicates {
				seen[line.Fingerprint] = true
			}
			result.InsertedCount++
		}
		return nil
	})
	if err != nil {
		return ImportResult{}, err
	}
	s.record(ctx, in.ActorID, "bankrec.import", in.HeaderID, map[string]any{
		"inserted": result.InsertedCount,
		"skipped":  result.SkippedCount,
	})
	s.logger.Info("bank statement imported",
		slog.Int64("header_id", in.HeaderID),
		slog.Int("inserted", result.InsertedCount),
		slog.Int("skipped", result.SkippedCount))
	return result, nil
}

func (r *ImportResult) skip(row int, why string) {
	r.SkippedCount++
	r.Skipped = append(r.Skipped, SkippedRow{Row: row, Reason: why})
}

func reason(err error) string {
	var verr *shared.ValidationError
	if errors.As(err, &verr) {
		return verr.Field + ": " + verr.Message
	}
	return err.Error()
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
