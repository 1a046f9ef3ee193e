package vouchers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/fx"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	internalShared "github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

type memoryRepo struct {
	nextID   int64
	seq      map[SequenceKey]int64
	vouchers map[int64]Voucher
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{seq: map[SequenceKey]int64{}, vouchers: map[int64]Voucher{}}
}

func (m *memoryRepo) Create(ctx context.Context, v Voucher, periodCode string) (Voucher, error) {
	key := SequenceKey{CompanyID: v.CompanyID, PeriodID: v.PeriodID, Type: v.Type}
	m.seq[key]++
	m.nextID++
	v.ID = m.nextID
	v.Number = FormatNumber(v.Type, periodCode, m.seq[key])
	for i := range v.Lines {
		v.Lines[i].VoucherID = v.ID
		v.Lines[i].LineNo = i + 1
	}
	b := CheckBalance(v.Lines)
	v.TotalDebit, v.TotalCredit = b.DebitTotal, b.CreditTotal
	m.vouchers[v.ID] = v
	return v, nil
}

func (m *memoryRepo) Get(ctx context.Context, id int64) (Voucher, error) {
	v, ok := m.vouchers[id]
	if !ok {
		return Voucher{}, shared.NotFound("voucher", id)
	}
	v.Lines = append([]Line(nil), v.Lines...)
	return v, nil
}

func (m *memoryRepo) List(ctx context.Context, f ListFilter) ([]Voucher, int, error) {
	var out []Voucher
	for _, v := range m.vouchers {
		if v.CompanyID == f.CompanyID && (f.Status == "" || v.Status == f.Status) {
			out = append(out, v)
		}
	}
	return out, len(out), nil
}

func (m *memoryRepo) UpdateHeader(ctx context.Context, v Voucher) error {
	m.vouchers[v.ID] = v
	return nil
}

func (m *memoryRepo) AddLine(ctx context.Context, voucherID int64, line Line) (Line, error) {
	v := m.vouchers[voucherID]
	line.VoucherID = voucherID
	line.LineNo = len(v.Lines) + 1
	v.Lines = append(v.Lines, line)
	m.vouchers[voucherID] = v
	return line, nil
}

func (m *memoryRepo) RemoveLine(ctx context.Context, voucherID int64, lineNo int) error {
	v := m.vouchers[voucherID]
	for i, l := range v.Lines {
		if l.LineNo == lineNo {
			v.Lines = append(v.Lines[:i], v.Lines[i+1:]...)
			m.vouchers[voucherID] = v
			return nil
		}
	}
	return shared.NotFound("voucher line", int64(lineNo))
}

func (m *memoryRepo) Transition(ctx context.Context, id int64, decide func(Voucher) (StatusUpdate, error)) (Voucher, error) {
	v, err := m.Get(ctx, id)
	if err != nil {
		return Voucher{}, err
	}
	u, err := decide(v)
	if err != nil {
		return Voucher{}, err
	}
	stored := m.vouchers[u.ID]
	if stored.Status != u.From {
		return Voucher{}, shared.InvalidState("voucher", u.ID, string(stored.Status), Action(u.To))
	}
	stored.Status = u.To
	m.vouchers[u.ID] = stored
	return v, nil
}

type stubPeriods struct {
	period periods.Period
}

func (s stubPeriods) FindOpenPeriodByDate(ctx context.Context, companyID int64, date time.Time) (periods.Period, error) {
	if s.period.Contains(date) && s.period.Status == periods.PeriodStatusOpen {
		return s.period, nil
	}
	return periods.Period{}, periods.ErrNoOpenPeriod(date)
}

type stubAccounts map[int64]accounts.Account

func (s stubAccounts) GetAccount(ctx context.Context, id int64) (accounts.Account, error) {
	a, ok := s[id]
	if !ok {
		return accounts.Account{}, shared.NotFound("account", id)
	}
	return a, nil
}

type recordingApprovals struct {
	logs []internalShared.ApprovalLog
}

func (r *recordingApprovals) Record(ctx context.Context, log internalShared.ApprovalLog) error {
	r.logs = append(r.logs, log)
	return nil
}

type stubPoster struct {
	posted []int64
}

// racingRepo appends a line once, after the caller has read the voucher and
// before the status change takes its lock.
type racingRepo struct {
	*memoryRepo
	line  Line
	raced bool
}

func (r *racingRepo) Transition(ctx context.Context, id int64, decide func(Voucher) (StatusUpdate, error)) (Voucher, error) {
	if !r.raced {
		r.raced = true
		if _, err := r.memoryRepo.AddLine(ctx, id, r.line); err != nil {
			return Voucher{}, err
		}
	}
	return r.memoryRepo.Transition(ctx, id, decide)
}

func (p *stubPoster) Post(ctx context.Context, voucherID, actorID int64) (Voucher, error) {
	p.posted = append(p.posted, voucherID)
	return Voucher{ID: voucherID, Status: StatusPosted}, nil
}

func (p *stubPoster) Reverse(ctx context.Context, in ReverseInput) (Voucher, error) {
	return Voucher{ID: in.VoucherID + 100, ReversalOf: &in.VoucherID, Status: StatusPosted}, nil
}

const (
	cashID    int64 = 1
	salesID   int64 = 2
	summaryID int64 = 3
	closedID  int64 = 4
	usdBankID int64 = 5
)

var jan2024 = periods.Period{
	ID:        10,
	CompanyID: 1,
	Code:      "2024-01",
	StartDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	EndDate:   time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
	Status:    periods.PeriodStatusOpen,
}

type fixture struct {
	svc       *Service
	repo      *memoryRepo
	approvals *recordingApprovals
	poster    *stubPoster
}

func newFixture() fixture {
	return newFixtureOn(func(m *memoryRepo) Repository { return m })
}

func newFixtureOn(wrap func(*memoryRepo) Repository) fixture {
	repo := newMemoryRepo()
	approvals := &recordingApprovals{}
	poster := &stubPoster{}
	accs := stubAccounts{
		cashID:    {ID: cashID, CompanyID: 1, Code: "1001", Nature: shared.NatureAsset, IsPostable: true, IsActive: true},
		salesID:   {ID: salesID, CompanyID: 1, Code: "4001", Nature: shared.NatureIncome, IsPostable: true, IsActive: true},
		summaryID: {ID: summaryID, CompanyID: 1, Code: "4000", Nature: shared.NatureIncome, IsPostable: false, IsActive: true},
		closedID:  {ID: closedID, CompanyID: 1, Code: "1999", Nature: shared.NatureAsset, IsPostable: true, IsActive: false},
		usdBankID: {ID: usdBankID, CompanyID: 1, Code: "1102", Nature: shared.NatureAsset, Currency: "USD", IsPostable: true, IsActive: true},
	}
	svc := NewService(Config{
		Repo:         wrap(repo),
		Periods:      stubPeriods{period: jan2024},
		Accounts:     accs,
		Rates:        fx.StaticProvider{"USDIDR": decimal.RequireFromString("15500.5")},
		Approvals:    approvals,
		Poster:       poster,
		BaseCurrency: "idr",
	})
	return fixture{svc: svc, repo: repo, approvals: approvals, poster: poster}
}

func amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func (f fixture) draft(t *testing.T, debit, credit string) Voucher {
	t.Helper()
	v, err := f.svc.Create(context.Background(), CreateInput{
		CompanyID: 1,
		Type:      TypeJournal,
		Date:      time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		Narration: "cash sale",
		ActorID:   7,
		Lines: []LineInput{
			{AccountID: cashID, Debit: amount(debit)},
			{AccountID: salesID, Credit: amount(credit)},
		},
	})
	require.NoError(t, err)
	return v
}

func requireRule(t *testing.T, err error, rule string) {
	t.Helper()
	var ve *shared.ValidationError
	require.ErrorAs(t, err, &ve)
	require.Equal(t, rule, ve.Rule)
}

func TestTransitionTable(t *testing.T) {
	valid := [][2]Status{
		{StatusDraft, StatusSubmitted},
		{StatusSubmitted, StatusPendingApproval},
		{StatusPendingApproval, StatusApproved},
		{StatusPendingApproval, StatusRejected},
		{StatusRejected, StatusSubmitted},
		{StatusApproved, StatusPosted},
		{StatusPosted, StatusReversed},
		{StatusDraft, StatusCancelled},
		{StatusApproved, StatusCancelled},
		{StatusRejected, StatusCancelled},
	}
	for _, tc := range valid {
		require.NoError(t, Transition(tc[0], tc[1]), "%s -> %s", tc[0], tc[1])
	}
	invalid := [][2]Status{
		{StatusDraft, StatusApproved},
		{StatusDraft, StatusPosted},
		{StatusSubmitted, StatusApproved},
		{StatusRejected, StatusDraft},
		{StatusPosted, StatusCancelled},
		{StatusReversed, StatusPosted},
		{StatusCancelled, StatusDraft},
	}
	for _, tc := range invalid {
		err := Transition(tc[0], tc[1])
		require.Error(t, err, "%s -> %s", tc[0], tc[1])
		require.True(t, IsInvalidTransition(err))
		require.ErrorIs(t, err, httpx.ErrState)
	}
	require.True(t, StatusReversed.Terminal())
	require.True(t, StatusCancelled.Terminal())
	require.False(t, StatusApproved.Terminal())
}

func TestCreateNumbersWithinPeriod(t *testing.T) {
	f := newFixture()
	first := f.draft(t, "100.00", "100.00")
	second := f.draft(t, "50.00", "50.00")
	require.Equal(t, "JV/2024-01/00001", first.Number)
	require.Equal(t, "JV/2024-01/00002", second.Number)
	require.Equal(t, StatusDraft, first.Status)
	require.Equal(t, jan2024.ID, first.PeriodID)
	require.Equal(t, "100.00", first.TotalDebit.StringFixed(2))

	_, err := f.svc.Create(context.Background(), CreateInput{CompanyID: 1, Type: TypeJournal, Date: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)})
	requireRule(t, err, "open_period")

	_, err = f.svc.Create(context.Background(), CreateInput{CompanyID: 1, Type: "XX", Date: jan2024.StartDate})
	requireRule(t, err, "oneof")
}

func TestAddLineValidation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	v, err := f.svc.Create(ctx, CreateInput{CompanyID: 1, Type: TypePayment, Date: jan2024.StartDate})
	require.NoError(t, err)

	cases := []struct {
		name string
		in   LineInput
		rule string
	}{
		{"both sides", LineInput{AccountID: cashID, Debit: amount("1"), Credit: amount("1")}, "one_side"},
		{"both zero", LineInput{AccountID: cashID}, "nonzero"},
		{"negative", LineInput{AccountID: cashID, Debit: amount("-5")}, "non_negative"},
		{"scale", LineInput{AccountID: cashID, Debit: amount("1.005")}, "scale"},
		{"not postable", LineInput{AccountID: summaryID, Credit: amount("5")}, "postable"},
		{"inactive", LineInput{AccountID: closedID, Debit: amount("5")}, "active"},
		{"unknown", LineInput{AccountID: 99, Debit: amount("5")}, "exists"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.AddLine(ctx, v.ID, 0, tc.in)
			requireRule(t, err, tc.rule)
		})
	}

	line, err := f.svc.AddLine(ctx, v.ID, 0, LineInput{AccountID: cashID, Debit: amount("10.50")})
	require.NoError(t, err)
	require.Equal(t, 1, line.LineNo)
}

func TestAddLineConvertsForeignCurrency(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	v, err := f.svc.Create(ctx, CreateInput{CompanyID: 1, Type: TypeReceipt, Date: jan2024.StartDate})
	require.NoError(t, err)

	line, err := f.svc.AddLine(ctx, v.ID, 0, LineInput{AccountID: usdBankID, Debit: amount("10.01")})
	require.NoError(t, err)
	require.Equal(t, "USD", line.Currency)
	require.True(t, line.Rate.Valid)
	require.Equal(t, "10.01", line.ForeignAmount.Decimal.StringFixed(2))
	// 10.01 * 15500.5 = 155160.005
	require.Equal(t, "155160.01", line.Debit.StringFixed(2))
	require.True(t, line.Credit.IsZero())
}

func TestSubmitRejectsUnbalancedVoucher(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	v := f.draft(t, "100.00", "99.99")

	_, err := f.svc.Submit(ctx, v.ID, 7)
	var unbalanced *shared.UnbalancedVoucherError
	require.ErrorAs(t, err, &unbalanced)
	require.Equal(t, "0.01", unbalanced.Difference().StringFixed(2))
	require.ErrorIs(t, err, httpx.ErrUnprocessable)
	require.True(t, shared.IsValidation(err))

	stored, err := f.svc.Get(ctx, v.ID)
	require.NoError(t, err)
	require.Equal(t, StatusDraft, stored.Status)

	b, err := f.svc.BalanceCheck(ctx, v.ID)
	require.NoError(t, err)
	require.False(t, b.Balanced)
	require.Equal(t, "100.00", b.DebitTotal.StringFixed(2))
	require.Equal(t, "99.99", b.CreditTotal.StringFixed(2))
}

func TestSubmitValidatesLinesAddedConcurrently(t *testing.T) {
	f := newFixtureOn(func(m *memoryRepo) Repository {
		return &racingRepo{memoryRepo: m, line: Line{AccountID: cashID, Debit: amount("25.00")}}
	})
	ctx := context.Background()
	v := f.draft(t, "100.00", "100.00")
	b, err := f.svc.BalanceCheck(ctx, v.ID)
	require.NoError(t, err)
	require.True(t, b.Balanced)

	_, err = f.svc.Submit(ctx, v.ID, 7)
	var unbalanced *shared.UnbalancedVoucherError
	require.ErrorAs(t, err, &unbalanced)
	require.Equal(t, "25.00", unbalanced.Difference().StringFixed(2))

	stored, err := f.svc.Get(ctx, v.ID)
	require.NoError(t, err)
	require.Equal(t, StatusDraft, stored.Status)
	require.Len(t, stored.Lines, 3)
	require.Empty(t, f.approvals.logs)
}

func TestSubmitRequiresTwoLines(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	v, err := f.svc.Create(ctx, CreateInput{CompanyID: 1, Type: TypeJournal, Date: jan2024.StartDate,
		Lines: []LineInput{{AccountID: cashID, Debit: amount("5")}}})
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, v.ID, 7)
	requireRule(t, err, "min_lines")
}

func TestApprovalWorkflow(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	v := f.draft(t, "100.00", "100.00")

	v, err := f.svc.Submit(ctx, v.ID, 7)
	require.NoError(t, err)
	require.Equal(t, StatusSubmitted, v.Status)

	_, err = f.svc.AddLine(ctx, v.ID, 7, LineInput{AccountID: cashID, Debit: amount("1")})
	requireRule(t, err, "draft")

	_, err = f.svc.Approve(ctx, v.ID, 8)
	var stateErr *shared.StateError
	require.ErrorAs(t, err, &stateErr)
	require.Equal(t, string(StatusSubmitted), stateErr.Status)

	v, err = f.svc.RequestApproval(ctx, v.ID, 7)
	require.NoError(t, err)

	_, err = f.svc.Reject(ctx, v.ID, 8, " ")
	requireRule(t, err, "required")

	v, err = f.svc.Reject(ctx, v.ID, 8, "wrong account")
	require.NoError(t, err)
	require.Equal(t, StatusRejected, v.Status)

	v, err = f.svc.Submit(ctx, v.ID, 7)
	require.NoError(t, err)
	v, err = f.svc.RequestApproval(ctx, v.ID, 7)
	require.NoError(t, err)
	v, err = f.svc.Approve(ctx, v.ID, 8)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, v.Status)

	posted, err := f.svc.Post(ctx, v.ID, 8)
	require.NoError(t, err)
	require.Equal(t, StatusPosted, posted.Status)
	require.Equal(t, []int64{v.ID}, f.poster.posted)

	actions := make([]internalShared.ApprovalAction, 0, len(f.approvals.logs))
	for _, l := range f.approvals.logs {
		require.Equal(t, ApprovalModule, l.Module)
		require.Equal(t, v.Ref, l.RefID)
		actions = append(actions, l.Action)
	}
	require.Equal(t, []internalShared.ApprovalAction{
		internalShared.ApprovalSubmit,
		internalShared.ApprovalRequest,
		internalShared.ApprovalReject,
		internalShared.ApprovalSubmit,
		internalShared.ApprovalRequest,
		internalShared.ApprovalApprove,
	}, actions)
}

func TestCancelBeforePosting(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	v := f.draft(t, "10.00", "10.00")
	v, err := f.svc.Cancel(ctx, v.ID, 7, "duplicate")
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, v.Status)
	require.Equal(t, "duplicate", v.RejectionReason)

	_, err = f.svc.Submit(ctx, v.ID, 7)
	require.True(t, errors.Is(err, httpx.ErrState))
}

func TestRemoveLineAndUpdateHeader(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	v := f.draft(t, "10.00", "10.00")
	require.NoError(t, f.svc.RemoveLine(ctx, v.ID, 2, 7))
	b, err := f.svc.BalanceCheck(ctx, v.ID)
	require.NoError(t, err)
	require.True(t, b.CreditTotal.IsZero())

	narration := " adjusted "
	date := time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC)
	updated, err := f.svc.UpdateHeader(ctx, UpdateHeaderInput{ID: v.ID, Date: &date, Narration: &narration})
	require.NoError(t, err)
	require.Equal(t, "adjusted", updated.Narration)
	require.True(t, updated.Date.Equal(date))

	outside := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	_, err = f.svc.UpdateHeader(ctx, UpdateHeaderInput{ID: v.ID, Date: &outside})
	requireRule(t, err, "open_period")
}

func TestMirrorSwapsSides(t *testing.T) {
	lines := []Line{
		{VoucherID: 5, LineNo: 1, AccountID: cashID, Debit: amount("100")},
		{VoucherID: 5, LineNo: 2, AccountID: salesID, Credit: amount("100")},
	}
	m := Mirror(lines)
	require.Len(t, m, 2)
	require.True(t, m[0].Credit.Equal(amount("100")))
	require.True(t, m[0].Debit.IsZero())
	require.True(t, m[1].Debit.Equal(amount("100")))
	require.Zero(t, m[0].VoucherID)
	require.True(t, CheckBalance(m).Balanced)
	require.True(t, lines[0].Debit.Equal(amount("100")))
}
