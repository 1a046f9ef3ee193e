package e2e

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/posting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/vouchers"
)

// book is one in-memory company ledger shared by every store port.
type book struct {
	mu        sync.Mutex
	nextID    int64
	groups    map[int64]accounts.Group
	accounts  map[int64]accounts.Account
	periods   map[int64]periods.Period
	vouchers  map[int64]vouchers.Voucher
	movements []ledger.Movement
	seq       map[string]int64
}

func newBook() *book {
	return &book{
		groups:   map[int64]accounts.Group{},
		accounts: map[int64]accounts.Account{},
		periods:  map[int64]periods.Period{},
		vouchers: map[int64]vouchers.Voucher{},
		seq:      map[string]int64{},
	}
}

func (b *book) id() int64 {
	b.nextID++
	return b.nextID
}

func (b *book) number(v vouchers.Voucher, periodCode string) string {
	key := string(v.Type) + "|" + periodCode
	b.seq[key]++
	return vouchers.FormatNumber(v.Type, periodCode, b.seq[key])
}

func (b *book) storeVoucher(v vouchers.Voucher, periodCode string) vouchers.Voucher {
	v.ID = b.id()
	if v.Ref == uuid.Nil {
		v.Ref = uuid.New()
	}
	if v.Status == "" {
		v.Status = vouchers.StatusDraft
	}
	v.Number = b.number(v, periodCode)
	lines := make([]vouchers.Line, len(v.Lines))
	for i, l := range v.Lines {
		l.VoucherID = v.ID
		l.LineNo = i + 1
		lines[i] = l
	}
	v.Lines = lines
	bal := vouchers.CheckBalance(v.Lines)
	v.TotalDebit, v.TotalCredit = bal.DebitTotal, bal.CreditTotal
	b.vouchers[v.ID] = v
	return v
}

func copyVoucher(v vouchers.Voucher) vouchers.Voucher {
	v.Lines = append([]vouchers.Line(nil), v.Lines...)
	return v
}

// accountStore implements accounts.Repository.
type accountStore struct{ *book }

func (s accountStore) CreateGroup(ctx context.Context, g accounts.Group) (accounts.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g.ID = s.id()
	g.IsActive = true
	s.groups[g.ID] = g
	return g, nil
}

func (s accountStore) GetGroup(ctx context.Context, id int64) (accounts.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[id]
	if !ok {
		return accounts.Group{}, shared.NotFound("account group", id)
	}
	return g, nil
}

func (s accountStore) ListGroups(ctx context.Context, companyID int64) ([]accounts.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []accounts.Group
	for _, g := range s.groups {
		if g.CompanyID == companyID {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s accountStore) UpdateGroupParent(ctx context.Context, id int64, parentID *int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[id]
	if !ok {
		return shared.NotFound("account group", id)
	}
	g.ParentID = parentID
	s.groups[id] = g
	return nil
}

func (s accountStore) SetGroupActive(ctx context.Context, id int64, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[id]
	if !ok {
		return shared.NotFound("account group", id)
	}
	g.IsActive = active
	s.groups[id] = g
	return nil
}

func (s accountStore) CreateAccount(ctx context.Context, a accounts.Account) (accounts.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.accounts {
		if existing.CompanyID == a.CompanyID && existing.Code == a.Code {
			return accounts.Account{}, shared.Invalid("code", "unique", "account code %s already exists", a.Code)
		}
	}
	a.ID = s.id()
	s.accounts[a.ID] = a
	return a, nil
}

func (s accountStore) GetAccount(ctx context.Context, id int64) (accounts.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return accounts.Account{}, shared.NotFound("account", id)
	}
	return a, nil
}

func (s accountStore) ListAccounts(ctx context.Context, companyID int64) ([]accounts.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.companyAccounts(companyID), nil
}

func (b *book) companyAccounts(companyID int64) []accounts.Account {
	var out []accounts.Account
	for _, a := range b.accounts {
		if a.CompanyID == companyID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

func (s accountStore) UpdateAccountGroup(ctx context.Context, id, groupID int64, nature shared.Nature) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return shared.NotFound("account", id)
	}
	a.GroupID, a.Nature = groupID, nature
	s.accounts[id] = a
	return nil
}

func (s accountStore) SetAccountActive(ctx context.Context, id int64, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return shared.NotFound("account", id)
	}
	a.IsActive = active
	s.accounts[id] = a
	return nil
}

func (s accountStore) DeleteAccount(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[id]; !ok {
		return shared.NotFound("account", id)
	}
	delete(s.accounts, id)
	return nil
}

func (s accountStore) Usage(ctx context.Context, id int64) (accounts.Usage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := accounts.Usage{Debit: decimal.Zero, Credit: decimal.Zero}
	for _, mv := range s.movements {
		if mv.AccountID == id {
			u.Movements++
			u.Debit = u.Debit.Add(mv.Debit)
			u.Credit = u.Credit.Add(mv.Credit)
		}
	}
	for _, v := range s.vouchers {
		for _, l := range v.Lines {
			if l.AccountID == id {
				u.Lines++
			}
		}
	}
	return u, nil
}

// periodStore implements periods.Repository.
type periodStore struct{ *book }

func (s periodStore) Create(ctx context.Context, in periods.CreateInput) (periods.Period, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := periods.Period{
		ID:        s.id(),
		CompanyID: in.CompanyID,
		Code:      in.Code,
		StartDate: in.StartDate,
		EndDate:   in.EndDate,
		Status:    periods.PeriodStatusOpen,
	}
	s.periods[p.ID] = p
	return p, nil
}

func (s periodStore) Get(ctx context.Context, id int64) (periods.Period, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.periods[id]
	if !ok {
		return periods.Period{}, shared.NotFound("period", id)
	}
	return p, nil
}

func (s periodStore) List(ctx context.Context, companyID int64) ([]periods.Period, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []periods.Period
	for _, p := range s.periods {
		if p.CompanyID == companyID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.Before(out[j].StartDate) })
	return out, nil
}

func (s periodStore) FindOpenPeriodByDate(ctx context.Context, companyID int64, date time.Time) (periods.Period, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openPeriod(companyID, date)
}

func (b *book) openPeriod(companyID int64, date time.Time) (periods.Period, error) {
	for _, p := range b.periods {
		if p.CompanyID == companyID && p.Status == periods.PeriodStatusOpen && p.Contains(date) {
			return p, nil
		}
	}
	return periods.Period{}, periods.ErrNoOpenPeriod(date)
}

func (s periodStore) Overlaps(ctx context.Context, companyID int64, start, end time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.periods {
		if p.CompanyID == companyID && !p.StartDate.After(end) && !p.EndDate.Before(start) {
			return true, nil
		}
	}
	return false, nil
}

func (s periodStore) UpdateStatus(ctx context.Context, id int64, status periods.PeriodStatus, actorID int64) (periods.Period, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.periods[id]
	if !ok {
		return periods.Period{}, shared.NotFound("period", id)
	}
	p.Status = status
	s.periods[id] = p
	return p, nil
}

// voucherStore implements vouchers.Repository.
type voucherStore struct{ *book }

func (s voucherStore) Create(ctx context.Context, v vouchers.Voucher, periodCode string) (vouchers.Voucher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyVoucher(s.storeVoucher(v, periodCode)), nil
}

func (s voucherStore) Get(ctx context.Context, id int64) (vouchers.Voucher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vouchers[id]
	if !ok {
		return vouchers.Voucher{}, shared.NotFound("voucher", id)
	}
	return copyVoucher(v), nil
}

func (s voucherStore) List(ctx context.Context, f vouchers.ListFilter) ([]vouchers.Voucher, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []vouchers.Voucher
	for _, v := range s.vouchers {
		if v.CompanyID != f.CompanyID || (f.Status != "" && v.Status != f.Status) {
			continue
		}
		out = append(out, copyVoucher(v))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

func (s voucherStore) UpdateHeader(ctx context.Context, v vouchers.Voucher) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.vouchers[v.ID]
	if !ok {
		return shared.NotFound("voucher", v.ID)
	}
	stored.Date, stored.Narration = v.Date, v.Narration
	s.vouchers[v.ID] = stored
	return nil
}

func (s voucherStore) AddLine(ctx context.Context, voucherID int64, line vouchers.Line) (vouchers.Line, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vouchers[voucherID]
	if !ok {
		return vouchers.Line{}, shared.NotFound("voucher", voucherID)
	}
	line.VoucherID = voucherID
	line.LineNo = 1
	for _, l := range v.Lines {
		if l.LineNo >= line.LineNo {
			line.LineNo = l.LineNo + 1
		}
	}
	v.Lines = append(v.Lines, line)
	bal := vouchers.CheckBalance(v.Lines)
	v.TotalDebit, v.TotalCredit = bal.DebitTotal, bal.CreditTotal
	s.vouchers[voucherID] = v
	return line, nil
}

func (s voucherStore) RemoveLine(ctx context.Context, voucherID int64, lineNo int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vouchers[voucherID]
	if !ok {
		return shared.NotFound("voucher", voucherID)
	}
	kept := v.Lines[:0:0]
	for _, l := range v.Lines {
		if l.LineNo != lineNo {
			kept = append(kept, l)
		}
	}
	if len(kept) == len(v.Lines) {
		return shared.NotFound("voucher line", int64(lineNo))
	}
	v.Lines = kept
	s.vouchers[voucherID] = v
	return nil
}

func (s voucherStore) Transition(ctx context.Context, id int64, decide func(vouchers.Voucher) (vouchers.StatusUpdate, error)) (vouchers.Voucher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vouchers[id]
	if !ok {
		return vouchers.Voucher{}, shared.NotFound("voucher", id)
	}
	locked := copyVoucher(v)
	u, err := decide(locked)
	if err != nil {
		return vouchers.Voucher{}, err
	}
	if err := s.applyStatus(u); err != nil {
		return vouchers.Voucher{}, err
	}
	return locked, nil
}

func (b *book) applyStatus(u vouchers.StatusUpdate) error {
	v, ok := b.vouchers[u.ID]
	if !ok {
		return shared.NotFound("voucher", u.ID)
	}
	if v.Status != u.From {
		return shared.InvalidState("voucher", u.ID, string(v.Status), vouchers.Action(u.To))
	}
	v.Status = u.To
	actor := u.ActorID
	switch u.To {
	case vouchers.StatusSubmitted:
		v.SubmittedBy = &actor
	case vouchers.StatusApproved:
		v.ApprovedBy = &actor
	case vouchers.StatusPosted:
		at := u.At
		v.PostedBy, v.PostedAt = &actor, &at
	case vouchers.StatusRejected, vouchers.StatusCancelled:
		v.RejectionReason = u.Reason
	}
	b.vouchers[u.ID] = v
	return nil
}

// postingStore implements posting.RepositoryPort. A failed callback
// restores the voucher map and movement journal.
type postingStore struct{ *book }

func (s postingStore) WithTx(ctx context.Context, fn func(context.Context, posting.TxRepository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	savedVouchers := make(map[int64]vouchers.Voucher, len(s.vouchers))
	for k, v := range s.vouchers {
		savedVouchers[k] = copyVoucher(v)
	}
	savedMovements := len(s.movements)
	if err := fn(ctx, postingTx{s.book}); err != nil {
		s.vouchers = savedVouchers
		s.movements = s.movements[:savedMovements]
		return err
	}
	return nil
}

type postingTx struct{ *book }

func (t postingTx) GetVoucherForUpdate(ctx context.Context, id int64) (vouchers.Voucher, error) {
	v, ok := t.vouchers[id]
	if !ok {
		return vouchers.Voucher{}, shared.NotFound("voucher", id)
	}
	return copyVoucher(v), nil
}

func (t postingTx) GetPeriodForUpdate(ctx context.Context, periodID int64) (periods.Period, error) {
	p, ok := t.periods[periodID]
	if !ok {
		return periods.Period{}, shared.NotFound("period", periodID)
	}
	return p, nil
}

func (t postingTx) FindOpenPeriodByDate(ctx context.Context, companyID int64, date time.Time) (periods.Period, error) {
	return t.openPeriod(companyID, date)
}

func (t postingTx) GetNextOpenPeriodAfter(ctx context.Context, companyID int64, date time.Time) (periods.Period, error) {
	var best *periods.Period
	for _, p := range t.periods {
		if p.CompanyID != companyID || p.Status != periods.PeriodStatusOpen || p.StartDate.Before(date) {
			continue
		}
		if best == nil || p.StartDate.Before(best.StartDate) {
			candidate := p
			best = &candidate
		}
	}
	if best == nil {
		return periods.Period{}, periods.ErrNoOpenPeriod(date)
	}
	return *best, nil
}

func (t postingTx) GetAccounts(ctx context.Context, ids []int64) (map[int64]accounts.Account, error) {
	out := make(map[int64]accounts.Account, len(ids))
	for _, id := range ids {
		if a, ok := t.accounts[id]; ok {
			out[id] = a
		}
	}
	return out, nil
}

func (t postingTx) InsertReversal(ctx context.Context, v vouchers.Voucher, periodCode string) (vouchers.Voucher, error) {
	return copyVoucher(t.storeVoucher(v, periodCode)), nil
}

func (t postingTx) InsertMovements(ctx context.Context, movements []ledger.Movement) error {
	t.movements = append(t.movements, movements...)
	return nil
}

func (t postingTx) UpdateStatus(ctx context.Context, u vouchers.StatusUpdate) error {
	return t.applyStatus(u)
}

func (t postingTx) LinkReversal(ctx context.Context, originalID, reversalID int64) error {
	v, ok := t.vouchers[originalID]
	if !ok {
		return shared.NotFound("voucher", originalID)
	}
	v.ReversedBy = &reversalID
	t.vouchers[originalID] = v
	return nil
}

// ledgerStore implements ledger.Store over the same book.
type ledgerStore struct{ *book }

func (s ledgerStore) ReadSnapshot(ctx context.Context, fn func(ledger.Snapshot) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(ledgerSnapshot{s.book})
}

type ledgerSnapshot struct{ *book }

func (s ledgerSnapshot) Companies(ctx context.Context) ([]int64, error) {
	seen := map[int64]bool{}
	var out []int64
	for _, a := range s.accounts {
		if !seen[a.CompanyID] {
			seen[a.CompanyID] = true
			out = append(out, a.CompanyID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s ledgerSnapshot) Account(ctx context.Context, id int64) (accounts.Account, error) {
	a, ok := s.accounts[id]
	if !ok {
		return accounts.Account{}, shared.NotFound("account", id)
	}
	return a, nil
}

func (s ledgerSnapshot) Accounts(ctx context.Context, companyID int64) ([]accounts.Account, error) {
	return s.companyAccounts(companyID), nil
}

func (s ledgerSnapshot) collect(keep func(ledger.Movement) bool) map[int64]ledger.Sums {
	out := map[int64]ledger.Sums{}
	for _, mv := range s.movements {
		if keep(mv) {
			out[mv.AccountID] = out[mv.AccountID].Add(mv.Debit, mv.Credit)
		}
	}
	return out
}

func (s ledgerSnapshot) SumsBefore(ctx context.Context, companyID int64, before time.Time) (map[int64]ledger.Sums, error) {
	return s.collect(func(mv ledger.Movement) bool { return mv.CompanyID == companyID && mv.Date.Before(before) }), nil
}

func (s ledgerSnapshot) SumsBetween(ctx context.Context, companyID int64, from, to time.Time) (map[int64]ledger.Sums, error) {
	return s.collect(func(mv ledger.Movement) bool { return mv.CompanyID == companyID && shared.Within(mv.Date, from, to) }), nil
}

func (s ledgerSnapshot) AccountSumsBefore(ctx context.Context, accountID int64, before time.Time) (ledger.Sums, error) {
	return s.collect(func(mv ledger.Movement) bool { return mv.AccountID == accountID && mv.Date.Before(before) })[accountID], nil
}

func (s ledgerSnapshot) Movements(ctx context.Context, accountID int64, from, to time.Time) ([]ledger.Movement, error) {
	var out []ledger.Movement
	for _, mv := range s.movements {
		if mv.AccountID == accountID && shared.Within(mv.Date, from, to) {
			out = append(out, mv)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		if out[i].VoucherNo != out[j].VoucherNo {
			return out[i].VoucherNo < out[j].VoucherNo
		}
		return out[i].LineNo < out[j].LineNo
	})
	return out, nil
}

func (s ledgerSnapshot) UnbalancedVouchers(ctx context.Context, companyID int64) ([]ledger.UnbalancedVoucher, error) {
	byVoucher := map[int64]*ledger.UnbalancedVoucher{}
	var order []int64
	for _, mv := range s.movements {
		if mv.CompanyID != companyID {
			continue
		}
		u, ok := byVoucher[mv.VoucherID]
		if !ok {
			u = &ledger.UnbalancedVoucher{VoucherID: mv.VoucherID, Number: mv.VoucherNo}
			byVoucher[mv.VoucherID] = u
			order = append(order, mv.VoucherID)
		}
		u.Debit = u.Debit.Add(mv.Debit)
		u.Credit = u.Credit.Add(mv.Credit)
	}
	var out []ledger.UnbalancedVoucher
	for _, id := range order {
		if u := byVoucher[id]; !u.Debit.Equal(u.Credit) {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (s ledgerSnapshot) PostedWithoutMovements(ctx context.Context, companyID int64) ([]int64, error) {
	moved := map[int64]bool{}
	for _, mv := range s.movements {
		moved[mv.VoucherID] = true
	}
	var out []int64
	for _, v := range s.vouchers {
		if v.CompanyID != companyID {
			continue
		}
		if (v.Status == vouchers.StatusPosted || v.Status == vouchers.StatusReversed) && !moved[v.ID] {
			out = append(out, v.ID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s ledgerSnapshot) Totals(ctx context.Context, companyID int64) (ledger.Sums, error) {
	var sum ledger.Sums
	for _, mv := range s.movements {
		if mv.CompanyID == companyID {
			sum = sum.Add(mv.Debit, mv.Credit)
		}
	}
	return sum, nil
}
