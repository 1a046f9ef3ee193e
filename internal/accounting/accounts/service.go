package accounts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	internalShared "github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// AuditPort records chart of accounts changes.
type AuditPort interface {
	Record(ctx context.Context, log internalShared.AuditLog) error
}

// Service maintains the chart of accounts.
type Service struct {
	repo   Repository
	audit  AuditPort
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs the chart of accounts service.
func NewService(repo Repository, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger, now: time.Now}
}

// CreateGroup adds a group. Children must share the parent's nature.
func (s *Service) CreateGroup(ctx context.Context, in CreateGroupInput) (Group, error) {
	in.Code = strings.TrimSpace(in.Code)
	in.Name = strings.TrimSpace(in.Name)
	if in.CompanyID <= 0 {
		return Group{}, shared.Invalid("company_id", "required", "company is required")
	}
	if in.Code == "" {
		return Group{}, shared.Invalid("code", "required", "code is required")
	}
	if in.Name == "" {
		return Group{}, shared.Invalid("name", "required", "name is required")
	}
	if !in.Nature.Valid() {
		return Group{}, shared.Invalid("nature", "oneof", "unknown nature %q", in.Nature)
	}
	groups, err := s.repo.ListGroups(ctx, in.CompanyID)
	if err != nil {
		return Group{}, err
	}
	for _, g := range groups {
		if strings.EqualFold(g.Code, in.Code) {
			return Group{}, shared.Invalid("code", "unique", "group code %s already exists", in.Code)
		}
	}
	if in.ParentID != nil {
		parent, ok := indexGroups(groups)[*in.ParentID]
		if !ok {
			return Group{}, shared.Invalid("parent_id", "exists", "parent group %d not found", *in.ParentID)
		}
		if parent.Nature != in.Nature {
			return Group{}, shared.Invalid("nature", "parent_nature", "nature %s differs from parent nature %s", in.Nature, parent.Nature)
		}
	}
	g, err := s.repo.CreateGroup(ctx, Group{
		CompanyID: in.CompanyID,
		Code:      in.Code,
		Name:      in.Name,
		Nature:    in.Nature,
		ParentID:  in.ParentID,
		IsActive:  true,
	})
	if err != nil {
		return Group{}, err
	}
	s.record(ctx, in.ActorID, "coa.group.create", "account_group", g.ID, map[string]any{"code": g.Code})
	return g, nil
}

// MoveGroup reparents a group, refusing cycles and nature changes.
func (s *Service) MoveGroup(ctx context.Context, id int64, parentID *int64, actorID int64) (Group, error) {
	g, err := s.repo.GetGroup(ctx, id)
	if err != nil {
		return Group{}, err
	}
	groups, err := s.repo.ListGroups(ctx, g.CompanyID)
	if err != nil {
		return Group{}, err
	}
	index := indexGroups(groups)
	if parentID != nil {
		parent, ok := index[*parentID]
		if !ok {
			return Group{}, shared.Invalid("parent_id", "exists", "parent group %d not found", *parentID)
		}
		if parent.Nature != g.Nature {
			return Group{}, shared.Invalid("parent_id", "parent_nature", "nature %s differs from parent nature %s", g.Nature, parent.Nature)
		}
		if isAncestorOrSelf(index, g.ID, parent.ID) {
			return Group{}, shared.Invalid("parent_id", "acyclic", "group %s cannot be its own ancestor", g.Code)
		}
	}
	if err := s.repo.UpdateGroupParent(ctx, id, parentID); err != nil {
		return Group{}, err
	}
	g.ParentID = parentID
	s.record(ctx, actorID, "coa.group.move", "account_group", g.ID, map[string]any{"parent_id": parentID})
	return g, nil
}

// CreateAccount adds an account under an active group, inheriting its nature.
func (s *Service) CreateAccount(ctx context.Context, in CreateAccountInput) (Account, error) {
	in.Code = strings.TrimSpace(in.Code)
	in.Name = strings.TrimSpace(in.Name)
	in.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	if in.Code == "" {
		return Account{}, shared.Invalid("code", "required", "code is required")
	}
	if in.Name == "" {
		return Account{}, shared.Invalid("name", "required", "name is required")
	}
	if in.Currency != "" && len(in.Currency) != 3 {
		return Account{}, shared.Invalid("currency", "len", "currency must be a 3-letter code")
	}
	g, err := s.repo.GetGroup(ctx, in.GroupID)
	if err != nil {
		var nf *shared.NotFoundError
		if errors.As(err, &nf) {
			return Account{}, shared.Invalid("group_id", "exists", "group %d not found", in.GroupID)
		}
		return Account{}, err
	}
	if in.CompanyID == 0 {
		in.CompanyID = g.CompanyID
	}
	if g.CompanyID != in.CompanyID {
		return Account{}, shared.Invalid("group_id", "company", "group belongs to another company")
	}
	if !g.IsActive {
		return Account{}, shared.Invalid("group_id", "active", "group %s is inactive", g.Code)
	}
	a, err := s.repo.CreateAccount(ctx, Account{
		CompanyID:  in.CompanyID,
		Code:       in.Code,
		Name:       in.Name,
		GroupID:    g.ID,
		Nature:     g.Nature,
		Currency:   in.Currency,
		IsPostable: in.IsPostable,
		IsControl:  in.IsControl,
		IsActive:   true,
	})
	if err != nil {
		return Account{}, err
	}
	s.record(ctx, in.ActorID, "coa.account.create", "account", a.ID, map[string]any{"code": a.Code, "group_id": g.ID})
	return a, nil
}

// MoveAccount changes an account's group. A nature change is refused once
// the account has movements.
func (s *Service) MoveAccount(ctx context.Context, id, groupID, actorID int64) (Account, error) {
	a, err := s.repo.GetAccount(ctx, id)
	if err != nil {
		return Account{}, err
	}
	g, err := s.repo.GetGroup(ctx, groupID)
	if err != nil {
		return Account{}, err
	}
	if g.CompanyID != a.CompanyID {
		return Account{}, shared.Invalid("group_id", "company", "group belongs to another company")
	}
	if g.Nature != a.Nature {
		usage, err := s.repo.Usage(ctx, id)
		if err != nil {
			return Account{}, err
		}
		if usage.Movements > 0 {
			return Account{}, &shared.ConflictError{Entity: "account", ID: id, Reason: "nature is fixed once movements exist", Count: usage.Movements}
		}
	}
	if err := s.repo.UpdateAccountGroup(ctx, id, g.ID, g.Nature); err != nil {
		return Account{}, err
	}
	a.GroupID = g.ID
	a.Nature = g.Nature
	s.record(ctx, actorID, "coa.account.move", "account", id, map[string]any{"group_id": g.ID})
	return a, nil
}

// SetActive toggles a group or account. Deactivating a group with active
// accounts anywhere below it, or an account carrying a balance, fails with
// a ConflictError.
func (s *Service) SetActive(ctx context.Context, in SetActiveInput) error {
	switch in.Kind {
	case KindGroup:
		return s.setGroupActive(ctx, in)
	case KindAccount:
		return s.setAccountActive(ctx, in)
	default:
		return shared.Invalid("kind", "oneof", "kind must be group or account")
	}
}

func (s *Service) setGroupActive(ctx context.Context, in SetActiveInput) error {
	g, err := s.repo.GetGroup(ctx, in.ID)
	if err != nil {
		return err
	}
	if g.IsActive == in.Active {
		return nil
	}
	if in.Active {
		if g.ParentID != nil {
			parent, err := s.repo.GetGroup(ctx, *g.ParentID)
			if err != nil {
				return err
			}
			if !parent.IsActive {
				return shared.Invalid("parent_id", "active", "parent group %s is inactive", parent.Code)
			}
		}
	} else {
		groups, err := s.repo.ListGroups(ctx, g.CompanyID)
		if err != nil {
			return err
		}
		accounts, err := s.repo.ListAccounts(ctx, g.CompanyID)
		if err != nil {
			return err
		}
		subtree := descendants(groups, g.ID)
		active := 0
		for _, a := range accounts {
			if a.IsActive && subtree[a.GroupID] {
				active++
			}
		}
		if active > 0 {
			return &shared.ConflictError{Entity: "account group", ID: g.ID, Reason: "group has active accounts", Count: active}
		}
	}
	if err := s.repo.SetGroupActive(ctx, g.ID, in.Active); err != nil {
		return err
	}
	s.record(ctx, in.ActorID, "coa.group.active", "account_group", g.ID, map[string]any{"active": in.Active})
	return nil
}

func (s *Service) setAccountActive(ctx context.Context, in SetActiveInput) error {
	a, err := s.repo.GetAccount(ctx, in.ID)
	if err != nil {
		return err
	}
	if a.IsActive == in.Active {
		return nil
	}
	if in.Active {
		g, err := s.repo.GetGroup(ctx, a.GroupID)
		if err != nil {
			return err
		}
		if !g.IsActive {
			return shared.Invalid("group_id", "active", "group %s is inactive", g.Code)
		}
	} else {
		usage, err := s.repo.Usage(ctx, a.ID)
		if err != nil {
			return err
		}
		if balance := usage.Balance(); !balance.IsZero() {
			return &shared.ConflictError{Entity: "account", ID: a.ID, Reason: "account has an unresolved balance", Amount: &balance}
		}
	}
	if err := s.repo.SetAccountActive(ctx, a.ID, in.Active); err != nil {
		return err
	}
	s.record(ctx, in.ActorID, "coa.account.active", "account", a.ID, map[string]any{"active": in.Active})
	return nil
}

// DeleteAccount hard deletes an account that nothing references.
func (s *Service) DeleteAccount(ctx context.Context, id, actorID int64) error {
	a, err := s.repo.GetAccount(ctx, id)
	if err != nil {
		return err
	}
	usage, err := s.repo.Usage(ctx, id)
	if err != nil {
		return err
	}
	if usage.Movements > 0 || usage.Lines > 0 {
		return &shared.ConflictError{
			Entity: "account",
			ID:     id,
			Reason: "account is referenced by vouchers; deactivate it instead",
			Count:  usage.Movements + usage.Lines,
		}
	}
	if err := s.repo.DeleteAccount(ctx, id); err != nil {
		return err
	}
	s.record(ctx, actorID, "coa.account.delete", "account", id, map[string]any{"code": a.Code})
	return nil
}

// GetAccount returns a single account.
func (s *Service) GetAccount(ctx context.Context, id int64) (Account, error) {
	return s.repo.GetAccount(ctx, id)
}

// GetGroup returns a single group.
func (s *Service) GetGroup(ctx context.Context, id int64) (Group, error) {
	return s.repo.GetGroup(ctx, id)
}

// List returns every account of a company ordered by code.
func (s *Service) List(ctx context.Context, companyID int64) ([]Account, error) {
	return s.repo.ListAccounts(ctx, companyID)
}

// ListGroups returns every group of a company ordered by code.
func (s *Service) ListGroups(ctx context.Context, companyID int64) ([]Group, error) {
	return s.repo.ListGroups(ctx, companyID)
}

// Tree assembles the chart hierarchy rooted at top-level groups.
func (s *Service) Tree(ctx context.Context, companyID int64) ([]*Node, error) {
	groups, err := s.repo.ListGroups(ctx, companyID)
	if err != nil {
		return nil, err
	}
	accounts, err := s.repo.ListAccounts(ctx, companyID)
	if err != nil {
		return nil, err
	}
	return BuildTree(groups, accounts), nil
}

// BuildTree arranges groups and accounts into a forest. Groups whose parent
// is missing are promoted to roots.
func BuildTree(groups []Group, accounts []Account) []*Node {
	nodes := make(map[int64]*Node, len(groups))
	for _, g := range groups {
		nodes[g.ID] = &Node{Group: g}
	}
	for _, a := range accounts {
		if n, ok := nodes[a.GroupID]; ok {
			n.Accounts = append(n.Accounts, a)
		}
	}
	var roots []*Node
	for _, g := range groups {
		n := nodes[g.ID]
		if g.ParentID != nil {
			if parent, ok := nodes[*g.ParentID]; ok && *g.ParentID != g.ID {
				parent.Children = append(parent.Children, n)
				continue
			}
		}
		roots = append(roots, n)
	}
	for _, n := range nodes {
		sort.Slice(n.Children, func(i, j int) bool { return n.Children[i].Group.Code < n.Children[j].Group.Code })
		sort.Slice(n.Accounts, func(i, j int) bool { return n.Accounts[i].Code < n.Accounts[j].Code })
	}
	sort.Slice(roots, func(i, j int) bool { return roots[i].Group.Code < roots[j].Group.Code })
	return roots
}

func indexGroups(groups []Group) map[int64]Group {
	out := make(map[int64]Group, len(groups))
	for _, g := range groups {
		out[g.ID] = g
	}
	return out
}

// isAncestorOrSelf walks parent links from start and reports whether target
// is reached. The walk is bounded by the number of groups.
func isAncestorOrSelf(index map[int64]Group, target, start int64) bool {
	current := start
	for steps := 0; steps <= len(index); steps++ {
		if current == target {
			return true
		}
		g, ok := index[current]
		if !ok || g.ParentID == nil {
			return false
		}
		current = *g.ParentID
	}
	return true
}

// descendants returns root and every group below it.
func descendants(groups []Group, root int64) map[int64]bool {
	children := make(map[int64][]int64)
	for _, g := range groups {
		if g.ParentID != nil {
			children[*g.ParentID] = append(children[*g.ParentID], g.ID)
		}
	}
	seen := map[int64]bool{root: true}
	queue := []int64{root}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, child := range children[id] {
			if !seen[child] {
				seen[child] = true
				queue = append(queue, child)
			}
		}
	}
	return seen
}

func (s *Service) record(ctx context.Context, actorID int64, action, entity string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, internalShared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: fmt.Sprintf("%d", id),
		Meta:     meta,
		At:       s.now(),
	}); err != nil {
		s.logger.Warn("audit coa change", slog.String("action", action), slog.Any("error", err))
	}
}
