package accounts

import (
	"context"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

// Template is a chart of accounts definition loaded from YAML.
//
//	groups:
//	  - code: CASH-GRP
//	    name: Cash and Bank
//	    nature: ASSET
//	    accounts:
//	      - {code: "1001", name: Cash, postable: true}
//	    groups:
//	      - code: BANK-GRP
//	        name: Banks
//	        nature: ASSET
type Template struct {
	Groups []TemplateGroup `yaml:"groups"`
}

// TemplateGroup is a group with nested children.
type TemplateGroup struct {
	Code     string            `yaml:"code"`
	Name     string            `yaml:"name"`
	Nature   string            `yaml:"nature"`
	Accounts []TemplateAccount `yaml:"accounts"`
	Groups   []TemplateGroup   `yaml:"groups"`
}

// TemplateAccount is an account leaf of a template group.
type TemplateAccount struct {
	Code     string `yaml:"code"`
	Name     string `yaml:"name"`
	Currency string `yaml:"currency"`
	Postable *bool  `yaml:"postable"`
	Control  bool   `yaml:"control"`
}

// SeedResult counts what Seed created and skipped.
type SeedResult struct {
	GroupsCreated   int `json:"groups_created"`
	AccountsCreated int `json:"accounts_created"`
	Skipped         int `json:"skipped"`
}

// LoadTemplate decodes a YAML template. Natures are inherited by child
// groups that omit them.
func LoadTemplate(r io.Reader) (Template, error) {
	var tpl Template
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&tpl); err != nil {
		return Template{}, fmt.Errorf("accounts: decode template: %w", err)
	}
	if len(tpl.Groups) == 0 {
		return Template{}, shared.Invalid("groups", "required", "template defines no groups")
	}
	return tpl, nil
}

// Seed creates the template's groups and accounts for a company. Codes that
// already exist are skipped so a template can be applied repeatedly.
func (s *Service) Seed(ctx context.Context, companyID, actorID int64, tpl Template) (SeedResult, error) {
	groups, err := s.repo.ListGroups(ctx, companyID)
	if err != nil {
		return SeedResult{}, err
	}
	existingGroups := make(map[string]Group, len(groups))
	for _, g := range groups {
		existingGroups[strings.ToUpper(g.Code)] = g
	}
	accounts, err := s.repo.ListAccounts(ctx, companyID)
	if err != nil {
		return SeedResult{}, err
	}
	existingAccounts := make(map[string]bool, len(accounts))
	for _, a := range accounts {
		existingAccounts[strings.ToUpper(a.Code)] = true
	}

	var result SeedResult
	var walk func(nodes []TemplateGroup, parent *Group) error
	walk = func(nodes []TemplateGroup, parent *Group) error {
		for _, node := range nodes {
			natureRaw := node.Nature
			if natureRaw == "" && parent != nil {
				natureRaw = string(parent.Nature)
			}
			nature, err := shared.ParseNature(natureRaw)
			if err != nil {
				return fmt.Errorf("group %s: %w", node.Code, err)
			}
			g, ok := existingGroups[strings.ToUpper(node.Code)]
			if ok {
				result.Skipped++
			} else {
				in := CreateGroupInput{CompanyID: companyID, Code: node.Code, Name: node.Name, Nature: nature, ActorID: actorID}
				if parent != nil {
					in.ParentID = &parent.ID
				}
				g, err = s.CreateGroup(ctx, in)
				if err != nil {
					return fmt.Errorf("group %s: %w", node.Code, err)
				}
				existingGroups[strings.ToUpper(g.Code)] = g
				result.GroupsCreated++
			}
			for _, acc := range node.Accounts {
				if existingAccounts[strings.ToUpper(acc.Code)] {
					result.Skipped++
					continue
				}
				postable := true
				if acc.Postable != nil {
					postable = *acc.Postable
				}
				if _, err := s.CreateAccount(ctx, CreateAccountInput{
					CompanyID:  companyID,
					Code:       acc.Code,
					Name:       acc.Name,
					GroupID:    g.ID,
					Currency:   acc.Currency,
					IsPostable: postable,
					IsControl:  acc.Control,
					ActorID:    actorID,
				}); err != nil {
					return fmt.Errorf("account %s: %w", acc.Code, err)
				}
				existingAccounts[strings.ToUpper(acc.Code)] = true
				result.AccountsCreated++
			}
			group := g
			if err := walk(node.Groups, &group); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(tpl.Groups, nil); err != nil {
		return result, err
	}
	return result, nil
}
