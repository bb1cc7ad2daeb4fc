package accounting

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sort"
	"strings"

	"github.com/odyssey-erp/ledger/internal/accounting/shared"
)

// Registry owns the chart of accounts and decides which accounts accept postings.
type Registry struct {
	repo RepositoryPort
	fx   effects
}

// NewRegistry constructs the chart of accounts registry.
func NewRegistry(repo RepositoryPort, opts Options) *Registry {
	return &Registry{repo: repo, fx: effects{opts: opts.withDefaults()}}
}

// CreateAccount registers a chart node. The level is derived from the parent chain.
// Adding a child to a detail account without movements turns that parent into a
// summary account.
func (r *Registry) CreateAccount(ctx context.Context, in CreateAccountInput) (Account, error) {
	in.Code = strings.TrimSpace(in.Code)
	in.ParentCode = strings.TrimSpace(in.ParentCode)
	if err := in.Validate(); err != nil {
		return Account{}, err
	}
	var created Account
	err := r.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetAccountByCode(ctx, in.Code, LockNone); err == nil {
			return fmt.Errorf("%w: account %s", shared.ErrDuplicateCode, in.Code)
		} else if !errors.Is(err, shared.ErrNotFound) {
			return err
		}
		account := Account{
			Code:             in.Code,
			Name:             strings.TrimSpace(in.Name),
			Type:             in.Type,
			Level:            1,
			Nature:           in.Nature,
			IsActive:         true,
			AcceptsMovements: in.AcceptsMovements,
		}
		if in.ParentCode != "" {
			// The parent row stays locked until commit so no line can be
			// posted to it between the usage check and the demotion.
			parent, err := tx.GetAccountByCode(ctx, in.ParentCode, LockUpdate)
			if errors.Is(err, shared.ErrNotFound) {
				return fmt.Errorf("%w: parent %s does not exist", shared.ErrInvalidHierarchy, in.ParentCode)
			}
			if err != nil {
				return err
			}
			if !parent.IsActive {
				return fmt.Errorf("%w: parent %s is inactive", shared.ErrInvalidHierarchy, parent.Code)
			}
			if parent.AcceptsMovements {
				used, err := tx.AccountHasLines(ctx, parent.ID)
				if err != nil {
					return err
				}
				if used {
					return fmt.Errorf("%w: parent %s already carries postings", shared.ErrInvalidHierarchy, parent.Code)
				}
				if err := tx.SetAccountAcceptsMovements(ctx, parent.ID, false); err != nil {
					return err
				}
			}
			account.ParentID = &parent.ID
			account.ParentCode = parent.Code
			account.Level = parent.Level + 1
		}
		inserted, err := tx.InsertAccount(ctx, account)
		if err != nil {
			return err
		}
		created = inserted
		return nil
	})
	r.fx.observe("account.create", err)
	if err != nil {
		return Account{}, err
	}
	r.fx.invalidate(ctx)
	r.fx.opts.Logger.Info("account created", slog.String("code", created.Code), slog.Int("level", created.Level))
	return created, nil
}

// ResolvePostable returns the account only when it is active and accepts movements.
func (r *Registry) ResolvePostable(ctx context.Context, code string) (Account, error) {
	var account Account
	err := r.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		account, err = resolvePostable(ctx, tx, code, LockNone)
		return err
	})
	return account, err
}

func resolvePostable(ctx context.Context, tx TxRepository, code string, mode LockMode) (Account, error) {
	account, err := tx.GetAccountByCode(ctx, strings.TrimSpace(code), mode)
	if errors.Is(err, shared.ErrNotFound) {
		return Account{}, fmt.Errorf("%w: account %s is not registered", shared.ErrAccountNotPostable, code)
	}
	if err != nil {
		return Account{}, err
	}
	if !account.Postable() {
		return Account{}, fmt.Errorf("%w: account %s", shared.ErrAccountNotPostable, account.Code)
	}
	return account, nil
}

// GetAccount loads a single account by code.
func (r *Registry) GetAccount(ctx context.Context, code string) (Account, error) {
	var account Account
	err := r.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		account, err = tx.GetAccountByCode(ctx, code, LockNone)
		return err
	})
	return account, err
}

// Chart loads the whole catalog into an indexed tree.
func (r *Registry) Chart(ctx context.Context) (*Chart, error) {
	var accounts []Account
	err := r.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		accounts, err = tx.ListAccounts(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return NewChart(accounts), nil
}

// Subtree returns a lazy sequence over the descendants of code.
func (r *Registry) Subtree(ctx context.Context, code string) (iter.Seq[Account], error) {
	chart, err := r.Chart(ctx)
	if err != nil {
		return nil, err
	}
	if _, ok := chart.Lookup(code); !ok {
		return nil, shared.NotFoundf("account %s", code)
	}
	return chart.Descendants(code), nil
}

// DeactivateAccount retires an account softly. Accounts with active children stay active.
func (r *Registry) DeactivateAccount(ctx context.Context, code, actor string) (Account, error) {
	var account Account
	err := r.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetAccountByCode(ctx, code, LockUpdate)
		if err != nil {
			return err
		}
		if !current.IsActive {
			account = current
			return nil
		}
		accounts, err := tx.ListAccounts(ctx)
		if err != nil {
			return err
		}
		for _, child := range NewChart(accounts).Children(current.Code) {
			if child.IsActive {
				return fmt.Errorf("%w: account %s has active child %s", shared.ErrInvalidHierarchy, current.Code, child.Code)
			}
		}
		if err := tx.SetAccountActive(ctx, current.ID, false); err != nil {
			return err
		}
		current.IsActive = false
		account = current
		return nil
	})
	r.fx.observe("account.deactivate", err)
	if err != nil {
		return Account{}, err
	}
	r.fx.audit(ctx, actor, "account.deactivate", "account", account.ID, map[string]any{"code": account.Code})
	r.fx.invalidate(ctx)
	return account, nil
}

// CreateCostCenter registers a classification dimension.
func (r *Registry) CreateCostCenter(ctx context.Context, in CreateCostCenterInput) (CostCenter, error) {
	if err := in.Validate(); err != nil {
		return CostCenter{}, err
	}
	var created CostCenter
	err := r.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		created, err = tx.InsertCostCenter(ctx, CostCenter{
			Code:      strings.TrimSpace(in.Code),
			Name:      strings.TrimSpace(in.Name),
			Type:      strings.TrimSpace(in.Type),
			ProjectID: in.ProjectID,
			IsActive:  true,
		})
		return err
	})
	r.fx.observe("cost_center.create", err)
	return created, err
}

// ListCostCenters returns all cost centers ordered by code.
func (r *Registry) ListCostCenters(ctx context.Context) ([]CostCenter, error) {
	var centers []CostCenter
	err := r.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		centers, err = tx.ListCostCenters(ctx)
		return err
	})
	return centers, err
}

// Chart is an immutable index of the account catalog keyed by code.
type Chart struct {
	accounts map[string]Account
	children map[string][]string
	roots    []string
}

// ChartNode is one account with its children, used for rollup displays.
type ChartNode struct {
	Account
	Children []ChartNode `json:"children,omitempty"`
}

// NewChart indexes accounts by code and parent.
func NewChart(accounts []Account) *Chart {
	c := &Chart{
		accounts: make(map[string]Account, len(accounts)),
		children: make(map[string][]string),
	}
	for _, account := range accounts {
		c.accounts[account.Code] = account
	}
	for _, account := range accounts {
		if _, ok := c.accounts[account.ParentCode]; account.ParentCode != "" && ok {
			c.children[account.ParentCode] = append(c.children[account.ParentCode], account.Code)
			continue
		}
		c.roots = append(c.roots, account.Code)
	}
	sort.Strings(c.roots)
	for code := range c.children {
		sort.Strings(c.children[code])
	}
	return c
}

// Len returns the number of accounts.
func (c *Chart) Len() int { return len(c.accounts) }

// Lookup returns the account registered under code.
func (c *Chart) Lookup(code string) (Account, bool) {
	account, ok := c.accounts[code]
	return account, ok
}

// Children returns the direct children of code.
func (c *Chart) Children(code string) []Account {
	codes := c.children[code]
	out := make([]Account, 0, len(codes))
	for _, child := range codes {
		out = append(out, c.accounts[child])
	}
	return out
}

// Descendants yields every account below code in depth-first order.
func (c *Chart) Descendants(code string) iter.Seq[Account] {
	return func(yield func(Account) bool) {
		stack := append([]string(nil), c.children[code]...)
		for len(stack) > 0 {
			next := stack[0]
			stack = stack[1:]
			if !yield(c.accounts[next]) {
				return
			}
			stack = append(append([]string(nil), c.children[next]...), stack...)
		}
	}
}

// Tree renders the catalog as nested nodes.
func (c *Chart) Tree() []ChartNode {
	nodes := make([]ChartNode, 0, len(c.roots))
	for _, code := range c.roots {
		nodes = append(nodes, c.node(code))
	}
	return nodes
}

func (c *Chart) node(code string) ChartNode {
	n := ChartNode{Account: c.accounts[code]}
	for _, child := range c.children[code] {
		n.Children = append(n.Children, c.node(child))
	}
	return n
}
