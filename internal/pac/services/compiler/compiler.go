// Package compiler turns a block-list into a PAC script: it loads the rule
// sources, normalizes rules into hostnames, reduces them to registrable
// domains and renders the script in the requested mode.
package compiler

import (
	"context"
	"errors"
	"fmt"

	"github.com/haukened/pac-server/internal/pac/common/log"
	"github.com/haukened/pac-server/internal/pac/domain"
	"github.com/haukened/pac-server/internal/pac/repos/render"
	"github.com/haukened/pac-server/internal/pac/repos/source"
)

// ErrNoSource is returned when a Request names no rule source.
var ErrNoSource = errors.New("rule source is required")

// Request describes one compilation.
type Request struct {
	// Source is the block-list path or URL. It may be base64-encoded.
	Source string
	// UserRuleSource is an optional path or URL of extra rules.
	UserRuleSource string
	// UserRules are literal extra rules appended last.
	UserRules []string
	// Builtin appends the bundled rule set after the fetched list.
	Builtin bool
	Mode    domain.Mode
	Proxy   string
}

// Result is a rendered PAC script and what went into it.
type Result struct {
	Mode   domain.Mode
	Script []byte
	// Rules is the length of the combined rule list.
	Rules int
	// Domains is the reduced domain set; nil in precise mode.
	Domains domain.DomainSet
}

// Compiler runs the rule-to-PAC pipeline. It is safe for concurrent use as
// long as its collaborators are.
type Compiler struct {
	loader  RuleLoader
	reducer *Reducer
	logger  log.Logger
}

// Options configures a Compiler.
type Options struct {
	Loader  RuleLoader
	Reducer *Reducer
	Logger  log.Logger
}

// New constructs a Compiler.
func New(opts Options) *Compiler {
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &Compiler{loader: opts.Loader, reducer: opts.Reducer, logger: logger}
}

// Compile loads the sources named by req and renders the PAC script.
func (c *Compiler) Compile(ctx context.Context, req Request) (Result, error) {
	rules, err := c.RuleList(ctx, req)
	if err != nil {
		return Result{}, err
	}

	res := Result{Mode: req.Mode, Rules: len(rules)}
	switch req.Mode {
	case domain.ModePrecise:
		res.Script, err = render.RenderPrecise(rules, req.Proxy)
	case domain.ModeFast:
		hosts := ExtractHostnames(rules, c.logger)
		res.Domains = c.reducer.ReduceAll(hosts)
		c.logger.Debug(map[string]any{
			"hostnames": len(hosts),
			"domains":   res.Domains.Len(),
		}, "reduce_done")
		res.Script, err = render.RenderFast(res.Domains, req.Proxy)
	default:
		return Result{}, fmt.Errorf("unsupported mode: %s", req.Mode)
	}
	if err != nil {
		return Result{}, fmt.Errorf("rendering %s pac: %w", req.Mode, err)
	}
	return res, nil
}

// RuleList builds the combined rule list: the fetched list, then the builtin
// rules, then rules from UserRuleSource, then the literal UserRules.
func (c *Compiler) RuleList(ctx context.Context, req Request) ([]string, error) {
	if req.Source == "" {
		return nil, ErrNoSource
	}

	rules, err := c.loader.LoadRules(ctx, req.Source, true)
	if err != nil {
		return nil, fmt.Errorf("loading rule source: %w", err)
	}
	fetched := len(rules)

	if req.Builtin {
		rules = append(rules, source.Builtin()...)
	}

	if req.UserRuleSource != "" {
		user, err := c.loader.LoadRules(ctx, req.UserRuleSource, false)
		if err != nil {
			return nil, fmt.Errorf("loading user rules: %w", err)
		}
		rules = append(rules, user...)
	}
	rules = append(rules, req.UserRules...)

	c.logger.Info(map[string]any{
		"source":  req.Source,
		"fetched": fetched,
		"total":   len(rules),
	}, "rule_list_built")
	return rules, nil
}
