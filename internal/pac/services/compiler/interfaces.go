package compiler

import "context"

// RuleLoader obtains rule lines from a path or URL.
type RuleLoader interface {
	LoadRules(ctx context.Context, ref string, maybeBase64 bool) ([]string, error)
}
