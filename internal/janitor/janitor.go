// Package janitor deactivates device tokens the push providers report as
// permanently invalid. Tokens are flipped inactive, never deleted, so
// delivery history stays auditable.
package janitor

import (
	"context"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/tinywideclouds/go-maintenance-notify/pkg/dispatch"
	"github.com/tinywideclouds/go-maintenance-notify/pkg/notify"
)

// positionalErr matches the audit-log error format "Token <index>: <message>".
var positionalErr = regexp.MustCompile(`^Token (\d+): (.*)$`)

// permanentClasses are the provider error fragments that mean the token
// itself is dead. Rate limits and transient errors are deliberately absent:
// those tokens stay active.
var permanentClasses = []string{
	"unregistered",
	"registration-token-not-registered",
	"invalid-registration",
	"invalid-argument",
	"bad device token",
	"baddevicetoken",
	"endpoint gone",
}

// IsPermanent reports whether an error message names an invalid-token class.
func IsPermanent(msg string) bool {
	lower := strings.ToLower(msg)
	for _, class := range permanentClasses {
		if strings.Contains(lower, class) {
			return true
		}
	}
	return false
}

// ParsePositional maps "Token <index>: <message>" strings back to the token
// at that position in the dispatched list, keeping only permanent classes.
// This positional mapping is fragile by construction (the index must align
// with the original dispatch order); dispatchers that can key failures by
// token value report them through Outcome.Invalid instead, and this parse is
// only a net for error strings that arrive without one.
func ParsePositional(errs []string, tokens []string) []string {
	var invalid []string
	for _, e := range errs {
		m := positionalErr.FindStringSubmatch(e)
		if m == nil || !IsPermanent(m[2]) {
			continue
		}
		idx, err := strconv.Atoi(m[1])
		if err != nil || idx < 0 || idx >= len(tokens) {
			continue
		}
		invalid = append(invalid, tokens[idx])
	}
	return invalid
}

// Janitor owns the deactivation sweep that follows every dispatch.
type Janitor struct {
	store  dispatch.TokenStore
	logger *slog.Logger
}

func New(store dispatch.TokenStore, logger *slog.Logger) *Janitor {
	return &Janitor{
		store:  store,
		logger: logger.With("component", "TokenJanitor"),
	}
}

// Sweep deactivates every token the outcome marks invalid, either by value
// or through positional error strings. Returns how many tokens were swept.
// Deactivation is idempotent, so overlapping sweeps are harmless.
func (j *Janitor) Sweep(ctx context.Context, tokens []string, out notify.Outcome) int {
	seen := make(map[string]struct{})
	var doomed []string
	add := func(t string) {
		if _, ok := seen[t]; ok {
			return
		}
		seen[t] = struct{}{}
		doomed = append(doomed, t)
	}

	for _, t := range out.Invalid {
		add(t)
	}
	for _, t := range ParsePositional(out.Errors, tokens) {
		add(t)
	}

	if len(doomed) == 0 {
		return 0
	}

	users, err := j.store.DeactivateTokens(ctx, doomed)
	if err != nil {
		// The same tokens will fail the next dispatch and be swept again.
		j.logger.Warn("Failed to deactivate invalid tokens", "count", len(doomed), "err", err)
		return 0
	}

	j.logger.Info("Deactivated invalid tokens", "count", len(doomed), "users", len(users))
	return len(doomed)
}
