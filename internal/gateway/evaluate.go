package gateway

import (
	"fmt"
	"strings"

	"agentgate/internal/domain"
	"agentgate/internal/security"
)

// evaluate runs the policy steps against one snapshot: whitelist, blacklist,
// mode, self-protection, confirmation. It has no side effects, so running it
// twice on the same request and snapshot yields the same decision.
func (d *Dispatcher) evaluate(snap *security.Snapshot, req domain.ActionRequest) domain.Decision {
	name := req.ActionName

	entry, ok := snap.Entry(name)
	if !ok {
		return denied(domain.OutcomeDeniedPolicy, fmt.Sprintf("action %q is not whitelisted", name))
	}

	payload := security.FlattenParams(req.Params)
	if p, hit := snap.BlacklistHit(name, payload); hit {
		dec := denied(domain.OutcomeDeniedPattern, fmt.Sprintf("request matches blacklisted pattern %q", p))
		dec.MatchedPattern = p
		return dec
	}

	if ok, reason := snap.CheckMode(name, categories(entry, req)...); !ok {
		return denied(domain.OutcomeDeniedMode, reason)
	}

	if entry.MutatesWith(req.Params) {
		protect := snap.SelfProtect()
		for _, target := range security.TargetPaths(req.Params) {
			if ok, resolved := protect.CheckSelfProtect(name, target); !ok {
				dec := denied(domain.OutcomeDeniedSelfProtect, fmt.Sprintf("%s is a protected gateway path", resolved))
				dec.ResolvedPath = resolved
				return dec
			}
		}
	}

	if snap.NeedsConfirmation(name, req.Confirmed) {
		return domain.Decision{
			Outcome: domain.OutcomeConfirmationRequired,
			Info:    d.describe(entry, req),
		}
	}

	return domain.Decision{
		Allowed:  true,
		Timeout:  snap.TimeoutFor(name),
		Resource: entry.Resource,
	}
}

func denied(outcome domain.Outcome, detail string) domain.Decision {
	return domain.Decision{Outcome: outcome, Detail: detail}
}

func (d *Dispatcher) describe(entry domain.PolicyEntry, req domain.ActionRequest) string {
	var fallback string
	if c, ok := d.registry.Lookup(entry.ActionName); ok {
		fallback = c.Description()
	}
	return security.Describe(entry.ActionName, entry.Description, fallback, req.Params)
}

// categories collects every category the request carries: the policy
// entry's own, the caller-supplied one, and params "tags". Each must pass
// the mode guard.
func categories(entry domain.PolicyEntry, req domain.ActionRequest) []string {
	var out []string
	add := func(c string) {
		c = strings.ToLower(strings.TrimSpace(c))
		if c == "" {
			return
		}
		for _, existing := range out {
			if existing == c {
				return
			}
		}
		out = append(out, c)
	}

	add(entry.Category)
	add(req.Category)
	switch tags := req.Params["tags"].(type) {
	case string:
		for _, t := range strings.Split(tags, ",") {
			add(t)
		}
	case []string:
		for _, t := range tags {
			add(t)
		}
	case []any:
		for _, t := range tags {
			if s, ok := t.(string); ok {
				add(s)
			}
		}
	}
	return out
}
