package redirect

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"
)

// Decision is the response for a request that matched a rule.
type Decision struct {
	Rule     Rule
	Path     string
	Status   int
	Location string
}

// Terminal reports whether the decision ends the request without redirecting.
func (d Decision) Terminal() bool {
	return d.Rule.Type.Terminal()
}

// Dispatcher matches inbound requests against the store.
type Dispatcher struct {
	store       *Store
	settings    *SettingsStore
	adminPrefix string
}

func NewDispatcher(store *Store, settings *SettingsStore, adminPrefix string) *Dispatcher {
	return &Dispatcher{
		store:       store,
		settings:    settings,
		adminPrefix: adminPrefix,
	}
}

func (d *Dispatcher) IsAdmin(path string) bool {
	return d.adminPrefix != "" && (path == d.adminPrefix || strings.HasPrefix(path, d.adminPrefix+"/"))
}

// Resolve finds the rule for requestURI and records the hit. The second
// return value is false when the request should be handled normally.
func (d *Dispatcher) Resolve(ctx context.Context, requestURI string) (Decision, bool) {
	path := RequestPath(requestURI)
	if path == "" || d.IsAdmin(path) {
		return Decision{}, false
	}

	if !d.settings.Current(ctx).RedirectsEnabled {
		return Decision{}, false
	}

	rule, found, err := d.store.FindMatch(ctx, path)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("failed to match redirect")
		return Decision{}, false
	}
	if !found {
		return Decision{}, false
	}

	d.store.RecordHit(ctx, rule.ID)

	decision := Decision{Rule: rule, Path: path}
	switch rule.Type {
	case Gone, LegalRemoval:
		decision.Status = int(rule.Type)
	case Permanent, Temporary, TemporaryStrict:
		decision.Status = int(rule.Type)
		decision.Location = d.store.Destination(rule, path)
	default:
		decision.Status = int(Permanent)
		decision.Location = d.store.Destination(rule, path)
	}

	log.Debug().
		Int64("id", rule.ID).
		Str("path", path).
		Int("status", decision.Status).
		Str("location", decision.Location).
		Msg("redirect matched")

	return decision, true
}
