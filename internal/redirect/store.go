package redirect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog/log"
)

const maxWriteAttempts = 5

// errUnchanged aborts a mutation without writing.
var errUnchanged = errors.New("unchanged")

type collection struct {
	NextID int64  `json:"next_id"`
	Rules  []Rule `json:"rules"`
}

func (c *collection) index(id int64) int {
	for i := range c.Rules {
		if c.Rules[i].ID == id {
			return i
		}
	}
	return -1
}

// Store owns the ordered list of redirect rules persisted in a single slot.
// Writes are read-modify-write with an optimistic version check; a conflicting
// write is retried against the fresh collection.
type Store struct {
	slot       Slot
	normalizer Normalizer
	patterns   *patternCache
	now        func() time.Time
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func NewStore(slot Slot, normalizer Normalizer, opts ...Option) *Store {
	s := &Store{
		slot:       slot,
		normalizer: normalizer,
		patterns:   newPatternCache(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Normalizer() Normalizer {
	return s.normalizer
}

func (s *Store) load(ctx context.Context) (collection, int64, error) {
	var c collection
	value, version, err := s.slot.Load(ctx)
	if err != nil {
		return c, 0, fmt.Errorf("failed to load redirects: %w", err)
	}
	if len(value) == 0 {
		return c, version, nil
	}
	if err := json.Unmarshal(value, &c); err != nil {
		return c, 0, fmt.Errorf("failed to decode redirects: %w", err)
	}
	return c, version, nil
}

func (s *Store) mutate(ctx context.Context, fn func(c *collection) error) error {
	for attempt := 1; attempt <= maxWriteAttempts; attempt++ {
		c, version, err := s.load(ctx)
		if err != nil {
			return err
		}

		if err := fn(&c); err != nil {
			if errors.Is(err, errUnchanged) {
				return nil
			}
			return err
		}

		value, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("failed to encode redirects: %w", err)
		}

		err = s.slot.Save(ctx, value, version)
		if errors.Is(err, ErrVersionConflict) {
			log.Debug().Int("attempt", attempt).Msg("redirects changed during write, retrying")
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to save redirects: %w", err)
		}
		s.patterns.retain(c.Rules)
		return nil
	}
	return fmt.Errorf("failed to save redirects after %d attempts: %w", maxWriteAttempts, ErrVersionConflict)
}

func (s *Store) prepare(in RuleInput) (RuleInput, error) {
	if in.Source == "" {
		return in, ErrEmptySource
	}
	if hasControl(in.Source) || hasControl(in.Destination) {
		return in, ErrControlCharacter
	}

	in.Type = in.Type.orDefault()
	if in.Type.NeedsDestination() && in.Destination == "" {
		return in, ErrMissingDestination
	}

	if in.Regex {
		if _, err := compilePattern(in.Source); err != nil {
			return in, fmt.Errorf("%w: %v", ErrInvalidPattern, err)
		}
		return in, nil
	}

	in.Source = s.normalizer.Normalize(in.Source)
	return in, nil
}

func hasControl(s string) bool {
	return strings.ContainsFunc(s, unicode.IsControl)
}

// All returns the rules in storage order.
func (s *Store) All(ctx context.Context) ([]Rule, error) {
	c, _, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	if c.Rules == nil {
		return []Rule{}, nil
	}
	return c.Rules, nil
}

func (s *Store) Get(ctx context.Context, id int64) (Rule, error) {
	c, _, err := s.load(ctx)
	if err != nil {
		return Rule{}, err
	}
	i := c.index(id)
	if i < 0 {
		return Rule{}, ErrRuleNotFound
	}
	return c.Rules[i], nil
}

// At returns the rule at position pos in storage order.
func (s *Store) At(ctx context.Context, pos int) (Rule, error) {
	c, _, err := s.load(ctx)
	if err != nil {
		return Rule{}, err
	}
	if pos < 0 || pos >= len(c.Rules) {
		return Rule{}, ErrRuleNotFound
	}
	return c.Rules[pos], nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	c, _, err := s.load(ctx)
	if err != nil {
		return 0, err
	}
	return len(c.Rules), nil
}

// Add validates in and appends it to the end of the list.
func (s *Store) Add(ctx context.Context, in RuleInput) (Rule, error) {
	in, err := s.prepare(in)
	if err != nil {
		return Rule{}, err
	}

	var rule Rule
	err = s.mutate(ctx, func(c *collection) error {
		rule = Rule{
			ID:          c.NextID,
			Source:      in.Source,
			Destination: in.Destination,
			Type:        in.Type,
			Regex:       in.Regex,
			Created:     s.timestamp(),
		}
		c.NextID++
		c.Rules = append(c.Rules, rule)
		return nil
	})
	if err != nil {
		return Rule{}, err
	}

	log.Info().Int64("id", rule.ID).Str("source", rule.Source).Int("type", int(rule.Type)).Msg("redirect added")
	return rule, nil
}

// Update overwrites the editable fields of a rule, keeping its statistics.
func (s *Store) Update(ctx context.Context, id int64, in RuleInput) (Rule, error) {
	in, err := s.prepare(in)
	if err != nil {
		return Rule{}, err
	}

	var rule Rule
	err = s.mutate(ctx, func(c *collection) error {
		i := c.index(id)
		if i < 0 {
			return ErrRuleNotFound
		}
		c.Rules[i].Source = in.Source
		c.Rules[i].Destination = in.Destination
		c.Rules[i].Type = in.Type
		c.Rules[i].Regex = in.Regex
		rule = c.Rules[i]
		return nil
	})
	if err != nil {
		return Rule{}, err
	}

	log.Info().Int64("id", id).Str("source", rule.Source).Msg("redirect updated")
	return rule, nil
}

// Delete removes a rule. Rules after it move up one position.
func (s *Store) Delete(ctx context.Context, id int64) error {
	err := s.mutate(ctx, func(c *collection) error {
		i := c.index(id)
		if i < 0 {
			return ErrRuleNotFound
		}
		c.Rules = append(c.Rules[:i], c.Rules[i+1:]...)
		return nil
	})
	if err != nil {
		return err
	}

	log.Info().Int64("id", id).Msg("redirect deleted")
	return nil
}

// DeleteAll removes every rule. Ids are not reused afterwards.
func (s *Store) DeleteAll(ctx context.Context) error {
	err := s.mutate(ctx, func(c *collection) error {
		c.Rules = []Rule{}
		return nil
	})
	if err != nil {
		return err
	}

	log.Info().Msg("all redirects deleted")
	return nil
}

// RecordHit counts a dispatch of rule id. It never fails the caller:
// unknown ids are ignored and storage errors are only logged.
func (s *Store) RecordHit(ctx context.Context, id int64) {
	err := s.mutate(ctx, func(c *collection) error {
		i := c.index(id)
		if i < 0 {
			return errUnchanged
		}
		c.Rules[i].Hits++
		c.Rules[i].LastAccessed = s.timestamp()
		return nil
	})
	if err != nil {
		log.Error().Err(err).Int64("id", id).Msg("failed to record redirect hit")
	}
}

// FindMatch returns the first rule in storage order matching path.
func (s *Store) FindMatch(ctx context.Context, path string) (Rule, bool, error) {
	rules, err := s.All(ctx)
	if err != nil {
		return Rule{}, false, err
	}

	path = s.normalizer.Normalize(path)
	for _, rule := range rules {
		if s.matches(rule, path) {
			return rule, true, nil
		}
	}
	return Rule{}, false, nil
}

func (s *Store) matches(rule Rule, path string) bool {
	if !rule.Regex {
		return rule.Source == path
	}
	re := s.patterns.get(rule.Source)
	return re != nil && re.MatchString(path)
}

// Destination computes where a matched rule sends path: capture groups are
// substituted for regex rules and relative targets resolved against the site.
func (s *Store) Destination(rule Rule, path string) string {
	destination := rule.Destination
	if rule.Regex {
		if re := s.patterns.get(rule.Source); re != nil {
			destination = expandDestination(re, s.normalizer.Normalize(path), destination)
		}
	}
	return s.normalizer.Absolute(destination)
}

// timestamp has second precision, matching what survives serialization.
func (s *Store) timestamp() Date {
	return Date(s.now().UTC().Truncate(time.Second))
}
