package redirect

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSite = "https://example.com"

type tickingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *tickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	clock := &tickingClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	return NewStore(NewMemorySlot(), NewNormalizer(testSite), WithClock(clock.Now))
}

func mustAdd(t *testing.T, s *Store, in RuleInput) Rule {
	t.Helper()
	rule, err := s.Add(context.Background(), in)
	require.NoError(t, err)
	return rule
}

func TestStore_AllEmpty(t *testing.T) {
	s := newTestStore(t)

	rules, err := s.All(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rules)

	count, err := s.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestStore_Add(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first := mustAdd(t, s, RuleInput{Source: "https://example.com/old/", Destination: "/new", Type: Temporary})
	assert.Equal(t, int64(0), first.ID)
	assert.Equal(t, "/old", first.Source)
	assert.Equal(t, Temporary, first.Type)
	assert.Zero(t, first.Hits)
	assert.True(t, first.LastAccessed.IsZero())
	assert.False(t, first.Created.IsZero())

	second := mustAdd(t, s, RuleInput{Source: "/other", Destination: "/x", Type: Permanent})
	assert.Equal(t, int64(1), second.ID)

	got, err := s.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, first, got)

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestStore_AddValidation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Add(ctx, RuleInput{Source: "", Destination: "/x", Type: Permanent})
	assert.ErrorIs(t, err, ErrEmptySource)

	_, err = s.Add(ctx, RuleInput{Source: "/gone2", Destination: "", Type: Permanent})
	assert.ErrorIs(t, err, ErrMissingDestination)

	_, err = s.Add(ctx, RuleInput{Source: "/bad/(", Destination: "/x", Type: Permanent, Regex: true})
	assert.ErrorIs(t, err, ErrInvalidPattern)

	gone := mustAdd(t, s, RuleInput{Source: "/gone", Destination: "", Type: Gone})
	assert.Equal(t, Gone, gone.Type)

	legal := mustAdd(t, s, RuleInput{Source: "/legal", Type: LegalRemoval})
	assert.Equal(t, LegalRemoval, legal.Type)

	_, err = s.Add(ctx, RuleInput{Source: "/a", Destination: "/b\nc", Type: Permanent})
	assert.ErrorIs(t, err, ErrControlCharacter)

	_, err = s.Add(ctx, RuleInput{Source: "/a\r", Destination: "/b", Type: Permanent})
	assert.ErrorIs(t, err, ErrControlCharacter)

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestStore_AddCoercesUnknownType(t *testing.T) {
	s := newTestStore(t)

	rule := mustAdd(t, s, RuleInput{Source: "/a", Destination: "/b", Type: Type(999)})
	assert.Equal(t, Permanent, rule.Type)

	_, err := s.Add(context.Background(), RuleInput{Source: "/c", Destination: "", Type: Type(0)})
	assert.ErrorIs(t, err, ErrMissingDestination)
}

func TestStore_RegexSourceIsNotNormalized(t *testing.T) {
	s := newTestStore(t)

	rule := mustAdd(t, s, RuleInput{Source: "^/category/(.*)$", Destination: "/new/$1", Regex: true})
	assert.Equal(t, "^/category/(.*)$", rule.Source)
}

func TestStore_Update(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	rule := mustAdd(t, s, RuleInput{Source: "/a", Destination: "/b"})
	s.RecordHit(ctx, rule.ID)

	updated, err := s.Update(ctx, rule.ID, RuleInput{Source: "/c/", Destination: "/d", Type: TemporaryStrict, Regex: false})
	require.NoError(t, err)
	assert.Equal(t, "/c", updated.Source)
	assert.Equal(t, "/d", updated.Destination)
	assert.Equal(t, TemporaryStrict, updated.Type)
	assert.Equal(t, int64(1), updated.Hits)
	assert.Equal(t, rule.Created, updated.Created)
	assert.False(t, updated.LastAccessed.IsZero())

	_, err = s.Update(ctx, 42, RuleInput{Source: "/x", Destination: "/y"})
	assert.ErrorIs(t, err, ErrRuleNotFound)

	_, err = s.Update(ctx, rule.ID, RuleInput{Source: "", Destination: "/y"})
	assert.ErrorIs(t, err, ErrEmptySource)
}

func TestStore_DeleteShiftsPositions(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	r0 := mustAdd(t, s, RuleInput{Source: "/zero", Destination: "/0"})
	r1 := mustAdd(t, s, RuleInput{Source: "/one", Destination: "/1"})
	r2 := mustAdd(t, s, RuleInput{Source: "/two", Destination: "/2"})

	require.NoError(t, s.Delete(ctx, r0.ID))

	at0, err := s.At(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, r1, at0)

	at1, err := s.At(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, r2, at1)

	_, err = s.At(ctx, 2)
	assert.ErrorIs(t, err, ErrRuleNotFound)

	// stable ids survive the shift
	got, err := s.Get(ctx, r2.ID)
	require.NoError(t, err)
	assert.Equal(t, "/two", got.Source)

	assert.ErrorIs(t, s.Delete(ctx, r0.ID), ErrRuleNotFound)

	r3 := mustAdd(t, s, RuleInput{Source: "/three", Destination: "/3"})
	assert.Equal(t, int64(3), r3.ID)
}

func TestStore_DeleteAll(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	mustAdd(t, s, RuleInput{Source: "/a", Destination: "/b"})
	mustAdd(t, s, RuleInput{Source: "/c", Destination: "/d"})

	require.NoError(t, s.DeleteAll(ctx))
	require.NoError(t, s.DeleteAll(ctx))

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestStore_RecordHit(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	rule := mustAdd(t, s, RuleInput{Source: "/a", Destination: "/b"})

	s.RecordHit(ctx, rule.ID)
	afterFirst, err := s.Get(ctx, rule.ID)
	require.NoError(t, err)

	s.RecordHit(ctx, rule.ID)
	s.RecordHit(ctx, rule.ID)
	afterThird, err := s.Get(ctx, rule.ID)
	require.NoError(t, err)

	assert.Equal(t, int64(3), afterThird.Hits)
	assert.False(t, afterThird.LastAccessed.Time().Before(afterFirst.LastAccessed.Time()))

	// unknown id is ignored
	s.RecordHit(ctx, 99)
	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestStore_FindMatchExactVsRegex(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	exact := mustAdd(t, s, RuleInput{Source: "/old-page", Destination: "/new-page"})
	regex := mustAdd(t, s, RuleInput{Source: "^/category/(.*)$", Destination: "/new/$1", Regex: true})

	rule, found, err := s.FindMatch(ctx, "/old-page")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, exact.ID, rule.ID)

	rule, found, err = s.FindMatch(ctx, "/old-page/")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, exact.ID, rule.ID)

	_, found, err = s.FindMatch(ctx, "/old-page/extra")
	require.NoError(t, err)
	assert.False(t, found)

	rule, found, err = s.FindMatch(ctx, "/CATEGORY/shoes")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, regex.ID, rule.ID)

	assert.Equal(t, testSite+"/new/shoes", s.Destination(rule, "/category/shoes"))
}

func TestStore_FindMatchRegexUnanchored(t *testing.T) {
	s := newTestStore(t)

	mustAdd(t, s, RuleInput{Source: "legacy", Destination: "/modern", Regex: true})

	_, found, err := s.FindMatch(context.Background(), "/docs/legacy/intro")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestStore_FindMatchFirstWins(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	catchAll := mustAdd(t, s, RuleInput{Source: "^/blog/.*", Destination: "/archive", Regex: true})
	mustAdd(t, s, RuleInput{Source: "/blog/post", Destination: "/post"})

	for i := 0; i < 5; i++ {
		rule, found, err := s.FindMatch(ctx, "/blog/post")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, catchAll.ID, rule.ID)
	}
}

func TestStore_FindMatchBrokenStoredPattern(t *testing.T) {
	ctx := context.Background()
	slot := NewMemorySlot()
	require.NoError(t, slot.Save(ctx, []byte(`{"next_id":2,"rules":[
		{"id":0,"source":"/broken/(","destination":"/x","type":301,"regex":true,"hits":0,"last_accessed":"","created":""},
		{"id":1,"source":"/broken","destination":"/y","type":302,"regex":false,"hits":0,"last_accessed":"","created":""}
	]}`), 0))
	s := NewStore(slot, NewNormalizer(testSite))

	rule, found, err := s.FindMatch(ctx, "/broken")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(1), rule.ID)

	_, found, err = s.FindMatch(ctx, "/broken/(")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStore_PersistedShapeRoundTrips(t *testing.T) {
	ctx := context.Background()
	slot := NewMemorySlot()
	s := NewStore(slot, NewNormalizer(testSite))

	added, err := s.Add(ctx, RuleInput{Source: "/a", Destination: "/b", Type: TemporaryStrict, Regex: false})
	require.NoError(t, err)
	s.RecordHit(ctx, added.ID)

	reopened := NewStore(slot, NewNormalizer(testSite))
	got, err := reopened.Get(ctx, added.ID)
	require.NoError(t, err)
	assert.Equal(t, TemporaryStrict, got.Type)
	assert.False(t, got.Regex)
	assert.Equal(t, int64(1), got.Hits)
	assert.Equal(t, added.Created.String(), got.Created.String())
}

type conflictingSlot struct {
	*MemorySlot
	conflicts int
}

func (c *conflictingSlot) Save(ctx context.Context, value []byte, version int64) error {
	if c.conflicts > 0 {
		c.conflicts--
		// another writer got in first
		current, v, _ := c.MemorySlot.Load(ctx)
		if err := c.MemorySlot.Save(ctx, current, v); err != nil {
			return err
		}
		return ErrVersionConflict
	}
	return c.MemorySlot.Save(ctx, value, version)
}

func TestStore_RetriesOnVersionConflict(t *testing.T) {
	ctx := context.Background()
	slot := &conflictingSlot{MemorySlot: NewMemorySlot(), conflicts: 2}
	s := NewStore(slot, NewNormalizer(testSite))

	_, err := s.Add(ctx, RuleInput{Source: "/a", Destination: "/b"})
	require.NoError(t, err)

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	slot.conflicts = maxWriteAttempts
	_, err = s.Add(ctx, RuleInput{Source: "/c", Destination: "/d"})
	assert.ErrorIs(t, err, ErrVersionConflict)
}

// Four writers conflict at most three times each, which stays inside the
// retry budget, so every hit lands.
func TestStore_ConcurrentHitsRetryOnConflict(t *testing.T) {
	ctx := context.Background()
	s := NewStore(NewMemorySlot(), NewNormalizer(testSite))
	rule, err := s.Add(ctx, RuleInput{Source: "/a", Destination: "/b"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.RecordHit(ctx, rule.ID)
		}()
	}
	wg.Wait()

	got, err := s.Get(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), got.Hits)
}

func TestStore_PatternCacheDropsRemovedSources(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first := mustAdd(t, s, RuleInput{Source: "^/a/(.*)$", Destination: "/x/$1", Regex: true})
	second := mustAdd(t, s, RuleInput{Source: "^/b/(.*)$", Destination: "/y/$1", Regex: true})

	_, _, err := s.FindMatch(ctx, "/nothing")
	require.NoError(t, err)
	assert.Equal(t, 2, s.patterns.size())

	_, err = s.Update(ctx, first.ID, RuleInput{Source: "^/c/(.*)$", Destination: "/z/$1", Regex: true})
	require.NoError(t, err)
	assert.Equal(t, 1, s.patterns.size())

	require.NoError(t, s.Delete(ctx, second.ID))
	assert.Zero(t, s.patterns.size())

	_, found, err := s.FindMatch(ctx, "/c/page")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 1, s.patterns.size())

	require.NoError(t, s.DeleteAll(ctx))
	assert.Zero(t, s.patterns.size())
}

func TestStore_Shadowed(t *testing.T) {
	s := newTestStore(t)

	catchAll := mustAdd(t, s, RuleInput{Source: "^/shop/", Destination: "/store", Regex: true})
	shadowed := mustAdd(t, s, RuleInput{Source: "/shop/sale", Destination: "/sale"})
	first := mustAdd(t, s, RuleInput{Source: "/about", Destination: "/team"})
	duplicate := mustAdd(t, s, RuleInput{Source: "/about/", Destination: "/people"})
	mustAdd(t, s, RuleInput{Source: "/contact", Destination: "/hello"})

	rules, err := s.All(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []Shadow{
		{RuleID: shadowed.ID, ShadowedBy: catchAll.ID},
		{RuleID: duplicate.ID, ShadowedBy: first.ID},
	}, s.Shadowed(rules))
}
