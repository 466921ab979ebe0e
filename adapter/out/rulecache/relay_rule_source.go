// Package rulecache serves detection rules through a Redis cache-aside
// layer so every polled email does not hit PostgreSQL.
package rulecache

import (
	"context"
	"fmt"
	"time"

	"relay_server/core/domain"
	"relay_server/core/port/out"
	"relay_server/pkg/cache"
	"relay_server/pkg/logger"
)

const (
	keyActiveRules   = "rules:active"
	keyPreferences   = "rules:preferences"
	keyCategoryRules = "rules:categories"

	defaultTTL = 5 * time.Minute
)

// CachedRuleSource implements detect.RuleSource over the rule and
// preference repositories. Cache failures degrade to direct database
// reads.
type CachedRuleSource struct {
	rules      out.ManualRuleRepository
	prefs      out.PreferenceRepository
	categories out.CategoryRuleRepository
	cache      *cache.RedisCache
	ttl        time.Duration
	log        *logger.Logger
}

func NewCachedRuleSource(
	rules out.ManualRuleRepository,
	prefs out.PreferenceRepository,
	categories out.CategoryRuleRepository,
	redisCache *cache.RedisCache,
) *CachedRuleSource {
	return &CachedRuleSource{
		rules:      rules,
		prefs:      prefs,
		categories: categories,
		cache:      redisCache,
		ttl:        defaultTTL,
		log:        logger.WithField("component", "rulecache"),
	}
}

// ActiveRules returns non-shadow rules ordered by priority descending.
func (s *CachedRuleSource) ActiveRules(ctx context.Context) ([]*domain.ManualRule, error) {
	var cached []*domain.ManualRule
	if s.hit(ctx, keyActiveRules, &cached) {
		return cached, nil
	}

	rules, err := s.rules.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load active rules: %w", err)
	}
	s.store(ctx, keyActiveRules, rules)
	return rules, nil
}

// Preferences returns preference entries of the requested types. The
// full preference set is cached once; filtering happens in memory.
func (s *CachedRuleSource) Preferences(ctx context.Context, types ...domain.PreferenceType) ([]*domain.Preference, error) {
	var all []*domain.Preference
	if !s.hit(ctx, keyPreferences, &all) {
		var err error
		all, err = s.prefs.ListByTypes(ctx,
			domain.PrefBlockedSender, domain.PrefBlockedCategory, domain.PrefAlwaysForward)
		if err != nil {
			return nil, fmt.Errorf("failed to load preferences: %w", err)
		}
		s.store(ctx, keyPreferences, all)
	}

	if len(types) == 0 {
		return all, nil
	}
	wanted := make(map[domain.PreferenceType]bool, len(types))
	for _, t := range types {
		wanted[t] = true
	}
	filtered := make([]*domain.Preference, 0, len(all))
	for _, p := range all {
		if wanted[p.Type] {
			filtered = append(filtered, p)
		}
	}
	return filtered, nil
}

// CategoryRules returns category rules ordered by priority descending.
func (s *CachedRuleSource) CategoryRules(ctx context.Context) ([]*domain.CategoryRule, error) {
	var cached []*domain.CategoryRule
	if s.hit(ctx, keyCategoryRules, &cached) {
		return cached, nil
	}

	rules, err := s.categories.ListByPriority(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load category rules: %w", err)
	}
	s.store(ctx, keyCategoryRules, rules)
	return rules, nil
}

// Invalidate drops all cached rule sets. Called after any rule or
// preference mutation.
func (s *CachedRuleSource) Invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, keyActiveRules, keyPreferences, keyCategoryRules); err != nil {
		s.log.WithError(err).Warn("Failed to invalidate rule cache")
	}
}

func (s *CachedRuleSource) hit(ctx context.Context, key string, dest interface{}) bool {
	if s.cache == nil {
		return false
	}
	found, err := s.cache.GetJSON(ctx, key, dest)
	if err != nil {
		s.log.WithError(err).WithField("key", key).Debug("Cache read failed")
		return false
	}
	return found
}

func (s *CachedRuleSource) store(ctx context.Context, key string, value interface{}) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetJSON(ctx, key, value, s.ttl); err != nil {
		s.log.WithError(err).WithField("key", key).Debug("Cache write failed")
	}
}
