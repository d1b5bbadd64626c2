package cache

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/itinera-ai/itinera/internal/observability"
)

// tagKeyPrefix is the store key prefix for tag version counters.
const tagKeyPrefix = "tagver:"

// TagRegistry maintains a monotonically increasing version per cache tag.
// Bumping a tag changes every key derived through VersionedKey, which
// invalidates whole cache families without enumerating or deleting keys.
//
// The store holds the number of bumps; the exposed version is bumps + 1,
// so an unset tag reads as version 1 and the first bump moves it to 2.
// Versions never decrease.
type TagRegistry struct {
	store   Store
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewTagRegistry creates a registry over the given store. The store may be
// nil, in which case every tag permanently reads as version 1.
func NewTagRegistry(store Store, logger *observability.Logger, metrics *observability.Metrics) *TagRegistry {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &TagRegistry{store: store, logger: logger, metrics: metrics}
}

// Version reads the current version of a tag. Unset tags and store
// outages both read as 1: correctness is unaffected (keys simply never
// rotate) but invalidation is degraded, so the outage is warned once per
// tag.
func (r *TagRegistry) Version(ctx context.Context, tag string) int64 {
	if r.store == nil {
		return 1
	}
	val, ok, err := r.store.Get(ctx, tagKeyPrefix+tag)
	if err != nil {
		r.logger.WarnOnce(ctx, "tagver:"+tag, "tag version store unavailable, using version 1",
			"tag", tag, "error", err.Error())
		return 1
	}
	if !ok {
		return 1
	}
	bumps, err := strconv.ParseInt(val, 10, 64)
	if err != nil || bumps < 0 {
		return 1
	}
	return bumps + 1
}

// Bump atomically increments a tag's version and returns the new version.
// Concurrent bumps from different processes never lose an increment; the
// returned versions may be observed out of order but each is unique.
func (r *TagRegistry) Bump(ctx context.Context, tag string) (int64, error) {
	if r.store == nil {
		return 0, ErrUnavailable
	}
	bumps, err := r.store.Incr(ctx, tagKeyPrefix+tag, 0)
	if err != nil {
		return 0, fmt.Errorf("bump tag %q: %w", tag, err)
	}
	if r.metrics != nil {
		r.metrics.TagBumps.WithLabelValues(tag).Inc()
	}
	return bumps + 1, nil
}

// BumpTags bumps several tags concurrently and returns the new version per
// tag. Used when one write invalidates multiple cache families (creating a
// trip invalidates both "trips" and "itineraries"). Tags whose bump failed
// are absent from the result; the first error encountered is returned
// alongside the partial result.
func (r *TagRegistry) BumpTags(ctx context.Context, tags []string) (map[string]int64, error) {
	results := make(map[string]int64, len(tags))
	errs := make([]error, len(tags))

	var mu sync.Mutex
	var wg sync.WaitGroup
	for i, tag := range tags {
		wg.Add(1)
		go func(i int, tag string) {
			defer wg.Done()
			version, err := r.Bump(ctx, tag)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs[i] = err
				return
			}
			results[tag] = version
		}(i, tag)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

// VersionedKey derives a cache key that rotates whenever the tag is
// bumped: "{tag}:v{version}:{baseKey}". Two calls separated by a Bump of
// the same tag always produce different strings.
func (r *TagRegistry) VersionedKey(ctx context.Context, tag, baseKey string) string {
	return fmt.Sprintf("%s:v%d:%s", tag, r.Version(ctx, tag), baseKey)
}
