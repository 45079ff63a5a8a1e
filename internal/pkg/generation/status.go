package generation

import (
	"fmt"
	"time"

	"github.com/RetroPix/RetroPix/internal/pkg/cache"
)

// Cache key format for generation status lookups
const (
	GenerationStatusKeyFormat          = "generation:status:%s"           // Format: generation:status:<uuid>
	GenerationStatusTimestampKeyFormat = "generation:status:timestamp:%s" // Format: generation:status:timestamp:<uuid>
)

// Cache accessors are variables so tests can run without a Redis instance.
var (
	CacheGetImplementation = cache.Get
	CacheSetImplementation = cache.Set
)

// SetGenerationStatus mirrors the current job status into the cache so the
// polling endpoint can answer without a database read. Best-effort; the
// generations row is authoritative.
func SetGenerationStatus(generationUUID string, status string) {
	key := fmt.Sprintf(GenerationStatusKeyFormat, generationUUID)
	_ = setGenerationStatusTimestamp(generationUUID, time.Now())
	_ = CacheSetImplementation(key, status, 24*time.Hour)
}

func setGenerationStatusTimestamp(generationUUID string, timestamp time.Time) error {
	cacheKey := fmt.Sprintf(GenerationStatusTimestampKeyFormat, generationUUID)
	return CacheSetImplementation(cacheKey, timestamp.Format(time.RFC3339), 24*time.Hour)
}

// GetGenerationStatus retrieves the cached job status
func GetGenerationStatus(generationUUID string) (string, error) {
	key := fmt.Sprintf(GenerationStatusKeyFormat, generationUUID)
	return CacheGetImplementation(key)
}

// GetGenerationStatusTimestamp gets the timestamp when the status was set
func GetGenerationStatusTimestamp(generationUUID string) (time.Time, error) {
	cacheKey := fmt.Sprintf(GenerationStatusTimestampKeyFormat, generationUUID)
	timestampStr, err := CacheGetImplementation(cacheKey)
	if err != nil {
		return time.Time{}, err
	}

	timestamp, err := time.Parse(time.RFC3339, timestampStr)
	if err != nil {
		return time.Time{}, err
	}

	return timestamp, nil
}
