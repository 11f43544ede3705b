package lifecycle

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"lightwork/internal/storage"
)

// deleteObjects removes keys in batches of batchSize, running each batch
// concurrently. Failures are logged and counted, never returned.
func deleteObjects(ctx context.Context, store storage.ObjectStore, keys []string, batchSize int, logger zerolog.Logger) (deleted, failed int) {
	if batchSize <= 0 {
		batchSize = 1
	}
	for start := 0; start < len(keys); start += batchSize {
		end := start + batchSize
		if end > len(keys) {
			end = len(keys)
		}
		batch := keys[start:end]

		var (
			wg sync.WaitGroup
			mu sync.Mutex
		)
		for _, key := range batch {
			wg.Add(1)
			go func(key string) {
				defer wg.Done()
				err := store.Delete(ctx, key)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					failed++
					logger.Warn().Err(err).Str("key", key).Msg("lifecycle: delete object failed")
					return
				}
				deleted++
			}(key)
		}
		wg.Wait()
	}
	return deleted, failed
}
