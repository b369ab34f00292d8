// Package resource implements the memory pool and IO governor of a build.
//
//   - Memory: a fail-fast byte budget shared by every consumer of one build
//   - IO: a token bucket throttling spill reads and writes
//
// # Memory Management
//
// Memory tracking uses a weighted semaphore for hard limits and atomic counters
// for usage tracking. AcquireMemory is non-blocking and returns immediately
// with ErrMemoryLimitExceeded if the limit would be exceeded:
//
//	rc := resource.NewController(resource.Config{
//	    MemoryLimitBytes: 1 << 30, // 1GB limit
//	})
//
//	res := rc.NewReservation("sort")
//	if err := res.Grow(batch.SizeBytes()); err != nil {
//	    // ErrMemoryLimitExceeded
//	}
//	defer res.Free()
//
// The budget is usually taken from the IVF_MEMORY_LIMIT environment variable
// through MemoryLimitFromEnv.
//
// # IO Rate Limiting
//
//	writer := resource.NewRateLimitedWriter(ctx, file, rc)
//	reader := resource.NewRateLimitedReader(ctx, file, rc)
//
// # Nil Safety
//
// All methods handle nil Controller gracefully - they become no-ops.
package resource
