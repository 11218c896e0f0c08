package catalog

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/olegkotsar/dupesweep/logger"
	"github.com/olegkotsar/dupesweep/model"
	"github.com/olegkotsar/dupesweep/remote"
)

// ScanStats contains statistics from one catalog scan
type ScanStats struct {
	Listed        int64 // Entries returned by the provider
	Directories   int64 // Directory entries
	Files         int64 // File entries
	Filtered      int64 // Files rejected by the filter
	Fingerprinted int64 // Files fingerprinted from content
	Emitted       int64 // Entries sent to the inventory
	Pages         int64 // Listing calls that succeeded
	Retries       int64 // Listing or fingerprint calls repeated after a retryable error
}

func (s *ScanStats) String() string {
	return fmt.Sprintf("Scan: listed=%d, dirs=%d, files=%d, filtered=%d, fingerprinted=%d, emitted=%d, pages=%d, retries=%d",
		s.Listed, s.Directories, s.Files, s.Filtered, s.Fingerprinted, s.Emitted, s.Pages, s.Retries)
}

// Builder walks a remote tree and streams the inventory of matching files.
type Builder struct {
	provider    remote.StorageProvider
	filter      *Filter
	logger      logger.Logger
	maxRetries  int
	backoffBase time.Duration
	bufferSize  int
	sleep       func(ctx context.Context, d time.Duration) error
	start       *Cursor
	progress    func(Cursor)

	stats ScanStats
}

// Cursor is the position of a walk between two pages: Queue[0] is listed
// next, from PageToken. An empty Queue means the walk is complete.
type Cursor struct {
	Queue     []string
	PageToken string
	Emitted   int64 // entries sent on the stream before this position
}

// Option customizes a Builder
type Option func(*Builder)

// WithMaxRetries bounds how often a retryable listing call is repeated.
func WithMaxRetries(n int) Option {
	return func(b *Builder) { b.maxRetries = n }
}

// WithBackoff sets the base of the exponential backoff between retries.
func WithBackoff(base time.Duration) Option {
	return func(b *Builder) { b.backoffBase = base }
}

// WithCursor starts the walk at c instead of at the root.
func WithCursor(c Cursor) Option {
	return func(b *Builder) { b.start = &c }
}

// WithProgress calls fn from the producer goroutine after every listed page.
// Entries counted in Cursor.Emitted may still be buffered in the stream.
func WithProgress(fn func(Cursor)) Option {
	return func(b *Builder) { b.progress = fn }
}

// WithSleep replaces the wait between retries; tests use it to skip real delays.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(b *Builder) { b.sleep = sleep }
}

// NewBuilder creates a catalog builder over provider. A nil filter accepts every file.
func NewBuilder(provider remote.StorageProvider, filter *Filter, log logger.Logger, opts ...Option) *Builder {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	if filter == nil {
		filter = &Filter{}
	}
	b := &Builder{
		provider:    provider,
		filter:      filter,
		logger:      log.With("component", "catalog"),
		maxRetries:  3,
		backoffBase: 200 * time.Millisecond,
		bufferSize:  1000,
		sleep:       sleepCtx,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a snapshot of the scan counters.
func (b *Builder) Stats() ScanStats {
	return ScanStats{
		Listed:        atomic.LoadInt64(&b.stats.Listed),
		Directories:   atomic.LoadInt64(&b.stats.Directories),
		Files:         atomic.LoadInt64(&b.stats.Files),
		Filtered:      atomic.LoadInt64(&b.stats.Filtered),
		Fingerprinted: atomic.LoadInt64(&b.stats.Fingerprinted),
		Emitted:       atomic.LoadInt64(&b.stats.Emitted),
		Pages:         atomic.LoadInt64(&b.stats.Pages),
		Retries:       atomic.LoadInt64(&b.stats.Retries),
	}
}

// Stream lists root page by page and emits every file that passes the filter.
// A scan failure is sent on the error channel before the entry channel closes,
// so a consumer that drains entries and then reads the error channel never
// mistakes a partial inventory for a complete one.
func (b *Builder) Stream(ctx context.Context, root string) (<-chan model.InventoryEntry, <-chan error) {
	filesCh := make(chan model.InventoryEntry, b.bufferSize)
	errCh := make(chan error, 1)

	go func() {
		if err := b.walk(ctx, root, filesCh); err != nil {
			errCh <- err
		}
		close(filesCh)
		close(errCh)
	}()

	return filesCh, errCh
}

// Collect runs Stream to completion and returns the whole inventory.
func (b *Builder) Collect(ctx context.Context, root string) ([]model.InventoryEntry, error) {
	filesCh, errCh := b.Stream(ctx, root)

	var entries []model.InventoryEntry
	for e := range filesCh {
		entries = append(entries, e)
	}
	if err := <-errCh; err != nil {
		return nil, err
	}
	return entries, nil
}

func (b *Builder) walk(ctx context.Context, root string, out chan<- model.InventoryEntry) error {
	recursive := b.provider.ListsRecursively()
	fingerprinter, _ := b.provider.(remote.Fingerprinter)

	queue := []string{root}
	token := ""
	if b.start != nil {
		queue = append([]string(nil), b.start.Queue...)
		token = b.start.PageToken
	}

	for len(queue) > 0 {
		dir := queue[0]
		queue = queue[1:]

		for {
			if err := ctx.Err(); err != nil {
				return err
			}

			var page *remote.ListPage
			err := b.withRetry(ctx, "list "+dir, func(ctx context.Context) error {
				var err error
				page, err = b.provider.ListPage(ctx, dir, token)
				return err
			})
			if err != nil {
				return fmt.Errorf("listing %s: %w", dir, err)
			}
			atomic.AddInt64(&b.stats.Pages, 1)

			for _, e := range page.Entries {
				atomic.AddInt64(&b.stats.Listed, 1)

				if e.Type == model.EntryDir {
					atomic.AddInt64(&b.stats.Directories, 1)
					if !recursive {
						queue = append(queue, e.Path)
					}
					continue
				}

				atomic.AddInt64(&b.stats.Files, 1)
				if !b.filter.Match(e) {
					atomic.AddInt64(&b.stats.Filtered, 1)
					continue
				}

				if e.Fingerprint == "" && fingerprinter != nil {
					err := b.withRetry(ctx, "fingerprint "+e.Path, func(ctx context.Context) error {
						fp, err := fingerprinter.Fingerprint(ctx, e.Path)
						if err == nil {
							e.Fingerprint = fp
						}
						return err
					})
					if err != nil {
						return fmt.Errorf("fingerprinting %s: %w", e.Path, err)
					}
					atomic.AddInt64(&b.stats.Fingerprinted, 1)
				}

				select {
				case out <- e.Inventory():
					atomic.AddInt64(&b.stats.Emitted, 1)
				case <-ctx.Done():
					return ctx.Err()
				}
			}

			b.logger.Debug("Listed page of %s: %d entries", dir, len(page.Entries))

			token = page.NextPageToken
			if b.progress != nil {
				c := Cursor{PageToken: token, Emitted: atomic.LoadInt64(&b.stats.Emitted)}
				if token != "" {
					c.Queue = append([]string{dir}, queue...)
				} else {
					c.Queue = append([]string(nil), queue...)
				}
				b.progress(c)
			}
			if token == "" {
				break
			}
		}
	}

	return nil
}

// withRetry repeats fn while it fails with a transient or rate-limit error.
// The wait doubles each attempt and honours a server-requested Retry-After.
func (b *Builder) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	var lastErr error
	for i := 0; i <= b.maxRetries; i++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !remote.Retryable(err) {
			return err
		}
		lastErr = err
		if i == b.maxRetries {
			break
		}

		backoff := time.Duration(math.Pow(2, float64(i))) * b.backoffBase
		if ra := remote.RetryAfter(err); ra > backoff {
			backoff = ra
		}
		atomic.AddInt64(&b.stats.Retries, 1)
		b.logger.Warn("%s failed (attempt %d/%d), retrying in %s: %v", op, i+1, b.maxRetries+1, backoff, err)

		if err := b.sleep(ctx, backoff); err != nil {
			return err
		}
	}
	return fmt.Errorf("all retries failed: %w", lastErr)
}
