// Package testutils holds an in-memory storage provider for pipeline tests.
package testutils

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/olegkotsar/dupesweep/model"
	"github.com/olegkotsar/dupesweep/remote"
)

var _ remote.StorageProvider = (*FakeStorage)(nil)

// FakeStorage is a scriptable in-memory remote.StorageProvider.
type FakeStorage struct {
	mu sync.Mutex

	files map[string]model.RemoteEntry

	PageSize  int  // entries per listing page, 0 means everything at once
	Recursive bool // list the whole subtree instead of direct children
	Async     bool // DeleteBatch returns a job handle to poll
	MaxBatch  int  // 0 means 1000

	// Scripted faults, consumed in order.
	ListErrors   []error // a nil element lets that call through
	DeleteErrors []error // a nil element lets that call through
	CheckErrors  []error

	ThrottlePaths map[string]int    // path -> times it is reported for retry first
	FailPaths     map[string]string // path -> permanent per-path failure reason
	PendingPolls  int               // in-progress answers before a job completes
	ForgetJobs    bool              // CheckJob reports every job as unknown
	JobFailure    string            // a job fails as a whole with this reason
	JobRateLimit  bool              // the whole-job failure is throttling

	OnDeleteBatch func(call int, paths []string) // runs before each DeleteBatch

	// Recorded activity.
	Batches     [][]string
	ListCalls   int
	DeleteCalls int
	CheckCalls  int
	deletes     map[string]int

	jobs  map[string]*fakeJob
	jobID int
}

type fakeJob struct {
	outcomes []model.PathOutcome
	polls    int
}

// NewFakeStorage creates an empty fake store.
func NewFakeStorage() *FakeStorage {
	return &FakeStorage{
		files:   map[string]model.RemoteEntry{},
		deletes: map[string]int{},
		jobs:    map[string]*fakeJob{},
	}
}

// AddFile stores a file. The path must start with "/".
func (f *FakeStorage) AddFile(p string, size int64, fingerprint string, modified time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[p] = model.RemoteEntry{Path: p, Type: model.EntryFile, Size: size, Fingerprint: fingerprint, ModifiedAt: modified}
}

// Exists reports whether p is still stored.
func (f *FakeStorage) Exists(p string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.files[p]
	return ok
}

// Paths returns every stored path, sorted.
func (f *FakeStorage) Paths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	paths := make([]string, 0, len(f.files))
	for p := range f.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// DeleteCount returns how many times p was actually removed (0 or 1).
func (f *FakeStorage) DeleteCount(p string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deletes[p]
}

func (f *FakeStorage) Name() string { return "fake" }

func (f *FakeStorage) ListsRecursively() bool { return f.Recursive }

func (f *FakeStorage) MaxBatchSize() int {
	if f.MaxBatch > 0 {
		return f.MaxBatch
	}
	return 1000
}

func (f *FakeStorage) Close() error { return nil }

func (f *FakeStorage) ListPage(ctx context.Context, root, pageToken string) (*remote.ListPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.ListCalls++
	if len(f.ListErrors) > 0 {
		err := f.ListErrors[0]
		f.ListErrors = f.ListErrors[1:]
		if err != nil {
			return nil, err
		}
	}

	all := f.children(root)

	offset := 0
	if pageToken != "" {
		n, err := strconv.Atoi(pageToken)
		if err != nil {
			return nil, remote.NewError(remote.ErrPermanent, "list", fmt.Errorf("bad token %q", pageToken))
		}
		offset = n
	}
	end := len(all)
	if f.PageSize > 0 && offset+f.PageSize < end {
		end = offset + f.PageSize
	}

	page := &remote.ListPage{Entries: append([]model.RemoteEntry(nil), all[offset:end]...)}
	if end < len(all) {
		page.NextPageToken = strconv.Itoa(end)
	}
	return page, nil
}

// children lists the subtree of root (recursive) or its direct children.
func (f *FakeStorage) children(root string) []model.RemoteEntry {
	prefix := strings.TrimSuffix(root, "/") + "/"

	var out []model.RemoteEntry
	dirs := map[string]struct{}{}
	for p, e := range f.files {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		segs := strings.Split(strings.TrimPrefix(p, prefix), "/")
		switch {
		case f.Recursive:
			for i := 1; i < len(segs); i++ {
				dirs[prefix+strings.Join(segs[:i], "/")] = struct{}{}
			}
			out = append(out, e)
		case len(segs) == 1:
			out = append(out, e)
		default:
			dirs[prefix+segs[0]] = struct{}{}
		}
	}
	for d := range dirs {
		out = append(out, model.RemoteEntry{Path: d, Type: model.EntryDir})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func (f *FakeStorage) DeleteBatch(ctx context.Context, paths []string) (*remote.BatchSubmission, error) {
	f.mu.Lock()
	f.DeleteCalls++
	call := f.DeleteCalls
	hook := f.OnDeleteBatch
	f.mu.Unlock()

	if hook != nil {
		hook(call, paths)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.DeleteErrors) > 0 {
		err := f.DeleteErrors[0]
		f.DeleteErrors = f.DeleteErrors[1:]
		if err != nil {
			return nil, err
		}
	}
	if len(paths) > f.MaxBatchSize() {
		return nil, remote.NewError(remote.ErrPermanent, "delete_batch", fmt.Errorf("batch of %d too large", len(paths)))
	}

	f.Batches = append(f.Batches, append([]string(nil), paths...))

	if f.Async && f.JobFailure != "" {
		f.jobID++
		id := fmt.Sprintf("job-%d", f.jobID)
		f.jobs[id] = &fakeJob{}
		return &remote.BatchSubmission{JobID: id}, nil
	}

	outcomes := make([]model.PathOutcome, len(paths))
	for i, p := range paths {
		outcomes[i] = f.deleteOne(p)
	}

	if !f.Async {
		return &remote.BatchSubmission{Outcomes: outcomes}, nil
	}

	f.jobID++
	id := fmt.Sprintf("job-%d", f.jobID)
	// asynchronous results are positional, like delete_batch/check
	for i := range outcomes {
		outcomes[i].Path = ""
	}
	f.jobs[id] = &fakeJob{outcomes: outcomes}
	return &remote.BatchSubmission{JobID: id}, nil
}

func (f *FakeStorage) deleteOne(p string) model.PathOutcome {
	if n := f.ThrottlePaths[p]; n > 0 {
		f.ThrottlePaths[p] = n - 1
		return model.PathOutcome{Path: p, Status: model.OutcomeRetry, Reason: "too_many_write_operations"}
	}
	if reason, ok := f.FailPaths[p]; ok {
		return model.PathOutcome{Path: p, Status: model.OutcomeFailed, Reason: reason}
	}
	if _, ok := f.files[p]; !ok {
		return model.PathOutcome{Path: p, Status: model.OutcomeAbsent}
	}
	delete(f.files, p)
	f.deletes[p]++
	return model.PathOutcome{Path: p, Status: model.OutcomeDeleted}
}

func (f *FakeStorage) CheckJob(ctx context.Context, jobID string) (*remote.JobStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CheckCalls++

	if len(f.CheckErrors) > 0 {
		err := f.CheckErrors[0]
		f.CheckErrors = f.CheckErrors[1:]
		if err != nil {
			return nil, err
		}
	}

	job, ok := f.jobs[jobID]
	if !ok || f.ForgetJobs {
		return nil, remote.NewError(remote.ErrNotFound, "check", fmt.Errorf("unknown job %q", jobID))
	}
	if job.polls < f.PendingPolls {
		job.polls++
		return &remote.JobStatus{}, nil
	}
	if f.JobFailure != "" {
		return &remote.JobStatus{Done: true, FailureReason: f.JobFailure, RateLimited: f.JobRateLimit}, nil
	}
	return &remote.JobStatus{Done: true, Outcomes: append([]model.PathOutcome(nil), job.outcomes...)}, nil
}
