package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/olegkotsar/dupesweep/config"
	"github.com/olegkotsar/dupesweep/model"
)

var _ StorageProvider = (*DropboxStorage)(nil)

// dropboxMaxBatch is the delete_batch entry limit.
const dropboxMaxBatch = 1000

// DropboxStorage talks to the Dropbox HTTP API v2 with a pre-issued bearer token.
type DropboxStorage struct {
	*requestGate
	client *http.Client
	apiURL string
	token  string
}

func NewDropboxStorage(cfg *config.DropboxConfig, common *config.CommonStorageConfig) (*DropboxStorage, error) {
	cfg.ApplyDefaults()

	token, err := cfg.ResolveToken()
	if err != nil {
		return nil, err
	}

	return &DropboxStorage{
		requestGate: newRequestGate(common),
		client:      &http.Client{},
		apiURL:      strings.TrimSuffix(cfg.APIURL, "/"),
		token:       token,
	}, nil
}

func (d *DropboxStorage) Name() string { return "dropbox" }

func (d *DropboxStorage) ListsRecursively() bool { return true }

func (d *DropboxStorage) MaxBatchSize() int { return dropboxMaxBatch }

func (d *DropboxStorage) Close() error {
	d.client.CloseIdleConnections()
	return nil
}

type dbxTag struct {
	Tag string `json:".tag"`
}

type dbxMetadata struct {
	Tag            string `json:".tag"`
	PathDisplay    string `json:"path_display"`
	Size           int64  `json:"size"`
	ContentHash    string `json:"content_hash"`
	ClientModified string `json:"client_modified"`
	ServerModified string `json:"server_modified"`
}

type dbxListResult struct {
	Entries []dbxMetadata `json:"entries"`
	Cursor  string        `json:"cursor"`
	HasMore bool          `json:"has_more"`
}

type dbxDeleteFailure struct {
	Tag        string  `json:".tag"`
	PathLookup *dbxTag `json:"path_lookup,omitempty"`
	PathWrite  *dbxTag `json:"path_write,omitempty"`
}

type dbxDeleteEntry struct {
	Tag     string            `json:".tag"`
	Failure *dbxDeleteFailure `json:"failure,omitempty"`
}

// dbxBatchResult covers delete_batch and delete_batch/check responses.
type dbxBatchResult struct {
	Tag        string           `json:".tag"`
	AsyncJobID string           `json:"async_job_id,omitempty"`
	Entries    []dbxDeleteEntry `json:"entries,omitempty"`
	Failed     *dbxTag          `json:"failed,omitempty"`
}

type dbxAPIError struct {
	ErrorSummary string `json:"error_summary"`
	Error        struct {
		RetryAfter int `json:"retry_after"`
	} `json:"error"`
}

// dropboxPath maps a root to the API form, where the account root is "".
func dropboxPath(root string) string {
	p := strings.TrimSuffix(root, "/")
	if p == "" {
		return ""
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

func (d *DropboxStorage) ListPage(ctx context.Context, root, pageToken string) (*ListPage, error) {
	var res dbxListResult
	var err error
	if pageToken == "" {
		err = d.call(ctx, "files/list_folder", map[string]interface{}{
			"path":            dropboxPath(root),
			"recursive":       true,
			"include_deleted": false,
		}, &res)
	} else {
		err = d.call(ctx, "files/list_folder/continue", map[string]string{"cursor": pageToken}, &res)
	}
	if err != nil {
		return nil, err
	}

	page := &ListPage{}
	for _, m := range res.Entries {
		switch m.Tag {
		case "folder":
			page.Entries = append(page.Entries, model.RemoteEntry{Path: m.PathDisplay, Type: model.EntryDir})
		case "file":
			page.Entries = append(page.Entries, model.RemoteEntry{
				Path:        m.PathDisplay,
				Type:        model.EntryFile,
				Size:        m.Size,
				Fingerprint: m.ContentHash,
				ModifiedAt:  dropboxTime(m.ClientModified, m.ServerModified),
			})
		}
	}
	if res.HasMore {
		page.NextPageToken = res.Cursor
	}

	return page, nil
}

func dropboxTime(values ...string) time.Time {
	for _, v := range values {
		if v == "" {
			continue
		}
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t
		}
	}
	return time.Time{}
}

func (d *DropboxStorage) DeleteBatch(ctx context.Context, paths []string) (*BatchSubmission, error) {
	if len(paths) > dropboxMaxBatch {
		return nil, NewError(ErrPermanent, "delete_batch", fmt.Errorf("batch of %d exceeds %d entries", len(paths), dropboxMaxBatch))
	}

	entries := make([]map[string]string, len(paths))
	for i, p := range paths {
		entries[i] = map[string]string{"path": p}
	}

	var res dbxBatchResult
	if err := d.call(ctx, "files/delete_batch", map[string]interface{}{"entries": entries}, &res); err != nil {
		return nil, err
	}

	switch res.Tag {
	case "async_job_id":
		return &BatchSubmission{JobID: res.AsyncJobID}, nil
	case "complete":
		outcomes := dropboxOutcomes(res.Entries)
		for i := range outcomes {
			if i < len(paths) {
				outcomes[i].Path = paths[i]
			}
		}
		return &BatchSubmission{Outcomes: outcomes}, nil
	default:
		return nil, NewError(ErrTransient, "delete_batch", fmt.Errorf("unexpected response tag %q", res.Tag))
	}
}

// CheckJob polls delete_batch/check. Outcomes are positional: the i-th
// outcome belongs to the i-th submitted path and carries no path itself.
func (d *DropboxStorage) CheckJob(ctx context.Context, jobID string) (*JobStatus, error) {
	var res dbxBatchResult
	if err := d.call(ctx, "files/delete_batch/check", map[string]string{"async_job_id": jobID}, &res); err != nil {
		return nil, err
	}

	switch res.Tag {
	case "in_progress":
		return &JobStatus{}, nil
	case "complete":
		return &JobStatus{Done: true, Outcomes: dropboxOutcomes(res.Entries)}, nil
	case "failed":
		reason := "failed"
		if res.Failed != nil && res.Failed.Tag != "" {
			reason = res.Failed.Tag
		}
		return &JobStatus{
			Done:          true,
			FailureReason: reason,
			RateLimited:   reason == "too_many_write_operations",
		}, nil
	default:
		return nil, NewError(ErrTransient, "delete_batch/check", fmt.Errorf("unexpected response tag %q", res.Tag))
	}
}

func dropboxOutcomes(entries []dbxDeleteEntry) []model.PathOutcome {
	outcomes := make([]model.PathOutcome, len(entries))
	for i, e := range entries {
		if e.Tag == "success" {
			outcomes[i] = model.PathOutcome{Status: model.OutcomeDeleted}
			continue
		}
		outcomes[i] = dropboxFailure(e.Failure)
	}
	return outcomes
}

func dropboxFailure(f *dbxDeleteFailure) model.PathOutcome {
	if f == nil {
		return model.PathOutcome{Status: model.OutcomeFailed, Reason: "unknown failure"}
	}
	reason := f.Tag
	switch {
	case f.PathLookup != nil:
		if f.PathLookup.Tag == "not_found" {
			return model.PathOutcome{Status: model.OutcomeAbsent}
		}
		reason += "/" + f.PathLookup.Tag
	case f.PathWrite != nil:
		reason += "/" + f.PathWrite.Tag
	}
	switch f.Tag {
	case "too_many_write_operations", "internal_error":
		return model.PathOutcome{Status: model.OutcomeRetry, Reason: reason}
	}
	return model.PathOutcome{Status: model.OutcomeFailed, Reason: reason}
}

// call performs one RPC-style request and decodes the JSON result into out.
func (d *DropboxStorage) call(ctx context.Context, endpoint string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return NewError(ErrPermanent, endpoint, err)
	}

	reqCtx, cancel, err := d.begin(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, d.apiURL+"/"+endpoint, bytes.NewReader(payload))
	if err != nil {
		return NewError(ErrPermanent, endpoint, err)
	}
	req.Header.Set("Authorization", "Bearer "+d.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return Classify(endpoint, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Classify(endpoint, err)
	}

	if resp.StatusCode == http.StatusOK {
		if err := json.Unmarshal(data, out); err != nil {
			return NewError(ErrTransient, endpoint, fmt.Errorf("decoding response: %w", err))
		}
		return nil
	}

	return dropboxStatusError(endpoint, resp, data)
}

func dropboxStatusError(endpoint string, resp *http.Response, data []byte) error {
	var apiErr dbxAPIError
	_ = json.Unmarshal(data, &apiErr)
	summary := apiErr.ErrorSummary
	if summary == "" {
		summary = strings.TrimSpace(string(data))
	}
	cause := fmt.Errorf("http %d: %s", resp.StatusCode, summary)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return NewError(ErrInvalidCredential, endpoint, cause)
	case resp.StatusCode == http.StatusTooManyRequests:
		e := NewError(ErrRateLimited, endpoint, cause)
		e.RetryAfter = retryAfter(resp.Header.Get("Retry-After"), apiErr.Error.RetryAfter)
		return e
	case resp.StatusCode == http.StatusConflict:
		switch {
		case strings.Contains(summary, "not_found"), strings.Contains(summary, "invalid_async_job_id"):
			return NewError(ErrNotFound, endpoint, cause)
		case strings.Contains(summary, "too_many_write_operations"):
			return NewError(ErrRateLimited, endpoint, cause)
		}
		return NewError(ErrPermanent, endpoint, cause)
	case resp.StatusCode >= 500:
		return NewError(ErrTransient, endpoint, cause)
	default:
		return NewError(ErrPermanent, endpoint, cause)
	}
}

func retryAfter(header string, bodySeconds int) time.Duration {
	if secs, err := strconv.Atoi(strings.TrimSpace(header)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if bodySeconds > 0 {
		return time.Duration(bodySeconds) * time.Second
	}
	return 0
}
