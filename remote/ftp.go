package remote

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"path"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/olegkotsar/dupesweep/config"
	"github.com/olegkotsar/dupesweep/model"
)

var (
	_ StorageProvider = (*FTPStorage)(nil)
	_ Fingerprinter   = (*FTPStorage)(nil)
)

// ftpMaxBatch bounds how many deletes one batch issues over the control connection.
const ftpMaxBatch = 1000

// FTPConn is the subset of *ftp.ServerConn in use, so tests can supply their own.
type FTPConn interface {
	List(path string) ([]*ftp.Entry, error)
	Retr(path string) (io.ReadCloser, error)
	FileSize(path string) (int64, error)
	Delete(path string) error
	NoOp() error
	Quit() error
}

// FTPStorage implements StorageProvider for FTP servers. FTP offers neither
// recursive listing nor content hashes, so directories are listed one by one
// and fingerprints are computed from file content.
type FTPStorage struct {
	*requestGate
	config     *config.FTPConfig
	common     *config.CommonStorageConfig
	connPool   chan FTPConn
	dialConfig *ftp.DialOption
	dial       func() (FTPConn, error)
}

// NewFTPStorage creates a new FTP storage and verifies connectivity
func NewFTPStorage(cfg *config.FTPConfig, common *config.CommonStorageConfig) (*FTPStorage, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ftp config: %w", err)
	}

	var dialConfig *ftp.DialOption
	if cfg.UseTLS {
		opt := ftp.DialWithExplicitTLS(&tls.Config{ServerName: cfg.Host})
		dialConfig = &opt
	}

	f := &FTPStorage{
		requestGate: newRequestGate(common),
		config:      cfg,
		common:      common,
		connPool:    make(chan FTPConn, 1),
		dialConfig:  dialConfig,
	}
	f.dial = f.createConnection

	// Pre-populate connection pool with one connection to verify connectivity
	conn, err := f.dial()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to FTP server: %w", err)
	}
	f.returnConnection(conn)

	return f, nil
}

// deadlineConn pushes the I/O deadline forward before every read and write,
// so a stalled control or data connection fails after timeout instead of hanging.
type deadlineConn struct {
	net.Conn
	timeout time.Duration
}

func (c *deadlineConn) Read(b []byte) (int, error) {
	if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Read(b)
}

func (c *deadlineConn) Write(b []byte) (int, error) {
	if err := c.Conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Write(b)
}

// dialFunc dials control and data connections with the per-request timeout
// applied to the dial and to every later read and write.
func dialFunc(timeout time.Duration) func(network, address string) (net.Conn, error) {
	return func(network, address string) (net.Conn, error) {
		d := net.Dialer{Timeout: timeout}
		conn, err := d.Dial(network, address)
		if err != nil || timeout <= 0 {
			return conn, err
		}
		return &deadlineConn{Conn: conn, timeout: timeout}, nil
	}
}

// createConnection creates a new FTP connection
func (f *FTPStorage) createConnection() (FTPConn, error) {
	addr := fmt.Sprintf("%s:%d", f.config.Host, f.config.Port)
	opts := []ftp.DialOption{ftp.DialWithDialFunc(dialFunc(f.timeout))}
	if f.dialConfig != nil {
		opts = append(opts, *f.dialConfig)
	}

	conn, err := ftp.Dial(addr, opts...)
	if err != nil {
		return nil, Classify("dial", err)
	}

	if err := conn.Login(f.config.Username, f.config.Password); err != nil {
		conn.Quit()
		if ftpCode(err) == ftp.StatusNotLoggedIn {
			return nil, NewError(ErrInvalidCredential, "login", err)
		}
		return nil, classifyFTP("login", err)
	}

	return serverConn{conn}, nil
}

// serverConn adapts *ftp.ServerConn to FTPConn.
type serverConn struct {
	*ftp.ServerConn
}

func (c serverConn) Retr(path string) (io.ReadCloser, error) {
	resp, err := c.ServerConn.Retr(path)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// getConnection retrieves a connection from the pool or creates a new one
func (f *FTPStorage) getConnection(ctx context.Context) (FTPConn, error) {
	select {
	case conn := <-f.connPool:
		// Test if connection is still alive
		if err := conn.NoOp(); err != nil {
			conn.Quit()
			return f.dial()
		}
		return conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
		return f.dial()
	}
}

// returnConnection returns a connection to the pool
func (f *FTPStorage) returnConnection(conn FTPConn) {
	if conn == nil {
		return
	}
	select {
	case f.connPool <- conn:
	default:
		// Pool is full, close the connection
		conn.Quit()
	}
}

func (f *FTPStorage) Name() string { return "ftp" }

func (f *FTPStorage) ListsRecursively() bool { return false }

func (f *FTPStorage) MaxBatchSize() int { return ftpMaxBatch }

// ListPage lists one directory. FTP has no paging, so the token is ignored.
func (f *FTPStorage) ListPage(ctx context.Context, root, _ string) (*ListPage, error) {
	dir := path.Clean("/" + root)

	reqCtx, cancel, err := f.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	conn, err := f.getConnection(reqCtx)
	if err != nil {
		return nil, err
	}

	entries, err := conn.List(dir)
	if err != nil {
		f.discard(conn, err)
		return nil, classifyFTP("LIST "+dir, err)
	}
	f.returnConnection(conn)

	page := &ListPage{}
	for _, e := range entries {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		p := path.Join(dir, e.Name)
		switch e.Type {
		case ftp.EntryTypeFolder:
			page.Entries = append(page.Entries, model.RemoteEntry{Path: p, Type: model.EntryDir})
		case ftp.EntryTypeFile:
			page.Entries = append(page.Entries, model.RemoteEntry{
				Path:       p,
				Type:       model.EntryFile,
				Size:       int64(e.Size),
				ModifiedAt: e.Time,
			})
		}
	}

	return page, nil
}

// Fingerprint streams the file through SHA-256.
func (f *FTPStorage) Fingerprint(ctx context.Context, p string) (string, error) {
	reqCtx, cancel, err := f.begin(ctx)
	if err != nil {
		return "", err
	}
	defer cancel()

	conn, err := f.getConnection(reqCtx)
	if err != nil {
		return "", err
	}

	resp, err := conn.Retr(p)
	if err != nil {
		f.discard(conn, err)
		return "", classifyFTP("RETR "+p, err)
	}

	h := sha256.New()
	_, copyErr := io.Copy(h, resp)
	closeErr := resp.Close()
	if copyErr != nil || closeErr != nil {
		// the data connection state is unknown, do not reuse the control connection
		conn.Quit()
		return "", Classify("RETR "+p, errors.Join(copyErr, closeErr))
	}
	f.returnConnection(conn)

	return "sha256:" + hex.EncodeToString(h.Sum(nil)), nil
}

// DeleteBatch deletes paths one at a time. A 550 reply settles a path as
// absent only once the server confirms the file is gone. When the control
// connection breaks mid-batch, the rest of the batch is reported for retry.
// Each command is bounded by the connection deadline, not the call timeout.
func (f *FTPStorage) DeleteBatch(ctx context.Context, paths []string) (*BatchSubmission, error) {
	_, cancel, err := f.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	conn, err := f.getConnection(ctx)
	if err != nil {
		return nil, err
	}

	outcomes := make([]model.PathOutcome, 0, len(paths))
	for i, p := range paths {
		if ctx.Err() != nil {
			f.returnConnection(conn)
			return nil, ctx.Err()
		}

		err := conn.Delete(p)
		if err == nil {
			outcomes = append(outcomes, model.PathOutcome{Path: p, Status: model.OutcomeDeleted})
			continue
		}

		code := ftpCode(err)
		switch {
		case code == ftp.StatusFileUnavailable:
			outcomes = append(outcomes, f.unavailable(conn, p, err))
		case code == ftp.StatusNotAvailable || code == ftp.StatusFileActionIgnored:
			outcomes = append(outcomes, model.PathOutcome{Path: p, Status: model.OutcomeRetry, Reason: err.Error()})
		case code != 0:
			outcomes = append(outcomes, model.PathOutcome{Path: p, Status: model.OutcomeFailed, Reason: err.Error()})
		default:
			conn.Quit()
			if i == 0 {
				return nil, Classify("DELE "+p, err)
			}
			for _, rest := range paths[i:] {
				outcomes = append(outcomes, model.PathOutcome{Path: rest, Status: model.OutcomeRetry, Reason: err.Error()})
			}
			return &BatchSubmission{Outcomes: outcomes}, nil
		}
	}
	f.returnConnection(conn)

	return &BatchSubmission{Outcomes: outcomes}, nil
}

// unavailable settles a path whose DELE got 550, a reply servers use both for
// missing files and for refused deletes.
func (f *FTPStorage) unavailable(conn FTPConn, p string, deleteErr error) model.PathOutcome {
	present, err := stillPresent(conn, p)
	switch {
	case err != nil:
		return model.PathOutcome{Path: p, Status: model.OutcomeRetry, Reason: fmt.Sprintf("%v (existence check: %v)", deleteErr, err)}
	case present:
		return model.PathOutcome{Path: p, Status: model.OutcomeFailed, Reason: deleteErr.Error()}
	}
	return model.PathOutcome{Path: p, Status: model.OutcomeAbsent}
}

// stillPresent asks the server whether p exists. SIZE answers first; when it
// refuses, the parent directory listing decides.
func stillPresent(conn FTPConn, p string) (bool, error) {
	if _, err := conn.FileSize(p); err == nil {
		return true, nil
	}

	entries, err := conn.List(path.Dir(p))
	if ftpCode(err) == ftp.StatusFileUnavailable {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	name := path.Base(p)
	for _, e := range entries {
		if e.Name == name || e.Name == p {
			return true, nil
		}
	}
	return false, nil
}

// CheckJob always reports an unknown job: FTP deletes complete synchronously.
func (f *FTPStorage) CheckJob(ctx context.Context, jobID string) (*JobStatus, error) {
	return nil, NewError(ErrNotFound, "CheckJob", fmt.Errorf("ftp has no asynchronous job %q", jobID))
}

// discard closes conn when err left the control connection unusable.
func (f *FTPStorage) discard(conn FTPConn, err error) {
	if ftpCode(err) != 0 {
		f.returnConnection(conn)
		return
	}
	conn.Quit()
}

// Close closes all connections in the pool
func (f *FTPStorage) Close() error {
	for {
		select {
		case conn := <-f.connPool:
			conn.Quit()
		default:
			return nil
		}
	}
}

// ftpCode returns the FTP reply code carried by err, or 0.
func ftpCode(err error) int {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		return tpErr.Code
	}
	return 0
}

func classifyFTP(op string, err error) error {
	switch code := ftpCode(err); {
	case code == ftp.StatusNotLoggedIn:
		return NewError(ErrInvalidCredential, op, err)
	case code == ftp.StatusFileUnavailable:
		return NewError(ErrNotFound, op, err)
	case code == ftp.StatusNotAvailable || code == ftp.StatusFileActionIgnored || code == ftp.StatusCanNotOpenDataConnection:
		return NewError(ErrTransient, op, err)
	case code != 0:
		return NewError(ErrPermanent, op, err)
	}
	return Classify(op, err)
}
