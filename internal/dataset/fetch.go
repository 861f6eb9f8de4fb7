package dataset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"golang.org/x/net/http2"

	"github.com/signalsfoundry/ephemeris-server/internal/logging"
)

// maxVersionBytes bounds the body read for a version marker.
const maxVersionBytes = 4096

// Remote is the source of new datasets.
type Remote interface {
	// FetchVersion returns the remote version marker.
	FetchVersion(ctx context.Context) (string, error)
	// FetchArchive downloads the dataset archive to dest.
	FetchArchive(ctx context.Context, dest string) error
	// ArchiveName is the file name the archive is stored under.
	ArchiveName() string
}

// NewHTTPClient returns a client whose transport negotiates HTTP/2 over TLS
// and falls back to HTTP/1.1.
func NewHTTPClient(log logging.Logger) *http.Client {
	if log == nil {
		log = logging.Noop()
	}
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          4,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	if _, err := http2.ConfigureTransports(tr); err != nil {
		log.Warn(context.Background(), "http2 unavailable; using HTTP/1.1", logging.Err(err))
	}
	return &http.Client{Transport: tr}
}

// HTTPRemote fetches the version marker and archive over HTTP(S).
type HTTPRemote struct {
	client          *http.Client
	versionURL      string
	archiveURL      string
	versionTimeout  time.Duration
	downloadTimeout time.Duration
	log             logging.Logger
}

// NewHTTPRemote constructs an HTTPRemote. Zero timeouts disable the
// per-request deadline.
func NewHTTPRemote(client *http.Client, versionURL, archiveURL string, versionTimeout, downloadTimeout time.Duration, log logging.Logger) *HTTPRemote {
	if log == nil {
		log = logging.Noop()
	}
	if client == nil {
		client = NewHTTPClient(log)
	}
	return &HTTPRemote{
		client:          client,
		versionURL:      versionURL,
		archiveURL:      archiveURL,
		versionTimeout:  versionTimeout,
		downloadTimeout: downloadTimeout,
		log:             log,
	}
}

// ArchiveName is the last path element of the archive URL.
func (r *HTTPRemote) ArchiveName() string {
	if u, err := url.Parse(r.archiveURL); err == nil && u.Path != "" {
		if base := path.Base(u.Path); base != "/" && base != "." {
			return base
		}
	}
	return "dataset.zip"
}

// FetchVersion GETs the version URL and returns its first line.
func (r *HTTPRemote) FetchVersion(ctx context.Context) (string, error) {
	if r.versionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.versionTimeout)
		defer cancel()
	}
	resp, err := r.get(ctx, r.versionURL)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxVersionBytes))
	if err != nil {
		return "", fmt.Errorf("read version: %w", err)
	}
	line, _, _ := strings.Cut(string(body), "\n")
	v := strings.TrimSpace(line)
	if v == "" {
		return "", errors.New("remote version marker is empty")
	}
	return v, nil
}

// FetchArchive streams the archive to dest, logging progress every tenth of
// the expected size. A partial file is removed on failure.
func (r *HTTPRemote) FetchArchive(ctx context.Context, dest string) (err error) {
	if r.downloadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.downloadTimeout)
		defer cancel()
	}
	r.log.Info(ctx, "downloading dataset archive", logging.String("url", r.archiveURL))
	resp, err := r.get(ctx, r.archiveURL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(dest)
		}
	}()

	pr := &progressReader{r: resp.Body, total: resp.ContentLength, ctx: ctx, log: r.log}
	n, err := io.Copy(f, pr)
	if err != nil {
		return fmt.Errorf("download archive: %w", err)
	}
	r.log.Info(ctx, "download finished", logging.Int64("bytes", n))
	return nil
}

func (r *HTTPRemote) get(ctx context.Context, u string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("GET %s: %s", u, resp.Status)
	}
	return resp, nil
}

type progressReader struct {
	r     io.Reader
	total int64
	done  int64
	step  int64
	ctx   context.Context
	log   logging.Logger
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.done += int64(n)
	if p.total > 0 {
		if step := p.done * 10 / p.total; step > p.step {
			p.step = step
			p.log.Info(p.ctx, "download progress",
				logging.Int64("percent", step*10),
				logging.Int64("bytes", p.done),
				logging.Int64("total", p.total),
			)
		}
	}
	return n, err
}
