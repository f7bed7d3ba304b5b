// Package pyannote provides a diarization provider backed by a pyannote-audio
// sidecar service.
//
// pyannote-audio runs as a small HTTP server next to the engine (the model
// itself is Python-only) and exposes POST /diarize: the audio file is uploaded
// as multipart/form-data together with the speaker-count bounds, and the
// response is a JSON list of labelled turns.
//
// Usage:
//
//	p, err := pyannote.New("http://localhost:9090")
//	result, err := p.Diarize(ctx, "/data/session.wav", diarize.Options{
//	    MinSpeakers: 3,
//	    MaxSpeakers: 3,
//	})
package pyannote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/jorgevx/escriba/pkg/provider"
	"github.com/jorgevx/escriba/pkg/provider/diarize"
)

const defaultTimeout = 30 * time.Minute

// Compile-time assertion that Provider satisfies diarize.Provider.
var _ diarize.Provider = (*Provider)(nil)

// Provider implements diarize.Provider against a pyannote sidecar. All
// methods are safe for concurrent use.
type Provider struct {
	serverURL  string
	httpClient *http.Client
}

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 minutes,
// sized for hour-long municipal sessions.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// WithHTTPClient replaces the HTTP client, mainly for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// New creates a Provider that talks to the sidecar at serverURL
// (e.g. "http://localhost:9090").
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("pyannote: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  serverURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// turnResponse is the sidecar's wire format for one speaker turn.
type turnResponse struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker"`
}

// Diarize implements [diarize.Provider.Diarize]. Same-label turns returned by
// the sidecar are merged when they touch so the disjointness guarantee holds.
func (p *Provider) Diarize(ctx context.Context, path string, opts diarize.Options) (diarize.Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return diarize.Result{}, provider.NewModelError(provider.KindFileMissing, "diarize", err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return diarize.Result{}, provider.NewModelError(provider.KindRuntimeError, "diarize", err)
	}
	if _, err := io.Copy(fw, f); err != nil {
		return diarize.Result{}, provider.NewModelError(provider.KindRuntimeError, "diarize", fmt.Errorf("read audio: %w", err))
	}

	if opts.MinSpeakers > 0 {
		_ = mw.WriteField("min_speakers", strconv.Itoa(opts.MinSpeakers))
	}
	if opts.MaxSpeakers > 0 {
		_ = mw.WriteField("max_speakers", strconv.Itoa(opts.MaxSpeakers))
	}
	if opts.ClusteringThreshold > 0 {
		_ = mw.WriteField("clustering_threshold", strconv.FormatFloat(opts.ClusteringThreshold, 'f', -1, 64))
	}

	if err := mw.Close(); err != nil {
		return diarize.Result{}, provider.NewModelError(provider.KindRuntimeError, "diarize", err)
	}

	endpoint := p.serverURL + "/diarize"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return diarize.Result{}, provider.NewModelError(provider.KindRuntimeError, "diarize", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return diarize.Result{}, provider.NewModelError(provider.KindRuntimeError, "diarize", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnsupportedMediaType || resp.StatusCode == http.StatusUnprocessableEntity:
		return diarize.Result{}, provider.NewModelError(provider.KindUnsupportedFormat, "diarize",
			fmt.Errorf("sidecar returned HTTP %d", resp.StatusCode))
	case resp.StatusCode == http.StatusServiceUnavailable:
		return diarize.Result{}, provider.NewModelError(provider.KindModelLoadFailed, "diarize",
			fmt.Errorf("sidecar returned HTTP %d", resp.StatusCode))
	default:
		return diarize.Result{}, provider.NewModelError(provider.KindRuntimeError, "diarize",
			fmt.Errorf("sidecar returned HTTP %d", resp.StatusCode))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return diarize.Result{}, provider.NewModelError(provider.KindRuntimeError, "diarize", err)
	}

	var parsed struct {
		Turns []turnResponse `json:"turns"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return diarize.Result{}, provider.NewModelError(provider.KindRuntimeError, "diarize", fmt.Errorf("parse response: %w", err))
	}

	turns := make([]diarize.Turn, 0, len(parsed.Turns))
	for _, t := range parsed.Turns {
		if t.End <= t.Start {
			continue
		}
		turns = append(turns, diarize.Turn{Start: t.Start, End: t.End, Label: t.Speaker})
	}

	return diarize.Result{Turns: mergeSameLabel(turns)}, nil
}

// mergeSameLabel merges overlapping or touching turns that share a label,
// preserving overall chronological order.
func mergeSameLabel(turns []diarize.Turn) []diarize.Turn {
	byLabel := make(map[string][]diarize.Turn)
	for _, t := range turns {
		byLabel[t.Label] = append(byLabel[t.Label], t)
	}

	var merged []diarize.Turn
	for _, group := range byLabel {
		sort.Slice(group, func(i, j int) bool { return group[i].Start < group[j].Start })
		cur := group[0]
		for _, t := range group[1:] {
			if t.Start <= cur.End {
				if t.End > cur.End {
					cur.End = t.End
				}
				continue
			}
			merged = append(merged, cur)
			cur = t
		}
		merged = append(merged, cur)
	}

	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Start != merged[j].Start {
			return merged[i].Start < merged[j].Start
		}
		return merged[i].Label < merged[j].Label
	})
	return merged
}
