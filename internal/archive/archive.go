// Package archive stores a JSON report of each run in S3-compatible storage
// and keeps the bucket's report index up to date.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/13rac1/sqpurge/internal/manifest"
	"github.com/13rac1/sqpurge/internal/redactor"
	"github.com/13rac1/sqpurge/internal/types"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ReportVersion is written into every report.
const ReportVersion = 1

// timestampLayout sorts lexically in time order. Fixed-width nanoseconds keep
// two runs within the same second apart.
const timestampLayout = "20060102T150405.000000000Z"

// S3API is the subset of the S3 client used for reports and the index.
// *s3.Client satisfies it.
type S3API interface {
	manager.UploadAPIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Filters echoes the parameters an action ran with.
type Filters struct {
	Project        string `json:"project,omitempty"`
	Projects       string `json:"projects,omitempty"`
	AnalyzedBefore string `json:"analyzedBefore,omitempty"`
	Q              string `json:"q,omitempty"`
}

// Outcome records the server's answer to a delete call.
type Outcome struct {
	StatusCode int    `json:"statusCode"`
	Succeeded  bool   `json:"succeeded"`
	Body       string `json:"body,omitempty"`
}

// Report is the archived record of one action.
type Report struct {
	Version     int             `json:"version"`
	GeneratedAt time.Time       `json:"generatedAt"`
	Action      string          `json:"action"`
	DryRun      bool            `json:"dryRun"`
	Server      string          `json:"server"`
	Filters     Filters         `json:"filters"`
	Count       int             `json:"count"`
	Projects    []types.Project `json:"projects"`
	Outcome     *Outcome        `json:"outcome,omitempty"`
}

// Archiver uploads reports under a fixed bucket and prefix.
type Archiver struct {
	client   S3API
	uploader *manager.Uploader
	bucket   string
	prefix   string
	now      func() time.Time
	logger   *slog.Logger

	mu   sync.Mutex
	last time.Time // GeneratedAt of the previous report, keeps keys unique
}

// New creates an Archiver. The prefix is normalized to end in a slash when non-empty.
func New(client S3API, bucket, prefix string, logger *slog.Logger) *Archiver {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Archiver{
		client: client,
		uploader: manager.NewUploader(client, func(mu *manager.Uploader) {
			mu.PartSize = 5 * 1024 * 1024 // 5MB parts
		}),
		bucket: bucket,
		prefix: prefix,
		now:    time.Now,
		logger: logger,
	}
}

// ReportKey returns the object key for a report generated at t.
// Format: <prefix>reports/<UTC timestamp>-<action>.json
func ReportKey(prefix, action string, t time.Time) string {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix + "reports/" + t.UTC().Format(timestampLayout) + "-" + action + ".json"
}

// Archive uploads r and records it in the index, returning the report key.
// Version, Count and a missing GeneratedAt are filled in; the server URL and
// outcome body are redacted.
//
// A failure to read or update the index is returned after the report itself
// has been stored, together with its key. An unreadable index is never
// overwritten.
func (a *Archiver) Archive(ctx context.Context, r Report) (string, error) {
	r.Version = ReportVersion
	if r.GeneratedAt.IsZero() {
		r.GeneratedAt = a.now()
	}
	r.GeneratedAt = a.claimTime(r.GeneratedAt.UTC())
	if r.Projects == nil {
		r.Projects = []types.Project{}
	}
	r.Count = len(r.Projects)
	r.Server = redactor.Redact(r.Server)
	if r.Outcome != nil {
		o := *r.Outcome
		o.Body = redactor.Redact(o.Body)
		r.Outcome = &o
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling report: %w", err)
	}

	key := ReportKey(a.prefix, r.Action, r.GeneratedAt)
	_, err = a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("uploading report %s: %w", key, err)
	}
	a.logger.Info("report archived", "bucket", a.bucket, "key", key, "count", r.Count)

	manifestKey := manifest.Key(a.prefix)
	m, err := manifest.Load(ctx, a.client, a.bucket, manifestKey)
	if err != nil {
		// Saving over an index we could not read would drop every earlier entry.
		return key, fmt.Errorf("loading report index (report stored at %s): %w", key, err)
	}

	m.Add(key, manifest.Entry{
		GeneratedAt: r.GeneratedAt,
		Action:      r.Action,
		DryRun:      r.DryRun,
		Count:       r.Count,
	})

	if err := manifest.Save(ctx, a.client, a.bucket, manifestKey, m); err != nil {
		return key, fmt.Errorf("updating report index (report stored at %s): %w", key, err)
	}
	return key, nil
}

// claimTime returns t, or a nanosecond past the previous report when t does
// not come after it, so no two reports from one Archiver share a key.
func (a *Archiver) claimTime(t time.Time) time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !t.After(a.last) {
		t = a.last.Add(time.Nanosecond)
	}
	a.last = t
	return t
}

// Index loads the report index. A bucket with no index yields an empty one.
func (a *Archiver) Index(ctx context.Context) (*manifest.Manifest, error) {
	return manifest.Load(ctx, a.client, a.bucket, manifest.Key(a.prefix))
}
