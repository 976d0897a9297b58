// Package archive stores raw flight-log files in versioned S3-compatible
// object storage. Each cumulative upload of a mission's log becomes a new
// object version, so the archive retains the full upload history alongside
// the structured entries the chain engine hashes.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Config holds object-storage connection settings.
type Config struct {
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string
	Region          string
}

// Version describes one stored revision of a mission's raw log.
type Version struct {
	VersionID    string    `json:"version_id"`
	LastModified time.Time `json:"last_modified"`
	Size         int64     `json:"size"`
}

// Store is a versioned raw-log archive backed by an S3-compatible bucket.
// The bucket must have object versioning enabled.
type Store struct {
	client *s3.Client
	bucket string
}

// NewStore creates a Store from static credentials. Endpoint may point at
// S3 itself or any compatible service (MinIO, R2); path-style addressing
// keeps all of them happy.
func NewStore(cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("archive: bucket is required")
	}
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, errors.New("archive: credentials are required")
	}
	region := cfg.Region
	if region == "" {
		region = "auto"
	}

	opts := s3.Options{
		Region: region,
		Credentials: aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}

	return &Store{client: s3.New(opts), bucket: cfg.Bucket}, nil
}

// logKey is the single object key a mission's log lives under; revisions
// accumulate as object versions of this key.
func logKey(missionID string) string {
	return "flights/" + missionID + ".log"
}

// PutVersion uploads a cumulative log body as a new object version and
// returns the version id assigned by the bucket.
func (s *Store) PutVersion(ctx context.Context, missionID string, body []byte) (string, error) {
	out, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(logKey(missionID)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("text/plain; charset=utf-8"),
	})
	if err != nil {
		return "", fmt.Errorf("put log version: %w", err)
	}
	if out.VersionId == nil {
		return "", errors.New("put log version: bucket did not return a version id; is versioning enabled?")
	}
	return *out.VersionId, nil
}

// ListVersions returns a mission's log versions oldest first, the order a
// verifier replays them in.
func (s *Store) ListVersions(ctx context.Context, missionID string) ([]Version, error) {
	key := logKey(missionID)
	out, err := s.client.ListObjectVersions(ctx, &s3.ListObjectVersionsInput{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("list log versions: %w", err)
	}

	var versions []Version
	for _, v := range out.Versions {
		if v.Key == nil || *v.Key != key {
			continue
		}
		ver := Version{}
		if v.VersionId != nil {
			ver.VersionID = *v.VersionId
		}
		if v.LastModified != nil {
			ver.LastModified = *v.LastModified
		}
		if v.Size != nil {
			ver.Size = *v.Size
		}
		versions = append(versions, ver)
	}
	sort.Slice(versions, func(i, j int) bool {
		return versions[i].LastModified.Before(versions[j].LastModified)
	})
	return versions, nil
}

// GetVersion downloads one revision of a mission's log.
func (s *Store) GetVersion(ctx context.Context, missionID, versionID string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket:    aws.String(s.bucket),
		Key:       aws.String(logKey(missionID)),
		VersionId: aws.String(versionID),
	})
	if err != nil {
		return nil, fmt.Errorf("get log version %s: %w", versionID, err)
	}
	defer out.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read log version %s: %w", versionID, err)
	}
	return body, nil
}
