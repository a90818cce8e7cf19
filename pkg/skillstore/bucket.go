package skillstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/apitap/apitap/pkg/skillgen"
)

// BucketConfig describes the S3-compatible bucket skill files can be
// shared through, letting a signed skill learned on one machine be picked
// up by another without re-capturing the same domain.
type BucketConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// BucketClient wraps an S3-compatible object store holding exported skill
// files, keyed by domain.
type BucketClient struct {
	mc     *minio.Client
	bucket string
}

// BucketRef identifies a skill file stored in the bucket, along with a
// checksum a caller can use to detect tampering in transit.
type BucketRef struct {
	URI      string // skillvault://bucket/key
	Checksum string // sha256:hex
	Size     int64
}

// OpenBucket connects to the configured bucket, creating it if absent.
func OpenBucket(ctx context.Context, cfg BucketConfig) (*BucketClient, error) {
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("skillstore: bucket connect: %w", err)
	}

	exists, err := mc.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("skillstore: check bucket: %w", err)
	}
	if !exists {
		if err := mc.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("skillstore: create bucket: %w", err)
		}
	}

	return &BucketClient{mc: mc, bucket: cfg.Bucket}, nil
}

// ExportToBucket signs skill with key (if non-nil), then uploads it to the
// bucket under "<domain>.json" so another machine can Import it.
func (c *BucketClient) ExportToBucket(ctx context.Context, skill skillgen.SkillFile, key []byte) (BucketRef, error) {
	if err := ValidateDomain(skill.Domain); err != nil {
		return BucketRef{}, err
	}
	if key != nil {
		sig, err := Sign(skill, key)
		if err != nil {
			return BucketRef{}, fmt.Errorf("skillstore: sign: %w", err)
		}
		skill.Signature = sig
	}

	data, err := json.Marshal(skill)
	if err != nil {
		return BucketRef{}, fmt.Errorf("skillstore: marshal: %w", err)
	}

	objKey := skill.Domain + ".json"
	h := sha256.Sum256(data)
	checksum := fmt.Sprintf("sha256:%x", h)

	info, err := c.mc.PutObject(ctx, c.bucket, objKey, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return BucketRef{}, fmt.Errorf("skillstore: export %s: %w", objKey, err)
	}

	return BucketRef{
		URI:      fmt.Sprintf("skillvault://%s/%s", c.bucket, objKey),
		Checksum: checksum,
		Size:     info.Size,
	}, nil
}

// ImportFromBucket downloads "<domain>.json" from the bucket and runs it
// through Import, applying the same signature verification and URL
// validation as a local file import.
func (c *BucketClient) ImportFromBucket(ctx context.Context, dir, domain string, key []byte) (skillgen.SkillFile, error) {
	if err := ValidateDomain(domain); err != nil {
		return skillgen.SkillFile{}, err
	}

	objKey := domain + ".json"
	obj, err := c.mc.GetObject(ctx, c.bucket, objKey, minio.GetObjectOptions{})
	if err != nil {
		return skillgen.SkillFile{}, fmt.Errorf("skillstore: fetch %s: %w", objKey, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return skillgen.SkillFile{}, fmt.Errorf("skillstore: read %s: %w", objKey, err)
	}

	return Import(dir, data, key)
}
