// Package snapshot writes point-in-time JSON copies of plates to an S3
// compatible bucket, or to per-plate git repositories on local disk.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"plate/api/internal/model"
)

var ErrNotFound = errors.New("snapshot not found")

const keyTimeLayout = "20060102T150405Z"

type Options struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
}

// Info describes one stored snapshot.
type Info struct {
	Key     string    `json:"key"`
	PlateID string    `json:"plateId"`
	TakenAt time.Time `json:"takenAt"`
	Size    int64     `json:"size"`
}

// Backend is satisfied by Store and GitStore.
type Backend interface {
	Put(ctx context.Context, plate model.Plate) (Info, error)
	List(ctx context.Context, plateID string) ([]Info, error)
	Get(ctx context.Context, key string) (model.Plate, error)
}

var (
	_ Backend = (*Store)(nil)
	_ Backend = (*GitStore)(nil)
)

// objectAPI is the subset of the S3 client used here.
type objectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

type Store struct {
	api    objectAPI
	bucket string
	now    func() time.Time
}

// NewS3Store builds a path-style client. A custom endpoint makes it work
// against MinIO and other S3 compatible services.
func NewS3Store(ctx context.Context, opts Options) (*Store, error) {
	if opts.Bucket == "" {
		return nil, errors.New("snapshot bucket is required")
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(opts.Region)}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")))
	}
	if opts.Endpoint != "" {
		if _, err := url.Parse(opts.Endpoint); err != nil {
			return nil, fmt.Errorf("invalid s3 endpoint: %w", err)
		}
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newStore(client, opts.Bucket), nil
}

func newStore(api objectAPI, bucket string) *Store {
	return &Store{api: api, bucket: bucket, now: time.Now}
}

// Put stores the plate with its headers and cards as JSON.
func (s *Store) Put(ctx context.Context, plate model.Plate) (Info, error) {
	data, err := json.Marshal(plate)
	if err != nil {
		return Info{}, fmt.Errorf("encode plate %s: %w", plate.ID, err)
	}
	takenAt := s.now().UTC().Truncate(time.Second)
	key := objectKey(plate.ID, takenAt)
	_, err = s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return Info{}, fmt.Errorf("put snapshot %s: %w", key, err)
	}
	return Info{Key: key, PlateID: plate.ID, TakenAt: takenAt, Size: int64(len(data))}, nil
}

// List returns the plate's snapshots, newest first.
func (s *Store) List(ctx context.Context, plateID string) ([]Info, error) {
	prefix := "plates/" + plateID + "/"
	var (
		out   []Info
		token *string
	)
	for {
		resp, err := s.api.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("list snapshots: %w", err)
		}
		for _, obj := range resp.Contents {
			key := aws.ToString(obj.Key)
			takenAt, ok := parseKey(prefix, key)
			if !ok {
				continue
			}
			out = append(out, Info{Key: key, PlateID: plateID, TakenAt: takenAt, Size: aws.ToInt64(obj.Size)})
		}
		if !aws.ToBool(resp.IsTruncated) {
			break
		}
		token = resp.NextContinuationToken
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TakenAt.After(out[j].TakenAt) })
	if out == nil {
		out = []Info{}
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, key string) (model.Plate, error) {
	resp, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && (apiErr.ErrorCode() == "NoSuchKey" || apiErr.ErrorCode() == "NotFound") {
			return model.Plate{}, ErrNotFound
		}
		return model.Plate{}, fmt.Errorf("get snapshot %s: %w", key, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.Plate{}, fmt.Errorf("read snapshot %s: %w", key, err)
	}
	var plate model.Plate
	if err := json.Unmarshal(data, &plate); err != nil {
		return model.Plate{}, fmt.Errorf("decode snapshot %s: %w", key, err)
	}
	return plate, nil
}

func objectKey(plateID string, takenAt time.Time) string {
	return "plates/" + plateID + "/" + takenAt.Format(keyTimeLayout) + ".json"
}

func parseKey(prefix, key string) (time.Time, bool) {
	name := strings.TrimSuffix(strings.TrimPrefix(key, prefix), ".json")
	if name == key || strings.Contains(name, "/") {
		return time.Time{}, false
	}
	t, err := time.Parse(keyTimeLayout, name)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
