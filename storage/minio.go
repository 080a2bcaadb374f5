// Package storage mirrors produced clips to a MinIO bucket and reads them
// back when the local copy is gone.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/rs/zerolog"

	"video-splitter/entities"
)

var ErrObjectNotFound = errors.New("object not found")

// Object is an archived clip opened for reading.
type Object struct {
	io.ReadSeekCloser
	Size        int64
	ModTime     time.Time
	ContentType string
}

type Archive interface {
	UploadClips(ctx context.Context, videoId string, clips []entities.Clip) error
	Open(ctx context.Context, videoId, filename string) (*Object, error)
}

type minioArchive struct {
	client *minio.Client
	bucket string
}

func NewMinIOArchive(client *minio.Client, bucket string) Archive {
	return &minioArchive{client: client, bucket: bucket}
}

// EnsureBucket creates bucket when it does not exist yet.
func EnsureBucket(ctx context.Context, client *minio.Client, bucket string) error {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if exists {
		return nil
	}
	if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", bucket, err)
	}
	zerolog.Ctx(ctx).Info().Str("bucket", bucket).Msg("created clip bucket")
	return nil
}

func ObjectName(videoId, filename string) string {
	return path.Join(videoId, filename)
}

func (a *minioArchive) UploadClips(ctx context.Context, videoId string, clips []entities.Clip) error {
	for _, clip := range clips {
		objectName := ObjectName(videoId, filepath.Base(clip.Path))
		_, err := a.client.FPutObject(ctx, a.bucket, objectName, clip.Path, minio.PutObjectOptions{
			ContentType: "video/mp4",
		})
		if err != nil {
			return fmt.Errorf("upload %s: %w", objectName, err)
		}
	}
	zerolog.Ctx(ctx).Info().Str("video_id", videoId).Int("clips", len(clips)).Msg("archived clips")
	return nil
}

func (a *minioArchive) Open(ctx context.Context, videoId, filename string) (*Object, error) {
	objectName := ObjectName(videoId, filename)
	obj, err := a.client.GetObject(ctx, a.bucket, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, translate(objectName, err)
	}
	info, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		return nil, translate(objectName, err)
	}
	return &Object{
		ReadSeekCloser: obj,
		Size:           info.Size,
		ModTime:        info.LastModified,
		ContentType:    info.ContentType,
	}, nil
}

func translate(objectName string, err error) error {
	code := minio.ToErrorResponse(err).Code
	if code == "NoSuchKey" || code == "NoSuchBucket" {
		return fmt.Errorf("%s: %w", objectName, ErrObjectNotFound)
	}
	return fmt.Errorf("open %s: %w", objectName, err)
}
