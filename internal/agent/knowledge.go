package agent

import (
	"context"
	"fmt"
	"io"
	"log"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const knowledgePrefix = "knowledge-base/"

// ObjectStore is the part of the MinIO client the knowledge base needs.
type ObjectStore interface {
	PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// NewMinio connects to the object store and creates the bucket when it is
// missing.
func NewMinio(ctx context.Context, cfg MinioConfig) (*minio.Client, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}
	return client, nil
}

type Upload struct {
	Key     string `json:"key"`
	Size    int64  `json:"size"`
	Message string `json:"message"`
}

type KnowledgeBase struct {
	store  ObjectStore
	bucket string
	logger *log.Logger
	now    func() time.Time
}

func NewKnowledgeBase(store ObjectStore, bucket string, logger *log.Logger) *KnowledgeBase {
	if logger == nil {
		logger = log.Default()
	}
	return &KnowledgeBase{store: store, bucket: bucket, logger: logger, now: time.Now}
}

// Upload stores a document under knowledge-base/<unix millis>-<name>.
func (k *KnowledgeBase) Upload(ctx context.Context, name string, reader io.Reader, size int64, contentType string) (Upload, error) {
	base := path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if base == "" || base == "." || base == "/" {
		return Upload{}, fmt.Errorf("%w: arquivo sem nome", ErrValidation)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	key := fmt.Sprintf("%s%d-%s", knowledgePrefix, k.now().UnixMilli(), base)
	info, err := k.store.PutObject(ctx, k.bucket, key, reader, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		k.logger.Printf("[agent] upload %s: %v", key, err)
		return Upload{}, fmt.Errorf("upload %s: %w", base, err)
	}
	k.logger.Printf("[agent] uploaded %s (%d bytes)", key, info.Size)
	return Upload{Key: key, Size: info.Size, Message: "Arquivo enviado para a base de conhecimento do agente."}, nil
}
