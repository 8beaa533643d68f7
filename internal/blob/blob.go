package blob

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/mohitgusain8671/WanderSphere-Backend/internal/config"
)

// Store 是对象存储协作方。聊天核心只在「对所有人删除」消息时
// 调用 DeleteObject 释放媒体附件；上传链路属于平台的媒体子系统。
type Store struct {
	client *minio.Client
	bucket string
}

var ErrDisabled = errors.New("blob store disabled")

// New 根据配置构建 minio 客户端。Endpoint 为空返回 nil store，
// 调用方按禁用处理（删除媒体成为 no-op，只记日志）。
func New(cfg config.Config) (*Store, error) {
	if cfg.S3Endpoint == "" {
		return nil, nil
	}
	endpoint := strings.TrimPrefix(strings.TrimPrefix(cfg.S3Endpoint, "https://"), "http://")
	cl, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: cfg.S3UseSSL,
	})
	if err != nil {
		return nil, err
	}
	return &Store{client: cl, bucket: cfg.S3Bucket}, nil
}

// DeleteObject 按对象 URL 删除。消息里存的是完整 URL，
// 对象 key 从路径部分还原（去掉前导的 bucket 段，如果有）。
func (s *Store) DeleteObject(ctx context.Context, rawURL string) error {
	if s == nil {
		return ErrDisabled
	}
	key, err := s.ObjectKey(rawURL)
	if err != nil {
		return err
	}
	return s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
}

// ObjectKey 从对象 URL 解析出存储 key。
func (s *Store) ObjectKey(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	key := strings.TrimPrefix(u.Path, "/")
	if s != nil && strings.HasPrefix(key, s.bucket+"/") {
		key = strings.TrimPrefix(key, s.bucket+"/")
	}
	if key == "" {
		return "", errors.New("blob: empty object key")
	}
	return key, nil
}
