// minio реализует storage.Images на базе MinIO/S3: баннеры и иконки сообществ
// удаляются вместе с сообществом или при замене изображения.
package minio

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	mclient "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/pribylovaa/recycle-communities/internal/config"
	"github.com/pribylovaa/recycle-communities/internal/storage"
)

// Images - адаптер MinIO для изображений сообществ.
type Images struct {
	cfg    *config.Config
	client *mclient.Client
}

var _ storage.Images = (*Images)(nil)

// New создаёт клиент MinIO: убирает схему из endpoint, подбирает Secure
// и проверяет наличие бакета (fail-fast).
func New(ctx context.Context, cfg *config.Config) (*Images, error) {
	const op = "storage/minio/New"

	endpoint := cfg.S3.Endpoint
	secure := cfg.S3.UseSSL || strings.HasPrefix(endpoint, "https://")

	if u, err := url.Parse(endpoint); err == nil && u.Scheme != "" && u.Host != "" {
		endpoint = u.Host
		secure = u.Scheme == "https"
	}

	client, err := mclient.New(endpoint, &mclient.Options{
		Creds:  credentials.NewStaticV4(cfg.S3.RootUser, cfg.S3.RootPassword, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	exists, err := client.BucketExists(ctx, cfg.S3.Bucket)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if !exists {
		return nil, fmt.Errorf("%s: bucket %q does not exist", op, cfg.S3.Bucket)
	}

	return &Images{cfg: cfg, client: client}, nil
}

// DeleteImage удаляет объект, на который указывает публичный URL.
// URL вне бакета сервиса - storage.ErrInvalidArgument; отсутствующий объект удалением не считается ошибкой.
func (i *Images) DeleteImage(ctx context.Context, rawURL string) error {
	const op = "storage/minio/DeleteImage"

	key, ok := objectKey(i.cfg.S3.PublicBaseURL, i.cfg.S3.Bucket, rawURL)
	if !ok {
		return fmt.Errorf("%s: %q: %w", op, rawURL, storage.ErrInvalidArgument)
	}

	if err := i.client.RemoveObject(ctx, i.cfg.S3.Bucket, key, mclient.RemoveObjectOptions{}); err != nil {
		if resp := mclient.ToErrorResponse(err); resp.Code == "NoSuchKey" || resp.StatusCode == 404 {
			return nil
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// objectKey достаёт ключ объекта из URL. Поддерживаются два вида:
// <public_base_url>/<key> и path-style <scheme>://<host>/<bucket>/<key>.
func objectKey(publicBase, bucket, rawURL string) (string, bool) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", false
	}

	if base := strings.TrimRight(publicBase, "/"); base != "" && strings.HasPrefix(rawURL, base+"/") {
		key := strings.TrimPrefix(rawURL, base+"/")
		return key, key != ""
	}

	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", false
	}

	key, found := strings.CutPrefix(strings.TrimPrefix(u.Path, "/"), bucket+"/")
	if !found || key == "" {
		return "", false
	}

	return key, true
}
