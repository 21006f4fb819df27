package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	gstorage "cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Extension of an asset
type Extension string

// Some supported extensions
const (
	NoExtension    Extension = ""
	ExtensionGTiff Extension = "tif"
)

// Storage is a service to persist the downloaded assets
type Storage interface {
	// SaveAsset persists the local file under the given name and returns its uri
	SaveAsset(ctx context.Context, localFile, name string) (string, error)
	// Remote returns true if the assets are not stored on the local filesystem
	Remote() bool
}

// StorageOption configures the storage strategy
type StorageOption func(o *storageOptions)

type storageOptions struct {
	s3Region          string
	s3AccessKeyID     string
	s3SecretAccessKey string
}

// WithS3Region sets the region of the s3 bucket
func WithS3Region(region string) StorageOption {
	return func(o *storageOptions) {
		o.s3Region = region
	}
}

// WithS3Credentials sets static credentials for s3 (instead of the default credential chain)
func WithS3Credentials(accessKeyID, secretAccessKey string) StorageOption {
	return func(o *storageOptions) {
		o.s3AccessKeyID = accessKeyID
		o.s3SecretAccessKey = secretAccessKey
	}
}

// StorageURI is a parsed storage location
type StorageURI struct {
	Protocol string // "", "gs" or "s3"
	Bucket   string
	Path     string
}

func (u StorageURI) String() string {
	if u.Protocol == "" {
		return u.Path
	}
	return u.Protocol + "://" + path.Join(u.Bucket, u.Path)
}

// Join returns the uri of the file named name inside the uri
func (u StorageURI) Join(name string) string {
	if u.Protocol == "" {
		return filepath.Join(u.Path, name)
	}
	return u.Protocol + "://" + path.Join(u.Bucket, u.Path, name)
}

// ParseStorageURI parses a local directory, gs://bucket/prefix or s3://bucket/prefix
func ParseStorageURI(uri string) (StorageURI, error) {
	if uri == "" {
		return StorageURI{}, fmt.Errorf("ParseStorageURI: empty uri")
	}
	protocol, rest, found := strings.Cut(uri, "://")
	if !found {
		return StorageURI{Path: uri}, nil
	}
	switch protocol {
	case "gs", "s3":
	case "file":
		return StorageURI{Path: rest}, nil
	default:
		return StorageURI{}, fmt.Errorf("ParseStorageURI: unsupported protocol %s", protocol)
	}
	bucket, prefix, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return StorageURI{}, fmt.Errorf("ParseStorageURI: missing bucket in %s", uri)
	}
	return StorageURI{Protocol: protocol, Bucket: bucket, Path: strings.Trim(prefix, "/")}, nil
}

// NewStorageStrategy creates the storage corresponding to the uri
func NewStorageStrategy(ctx context.Context, storageURI string, options ...StorageOption) (Storage, error) {
	uri, err := ParseStorageURI(storageURI)
	if err != nil {
		return nil, fmt.Errorf("NewStorageStrategy.%w", err)
	}
	opts := storageOptions{}
	for _, o := range options {
		o(&opts)
	}

	switch uri.Protocol {
	case "gs":
		client, err := gstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("NewStorageStrategy.gs: %w", err)
		}
		return &gsStorage{client: client, uri: uri}, nil
	case "s3":
		cfgOptions := []func(*config.LoadOptions) error{}
		if opts.s3Region != "" {
			cfgOptions = append(cfgOptions, config.WithRegion(opts.s3Region))
		}
		if opts.s3AccessKeyID != "" {
			cfgOptions = append(cfgOptions, config.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(opts.s3AccessKeyID, opts.s3SecretAccessKey, "")))
		}
		cfg, err := config.LoadDefaultConfig(ctx, cfgOptions...)
		if err != nil {
			return nil, fmt.Errorf("NewStorageStrategy.s3: %w", err)
		}
		uploader := manager.NewUploader(s3.NewFromConfig(cfg), func(u *manager.Uploader) {
			u.PartSize = 10 * 1024 * 1024 // 10MB per part
		})
		return &s3Storage{uploader: uploader, uri: uri}, nil
	}

	if err := os.MkdirAll(uri.Path, 0755); err != nil {
		return nil, fmt.Errorf("NewStorageStrategy.MkdirAll: %w", err)
	}
	return &LocalStorage{Dir: uri.Path}, nil
}

// LocalStorage implements Storage on the local filesystem
type LocalStorage struct {
	Dir string
}

// Remote implements Storage
func (ls *LocalStorage) Remote() bool { return false }

// SaveAsset implements Storage
func (ls *LocalStorage) SaveAsset(ctx context.Context, localFile, name string) (string, error) {
	dst := filepath.Join(ls.Dir, name)
	if filepath.Clean(localFile) == filepath.Clean(dst) {
		return dst, nil
	}
	if err := os.Rename(localFile, dst); err == nil {
		return dst, nil
	}
	// Rename may fail between two devices: copy the file instead
	if err := copyFile(localFile, dst); err != nil {
		return "", fmt.Errorf("SaveAsset: %w", err)
	}
	os.Remove(localFile)
	return dst, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("copyFile.Open: %w", err)
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("copyFile.Create: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copyFile.Copy: %w", err)
	}
	return out.Close()
}

type gsStorage struct {
	client *gstorage.Client
	uri    StorageURI
}

func (gs *gsStorage) Remote() bool { return true }

func (gs *gsStorage) SaveAsset(ctx context.Context, localFile, name string) (string, error) {
	f, err := os.Open(localFile)
	if err != nil {
		return "", fmt.Errorf("SaveAsset.Open: %w", err)
	}
	defer f.Close()

	key := path.Join(gs.uri.Path, name)
	w := gs.client.Bucket(gs.uri.Bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType(name)
	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return "", MakeTemporary(fmt.Errorf("SaveAsset.Copy to %s: %w", gs.uri.Join(name), err))
	}
	if err := w.Close(); err != nil {
		if errors.Is(err, gstorage.ErrBucketNotExist) {
			return "", MakeFatal(fmt.Errorf("SaveAsset.Close: %w", err))
		}
		return "", fmt.Errorf("SaveAsset.Close %s: %w", gs.uri.Join(name), err)
	}
	return gs.uri.Join(name), nil
}

type s3Storage struct {
	uploader *manager.Uploader
	uri      StorageURI
}

func (ss *s3Storage) Remote() bool { return true }

func (ss *s3Storage) SaveAsset(ctx context.Context, localFile, name string) (string, error) {
	f, err := os.Open(localFile)
	if err != nil {
		return "", fmt.Errorf("SaveAsset.Open: %w", err)
	}
	defer f.Close()

	_, err = ss.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(ss.uri.Bucket),
		Key:         aws.String(path.Join(ss.uri.Path, name)),
		Body:        f,
		ContentType: aws.String(contentType(name)),
	})
	if err != nil {
		return "", fmt.Errorf("SaveAsset.Upload to %s: %w", ss.uri.Join(name), err)
	}
	return ss.uri.Join(name), nil
}

func contentType(name string) string {
	if GetExt(name) == ExtensionGTiff {
		return "image/tiff"
	}
	return "application/octet-stream"
}

// GetExt returns the extension of the file
func GetExt(filePath string) Extension {
	ext := path.Ext(filePath)
	if ext == "" {
		return NoExtension
	}
	return Extension(ext[1:])
}
