package provider

import (
	"context"
)

// Asset is a file ready to be downloaded
type Asset struct {
	DownloadID string
	DisplayID  string
	URL        string
}

// ImageProvider is the interface of an image download service
type ImageProvider interface {
	// Download the asset to localFile
	Download(ctx context.Context, asset Asset, localFile string) error

	// Name of the provider
	Name() string
}
