package provider

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/airbusgeo/geocube-m2m/service"
	"github.com/airbusgeo/geocube-m2m/service/log"
	"github.com/cavaliercoder/grab"
)

// USGSImageProvider implements ImageProvider for the download links delivered by the M2M service
type USGSImageProvider struct {
	client     *grab.Client
	tries      int
	retryDelay time.Duration
}

// NewUSGSImageProvider creates a new ImageProvider.
// A download is tried at most tries times on temporary errors, waiting retryDelay between two tries.
func NewUSGSImageProvider(tries int, retryDelay time.Duration) *USGSImageProvider {
	if tries <= 0 {
		tries = 1
	}
	client := grab.NewClient()
	client.UserAgent = "geocube-m2m"
	return &USGSImageProvider{client: client, tries: tries, retryDelay: retryDelay}
}

// Name implements ImageProvider
func (ip *USGSImageProvider) Name() string {
	return "USGS"
}

// Download implements ImageProvider
func (ip *USGSImageProvider) Download(ctx context.Context, asset Asset, localFile string) error {
	if asset.URL == "" {
		return service.MakeFatal(ErrProductNotFound{Product: asset.DownloadID})
	}
	if err := os.MkdirAll(filepath.Dir(localFile), 0755); err != nil {
		return fmt.Errorf("USGSImageProvider.MkdirAll: %w", err)
	}

	try := 0
	err := service.Retriable(ctx, func() error {
		try++
		req, err := grab.NewRequest(localFile, asset.URL)
		if err != nil {
			return service.MakeFatal(fmt.Errorf("NewRequest: %w", err))
		}
		req = req.WithContext(ctx)
		req.NoResume = true
		if err := download(ctx, ip.client, req, fmt.Sprintf("%s:%s", ip.Name(), asset.DisplayID)); err != nil {
			os.Remove(localFile)
			if !service.Fatal(err) && try < ip.tries {
				log.Logger(ctx).Sugar().Warnf("download %s failed (try %d/%d): %v", asset.DisplayID, try, ip.tries, err)
			}
			return err
		}
		return nil
	}, ip.retryDelay, ip.tries)
	if err != nil {
		return fmt.Errorf("USGSImageProvider.%w", err)
	}
	log.Logger(ctx).Sugar().Infof("DOWNLOAD: %s => %s", asset.URL, localFile)
	return nil
}
