package catalog

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/airbusgeo/geocube-m2m/catalog/entities"
	"github.com/airbusgeo/geocube-m2m/interface/m2m"
	"github.com/airbusgeo/geocube-m2m/service"
	"github.com/airbusgeo/geocube-m2m/service/log"
)

// ErrNoDataset is returned when the dataset search returns nothing
var ErrNoDataset = errors.New("no dataset found")

// M2M is the subset of the m2m service used by the catalog
type M2M interface {
	DatasetSearch(ctx context.Context, req m2m.DatasetSearchRequest) ([]m2m.Dataset, error)
	SceneSearch(ctx context.Context, req m2m.SceneSearchRequest) (m2m.SceneSearchResult, error)
	DownloadOptions(ctx context.Context, req m2m.DownloadOptionsRequest) ([]m2m.DownloadOption, error)
}

// Catalog is the main class of this package
type Catalog struct {
	Service M2M
}

var labelFormat = regexp.MustCompile(`^[a-zA-Z0-9-:_.]+$`)

// ValidateArea checks the bounding box and the names of the request
func (c *Catalog) ValidateArea(area *entities.AreaToDownload) error {
	if err := area.BBox.Validate(); err != nil {
		return service.MakeFatal(fmt.Errorf("validateArea: %w", err))
	}
	if area.DatasetName == "" {
		return service.MakeFatal(fmt.Errorf("validateArea: dataset name is required"))
	}
	if area.ProductName == "" {
		return service.MakeFatal(fmt.Errorf("validateArea: product name is required"))
	}
	if !labelFormat.MatchString(area.Label) {
		return service.MakeFatal(fmt.Errorf("validateArea: wrong format for label (must be chars, numbers and -:_.): '%s'", area.Label))
	}
	if !area.StartTime.IsZero() && !area.EndTime.IsZero() && area.EndTime.Before(area.StartTime) {
		return service.MakeFatal(fmt.Errorf("validateArea: end time (%v) is before start time (%v)", area.EndTime, area.StartTime))
	}
	if area.MaxResults < 0 || area.MaxScenes < 0 {
		return service.MakeFatal(fmt.Errorf("validateArea: max results and max scenes must be positive"))
	}
	return nil
}

// SpatialFilter returns the minimum bounding rectangle filter of the bounding box
func SpatialFilter(bbox entities.BoundingBox) *m2m.SpatialFilter {
	return &m2m.SpatialFilter{
		FilterType: m2m.FilterTypeMBR,
		LowerLeft:  m2m.Coordinate{Latitude: bbox.LowerLeft.Latitude, Longitude: bbox.LowerLeft.Longitude},
		UpperRight: m2m.Coordinate{Latitude: bbox.UpperRight.Latitude, Longitude: bbox.UpperRight.Longitude},
	}
}

// SearchDataset returns the alias of the first dataset matching the name of the area
func (c *Catalog) SearchDataset(ctx context.Context, area entities.AreaToDownload, filter *m2m.SpatialFilter) (string, error) {
	log.Logger(ctx).Sugar().Infof("Searching datasets '%s' in %s", area.DatasetName, area.BBox)
	datasets, err := c.Service.DatasetSearch(ctx, m2m.DatasetSearchRequest{DatasetName: area.DatasetName, SpatialFilter: filter})
	if err != nil {
		return "", fmt.Errorf("SearchDataset.%w", err)
	}
	if len(datasets) == 0 || datasets[0].DatasetAlias == "" {
		return "", service.MakeFatal(fmt.Errorf("SearchDataset[%s]: %w", area.DatasetName, ErrNoDataset))
	}
	log.Logger(ctx).Sugar().Debugf("%d datasets found, using %s", len(datasets), datasets[0].DatasetAlias)
	return datasets[0].DatasetAlias, nil
}
