package catalog

import (
	"context"
	"fmt"

	"github.com/airbusgeo/geocube-m2m/catalog/entities"
	"github.com/airbusgeo/geocube-m2m/interface/m2m"
	"github.com/airbusgeo/geocube-m2m/service"
	"github.com/airbusgeo/geocube-m2m/service/log"
)

const (
	// DefaultMaxResults is the default page size of the scene search
	DefaultMaxResults = 100
	acquisitionLayout = "2006-01-02"
)

// SceneFilter returns the filter of the scene search, reusing the spatial filter of the dataset search
func SceneFilter(area entities.AreaToDownload, filter *m2m.SpatialFilter) *m2m.SceneFilter {
	sf := &m2m.SceneFilter{SpatialFilter: filter}
	if !area.StartTime.IsZero() || !area.EndTime.IsZero() {
		sf.AcquisitionFilter = &m2m.AcquisitionFilter{}
		if !area.StartTime.IsZero() {
			sf.AcquisitionFilter.Start = area.StartTime.Format(acquisitionLayout)
		}
		if !area.EndTime.IsZero() {
			sf.AcquisitionFilter.End = area.EndTime.Format(acquisitionLayout)
		}
	}
	return sf
}

// ScenesInventory lists the scenes of the dataset covering the area.
// The pages are requested until the service has no more records or MaxScenes is reached.
func (c *Catalog) ScenesInventory(ctx context.Context, area entities.AreaToDownload, datasetAlias string, filter *m2m.SpatialFilter) (entities.Scenes, error) {
	pageSize := area.MaxResults
	if pageSize <= 0 {
		pageSize = DefaultMaxResults
	}
	if area.MaxScenes > 0 && area.MaxScenes < pageSize {
		pageSize = area.MaxScenes
	}

	scenes := entities.Scenes{DatasetAlias: datasetAlias}
	seen := service.StringSet{}
	req := m2m.SceneSearchRequest{
		DatasetName:    datasetAlias,
		StartingNumber: 1,
		MaxResults:     pageSize,
		SceneFilter:    SceneFilter(area, filter),
	}

	log.Logger(ctx).Sugar().Infof("Searching scenes of %s...", datasetAlias)
	for {
		page, err := c.Service.SceneSearch(ctx, req)
		if err != nil {
			return entities.Scenes{}, fmt.Errorf("ScenesInventory.%w", err)
		}
		scenes.TotalHits = page.TotalHits
		if page.RecordsReturned <= 0 {
			break
		}
		for _, s := range page.Results {
			if s.EntityID == "" || seen.Exists(s.EntityID) {
				continue
			}
			seen.Push(s.EntityID)
			scenes.Scenes = append(scenes.Scenes, &entities.Scene{EntityID: s.EntityID, DisplayID: s.DisplayID, PublishDate: s.PublishDate})
			if area.MaxScenes > 0 && len(scenes.Scenes) >= area.MaxScenes {
				break
			}
		}
		if area.MaxScenes > 0 && len(scenes.Scenes) >= area.MaxScenes {
			break
		}
		if page.NextRecord <= req.StartingNumber || (page.TotalHits > 0 && page.NextRecord > page.TotalHits) {
			break
		}
		req.StartingNumber = page.NextRecord
	}

	log.Logger(ctx).Sugar().Debugf("%d scenes found (total hits: %d)", len(scenes.Scenes), scenes.TotalHits)
	return scenes, nil
}

// AvailableProducts returns the products of the scenes that are available and named productName
func (c *Catalog) AvailableProducts(ctx context.Context, scenes entities.Scenes, productName string) ([]entities.Product, error) {
	entityIDs := scenes.EntityIDs()
	options, err := c.Service.DownloadOptions(ctx, m2m.DownloadOptionsRequest{DatasetName: scenes.DatasetAlias, EntityIDs: entityIDs})
	if err != nil {
		return nil, fmt.Errorf("AvailableProducts.%w", err)
	}

	displayIDs := scenes.DisplayIDs()
	products := FilterProducts(options, productName)
	for i := range products {
		if products[i].DisplayID == "" {
			products[i].DisplayID = displayIDs[products[i].EntityID]
		}
	}
	log.Logger(ctx).Sugar().Debugf("%d/%d download options are available '%s'", len(products), len(options), productName)
	return products, nil
}

// FilterProducts keeps the options that are available and whose product name is exactly productName
func FilterProducts(options []m2m.DownloadOption, productName string) []entities.Product {
	var products []entities.Product
	for _, o := range options {
		if o.Available && o.ProductName == productName {
			products = append(products, entities.Product{
				EntityID:  o.EntityID,
				ProductID: string(o.ID),
				DisplayID: o.DisplayID,
				Name:      o.ProductName,
			})
		}
	}
	return products
}

// DownloadInputs converts the products to the input of a download request
func DownloadInputs(products []entities.Product) []m2m.DownloadInput {
	inputs := make([]m2m.DownloadInput, len(products))
	for i, p := range products {
		inputs[i] = m2m.DownloadInput{EntityID: p.EntityID, ProductID: p.ProductID}
	}
	return inputs
}
