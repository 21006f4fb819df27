package entities

import (
	"fmt"
	"time"

	"github.com/go-spatial/geom"
)

// LatLon is a point in geographic coordinates (degrees)
type LatLon struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// BoundingBox is a rectangle in geographic coordinates
type BoundingBox struct {
	LowerLeft  LatLon `json:"lower_left"`
	UpperRight LatLon `json:"upper_right"`
}

// NewBoundingBox creates a bounding box from the latitude and the longitude ranges
func NewBoundingBox(lat, lon [2]float64) BoundingBox {
	return BoundingBox{
		LowerLeft:  LatLon{Latitude: lat[0], Longitude: lon[0]},
		UpperRight: LatLon{Latitude: lat[1], Longitude: lon[1]},
	}
}

// NewBoundingBoxFromExtent creates a bounding box from an extent in lon/lat
func NewBoundingBoxFromExtent(e *geom.Extent) BoundingBox {
	return BoundingBox{
		LowerLeft:  LatLon{Latitude: e.MinY(), Longitude: e.MinX()},
		UpperRight: LatLon{Latitude: e.MaxY(), Longitude: e.MaxX()},
	}
}

// Extent returns the bounding box as an extent in lon/lat
func (b BoundingBox) Extent() *geom.Extent {
	return geom.NewExtent(
		[2]float64{b.LowerLeft.Longitude, b.LowerLeft.Latitude},
		[2]float64{b.UpperRight.Longitude, b.UpperRight.Latitude},
	)
}

// Validate checks the ranges and the ordering of the coordinates
func (b BoundingBox) Validate() error {
	for _, p := range []LatLon{b.LowerLeft, b.UpperRight} {
		if p.Latitude < -90 || p.Latitude > 90 {
			return fmt.Errorf("latitude out of range [-90, 90]: %f", p.Latitude)
		}
		if p.Longitude < -180 || p.Longitude > 180 {
			return fmt.Errorf("longitude out of range [-180, 180]: %f", p.Longitude)
		}
	}
	if b.LowerLeft.Latitude >= b.UpperRight.Latitude {
		return fmt.Errorf("lower latitude (%f) must be less than upper latitude (%f)", b.LowerLeft.Latitude, b.UpperRight.Latitude)
	}
	if b.LowerLeft.Longitude >= b.UpperRight.Longitude {
		return fmt.Errorf("lower longitude (%f) must be less than upper longitude (%f)", b.LowerLeft.Longitude, b.UpperRight.Longitude)
	}
	return nil
}

func (b BoundingBox) String() string {
	return fmt.Sprintf("lat [%g, %g] lon [%g, %g]", b.LowerLeft.Latitude, b.UpperRight.Latitude, b.LowerLeft.Longitude, b.UpperRight.Longitude)
}

// AreaToDownload is the input of the catalog
type AreaToDownload struct {
	BBox        BoundingBox `json:"bbox"`
	DatasetName string      `json:"dataset"`
	ProductName string      `json:"product"`
	Label       string      `json:"label"`
	StartTime   time.Time   `json:"start_time"`
	EndTime     time.Time   `json:"end_time"`
	MaxResults  int         `json:"max_results"` // Page size of the scene search
	MaxScenes   int         `json:"max_scenes"`  // 0: no limit
}

// Scene is a catalog entry matching the area
type Scene struct {
	EntityID    string `json:"entity_id"`
	DisplayID   string `json:"display_id"`
	PublishDate string `json:"publish_date,omitempty"`
}

// Scenes is the result of a scene inventory
type Scenes struct {
	DatasetAlias string   `json:"dataset"`
	Scenes       []*Scene `json:"scenes"`
	TotalHits    int      `json:"total_hits"`
}

// EntityIDs returns the entity ids of the scenes, in order
func (s Scenes) EntityIDs() []string {
	ids := make([]string, len(s.Scenes))
	for i, scene := range s.Scenes {
		ids[i] = scene.EntityID
	}
	return ids
}

// DisplayIDs returns a map entityID => displayID
func (s Scenes) DisplayIDs() map[string]string {
	ids := make(map[string]string, len(s.Scenes))
	for _, scene := range s.Scenes {
		ids[scene.EntityID] = scene.DisplayID
	}
	return ids
}

// Product is a downloadable product of a scene
type Product struct {
	EntityID  string
	ProductID string
	DisplayID string
	Name      string
}
