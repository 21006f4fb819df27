package service

import (
	"fmt"

	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/encoding/geojson"
)

// UnmarshalGeometry, merging featureCollections and geometryCollections into a multipolygon
func UnmarshalGeometry(data []byte) (_ geom.Geometry, err error) {
	var g geojson.Geometry
	if err := g.UnmarshalJSON(data); err != nil {
		return g.Geometry, err
	}
	switch geo := g.Geometry.(type) {
	case geojson.FeatureCollection:
		var mp geom.MultiPolygon
		for _, f := range geo.Features {
			if err := mergeMultiPolygons(f.Geometry.Geometry, &mp); err != nil {
				return nil, err
			}
		}
		return mp, nil
	case geojson.Feature:
		return geo.Geometry.Geometry, nil
	default:
		return g.Geometry, nil
	}
}

// ExtentFromGeoJSON returns the minimum bounding rectangle of a geojson geometry, feature or feature collection
func ExtentFromGeoJSON(data []byte) (*geom.Extent, error) {
	g, err := UnmarshalGeometry(data)
	if err != nil {
		return nil, fmt.Errorf("ExtentFromGeoJSON.Unmarshal: %w", err)
	}
	if g == nil {
		return nil, fmt.Errorf("ExtentFromGeoJSON: empty geometry")
	}
	extent, err := geom.NewExtentFromGeometry(g)
	if err != nil {
		return nil, fmt.Errorf("ExtentFromGeoJSON.Extent: %w", err)
	}
	return extent, nil
}

func mergeMultiPolygons(g geom.Geometry, mp *geom.MultiPolygon) error {
	switch g := g.(type) {
	case geom.MultiPolygon:
		*mp = append(*mp, g.Polygons()...)
	case geom.Polygon:
		*mp = append(*mp, g.LinearRings())
	case geom.Collection:
		for _, g := range g.Geometries() {
			if err := mergeMultiPolygons(g, mp); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("mergeMultiPolygons: unsupported geometry %T", g)
	}
	return nil
}
