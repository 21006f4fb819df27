package entities

import (
	"testing"
)

func TestBoundingBoxValidate(t *testing.T) {
	valid := []BoundingBox{
		NewBoundingBox([2]float64{39.5, 40.5}, [2]float64{-105.5, -104.5}),
		NewBoundingBox([2]float64{-90, 90}, [2]float64{-180, 180}),
	}
	for _, b := range valid {
		if err := b.Validate(); err != nil {
			t.Errorf("%s: %v", b, err)
		}
	}

	invalid := []BoundingBox{
		NewBoundingBox([2]float64{40.5, 39.5}, [2]float64{-105.5, -104.5}),
		NewBoundingBox([2]float64{39.5, 40.5}, [2]float64{-104.5, -105.5}),
		NewBoundingBox([2]float64{39.5, 39.5}, [2]float64{-105.5, -104.5}),
		NewBoundingBox([2]float64{-91, 40.5}, [2]float64{-105.5, -104.5}),
		NewBoundingBox([2]float64{39.5, 40.5}, [2]float64{-105.5, 181}),
	}
	for _, b := range invalid {
		if err := b.Validate(); err == nil {
			t.Errorf("%s: expecting an error", b)
		}
	}
}

func TestBoundingBoxExtent(t *testing.T) {
	b := NewBoundingBox([2]float64{39.5, 40.5}, [2]float64{-105.5, -104.5})
	e := b.Extent()
	if e.MinX() != -105.5 || e.MinY() != 39.5 || e.MaxX() != -104.5 || e.MaxY() != 40.5 {
		t.Errorf("wrong extent %v", *e)
	}
	if NewBoundingBoxFromExtent(e) != b {
		t.Errorf("expecting %s found %s", b, NewBoundingBoxFromExtent(e))
	}
}

func TestScenesIDs(t *testing.T) {
	scenes := Scenes{Scenes: []*Scene{
		{EntityID: "SRTM1N39W106V3", DisplayID: "N39W106"},
		{EntityID: "SRTM1N40W106V3", DisplayID: "N40W106"},
	}}
	ids := scenes.EntityIDs()
	if len(ids) != 2 || ids[0] != "SRTM1N39W106V3" || ids[1] != "SRTM1N40W106V3" {
		t.Errorf("wrong entity ids %v", ids)
	}
	if d := scenes.DisplayIDs()["SRTM1N40W106V3"]; d != "N40W106" {
		t.Errorf("expecting N40W106 found %s", d)
	}
}
