package m2m

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/airbusgeo/geocube-m2m/service"
)

// Filter types of a SpatialFilter
const (
	FilterTypeMBR = "mbr"
)

// Coordinate is a point of a spatial filter
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// SpatialFilter is a minimum bounding rectangle
type SpatialFilter struct {
	FilterType string     `json:"filterType"`
	LowerLeft  Coordinate `json:"lowerLeft"`
	UpperRight Coordinate `json:"upperRight"`
}

// AcquisitionFilter restricts the acquisition date of the scenes (YYYY-MM-DD)
type AcquisitionFilter struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type SceneFilter struct {
	SpatialFilter     *SpatialFilter     `json:"spatialFilter,omitempty"`
	AcquisitionFilter *AcquisitionFilter `json:"acquisitionFilter,omitempty"`
}

type DatasetSearchRequest struct {
	DatasetName   string         `json:"datasetName"`
	SpatialFilter *SpatialFilter `json:"spatialFilter,omitempty"`
}

type Dataset struct {
	DatasetID      string `json:"datasetId"`
	DatasetAlias   string `json:"datasetAlias"`
	CollectionName string `json:"collectionName"`
	Abstract       string `json:"abstractText"`
}

type SceneSearchRequest struct {
	DatasetName    string       `json:"datasetName"`
	StartingNumber int          `json:"startingNumber,omitempty"`
	MaxResults     int          `json:"maxResults,omitempty"`
	SceneFilter    *SceneFilter `json:"sceneFilter,omitempty"`
}

type Scene struct {
	EntityID    string `json:"entityId"`
	DisplayID   string `json:"displayId"`
	PublishDate string `json:"publishDate"`
}

type SceneSearchResult struct {
	Results         []Scene `json:"results"`
	RecordsReturned int     `json:"recordsReturned"`
	TotalHits       int     `json:"totalHits"`
	StartingNumber  int     `json:"startingNumber"`
	NextRecord      int     `json:"nextRecord"`
}

type DownloadOptionsRequest struct {
	DatasetName string   `json:"datasetName"`
	EntityIDs   []string `json:"entityIds"`
}

// DownloadOption is a product that can be downloaded for a scene
type DownloadOption struct {
	ID          FlexID `json:"id"`
	EntityID    string `json:"entityId"`
	DisplayID   string `json:"displayId"`
	ProductName string `json:"productName"`
	Available   bool   `json:"available"`
	Filesize    int64  `json:"filesize"`
}

// DownloadInput identifies a product of a scene to be downloaded
type DownloadInput struct {
	EntityID  string `json:"entityId"`
	ProductID string `json:"productId"`
}

type DownloadRequestRequest struct {
	Downloads []DownloadInput `json:"downloads"`
	Label     string          `json:"label"`
}

// Download describes a retrievable asset
type Download struct {
	DownloadID FlexID `json:"downloadId"`
	DisplayID  string `json:"displayId"`
	EntityID   string `json:"entityId"`
	URL        string `json:"url"`
}

type DownloadRequestResult struct {
	AvailableDownloads []Download        `json:"availableDownloads"`
	PreparingDownloads []Download        `json:"preparingDownloads"`
	DuplicateProducts  IDSet             `json:"duplicateProducts"`
	NewRecords         IDSet             `json:"newRecords"`
	Failed             []json.RawMessage `json:"failed"`
	NumInvalidScenes   int               `json:"numInvalidScenes"`
}

// Requested returns the set of the download ids created or already existing for this request
func (r DownloadRequestResult) Requested() service.StringSet {
	return r.NewRecords.StringSet.Union(r.DuplicateProducts.StringSet)
}

type DownloadRetrieveRequest struct {
	Label string `json:"label"`
}

type DownloadRetrieveResult struct {
	Available []Download `json:"available"`
	Requested []Download `json:"requested"`
	QueueSize int        `json:"queueSize"`
}

// FlexID is an identifier that the service may encode as a string or as a number
type FlexID string

// UnmarshalJSON implements json.Unmarshaler
func (id *FlexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = FlexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("FlexID: %w", err)
	}
	*id = FlexID(n.String())
	return nil
}

// IDSet is a set of download ids.
// The service encodes it either as an object whose keys are the ids, or as a list of ids (an empty set is often [])
type IDSet struct {
	service.StringSet
}

// NewIDSet creates a set of ids
func NewIDSet(ids ...string) IDSet {
	return IDSet{service.NewStringSet(ids...)}
}

// UnmarshalJSON implements json.Unmarshaler
func (s *IDSet) UnmarshalJSON(data []byte) error {
	s.StringSet = service.StringSet{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	switch data[0] {
	case '{':
		var m map[string]json.RawMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return fmt.Errorf("IDSet: %w", err)
		}
		for k := range m {
			s.Push(k)
		}
	case '[':
		var l []FlexID
		if err := json.Unmarshal(data, &l); err != nil {
			return fmt.Errorf("IDSet: %w", err)
		}
		for _, id := range l {
			s.Push(string(id))
		}
	default:
		return fmt.Errorf("IDSet: unexpected value %s", data)
	}
	return nil
}

// MarshalJSON implements json.Marshaler
func (s IDSet) MarshalJSON() ([]byte, error) {
	m := make(map[string]string, len(s.StringSet))
	for k := range s.StringSet {
		m[k] = k
	}
	return json.Marshal(m)
}
