package downloader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/airbusgeo/geocube-m2m/catalog"
	"github.com/airbusgeo/geocube-m2m/catalog/entities"
	"github.com/airbusgeo/geocube-m2m/common"
	"github.com/airbusgeo/geocube-m2m/interface/m2m"
	"github.com/airbusgeo/geocube-m2m/interface/provider"
	"github.com/airbusgeo/geocube-m2m/service"
	"github.com/airbusgeo/geocube-m2m/service/log"
	"github.com/airbusgeo/geocube/interface/messaging"
	"github.com/google/uuid"
)

// Service is the subset of the m2m service used by the downloader
type Service interface {
	catalog.M2M
	Login(ctx context.Context, username, password string) (string, error)
	LoginToken(ctx context.Context, username, token string) (string, error)
	Logout(ctx context.Context) error
	DownloadRequest(ctx context.Context, req m2m.DownloadRequestRequest) (m2m.DownloadRequestResult, error)
	DownloadRetrieve(ctx context.Context, req m2m.DownloadRetrieveRequest) (m2m.DownloadRetrieveResult, error)
}

// Credentials of the m2m account. Token is used instead of Password if not empty.
type Credentials struct {
	Username string
	Password string
	Token    string
}

// PartialDownloadError is returned when the service failed to prepare some of the requested products
type PartialDownloadError struct {
	Requested int
	Failed    int
	Files     []string
}

func (e *PartialDownloadError) Error() string {
	return fmt.Sprintf("%d/%d requested products failed (%d downloaded)", e.Failed, e.Requested, len(e.Files))
}

// Downloader runs the whole workflow: login, search, request, poll, download and logout
type Downloader struct {
	service     Service
	catalog     catalog.Catalog
	provider    provider.ImageProvider
	storage     service.Storage
	credentials Credentials
	workdir     string
	policy      PollPolicy
	clock       Clock
	publisher   messaging.Publisher
}

// Option configures the Downloader
type Option func(d *Downloader)

// WithPollPolicy sets the policy of the wait for the preparation of the downloads
func WithPollPolicy(policy PollPolicy) Option {
	return func(d *Downloader) { d.policy = policy }
}

// WithClock sets the clock of the poll loop
func WithClock(clock Clock) Option {
	return func(d *Downloader) { d.clock = clock }
}

// WithWorkdir sets the directory of the temporary files (when the storage is remote)
func WithWorkdir(workdir string) Option {
	return func(d *Downloader) { d.workdir = workdir }
}

// WithPublisher publishes a common.Result at the end of each run
func WithPublisher(publisher messaging.Publisher) Option {
	return func(d *Downloader) { d.publisher = publisher }
}

// New creates a Downloader
func New(svc Service, imageProvider provider.ImageProvider, storage service.Storage, credentials Credentials, options ...Option) *Downloader {
	d := &Downloader{
		service:     svc,
		catalog:     catalog.Catalog{Service: svc},
		provider:    imageProvider,
		storage:     storage,
		credentials: credentials,
		workdir:     os.TempDir(),
		policy:      DefaultPollPolicy(),
		clock:       RealClock,
	}
	for _, o := range options {
		o(d)
	}
	return d
}

// run holds the state of one run
type run struct {
	area       entities.AreaToDownload
	localDir   string
	displayIDs map[string]string // entityID => displayID
	requested  service.StringSet // download ids that were created or already existed for this request
	retrieved  service.StringSet
	result     common.Result
}

// Run downloads the products of the area.
// It returns the result of the run (with the names of the downloaded files) and an error if the run did not complete.
// On a service or transport error, it returns immediately without any other call (logout included).
// ErrPollTimeout and *PartialDownloadError are returned after the logout.
func (d *Downloader) Run(ctx context.Context, area entities.AreaToDownload) (common.Result, error) {
	r := &run{
		area:      area,
		retrieved: service.StringSet{},
		result: common.Result{
			Label:   area.Label,
			Product: area.ProductName,
			Status:  common.StatusFAILED,
		},
	}
	ctx = log.With(ctx, "label", area.Label)

	if err := d.catalog.ValidateArea(&area); err != nil {
		return r.result, fmt.Errorf("Run.%w", err)
	}
	if err := d.policy.Validate(); err != nil {
		return r.result, service.MakeFatal(fmt.Errorf("Run.PollPolicy: %w", err))
	}

	// Working dir: the assets are downloaded in place unless the storage is remote
	if ls, ok := d.storage.(*service.LocalStorage); ok && !d.storage.Remote() {
		r.localDir = ls.Dir
	} else {
		r.localDir = filepath.Join(d.workdir, uuid.New().String())
		if err := os.MkdirAll(r.localDir, 0766); err != nil {
			return r.result, service.MakeTemporary(fmt.Errorf("make directory %s: %w", r.localDir, err))
		}
		defer os.RemoveAll(r.localDir)
	}

	if err := d.login(ctx); err != nil {
		return r.result, fmt.Errorf("Run.%w", err)
	}

	err := d.search(ctx, r)
	if err != nil && !isOutcome(err) {
		return r.result, fmt.Errorf("Run.%w", err)
	}

	d.logout(ctx)
	r.result.CompletedAt = d.clock.Now()
	d.publish(ctx, r.result)
	return r.result, err
}

func isOutcome(err error) bool {
	var perr *PartialDownloadError
	return errors.Is(err, ErrPollTimeout) || errors.As(err, &perr)
}

func (d *Downloader) login(ctx context.Context) error {
	var err error
	if d.credentials.Token != "" {
		_, err = d.service.LoginToken(ctx, d.credentials.Username, d.credentials.Token)
	} else {
		_, err = d.service.Login(ctx, d.credentials.Username, d.credentials.Password)
	}
	if err != nil {
		return err
	}
	log.Logger(ctx).Sugar().Infof("logged in as %s", d.credentials.Username)
	return nil
}

func (d *Downloader) logout(ctx context.Context) {
	if err := d.service.Logout(ctx); err != nil {
		log.Logger(ctx).Sugar().Warnf("Logout Failed: %v", err)
		return
	}
	log.Logger(ctx).Info("Logged Out")
}

func (d *Downloader) publish(ctx context.Context, result common.Result) {
	if d.publisher == nil {
		return
	}
	data, err := json.Marshal(result)
	if err == nil {
		err = d.publisher.Publish(ctx, data)
	}
	if err != nil {
		log.Logger(ctx).Sugar().Errorf("publish result: %v", err)
	}
}

// search finds the products of the area and downloads them
func (d *Downloader) search(ctx context.Context, r *run) error {
	filter := catalog.SpatialFilter(r.area.BBox)
	alias, err := d.catalog.SearchDataset(ctx, r.area, filter)
	if err != nil {
		return err
	}
	r.result.Dataset = alias

	scenes, err := d.catalog.ScenesInventory(ctx, r.area, alias, filter)
	if err != nil {
		return err
	}
	if len(scenes.Scenes) == 0 {
		log.Logger(ctx).Info("Search found no results")
		r.result.Status = common.StatusNORESULT
		r.result.Message = "search found no results"
		return nil
	}

	products, err := d.catalog.AvailableProducts(ctx, scenes, r.area.ProductName)
	if err != nil {
		return err
	}
	if len(products) == 0 {
		log.Logger(ctx).Sugar().Infof("No '%s' product available for the %d scenes", r.area.ProductName, len(scenes.Scenes))
		r.result.Status = common.StatusNORESULT
		r.result.Message = "no product available"
		return nil
	}
	r.displayIDs = map[string]string{}
	for _, p := range products {
		r.displayIDs[p.EntityID] = p.DisplayID
	}

	return d.download(ctx, r, products)
}

// download requests the products and retrieves them, polling the service if some of them are being prepared
func (d *Downloader) download(ctx context.Context, r *run, products []entities.Product) error {
	res, err := d.service.DownloadRequest(ctx, m2m.DownloadRequestRequest{Downloads: catalog.DownloadInputs(products), Label: r.area.Label})
	if err != nil {
		return err
	}
	r.requested = res.Requested()
	r.result.Requested = len(products)
	r.result.Failed = len(res.Failed)
	log.Logger(ctx).Sugar().Debugf("%d products requested: %d available, %d preparing, %d failed",
		len(products), len(res.AvailableDownloads), len(res.PreparingDownloads), len(res.Failed))

	if len(res.PreparingDownloads) > 0 {
		if err := d.waitAndRetrieve(ctx, r); err != nil {
			return err
		}
	} else {
		for _, dl := range res.AvailableDownloads {
			if err := d.retrieve(ctx, r, dl); err != nil {
				return err
			}
		}
		log.Logger(ctx).Info("All downloads are available to download")
	}

	r.result.Status = common.StatusDONE
	if r.result.Failed > 0 {
		r.result.Status = common.StatusPARTIAL
		return &PartialDownloadError{Requested: r.result.Requested, Failed: r.result.Failed, Files: r.result.Files}
	}
	return nil
}

// waitAndRetrieve downloads the products as soon as they are available
func (d *Downloader) waitAndRetrieve(ctx context.Context, r *run) error {
	req := m2m.DownloadRetrieveRequest{Label: r.area.Label}
	ret, err := d.service.DownloadRetrieve(ctx, req)
	if err != nil {
		return err
	}
	for _, dls := range [][]m2m.Download{ret.Available, ret.Requested} {
		for _, dl := range dls {
			if r.requested.Exists(string(dl.DownloadID)) {
				if err := d.retrieve(ctx, r, dl); err != nil {
					return err
				}
			}
		}
	}

	p := newPoller(d.policy, d.clock)
	for len(r.retrieved) < r.result.Requested-r.result.Failed {
		wait, err := p.next()
		if err != nil {
			r.result.Status = common.StatusTIMEOUT
			r.result.Message = fmt.Sprintf("%d downloads are not available", r.result.Requested-r.result.Failed-len(r.retrieved))
			return err
		}
		log.Logger(ctx).Sugar().Infof("%d downloads are not available. Waiting for %v", r.result.Requested-r.result.Failed-len(r.retrieved), wait)
		select {
		case <-d.clock.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}

		log.Logger(ctx).Debug("Trying to retrieve data")
		if ret, err = d.service.DownloadRetrieve(ctx, req); err != nil {
			return err
		}
		for _, dl := range ret.Available {
			if r.requested.Exists(string(dl.DownloadID)) {
				if err := d.retrieve(ctx, r, dl); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// retrieve downloads the asset, persists it as <displayId>.tif and records it. An asset already retrieved is skipped.
func (d *Downloader) retrieve(ctx context.Context, r *run, dl m2m.Download) error {
	downloadID := string(dl.DownloadID)
	if r.retrieved.Exists(downloadID) {
		return nil
	}
	displayID := common.AssetDisplayID(downloadID, dl.DisplayID, r.displayIDs[dl.EntityID])
	name := common.AssetFileName(displayID)
	localFile := filepath.Join(r.localDir, name)

	asset := provider.Asset{DownloadID: downloadID, DisplayID: displayID, URL: dl.URL}
	if err := d.provider.Download(ctx, asset, localFile); err != nil {
		return fmt.Errorf("retrieve[%s].%w", displayID, err)
	}
	uri, err := d.storage.SaveAsset(ctx, localFile, name)
	if err != nil {
		return fmt.Errorf("retrieve[%s].%w", displayID, err)
	}

	r.retrieved.Push(downloadID)
	r.result.Files = append(r.result.Files, name)
	r.result.URIs = append(r.result.URIs, uri)
	return nil
}
