package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/airbusgeo/geocube-m2m/catalog"
	"github.com/airbusgeo/geocube-m2m/catalog/entities"
	"github.com/airbusgeo/geocube-m2m/downloader"
	"github.com/airbusgeo/geocube-m2m/interface/m2m"
	"github.com/airbusgeo/geocube-m2m/interface/provider"
	"github.com/airbusgeo/geocube-m2m/service"
	"github.com/airbusgeo/geocube-m2m/service/log"
	"github.com/airbusgeo/geocube/interface/messaging/pubsub"
	"github.com/araddon/dateparse"
	"go.uber.org/zap"
)

type config struct {
	M2MURL         string
	Username       string
	Password       string
	Token          string
	RequestTimeout time.Duration

	Area entities.AreaToDownload

	OutDir            string
	WorkingDir        string
	S3Region          string
	S3AccessKeyID     string
	S3SecretAccessKey string

	Poll          downloader.PollPolicy
	DownloadTries int

	PsProject  string
	EventTopic string
}

// latLonRange is a flag "lower,upper"
type latLonRange [2]float64

func (r *latLonRange) String() string {
	return fmt.Sprintf("%g,%g", r[0], r[1])
}

func (r *latLonRange) Set(s string) error {
	values := strings.Split(s, ",")
	if len(values) != 2 {
		return fmt.Errorf("expecting two comma-separated values: %s", s)
	}
	for i, v := range values {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return err
		}
		r[i] = f
	}
	return nil
}

func newAppConfig(args []string) (*config, error) {
	config := config{}
	flags := flag.NewFlagSet("downloader", flag.ContinueOnError)

	// M2M service
	flags.StringVar(&config.M2MURL, "m2m-url", m2m.DefaultURL, "url of the M2M service")
	flags.StringVar(&config.Username, "m2m-username", "", "M2M account username")
	flags.StringVar(&config.Password, "m2m-password", "", "M2M account password (or -m2m-token)")
	flags.StringVar(&config.Token, "m2m-token", "", "M2M application token (or -m2m-password)")
	flags.DurationVar(&config.RequestTimeout, "m2m-timeout", 2*time.Minute, "timeout of a request to the M2M service")

	// Area
	lat := latLonRange{39.5, 40.5}
	lon := latLonRange{-105.5, -104.5}
	flags.Var(&lat, "lat", "lower and upper latitudes of the bounding box (comma-separated)")
	flags.Var(&lon, "lon", "lower and upper longitudes of the bounding box (comma-separated)")
	aoiFile := flags.String("aoi", "", "geojson file (optional). Its extent overrides -lat and -lon")
	flags.StringVar(&config.Area.DatasetName, "dataset", "SRTM 1 Arc-Second Global", "name of the dataset")
	flags.StringVar(&config.Area.ProductName, "product", "GeoTIFF 1 Arc-second", "name of the product to download")
	flags.StringVar(&config.Area.Label, "label", "download-sample", "label of the download request")
	start := flags.String("start", "", "start of the acquisition (optional, any date format)")
	end := flags.String("end", "", "end of the acquisition (optional, any date format)")
	flags.IntVar(&config.Area.MaxResults, "max-results", catalog.DefaultMaxResults, "page size of the scene search")
	flags.IntVar(&config.Area.MaxScenes, "max-scenes", 0, "maximum number of scenes (0: all)")

	// Storage
	flags.StringVar(&config.OutDir, "outdir", "geotif", "output location (local directory, gs://bucket/prefix or s3://bucket/prefix)")
	flags.StringVar(&config.WorkingDir, "workdir", os.TempDir(), "working directory to store the downloads before their upload (remote outdir only)")
	flags.StringVar(&config.S3Region, "s3-region", "", "region of the s3 bucket (optional)")
	flags.StringVar(&config.S3AccessKeyID, "s3-access-key-id", "", "s3 access key id (optional, default credential chain otherwise)")
	flags.StringVar(&config.S3SecretAccessKey, "s3-secret-access-key", "", "s3 secret access key (optional)")

	// Polling
	policy := downloader.DefaultPollPolicy()
	flags.DurationVar(&config.Poll.Interval, "poll-interval", policy.Interval, "first wait before retrieving the downloads being prepared")
	flags.DurationVar(&config.Poll.MaxInterval, "poll-max-interval", policy.MaxInterval, "maximum wait between two retrievals")
	flags.Float64Var(&config.Poll.Multiplier, "poll-multiplier", policy.Multiplier, "growth of the wait between two retrievals")
	flags.IntVar(&config.Poll.MaxAttempts, "poll-max-attempts", policy.MaxAttempts, "maximum number of retrievals (0: unlimited)")
	flags.DurationVar(&config.Poll.Timeout, "poll-timeout", policy.Timeout, "maximum duration of the polling (0: unlimited)")
	flags.IntVar(&config.DownloadTries, "download-tries", 3, "number of tries of a download on temporary errors")

	// Messaging
	flags.StringVar(&config.PsProject, "ps-project", "", "pubsub project (gcp only/not required in local usage)")
	flags.StringVar(&config.EventTopic, "event-topic", "", "pubsub topic to publish the result of the run (optional)")

	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	if config.Username == "" {
		return nil, fmt.Errorf("missing m2m-username config flag")
	}
	if (config.Password == "") == (config.Token == "") {
		return nil, fmt.Errorf("exactly one of m2m-password and m2m-token config flags is required")
	}
	if config.OutDir == "" {
		return nil, fmt.Errorf("missing outdir config flag")
	}
	if config.DownloadTries < 1 {
		return nil, fmt.Errorf("download-tries must be at least 1")
	}
	if err := config.Poll.Validate(); err != nil {
		return nil, err
	}

	config.Area.BBox = entities.NewBoundingBox(lat, lon)
	if *aoiFile != "" {
		data, err := os.ReadFile(*aoiFile)
		if err != nil {
			return nil, fmt.Errorf("aoi: %w", err)
		}
		extent, err := service.ExtentFromGeoJSON(data)
		if err != nil {
			return nil, fmt.Errorf("aoi: %w", err)
		}
		config.Area.BBox = entities.NewBoundingBoxFromExtent(extent)
	}
	if err := config.Area.BBox.Validate(); err != nil {
		return nil, err
	}

	var err error
	if *start != "" {
		if config.Area.StartTime, err = dateparse.ParseIn(*start, time.UTC); err != nil {
			return nil, fmt.Errorf("start: %w", err)
		}
	}
	if *end != "" {
		if config.Area.EndTime, err = dateparse.ParseIn(*end, time.UTC); err != nil {
			return nil, fmt.Errorf("end: %w", err)
		}
	}
	if config.EventTopic != "" && config.PsProject == "" {
		return nil, fmt.Errorf("missing ps-project config flag to publish on %s", config.EventTopic)
	}
	return &config, nil
}

func main() {
	ctx := context.Background()
	err := run(ctx)
	if err != nil {
		log.Fatal("error", zap.Error(err))
	}
}

func run(ctx context.Context) error {
	config, err := newAppConfig(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	var storageOptions []service.StorageOption
	if config.S3Region != "" {
		storageOptions = append(storageOptions, service.WithS3Region(config.S3Region))
	}
	if config.S3AccessKeyID != "" {
		storageOptions = append(storageOptions, service.WithS3Credentials(config.S3AccessKeyID, config.S3SecretAccessKey))
	}
	storageService, err := service.NewStorageStrategy(ctx, config.OutDir, storageOptions...)
	if err != nil {
		return fmt.Errorf("storage %s: %w", config.OutDir, err)
	}

	options := []downloader.Option{
		downloader.WithPollPolicy(config.Poll),
		downloader.WithWorkdir(config.WorkingDir),
	}
	if config.EventTopic != "" {
		eventTopic, err := pubsub.NewPublisher(ctx, config.PsProject, config.EventTopic, pubsub.WithMaxRetries(5))
		if err != nil {
			return fmt.Errorf("pubsub.NewPublisher: %w", err)
		}
		defer eventTopic.Stop()
		options = append(options, downloader.WithPublisher(eventTopic))
	}

	d := downloader.New(
		m2m.NewClient(config.M2MURL, m2m.WithTimeout(config.RequestTimeout)),
		provider.NewUSGSImageProvider(config.DownloadTries, 10*time.Second),
		storageService,
		downloader.Credentials{Username: config.Username, Password: config.Password, Token: config.Token},
		options...,
	)

	log.Logger(ctx).Sugar().Infof("Running downloader on %s (dataset: %s, product: %s) to %s",
		config.Area.BBox, config.Area.DatasetName, config.Area.ProductName, config.OutDir)
	result, err := d.Run(ctx, config.Area)
	if err != nil {
		return err
	}
	log.Logger(ctx).Sugar().Infof("%s: %d files downloaded %v", result.Status, len(result.Files), result.Files)
	return nil
}
