package downloader_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/airbusgeo/geocube-m2m/catalog/entities"
	"github.com/airbusgeo/geocube-m2m/common"
	"github.com/airbusgeo/geocube-m2m/downloader"
	"github.com/airbusgeo/geocube-m2m/interface/m2m"
	"github.com/airbusgeo/geocube-m2m/interface/provider"
	"github.com/airbusgeo/geocube-m2m/service"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

const (
	productName = "GeoTIFF 1 Arc-second"
	label       = "download-sample"
)

var _ = Describe("Downloader", func() {
	var (
		ctx       context.Context
		fake      *fakeM2M
		clock     *fakeClock
		publisher *MokePublisher
		outdir    string
		policy    downloader.PollPolicy
		storage   service.Storage
		workdir   string
		area      entities.AreaToDownload
		result    common.Result
		err       error
	)

	run := func() {
		if storage == nil {
			var e error
			storage, e = service.NewStorageStrategy(ctx, outdir)
			Expect(e).NotTo(HaveOccurred())
		}
		d := downloader.New(
			m2m.NewClient(fake.URL()),
			provider.NewUSGSImageProvider(1, 0),
			storage,
			downloader.Credentials{Username: "user", Password: "password"},
			downloader.WithClock(clock),
			downloader.WithPollPolicy(policy),
			downloader.WithPublisher(publisher),
			downloader.WithWorkdir(workdir),
		)
		result, err = d.Run(ctx, area)
	}

	expectFiles := func(names ...string) {
		Expect(result.Files).To(ConsistOf(names))
		for _, name := range names {
			b, e := os.ReadFile(filepath.Join(outdir, name))
			Expect(e).NotTo(HaveOccurred())
			Expect(string(b)).To(HavePrefix("tif-"))
		}
	}

	BeforeEach(func() {
		ctx = context.Background()
		fake = newFakeM2M()
		clock = &fakeClock{now: time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC)}
		publisher = &MokePublisher{}
		outdir, err = os.MkdirTemp("", "geotif")
		Expect(err).NotTo(HaveOccurred())
		workdir, err = os.MkdirTemp("", "workdir")
		Expect(err).NotTo(HaveOccurred())
		storage = nil
		policy = downloader.PollPolicy{Interval: 30 * time.Second, MaxInterval: time.Minute, Multiplier: 1.5, MaxAttempts: 10}
		area = entities.AreaToDownload{
			BBox:        entities.NewBoundingBox([2]float64{39.5, 40.5}, [2]float64{-105.5, -104.5}),
			DatasetName: "SRTM 1 Arc-Second Global",
			ProductName: productName,
			Label:       label,
		}

		fake.datasets = []m2m.Dataset{{DatasetAlias: "srtm_v2", CollectionName: "SRTM 1 Arc-Second Global"}}
		fake.scenes = m2m.SceneSearchResult{
			RecordsReturned: 3,
			TotalHits:       3,
			StartingNumber:  1,
			NextRecord:      4,
			Results: []m2m.Scene{
				{EntityID: "SRTM1N39W106V3", DisplayID: "N39W106"},
				{EntityID: "SRTM1N40W106V3", DisplayID: "N40W106"},
				{EntityID: "SRTM1N39W105V3", DisplayID: "N39W105"},
			},
		}
		fake.options = []m2m.DownloadOption{
			{ID: "p1", EntityID: "SRTM1N39W106V3", ProductName: productName, Available: true},
			{ID: "b1", EntityID: "SRTM1N39W106V3", ProductName: "BIL 1 Arc-second", Available: true},
			{ID: "p2", EntityID: "SRTM1N40W106V3", ProductName: productName, Available: true},
			{ID: "p3", EntityID: "SRTM1N39W105V3", ProductName: productName, Available: true},
		}
	})

	AfterEach(func() {
		fake.Close()
		os.RemoveAll(outdir)
		os.RemoveAll(workdir)
	})

	Context("when the scene search returns nothing", func() {
		BeforeEach(func() {
			fake.scenes = m2m.SceneSearchResult{RecordsReturned: 0, TotalHits: 0}
			run()
		})

		It("should logout without requesting any download", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(fake.Calls()).To(Equal([]string{
				m2m.EndpointLogin,
				m2m.EndpointDatasetSearch,
				m2m.EndpointSceneSearch,
				m2m.EndpointLogout,
			}))
			Expect(result.Status).To(Equal(common.StatusNORESULT))
			Expect(result.Files).To(BeEmpty())
		})

		It("should publish the result", func() {
			Expect(publisher.messages).To(HaveLen(1))
			var published common.Result
			Expect(json.Unmarshal(publisher.messages[0], &published)).To(Succeed())
			Expect(published.Status).To(Equal(common.StatusNORESULT))
			Expect(published.Dataset).To(Equal("srtm_v2"))
		})
	})

	Context("when no product is available", func() {
		BeforeEach(func() {
			for i := range fake.options {
				fake.options[i].Available = false
			}
			run()
		})

		It("should logout without requesting any download", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(fake.Count(m2m.EndpointDownloadRequest)).To(Equal(0))
			Expect(fake.Calls()).To(HaveLen(5))
			Expect(fake.Calls()[4]).To(Equal(m2m.EndpointLogout))
			Expect(result.Status).To(Equal(common.StatusNORESULT))
		})
	})

	Context("when all the downloads are available", func() {
		BeforeEach(func() {
			fake.options[3].Available = false
			fake.request = m2m.DownloadRequestResult{
				AvailableDownloads: []m2m.Download{
					fake.Download("101", "SRTM1N39W106V3", "N39W106"),
					fake.Download("102", "SRTM1N40W106V3", ""),
				},
				NewRecords: m2m.NewIDSet("101", "102"),
			}
			run()
		})

		It("should download each of them exactly once without polling", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(fake.Count(m2m.EndpointDownloadRetrieve)).To(Equal(0))
			Expect(fake.Downloads()).To(Equal(map[string]int{"101": 1, "102": 1}))
			Expect(clock.waits).To(BeEmpty())
		})

		It("should name the files after the display ids", func() {
			expectFiles("N39W106.tif", "N40W106.tif")
			Expect(result.URIs).To(ConsistOf(filepath.Join(outdir, "N39W106.tif"), filepath.Join(outdir, "N40W106.tif")))
			Expect(result.Status).To(Equal(common.StatusDONE))
			Expect(result.Requested).To(Equal(2))
		})

		It("should carry the token and logout last", func() {
			calls := fake.Calls()
			Expect(calls[len(calls)-1]).To(Equal(m2m.EndpointLogout))
			Expect(fake.tokens[0]).To(BeEmpty())
			for _, token := range fake.tokens[1:] {
				Expect(token).To(Equal("session-token"))
			}
		})
	})

	Context("when some downloads are being prepared", func() {
		BeforeEach(func() {
			fake.request = m2m.DownloadRequestResult{
				PreparingDownloads: []m2m.Download{
					fake.Download("102", "SRTM1N40W106V3", ""),
					fake.Download("103", "SRTM1N39W105V3", ""),
				},
				AvailableDownloads: []m2m.Download{fake.Download("101", "SRTM1N39W106V3", "N39W106")},
				NewRecords:         m2m.NewIDSet("101", "102"),
				DuplicateProducts:  m2m.NewIDSet("103"),
			}
			fake.retrieves = []m2m.DownloadRetrieveResult{
				{
					Available: []m2m.Download{fake.Download("101", "SRTM1N39W106V3", "N39W106"), fake.Download("999", "OTHER", "N00W000")},
					Requested: []m2m.Download{fake.Download("101", "SRTM1N39W106V3", "N39W106"), fake.Download("102", "SRTM1N40W106V3", "N40W106")},
				},
				{
					Available: []m2m.Download{fake.Download("101", "SRTM1N39W106V3", "N39W106"), fake.Download("102", "SRTM1N40W106V3", "N40W106")},
				},
				{
					Available: []m2m.Download{
						fake.Download("101", "SRTM1N39W106V3", "N39W106"),
						fake.Download("102", "SRTM1N40W106V3", "N40W106"),
						fake.Download("103", "SRTM1N39W105V3", "N39W105"),
						fake.Download("999", "OTHER", "N00W000"),
					},
				},
			}
			run()
		})

		It("should poll until all the downloads are retrieved", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(fake.Count(m2m.EndpointDownloadRetrieve)).To(Equal(3))
			Expect(clock.waits).To(Equal([]time.Duration{30 * time.Second, 45 * time.Second}))
			Expect(result.Status).To(Equal(common.StatusDONE))
			expectFiles("N39W106.tif", "N40W106.tif", "N39W105.tif")
		})

		It("should never download the same id twice", func() {
			Expect(fake.Downloads()).To(Equal(map[string]int{"101": 1, "102": 1, "103": 1}))
		})

		It("should logout after the last retrieve", func() {
			calls := fake.Calls()
			Expect(calls[len(calls)-2]).To(Equal(m2m.EndpointDownloadRetrieve))
			Expect(calls[len(calls)-1]).To(Equal(m2m.EndpointLogout))
		})
	})

	Context("when the service fails some products", func() {
		BeforeEach(func() {
			fake.request = m2m.DownloadRequestResult{
				PreparingDownloads: []m2m.Download{fake.Download("102", "SRTM1N40W106V3", "")},
				NewRecords:         m2m.NewIDSet("101", "102"),
				Failed:             []json.RawMessage{json.RawMessage(`{"entityId": "SRTM1N39W105V3", "productId": "p3"}`)},
			}
			fake.retrieves = []m2m.DownloadRetrieveResult{
				{Available: []m2m.Download{fake.Download("101", "SRTM1N39W106V3", "N39W106")}},
				{Available: []m2m.Download{fake.Download("101", "SRTM1N39W106V3", "N39W106"), fake.Download("102", "SRTM1N40W106V3", "N40W106")}},
			}
			run()
		})

		It("should stop when retrieved + failed reaches the requested count", func() {
			var perr *downloader.PartialDownloadError
			Expect(errors.As(err, &perr)).To(BeTrue())
			Expect(perr.Requested).To(Equal(3))
			Expect(perr.Failed).To(Equal(1))
			Expect(result.Status).To(Equal(common.StatusPARTIAL))
			expectFiles("N39W106.tif", "N40W106.tif")
			Expect(fake.Count(m2m.EndpointDownloadRetrieve)).To(Equal(2))
			Expect(fake.Count(m2m.EndpointLogout)).To(Equal(1))
		})
	})

	Context("when the downloads are never prepared", func() {
		BeforeEach(func() {
			policy.MaxAttempts = 3
			fake.request = m2m.DownloadRequestResult{
				PreparingDownloads: []m2m.Download{fake.Download("101", "SRTM1N39W106V3", "")},
				NewRecords:         m2m.NewIDSet("101", "102", "103"),
			}
			fake.retrieves = []m2m.DownloadRetrieveResult{{}}
			run()
		})

		It("should time out after the last attempt", func() {
			Expect(errors.Is(err, downloader.ErrPollTimeout)).To(BeTrue())
			Expect(result.Status).To(Equal(common.StatusTIMEOUT))
			Expect(clock.waits).To(Equal([]time.Duration{30 * time.Second, 45 * time.Second, time.Minute}))
			Expect(fake.Count(m2m.EndpointDownloadRetrieve)).To(Equal(4))
			Expect(fake.Count(m2m.EndpointLogout)).To(Equal(1))
			Expect(result.Files).To(BeEmpty())
		})
	})

	Context("when the poll deadline is reached", func() {
		BeforeEach(func() {
			policy.MaxAttempts = 0
			policy.Timeout = 2 * time.Minute
			fake.request = m2m.DownloadRequestResult{
				PreparingDownloads: []m2m.Download{fake.Download("101", "SRTM1N39W106V3", "")},
				NewRecords:         m2m.NewIDSet("101", "102", "103"),
			}
			fake.retrieves = []m2m.DownloadRetrieveResult{{}}
			run()
		})

		It("should time out", func() {
			Expect(errors.Is(err, downloader.ErrPollTimeout)).To(BeTrue())
			Expect(clock.waits).To(Equal([]time.Duration{30 * time.Second, 45 * time.Second, 45 * time.Second}))
		})
	})

	Context("when the service returns an error code", func() {
		for _, endpoint := range []string{m2m.EndpointDatasetSearch, m2m.EndpointSceneSearch, m2m.EndpointDownloadOptions, m2m.EndpointDownloadRequest, m2m.EndpointDownloadRetrieve} {
			endpoint := endpoint
			It("should stop immediately after "+endpoint, func() {
				fake.errorOn = endpoint
				fake.request = m2m.DownloadRequestResult{
					PreparingDownloads: []m2m.Download{fake.Download("101", "SRTM1N39W106V3", "")},
					NewRecords:         m2m.NewIDSet("101", "102", "103"),
				}
				run()
				var apiErr *m2m.APIError
				Expect(errors.As(err, &apiErr)).To(BeTrue())
				Expect(apiErr.Endpoint).To(Equal(endpoint))
				Expect(service.Fatal(err)).To(BeTrue())
				calls := fake.Calls()
				Expect(calls[len(calls)-1]).To(Equal(endpoint))
				Expect(fake.Count(m2m.EndpointLogout)).To(Equal(0))
				Expect(publisher.messages).To(BeEmpty())
			})
		}
	})

	Context("when the logout fails", func() {
		BeforeEach(func() {
			fake.errorOn = m2m.EndpointLogout
		})

		It("should still return the result of an empty search", func() {
			fake.scenes = m2m.SceneSearchResult{RecordsReturned: 0, TotalHits: 0}
			run()
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Status).To(Equal(common.StatusNORESULT))
			Expect(fake.Count(m2m.EndpointLogout)).To(Equal(1))
			Expect(publisher.messages).To(HaveLen(1))
		})

		It("should still return the downloaded files", func() {
			fake.request = m2m.DownloadRequestResult{
				AvailableDownloads: []m2m.Download{
					fake.Download("101", "SRTM1N39W106V3", "N39W106"),
					fake.Download("102", "SRTM1N40W106V3", "N40W106"),
					fake.Download("103", "SRTM1N39W105V3", "N39W105"),
				},
				NewRecords: m2m.NewIDSet("101", "102", "103"),
			}
			run()
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Status).To(Equal(common.StatusDONE))
			expectFiles("N39W106.tif", "N40W106.tif", "N39W105.tif")
			calls := fake.Calls()
			Expect(calls[len(calls)-1]).To(Equal(m2m.EndpointLogout))
		})
	})

	Context("when the storage is remote", func() {
		var remote *remoteStorage

		BeforeEach(func() {
			remote = &remoteStorage{}
			storage = remote
			fake.request = m2m.DownloadRequestResult{
				AvailableDownloads: []m2m.Download{
					fake.Download("101", "SRTM1N39W106V3", "N39W106"),
					fake.Download("102", "SRTM1N40W106V3", "N40W106"),
				},
				NewRecords: m2m.NewIDSet("101", "102"),
			}
			run()
		})

		It("should download in the working directory and upload the files", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(remote.assets).To(Equal(map[string]string{"N39W106.tif": "tif-101", "N40W106.tif": "tif-102"}))
			Expect(result.URIs).To(ConsistOf("mem://bucket/N39W106.tif", "mem://bucket/N40W106.tif"))
			for _, f := range remote.localFiles {
				Expect(f).To(HavePrefix(workdir))
			}
		})

		It("should leave nothing in the output and working directories", func() {
			entries, e := os.ReadDir(outdir)
			Expect(e).NotTo(HaveOccurred())
			Expect(entries).To(BeEmpty())
			entries, e = os.ReadDir(workdir)
			Expect(e).NotTo(HaveOccurred())
			Expect(entries).To(BeEmpty())
		})
	})

	Context("when the login fails", func() {
		BeforeEach(func() {
			fake.token = ""
			run()
		})

		It("should return an authentication error", func() {
			Expect(errors.Is(err, m2m.ErrAuthentication)).To(BeTrue())
			Expect(fake.Calls()).To(Equal([]string{m2m.EndpointLogin}))
		})
	})

	Context("when the area is not valid", func() {
		BeforeEach(func() {
			area.BBox = entities.NewBoundingBox([2]float64{40.5, 39.5}, [2]float64{-105.5, -104.5})
			run()
		})

		It("should not call the service", func() {
			Expect(err).To(HaveOccurred())
			Expect(fake.Calls()).To(BeEmpty())
		})
	})
})
