package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/airbusgeo/geocube-m2m/service"
	"github.com/airbusgeo/geocube-m2m/service/log"
	"github.com/cavaliercoder/grab"
)

// ErrProductNotFound is an error returned when a product is not found or available
type ErrProductNotFound struct {
	Product string
}

func (e ErrProductNotFound) Error() string {
	return fmt.Sprintf("Product not found or unavailable: %s", e.Product)
}

func fmtBytes(bytes int64) string {
	v := float64(bytes)
	switch {
	case v > 1<<30:
		return fmt.Sprintf("%.2fGo", v/(1<<30))
	case v > 1<<20:
		return fmt.Sprintf("%.2fMo", v/(1<<20))
	case v > 1<<10:
		return fmt.Sprintf("%.2fko", v/(1<<10))
	default:
		return fmt.Sprintf("%.2fo", v)
	}
}

func displayProgress(ctx context.Context, prefix string, resp *grab.Response, progressPeriod float64) {
	t := time.NewTicker(time.Second)
	defer t.Stop()

	progress, lastBytes, seconds := 0.0, int64(0), int64(0)
	for {
		select {
		case <-t.C:
			seconds++
			if resp.Progress() > progress {
				log.Logger(ctx).Sugar().Debugf("%s: %.2f%% %s/%s (%s/s)", prefix, 100*resp.Progress(), fmtBytes(resp.BytesComplete()), fmtBytes(resp.Size), fmtBytes((resp.BytesComplete()-lastBytes)/seconds))
				seconds = 0
				progress += progressPeriod
				lastBytes = resp.BytesComplete()
			}

		case <-resp.Done:
			return
		}
	}
}

// download a file with display every 5%
func download(ctx context.Context, client *grab.Client, req *grab.Request, displayPrefix string) error {
	resp := client.Do(req)

	displayProgress(ctx, displayPrefix, resp, 0.05)

	if err := resp.Err(); err != nil {
		err = fmt.Errorf("download[%s]: %w", req.URL(), err)
		if resp.HTTPResponse == nil {
			return service.MakeTemporary(err)
		}
		if service.TemporaryStatus(resp.HTTPResponse.StatusCode) {
			return service.MakeTemporary(err)
		}
		return service.MakeFatal(err)
	}
	return nil
}
