package telemetry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hydropi/hydropi/controller"
	"github.com/reef-pi/adafruitio"
)

type feedClient interface {
	SubmitData(user, feed string, d adafruitio.Data) error
}

// AdafruitIO pushes sensor values and the health score to adafruit.io feeds
// named <prefix>-<metric>.
type AdafruitIO struct {
	client feedClient
	user   string
	prefix string
}

func NewAdafruitIO(cfg controller.AdafruitIOConfig) *AdafruitIO {
	return &AdafruitIO{client: adafruitio.NewClient(cfg.Token), user: cfg.User, prefix: cfg.Prefix}
}

func (a *AdafruitIO) Name() string { return "adafruitio" }

func (a *AdafruitIO) feed(name string) string {
	return strings.ToLower(strings.ReplaceAll(a.prefix+"-"+name, "_", "-"))
}

func (a *AdafruitIO) Publish(ctx context.Context, rec controller.DecisionRecord) error {
	var errs []error
	submit := func(name string, v interface{}) {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			return
		}
		feed := a.feed(name)
		if err := a.client.SubmitData(a.user, feed, adafruitio.Data{Value: v}); err != nil {
			errs = append(errs, fmt.Errorf("feed %s: %w", feed, err))
		}
	}
	for _, r := range rec.Snapshot.Readings {
		if r.Valid {
			submit(string(r.Metric), r.Value)
		}
	}
	if rec.HealthScore != nil {
		submit("health", *rec.HealthScore)
	}
	return errors.Join(errs...)
}
