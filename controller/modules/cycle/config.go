package cycle

import (
	"context"
	"time"

	"github.com/hydropi/hydropi/controller"
	"github.com/hydropi/hydropi/controller/modules/history"
	"github.com/hydropi/hydropi/controller/modules/oracle"
)

// Bucket holds one JSON decision record per cycle.
const Bucket = history.Bucket

type bucketCreator interface {
	CreateBucket(string) error
}

// Sampler produces one snapshot per cycle.
type Sampler interface {
	Snapshot(ctx context.Context) controller.Snapshot
}

type Oracle interface {
	Decide(ctx context.Context, snap controller.Snapshot, img *controller.Image, history []controller.DecisionRecord) (oracle.Candidate, error)
}

type Camera interface {
	Capture(ctx context.Context) (*controller.Image, error)
}

type Executor interface {
	Apply(ctx context.Context, cmd controller.Command) (controller.ActuatorState, error)
}

type History interface {
	Append(rec controller.DecisionRecord) error
	Recent(k int) ([]controller.DecisionRecord, error)
	Get(id string) (controller.DecisionRecord, error)
}

// Publisher fans a finished record out to telemetry sinks.
type Publisher interface {
	Publish(ctx context.Context, rec controller.DecisionRecord) error
}

// Status is the controller state reported by the API.
type Status struct {
	Running   bool                       `json:"running"`
	Started   time.Time                  `json:"started,omitempty"`
	Cycles    int                        `json:"cycles"`
	Last      *controller.DecisionRecord `json:"last,omitempty"`
	Actuators controller.ActuatorState   `json:"actuators"`
}

const logCap = 100
