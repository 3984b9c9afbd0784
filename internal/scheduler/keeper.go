package scheduler

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/robfig/cron/v3"

	"github.com/eigerco/trustbond/internal/epochtime"
	"github.com/eigerco/trustbond/internal/metrics"
	"github.com/eigerco/trustbond/pkg/log"
)

// Engine is what the keeper drives.
type Engine interface {
	Checkpoint(ctx context.Context) (int, bool, error)
	PendingCheckpointSteps() int
	CurrentEpoch() (epochtime.Epoch, error)
	EmissionsAt(ep epochtime.Epoch) *uint256.Int
}

// Keeper advances the global checkpoint on a cron schedule so that lock
// operations never find it lagging, and publishes epoch gauges.
type Keeper struct {
	cron    *cron.Cron
	engine  Engine
	maxRuns int
	ctx     context.Context
}

// NewKeeper registers the checkpoint job. maxRuns bounds the Checkpoint calls
// of a single tick.
func NewKeeper(ctx context.Context, engine Engine, spec string, maxRuns int) (*Keeper, error) {
	if maxRuns <= 0 {
		maxRuns = 1
	}
	k := &Keeper{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		engine:  engine,
		maxRuns: maxRuns,
		ctx:     ctx,
	}
	if _, err := k.cron.AddFunc(spec, k.tick); err != nil {
		return nil, fmt.Errorf("register checkpoint job %q: %w", spec, err)
	}
	return k, nil
}

// Run starts the schedule and blocks until ctx is done.
func (k *Keeper) Run(ctx context.Context) error {
	k.cron.Start()
	log.Root.Info().Msg("checkpoint keeper started")
	<-ctx.Done()
	<-k.cron.Stop().Done()
	log.Root.Info().Msg("checkpoint keeper stopped")
	return nil
}

func (k *Keeper) tick() {
	if _, _, err := k.RunNow(k.ctx); err != nil {
		log.Escrow.Error().Err(err).Msg("checkpoint keeper")
	}
}

// RunNow checkpoints until caught up or out of runs and refreshes gauges.
func (k *Keeper) RunNow(ctx context.Context) (int, bool, error) {
	total, caught := 0, false
	var err error
	for i := 0; i < k.maxRuns && !caught; i++ {
		var steps int
		steps, caught, err = k.engine.Checkpoint(ctx)
		if err != nil {
			break
		}
		total += steps
	}
	k.publish()
	if err != nil {
		return total, false, err
	}
	if !caught {
		log.Escrow.Warn().Int("steps", total).Int("pending", k.engine.PendingCheckpointSteps()).Msg("checkpoint still lagging")
	}
	return total, caught, nil
}

func (k *Keeper) publish() {
	metrics.CheckpointLag.Set(float64(k.engine.PendingCheckpointSteps()))
	ep, err := k.engine.CurrentEpoch()
	if err != nil {
		return
	}
	metrics.CurrentEpoch.Set(float64(ep))
	metrics.CurrentEmissions.Set(metrics.Float(k.engine.EmissionsAt(ep)))
}
