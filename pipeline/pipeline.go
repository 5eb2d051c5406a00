// Package pipeline orchestrates tiled multi-model room detection: plan
// tiles, run every model over every tile, map the decoded candidates to
// global coordinates, and fuse them into one de-duplicated list.
package pipeline

import (
	"context"
	"fmt"
	"image"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/KuyaKoya/flutter-floorplan-ensemble/decode"
	"github.com/KuyaKoya/flutter-floorplan-ensemble/fusion"
	"github.com/KuyaKoya/flutter-floorplan-ensemble/models"
	"github.com/KuyaKoya/flutter-floorplan-ensemble/tiling"
)

const (
	RetryAttempts = 3
	RetryDelay    = 100 * time.Millisecond
)

// Engine runs one inference over an NHWC (1, S, S, 3) float tensor with
// values in [0,1] and returns the raw output tensors. Implementations
// must be safe for concurrent calls and must not reuse output buffers
// between calls.
type Engine interface {
	Run(input []float32) ([]models.RawOutput, error)
}

// Model pairs an inference engine with its ensemble weight. The weight
// multiplies every raw confidence the model produces.
type Model struct {
	Name   string
	Engine Engine
	Weight float32
}

// Config parameterizes one detection run. Streamlined skips tiling and
// feeds the whole image, resized to TileSize, through the same path.
type Config struct {
	TileSize            int
	Overlap             int
	ConfidenceThreshold float32
	GroupingThreshold   float32
	NMSThreshold        float32
	Streamlined         bool
	Workers             int
}

// Progress is notified after each processed tile. It must not block;
// the pipeline never reads anything back from it.
type Progress func(done, total int)

// Phase tracks where a run currently is. Failed is only reached when
// every (tile, model) pair errored.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseTiling
	PhaseInference
	PhaseFusion
	PhaseDone
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseTiling:
		return "tiling"
	case PhaseInference:
		return "per-tile-inference"
	case PhaseFusion:
		return "global-fusion"
	case PhaseDone:
		return "done"
	case PhaseFailed:
		return "failed"
	}
	return "unknown"
}

// Pipeline runs detection over one image at a time. A Pipeline is cheap
// to construct; create one per run if phase observation matters.
type Pipeline struct {
	cfg     Config
	handles []Model
	phase   atomic.Int32
	timings models.RunTimings
	log     *logrus.Entry
}

func New(cfg Config, handles []Model) *Pipeline {
	return &Pipeline{
		cfg:     cfg,
		handles: handles,
		log:     logrus.WithField("component", "pipeline"),
	}
}

// Phase returns the pipeline's current phase.
func (p *Pipeline) Phase() Phase {
	return Phase(p.phase.Load())
}

// Timings reports the stage durations of the last Run. Not safe to call
// while a Run is in flight.
func (p *Pipeline) Timings() models.RunTimings {
	return p.timings
}

func (p *Pipeline) setPhase(ph Phase) {
	p.phase.Store(int32(ph))
	p.log.WithField("phase", ph.String()).Debug("phase transition")
}

// Run detects rooms in img. A nil error with an empty slice means the
// run executed and found nothing; ErrAllTilesFailed means no (tile,
// model) pair produced a usable result. Cancellation takes effect
// between tiles and yields no partial output.
func (p *Pipeline) Run(ctx context.Context, img image.Image, progress Progress) ([]models.Detection, error) {
	start := time.Now()

	p.setPhase(PhaseTiling)
	tiles, err := p.planTiles(img)
	if err != nil {
		p.setPhase(PhaseIdle)
		return nil, err
	}
	p.timings.Tiling = time.Since(start)

	p.setPhase(PhaseInference)
	inferStart := time.Now()
	collected, failedPairs, err := p.runTiles(ctx, img, tiles, progress)
	if err != nil {
		p.setPhase(PhaseIdle)
		return nil, err
	}
	p.timings.Inference = time.Since(inferStart)

	totalPairs := len(tiles) * len(p.handles)
	if totalPairs > 0 && failedPairs == totalPairs {
		p.setPhase(PhaseFailed)
		return nil, fmt.Errorf("%w: %d pairs", models.ErrAllTilesFailed, totalPairs)
	}

	p.setPhase(PhaseFusion)
	fusionStart := time.Now()
	final := fusion.Fuse(collected.canonical(), fusion.Options{
		GroupingThreshold: p.cfg.GroupingThreshold,
		NMSThreshold:      p.cfg.NMSThreshold,
	})
	p.timings.Fusion = time.Since(fusionStart)
	p.timings.Total = time.Since(start)

	p.setPhase(PhaseDone)
	return final, nil
}

func (p *Pipeline) planTiles(img image.Image) ([]tiling.Tile, error) {
	if p.cfg.Streamlined {
		return tiling.PlanStreamlined(img, p.cfg.TileSize)
	}
	return tiling.Plan(img, p.cfg.TileSize, p.cfg.Overlap)
}

func (p *Pipeline) runTiles(ctx context.Context, img image.Image, tiles []tiling.Tile, progress Progress) (*collector, int, error) {
	workers := p.cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > len(tiles) {
		workers = len(tiles)
	}

	collected := newCollector()
	pre := tiling.NewPreprocessor(p.cfg.TileSize)
	bounds := img.Bounds()

	var failedPairs atomic.Int64
	var done atomic.Int64
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			buf := make([]float32, pre.TensorLen())
			for idx := range jobs {
				// Cancellation is honored between tiles, never mid-tile.
				if ctx.Err() != nil {
					continue
				}
				failed := p.processTile(tiles[idx], pre, buf, bounds.Dx(), bounds.Dy(), collected)
				failedPairs.Add(int64(failed))
				if progress != nil {
					progress(int(done.Add(1)), len(tiles))
				}
			}
		}()
	}

	for i := range tiles {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	return collected, int(failedPairs.Load()), nil
}

// processTile runs every model over one tile and returns the number of
// (tile, model) pairs that errored. A failing pair contributes zero
// candidates; the run continues.
func (p *Pipeline) processTile(tile tiling.Tile, pre *tiling.Preprocessor, buf []float32, imageW, imageH int, collected *collector) int {
	if err := pre.Process(tile.Image, buf); err != nil {
		p.log.WithField("tile", tile.Index).WithError(err).Warn("tile preprocess failed")
		return len(p.handles)
	}

	failed := 0
	for mi, handle := range p.handles {
		outputs, err := runWithRetry(handle.Engine, buf)
		if err != nil {
			failed++
			p.log.WithFields(logrus.Fields{
				"tile":  tile.Index,
				"model": handle.Name,
			}).WithError(&models.InferenceError{Message: "inference failed", Cause: err}).Warn("skipping tile/model pair")
			continue
		}

		candidates, err := decode.Decode(outputs, p.cfg.TileSize, handle.Weight, p.cfg.ConfidenceThreshold)
		if err != nil {
			failed++
			p.log.WithFields(logrus.Fields{
				"tile":  tile.Index,
				"model": handle.Name,
			}).WithError(err).Warn("skipping tile/model pair")
			continue
		}

		for seq, c := range candidates {
			if d, ok := mapToGlobal(c, tile, imageW, imageH); ok {
				collected.add(tile.Index, mi, seq, d)
			}
		}
	}
	return failed
}

// runWithRetry retries transient engine failures with a linear backoff
// before giving up on the pair.
func runWithRetry(engine Engine, input []float32) ([]models.RawOutput, error) {
	var lastErr error
	for attempt := 1; attempt <= RetryAttempts; attempt++ {
		outputs, err := engine.Run(input)
		if err == nil {
			return outputs, nil
		}
		lastErr = err
		if attempt < RetryAttempts {
			time.Sleep(time.Duration(attempt) * RetryDelay)
		}
	}
	return nil, lastErr
}
