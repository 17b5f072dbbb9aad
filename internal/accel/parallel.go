package accel

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Parallel fans frame computation out across goroutines. Every frame is
// computed by the same code as the serial path, so results are identical.
type Parallel struct {
	// Workers bounds concurrency; zero means GOMAXPROCS.
	Workers int
	// Batch is the number of frames per task; zero means 16.
	Batch int
}

func init() {
	Register(&Parallel{})
}

func (p *Parallel) Name() string { return "parallel" }

func (p *Parallel) Open() error {
	if p.Workers < 0 || p.Batch < 0 {
		return fmt.Errorf("invalid parallel backend settings workers=%d batch=%d", p.Workers, p.Batch)
	}
	return nil
}

func (p *Parallel) Close() error { return nil }

func (p *Parallel) Frames(ctx context.Context, ex FrameExtractor, pcm []float32, starts []int, out [][]float32) error {
	if len(starts) != len(out) {
		return fmt.Errorf("accel: %d starts for %d outputs", len(starts), len(out))
	}
	win := ex.Config().WindowSize
	workers := p.Workers
	if workers == 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	batch := p.Batch
	if batch == 0 {
		batch = 16
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for lo := 0; lo < len(starts); lo += batch {
		hi := min(lo+batch, len(starts))
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			for i := lo; i < hi; i++ {
				s := starts[i]
				ex.Frame(pcm[s:s+win], out[i])
			}
			return nil
		})
	}
	return g.Wait()
}
