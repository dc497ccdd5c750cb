package visSummary

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"mwaSuite/obsErrors"
	"mwaSuite/reconcile"
)

//Reader is the part of correlator.Context used by Run
type Reader interface {
	ReadByBaseline(timestep, channel int, buf []float32) error
}

//Job addresses one read by catalog indices
type Job struct {
	Timestep int
	Channel  int
}

//CommonGoodJobs returns one Job for every common good timestep and common channel, timestep major
func CommonGoodJobs(timesteps, channels reconcile.IndexSets) []Job {
	jobs := make([]Job, 0, len(timesteps.CommonGood)*len(channels.Common))
	for _, ts := range timesteps.CommonGood {
		for _, ch := range channels.Common {
			jobs = append(jobs, Job{Timestep: ts, Channel: ch})
		}
	}
	return jobs
}

//Config configures resource usage and the computed summary
type Config struct {
	//Workers is the number of concurrent readers, each with its own buffer
	Workers int
	Creator SummaryCreator
	Logger  logrus.FieldLogger
}

//Result is the merged summary of all workers
type Result struct {
	Summary Summary
	Reads   int
	//Skipped counts jobs without backing data
	Skipped int
}

type workerResult struct {
	summary Summary
	reads   int
	skipped int
}

//Run reads all jobs from reader with config.Workers go routines and merges their summaries. Jobs without data are
//skipped, any other read error aborts the run
func Run(ctx context.Context, reader Reader, shape Shape, jobs []Job, config Config) (*Result, error) {
	if config.Creator == nil {
		return nil, fmt.Errorf("no summary creator")
	}
	if config.Logger == nil {
		config.Logger = logrus.StandardLogger()
	}
	if config.Workers < 1 {
		config.Workers = 1
	}
	results := make([]workerResult, config.Workers)

	jobChan := make(chan Job)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(jobChan)
		for _, j := range jobs {
			if err := ctx.Err(); err != nil {
				return err
			}
			select {
			case jobChan <- j:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})
	for w := 0; w < config.Workers; w++ {
		w := w
		g.Go(func() error {
			log := config.Logger.WithField("worker", w)
			res := workerResult{summary: config.Creator(shape)}
			buf := make([]float32, shape.NumFloats())
			for j := range jobChan {
				err := reader.ReadByBaseline(j.Timestep, j.Channel, buf)
				if errors.Is(err, obsErrors.ErrNoData) {
					log.WithFields(logrus.Fields{"timestep": j.Timestep, "channel": j.Channel}).Debug("no data")
					res.skipped++
					continue
				}
				if err != nil {
					return fmt.Errorf("worker %v : timestep %v channel %v : %w", w, j.Timestep, j.Channel, err)
				}
				res.summary.Update(buf)
				res.reads++
			}
			results[w] = res
			log.WithField("reads", res.reads).Debug("worker done")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	combined := &Result{Summary: results[0].summary}
	for w, res := range results {
		combined.Reads += res.reads
		combined.Skipped += res.skipped
		if w == 0 {
			continue
		}
		if err := combined.Summary.Merge(res.summary); err != nil {
			return nil, fmt.Errorf("failed to merge result of worker %v : %w", w, err)
		}
	}
	config.Logger.WithFields(logrus.Fields{
		"summary": combined.Summary.Name(),
		"reads":   combined.Reads,
		"skipped": combined.Skipped,
	}).Info("computed summary")
	return combined, nil
}
