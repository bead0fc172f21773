// Command moxie-bench drives a namespace of worker threads through a
// fixed batch of independent jobs and reports throughput. It optionally
// installs a Jaeger-backed tracer provider through the telemetry package
// and shuts it down on exit; the job package starts no spans of its own.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/russellklenk/moxie/job"
	"github.com/russellklenk/moxie/moxthread"
	"github.com/russellklenk/moxie/telemetry"
)

func main() {
	var (
		jobCount    = flag.Int("jobs", 100000, "number of independent jobs to run")
		workerCount = flag.Int("workers", 4, "number of worker threads in the namespace")
		jaegerAddr  = flag.String("jaeger", "", "Jaeger collector endpoint, e.g. http://localhost:14268/api/traces (disabled if empty)")
	)
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Timestamp().Logger()

	var provider *telemetry.Provider
	if *jaegerAddr != "" {
		p, err := telemetry.InitTracing(log, *jaegerAddr)
		if err != nil {
			log.Error().Err(err).Msg("tracing disabled: failed to initialize Jaeger exporter")
			provider = telemetry.NewProvider(log)
		} else {
			provider = p
			defer telemetry.Shutdown(context.Background())
		}
	} else {
		provider = telemetry.NewProvider(log)
	}

	sched, err := job.NewScheduler(job.Config{ContextCount: *workerCount + 1, Telemetry: provider})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create scheduler")
	}

	queue := job.NewQueue(1, job.WithTelemetry(provider))

	var completed atomic.Int64
	ns := job.Namespace{
		ID:          1,
		Queue:       queue,
		WorkerCount: *workerCount,
		Main: func(ctx *job.Context) {
			for {
				desc := ctx.WaitReadyJob()
				if desc == nil {
					return
				}
				desc.Exit = desc.Main(ctx, desc)
				ctx.CompleteJob(desc)
				completed.Add(1)
			}
		},
	}

	workerIDs, err := sched.LaunchNamespaces([]job.Namespace{ns})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to launch worker namespace")
	}

	submitCtx, err := sched.AcquireContext(queue, moxthread.CurrentThreadID())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to acquire submitting context")
	}

	start := time.Now()
	noop := func(c *job.Context, d *job.Descriptor) int32 { return 0 }
	for i := 0; i < *jobCount; i++ {
		desc := submitCtx.CreateJob(0, 0)
		if desc == nil {
			log.Warn().Int("submitted", i).Msg("ran out of job buffers, stopping early")
			break
		}
		desc.Main = noop
		submitCtx.SubmitJob(desc, nil, job.SubmitRun)
	}

	for int(completed.Load()) < *jobCount {
		time.Sleep(time.Millisecond)
	}
	elapsed := time.Since(start)

	fmt.Printf("ran %d jobs across %d workers in %s (%.0f jobs/sec)\n",
		completed.Load(), *workerCount, elapsed, float64(completed.Load())/elapsed.Seconds())

	sched.Terminate()
	for _, id := range workerIDs {
		moxthread.Join(id)
	}
	sched.ReleaseContext(submitCtx)
	sched.Delete()
}
