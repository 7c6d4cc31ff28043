// Copyright (c) 2026 ToeiRei
// nixdeploy - NixOS flake deployment over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

// Package deploy drives the per-host deployment state machine: connect,
// verify the host key, authenticate, upload the flake, rebuild, clean up and
// disconnect. Hosts are processed in request order by a bounded worker pool.
package deploy

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/toeirei/nixdeploy/internal/logging"
	"github.com/toeirei/nixdeploy/internal/model"
	"github.com/toeirei/nixdeploy/internal/remote"
	"github.com/toeirei/nixdeploy/internal/trust"
)

// maxRecordedOutput caps the rebuild output kept in a history record.
const maxRecordedOutput = 64 << 10

// Reporter receives per-host progress events. Calls for different hosts
// may happen concurrently when Parallel > 1.
type Reporter interface {
	Started(h model.Host)
	Skipped(h model.Host)
	Finished(h model.Host, err error)
}

// Recorder persists the outcome of each host.
type Recorder interface {
	Record(ctx context.Context, rec model.DeploymentRecord) error
}

// Result is the outcome of one host.
type Result struct {
	Host       model.Host
	Status     model.DeploymentStatus
	State      State
	Err        error
	Output     string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Summary lists the hosts that were attempted, in request order.
type Summary struct {
	Results []Result
}

// Count returns how many results have status s.
func (s Summary) Count(status model.DeploymentStatus) int {
	n := 0
	for _, r := range s.Results {
		if r.Status == status {
			n++
		}
	}
	return n
}

// Orchestrator deploys one encoded archive to many hosts.
type Orchestrator struct {
	Transport Transport
	Trust     trust.Store
	// Payload is the encoded archive, shared read-only by all jobs.
	Payload []byte
	// Digest identifies Payload in history records.
	Digest   string
	Options  Options
	Out      io.Writer
	Reporter Reporter
	Recorder Recorder
}

// New returns an Orchestrator writing live output to stdout.
func New(tr Transport, store trust.Store, payload []byte, opts Options) *Orchestrator {
	return &Orchestrator{Transport: tr, Trust: store, Payload: payload, Options: opts, Out: os.Stdout}
}

// Run deploys to hosts. It returns the first error that stopped the run:
// any failure under PolicyAbort, trust failures under either policy. With
// PolicyContinue and failed hosts the error wraps ErrSomeFailed.
func (o *Orchestrator) Run(ctx context.Context, hosts []model.Host) (Summary, error) {
	workers := o.Options.workers()
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	out := o.Out
	if out == nil {
		out = os.Stdout
	}
	if workers > 1 {
		out = remote.Locked(out)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	results := make([]*Result, len(hosts))
	sem := make(chan struct{}, workers)

schedule:
	for i, h := range hosts {
		select {
		case sem <- struct{}{}:
		case <-runCtx.Done():
			break schedule
		}
		if runCtx.Err() != nil {
			<-sem
			break
		}
		wg.Add(1)
		go func(i int, h model.Host) {
			defer wg.Done()
			defer func() { <-sem }()
			res := o.deployHost(ctx, h, out, workers > 1)
			results[i] = &res
			if res.Err == nil {
				return
			}
			if IsFatal(res.Err) || o.Options.OnError != PolicyContinue {
				mu.Lock()
				if firstErr == nil {
					firstErr = res.Err
				}
				mu.Unlock()
				cancel()
			}
		}(i, h)
	}
	wg.Wait()

	var summary Summary
	for _, r := range results {
		if r != nil {
			summary.Results = append(summary.Results, *r)
		}
	}
	if firstErr != nil {
		return summary, firstErr
	}
	if err := ctx.Err(); err != nil {
		return summary, err
	}
	if failed := summary.Count(model.StatusFailed); failed > 0 {
		return summary, fmt.Errorf("%w: %d of %d", ErrSomeFailed, failed, len(hosts))
	}
	return summary, nil
}

func (o *Orchestrator) deployHost(ctx context.Context, h model.Host, out io.Writer, prefixed bool) Result {
	live := out
	var pw *remote.PrefixWriter
	if prefixed {
		pw = remote.NewPrefixWriter(out, "["+h.Name+"] ")
		live = pw
	}
	job := newJob(o, h, remote.NewRunner(live, o.Options.CommandTimeout))

	rep := o.reporter()
	rep.Started(h)
	res := Result{Host: h, StartedAt: time.Now()}
	err := job.Run(ctx)
	if pw != nil {
		_ = pw.Flush()
	}
	res.FinishedAt = time.Now()
	res.Output = job.output
	res.Err = err

	switch {
	case err != nil:
		res.Status = model.StatusFailed
		res.State = job.failedIn
	case job.State == StateSkipped:
		res.Status = model.StatusSkipped
		res.State = StateSkipped
	default:
		res.Status = model.StatusSuccess
		res.State = job.State
	}

	if res.Status == model.StatusSkipped {
		rep.Skipped(h)
	} else {
		rep.Finished(h, err)
	}
	o.record(ctx, res)
	return res
}

func (o *Orchestrator) record(ctx context.Context, res Result) {
	if o.Recorder == nil {
		return
	}
	rec := model.DeploymentRecord{
		Host:          res.Host.Name,
		Endpoint:      res.Host.Endpoint(),
		User:          res.Host.User,
		Action:        o.Options.Action,
		Status:        res.Status,
		ArchiveDigest: o.Digest,
		Output:        res.Output,
		StartedAt:     res.StartedAt,
		FinishedAt:    res.FinishedAt,
	}
	if len(rec.Output) > maxRecordedOutput {
		rec.Output = rec.Output[len(rec.Output)-maxRecordedOutput:]
	}
	if res.Err != nil {
		rec.FailedState = res.State.String()
		rec.Error = res.Err.Error()
	}
	if err := o.Recorder.Record(context.WithoutCancel(ctx), rec); err != nil {
		logging.Warnf("failed to record deployment of %s: %v", res.Host.Name, err)
	}
}

func (o *Orchestrator) reporter() Reporter {
	if o.Reporter == nil {
		return nopReporter{}
	}
	return o.Reporter
}

type nopReporter struct{}

func (nopReporter) Started(model.Host)         {}
func (nopReporter) Skipped(model.Host)         {}
func (nopReporter) Finished(model.Host, error) {}
