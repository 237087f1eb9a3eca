// Package controller - Runs the capture and inference loops of the relay and
// routes each processed frame to the notifier.
package controller

import (
	"context"
	"sync"
	"time"

	"github.com/nvr-ai/go-vision-relay/capture"
	"github.com/nvr-ai/go-vision-relay/frames"
	"github.com/nvr-ai/go-vision-relay/inference"
	"github.com/nvr-ai/go-vision-relay/mailbox"
	"github.com/nvr-ai/go-vision-relay/models"
	"github.com/nvr-ai/go-vision-relay/models/postprocess"
	"github.com/nvr-ai/go-vision-relay/profiler"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// DefaultThreshold is the minimum class probability reported.
const DefaultThreshold = 0.24

// Notifier receives the ranked objects of every processed frame.
type Notifier interface {
	Notify(ctx context.Context, frame uint32, ts time.Time, objects models.Ranked) error
}

// InferenceLoop takes the freshest frame, runs the engine, ranks the result
// and notifies.
type InferenceLoop struct {
	Mailbox   *mailbox.Mailbox[*frames.Frame]
	Engine    inference.Engine
	Notifier  Notifier
	Threshold float32
	Profiler  *profiler.StageProfiler
	Log       *logrus.Entry
}

// Run processes frames until the mailbox is closed or ctx is done.
//
// Returns:
//   - error: nil on a normal stop, ErrUnsupportedOutput from the engine, or a
//     detection log failure. Both are fatal to the run.
func (l *InferenceLoop) Run(ctx context.Context) error {
	log := l.Log
	if log == nil {
		log = logrus.WithField("component", "inference")
	}
	prof := l.Profiler
	if prof == nil {
		prof = profiler.New(profiler.Options{Log: log})
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		doneTake := prof.StartOperation(profiler.StageTake)
		d, ok := l.Mailbox.Take()
		doneTake()
		if !ok {
			return nil
		}
		if ctx.Err() != nil {
			d.Frame.Release()
			return nil
		}

		if d.Dropped > 0 {
			prof.Add(profiler.CounterDropped, uint64(d.Dropped))
			log.WithFields(logrus.Fields{"frame": d.Seq, "dropped": d.Dropped}).Info("dropped frames")
		}

		if err := l.process(ctx, log, prof, d); err != nil {
			return err
		}
	}
}

// process handles one delivery. The frame is released as soon as inference
// no longer needs it.
func (l *InferenceLoop) process(ctx context.Context, log *logrus.Entry, prof *profiler.StageProfiler, d mailbox.Delivery[*frames.Frame]) error {
	prof.Add(profiler.CounterFrames, 1)
	ts := d.Frame.Timestamp

	doneInfer := prof.StartOperation(profiler.StageInfer)
	dets, err := l.Engine.Infer(ctx, d.Frame)
	doneInfer()
	d.Frame.Release()

	if err != nil {
		if errors.Is(err, inference.ErrUnsupportedOutput) {
			log.WithError(err).WithField("frame", d.Seq).Error("engine output cannot be ranked")
			return err
		}
		prof.Add(profiler.CounterInferErrors, 1)
		log.WithError(err).WithField("frame", d.Seq).Warn("inference failed, skipping frame")
		return nil
	}

	doneRank := prof.StartOperation(profiler.StageRank)
	objects := postprocess.Rank(dets, l.Threshold)
	doneRank()

	log.WithFields(logrus.Fields{"frame": d.Seq, "objects": objects.Len()}).Debug("frame ranked")

	// The iteration completes even when the run is stopping.
	doneNotify := prof.StartOperation(profiler.StageNotify)
	err = l.Notifier.Notify(context.WithoutCancel(ctx), d.Seq, ts, objects)
	doneNotify()
	return errors.Wrapf(err, "notify frame %d", d.Seq)
}

// Pipeline bundles the collaborators of one run.
type Pipeline struct {
	Source   capture.Source
	Pool     *frames.Pool
	Engine   inference.Engine
	Notifier Notifier

	// Mailbox is created when nil.
	Mailbox *mailbox.Mailbox[*frames.Frame]
	// Threshold is used as given; zero reports any class scoring above zero.
	Threshold float32
	Profiler  *profiler.StageProfiler
	Log       *logrus.Entry
}

// Run starts the capture and inference loops and blocks until both stop.
// The end of the video stream, or cancellation of ctx, is a clean stop. The
// source is closed after both loops have returned.
//
// Arguments:
//   - ctx: Stops the run when done.
//   - p: The collaborators.
//
// Returns:
//   - error: The fatal cause that stopped the run, or nil.
func Run(ctx context.Context, p Pipeline) error {
	log := p.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	mb := p.Mailbox
	if mb == nil {
		mb = mailbox.New(func(f *frames.Frame) { f.Release() })
	}
	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stop := context.AfterFunc(runCtx, mb.Close)
	defer stop()

	captureLoop := &capture.Loop{
		Source:   p.Source,
		Pool:     p.Pool,
		Mailbox:  mb,
		Log:      log.WithField("component", "capture"),
		Profiler: p.Profiler,
	}
	inferenceLoop := &InferenceLoop{
		Mailbox:   mb,
		Engine:    p.Engine,
		Notifier:  p.Notifier,
		Threshold: p.Threshold,
		Profiler:  p.Profiler,
		Log:       log.WithField("component", "inference"),
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		cancel(captureLoop.Run(runCtx))
	}()
	go func() {
		defer wg.Done()
		if err := inferenceLoop.Run(runCtx); err != nil {
			cancel(err)
		}
	}()
	wg.Wait()
	mb.Close()

	if err := p.Source.Close(); err != nil {
		log.WithError(err).Warn("closing video source")
	}

	cause := context.Cause(runCtx)
	st := mb.Stats()
	log.WithFields(logrus.Fields{
		"published": st.Published,
		"consumed":  st.Consumed,
		"dropped":   st.Dropped,
	}).Info("relay stopped")

	if errors.Is(cause, capture.ErrEndOfStream) || errors.Is(cause, context.Canceled) {
		return nil
	}
	return cause
}
