package capture

import (
	"context"
	"time"

	"github.com/nvr-ai/go-vision-relay/frames"
	"github.com/nvr-ai/go-vision-relay/mailbox"
	"github.com/nvr-ai/go-vision-relay/profiler"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ErrEndOfStream is returned by Loop.Run when the source has no more frames.
var ErrEndOfStream = errors.New("end of video stream")

// Loop reads frames from a Source into pooled buffers and publishes them to
// the mailbox.
type Loop struct {
	Source  Source
	Pool    *frames.Pool
	Mailbox *mailbox.Mailbox[*frames.Frame]
	Log     *logrus.Entry
	// Profiler counts empty captures. Optional.
	Profiler *profiler.StageProfiler

	// Now stamps captured frames. Defaults to time.Now.
	Now func() time.Time
}

// Run captures until the source ends or ctx is done. The context is checked
// only between frames; a blocked Read finishes first.
//
// Returns:
//   - error: ErrEndOfStream when the source ends, otherwise the context's cause.
func (l *Loop) Run(ctx context.Context) error {
	log := l.Log
	if log == nil {
		log = logrus.WithField("component", "capture")
	}
	now := l.Now
	if now == nil {
		now = time.Now
	}

	var captured, skipped uint64
	for {
		if ctx.Err() != nil {
			log.WithField("captured", captured).Info("capture stopping")
			return context.Cause(ctx)
		}

		frame, err := l.Pool.Acquire(ctx)
		if err != nil {
			return context.Cause(ctx)
		}

		if !l.Source.Read(&frame.Mat) {
			frame.Release()
			log.WithField("captured", captured).Info("video stream ended")
			return ErrEndOfStream
		}
		if frame.Mat.Empty() {
			frame.Release()
			skipped++
			if l.Profiler != nil {
				l.Profiler.Add(profiler.CounterEmptyCaptures, 1)
			}
			log.WithField("skipped", skipped).Debug("source returned an empty frame")
			continue
		}

		frame.Timestamp = now()
		captured++
		seq := l.Mailbox.Publish(frame)
		log.WithField("frame", seq).Trace("frame published")
	}
}
