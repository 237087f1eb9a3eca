// Package notifier - Delivers each frame's ranked detections to the network
// destinations and the optional detection log.
package notifier

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/nvr-ai/go-vision-relay/models"
	"github.com/nvr-ai/go-vision-relay/wire"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// LogHeader is the first line of the detection log.
var LogHeader = []string{"frame_number", "timestamp_us", "type", "x", "y", "width", "height", "probability"}

// Stats counts notification outcomes. Failures includes deliveries that
// failed after Send returned.
type Stats struct {
	Frames   uint64
	Sent     uint64
	Failures uint64
}

// lateFailures is implemented by destinations that learn of a failed
// delivery after Send has returned.
type lateFailures interface {
	Failures() uint64
}

// Notifier encodes ranked detections and fans them out to every destination.
type Notifier struct {
	destinations []Destination
	record       *csv.Writer
	log          *logrus.Entry

	frames   atomic.Uint64
	sent     atomic.Uint64
	failures atomic.Uint64
}

// New creates a notifier.
//
// Arguments:
//   - log: The logger for send failures.
//   - record: The detection log; nil disables it.
//   - destinations: The network destinations.
//
// Returns:
//   - *Notifier: The notifier.
//   - error: An error if the log header cannot be written.
func New(log *logrus.Entry, record io.Writer, destinations ...Destination) (*Notifier, error) {
	n := &Notifier{destinations: destinations, log: log}
	if record != nil {
		n.record = csv.NewWriter(record)
		if err := n.write([][]string{LogHeader}); err != nil {
			return nil, err
		}
	}
	return n, nil
}

// Notify sends one datagram for the frame to each destination and appends the
// frame to the detection log. A failing destination is logged and skipped.
// Destinations must not block; MQTT publishes are confirmed in the background.
//
// Arguments:
//   - ctx: Bounds the sends.
//   - frame: The frame sequence number.
//   - ts: The capture time of the frame.
//   - objects: The ranked objects.
//
// Returns:
//   - error: Only a detection log write failure, which is fatal to the run.
func (n *Notifier) Notify(ctx context.Context, frame uint32, ts time.Time, objects models.Ranked) error {
	n.frames.Add(1)
	payload := wire.Encode(frame, ts, objects)

	for _, d := range n.destinations {
		if err := d.Send(ctx, payload); err != nil {
			n.failures.Add(1)
			n.log.WithFields(logrus.Fields{
				"destination": d.Name(),
				"frame":       frame,
			}).WithError(err).Warn("send failed")
			continue
		}
		n.sent.Add(1)
	}

	if n.record == nil {
		return nil
	}
	return n.write(logLines(frame, uint64(ts.UnixMicro()), objects))
}

// Stats returns a snapshot of the notification counters.
func (n *Notifier) Stats() Stats {
	st := Stats{Frames: n.frames.Load(), Sent: n.sent.Load(), Failures: n.failures.Load()}
	for _, d := range n.destinations {
		if lf, ok := d.(lateFailures); ok {
			st.Failures += lf.Failures()
		}
	}
	return st
}

// Close closes every destination and returns the first error.
func (n *Notifier) Close() error {
	var first error
	for _, d := range n.destinations {
		if err := d.Close(); err != nil && first == nil {
			first = errors.Wrapf(err, "close %s", d.Name())
		}
	}
	return first
}

func (n *Notifier) write(lines [][]string) error {
	for _, l := range lines {
		if err := n.record.Write(l); err != nil {
			return errors.Wrap(err, "write detection log")
		}
	}
	n.record.Flush()
	return errors.Wrap(n.record.Error(), "flush detection log")
}

// logLines renders one line per object, or a single NONE line with zero
// fields when the frame has no objects.
func logLines(frame uint32, ts uint64, objects models.Ranked) [][]string {
	prefix := []string{strconv.FormatUint(uint64(frame), 10), strconv.FormatUint(ts, 10)}
	line := func(o models.Object) []string {
		return append(append([]string(nil), prefix...),
			strconv.FormatUint(uint64(o.Type), 10),
			formatFloat(o.X), formatFloat(o.Y),
			formatFloat(o.Width), formatFloat(o.Height),
			formatFloat(o.Probability))
	}

	if objects.Len() == 0 {
		return [][]string{line(models.Object{})}
	}
	lines := make([][]string, 0, objects.Len())
	for _, o := range objects.Objects() {
		lines = append(lines, line(o))
	}
	return lines
}

func formatFloat(v float32) string {
	return strconv.FormatFloat(float64(v), 'f', 6, 32)
}
