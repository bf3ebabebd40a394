// Package forwarder runs the stage between capture and storage: it carries
// the average hash the capture stage already computed into a storage
// envelope and blocking-forwards each frame onto the storage queue. Unlike
// the capture stage's drop-newest queue, the forwarder never drops a frame
// because the storage queue is full: it blocks, so back-pressure propagates
// upstream via the capture queue filling up. A frame it is still waiting to
// send when ctx is cancelled is discarded.
package forwarder

import (
	"context"
	"time"

	"github.com/haloframe/screenlogd/internal/capture"
	"github.com/haloframe/screenlogd/internal/logging"
	"github.com/haloframe/screenlogd/internal/storage"
)

var log = logging.L("forwarder")

// RunStage reads RawFrames from in until it is closed or ctx is cancelled,
// casting each one's hash to the storage envelope's signed representation
// and blocking-sending it to out. There is no CPU-bound work left here: the
// capture stage already paid for the average hash, so this stage only
// recvs, stamps, and sends.
func RunStage(ctx context.Context, in <-chan capture.RawFrame, out chan<- storage.Envelope) {
	log.Info("forwarder stage started")
	defer log.Info("forwarder stage stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-in:
			if !ok {
				log.Info("capture channel closed, stopping forwarder")
				return
			}
			forwardOne(ctx, frame, out)
		}
	}
}

func forwardOne(ctx context.Context, frame capture.RawFrame, out chan<- storage.Envelope) {
	envelope := storage.Envelope{
		DisplayID:  frame.DisplayID,
		Image:      frame.Image,
		PHash:      int64(frame.PHash),
		CapturedAt: stampOrKeep(frame.CapturedAt),
	}

	select {
	case out <- envelope:
	case <-ctx.Done():
	}
}

// stampOrKeep preserves the capture timestamp if it is set; frames built by
// hand in tests may leave it zero.
func stampOrKeep(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
