package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"
)

const (
	// DefaultSampleRate is the capture rate when none is configured.
	DefaultSampleRate = 16000
	bytesPerSample    = 2
	fragmentBytes     = 640
)

// ErrNoAudio reports a recording that captured no samples.
var ErrNoAudio = errors.New("no audio captured")

// Clip is one finished mono s16le recording.
type Clip struct {
	Device     Device
	PCM        []byte
	SampleRate int
	Duration   time.Duration
}

// CaptureOptions tunes a record stream.
type CaptureOptions struct {
	SampleRate  int
	MaxDuration time.Duration
}

// Capture records PCM from one selected Pulse source until stopped.
// The recording is published once on Ready after the device is released.
type Capture struct {
	device     Device
	sampleRate int

	client *pulse.Client
	stream *pulse.RecordStream

	ready  chan Clip
	stopCh chan struct{}
	timer  *time.Timer

	mu      sync.Mutex
	rawPCM  []byte
	stopped bool

	inflight sync.WaitGroup
	bytes    atomic.Int64
}

// StartCapture opens a mono s16 record stream on selected and starts recording.
// Cancelling ctx stops the capture and publishes what was recorded.
func StartCapture(ctx context.Context, selected Device, opts CaptureOptions) (*Capture, error) {
	if opts.SampleRate <= 0 {
		opts.SampleRate = DefaultSampleRate
	}

	client, err := connect()
	if err != nil {
		return nil, err
	}

	source, err := client.SourceByID(selected.ID)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("resolve source %q: %w", selected.ID, err)
	}

	capture := newCapture(selected, opts.SampleRate)
	capture.client = client

	writer := pulse.NewWriter(writerFunc(capture.onPCM), pulseproto.FormatInt16LE)
	stream, err := client.NewRecord(
		writer,
		pulse.RecordSource(source),
		pulse.RecordMono,
		pulse.RecordSampleRate(opts.SampleRate),
		pulse.RecordBufferFragmentSize(fragmentBytes),
		pulse.RecordMediaName("nimbus voice query"),
	)
	if err != nil {
		_ = capture.Cancel()
		return nil, fmt.Errorf("create pulse record stream: %w", err)
	}

	capture.stream = stream
	stream.Start()

	if opts.MaxDuration > 0 {
		capture.timer = time.AfterFunc(opts.MaxDuration, func() { _ = capture.Stop() })
	}

	go func() {
		select {
		case <-ctx.Done():
			_ = capture.Stop()
		case <-capture.stopCh:
		}
	}()

	return capture, nil
}

func newCapture(device Device, sampleRate int) *Capture {
	return &Capture{
		device:     device,
		sampleRate: sampleRate,
		ready:      make(chan Clip, 1),
		stopCh:     make(chan struct{}),
	}
}

// Device returns capture metadata for logging and diagnostics.
func (c *Capture) Device() Device {
	return c.device
}

// Ready yields exactly one Clip after Stop, then closes. Cancel closes it
// without a value.
func (c *Capture) Ready() <-chan Clip {
	return c.ready
}

// BytesCaptured reports total bytes accepted from Pulse.
func (c *Capture) BytesCaptured() int64 {
	return c.bytes.Load()
}

// Stop halts the stream, releases the device, and publishes the recording.
// Calls after the first are no-ops.
func (c *Capture) Stop() error {
	return c.finish(true)
}

// Cancel halts the stream and discards the recording.
func (c *Capture) Cancel() error {
	return c.finish(false)
}

func (c *Capture) finish(publish bool) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	close(c.stopCh)
	c.mu.Unlock()

	if c.timer != nil {
		c.timer.Stop()
	}
	if c.stream != nil {
		c.stream.Stop()
		c.stream.Close()
	}
	if c.client != nil {
		c.client.Close()
	}

	c.inflight.Wait()

	if publish {
		c.mu.Lock()
		pcm := c.rawPCM
		c.rawPCM = nil
		c.mu.Unlock()

		c.ready <- Clip{
			Device:     c.device,
			PCM:        pcm,
			SampleRate: c.sampleRate,
			Duration:   PCMDuration(len(pcm), c.sampleRate),
		}
	}
	close(c.ready)
	return nil
}

// onPCM receives raw Pulse frames and appends them to the recording.
func (c *Capture) onPCM(buffer []byte) (int, error) {
	if len(buffer) == 0 {
		return 0, nil
	}

	select {
	case <-c.stopCh:
		return 0, io.EOF
	default:
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return 0, io.EOF
	}
	// Add under the same mutex as c.stopped to avoid Add/Wait races.
	c.inflight.Add(1)
	c.rawPCM = append(c.rawPCM, buffer...)
	c.mu.Unlock()
	defer c.inflight.Done()

	c.bytes.Add(int64(len(buffer)))
	return len(buffer), nil
}

// PCMDuration converts a mono s16 byte count into playback time.
func PCMDuration(n int, sampleRate int) time.Duration {
	if n <= 0 || sampleRate <= 0 {
		return 0
	}
	samples := n / bytesPerSample
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}
