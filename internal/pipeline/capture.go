// Package pipeline adapts pulse capture into session recordings ready for upload.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rbright/nimbus/internal/audio"
	"github.com/rbright/nimbus/internal/config"
	"github.com/rbright/nimbus/internal/session"
)

// recorder is the capture surface VoiceCapture drives.
type recorder interface {
	Ready() <-chan audio.Clip
	Stop() error
	Cancel() error
	BytesCaptured() int64
}

// VoiceCapture implements session.Capture on top of a Pulse record stream.
type VoiceCapture struct {
	cfg    config.Config
	logger *slog.Logger

	selectDevice func(context.Context, string, string) (audio.Selection, error)
	startCapture func(context.Context, audio.Device, audio.CaptureOptions) (recorder, error)

	mu     sync.Mutex
	active recorder
}

// NewVoiceCapture builds a microphone adapter from runtime config.
func NewVoiceCapture(cfg config.Config, logger *slog.Logger) *VoiceCapture {
	return &VoiceCapture{
		cfg:          cfg,
		logger:       logger,
		selectDevice: audio.SelectDevice,
		startCapture: func(ctx context.Context, device audio.Device, opts audio.CaptureOptions) (recorder, error) {
			return audio.StartCapture(ctx, device, opts)
		},
	}
}

// Supported reports whether an input device is selectable right now.
func (v *VoiceCapture) Supported(ctx context.Context) bool {
	if _, err := v.selectDevice(ctx, v.cfg.Audio.Input, v.cfg.Audio.Fallback); err != nil {
		v.logWarn(fmt.Sprintf("audio capture unavailable: %v", err))
		return false
	}
	return true
}

// Start opens the selected device and begins recording.
func (v *VoiceCapture) Start(ctx context.Context) (<-chan session.Recording, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.active != nil {
		return nil, fmt.Errorf("%w: capture already active", session.ErrCaptureUnavailable)
	}

	selection, err := v.selectDevice(ctx, v.cfg.Audio.Input, v.cfg.Audio.Fallback)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", session.ErrCaptureUnavailable, err)
	}
	if selection.Warning != "" {
		v.logWarn(selection.Warning)
	}

	rec, err := v.startCapture(ctx, selection.Device, audio.CaptureOptions{
		SampleRate:  v.cfg.Audio.SampleRate,
		MaxDuration: time.Duration(v.cfg.Audio.MaxDurationMS) * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", session.ErrCaptureUnavailable, err)
	}
	v.active = rec

	out := make(chan session.Recording, 1)
	go v.forward(rec, out)
	return out, nil
}

// Stop ends the active recording. It is a no-op when idle.
func (v *VoiceCapture) Stop() error {
	rec := v.current()
	if rec == nil {
		return nil
	}
	return rec.Stop()
}

// Cancel discards the active recording. It is a no-op when idle.
func (v *VoiceCapture) Cancel() error {
	rec := v.current()
	if rec == nil {
		return nil
	}
	return rec.Cancel()
}

func (v *VoiceCapture) current() recorder {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.active
}

// forward waits for the recorder to release the device, then encodes and
// publishes the recording.
func (v *VoiceCapture) forward(rec recorder, out chan<- session.Recording) {
	defer close(out)

	clip, ok := <-rec.Ready()

	v.mu.Lock()
	if v.active == rec {
		v.active = nil
	}
	v.mu.Unlock()

	if !ok {
		return
	}

	if len(clip.PCM) == 0 {
		v.logWarn(audio.ErrNoAudio.Error())
	}

	wav := encodeWAV(clip.PCM, clip.SampleRate)
	v.writeDebugAudio(wav)

	out <- session.Recording{
		WAV:           wav,
		Device:        describeDevice(clip.Device),
		BytesCaptured: rec.BytesCaptured(),
		Duration:      clip.Duration,
	}
}

// describeDevice formats device metadata for logs and session results.
func describeDevice(device audio.Device) string {
	description := strings.TrimSpace(device.Description)
	id := strings.TrimSpace(device.ID)
	if description == "" {
		return id
	}
	if id == "" {
		return description
	}
	return fmt.Sprintf("%s (%s)", description, id)
}

// logWarn emits warning-level logs when a logger is configured.
func (v *VoiceCapture) logWarn(message string) {
	if v.logger == nil {
		return
	}
	v.logger.Warn(message)
}

var _ session.Capture = (*VoiceCapture)(nil)
