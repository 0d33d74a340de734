package indicator

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/jfreymuth/pulse"
	"github.com/rbright/nimbus/internal/config"
)

type cueKind int

const (
	cueStart cueKind = iota + 1
	cueStop
	cueComplete
	cueCancel
)

const (
	chimeSampleRate = 24000
	chimeGain       = 0.18
	chimeGapMS      = 22
	chimeFadeMS     = 5

	maxCueFileBytes = 4 << 20
)

// note is one chime tone.
type note struct {
	hz float64
	ms int
}

// cue is an indicator sound: an optional user file and the chime played when
// the file is unset or cannot be decoded.
type cue struct {
	name  string
	file  func(config.IndicatorConfig) string
	notes []note
}

var cues = map[cueKind]cue{
	cueStart: {
		name:  "start",
		file:  func(c config.IndicatorConfig) string { return c.SoundStartFile },
		notes: []note{{hz: 660, ms: 70}, {hz: 990, ms: 80}},
	},
	cueStop: {
		name:  "stop",
		file:  func(c config.IndicatorConfig) string { return c.SoundStopFile },
		notes: []note{{hz: 587, ms: 110}},
	},
	cueComplete: {
		name:  "complete",
		file:  func(c config.IndicatorConfig) string { return c.SoundCompleteFile },
		notes: []note{{hz: 784, ms: 65}, {hz: 1047, ms: 95}},
	},
	cueCancel: {
		name:  "cancel",
		file:  func(c config.IndicatorConfig) string { return c.SoundCancelFile },
		notes: []note{{hz: 523, ms: 75}, {hz: 392, ms: 95}},
	},
}

// clip is mono float audio ready for playback.
type clip struct {
	samples    []float32
	sampleRate int
}

var errUnsupportedCue = errors.New("unsupported cue file")

// emitCue plays the configured cue file, falling back to the built-in chime.
func emitCue(ctx context.Context, kind cueKind, cfg config.IndicatorConfig) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("emit cue: %w", err)
	}
	spec, ok := cues[kind]
	if !ok {
		return nil
	}

	sound := chime(spec.notes)
	if path := cuePath(kind, cfg); path != "" {
		if loaded, err := loadCueFile(path); err == nil {
			sound = loaded
		}
	}
	return playClip(spec.name, sound)
}

func cuePath(kind cueKind, cfg config.IndicatorConfig) string {
	spec, ok := cues[kind]
	if !ok {
		return ""
	}
	return expandUserPath(spec.file(cfg))
}

func expandUserPath(raw string) string {
	raw = strings.TrimSpace(raw)
	rest, ok := strings.CutPrefix(raw, "~")
	if !ok || (rest != "" && !strings.HasPrefix(rest, "/")) {
		return raw
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return raw
	}
	return filepath.Join(home, rest)
}

// CheckCueFile reports whether path holds a cue nimbus can play. A "~/"
// prefix is expanded.
func CheckCueFile(path string) error {
	_, err := loadCueFile(expandUserPath(path))
	return err
}

// loadCueFile reads a 16-bit PCM WAV cue and downmixes it to mono.
func loadCueFile(path string) (clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return clip{}, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxCueFileBytes+1))
	if err != nil {
		return clip{}, fmt.Errorf("read cue %q: %w", path, err)
	}
	if len(data) > maxCueFileBytes {
		return clip{}, fmt.Errorf("%w: %q is larger than %d bytes", errUnsupportedCue, path, maxCueFileBytes)
	}
	decoded, err := decodeWAV(data)
	if err != nil {
		return clip{}, fmt.Errorf("decode cue %q: %w", path, err)
	}
	return decoded, nil
}

// decodeWAV walks RIFF chunks for a PCM fmt chunk and its data.
func decodeWAV(data []byte) (clip, error) {
	if len(data) < 12 || !bytes.Equal(data[0:4], []byte("RIFF")) || !bytes.Equal(data[8:12], []byte("WAVE")) {
		return clip{}, fmt.Errorf("%w: not a RIFF/WAVE file", errUnsupportedCue)
	}

	var (
		channels   int
		sampleRate int
		haveFormat bool
	)
	for rest := data[12:]; len(rest) >= 8; {
		id := string(rest[0:4])
		size := int(binary.LittleEndian.Uint32(rest[4:8]))
		body := rest[8:]
		if size > len(body) {
			size = len(body)
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return clip{}, fmt.Errorf("%w: short fmt chunk", errUnsupportedCue)
			}
			format := binary.LittleEndian.Uint16(body[0:2])
			channels = int(binary.LittleEndian.Uint16(body[2:4]))
			sampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			bits := binary.LittleEndian.Uint16(body[14:16])
			if format != 1 || bits != 16 || channels < 1 || channels > 2 || sampleRate <= 0 {
				return clip{}, fmt.Errorf("%w: need 16-bit PCM mono or stereo", errUnsupportedCue)
			}
			haveFormat = true
		case "data":
			if !haveFormat {
				return clip{}, fmt.Errorf("%w: data before fmt", errUnsupportedCue)
			}
			return clip{samples: monoFloat(body[:size], channels), sampleRate: sampleRate}, nil
		}

		advance := 8 + size + size%2
		if advance > len(rest) {
			break
		}
		rest = rest[advance:]
	}
	return clip{}, fmt.Errorf("%w: no data chunk", errUnsupportedCue)
}

func monoFloat(pcm []byte, channels int) []float32 {
	frame := 2 * channels
	out := make([]float32, len(pcm)/frame)
	for i := range out {
		var sum float32
		for ch := 0; ch < channels; ch++ {
			offset := i*frame + 2*ch
			sum += float32(int16(binary.LittleEndian.Uint16(pcm[offset:]))) / 32768
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// chime renders notes with short fades and a gap between them.
func chime(notes []note) clip {
	gap := samplesFor(chimeGapMS)
	var samples []float32
	for i, n := range notes {
		if i > 0 {
			samples = append(samples, make([]float32, gap)...)
		}
		samples = append(samples, tone(n)...)
	}
	return clip{samples: samples, sampleRate: chimeSampleRate}
}

func tone(n note) []float32 {
	count := samplesFor(n.ms)
	if count == 0 || n.hz <= 0 {
		return nil
	}
	fade := min(samplesFor(chimeFadeMS), count/2)
	step := 2 * math.Pi * n.hz / chimeSampleRate

	out := make([]float32, count)
	for i := range out {
		gain := chimeGain
		if edge := min(i, count-1-i); edge < fade {
			gain *= float64(edge) / float64(fade)
		}
		out[i] = float32(gain * math.Sin(step*float64(i)))
	}
	return out
}

func samplesFor(ms int) int {
	if ms <= 0 {
		return 0
	}
	return ms * chimeSampleRate / 1000
}

func playClip(name string, sound clip) error {
	if len(sound.samples) == 0 {
		return nil
	}

	client, err := pulse.NewClient(
		pulse.ClientApplicationName("nimbus"),
		pulse.ClientApplicationIconName(iconForecast),
	)
	if err != nil {
		return fmt.Errorf("connect pulse server: %w", err)
	}
	defer client.Close()

	remaining := sound.samples
	reader := pulse.Float32Reader(func(buf []float32) (int, error) {
		n := copy(buf, remaining)
		remaining = remaining[n:]
		if len(remaining) == 0 {
			return n, pulse.EndOfData
		}
		return n, nil
	})

	stream, err := client.NewPlayback(
		reader,
		pulse.PlaybackMono,
		pulse.PlaybackSampleRate(sound.sampleRate),
		pulse.PlaybackLatency(0.02),
		pulse.PlaybackMediaName("nimbus "+name+" cue"),
	)
	if err != nil {
		return fmt.Errorf("open %s cue stream: %w", name, err)
	}
	defer stream.Close()

	stream.Start()
	stream.Drain()
	if err := stream.Error(); err != nil {
		return fmt.Errorf("play %s cue: %w", name, err)
	}
	return nil
}
