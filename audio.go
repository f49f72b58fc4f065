package runes

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// Valid audio target settings
var (
	ValidSampleRates   = []int{22050, 32000, 44100, 48000}
	ValidBitDepths     = []int{16, 24}
	ValidChannelCounts = []int{1, 2}
	ValidFormats       = []string{"wav", "mp3", "aif", "aiff", "flac"}
)

// AudioTargets describes the format, sample rate, bit depth, and channel
// count that audio files are converted to. The client holds one set for
// downloaded inputs and one for uploaded outputs.
type AudioTargets struct {
	Format     string `yaml:"format"`
	SampleRate int    `yaml:"sample_rate"`
	BitDepth   int    `yaml:"bit_depth"`
	Channels   int    `yaml:"channels"`
}

// DefaultAudioTargets returns the default targets: 16-bit stereo 44.1kHz wav
func DefaultAudioTargets() AudioTargets {
	return AudioTargets{
		Format:     "wav",
		SampleRate: 44100,
		BitDepth:   16,
		Channels:   2,
	}
}

// SetSampleRate sets the target sample rate, rejecting values outside the valid set
func (t *AudioTargets) SetSampleRate(rate int) error {
	for _, valid := range ValidSampleRates {
		if rate == valid {
			t.SampleRate = rate
			return nil
		}
	}
	return NewInvalidSettingError("sample rate", rate, ValidSampleRates)
}

// SetBitDepth sets the target bit depth, rejecting values outside the valid set
func (t *AudioTargets) SetBitDepth(depth int) error {
	for _, valid := range ValidBitDepths {
		if depth == valid {
			t.BitDepth = depth
			return nil
		}
	}
	return NewInvalidSettingError("bit depth", depth, ValidBitDepths)
}

// SetChannels sets the target channel count, rejecting values outside the valid set
func (t *AudioTargets) SetChannels(channels int) error {
	for _, valid := range ValidChannelCounts {
		if channels == valid {
			t.Channels = channels
			return nil
		}
	}
	return NewInvalidSettingError("channel count", channels, ValidChannelCounts)
}

// SetFormat sets the target container format, rejecting values outside the valid set
func (t *AudioTargets) SetFormat(format string) error {
	lower := strings.ToLower(format)
	for _, valid := range ValidFormats {
		if lower == valid {
			t.Format = lower
			return nil
		}
	}
	return NewInvalidSettingError("format", format, ValidFormats)
}

// TranscoderInstallHint is recorded as a result error when audio output is
// produced but no transcoder is available.
const TranscoderInstallHint = "ffmpeg is not installed, which is required for processing audio files. " +
	"To install ffmpeg: on macOS run 'brew install ffmpeg'; on Debian/Ubuntu run " +
	"'sudo apt-get install ffmpeg'; on Fedora run 'sudo dnf install ffmpeg'. " +
	"For other systems see https://ffmpeg.org/download.html"

// Transcoder converts an audio file to the given targets and returns the
// path of the converted file. Treated as a black box by the rest of the
// client.
type Transcoder interface {
	Available() bool
	Transcode(path string, targets AudioTargets) (string, error)
}

// FFmpegTranscoder converts audio by shelling out to ffmpeg
type FFmpegTranscoder struct{}

// Available reports whether the ffmpeg binary is on PATH
func (FFmpegTranscoder) Available() bool {
	_, err := exec.LookPath("ffmpeg")
	return err == nil
}

// Transcode converts the file into a sibling "resampled" directory with the
// target format, sample rate, bit depth, and channel count applied.
func (FFmpegTranscoder) Transcode(path string, targets AudioTargets) (string, error) {
	outDir := filepath.Join(filepath.Dir(path), "resampled")
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	outPath := filepath.Join(outDir, base+"."+targets.Format)

	if err := ensureDir(outDir); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	args := []string{
		"-y",
		"-i", path,
		"-ar", strconv.Itoa(targets.SampleRate),
		"-ac", strconv.Itoa(targets.Channels),
	}
	// PCM codecs carry the bit depth; lossy formats ignore it
	switch targets.Format {
	case "wav", "aif", "aiff":
		if targets.BitDepth == 24 {
			args = append(args, "-c:a", "pcm_s24le")
		} else {
			args = append(args, "-c:a", "pcm_s16le")
		}
	}
	args = append(args, outPath)

	cmd := exec.Command("ffmpeg", args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("ffmpeg conversion of %s failed: %w: %s", path, err, strings.TrimSpace(string(output)))
	}

	return outPath, nil
}
