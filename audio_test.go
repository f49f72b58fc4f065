package runes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAudioTargetsValidSettings(t *testing.T) {
	targets := DefaultAudioTargets()

	require.NoError(t, targets.SetSampleRate(48000))
	assert.Equal(t, 48000, targets.SampleRate)

	require.NoError(t, targets.SetBitDepth(24))
	assert.Equal(t, 24, targets.BitDepth)

	require.NoError(t, targets.SetChannels(1))
	assert.Equal(t, 1, targets.Channels)

	require.NoError(t, targets.SetFormat("FLAC"))
	assert.Equal(t, "flac", targets.Format)
}

func TestAudioTargetsInvalidSampleRate(t *testing.T) {
	targets := DefaultAudioTargets()

	err := targets.SetSampleRate(96000)
	require.Error(t, err)
	// The error names the value and lists the valid set
	assert.Contains(t, err.Error(), "96000")
	assert.Contains(t, err.Error(), "22050")
	assert.Contains(t, err.Error(), "48000")
	assert.Equal(t, 44100, targets.SampleRate)
}

func TestAudioTargetsInvalidBitDepth(t *testing.T) {
	targets := DefaultAudioTargets()
	err := targets.SetBitDepth(32)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "32")
	assert.Contains(t, err.Error(), "16")
}

func TestAudioTargetsInvalidChannels(t *testing.T) {
	targets := DefaultAudioTargets()
	err := targets.SetChannels(6)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "6")
}

func TestAudioTargetsInvalidFormat(t *testing.T) {
	targets := DefaultAudioTargets()
	err := targets.SetFormat("opus")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "opus")
	assert.Contains(t, err.Error(), "wav")
}

func TestClassifyFile(t *testing.T) {
	cases := map[string]FileKind{
		"loop.wav":       FileAudio,
		"song.MP3":       FileAudio,
		"melody.mid":     FileMIDI,
		"notes.txt":      FileText,
		"clip.mp4":       FileVideo,
		"cover.png":      FileImage,
		"model.ckpt":     FileOther,
		"no_extension":   FileOther,
		"dir/nested.ogg": FileAudio,
	}

	for path, want := range cases {
		assert.Equal(t, want, ClassifyFile(path), "path %s", path)
	}
}
