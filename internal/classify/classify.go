// Package classify analyzes short audio samples from the broadcast stream
// and decides whether the station is airing a live show, unattended
// automation, or dead air.
package classify

import (
	"fmt"
	"math"
	"os"

	"github.com/go-audio/wav"
)

// Classification is the outcome of analyzing one probe sample.
type Classification string

const (
	LiveShow   Classification = "live_show"
	Automation Classification = "automation"
	DeadAir    Classification = "dead_air"
	StreamDown Classification = "stream_down"
	Unknown    Classification = "unknown"
)

// silenceMajority is the fraction of silent chunks above which a sample is
// dead air regardless of what the remaining chunks look like.
const silenceMajority = 0.6

// Result describes one analyzed audio sample.
type Result struct {
	Classification  Classification `json:"classification"`
	Reason          string         `json:"reason"`
	AvgDB           float64        `json:"avg_db"`
	SilenceRatio    float64        `json:"silence_ratio"`
	AutomationRatio float64        `json:"automation_ratio"`
}

// Thresholds are the tuning knobs for classification. DeadAirDB and the
// automation band are dBFS values compared against per-chunk levels.
type Thresholds struct {
	DeadAirDB                float64
	AutomationMinDB          float64
	AutomationMaxDB          float64
	AutomationRatioThreshold float64
	ChunkMs                  int
}

// Classifier turns PCM samples into a Result. It holds thresholds only;
// analysis is deterministic for a given input and threshold set.
type Classifier struct {
	thresholds Thresholds
}

// New creates a Classifier. A zero or negative chunk size falls back to
// 500 ms.
func New(t Thresholds) *Classifier {
	if t.ChunkMs <= 0 {
		t.ChunkMs = 500
	}
	return &Classifier{thresholds: t}
}

// Analyze classifies a buffer of raw integer PCM samples. AvgDB is the
// RMS of the raw sample values; per-chunk levels are dBFS relative to the
// full scale implied by bitDepth. The mismatch is deliberate and tracked
// upstream; the thresholds were tuned against it.
//
// Interleaved multi-channel audio is treated as a single sequence; the
// chunk size scales with the channel count so chunks stay time-aligned.
func (c *Classifier) Analyze(samples []int, sampleRate, channels, bitDepth int) Result {
	if len(samples) == 0 {
		return Result{
			Classification: DeadAir,
			Reason:         "empty_audio",
			AvgDB:          0,
			SilenceRatio:   1.0,
		}
	}
	if sampleRate <= 0 {
		sampleRate = 44100
	}
	if channels <= 0 {
		channels = 1
	}
	if bitDepth <= 0 {
		bitDepth = 16
	}
	fullScale := float64(int64(1) << (bitDepth - 1))

	avgDB := rawDB(samples)

	chunkSize := sampleRate * c.thresholds.ChunkMs / 1000 * channels
	if chunkSize <= 0 {
		chunkSize = len(samples)
	}

	var silenceChunks, automationChunks, totalChunks int
	for start := 0; start < len(samples); start += chunkSize {
		end := start + chunkSize
		if end > len(samples) {
			end = len(samples)
		}
		level := dbfs(samples[start:end], fullScale)
		switch {
		case level <= c.thresholds.DeadAirDB:
			silenceChunks++
		case level >= c.thresholds.AutomationMinDB && level <= c.thresholds.AutomationMaxDB:
			automationChunks++
		}
		totalChunks++
	}
	if totalChunks == 0 {
		totalChunks = 1
	}

	silenceRatio := float64(silenceChunks) / float64(totalChunks)
	automationRatio := float64(automationChunks) / float64(totalChunks)

	var classification Classification
	var reason string
	switch {
	case silenceRatio > silenceMajority:
		classification = DeadAir
		reason = "majority_silence"
	case automationRatio >= c.thresholds.AutomationRatioThreshold:
		classification = Automation
		reason = "consistent_compression"
	default:
		classification = LiveShow
		reason = "dynamic_levels"
	}

	return Result{
		Classification:  classification,
		Reason:          reason,
		AvgDB:           round2(avgDB),
		SilenceRatio:    round3(silenceRatio),
		AutomationRatio: round3(automationRatio),
	}
}

// AnalyzeFile decodes a WAV file and classifies it. It never returns an
// error: unreadable or corrupt audio yields Unknown with the failure
// message as the reason.
func (c *Classifier) AnalyzeFile(path string) Result {
	f, err := os.Open(path)
	if err != nil {
		return unknownResult(err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return unknownResult(fmt.Errorf("not a valid wav file: %s", path))
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return unknownResult(fmt.Errorf("decode wav: %w", err))
	}

	bitDepth := int(dec.BitDepth)
	if buf.SourceBitDepth > 0 {
		bitDepth = buf.SourceBitDepth
	}

	return c.Analyze(buf.Data, buf.Format.SampleRate, buf.Format.NumChannels, bitDepth)
}

func unknownResult(err error) Result {
	return Result{Classification: Unknown, Reason: err.Error()}
}

// rawDB computes 20*log10 of the RMS of raw sample values. Digital
// silence maps to -100 dB.
func rawDB(samples []int) float64 {
	level := rms(samples)
	if level == 0 {
		return -100
	}
	return 20 * math.Log10(level)
}

// dbfs computes the RMS level of a chunk in decibels relative to full
// scale.
func dbfs(samples []int, fullScale float64) float64 {
	level := rms(samples)
	if level == 0 {
		return -100
	}
	return 20 * math.Log10(level/fullScale)
}

func rms(samples []int) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
