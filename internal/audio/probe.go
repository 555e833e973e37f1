package audio

import (
	"math"
	"os"

	"github.com/go-audio/wav"
)

// ProbeDuration returns the payload length in seconds, computed as frame
// count over sample rate. Unreadable or empty payloads report 0.
func ProbeDuration(path string) float64 {
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return 0
	}
	if err := dec.FwdToPCM(); err != nil {
		return 0
	}

	frameSize := int64(dec.NumChans) * int64(dec.BitDepth/8)
	if frameSize <= 0 || dec.SampleRate == 0 {
		return 0
	}
	frames := dec.PCMLen() / frameSize
	seconds := float64(frames) / float64(dec.SampleRate)
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds < 0 {
		return 0
	}
	return seconds
}
