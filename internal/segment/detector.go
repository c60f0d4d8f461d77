// Package segment turns a per-speaker stream of PCM frames into pause-bounded
// utterances: an energy-based speech detector classifies each frame, and a
// per-speaker chunker accumulates frames until a pause or maximum-length
// boundary is reached.
//
// Both types are pure CPU work and never block; the chunker is owned by a
// single worker goroutine per (session, speaker) and is not safe for shared
// use across goroutines.
package segment

import "github.com/vocero-ai/vocero/pkg/audio"

// DefaultRMSThreshold is the default voicing threshold on the int16 scale,
// calibrated against typical mobile microphone noise floors.
const DefaultRMSThreshold = 350

// Detector classifies single PCM frames as voiced or silent from their
// root-mean-square energy. It is stateless and safe for concurrent use.
type Detector struct {
	// Threshold is the RMS amplitude above which a frame counts as voiced.
	Threshold float64
}

// NewDetector returns a Detector with the given RMS threshold. A zero or
// negative threshold selects DefaultRMSThreshold.
func NewDetector(threshold float64) Detector {
	if threshold <= 0 {
		threshold = DefaultRMSThreshold
	}
	return Detector{Threshold: threshold}
}

// Voiced reports whether frame contains speech energy. It returns
// audio.ErrOddFrame for frames that cannot be interpreted as int16 samples;
// callers must drop such frames rather than guess.
func (d Detector) Voiced(frame []byte) (bool, error) {
	rms, err := audio.RMS(frame)
	if err != nil {
		return false, err
	}
	return rms >= d.Threshold, nil
}
