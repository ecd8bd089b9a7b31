package signature_test

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/hornwatch/internal/signature"
	"github.com/MrWong99/hornwatch/pkg/audio"
	"github.com/MrWong99/hornwatch/pkg/audio/decode"
	"github.com/MrWong99/hornwatch/pkg/audio/file"
	"github.com/MrWong99/hornwatch/pkg/detect"
)

const cdRate = 44100

// hornChord is a two-tone horn-like sound recorded at 44.1 kHz.
func hornChord(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		ts := float64(i) / cdRate
		out[i] = float32(0.4*math.Sin(2*math.Pi*420*ts) + 0.3*math.Sin(2*math.Pi*520*ts))
	}
	return out
}

// evaluateAll runs frames through the extractor and a fresh detector and
// returns the smallest distance and whether any frame matched.
func evaluateAll(t *testing.T, sig *signature.Signature, frames []audio.AudioFrame) (float64, bool) {
	t.Helper()
	ex := newExtractor(t)
	det, err := detect.New(detect.Config{Metric: detect.Manhattan, Threshold: 0.35}, sig)
	if err != nil {
		t.Fatalf("detect.New: %v", err)
	}
	best, matched := math.Inf(1), false
	for _, f := range frames {
		v, err := ex.Extract(f.Samples)
		if err != nil {
			t.Fatalf("Extract: %v", err)
		}
		res, err := det.Evaluate(v, f.Timestamp)
		if err != nil {
			t.Fatalf("Evaluate: %v", err)
		}
		best = min(best, res.Distance)
		matched = matched || res.Outcome == detect.Match
	}
	return best, matched
}

func TestReferenceMatchesAcrossInputPaths(t *testing.T) {
	t.Parallel()

	horn := hornChord(2 * cdRate)
	sig, err := signature.Build(audio.Clip{Samples: horn, SampleRate: cdRate, Channels: 1}, newExtractor(t), buildConfig())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	format := audio.Format{SampleRate: rate, WindowSize: window}

	t.Run("live device stream", func(t *testing.T) {
		// A device running at 44.1 kHz is read in small chunks.
		src := audio.NewResampler(cdRate, rate, &audio.MonoStreamer{Samples: horn})
		framer := audio.NewFramer(format)
		buf := make([][2]float64, 512)
		mono := make([]float32, 512)
		var frames []audio.AudioFrame
		for {
			n, ok := src.Stream(buf)
			for i := range n {
				mono[i] = float32(buf[i][0])
			}
			frames = append(frames, framer.Push(mono[:n])...)
			if !ok {
				break
			}
		}
		if len(frames) < 10 {
			t.Fatalf("frames = %d, want at least 10", len(frames))
		}
		if best, ok := evaluateAll(t, sig, frames); !ok || best > 1e-3 {
			t.Errorf("live path: best distance %g, matched %v", best, ok)
		}
	})

	t.Run("file source", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "horn.wav")
		if err := os.WriteFile(path, decode.MustEncodeWAV(horn, cdRate), 0o644); err != nil {
			t.Fatal(err)
		}
		c, err := file.New(path).RequestCapture(context.Background(), format)
		if err != nil {
			t.Fatalf("RequestCapture: %v", err)
		}
		defer c.Release()

		var frames []audio.AudioFrame
		timeout := time.After(5 * time.Second)
		for done := false; !done; {
			select {
			case f, ok := <-c.Frames():
				if !ok {
					done = true
					break
				}
				frames = append(frames, f)
			case <-timeout:
				t.Fatal("file source did not finish")
			}
		}
		// 16-bit quantisation of the WAV leaves a small residue.
		if best, ok := evaluateAll(t, sig, frames); !ok || best > 0.05 {
			t.Errorf("file path: best distance %g, matched %v", best, ok)
		}
	})
}
