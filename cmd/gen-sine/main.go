// This tool writes a canonical 16-bit PCM sine wave, handy as a fixture
// for the transcription tools.
package main

import (
	"flag"
	"fmt"
	"math"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/cwbudde/wavscribe"
)

func main() {
	err := run(os.Args[1:])
	if err != nil {
		logrus.Fatal(err)
	}
}

func run(args []string) error {
	flagSet := flag.NewFlagSet("gen-sine", flag.ContinueOnError)

	output := flagSet.String("output", "output.wav", "filename to write to")
	frequency := flagSet.Float64("frequency", 440, "frequency in hertz to generate")
	length := flagSet.Float64("length", 5, "length in seconds of output file")
	channels := flagSet.Int("channels", 1, "number of channels")
	sampleRate := flagSet.Int("rate", 48000, "sample rate in hertz")
	amplitude := flagSet.Float64("amplitude", 1, "peak amplitude, clamped to [-1, 1] on write")

	err := flagSet.Parse(args)
	if err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"length":    *length,
		"frequency": *frequency,
		"channels":  *channels,
		"rate":      *sampleRate,
	}).Info("Generating sine wav")

	file, err := os.Create(*output)
	if err != nil {
		return fmt.Errorf("error creating %s: %w", *output, err)
	}
	defer file.Close()

	wavOut := wavscribe.NewEncoder(file, *sampleRate, *channels)
	numFrames := int(float64(*sampleRate) * *length)

	for i := 0; i < numFrames; i++ {
		fv := *amplitude * math.Sin(float64(i)/float64(*sampleRate)**frequency*2*math.Pi)

		v := float32(fv)

		// WriteFrame takes one interleaved sample per channel.
		for _i := 0; _i < *channels; _i++ {
			err := wavOut.WriteFrame(v)
			if err != nil {
				return err
			}
		}
	}

	return wavOut.Close()
}
