// This tool prints the format of a WAV or AIFF file and whether it already
// is in the canonical layout sent for transcription.
package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/cwbudde/wavscribe"
)

const missingPathMessage = "You must pass the path of the file to inspect"

func main() {
	err := run(os.Args[1:], os.Stdout)
	if err == nil {
		return
	}

	if errors.Is(err, errMissingPath) {
		fmt.Println(missingPathMessage)
		os.Exit(1)
	}

	logrus.Fatal(err)
}

var errMissingPath = errors.New("missing path argument")

func run(args []string, out io.Writer) error {
	if len(args) < 1 {
		return errMissingPath
	}

	for i, path := range args {
		if i > 0 {
			fmt.Fprintln(out)
		}

		if err := describe(path, out); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}

	return nil
}

func describe(path string, out io.Writer) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	contentType := wavscribe.DetectContentType(data)

	fmt.Fprintf(out, "File: %s\n", path)
	fmt.Fprintf(out, "Container: %s\n", contentType)

	switch contentType {
	case wavscribe.ContentTypeWAV:
		return describeWAV(data, out)
	case wavscribe.ContentTypeAIFF:
		decoded, err := wavscribe.DecodeFile(bytes.NewReader(data))
		if err != nil {
			return err
		}

		fmt.Fprintf(out, "Format: %d Hz, %d channel(s)\n", decoded.SampleRate, decoded.NumChannels())
		fmt.Fprintf(out, "Frames: %d\n", decoded.NumFrames())
		fmt.Fprintf(out, "Duration: %s\n", decoded.Duration())
		fmt.Fprintln(out, "Canonical: false")

		return nil
	default:
		return wavscribe.ErrUnsupportedContainer
	}
}

func describeWAV(data []byte, out io.Writer) error {
	dec := wavscribe.NewDecoder(bytes.NewReader(data))
	if err := dec.FwdToPCM(); err != nil {
		return err
	}

	fmt.Fprintf(out, "Format: %s\n", dec)

	if dec.FmtChunk != nil && dec.FmtChunk.Extensible != nil {
		fmt.Fprintln(out, "Extensible: true")
	}

	if dec.CompressedSamples > 0 {
		fmt.Fprintf(out, "Fact samples: %d\n", dec.CompressedSamples)
	}

	fmt.Fprintf(out, "Data bytes: %d\n", dec.PCMLen())

	dur, err := dec.Duration()
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Duration: %s\n", dur)
	fmt.Fprintf(out, "Canonical: %t\n", wavscribe.IsCanonical(data))

	return nil
}
