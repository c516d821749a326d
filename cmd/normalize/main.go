// This tool converts a WAV or AIFF file into the canonical 16-bit PCM WAV
// layout used for transcription uploads, or into a 16-bit AIFF copy.
package main

import (
	"bytes"
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/go-audio/aiff"
	"github.com/go-audio/audio"
	"github.com/sirupsen/logrus"

	"github.com/cwbudde/wavscribe"
)

const (
	formatWAV  = "wav"
	formatAIFF = "aiff"
)

var errMissingInput = errors.New("you must set the -in flag")

func main() {
	err := run(os.Args[1:])
	if err != nil {
		logrus.Fatal(err)
	}
}

func run(args []string) error {
	flagSet := flag.NewFlagSet("normalize", flag.ContinueOnError)

	in := flagSet.String("in", "", "path to the WAV or AIFF file to normalize")
	out := flagSet.String("out", "", "output path, defaults to the input path with a .canonical.wav (or .aif) suffix")
	format := flagSet.String("format", formatWAV, "output format: wav or aiff")

	err := flagSet.Parse(args)
	if err != nil {
		return err
	}

	if *in == "" {
		return errMissingInput
	}

	if *format != formatWAV && *format != formatAIFF {
		return fmt.Errorf("unknown output format %q", *format)
	}

	sourcePath, err := expandHome(*in)
	if err != nil {
		return err
	}

	outPath := *out
	if outPath == "" {
		outPath = defaultOutputPath(sourcePath, *format)
	}

	outPath, err = expandHome(outPath)
	if err != nil {
		return err
	}

	file, err := os.Open(sourcePath)
	if err != nil {
		return fmt.Errorf("invalid path %s: %w", sourcePath, err)
	}
	defer file.Close()

	canonical, err := wavscribe.Normalize(file)
	if err != nil {
		return fmt.Errorf("failed to normalize %s: %w", sourcePath, err)
	}

	if *format == formatAIFF {
		err = writeAIFF(outPath, canonical)
	} else {
		err = os.WriteFile(outPath, canonical, 0o644)
	}

	if err != nil {
		return fmt.Errorf("failed to write %s: %w", outPath, err)
	}

	logrus.WithFields(logrus.Fields{
		"in":     sourcePath,
		"out":    outPath,
		"format": *format,
		"bytes":  len(canonical),
	}).Info("File normalized")

	return nil
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}

	usr, err := user.Current()
	if err != nil {
		return "", fmt.Errorf("failed to get the user home directory: %w", err)
	}

	return filepath.Join(usr.HomeDir, path[2:]), nil
}

func defaultOutputPath(sourcePath, format string) string {
	base := sourcePath[:len(sourcePath)-len(filepath.Ext(sourcePath))]
	if format == formatAIFF {
		return base + ".aif"
	}

	return base + ".canonical.wav"
}

// writeAIFF stores the PCM16 samples of a canonical WAV container as AIFF.
func writeAIFF(path string, canonical []byte) error {
	h, err := wavscribe.ParseHeader(canonical)
	if err != nil {
		return err
	}

	pcm := canonical[wavscribe.HeaderSize:]
	samples := make([]int16, len(pcm)/2)

	if err := binary.Read(bytes.NewReader(pcm), binary.LittleEndian, samples); err != nil {
		return fmt.Errorf("failed to read PCM data: %w", err)
	}

	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: int(h.NumChannels), SampleRate: int(h.SampleRate)},
		SourceBitDepth: 16,
		Data:           make([]int, len(samples)),
	}
	for i, s := range samples {
		buf.Data[i] = int(s)
	}

	outFile, err := os.Create(path)
	if err != nil {
		return err
	}
	defer outFile.Close()

	encoder := aiff.NewEncoder(outFile, int(h.SampleRate), 16, int(h.NumChannels))
	if err := encoder.Write(buf); err != nil {
		return err
	}

	return encoder.Close()
}
