package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/cwbudde/wavscribe"
)

const (
	maxUploadSize = 32 << 20
	fieldName     = "audio"

	msgNoFile      = "No file uploaded"
	msgNoSelection = "No file selected"
	msgNoAudio     = "No audio data received"
	msgNoSpeech    = "no speech detected"

	// silenceRMS is the level below which audio counts as silent.
	silenceRMS = 1e-4
)

var errNoSpeech = errors.New(msgNoSpeech)

type response struct {
	Success bool   `json:"success"`
	Text    string `json:"text,omitempty"`
	Error   string `json:"error,omitempty"`
}

type server struct {
	logger logrus.FieldLogger
}

func newHandler(logger logrus.FieldLogger) http.Handler {
	s := &server{logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /upload", s.handleUpload)
	mux.HandleFunc("POST /transcribe-audio", s.handleBlob)

	return mux
}

func (s *server) handleUpload(w http.ResponseWriter, r *http.Request) {
	log := s.requestLogger(r)
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)

	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		log.WithError(err).Debug("Rejecting upload")
		writeJSON(w, response{Error: msgNoFile})

		return
	}

	file, header, err := r.FormFile(fieldName)
	if err != nil {
		// A part without a filename is parsed as a plain form value.
		if _, ok := r.MultipartForm.Value[fieldName]; ok {
			writeJSON(w, response{Error: msgNoSelection})
			return
		}

		writeJSON(w, response{Error: msgNoFile})

		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, response{Error: err.Error()})
		return
	}

	s.respond(w, log.WithField("file", header.Filename), data)
}

func (s *server) handleBlob(w http.ResponseWriter, r *http.Request) {
	log := s.requestLogger(r)
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)

	var req struct {
		Audio string `json:"audio"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Audio == "" {
		writeJSON(w, response{Error: msgNoAudio})
		return
	}

	_, payload, found := strings.Cut(req.Audio, ",")
	if !found {
		writeJSON(w, response{Error: "invalid data URL"})
		return
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		writeJSON(w, response{Error: fmt.Sprintf("invalid base64 audio: %v", err)})
		return
	}

	s.respond(w, log, data)
}

func (s *server) respond(w http.ResponseWriter, log logrus.FieldLogger, data []byte) {
	text, err := describe(data)
	if err != nil {
		log.WithError(err).Info("Transcription failed")
		writeJSON(w, response{Error: err.Error()})

		return
	}

	log.WithField("bytes", len(data)).Info("Transcribed audio")
	writeJSON(w, response{Success: true, Text: text})
}

func (s *server) requestLogger(r *http.Request) logrus.FieldLogger {
	id := r.Header.Get("X-Request-ID")
	if id == "" {
		id = uuid.NewString()
	}

	return s.logger.WithFields(logrus.Fields{
		"request_id": id,
		"path":       r.URL.Path,
	})
}

// describe stands in for speech recognition: it decodes the WAV file and
// reports its length and format, or errNoSpeech for silence.
func describe(data []byte) (string, error) {
	decoded, err := wavscribe.NewDecoder(bytes.NewReader(data)).Decode()
	if err != nil {
		return "", err
	}

	if rms(decoded) < silenceRMS {
		return "", errNoSpeech
	}

	return fmt.Sprintf("%s of audio at %d Hz in %d channel(s)",
		decoded.Duration(), decoded.SampleRate, decoded.NumChannels()), nil
}

func rms(a wavscribe.DecodedAudio) float64 {
	var (
		sum float64
		n   int
	)

	for _, ch := range a.Channels {
		for _, v := range ch {
			sum += float64(v) * float64(v)
		}

		n += len(ch)
	}

	if n == 0 {
		return 0
	}

	return math.Sqrt(sum / float64(n))
}

func writeJSON(w http.ResponseWriter, resp response) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
