// Package transcribe submits canonical WAV audio to a speech-to-text
// server, either as a multipart file upload or as a base64 data URL in a
// JSON body, and retries transient failures.
package transcribe
