package audio_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"smart-control/internal/domain"
	"smart-control/internal/infra/audio"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func tone(n, amplitude int) []int {
	samples := make([]int, n)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = amplitude
		} else {
			samples[i] = -amplitude
		}
	}
	return samples
}

type staticRecorder struct {
	data []byte
	err  error
}

func (s *staticRecorder) Record(context.Context) ([]byte, error) { return s.data, s.err }
func (s *staticRecorder) Name() string                           { return "static" }

type stubSTT struct {
	text  string
	err   error
	calls int
}

func (s *stubSTT) Transcribe(context.Context, []byte) (string, error) {
	s.calls++
	return s.text, s.err
}

func TestWAVRoundTrip(t *testing.T) {
	data, err := audio.EncodeWAV(tone(1600, 3000), 16000)
	if err != nil {
		t.Fatalf("encoding: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("RIFF")) {
		t.Fatalf("missing RIFF header")
	}

	buf, err := audio.DecodeWAV(data)
	if err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(buf.Data) != 1600 {
		t.Errorf("samples: got %d, want 1600", len(buf.Data))
	}
	if buf.Format.SampleRate != 16000 {
		t.Errorf("sample rate: got %d", buf.Format.SampleRate)
	}
	if audio.IsSilent(buf, audio.DefaultSilenceThreshold) {
		t.Error("tone reported as silent")
	}
}

func TestIsSilent(t *testing.T) {
	data, err := audio.EncodeWAV(tone(800, 100), 16000)
	if err != nil {
		t.Fatalf("encoding: %v", err)
	}
	buf, err := audio.DecodeWAV(data)
	if err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if !audio.IsSilent(buf, audio.DefaultSilenceThreshold) {
		t.Error("quiet recording not reported as silent")
	}
}

func TestDecodeWAV_Invalid(t *testing.T) {
	if _, err := audio.DecodeWAV([]byte("not audio")); err == nil {
		t.Error("expected error for non-wav data")
	}
}

var webmClip = []byte{0x1A, 0x45, 0xDF, 0xA3, 0x9F, 0x42, 0x86, 0x81, 0x01, 0x42, 0xF7, 0x81}

func TestDetectFormat(t *testing.T) {
	wavClip, err := audio.EncodeWAV(tone(160, 4000), 16000)
	if err != nil {
		t.Fatalf("encoding: %v", err)
	}

	tests := []struct {
		name string
		data []byte
		want audio.Format
		file string
	}{
		{"wav", wavClip, audio.FormatWAV, "audio.wav"},
		{"webm", webmClip, audio.FormatWebM, "audio.webm"},
		{"ogg", append([]byte("OggS\x00\x02"), make([]byte, 20)...), audio.FormatOgg, "audio.ogg"},
		{"safari mp4", append([]byte("\x00\x00\x00\x1cftypM4A "), make([]byte, 20)...), audio.FormatMP4, "audio.mp4"},
		{"mp3", append([]byte("ID3\x04"), make([]byte, 20)...), audio.FormatMP3, "audio.mp3"},
		{"flac", []byte("fLaC\x00\x00\x00\x22"), audio.FormatFLAC, "audio.flac"},
		{"text", []byte("hello"), audio.FormatUnknown, "audio.wav"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := audio.DetectFormat(tt.data)
			if got != tt.want {
				t.Errorf("format: got %q, want %q", got, tt.want)
			}
			if name := got.Filename(); name != tt.file {
				t.Errorf("filename: got %q, want %q", name, tt.file)
			}
		})
	}
}

func TestRecognizer(t *testing.T) {
	speech, err := audio.EncodeWAV(tone(1600, 4000), 16000)
	if err != nil {
		t.Fatalf("encoding: %v", err)
	}
	silence, err := audio.EncodeWAV(make([]int, 1600), 16000)
	if err != nil {
		t.Fatalf("encoding: %v", err)
	}

	tests := []struct {
		name     string
		recorder *staticRecorder
		stt      *stubSTT
		want     string
		wantKind domain.CaptureErrorKind
		sttCalls int
	}{
		{"speech", &staticRecorder{data: speech}, &stubSTT{text: " turn on the alarm "}, "turn on the alarm", "", 1},
		{"webm goes to stt", &staticRecorder{data: webmClip}, &stubSTT{text: "movie night"}, "movie night", "", 1},
		{"unknown format", &staticRecorder{data: []byte("not audio")}, &stubSTT{text: "x"}, "", domain.CaptureOther, 0},
		{"silent wav", &staticRecorder{data: silence}, &stubSTT{text: "x"}, "", domain.CaptureNoSpeech, 0},
		{"empty recording", &staticRecorder{}, &stubSTT{text: "x"}, "", domain.CaptureNoSpeech, 0},
		{"empty transcript", &staticRecorder{data: speech}, &stubSTT{text: "  "}, "", domain.CaptureNoSpeech, 1},
		{"stt network", &staticRecorder{data: speech}, &stubSTT{err: domain.ErrCaptureNetwork}, "", domain.CaptureNetwork, 1},
		{"device denied", &staticRecorder{err: domain.ErrPermissionDenied}, &stubSTT{}, "", domain.CapturePermissionDenied, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := audio.NewRecognizer(tt.recorder, tt.stt, discardLogger())
			text, err := r.Recognize(context.Background())

			if tt.wantKind == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
			} else if kind := domain.ClassifyCaptureError(err); kind != tt.wantKind {
				t.Fatalf("kind: got %s, want %s (%v)", kind, tt.wantKind, err)
			}
			if text != tt.want {
				t.Errorf("text: got %q, want %q", text, tt.want)
			}
			if tt.stt.calls != tt.sttCalls {
				t.Errorf("stt calls: got %d, want %d", tt.stt.calls, tt.sttCalls)
			}
		})
	}
}

func TestRecognizer_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := audio.NewRecognizer(audio.NewUploadRecorder(), &stubSTT{}, discardLogger())
	_, err := r.Recognize(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error: got %v, want context.Canceled", err)
	}
}

func TestFileRecorder_LoadFromDirectory(t *testing.T) {
	tmpDir := t.TempDir()

	testCases := []struct {
		filename string
		content  []byte
	}{
		{"command1.wav", []byte("RIFF....WAVEfmt audio data 1")},
		{"command2.wav", []byte("RIFF....WAVEfmt audio data 2")},
		{"notes.txt", []byte("ignored")},
	}

	for _, tc := range testCases {
		path := filepath.Join(tmpDir, tc.filename)
		if err := os.WriteFile(path, tc.content, 0644); err != nil {
			t.Fatalf("writing test file: %v", err)
		}
	}

	recorder := audio.NewFileRecorder(tmpDir)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	first, err := recorder.Record(ctx)
	if err != nil {
		t.Fatalf("reading first recording: %v", err)
	}
	second, err := recorder.Record(ctx)
	if err != nil {
		t.Fatalf("reading second recording: %v", err)
	}
	if bytes.Equal(first, second) {
		t.Error("same file returned twice")
	}

	if _, err := os.Stat(filepath.Join(tmpDir, "command1.wav.processed")); err != nil {
		t.Errorf("processed file not renamed: %v", err)
	}

	short, cancelShort := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancelShort()
	if _, err := recorder.Record(short); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("empty dir: got %v, want deadline exceeded", err)
	}
}

func waitListening(t *testing.T, recorder *audio.UploadRecorder) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !recorder.Listening() {
		if time.Now().After(deadline) {
			t.Fatal("recorder never started listening")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestUploadRecorder(t *testing.T) {
	recorder := audio.NewUploadRecorder()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		data, err := recorder.Record(ctx)
		done <- result{data, err}
	}()

	waitListening(t, recorder)
	if err := recorder.Submit([]byte("clip")); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := recorder.Submit([]byte("again")); !errors.Is(err, audio.ErrUploadBusy) {
		t.Errorf("second submit: got %v, want ErrUploadBusy", err)
	}

	res := <-done
	if res.err != nil {
		t.Fatalf("recording: %v", res.err)
	}
	if string(res.data) != "clip" {
		t.Errorf("data: got %q", res.data)
	}
	if recorder.Listening() {
		t.Error("recorder still listening after the session ended")
	}
}

func TestUploadRecorder_RejectsOutsideSession(t *testing.T) {
	recorder := audio.NewUploadRecorder()

	if err := recorder.Submit([]byte("early")); !errors.Is(err, audio.ErrNotListening) {
		t.Fatalf("submit before start: got %v, want ErrNotListening", err)
	}

	// a session aborted before reading its upload must not leak it
	aborted, abort := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := recorder.Record(aborted)
		done <- err
	}()
	waitListening(t, recorder)
	if err := recorder.Submit([]byte("stale")); err != nil {
		t.Fatalf("submit during session: %v", err)
	}
	abort()
	<-done

	if err := recorder.Submit([]byte("late")); !errors.Is(err, audio.ErrNotListening) {
		t.Errorf("submit after abort: got %v, want ErrNotListening", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	data, err := recorder.Record(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("next session: got %q, %v, want deadline exceeded", data, err)
	}
}
