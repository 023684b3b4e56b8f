package serialbridge

import (
	"bytes"
	"errors"
	"sync"
	"testing"
)

func TestSend_WritesOneByte(t *testing.T) {
	s, mp := openMock(t, "COM12")

	if err := Send(s, 0x41); err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if err := s.Send(0x00); err != nil {
		t.Fatalf("Send error: %v", err)
	}

	w := mp.written()
	if len(w) != 2 || !bytes.Equal(w[0], []byte{0x41}) || !bytes.Equal(w[1], []byte{0x00}) {
		t.Fatalf("unexpected writes: %v", w)
	}
	m := s.Metrics()
	if m.SendOperations.Load() != 2 || m.BytesWritten.Load() != 2 || m.SendErrors.Load() != 0 {
		t.Fatalf("metrics ops=%d bytes=%d errs=%d", m.SendOperations.Load(), m.BytesWritten.Load(), m.SendErrors.Load())
	}
}

func TestSend_FailureLeavesSessionOpen(t *testing.T) {
	s, mp := openMock(t, "COM12")
	broken := errors.New("output channel broken")
	mp.writeErr = func(p []byte) error {
		if p[0] == 0x41 {
			return broken
		}
		return nil
	}

	err := s.Send(0x41)
	var se *SendError
	if !errors.As(err, &se) || !errors.Is(err, broken) {
		t.Fatalf("expected *SendError wrapping cause, got %v", err)
	}
	if se.Port != "COM12" {
		t.Fatalf("SendError.Port = %q", se.Port)
	}
	if s.IsClosed() {
		t.Fatal("a failed send must not close the session")
	}

	if err = s.Send(0x42); err != nil {
		t.Fatalf("second Send error: %v", err)
	}
	w := mp.written()
	if len(w) != 2 || w[1][0] != 0x42 {
		t.Fatalf("second byte not attempted: %v", w)
	}
	if s.Metrics().SendErrors.Load() != 1 {
		t.Fatalf("SendErrors = %d, want 1", s.Metrics().SendErrors.Load())
	}
}

func TestSend_AfterClose(t *testing.T) {
	s, mp := openMock(t, "COM12")
	_ = s.Close()

	err := s.Send(0x41)
	var se *SendError
	if !errors.As(err, &se) || !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected *SendError with ErrSessionClosed, got %v", err)
	}
	if len(mp.written()) != 0 {
		t.Fatal("nothing should reach the port after close")
	}
}

func TestWrite_RetriesPartialWrites(t *testing.T) {
	tests := []struct {
		name     string
		maxWrite int
		payload  string
		wantN    int
		wantErr  error
	}{
		{"whole write", 0, "hello", 5, nil},
		{"completes within retries", 2, "hello", 5, nil},
		{"gives up after retries", 2, "hello!!", 6, ErrShortWrite},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mp := openMock(t, "COM12")
			mp.maxWrite = tt.maxWrite

			n, err := s.Write([]byte(tt.payload))
			if n != tt.wantN {
				t.Fatalf("n = %d, want %d", n, tt.wantN)
			}
			if tt.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if len(mp.written()) > maxWriteRetries {
				t.Fatalf("%d write calls, limit is %d", len(mp.written()), maxWriteRetries)
			}
		})
	}
}

func TestWrite_EmptyIsNoop(t *testing.T) {
	s, mp := openMock(t, "COM12")

	n, err := s.Write(nil)
	if n != 0 || err != nil {
		t.Fatalf("Write(nil) = %d, %v", n, err)
	}
	if len(mp.written()) != 0 {
		t.Fatal("empty write reached the port")
	}
}

func TestWrite_ConcurrentCallsDoNotInterleave(t *testing.T) {
	s, mp := openMock(t, "COM12")
	mp.maxWrite = 2

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(b byte) {
			defer wg.Done()
			if _, err := s.Write([]byte{b, b, b, b}); err != nil {
				t.Errorf("Write error: %v", err)
			}
		}(byte('a' + i))
	}
	wg.Wait()

	// Each 4-byte block arrives as two consecutive 2-byte writes.
	var stream []byte
	for _, w := range mp.written() {
		stream = append(stream, w[:min(len(w), 2)]...)
	}
	if len(stream) != 80 {
		t.Fatalf("stream length %d, want 80", len(stream))
	}
	for i := 0; i < len(stream); i += 4 {
		if !bytes.Equal(stream[i:i+4], bytes.Repeat(stream[i:i+1], 4)) {
			t.Fatalf("interleaved block at %d: %q", i, stream[i:i+4])
		}
	}
}
