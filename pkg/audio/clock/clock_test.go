package clock_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/readaloud/pkg/audio"
	"github.com/MrWong99/readaloud/pkg/audio/clock"
)

func TestDuration(t *testing.T) {
	o := clock.New()
	wav := audio.EncodeWAV(make([]byte, 16000), 16000, 1) // 0.5s
	if got := o.Duration(wav); got != 500*time.Millisecond {
		t.Errorf("Duration(wav) = %v, want 500ms", got)
	}
	fast := clock.New(clock.WithSpeed(10), clock.WithFallbackByteRate(1000))
	if got := fast.Duration(make([]byte, 1000)); got != 100*time.Millisecond {
		t.Errorf("Duration(raw, speed 10) = %v, want 100ms", got)
	}
}

func TestStream_PlaysForDuration(t *testing.T) {
	o := clock.New(clock.WithFallbackByteRate(1000))
	start := time.Now()
	s, err := o.Start(context.Background(), make([]byte, 30)) // 30ms
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("stream never finished")
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("finished after %v, want ≥ 30ms", elapsed)
	}
	if err := s.Err(); err != nil {
		t.Errorf("Err = %v, want nil", err)
	}
}

func TestStream_PauseHoldsPosition(t *testing.T) {
	o := clock.New(clock.WithFallbackByteRate(1000))
	s, _ := o.Start(context.Background(), make([]byte, 40)) // 40ms

	if err := s.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	select {
	case <-s.Done():
		t.Fatal("stream finished while paused")
	case <-time.After(100 * time.Millisecond):
	}
	if err := s.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not finish after resume")
	}
	if s.Err() != nil {
		t.Errorf("Err = %v", s.Err())
	}
}

func TestStream_Stop(t *testing.T) {
	o := clock.New()
	s, _ := o.Start(context.Background(), make([]byte, audio.DefaultByteRate*60))
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !errors.Is(s.Err(), audio.ErrStopped) {
		t.Errorf("Err = %v, want ErrStopped", s.Err())
	}
	if err := s.Stop(); err != nil {
		t.Errorf("second Stop = %v, want nil", err)
	}
	if err := s.Pause(); !errors.Is(err, audio.ErrStreamClosed) {
		t.Errorf("Pause after Stop = %v, want ErrStreamClosed", err)
	}
}

func TestStream_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s, _ := clock.New().Start(ctx, make([]byte, audio.DefaultByteRate*60))
	cancel()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("stream ignored cancellation")
	}
	if !errors.Is(s.Err(), context.Canceled) {
		t.Errorf("Err = %v, want context.Canceled", s.Err())
	}
}

func TestWithDriver(t *testing.T) {
	d := audio.NewDriver(clock.New(clock.WithFallbackByteRate(1000)))
	if err := d.Play(context.Background(), make([]byte, 10)); err != nil {
		t.Fatalf("Play: %v", err)
	}
	outcome, err := d.Wait(context.Background())
	if err != nil || outcome != audio.OutcomeFinished {
		t.Fatalf("Wait = %v, %v", outcome, err)
	}
}
