package signal

import (
	"testing"

	"github.com/beatbalance/hrvlink/internal/models"
)

func readings(values ...uint16) []models.RawReading {
	out := make([]models.RawReading, len(values))
	for i, v := range values {
		out[i] = models.RawReading{Value: v}
	}
	return out
}

func TestSmootherNoOutputBelowWindow(t *testing.T) {
	s := NewSmoother()
	s.Append(readings(100))
	s.Append(readings(100))
	if got := s.Display(); len(got) != 0 {
		t.Errorf("got %d display points before window filled, want 0", len(got))
	}
}

func TestSmootherWindowOfIdenticalValues(t *testing.T) {
	s := NewSmoother()
	s.Append(readings(500, 500, 500))
	got := s.Display()
	if len(got) != 1 {
		t.Fatalf("got %d display points, want 1", len(got))
	}
	if got[0] != 500 {
		t.Errorf("smoothed value = %v, want 500", got[0])
	}
}

func TestSmootherMean(t *testing.T) {
	s := NewSmoother()
	s.Append(readings(10, 20, 60))
	got := s.Display()
	if len(got) != 1 || got[0] != 30 {
		t.Errorf("display = %v, want [30]", got)
	}
}

func TestSmootherSlidesByArrivalCount(t *testing.T) {
	s := NewSmoother()
	s.Append(readings(10, 20, 30))
	// Buffer slid by 3, so it is empty again; a single new reading must not
	// produce output until the window refills.
	s.Append(readings(40))
	if got := s.Display(); len(got) != 1 {
		t.Fatalf("got %d display points, want 1", len(got))
	}
	s.Append(readings(50, 60))
	got := s.Display()
	if len(got) != 2 {
		t.Fatalf("got %d display points, want 2", len(got))
	}
	if got[1] != 50 { // mean of 40, 50, 60
		t.Errorf("second smoothed value = %v, want 50", got[1])
	}
}

func TestSmootherDisplayCap(t *testing.T) {
	s := NewSmootherWith(1, 20)
	for i := 0; i < 50; i++ {
		s.Append(readings(uint16(i)))
	}
	got := s.Display()
	if len(got) != 20 {
		t.Fatalf("display length = %d, want 20", len(got))
	}
	if got[0] != 30 || got[19] != 49 {
		t.Errorf("display window = [%v..%v], want [30..49]", got[0], got[19])
	}
}

func TestSmootherReset(t *testing.T) {
	s := NewSmoother()
	s.Append(readings(10, 20, 30))
	s.Reset()
	if len(s.Display()) != 0 {
		t.Error("display not empty after Reset")
	}
	s.Append(readings(5, 5))
	if len(s.Display()) != 0 {
		t.Error("buffer survived Reset")
	}
}

func TestSmootherDisplayReturnsCopy(t *testing.T) {
	s := NewSmoother()
	s.Append(readings(10, 20, 30))
	d := s.Display()
	d[0] = -1
	if s.Display()[0] == -1 {
		t.Error("Display exposed internal slice")
	}
}
