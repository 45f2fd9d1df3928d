package capture

import (
	"errors"
	"testing"

	"gocv.io/x/gocv"
)

func TestMockCamera_Playback(t *testing.T) {
	frame1 := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
	defer frame1.Close()
	frame2 := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
	defer frame2.Close()

	cam := NewMockCamera([]*gocv.Mat{&frame1, &frame2}, false)

	if _, err := cam.ReadFrame(); !errors.Is(err, ErrCameraNotOpen) {
		t.Fatalf("ReadFrame() before Open error = %v, want ErrCameraNotOpen", err)
	}

	if err := cam.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer cam.Close()

	for i := 0; i < 2; i++ {
		f, err := cam.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame() %d error = %v", i, err)
		}
		f.Close()
	}

	// Third read should fail (no loop)
	if _, err := cam.ReadFrame(); !errors.Is(err, ErrNoMoreFrames) {
		t.Errorf("ReadFrame() after sequence error = %v, want ErrNoMoreFrames", err)
	}
	if got := cam.Reads(); got != 2 {
		t.Errorf("Reads() = %d, want 2", got)
	}
}

func TestMockCamera_Loop(t *testing.T) {
	frame := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
	defer frame.Close()

	cam := NewMockCamera([]*gocv.Mat{&frame}, true)
	cam.Open()
	defer cam.Close()

	for i := 0; i < 5; i++ {
		f, err := cam.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame() iteration %d error = %v", i, err)
		}
		f.Close()
	}
}

func TestMockCamera_NoFrames(t *testing.T) {
	cam := NewMockCamera(nil, true)
	cam.Open()
	defer cam.Close()

	if _, err := cam.ReadFrame(); !errors.Is(err, ErrEmptyFrame) {
		t.Errorf("ReadFrame() error = %v, want ErrEmptyFrame", err)
	}
}

func TestView_Apply(t *testing.T) {
	frame := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
	defer frame.Close()

	tests := []struct {
		name       string
		view       View
		wantWidth  int
		wantHeight int
		wantErr    bool
	}{
		{name: "identity", view: View{}, wantWidth: 640, wantHeight: 480},
		{name: "mirror only", view: View{Mirror: true}, wantWidth: 640, wantHeight: 480},
		{name: "padding crops border", view: View{Padding: 50}, wantWidth: 540, wantHeight: 380},
		{name: "mirror and padding", view: View{Mirror: true, Padding: 50}, wantWidth: 540, wantHeight: 380},
		{name: "padding too large", view: View{Padding: 240}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := tt.view.Apply(&frame)
			if tt.wantErr {
				if err == nil {
					out.Close()
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Apply() error = %v", err)
			}
			defer out.Close()

			if out.Cols() != tt.wantWidth || out.Rows() != tt.wantHeight {
				t.Errorf("Apply() size = %dx%d, want %dx%d", out.Cols(), out.Rows(), tt.wantWidth, tt.wantHeight)
			}
		})
	}

	t.Run("empty frame", func(t *testing.T) {
		empty := gocv.NewMat()
		defer empty.Close()
		if _, err := (View{}).Apply(&empty); !errors.Is(err, ErrEmptyFrame) {
			t.Errorf("Apply() error = %v, want ErrEmptyFrame", err)
		}
	})
}

func TestView_MirrorFlipsPixels(t *testing.T) {
	frame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 2, 4, gocv.MatTypeCV8UC1)
	defer frame.Close()
	frame.SetUCharAt(0, 0, 200)

	out, err := View{Mirror: true}.Apply(&frame)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	defer out.Close()

	if got := out.GetUCharAt(0, 3); got != 200 {
		t.Errorf("mirrored pixel = %d, want 200", got)
	}
	if got := out.GetUCharAt(0, 0); got != 0 {
		t.Errorf("original corner = %d, want 0", got)
	}
}
