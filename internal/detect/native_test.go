package detect

import (
	"errors"
	"testing"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"

	"github.com/e7canasta/code-scanner/internal/camera"
)

// qrFrame renders text as a QR code into an RGB frame.
func qrFrame(t *testing.T, text string, size int) *camera.Frame {
	t.Helper()

	matrix, err := qrcode.NewQRCodeWriter().Encode(text, gozxing.BarcodeFormat_QR_CODE, size, size, nil)
	if err != nil {
		t.Fatalf("encode %q: %v", text, err)
	}

	w, h := matrix.GetWidth(), matrix.GetHeight()
	data := make([]byte, w*h*3)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := byte(255)
			if matrix.Get(x, y) {
				v = 0
			}
			i := (y*w + x) * 3
			data[i], data[i+1], data[i+2] = v, v, v
		}
	}
	return &camera.Frame{Seq: 1, Width: w, Height: h, Data: data, TraceID: "test"}
}

func blankFrame(w, h int) *camera.Frame {
	data := make([]byte, w*h*3)
	for i := range data {
		data[i] = 200
	}
	return &camera.Frame{Seq: 1, Width: w, Height: h, Data: data}
}

func TestNativeFactory_Probe(t *testing.T) {
	if err := NewNativeFactory(NativeConfig{}, nil).Probe(); err != nil {
		t.Fatalf("Probe: %v", err)
	}
}

func TestNativeDetector_DetectOnce(t *testing.T) {
	tests := []struct {
		name      string
		cfg       NativeConfig
		frame     *camera.Frame
		wantFound bool
		wantText  string
		wantErr   bool
	}{
		{
			name:      "prescription code",
			frame:     qrFrame(t, "PRE-12345", 240),
			wantFound: true,
			wantText:  "PRE-12345",
		},
		{
			name:      "structured payload with try harder",
			cfg:       NativeConfig{TryHarder: true, SecondPass: true},
			frame:     qrFrame(t, "APPT-20250101-ABC|DOC:X|DATE:Y", 300),
			wantFound: true,
			wantText:  "APPT-20250101-ABC|DOC:X|DATE:Y",
		},
		{
			name:  "blank frame is a miss",
			frame: blankFrame(160, 120),
		},
		{
			name:  "blank frame with second pass is a miss",
			cfg:   NativeConfig{SecondPass: true},
			frame: blankFrame(160, 120),
		},
		{
			name:    "truncated frame",
			frame:   &camera.Frame{Seq: 7, Width: 10, Height: 10, Data: make([]byte, 20)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := NewNativeFactory(tt.cfg, nil).New()
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			defer d.Close()

			text, found, err := d.DetectOnce(tt.frame)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if found != tt.wantFound {
				t.Fatalf("found = %v, want %v", found, tt.wantFound)
			}
			if text != tt.wantText {
				t.Errorf("text = %q, want %q", text, tt.wantText)
			}
		})
	}
}

func TestNativeDetector_Reusable(t *testing.T) {
	d, _ := NewNativeFactory(NativeConfig{}, nil).New()

	for _, text := range []string{"PAT:PAT-9|EXTRA", "PR-1", "hello world"} {
		got, found, err := d.DetectOnce(qrFrame(t, text, 240))
		if err != nil || !found || got != text {
			t.Errorf("DetectOnce(%q) = %q, %v, %v", text, got, found, err)
		}
	}

	if s := d.Stats(); s.Attempts != 3 || s.Hits != 3 {
		t.Errorf("stats = %+v, want 3 attempts and 3 hits", s)
	}
}

func TestNativeDetector_Closed(t *testing.T) {
	d, _ := NewNativeFactory(NativeConfig{}, nil).New()
	d.Close()
	d.Close()

	if _, _, err := d.DetectOnce(blankFrame(8, 8)); !errors.Is(err, ErrDetectorClosed) {
		t.Errorf("err = %v, want ErrDetectorClosed", err)
	}
}

func TestFrameToGray(t *testing.T) {
	tests := []struct {
		name    string
		frame   *camera.Frame
		want    []byte
		wantErr bool
	}{
		{
			name:  "packed",
			frame: &camera.Frame{Width: 2, Height: 1, Data: []byte{255, 255, 255, 0, 0, 0}},
			want:  []byte{255, 0},
		},
		{
			// 2 px * 3 = 6 bytes per row, padded to 8.
			name: "padded rows",
			frame: &camera.Frame{Width: 2, Height: 2, Stride: camera.RGBStride(2), Data: []byte{
				255, 255, 255, 0, 0, 0, 9, 9,
				0, 0, 0, 255, 255, 255, 9, 9,
			}},
			want: []byte{255, 0, 0, 255},
		},
		{
			name: "last row unpadded",
			frame: &camera.Frame{Width: 2, Height: 2, Stride: 8, Data: []byte{
				0, 0, 0, 0, 0, 0, 9, 9,
				255, 255, 255, 255, 255, 255,
			}},
			want: []byte{0, 0, 255, 255},
		},
		{name: "nil", frame: nil, wantErr: true},
		{name: "zero width", frame: &camera.Frame{Width: 0, Height: 4}, wantErr: true},
		{name: "short data", frame: &camera.Frame{Width: 2, Height: 2, Stride: 8, Data: make([]byte, 12)}, wantErr: true},
		{name: "stride below row", frame: &camera.Frame{Width: 2, Height: 1, Stride: 4, Data: make([]byte, 8)}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := FrameToGray(tt.frame)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if string(img.Pix) != string(tt.want) {
				t.Errorf("pix = %v, want %v", img.Pix, tt.want)
			}
		})
	}
}

func TestRGBStride(t *testing.T) {
	tests := []struct{ width, want int }{{1, 4}, {2, 8}, {4, 12}, {640, 1920}, {641, 1924}}
	for _, tt := range tests {
		if got := camera.RGBStride(tt.width); got != tt.want {
			t.Errorf("RGBStride(%d) = %d, want %d", tt.width, got, tt.want)
		}
	}
}
