// Package detect holds the two QR detection backends: a frame-pull
// detector that decodes frames in-process, and a push engine that runs its
// own zbar pipeline against the device.
package detect

import (
	"fmt"
	"image"

	"github.com/e7canasta/code-scanner/internal/camera"
)

// FrameToGray converts an RGB frame to an 8-bit luminance image, the form
// both decoders binarize from. Row padding past Width*3 is skipped.
func FrameToGray(f *camera.Frame) (*image.Gray, error) {
	if f == nil {
		return nil, fmt.Errorf("detect: nil frame")
	}
	if f.Width <= 0 || f.Height <= 0 {
		return nil, fmt.Errorf("detect: invalid frame size %dx%d", f.Width, f.Height)
	}
	row := f.Width * 3
	stride := f.Stride
	if stride == 0 {
		stride = row
	}
	if stride < row {
		return nil, fmt.Errorf("detect: frame %d stride %d shorter than row %d", f.Seq, stride, row)
	}
	// The last row may omit its padding.
	want := stride*(f.Height-1) + row
	if len(f.Data) < want {
		return nil, fmt.Errorf("detect: frame %d has %d bytes, want %d", f.Seq, len(f.Data), want)
	}

	gray := image.NewGray(image.Rect(0, 0, f.Width, f.Height))
	for y := 0; y < f.Height; y++ {
		src := f.Data[y*stride : y*stride+row]
		dst := gray.Pix[y*gray.Stride : y*gray.Stride+f.Width]
		for x := range dst {
			r, g, b := uint32(src[x*3]), uint32(src[x*3+1]), uint32(src[x*3+2])
			// ITU-R BT.601 luma, integer form.
			dst[x] = uint8((299*r + 587*g + 114*b) / 1000)
		}
	}
	return gray, nil
}
