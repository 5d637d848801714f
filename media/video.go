package media

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"sync/atomic"
)

// EncodeJPEG compresses img at the wire quality.
func EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

var (
	placeholderOnce sync.Once
	placeholder     []byte
)

// Placeholder returns a dark grey frame with a lighter centre block, sent when
// the camera yields nothing so the partner still sees the call is live.
func Placeholder() []byte {
	placeholderOnce.Do(func() {
		img := image.NewGray(image.Rect(0, 0, FrameWidth, FrameHeight))
		for y := 0; y < FrameHeight; y++ {
			for x := 0; x < FrameWidth; x++ {
				v := uint8(40)
				if x > FrameWidth/3 && x < 2*FrameWidth/3 && y > FrameHeight/3 && y < 2*FrameHeight/3 {
					v = 90
				}
				img.SetGray(x, y, color.Gray{Y: v})
			}
		}
		b, err := EncodeJPEG(img)
		if err != nil {
			panic("encode placeholder frame: " + err.Error())
		}
		placeholder = b
	})
	return placeholder
}

// Pattern is a test-pattern camera: vertical colour bars with a bar that moves
// one step per frame.
type Pattern struct {
	frame  int
	closed atomic.Bool
}

func NewPattern() *Pattern {
	return &Pattern{}
}

var bars = []color.RGBA{
	{192, 192, 192, 255},
	{192, 192, 0, 255},
	{0, 192, 192, 255},
	{0, 192, 0, 255},
	{192, 0, 192, 255},
	{192, 0, 0, 255},
	{0, 0, 192, 255},
}

func (p *Pattern) Capture() ([]byte, error) {
	if p.closed.Load() {
		return nil, ErrDeviceClosed
	}
	img := image.NewRGBA(image.Rect(0, 0, FrameWidth, FrameHeight))
	barWidth := FrameWidth / len(bars)
	marker := (p.frame * 4) % FrameWidth
	for y := 0; y < FrameHeight; y++ {
		for x := 0; x < FrameWidth; x++ {
			c := bars[min(x/barWidth, len(bars)-1)]
			if x >= marker && x < marker+8 {
				c = color.RGBA{255, 255, 255, 255}
			}
			img.SetRGBA(x, y, c)
		}
	}
	p.frame++
	return EncodeJPEG(img)
}

func (p *Pattern) Close() error {
	p.closed.Store(true)
	return nil
}
