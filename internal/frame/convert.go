package frame

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
)

// ToImage decodes a Frame's payload into a standard library image.Image so
// downstream packages (analyzer, display) can use generic image tooling
// (golang.org/x/image, disintegration/imaging) regardless of source format.
func (f *Frame) ToImage() (image.Image, error) {
	switch f.Format {
	case FormatMJPEG:
		img, err := jpeg.Decode(bytes.NewReader(f.Payload))
		if err != nil {
			return nil, fmt.Errorf("decode mjpeg frame %d: %w", f.ID, err)
		}
		return img, nil
	case FormatYUYV:
		return yuyvToRGBA(f.Payload, int(f.Width), int(f.Height))
	case FormatRGB24:
		return rgb24ToRGBA(f.Payload, int(f.Width), int(f.Height))
	default:
		return nil, fmt.Errorf("unsupported pixel format %v", f.Format)
	}
}

// EncodeJPEG renders the frame to a JPEG byte slice, re-using the payload
// directly when it is already MJPEG.
func (f *Frame) EncodeJPEG(quality int) ([]byte, error) {
	if f.Format == FormatMJPEG {
		return f.Payload, nil
	}
	img, err := f.ToImage()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if quality <= 0 || quality > 100 {
		quality = 80
	}
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode frame %d to jpeg: %w", f.ID, err)
	}
	return buf.Bytes(), nil
}

func yuyvToRGBA(payload []byte, width, height int) (image.Image, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid yuyv dimensions %dx%d", width, height)
	}
	if len(payload) < width*height*2 {
		return nil, fmt.Errorf("yuyv payload too short: have %d want %d", len(payload), width*height*2)
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	stride := width * 2
	for y := 0; y < height; y++ {
		row := payload[y*stride : y*stride+stride]
		for x := 0; x+3 < len(row); x += 4 {
			y0 := int(row[x])
			u := int(row[x+1]) - 128
			y1 := int(row[x+2])
			v := int(row[x+3]) - 128
			setYUV(img, x/2, y, y0, u, v)
			setYUV(img, x/2+1, y, y1, u, v)
		}
	}
	return img, nil
}

func setYUV(img *image.RGBA, x, y, yy, u, v int) {
	r := clamp8(yy + (91881*v)>>16)
	g := clamp8(yy - (22554*u+46802*v)>>16)
	b := clamp8(yy + (116130*u)>>16)
	img.Set(x, y, imageRGB{r, g, b})
}

func clamp8(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

type imageRGB struct{ r, g, b uint8 }

func (c imageRGB) RGBA() (r, g, b, a uint32) {
	r = uint32(c.r) * 0x101
	g = uint32(c.g) * 0x101
	b = uint32(c.b) * 0x101
	a = 0xffff
	return
}

func rgb24ToRGBA(payload []byte, width, height int) (image.Image, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid rgb24 dimensions %dx%d", width, height)
	}
	if len(payload) < width*height*3 {
		return nil, fmt.Errorf("rgb24 payload too short: have %d want %d", len(payload), width*height*3)
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	stride := width * 3
	for y := 0; y < height; y++ {
		row := payload[y*stride : y*stride+stride]
		for x := 0; x < width; x++ {
			o := x * 3
			img.Set(x, y, imageRGB{row[o], row[o+1], row[o+2]})
		}
	}
	return img, nil
}
