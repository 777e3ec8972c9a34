// Avatar handling for character cards. Cards have to be PNGs, but people upload
// whatever their phone or browser produced, so everything is funneled through here
// before it gets a chara chunk attached.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// The data is not an image we can read, or it claims more pixels than MaxPixels.
var ErrUnsupportedImage = errors.New("image type not supported")

// Decoding allocates the whole pixel buffer up front, sized from the header, so
// the header is checked against this before anything is decoded.
const MaxPixels = 8192 * 8192

func checkConfig(config image.Config) error {
	if config.Width <= 0 || config.Height <= 0 {
		return fmt.Errorf("%w: image has zero size", ErrUnsupportedImage)
	}
	if int64(config.Width)*int64(config.Height) > MaxPixels {
		return fmt.Errorf("%w: %dx%d is too many pixels", ErrUnsupportedImage, config.Width, config.Height)
	}
	return nil
}

/*
Returns a PNG no larger than maxDim on either side. PNGs that already fit are
returned unchanged so that their chunks (and any metadata in them) survive;
everything else is decoded, scaled down if needed, and re-encoded. A maxDim of zero
means no limit.
*/
func NormalizeAvatar(data []byte, maxDim int) ([]byte, error) {
	config, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	if err := checkConfig(config); err != nil {
		return nil, err
	}

	fits := maxDim <= 0 || (config.Width <= maxDim && config.Height <= maxDim)
	if format == "png" && fits {
		return data, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	if !fits {
		img = scaleToFit(img, maxDim)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Fits size into a maxDim square, keeping the aspect ratio.
func FitDimensions(width, height, maxDim int) (int, int) {
	if width <= maxDim && height <= maxDim {
		return width, height
	}
	if width >= height {
		h := height * maxDim / width
		if h < 1 {
			h = 1
		}
		return maxDim, h
	}
	w := width * maxDim / height
	if w < 1 {
		w = 1
	}
	return w, maxDim
}

func scaleToFit(src image.Image, maxDim int) image.Image {
	bounds := src.Bounds()
	w, h := FitDimensions(bounds.Dx(), bounds.Dy(), maxDim)
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Src, nil)
	return dst
}

// A solid square PNG, used as the picture for characters that don't have an
// avatar of their own.
func Placeholder(size int, c color.Color) []byte {
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	draw.Draw(img, img.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err) // in-memory encode of a valid image
	}
	return buf.Bytes()
}

// Derives a stable placeholder color from a character name so the same character
// always gets the same card background.
func PlaceholderColor(name string) color.Color {
	var h uint32 = 2166136261
	for i := 0; i < len(name); i++ {
		h ^= uint32(name[i])
		h *= 16777619
	}
	return color.NRGBA{
		R: 64 + uint8(h)%160,
		G: 64 + uint8(h>>8)%160,
		B: 64 + uint8(h>>16)%160,
		A: 255,
	}
}

// Reads just the image header.
func Dimensions(data []byte) (width, height int, err error) {
	config, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	return config.Width, config.Height, nil
}
