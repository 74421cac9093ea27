package models

import (
	"fmt"
	"image"
	"image/color"
	_ "image/gif"  // Register GIF format decoder
	_ "image/jpeg" // Register JPEG format decoder
	_ "image/png"  // Register PNG format decoder
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	_ "golang.org/x/image/bmp"  // Register BMP format decoder
	_ "golang.org/x/image/tiff" // Register TIFF format decoder
	_ "golang.org/x/image/webp" // Register WEBP format decoder
)

// SourceKind discriminates the ImageSource variants.
type SourceKind string

const (
	SourceFilePath     SourceKind = "file_path"
	SourceDecodedImage SourceKind = "decoded_image"
	SourcePixelArray   SourceKind = "pixel_array"
	SourceUnknown      SourceKind = "unknown"
)

// PixelArray is a raw interleaved 8-bit pixel buffer, row-major.
// Channels is 1 (gray), 3 (RGB) or 4 (RGBA).
type PixelArray struct {
	Width    int
	Height   int
	Channels int
	Data     []byte
}

// Image converts the buffer into an image.Image.
func (p *PixelArray) Image() (image.Image, error) {
	if p.Width <= 0 || p.Height <= 0 {
		return nil, errors.Errorf("invalid pixel array size %dx%d", p.Width, p.Height)
	}
	if want := p.Width * p.Height * p.Channels; len(p.Data) != want {
		return nil, errors.Errorf("pixel array holds %d bytes, %dx%dx%d needs %d",
			len(p.Data), p.Width, p.Height, p.Channels, want)
	}

	rect := image.Rect(0, 0, p.Width, p.Height)
	switch p.Channels {
	case 1:
		img := image.NewGray(rect)
		copy(img.Pix, p.Data)
		return img, nil
	case 3:
		img := image.NewRGBA(rect)
		for i, j := 0, 0; i < len(p.Data); i, j = i+3, j+4 {
			img.Pix[j] = p.Data[i]
			img.Pix[j+1] = p.Data[i+1]
			img.Pix[j+2] = p.Data[i+2]
			img.Pix[j+3] = 0xff
		}
		return img, nil
	case 4:
		img := image.NewNRGBA(rect)
		copy(img.Pix, p.Data)
		return img, nil
	default:
		return nil, errors.Errorf("unsupported channel count %d", p.Channels)
	}
}

// ImageSource is the input of a detection request. Exactly one payload
// field is meaningful, selected by Kind.
type ImageSource struct {
	Kind SourceKind
	// Name is a display name such as the uploaded file name.
	Name string

	Path   string
	Image  image.Image
	Format string
	Pixels *PixelArray
}

// FromPath returns a source reading the image file at path.
func FromPath(path string) ImageSource {
	return ImageSource{Kind: SourceFilePath, Name: filepath.Base(path), Path: path}
}

// FromImage returns a source wrapping an already decoded image. format is the
// codec it was decoded from ("jpeg", "png", ...), empty when unknown.
func FromImage(img image.Image, format, name string) ImageSource {
	return ImageSource{Kind: SourceDecodedImage, Name: name, Image: img, Format: format}
}

// FromPixels returns a source over a raw pixel buffer.
func FromPixels(p *PixelArray, name string) ImageSource {
	return ImageSource{Kind: SourcePixelArray, Name: name, Pixels: p}
}

// Decode returns the source as an image.Image. Failures carry ErrImageDecode.
func (s ImageSource) Decode() (image.Image, error) {
	switch s.Kind {
	case SourceFilePath:
		f, err := os.Open(s.Path)
		if err != nil {
			return nil, NewError(ErrImageDecode, errors.Wrap(err, "open image"))
		}
		defer f.Close()

		img, _, err := image.Decode(f)
		if err != nil {
			return nil, NewError(ErrImageDecode, errors.Wrapf(err, "decode %s", s.Name))
		}
		return img, nil
	case SourceDecodedImage:
		if s.Image == nil {
			return nil, NewError(ErrImageDecode, errors.New("nil image"))
		}
		return s.Image, nil
	case SourcePixelArray:
		if s.Pixels == nil {
			return nil, NewError(ErrImageDecode, errors.New("nil pixel array"))
		}
		img, err := s.Pixels.Image()
		if err != nil {
			return nil, NewError(ErrImageDecode, err)
		}
		return img, nil
	default:
		return nil, NewError(ErrImageDecode, errors.Errorf("unsupported image source %q", s.Kind))
	}
}

// Info inspects the source. Unrecognized sources yield a minimal record and
// inspection failures are reported under "inspect_error", never returned.
// They do not mark a result as failed: a detector may read formats the Go
// decoders cannot.
func (s ImageSource) Info() ImageInfo {
	switch s.Kind {
	case SourceFilePath:
		f, err := os.Open(s.Path)
		if err != nil {
			return ImageInfo{"inspect_error": err.Error(), "source_type": "error"}
		}
		defer f.Close()

		cfg, format, err := image.DecodeConfig(f)
		if err != nil {
			return ImageInfo{"inspect_error": err.Error(), "source_type": "error"}
		}
		return ImageInfo{
			"width":       cfg.Width,
			"height":      cfg.Height,
			"format":      format,
			"mode":        colorMode(cfg.ColorModel),
			"source_type": string(SourceFilePath),
		}
	case SourceDecodedImage:
		if s.Image == nil {
			return ImageInfo{"inspect_error": "nil image", "source_type": "error"}
		}
		b := s.Image.Bounds()
		return ImageInfo{
			"width":       b.Dx(),
			"height":      b.Dy(),
			"format":      s.Format,
			"mode":        colorMode(s.Image.ColorModel()),
			"source_type": string(SourceDecodedImage),
		}
	case SourcePixelArray:
		if s.Pixels == nil {
			return ImageInfo{"inspect_error": "nil pixel array", "source_type": "error"}
		}
		return ImageInfo{
			"width":       s.Pixels.Width,
			"height":      s.Pixels.Height,
			"channels":    s.Pixels.Channels,
			"dtype":       "uint8",
			"source_type": string(SourcePixelArray),
		}
	default:
		return ImageInfo{"source_type": string(SourceUnknown)}
	}
}

// colorMode names a color model the way imaging tools usually do (RGB, L, ...).
func colorMode(m color.Model) string {
	if _, ok := m.(color.Palette); ok {
		return "P"
	}
	switch m {
	case color.YCbCrModel, color.NYCbCrAModel:
		return "RGB"
	case color.RGBAModel, color.NRGBAModel, color.RGBA64Model, color.NRGBA64Model:
		return "RGBA"
	case color.GrayModel:
		return "L"
	case color.Gray16Model:
		return "I;16"
	case color.CMYKModel:
		return "CMYK"
	case color.AlphaModel, color.Alpha16Model:
		return "A"
	}
	return fmt.Sprintf("%T", m)
}
