package media

import (
	"bufio"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/bobarin/adshot/internal/errs"
	"github.com/bobarin/adshot/internal/models"
	"github.com/rs/zerolog/log"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Normalizer converts uploaded images into an encoding the image model accepts.
type Normalizer struct{}

func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// IsAccepted reports whether the model takes mimeType as is.
func IsAccepted(mimeType string) bool {
	switch strings.ToLower(mimeType) {
	case "image/png", "image/jpeg", "image/jpg":
		return true
	}
	return false
}

// Normalize returns src unchanged when it is PNG or JPEG. Any other image is
// re-encoded to PNG next to the original; the new file is tracked in temps.
func (n *Normalizer) Normalize(src models.SourceImage, temps *TempFiles) (models.SourceImage, error) {
	mimeType := src.MIMEType
	if mimeType == "" || mimeType == "application/octet-stream" {
		sniffed, err := sniff(src.Path)
		if err != nil {
			return models.SourceImage{}, errs.Storage("Failed to read uploaded image", err)
		}
		mimeType = sniffed
	}

	if IsAccepted(mimeType) {
		return models.SourceImage{Path: src.Path, MIMEType: mimeType}, nil
	}

	outPath := fmt.Sprintf("%s-%d-converted.png", src.Path, time.Now().UnixNano())
	if err := convertToPNG(src.Path, outPath); err != nil {
		return models.SourceImage{}, errs.Storage("Failed to convert image", err)
	}
	temps.Track(outPath)

	log.Info().Str("from", mimeType).Str("path", outPath).Msg("[Media] Converted image to PNG")
	return models.SourceImage{Path: outPath, MIMEType: "image/png"}, nil
}

func sniff(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	buf := make([]byte, 512)
	n, err := f.Read(buf)
	if err != nil && n == 0 {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return http.DetectContentType(buf[:n]), nil
}

func convertToPNG(inPath, outPath string) error {
	in, err := os.Open(inPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", inPath, err)
	}
	defer in.Close()

	img, format, err := image.Decode(bufio.NewReader(in))
	if err != nil {
		return fmt.Errorf("failed to decode image: %w", err)
	}

	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", outPath, err)
	}

	w := bufio.NewWriter(out)
	if err := png.Encode(w, img); err != nil {
		out.Close()
		os.Remove(outPath)
		return fmt.Errorf("failed to encode %s as png: %w", format, err)
	}
	if err := w.Flush(); err != nil {
		out.Close()
		os.Remove(outPath)
		return fmt.Errorf("failed to write %s: %w", outPath, err)
	}
	return out.Close()
}
