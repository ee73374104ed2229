package fs

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// mediaTypes covers camera and phone formats that the platform mime table
// often lacks.
var mediaTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".bmp":  "image/bmp",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".webp": "image/webp",
	".heic": "image/heic",
	".heif": "image/heif",
	".dng":  "image/x-adobe-dng",
	".mp4":  "video/mp4",
	".m4v":  "video/x-m4v",
	".mov":  "video/quicktime",
	".avi":  "video/x-msvideo",
	".mkv":  "video/x-matroska",
	".3gp":  "video/3gpp",
}

// Metadata is what the scanner can learn about a file without EXIF.
type Metadata struct {
	MimeType  string
	Width     int
	Height    int
	DateTaken time.Time
}

// ExtractMetadata reads the mime type and, for decodable images, the pixel
// dimensions. DateTaken is the modification time. r is read from the start.
func ExtractMetadata(name string, modTime time.Time, r io.ReadSeeker) (Metadata, error) {
	md := Metadata{DateTaken: modTime}

	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return md, fmt.Errorf("rewinding %s: %w", name, err)
	}
	mt, err := mimeType(name, r)
	if err != nil {
		return md, err
	}
	md.MimeType = mt

	if !strings.HasPrefix(mt, "image/") {
		return md, nil
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return md, fmt.Errorf("rewinding %s: %w", name, err)
	}
	// Formats without a registered decoder keep zero dimensions.
	if cfg, _, err := image.DecodeConfig(r); err == nil {
		md.Width, md.Height = cfg.Width, cfg.Height
	}
	return md, nil
}

func mimeType(name string, r io.Reader) (string, error) {
	ext := strings.ToLower(filepath.Ext(name))
	if mt, ok := mediaTypes[ext]; ok {
		return mt, nil
	}
	if mt := mime.TypeByExtension(ext); mt != "" {
		if base, _, err := mime.ParseMediaType(mt); err == nil {
			return base, nil
		}
		return mt, nil
	}

	head := make([]byte, 512)
	n, err := io.ReadFull(r, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", fmt.Errorf("sniffing %s: %w", name, err)
	}
	mt := http.DetectContentType(head[:n])
	if base, _, err := mime.ParseMediaType(mt); err == nil {
		return base, nil
	}
	return mt, nil
}
