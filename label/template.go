// Package label fills ODT label templates with item data.
//
// A template is an OpenDocument text file whose content.xml carries
// {{tag}} placeholders and whose Pictures/ folder holds exactly one
// image. The image is replaced by a QR code of the same size and the
// tags are replaced by item fields.
package label

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/natefinch/atomic"
)

const (
	contentFile    = "content.xml"
	mimetypeFile   = "mimetype"
	picturesDir    = "Pictures/"
	maxEntrySize   = 64 * 1024 * 1024
	maxPlaceholder = 4096
)

var (
	ErrNotODT      = errors.New("label: template is not an ODT file")
	ErrPlaceholder = errors.New("label: template must contain exactly one image")
	ErrQRTooSmall  = errors.New("label: placeholder image too small for the QR code")
)

var tagPattern = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// Template is a parsed label template held in memory.
type Template struct {
	zr      *zip.Reader
	content []byte

	picture       string
	pictureFormat string
	width, height int

	tags []string
}

// Load reads and parses the template at path.
func Load(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("label: read template: %w", err)
	}
	t, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// Parse parses an ODT template from its archive bytes.
func Parse(data []byte) (*Template, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotODT, err)
	}

	t := &Template{zr: zr}
	var pictures []*zip.File
	for _, f := range zr.File {
		switch {
		case f.Name == contentFile:
			if t.content, err = readEntry(f); err != nil {
				return nil, err
			}
		case strings.HasPrefix(f.Name, picturesDir) && !f.FileInfo().IsDir():
			pictures = append(pictures, f)
		}
	}
	if t.content == nil {
		return nil, fmt.Errorf("%w: no %s", ErrNotODT, contentFile)
	}
	if len(pictures) != 1 {
		return nil, fmt.Errorf("%w, found %d", ErrPlaceholder, len(pictures))
	}

	pic := pictures[0]
	raw, err := readEntry(pic)
	if err != nil {
		return nil, err
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("label: placeholder image %s: %w", pic.Name, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width > maxPlaceholder || cfg.Height > maxPlaceholder {
		return nil, fmt.Errorf("label: placeholder image %s has unusable size %dx%d", pic.Name, cfg.Width, cfg.Height)
	}
	t.picture, t.pictureFormat = pic.Name, format
	t.width, t.height = cfg.Width, cfg.Height

	seen := make(map[string]bool)
	for _, m := range tagPattern.FindAllSubmatch(t.content, -1) {
		tag := string(m[1])
		if !seen[tag] {
			seen[tag] = true
			t.tags = append(t.tags, tag)
		}
	}
	return t, nil
}

func readEntry(f *zip.File) ([]byte, error) {
	if f.UncompressedSize64 > maxEntrySize {
		return nil, fmt.Errorf("label: template entry %s is too large", f.Name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("label: open %s: %w", f.Name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, maxEntrySize))
	if err != nil {
		return nil, fmt.Errorf("label: read %s: %w", f.Name, err)
	}
	return data, nil
}

// Tags lists the distinct placeholder names in order of first use.
func (t *Template) Tags() []string {
	return append([]string(nil), t.tags...)
}

// PlaceholderSize is the pixel size of the image the QR code replaces.
func (t *Template) PlaceholderSize() (width, height int) {
	return t.width, t.height
}

// Missing returns the template tags that fields has no value for,
// sorted.
func (t *Template) Missing(fields map[string]string) []string {
	var missing []string
	for _, tag := range t.tags {
		if _, ok := fields[tag]; !ok {
			missing = append(missing, tag)
		}
	}
	sort.Strings(missing)
	return missing
}

// Render produces a filled-in ODT archive. Tags without a value render
// empty. The placeholder image becomes a QR code encoding qrContent.
func (t *Template) Render(fields map[string]string, qrContent string) ([]byte, error) {
	qr, err := encodeQR(qrContent, t.width, t.height, t.pictureFormat)
	if err != nil {
		return nil, err
	}
	content := t.fill(fields)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	// mimetype has to be the first entry, stored uncompressed.
	files := make([]*zip.File, 0, len(t.zr.File))
	for _, f := range t.zr.File {
		if f.Name == mimetypeFile {
			files = append([]*zip.File{f}, files...)
		} else {
			files = append(files, f)
		}
	}

	for _, f := range files {
		switch f.Name {
		case contentFile:
			err = writeEntry(zw, f, content)
		case t.picture:
			err = writeEntry(zw, f, qr)
		default:
			err = zw.Copy(f)
		}
		if err != nil {
			return nil, fmt.Errorf("label: write %s: %w", f.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("label: finish archive: %w", err)
	}
	return buf.Bytes(), nil
}

func writeEntry(zw *zip.Writer, src *zip.File, data []byte) error {
	hdr := &zip.FileHeader{
		Name:     src.Name,
		Method:   src.Method,
		Modified: src.Modified,
	}
	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func (t *Template) fill(fields map[string]string) []byte {
	return tagPattern.ReplaceAllFunc(t.content, func(m []byte) []byte {
		tag := string(tagPattern.FindSubmatch(m)[1])
		var b bytes.Buffer
		_ = xml.EscapeText(&b, []byte(fields[tag]))
		return b.Bytes()
	})
}

// WriteFile atomically replaces path with an ODT archive.
func WriteFile(path string, data []byte) error {
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("label: write %s: %w", path, err)
	}
	return nil
}
