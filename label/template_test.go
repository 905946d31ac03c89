package label

import (
	"archive/zip"
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const odtMimetype = "application/vnd.oasis.opendocument.text"

const labelContent = `<?xml version="1.0" encoding="UTF-8"?>
<office:document-content><office:body><office:text>
<text:p>{{asset_tag}} / {{ model_name }} / {{notes}}</text:p>
<text:p>{{missing_tag}} {{asset_tag}}</text:p>
</office:text></office:body></office:document-content>`

type entry struct {
	name   string
	method uint16
	data   []byte
}

func placeholderPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func placeholderJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func buildODT(t *testing.T, entries ...entry) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: e.name, Method: e.method})
		require.NoError(t, err)
		_, err = w.Write(e.data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func standardODT(t *testing.T) []byte {
	return buildODT(t,
		entry{"styles.xml", zip.Deflate, []byte("<styles/>")},
		entry{mimetypeFile, zip.Store, []byte(odtMimetype)},
		entry{contentFile, zip.Deflate, []byte(labelContent)},
		entry{"Pictures/1000000000000064000000.png", zip.Store, placeholderPNG(t, 100, 60)},
		entry{"META-INF/manifest.xml", zip.Deflate, []byte("<manifest/>")},
	)
}

func readArchive(t *testing.T, data []byte) (*zip.Reader, map[string][]byte) {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	out := make(map[string][]byte)
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		b, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		out[f.Name] = b
	}
	return zr, out
}

var switchFields = map[string]string{
	"asset_tag":  "00428",
	"model_name": "AP82i",
	"notes":      "Rack B2 & <spare>",
}

func TestParse(t *testing.T) {
	tpl, err := Parse(standardODT(t))
	require.NoError(t, err)

	assert.Equal(t, []string{"asset_tag", "model_name", "notes", "missing_tag"}, tpl.Tags())
	w, h := tpl.PlaceholderSize()
	assert.Equal(t, 100, w)
	assert.Equal(t, 60, h)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		data func(t *testing.T) []byte
		want error
	}{
		{"not a zip", func(t *testing.T) []byte { return []byte("plain text") }, ErrNotODT},
		{"no content", func(t *testing.T) []byte {
			return buildODT(t, entry{"Pictures/a.png", zip.Store, placeholderPNG(t, 10, 10)})
		}, ErrNotODT},
		{"no image", func(t *testing.T) []byte {
			return buildODT(t, entry{contentFile, zip.Deflate, []byte(labelContent)})
		}, ErrPlaceholder},
		{"two images", func(t *testing.T) []byte {
			return buildODT(t,
				entry{contentFile, zip.Deflate, []byte(labelContent)},
				entry{"Pictures/a.png", zip.Store, placeholderPNG(t, 10, 10)},
				entry{"Pictures/b.png", zip.Store, placeholderPNG(t, 10, 10)},
			)
		}, ErrPlaceholder},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.data(t))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestParse_UndecodableImage(t *testing.T) {
	data := buildODT(t,
		entry{contentFile, zip.Deflate, []byte(labelContent)},
		entry{"Pictures/a.svg", zip.Deflate, []byte("<svg/>")},
	)
	_, err := Parse(data)
	assert.ErrorContains(t, err, "Pictures/a.svg")
}

func TestTemplate_Missing(t *testing.T) {
	tpl, err := Parse(standardODT(t))
	require.NoError(t, err)

	assert.Equal(t, []string{"missing_tag"}, tpl.Missing(switchFields))
	assert.Equal(t, []string{"asset_tag", "missing_tag", "model_name", "notes"}, tpl.Missing(nil))
}

func TestTemplate_Render(t *testing.T) {
	tpl, err := Parse(standardODT(t))
	require.NoError(t, err)

	out, err := tpl.Render(switchFields, "https://inv.example.com/hardware/428")
	require.NoError(t, err)

	zr, files := readArchive(t, out)

	t.Run("mimetype first and stored", func(t *testing.T) {
		require.NotEmpty(t, zr.File)
		assert.Equal(t, mimetypeFile, zr.File[0].Name)
		assert.Equal(t, zip.Store, zr.File[0].Method)
		assert.Equal(t, odtMimetype, string(files[mimetypeFile]))
	})

	t.Run("content filled", func(t *testing.T) {
		content := string(files[contentFile])
		assert.Contains(t, content, "<text:p>00428 / AP82i / Rack B2 &amp; &lt;spare&gt;</text:p>")
		assert.Contains(t, content, "<text:p> 00428</text:p>")
		assert.NotContains(t, content, "{{")
	})

	t.Run("other entries untouched", func(t *testing.T) {
		assert.Equal(t, "<styles/>", string(files["styles.xml"]))
		assert.Equal(t, "<manifest/>", string(files["META-INF/manifest.xml"]))
		assert.Len(t, files, 5)
	})

	t.Run("qr code replaces placeholder", func(t *testing.T) {
		pic := files["Pictures/1000000000000064000000.png"]
		img, format, err := image.Decode(bytes.NewReader(pic))
		require.NoError(t, err)
		assert.Equal(t, "png", format)
		assert.Equal(t, 100, img.Bounds().Dx())
		assert.Equal(t, 60, img.Bounds().Dy())

		white := color.GrayModel.Convert(color.White)
		assert.Equal(t, white, color.GrayModel.Convert(img.At(0, 0)))
		assert.Equal(t, white, color.GrayModel.Convert(img.At(99, 59)))
	})
}

func TestTemplate_RenderKeepsJPEG(t *testing.T) {
	data := buildODT(t,
		entry{mimetypeFile, zip.Store, []byte(odtMimetype)},
		entry{contentFile, zip.Deflate, []byte("<p>{{id}}</p>")},
		entry{"Pictures/label.jpg", zip.Store, placeholderJPEG(t, 80, 80)},
	)
	tpl, err := Parse(data)
	require.NoError(t, err)

	out, err := tpl.Render(map[string]string{"id": "7"}, "https://inv.example.com/licenses/7")
	require.NoError(t, err)

	_, files := readArchive(t, out)
	cfg, format, err := image.DecodeConfig(bytes.NewReader(files["Pictures/label.jpg"]))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 80, cfg.Width)
	assert.Equal(t, "<p>7</p>", string(files[contentFile]))
}

func TestTemplate_RenderEmptyQR(t *testing.T) {
	tpl, err := Parse(standardODT(t))
	require.NoError(t, err)

	_, err = tpl.Render(switchFields, "")
	assert.Error(t, err)
}

func TestLoadAndWriteFile(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "Asset-Template.odt")
	require.NoError(t, os.WriteFile(in, standardODT(t), 0o644))

	tpl, err := Load(in)
	require.NoError(t, err)

	out, err := tpl.Render(switchFields, "https://inv.example.com/hardware/428")
	require.NoError(t, err)

	dst := filepath.Join(dir, "Asset-Label.odt")
	require.NoError(t, os.WriteFile(dst, []byte("stale"), 0o644))
	require.NoError(t, WriteFile(dst, out))

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, out, got)

	_, err = Load(filepath.Join(dir, "absent.odt"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
