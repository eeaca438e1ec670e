package artifact

import (
	"archive/zip"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/mrsingh-rishi/image-narrator/model"
)

const (
	TextFileName  = "output_text.txt"
	AudioFileName = "output_audio.mp3"
	ZipFileName   = "output_files.zip"

	TextMIMEType = "text/plain; charset=utf-8"
	ZipMIMEType  = "application/zip"

	ReasonNoText     = "no text result"
	ReasonNoAudio    = "audio was not synthesized"
	ReasonEmptyAudio = "audio artifact is empty"
)

// zipModTime is fixed so equal inputs give byte-identical archives.
var zipModTime = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// PackagingError wraps unexpected failures while building the archive.
type PackagingError struct {
	Err error
}

func (e *PackagingError) Error() string {
	return "packaging failed: " + e.Err.Error()
}

func (e *PackagingError) Unwrap() error {
	return e.Err
}

// Packager turns a text result and its audio rendering into downloadable
// artifacts.
type Packager struct{}

func NewPackager() *Packager {
	return &Packager{}
}

// Package never mutates its inputs. Missing text or audio marks the
// matching slot unavailable; the zip is only built when both are present.
func (p *Packager) Package(text string, audio *model.AudioArtifact) (model.Bundle, error) {
	bundle := model.Bundle{
		Text:  textArtifact(text),
		Audio: audioArtifact(audio),
		Zip:   model.Artifact{Name: ZipFileName, MIMEType: ZipMIMEType},
	}

	if reasons := missing(bundle); len(reasons) > 0 {
		bundle.Zip.Unavailable = strings.Join(reasons, "; ")
		return bundle, nil
	}

	data, err := buildZip(bundle.Audio.Bytes, bundle.Text.Bytes)
	if err != nil {
		bundle.Zip.Unavailable = "archive could not be built"
		return bundle, &PackagingError{Err: err}
	}
	bundle.Zip.Bytes = data
	return bundle, nil
}

func textArtifact(text string) model.Artifact {
	a := model.Artifact{Name: TextFileName, MIMEType: TextMIMEType}
	if text == "" {
		a.Unavailable = ReasonNoText
		return a
	}
	a.Bytes = []byte(text)
	return a
}

func audioArtifact(audio *model.AudioArtifact) model.Artifact {
	a := model.Artifact{Name: AudioFileName, MIMEType: model.AudioMIMEType}
	switch {
	case audio == nil:
		a.Unavailable = ReasonNoAudio
	case len(audio.Bytes) == 0:
		a.Unavailable = ReasonEmptyAudio
	default:
		a.Bytes = append([]byte(nil), audio.Bytes...)
		if audio.MIMEType != "" {
			a.MIMEType = audio.MIMEType
		}
	}
	return a
}

func missing(b model.Bundle) []string {
	var reasons []string
	if !b.Text.Available() {
		reasons = append(reasons, b.Text.Unavailable)
	}
	if !b.Audio.Available() {
		reasons = append(reasons, b.Audio.Unavailable)
	}
	return reasons
}

func buildZip(audio, text []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	entries := []struct {
		name string
		data []byte
	}{
		{AudioFileName, audio},
		{TextFileName, text},
	}
	for _, entry := range entries {
		header := &zip.FileHeader{
			Name:     entry.name,
			Method:   zip.Deflate,
			Modified: zipModTime,
		}
		header.SetMode(0o644)
		w, err := zw.CreateHeader(header)
		if err != nil {
			return nil, errors.Wrapf(err, "create %s", entry.name)
		}
		if _, err := w.Write(entry.data); err != nil {
			return nil, errors.Wrapf(err, "write %s", entry.name)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, errors.Wrap(err, "close archive")
	}
	return buf.Bytes(), nil
}

// Export writes every available artifact of bundle into dir under its fixed
// name. Each file goes through a temp file that is closed before the rename.
func Export(dir string, bundle model.Bundle) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create output dir")
	}
	var written []string
	for _, a := range []model.Artifact{bundle.Text, bundle.Audio, bundle.Zip} {
		if !a.Available() {
			continue
		}
		path := filepath.Join(dir, a.Name)
		if err := WriteFileAtomic(path, a.Bytes); err != nil {
			return written, errors.Wrapf(err, "export %s", a.Name)
		}
		written = append(written, path)
	}
	return written, nil
}

// WriteFileAtomic writes data to a temp file next to path, closes it and
// renames it over path. On any failure path is left untouched and the temp
// file is removed.
func WriteFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), fmt.Sprintf(".%s-*.tmp", filepath.Base(path)))
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}
