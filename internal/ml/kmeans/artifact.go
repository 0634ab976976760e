package kmeans

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"
	"time"

	"forestwatch/internal/domain/clustering"
	"forestwatch/pkg/errors"
)

// ModelEntry is the file name of the model inside the artifact archive
const ModelEntry = "model.json"

// maxEntrySize bounds decoding of a single archive entry
const maxEntrySize = 64 << 20

// EncodeArtifact packs a model as a gzipped tarball holding model.json
func EncodeArtifact(m *clustering.Model) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	body, err := json.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(err, "marshal model")
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	hdr := &tar.Header{
		Name:    ModelEntry,
		Mode:    0o644,
		Size:    int64(len(body)),
		ModTime: time.Unix(0, 0),
		Format:  tar.FormatPAX,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return nil, errors.Wrap(err, "write tar header")
	}
	if _, err := tw.Write(body); err != nil {
		return nil, errors.Wrap(err, "write tar body")
	}
	if err := tw.Close(); err != nil {
		return nil, errors.Wrap(err, "close tar")
	}
	if err := gz.Close(); err != nil {
		return nil, errors.Wrap(err, "close gzip")
	}
	return buf.Bytes(), nil
}

// DecodeArtifact reads a model packed by EncodeArtifact.
// Every failure is reported as ErrModelLoad.
func DecodeArtifact(data []byte) (*clustering.Model, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrapf(errors.ErrModelLoad, "open gzip: %v", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil, errors.Wrapf(errors.ErrModelLoad, "%s not found in artifact", ModelEntry)
		}
		if err != nil {
			return nil, errors.Wrapf(errors.ErrModelLoad, "read tar: %v", err)
		}
		if hdr.Name != ModelEntry {
			continue
		}

		body, err := io.ReadAll(io.LimitReader(tr, maxEntrySize))
		if err != nil {
			return nil, errors.Wrapf(errors.ErrModelLoad, "read %s: %v", ModelEntry, err)
		}
		var m clustering.Model
		if err := json.Unmarshal(body, &m); err != nil {
			return nil, errors.Wrapf(errors.ErrModelLoad, "decode %s: %v", ModelEntry, err)
		}
		if err := m.Validate(); err != nil {
			return nil, err
		}
		return &m, nil
	}
}
