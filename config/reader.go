package config

import (
	"bytes"
	"encoding/json"
	"io"
	"path/filepath"

	"github.com/a8m/envsubst"
	"github.com/pkg/errors"
	"go.viam.com/utils/artifact"

	"github.com/tazjel/blender-sub001/synth"
)

// Read reads a scene from the given file. Environment variables such as ${DATA_DIR} are expanded
// before parsing.
func Read(filePath string) (*Scene, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read scene %q", filePath)
	}
	scene, err := fromBytes(buf)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot load scene %q", filePath)
	}
	scene.ConfigFilePath = filePath
	return scene, nil
}

// FromReader reads a scene from the given reader.
func FromReader(r io.Reader) (*Scene, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	buf, err := envsubst.Bytes(raw)
	if err != nil {
		return nil, errors.Wrap(err, "cannot expand environment variables")
	}
	return fromBytes(buf)
}

func fromBytes(buf []byte) (*Scene, error) {
	dec := json.NewDecoder(bytes.NewReader(buf))
	dec.DisallowUnknownFields()
	scene := &Scene{}
	if err := dec.Decode(scene); err != nil {
		return nil, errors.Wrap(err, "cannot parse scene as json")
	}
	if err := scene.Validate("scene"); err != nil {
		return nil, err
	}
	return scene, nil
}

// Write writes the scene as indented json.
func Write(w io.Writer, scene *Scene) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(scene)
}

// Store atomically writes the scene to filePath.
func Store(filePath string, scene *Scene) error {
	var buf bytes.Buffer
	if err := Write(&buf, scene); err != nil {
		return err
	}
	return artifact.AtomicStore(filePath, &buf, filepath.Base(filePath))
}

// FromSynth describes a generated scene for the given model. Projective views are K[R|t] of the
// generated poses.
func FromSynth(s *synth.Scene, model Model) (*Scene, error) {
	scene := &Scene{Model: model, Markers: s.Tracks.AllMarkers()}
	switch model {
	case ModelEuclidean:
		intrinsics := *s.Intrinsics
		scene.Intrinsics = &intrinsics
		for _, v := range s.Views {
			scene.Views = append(scene.Views, View{
				Camera:      v.Camera,
				Image:       v.Image,
				Rotation:    append([]float64(nil), v.R.RawMatrix().Data...),
				Translation: []float64{v.T.X, v.T.Y, v.T.Z},
			})
		}
	case ModelProjective:
		k := s.Intrinsics.K()
		for _, v := range s.Views {
			p := v.ProjectionMatrix(k)
			scene.ProjectiveViews = append(scene.ProjectiveViews, ProjectiveView{
				Camera: v.Camera,
				Image:  v.Image,
				P:      append([]float64(nil), p.RawMatrix().Data...),
			})
		}
	default:
		return nil, errors.Errorf("unknown model %q", model)
	}
	return scene, nil
}
