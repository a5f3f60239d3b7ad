package export

import (
	"context"
	"fmt"
	"path"

	"atlasprep/internal/core"
)

var _ core.ArtifactSink = (*Sink)(nil)

// ArtifactKey returns the object key for a run's artifact in format.
func ArtifactKey(runID string, format Format) string {
	return path.Join("runs", runID, "aligned."+string(format))
}

// Sink renders alignments and writes them under runs/<run-id>/.
type Sink struct {
	store ObjectStore
}

// NewSink returns a core.ArtifactSink backed by store.
func NewSink(store ObjectStore) *Sink { return &Sink{store: store} }

// WriteArtifacts renders every requested format before storing any of them.
// A failed write removes the objects already stored for the run.
func (s *Sink) WriteArtifacts(ctx context.Context, runID string, a core.Alignment, formats []string) ([]string, error) {
	if runID == "" {
		return nil, fmt.Errorf("write artifacts: run id required")
	}
	type object struct {
		key         string
		payload     []byte
		contentType string
		metadata    map[string]any
	}
	var objects []object
	var keys []string
	seen := make(map[Format]struct{}, len(formats))
	for _, name := range formats {
		format, err := ParseFormat(name)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[format]; dup {
			continue
		}
		seen[format] = struct{}{}
		r, err := Render(format, a)
		if err != nil {
			return nil, err
		}
		key := ArtifactKey(runID, format)
		md := r.Metadata
		md["run_id"] = runID
		for suffix, payload := range r.Companions {
			ckey := path.Join("runs", runID, "aligned."+suffix)
			md[suffix] = ckey
			objects = append(objects, object{key: ckey, payload: payload, contentType: "text/tab-separated-values"})
		}
		objects = append(objects, object{key: key, payload: r.Payload, contentType: r.ContentType, metadata: md})
		keys = append(keys, key)
	}

	var written []string
	for _, obj := range objects {
		if _, err := s.store.Put(ctx, obj.key, obj.payload, obj.contentType, obj.metadata); err != nil {
			s.rollback(ctx, written)
			return nil, fmt.Errorf("store %s: %w", obj.key, err)
		}
		written = append(written, obj.key)
	}
	return keys, nil
}

func (s *Sink) rollback(ctx context.Context, keys []string) {
	for _, key := range keys {
		_, _ = s.store.Delete(context.WithoutCancel(ctx), key)
	}
}
