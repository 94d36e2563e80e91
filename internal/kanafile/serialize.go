package kanafile

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"kana-backend/internal/matrix"
	"kana-backend/internal/pipeline"
	"kana-backend/internal/shared/failure"
	"kana-backend/internal/stages"
)

// Linker stores a file and returns its artifact id. Linking the same content
// twice returns the same id.
type Linker interface {
	Link(ctx context.Context, kind, name string, data []byte) (string, error)
}

// Resolver returns the bytes behind an artifact id.
type Resolver interface {
	Resolve(ctx context.Context, id string) ([]byte, error)
}

// Serialize encodes every valid stage of s. With embed the input files are
// appended to the container; otherwise each is replaced by an artifact link
// and the link ids are returned.
func Serialize(ctx context.Context, s *pipeline.State, embed bool, linker Linker) ([]byte, []string, error) {
	if s == nil {
		return nil, nil, failure.Validation("serialize", stages.ErrUpstreamMissing)
	}
	if !embed && linker == nil {
		return nil, nil, failure.Newf(failure.KindPersistence, "serialize", "linked mode needs an artifact store")
	}

	doc := Document{FormatVersion: FormatVersion}
	records, err := encodeStages(s)
	if err != nil {
		return nil, nil, failure.Persistence("encode state", err)
	}
	doc.Stages = records

	var files bytes.Buffer
	var ids []string
	if in, ok := s.Inputs.Result(); ok {
		for _, f := range in.Files {
			ref := FileRef{Kind: f.Kind, Name: f.Name, Size: int64(len(f.Data))}
			if embed {
				ref.Offset = int64(files.Len())
				files.Write(f.Data)
			} else {
				id, err := linker.Link(ctx, f.Kind, f.Name, f.Data)
				if err != nil {
					return nil, nil, failure.Persistence("link "+f.Name, err)
				}
				ref.ArtifactID = id
				ids = append(ids, id)
			}
			doc.Files = append(doc.Files, ref)
		}
	}

	state, err := encMode.Marshal(doc)
	if err != nil {
		return nil, nil, failure.Persistence("encode document", err)
	}
	mode := ModeLinked
	if embed {
		mode = ModeEmbedded
	}
	out, err := pack(mode, state, files.Bytes())
	if err != nil {
		return nil, nil, failure.Persistence("pack container", err)
	}
	return out, ids, nil
}

// Deserialize rebuilds a state from a container. Every linked file is
// resolved before any stage is decoded, so a missing artifact fails without
// producing a partial state.
func Deserialize(ctx context.Context, data []byte, resolver Resolver) (*pipeline.State, error) {
	h, raw, trailer, err := unpack(data)
	if err != nil {
		return nil, failure.Validation("read container", err)
	}
	var doc Document
	if err := decMode.Unmarshal(raw, &doc); err != nil {
		return nil, failure.Validation("decode document", fmt.Errorf("%w: %v", ErrFormat, err))
	}
	if doc.FormatVersion != FormatVersion {
		return nil, failure.Newf(failure.KindValidation, "decode document", "%v: format version %d", ErrFormat, doc.FormatVersion)
	}

	files, err := loadFiles(ctx, h.Mode, doc.Files, trailer, resolver)
	if err != nil {
		return nil, err
	}

	s := pipeline.NewState()
	if err := decodeStages(s, doc.Stages, files); err != nil {
		s.Free()
		return nil, failure.Validation("decode state", err)
	}
	return s, nil
}

func loadFiles(ctx context.Context, mode Mode, refs []FileRef, trailer []byte, resolver Resolver) ([]matrix.File, error) {
	files := make([]matrix.File, 0, len(refs))
	for _, ref := range refs {
		var content []byte
		switch mode {
		case ModeEmbedded:
			end := ref.Offset + ref.Size
			if ref.Offset < 0 || ref.Size < 0 || end > int64(len(trailer)) {
				return nil, failure.Validation("read container", fmt.Errorf("%w: file %s out of bounds", ErrFormat, ref.Name))
			}
			content = bytes.Clone(trailer[ref.Offset:end])
		case ModeLinked:
			if resolver == nil {
				return nil, failure.Newf(failure.KindPersistence, "resolve "+ref.Name, "no artifact store configured")
			}
			b, err := resolver.Resolve(ctx, ref.ArtifactID)
			if err != nil {
				return nil, failure.Persistence("resolve "+ref.ArtifactID, err)
			}
			if int64(len(b)) != ref.Size {
				return nil, failure.Persistence("resolve "+ref.ArtifactID, fmt.Errorf("size %d, want %d", len(b), ref.Size))
			}
			content = b
		}
		files = append(files, matrix.File{Kind: ref.Kind, Name: ref.Name, Data: content})
	}
	return files, nil
}

func encodeStages(s *pipeline.State) ([]StageRecord, error) {
	var out []StageRecord
	add := func(rec *StageRecord, err error) error {
		if err != nil {
			return err
		}
		if rec != nil {
			out = append(out, *rec)
		}
		return nil
	}
	if err := add(encodeParamsOnly(s.Inputs)); err != nil {
		return nil, err
	}
	for _, err := range []error{
		add(encodeStage(s.QualityControl)),
		add(encodeStage(s.Normalization)),
		add(encodeStage(s.FeatureSelection)),
		add(encodeStage(s.PCA)),
		add(encodeStage(s.NeighborIndex)),
		add(encodeStage(s.TSNE)),
		add(encodeStage(s.UMAP)),
		add(encodeStage(s.KMeansCluster)),
		add(encodeStage(s.SNNGraphCluster)),
		add(encodeStage(s.ChooseClustering)),
		add(encodeStage(s.MarkerDetection)),
		add(encodeStage(s.CellLabelling)),
		add(encodeStage(s.CustomSelections)),
	} {
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func encodeStage[P stages.Params[P], R any](e *stages.Executor[P, R]) (*StageRecord, error) {
	p, ok := e.Params()
	if !ok {
		return nil, nil
	}
	r, _ := e.Result()
	pb, err := encMode.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("%s params: %w", e.Name(), err)
	}
	rb, err := encMode.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("%s result: %w", e.Name(), err)
	}
	return &StageRecord{Name: e.Name(), Params: pb, Result: rb}, nil
}

// encodeParamsOnly is used for inputs, whose result is rebuilt from the files.
func encodeParamsOnly[P stages.Params[P], R any](e *stages.Executor[P, R]) (*StageRecord, error) {
	p, ok := e.Params()
	if !ok {
		return nil, nil
	}
	pb, err := encMode.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("%s params: %w", e.Name(), err)
	}
	return &StageRecord{Name: e.Name(), Params: pb}, nil
}

func decodeStages(s *pipeline.State, records []StageRecord, files []matrix.File) error {
	for _, rec := range records {
		var err error
		switch rec.Name {
		case stages.Inputs:
			err = decodeInputs(s, rec, files)
		case stages.QualityControl:
			err = decodeStage(s.QualityControl, rec)
		case stages.Normalization:
			err = decodeStage(s.Normalization, rec)
		case stages.FeatureSelection:
			err = decodeStage(s.FeatureSelection, rec)
		case stages.PCA:
			err = decodeStage(s.PCA, rec)
		case stages.NeighborIndex:
			err = decodeStage(s.NeighborIndex, rec)
		case stages.TSNE:
			err = decodeStage(s.TSNE, rec)
		case stages.UMAP:
			err = decodeStage(s.UMAP, rec)
		case stages.KMeansCluster:
			err = decodeStage(s.KMeansCluster, rec)
		case stages.SNNGraphCluster:
			err = decodeStage(s.SNNGraphCluster, rec)
		case stages.ChooseClustering:
			err = decodeStage(s.ChooseClustering, rec)
		case stages.MarkerDetection:
			err = decodeStage(s.MarkerDetection, rec)
		case stages.CellLabelling:
			err = decodeStage(s.CellLabelling, rec)
		case stages.CustomSelections:
			err = decodeStage(s.CustomSelections, rec)
		default:
			err = fmt.Errorf("%w: unknown stage %q", ErrFormat, rec.Name)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func decodeStage[P stages.Params[P], R any](e *stages.Executor[P, R], rec StageRecord) error {
	var p P
	var r R
	if err := decMode.Unmarshal(rec.Params, &p); err != nil {
		return fmt.Errorf("%s params: %w", rec.Name, err)
	}
	if len(rec.Result) == 0 {
		return fmt.Errorf("%w: %s has no result", ErrFormat, rec.Name)
	}
	if err := decMode.Unmarshal(rec.Result, &r); err != nil {
		return fmt.Errorf("%s result: %w", rec.Name, err)
	}
	e.Restore(p, r)
	return nil
}

func decodeInputs(s *pipeline.State, rec StageRecord, files []matrix.File) error {
	var p stages.InputsParams
	if err := decMode.Unmarshal(rec.Params, &p); err != nil {
		return fmt.Errorf("inputs params: %w", err)
	}
	p.Files = files
	in, err := stages.LoadInputs(p)
	if err != nil {
		return errors.Join(ErrFormat, err)
	}
	s.Inputs.Restore(p, in)
	return nil
}
