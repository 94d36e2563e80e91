package kanafile

import (
	"github.com/fxamacker/cbor/v2"
)

// FormatVersion is the state document schema version.
const FormatVersion = 1

// Document is the CBOR state document inside a container.
type Document struct {
	FormatVersion int           `cbor:"format_version"`
	Stages        []StageRecord `cbor:"stages"`
	Files         []FileRef     `cbor:"files"`
}

// StageRecord holds one stage's encoded parameters and result.
type StageRecord struct {
	Name   string          `cbor:"name"`
	Params cbor.RawMessage `cbor:"params"`
	Result cbor.RawMessage `cbor:"result,omitempty"`
}

// FileRef locates an input file either inside the container or behind an
// artifact link.
type FileRef struct {
	Kind       string `cbor:"kind" json:"kind"`
	Name       string `cbor:"name" json:"name"`
	Size       int64  `cbor:"size" json:"size"`
	Offset     int64  `cbor:"offset,omitempty" json:"offset,omitempty"`
	ArtifactID string `cbor:"artifact_id,omitempty" json:"artifactId,omitempty"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.EncOptions{
		Sort:          cbor.SortCoreDeterministic,
		ShortestFloat: cbor.ShortestFloatNone,
		NaNConvert:    cbor.NaNConvertNone,
		InfConvert:    cbor.InfConvertNone,
	}.EncMode()
	if err != nil {
		panic(err)
	}
	decMode, err = cbor.DecOptions{
		MaxArrayElements: 1 << 30,
		MaxMapPairs:      1 << 24,
	}.DecMode()
	if err != nil {
		panic(err)
	}
}
