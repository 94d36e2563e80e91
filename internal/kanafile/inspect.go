package kanafile

import "fmt"

// Info summarises a container without rebuilding the state.
type Info struct {
	Version       uint32    `json:"version"`
	Mode          string    `json:"mode"`
	FormatVersion int       `json:"formatVersion"`
	StateBytes    int       `json:"stateBytes"`
	Stages        []string  `json:"stages"`
	Files         []FileRef `json:"files"`
}

// Inspect reads a container's header and document.
func Inspect(data []byte) (Info, error) {
	h, raw, _, err := unpack(data)
	if err != nil {
		return Info{}, err
	}
	var doc Document
	if err := decMode.Unmarshal(raw, &doc); err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	info := Info{
		Version:       h.Version,
		Mode:          h.Mode.String(),
		FormatVersion: doc.FormatVersion,
		StateBytes:    len(raw),
		Files:         doc.Files,
	}
	for _, rec := range doc.Stages {
		info.Stages = append(info.Stages, rec.Name)
	}
	return info, nil
}
