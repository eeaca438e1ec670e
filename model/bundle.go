package model

// Artifact is one downloadable output. An artifact with a non-empty
// Unavailable reason must not be offered for download.
type Artifact struct {
	Name        string
	MIMEType    string
	Bytes       []byte
	Unavailable string
}

func (a Artifact) Available() bool {
	return a.Unavailable == ""
}

// BundleState summarizes which slots of a Bundle can be downloaded.
type BundleState int

const (
	BundleComplete BundleState = iota
	BundleNoAudio
	BundleNoText
	BundleEmpty
)

func (s BundleState) String() string {
	switch s {
	case BundleComplete:
		return "complete"
	case BundleNoAudio:
		return "no_audio"
	case BundleNoText:
		return "no_text"
	default:
		return "empty"
	}
}

// Bundle holds the artifacts derived from one successful result.
type Bundle struct {
	Text  Artifact
	Audio Artifact
	Zip   Artifact
}

func (b Bundle) State() BundleState {
	switch {
	case b.Text.Available() && b.Audio.Available():
		return BundleComplete
	case b.Text.Available():
		return BundleNoAudio
	case b.Audio.Available():
		return BundleNoText
	default:
		return BundleEmpty
	}
}
