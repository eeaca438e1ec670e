package model

// ModelName identifies one of the supported vision backends.
type ModelName string

const (
	ModelPhiVision ModelName = "maxiw/Phi-3.5-vision"
	ModelFlorence  ModelName = "HuggingFaceM4/Docmatix-Florence-2"
	ModelGroq      ModelName = "Groq"
)

// InferenceRequest is built per submission and dropped after dispatch.
type InferenceRequest struct {
	Model  ModelName
	Image  Image
	Prompt string
}

// AudioArtifact is rendered speech. MIMEType is always audio/mpeg.
type AudioArtifact struct {
	Bytes    []byte
	MIMEType string
}

const AudioMIMEType = "audio/mpeg"

// NewAudioArtifact copies data so the artifact never aliases the caller's buffer.
func NewAudioArtifact(data []byte) *AudioArtifact {
	return &AudioArtifact{
		Bytes:    append([]byte(nil), data...),
		MIMEType: AudioMIMEType,
	}
}
