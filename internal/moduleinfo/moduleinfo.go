package moduleinfo

// Metadata captures static identifiers for the module.
type Metadata struct {
	Name        string
	BinaryName  string
	Slug        string
	Description string
	GeneratorID string
	ServiceName string
}

// Info describes the current module.
var Info = Metadata{
	Name:        "Nupi Voxtral Local STT",
	BinaryName:  "plugin-stt-local-voxtral",
	Slug:        "voxtral-local-stt",
	Description: "Local streaming speech-to-text adapter backed by Voxtral model bundles.",
	GeneratorID: "voxtral-local-stt",
	ServiceName: "voxtral.v1.Transcriber",
}

// Version is overridden at build time with -ldflags "-X".
var Version = "dev"

// TranscriptMetadata produces the standard metadata payload attached to
// emitted transcripts.
func TranscriptMetadata(modelName, sessionID string) map[string]string {
	return map[string]string{
		"generator":  Info.GeneratorID,
		"model":      modelName,
		"session_id": sessionID,
		"version":    Version,
	}
}
