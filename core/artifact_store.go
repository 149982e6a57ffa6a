package core

// ArtifactStore persists binary outputs produced during a run (for example a
// generated code sample). Implementations must be safe for concurrent use and
// scope artifacts by the full session key, so two users sharing a session id
// never see each other's artifacts.
type ArtifactStore interface {
	Save(key SessionKey, artifactID string, data []byte) error
	Get(key SessionKey, artifactID string) ([]byte, error)
	List(key SessionKey) ([]string, error)
	Delete(key SessionKey, artifactID string) error
}
