// Package artifact defines the generated-output value shared by providers,
// cache, lineage, and the variation engine.
package artifact

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind discriminates the artifact union.
type Kind string

const (
	KindImage Kind = "image"
	KindText  Kind = "text"
	KindAudio Kind = "audio"
	KindJSON  Kind = "json"
)

// Usage accounts for one provider call.
type Usage struct {
	TokensIn  int64   `json:"tokens_in"`
	TokensOut int64   `json:"tokens_out"`
	CostUSD   float64 `json:"cost_usd"`
}

// Artifact is one generated output. Exactly one of Data/Text carries the
// payload depending on Kind (Data for image/audio, Text for text/json).
type Artifact struct {
	Kind Kind   `json:"kind"`
	Name string `json:"name"`
	MIME string `json:"mime,omitempty"`

	Data []byte `json:"data,omitempty"`
	Text string `json:"text,omitempty"`

	// NodeID is the lineage node that produced this artifact.
	NodeID string `json:"node_id,omitempty"`

	// StyleHash is the StyleGuide version this artifact was validated
	// against, empty before validation.
	StyleHash string `json:"style_hash,omitempty"`

	Model     string    `json:"model,omitempty"`
	Provider  string    `json:"provider,omitempty"`
	Usage     Usage     `json:"usage"`
	CreatedAt time.Time `json:"created_at"`
}

// Payload returns the artifact body as bytes regardless of kind.
func (a *Artifact) Payload() []byte {
	if len(a.Data) > 0 {
		return a.Data
	}
	return []byte(a.Text)
}

// Size returns the payload size in bytes, used as cache cost.
func (a *Artifact) Size() int64 {
	return int64(len(a.Data) + len(a.Text))
}

// Validate checks the union invariant.
func (a *Artifact) Validate() error {
	switch a.Kind {
	case KindImage, KindAudio:
		if len(a.Data) == 0 {
			return fmt.Errorf("artifact %q: %s artifact has no binary payload", a.Name, a.Kind)
		}
	case KindText, KindJSON:
		if a.Text == "" {
			return fmt.Errorf("artifact %q: %s artifact has no text payload", a.Name, a.Kind)
		}
	default:
		return fmt.Errorf("artifact %q: unknown kind %q", a.Name, a.Kind)
	}
	return nil
}

// Encode serializes the artifact for the disk cache tier and checkpoint store.
func (a *Artifact) Encode() ([]byte, error) {
	return json.Marshal(a)
}

// Decode deserializes an artifact.
func Decode(data []byte) (*Artifact, error) {
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decoding artifact: %w", err)
	}
	return &a, nil
}

// Bundle is the final mapping from logical asset name to artifact, handed to
// external code/asset emitters together with the style guide.
type Bundle map[string]*Artifact
