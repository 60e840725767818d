package lifecycle

import (
	sserr "github.com/mnemora/mnemora-core/pkg/errors"
)

// Capability describes a named capability that a component supports. Capabilities
// are reported via [ComponentInfo] and used by orchestration systems for feature
// discovery and routing decisions.
//
// A capability represents a discrete unit of functionality (e.g.,
// "memory-write", "semantic-recall", "transcript-archive") with a semantic
// version indicating the implementation level. The [Metadata] field provides
// extensibility for capability-specific attributes.
//
// Capabilities are value types. Use [NewCapability] to construct validated
// instances and [Capability.Clone] to obtain deep copies when sharing between
// goroutines or returning from methods that expose internal state.
//
// Example:
//
//	cap, err := lifecycle.NewCapability(
//	    "memory-write",
//	    "1.2.0",
//	    "Write memories into the long-term store",
//	    map[string]string{"max_text_length": "8192", "kinds": "episodic,semantic,profile"},
//	)
//	if err != nil {
//	    return err
//	}
type Capability struct {
	// Name is the identifier for the capability (e.g., "memory-write",
	// "semantic-recall"). Must not be empty.
	Name string `json:"name"`

	// Version is the semantic version of the capability implementation
	// (e.g., "1.0.0"). Must not be empty.
	Version string `json:"version"`

	// Description is a human-readable summary of what this capability
	// provides. May be empty for internal-only capabilities.
	Description string `json:"description"`

	// Metadata contains additional key-value pairs with capability-specific
	// attributes (e.g., backing store, size limits, supported kinds).
	// Omitted from JSON when empty.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// NewCapability creates a new [Capability] with validated fields. The metadata
// map is defensively copied to prevent external mutation. Returns an error if
// name or version is empty.
//
// Example:
//
//	cap, err := lifecycle.NewCapability("semantic-recall", "2.0.0", "Vector search over indexed memories", nil)
func NewCapability(name, version, description string, metadata map[string]string) (Capability, error) {
	if err := validateCapability(Capability{Name: name, Version: version}); err != nil {
		return Capability{}, err
	}

	// Defensive copy of metadata to prevent external mutation.
	var copied map[string]string
	if len(metadata) > 0 {
		copied = make(map[string]string, len(metadata))
		for k, v := range metadata {
			copied[k] = v
		}
	}

	return Capability{
		Name:        name,
		Version:     version,
		Description: description,
		Metadata:    copied,
	}, nil
}

// validateCapability checks the invariants a capability must satisfy
// before it is registered on a component: name and version must not be
// empty. [NewCapability] and the builder's Build share this check.
func validateCapability(c Capability) error {
	if c.Name == "" {
		return sserr.New(sserr.CodeValidation,
			"lifecycle: capability name must not be empty")
	}
	if c.Version == "" {
		return sserr.Newf(sserr.CodeValidation,
			"lifecycle: capability %q version must not be empty", c.Name)
	}
	return nil
}

// Clone returns a deep copy of the Capability, including a copy of the
// [Metadata] map. This is used internally by [BaseComponent] to return
// defensive copies from [BaseComponent.Capabilities] and [BaseComponent.Info].
func (c Capability) Clone() Capability {
	var copied map[string]string
	if len(c.Metadata) > 0 {
		copied = make(map[string]string, len(c.Metadata))
		for k, v := range c.Metadata {
			copied[k] = v
		}
	}
	return Capability{
		Name:        c.Name,
		Version:     c.Version,
		Description: c.Description,
		Metadata:    copied,
	}
}
