// Package validation parses and validates image manifests before they are admitted to the
// metadata store. Only the modern, digest-addressed formats are accepted: Docker schema 2 images
// and manifest lists, and their OCI equivalents.
package validation

import (
	"encoding/json"
	"fmt"

	v1 "github.com/opencontainers/image-spec/specs-go/v1"
)

// Docker media types. The OCI equivalents come from the image-spec module.
const (
	MediaTypeManifest     = "application/vnd.docker.distribution.manifest.v2+json"
	MediaTypeManifestList = "application/vnd.docker.distribution.manifest.list.v2+json"

	mediaTypeForeignLayer = "application/vnd.docker.image.rootfs.foreign.diff.tar.gzip"
)

// UnsupportedMediaTypeError is returned for payloads whose media type is not one of the four
// accepted manifest formats.
type UnsupportedMediaTypeError struct {
	MediaType string
}

func (err UnsupportedMediaTypeError) Error() string {
	return fmt.Sprintf("unsupported manifest media type %q", err.MediaType)
}

// InvalidManifestError is returned when a manifest payload does not parse or violates a structural
// rule of its format.
type InvalidManifestError struct {
	Reason string
}

func (err InvalidManifestError) Error() string {
	return fmt.Sprintf("invalid manifest: %s", err.Reason)
}

// Manifest is the parsed, format-neutral view of a manifest payload. Exactly one of the two
// reference lists is populated: Blobs for image manifests, Manifests for manifest lists.
type Manifest struct {
	MediaType string

	// Blobs are the config and layer descriptors an image manifest references. Foreign layers are
	// excluded; their content lives outside the registry.
	Blobs []v1.Descriptor

	// Manifests are the per-platform descriptors a manifest list references.
	Manifests []v1.Descriptor
}

// List reports whether the manifest is a manifest list or OCI index.
func (m *Manifest) List() bool {
	return m.MediaType == MediaTypeManifestList || m.MediaType == v1.MediaTypeImageIndex
}

// Parse validates a manifest payload against its declared media type and extracts its references.
// Referenced digests are syntactically validated here; whether they exist in the repository is the
// caller's check.
func Parse(mediaType string, payload []byte) (*Manifest, error) {
	switch mediaType {
	case MediaTypeManifest, v1.MediaTypeImageManifest:
		return parseImageManifest(mediaType, payload)
	case MediaTypeManifestList, v1.MediaTypeImageIndex:
		return parseManifestList(mediaType, payload)
	default:
		return nil, UnsupportedMediaTypeError{MediaType: mediaType}
	}
}

type imageManifest struct {
	SchemaVersion int             `json:"schemaVersion"`
	MediaType     string          `json:"mediaType"`
	Config        v1.Descriptor   `json:"config"`
	Layers        []v1.Descriptor `json:"layers"`
}

func parseImageManifest(mediaType string, payload []byte) (*Manifest, error) {
	var im imageManifest
	if err := json.Unmarshal(payload, &im); err != nil {
		return nil, InvalidManifestError{Reason: fmt.Sprintf("malformed payload: %v", err)}
	}

	if im.SchemaVersion != 2 {
		return nil, InvalidManifestError{Reason: fmt.Sprintf("unsupported schema version %d", im.SchemaVersion)}
	}
	if im.MediaType != "" && im.MediaType != mediaType {
		return nil, InvalidManifestError{Reason: fmt.Sprintf("payload mediaType %q does not match %q", im.MediaType, mediaType)}
	}

	if err := validateDescriptor(im.Config, "config"); err != nil {
		return nil, err
	}

	m := &Manifest{MediaType: mediaType}
	m.Blobs = append(m.Blobs, im.Config)
	for i, layer := range im.Layers {
		if err := validateDescriptor(layer, fmt.Sprintf("layer %d", i)); err != nil {
			return nil, err
		}
		if layer.MediaType == mediaTypeForeignLayer {
			continue
		}
		m.Blobs = append(m.Blobs, layer)
	}

	return m, nil
}

type manifestList struct {
	SchemaVersion int             `json:"schemaVersion"`
	MediaType     string          `json:"mediaType"`
	Manifests     []v1.Descriptor `json:"manifests"`
}

func parseManifestList(mediaType string, payload []byte) (*Manifest, error) {
	var ml manifestList
	if err := json.Unmarshal(payload, &ml); err != nil {
		return nil, InvalidManifestError{Reason: fmt.Sprintf("malformed payload: %v", err)}
	}

	if ml.SchemaVersion != 2 {
		return nil, InvalidManifestError{Reason: fmt.Sprintf("unsupported schema version %d", ml.SchemaVersion)}
	}
	if ml.MediaType != "" && ml.MediaType != mediaType {
		return nil, InvalidManifestError{Reason: fmt.Sprintf("payload mediaType %q does not match %q", ml.MediaType, mediaType)}
	}

	m := &Manifest{MediaType: mediaType}
	for i, desc := range ml.Manifests {
		if err := validateDescriptor(desc, fmt.Sprintf("manifest %d", i)); err != nil {
			return nil, err
		}
		m.Manifests = append(m.Manifests, desc)
	}

	return m, nil
}

func validateDescriptor(desc v1.Descriptor, what string) error {
	if desc.Digest == "" {
		return InvalidManifestError{Reason: fmt.Sprintf("%s has no digest", what)}
	}
	if err := desc.Digest.Validate(); err != nil {
		return InvalidManifestError{Reason: fmt.Sprintf("%s digest %q: %v", what, desc.Digest, err)}
	}
	return nil
}
