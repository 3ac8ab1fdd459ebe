package domain

import (
	"strings"
	"time"

	"github.com/distribution/reference"
)

const (
	ComposeProjectLabel = "com.docker.compose.project"
	ComposeServiceLabel = "com.docker.compose.service"

	composeLabelPrefix = "com.docker.compose."
	defaultImageTag    = "latest"
)

// Event attributes that describe the container or the event rather than a label.
var nonLabelAttributes = map[string]struct{}{
	"name":         {},
	"image":        {},
	"exitCode":     {},
	"signal":       {},
	"execDuration": {},
}

type Image struct {
	Name string `json:"name"`
	Tag  string `json:"tag"`
}

type Compose struct {
	Project string `json:"project"`
	Service string `json:"service"`
}

// ContainerIdentity is the immutable description of a container.
type ContainerIdentity struct {
	ID      string            `json:"id"`
	Name    string            `json:"name"`
	Image   Image             `json:"image"`
	Labels  map[string]string `json:"labels"`
	Compose *Compose          `json:"compose,omitempty"`
}

// ContainerRunState is a tracked container together with its run state.
// RunningUpdateAt is the time as of which Running is known to be true.
type ContainerRunState struct {
	ContainerIdentity
	Running         bool
	RunningUpdateAt time.Time
}

// NewContainerIdentity builds an identity from the raw attributes the runtime
// reports. Compose labels are lifted into Compose and left out of Labels.
func NewContainerIdentity(id, name, image string, attributes map[string]string) ContainerIdentity {
	labels := make(map[string]string, len(attributes))
	for k, v := range attributes {
		if _, skip := nonLabelAttributes[k]; skip {
			continue
		}
		if strings.HasPrefix(k, composeLabelPrefix) {
			continue
		}
		labels[k] = v
	}

	identity := ContainerIdentity{
		ID:     id,
		Name:   strings.TrimPrefix(name, "/"),
		Image:  ParseImage(image),
		Labels: labels,
	}

	project := attributes[ComposeProjectLabel]
	service := attributes[ComposeServiceLabel]
	if project != "" || service != "" {
		identity.Compose = &Compose{Project: project, Service: service}
	}
	return identity
}

// ParseImage splits an image reference into name and tag. Untagged references
// get the "latest" tag. References that do not parse (image IDs, digests of
// deleted images) fall back to splitting on the last colon of the final path
// component.
func ParseImage(ref string) Image {
	if named, err := reference.ParseNormalizedNamed(ref); err == nil {
		img := Image{Name: reference.FamiliarName(named), Tag: defaultImageTag}
		if tagged, ok := named.(reference.Tagged); ok {
			img.Tag = tagged.Tag()
		}
		return img
	}

	slash := strings.LastIndex(ref, "/")
	if colon := strings.LastIndex(ref, ":"); colon > slash {
		tag := ref[colon+1:]
		if tag == "" {
			tag = defaultImageTag
		}
		return Image{Name: ref[:colon], Tag: tag}
	}
	return Image{Name: ref, Tag: defaultImageTag}
}

// DisplayName is the compose project/service pair when present, else the
// container name.
func (c ContainerIdentity) DisplayName() string {
	if c.Compose != nil {
		return c.Compose.Project + "/" + c.Compose.Service
	}
	return c.Name
}
