package manifest

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	manifestPrefix = "jobs/"
	artifactPrefix = "images/"
)

var jobIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,127}$`)

// ValidJobID reports whether id is safe to embed in an object key.
func ValidJobID(id string) bool {
	return jobIDPattern.MatchString(id)
}

// Key returns the object key of the manifest for jobID.
func Key(jobID string) string {
	return fmt.Sprintf("%s%s.json", manifestPrefix, jobID)
}

// ArtifactKey returns the deterministic object key of the image for jobID.
func ArtifactKey(jobID string) string {
	return fmt.Sprintf("%s%s.png", artifactPrefix, jobID)
}

// ImageURL returns the public URL of the artifact for jobID under baseURL.
func ImageURL(baseURL, jobID string) string {
	return strings.TrimRight(baseURL, "/") + "/" + ArtifactKey(jobID)
}

// StatusPath returns the status query path for jobID.
func StatusPath(jobID string) string {
	return "/jobs/" + jobID
}
