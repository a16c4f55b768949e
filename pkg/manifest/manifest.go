// Package manifest provides submission manifest parsing and validation.
//
// A submission manifest describes one Spark batch job: the cluster it runs
// on, the artifact to build and deploy (or an already uploaded file), and
// the Livy batch options. Manifests may be written in YAML or JSON.
package manifest

import (
	"strings"

	"github.com/3leaps/livyctl/pkg/deploy"
	"github.com/3leaps/livyctl/pkg/submission"
)

// Manifest is the root structure of a submission manifest.
type Manifest struct {
	// Schema is the optional JSON Schema reference for editor support.
	Schema string `json:"$schema,omitempty" yaml:"$schema,omitempty"`

	// Version is the manifest schema version (currently "1.0").
	Version string `json:"version" yaml:"version"`

	// Cluster names the target cluster in the registry.
	Cluster string `json:"cluster" yaml:"cluster"`

	// Name is the optional batch name shown by Livy.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Artifact describes a local artifact to build and upload.
	Artifact *ArtifactConfig `json:"artifact,omitempty" yaml:"artifact,omitempty"`

	// File is a remote artifact URI. When set, build and deploy are skipped.
	File string `json:"file,omitempty" yaml:"file,omitempty"`

	ClassName string            `json:"class_name,omitempty" yaml:"class_name,omitempty"`
	Args      []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Jars      []string          `json:"jars,omitempty" yaml:"jars,omitempty"`
	Files     []string          `json:"files,omitempty" yaml:"files,omitempty"`
	PyFiles   []string          `json:"py_files,omitempty" yaml:"py_files,omitempty"`
	Conf      map[string]string `json:"conf,omitempty" yaml:"conf,omitempty"`

	// Deploy tunes the artifact upload.
	Deploy DeployConfig `json:"deploy,omitempty" yaml:"deploy,omitempty"`
}

// ArtifactConfig locates the local artifact.
type ArtifactConfig struct {
	// Path is a file path or doublestar glob that must match one file.
	Path string `json:"path" yaml:"path"`

	// Build is an optional shell command run before Path is resolved.
	Build string `json:"build,omitempty" yaml:"build,omitempty"`

	// WorkDir is the directory Build runs in and Path is relative to.
	WorkDir string `json:"workdir,omitempty" yaml:"workdir,omitempty"`
}

// DeployConfig configures artifact upload.
type DeployConfig struct {
	Folder   string `json:"folder,omitempty" yaml:"folder,omitempty"`
	Attempts int    `json:"attempts,omitempty" yaml:"attempts,omitempty"`
}

// DefaultWorkDir is the artifact working directory when none is given.
const DefaultWorkDir = "."

// ApplyDefaults fills in default values for optional fields.
//
// This should be called after loading and validating the manifest.
func (m *Manifest) ApplyDefaults() {
	if m.Artifact != nil && strings.TrimSpace(m.Artifact.WorkDir) == "" {
		m.Artifact.WorkDir = DefaultWorkDir
	}
	if strings.TrimSpace(m.Deploy.Folder) == "" {
		m.Deploy.Folder = deploy.DefaultFolder
	}
	if m.Deploy.Attempts == 0 {
		m.Deploy.Attempts = deploy.DefaultAttempts
	}
}

// NeedsDeploy reports whether a local artifact must be uploaded.
func (m *Manifest) NeedsDeploy() bool {
	return strings.TrimSpace(m.File) == ""
}

// ToSpec converts the manifest to submission inputs. A non-empty cluster
// overrides the manifest's cluster.
func (m *Manifest) ToSpec(cluster string) submission.Spec {
	spec := submission.Spec{
		ClusterName: m.Cluster,
		FilePath:    m.File,
		ClassName:   m.ClassName,
		Args:        m.Args,
		Jars:        m.Jars,
		Files:       m.Files,
		PyFiles:     m.PyFiles,
		Conf:        m.Conf,
		Name:        m.Name,
	}
	if c := strings.TrimSpace(cluster); c != "" {
		spec.ClusterName = c
	}
	if m.Artifact != nil {
		spec.Artifact = m.Artifact.Path
	}
	return spec
}

// Target returns the deploy target for this manifest.
func (m *Manifest) Target() deploy.Target {
	return deploy.Target{Folder: m.Deploy.Folder}
}
