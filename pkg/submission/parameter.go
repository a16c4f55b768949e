// Package submission runs the build, deploy, create, attach and poll
// pipeline for one Spark batch job.
package submission

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/3leaps/livyctl/pkg/livy"
)

// Job conf keys that map onto dedicated batch request fields.
const (
	ConfDriverMemory   = "driverMemory"
	ConfDriverCores    = "driverCores"
	ConfExecutorMemory = "executorMemory"
	ConfExecutorCores  = "executorCores"
	ConfNumExecutors   = "numExecutors"
)

// Spec holds the mutable inputs a Parameter is built from.
type Spec struct {
	ClusterName string
	Artifact    string
	FilePath    string
	ClassName   string
	Args        []string
	Jars        []string
	Files       []string
	PyFiles     []string
	Conf        map[string]string
	Name        string
}

// Parameter describes one submission attempt. It is immutable; getters
// return copies.
type Parameter struct {
	clusterName string
	artifact    string
	filePath    string
	className   string
	args        []string
	jars        []string
	files       []string
	pyFiles     []string
	conf        map[string]string
	name        string
}

// NewParameter validates spec and freezes it.
func NewParameter(spec Spec) (Parameter, error) {
	if strings.TrimSpace(spec.ClusterName) == "" {
		return Parameter{}, errors.New("cluster name is required")
	}
	if strings.TrimSpace(spec.Artifact) == "" && strings.TrimSpace(spec.FilePath) == "" {
		return Parameter{}, errors.New("an artifact or a remote file path is required")
	}
	p := Parameter{
		clusterName: strings.TrimSpace(spec.ClusterName),
		artifact:    strings.TrimSpace(spec.Artifact),
		filePath:    strings.TrimSpace(spec.FilePath),
		className:   strings.TrimSpace(spec.ClassName),
		args:        slices.Clone(spec.Args),
		jars:        slices.Clone(spec.Jars),
		files:       slices.Clone(spec.Files),
		pyFiles:     slices.Clone(spec.PyFiles),
		conf:        maps.Clone(spec.Conf),
		name:        strings.TrimSpace(spec.Name),
	}
	if err := validateConf(p.conf); err != nil {
		return Parameter{}, err
	}
	return p, nil
}

func (p Parameter) ClusterName() string     { return p.clusterName }
func (p Parameter) Artifact() string        { return p.artifact }
func (p Parameter) FilePath() string        { return p.filePath }
func (p Parameter) ClassName() string       { return p.className }
func (p Parameter) Name() string            { return p.name }
func (p Parameter) Args() []string          { return slices.Clone(p.args) }
func (p Parameter) Jars() []string          { return slices.Clone(p.jars) }
func (p Parameter) Files() []string         { return slices.Clone(p.files) }
func (p Parameter) PyFiles() []string       { return slices.Clone(p.pyFiles) }
func (p Parameter) Conf() map[string]string { return maps.Clone(p.conf) }

// WithFilePath returns a copy carrying the uploaded artifact location.
func (p Parameter) WithFilePath(path string) Parameter {
	out := p
	out.filePath = strings.TrimSpace(path)
	out.args = slices.Clone(p.args)
	out.jars = slices.Clone(p.jars)
	out.files = slices.Clone(p.files)
	out.pyFiles = slices.Clone(p.pyFiles)
	out.conf = maps.Clone(p.conf)
	return out
}

// ToBatchRequest renders the POST /batches body. Resource keys are lifted
// out of the conf map; everything else is passed through as Spark conf.
func (p Parameter) ToBatchRequest() (*livy.BatchRequest, error) {
	if p.filePath == "" {
		return nil, errors.New("remote file path is not set")
	}
	req := &livy.BatchRequest{
		File:      p.filePath,
		ClassName: p.className,
		Args:      slices.Clone(p.args),
		Jars:      slices.Clone(p.jars),
		Files:     slices.Clone(p.files),
		PyFiles:   slices.Clone(p.pyFiles),
		Name:      p.name,
	}
	for k, v := range p.conf {
		var err error
		switch k {
		case ConfDriverMemory:
			req.DriverMemory = v
		case ConfExecutorMemory:
			req.ExecutorMemory = v
		case ConfDriverCores:
			req.DriverCores, err = positiveInt(k, v)
		case ConfExecutorCores:
			req.ExecutorCores, err = positiveInt(k, v)
		case ConfNumExecutors:
			req.NumExecutors, err = positiveInt(k, v)
		default:
			if req.Conf == nil {
				req.Conf = make(map[string]string)
			}
			req.Conf[k] = v
		}
		if err != nil {
			return nil, err
		}
	}
	return req, nil
}

func validateConf(conf map[string]string) error {
	for _, k := range []string{ConfDriverCores, ConfExecutorCores, ConfNumExecutors} {
		if v, ok := conf[k]; ok {
			if _, err := positiveInt(k, v); err != nil {
				return err
			}
		}
	}
	return nil
}

func positiveInt(key, v string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("job conf %s must be a positive integer, got %q", key, v)
	}
	return n, nil
}
