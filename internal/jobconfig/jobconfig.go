// Package jobconfig loads the definition of the sync job: where the script
// may live, how to run it and which environment it gets.
package jobconfig

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/animus-labs/refresh-go/internal/platform/env"
	"github.com/animus-labs/refresh-go/internal/runtimeexec"
)

const (
	DefaultName        = "local-sync"
	DefaultInterpreter = "python3"
)

// Job is the on-disk job definition. Empty fields keep their defaults.
type Job struct {
	Name        string            `yaml:"name"`
	Interpreter string            `yaml:"interpreter"`
	Candidates  []string          `yaml:"candidates"`
	Args        []string          `yaml:"args"`
	Env         map[string]string `yaml:"env"`
	Workdir     string            `yaml:"workdir"`
}

func DefaultCandidates() []string {
	return []string{
		"../service/run_local_sync.py",
		"service/run_local_sync.py",
		"/tmp/testrail_web_execution/service/run_local_sync.py",
	}
}

func Default() Job {
	return Job{
		Name:        DefaultName,
		Interpreter: DefaultInterpreter,
		Candidates:  DefaultCandidates(),
		Env:         map[string]string{"PYTHONUNBUFFERED": "1"},
	}
}

// Load builds the job from defaults, the optional YAML file at path and the
// SYNCD_* environment overrides, in that order.
func Load(path string) (Job, error) {
	job := Default()
	path = strings.TrimSpace(path)
	if path != "" {
		fromFile, err := LoadFile(path)
		if err != nil {
			return Job{}, err
		}
		job = job.merge(fromFile)
	}
	job = job.withEnvOverrides()
	if err := job.Validate(); err != nil {
		return Job{}, err
	}
	return job, nil
}

func LoadFile(path string) (Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Job{}, fmt.Errorf("read job config: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML job definition. Unknown keys are rejected.
func Parse(data []byte) (Job, error) {
	var job Job
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&job); err != nil {
		if errors.Is(err, io.EOF) {
			return Job{}, nil
		}
		return Job{}, fmt.Errorf("decode job config: %w", err)
	}
	return job, nil
}

func (j Job) merge(other Job) Job {
	if name := strings.TrimSpace(other.Name); name != "" {
		j.Name = name
	}
	if other.Interpreter != "" {
		j.Interpreter = strings.TrimSpace(other.Interpreter)
	}
	if len(other.Candidates) > 0 {
		j.Candidates = append([]string(nil), other.Candidates...)
	}
	if len(other.Args) > 0 {
		j.Args = append([]string(nil), other.Args...)
	}
	if workdir := strings.TrimSpace(other.Workdir); workdir != "" {
		j.Workdir = workdir
	}
	if len(other.Env) > 0 {
		merged := make(map[string]string, len(j.Env)+len(other.Env))
		for k, v := range j.Env {
			merged[k] = v
		}
		for k, v := range other.Env {
			merged[k] = v
		}
		j.Env = merged
	}
	return j
}

func (j Job) withEnvOverrides() Job {
	j.Interpreter = strings.TrimSpace(env.String("SYNCD_INTERPRETER", j.Interpreter))
	j.Candidates = env.List("SYNCD_SCRIPT_CANDIDATES", j.Candidates)
	j.Args = env.List("SYNCD_JOB_ARGS", j.Args)
	j.Workdir = env.String("SYNCD_JOB_WORKDIR", j.Workdir)
	return j
}

func (j Job) Validate() error {
	if len(j.Candidates) == 0 {
		return errors.New("at least one script candidate is required")
	}
	for i, c := range j.Candidates {
		if strings.TrimSpace(c) == "" {
			return fmt.Errorf("candidates[%d] is empty", i)
		}
	}
	for k := range j.Env {
		if k == "" || strings.ContainsAny(k, "= \t") {
			return fmt.Errorf("invalid env key %q", k)
		}
	}
	if j.Workdir != "" {
		info, err := os.Stat(j.Workdir)
		if err != nil {
			return fmt.Errorf("workdir: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("workdir %s is not a directory", j.Workdir)
		}
	}
	return nil
}

// Template is the launch spec without the per-run fields (RunID, Seq, Path).
func (j Job) Template() runtimeexec.JobSpec {
	spec := runtimeexec.JobSpec{
		Interpreter: j.Interpreter,
		Args:        j.Args,
		Env:         j.Env,
		Dir:         j.Workdir,
	}
	return spec.Clone()
}
