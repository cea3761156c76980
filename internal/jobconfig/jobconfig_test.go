package jobconfig

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	job, err := Load("")
	if err != nil {
		t.Fatalf("Load() err=%v", err)
	}
	if job.Interpreter != "python3" {
		t.Fatalf("Interpreter=%q, want python3", job.Interpreter)
	}
	if len(job.Candidates) != 3 || job.Candidates[0] != "../service/run_local_sync.py" {
		t.Fatalf("Candidates=%q", job.Candidates)
	}
	if job.Env["PYTHONUNBUFFERED"] != "1" {
		t.Fatalf("Env=%v, want PYTHONUNBUFFERED=1", job.Env)
	}
}

func TestLoad_FileMergesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "job.yaml", `
name: nightly
candidates:
  - /opt/sync/run.py
args: ["--full"]
env:
  GCP_PROJECT_ID: demo-project
  BQ_DATASET: reporting
workdir: `+dir+`
`)
	job, err := Load(path)
	if err != nil {
		t.Fatalf("Load() err=%v", err)
	}
	if job.Name != "nightly" || job.Interpreter != "python3" {
		t.Fatalf("job=%+v", job)
	}
	if strings.Join(job.Candidates, ",") != "/opt/sync/run.py" {
		t.Fatalf("Candidates=%q", job.Candidates)
	}
	if job.Env["PYTHONUNBUFFERED"] != "1" || job.Env["BQ_DATASET"] != "reporting" {
		t.Fatalf("Env=%v, want defaults merged with file", job.Env)
	}

	spec := job.Template()
	if spec.Dir != dir || spec.Args[0] != "--full" {
		t.Fatalf("Template()=%+v", spec)
	}
	spec.Env["X"] = "y"
	if _, ok := job.Env["X"]; ok {
		t.Fatalf("Template() shares its env map with the job")
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "job.yaml", "interpreter: python3.11\ncandidates: [a.py]\n")
	t.Setenv("SYNCD_INTERPRETER", "sh")
	t.Setenv("SYNCD_SCRIPT_CANDIDATES", " x.sh , ,y.sh")
	t.Setenv("SYNCD_JOB_ARGS", "--since,2024-01-01")

	job, err := Load(path)
	if err != nil {
		t.Fatalf("Load() err=%v", err)
	}
	if job.Interpreter != "sh" {
		t.Fatalf("Interpreter=%q, want sh", job.Interpreter)
	}
	if strings.Join(job.Candidates, ",") != "x.sh,y.sh" {
		t.Fatalf("Candidates=%q", job.Candidates)
	}
	if strings.Join(job.Args, " ") != "--since 2024-01-01" {
		t.Fatalf("Args=%q", job.Args)
	}
}

func TestParse_RejectsUnknownKeys(t *testing.T) {
	if _, err := Parse([]byte("candidate: a.py\n")); err == nil {
		t.Fatalf("Parse() expected error for unknown key")
	}
	job, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse(empty) err=%v", err)
	}
	if job.Name != "" || len(job.Candidates) != 0 {
		t.Fatalf("Parse(empty)=%+v, want zero job", job)
	}
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"missing file": filepath.Join(dir, "nope.yaml"),
		"bad env key":  writeFile(t, dir, "env.yaml", "env:\n  \"A=B\": x\n"),
		"bad workdir":  writeFile(t, dir, "wd.yaml", "workdir: "+filepath.Join(dir, "missing")+"\n"),
		"bad yaml":     writeFile(t, dir, "bad.yaml", "candidates: [\n"),
	}
	for name, path := range cases {
		if _, err := Load(path); err == nil {
			t.Fatalf("%s: Load() expected error", name)
		}
	}
}

func TestValidate_RequiresCandidates(t *testing.T) {
	job := Default()
	job.Candidates = nil
	if err := job.Validate(); err == nil {
		t.Fatalf("Validate() expected error without candidates")
	}
	job.Candidates = []string{" "}
	if err := job.Validate(); err == nil {
		t.Fatalf("Validate() expected error for blank candidate")
	}
}
