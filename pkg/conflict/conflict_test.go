package conflict

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aishell/aish/pkg/command"
)

type fakeInfo struct {
	name string
	dir  bool
}

func (f fakeInfo) Name() string       { return f.name }
func (f fakeInfo) Size() int64        { return 0 }
func (f fakeInfo) Mode() fs.FileMode  { return 0644 }
func (f fakeInfo) ModTime() time.Time { return time.Time{} }
func (f fakeInfo) IsDir() bool        { return f.dir }
func (f fakeInfo) Sys() interface{}   { return nil }

// fakeStat maps absolute-ish suffixes to directory-ness. Paths not in
// the map do not exist.
func fakeStat(existing map[string]bool) func(string) (os.FileInfo, error) {
	return func(path string) (os.FileInfo, error) {
		for suffix, dir := range existing {
			if strings.HasSuffix(path, suffix) {
				return fakeInfo{name: suffix, dir: dir}, nil
			}
		}
		return nil, os.ErrNotExist
	}
}

func TestDetectNoConflictWhenTargetAbsent(t *testing.T) {
	d := NewDetector()
	d.statFn = fakeStat(nil)

	if r := d.Detect(command.NewStep("mkdir fresh"), "/work"); r != nil {
		t.Errorf("expected nil report, got %+v", r)
	}
}

func TestDetectReadOnlyCommandNeverConflicts(t *testing.T) {
	d := NewDetector()
	d.statFn = fakeStat(map[string]bool{"somewhere": true})

	if r := d.Detect(command.NewStep("ls somewhere"), "/work"); r != nil {
		t.Errorf("read-only command produced report %+v", r)
	}
}

func TestDetectMkdirOverExistingDir(t *testing.T) {
	d := NewDetector()
	d.statFn = fakeStat(map[string]bool{"project": true})

	r := d.Detect(command.NewStep("mkdir project"), "/work")
	if r == nil {
		t.Fatal("expected conflict report")
	}
	if r.Type != TypeExistsAsDir {
		t.Errorf("type = %s, want %s", r.Type, TypeExistsAsDir)
	}
	if r.Path != "project" {
		t.Errorf("path = %q, want project", r.Path)
	}
	assertHasSkip(t, r.Options)
}

func TestDetectGitCloneOptions(t *testing.T) {
	d := NewDetector()
	d.statFn = fakeStat(map[string]bool{"repo": true})

	r := d.Detect(command.NewStep("git clone https://example.com/repo.git repo"), "/work")
	if r == nil {
		t.Fatal("expected conflict report")
	}
	if len(r.Options) != 4 {
		t.Fatalf("options = %d, want 4: %+v", len(r.Options), r.Options)
	}
	if want := "git -C repo pull --ff-only"; r.Options[0].Command != want {
		t.Errorf("sync command = %q, want %q", r.Options[0].Command, want)
	}
	if !strings.HasPrefix(r.Options[1].Command, "rm -rf repo && git clone") {
		t.Errorf("re-clone command = %q", r.Options[1].Command)
	}
	if !strings.HasSuffix(r.Options[2].Command, "repo_1") {
		t.Errorf("alternate command = %q, want repo_1 target", r.Options[2].Command)
	}
	assertHasSkip(t, r.Options)
}

func TestDetectTouchOverFileKeepsExtension(t *testing.T) {
	d := NewDetector()
	d.statFn = fakeStat(map[string]bool{"notes.txt": false})

	r := d.Detect(command.NewStep("touch notes.txt"), "/work")
	if r == nil {
		t.Fatal("expected conflict report")
	}
	if r.Type != TypeExistsAsFile {
		t.Errorf("type = %s, want %s", r.Type, TypeExistsAsFile)
	}
	found := false
	for _, opt := range r.Options {
		if strings.Contains(opt.Command, "notes_1.txt") {
			found = true
		}
	}
	if !found {
		t.Errorf("no option used notes_1.txt: %+v", r.Options)
	}
}

func TestDetectAlternateSkipsTakenSuffixes(t *testing.T) {
	d := NewDetector()
	d.statFn = fakeStat(map[string]bool{"out": true, "out_1": true, "out_2": true})

	r := d.Detect(command.NewStep("mkdir out"), "/work")
	if r == nil {
		t.Fatal("expected conflict report")
	}
	found := false
	for _, opt := range r.Options {
		if strings.Contains(opt.Command, "out_3") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected out_3 alternate, got %+v", r.Options)
	}
}

func TestDetectAlternateProbesRelativeToCwd(t *testing.T) {
	// Exact-path stat: relative probes miss, so the alternate search
	// must join candidates with the detector's cwd, not the process
	// cwd.
	existing := map[string]bool{
		"/work/out":   true,
		"/work/out_1": true,
	}
	d := NewDetector()
	d.statFn = func(path string) (os.FileInfo, error) {
		if !filepath.IsAbs(path) {
			return nil, os.ErrNotExist
		}
		if dir, ok := existing[path]; ok {
			return fakeInfo{name: filepath.Base(path), dir: dir}, nil
		}
		return nil, os.ErrNotExist
	}

	r := d.Detect(command.NewStep("mkdir out"), "/work")
	if r == nil {
		t.Fatal("expected conflict report")
	}
	found := false
	for _, opt := range r.Options {
		if strings.Contains(opt.Command, "out_2") {
			found = true
		}
		if strings.Contains(opt.Command, "out_1") {
			t.Errorf("option proposes the taken path out_1: %+v", opt)
		}
	}
	if !found {
		t.Errorf("expected out_2 alternate, got %+v", r.Options)
	}
}

func TestDetectPermissionErrorYieldsSkipOnly(t *testing.T) {
	d := NewDetector()
	d.statFn = func(string) (os.FileInfo, error) {
		return nil, errors.New("permission denied")
	}

	r := d.Detect(command.NewStep("mkdir /root/locked"), "/work")
	if r == nil {
		t.Fatal("expected conflict report")
	}
	if r.Type != TypePermission {
		t.Errorf("type = %s, want %s", r.Type, TypePermission)
	}
	if len(r.Options) != 1 || r.Options[0].Command != "" {
		t.Errorf("permission conflict options = %+v, want single skip", r.Options)
	}
}

func TestDetectDestructiveVerbIgnored(t *testing.T) {
	d := NewDetector()
	d.statFn = fakeStat(map[string]bool{"build": true})

	if r := d.Detect(command.NewStep("rm -rf build"), "/work"); r != nil {
		t.Errorf("destructive verb produced report %+v", r)
	}
}

func assertHasSkip(t *testing.T, opts []Option) {
	t.Helper()
	last := opts[len(opts)-1]
	if last.Command != "" || !strings.Contains(last.Label, "Skip") {
		t.Errorf("last option = %+v, want skip", last)
	}
}
