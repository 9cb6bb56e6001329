package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ning0612/treesync/internal/domain"
	"github.com/Ning0612/treesync/internal/progress"
	"github.com/Ning0612/treesync/internal/testutil"
)

// recorder collects finished operations in completion order
type recorder struct {
	mu       sync.Mutex
	done     []domain.Operation
	results  map[string]domain.Result
	warnings []domain.Warning
	planned  int
	finished *domain.Outcome
}

func newRecorder() (*recorder, progress.Reporter) {
	r := &recorder{results: make(map[string]domain.Result)}
	return r, progress.NewCallbackReporter(func(u progress.Update) {
		r.mu.Lock()
		defer r.mu.Unlock()
		switch u.Type {
		case progress.UpdatePlanReady:
			r.planned = u.Total
		case progress.UpdateDone:
			r.done = append(r.done, u.Operation)
			r.results[string(u.Operation.Kind)+" "+u.Operation.Path] = u.Result
		case progress.UpdateWarning:
			r.warnings = append(r.warnings, u.Warning)
		case progress.UpdateRunDone:
			r.finished = u.Outcome
		}
	})
}

func (r *recorder) result(kind domain.OpKind, path string) (domain.Result, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.results[string(kind)+" "+path]
	return res, ok
}

func testOptions() domain.Options {
	opts := domain.DefaultOptions()
	opts.Concurrency = 4
	return opts
}

func runSync(t *testing.T, src, dst string, opts domain.Options) (*domain.Outcome, *recorder) {
	t.Helper()
	rec, reporter := newRecorder()
	outcome, err := Synchronize(context.Background(), src, dst, opts, reporter, nil)
	require.NoError(t, err)
	require.NotNil(t, outcome)
	return outcome, rec
}

func TestSynchronize_UpdateCreateDelete(t *testing.T) {
	src, dst := testutil.TempDir(t), testutil.TempDir(t)
	testutil.WriteTree(t, src, map[string]string{
		"a/file1":     "0123456789",
		"a/sub/file2": "two",
	})
	testutil.WriteTree(t, dst, map[string]string{
		"a/file1":   "abcdefghij",
		"a/old.txt": "old",
	})
	// same size, clearly newer source
	testutil.SetModTime(t, filepath.Join(dst, "a/file1"), time.Now().Add(-time.Hour))

	outcome, rec := runSync(t, src, dst, testOptions())

	assert.False(t, outcome.HasFailures())
	assert.Equal(t, 4, outcome.Totals.Succeeded)
	assert.Equal(t, 4, rec.planned)

	for _, op := range []struct {
		kind domain.OpKind
		path string
	}{
		{domain.OpUpdateFile, "a/file1"},
		{domain.OpCreateDirectory, "a/sub"},
		{domain.OpCopyFile, "a/sub/file2"},
		{domain.OpDeleteFile, "a/old.txt"},
	} {
		res, ok := rec.result(op.kind, op.path)
		require.True(t, ok, "missing %s %s", op.kind, op.path)
		assert.Equal(t, domain.StatusSucceeded, res.Status)
	}

	// the directory is created before the copy into it completes
	var mkdirAt, copyAt int
	for i, op := range rec.done {
		switch op.Path {
		case "a/sub":
			mkdirAt = i
		case "a/sub/file2":
			copyAt = i
		}
	}
	assert.Less(t, mkdirAt, copyAt)

	assert.Equal(t, testutil.ReadTree(t, src), testutil.ReadTree(t, dst))
}

func TestSynchronize_EmptySourceDeletesEverything(t *testing.T) {
	src, dst := testutil.TempDir(t), testutil.TempDir(t)
	testutil.WriteTree(t, dst, map[string]string{
		"x/y/z.txt": "z",
		"x/w.txt":   "w",
		"top.txt":   "t",
		"empty/":    "",
	})

	outcome, rec := runSync(t, src, dst, testOptions())

	assert.Equal(t, 6, outcome.Totals.Succeeded)
	assert.Empty(t, testutil.ReadTree(t, dst))

	// children finish before their directories
	index := make(map[string]int)
	for i, op := range rec.done {
		index[op.Path] = i
	}
	assert.Less(t, index["x/y/z.txt"], index["x/y"])
	assert.Less(t, index["x/y"], index["x"])
	assert.Less(t, index["x/w.txt"], index["x"])
}

func TestSynchronize_Idempotent(t *testing.T) {
	src, dst := testutil.TempDir(t), testutil.TempDir(t)
	testutil.WriteTree(t, src, map[string]string{
		"docs/readme.md": "# readme",
		"docs/img/a.png": "png",
		"bin/tool":       "#!/bin/sh",
		"link":           "-> docs/readme.md",
		"empty/":         "",
	})
	require.NoError(t, os.Chmod(filepath.Join(src, "bin/tool"), 0o755))
	testutil.WriteTree(t, dst, map[string]string{"stale.txt": "stale"})

	first, _ := runSync(t, src, dst, testOptions())
	require.False(t, first.HasFailures(), "%v", first.Failures)
	assert.Positive(t, first.Changed())

	second, rec := runSync(t, src, dst, testOptions())
	assert.Zero(t, second.Changed())
	assert.Zero(t, second.PlanSize)
	assert.Empty(t, rec.done)

	assert.Equal(t, testutil.ReadTree(t, src), testutil.ReadTree(t, dst))

	info, err := os.Stat(filepath.Join(dst, "bin/tool"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
}

func TestSynchronize_NoDeleteKeepsExtraneous(t *testing.T) {
	src, dst := testutil.TempDir(t), testutil.TempDir(t)
	testutil.WriteTree(t, src, map[string]string{"keep.txt": "new"})
	testutil.WriteTree(t, dst, map[string]string{
		"extra.txt":     "extra",
		"extra/dir.txt": "nested",
	})

	opts := testOptions()
	opts.DeleteExtraneous = false
	outcome, rec := runSync(t, src, dst, opts)

	assert.False(t, outcome.HasFailures())
	res, ok := rec.result(domain.OpDeleteFile, "extra.txt")
	require.True(t, ok)
	assert.Equal(t, domain.StatusSkipped, res.Status)
	assert.Equal(t, domain.SkipDeletionSuppressed, res.Reason)

	tree := testutil.ReadTree(t, dst)
	assert.Equal(t, "extra", tree["extra.txt"])
	assert.Equal(t, "nested", tree["extra/dir.txt"])
	assert.Equal(t, "new", tree["keep.txt"])
}

func TestSynchronize_ChecksumDetectsSameSizeSameTime(t *testing.T) {
	src, dst := testutil.TempDir(t), testutil.TempDir(t)
	testutil.WriteTree(t, src, map[string]string{"f.bin": "AAAA"})
	testutil.WriteTree(t, dst, map[string]string{"f.bin": "BBBB"})
	mtime := time.Now().Add(-time.Hour).Truncate(time.Second)
	testutil.SetModTime(t, filepath.Join(src, "f.bin"), mtime)
	testutil.SetModTime(t, filepath.Join(dst, "f.bin"), mtime)

	// metadata says equal
	outcome, _ := runSync(t, src, dst, testOptions())
	assert.Zero(t, outcome.PlanSize)
	assert.Equal(t, "BBBB", testutil.ReadTree(t, dst)["f.bin"])

	opts := testOptions()
	opts.StrictChecksum = true
	outcome, rec := runSync(t, src, dst, opts)
	assert.Equal(t, 1, outcome.Totals.Succeeded)
	_, ok := rec.result(domain.OpUpdateFile, "f.bin")
	assert.True(t, ok)
	assert.Equal(t, "AAAA", testutil.ReadTree(t, dst)["f.bin"])
}

func TestSynchronize_Exclude(t *testing.T) {
	src, dst := testutil.TempDir(t), testutil.TempDir(t)
	testutil.WriteTree(t, src, map[string]string{
		"a.txt":         "a",
		"scratch.tmp":   "tmp",
		"cache/big.bin": "big",
	})
	testutil.WriteTree(t, dst, map[string]string{
		"local.tmp":   "mine",
		"cache/x.bin": "x",
	})

	opts := testOptions()
	opts.Exclude = []string{"*.tmp", "cache/"}
	outcome, _ := runSync(t, src, dst, opts)

	assert.Equal(t, 1, outcome.PlanSize)
	assert.Equal(t, map[string]string{
		"a.txt":       "a",
		"local.tmp":   "mine",
		"cache/":      "",
		"cache/x.bin": "x",
	}, testutil.ReadTree(t, dst))
}

func TestSynchronize_ExtraneousDirectoryHoldingExcludedEntries(t *testing.T) {
	src, dst := testutil.TempDir(t), testutil.TempDir(t)
	testutil.WriteTree(t, src, map[string]string{"a.txt": "a"})
	testutil.WriteTree(t, dst, map[string]string{
		"build/a.o":       "obj",
		"build/readme":    "stale",
		"build/sub/b.o":   "obj",
		"build/sub/notes": "stale",
		"gone/c.txt":      "stale",
	})

	opts := testOptions()
	opts.Exclude = []string{"*.o"}

	for run := 1; run <= 2; run++ {
		outcome, rec := runSync(t, src, dst, opts)
		require.False(t, outcome.HasFailures(), "run %d: %v", run, outcome.Failures)

		for _, dir := range []string{"build", "build/sub"} {
			res, ok := rec.result(domain.OpDeleteDirectory, dir)
			require.True(t, ok, "run %d: %s", run, dir)
			assert.Equal(t, domain.StatusSkipped, res.Status)
			assert.Equal(t, domain.SkipContainsExcluded, res.Reason)
		}
	}

	assert.Equal(t, map[string]string{
		"a.txt":         "a",
		"build/":        "",
		"build/a.o":     "obj",
		"build/sub/":    "",
		"build/sub/b.o": "obj",
	}, testutil.ReadTree(t, dst))
}

func TestSynchronize_TypeChange(t *testing.T) {
	src, dst := testutil.TempDir(t), testutil.TempDir(t)
	testutil.WriteTree(t, src, map[string]string{
		"thing":    "now a file",
		"other/in": "inside",
	})
	testutil.WriteTree(t, dst, map[string]string{
		"thing/child": "was a dir",
		"other":       "was a file",
	})

	outcome, _ := runSync(t, src, dst, testOptions())
	require.False(t, outcome.HasFailures(), "%v", outcome.Failures)
	assert.Equal(t, testutil.ReadTree(t, src), testutil.ReadTree(t, dst))
}

func TestSynchronize_SymlinksRecreated(t *testing.T) {
	src, dst := testutil.TempDir(t), testutil.TempDir(t)
	testutil.WriteTree(t, src, map[string]string{
		"target.txt": "data",
		"link":       "-> target.txt",
		"dangling":   "-> nowhere",
	})
	testutil.WriteTree(t, dst, map[string]string{"link": "-> elsewhere"})

	outcome, rec := runSync(t, src, dst, testOptions())
	require.False(t, outcome.HasFailures(), "%v", outcome.Failures)

	_, ok := rec.result(domain.OpUpdateSymlink, "link")
	assert.True(t, ok)

	tree := testutil.ReadTree(t, dst)
	assert.Equal(t, "-> target.txt", tree["link"])
	assert.Equal(t, "-> nowhere", tree["dangling"])
}

func TestSynchronize_CopyLinks(t *testing.T) {
	src, dst := testutil.TempDir(t), testutil.TempDir(t)
	testutil.WriteTree(t, src, map[string]string{
		"target.txt": "data",
		"link":       "-> target.txt",
	})

	opts := testOptions()
	opts.CopyLinks = true
	outcome, _ := runSync(t, src, dst, opts)
	require.False(t, outcome.HasFailures())

	info, err := os.Lstat(filepath.Join(dst, "link"))
	require.NoError(t, err)
	assert.True(t, info.Mode().IsRegular())
	assert.Equal(t, "data", testutil.ReadTree(t, dst)["link"])
}

func TestSynchronize_DryRun(t *testing.T) {
	src, dst := testutil.TempDir(t), testutil.TempDir(t)
	testutil.WriteTree(t, src, map[string]string{"new/file.txt": "new"})
	testutil.WriteTree(t, dst, map[string]string{"old.txt": "old"})
	before := testutil.ReadTree(t, dst)

	opts := testOptions()
	opts.DryRun = true
	outcome, rec := runSync(t, src, dst, opts)

	assert.True(t, outcome.DryRun)
	assert.Equal(t, 3, outcome.PlanSize)
	assert.Equal(t, 3, outcome.Totals.Skipped)
	assert.Zero(t, outcome.Changed())
	res, ok := rec.result(domain.OpCopyFile, "new/file.txt")
	require.True(t, ok)
	assert.Equal(t, domain.SkipDryRun, res.Reason)

	assert.Equal(t, before, testutil.ReadTree(t, dst))
}

func TestSynchronize_DryRunMissingTarget(t *testing.T) {
	src := testutil.TempDir(t)
	testutil.WriteTree(t, src, map[string]string{"a/b.txt": "b"})
	dst := filepath.Join(testutil.TempDir(t), "not-yet")

	opts := testOptions()
	opts.DryRun = true
	opts.CreateTarget = true
	outcome, _ := runSync(t, src, dst, opts)

	assert.Equal(t, 2, outcome.PlanSize)
	assert.Equal(t, 2, outcome.Totals.Skipped)
	assert.NoDirExists(t, dst)
}

func TestSynchronize_CreateTarget(t *testing.T) {
	src := testutil.TempDir(t)
	testutil.WriteTree(t, src, map[string]string{"a/b.txt": "b"})
	dst := filepath.Join(testutil.TempDir(t), "new", "target")

	opts := testOptions()
	opts.CreateTarget = true
	outcome, _ := runSync(t, src, dst, opts)

	assert.Equal(t, 2, outcome.Totals.Succeeded)
	assert.Equal(t, testutil.ReadTree(t, src), testutil.ReadTree(t, dst))
}

func TestSynchronize_RootNotFound(t *testing.T) {
	existing := testutil.TempDir(t)
	missing := filepath.Join(testutil.TempDir(t), "missing")
	file := testutil.CreateTestFile(t, testutil.TempDir(t), "file", []byte("x"))

	tests := []struct {
		name     string
		src, dst string
	}{
		{"missing source", missing, existing},
		{"missing target", existing, missing},
		{"missing source inside target", filepath.Join(existing, "nope"), existing},
		{"source is a file", file, existing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, reporter := newRecorder()
			outcome, err := Synchronize(context.Background(), tt.src, tt.dst, testOptions(), reporter, nil)
			assert.ErrorIs(t, err, domain.ErrRootNotFound)
			assert.Nil(t, outcome)
			assert.Zero(t, rec.planned)
		})
	}
	assert.NoDirExists(t, missing)
}

func TestSynchronize_OverlappingRoots(t *testing.T) {
	root := testutil.TempDir(t)
	testutil.WriteTree(t, root, map[string]string{"inner/": ""})

	tests := []struct {
		name     string
		src, dst string
	}{
		{"same", root, root},
		{"target inside source", root, filepath.Join(root, "inner")},
		{"source inside target", filepath.Join(root, "inner"), root},
		{"not yet created inside source", root, filepath.Join(root, "inner", "new")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Synchronize(context.Background(), tt.src, tt.dst, testOptions(), nil, nil)
			assert.ErrorIs(t, err, domain.ErrSameRoot)
		})
	}

	// siblings with a shared prefix do not overlap
	a, b := filepath.Join(root, "data"), filepath.Join(root, "data2")
	require.NoError(t, os.Mkdir(a, 0o755))
	require.NoError(t, os.Mkdir(b, 0o755))
	_, err := Synchronize(context.Background(), a, b, testOptions(), nil, nil)
	assert.NoError(t, err)
}

func TestSynchronize_InvalidOptions(t *testing.T) {
	opts := testOptions()
	opts.Concurrency = 0

	_, err := Synchronize(context.Background(), testutil.TempDir(t), testutil.TempDir(t), opts, nil, nil)
	assert.ErrorIs(t, err, domain.ErrOptionsInvalid)
}

func TestSynchronize_CancelledBeforeStart(t *testing.T) {
	src, dst := testutil.TempDir(t), testutil.TempDir(t)
	testutil.WriteTree(t, src, map[string]string{"a.txt": "a"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome, err := Synchronize(ctx, src, dst, testOptions(), nil, nil)
	assert.ErrorIs(t, err, domain.ErrCancelled)
	assert.Nil(t, outcome)
	assert.Empty(t, testutil.ReadTree(t, dst))
}

func TestSynchronize_CancelledDuringExecution(t *testing.T) {
	src, dst := testutil.TempDir(t), testutil.TempDir(t)
	tree := make(map[string]string)
	for i := 0; i < 50; i++ {
		tree[filepath.ToSlash(filepath.Join("d", string(rune('a'+i%26))+string(rune('a'+i/26))+".txt"))] = "x"
	}
	testutil.WriteTree(t, src, tree)

	ctx, cancel := context.WithCancel(context.Background())
	var once sync.Once
	reporter := progress.NewCallbackReporter(func(u progress.Update) {
		if u.Type == progress.UpdateDone {
			once.Do(cancel)
		}
	})

	opts := testOptions()
	opts.Concurrency = 1
	outcome, err := Synchronize(ctx, src, dst, opts, reporter, nil)
	require.NoError(t, err)

	assert.True(t, outcome.Cancelled)
	assert.Equal(t, outcome.PlanSize, outcome.Totals.Total())
	assert.Positive(t, outcome.Totals.Skipped)
	assert.Positive(t, outcome.Totals.Succeeded)
}

func TestSynchronize_UnreadableSourceDirectory(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permissions are not enforced for root")
	}

	src, dst := testutil.TempDir(t), testutil.TempDir(t)
	testutil.WriteTree(t, src, map[string]string{
		"ok.txt":        "ok",
		"locked/in.txt": "in",
	})
	testutil.WriteTree(t, dst, map[string]string{"locked/in.txt": "target copy"})
	require.NoError(t, os.Chmod(filepath.Join(src, "locked"), 0o000))
	t.Cleanup(func() { os.Chmod(filepath.Join(src, "locked"), 0o755) })

	outcome, rec := runSync(t, src, dst, testOptions())

	require.NotEmpty(t, outcome.Warnings)
	assert.Equal(t, "source", outcome.Warnings[0].Side)
	assert.True(t, errors.Is(outcome.Warnings[0].Err, domain.ErrAccessDenied))
	assert.NotEmpty(t, rec.warnings)

	// entries under the unreadable directory are never deleted
	res, ok := rec.result(domain.OpDeleteFile, "locked/in.txt")
	require.True(t, ok)
	assert.Equal(t, domain.SkipSourceUnreadable, res.Reason)

	// the directory mode itself is mirrored
	require.NoError(t, os.Chmod(filepath.Join(dst, "locked"), 0o755))
	tree := testutil.ReadTree(t, dst)
	assert.Equal(t, "target copy", tree["locked/in.txt"])
	assert.Equal(t, "ok", tree["ok.txt"])
}

func TestSynchronize_ReporterSeesRunDone(t *testing.T) {
	src, dst := testutil.TempDir(t), testutil.TempDir(t)
	testutil.WriteTree(t, src, map[string]string{"a.txt": "a"})

	outcome, rec := runSync(t, src, dst, testOptions())
	assert.Same(t, outcome, rec.finished)
	assert.NotEmpty(t, outcome.RunID)
	assert.Equal(t, int64(1), outcome.BytesTransferred)
	assert.Positive(t, outcome.Elapsed)
}
