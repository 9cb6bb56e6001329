package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"

	"github.com/Ning0612/treesync/internal/domain"
	"github.com/Ning0612/treesync/internal/testutil"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

// isolate keeps user config files and the real cache out of the test
func isolate(t *testing.T) (lockDir, historyDir string) {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("XDG_CACHE_HOME", filepath.Join(home, ".cache"))
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return filepath.Join(home, "locks"), filepath.Join(home, "history")
}

type result struct {
	code   int
	stdout string
	stderr string
}

func execute(ctx context.Context, args ...string) result {
	var stdout, stderr bytes.Buffer
	code := Execute(ctx, "1.2.3", args, &stdout, &stderr)
	return result{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

func syncArgs(lockDir string, args ...string) []string {
	return append(args, "--lock-dir", lockDir)
}

func TestRootCommand_Help(t *testing.T) {
	res := execute(context.Background(), "--help")
	if res.code != ExitOK {
		t.Fatalf("exit code = %d, want %d", res.code, ExitOK)
	}
	if !strings.Contains(res.stdout, "treesync") {
		t.Errorf("expected help to mention treesync, got %q", res.stdout)
	}
	if !strings.Contains(res.stdout, "--no-delete") {
		t.Errorf("expected help to list --no-delete, got %q", res.stdout)
	}
}

func TestRootCommand_Version(t *testing.T) {
	res := execute(context.Background(), "--version")
	if res.code != ExitOK {
		t.Fatalf("exit code = %d, want %d", res.code, ExitOK)
	}
	if strings.TrimSpace(res.stdout) != "1.2.3" {
		t.Errorf("version output = %q, want 1.2.3", res.stdout)
	}
}

func TestRootCommand_WrongArgCount(t *testing.T) {
	for _, args := range [][]string{nil, {"only-source"}, {"a", "b", "c"}} {
		res := execute(context.Background(), args...)
		if res.code != ExitFatal {
			t.Errorf("args %v: exit code = %d, want %d", args, res.code, ExitFatal)
		}
		if !strings.Contains(res.stderr, "--help") {
			t.Errorf("args %v: expected usage hint, got %q", args, res.stderr)
		}
	}
}

func TestRootCommand_UnknownFlag(t *testing.T) {
	res := execute(context.Background(), "--bogus", "a", "b")
	if res.code != ExitFatal {
		t.Errorf("exit code = %d, want %d", res.code, ExitFatal)
	}
}

func TestRootCommand_Sync(t *testing.T) {
	lockDir, _ := isolate(t)
	src, dst := testutil.TempDir(t), testutil.TempDir(t)
	testutil.WriteTree(t, src, map[string]string{"a/b.txt": "b", "c.txt": "c"})
	testutil.WriteTree(t, dst, map[string]string{"stale.txt": "x"})

	res := execute(context.Background(), syncArgs(lockDir, "-v", src, dst)...)
	if res.code != ExitOK {
		t.Fatalf("exit code = %d, want %d; stderr: %s", res.code, ExitOK, res.stderr)
	}

	got, want := testutil.ReadTree(t, dst), testutil.ReadTree(t, src)
	if len(got) != len(want) {
		t.Errorf("target tree = %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("target %q = %q, want %q", k, got[k], v)
		}
	}

	if !strings.HasPrefix(res.stdout, "Synchronizing…") {
		t.Errorf("expected terse start line, got %q", res.stdout)
	}
	if !strings.Contains(res.stdout, "Synchronized: 4 changed") {
		t.Errorf("expected summary, got %q", res.stdout)
	}
}

func TestRootCommand_QuietPrintsNothing(t *testing.T) {
	lockDir, _ := isolate(t)
	src, dst := testutil.TempDir(t), testutil.TempDir(t)
	testutil.WriteTree(t, src, map[string]string{"a.txt": "a"})

	res := execute(context.Background(), syncArgs(lockDir, src, dst)...)
	if res.code != ExitOK {
		t.Fatalf("exit code = %d, want %d; stderr: %s", res.code, ExitOK, res.stderr)
	}
	if res.stdout != "" {
		t.Errorf("expected no output, got %q", res.stdout)
	}
}

func TestRootCommand_VerboseListsOperations(t *testing.T) {
	lockDir, _ := isolate(t)
	src, dst := testutil.TempDir(t), testutil.TempDir(t)
	testutil.WriteTree(t, src, map[string]string{"dir/": "", "a.txt": "a"})
	testutil.WriteTree(t, dst, map[string]string{"old.txt": "x"})

	res := execute(context.Background(), syncArgs(lockDir, "-vv", "--no-delete", src, dst)...)
	if res.code != ExitOK {
		t.Fatalf("exit code = %d, want %d; stderr: %s", res.code, ExitOK, res.stderr)
	}

	for _, want := range []string{
		"Sync from '" + src + "' to '" + dst + "'",
		"3 operations planned",
		"copy",
		"mkdir",
		"skip delete",
		domain.SkipDeletionSuppressed,
	} {
		if !strings.Contains(res.stdout, want) {
			t.Errorf("expected output to contain %q, got %q", want, res.stdout)
		}
	}
	if _, err := os.Stat(filepath.Join(dst, "old.txt")); err != nil {
		t.Errorf("--no-delete removed old.txt: %v", err)
	}
}

func TestRootCommand_DryRun(t *testing.T) {
	lockDir, _ := isolate(t)
	src, dst := testutil.TempDir(t), testutil.TempDir(t)
	testutil.WriteTree(t, src, map[string]string{"a.txt": "a"})

	res := execute(context.Background(), syncArgs(lockDir, "-v", "--dry-run", src, dst)...)
	if res.code != ExitOK {
		t.Fatalf("exit code = %d, want %d; stderr: %s", res.code, ExitOK, res.stderr)
	}
	if !strings.Contains(res.stdout, "Dry run: 1 operations planned") {
		t.Errorf("expected dry run summary, got %q", res.stdout)
	}
	if len(testutil.ReadTree(t, dst)) != 0 {
		t.Error("dry run modified the target")
	}
}

func TestRootCommand_MissingSource(t *testing.T) {
	lockDir, _ := isolate(t)
	dst := testutil.TempDir(t)

	res := execute(context.Background(), syncArgs(lockDir, filepath.Join(dst, "nope"), dst)...)
	if res.code != ExitFatal {
		t.Errorf("exit code = %d, want %d", res.code, ExitFatal)
	}
	if !strings.Contains(res.stderr, domain.ErrRootNotFound.Error()) {
		t.Errorf("expected root not found error, got %q", res.stderr)
	}
}

func TestRootCommand_InvalidConcurrency(t *testing.T) {
	lockDir, _ := isolate(t)
	src, dst := testutil.TempDir(t), testutil.TempDir(t)

	res := execute(context.Background(), syncArgs(lockDir, "-j", "0", src, dst)...)
	if res.code != ExitFatal {
		t.Errorf("exit code = %d, want %d", res.code, ExitFatal)
	}
}

func TestRootCommand_FailedOperation(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root reads unreadable files")
	}
	lockDir, _ := isolate(t)
	src, dst := testutil.TempDir(t), testutil.TempDir(t)
	testutil.WriteTree(t, src, map[string]string{"ok.txt": "ok", "secret.txt": "s"})
	if err := os.Chmod(filepath.Join(src, "secret.txt"), 0o000); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chmod(filepath.Join(src, "secret.txt"), 0o644) })

	res := execute(context.Background(), syncArgs(lockDir, src, dst)...)
	if res.code != ExitFailures {
		t.Fatalf("exit code = %d, want %d; stderr: %s", res.code, ExitFailures, res.stderr)
	}
	if !strings.Contains(res.stderr, "✗ copy secret.txt") {
		t.Errorf("expected failure line, got %q", res.stderr)
	}
	if _, err := os.Stat(filepath.Join(dst, "ok.txt")); err != nil {
		t.Errorf("independent copy did not happen: %v", err)
	}
}

func TestRootCommand_Cancelled(t *testing.T) {
	lockDir, _ := isolate(t)
	src, dst := testutil.TempDir(t), testutil.TempDir(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := execute(ctx, syncArgs(lockDir, src, dst)...)
	if res.code != ExitCancelled {
		t.Errorf("exit code = %d, want %d", res.code, ExitCancelled)
	}
}

func TestHistoryCommand(t *testing.T) {
	lockDir, historyDir := isolate(t)
	src, dst := testutil.TempDir(t), testutil.TempDir(t)
	testutil.WriteTree(t, src, map[string]string{"a.txt": "a"})

	res := execute(context.Background(), "history", "--history-dir", historyDir)
	if res.code != ExitOK {
		t.Fatalf("exit code = %d, want %d; stderr: %s", res.code, ExitOK, res.stderr)
	}
	if !strings.Contains(res.stdout, "No runs recorded.") {
		t.Errorf("expected empty history, got %q", res.stdout)
	}

	res = execute(context.Background(),
		syncArgs(lockDir, "--history", "--history-dir", historyDir, src, dst)...)
	if res.code != ExitOK {
		t.Fatalf("sync exit code = %d; stderr: %s", res.code, res.stderr)
	}

	res = execute(context.Background(), "history", "--history-dir", historyDir, "--lock-dir", lockDir, dst)
	if res.code != ExitOK {
		t.Fatalf("exit code = %d, want %d; stderr: %s", res.code, ExitOK, res.stderr)
	}
	for _, want := range []string{"STARTED", dst, "success"} {
		if !strings.Contains(res.stdout, want) {
			t.Errorf("expected history to contain %q, got %q", want, res.stdout)
		}
	}
	if strings.Contains(res.stdout, "locked by") {
		t.Errorf("lock should be released, got %q", res.stdout)
	}
}

func TestExitError(t *testing.T) {
	failed := domain.NewOutcome("id", "/src", "/dst")
	failed.Record(domain.Operation{Kind: domain.OpCopyFile, Path: "a"},
		domain.Result{Status: domain.StatusFailed, Err: errors.New("boom")})

	cancelled := domain.NewOutcome("id", "/src", "/dst")
	cancelled.Cancelled = true

	tests := []struct {
		name    string
		outcome *domain.Outcome
		err     error
		want    int
	}{
		{"success", domain.NewOutcome("id", "/src", "/dst"), nil, ExitOK},
		{"failures", failed, nil, ExitFailures},
		{"cancelled outcome", cancelled, nil, ExitCancelled},
		{"cancelled error", nil, domain.ErrCancelled, ExitCancelled},
		{"fatal", nil, domain.ErrRootNotFound, ExitFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := exitError(tt.outcome, tt.err)
			code := ExitOK
			var exitErr *ExitError
			if errors.As(err, &exitErr) {
				code = exitErr.Code
			} else if err != nil {
				t.Fatalf("unexpected error type %T", err)
			}
			if code != tt.want {
				t.Errorf("exit code = %d, want %d", code, tt.want)
			}
		})
	}
}
