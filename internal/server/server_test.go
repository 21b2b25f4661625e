package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"

	"github.com/thiagokokada/gitk-web/internal/git"
	"github.com/thiagokokada/gitk-web/internal/highlight"
)

const sha = "0123456789abcdef0123456789abcdef01234567"

type fakeRepo struct {
	currentBranch  func() (string, error)
	commitPage     func(ref, filter string, page int) ([]git.Commit, bool, error)
	remoteBranches func(ctx context.Context, remote string) ([]string, error)
	checkout       func(branch string) error
	commitDiff     func(sha string, ignoreWhitespace bool) ([]git.DiffFileItem, error)
	pathKind       func(sha, path string) (git.PathKind, error)
	fileContent    func(sha, path string) (string, error)
	fileList       func(sha, sub string) ([]git.CommitFile, error)
	readme         func(sha string) (string, string, bool, error)
}

func (f *fakeRepo) RepoPath() string { return "/srv/repo" }

func (f *fakeRepo) CurrentBranch() (string, error) {
	if f.currentBranch != nil {
		return f.currentBranch()
	}
	return "main", nil
}

func (f *fakeRepo) LocalBranches() ([]string, error) { return []string{"feature", "main"}, nil }
func (f *fakeRepo) Tags() ([]string, error)          { return []string{"v1.0.0"}, nil }
func (f *fakeRepo) Remotes() ([]string, error)       { return []string{"origin"}, nil }

func (f *fakeRepo) RemoteBranches(ctx context.Context, remote string) ([]string, error) {
	if f.remoteBranches != nil {
		return f.remoteBranches(ctx, remote)
	}
	return nil, git.ErrRemoteNotFound
}

func (f *fakeRepo) Checkout(branch string) error {
	if f.checkout != nil {
		return f.checkout(branch)
	}
	return nil
}

func (f *fakeRepo) Commit(sha string) (git.Commit, error) {
	if sha == "missing" {
		return git.Commit{}, fmt.Errorf("%w: %s", git.ErrCommitNotFound, sha)
	}
	return git.Commit{ID: sha, Summary: "fix bug"}, nil
}

func (f *fakeRepo) ListCommits(string, string) (git.CommitSeq, error) {
	return nil, errors.New("not used")
}

func (f *fakeRepo) CommitPage(ref, filter string, page int) ([]git.Commit, bool, error) {
	if f.commitPage != nil {
		return f.commitPage(ref, filter, page)
	}
	return nil, false, nil
}

func (f *fakeRepo) CommitDiff(sha string, ignoreWhitespace bool) ([]git.DiffFileItem, error) {
	if f.commitDiff != nil {
		return f.commitDiff(sha, ignoreWhitespace)
	}
	return nil, nil
}

func (f *fakeRepo) PathKind(sha, path string) (git.PathKind, error) {
	if f.pathKind != nil {
		return f.pathKind(sha, path)
	}
	return git.PathDir, nil
}

func (f *fakeRepo) FileContent(sha, path string) (string, error) {
	if f.fileContent != nil {
		return f.fileContent(sha, path)
	}
	return "", git.ErrPathNotFound
}

func (f *fakeRepo) FileList(sha, sub string) ([]git.CommitFile, error) {
	if f.fileList != nil {
		return f.fileList(sha, sub)
	}
	return nil, nil
}

func (f *fakeRepo) Readme(sha string) (string, string, bool, error) {
	if f.readme != nil {
		return f.readme(sha)
	}
	return "", "", false, nil
}

func do(t *testing.T, s *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestIndexRedirectsToCurrentBranch(t *testing.T) {
	t.Parallel()

	rec := do(t, New(&fakeRepo{}, nil), http.MethodGet, "/")
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	if got := rec.Header().Get("Location"); got != "/log/refs/heads/main" {
		t.Fatalf("Location = %q, want /log/refs/heads/main", got)
	}

	detached := &fakeRepo{currentBranch: func() (string, error) { return "", git.ErrDetachedHead }}
	rec = do(t, New(detached, nil), http.MethodGet, "/")
	if got := rec.Header().Get("Location"); rec.Code != http.StatusFound || got != "/log/HEAD" {
		t.Fatalf("detached redirect = %d %q, want 302 /log/HEAD", rec.Code, got)
	}
}

func TestLog(t *testing.T) {
	t.Parallel()

	var gotRef, gotFilter string
	var gotPage int
	repo := &fakeRepo{
		commitPage: func(ref, filter string, page int) ([]git.Commit, bool, error) {
			gotRef, gotFilter, gotPage = ref, filter, page
			return []git.Commit{{ID: sha, Summary: "fix bug"}}, true, nil
		},
	}
	rec := do(t, New(repo, nil), http.MethodGet, "/log/refs/heads/main?filter=fix&page=2")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %q", rec.Code, rec.Body.String())
	}
	if gotRef != "refs/heads/main" || gotFilter != "fix" || gotPage != 2 {
		t.Fatalf("CommitPage(%q, %q, %d), want (refs/heads/main, fix, 2)", gotRef, gotFilter, gotPage)
	}
	resp := decode[logResponse](t, rec)
	if resp.CurrentBranch != "main" || !resp.HasMore || resp.Page != 2 || resp.Filter != "fix" {
		t.Fatalf("response = %+v", resp)
	}
	if !slices.Equal(resp.Branches, []string{"feature", "main"}) || !slices.Equal(resp.Remotes, []string{"origin"}) || !slices.Equal(resp.Tags, []string{"v1.0.0"}) {
		t.Fatalf("response refs = %+v", resp)
	}
	if len(resp.Commits) != 1 || resp.Commits[0].ID != sha {
		t.Fatalf("commits = %+v", resp.Commits)
	}
}

func TestLogInvalidPageAndDetachedHead(t *testing.T) {
	t.Parallel()

	gotPage := -1
	repo := &fakeRepo{
		currentBranch: func() (string, error) { return "", git.ErrDetachedHead },
		commitPage: func(_, _ string, page int) ([]git.Commit, bool, error) {
			gotPage = page
			return nil, false, nil
		},
	}
	rec := do(t, New(repo, nil), http.MethodGet, "/log/HEAD?page=nope")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %q", rec.Code, rec.Body.String())
	}
	if gotPage != 0 {
		t.Fatalf("page = %d, want 0", gotPage)
	}
	if !strings.Contains(rec.Body.String(), `"commits":[]`) {
		t.Fatalf("body %q does not contain an empty commits list", rec.Body.String())
	}
	if resp := decode[logResponse](t, rec); resp.CurrentBranch != "" {
		t.Fatalf("CurrentBranch = %q, want empty when detached", resp.CurrentBranch)
	}
}

func TestErrorStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want int
	}{
		{git.ErrRevisionNotFound, http.StatusNotFound},
		{git.ErrCommitNotFound, http.StatusNotFound},
		{git.ErrPathNotFound, http.StatusNotFound},
		{git.ErrRemoteNotFound, http.StatusNotFound},
		{git.ErrDirtyWorktree, http.StatusConflict},
		{git.ErrNoParentCommit, http.StatusUnprocessableEntity},
		{git.ErrNotABlob, http.StatusUnprocessableEntity},
		{git.ErrNotATree, http.StatusUnprocessableEntity},
		{git.ErrInvalidUTF8, http.StatusUnprocessableEntity},
		{git.ErrRemoteUnreachable, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		wrapped := fmt.Errorf("op: %w", tt.err)
		if got := statusFor(wrapped); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", wrapped, got, tt.want)
		}
	}
}

func TestLogUnknownRef(t *testing.T) {
	t.Parallel()

	repo := &fakeRepo{
		commitPage: func(ref, _ string, _ int) ([]git.Commit, bool, error) {
			return nil, false, fmt.Errorf("%w: %s", git.ErrRevisionNotFound, ref)
		},
	}
	rec := do(t, New(repo, nil), http.MethodGet, "/log/nope")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if got := rec.Body.String(); !strings.HasPrefix(got, "Something went wrong: revision not found") {
		t.Fatalf("body = %q", got)
	}
}

func TestRemoteBranches(t *testing.T) {
	t.Parallel()

	calls := 0
	repo := &fakeRepo{
		remoteBranches: func(_ context.Context, remote string) ([]string, error) {
			calls++
			if remote == "offline" {
				return nil, git.ErrRemoteUnreachable
			}
			return []string{"main", "next"}, nil
		},
	}
	s := New(repo, nil)

	rec := do(t, s, http.MethodGet, "/remote/origin/branches")
	resp := decode[remoteBranchesResponse](t, rec)
	if calls != 0 || resp.Open || len(resp.Branches) != 0 {
		t.Fatalf("closed listing = %+v calls=%d, want no remote call", resp, calls)
	}

	rec = do(t, s, http.MethodGet, "/remote/origin/branches?open=true")
	resp = decode[remoteBranchesResponse](t, rec)
	if calls != 1 || !resp.Open || !slices.Equal(resp.Branches, []string{"main", "next"}) {
		t.Fatalf("open listing = %+v calls=%d", resp, calls)
	}

	rec = do(t, s, http.MethodGet, "/remote/offline/branches?open=1")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("unreachable status = %d, want 502", rec.Code)
	}
}

func TestCheckout(t *testing.T) {
	t.Parallel()

	current := "main"
	repo := &fakeRepo{
		currentBranch: func() (string, error) { return current, nil },
		checkout: func(branch string) error {
			if branch == "dirty" {
				return git.ErrDirtyWorktree
			}
			current = branch
			return nil
		},
	}
	s := New(repo, nil)

	rec := do(t, s, http.MethodPatch, "/checkout/feature")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %q", rec.Code, rec.Body.String())
	}
	if resp := decode[branchesResponse](t, rec); resp.CurrentBranch != "feature" {
		t.Fatalf("CurrentBranch = %q, want feature", resp.CurrentBranch)
	}

	if rec := do(t, s, http.MethodPatch, "/checkout/dirty"); rec.Code != http.StatusConflict {
		t.Fatalf("dirty status = %d, want 409", rec.Code)
	}
	if rec := do(t, s, http.MethodGet, "/checkout/feature"); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET checkout status = %d, want 405", rec.Code)
	}
}

func sampleDiff() []git.DiffFileItem {
	return []git.DiffFileItem{{
		Header: git.DiffLine{Content: "[Modified] main.go", Op: git.OpFileHeader, Path: "main.go"},
		Kind:   git.DeltaModified,
		Hunks: []git.DiffHunkItem{{
			Header: git.DiffLine{Content: "@@ -1 +1 @@", Op: git.OpHunkHeader},
			Lines: []git.DiffLine{
				{Content: "package old", Op: git.OpDeletion, OldLine: 1},
				{Content: "package main", Op: git.OpAddition, NewLine: 1},
			},
		}},
	}}
}

func TestDiff(t *testing.T) {
	t.Parallel()

	var gotIgnore bool
	repo := &fakeRepo{
		commitDiff: func(s string, ignore bool) ([]git.DiffFileItem, error) {
			if s == "root" {
				return nil, git.ErrNoParentCommit
			}
			gotIgnore = ignore
			return sampleDiff(), nil
		},
	}
	s := New(repo, highlight.New(highlight.DefaultStyle, true))

	rec := do(t, s, http.MethodGet, "/commit/"+sha+"/diff?ignore_whitespace=1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %q", rec.Code, rec.Body.String())
	}
	if !gotIgnore {
		t.Fatal("ignore_whitespace=1 not passed through")
	}
	var files []struct {
		Header struct {
			Content string `json:"content"`
			Op      string `json:"op"`
		} `json:"header"`
		Kind  string `json:"kind"`
		Hunks []struct {
			Lines []struct {
				Op string `json:"op"`
			} `json:"lines"`
		} `json:"hunks"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &files); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(files) != 1 || files[0].Kind != "Modified" || files[0].Header.Op != "file_header" {
		t.Fatalf("files = %+v", files)
	}
	if ops := files[0].Hunks[0].Lines; ops[0].Op != "deletion" || ops[1].Op != "addition" {
		t.Fatalf("line ops = %+v", ops)
	}

	rec = do(t, s, http.MethodGet, "/commit/"+sha+"/diff?format=html")
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("Content-Type = %q, want text/html", ct)
	}
	if !strings.Contains(rec.Body.String(), `<div class="diff-file diff-modified">`) {
		t.Fatalf("html body = %q", rec.Body.String())
	}

	rec = do(t, s, http.MethodGet, "/commit/root/diff")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("root diff status = %d, want 422", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != "Something went wrong: commit has no parent" {
		t.Fatalf("root diff body = %q", got)
	}
}

func TestEmptyDiffIsEmptyArray(t *testing.T) {
	t.Parallel()

	rec := do(t, New(&fakeRepo{}, nil), http.MethodGet, "/commit/"+sha+"/diff")
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Fatalf("body = %q, want []", got)
	}
}

func TestCommit(t *testing.T) {
	t.Parallel()

	s := New(&fakeRepo{}, nil)
	rec := do(t, s, http.MethodGet, "/commit/"+sha)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if c := decode[git.Commit](t, rec); c.ID != sha || c.Summary != "fix bug" {
		t.Fatalf("commit = %+v", c)
	}
	if rec := do(t, s, http.MethodGet, "/commit/missing"); rec.Code != http.StatusNotFound {
		t.Fatalf("missing status = %d, want 404", rec.Code)
	}
}

func TestFile(t *testing.T) {
	t.Parallel()

	var listed string
	repo := &fakeRepo{
		pathKind: func(_, path string) (git.PathKind, error) {
			switch path {
			case "", "docs":
				return git.PathDir, nil
			case "main.go":
				return git.PathFile, nil
			default:
				return 0, git.ErrPathNotFound
			}
		},
		fileList: func(_, sub string) ([]git.CommitFile, error) {
			listed = sub
			return []git.CommitFile{{Name: "README.md", Path: "docs/README.md", SizeHuman: "12 B"}}, nil
		},
		fileContent: func(_, path string) (string, error) {
			return "package main\n\nfunc main() {}\n", nil
		},
	}
	s := New(repo, highlight.New(highlight.DefaultStyle, true))

	rec := do(t, s, http.MethodGet, "/commit/"+sha+"/file/docs/")
	if rec.Code != http.StatusOK || listed != "docs" {
		t.Fatalf("dir listing status=%d listed=%q", rec.Code, listed)
	}
	tree := decode[treeResponse](t, rec)
	if tree.Path != "docs" || len(tree.Files) != 1 || tree.Files[0].Name != "README.md" {
		t.Fatalf("tree = %+v", tree)
	}

	rec = do(t, s, http.MethodGet, "/commit/"+sha+"/file")
	if rec.Code != http.StatusOK || listed != "" {
		t.Fatalf("root listing status=%d listed=%q", rec.Code, listed)
	}

	rec = do(t, s, http.MethodGet, "/commit/"+sha+"/file/main.go")
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("Content-Type = %q, want text/plain", ct)
	}
	if rec.Body.String() != "package main\n\nfunc main() {}\n" {
		t.Fatalf("body = %q", rec.Body.String())
	}

	rec = do(t, s, http.MethodGet, "/commit/"+sha+"/file/main.go?highlight=1")
	if !strings.Contains(rec.Body.String(), `<span class="kd">func</span>`) {
		t.Fatalf("highlighted body = %q", rec.Body.String())
	}

	if rec := do(t, s, http.MethodGet, "/commit/"+sha+"/file/nope"); rec.Code != http.StatusNotFound {
		t.Fatalf("missing status = %d, want 404", rec.Code)
	}
}

func TestReadme(t *testing.T) {
	t.Parallel()

	repo := &fakeRepo{
		readme: func(sha string) (string, string, bool, error) {
			if sha == "bare" {
				return "", "", false, nil
			}
			return "README.md", "# Title\n\n<script>alert(1)</script>\n\nhello *world*\n", true, nil
		},
	}
	s := New(repo, nil)

	rec := do(t, s, http.MethodGet, "/commit/"+sha+"/readme")
	body := rec.Body.String()
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(body, "Title</h1>") || !strings.Contains(body, "<em>world</em>") {
		t.Fatalf("body = %q, want rendered markdown", body)
	}
	if strings.Contains(body, "<script>") {
		t.Fatalf("body = %q, want script stripped", body)
	}

	if rec := do(t, s, http.MethodGet, "/commit/bare/readme"); rec.Code != http.StatusNotFound {
		t.Fatalf("no readme status = %d, want 404", rec.Code)
	}
}

func TestRenderReadmePlainText(t *testing.T) {
	t.Parallel()

	s := New(&fakeRepo{}, nil)
	got := string(s.renderReadme("README", "a < b"))
	if got != "<pre>a &lt; b</pre>" {
		t.Fatalf("renderReadme() = %q", got)
	}
}

func TestHealthAndCSS(t *testing.T) {
	t.Parallel()

	s := New(&fakeRepo{}, highlight.New(highlight.DefaultStyle, true))
	rec := do(t, s, http.MethodGet, "/healthz")
	if got := decode[map[string]string](t, rec); got["status"] != "ok" || got["repository"] != "/srv/repo" {
		t.Fatalf("healthz = %v", got)
	}
	rec = do(t, s, http.MethodGet, "/assets/highlight.css")
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/css") || !strings.Contains(rec.Body.String(), ".chroma") {
		t.Fatalf("css = %q %q", ct, rec.Body.String())
	}
}
