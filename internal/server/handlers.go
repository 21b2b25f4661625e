package server

import (
	"errors"
	"html"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gomarkdown/markdown"

	"github.com/thiagokokada/gitk-web/internal/git"
)

type logResponse struct {
	CurrentBranch string       `json:"current_branch"`
	Branches      []string     `json:"branches"`
	Remotes       []string     `json:"remotes"`
	Tags          []string     `json:"tags"`
	Commits       []git.Commit `json:"commits"`
	Page          int          `json:"page"`
	Filter        string       `json:"filter"`
	HasMore       bool         `json:"has_more"`
}

type branchesResponse struct {
	CurrentBranch string   `json:"current_branch"`
	Branches      []string `json:"branches"`
}

type remoteBranchesResponse struct {
	Remote   string   `json:"remote"`
	Open     bool     `json:"open"`
	Branches []string `json:"branches"`
}

type treeResponse struct {
	Commit string           `json:"commit"`
	Path   string           `json:"path"`
	Files  []git.CommitFile `json:"files"`
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	branch, err := s.repo.CurrentBranch()
	switch {
	case errors.Is(err, git.ErrDetachedHead):
		http.Redirect(w, r, "/log/HEAD", http.StatusFound)
	case err != nil:
		writeError(w, r, err)
	default:
		http.Redirect(w, r, "/log/refs/heads/"+branch, http.StatusFound)
	}
}

func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "*")
	if ref == "" {
		ref = "HEAD"
	}
	filter := r.URL.Query().Get("filter")
	page := git.ParsePage(r.URL.Query().Get("page"))

	start := time.Now()
	commits, hasMore, err := s.repo.CommitPage(ref, filter, page)
	s.metrics.observe("log", start, err)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if commits == nil {
		commits = []git.Commit{}
	}
	resp := logResponse{
		Commits: commits,
		Page:    page,
		Filter:  filter,
		HasMore: hasMore,
	}
	if resp.CurrentBranch, err = s.repo.CurrentBranch(); err != nil && !errors.Is(err, git.ErrDetachedHead) {
		writeError(w, r, err)
		return
	}
	if resp.Branches, err = s.repo.LocalBranches(); err != nil {
		writeError(w, r, err)
		return
	}
	if resp.Remotes, err = s.repo.Remotes(); err != nil {
		writeError(w, r, err)
		return
	}
	if resp.Tags, err = s.repo.Tags(); err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, resp)
}

func (s *Server) handleRemoteBranches(w http.ResponseWriter, r *http.Request) {
	remote := chi.URLParam(r, "remote")
	resp := remoteBranchesResponse{
		Remote:   remote,
		Open:     queryBool(r, "open", false),
		Branches: []string{},
	}
	if resp.Open {
		start := time.Now()
		branches, err := s.repo.RemoteBranches(r.Context(), remote)
		s.metrics.observe("remote_branches", start, err)
		if err != nil {
			writeError(w, r, err)
			return
		}
		resp.Branches = branches
	}
	jsonResponse(w, http.StatusOK, resp)
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	branch := chi.URLParam(r, "*")
	start := time.Now()
	err := s.repo.Checkout(branch)
	s.metrics.observe("checkout", start, err)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var resp branchesResponse
	if resp.CurrentBranch, err = s.repo.CurrentBranch(); err != nil {
		writeError(w, r, err)
		return
	}
	if resp.Branches, err = s.repo.LocalBranches(); err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, resp)
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	commit, err := s.repo.Commit(chi.URLParam(r, "sha"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, commit)
}

func (s *Server) handleDiff(w http.ResponseWriter, r *http.Request) {
	sha := chi.URLParam(r, "sha")
	ignoreWhitespace := queryBool(r, "ignore_whitespace", false)

	start := time.Now()
	files, err := s.repo.CommitDiff(sha, ignoreWhitespace)
	s.metrics.observe("diff", start, err)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if r.URL.Query().Get("format") != "html" {
		if files == nil {
			files = []git.DiffFileItem{}
		}
		jsonResponse(w, http.StatusOK, files)
		return
	}
	var b strings.Builder
	if err := s.highlighter.Diff(&b, files); err != nil {
		writeError(w, r, err)
		return
	}
	htmlResponse(w, b.String())
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	sha := chi.URLParam(r, "sha")
	path := strings.Trim(chi.URLParam(r, "*"), "/")

	start := time.Now()
	kind, err := s.repo.PathKind(sha, path)
	if err != nil {
		s.metrics.observe("tree", start, err)
		writeError(w, r, err)
		return
	}
	if kind == git.PathDir {
		files, err := s.repo.FileList(sha, path)
		s.metrics.observe("tree", start, err)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if files == nil {
			files = []git.CommitFile{}
		}
		jsonResponse(w, http.StatusOK, treeResponse{Commit: sha, Path: path, Files: files})
		return
	}

	content, err := s.repo.FileContent(sha, path)
	s.metrics.observe("blob", start, err)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !queryBool(r, "highlight", false) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(content))
		return
	}
	var b strings.Builder
	if err := s.highlighter.File(&b, path, content); err != nil {
		writeError(w, r, err)
		return
	}
	htmlResponse(w, b.String())
}

func (s *Server) handleReadme(w http.ResponseWriter, r *http.Request) {
	sha := chi.URLParam(r, "sha")
	name, content, ok, err := s.repo.Readme(sha)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !ok {
		writeError(w, r, git.ErrPathNotFound)
		return
	}
	htmlResponse(w, string(s.renderReadme(name, content)))
}

// renderReadme turns markdown READMEs into sanitized HTML. Other names are
// shown preformatted.
func (s *Server) renderReadme(name, content string) []byte {
	lower := strings.ToLower(name)
	if strings.HasSuffix(lower, ".md") || strings.HasSuffix(lower, ".markdown") {
		return s.sanitizer.SanitizeBytes(markdown.ToHTML([]byte(content), nil, nil))
	}
	return s.sanitizer.SanitizeBytes([]byte("<pre>" + html.EscapeString(content) + "</pre>"))
}

func (s *Server) handleHighlightCSS(w http.ResponseWriter, r *http.Request) {
	var b strings.Builder
	if err := s.highlighter.WriteCSS(&b); err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/css; charset=utf-8")
	_, _ = w.Write([]byte(b.String()))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]string{
		"status":     "ok",
		"repository": s.repo.RepoPath(),
	})
}
