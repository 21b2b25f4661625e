package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/thiagokokada/gitk-web/internal/git"
)

func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("encode response", slog.Any("error", err))
	}
}

func htmlResponse(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

// writeError renders err as plain text with a status derived from its kind.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
	}
	http.Error(w, "Something went wrong: "+err.Error(), status)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, git.ErrRevisionNotFound),
		errors.Is(err, git.ErrCommitNotFound),
		errors.Is(err, git.ErrPathNotFound),
		errors.Is(err, git.ErrRemoteNotFound):
		return http.StatusNotFound
	case errors.Is(err, git.ErrDirtyWorktree):
		return http.StatusConflict
	case errors.Is(err, git.ErrNoParentCommit),
		errors.Is(err, git.ErrNotABlob),
		errors.Is(err, git.ErrNotATree),
		errors.Is(err, git.ErrInvalidUTF8):
		return http.StatusUnprocessableEntity
	case errors.Is(err, git.ErrRemoteUnreachable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// queryBool reads a boolean query parameter, returning def when it is
// absent and true when it is present but unparsable.
func queryBool(r *http.Request, key string, def bool) bool {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return true
	}
	return v
}
