package highlight

import (
	"fmt"
	"html"
	"io"
	"strconv"
	"strings"

	"github.com/alecthomas/chroma/v2"
	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"

	"github.com/thiagokokada/gitk-web/internal/git"
)

const DefaultStyle = "github"

// Highlighter renders blob and diff content as HTML fragments. A disabled
// Highlighter escapes the text without tokenising it.
type Highlighter struct {
	enabled   bool
	style     *chroma.Style
	formatter *chromahtml.Formatter
}

func New(styleName string, enabled bool) *Highlighter {
	if styleName == "" {
		styleName = DefaultStyle
	}
	return &Highlighter{
		enabled: enabled,
		style:   styles.Get(styleName),
		formatter: chromahtml.New(
			chromahtml.WithClasses(true),
			chromahtml.TabWidth(4),
		),
	}
}

func (h *Highlighter) Enabled() bool {
	return h.enabled
}

// WriteCSS writes the stylesheet matching the class names used in the
// generated HTML.
func (h *Highlighter) WriteCSS(w io.Writer) error {
	return h.formatter.WriteCSS(w, h.style)
}

// File renders the whole content of the file at path.
func (h *Highlighter) File(w io.Writer, path, content string) error {
	if !h.enabled {
		_, err := fmt.Fprintf(w, "<pre class=\"chroma\">%s</pre>", html.EscapeString(content))
		return err
	}
	lexer := lexerForPath(path)
	iterator, err := lexer.Tokenise(nil, content)
	if err != nil {
		return fmt.Errorf("tokenise %s: %w", path, err)
	}
	return h.formatter.Format(w, h.style, iterator)
}

// Diff renders folded diff files as tables of lines. Code lines are
// highlighted with the lexer of their file.
func (h *Highlighter) Diff(w io.Writer, files []git.DiffFileItem) error {
	var b strings.Builder
	for _, file := range files {
		var lexer chroma.Lexer
		if h.enabled {
			lexer = lexerForPath(file.Header.Path)
		}
		fmt.Fprintf(&b, "<div class=\"diff-file diff-%s\">\n", strings.ToLower(file.Kind.String()))
		fmt.Fprintf(&b, "<div class=\"diff-file-header\">%s</div>\n", html.EscapeString(file.Header.Content))
		for _, hunk := range file.Hunks {
			fmt.Fprintf(&b, "<table class=\"diff-hunk\">\n<tr class=\"diff-hunk-header\"><td colspan=\"4\">%s</td></tr>\n",
				html.EscapeString(hunk.Header.Content))
			for _, line := range hunk.Lines {
				code, err := h.code(lexer, line)
				if err != nil {
					return err
				}
				fmt.Fprintf(&b, "<tr class=\"diff-%s\"><td class=\"ln\">%s</td><td class=\"ln\">%s</td><td class=\"origin\">%s</td><td class=\"code chroma\">%s</td></tr>\n",
					strings.ReplaceAll(line.Op.String(), "_", "-"),
					lineNumber(line.OldLine), lineNumber(line.NewLine),
					html.EscapeString(string(line.Op.Origin())), code)
			}
			b.WriteString("</table>\n")
		}
		b.WriteString("</div>\n")
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func (h *Highlighter) code(lexer chroma.Lexer, line git.DiffLine) (string, error) {
	switch line.Op {
	case git.OpContext, git.OpAddition, git.OpDeletion:
	default:
		return html.EscapeString(line.Content), nil
	}
	if lexer == nil {
		return html.EscapeString(line.Content), nil
	}
	iterator, err := lexer.Tokenise(nil, line.Content)
	if err != nil {
		return "", fmt.Errorf("tokenise %s: %w", line.Path, err)
	}
	var b strings.Builder
	for _, token := range iterator.Tokens() {
		value := strings.TrimSuffix(token.Value, "\n")
		if value == "" {
			continue
		}
		if class := tokenClass(token.Type); class != "" {
			fmt.Fprintf(&b, "<span class=\"%s\">%s</span>", class, html.EscapeString(value))
		} else {
			b.WriteString(html.EscapeString(value))
		}
	}
	return b.String(), nil
}

// tokenClass returns the CSS class chroma's formatter uses for t, walking
// up to the nearest parent category that has one.
func tokenClass(t chroma.TokenType) string {
	for ; t != 0; t = t.Parent() {
		if class, ok := chroma.StandardTypes[t]; ok && class != "" {
			return class
		}
	}
	return ""
}

func lineNumber(n int) string {
	if n == 0 {
		return ""
	}
	return strconv.Itoa(n)
}

func lexerForPath(path string) chroma.Lexer {
	lexer := lexers.Match(path)
	if lexer == nil {
		lexer = lexers.Fallback
	}
	return chroma.Coalesce(lexer)
}
