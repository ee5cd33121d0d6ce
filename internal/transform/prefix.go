package transform

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/css"

	"github.com/spachava753/assetpipe/internal/pipeline"
)

// Targets is the reduced view of a browserslist query the prefixer acts on.
// Modern engines still need -webkit-/-moz- prefixes for a handful of
// properties; Legacy adds the IE10/11 -ms- flexbox syntax.
type Targets struct {
	Legacy bool
}

var lastVersionsRe = regexp.MustCompile(`^last\s+(\d+)\s+versions?$`)

// ParseTargets interprets browserslist queries. "last N versions" counts
// dead browsers (IE among them) unless "not dead" or "not ie ..." appears,
// matching browserslist semantics; "defaults", usage queries and single
// browser queries select modern engines only; "ie N" selects legacy.
func ParseTargets(queries []string) (Targets, error) {
	var t Targets
	excludeLegacy := false
	for _, raw := range queries {
		for _, q := range strings.Split(raw, ",") {
			q = strings.ToLower(strings.TrimSpace(q))
			switch {
			case q == "":
			case q == "not dead", strings.HasPrefix(q, "not ie"):
				excludeLegacy = true
			case lastVersionsRe.MatchString(q):
				n, _ := strconv.Atoi(lastVersionsRe.FindStringSubmatch(q)[1])
				if n > 0 {
					t.Legacy = true
				}
			case strings.HasPrefix(q, "ie ") || strings.HasPrefix(q, "ie>") || strings.HasPrefix(q, "ie <") || strings.HasPrefix(q, "ie >"):
				t.Legacy = true
			case q == "defaults", strings.HasPrefix(q, ">"), strings.HasPrefix(q, "last "), strings.HasPrefix(q, "not "),
				strings.HasPrefix(q, "since "), strings.HasPrefix(q, "cover "), strings.HasPrefix(q, "supports "):
			default:
				if !browserQueryRe.MatchString(q) {
					return t, fmt.Errorf("unsupported browserslist query %q", q)
				}
			}
		}
	}
	if excludeLegacy {
		t.Legacy = false
	}
	return t, nil
}

var browserQueryRe = regexp.MustCompile(`^[a-z0-9_.%<>= -]+$`)

type prefixRule struct {
	prefixes []string
	legacy   []string
	// values maps the lowercased value to legacy replacement declarations.
	values map[string][]decl
}

type decl struct {
	prop  string
	value string
}

var msFlexValues = map[string]string{
	"flex-start":    "start",
	"flex-end":      "end",
	"center":        "center",
	"space-between": "justify",
	"space-around":  "distribute",
	"baseline":      "baseline",
	"stretch":       "stretch",
}

var prefixRules = map[string]prefixRule{
	"user-select":          {prefixes: []string{"-webkit-"}, legacy: []string{"-ms-"}},
	"appearance":           {prefixes: []string{"-webkit-", "-moz-"}},
	"backdrop-filter":      {prefixes: []string{"-webkit-"}},
	"text-size-adjust":     {prefixes: []string{"-webkit-", "-moz-"}, legacy: []string{"-ms-"}},
	"hyphens":              {prefixes: []string{"-webkit-"}, legacy: []string{"-ms-"}},
	"box-decoration-break": {prefixes: []string{"-webkit-"}},
	"mask":                 {prefixes: []string{"-webkit-"}},
	"mask-image":           {prefixes: []string{"-webkit-"}},
	"mask-size":            {prefixes: []string{"-webkit-"}},
	"mask-position":        {prefixes: []string{"-webkit-"}},
	"mask-repeat":          {prefixes: []string{"-webkit-"}},
	"text-emphasis":        {prefixes: []string{"-webkit-"}},
	"print-color-adjust":   {prefixes: []string{"-webkit-"}},
	"flex":                 {legacy: []string{"-ms-"}},
	"flex-direction":       {legacy: []string{"-ms-"}},
	"flex-wrap":            {legacy: []string{"-ms-"}},
	"display": {values: map[string][]decl{
		"flex":        {{prop: "display", value: "-ms-flexbox"}},
		"inline-flex": {{prop: "display", value: "-ms-inline-flexbox"}},
	}},
}

// legacyValueProps renames a flexbox alignment property to its -ms- form
// with the value mapped through msFlexValues.
var legacyValueProps = map[string]string{
	"justify-content": "-ms-flex-pack",
	"align-items":     "-ms-flex-align",
	"align-content":   "-ms-flex-line-pack",
	"align-self":      "-ms-flex-item-align",
	"order":           "-ms-flex-order",
}

// Prefixer adds vendor-prefixed copies of declarations ahead of the
// standard one. Declarations are emitted without visual alignment.
type Prefixer struct {
	Targets Targets
}

// NewPrefixer parses browser queries into a Prefixer.
func NewPrefixer(browsers []string) (*Prefixer, error) {
	t, err := ParseTargets(browsers)
	if err != nil {
		return nil, err
	}
	return &Prefixer{Targets: t}, nil
}

// Stage returns the prefixer as a pipeline stage.
func (p *Prefixer) Stage() pipeline.Stage {
	return pipeline.ContentStage("autoprefix", func(ctx context.Context, in []byte) ([]byte, error) {
		return p.Prefix(in)
	})
}

type token struct {
	tt   css.TokenType
	data []byte
}

func lex(src []byte) ([]token, error) {
	l := css.NewLexer(parse.NewInputBytes(src))
	var toks []token
	for {
		tt, data := l.Next()
		if tt == css.ErrorToken {
			if err := l.Err(); err != nil && err != io.EOF {
				return nil, err
			}
			return toks, nil
		}
		toks = append(toks, token{tt: tt, data: append([]byte(nil), data...)})
	}
}

// Prefix rewrites compiled CSS. Input that needs no prefixes is returned
// byte for byte.
func (p *Prefixer) Prefix(src []byte) ([]byte, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, fmt.Errorf("lexing css: %w", err)
	}

	var out bytes.Buffer
	out.Grow(len(src))

	depth := 0
	declStart := false
	var seen []map[string]bool

	for i := 0; i < len(toks); i++ {
		t := toks[i]
		switch t.tt {
		case css.LeftBraceToken:
			depth++
			declStart = true
			seen = append(seen, map[string]bool{})
			out.Write(t.data)
			continue
		case css.RightBraceToken:
			if depth > 0 {
				depth--
				seen = seen[:len(seen)-1]
			}
			declStart = depth > 0
			out.Write(t.data)
			continue
		case css.SemicolonToken:
			declStart = depth > 0
			out.Write(t.data)
			continue
		case css.WhitespaceToken, css.CommentToken:
			out.Write(t.data)
			continue
		}

		if !declStart || t.tt != css.IdentToken {
			declStart = false
			out.Write(t.data)
			continue
		}
		declStart = false

		end, isDecl := declarationEnd(toks, i)
		if !isDecl {
			// A nested selector such as a:hover; emit untouched.
			for _, tok := range toks[i:end] {
				out.Write(tok.data)
			}
			i = end - 1
			continue
		}

		prop := strings.ToLower(string(t.data))
		sep, value := declValue(toks[i+1 : end])
		indent := []byte{}
		if i > 0 && toks[i-1].tt == css.WhitespaceToken {
			indent = toks[i-1].data
		}

		var block map[string]bool
		if len(seen) > 0 {
			block = seen[len(seen)-1]
		}
		for _, d := range p.expand(prop, value) {
			if block != nil && block[d.prop+":"+d.value] {
				continue
			}
			out.WriteString(d.prop)
			out.WriteString(sep)
			out.WriteString(d.value)
			out.WriteString(";")
			out.Write(indent)
		}
		if block != nil {
			block[prop+":"+strings.TrimSpace(value)] = true
		}

		for _, tok := range toks[i:end] {
			out.Write(tok.data)
		}
		i = end - 1
	}

	return out.Bytes(), nil
}

// declarationEnd finds the index of the token terminating the construct
// that starts at i. It is a declaration if an ident is followed by a colon
// and the construct ends in ';' or '}' rather than '{'.
func declarationEnd(toks []token, i int) (int, bool) {
	j := i + 1
	for j < len(toks) && (toks[j].tt == css.WhitespaceToken || toks[j].tt == css.CommentToken) {
		j++
	}
	colon := j < len(toks) && toks[j].tt == css.ColonToken

	level := 0
	for k := i + 1; k < len(toks); k++ {
		switch toks[k].tt {
		case css.LeftParenthesisToken, css.FunctionToken, css.LeftBracketToken:
			level++
		case css.RightParenthesisToken, css.RightBracketToken:
			if level > 0 {
				level--
			}
		case css.SemicolonToken, css.RightBraceToken:
			if level == 0 {
				return k, colon
			}
		case css.LeftBraceToken:
			if level == 0 {
				return k, false
			}
		}
	}
	return len(toks), colon
}

// declValue splits the tokens after a property name into the separator
// (the colon and any whitespace after it) and the trimmed value.
func declValue(toks []token) (string, string) {
	sep := ":"
	var b strings.Builder
	afterColon := false
	for k, t := range toks {
		if !afterColon {
			if t.tt == css.ColonToken {
				afterColon = true
				if k+1 < len(toks) && toks[k+1].tt == css.WhitespaceToken {
					sep = ": "
				}
			}
			continue
		}
		b.Write(t.data)
	}
	return sep, strings.TrimSpace(b.String())
}

func (p *Prefixer) expand(prop, value string) []decl {
	if strings.HasPrefix(prop, "-") {
		return nil
	}

	important := ""
	bare := value
	if idx := strings.Index(strings.ToLower(value), "!important"); idx >= 0 {
		important = " " + strings.TrimSpace(value[idx:])
		bare = strings.TrimSpace(value[:idx])
	}

	var out []decl
	if prop == "background-clip" && strings.EqualFold(bare, "text") {
		out = append(out, decl{prop: "-webkit-background-clip", value: value})
	}

	rule, ok := prefixRules[prop]
	if ok {
		for _, pre := range rule.prefixes {
			out = append(out, decl{prop: pre + prop, value: value})
		}
		if p.Targets.Legacy {
			for _, pre := range rule.legacy {
				out = append(out, decl{prop: pre + prop, value: value})
			}
			for _, d := range rule.values[strings.ToLower(bare)] {
				out = append(out, decl{prop: d.prop, value: d.value + important})
			}
		}
	}

	if p.Targets.Legacy {
		if msProp, ok := legacyValueProps[prop]; ok {
			v := strings.ToLower(bare)
			if prop == "order" {
				out = append(out, decl{prop: msProp, value: value})
			} else if mapped, ok := msFlexValues[v]; ok {
				out = append(out, decl{prop: msProp, value: mapped + important})
			}
		}
	}
	return out
}
