package transform

import (
	"bytes"
	"context"
	"fmt"

	"github.com/tdewolff/parse/v2/css"

	"github.com/spachava753/assetpipe/internal/pipeline"
)

// StripComments removes every /* */ comment from CSS. A space is kept where
// dropping the comment would otherwise join two tokens.
func StripComments(src []byte) ([]byte, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, fmt.Errorf("lexing css: %w", err)
	}

	var out bytes.Buffer
	out.Grow(len(src))
	for i, t := range toks {
		if t.tt != css.CommentToken {
			out.Write(t.data)
			continue
		}
		if i == 0 || i == len(toks)-1 {
			continue
		}
		prev, next := toks[i-1].tt, toks[i+1].tt
		if prev != css.WhitespaceToken && next != css.WhitespaceToken && next != css.CommentToken {
			out.WriteByte(' ')
		}
	}
	return out.Bytes(), nil
}

// StripCommentsStage wraps StripComments.
func StripCommentsStage() pipeline.Stage {
	return pipeline.ContentStage("strip-comments", func(ctx context.Context, in []byte) ([]byte, error) {
		return StripComments(in)
	})
}
