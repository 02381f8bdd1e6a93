package engine

import (
	"context"
	"path"
	"strings"

	"github.com/rendis/agentgraph/pkg/schema"
)

// promptFileExts are the extensions a bare prompt reference may carry to be
// treated as a file path rather than inline text.
var promptFileExts = map[string]bool{
	".md": true, ".txt": true, ".prompt": true, ".tmpl": true,
}

// promptText resolves a prompt reference: the document's prompt table first,
// then the file loader for path-like references, then the reference itself as
// literal text.
func (rt *runtime) promptText(ctx context.Context, ref string) (string, error) {
	if ref == "" {
		return "", nil
	}

	if p := rt.doc.Prompt(ref); p != nil {
		if p.Text != "" {
			return p.Text, nil
		}
		text, err := rt.engine.opts.PromptLoader(ctx, p.File)
		if err != nil {
			return "", schema.NewErrorf(schema.ErrCodeNotFound,
				"prompt %q: load %q: %s", ref, p.File, err.Error()).WithCause(err)
		}
		return text, nil
	}

	if strings.ContainsAny(ref, `/\`) || promptFileExts[path.Ext(ref)] {
		text, err := rt.engine.opts.PromptLoader(ctx, ref)
		if err != nil {
			return "", schema.NewErrorf(schema.ErrCodeNotFound,
				"load prompt file %q: %s", ref, err.Error()).WithCause(err)
		}
		return text, nil
	}

	return ref, nil
}

// nodePrompt resolves and interpolates a node's prompt against the run scope.
func (fr *flowRun) nodePrompt(ctx context.Context, node *schema.FlowNode) (string, error) {
	text, err := fr.rt.promptText(ctx, node.Prompt)
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", nil
	}
	return fr.rt.engine.interp.ResolveString(text, fr.buildScope(node.ID))
}
