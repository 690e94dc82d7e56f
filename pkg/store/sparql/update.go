package sparql

import (
	"context"
	"fmt"
	"strings"

	"github.com/graphloom/backend/pkg/common"
	"github.com/graphloom/backend/pkg/store"
)

// InsertTriples writes a batch of triples into the scope's named graph with a
// single INSERT DATA update. Inserting an already-present triple is a no-op in
// RDF semantics, which keeps re-commits idempotent.
func (c *Client) InsertTriples(ctx context.Context, scope common.Scope, triples []store.Triple) error {
	if len(triples) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString("INSERT DATA {\n  GRAPH <")
	b.WriteString(GraphIRI(scope))
	b.WriteString("> {\n")
	for _, t := range triples {
		b.WriteString("    ")
		b.WriteString(formatTerm(t.Subject, false, ""))
		b.WriteByte(' ')
		b.WriteString(formatTerm(t.Predicate, false, ""))
		b.WriteByte(' ')
		b.WriteString(formatTerm(t.Object, t.Literal, t.Datatype))
		b.WriteString(" .\n")
	}
	b.WriteString("  }\n}")

	return c.update(ctx, b.String())
}

// ClearGraph drops the scope's entire named graph. SILENT so clearing an
// absent graph is not an error.
func (c *Client) ClearGraph(ctx context.Context, scope common.Scope) error {
	return c.update(ctx, fmt.Sprintf("CLEAR SILENT GRAPH <%s>", GraphIRI(scope)))
}

func formatTerm(value string, literal bool, datatype string) string {
	if !literal {
		return "<" + value + ">"
	}
	escaped := escapeLiteral(value)
	if datatype != "" {
		return "\"" + escaped + "\"^^<" + datatype + ">"
	}
	return "\"" + escaped + "\""
}

func escapeLiteral(s string) string {
	r := strings.NewReplacer(
		"\\", "\\\\",
		"\"", "\\\"",
		"\n", "\\n",
		"\r", "\\r",
		"\t", "\\t",
	)
	return r.Replace(s)
}
