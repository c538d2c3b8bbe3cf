package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/xlab/treeprint"

	"github.com/alarmpipe/alarmpipe/internal/expression"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <expression>",
		Short: "Compile an alarm expression and print its structure",
		Long: `Compile an alarm expression and print the boolean tree with each
threshold term as a leaf. Parse errors are reported with a marker under
the offending position.

Example:
  alarmpipe check "max(cpu{host=a}, 120) > 90 and avg(load) > 4 or count(errors) > 0"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			expr := strings.Join(args, " ")
			compiled, err := expression.Compile(expr)
			if err != nil {
				printParseError(cmd.ErrOrStderr(), err)
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), compiled.String())
			fmt.Fprint(cmd.OutOrStdout(), renderTree(compiled))
			return nil
		},
	}
}

// renderTree draws the expression tree, leaves shown in canonical form.
func renderTree(c *expression.Compiled) string {
	root := c.Tree.Nodes[c.Tree.Root]
	if root.Op == expression.OpLeaf {
		return treeprint.NewWithRoot(c.SubExpressions[root.Leaf].String()).String()
	}

	tree := treeprint.NewWithRoot(root.Op.String())
	var walk func(branch treeprint.Tree, idx int)
	walk = func(branch treeprint.Tree, idx int) {
		n := c.Tree.Nodes[idx]
		if n.Op == expression.OpLeaf {
			sub := c.SubExpressions[n.Leaf]
			branch.AddMetaNode(fmt.Sprintf("#%d", n.Leaf), sub.String())
			return
		}
		child := branch.AddBranch(n.Op.String())
		walk(child, n.Left)
		walk(child, n.Right)
	}
	walk(tree, root.Left)
	walk(tree, root.Right)
	return tree.String()
}

func printParseError(w io.Writer, err error) {
	var perr *expression.ParseError
	if !errors.As(err, &perr) {
		return
	}
	fmt.Fprintln(w, perr.Expr)
	fmt.Fprintf(w, "%s^ %s\n", strings.Repeat(" ", min(perr.Pos, len(perr.Expr))), perr.Msg)
}
