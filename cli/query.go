package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/compozy/pagerag/engine/rag"
)

// QueryCmd ranks a stored document's chunks against a question.
func QueryCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "query <document-id> <question>",
		Short: "Retrieve the chunks most relevant to a question",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateFormat(format); err != nil {
				return err
			}
			ctx := cmd.Context()
			rt, err := newRuntime(ctx, true)
			if err != nil {
				return err
			}
			defer rt.close(ctx)
			idx, err := rt.prepare(ctx, args[0])
			if err != nil {
				return err
			}
			svc, err := rt.retriever()
			if err != nil {
				return err
			}
			results, err := svc.Retrieve(ctx, idx, args[1], rag.DefaultsFromConfig(rt.cfg).TopK)
			if err != nil {
				return err
			}
			return writeResults(cmd.OutOrStdout(), format, results)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", OutputFormatText, "Output format (text, json)")
	return cmd
}

// ContextCmd prints the page-annotated context block for a question.
func ContextCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "context <document-id> <question>",
		Short: "Build the page-annotated context for a question",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx, true)
			if err != nil {
				return err
			}
			defer rt.close(ctx)
			idx, err := rt.prepare(ctx, args[0])
			if err != nil {
				return err
			}
			svc, err := rt.retriever()
			if err != nil {
				return err
			}
			out, err := svc.BuildContext(ctx, idx, args[1], rag.DefaultsFromConfig(rt.cfg).TopK)
			if err != nil {
				return err
			}
			_, err = io.WriteString(cmd.OutOrStdout(), out+"\n")
			return err
		},
	}
}

// SourceCmd attributes a claim to the page it most likely came from.
func SourceCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "source <document-id> <claim>",
		Short: "Find the page a claim most likely came from",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateFormat(format); err != nil {
				return err
			}
			ctx := cmd.Context()
			rt, err := newRuntime(ctx, true)
			if err != nil {
				return err
			}
			defer rt.close(ctx)
			idx, err := rt.prepare(ctx, args[0])
			if err != nil {
				return err
			}
			svc, err := rt.retriever()
			if err != nil {
				return err
			}
			src, err := svc.FindSource(ctx, idx, args[1])
			if err != nil {
				return fmt.Errorf("source %q: %w", args[0], err)
			}
			return writeSource(cmd.OutOrStdout(), format, src)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", OutputFormatText, "Output format (text, json)")
	return cmd
}
