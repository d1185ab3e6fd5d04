package cli

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/compozy/pagerag/engine/rag/uc"
)

// IngestCmd chunks a document's pages, embeds them and stores the records.
func IngestCmd() *cobra.Command {
	var (
		documentID    string
		skipEmbedding bool
		format        string
	)
	cmd := &cobra.Command{
		Use:   "ingest <pages.json|->",
		Short: "Chunk, embed and store a document",
		Long: `Read a JSON array of {"pageNumber": n, "text": "..."} objects, split every page into
chunks, embed them and store the records under the document id. With --skip-embedding the
records are stored without vectors and embedded on first query. Without --document a random
id is generated and printed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateFormat(format); err != nil {
				return err
			}
			return runIngest(cmd, args[0], documentID, skipEmbedding, format)
		},
	}
	cmd.Flags().StringVarP(&documentID, "document", "d", "", "Document id to store the records under (generated when empty)")
	cmd.Flags().BoolVar(&skipEmbedding, "skip-embedding", false, "Store chunks without embeddings")
	cmd.Flags().StringVarP(&format, "format", "f", OutputFormatText, "Output format (text, json)")
	return cmd
}

func runIngest(cmd *cobra.Command, path string, documentID string, skipEmbedding bool, format string) error {
	ctx := cmd.Context()
	if documentID == "" {
		documentID = uuid.NewString()
	}
	pages, err := readPages(cmd, path)
	if err != nil {
		return err
	}
	rt, err := newRuntime(ctx, !skipEmbedding)
	if err != nil {
		return err
	}
	defer rt.close(ctx)
	chunker, err := rt.chunker()
	if err != nil {
		return fmt.Errorf("init chunker: %w", err)
	}
	out, err := uc.NewIngest(chunker, rt.embedder, rt.store).Execute(ctx, &uc.IngestInput{
		DocumentID:    documentID,
		Pages:         pages,
		SkipEmbedding: skipEmbedding,
	})
	if err != nil {
		return err
	}
	return writeIngest(cmd.OutOrStdout(), format, ingestView{
		DocumentID: documentID,
		Pages:      len(pages),
		Chunks:     out.Index.Len(),
		State:      out.Index.State(),
	})
}
