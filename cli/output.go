package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/compozy/pagerag/engine/rag"
)

const (
	OutputFormatJSON = "json"
	OutputFormatText = "text"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))
	detailStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")).Italic(true)
)

type resultView struct {
	Rank          int     `json:"rank"`
	PageNumber    int     `json:"pageNumber"`
	ChunkIndex    int     `json:"chunkIndex"`
	Score         float64 `json:"score"`
	TokenEstimate int     `json:"tokenEstimate"`
	Text          string  `json:"text"`
}

type sourceView struct {
	PageNumber int     `json:"pageNumber"`
	ChunkIndex int     `json:"chunkIndex"`
	Score      float64 `json:"score"`
	Text       string  `json:"text"`
}

type ingestView struct {
	DocumentID string    `json:"documentId"`
	Pages      int       `json:"pages"`
	Chunks     int       `json:"chunks"`
	State      rag.State `json:"state"`
}

func validateFormat(format string) error {
	switch format {
	case OutputFormatJSON, OutputFormatText:
		return nil
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}

func toResultViews(results []rag.ScoredChunk) []resultView {
	out := make([]resultView, len(results))
	for i := range results {
		out[i] = resultView{
			Rank:          i + 1,
			PageNumber:    results[i].Chunk.PageNumber,
			ChunkIndex:    results[i].Chunk.ChunkIndex,
			Score:         results[i].Score,
			TokenEstimate: results[i].TokenEstimate,
			Text:          results[i].Chunk.Text,
		}
	}
	return out
}

func writeResults(w io.Writer, format string, results []rag.ScoredChunk) error {
	views := toResultViews(results)
	if format == OutputFormatJSON {
		return writeJSON(w, views)
	}
	if len(views) == 0 {
		_, err := fmt.Fprintln(w, detailStyle.Render("No chunks matched."))
		return err
	}
	var b strings.Builder
	for i := range views {
		v := views[i]
		header := fmt.Sprintf("#%d  page %d  chunk %d", v.Rank, v.PageNumber, v.ChunkIndex)
		details := fmt.Sprintf("score %.4f  ~%d tokens", v.Score, v.TokenEstimate)
		fmt.Fprintf(&b, "%s  %s\n%s\n\n", headerStyle.Render(header), detailStyle.Render(details), v.Text)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func writeSource(w io.Writer, format string, src *rag.Source) error {
	view := sourceView{
		PageNumber: src.PageNumber,
		ChunkIndex: src.ChunkIndex,
		Score:      src.Score,
		Text:       src.Text,
	}
	if format == OutputFormatJSON {
		return writeJSON(w, view)
	}
	header := fmt.Sprintf("Page %d", view.PageNumber)
	details := fmt.Sprintf("chunk %d  score %.4f", view.ChunkIndex, view.Score)
	_, err := fmt.Fprintf(w, "%s  %s\n%s\n", headerStyle.Render(header), detailStyle.Render(details), view.Text)
	return err
}

func writeIngest(w io.Writer, format string, view ingestView) error {
	if format == OutputFormatJSON {
		return writeJSON(w, view)
	}
	_, err := fmt.Fprintf(
		w,
		"%s  %s\n",
		headerStyle.Render("Ingested "+view.DocumentID),
		detailStyle.Render(fmt.Sprintf("%d pages, %d chunks, %s", view.Pages, view.Chunks, view.State)),
	)
	return err
}
