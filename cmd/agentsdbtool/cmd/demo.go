package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentsdb/agentsdb"
	"github.com/agentsdb/agentsdb/internal/config"
	"github.com/agentsdb/agentsdb/internal/embed"
	"github.com/agentsdb/agentsdb/internal/layer"
	"github.com/agentsdb/agentsdb/internal/promote"
	"github.com/agentsdb/agentsdb/internal/query"
	"github.com/agentsdb/agentsdb/internal/store"
)

func newDemoCmd() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Drive append, search, promote, and propose/accept against a fresh set of layer files",
		Long: `demo builds a throwaway set of layer files under --dir, then exercises
the library end to end: it appends chunks to the base and delta layers,
searches across them, promotes a delta chunk to the user layer, and runs a
propose/accept cycle. It prints each step's result so the whole pipeline
can be eyeballed in one run.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDemo(cmd, dir)
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "Directory to create layer files in (required)")
	_ = cmd.MarkFlagRequired("dir")

	return cmd
}

func runDemo(cmd *cobra.Command, dir string) error {
	out := cmd.OutOrStdout()
	ctx := cmd.Context()

	hasher := embed.NewHashEmbedder()
	defer hasher.Close()
	s := agentsdb.NewStore(config.NewConfig(), hasher)

	basePath := dir + "/AGENTS.db"
	deltaPath := dir + "/AGENTS.delta.db"
	userPath := dir + "/AGENTS.user.db"

	v1, err := hasher.Embed(ctx, "The cache key must include tenant_id.")
	if err != nil {
		return err
	}
	if _, err := s.Append(basePath, agentsdb.ScopeBase, store.Chunk{
		Kind: agentsdb.KindInvariant, Content: "The cache key must include tenant_id.", Embedding: v1,
	}, store.Options{AllowBase: true, Dim: uint32(len(v1))}); err != nil {
		return fmt.Errorf("append base chunk: %w", err)
	}
	fmt.Fprintln(out, "appended 1 chunk to", basePath)

	v2, err := hasher.Embed(ctx, "Retry with exponential backoff on 429s.")
	if err != nil {
		return err
	}
	deltaID, err := s.Append(deltaPath, agentsdb.ScopeDelta, store.Chunk{
		Kind: agentsdb.KindDecision, Content: "Retry with exponential backoff on 429s.", Embedding: v2,
	}, store.Options{Dim: uint32(len(v2))})
	if err != nil {
		return fmt.Errorf("append delta chunk: %w", err)
	}
	fmt.Fprintln(out, "appended chunk", deltaID, "to", deltaPath)

	baseHandle, err := s.OpenLayer(basePath)
	if err != nil {
		return err
	}
	defer baseHandle.Close()
	deltaHandle, err := s.OpenLayer(deltaPath)
	if err != nil {
		return err
	}
	defer deltaHandle.Close()

	results, err := s.Search(ctx, []*layer.Handle{deltaHandle, baseHandle}, query.Query{Text: "tenant cache key", K: 2})
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}
	fmt.Fprintln(out, "search results:")
	for _, r := range results {
		fmt.Fprintf(out, "  chunk %d (%s) score=%.4f layer=%s\n", r.ChunkID, r.Kind, r.Score, r.LayerPath)
	}

	promRes, err := s.Promote(promote.Request{FromPath: deltaPath, ToPath: userPath, IDs: []uint32{deltaID}, SkipExisting: true})
	if err != nil {
		return fmt.Errorf("promote: %w", err)
	}
	fmt.Fprintln(out, "promoted:", promRes.CopiedIDs, "skipped:", promRes.SkippedIDs)

	proposalID, err := s.Propose(deltaPath, agentsdb.ProposalEvent{
		ContextID: fmt.Sprint(deltaID),
		FromPath:  deltaPath,
		ToPath:    userPath,
		Title:     "promote retry-backoff decision",
	}, 0)
	if err != nil {
		return fmt.Errorf("propose: %w", err)
	}
	fmt.Fprintln(out, "proposal created:", proposalID)

	deltaHandle2, err := s.OpenLayer(deltaPath)
	if err != nil {
		return err
	}
	defer deltaHandle2.Close()

	acceptRes, err := s.AcceptAndPromote([]*layer.Handle{deltaHandle2}, deltaPath, proposalID, "agentsdbtool", "smoke test", 0, true, false)
	if err != nil {
		return fmt.Errorf("accept: %w", err)
	}
	fmt.Fprintln(out, "accepted proposal, copied:", acceptRes.CopiedIDs)

	return nil
}
