package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

type libraryView struct {
	ID            int64
	Title         string
	Description   string
	CollectionID  string
	EnableGraph   bool
	DocumentCount int
}

// --- library ---

var libraryCmd = &cobra.Command{
	Use:   "library",
	Short: "Manage knowledge base libraries",
}

var libraryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your libraries",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/api/v1/libraries")
		if err != nil {
			return err
		}

		var libs []libraryView
		if err := decodeJSON(resp, &libs); err != nil {
			return err
		}

		if len(libs) == 0 {
			printWarning("No libraries yet. Create one with: knowbase library create <title>")
			return nil
		}
		for _, lib := range libs {
			graph := ""
			if lib.EnableGraph {
				graph = " [graph]"
			}
			fmt.Printf("  %s  %s%s (%d docs, %s)\n",
				colorize(colorBold, fmt.Sprintf("#%d", lib.ID)), lib.Title, graph,
				lib.DocumentCount, lib.CollectionID)
		}
		return nil
	},
}

var libraryCreateCmd = &cobra.Command{
	Use:   "create <title>",
	Short: "Create a new library",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		description, _ := cmd.Flags().GetString("description")
		enableGraph, _ := cmd.Flags().GetBool("graph")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/api/v1/libraries", map[string]any{
			"title":        args[0],
			"description":  description,
			"enable_graph": enableGraph,
		})
		if err != nil {
			return err
		}

		var lib libraryView
		if err := decodeJSON(resp, &lib); err != nil {
			return err
		}

		printSuccess("Created library #%d (%s)", lib.ID, lib.CollectionID)
		return nil
	},
}

var libraryUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Update a library's title or description",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := map[string]any{}
		if cmd.Flags().Changed("title") {
			title, _ := cmd.Flags().GetString("title")
			req["title"] = title
		}
		if cmd.Flags().Changed("description") {
			description, _ := cmd.Flags().GetString("description")
			req["description"] = description
		}
		if len(req) == 0 {
			return fmt.Errorf("nothing to update: pass --title or --description")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.patch(cmd.Context(), "/api/v1/libraries/"+args[0], req)
		if err != nil {
			return err
		}

		var lib libraryView
		if err := decodeJSON(resp, &lib); err != nil {
			return err
		}

		printSuccess("Updated library #%d", lib.ID)
		return nil
	},
}

var libraryDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a library and all its indexed data",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This deletes the library and everything indexed in it. Use --confirm to proceed.")
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/api/v1/libraries/"+args[0])
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Deleted library %s", args[0])
		return nil
	},
}

func init() {
	libraryCreateCmd.Flags().String("description", "", "library description")
	libraryCreateCmd.Flags().Bool("graph", false, "index documents into the graph store as well")
	libraryUpdateCmd.Flags().String("title", "", "new title")
	libraryUpdateCmd.Flags().String("description", "", "new description")
	libraryDeleteCmd.Flags().Bool("confirm", false, "confirm deletion")
	libraryCmd.AddCommand(libraryListCmd)
	libraryCmd.AddCommand(libraryCreateCmd)
	libraryCmd.AddCommand(libraryUpdateCmd)
	libraryCmd.AddCommand(libraryDeleteCmd)
}

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest content into a library",
	Long: `Ingest content into a library.

Examples:
  knowbase ingest --library 1 --file ./notes.md
  knowbase ingest --library 1 --text "Go services prefer explicit errors" --name conventions
  knowbase ingest --library 1 --file ./handbook.txt --strategy semantic`,
	RunE: func(cmd *cobra.Command, args []string) error {
		libraryID, _ := cmd.Flags().GetString("library")
		file, _ := cmd.Flags().GetString("file")
		text, _ := cmd.Flags().GetString("text")
		name, _ := cmd.Flags().GetString("name")
		strategy, _ := cmd.Flags().GetString("strategy")

		if libraryID == "" {
			return fmt.Errorf("--library is required")
		}
		if text == "" && file == "" {
			return fmt.Errorf("one of --text or --file is required")
		}

		content := text
		if file != "" {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading file: %w", err)
			}
			content = string(data)
			if name == "" {
				name = filepath.Base(file)
			}
		}
		if name == "" {
			return fmt.Errorf("--name is required with --text")
		}

		req := map[string]any{
			"name":    name,
			"content": content,
		}
		if strategy != "" {
			req["strategy"] = strategy
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/api/v1/libraries/"+libraryID+"/documents", req)
		if err != nil {
			return err
		}

		var result struct {
			Document struct {
				ID   int64
				Name string
			} `json:"document"`
			ChunkCount int `json:"chunk_count"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Indexed %s as doc #%d (%d chunks)", result.Document.Name, result.Document.ID, result.ChunkCount)
		return nil
	},
}

func init() {
	ingestCmd.Flags().String("library", "", "library ID to ingest into")
	ingestCmd.Flags().String("file", "", "file path to ingest")
	ingestCmd.Flags().String("text", "", "text content to ingest")
	ingestCmd.Flags().String("name", "", "document name (defaults to the file name)")
	ingestCmd.Flags().String("strategy", "", "chunking strategy: recursive, character, or semantic")
}

// --- crawl ---

var crawlCmd = &cobra.Command{
	Use:   "crawl <url>...",
	Short: "Crawl URLs into a library",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		libraryID, _ := cmd.Flags().GetString("library")
		if libraryID == "" {
			return fmt.Errorf("--library is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/api/v1/libraries/"+libraryID+"/crawl", map[string]any{
			"urls": args,
		})
		if err != nil {
			return err
		}

		var result struct {
			Status       string `json:"status"`
			CollectionID string `json:"collection_id"`
			URLCount     int    `json:"url_count"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Crawl started: %d URLs into %s", result.URLCount, result.CollectionID)
		printStep("Check progress with: knowbase crawl status --library %s", libraryID)
		return nil
	},
}

var crawlStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show crawl progress for a library",
	RunE: func(cmd *cobra.Command, args []string) error {
		libraryID, _ := cmd.Flags().GetString("library")
		if libraryID == "" {
			return fmt.Errorf("--library is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/api/v1/libraries/"+libraryID+"/crawl/status")
		if err != nil {
			return err
		}

		var rec struct {
			Status  string `json:"status"`
			Count   int    `json:"count"`
			Message string `json:"message"`
		}
		if err := decodeJSON(resp, &rec); err != nil {
			return err
		}

		printStatus("Status", "%s", rec.Status)
		printStatus("Pages", "%d", rec.Count)
		if rec.Message != "" {
			printStatus("Message", "%s", rec.Message)
		}
		return nil
	},
}

func init() {
	crawlCmd.Flags().String("library", "", "library ID to crawl into")
	crawlStatusCmd.Flags().String("library", "", "library ID to check")
	crawlCmd.AddCommand(crawlStatusCmd)
}

// --- query ---

var queryCmd = &cobra.Command{
	Use:   "query <question>",
	Short: "Ask a question against a library",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		libraryID, _ := cmd.Flags().GetString("library")
		conversation, _ := cmd.Flags().GetString("conversation")
		topK, _ := cmd.Flags().GetInt("top-k")
		showSources, _ := cmd.Flags().GetBool("sources")

		question := strings.Join(args, " ")

		req := map[string]any{"question": question}
		if conversation != "" {
			req["conversation_id"] = conversation
		}
		if topK > 0 {
			req["top_k"] = topK
		}

		path := "/api/v1/query"
		if libraryID != "" {
			path = "/api/v1/libraries/" + libraryID + "/query"
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), path, req)
		if err != nil {
			return err
		}

		var result struct {
			Answer  string `json:"answer"`
			Sources []struct {
				DocumentName string
				Score        float64
			} `json:"sources"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		fmt.Println(result.Answer)
		if showSources && len(result.Sources) > 0 {
			fmt.Println()
			for _, src := range result.Sources {
				printStatus("Source", "%s (%.3f)", src.DocumentName, src.Score)
			}
		}
		return nil
	},
}

func init() {
	queryCmd.Flags().String("library", "", "library ID to query (omit to answer from conversation memory alone)")
	queryCmd.Flags().String("conversation", "", "conversation ID for multi-turn context")
	queryCmd.Flags().Int("top-k", 0, "number of chunks to retrieve")
	queryCmd.Flags().Bool("sources", false, "show retrieved sources with scores")
}
