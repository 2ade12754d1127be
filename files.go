package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/drive-in/drive-in-go/internal/drive"
	"github.com/drive-in/drive-in-go/internal/history"
	"github.com/drive-in/drive-in-go/internal/sink"
)

const (
	folderMimeType = "application/vnd.google-apps.folder"
	lsFields       = "nextPageToken,files(id,name,size,mimeType,modifiedTime)"
	maxPageSize    = 1000
	maxErrorBody   = 200
)

func newGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id|url>...",
		Short: "Download files",
		Long: `Download one or more files by ID or sharing URL.

Each file is fetched in ranged chunks and saved in the working directory
under its Drive name. Several files are downloaded concurrently, up to
transfers.parallel at a time.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runGet,
	}

	cmd.Flags().StringP("output", "o", "", "save to this path (single file only)")
	cmd.Flags().Bool("stdout", false, "write the content to stdout (single file only)")
	cmd.Flags().Bool("text", false, "decode the content as text and write it to stdout (single file only)")
	cmd.Flags().String("encoding", "utf-8", "text encoding for --text")
	cmd.Flags().Bool("no-overwrite", false, "fail instead of replacing an existing local file")
	cmd.MarkFlagsMutuallyExclusive("output", "stdout", "text")

	return cmd
}

func newPutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "put <path>...",
		Short: "Upload files",
		Long: `Upload one or more local files through a resumable session, sending
them in chunks. The sharing URL of each uploaded file is printed.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runPut,
	}

	cmd.Flags().String("name", "", "remote file name (single file only)")
	cmd.Flags().String("folder", "", "parent folder ID or URL (default: My Drive root)")

	return cmd
}

func newLsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List files",
		Args:  cobra.NoArgs,
		RunE:  runLs,
	}

	cmd.Flags().String("folder", "", "list the children of this folder ID or URL")
	cmd.Flags().String("query", "", `extra Drive search clause, e.g. "name contains 'report'"`)
	cmd.Flags().Int("limit", 100, "maximum number of files")

	return cmd
}

func newStatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stat <id|url>",
		Short: "Display file metadata",
		Args:  cobra.ExactArgs(1),
		RunE:  runStat,
	}
}

func newRmCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rm <id|url>",
		Short: "Move a file to the trash",
		Long: `Move a file to the Drive trash, where it can be restored from the web
interface for 30 days. Use --permanent to delete it immediately.`,
		Args: cobra.ExactArgs(1),
		RunE: runRm,
	}

	cmd.Flags().Bool("permanent", false, "delete permanently instead of trashing")

	return cmd
}

// stringWriter lets a plain io.Writer receive decoded text.
type stringWriter struct{ io.Writer }

func (s stringWriter) WriteString(v string) (int, error) {
	return io.WriteString(s.Writer, v)
}

// getJSONOutput is the JSON output schema for one downloaded file.
type getJSONOutput struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Size   int64  `json:"size"`
	Chunks int    `json:"chunks"`
	Path   string `json:"path,omitempty"`
}

func runGet(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	output, _ := cmd.Flags().GetString("output")
	toStdout, _ := cmd.Flags().GetBool("stdout")
	asText, _ := cmd.Flags().GetBool("text")
	encodingName, _ := cmd.Flags().GetString("encoding")
	noOverwrite, _ := cmd.Flags().GetBool("no-overwrite")
	noOverwrite = noOverwrite || !cc.Cfg.Transfers.Overwrite

	if len(args) > 1 && (output != "" || toStdout || asText) {
		return errors.New("--output, --stdout and --text accept a single file")
	}

	target := sink.None()

	switch {
	case output != "":
		if noOverwrite {
			if _, err := os.Stat(output); err == nil {
				return fmt.Errorf("%s already exists", output)
			}
		}

		target = sink.Path(output)
	case toStdout:
		target = sink.Stream(cc.Stdout)
	case asText:
		var err error

		target, err = sink.Text(stringWriter{cc.Stdout}, sink.WithEncodingName(encodingName))
		if err != nil {
			return err
		}
	}

	client, err := newDriveClient(ctx, cc)
	if err != nil {
		return err
	}

	store := openHistory(ctx, cc)
	defer closeHistory(cc, store)

	concurrent := len(args) > 1
	results := make([]*getJSONOutput, len(args))
	names := newNameClaims()

	err = forEachParallel(len(args), cc.Cfg.Transfers.Parallel, func(i int) error {
		res, dlErr := downloadOne(ctx, cc, client, store, args[i], target, noOverwrite, concurrent, names)
		results[i] = res

		return dlErr
	})

	if cc.Flags.JSON {
		out := make([]*getJSONOutput, 0, len(results))
		for _, r := range results {
			if r != nil {
				out = append(out, r)
			}
		}

		if jsonErr := printJSON(cc.Stdout, out); jsonErr != nil {
			return jsonErr
		}
	}

	return err
}

// downloadOne fetches a single file and records the outcome.
func downloadOne(
	ctx context.Context, cc *CLIContext, client *drive.Client, store *history.Store,
	arg string, target sink.Target, noOverwrite, concurrent bool, names *nameClaims,
) (*getJSONOutput, error) {
	started := time.Now()
	bar := newTransferProgress(cc, "Downloading", concurrent)

	dl, err := client.Download(ctx, arg, drive.DownloadOptions{
		Target:      target,
		ChunkSize:   cc.Cfg.ChunkSize,
		NoOverwrite: noOverwrite,
		ClaimName:   names.claimFor(arg),
		Progress:    bar.Func(),
	})

	entry := history.Entry{
		Direction: history.Download,
		FileID:    drive.ExtractFileID(arg),
		Name:      arg,
		Target:    target.Kind().String(),
		StartedAt: started,
	}

	if err != nil {
		bar.Abandon()

		entry.Error = err.Error()
		recordTransfer(ctx, cc, store, entry)

		return nil, fmt.Errorf("downloading %s: %w", arg, err)
	}

	bar.Finish()

	if relErr := dl.Output.Release(); relErr != nil {
		cc.Logger.Warn("closing downloaded file", "path", dl.Output.Path, "error", relErr)
	}

	entry.Name = dl.File.Name
	entry.Size = dl.File.Size
	entry.Chunks = dl.Chunks
	entry.URL = drive.ShareURL(dl.File.ID)

	if dl.Output.Path != "" {
		entry.Target = dl.Output.Path
	}

	recordTransfer(ctx, cc, store, entry)

	if dl.Output.Path != "" {
		cc.Statusf("Downloaded %s (%s, %d chunks)\n", dl.Output.Path, formatSize(dl.File.Size), dl.Chunks)
	}

	return &getJSONOutput{
		ID:     dl.File.ID,
		Name:   dl.File.Name,
		Size:   dl.File.Size,
		Chunks: dl.Chunks,
		Path:   dl.Output.Path,
	}, nil
}

// nameClaims tracks the local file names taken by one get invocation, so
// that two files with the same remote name never write the same path.
type nameClaims struct {
	mu    sync.Mutex
	owner map[string]string
}

func newNameClaims() *nameClaims {
	return &nameClaims{owner: make(map[string]string)}
}

// claimFor returns the ClaimName callback for the download of arg.
func (n *nameClaims) claimFor(arg string) func(string) error {
	return func(name string) error {
		n.mu.Lock()
		defer n.mu.Unlock()

		if prev, taken := n.owner[name]; taken {
			return fmt.Errorf("%s is already being written by %s", name, prev)
		}

		n.owner[name] = arg

		return nil
	}
}

// putJSONOutput is the JSON output schema for one uploaded file.
type putJSONOutput struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Size int64  `json:"size"`
	URL  string `json:"url"`
}

func runPut(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	name, _ := cmd.Flags().GetString("name")
	folder, _ := cmd.Flags().GetString("folder")

	if name != "" && len(args) > 1 {
		return errors.New("--name accepts a single file")
	}

	folderID := ""
	if folder != "" {
		folderID = drive.ExtractFileID(folder)
		if folderID == "" {
			return fmt.Errorf("no folder ID in %q", folder)
		}
	}

	client, err := newDriveClient(ctx, cc)
	if err != nil {
		return err
	}

	store := openHistory(ctx, cc)
	defer closeHistory(cc, store)

	concurrent := len(args) > 1
	results := make([]*putJSONOutput, len(args))

	var printMu sync.Mutex

	err = forEachParallel(len(args), cc.Cfg.Transfers.Parallel, func(i int) error {
		res, upErr := uploadOne(ctx, cc, client, store, args[i], name, folderID, concurrent)
		if upErr != nil {
			return upErr
		}

		results[i] = res

		if !cc.Flags.JSON {
			printMu.Lock()
			fmt.Fprintln(cc.Stdout, res.URL)
			printMu.Unlock()
		}

		return nil
	})

	if cc.Flags.JSON {
		out := make([]*putJSONOutput, 0, len(results))
		for _, r := range results {
			if r != nil {
				out = append(out, r)
			}
		}

		if jsonErr := printJSON(cc.Stdout, out); jsonErr != nil {
			return jsonErr
		}
	}

	return err
}

// uploadOne sends a single local file and records the outcome.
func uploadOne(
	ctx context.Context, cc *CLIContext, client *drive.Client, store *history.Store,
	path, name, folderID string, concurrent bool,
) (*putJSONOutput, error) {
	started := time.Now()

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stating local file: %w", err)
	}

	if info.IsDir() {
		return nil, fmt.Errorf("%q is a directory, not a file", path)
	}

	entry := history.Entry{
		Direction: history.Upload,
		Name:      path,
		Size:      info.Size(),
		Chunks:    chunkCount(info.Size(), cc.Cfg.ChunkSize),
		Target:    path,
		StartedAt: started,
	}

	bar := newTransferProgress(cc, "Uploading", concurrent)

	up, err := client.Upload(ctx, sink.FromPath(path), drive.UploadOptions{
		Name:      name,
		FolderID:  folderID,
		ChunkSize: cc.Cfg.ChunkSize,
		Progress:  bar.Func(),
	})
	if err != nil {
		bar.Abandon()

		entry.Error = err.Error()
		recordTransfer(ctx, cc, store, entry)

		return nil, fmt.Errorf("uploading %s: %w", path, err)
	}

	bar.Finish()

	entry.FileID = up.File.ID
	entry.Name = up.File.Name
	entry.URL = up.URL
	recordTransfer(ctx, cc, store, entry)

	cc.Statusf("Uploaded %s (%s)\n", path, formatSize(info.Size()))

	return &putJSONOutput{ID: up.File.ID, Name: up.File.Name, Size: info.Size(), URL: up.URL}, nil
}

// chunkCount is the number of PUTs needed for size bytes. An empty file
// still takes one.
func chunkCount(size, chunkSize int64) int {
	if size <= 0 || chunkSize <= 0 {
		return 1
	}

	return int((size + chunkSize - 1) / chunkSize)
}

// forEachParallel runs fn for 0..n-1 with at most limit calls in flight. A
// failure does not stop the others; all failures are joined.
func forEachParallel(n, limit int, fn func(i int) error) error {
	var g errgroup.Group

	g.SetLimit(max(limit, 1))

	errs := make([]error, n)

	for i := range n {
		g.Go(func() error {
			errs[i] = fn(i)
			return nil
		})
	}

	_ = g.Wait() //nolint:errcheck // workers never return errors; they fill errs

	return errors.Join(errs...)
}

// lsJSONItem is the JSON output schema for a single listed file.
type lsJSONItem struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	IsFolder   bool   `json:"is_folder"`
	MimeType   string `json:"mime_type"`
	ModifiedAt string `json:"modified_at,omitempty"`
}

func runLs(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	folder, _ := cmd.Flags().GetString("folder")
	query, _ := cmd.Flags().GetString("query")
	limit, _ := cmd.Flags().GetInt("limit")

	if limit < 1 {
		return fmt.Errorf("invalid --limit %d: must be positive", limit)
	}

	q, err := buildListQuery(folder, query)
	if err != nil {
		return err
	}

	client, err := newDriveClient(ctx, cc)
	if err != nil {
		return err
	}

	cc.Logger.Debug("ls", "q", q, "limit", limit)

	items, err := listFiles(ctx, client, q, limit)
	if err != nil {
		return err
	}

	if cc.Flags.JSON {
		return printJSON(cc.Stdout, items)
	}

	rows := make([][]string, 0, len(items))

	for i := range items {
		name := items[i].Name
		size := formatSize(items[i].Size)

		if items[i].IsFolder {
			name += "/"
			size = "-"
		}

		modified, _ := time.Parse(time.RFC3339, items[i].ModifiedAt)
		rows = append(rows, []string{name, size, formatTime(modified), items[i].ID})
	}

	printTable(cc.Stdout, []string{"NAME", "SIZE", "MODIFIED", "ID"}, rows)

	return nil
}

// buildListQuery combines the folder restriction and the user clause into a
// Drive search expression. Trashed files are always excluded.
func buildListQuery(folder, extra string) (string, error) {
	clauses := []string{"trashed = false"}

	if folder != "" {
		id := drive.ExtractFileID(folder)
		if id == "" {
			return "", fmt.Errorf("no folder ID in %q", folder)
		}

		clauses = append(clauses, fmt.Sprintf("'%s' in parents", id))
	}

	if extra = strings.TrimSpace(extra); extra != "" {
		clauses = append(clauses, "("+extra+")")
	}

	return strings.Join(clauses, " and "), nil
}

// listFiles pages through files.list until limit items are collected.
func listFiles(ctx context.Context, client *drive.Client, q string, limit int) ([]lsJSONItem, error) {
	var (
		items     []lsJSONItem
		pageToken string
	)

	for len(items) < limit {
		query := map[string]string{
			"q":        q,
			"fields":   lsFields,
			"orderBy":  "folder,name",
			"pageSize": strconv.Itoa(min(limit-len(items), maxPageSize)),
		}

		if pageToken != "" {
			query["pageToken"] = pageToken
		}

		res, err := client.Request(ctx, http.MethodGet, "files", query, nil)
		if err != nil {
			return nil, fmt.Errorf("listing files: %w", err)
		}

		if !res.Success {
			return nil, apiError("listing files", res)
		}

		files, _ := res.Data["files"].([]any)
		for _, raw := range files {
			f, ok := raw.(map[string]any)
			if !ok {
				continue
			}

			items = append(items, itemFromData(f))
		}

		pageToken = res.String("nextPageToken")
		if pageToken == "" || len(files) == 0 {
			break
		}
	}

	if len(items) > limit {
		items = items[:limit]
	}

	return items, nil
}

func itemFromData(f map[string]any) lsJSONItem {
	item := lsJSONItem{Size: int64Field(f, "size")}
	item.ID, _ = f["id"].(string)
	item.Name, _ = f["name"].(string)
	item.MimeType, _ = f["mimeType"].(string)
	item.ModifiedAt, _ = f["modifiedTime"].(string)
	item.IsFolder = item.MimeType == folderMimeType

	return item
}

// statJSONOutput is the JSON output schema for the stat command.
type statJSONOutput struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	MimeType string `json:"mime_type,omitempty"`
	URL      string `json:"url"`
}

func runStat(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	client, err := newDriveClient(ctx, cc)
	if err != nil {
		return err
	}

	f, err := client.Stat(ctx, args[0])
	if err != nil {
		return fmt.Errorf("stat %s: %w", args[0], err)
	}

	out := statJSONOutput{ID: f.ID, Name: f.Name, Size: f.Size, MimeType: f.MimeType, URL: drive.ShareURL(f.ID)}

	if cc.Flags.JSON {
		return printJSON(cc.Stdout, out)
	}

	fmt.Fprintf(cc.Stdout, "Name: %s\n", out.Name)
	fmt.Fprintf(cc.Stdout, "ID:   %s\n", out.ID)
	fmt.Fprintf(cc.Stdout, "Size: %s (%d bytes)\n", formatSize(out.Size), out.Size)

	if out.MimeType != "" {
		fmt.Fprintf(cc.Stdout, "MIME: %s\n", out.MimeType)
	}

	fmt.Fprintf(cc.Stdout, "URL:  %s\n", out.URL)

	return nil
}

// rmJSONOutput is the JSON output schema for the rm command.
type rmJSONOutput struct {
	ID        string `json:"id"`
	Permanent bool   `json:"permanent"`
}

func runRm(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()
	permanent, _ := cmd.Flags().GetBool("permanent")

	id := drive.ExtractFileID(args[0])
	if id == "" {
		return fmt.Errorf("no file ID in %q", args[0])
	}

	client, err := newDriveClient(ctx, cc)
	if err != nil {
		return err
	}

	var res *drive.Result

	if permanent {
		res, err = client.Request(ctx, http.MethodDelete, "files/"+id, nil, nil)
	} else {
		res, err = client.Request(ctx, http.MethodPatch, "files/"+id, nil, map[string]any{"trashed": true})
	}

	if err != nil {
		return fmt.Errorf("deleting %s: %w", id, err)
	}

	if !res.Success {
		return apiError("deleting "+id, res)
	}

	cc.Logger.Debug("rm complete", "file_id", id, "permanent", permanent)

	if cc.Flags.JSON {
		return printJSON(cc.Stdout, rmJSONOutput{ID: id, Permanent: permanent})
	}

	if permanent {
		cc.Statusf("Deleted %s\n", id)
	} else {
		cc.Statusf("Moved %s to trash\n", id)
	}

	return nil
}

// apiError describes a non-success result with a trimmed response body.
func apiError(action string, res *drive.Result) error {
	body := strings.TrimSpace(res.Response.Text())
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody] + "..."
	}

	return fmt.Errorf("%s (HTTP %d): %s", action, res.StatusCode(), body)
}
