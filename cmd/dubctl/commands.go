package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jonatasu/dubby/internal/api"
	"github.com/jonatasu/dubby/internal/ingest"
	"github.com/jonatasu/dubby/internal/metrics"
	"github.com/jonatasu/dubby/internal/pipeline"
	"github.com/jonatasu/dubby/internal/voice"
)

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newProcessCommand(ctx *commandContext) *cobra.Command {
	var opts processOptions
	var output string

	cmd := &cobra.Command{
		Use:   "process <file>",
		Short: "Upload a media file and dub it",
		Long: "Upload a media file to the server. Without --async the command waits for\n" +
			"the job and saves the dubbed file; with --async it prints the queued job.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			resp, err := client.process(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if opts.Async {
				var queued map[string]any
				if err := json.NewDecoder(resp.Body).Decode(&queued); err != nil {
					return fmt.Errorf("decode response: %w", err)
				}
				return writeJSON(cmd, queued)
			}

			dest := output
			if dest == "" {
				dest = attachmentName(resp.Header.Get("Content-Disposition"))
			}
			if dest == "" {
				dest = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0])) + ".dubbed.wav"
			}
			f, err := os.Create(dest)
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, resp.Body); err != nil {
				f.Close()
				return fmt.Errorf("save %s: %w", dest, err)
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Job %s finished: %s\n", resp.Header.Get("X-Job-ID"), dest)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.SrcLang, "src", "", "Source language (server default when empty)")
	cmd.Flags().StringVar(&opts.DstLang, "dst", "", "Target language (server default when empty)")
	cmd.Flags().BoolVar(&opts.AudioOnly, "audio-only", false, "Skip muxing the dubbed audio back into the video")
	cmd.Flags().BoolVar(&opts.Async, "async", false, "Queue the job and return immediately")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Where to save the dubbed file")
	return cmd
}

// attachmentName returns the base file name of a Content-Disposition header.
func attachmentName(header string) string {
	if header == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	name := filepath.Base(params["filename"])
	if name == "." || name == "/" {
		return ""
	}
	return name
}

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var state string
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List jobs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			q := url.Values{}
			if state != "" {
				q.Set("state", state)
			}
			if limit > 0 {
				q.Set("limit", fmt.Sprint(limit))
			}
			if offset > 0 {
				q.Set("offset", fmt.Sprint(offset))
			}
			path := "/api/v1/jobs"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}
			var out json.RawMessage
			if err := client.getJSON(cmd.Context(), path, &out); err != nil {
				return err
			}
			return writeJSON(cmd, out)
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "Filter by state: running, completed, failed")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum jobs to return")
	cmd.Flags().IntVar(&offset, "offset", 0, "Jobs to skip")
	return cmd
}

func newJobCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "job <id>",
		Short: "Show one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			var out json.RawMessage
			if err := client.getJSON(cmd.Context(), "/api/v1/jobs/"+url.PathEscape(args[0]), &out); err != nil {
				return err
			}
			return writeJSON(cmd, out)
		},
	}
}

func newPruneCommand(ctx *commandContext) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete archived jobs older than a retention period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return errors.New("--older-than must be positive")
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			var out struct {
				Deleted   int64  `json:"deleted"`
				OlderThan string `json:"older_than"`
			}
			path := "/api/v1/jobs/purge?older_than=" + url.QueryEscape(olderThan.String())
			if err := client.sendJSON(cmd.Context(), "POST", path, &out); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d jobs older than %s\n", out.Deleted, out.OlderThan)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 720*time.Hour, "Retention period")
	return cmd
}

type statusReport struct {
	Version       string            `json:"version"`
	Go            string            `json:"go"`
	Platform      string            `json:"platform"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	FFmpeg        struct {
		Available bool   `json:"available"`
		Binary    string `json:"binary"`
	} `json:"ffmpeg"`
	Backends map[string]string        `json:"backends"`
	Disk     map[string]api.DiskUsage `json:"disk"`
	Metrics  metrics.Snapshot         `json:"metrics"`
}

func printStatus(w io.Writer, st statusReport) {
	started := time.Now().Add(-time.Duration(st.UptimeSeconds) * time.Second)
	fmt.Fprintf(w, "dubby %s (%s, %s), up since %s\n", st.Version, st.Go, st.Platform, humanize.Time(started))
	if st.FFmpeg.Available {
		fmt.Fprintf(w, "ffmpeg: %s\n", st.FFmpeg.Binary)
	} else {
		fmt.Fprintln(w, "ffmpeg: not found, video jobs fall back to audio")
	}
	for _, name := range slices.Sorted(maps.Keys(st.Backends)) {
		fmt.Fprintf(w, "%-10s %s\n", name+":", st.Backends[name])
	}
	for _, name := range slices.Sorted(maps.Keys(st.Disk)) {
		d := st.Disk[name]
		if d.Total == 0 {
			continue
		}
		fmt.Fprintf(w, "disk %-9s %s free of %s\n", name+":", humanize.IBytes(d.Free), humanize.IBytes(d.Total))
	}
	fmt.Fprintf(w, "failures: translate=%d tts=%d mux=%d\n",
		st.Metrics.TranslateFail, st.Metrics.TTSFail, st.Metrics.MuxFail)
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show server status, backends and failure counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			var raw json.RawMessage
			if err := client.getJSON(cmd.Context(), "/api/v1/status", &raw); err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, raw)
			}
			var st statusReport
			if err := json.Unmarshal(raw, &st); err != nil {
				return fmt.Errorf("decode status: %w", err)
			}
			printStatus(cmd.OutOrStdout(), st)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw status document")
	return cmd
}

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var req pipeline.Request
	var queue string

	cmd := &cobra.Command{
		Use:   "submit <path>",
		Short: "Queue a job over AMQP for a file the server can read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if req.JobID != "" && !pipeline.ValidJobID(req.JobID) {
				return fmt.Errorf("--job-id %q: use 1-64 letters, digits, '-' or '_'", req.JobID)
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if cfg.AMQPURL == "" {
				return errors.New("AMQP_URL is not configured")
			}
			if queue == "" {
				queue = cfg.AMQPQueue
			}
			req.InputPath, err = filepath.Abs(args[0])
			if err != nil {
				return fmt.Errorf("resolve path: %w", err)
			}
			body, err := json.Marshal(req)
			if err != nil {
				return err
			}

			producer, err := ingest.NewAMQPProducer(cfg.AMQPURL)
			if err != nil {
				return err
			}
			defer producer.Close()
			if err := producer.Publish(cmd.Context(), queue, body); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Queued %s on %s\n", filepath.Base(req.InputPath), queue)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.SrcLang, "src", "", "Source language")
	cmd.Flags().StringVar(&req.DstLang, "dst", "", "Target language")
	cmd.Flags().BoolVar(&req.AudioOnly, "audio-only", false, "Skip muxing")
	cmd.Flags().StringVar(&req.JobID, "job-id", "", "Job ID (generated when empty)")
	cmd.Flags().StringVar(&queue, "queue", "", "AMQP queue (default AMQP_QUEUE)")
	return cmd
}

func newProfileCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "profile <reference.wav>",
		Short: "Print the voice profile of a reference recording",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			p, err := voice.AnalyzeFile(args[0], cfg.SampleRate)
			if err != nil && !errors.Is(err, voice.ErrSilent) {
				return err
			}
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "warning:", err)
			}
			return writeJSON(cmd, p)
		},
	}
}
