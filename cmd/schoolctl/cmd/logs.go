package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"school-service/internal/audit"
	"school-service/internal/client"
	"school-service/internal/util"
)

var logsCmd = &cobra.Command{
	Use:     "logs",
	Aliases: []string{"audit"},
	Short:   "Read the audit trail",
}

var logsRecentCmd = &cobra.Command{
	Use:   "recent",
	Short: "Print recent events from the audit log files",
	RunE:  runLogsRecent,
}

var logsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarise the audit log files",
	RunE:  runLogsStats,
}

var logsSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search audit events indexed in Elasticsearch",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogsSearch,
}

var logsTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Follow audit events on the Kafka topic",
	RunE:  runLogsTail,
}

func init() {
	logsRecentCmd.Flags().String("category", "SECURITY", "Event category")
	logsRecentCmd.Flags().Int("limit", 50, "Maximum events")
	logsRecentCmd.Flags().Duration("since", 24*time.Hour, "How far back to read")

	logsStatsCmd.Flags().Duration("since", 24*time.Hour, "Window to summarise")
	logsStatsCmd.Flags().Bool("clickhouse", false, "Also count events per category in ClickHouse")

	logsSearchCmd.Flags().Int("size", 20, "Maximum hits")

	logsTailCmd.Flags().String("group", "", "Consumer group (default: a fresh group per run)")
	logsTailCmd.Flags().String("level", "DEBUG", "Minimum level to print")

	logsCmd.AddCommand(logsRecentCmd, logsStatsCmd, logsSearchCmd, logsTailCmd)
}

func openAuditFiles() (*audit.FileWriter, error) {
	return audit.NewFileWriter(audit.FileWriterOptions{
		Dir:         cfg.Logging.AuditDir,
		MaxFileSize: cfg.Logging.AuditMaxFileSize,
		MaxFiles:    cfg.Logging.AuditMaxFiles,
	})
}

func runLogsRecent(cmd *cobra.Command, args []string) error {
	name, _ := cmd.Flags().GetString("category")
	limit, _ := cmd.Flags().GetInt("limit")
	since, _ := cmd.Flags().GetDuration("since")

	category, err := audit.ParseCategory(name)
	if err != nil {
		return err
	}
	files, err := openAuditFiles()
	if err != nil {
		return err
	}
	defer files.Close()

	now := time.Now().UTC()
	events, err := files.Recent(category, limit, now.Add(-since), now)
	if err != nil {
		return err
	}
	return printEvents(cmd, events)
}

func runLogsStats(cmd *cobra.Command, args []string) error {
	since, _ := cmd.Flags().GetDuration("since")
	useCH, _ := cmd.Flags().GetBool("clickhouse")

	files, err := openAuditFiles()
	if err != nil {
		return err
	}
	defer files.Close()

	now := time.Now().UTC()
	st, err := audit.CollectStats(files, since, now, 100000)
	if err != nil {
		return err
	}

	out := map[string]any{"files": st}
	if useCH {
		ch, err := client.NewClickHouseClient(cfg, util.Get())
		if err != nil {
			return err
		}
		defer ch.Close()
		counts, err := ch.CountByCategory(cmd.Context(), cfg.Clickhouse.AuditTable, now.Add(-since))
		if err != nil {
			return err
		}
		out["clickhouse"] = counts
	}

	if flagOutput == "json" {
		return printJSON(cmd.OutOrStdout(), out)
	}
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Window:            %s .. %s\n", st.From.Format(time.RFC3339), st.To.Format(time.RFC3339))
	fmt.Fprintf(w, "Requests:          %d\n", st.TotalRequests)
	fmt.Fprintf(w, "Successful logins: %d\n", st.SuccessfulLogins)
	fmt.Fprintf(w, "Failed logins:     %d\n", st.FailedLogins)
	fmt.Fprintf(w, "Security events:   %d\n", st.SecurityEvents)
	for _, addr := range st.SuspiciousAddresses {
		fmt.Fprintf(w, "Suspicious:        %s\n", addr)
	}
	for _, ep := range st.TopEndpoints {
		fmt.Fprintf(w, "  %6d  %s\n", ep.Count, ep.Endpoint)
	}
	if counts, ok := out["clickhouse"].(map[string]uint64); ok {
		cats := make([]string, 0, len(counts))
		for c := range counts {
			cats = append(cats, c)
		}
		sort.Strings(cats)
		fmt.Fprintln(w, "ClickHouse:")
		for _, c := range cats {
			fmt.Fprintf(w, "  %-9s %d\n", c, counts[c])
		}
	}
	return nil
}

func runLogsSearch(cmd *cobra.Command, args []string) error {
	size, _ := cmd.Flags().GetInt("size")

	es, err := client.NewElasticsearchClient(cfg, util.Get())
	if err != nil {
		return err
	}
	defer es.Close()

	hits, err := es.Search(cmd.Context(), cfg.Elasticsearch.AuditIndex+"-*", map[string]interface{}{
		"size": size,
		"sort": []interface{}{map[string]interface{}{"timestamp": "desc"}},
		"query": map[string]interface{}{
			"query_string": map[string]interface{}{"query": args[0]},
		},
	})
	if err != nil {
		return err
	}

	events := make([]audit.Event, 0, len(hits))
	for _, h := range hits {
		var e audit.Event
		if err := json.Unmarshal(h, &e); err != nil {
			util.Debug("Skipping unreadable hit", util.ErrorField(err))
			continue
		}
		events = append(events, e)
	}
	return printEvents(cmd, events)
}

func runLogsTail(cmd *cobra.Command, args []string) error {
	group, _ := cmd.Flags().GetString("group")
	levelName, _ := cmd.Flags().GetString("level")
	minLevel, err := audit.ParseLevel(levelName)
	if err != nil {
		return err
	}
	if group == "" {
		group = "schoolctl-" + uuid.NewString()
	}

	consumer, err := client.NewKafkaConsumer(cfg, cfg.Kafka.AuditTopic, group, util.Get())
	if err != nil {
		return err
	}
	defer consumer.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for {
		msg, err := consumer.ConsumeMessage(ctx)
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil
		}
		if err != nil {
			return err
		}
		var e audit.Event
		if err := json.Unmarshal(msg.Value, &e); err != nil {
			util.Debug("Skipping unreadable message", util.ErrorField(err))
			continue
		}
		if !e.Level.AtLeast(minLevel) {
			continue
		}
		if err := printEvents(cmd, []audit.Event{e}); err != nil {
			return err
		}
	}
}

func printEvents(cmd *cobra.Command, events []audit.Event) error {
	if flagOutput == "json" {
		return printJSON(cmd.OutOrStdout(), events)
	}
	for _, e := range events {
		fmt.Fprintln(cmd.OutOrStdout(), audit.FormatLine(e))
	}
	return nil
}
