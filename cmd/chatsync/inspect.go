package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"chatsync/pkg/state"
	"chatsync/pkg/store"
	"chatsync/pkg/store/keys"
)

var inspectOpts struct {
	dump bool
}

var inspectCmd = &cobra.Command{
	Use:   "inspect [db-path]",
	Short: "Summarize the local cache",
	Long: `inspect lists cached channels with their message counts. The daemon
must be stopped since the cache is opened exclusively.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return inspectDatabase(cmd.OutOrStdout(), args[0], inspectOpts.dump)
	},
}

func init() {
	inspectCmd.Flags().BoolVar(&inspectOpts.dump, "dump", false, "print every raw key with its decoded fields")
	rootCmd.AddCommand(inspectCmd)
}

func inspectDatabase(w io.Writer, dbPath string, dump bool) error {
	path := state.PathsFor(dbPath).Store
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("no cache at %s: %w", dbPath, err)
	}
	db, err := store.Open(path)
	if err != nil {
		return err
	}
	defer db.Close()

	chs, err := db.ListChannels()
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tMESSAGES\tLAST ACTIVITY")
	var total int
	for _, ch := range chs {
		n, err := db.Count(ch.ID)
		if err != nil {
			return err
		}
		total += n
		last := "-"
		if ch.LastActivity != nil {
			last = humanize.Time(*ch.LastActivity)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", ch.ID, ch.Name, humanize.Comma(int64(n)), last)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "\n%d channels, %s messages, %s on disk\n",
		len(chs), humanize.Comma(int64(total)), humanize.Bytes(db.DiskUsage()))
	if avail, size, err := state.DiskStats(path); err == nil {
		fmt.Fprintf(w, "filesystem: %s free of %s\n", humanize.Bytes(avail), humanize.Bytes(size))
	}

	if !dump {
		return nil
	}
	fmt.Fprintln(w)
	return db.Dump(func(key, value []byte) error {
		_, err := fmt.Fprintf(w, "%s\t%s\t%s\n", key, describeKey(string(key)), humanize.Bytes(uint64(len(value))))
		return err
	})
}

// describeKey decodes a raw cache key into its fields. Keys that do not
// parse are reported as such rather than aborting the dump.
func describeKey(key string) string {
	switch {
	case key == keys.SystemVersionKey:
		return "schema version"
	case strings.HasPrefix(key, "c:"):
		id, err := keys.ParseChannelKey(key)
		if err != nil {
			return "malformed channel key"
		}
		return "channel=" + id
	case strings.HasPrefix(key, "m:"):
		ch, id, err := keys.ParseMessageKey(key)
		if err != nil {
			return "malformed message key"
		}
		return fmt.Sprintf("channel=%s message=%s", ch, id)
	case strings.HasPrefix(key, "idx:"):
		p, err := keys.ParseIndexKey(key)
		if err != nil {
			return "malformed index key"
		}
		return fmt.Sprintf("channel=%s created=%s message=%s",
			p.ChannelID, p.Created.Format(time.RFC3339Nano), p.MessageID)
	}
	return "unknown"
}
