package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/semmidev/keepsake/internal/app"
	"github.com/semmidev/keepsake/internal/domain"
)

func runCommand(ctx context.Context, a *app.App, out io.Writer, args []string) error {
	cmd, rest := args[0], args[1:]
	need := func(n int) error {
		if len(rest) < n {
			return fmt.Errorf("%s: expected %d argument(s), got %d", cmd, n, len(rest))
		}
		return nil
	}

	admin := a.Admin()
	switch cmd {
	case "status":
		if err := need(1); err != nil {
			return err
		}
		st, err := admin.GetStatus(ctx, rest[0])
		if err != nil {
			return err
		}
		printStatus(out, st)

	case "backups":
		if err := need(1); err != nil {
			return err
		}
		backups, err := admin.ListBackups(ctx, rest[0])
		if err != nil {
			return err
		}
		printBackups(out, backups)

	case "rollbacks":
		if err := need(1); err != nil {
			return err
		}
		rollbacks, err := admin.ListRollbacks(ctx, rest[0])
		if err != nil {
			return err
		}
		printRollbacks(out, rollbacks)

	case "trigger":
		if err := need(1); err != nil {
			return err
		}
		b, err := admin.TriggerBackupNow(ctx, rest[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "dispatched backup %s, waiting...\n", b.ID)
		a.Wait()

		backups, err := admin.ListBackups(ctx, rest[0])
		if err != nil {
			return err
		}
		printBackups(out, backups[:min(1, len(backups))])

	case "rollback":
		if err := need(2); err != nil {
			return err
		}
		reason := strings.Join(rest[2:], " ")
		rb, err := admin.TriggerRollback(ctx, rest[0], rest[1], reason)
		if rb != nil {
			printRollbacks(out, []domain.Rollback{*rb})
		}
		return err

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

func printStatus(out io.Writer, st *domain.ResourceStatus) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintf(w, "resource\t%s\n", st.ResourceID)
	if st.Policy != nil {
		fmt.Fprintf(w, "tool\t%s\n", st.Policy.Tool)
		if st.Policy.Schedule != "" {
			fmt.Fprintf(w, "schedule\t%s\n", st.Policy.Schedule)
		} else {
			fmt.Fprintf(w, "frequency\t%s\n", st.Policy.Frequency)
		}
		fmt.Fprintf(w, "copies\t%d\n", st.Policy.Copies)
		fmt.Fprintf(w, "retention\t%s\n", st.Policy.RetentionPeriod)
	} else {
		fmt.Fprintf(w, "policy\tnone\n")
	}
	if st.LastRun != nil {
		fmt.Fprintf(w, "last run\t%s (%s)\n", formatTime(st.LastRun.StartedAt), st.LastRun.Status)
	}
	if st.LastSuccessful != nil {
		fmt.Fprintf(w, "last success\t%s %s\n", formatTime(st.LastSuccessful.StartedAt), st.LastSuccessful.Location)
	}
	if st.NextDue != nil {
		fmt.Fprintf(w, "next due\t%s\n", formatTime(*st.NextDue))
	}
	fmt.Fprintf(w, "locked\t%t\n", st.Locked)
}

func printBackups(out io.Writer, backups []domain.Backup) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "ID\tSTARTED\tSTATUS\tSIZE\tLOCATION\tCAUSE")
	for _, b := range backups {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n", b.ID, formatTime(b.StartedAt), b.Status, b.Size, b.Location, b.Cause)
	}
}

func printRollbacks(out io.Writer, rollbacks []domain.Rollback) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "ID\tCREATED\tBACKUP\tSTATUS\tREASON\tCAUSE")
	for _, r := range rollbacks {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", r.ID, formatTime(r.CreatedAt), r.BackupID, r.Status, r.Reason, r.Cause)
	}
}

func formatTime(t time.Time) string {
	return t.Local().Format("2006-01-02 15:04:05")
}
