package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/iliyamo/presensi-qr/internal/config"
	"github.com/iliyamo/presensi-qr/internal/jobs"
	"github.com/iliyamo/presensi-qr/internal/qrtoken"
	"github.com/iliyamo/presensi-qr/internal/repository"
	"github.com/iliyamo/presensi-qr/internal/service"
)

func clock(hm config.HourMinute) service.Clock {
	return service.Clock{Hour: hm.Hour, Minute: hm.Minute}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func allowanceCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "allowance",
		Short: "Meal allowance payroll",
	}
	cmd.AddCommand(allowanceSummaryCmd(a))
	cmd.AddCommand(allowanceMarkPaidCmd(a))
	return cmd
}

// rangeFlags reads --start/--end as RFC 3339 instants or site dates.
func (a *app) rangeFlags(start, end string) (time.Time, time.Time, error) {
	s, err := a.zone.ParseBound(start, false)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("--start: %w", err)
	}
	e, err := a.zone.ParseBound(end, true)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("--end: %w", err)
	}
	return s, e, nil
}

func allowanceSummaryCmd(a *app) *cobra.Command {
	var start, end string
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Total unpaid eligible allowances (default: last 14 days)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (start == "") != (end == "") {
				return fmt.Errorf("--start and --end must be given together")
			}
			db, err := a.open()
			if err != nil {
				return err
			}
			svc := service.NewAllowanceService(repository.NewAllowanceRepo(db))
			from, to := svc.DefaultRange()
			if start != "" {
				if from, to, err = a.rangeFlags(start, end); err != nil {
					return err
				}
			}
			ctx, cancel := a.context(cmd)
			defer cancel()
			sum, err := svc.SummarizeUnpaid(ctx, from, to)
			if err != nil {
				return err
			}
			return printJSON(cmd, sum)
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "range start, RFC 3339 or YYYY-MM-DD")
	cmd.Flags().StringVar(&end, "end", "", "range end, RFC 3339 or YYYY-MM-DD (inclusive)")
	return cmd
}

func allowanceMarkPaidCmd(a *app) *cobra.Command {
	var start, end, userID string
	cmd := &cobra.Command{
		Use:   "mark-paid",
		Short: "Mark unpaid eligible allowances in a range as paid",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			from, to, err := a.rangeFlags(start, end)
			if err != nil {
				return err
			}
			db, err := a.open()
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd)
			defer cancel()
			svc := service.NewAllowanceService(repository.NewAllowanceRepo(db))
			n, err := svc.MarkPaid(ctx, service.Selector{Start: from, End: to, UserID: strings.TrimSpace(userID)})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "marked %d allowance(s) paid between %s and %s\n",
				n, from.Format(time.RFC3339Nano), to.Format(time.RFC3339Nano))
			return nil
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "range start, RFC 3339 or YYYY-MM-DD")
	cmd.Flags().StringVar(&end, "end", "", "range end, RFC 3339 or YYYY-MM-DD (inclusive)")
	cmd.Flags().StringVar(&userID, "user", "", "only this user id")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func summaryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Attendance rollups",
	}
	var cutoff string
	today := &cobra.Command{
		Use:   "today",
		Short: "Count today's on-time, late and absent active users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.open()
			if err != nil {
				return err
			}
			svc := service.NewSummaryService(repository.NewUserRepo(db), repository.NewAttendanceRepo(db), a.zone,
				clock(a.cfg.Engine.SummaryCutoff))
			cut := svc.DefaultCutoff()
			if cutoff != "" {
				hm, err := config.ParseHourMinute(cutoff)
				if err != nil {
					return fmt.Errorf("--cutoff: %w", err)
				}
				cut = clock(hm)
			}
			ctx, cancel := a.context(cmd)
			defer cancel()
			sum, err := svc.Today(ctx, cut)
			if err != nil {
				return err
			}
			return printJSON(cmd, sum)
		},
	}
	today.Flags().StringVar(&cutoff, "cutoff", "", "on-time cutoff HH:MM (default $SUMMARY_CUTOFF)")
	cmd.AddCommand(today)
	return cmd
}

func sweepCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Close records from earlier days that were never checked out",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.open()
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd)
			defer cancel()
			n, err := jobs.NewSweeper(repository.NewAttendanceRepo(db), a.zone, a.log).Run(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "closed %d open record(s)\n", n)
			return nil
		},
	}
}

func (a *app) codec() (*qrtoken.Codec, error) {
	codec, err := qrtoken.New(a.cfg.Engine.QRSecret, config.LoadQRConfig().Validity)
	if err != nil {
		return nil, fmt.Errorf("%w (set QR_SECRET or JWT_SECRET)", err)
	}
	return codec, nil
}

func qrCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "qr",
		Short: "QR tokens",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "issue <user-id>",
		Short: "Print a fresh QR payload for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			codec, err := a.codec()
			if err != nil {
				return err
			}
			tok, ttl, err := codec.Encode(args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"qr": tok, "expires_in_ms": ttl.Milliseconds()})
		},
	})
	return cmd
}

func scanCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "scan <qr>",
		Short: "Record a scan as a checkpoint would",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			codec, err := a.codec()
			if err != nil {
				return err
			}
			db, err := a.open()
			if err != nil {
				return err
			}
			policy := service.Policy{
				Zone:            a.zone,
				OnTime:          clock(a.cfg.Engine.OnTimeCutoff),
				Allowance:       clock(a.cfg.Engine.AllowanceCutoff),
				AllowanceAmount: a.cfg.Engine.AllowanceAmount,
			}
			scanner := service.NewScanner(codec, repository.NewUserRepo(db),
				service.SQLScanStore{Repo: repository.NewAttendanceRepo(db)}, policy, nil, a.log)
			ctx, cancel := a.context(cmd)
			defer cancel()
			res, err := scanner.Scan(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
}
