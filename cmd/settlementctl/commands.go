package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/angelmondragon/tradeline-backend/internal/cron"
	"github.com/angelmondragon/tradeline-backend/internal/refunds"
	"github.com/angelmondragon/tradeline-backend/pkg/auth"
	"github.com/angelmondragon/tradeline-backend/pkg/config"
	"github.com/angelmondragon/tradeline-backend/pkg/enums"
	"github.com/angelmondragon/tradeline-backend/pkg/money"
	"github.com/angelmondragon/tradeline-backend/pkg/pagination"
)

// cli carries the seams tests replace: config loading, backend wiring, the
// clock and the output stream.
type cli struct {
	out        io.Writer
	now        func() time.Time
	loadConfig func() (*config.Config, error)
	connect    func(ctx context.Context, cfg *config.Config) (*backend, error)
}

func newCLI(out io.Writer) *cli {
	return &cli{
		out:        out,
		now:        time.Now,
		loadConfig: config.Load,
		connect:    connect,
	}
}

// withBackend loads config, connects, runs fn and closes the connections.
func (c *cli) withBackend(cmd *cobra.Command, fn func(ctx context.Context, b *backend) error) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	b, err := c.connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()
	return fn(ctx, b)
}

func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:           "settlementctl",
		Short:         "Operate the escrow settlement engine",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		jobsCmd(c),
		tokenCmd(c),
		payoutsCmd(c),
		refundsCmd(c),
		unmatchedCmd(c),
		verifyCmd(c),
		outboxCmd(c),
	)
	return root
}

func parseID(kind, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s %q", kind, raw)
	}
	return id, nil
}

func adminFlag(cmd *cobra.Command, target *string) {
	cmd.Flags().StringVar(target, "admin", "", "acting admin user id (recorded on the audit trail)")
	_ = cmd.MarkFlagRequired("admin")
}

func jobsCmd(c *cli) *cobra.Command {
	jobs := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and run scheduled settlement jobs",
	}
	jobs.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List jobs in cycle order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withBackend(cmd, func(_ context.Context, b *backend) error {
				for _, name := range b.JobNames {
					fmt.Fprintln(c.out, name)
				}
				return nil
			})
		},
	})
	jobs.AddCommand(&cobra.Command{
		Use:   "run [job]",
		Short: "Run one job, or a full cycle when no job is named",
		Long: `Run takes the same Redis lock as the cron worker, so it fails fast
instead of overlapping a scheduled cycle.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			return c.withBackend(cmd, func(ctx context.Context, b *backend) error {
				err := b.Jobs.RunOnce(ctx, name)
				if errors.Is(err, cron.ErrLocked) {
					return fmt.Errorf("cron worker is mid-cycle, retry shortly: %w", err)
				}
				if err != nil {
					return err
				}
				if name == "" {
					name = "full cycle"
				}
				fmt.Fprintf(c.out, "%s completed\n", name)
				return nil
			})
		},
	})
	return jobs
}

func tokenCmd(c *cli) *cobra.Command {
	token := &cobra.Command{
		Use:   "token",
		Short: "Mint and revoke access tokens for operators and integration tests",
	}

	var (
		userID string
		role   string
		ttl    time.Duration
		jti    string
	)
	mint := &cobra.Command{
		Use:   "mint",
		Short: "Mint a signed access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := parseID("user id", userID)
			if err != nil {
				return err
			}
			parsedRole, err := enums.ParseUserRole(role)
			if err != nil {
				return err
			}
			cfg, err := c.loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			signed, err := auth.MintAccessToken(cfg.JWT, c.now(), ttl, auth.AccessTokenPayload{
				UserID: id,
				Role:   parsedRole,
				JTI:    jti,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(c.out, signed)
			return nil
		},
	}
	mint.Flags().StringVar(&userID, "user", "", "user id carried in the token")
	mint.Flags().StringVar(&role, "role", string(enums.UserRoleAdmin), "user or admin")
	mint.Flags().DurationVar(&ttl, "ttl", 15*time.Minute, "token lifetime")
	mint.Flags().StringVar(&jti, "jti", "", "token id; random when empty")
	_ = mint.MarkFlagRequired("user")

	var revokeTTL time.Duration
	revoke := &cobra.Command{
		Use:   "revoke [jti]",
		Short: "Revoke a token id until it would have expired",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if revokeTTL <= 0 {
				return errors.New("--ttl must be positive")
			}
			return c.withBackend(cmd, func(ctx context.Context, b *backend) error {
				expiresAt := c.now().Add(revokeTTL)
				if err := b.Revocations.Revoke(ctx, args[0], expiresAt); err != nil {
					return err
				}
				fmt.Fprintf(c.out, "revoked %s until %s\n", args[0], expiresAt.UTC().Format(time.RFC3339))
				return nil
			})
		},
	}
	revoke.Flags().DurationVar(&revokeTTL, "ttl", 24*time.Hour, "how long the revocation is kept")

	token.AddCommand(mint, revoke)
	return token
}

func payoutsCmd(c *cli) *cobra.Command {
	payouts := &cobra.Command{
		Use:   "payouts",
		Short: "Force payouts and finish OTP-gated transfers",
	}

	var forceAdmin string
	force := &cobra.Command{
		Use:   "force [transaction-id]",
		Short: "Release escrow to the seller without buyer confirmation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			txID, err := parseID("transaction id", args[0])
			if err != nil {
				return err
			}
			adminID, err := parseID("admin id", forceAdmin)
			if err != nil {
				return err
			}
			return c.withBackend(cmd, func(ctx context.Context, b *backend) error {
				result, err := b.Payouts.ForcePayout(ctx, txID, adminID)
				if err != nil {
					return err
				}
				return c.printJSON(result)
			})
		},
	}
	adminFlag(force, &forceAdmin)

	var otpAdmin string
	finalize := &cobra.Command{
		Use:   "finalize-otp [transaction-id] [otp]",
		Short: "Complete a transfer the gateway held for OTP",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			txID, err := parseID("transaction id", args[0])
			if err != nil {
				return err
			}
			adminID, err := parseID("admin id", otpAdmin)
			if err != nil {
				return err
			}
			return c.withBackend(cmd, func(ctx context.Context, b *backend) error {
				result, err := b.Payouts.FinalizeOTP(ctx, txID, adminID, strings.TrimSpace(args[1]))
				if err != nil {
					return err
				}
				return c.printJSON(result)
			})
		},
	}
	adminFlag(finalize, &otpAdmin)

	balance := &cobra.Command{
		Use:   "balance",
		Short: "Show the spendable gateway balance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withBackend(cmd, func(ctx context.Context, b *backend) error {
				kobo, err := b.Payouts.Balance(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(c.out, money.FormatNaira(kobo))
				return nil
			})
		},
	}

	payouts.AddCommand(force, finalize, balance)
	return payouts
}

func refundsCmd(c *cli) *cobra.Command {
	refundsRoot := &cobra.Command{
		Use:   "refunds",
		Short: "Review buyer refund requests",
	}

	var limit int
	var cursor string
	list := &cobra.Command{
		Use:   "list",
		Short: "List pending refund requests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withBackend(cmd, func(ctx context.Context, b *backend) error {
				page, err := b.Refunds.ListPending(ctx, pagination.Params{Limit: limit, Cursor: cursor})
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tTRANSACTION\tREQUESTED\tREASON")
				for _, item := range page.Items {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", item.ID, item.TransactionID, item.CreatedAt.UTC().Format(time.RFC3339), item.Reason)
				}
				if err := w.Flush(); err != nil {
					return err
				}
				if page.Cursor != "" {
					fmt.Fprintf(c.out, "next cursor: %s\n", page.Cursor)
				}
				return nil
			})
		},
	}
	list.Flags().IntVar(&limit, "limit", 25, "page size")
	list.Flags().StringVar(&cursor, "cursor", "", "cursor from a previous page")

	var resolveAdmin, note string
	resolve := &cobra.Command{
		Use:   "resolve [refund-id] [approve|deny]",
		Short: "Approve or deny a pending refund request",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			requestID, err := parseID("refund id", args[0])
			if err != nil {
				return err
			}
			decision, err := refunds.ParseDecision(args[1])
			if err != nil {
				return err
			}
			adminID, err := parseID("admin id", resolveAdmin)
			if err != nil {
				return err
			}
			return c.withBackend(cmd, func(ctx context.Context, b *backend) error {
				request, err := b.Refunds.ResolveRefund(ctx, requestID, decision, adminID, strings.TrimSpace(note))
				if err != nil {
					return err
				}
				return c.printJSON(request)
			})
		},
	}
	adminFlag(resolve, &resolveAdmin)
	resolve.Flags().StringVar(&note, "note", "", "resolution note shown to the buyer")

	refundsRoot.AddCommand(list, resolve)
	return refundsRoot
}

func unmatchedCmd(c *cli) *cobra.Command {
	unmatched := &cobra.Command{
		Use:   "unmatched",
		Short: "Work the queue of payments that matched no transaction",
	}

	var (
		all    bool
		limit  int
		cursor string
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List unmatched payment events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withBackend(cmd, func(ctx context.Context, b *backend) error {
				page, err := b.Reconciliation.ListUnmatched(ctx, !all, pagination.Params{Limit: limit, Cursor: cursor})
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tGATEWAY EVENT\tAMOUNT\tREASON\tHIGH VALUE\tRESOLVED")
				for _, item := range page.Items {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%t\n", item.ID, item.GatewayEventID, money.FormatNaira(item.AmountKobo), item.Reason, item.HighValue, item.ResolvedAt != nil)
				}
				if err := w.Flush(); err != nil {
					return err
				}
				if page.Cursor != "" {
					fmt.Fprintf(c.out, "next cursor: %s\n", page.Cursor)
				}
				return nil
			})
		},
	}
	list.Flags().BoolVar(&all, "all", false, "include resolved events")
	list.Flags().IntVar(&limit, "limit", 25, "page size")
	list.Flags().StringVar(&cursor, "cursor", "", "cursor from a previous page")

	var assignAdmin string
	assign := &cobra.Command{
		Use:   "assign [event-id] [transaction-id]",
		Short: "Attach an unmatched payment to a transaction awaiting payment",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			eventID, err := parseID("event id", args[0])
			if err != nil {
				return err
			}
			txID, err := parseID("transaction id", args[1])
			if err != nil {
				return err
			}
			adminID, err := parseID("admin id", assignAdmin)
			if err != nil {
				return err
			}
			return c.withBackend(cmd, func(ctx context.Context, b *backend) error {
				result, err := b.Reconciliation.AssignUnmatched(ctx, eventID, txID, adminID)
				if err != nil {
					return err
				}
				return c.printJSON(result)
			})
		},
	}
	adminFlag(assign, &assignAdmin)

	unmatched.AddCommand(list, assign)
	return unmatched
}

func verifyCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "verify [payment-reference]",
		Short: "Ask the gateway for a payment's status and reconcile it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reference := strings.TrimSpace(args[0])
			if reference == "" {
				return errors.New("payment reference is required")
			}
			return c.withBackend(cmd, func(ctx context.Context, b *backend) error {
				result, err := b.Reconciliation.VerifyByReference(ctx, reference)
				if err != nil {
					return err
				}
				return c.printJSON(result)
			})
		},
	}
}

func outboxCmd(c *cli) *cobra.Command {
	outboxRoot := &cobra.Command{
		Use:   "outbox",
		Short: "Inspect and replay events the publisher dead-lettered",
	}

	var (
		limit  int
		reason string
	)
	list := &cobra.Command{
		Use:   "dead-letters",
		Short: "List dead-lettered events, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var filter enums.OutboxDLQErrorReason
			if reason != "" {
				parsed, err := enums.ParseOutboxDLQErrorReason(reason)
				if err != nil {
					return err
				}
				filter = parsed
			}
			return c.withBackend(cmd, func(ctx context.Context, b *backend) error {
				rows, err := b.DeadLetters.List(ctx, limit, filter)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "EVENT\tTYPE\tAGGREGATE\tREASON\tATTEMPTS\tFAILED AT\tERROR")
				for _, row := range rows {
					msg := ""
					if row.ErrorMessage != nil {
						msg = *row.ErrorMessage
						if len(msg) > 60 {
							msg = msg[:60] + "..."
						}
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n", row.EventID, row.EventType, row.AggregateID, row.ErrorReason, row.AttemptCount, row.FailedAt.UTC().Format(time.RFC3339), msg)
				}
				return w.Flush()
			})
		},
	}
	list.Flags().IntVar(&limit, "limit", 50, "maximum rows to show")
	list.Flags().StringVar(&reason, "reason", "", "only show max_attempts, non_retryable or undecodable")

	replay := &cobra.Command{
		Use:   "replay [event-id]",
		Short: "Requeue a dead-lettered event for publishing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eventID, err := parseID("event id", args[0])
			if err != nil {
				return err
			}
			return c.withBackend(cmd, func(ctx context.Context, b *backend) error {
				entry, err := b.DeadLetters.Replay(ctx, eventID)
				if err != nil {
					return err
				}
				fmt.Fprintf(c.out, "requeued %s (%s, was %s)\n", entry.EventID, entry.EventType, entry.ErrorReason)
				return nil
			})
		},
	}

	outboxRoot.AddCommand(list, replay)
	return outboxRoot
}
