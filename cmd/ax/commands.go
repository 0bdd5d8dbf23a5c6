package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"assignx/internal/domain"
	"assignx/internal/engine"
	"assignx/internal/gateway"
	"assignx/internal/lifecycle"
	"assignx/internal/repo"
	"assignx/internal/server"
)

func actorCmd() *cobra.Command {
	c := &cobra.Command{Use: "actor", Short: "Manage actors and credentials"}

	var id, role, name string
	bootstrap := &cobra.Command{
		Use:   "bootstrap",
		Short: "Register an actor without RBAC checks (seeding only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.BootstrapActor(ctx, domain.Actor{ID: id, Role: role, Name: name})
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	bootstrap.Flags().StringVar(&id, "id", "", "actor id")
	bootstrap.Flags().StringVar(&role, "role", "", "client, worker, intermediary or admin")
	bootstrap.Flags().StringVar(&name, "name", "", "display name")
	_ = bootstrap.MarkFlagRequired("id")
	_ = bootstrap.MarkFlagRequired("role")

	var regID, regRole, regName string
	register := &cobra.Command{
		Use:   "register",
		Short: "Register an actor (admin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.RegisterActor(ctx, domain.Actor{ID: regID, Role: regRole, Name: regName}, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	register.Flags().StringVar(&regID, "id", "", "actor id")
	register.Flags().StringVar(&regRole, "role", "", "client, worker, intermediary or admin")
	register.Flags().StringVar(&regName, "name", "", "display name")

	var listRole string
	list := &cobra.Command{
		Use:   "list",
		Short: "List actors",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListActors(ctx, listRole)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	list.Flags().StringVar(&listRole, "role", "", "role filter")

	var keyName string
	key := &cobra.Command{
		Use:   "key <actor>",
		Short: "Create an API key; the raw key is printed once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				raw, k, err := e.CreateAPIKey(ctx, args[0], keyName, actorID())
				if err != nil {
					return err
				}
				return printJSON(server.APIKeyResponse{Key: raw, APIKey: k})
			})
		},
	}
	key.Flags().StringVar(&keyName, "name", "", "key label")

	var ttl time.Duration
	token := &cobra.Command{
		Use:   "token <actor>",
		Short: "Mint a bearer token signed with ASSIGNX_JWT_SECRET",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.GetActor(ctx, args[0])
				if err != nil {
					return err
				}
				tok, err := server.IssueToken(viper.GetString("jwt_secret"), a.ID, a.Role, ttl, time.Now())
				if err != nil {
					return err
				}
				fmt.Println(tok)
				return nil
			})
		},
	}
	token.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")

	keys := &cobra.Command{
		Use:   "keys <actor>",
		Short: "List API keys of an actor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListAPIKeys(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printJSON(items)
			})
		},
	}

	revoke := &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.RevokeAPIKey(ctx, args[0], actorID()); err != nil {
					return err
				}
				fmt.Printf("revoked %s\n", args[0])
				return nil
			})
		},
	}

	c.AddCommand(bootstrap, register, list, key, keys, revoke, token)
	return c
}

func projectCmd() *cobra.Command {
	c := &cobra.Command{Use: "project", Short: "Submit and move projects"}

	var opts engine.SubmitProjectOptions
	submit := &cobra.Command{
		Use:   "submit",
		Short: "Submit a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = actorID()
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printProject(e.SubmitProject(ctx, opts))
			})
		},
	}
	submit.Flags().StringVar(&opts.ClientID, "client", "", "client id (defaults to the actor)")
	submit.Flags().StringVar(&opts.IntermediaryID, "intermediary", "", "intermediary id")
	submit.Flags().StringVar(&opts.ServiceType, "service", "full_project", "full_project, proofreading, report or consultation")
	submit.Flags().StringVar(&opts.Subject, "subject", "", "subject")
	submit.Flags().StringVar(&opts.Description, "description", "", "description")
	submit.Flags().IntVar(&opts.WordCount, "words", 0, "word count")
	submit.Flags().StringVar(&opts.Deadline, "deadline", "", "deadline (RFC3339)")
	submit.Flags().StringVar(&opts.Urgency, "urgency", "standard", "standard, urgent or express")
	submit.Flags().BoolVar(&opts.Draft, "draft", false, "save as draft")
	_ = submit.MarkFlagRequired("subject")
	_ = submit.MarkFlagRequired("words")
	_ = submit.MarkFlagRequired("deadline")

	var f repo.ProjectFilters
	list := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListProjects(ctx, f)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	list.Flags().StringVar(&f.Status, "status", "", "status filter")
	list.Flags().StringVar(&f.ClientID, "client", "", "client filter")
	list.Flags().StringVar(&f.WorkerID, "worker", "", "worker filter")
	list.Flags().StringVar(&f.IntermediaryID, "intermediary", "", "intermediary filter")
	list.Flags().IntVar(&f.Limit, "limit", 50, "page size")

	show := &cobra.Command{
		Use:   "show <project>",
		Short: "Show a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := projectArg(args)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printProject(e.GetProject(ctx, id))
			})
		},
	}

	summary := &cobra.Command{
		Use:   "summary <project>",
		Short: "Project with quote, payment, timer and ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := projectArg(args)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.Summary(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(s)
			})
		},
	}

	var amount int64
	var notes string
	quote := &cobra.Command{
		Use:   "quote <project>",
		Short: "Issue or revise the client quote (paise)",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := projectArg(args)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				q, err := e.IssueQuote(ctx, id, amount, notes, actorID())
				if err != nil {
					return err
				}
				fmt.Printf("Quoted %s\n", money(q.Amount))
				return printJSONOrTable(q)
			})
		},
	}
	quote.Flags().Int64Var(&amount, "amount", 0, "amount in paise")
	quote.Flags().StringVar(&notes, "notes", "", "notes for the client")
	_ = quote.MarkFlagRequired("amount")

	quotes := &cobra.Command{
		Use:   "quotes <project>",
		Short: "Quote history",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := projectArg(args)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListQuotes(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}

	var reason string
	cancel := &cobra.Command{
		Use:   "cancel <project>",
		Short: "Cancel a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := projectArg(args)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printProject(e.Cancel(ctx, id, reason, actorID()))
			})
		},
	}
	cancel.Flags().StringVar(&reason, "reason", "", "reason")

	c.AddCommand(submit, list, show, summary, quote, quotes, cancel,
		projectAction("submit-draft", "Submit a draft", engine.Engine.SubmitDraft),
		projectAction("analyze", "Start analysis", engine.Engine.StartAnalysis),
		projectAction("start", "Start work (assigned worker)", engine.Engine.StartWork),
	)
	return c
}

// projectAction wraps an engine call that takes only a project and an actor.
func projectAction(use, short string, fn func(engine.Engine, context.Context, string, string) (domain.Project, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <project>",
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := projectArg(args)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printProject(fn(e, ctx, id, actorID()))
			})
		},
	}
}

func paymentCmd() *cobra.Command {
	c := &cobra.Command{Use: "payment", Short: "Gateway orders and captures"}

	request := &cobra.Command{
		Use:   "request <project>",
		Short: "Open a gateway order for the current quote",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := projectArg(args)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.RequestPayment(ctx, id, actorID())
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}

	var quoteID, paymentRef, signature string
	var sign bool
	capture := &cobra.Command{
		Use:   "capture <project>",
		Short: "Record a gateway capture",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := projectArg(args)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if sign {
					// sandbox convenience: sign the latest order with the local key secret
					payments, err := e.ListPayments(ctx, id)
					if err != nil {
						return err
					}
					if len(payments) == 0 {
						return fmt.Errorf("no payment order for %s", id)
					}
					latest := payments[len(payments)-1]
					quoteID = latest.QuoteID
					signature = gateway.Sign(e.Config.Gateway.KeySecret, latest.OrderRef, paymentRef)
				}
				preview, err := e.CapturePayment(ctx, id, quoteID, paymentRef, signature)
				if err != nil {
					return err
				}
				if preview.AlreadyPaid {
					fmt.Println("already paid")
				}
				return printJSON(preview)
			})
		},
	}
	capture.Flags().StringVar(&quoteID, "quote", "", "quote id")
	capture.Flags().StringVar(&paymentRef, "payment-ref", "", "gateway payment reference")
	capture.Flags().StringVar(&signature, "signature", "", "gateway signature")
	capture.Flags().BoolVar(&sign, "sign", false, "sign with the configured key secret (sandbox)")
	_ = capture.MarkFlagRequired("payment-ref")

	list := &cobra.Command{
		Use:   "list <project>",
		Short: "Payment attempts",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := projectArg(args)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListPayments(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}

	c.AddCommand(request, capture, list)
	return c
}

func workerCmd() *cobra.Command {
	c := &cobra.Command{Use: "worker", Short: "Worker pool and blacklist"}

	var w domain.Worker
	register := &cobra.Command{
		Use:   "register",
		Short: "Register a worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				out, err := e.RegisterWorker(ctx, w, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable([]domain.Worker{out})
			})
		},
	}
	register.Flags().StringVar(&w.ID, "id", "", "worker id")
	register.Flags().StringVar(&w.Name, "name", "", "display name")
	register.Flags().IntVar(&w.MaxConcurrent, "max", 0, "concurrent project limit (default 3)")
	_ = register.MarkFlagRequired("id")

	var available bool
	availability := &cobra.Command{
		Use:   "availability <worker>",
		Short: "Set availability",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				out, err := e.SetWorkerAvailability(ctx, args[0], available, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable([]domain.Worker{out})
			})
		},
	}
	availability.Flags().BoolVar(&available, "available", true, "accepting new projects")

	var onlyAvailable bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListWorkers(ctx, onlyAvailable)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	list.Flags().BoolVar(&onlyAvailable, "available", false, "only available workers")

	var intermediary, reason string
	block := &cobra.Command{
		Use:   "blacklist <worker>",
		Short: "Stop an intermediary from assigning a worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Blacklist(ctx, intermediaryOrActor(intermediary), args[0], reason, actorID())
			})
		},
	}
	block.Flags().StringVar(&intermediary, "intermediary", "", "intermediary id (defaults to the actor)")
	block.Flags().StringVar(&reason, "reason", "", "reason")

	unblock := &cobra.Command{
		Use:   "unblacklist <worker>",
		Short: "Lift a blacklist entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Unblacklist(ctx, intermediaryOrActor(intermediary), args[0], actorID())
			})
		},
	}
	unblock.Flags().StringVar(&intermediary, "intermediary", "", "intermediary id (defaults to the actor)")

	blacklist := &cobra.Command{
		Use:   "blacklisted",
		Short: "List blacklist entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListBlacklist(ctx, intermediary)
				if err != nil {
					return err
				}
				return printJSON(items)
			})
		},
	}
	blacklist.Flags().StringVar(&intermediary, "intermediary", "", "intermediary filter")

	c.AddCommand(register, availability, list, block, unblock, blacklist)
	return c
}

func intermediaryOrActor(id string) string {
	if id != "" {
		return id
	}
	return actorID()
}

func assignCmd() *cobra.Command {
	c := &cobra.Command{Use: "assign", Short: "Worker assignments"}

	var worker string
	create := &cobra.Command{
		Use:   "create <project>",
		Short: "Assign a worker to a paid project",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := projectArg(args)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.Assign(ctx, id, worker, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable([]domain.Assignment{a})
			})
		},
	}
	create.Flags().StringVar(&worker, "worker", "", "worker id")
	_ = create.MarkFlagRequired("worker")

	var reason string
	decline := &cobra.Command{
		Use:   "decline <assignment>",
		Short: "Decline an assignment (worker)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printProject(e.DeclineAssignment(ctx, args[0], reason, actorID()))
			})
		},
	}
	decline.Flags().StringVar(&reason, "reason", "", "reason")

	reassign := &cobra.Command{
		Use:   "reassign <assignment>",
		Short: "Move work to another worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.Reassign(ctx, args[0], worker, reason, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable([]domain.Assignment{a})
			})
		},
	}
	reassign.Flags().StringVar(&worker, "worker", "", "new worker id")
	reassign.Flags().StringVar(&reason, "reason", "", "reason")

	var byWorker string
	list := &cobra.Command{
		Use:   "list [project]",
		Short: "List assignments",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			project := ""
			if len(args) == 1 {
				project = args[0]
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListAssignments(ctx, project, byWorker)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	list.Flags().StringVar(&byWorker, "worker", "", "worker filter")

	c.AddCommand(create, decline, reassign, list)
	return c
}

func qcCmd() *cobra.Command {
	c := &cobra.Command{Use: "qc", Short: "Quality control, delivery and revisions"}

	var refs []string
	var notes string
	submit := &cobra.Command{
		Use:   "submit <project>",
		Short: "Submit work for QC (worker)",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := projectArg(args)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printProject(e.SubmitForQC(ctx, id, refs, notes, actorID()))
			})
		},
	}
	submit.Flags().StringSliceVar(&refs, "ref", nil, "deliverable reference (repeatable)")
	submit.Flags().StringVar(&notes, "notes", "", "notes for the reviewer")

	var decision string
	decide := &cobra.Command{
		Use:   "decide <project>",
		Short: "Approve or reject the work under review",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := projectArg(args)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printProject(e.RecordQCDecision(ctx, id, decision, notes, actorID()))
			})
		},
	}
	decide.Flags().StringVar(&decision, "decision", "", "approve or reject")
	decide.Flags().StringVar(&notes, "notes", "", "review notes")
	_ = decide.MarkFlagRequired("decision")

	deliver := &cobra.Command{
		Use:   "deliver <project>",
		Short: "Deliver approved work and arm auto-approval",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := projectArg(args)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printProject(e.Deliver(ctx, id, refs, actorID()))
			})
		},
	}
	deliver.Flags().StringSliceVar(&refs, "ref", nil, "deliverable reference (defaults to the latest QC submission)")

	approve := &cobra.Command{
		Use:   "approve <project>",
		Short: "Accept delivered work (client); settles the project",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := projectArg(args)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				done, err := e.ApproveDelivery(ctx, id, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(done)
			})
		},
	}

	revise := &cobra.Command{
		Use:   "revise <project>",
		Short: "Request a revision of delivered work (client)",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := projectArg(args)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				r, err := e.RequestRevision(ctx, id, notes, actorID())
				if err != nil {
					return err
				}
				return printJSON(r)
			})
		},
	}
	revise.Flags().StringVar(&notes, "notes", "", "what to change")

	revisions := &cobra.Command{
		Use:   "revisions <project>",
		Short: "Revision history",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := projectArg(args)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListRevisions(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(items)
			})
		},
	}

	var kind string
	deliverables := &cobra.Command{
		Use:   "deliverables <project>",
		Short: "Submitted and delivered references",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := projectArg(args)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListDeliverables(ctx, id, kind)
				if err != nil {
					return err
				}
				return printJSON(items)
			})
		},
	}
	deliverables.Flags().StringVar(&kind, "kind", "", "qc_submission or delivery")

	c.AddCommand(submit, decide, deliver, approve, revise, revisions, deliverables,
		projectAction("start", "Start QC review (intermediary)", engine.Engine.StartQCReview),
		projectAction("start-revision", "Resume work on a requested revision", engine.Engine.StartRevision),
	)
	return c
}

func settleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "settle <project>",
		Short: "Write settlement credits for a finished project",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := projectArg(args)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				entries, err := e.Settle(ctx, id, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(entries)
			})
		},
	}
}

func refundCmd() *cobra.Command {
	var amount int64
	cmd := &cobra.Command{
		Use:   "refund <project>",
		Short: "Refund a cancelled project (paise)",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := projectArg(args)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.Refund(ctx, id, amount, actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("Refunded %s to %s\n", money(res.Refund.ClientRefund), res.Project.ClientID)
				return printJSONOrTable(res.Ledger)
			})
		},
	}
	cmd.Flags().Int64Var(&amount, "amount", 0, "refund requested in paise")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func ledgerCmd() *cobra.Command {
	c := &cobra.Command{Use: "ledger", Short: "Settlement ledger"}

	var f repo.LedgerFilters
	list := &cobra.Command{
		Use:   "list",
		Short: "Ledger rows",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListLedger(ctx, f)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	list.Flags().StringVar(&f.ProjectID, "project", "", "project filter")
	list.Flags().StringVar(&f.OwnerKind, "owner-kind", "", "client, worker, intermediary or platform")
	list.Flags().StringVar(&f.OwnerID, "owner", "", "owner id")
	list.Flags().IntVar(&f.Limit, "limit", 100, "row limit")

	var kind string
	balances := &cobra.Command{
		Use:   "balances",
		Short: "Balance per owner",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Balances(ctx, kind)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	balances.Flags().StringVar(&kind, "owner-kind", "", "owner kind filter")

	c.AddCommand(list, balances)
	return c
}

func timerCmd() *cobra.Command {
	c := &cobra.Command{Use: "timer", Short: "Auto-approval timers"}

	list := &cobra.Command{
		Use:   "list <project>",
		Short: "Timer instances of a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := projectArg(args)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListTimers(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}

	fire := &cobra.Command{
		Use:   "fire",
		Short: "Fire every timer that is due now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				n, err := e.FireDueTimers(ctx)
				fmt.Printf("fired %d timer(s)\n", n)
				return err
			})
		},
	}

	c.AddCommand(list, fire)
	return c
}

func logCmd() *cobra.Command {
	c := &cobra.Command{Use: "log", Short: "Event log"}
	var f repo.EventFilters
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Latest events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if f.ProjectID != "" {
					p, err := e.GetProject(ctx, f.ProjectID)
					if err != nil {
						return err
					}
					f.ProjectID = p.ID
				}
				items, err := e.ListEvents(ctx, f)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	tail.Flags().IntVar(&f.Limit, "n", 20, "number of events")
	tail.Flags().StringVar(&f.ProjectID, "project", "", "project id or AX number")
	tail.Flags().StringVar(&f.Type, "type", "", "event type filter")
	tail.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	tail.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	var interval time.Duration
	var project string
	follow := &cobra.Command{
		Use:   "follow",
		Short: "Print new events as they are written",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if project != "" {
					p, err := e.GetProject(ctx, project)
					if err != nil {
						return err
					}
					project = p.ID
				}
				cursor, err := e.LatestEventID(ctx, project)
				if err != nil {
					return err
				}
				ticker := time.NewTicker(interval)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return nil
					case <-ticker.C:
					}
					items, err := e.EventsAfter(ctx, project, cursor, 100)
					if err != nil {
						return err
					}
					for _, ev := range items {
						fmt.Printf("%d\t%s\t%s\t%s:%s\t%s\t%s\n", ev.ID, ev.TS, ev.Type, ev.EntityKind, ev.EntityID, ev.ActorID, ev.Payload)
						cursor = ev.ID
					}
				}
			})
		},
	}
	follow.Flags().DurationVar(&interval, "interval", time.Second, "poll interval")
	follow.Flags().StringVar(&project, "project", "", "project id or AX number")

	c.AddCommand(tail, follow)
	return c
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Project count per status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				counts, err := e.StatusCounts(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(counts)
				}
				for _, st := range lifecycle.Statuses() {
					if n := counts[string(st)]; n > 0 {
						fmt.Printf("%-20s %d\n", st, n)
					}
				}
				return nil
			})
		},
	}
}
