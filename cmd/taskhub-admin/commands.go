package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	accountstore "github.com/dalemusser/taskhub/internal/app/store/accounts"
	"github.com/dalemusser/taskhub/internal/app/store/audit"
	memberstore "github.com/dalemusser/taskhub/internal/app/store/members"
	"github.com/dalemusser/taskhub/internal/app/store/oauthstate"
	rolestore "github.com/dalemusser/taskhub/internal/app/store/roles"
	userstore "github.com/dalemusser/taskhub/internal/app/store/users"
	workspacestore "github.com/dalemusser/taskhub/internal/app/store/workspaces"
	"github.com/dalemusser/taskhub/internal/app/system/indexes"
	"github.com/dalemusser/taskhub/internal/app/system/roleregistry"
	"github.com/dalemusser/taskhub/internal/app/system/workers"
	"github.com/dalemusser/taskhub/internal/domain/models"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// dbOpener connects to the database; the returned func releases it.
type dbOpener func(ctx context.Context) (*mongo.Database, func(), error)

func newRootCmd(open dbOpener, out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "taskhub-admin",
		Short:         "Operator commands for the TaskHub database",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.SetOut(out)
	root.SetErr(out)

	var jsonOut bool
	root.PersistentFlags().BoolVar(&jsonOut, "json", false, "Print JSON instead of tables")

	// withDB runs fn against an open database with a bounded context.
	withDB := func(cmd *cobra.Command, fn func(ctx context.Context, db *mongo.Database) error) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
		defer cancel()
		db, closeFn, err := open(ctx)
		if err != nil {
			return err
		}
		defer closeFn()
		return fn(ctx, db)
	}

	printJSON := func(v any) error {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}

	rolesCmd := &cobra.Command{Use: "roles", Short: "Manage workspace roles"}

	rolesCmd.AddCommand(&cobra.Command{
		Use:   "seed",
		Short: "Create indexes and any missing OWNER/ADMIN/MEMBER role",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd, func(ctx context.Context, db *mongo.Database) error {
				if err := indexes.EnsureAll(ctx, db); err != nil {
					return fmt.Errorf("ensure indexes: %w", err)
				}
				created, err := rolestore.New(db).Seed(ctx)
				if err != nil {
					return err
				}
				if len(created) == 0 {
					fmt.Fprintln(out, "roles already present")
					return nil
				}
				for _, n := range created {
					fmt.Fprintf(out, "created %s\n", n)
				}
				return nil
			})
		},
	})

	rolesCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List roles and their permissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd, func(ctx context.Context, db *mongo.Database) error {
				roles, err := rolestore.New(db).List(ctx)
				if err != nil {
					return err
				}
				if jsonOut {
					return printJSON(roles)
				}
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "NAME\tID\tPERMISSIONS")
				for _, r := range roles {
					perms := make([]string, len(r.Permissions))
					for i, p := range r.Permissions {
						perms[i] = string(p)
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Name, r.ID.Hex(), strings.Join(perms, ","))
				}
				return tw.Flush()
			})
		},
	})

	var (
		auditLimit int64
		auditUser  string
		auditType  string
		auditSince time.Duration
	)
	auditCmd := &cobra.Command{Use: "audit", Short: "Read the auth audit trail"}
	recentCmd := &cobra.Command{
		Use:   "recent",
		Short: "Show the most recent audit events",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := audit.QueryFilter{EventType: auditType, Limit: auditLimit}
			if auditUser != "" {
				oid, err := primitive.ObjectIDFromHex(auditUser)
				if err != nil {
					return fmt.Errorf("--user must be an ObjectID hex: %w", err)
				}
				filter.UserID = &oid
			}
			if auditSince > 0 {
				since := time.Now().UTC().Add(-auditSince)
				filter.Since = &since
			}
			return withDB(cmd, func(ctx context.Context, db *mongo.Database) error {
				events, err := audit.New(db).Query(ctx, filter)
				if err != nil {
					return err
				}
				if jsonOut {
					return printJSON(events)
				}
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "TIME\tEVENT\tOK\tUSER\tIP\tREASON")
				for _, e := range events {
					user := "-"
					if e.UserID != nil {
						user = e.UserID.Hex()
					}
					fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%s\t%s\n",
						e.Timestamp.Format(time.RFC3339), e.EventType, e.Success, user, e.IP, e.FailureReason)
				}
				return tw.Flush()
			})
		},
	}
	recentCmd.Flags().Int64Var(&auditLimit, "limit", 50, "Maximum events to show")
	recentCmd.Flags().StringVar(&auditUser, "user", "", "Only events for this user id")
	recentCmd.Flags().StringVar(&auditType, "type", "", "Only this event type (e.g. login_failed)")
	recentCmd.Flags().DurationVar(&auditSince, "since", 0, "Only events newer than this (e.g. 24h)")
	auditCmd.AddCommand(recentCmd)

	var grace time.Duration
	checkCmd := &cobra.Command{
		Use:   "check-invariants",
		Short: "Count users without a workspace and workspaces without an owner member",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd, func(ctx context.Context, db *mongo.Database) error {
				log := zap.NewNop()
				roles := roleregistry.New(rolestore.New(db), time.Minute, log)
				w := workers.NewInvariantCheck(userstore.New(db), workspacestore.New(db), roles, oauthstate.New(db), nil, log, time.Minute, grace)
				rep := w.RunOnce(ctx)
				if jsonOut {
					return printJSON(rep)
				}
				fmt.Fprintf(out, "users without workspace:  %d\n", rep.UsersWithoutWorkspace)
				fmt.Fprintf(out, "workspaces without owner: %d\n", rep.WorkspacesWithoutOwner)
				if rep.UsersWithoutWorkspace+rep.WorkspacesWithoutOwner > 0 {
					return fmt.Errorf("invariant violations found")
				}
				return nil
			})
		},
	}
	checkCmd.Flags().DurationVar(&grace, "grace", 2*time.Minute, "Ignore records younger than this")

	usersCmd := &cobra.Command{Use: "users", Short: "Inspect users"}
	usersCmd.AddCommand(&cobra.Command{
		Use:   "show <email>",
		Short: "Show a user with its login accounts and owned workspaces",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd, func(ctx context.Context, db *mongo.Database) error {
				u, err := userstore.New(db).GetByEmail(ctx, args[0])
				if err != nil {
					return fmt.Errorf("user %s: %w", args[0], err)
				}
				accounts, err := accountstore.New(db).ListByUser(ctx, u.ID)
				if err != nil {
					return err
				}
				owned, err := workspacestore.New(db).ListByOwner(ctx, u.ID)
				if err != nil {
					return err
				}
				if jsonOut {
					return printJSON(struct {
						User       models.User        `json:"user"`
						Accounts   []models.Account   `json:"accounts"`
						Workspaces []models.Workspace `json:"owned_workspaces"`
					}{u.WithoutPassword(), accounts, owned})
				}

				current := "-"
				if u.CurrentWorkspace != nil {
					current = u.CurrentWorkspace.Hex()
				}
				fmt.Fprintf(out, "user %s  %s <%s>  current workspace %s\n", u.ID.Hex(), u.Name, u.Email, current)
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ACCOUNT\tPROVIDER\tPROVIDER_ID")
				for _, a := range accounts {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", a.ID.Hex(), a.Provider, a.ProviderID)
				}
				fmt.Fprintln(tw, "WORKSPACE\tNAME\tCREATED")
				for _, ws := range owned {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", ws.ID.Hex(), ws.Name, ws.CreatedAt.Format(time.RFC3339))
				}
				return tw.Flush()
			})
		},
	})

	workspacesCmd := &cobra.Command{Use: "workspaces", Short: "Inspect workspaces"}
	workspacesCmd.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Show a workspace and its members",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wsID, err := primitive.ObjectIDFromHex(args[0])
			if err != nil {
				return fmt.Errorf("workspace id must be an ObjectID hex: %w", err)
			}
			return withDB(cmd, func(ctx context.Context, db *mongo.Database) error {
				ws, err := workspacestore.New(db).GetByID(ctx, wsID)
				if err != nil {
					return fmt.Errorf("workspace %s: %w", args[0], err)
				}
				members := memberstore.New(db)
				list, err := members.ListByWorkspace(ctx, wsID)
				if err != nil {
					return err
				}
				roles := rolestore.New(db)
				owner, err := roles.GetByName(ctx, models.RoleOwner)
				if err != nil {
					return fmt.Errorf("owner role: %w", err)
				}
				owners, err := members.CountByRole(ctx, wsID, owner.ID)
				if err != nil {
					return err
				}
				all, err := roles.List(ctx)
				if err != nil {
					return err
				}
				roleNames := make(map[primitive.ObjectID]models.RoleName, len(all))
				for _, r := range all {
					roleNames[r.ID] = r.Name
				}

				if jsonOut {
					return printJSON(struct {
						Workspace models.Workspace `json:"workspace"`
						Members   []models.Member  `json:"members"`
						Owners    int64            `json:"owners"`
					}{ws, list, owners})
				}
				fmt.Fprintf(out, "workspace %s  %q  owner %s  invite %s\n", ws.ID.Hex(), ws.Name, ws.Owner.Hex(), ws.InviteCode)
				fmt.Fprintf(out, "owner members: %d\n", owners)
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "USER\tROLE\tJOINED")
				for _, m := range list {
					name, ok := roleNames[m.RoleID]
					if !ok {
						name = models.RoleName("?" + m.RoleID.Hex())
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\n", m.UserID.Hex(), name, m.JoinedAt.Format(time.RFC3339))
				}
				if err := tw.Flush(); err != nil {
					return err
				}
				if owners != 1 {
					return fmt.Errorf("workspace has %d owner members, want 1", owners)
				}
				return nil
			})
		},
	})

	root.AddCommand(rolesCmd, auditCmd, checkCmd, usersCmd, workspacesCmd)
	return root
}
