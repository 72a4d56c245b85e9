package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"joinrecs/internal/attendance"
	"joinrecs/internal/config"
	"joinrecs/internal/database"
	"joinrecs/internal/roster"
	"joinrecs/internal/server"
	"joinrecs/internal/session"
)

func (a *app) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.config()
			if err != nil {
				return err
			}
			if cfg.Database.URL == server.MemoryURL {
				return errors.New("migrate needs a Postgres database.url")
			}
			db, err := database.Open(cmd.Context(), database.Config(cfg.Database))
			if err != nil {
				return err
			}
			defer db.Close()
			if err := database.Migrate(cmd.Context(), db); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
			return nil
		},
	}
}

func (a *app) membersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "members",
		Short: "List and edit the roster",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List every member",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStack(cmd.Context(), func(s server.Stack, sess *session.Session, _ config.Config) error {
				members, err := s.Roster.ListMembers(cmd.Context(), sess)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tNAME\tPHONE\tSTATUS")
				for _, m := range members {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.ID, m.Name, roster.FormatPhone(m.Phone), m.Status)
				}
				return tw.Flush()
			})
		},
	}

	var status string
	add := &cobra.Command{
		Use:   "add NAME PHONE",
		Short: "Add a member; PHONE is the 8 digits after 010",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStack(cmd.Context(), func(s server.Stack, sess *session.Session, _ config.Config) error {
				m, err := s.Roster.AddMember(cmd.Context(), sess, args[0], args[1], roster.Status(status))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "added %s %s (%s)\n", m.ID, m.Name, m.Status)
				return nil
			})
		},
	}
	add.Flags().StringVar(&status, "status", string(roster.StatusActiveFull), "initial membership status")

	setStatus := &cobra.Command{
		Use:   "status ID STATUS",
		Short: "Change a member's status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid member ID: %w", err)
			}
			return a.withStack(cmd.Context(), func(s server.Stack, sess *session.Session, _ config.Config) error {
				m, err := s.Roster.UpdateMemberStatus(cmd.Context(), sess, id, roster.Status(args[1]))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", m.Name, m.Status)
				return nil
			})
		},
	}

	cmd.AddCommand(list, add, setStatus)
	return cmd
}

func (a *app) logCmd() *cobra.Command {
	var date, format string
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Print the daily attendance log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch format {
			case "table", "csv", "json":
			default:
				return fmt.Errorf("unknown format %q (table, csv or json)", format)
			}
			return a.withStack(cmd.Context(), func(s server.Stack, sess *session.Session, _ config.Config) error {
				day, err := s.Attendance.GetDailyLog(cmd.Context(), sess, date)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				switch format {
				case "csv":
					return attendance.WriteCSV(out, day.Window, day.Records)
				case "json":
					enc := json.NewEncoder(out)
					enc.SetIndent("", "  ")
					return enc.Encode(day)
				default:
					return attendance.WriteTable(out, day.Window, day.Records)
				}
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "civil date YYYY-MM-DD (default today)")
	cmd.Flags().StringVar(&format, "format", "table", "output format: table, csv or json")
	return cmd
}

func hashPassphraseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-passphrase",
		Short: "Read an admin passphrase from stdin and print its hash for admin.passphrase_hash",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("failed to read passphrase: %w", err)
			}
			passphrase := strings.TrimRight(line, "\r\n")
			if passphrase == "" {
				return errors.New("passphrase must not be empty")
			}
			hash, err := session.HashPassphrase(passphrase)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}
