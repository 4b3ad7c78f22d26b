package main

import (
	"dupguard/internal/di"
	"dupguard/internal/hashing"
	"dupguard/internal/models"
	"dupguard/internal/providers"
	"dupguard/internal/services"
	"dupguard/internal/storage"
	"dupguard/internal/structures"
	"fmt"
	"io"
	"os"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

var flags structures.CliFlags

var rootCmd = &cobra.Command{
	Use:           "dupguard",
	Short:         "dupguard - duplicate image guard for chat servers",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the bot (platform events, admin HTTP API, scheduler)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := di.InitApp(&flags)
		if err != nil {
			return err
		}
		return app.Run()
	},
}

var hashSize int

var hashCmd = &cobra.Command{
	Use:   "hash <image>",
	Short: "Print the difference hash of an image file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fp, err := hashFile(args[0], hashSize)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), fp.String())
		return nil
	},
}

var compareCmd = &cobra.Command{
	Use:   "compare <image-a> <image-b>",
	Short: "Print the Hamming distance between two images",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := hashFile(args[0], hashSize)
		if err != nil {
			return err
		}
		b, err := hashFile(args[1], hashSize)
		if err != nil {
			return err
		}
		d, err := hashing.Distance(a, b)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\n%s\ndistance: %d\n", a, b, d)
		return nil
	},
}

var (
	serverID  string
	channelID string
)

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Dump a server's stored fingerprints",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		off, err := openOffline()
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), off.admin.Records(serverID, channelID))
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Replace a server's fingerprints with its latest backup",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		off, err := openOffline()
		if err != nil {
			return err
		}
		n, err := off.admin.RestoreBackup(serverID)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "restored %d record(s)\n", n)
		return nil
	},
}

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Inspect or edit server policies while the bot is stopped",
}

var policyGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print a server's policy",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		off, err := openOffline()
		if err != nil {
			return err
		}
		p, created := off.policies.GetOrCreateDefault(serverID)
		if created {
			fmt.Fprintln(cmd.ErrOrStderr(), "no stored policy, showing defaults")
		}
		return printJSON(cmd.OutOrStdout(), p)
	},
}

var policySetCmd = &cobra.Command{
	Use:   "set <field> <value>",
	Short: "Set one policy field",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		off, err := openOffline()
		if err != nil {
			return err
		}
		p, err := off.admin.SetPolicy(serverID, args[0], args[1])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), p)
	},
}

// listCmds builds the add and remove subcommands of one policy ID list.
func listCmds(use, short string, edit func(a *services.Admin, serverID, id string, add bool) (models.ServerPolicy, error)) *cobra.Command {
	parent := &cobra.Command{Use: use, Short: short}
	for _, add := range []bool{true, false} {
		verb := "remove"
		if add {
			verb = "add"
		}
		parent.AddCommand(&cobra.Command{
			Use:   verb + " <id>",
			Short: verb + " one id",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				off, err := openOffline()
				if err != nil {
					return err
				}
				p, err := edit(off.admin, serverID, args[0], add)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), p)
			},
		})
	}
	return parent
}

var (
	policyChannelCmd = listCmds("channel", "Edit the monitored channels (empty means all)", (*services.Admin).SetChannelMonitored)
	policyAllowCmd   = listCmds("allow", "Edit the users exempt from duplicate checks", (*services.Admin).SetUserAllowed)
)

var policyFieldsCmd = &cobra.Command{
	Use:   "fields",
	Short: "List editable policy fields",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		for _, f := range storage.Fields() {
			fmt.Fprintln(cmd.OutOrStdout(), f)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flags.ConfigPath, "config", "c", "config.yaml", "path to the YAML config")
	rootCmd.PersistentFlags().BoolVarP(&flags.DebugMode, "debug", "d", false, "mirror logs to stderr")

	for _, c := range []*cobra.Command{hashCmd, compareCmd} {
		c.Flags().IntVarP(&hashSize, "size", "s", models.DefaultHashSize, "hash grid size")
	}
	for _, c := range []*cobra.Command{recordsCmd, restoreCmd, policyGetCmd, policySetCmd} {
		c.Flags().StringVar(&serverID, "server", "", "server id")
		_ = c.MarkFlagRequired("server")
	}
	for _, c := range []*cobra.Command{policyChannelCmd, policyAllowCmd} {
		c.PersistentFlags().StringVar(&serverID, "server", "", "server id")
		_ = c.MarkPersistentFlagRequired("server")
	}
	recordsCmd.Flags().StringVar(&channelID, "channel", "", "only this channel (channel scope)")

	policyCmd.AddCommand(policyGetCmd, policySetCmd, policyChannelCmd, policyAllowCmd, policyFieldsCmd)
	rootCmd.AddCommand(runCmd, hashCmd, compareCmd, recordsCmd, restoreCmd, policyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func hashFile(path string, size int) (hashing.Fingerprint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return hashing.Fingerprint{}, err
	}
	return hashing.Hash(data, size)
}

func printJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

type offline struct {
	policies *storage.PolicyRepository
	admin    *services.Admin
}

// openOffline wires the storage layer alone, for commands that edit files
// while the bot is not running.
func openOffline() (*offline, error) {
	conf, err := providers.NewConfigProvider(&flags)
	if err != nil {
		return nil, err
	}
	logger := providers.NopLogger{}
	files := storage.NewFileManager(logger)
	policies := storage.NewPolicyRepository(conf, files, logger)
	if err := policies.Restore(); err != nil {
		return nil, err
	}
	repo := storage.NewFingerprintRepository(conf, files, logger, providers.NewMetricsProvider(&structures.Config{}))
	compressor, err := storage.NewZstdCompressor()
	if err != nil {
		return nil, err
	}
	backups := storage.NewBackupManager(conf, repo, compressor, files, logger)
	return &offline{
		policies: policies,
		admin:    services.NewAdmin(nil, policies, repo, backups, nil, logger),
	}, nil
}
