package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"peerchat/config"
	"peerchat/logger"
)

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "peerchat",
		Short:        "peerchat: directory service and peer to peer chat client",
		Long:         "peerchat runs a directory that tracks users, friendships and presence, and a chat client that talks to friends directly once both are online.",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(
		newServeCmd(),
		newChatCmd(),
	)
	return rootCmd
}

// loadConfig binds the command's flags to their config keys and loads the
// merged configuration. bindings maps config key to flag name.
func loadConfig(cmd *cobra.Command, bindings map[string]string) (*config.Config, error) {
	v := viper.New()
	bindings["debug"] = "debug"
	for key, name := range bindings {
		flag := cmd.Flags().Lookup(name)
		if flag == nil {
			flag = cmd.InheritedFlags().Lookup(name)
		}
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return nil, err
		}
	}

	cfg, err := config.Load(v)
	if err != nil {
		return nil, err
	}
	logger.SetDebug(cfg.Debug)
	return cfg, nil
}
