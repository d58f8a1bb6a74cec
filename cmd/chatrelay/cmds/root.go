package cmds

import (
	clay "github.com/go-go-golems/clay/pkg"
	"github.com/go-go-golems/glazed/pkg/cmds/logging"
	"github.com/go-go-golems/glazed/pkg/help"
	help_cmd "github.com/go-go-golems/glazed/pkg/help/cmd"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/chatrelay/pkg/config"
)

// runtime is filled by the root command before any subcommand runs.
type runtime struct {
	settings config.Settings
}

func NewRootCommand() (*cobra.Command, error) {
	rt := &runtime{}
	root := &cobra.Command{
		Use:           "chatrelay",
		Short:         "chatrelay relays WebSocket chat threads to a streaming language model",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := logging.InitLoggerFromCobra(cmd); err != nil {
				return err
			}
			// .env must be loaded before viper reads the environment
			if err := config.LoadDotEnv(); err != nil {
				return err
			}
			v, err := config.NewViper(cmd.Flags())
			if err != nil {
				return err
			}
			rt.settings, err = config.Load(v)
			return err
		},
	}
	// registers the logging flags read by InitLoggerFromCobra
	if err := clay.InitGlazed("chatrelay", root); err != nil {
		return nil, err
	}
	config.AddFlags(root.PersistentFlags())

	helpSystem := help.NewHelpSystem()
	help_cmd.SetupCobraRootCommand(helpSystem, root)

	threadsCmd, err := newThreadsCommand(rt)
	if err != nil {
		return nil, err
	}
	root.AddCommand(
		newServeCommand(rt),
		threadsCmd,
		newChatCommand(rt),
	)
	return root, nil
}
