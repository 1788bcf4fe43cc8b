package commands

import (
	"fmt"
	"strconv"

	"castnote/internal/platform/config"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change persisted settings",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the settings file and its values",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "file:  %s\n", app.settingsPath)
		fmt.Fprintf(out, "port:  %d\n", app.stored.Port)
		fmt.Fprintf(out, "debug: %t\n", app.stored.Debug)
		if app.settings != app.stored {
			fmt.Fprintf(out, "effective (environment overrides): port=%d debug=%t\n",
				app.settings.Port, app.settings.Debug)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <port|debug> <value>",
	Short: "Change one setting",
	Long: `Change one setting and save it.

  castnote config set port 9090
  castnote config set debug true`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s := app.stored
		switch args[0] {
		case "port":
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("port: %w", err)
			}
			s.Port = n
		case "debug":
			b, err := strconv.ParseBool(args[1])
			if err != nil {
				return fmt.Errorf("debug: %w", err)
			}
			s.Debug = b
		default:
			return fmt.Errorf("unknown setting %q (want port or debug)", args[0])
		}

		if err := config.SaveSettings(app.settingsPath, s); err != nil {
			return err
		}
		app.stored = s
		fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", args[0], args[1])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
