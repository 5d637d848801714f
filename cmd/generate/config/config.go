package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/Mmx233/QTalk/examples"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	configFile string // --config flag value

	Cmd = &cobra.Command{
		Use:   "config",
		Short: "Generate configuration files",
		Args:  cobra.NoArgs,
	}

	ServerCmd = newTemplateCmd(examples.RoleServer, "Generate relay configuration file")
	ClientCmd = newTemplateCmd(examples.RoleClient, "Generate client configuration file")
)

func init() {
	Cmd.PersistentFlags().StringVarP(&configFile, "config", "c", "config.yaml", "output config file path")
	Cmd.AddCommand(ServerCmd)
	Cmd.AddCommand(ClientCmd)
}

func newTemplateCmd(role, short string) *cobra.Command {
	return &cobra.Command{
		Use:   role,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := writeTemplate(role, configFile); err != nil {
				return err
			}
			log.Info().Str("com", "generate").Str("file", configFile).Msgf("generated %s configuration", role)
			return nil
		},
	}
}

// writeTemplate writes the template for role to path. An existing file is
// never overwritten. Templates may end up holding cipher keys, so the file is
// private to the owner.
func writeTemplate(role, path string) error {
	content, err := examples.Template(role)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("file already exists: %s", path)
		}
		return fmt.Errorf("create config: %w", err)
	}
	if _, err := f.Write(content); err != nil {
		_ = f.Close()
		return fmt.Errorf("write config: %w", err)
	}
	return f.Close()
}
