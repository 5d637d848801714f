package key

import (
	"fmt"

	"github.com/Mmx233/QTalk/protocol"
	"github.com/spf13/cobra"
)

var (
	suite string
	Cmd   = &cobra.Command{
		Use:   "key",
		Short: "Generate a pre-shared packet encryption key",
		Long: "Prints a fresh key for the chosen cipher suite. Put it in QTALK_KEY, " +
			"cipher.keys or cipher.key_file on the relay and every client.",
		Args: cobra.NoArgs,
		RunE: runGenerate,
	}
)

func init() {
	Cmd.Flags().StringVarP(&suite, "suite", "s", string(protocol.SuiteFernet), "cipher suite (fernet or secretbox)")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	key, err := protocol.GenerateKey(protocol.Suite(suite))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), key)
	return err
}
