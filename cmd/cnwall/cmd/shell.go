package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const shellPrompt = "cnwall> "

var exitCmd = &cobra.Command{
	Use:   "exit",
	Short: "Leave the interactive shell",
	Args:  cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		return nil
	},
}

// errExitShell ends the shell loop.
var errExitShell = errors.New("exit")

func init() {
	rootCmd.AddCommand(exitCmd)
}

// runShell reads one verb per line and runs it like a single-shot
// invocation until exit or end of input. A failing verb prints its error
// and the shell continues.
func runShell(cmd *cobra.Command, _ []string) error {
	in := bufio.NewScanner(cmd.InOrStdin())
	out := cmd.OutOrStdout()

	for {
		fmt.Fprint(out, shellPrompt)
		if !in.Scan() {
			fmt.Fprintln(out)
			return in.Err()
		}
		args := strings.Fields(in.Text())
		if len(args) == 0 {
			continue
		}

		err := dispatch(cmd, args)
		if errors.Is(err, errExitShell) {
			return nil
		}
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
}

// dispatch runs the subcommand of root named by args[0].
func dispatch(root *cobra.Command, args []string) error {
	switch args[0] {
	case exitCmd.Name():
		return errExitShell
	case "help":
		printShellHelp(root)
		return nil
	}

	var sub *cobra.Command
	for _, c := range root.Commands() {
		if c.Name() == args[0] && c.Runnable() {
			sub = c
			break
		}
	}
	if sub == nil {
		return fmt.Errorf("unknown command %q, type help for a list", args[0])
	}

	// Flag values persist between lines; start each line from the defaults.
	sub.LocalNonPersistentFlags().VisitAll(func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	})
	if err := sub.ParseFlags(args[1:]); err != nil {
		return err
	}
	if err := sub.ValidateRequiredFlags(); err != nil {
		return err
	}
	rest := sub.Flags().Args()
	if sub.Args != nil {
		if err := sub.Args(sub, rest); err != nil {
			return err
		}
	}
	return sub.RunE(sub, rest)
}

func printShellHelp(root *cobra.Command) {
	out := root.OutOrStdout()
	for _, c := range root.Commands() {
		if !c.Runnable() || c.Hidden {
			continue
		}
		fmt.Fprintf(out, "  %-16s %s\n", c.Name(), c.Short)
	}
}
