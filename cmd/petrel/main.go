// Command petrel inspects compiled Petrel bytecode files.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/cloudcmds/petrel/bytecode"
	"github.com/cloudcmds/petrel/dis"
)

var configPath string

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "%s\n", color.RedString(err.Error()))
	os.Exit(1)
}

func loadFunction(path string) (*bytecode.Function, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return bytecode.Unmarshal(data)
}

func main() {
	root := &cobra.Command{
		Use:   "petrel",
		Short: "Inspect compiled Petrel bytecode",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			cfg.apply()
			return nil
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to petrel.toml")

	disCmd := &cobra.Command{
		Use:   "dis <file.pbc>",
		Short: "Disassemble a compiled function",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fn, err := loadFunction(args[0])
			if err != nil {
				return err
			}
			instructions, err := dis.Disassemble(fn)
			if err != nil {
				return err
			}
			dis.Print(fn, instructions, os.Stdout)
			return nil
		},
	}

	infoCmd := &cobra.Command{
		Use:   "info <file.pbc>",
		Short: "Show summary information for a compiled function",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fn, err := loadFunction(args[0])
			if err != nil {
				return err
			}
			name := fn.Name()
			if fn.ClassName() != "" {
				name = fn.ClassName() + "::" + name
			}
			fmt.Printf("name:         %s\n", name)
			fmt.Printf("instructions: %d\n", fn.InstructionCount())
			fmt.Printf("locals:       %d\n", fn.NumLocals())
			fmt.Printf("frame slots:  %d\n", fn.NumSlotsInFrame())
			fmt.Printf("handlers:     %d\n", fn.HandlerCount())
			fmt.Printf("call preps:   %d\n", fn.CallPrepCount())
			switch {
			case fn.IsAsyncFunction():
				fmt.Println("kind:         async function")
			case fn.IsAsyncGenerator():
				fmt.Println("kind:         async generator")
			case fn.IsNonAsyncGenerator():
				fmt.Println("kind:         generator")
			case fn.IsBuiltin():
				fmt.Println("kind:         builtin")
			default:
				fmt.Println("kind:         function")
			}
			return nil
		},
	}

	root.AddCommand(disCmd, infoCmd)
	if err := root.Execute(); err != nil {
		fatal(err)
	}
}
