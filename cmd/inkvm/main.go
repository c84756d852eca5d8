package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	dbm "github.com/cometbft/cometbft-db"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	"github.com/spf13/cobra"

	"github.com/inkvm/inkvm"
	"github.com/inkvm/inkvm/internal/evmstate"
	"github.com/inkvm/inkvm/types"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "inkvm",
		Short:   "Metered wasm sandbox with a simulated EVM host",
		Version: inkvm.Version,
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SilenceUsage = true

	var (
		home      string
		verbosity int
	)
	rootCmd.PersistentFlags().StringVar(&home, "home", defaultHome(), "Base directory for programs and state")
	rootCmd.PersistentFlags().IntVar(&verbosity, "verbosity", 3, "Log verbosity: 0=crit, 3=info, 5=trace")
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		handler := log.NewTerminalHandlerWithLevel(os.Stderr, log.FromLegacyLevel(verbosity), false)
		log.SetDefault(log.NewLogger(handler))
	}

	storeCmd := &cobra.Command{
		Use:   "store <file.wasm>",
		Short: "Validate a program and persist it under its checksum",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wasm, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			vm, err := openVM(home)
			if err != nil {
				return err
			}
			defer vm.Cleanup()
			checksum, err := vm.StoreProgram(wasm)
			if err != nil {
				return err
			}
			fmt.Println(checksum)
			return nil
		},
	}

	analyzeCmd := &cobra.Command{
		Use:   "analyze <checksum>",
		Short: "Report a stored program's footprint and surface",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			checksum, err := parseChecksum(args[0])
			if err != nil {
				return err
			}
			vm, err := openVM(home)
			if err != nil {
				return err
			}
			defer vm.Cleanup()
			report, err := vm.AnalyzeProgram(checksum)
			if err != nil {
				return err
			}
			fmt.Printf("footprint: %d pages\n", report.FootprintPages)
			fmt.Printf("debug-only: %t\n", report.DebugImports)
			for _, name := range report.Exports {
				fmt.Printf("export: %s\n", name)
			}
			for _, name := range report.Imports {
				fmt.Printf("import: %s\n", name)
			}
			return nil
		},
	}

	var (
		calldataHex string
		gas         uint64
		engineKind  string
		senderHex   string
		trace       bool
		debug       bool
	)
	runCmd := &cobra.Command{
		Use:   "run <checksum|file.wasm>",
		Short: "Execute a program against the local state store",
		Long: `Execute a program against the local state store.

The argument is either the checksum of a stored program or a path to a
.wasm file, which is stored first. The program runs at the contract
address derived from its checksum, so its storage is visible to the
state subcommands afterwards.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			vm, err := openVM(home)
			if err != nil {
				return err
			}
			defer vm.Cleanup()
			checksum, err := resolveProgram(vm, args[0])
			if err != nil {
				return err
			}
			var calldata []byte
			if calldataHex != "" {
				if calldata, err = hexutil.Decode(calldataHex); err != nil {
					return fmt.Errorf("bad calldata: %w", err)
				}
			}

			db, err := openState(home)
			if err != nil {
				return err
			}
			defer db.Close()
			state := evmstate.New(db)
			state.Contract = programAddress(checksum)

			config := types.DefaultProgramConfig(1)
			config.Debug = debug
			data := types.EvmData{
				ContractAddress: state.Contract,
				MsgSender:       common.HexToAddress(senderHex),
				TxOrigin:        common.HexToAddress(senderHex),
				Tracing:         trace,
			}

			outcome, gasLeft, err := vm.CallProgram(
				cmd.Context(), checksum, calldata, config,
				state, data, types.Gas(gas), inkvm.EngineKind(engineKind),
			)
			if err != nil {
				return err
			}
			if err := state.Error(); err != nil {
				return err
			}

			fmt.Printf("address: %s\n", state.Contract)
			fmt.Printf("outcome: %s\n", outcome.Kind)
			if len(outcome.Data) > 0 {
				fmt.Printf("data: %s\n", hexutil.Encode(outcome.Data))
			}
			fmt.Printf("gas left: %d\n", gasLeft)
			for _, entry := range state.Logs() {
				fmt.Printf("log: topics=%d data=%s\n", len(entry.Topics), hexutil.Encode(entry.Data))
			}
			for _, rec := range outcome.Trace {
				fmt.Printf("hostio: %-24s ink=%d\n", rec.Name, rec.StartInk-rec.EndInk)
			}
			return nil
		},
	}
	runCmd.Flags().StringVar(&calldataHex, "calldata", "", "0x-prefixed calldata")
	runCmd.Flags().Uint64Var(&gas, "gas", 10_000_000, "Gas budget for the run")
	runCmd.Flags().StringVar(&engineKind, "engine", "native", "Execution engine: native or replay")
	runCmd.Flags().StringVar(&senderHex, "sender", "0x0", "Message sender address")
	runCmd.Flags().BoolVar(&trace, "trace", false, "Record and print every hostio")
	runCmd.Flags().BoolVar(&debug, "debug", false, "Enable the console hostios")

	stateCmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect and edit the local state store",
	}
	stateGetCmd := &cobra.Command{
		Use:   "get <contract> <slot>",
		Short: "Read a storage slot",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openState(home)
			if err != nil {
				return err
			}
			defer db.Close()
			state := evmstate.New(db)
			value := state.StorageAt(common.HexToAddress(args[0]), common.HexToHash(args[1]))
			if err := state.Error(); err != nil {
				return err
			}
			fmt.Println(value.Hex())
			return nil
		},
	}
	stateSetCmd := &cobra.Command{
		Use:   "set <contract> <slot> <value>",
		Short: "Write a storage slot",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openState(home)
			if err != nil {
				return err
			}
			defer db.Close()
			state := evmstate.New(db)
			state.SetStorageAt(common.HexToAddress(args[0]), common.HexToHash(args[1]), common.HexToHash(args[2]))
			return state.Error()
		},
	}
	stateCmd.AddCommand(stateGetCmd, stateSetCmd)

	rootCmd.AddCommand(storeCmd, analyzeCmd, runCmd, stateCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func defaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".inkvm"
	}
	return filepath.Join(home, ".inkvm")
}

func openVM(home string) (*inkvm.VM, error) {
	return inkvm.NewVM(inkvm.VMConfig{
		DataDir: filepath.Join(home, "programs"),
		Logger:  log.Root(),
	})
}

// openState opens the shared state database under the home directory,
// creating the directory on first use.
func openState(home string) (dbm.DB, error) {
	if err := os.MkdirAll(home, 0o755); err != nil {
		return nil, err
	}
	return dbm.NewGoLevelDB("state", home)
}

// resolveProgram accepts either a checksum or a path to a module,
// storing the latter on the fly.
func resolveProgram(vm *inkvm.VM, arg string) (types.Checksum, error) {
	if _, err := os.Stat(arg); err == nil {
		wasm, err := os.ReadFile(arg)
		if err != nil {
			return types.Checksum{}, err
		}
		return vm.StoreProgram(wasm)
	}
	return parseChecksum(arg)
}

func parseChecksum(s string) (types.Checksum, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return types.Checksum{}, fmt.Errorf("bad checksum %q: %w", s, err)
	}
	return types.NewChecksum(raw)
}

// programAddress derives the deterministic contract address a program
// runs at: the leading twenty bytes of its checksum.
func programAddress(checksum types.Checksum) common.Address {
	return common.BytesToAddress(checksum[:20])
}
