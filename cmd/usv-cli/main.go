package main

import (
	"fmt"
	"io"
	"os"
	"strings"
)

var rpcEndpoint = defaultRPCEndpoint() // RPC_URL or --rpc override the localhost default
var rpcAuthToken = os.Getenv("USV_RPC_TOKEN")

var stdout io.Writer = os.Stdout

type command struct {
	name  string
	usage string
	run   func(args []string) error
}

var commands = []command{
	{"keygen", "keygen --out <keystore>", runKeygen},
	{"address", "address --key <keystore>", runAddress},
	{"init", "init --key <keystore>", runInit},
	{"generate", "generate --key <keystore> --count <n> [--partner <id>] [--info <text>]", runGenerate},
	{"generate-manifest", "generate-manifest --key <keystore> --file <manifest.yaml>", runGenerateManifest},
	{"claim", "claim --key <keystore> --code <qr hash> --email <email> [--claimer <address>]", runClaim},
	{"transfer", "transfer --key <keystore> --partner <address> --amount <base units> [--info <text>]", runTransfer},
	{"pause", "pause --key <keystore> [--resume]", runPause},
	{"state", "state", runState},
	{"stats", "stats", runStats},
	{"batch", "batch (--address <batch account> | --sequence <n> [--authority <address>])", runBatch},
	{"claim-status", "claim-status --code <qr hash>", runClaimStatus},
	{"balance", "balance --owner <address>", runBalance},
	{"export", "export (--address <batch account> | --sequence <n>) --format csv|jsonl|parquet --out <file> [--claim-base <url>]", runExport},
}

func main() {
	args, err := applyGlobalFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if len(args) < 1 {
		printUsage()
		os.Exit(1)
	}
	cmd, ok := lookupCommand(args[0])
	if !ok {
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n", args[0])
		printUsage()
		os.Exit(1)
	}
	if err := cmd.run(args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func lookupCommand(name string) (command, bool) {
	for _, cmd := range commands {
		if cmd.name == name {
			return cmd, true
		}
	}
	return command{}, false
}

func defaultRPCEndpoint() string {
	if v := strings.TrimSpace(os.Getenv("RPC_URL")); v != "" {
		return v
	}
	return "http://localhost:8547"
}

func applyGlobalFlags(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--rpc":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("missing value for --rpc")
			}
			rpcEndpoint = args[i+1]
			i++
		case strings.HasPrefix(arg, "--rpc="):
			rpcEndpoint = strings.TrimPrefix(arg, "--rpc=")
		case arg == "--token":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("missing value for --token")
			}
			rpcAuthToken = args[i+1]
			i++
		case strings.HasPrefix(arg, "--token="):
			rpcAuthToken = strings.TrimPrefix(arg, "--token=")
		default:
			out = append(out, arg)
		}
	}
	return out, nil
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage: usv-cli [--rpc <url>] [--token <jwt>] <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	for _, cmd := range commands {
		fmt.Fprintf(os.Stderr, "  %s\n", cmd.usage)
	}
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintf(os.Stderr, "Keystore passphrases are read from %s or prompted for.\n", keyPassEnv)
}
