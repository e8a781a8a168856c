// Garnet CLI - runs Lua scripts against an engine configured from garnet.toml
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
	_ "google.golang.org/protobuf/types/known/durationpb"
	_ "google.golang.org/protobuf/types/known/timestamppb"

	"github.com/chazu/garnet/config"
	"github.com/chazu/garnet/engine"
	"github.com/chazu/garnet/gowrap"
	"github.com/chazu/garnet/meta"
	"github.com/chazu/garnet/protometa"
	"github.com/chazu/garnet/variant"
)

var wellKnownTypes = []string{
	"google.protobuf.Timestamp",
	"google.protobuf.Duration",
}

func main() {
	verbose := flag.Bool("v", false, "Verbose output (debug logging)")
	interactive := flag.Bool("i", false, "Start interactive REPL after running scripts")
	configDir := flag.String("c", "", "Directory to search for garnet.toml (default: current directory)")
	expr := flag.String("e", "", "Evaluate an expression and print its value")
	describe := flag.String("describe", "", "Print the script surface of the object types in a Go package")
	wkt := flag.Bool("wkt", false, "Register the protobuf well-known Timestamp and Duration classes")
	descriptors := flag.String("descriptors", "", "Register the message classes of a binary FileDescriptorSet")
	protoFiles := flag.String("proto", "", "Register the message classes of .proto files (comma-separated)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: garnet [options] [scripts...]\n\n")
		fmt.Fprintf(os.Stderr, "Runs Lua scripts in an engine configured by the nearest %s.\n\n", config.FileName)
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  garnet -i                          # Start REPL\n")
		fmt.Fprintf(os.Stderr, "  garnet -e '1 + 2'                  # Print 3\n")
		fmt.Fprintf(os.Stderr, "  garnet -wkt script.lua             # Run with Timestamp/Duration\n")
		fmt.Fprintf(os.Stderr, "  garnet -proto api.proto script.lua # Run with messages from api.proto\n")
		fmt.Fprintf(os.Stderr, "  garnet -describe ./internal/shapes # Preview reflected classes\n")
	}
	flag.Parse()

	if *describe != "" {
		if err := describePackage(*describe); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	cfg, err := loadConfig(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	verbosity := cfg.Log.Verbosity
	if *verbose {
		verbosity = 2
	}
	commonlog.Configure(verbosity, cfg.LogPath())

	eng, err := engine.NewWithConfig(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer eng.Close()

	if *wkt {
		for _, name := range wellKnownTypes {
			class, err := protometa.DescribeName(name)
			if err == nil {
				_, err = eng.RegisterClass(class)
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		}
	}
	if *descriptors != "" {
		classes, err := protometa.LoadDescriptorSet(*descriptors)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		registerClasses(eng, classes, *verbose)
	}
	if *protoFiles != "" {
		classes, err := protometa.LoadProtoFiles(strings.Split(*protoFiles, ",")...)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		registerClasses(eng, classes, *verbose)
	}

	scripts := flag.Args()
	for _, path := range scripts {
		source, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		eng.Evaluate(string(source), path)
		if eng.HasError() {
			printError(eng)
			os.Exit(1)
		}
	}

	if *expr != "" {
		result := eng.Evaluate(*expr, "-e")
		if eng.HasError() {
			printError(eng)
			os.Exit(1)
		}
		printValue(result)
	}

	if *interactive || (len(scripts) == 0 && *expr == "") {
		runREPL(eng)
	}
}

func registerClasses(eng *engine.Engine, classes []*meta.Class, verbose bool) {
	for _, class := range classes {
		if _, err := eng.RegisterClass(class); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}
	if verbose {
		fmt.Printf("Registered %d message classes\n", len(classes))
	}
}

// loadConfig finds garnet.toml from dir upwards, falling back to defaults.
func loadConfig(dir string) (*config.Config, error) {
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return config.Default(), nil
		}
		dir = wd
	}
	cfg, err := config.FindAndLoad(dir)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return config.Default(), nil
	}
	return cfg, nil
}

func describePackage(importPath string) error {
	model, err := gowrap.IntrospectPackage(importPath, nil)
	if err != nil {
		return err
	}
	classes := gowrap.Describe(model)
	if len(classes) == 0 {
		fmt.Printf("-- %s: no object types\n", gowrap.PackageLabel(importPath))
		return nil
	}
	fmt.Printf("-- %s\n", gowrap.PackageLabel(importPath))
	for _, cs := range classes {
		fmt.Print(cs.String())
	}
	return nil
}

// runREPL starts an interactive read-eval-print loop
func runREPL(eng *engine.Engine) {
	fmt.Println("Garnet REPL (type 'exit' to quit, ':help' for commands)")
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)
	lineBuffer := strings.Builder{}

	for {
		if lineBuffer.Len() == 0 {
			fmt.Print(">> ")
		} else {
			fmt.Print(".. ")
		}

		if !scanner.Scan() {
			break
		}

		line := scanner.Text()

		if lineBuffer.Len() == 0 && (line == "exit" || line == "quit") {
			break
		}

		if lineBuffer.Len() == 0 && strings.HasPrefix(line, ":") {
			handleREPLCommand(eng, line)
			continue
		}

		if lineBuffer.Len() > 0 {
			lineBuffer.WriteString("\n")
		}
		lineBuffer.WriteString(line)

		input := strings.TrimSpace(lineBuffer.String())
		if input == "" {
			lineBuffer.Reset()
			continue
		}

		// Keep reading while the chunk is incomplete; an empty line forces
		// evaluation.
		if line != "" {
			if _, err := eng.Compile(input, "stdin"); err != nil && strings.HasSuffix(err.Error(), "at end of input (SyntaxError)") {
				continue
			}
		}
		lineBuffer.Reset()
		evalAndPrint(eng, input)
	}

	fmt.Println()
}

// handleREPLCommand handles REPL meta-commands
func handleREPLCommand(eng *engine.Engine, cmd string) {
	switch cmd {
	case ":help", ":h", ":?":
		fmt.Println("REPL Commands:")
		fmt.Println("  :help, :h, :?     Show this help")
		fmt.Println("  :error            Show the last error")
		fmt.Println("  :backtrace        Show the last backtrace")
		fmt.Println("  :gc               Run a garbage collection")
		fmt.Println("  exit, quit        Exit REPL")
	case ":error":
		if eng.HasError() {
			fmt.Println(eng.Error())
		} else {
			fmt.Println("no error")
		}
	case ":backtrace":
		for _, frame := range eng.Backtrace() {
			fmt.Printf("  %s\n", frame)
		}
	case ":gc":
		eng.CollectGarbage()
	default:
		fmt.Printf("Unknown command: %s (type :help for commands)\n", cmd)
	}
}

func evalAndPrint(eng *engine.Engine, input string) {
	result := eng.Evaluate(input, "stdin")
	if eng.HasError() {
		printError(eng)
		return
	}
	printValue(result)
}

func printError(eng *engine.Engine) {
	fmt.Fprintf(os.Stderr, "Error: %s\n", eng.Error())
	for _, frame := range eng.Backtrace() {
		fmt.Fprintf(os.Stderr, "  from %s\n", frame)
	}
}

func printValue(v variant.Value) {
	if v.IsNull() {
		return
	}
	fmt.Println(v.String())
}
