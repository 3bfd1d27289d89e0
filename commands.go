package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
)

// CommandHandler dispatches the single-line command surface onto the
// facade. Each registered command is a name plus a handler; the screen
// forms carry arguments and are parsed here.
type CommandHandler struct {
	facade *Facade
	out    io.Writer
	done   bool

	commands map[string]command
	order    []string
}

type command struct {
	help    string
	needsUp bool
	run     func(args []string)
}

// NewCommandHandler wires the full command table.
func NewCommandHandler(f *Facade, out io.Writer) *CommandHandler {
	h := &CommandHandler{facade: f, out: out, commands: make(map[string]command)}

	h.register("initialize", "load config, start the scheduler", false, func([]string) {
		if err := f.Initialize(); err != nil {
			fmt.Fprintf(out, "ERROR: %v\n", err)
			return
		}
		fmt.Fprintln(out, "System initialization complete.")
	})
	h.register("screen-ls", "list processes", true, func([]string) {
		h.printResult(f.ScreenLS())
	})
	h.register("scheduler-start", "start automatic process generation", true, func([]string) {
		if err := f.StartGeneration(); err != nil {
			fmt.Fprintf(out, "ERROR: %v\n", err)
			return
		}
		fmt.Fprintln(out, "Process generation started.")
	})
	h.register("scheduler-stop", "stop automatic process generation", true, func([]string) {
		if err := f.StopGeneration(); err != nil {
			fmt.Fprintf(out, "ERROR: %v\n", err)
			return
		}
		fmt.Fprintln(out, "Process generation stopped.")
	})
	h.register("report-util", "write the utilization report", true, func([]string) {
		path, err := f.ReportUtil()
		if err != nil {
			fmt.Fprintf(out, "ERROR: %v\n", err)
			return
		}
		fmt.Fprintf(out, "Report written to %s\n", path)
	})
	h.register("vmstat", "print memory statistics (-v for the memory map)", true, func(args []string) {
		verbose := len(args) > 0 && args[0] == "-v"
		h.printResult(f.VMStat(verbose))
	})
	h.register("process-smi", "print global or per-process overview", true, func(args []string) {
		name := ""
		if len(args) > 0 {
			name = args[0]
		}
		h.printResult(f.ProcessSMI(name))
	})
	h.register("clear", "clear the screen", false, func([]string) {
		fmt.Fprint(out, "\033[2J\033[H")
	})
	h.register("help", "show this help", false, func([]string) {
		h.showHelp()
	})
	h.register("exit", "shut down", false, func([]string) {
		f.Shutdown()
		fmt.Fprintln(out, "Goodbye!")
		h.done = true
	})

	return h
}

func (h *CommandHandler) register(name, help string, needsUp bool, run func(args []string)) {
	h.commands[name] = command{help: help, needsUp: needsUp, run: run}
	h.order = append(h.order, name)
}

// ShouldContinue is false once exit ran.
func (h *CommandHandler) ShouldContinue() bool { return !h.done }

// Execute runs one command line. Unknown commands print a hint; bad
// arguments print usage. It never returns an error: the command surface
// recovers everything locally.
func (h *CommandHandler) Execute(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	fields := strings.Fields(line)
	name := fields[0]

	if name == "screen" {
		h.executeScreen(line, fields[1:])
		return
	}

	cmd, ok := h.commands[name]
	if !ok {
		fmt.Fprintf(h.out, "Unknown command: %q\nType 'help' for available commands.\n", line)
		return
	}
	if cmd.needsUp && !h.facade.Ready() {
		fmt.Fprintln(h.out, "ERROR: System not initialized. Please run 'initialize' first.")
		return
	}
	cmd.run(fields[1:])
}

// executeScreen parses screen -s/-c/-r argument forms.
func (h *CommandHandler) executeScreen(line string, args []string) {
	if !h.facade.Ready() {
		fmt.Fprintln(h.out, "ERROR: System not initialized. Please run 'initialize' first.")
		return
	}
	if len(args) < 2 {
		h.screenUsage()
		return
	}

	switch args[0] {
	case "-r":
		info, err := h.facade.Attach(args[1])
		if err != nil {
			fmt.Fprintf(h.out, "ERROR: %v\n", err)
			return
		}
		fmt.Fprintln(h.out, info)

	case "-s":
		if len(args) != 3 {
			h.screenUsage()
			return
		}
		memKiB, err := strconv.Atoi(args[2])
		if err != nil {
			h.screenUsage()
			return
		}
		v, err := h.facade.SubmitProcess(args[1], memKiB)
		if err != nil {
			fmt.Fprintf(h.out, "ERROR: %v\n", err)
			return
		}
		fmt.Fprintf(h.out, "Created %s (%d instructions, %d KiB)\n", v.Name, v.Total, v.MemoryKiB)

	case "-c":
		if len(args) < 4 {
			h.screenUsage()
			return
		}
		memKiB, err := strconv.Atoi(args[2])
		if err != nil {
			h.screenUsage()
			return
		}
		first := strings.Index(line, "\"")
		last := strings.LastIndex(line, "\"")
		if first < 0 || last <= first {
			h.screenUsage()
			return
		}
		src := line[first+1 : last]
		v, err := h.facade.SubmitCustom(args[1], memKiB, src)
		if err != nil {
			fmt.Fprintf(h.out, "ERROR: %v\n", err)
			return
		}
		fmt.Fprintf(h.out, "Created %s (%d instructions, %d KiB)\n", v.Name, v.Total, v.MemoryKiB)

	default:
		h.screenUsage()
	}
}

func (h *CommandHandler) screenUsage() {
	fmt.Fprintln(h.out, "Usage:")
	fmt.Fprintln(h.out, "  screen -s <name> <memKiB>")
	fmt.Fprintln(h.out, "  screen -c <name> <memKiB> \"<instr; instr; ...>\"")
	fmt.Fprintln(h.out, "  screen -r <name>")
}

func (h *CommandHandler) showHelp() {
	fmt.Fprintln(h.out, "Available commands:")
	for _, name := range h.order {
		fmt.Fprintf(h.out, "  %-16s %s\n", name, h.commands[name].help)
	}
	fmt.Fprintln(h.out, "  screen -s/-c/-r  create or inspect processes")
}

func (h *CommandHandler) printResult(text string, err error) {
	if err != nil {
		fmt.Fprintf(h.out, "ERROR: %v\n", err)
		return
	}
	fmt.Fprintln(h.out, text)
}
