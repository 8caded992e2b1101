package config

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Wizard provides an interactive configuration wizard
type Wizard struct {
	reader *bufio.Reader
	out    io.Writer
}

// NewWizard creates a new configuration wizard reading answers from in
func NewWizard(in io.Reader, out io.Writer) *Wizard {
	return &Wizard{
		reader: bufio.NewReader(in),
		out:    out,
	}
}

// Run runs the interactive configuration wizard
func (w *Wizard) Run() (*Config, error) {
	fmt.Fprintln(w.out, "=== Iris Configuration Wizard ===")
	fmt.Fprintln(w.out)

	cfg := DefaultConfig()
	validator := NewValidator()

	for {
		fmt.Fprint(w.out, "Vision provider (groq/openai/anthropic/gemini) [groq]: ")
		name, err := w.readLine()
		if err != nil {
			return nil, err
		}
		if name == "" {
			name = ProviderGroq
		}
		if err := validator.ValidateProvider(name); err != nil {
			fmt.Fprintf(w.out, "Error: %v\n", err)
			continue
		}
		cfg.Provider.Name = name
		break
	}

	for {
		fmt.Fprint(w.out, "API key (press Enter to read it from the environment): ")
		key, err := w.readLine()
		if err != nil {
			return nil, err
		}
		if key == "" {
			break
		}
		if err := validator.ValidateAPIKey(key, cfg.Provider.Name); err != nil {
			fmt.Fprintf(w.out, "Error: %v\n", err)
			continue
		}
		cfg.Provider.APIKey = key
		break
	}

	fmt.Fprint(w.out, "Model (press Enter for the provider default): ")
	model, err := w.readLine()
	if err != nil {
		return nil, err
	}
	cfg.Provider.Model = model

	fmt.Fprintf(w.out, "Listen port [%d]: ", cfg.Server.Port)
	port, err := w.readLine()
	if err != nil {
		return nil, err
	}
	if port != "" {
		var p int
		if _, err := fmt.Sscanf(port, "%d", &p); err != nil || p < 1 || p > 65535 {
			fmt.Fprintf(w.out, "Warning: invalid port %q, using default (%d)\n", port, cfg.Server.Port)
		} else {
			cfg.Server.Port = p
		}
	}

	fmt.Fprint(w.out, "Log level (debug/info/warn/error) [info]: ")
	level, err := w.readLine()
	if err != nil {
		return nil, err
	}
	if level != "" {
		if err := validator.ValidateLogLevel(level); err != nil {
			fmt.Fprintf(w.out, "Warning: %v, using default (info)\n", err)
		} else {
			cfg.Logging.Level = level
		}
	}

	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "Configuration complete!")

	return cfg, nil
}

// readLine returns the next trimmed line. A final line without a newline is
// accepted; io.EOF is returned only when nothing was read.
func (w *Wizard) readLine() (string, error) {
	line, err := w.reader.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
