package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Wizard provides an interactive configuration wizard
type Wizard struct {
	reader *bufio.Reader
	out    io.Writer
}

// NewWizard creates a wizard that prompts on out and reads answers from in.
func NewWizard(in io.Reader, out io.Writer) *Wizard {
	return &Wizard{
		reader: bufio.NewReader(in),
		out:    out,
	}
}

// Run asks for the chat endpoint, the credential source and the log level, starting from
// base. Empty answers keep the current value.
func (w *Wizard) Run(base *Config) (*Config, error) {
	cfg := *base
	validator := NewValidator()

	fmt.Fprintln(w.out, "=== agencychat configuration ===")
	fmt.Fprintln(w.out)

	// Endpoint
	for {
		answer, err := w.ask("Chat base URL", cfg.Chat.BaseURL)
		if err != nil {
			return nil, err
		}
		if err := validator.ValidateBaseURL(answer); err != nil {
			fmt.Fprintf(w.out, "Error: %v\n", err)
			continue
		}
		cfg.Chat.BaseURL = answer
		break
	}

	for {
		answer, err := w.ask("Namespace", cfg.Chat.Namespace)
		if err != nil {
			return nil, err
		}
		if err := validator.ValidateNamespace(answer); err != nil {
			fmt.Fprintf(w.out, "Error: %v\n", err)
			continue
		}
		cfg.Chat.Namespace = answer
		break
	}

	fmt.Fprintln(w.out)

	// Credentials
	fmt.Fprintln(w.out, "Credential source options:")
	fmt.Fprintln(w.out, "  env    - read the token from an environment variable")
	fmt.Fprintln(w.out, "  file   - read the token from a file, re-read on rotation")
	fmt.Fprintln(w.out, "  static - store the token in the config file")
	for {
		answer, err := w.ask("Credential source", cfg.Credentials.Source)
		if err != nil {
			return nil, err
		}
		if err := validator.ValidateCredentialSource(answer); err != nil {
			fmt.Fprintf(w.out, "Error: %v\n", err)
			continue
		}
		cfg.Credentials.Source = answer
		break
	}

	var err error
	switch cfg.Credentials.Source {
	case CredentialSourceEnv:
		cfg.Credentials.Env, err = w.askRequired("Environment variable", cfg.Credentials.Env)
	case CredentialSourceFile:
		cfg.Credentials.File, err = w.askRequired("Token file", cfg.Credentials.File)
	case CredentialSourceStatic:
		cfg.Credentials.Token, err = w.askRequired("Token", "")
	}
	if err != nil {
		return nil, err
	}

	fmt.Fprintln(w.out)

	// Logging
	level, err := w.ask("Log level (debug/info/warn/error)", cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	if err := validator.ValidateLogLevel(level); err != nil {
		fmt.Fprintf(w.out, "Warning: %v, keeping %s\n", err, cfg.Logging.Level)
	} else {
		cfg.Logging.Level = level
	}

	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "Configuration complete!")

	return &cfg, nil
}

func (w *Wizard) ask(prompt, current string) (string, error) {
	if current != "" {
		fmt.Fprintf(w.out, "%s [%s]: ", prompt, current)
	} else {
		fmt.Fprintf(w.out, "%s: ", prompt)
	}

	answer, err := w.readLine()
	if err != nil {
		return "", err
	}
	if answer == "" {
		return current, nil
	}
	return answer, nil
}

func (w *Wizard) askRequired(prompt, current string) (string, error) {
	for {
		answer, err := w.ask(prompt, current)
		if err != nil {
			return "", err
		}
		if answer != "" {
			return answer, nil
		}
		fmt.Fprintf(w.out, "Error: %s is required\n", strings.ToLower(prompt))
	}
}

// readLine accepts a final line without a trailing newline.
func (w *Wizard) readLine() (string, error) {
	line, err := w.reader.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line != "" {
			return strings.TrimSpace(line), nil
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}
