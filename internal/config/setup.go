package config

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

const maxSetupAttempts = 3

// RunSetupWizard guides the user through first-time configuration.
func RunSetupWizard(cfg *Config, in io.Reader, out io.Writer) error {
	reader := bufio.NewReader(in)

	fmt.Fprintln(out, "╔══════════════════════════════════════════════╗")
	fmt.Fprintln(out, "║         Lobby Link - First Run Setup         ║")
	fmt.Fprintln(out, "╚══════════════════════════════════════════════╝")
	fmt.Fprintln(out)

	for attempt := 1; ; attempt++ {
		p := prompter{r: reader, w: out}

		cfg.mu.Lock()
		fmt.Fprintln(out, "── Lobby ──")
		cfg.Link.RemoteAddress = p.askString("Lobby address (host:port)", cfg.Link.RemoteAddress)
		cfg.Link.GameID = uint16(p.askInt("Game ID", int(cfg.Link.GameID)))

		fmt.Fprintln(out)
		fmt.Fprintln(out, "── Server Identity ──")
		cfg.Server.Name = p.askString("Server name", cfg.Server.Name)
		cfg.Server.TCPPort = p.askInt("Game server TCP port", cfg.Server.TCPPort)
		cfg.Server.ExternalIP = p.askString("Public IP address (leave blank to auto-detect)", cfg.Server.ExternalIP)

		fmt.Fprintln(out)
		fmt.Fprintln(out, "── REST API ──")
		cfg.Application.API.Enabled = p.askBool("Enable REST API", cfg.Application.API.Enabled)
		if cfg.Application.API.Enabled {
			cfg.Application.API.Port = p.askInt("REST API port", cfg.Application.API.Port)
		}

		fmt.Fprintln(out)
		fmt.Fprintln(out, "── MQTT Telemetry ──")
		cfg.Application.MQTT.Enabled = p.askBool("Enable MQTT telemetry", cfg.Application.MQTT.Enabled)
		if cfg.Application.MQTT.Enabled {
			cfg.Application.MQTT.BrokerURL = p.askString("MQTT broker host", cfg.Application.MQTT.BrokerURL)
		}
		cfg.mu.Unlock()

		result := Validate(cfg)
		if result.IsValid() {
			for _, w := range result.Warnings {
				log.Warn().Str("field", w.Field).Msg(w.Message)
			}
			break
		}

		fmt.Fprintln(out, "\n⚠ Configuration has errors:")
		for _, e := range result.Errors {
			fmt.Fprintf(out, "  - [%s] %s\n", e.Field, e.Message)
		}
		if attempt >= maxSetupAttempts || !p.askBool("Would you like to try again?", true) {
			return fmt.Errorf("configuration validation failed")
		}
		fmt.Fprintln(out)
	}

	if err := cfg.Save(); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "✓ Configuration saved successfully!")
	fmt.Fprintln(out)
	return nil
}

type prompter struct {
	r *bufio.Reader
	w io.Writer
}

func (p prompter) readLine() string {
	input, _ := p.r.ReadString('\n')
	return strings.TrimSpace(input)
}

func (p prompter) askString(prompt, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(p.w, "  %s [%s]: ", prompt, defaultVal)
	} else {
		fmt.Fprintf(p.w, "  %s: ", prompt)
	}

	if input := p.readLine(); input != "" {
		return input
	}
	return defaultVal
}

func (p prompter) askInt(prompt string, defaultVal int) int {
	fmt.Fprintf(p.w, "  %s [%d]: ", prompt, defaultVal)

	input := p.readLine()
	if input == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(input)
	if err != nil {
		fmt.Fprintf(p.w, "    Invalid number, using default: %d\n", defaultVal)
		return defaultVal
	}
	return val
}

func (p prompter) askBool(prompt string, defaultVal bool) bool {
	defaultStr := "no"
	if defaultVal {
		defaultStr = "yes"
	}
	fmt.Fprintf(p.w, "  %s [%s]: ", prompt, defaultStr)

	input := strings.ToLower(p.readLine())
	if input == "" {
		return defaultVal
	}
	return input == "yes" || input == "y" || input == "true" || input == "1"
}
