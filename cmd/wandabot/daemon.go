package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"
)

// The relay reads its secrets (GEMINI_API_KEY, WEBHOOK_VERIFY_TOKEN)
// from the environment via config expansion, so the generated service
// sources ~/.wandabot/env before exec. Install writes a commented
// template there if the file does not exist yet.

const launchdLabel = "com.wandabot.relay"

func installDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Install the relay as a background service (launchd/systemd)",
		Long:  "Writes a user-level service definition that runs `wandabot serve` on login, sourcing secrets from ~/.wandabot/env.",
		RunE: func(cmd *cobra.Command, args []string) error {
			home, err := os.UserHomeDir()
			if err != nil {
				return fmt.Errorf("cannot determine home directory: %w", err)
			}
			execPath, err := os.Executable()
			if err != nil {
				return fmt.Errorf("cannot determine executable path: %w", err)
			}
			cfgPath := resolveConfigPath()

			if err := writeEnvTemplate(envFilePath(home)); err != nil {
				return err
			}

			var target, content string
			var hints []string
			switch runtime.GOOS {
			case "darwin":
				target = launchdPlistPath(home)
				content = renderLaunchdPlist(execPath, cfgPath, home)
				if err := os.MkdirAll(filepath.Join(home, ".wandabot", "logs"), 0o755); err != nil {
					return err
				}
				hints = []string{
					"To start: launchctl load " + target,
					"To stop:  launchctl unload " + target,
				}
			case "linux":
				target = systemdUnitPath(home)
				content = renderSystemdUnit(execPath, cfgPath)
				hints = []string{
					"To start:  systemctl --user start wandabot",
					"To enable: systemctl --user enable wandabot",
					"To stop:   systemctl --user stop wandabot",
				}
			default:
				return fmt.Errorf("unsupported OS: %s (supported: darwin, linux)", runtime.GOOS)
			}

			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(target, []byte(content), 0o644); err != nil {
				return err
			}

			fmt.Printf("Service installed: %s\n", target)
			fmt.Printf("Secrets file:      %s (fill in before starting)\n", envFilePath(home))
			for _, h := range hints {
				fmt.Println(h)
			}
			return nil
		},
	}
}

func uninstallDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the relay's background service definition",
		RunE: func(cmd *cobra.Command, args []string) error {
			home, err := os.UserHomeDir()
			if err != nil {
				return fmt.Errorf("cannot determine home directory: %w", err)
			}

			var target string
			switch runtime.GOOS {
			case "darwin":
				target = launchdPlistPath(home)
			case "linux":
				target = systemdUnitPath(home)
			default:
				return fmt.Errorf("unsupported OS: %s", runtime.GOOS)
			}

			if err := os.Remove(target); err != nil {
				return fmt.Errorf("remove service file: %w", err)
			}
			fmt.Printf("Service removed: %s (the env file %s is kept)\n", target, envFilePath(home))
			return nil
		},
	}
}

func envFilePath(home string) string {
	return filepath.Join(home, ".wandabot", "env")
}

func launchdPlistPath(home string) string {
	return filepath.Join(home, "Library", "LaunchAgents", launchdLabel+".plist")
}

func systemdUnitPath(home string) string {
	return filepath.Join(home, ".config", "systemd", "user", "wandabot.service")
}

// writeEnvTemplate creates the secrets file with a commented skeleton.
// An existing file is left alone.
func writeEnvTemplate(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	const tmpl = `# Secrets for the wandabot relay. Sourced by the service before start.
#GEMINI_API_KEY=
#WEBHOOK_VERIFY_TOKEN=
`
	return os.WriteFile(path, []byte(tmpl), 0o600)
}

// renderLaunchdPlist builds the LaunchAgent definition. launchd has no
// EnvironmentFile equivalent, so the job runs through /bin/sh to source
// the env file without baking secrets into the plist.
func renderLaunchdPlist(execPath, cfgPath, home string) string {
	launcher := fmt.Sprintf(
		`set -a; [ -f %[1]s ] && . %[1]s; exec %[2]s serve --config %[3]s`,
		envFilePath(home), execPath, cfgPath)
	logDir := filepath.Join(home, ".wandabot", "logs")

	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>%s</string>
    <key>ProgramArguments</key>
    <array>
        <string>/bin/sh</string>
        <string>-c</string>
        <string>%s</string>
    </array>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <true/>
    <key>ProcessType</key>
    <string>Background</string>
    <key>StandardOutPath</key>
    <string>%s</string>
    <key>StandardErrorPath</key>
    <string>%s</string>
</dict>
</plist>
`,
		launchdLabel, launcher,
		filepath.Join(logDir, "wandabot.log"),
		filepath.Join(logDir, "wandabot-error.log"))
}

// renderSystemdUnit builds the user unit. Output goes to the journal;
// secrets come from the env file (the leading dash makes it optional).
func renderSystemdUnit(execPath, cfgPath string) string {
	return fmt.Sprintf(`[Unit]
Description=Wandabot webhook relay (persona chat bridge)
After=network-online.target

[Service]
Type=simple
EnvironmentFile=-%%h/.wandabot/env
ExecStart=%s serve --config %s
Restart=on-failure
RestartSec=5
NoNewPrivileges=true

[Install]
WantedBy=default.target
`, execPath, cfgPath)
}
