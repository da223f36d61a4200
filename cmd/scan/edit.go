package scan

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

const defaultConfigTemplate = `[node]
  log_level    = "info"
  rpc_socket   = "/run/beaconwatch/node.sock"
  history_path = "/var/lib/beaconwatch/history.db"

[ranging]
  foreground_period = "1.1s"
  background_period = "10s"
  # expiry_window   = "5.5s"    # default: five cycle periods
  background        = false

  [[ranging.layouts]]
    name       = "5203"
    expression = "m:2-3=5203,i:4-19,i:20-21,i:22-23,p:24-24"

  [[ranging.layouts]]
    name       = "ibeacon"
    expression = "m:2-3=0215,i:4-19,i:20-21,i:22-23,p:24-24"

  [ranging.region]
    name        = "all-beacons"
    identifiers = []

[scanner]
  disabled = false

[relay]
  listen          = false
  multicast_group = "239.255.0.2"
  port            = 5679
  shared_secret   = "CHANGE_ME"
  flush_interval  = "500ms"
  max_age         = "30s"
`

// EditConfig opens the configuration file in the system editor.
// If the file does not exist, it creates it with default values.
func EditConfig(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Printf("Creating new config file at %s...\n", path)
		if err := os.WriteFile(path, []byte(defaultConfigTemplate), 0600); err != nil {
			return fmt.Errorf("writing default config: %w", err)
		}
	}

	editor := findEditor()
	if editor == "" {
		return fmt.Errorf("no editor found ($EDITOR environment variable not set, and vi/nano/vim not in PATH)")
	}

	cmd := exec.Command(editor, path)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	return cmd.Run()
}

func findEditor() string {
	if editor := os.Getenv("EDITOR"); editor != "" {
		return editor
	}
	for _, e := range []string{"vi", "nano", "vim"} {
		if _, err := exec.LookPath(e); err == nil {
			return e
		}
	}
	return ""
}
