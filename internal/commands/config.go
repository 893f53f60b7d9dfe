package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	yaml "gopkg.in/yaml.v3"

	"branchsync/internal/bulksync"
	"branchsync/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage branchsync configuration",
	Long:  `Manage and query branchsync configuration values.`,
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a configuration value",
	Long: `Get an effective configuration value by key.

Supported keys:
  - target: Target branch (resolved with auto-detect)
  - remote: Git remote name
  - config_dir: Absolute path to directory containing branchsync.yml
  - state_dir: Directory holding the lock, breadcrumbs and log file
  - lock_path: Sync lock file
  - breadcrumb_log: Breadcrumb log file
  - log_file: Log file

Path syntax:
  Keys containing a dot (.) are treated as paths into the merged config.
  Examples: git.remote, sync.session_prefix, push.max_retries
  Use numeric index for arrays: sync.allow_list.0`,
	Args: cobra.ExactArgs(1),
	RunE: runConfigGet,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a branchsync.yml with the default settings",
	Args:  cobra.NoArgs,
	RunE:  runConfigInit,
}

func init() {
	configGetCmd.SilenceUsage = true
	configInitCmd.SilenceUsage = true
	configGetCmd.Flags().String("output", outputText, "Output format: text or json")
	configInitCmd.Flags().Bool("force", false, "Overwrite an existing branchsync.yml")
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configInitCmd)
}

// Constants for curated key names
const (
	keyTarget        = "target"
	keyRemote        = "remote"
	keyConfigDir     = "config_dir"
	keyStateDir      = "state_dir"
	keyLockPath      = "lock_path"
	keyBreadcrumbLog = "breadcrumb_log"
	keyLogFile       = "log_file"
)

func runConfigGet(cmd *cobra.Command, args []string) error {
	key := args[0]
	outputFormat, _ := cmd.Flags().GetString("output")

	if outputFormat != outputText && outputFormat != outputJSON {
		return fmt.Errorf("invalid output format '%s': use 'text' or 'json'", outputFormat)
	}

	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	out := cmd.OutOrStdout()
	if strings.Contains(key, ".") {
		value, err := getPathValue(e.cfg, key)
		if err != nil {
			return err
		}
		return outputValue(value, outputFormat, out)
	}

	value, err := getCuratedValue(cmd, e, key)
	if err == nil {
		return outputValue(value, outputFormat, out)
	}
	// Single-segment keys such as "git" or "sync" address whole sections.
	if section, perr := getPathValue(e.cfg, key); perr == nil {
		return outputValue(section, outputFormat, out)
	}
	return err
}

func getCuratedValue(cmd *cobra.Command, e *env, key string) (interface{}, error) {
	switch key {
	case keyTarget:
		return e.target(cmd)
	case keyRemote:
		return e.remote, nil
	case keyConfigDir:
		return e.cfg.ConfigDir, nil
	case keyStateDir:
		return e.stateDir, nil
	case keyLockPath:
		return e.lockPath(), nil
	case keyBreadcrumbLog:
		return bulksync.BreadcrumbPath(e.cfg, e.stateDir), nil
	case keyLogFile:
		return config.ResolvePath(e.cfg, e.cfg.Log.File, filepath.Join(e.stateDir, "branchsync.log")), nil
	default:
		return nil, fmt.Errorf("unknown key '%s'", key)
	}
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	force, _ := cmd.Flags().GetBool("force")

	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	path := filepath.Join(e.root, config.FileName)
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists; use --force to overwrite it", path)
	}
	cfg := config.DefaultConfig
	if err := config.SaveConfigToDir(&cfg, e.root); err != nil {
		return err
	}
	outf(cmd.OutOrStdout(), "Wrote %s\n", path)
	return nil
}

// getPathValue resolves a dotted path against the effective configuration
// as it would be written to branchsync.yml.
func getPathValue(cfg *config.Config, pathStr string) (interface{}, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize config: %w", err)
	}
	var tree map[string]interface{}
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("failed to deserialize config: %w", err)
	}

	segments := strings.Split(pathStr, ".")
	var node interface{} = tree
	for i, segment := range segments {
		parent := strings.Join(segments[:i], ".")
		switch n := node.(type) {
		case map[string]interface{}:
			child, ok := n[segment]
			if !ok {
				return nil, fmt.Errorf("path not found: '%s' (key '%s' not found)", pathStr, strings.Join(segments[:i+1], "."))
			}
			node = child
		case []interface{}:
			idx, err := strconv.Atoi(segment)
			if err != nil {
				return nil, fmt.Errorf("path not found: '%s' ('%s' is a list; use a numeric index)", pathStr, parent)
			}
			if idx < 0 || idx >= len(n) {
				return nil, fmt.Errorf("invalid index in path '%s': index %d out of range (list has %d elements)", pathStr, idx, len(n))
			}
			node = n[idx]
		default:
			return nil, fmt.Errorf("path not found: '%s' ('%s' is a scalar)", pathStr, parent)
		}
	}
	return node, nil
}

func outputValue(value interface{}, format string, w io.Writer) error {
	if format != outputText && format != outputJSON {
		return fmt.Errorf("unknown output format: %s", format)
	}
	if list, ok := value.([]interface{}); ok && format == outputText {
		for _, item := range list {
			outln(w, item)
		}
		return nil
	}
	if _, isMap := value.(map[string]interface{}); isMap || format == outputJSON {
		// Sections are printed as JSON in text mode too.
		encoded, err := json.Marshal(value)
		if err != nil {
			return err
		}
		outln(w, string(encoded))
		return nil
	}
	if value == nil {
		outln(w)
		return nil
	}
	outln(w, value)
	return nil
}
