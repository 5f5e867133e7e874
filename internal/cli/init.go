package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/andywolf/skillctx/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize project configuration",
	Long: `Initialize skillctx configuration for the current project.

This creates a .skillctx.yaml file listing the default skill roots that you
can customize.

Example:
  skillctx init
  skillctx init --max-bytes 16384 --extra-dir ./skills`,
	Args: cobra.NoArgs,
	RunE: initProject,
}

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().Int64("max-bytes", 0, "default byte budget (0 = unbounded)")
	initCmd.Flags().StringSlice("extra-dir", nil, "additional skill directory (highest priority)")
	initCmd.Flags().String("backend", config.BackendFile, "state backend (file, sqlite)")
	initCmd.Flags().Bool("force", false, "Overwrite existing config")
}

type projectConfig struct {
	Roots     []projectRoot `yaml:"roots"`
	ExtraDirs []string      `yaml:"extra_dirs,omitempty"`
	Cache     struct {
		TTL string `yaml:"ttl"`
	} `yaml:"cache"`
	Budget struct {
		MaxBytes int64 `yaml:"max_bytes"`
	} `yaml:"budget"`
	Pins struct {
		AutoPin bool `yaml:"auto_pin"`
	} `yaml:"pins"`
	State struct {
		Backend string `yaml:"backend"`
		Dir     string `yaml:"dir"`
	} `yaml:"state"`
}

type projectRoot struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name,omitempty"`
	Path   string `yaml:"path"`
	Rank   int    `yaml:"rank"`
	Mirror bool   `yaml:"mirror,omitempty"`
}

func newProjectConfig(maxBytes int64, extraDirs []string, backend string) projectConfig {
	var cfg projectConfig
	for _, r := range config.DefaultRoots() {
		cfg.Roots = append(cfg.Roots, projectRoot{ID: r.ID, Name: r.Name, Path: r.Path, Rank: r.Rank, Mirror: r.Mirror})
	}
	cfg.ExtraDirs = extraDirs
	cfg.Cache.TTL = "30s"
	cfg.Budget.MaxBytes = maxBytes
	cfg.State.Backend = backend
	cfg.State.Dir = "~/.skillctx"
	return cfg
}

func writeProjectConfig(path string, cfg projectConfig, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := `# skillctx configuration
# Lower rank wins when two roots provide the same skill.

`
	if err := os.WriteFile(path, append([]byte(header), data...), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func initProject(cmd *cobra.Command, args []string) error {
	configPath := filepath.Join(".", ".skillctx.yaml")

	force, _ := cmd.Flags().GetBool("force")
	maxBytes, _ := cmd.Flags().GetInt64("max-bytes")
	extraDirs, _ := cmd.Flags().GetStringSlice("extra-dir")
	backend, _ := cmd.Flags().GetString("backend")
	if backend != config.BackendFile && backend != config.BackendSQLite {
		return fmt.Errorf("invalid backend: %s (must be file or sqlite)", backend)
	}

	if err := writeProjectConfig(configPath, newProjectConfig(maxBytes, extraDirs, backend), force); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Created %s\n\n", configPath)
	fmt.Fprintln(out, "Next steps:")
	fmt.Fprintln(out, "  1. Adjust root paths and ranks")
	fmt.Fprintln(out, "  2. Run 'skillctx list' to check discovery")
	fmt.Fprintln(out, "  3. Run 'skillctx resolve \"<prompt>\"' to preview a payload")
	return nil
}
