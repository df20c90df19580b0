package main

import (
	"fmt"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configShowSources bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	RunE:  runConfig,
}

func init() {
	configCmd.Flags().BoolVar(&configShowSources, "sources", false, "annotate where each non-default value came from")
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, meta, err := loadConfig()
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	fmt.Print(string(out))

	if !configShowSources {
		return nil
	}

	overridden := meta.Overridden()
	if len(overridden) == 0 {
		fmt.Println("\n# all values at defaults")
		return nil
	}

	fmt.Println()
	if meta.ConfigFile() != "" {
		fmt.Printf("# config file: %s\n", meta.ConfigFile())
	}
	keys := make([]string, 0, len(overridden))
	for key := range overridden {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Printf("# %s: from %s\n", key, color.YellowString(string(overridden[key])))
	}
	return nil
}
