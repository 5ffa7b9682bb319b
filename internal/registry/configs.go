package registry

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fingerworks/finger/internal/types"
)

// LoadAgentConfigs reads every *.json agent config in a directory. A missing
// directory yields an empty list; malformed files are logged and skipped so
// one bad config cannot hide the rest of the fleet.
func LoadAgentConfigs(dir string) []types.AgentFileConfig {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("[REGISTRY] Failed to read agent config dir %s: %v", dir, err)
		}
		return nil
	}

	var configs []types.AgentFileConfig
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			log.Printf("[REGISTRY] Failed to read %s: %v", path, err)
			continue
		}

		var cfg types.AgentFileConfig
		if err := json.Unmarshal(data, &cfg); err != nil {
			log.Printf("[REGISTRY] Skipping malformed agent config %s: %v", path, err)
			continue
		}
		if cfg.ID == "" {
			cfg.ID = strings.TrimSuffix(entry.Name(), ".json")
		}
		configs = append(configs, cfg)
	}

	sort.Slice(configs, func(i, j int) bool { return configs[i].ID < configs[j].ID })
	return configs
}
