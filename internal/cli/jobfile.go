package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ChuLiYu/genqueue/internal/api"
)

// loadJobFile reads job definitions from a JSON or YAML file.
//
// JSON format:
//
//	[
//	  {
//	    "type": "shot_video",
//	    "correlationRef": "shot-1",
//	    "runner": {"kind": "sleep", "params": {"steps": 5, "step": "200ms"}},
//	    "maxAttempts": 2
//	  }
//	]
func loadJobFile(path string) ([]api.EnqueueRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read job file: %w", err)
	}

	var defs []api.EnqueueRequest
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &defs)
	default:
		err = json.Unmarshal(data, &defs)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse job file: %w", err)
	}
	if len(defs) == 0 {
		return nil, fmt.Errorf("job file %s contains no jobs", path)
	}
	return defs, nil
}
