// Package worker holds the container-level runtime parameters exchanged
// between the compute host and an anonymization job.
package worker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ContainerParams are the host-provided environment parameters for one run.
// In dev mode the run reads a local dataset file directly; in production
// mode the dataset is fetched from the Query Engine first.
type ContainerParams struct {
	InputPath  string
	OutputPath string
	DevMode    bool

	// Required in production mode.
	Query          string
	QuerySignature string
	QueryParams    []interface{}
	ComputeJobID   int
	DataRefinerID  int
}

// ParamsFromEnv reads container parameters from the environment.
func ParamsFromEnv() (*ContainerParams, error) {
	params := &ContainerParams{
		InputPath:  envDefault("INPUT_PATH", "/mnt/input"),
		OutputPath: envDefault("OUTPUT_PATH", "/mnt/output"),
		DevMode:    boolEnv("DEV_MODE"),
	}

	if params.DevMode {
		return params, nil
	}

	params.Query = os.Getenv("QUERY")
	params.QuerySignature = os.Getenv("QUERY_SIGNATURE")

	if raw := os.Getenv("QUERY_PARAMS"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &params.QueryParams); err != nil {
			return nil, fmt.Errorf("QUERY_PARAMS is not valid JSON: %w", err)
		}
	}

	jobID := os.Getenv("COMPUTE_JOB_ID")
	refinerID := os.Getenv("DATA_REFINER_ID")
	if jobID != "" && refinerID != "" {
		var err error
		if params.ComputeJobID, err = strconv.Atoi(jobID); err != nil {
			return nil, fmt.Errorf("COMPUTE_JOB_ID is not an integer: %q", jobID)
		}
		if params.DataRefinerID, err = strconv.Atoi(refinerID); err != nil {
			return nil, fmt.Errorf("DATA_REFINER_ID is not an integer: %q", refinerID)
		}
	}

	return params, nil
}

// ValidateProduction checks that everything a production run needs is set.
func (p *ContainerParams) ValidateProduction() error {
	if p.Query == "" || p.QuerySignature == "" {
		return fmt.Errorf("missing required QUERY or QUERY_SIGNATURE environment variables (set DEV_MODE=1 to use a local dataset)")
	}
	if p.ComputeJobID == 0 || p.DataRefinerID == 0 {
		return fmt.Errorf("missing required COMPUTE_JOB_ID or DATA_REFINER_ID environment variables")
	}
	return nil
}

// DBPath is the location of the downloaded query results database.
func (p *ContainerParams) DBPath() string {
	return filepath.Join(p.InputPath, "query_results.db")
}

// StatsPath is the location of the run report.
func (p *ContainerParams) StatsPath() string {
	return filepath.Join(p.OutputPath, "stats.json")
}

func envDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func boolEnv(key string) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes":
		return true
	}
	return false
}
