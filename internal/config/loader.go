package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/herdctl/herdctl/internal/domain"
)

// envVarPattern matches ${VAR}, ${VAR:-default}, ${VAR:?error}, and bare
// $VAR references, mirrored from pkg/devclaw/copilot/loader.go.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::(-|\?)([^}]*))?\}|\$([A-Z_][A-Z0-9_]*)`)

// rawFile is the on-disk shape of the agents config file. Per-agent
// instances.max_concurrent overrides the agent's own max_concurrent field
// (spec §6.2).
type rawFile struct {
	Fleet  FleetOptions          `yaml:"fleet,omitempty"`
	Agents map[string]rawAgent   `yaml:"agents"`
}

type rawAgent struct {
	Description      string                     `yaml:"description,omitempty"`
	Model            string                     `yaml:"model,omitempty"`
	WorkingDirectory string                     `yaml:"working_directory,omitempty"`
	PermissionMode   string                     `yaml:"permission_mode,omitempty"`
	MaxTurns         int                        `yaml:"max_turns,omitempty"`
	SystemPrompt     string                     `yaml:"system_prompt,omitempty"`
	MaxConcurrent    int                        `yaml:"max_concurrent,omitempty"`
	Schedules        map[string]domain.Schedule `yaml:"schedules,omitempty"`
	Instances        struct {
		MaxConcurrent int `yaml:"max_concurrent,omitempty"`
	} `yaml:"instances,omitempty"`
}

// Load reads and parses a YAML agent-fleet configuration file: it loads
// .env files, expands environment variable references, parses the YAML,
// and validates structural invariants.
//
// Grounded on pkg/devclaw/copilot/loader.go's LoadConfigFromFile: .env
// loading ahead of parse, env-expansion-with-validation, then a schema
// unmarshal.
func Load(path string) (*ResolvedConfig, error) {
	loadEnvFiles()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded, err := expandEnvVarsWithValidation(string(data))
	if err != nil {
		return nil, fmt.Errorf("expanding environment variables: %w", err)
	}

	var raw rawFile
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	cfg := &ResolvedConfig{ConfigPath: path, Fleet: raw.Fleet}
	for name, ra := range raw.Agents {
		agent := domain.Agent{
			Name:             name,
			Description:      ra.Description,
			Model:            ra.Model,
			WorkingDirectory: ra.WorkingDirectory,
			PermissionMode:   ra.PermissionMode,
			MaxTurns:         ra.MaxTurns,
			SystemPrompt:     ra.SystemPrompt,
			MaxConcurrent:    ra.MaxConcurrent,
			Schedules:        ra.Schedules,
		}
		if ra.Instances.MaxConcurrent > 0 {
			agent.MaxConcurrent = ra.Instances.MaxConcurrent
		}
		for schedName, sched := range agent.Schedules {
			sched.Name = schedName
			agent.Schedules[schedName] = sched
		}
		cfg.Agents = append(cfg.Agents, agent)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func loadEnvFiles() {
	for _, f := range []string{".env", ".env.local"} {
		_ = godotenv.Load(f)
	}
}

// expandEnvVars replaces ${VAR}, ${VAR:-default}, ${VAR:?error}, and $VAR
// patterns. Unset ${VAR:?msg} markers are encoded as "ERROR:VAR:msg" for
// expandEnvVarsWithValidation to detect.
func expandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		sub := envVarPattern.FindStringSubmatch(match)
		var varName, modifier, modifierValue, bareVar string
		if len(sub) >= 2 {
			varName = sub[1]
		}
		if len(sub) >= 3 {
			modifier = sub[2]
		}
		if len(sub) >= 4 {
			modifierValue = sub[3]
		}
		if len(sub) >= 5 {
			bareVar = sub[4]
		}

		if bareVar != "" {
			if val, ok := os.LookupEnv(bareVar); ok {
				return val
			}
			return match
		}

		if varName != "" {
			if val, ok := os.LookupEnv(varName); ok {
				return val
			}
			switch modifier {
			case "?":
				msg := modifierValue
				if msg == "" {
					msg = "required environment variable not set"
				}
				return "ERROR:" + varName + ":" + msg
			case "-":
				return modifierValue
			default:
				return match
			}
		}
		return match
	})
}

func expandEnvVarsWithValidation(input string) (string, error) {
	result := expandEnvVars(input)
	if idx := strings.Index(result, "ERROR:"); idx != -1 {
		rest := result[idx+len("ERROR:"):]
		colonIdx := strings.Index(rest, ":")
		if colonIdx == -1 {
			return "", fmt.Errorf("config error: malformed error marker")
		}
		varName := rest[:colonIdx]
		msg := rest[colonIdx+1:]
		return "", fmt.Errorf("required environment variable %s not set: %s", varName, msg)
	}
	return result, nil
}
